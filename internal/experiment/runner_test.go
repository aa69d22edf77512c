package experiment

import (
	"bytes"
	"encoding/csv"
	"testing"

	"mlstages/internal/data"
	"mlstages/internal/models"
)

func separable(t *testing.T) *data.Dataset {
	t.Helper()
	rows := make([][]any, 40)
	for i := range rows {
		if i%2 == 0 {
			rows[i] = []any{float64(i%5) * 0.1, "neg"}
		} else {
			rows[i] = []any{4 + float64(i%5)*0.1, "pos"}
		}
	}
	ds, err := data.FromRows(data.Schema{
		{Name: "x", Type: data.Double},
		{Name: "label", Type: data.String},
	}, rows)
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestRunComparesConfigurations(t *testing.T) {
	r := &Runner{LabelCol: "label", IndexLabel: true, TestSize: 0.25, Stratified: true, Folds: 2, Seed: 1}
	results, err := r.Run(separable(t), []models.ModelConfig{
		models.DefaultConfig("tree"),
		models.DefaultConfig("bayes"),
		{Algorithm: "svm"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for _, res := range results[:2] {
		if res.Err != nil || res.Accuracy != 1 || res.CVMean != 1 {
			t.Errorf("%s: %+v", res.Algorithm, res)
		}
	}
	if results[2].Err == nil {
		t.Error("unknown algorithm should be reported as failed")
	}

	best, ok := Best(results)
	if !ok || best.Algorithm != "tree" {
		t.Errorf("best = %+v", best)
	}

	var buf bytes.Buffer
	if err := ExportResults(&buf, results); err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 || records[3][9] == "" {
		t.Errorf("unexpected export %v", records)
	}
}

func TestBestWithoutSuccess(t *testing.T) {
	if _, ok := Best([]Result{{Algorithm: "x", Err: errFake{}}}); ok {
		t.Error("no successful result should mean no best")
	}
}

type errFake struct{}

func (errFake) Error() string { return "fake" }
