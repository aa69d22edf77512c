package classifier

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"mlstages/internal/cache"
	"mlstages/internal/data"
	"mlstages/internal/errs"
	"mlstages/internal/logging"
	"mlstages/internal/models"
	"mlstages/internal/pipeline"
	"mlstages/internal/preprocessing"
)

var centers = map[string][2]float64{"a": {0, 0}, "b": {4, 0}, "c": {0, 4}}

// labeledDataset builds perClass rows for each of the given labels plus one
// row with an absent label.
func labeledDataset(t *testing.T, labels []string, perClass int) *data.Dataset {
	t.Helper()
	var rows [][]any
	for _, label := range labels {
		ctr := centers[label]
		for i := 0; i < perClass; i++ {
			dx := float64(i%3-1) * 0.3
			dy := float64((i/3)%3-1) * 0.3
			color := "red"
			if i%2 == 0 {
				color = "blue"
			}
			rows = append(rows, []any{ctr[0] + dx, ctr[1] + dy, color, "some words", label})
		}
	}
	rows = append(rows, []any{1.0, 1.0, "red", nil, nil})
	ds, err := data.FromRows(data.Schema{
		{Name: "x1", Type: data.Double},
		{Name: "x2", Type: data.Double},
		{Name: "color", Type: data.String},
		{Name: "text", Type: data.String},
		{Name: "label", Type: data.String},
	}, rows)
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func lastStage(m *TrainedClassifierModel) pipeline.Transformer {
	return m.Pipeline.Stages[len(m.Pipeline.Stages)-1]
}

func newTrainer(model models.Classifier) (*TrainClassifier, *cache.Manager) {
	store, err := cache.NewManager(4)
	if err != nil {
		panic(err)
	}
	tc := NewTrainClassifier("label", model)
	tc.NumFeatures = 16
	tc.Cache = store
	return tc, store
}

func TestLogisticRegressionWrapping(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		ovr    bool
	}{
		{"three levels", []string{"a", "b", "c"}, true},
		{"two levels", []string{"a", "b"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, store := newTrainer(models.NewLogisticRegression(200, 0))
			model, err := tc.FitModel(labeledDataset(t, tt.labels, 9))
			if err != nil {
				t.Fatal(err)
			}
			_, isOVR := lastStage(model).(*models.OneVsRestModel)
			if isOVR != tt.ovr {
				t.Errorf("wrapped in one-vs-rest = %v, want %v", isOVR, tt.ovr)
			}
			if len(model.Pipeline.Stages) != 2 {
				t.Errorf("expected a two-stage pipeline, got %d", len(model.Pipeline.Stages))
			}
			if store.Len() != 0 {
				t.Errorf("featurized data still cached: %d entries", store.Len())
			}
		})
	}
}

func TestGBTMulticlassFails(t *testing.T) {
	tc, store := newTrainer(models.NewGradientBoostedTrees(5, 3, 0.1))
	_, err := tc.FitModel(labeledDataset(t, []string{"a", "b", "c"}, 3))
	var cfgErr *errs.UnsupportedConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected UnsupportedConfigurationError, got %v", err)
	}
	if store.Len() != 0 {
		t.Error("cache not released after failed fit")
	}
}

func TestScoringOutput(t *testing.T) {
	ds := labeledDataset(t, []string{"a", "b", "c"}, 9)
	tc, _ := newTrainer(models.NewDecisionTree(5, 2))
	model, err := tc.FitModel(ds)
	if err != nil {
		t.Fatal(err)
	}

	scored, err := model.Transform(ds)
	if err != nil {
		t.Fatal(err)
	}
	if scored.HasColumn(model.FeaturesCol) {
		t.Error("feature column was not dropped")
	}
	for _, col := range []string{ScoredLabelsCol, ScoredProbabilitiesCol, ScoresCol} {
		f, err := scored.Field(col)
		if err != nil {
			t.Fatalf("missing %s: %v", col, err)
		}
		md, ok := f.Metadata[data.ScoreModelKey].(data.Metadata)
		if !ok || md["module_name"] != model.UID || md["model_kind"] != ClassificationKind {
			t.Errorf("%s: unexpected score metadata %v", col, f.Metadata)
		}
	}
	for _, col := range []string{models.PredictionCol, models.ProbabilityCol, models.RawPredictionCol} {
		if scored.HasColumn(col) {
			t.Errorf("column %s was not renamed", col)
		}
	}

	levels, ok := preprocessing.GetLevels(scored, ScoredLabelsCol)
	if !ok || levels.Len() != 3 || levels.Values[0] != "a" {
		t.Fatalf("scored labels carry levels %v", levels)
	}
	if !preprocessing.IsCategorical(scored, "label") {
		t.Error("label column was not annotated with levels")
	}

	named, err := (&preprocessing.IndexToValue{InputCol: ScoredLabelsCol, OutputCol: "predicted"}).Transform(scored)
	if err != nil {
		t.Fatal(err)
	}
	predicted, _ := named.Column("predicted")
	actual, _ := named.Column("label")
	for i := range actual {
		if actual[i] != nil && predicted[i] != actual[i] {
			t.Errorf("row %d: predicted %v, want %v", i, predicted[i], actual[i])
		}
	}
}

func TestNoScoreColumnsForForest(t *testing.T) {
	ds := labeledDataset(t, []string{"a", "b"}, 6)
	tc, _ := newTrainer(models.NewRandomForest(5, 4, 2))
	model, err := tc.FitModel(ds)
	if err != nil {
		t.Fatal(err)
	}
	scored, err := model.Transform(ds)
	if err != nil {
		t.Fatal(err)
	}
	if !scored.HasColumn(ScoredLabelsCol) || scored.HasColumn(ScoredProbabilitiesCol) || scored.HasColumn(ScoresCol) {
		t.Errorf("unexpected columns %v", scored.Schema().Names())
	}
}

func TestFamilyDefaultWidth(t *testing.T) {
	tc, _ := newTrainer(models.NewGradientBoostedTrees(2, 2, 0.1))
	tc.NumFeatures = 0
	model, err := tc.FitModel(labeledDataset(t, []string{"a", "b"}, 3))
	if err != nil {
		t.Fatal(err)
	}
	featurize := model.Pipeline.Stages[0].(*preprocessing.FeaturizeModel)
	for _, enc := range featurize.Encodings {
		switch enc.Column {
		case "text":
			if enc.Width != preprocessing.NumFeaturesTreeOrNNBased {
				t.Errorf("hashed width %d, want %d", enc.Width, preprocessing.NumFeaturesTreeOrNNBased)
			}
		case "label":
			t.Error("label column was featurized")
		}
	}
}

func TestCategoricalFeaturesFollowFamilyPolicy(t *testing.T) {
	ds := labeledDataset(t, []string{"a", "b"}, 6)
	indexer, err := preprocessing.NewValueIndexer("color", "color").FitModel(ds)
	if err != nil {
		t.Fatal(err)
	}
	ds, err = indexer.Transform(ds)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		classifier models.Classifier
		kind       preprocessing.EncodingKind
	}{
		{models.NewLogisticRegression(10, 0), preprocessing.OneHotEncoding},
		{models.NewDecisionTree(3, 2), preprocessing.IndexEncoding},
	}
	for _, tt := range tests {
		tc, _ := newTrainer(tt.classifier)
		model, err := tc.FitModel(ds)
		if err != nil {
			t.Fatal(err)
		}
		for _, enc := range model.Pipeline.Stages[0].(*preprocessing.FeaturizeModel).Encodings {
			if enc.Column == "color" && enc.Kind != tt.kind {
				t.Errorf("%s: color encoded as %v, want %v", tt.classifier.GetName(), enc.Kind, tt.kind)
			}
		}
	}
}

func TestMLPInputLayerAdjusted(t *testing.T) {
	mlp := models.NewMultilayerPerceptron([]int{1, 4, 2}, 20)
	tc, _ := newTrainer(mlp)
	model, err := tc.FitModel(labeledDataset(t, []string{"a", "b"}, 6))
	if err != nil {
		t.Fatal(err)
	}
	size := model.Pipeline.Stages[0].(*preprocessing.FeaturizeModel).Size
	if mlp.Layers[0] != size {
		t.Errorf("input layer %d, want featurized length %d", mlp.Layers[0], size)
	}
	if model.HasScoreColumns() {
		t.Error("perceptron should not report score columns")
	}
}

func TestIndexLabelDisabled(t *testing.T) {
	ds, err := data.FromRows(data.Schema{
		{Name: "x", Type: data.Double},
		{Name: "label", Type: data.Integer},
	}, [][]any{{0.0, int64(0)}, {0.2, int64(0)}, {3.0, int64(1)}, {3.2, int64(1)}, {1.0, nil}})
	if err != nil {
		t.Fatal(err)
	}
	tc, _ := newTrainer(models.NewDecisionTree(3, 2))
	tc.IndexLabel = false
	model, err := tc.FitModel(ds)
	if err != nil {
		t.Fatal(err)
	}
	if model.Levels != nil {
		t.Errorf("expected no levels, got %v", model.Levels.Values)
	}
	scored, err := model.Transform(ds)
	if err != nil {
		t.Fatal(err)
	}
	if preprocessing.IsCategorical(scored, ScoredLabelsCol) {
		t.Error("scored labels should carry no levels")
	}
}

func TestIndexLabelDisabledIgnoresAttachedLevels(t *testing.T) {
	ds, err := data.FromRows(data.Schema{
		{Name: "x", Type: data.Double},
		{Name: "label", Type: data.Integer},
	}, [][]any{{0.0, int64(0)}, {0.2, int64(0)}, {3.0, int64(1)}, {3.2, int64(1)}, {6.0, int64(2)}, {6.2, int64(2)}})
	if err != nil {
		t.Fatal(err)
	}
	ds, err = preprocessing.SetLevels(ds, "label", &data.Levels{Type: data.String, Values: []any{"a", "b", "c"}})
	if err != nil {
		t.Fatal(err)
	}

	tc, _ := newTrainer(models.NewDecisionTree(3, 2))
	tc.IndexLabel = false
	model, err := tc.FitModel(ds)
	if err != nil {
		t.Fatal(err)
	}
	if model.Levels != nil {
		t.Errorf("expected no levels, got %v", model.Levels.Values)
	}
	scored, err := model.Transform(ds)
	if err != nil {
		t.Fatal(err)
	}
	if preprocessing.IsCategorical(scored, ScoredLabelsCol) {
		t.Error("scored labels should carry no levels")
	}
}

func TestNaNFeaturesAndLabels(t *testing.T) {
	nan := math.NaN()
	ds, err := data.FromRows(data.Schema{
		{Name: "x", Type: data.Double},
		{Name: "label", Type: data.Double},
	}, [][]any{
		{nan, 1.0}, {0.0, 0.0}, {0.2, 0.0}, {nan, 0.0},
		{3.0, 1.0}, {3.2, 1.0}, {1.0, nan},
	})
	if err != nil {
		t.Fatal(err)
	}
	tc, _ := newTrainer(models.NewDecisionTree(3, 2))
	model, err := tc.FitModel(ds)
	if err != nil {
		t.Fatal(err)
	}
	if model.Levels.Len() != 2 {
		t.Errorf("NaN label should not become a level, got %v", model.Levels.Values)
	}
	scored, err := model.Transform(ds)
	if err != nil {
		t.Fatal(err)
	}
	if scored.NumRows() != ds.NumRows() {
		t.Errorf("scoring dropped rows: %d of %d", scored.NumRows(), ds.NumRows())
	}
}

func TestWideHashBlockWarns(t *testing.T) {
	var buf bytes.Buffer
	if err := logging.ConfigureOutput(&buf, "warn", false); err != nil {
		t.Fatal(err)
	}
	defer logging.Configure("", false)

	ds, err := data.FromRows(data.Schema{
		{Name: "text", Type: data.String},
		{Name: "label", Type: data.String},
	}, [][]any{{"red fox", "a"}, {"blue fox", "a"}, {"red owl", "b"}, {"blue owl", "b"}})
	if err != nil {
		t.Fatal(err)
	}

	for _, width := range []int{16, preprocessing.NumFeaturesDefault} {
		buf.Reset()
		tc, _ := newTrainer(models.NewDecisionTree(1, 2))
		tc.NumFeatures = width
		if _, err := tc.FitModel(ds); err != nil {
			t.Fatal(err)
		}
		warned := strings.Contains(buf.String(), `"mib_per_row":2`)
		if warned != (width == preprocessing.NumFeaturesDefault) {
			t.Errorf("width %d: warned = %v, output %s", width, warned, buf.String())
		}
	}
}

type opaqueClassifier struct{}

func (opaqueClassifier) Family() models.Family { return models.GenericFamily }
func (opaqueClassifier) GetName() string { return "Opaque" }
func (opaqueClassifier) HasScoreColumns() bool { return false }
func (opaqueClassifier) Fit(*data.Dataset) (pipeline.Transformer, error) {
	return nil, errors.New("should not be called")
}

func TestGenericClassifierNeedsColumnBinder(t *testing.T) {
	tc, _ := newTrainer(opaqueClassifier{})
	_, err := tc.FitModel(labeledDataset(t, []string{"a", "b"}, 3))
	var algErr *errs.UnrecognizedAlgorithmError
	if !errors.As(err, &algErr) || algErr.Algorithm != "Opaque" {
		t.Fatalf("expected UnrecognizedAlgorithmError, got %v", err)
	}
}

func TestGenericClassifierIsBound(t *testing.T) {
	knn := models.NewKNN(3, "euclidean")
	tc, _ := newTrainer(knn)
	if _, err := tc.FitModel(labeledDataset(t, []string{"a", "b", "c"}, 3)); err != nil {
		t.Fatal(err)
	}
	if knn.FeaturesCol != tc.FeaturesCol() || knn.LabelCol != "label" {
		t.Errorf("columns not bound: features=%q label=%q", knn.FeaturesCol, knn.LabelCol)
	}
}

func TestMissingLabelColumn(t *testing.T) {
	tc, _ := newTrainer(models.NewDecisionTree(3, 2))
	tc.LabelCol = "nope"
	if _, err := tc.FitModel(labeledDataset(t, []string{"a", "b"}, 3)); err == nil {
		t.Fatal("expected error for missing label column")
	}
}
