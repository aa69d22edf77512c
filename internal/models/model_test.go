package models

import (
	"errors"
	"math"
	"testing"

	"mlstages/internal/data"
	"mlstages/internal/errs"
	"mlstages/internal/preprocessing"
)

func clusters(t *testing.T, centers [][2]float64, perClass int) *data.Dataset {
	t.Helper()
	var rows [][]any
	for c, ctr := range centers {
		for i := 0; i < perClass; i++ {
			dx := float64(i%3-1) * 0.3
			dy := float64((i/3)%3-1) * 0.3
			rows = append(rows, []any{[]float64{ctr[0] + dx, ctr[1] + dy}, float64(c)})
		}
	}
	ds, err := data.FromRows(data.Schema{
		{Name: DefaultFeaturesCol, Type: data.Vector},
		{Name: DefaultLabelCol, Type: data.Double},
	}, rows)
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

var (
	twoCenters   = [][2]float64{{0, 0}, {4, 4}}
	threeCenters = [][2]float64{{0, 0}, {4, 0}, {0, 4}}
)

func fitAndScore(t *testing.T, c Classifier, ds *data.Dataset) (*data.Dataset, float64) {
	t.Helper()
	model, err := c.Fit(ds)
	if err != nil {
		t.Fatalf("%s: fit failed: %v", c.GetName(), err)
	}
	out, err := model.Transform(ds)
	if err != nil {
		t.Fatalf("%s: transform failed: %v", c.GetName(), err)
	}
	preds, err := out.Column(PredictionCol)
	if err != nil {
		t.Fatal(err)
	}
	labels, _ := out.Column(DefaultLabelCol)
	correct := 0
	for i := range preds {
		if preds[i] == labels[i] {
			correct++
		}
	}
	return out, float64(correct) / float64(len(preds))
}

func TestFamilySpecs(t *testing.T) {
	tests := []struct {
		family      Family
		oneHot      bool
		numFeatures int
		adjust      bool
		scores      bool
	}{
		{LogisticRegressionFamily, true, preprocessing.NumFeaturesDefault, false, true},
		{GradientBoostedTreesFamily, false, preprocessing.NumFeaturesTreeOrNNBased, false, false},
		{DecisionTreeFamily, false, preprocessing.NumFeaturesTreeOrNNBased, false, true},
		{RandomForestFamily, false, preprocessing.NumFeaturesTreeOrNNBased, false, false},
		{MultilayerPerceptronFamily, true, preprocessing.NumFeaturesTreeOrNNBased, true, false},
		{GenericFamily, true, preprocessing.NumFeaturesDefault, false, true},
	}
	for _, tt := range tests {
		spec, ok := tt.family.Spec()
		if !ok {
			t.Errorf("%s: no spec", tt.family)
			continue
		}
		if spec.OneHotEncode != tt.oneHot || spec.NumFeatures != tt.numFeatures ||
			spec.AdjustInputLayer != tt.adjust || spec.HasScoreColumns != tt.scores {
			t.Errorf("%s: unexpected spec %+v", tt.family, spec)
		}
	}
	if _, ok := Family(99).Spec(); ok {
		t.Error("unknown family should have no spec")
	}
}

func TestClassifiersSeparateClusters(t *testing.T) {
	tests := []struct {
		name       string
		classifier Classifier
		centers    [][2]float64
		minAcc     float64
		scores     bool
	}{
		{"logistic binary", NewLogisticRegression(300, 0), twoCenters, 0.9, true},
		{"logistic multinomial", NewLogisticRegression(300, 0.001), threeCenters, 0.9, true},
		{"tree", NewDecisionTree(5, 2), threeCenters, 1, true},
		{"forest", NewRandomForest(10, 5, 2), twoCenters, 1, false},
		{"gbt", NewGradientBoostedTrees(20, 3, 0.1), twoCenters, 1, false},
		{"knn", NewKNN(3, "manhattan"), threeCenters, 1, true},
		{"bayes", NewNaiveBayes(0), threeCenters, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, acc := fitAndScore(t, tt.classifier, clusters(t, tt.centers, 9))
			if acc < tt.minAcc {
				t.Errorf("training accuracy %.2f below %.2f", acc, tt.minAcc)
			}
			if out.HasColumn(ProbabilityCol) != tt.scores || out.HasColumn(RawPredictionCol) != tt.scores {
				t.Errorf("score columns present = %v, want %v", out.HasColumn(ProbabilityCol), tt.scores)
			}
			if tt.classifier.HasScoreColumns() != tt.scores {
				t.Errorf("HasScoreColumns = %v, want %v", tt.classifier.HasScoreColumns(), tt.scores)
			}
		})
	}
}

func TestProbabilitiesSumToOne(t *testing.T) {
	out, _ := fitAndScore(t, NewDecisionTree(5, 2), clusters(t, threeCenters, 9))
	probs, _ := out.Column(ProbabilityCol)
	for i, p := range probs {
		sum := 0.0
		for _, v := range p.([]float64) {
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d: probabilities sum to %v", i, sum)
		}
	}
}

func TestOneVsRest(t *testing.T) {
	ovr := NewOneVsRest(NewLogisticRegression(300, 0))
	out, acc := fitAndScore(t, ovr, clusters(t, threeCenters, 9))
	if acc < 0.9 {
		t.Errorf("expected accuracy >= 0.9, got %.2f", acc)
	}
	raw, _ := out.Column(RawPredictionCol)
	if got := len(raw[0].([]float64)); got != 3 {
		t.Errorf("expected one raw score per class, got %d", got)
	}
}

func TestGBTRejectsMulticlass(t *testing.T) {
	_, err := NewGradientBoostedTrees(5, 3, 0.1).Fit(clusters(t, threeCenters, 3))
	var cfgErr *errs.UnsupportedConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected UnsupportedConfigurationError, got %v", err)
	}
	if cfgErr.Reason != "multiclass gradient-boosted trees not supported" {
		t.Errorf("unexpected reason %q", cfgErr.Reason)
	}
}

func TestMultilayerPerceptron(t *testing.T) {
	mlp := NewMultilayerPerceptron([]int{0, 6, 2}, 400)
	mlp.BatchSize = 4
	mlp.SetInputLayerSize(2)
	_, acc := fitAndScore(t, mlp, clusters(t, twoCenters, 9))
	if acc < 0.9 {
		t.Errorf("expected accuracy >= 0.9, got %.2f", acc)
	}

	wrong := NewMultilayerPerceptron([]int{5, 2}, 10)
	if _, err := wrong.Fit(clusters(t, twoCenters, 3)); err == nil {
		t.Error("expected error for mismatched input layer")
	}
}

func TestColumnBinding(t *testing.T) {
	ds := clusters(t, twoCenters, 6)
	ds, err := ds.Rename(DefaultFeaturesCol, "vec")
	if err != nil {
		t.Fatal(err)
	}
	ds, err = ds.Rename(DefaultLabelCol, "y")
	if err != nil {
		t.Fatal(err)
	}

	knn := NewKNN(1, "euclidean")
	var binder ColumnBinder = knn
	binder.SetFeaturesCol("vec")
	binder.SetLabelCol("y")
	model, err := knn.Fit(ds)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := model.Transform(ds); err != nil {
		t.Fatal(err)
	}
}

func TestExtractTrainingRejectsFractionalLabels(t *testing.T) {
	ds, err := data.FromRows(data.Schema{
		{Name: DefaultFeaturesCol, Type: data.Vector},
		{Name: DefaultLabelCol, Type: data.Double},
	}, [][]any{{[]float64{1}, 0.5}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := extractTraining(ds, DefaultFeaturesCol, DefaultLabelCol); err == nil {
		t.Fatal("expected error for fractional label")
	}
}

func TestCreateClassifier(t *testing.T) {
	for _, name := range []string{"logistic", "gbt", "tree", "forest", "mlp", "knn", "bayes"} {
		c, err := CreateClassifier(DefaultConfig(name))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if _, ok := c.Family().Spec(); !ok {
			t.Errorf("%s: family %v has no spec", name, c.Family())
		}
	}

	_, err := CreateClassifier(ModelConfig{Algorithm: "svm"})
	var algErr *errs.UnrecognizedAlgorithmError
	if !errors.As(err, &algErr) || algErr.Algorithm != "svm" {
		t.Errorf("expected UnrecognizedAlgorithmError for svm, got %v", err)
	}
}
