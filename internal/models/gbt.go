package models

import (
	"math"

	"github.com/pkg/errors"

	"mlstages/internal/data"
	"mlstages/internal/errs"
	"mlstages/internal/logging"
	"mlstages/internal/pipeline"
)

// GradientBoostedTrees is a binary classifier that boosts regression trees on
// the log-loss gradient.
type GradientBoostedTrees struct {
	BaseModel
	MaxIter         int
	MaxDepth        int
	MinSamplesSplit int
	StepSize        float64
}

func NewGradientBoostedTrees(maxIter, maxDepth int, stepSize float64) *GradientBoostedTrees {
	if maxIter <= 0 {
		maxIter = 20
	}
	if maxDepth <= 0 {
		maxDepth = 5
	}
	if stepSize <= 0 || stepSize > 1 {
		stepSize = 0.1
	}
	return &GradientBoostedTrees{
		MaxIter:         maxIter,
		MaxDepth:        maxDepth,
		MinSamplesSplit: 2,
		StepSize:        stepSize,
		BaseModel: newBaseModel("GradientBoostedTrees", map[string]any{
			"max_iter":  maxIter,
			"max_depth": maxDepth,
			"step_size": stepSize,
		}),
	}
}

func (gb *GradientBoostedTrees) Family() Family        { return GradientBoostedTreesFamily }
func (gb *GradientBoostedTrees) HasScoreColumns() bool { return false }

func (gb *GradientBoostedTrees) Fit(ds *data.Dataset) (pipeline.Transformer, error) {
	ts, err := extractTraining(ds, gb.FeaturesCol, gb.LabelCol)
	if err != nil {
		return nil, err
	}
	if ts.numClasses > 2 {
		return nil, &errs.UnsupportedConfigurationError{Reason: "multiclass gradient-boosted trees not supported"}
	}

	n := len(ts.X)
	positives := 0
	for _, label := range ts.y {
		positives += label
	}
	if positives == 0 || positives == n {
		return nil, errors.New("gradient-boosted trees need both classes in the training data")
	}
	p0 := float64(positives) / float64(n)
	init := math.Log(p0 / (1 - p0))

	F := make([]float64, n)
	for i := range F {
		F[i] = init
	}
	residual := make([]float64, n)
	hessian := make([]float64, n)
	rows := allRows(n)

	model := &GBTModel{FeaturesCol: gb.FeaturesCol, Init: init, StepSize: gb.StepSize}
	dt := NewDecisionTree(gb.MaxDepth, gb.MinSamplesSplit)

	for iter := 0; iter < gb.MaxIter; iter++ {
		for i := range F {
			p := sigmoid(F[i])
			residual[i] = float64(ts.y[i]) - p
			hessian[i] = p * (1 - p)
		}

		root := dt.grower(ts.X).regress(residual).grow(rows, nil)
		newtonLeaves(root, ts.X, residual, hessian)

		for i, x := range ts.X {
			F[i] += gb.StepSize * root.leaf(x).Value
		}
		model.Trees = append(model.Trees, root)
	}

	logging.For("GradientBoostedTrees").Debug().
		Int("trees", len(model.Trees)).
		Float64("init", init).
		Msg("boosting finished")
	return model, nil
}

// newtonLeaves replaces each leaf's mean residual with a one-step Newton
// estimate of the log-loss minimizer.
func newtonLeaves(root *TreeNode, X [][]float64, residual, hessian []float64) {
	num := make(map[*TreeNode]float64)
	den := make(map[*TreeNode]float64)
	for i, x := range X {
		leaf := root.leaf(x)
		num[leaf] += residual[i]
		den[leaf] += hessian[i]
	}
	for leaf, s := range num {
		leaf.Value = s / math.Max(den[leaf], 1e-12)
	}
}

type GBTModel struct {
	FeaturesCol string
	Init        float64
	StepSize    float64
	Trees       []*TreeNode
}

func (m *GBTModel) HasScoreColumns() bool { return false }

func (m *GBTModel) Transform(ds *data.Dataset) (*data.Dataset, error) {
	return scoreDataset(ds, m.FeaturesCol, false, m)
}

func (m *GBTModel) margin(x []float64) float64 {
	f := m.Init
	for _, tree := range m.Trees {
		f += m.StepSize * tree.leaf(x).Value
	}
	return f
}

func (m *GBTModel) scoreRow(x []float64) ([]float64, []float64, int, error) {
	f := m.margin(x)
	p := sigmoid(f)
	pred := 0
	if f > 0 {
		pred = 1
	}
	return []float64{-f, f}, []float64{1 - p, p}, pred, nil
}
