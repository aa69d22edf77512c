package models

import (
	"github.com/pkg/errors"

	"mlstages/internal/data"
	"mlstages/internal/logging"
	"mlstages/internal/neural"
	"mlstages/internal/pipeline"
)

const defaultHiddenUnits = 8

// MultilayerPerceptron trains a sigmoid network with a softmax output. Layers
// lists every layer size from input to output; the trainer rewrites the first
// entry to the featurized vector length. With no layers configured a single
// hidden layer is used and the output is sized to the label count.
type MultilayerPerceptron struct {
	BaseModel
	Layers       []int
	MaxIter      int
	BatchSize    int
	LearningRate float64
	Seed         int64
}

func NewMultilayerPerceptron(layers []int, maxIter int) *MultilayerPerceptron {
	if maxIter <= 0 {
		maxIter = 100
	}
	return &MultilayerPerceptron{
		Layers:       append([]int(nil), layers...),
		MaxIter:      maxIter,
		BatchSize:    32,
		LearningRate: 0.3,
		BaseModel: newBaseModel("MultilayerPerceptron", map[string]any{
			"layers":   layers,
			"max_iter": maxIter,
		}),
	}
}

func (mlp *MultilayerPerceptron) Family() Family        { return MultilayerPerceptronFamily }
func (mlp *MultilayerPerceptron) HasScoreColumns() bool { return false }

func (mlp *MultilayerPerceptron) SetInputLayerSize(n int) {
	if len(mlp.Layers) == 0 {
		mlp.Layers = []int{n}
		return
	}
	mlp.Layers[0] = n
}

func (mlp *MultilayerPerceptron) Fit(ds *data.Dataset) (pipeline.Transformer, error) {
	ts, err := extractTraining(ds, mlp.FeaturesCol, mlp.LabelCol)
	if err != nil {
		return nil, err
	}

	sizes := append([]int(nil), mlp.Layers...)
	if len(sizes) <= 1 {
		sizes = []int{ts.numFeat, defaultHiddenUnits, ts.numClasses}
	}
	if sizes[0] != ts.numFeat {
		return nil, errors.Errorf("input layer has %d units but features have length %d", sizes[0], ts.numFeat)
	}
	if sizes[len(sizes)-1] < ts.numClasses {
		return nil, errors.Errorf("output layer has %d units for %d classes", sizes[len(sizes)-1], ts.numClasses)
	}

	net, err := neural.New(mlp.Name, sizes, neural.Sigmoid, neural.Softmax, mlp.Seed)
	if err != nil {
		return nil, err
	}
	loss, err := net.Train(ts.X, ts.y, neural.TrainConfig{
		Epochs:       mlp.MaxIter,
		BatchSize:    mlp.BatchSize,
		LearningRate: mlp.LearningRate,
		Seed:         mlp.Seed,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to train network")
	}

	logging.For("MultilayerPerceptron").Debug().
		Ints("layers", sizes).
		Float64("loss", loss).
		Msg("network trained")

	return &MLPModel{FeaturesCol: mlp.FeaturesCol, Network: net}, nil
}

type MLPModel struct {
	FeaturesCol string
	Network     *neural.Network
}

func (m *MLPModel) HasScoreColumns() bool { return false }

func (m *MLPModel) Transform(ds *data.Dataset) (*data.Dataset, error) {
	if err := m.Network.Validate(); err != nil {
		return nil, err
	}
	return scoreDataset(ds, m.FeaturesCol, false, m)
}

func (m *MLPModel) scoreRow(x []float64) ([]float64, []float64, int, error) {
	out, err := m.Network.Forward(x)
	if err != nil {
		return nil, nil, 0, err
	}
	return out, out, argmax(out), nil
}
