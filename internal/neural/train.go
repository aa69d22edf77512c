package neural

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type TrainConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         int64
}

func (c TrainConfig) withDefaults() TrainConfig {
	if c.Epochs <= 0 {
		c.Epochs = 100
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	return c
}

// Train fits the network to class labels with mini-batch gradient descent on
// cross-entropy loss. The output layer must be softmax. It returns the mean
// loss of the final epoch.
func (n *Network) Train(X [][]float64, y []int, cfg TrainConfig) (float64, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}
	if len(X) == 0 || len(X) != len(y) {
		return 0, errors.Errorf("need matching non-empty inputs and labels, got %d and %d", len(X), len(y))
	}
	last := n.Layers[len(n.Layers)-1]
	if last.Activation != Softmax {
		return 0, errors.Errorf("output layer %s must be softmax, got %s", last.Name, last.Activation)
	}
	for i, label := range y {
		if label < 0 || label >= last.Out {
			return 0, errors.Errorf("label %d at row %d is outside the %d outputs", label, i, last.Out)
		}
	}

	cfg = cfg.withDefaults()
	r := rand.New(rand.NewSource(cfg.Seed))
	order := make([]int, len(X))
	for i := range order {
		order[i] = i
	}

	gradW := make([]*mat.Dense, len(n.Layers))
	gradB := make([]*mat.VecDense, len(n.Layers))
	for i, l := range n.Layers {
		gradW[i] = mat.NewDense(l.Out, l.In, nil)
		gradB[i] = mat.NewVecDense(l.Out, nil)
	}

	var loss float64
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		r.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		loss = 0
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			for i := range n.Layers {
				gradW[i].Zero()
				gradB[i].Zero()
			}
			for _, idx := range order[start:end] {
				loss += n.backprop(X[idx], y[idx], gradW, gradB)
			}
			n.apply(gradW, gradB, cfg.LearningRate/float64(end-start))
		}
		loss /= float64(len(X))
	}
	return loss, nil
}

// backprop accumulates the gradients of one sample and returns its loss.
func (n *Network) backprop(x []float64, label int, gradW []*mat.Dense, gradB []*mat.VecDense) float64 {
	acts := n.activations(x)
	out := acts[len(acts)-1]
	loss := -math.Log(math.Max(out[label], 1e-15))

	// softmax with cross-entropy has delta = p - onehot
	delta := mat.NewVecDense(len(out), append([]float64(nil), out...))
	delta.SetVec(label, delta.AtVec(label)-1)

	for i := len(n.Layers) - 1; i >= 0; i-- {
		l := n.Layers[i]
		input := mat.NewVecDense(len(acts[i]), acts[i])
		gradW[i].RankOne(gradW[i], 1, delta, input)
		gradB[i].AddVec(gradB[i], delta)
		if i == 0 {
			break
		}

		prev := n.Layers[i-1]
		W := mat.NewDense(l.Out, l.In, l.Weights)
		back := mat.NewVecDense(l.In, nil)
		back.MulVec(W.T(), delta)
		for j := 0; j < l.In; j++ {
			back.SetVec(j, back.AtVec(j)*derivative(prev.Activation, acts[i][j]))
		}
		delta = back
	}
	return loss
}

func (n *Network) apply(gradW []*mat.Dense, gradB []*mat.VecDense, rate float64) {
	for i := range n.Layers {
		l := &n.Layers[i]
		W := mat.NewDense(l.Out, l.In, l.Weights)
		W.Sub(W, scaled(gradW[i], rate))
		b := mat.NewVecDense(l.Out, l.Bias)
		b.AddScaledVec(b, -rate, gradB[i])
	}
}

func scaled(m *mat.Dense, f float64) *mat.Dense {
	var out mat.Dense
	out.Scale(f, m)
	return &out
}
