package models

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"mlstages/internal/data"
	"mlstages/internal/logging"
	"mlstages/internal/pipeline"
)

type LogisticRegression struct {
	BaseModel
	MaxIter  int
	RegParam float64
	StepSize float64
	Tol      float64
}

func NewLogisticRegression(maxIter int, regParam float64) *LogisticRegression {
	if maxIter <= 0 {
		maxIter = 100
	}
	if regParam < 0 {
		regParam = 0
	}
	return &LogisticRegression{
		MaxIter:  maxIter,
		RegParam: regParam,
		StepSize: 0.1,
		Tol:      1e-6,
		BaseModel: newBaseModel("LogisticRegression", map[string]any{
			"max_iter":  maxIter,
			"reg_param": regParam,
		}),
	}
}

func (lr *LogisticRegression) Family() Family        { return LogisticRegressionFamily }
func (lr *LogisticRegression) HasScoreColumns() bool { return true }

func (lr *LogisticRegression) Fit(ds *data.Dataset) (pipeline.Transformer, error) {
	ts, err := extractTraining(ds, lr.FeaturesCol, lr.LabelCol)
	if err != nil {
		return nil, err
	}
	return lr.train(ts.X, ts.y, ts.numClasses)
}

type sparseRow struct {
	idx []int
	val []float64
}

func toSparse(X [][]float64) []sparseRow {
	rows := make([]sparseRow, len(X))
	for i, x := range X {
		for j, v := range x {
			if v != 0 {
				rows[i].idx = append(rows[i].idx, j)
				rows[i].val = append(rows[i].val, v)
			}
		}
	}
	return rows
}

// train fits a multinomial model by full-batch gradient descent. The last
// column of the weight matrix holds the intercepts and is not regularized.
func (lr *LogisticRegression) train(X [][]float64, y []int, numClasses int) (*LogisticRegressionModel, error) {
	if len(X) == 0 {
		return nil, errors.New("no rows to train on")
	}
	d := len(X[0])
	rows := toSparse(X)
	n := float64(len(rows))

	W := mat.NewDense(numClasses, d+1, nil)
	G := mat.NewDense(numClasses, d+1, nil)
	z := make([]float64, numClasses)

	iter := 0
	for ; iter < lr.MaxIter; iter++ {
		G.Zero()
		for i, row := range rows {
			for c := 0; c < numClasses; c++ {
				w := W.RawRowView(c)
				s := w[d]
				for k, j := range row.idx {
					s += w[j] * row.val[k]
				}
				z[c] = s
			}
			p := softmax(z)
			p[y[i]] -= 1
			for c := 0; c < numClasses; c++ {
				g := G.RawRowView(c)
				for k, j := range row.idx {
					g[j] += p[c] * row.val[k]
				}
				g[d] += p[c]
			}
		}

		G.Scale(1/n, G)
		if lr.RegParam > 0 {
			for c := 0; c < numClasses; c++ {
				w := W.RawRowView(c)
				floats.AddScaled(G.RawRowView(c)[:d], lr.RegParam, w[:d])
			}
		}

		for c := 0; c < numClasses; c++ {
			floats.AddScaled(W.RawRowView(c), -lr.StepSize, G.RawRowView(c))
		}
		if mat.Norm(G, 2) < lr.Tol {
			break
		}
	}

	logging.For("LogisticRegression").Debug().
		Int("iterations", iter).
		Int("classes", numClasses).
		Int("features", d).
		Msg("training finished")

	coef := make([][]float64, numClasses)
	for c := range coef {
		coef[c] = mat.Row(nil, c, W)
	}
	return &LogisticRegressionModel{
		FeaturesCol:  lr.FeaturesCol,
		NumClasses:   numClasses,
		Coefficients: coef,
	}, nil
}

// LogisticRegressionModel holds one weight row per class; the last entry of
// each row is the intercept.
type LogisticRegressionModel struct {
	FeaturesCol  string
	NumClasses   int
	Coefficients [][]float64
}

func (m *LogisticRegressionModel) HasScoreColumns() bool { return true }

func (m *LogisticRegressionModel) Transform(ds *data.Dataset) (*data.Dataset, error) {
	return scoreDataset(ds, m.FeaturesCol, true, m)
}

func (m *LogisticRegressionModel) margins(x []float64) []float64 {
	z := make([]float64, m.NumClasses)
	for c, w := range m.Coefficients {
		d := len(w) - 1
		s := w[d]
		for j := 0; j < d && j < len(x); j++ {
			if x[j] != 0 {
				s += w[j] * x[j]
			}
		}
		z[c] = s
	}
	return z
}

func (m *LogisticRegressionModel) scoreRow(x []float64) ([]float64, []float64, int, error) {
	raw := m.margins(x)
	prob := softmax(raw)
	return raw, prob, argmax(prob), nil
}

// positiveMargin is the log-odds of class 1 for a two-class model.
func (m *LogisticRegressionModel) positiveMargin(x []float64) float64 {
	z := m.margins(x)
	if len(z) < 2 {
		return math.Inf(-1)
	}
	return z[1] - z[0]
}
