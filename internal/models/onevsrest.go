package models

import (
	"github.com/pkg/errors"

	"mlstages/internal/data"
	"mlstages/internal/logging"
	"mlstages/internal/pipeline"
)

// OneVsRest reduces a multiclass problem to one binary logistic regression
// per class.
type OneVsRest struct {
	BaseModel
	Classifier *LogisticRegression
	MaxWorkers int
}

func NewOneVsRest(base *LogisticRegression) *OneVsRest {
	ovr := &OneVsRest{
		Classifier: base,
		MaxWorkers: 4,
		BaseModel:  newBaseModel("OneVsRest", map[string]any{"classifier": base.GetName()}),
	}
	ovr.LabelCol = base.LabelCol
	ovr.FeaturesCol = base.FeaturesCol
	return ovr
}

func (o *OneVsRest) Family() Family        { return LogisticRegressionFamily }
func (o *OneVsRest) HasScoreColumns() bool { return true }

func (o *OneVsRest) SetLabelCol(col string) {
	o.LabelCol = col
	o.Classifier.SetLabelCol(col)
}

func (o *OneVsRest) SetFeaturesCol(col string) {
	o.FeaturesCol = col
	o.Classifier.SetFeaturesCol(col)
}

func (o *OneVsRest) Fit(ds *data.Dataset) (pipeline.Transformer, error) {
	ts, err := extractTraining(ds, o.FeaturesCol, o.LabelCol)
	if err != nil {
		return nil, err
	}

	models := make([]*LogisticRegressionModel, ts.numClasses)
	classes := data.SplitRows(ts.numClasses, ts.numClasses)
	err = data.ParallelRange(classes, o.MaxWorkers, func(p data.Partition) error {
		for c := p.Start; c < p.End; c++ {
			binary := make([]int, len(ts.y))
			for i, label := range ts.y {
				if label == c {
					binary[i] = 1
				}
			}
			m, err := o.Classifier.train(ts.X, binary, 2)
			if err != nil {
				return errors.Wrapf(err, "class %d", c)
			}
			models[c] = m
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.For("OneVsRest").Debug().Int("classes", ts.numClasses).Msg("trained binary models")

	return &OneVsRestModel{FeaturesCol: o.FeaturesCol, Models: models}, nil
}

type OneVsRestModel struct {
	FeaturesCol string
	Models      []*LogisticRegressionModel
}

func (m *OneVsRestModel) HasScoreColumns() bool { return true }

func (m *OneVsRestModel) Transform(ds *data.Dataset) (*data.Dataset, error) {
	return scoreDataset(ds, m.FeaturesCol, true, m)
}

func (m *OneVsRestModel) scoreRow(x []float64) ([]float64, []float64, int, error) {
	raw := make([]float64, len(m.Models))
	conf := make([]float64, len(m.Models))
	for c, bin := range m.Models {
		raw[c] = bin.positiveMargin(x)
		conf[c] = sigmoid(raw[c])
	}
	return raw, normalize(conf), argmax(raw), nil
}
