package models

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"mlstages/internal/data"
	"mlstages/internal/pipeline"
)

// NaiveBayes is a Gaussian naive Bayes classifier.
type NaiveBayes struct {
	BaseModel
	VarSmoothing float64
}

func NewNaiveBayes(varSmoothing float64) *NaiveBayes {
	if varSmoothing <= 0 {
		varSmoothing = 1e-9
	}
	return &NaiveBayes{
		VarSmoothing: varSmoothing,
		BaseModel: newBaseModel("NaiveBayes", map[string]any{
			"var_smoothing": varSmoothing,
		}),
	}
}

func (nb *NaiveBayes) Family() Family        { return GenericFamily }
func (nb *NaiveBayes) HasScoreColumns() bool { return true }

func (nb *NaiveBayes) Fit(ds *data.Dataset) (pipeline.Transformer, error) {
	ts, err := extractTraining(ds, nb.FeaturesCol, nb.LabelCol)
	if err != nil {
		return nil, err
	}

	m := &NaiveBayesModel{
		FeaturesCol:    nb.FeaturesCol,
		ClassLogPriors: make([]float64, ts.numClasses),
		FeatureMeans:   make([][]float64, ts.numClasses),
		FeatureVars:    make([][]float64, ts.numClasses),
	}

	byClass := make([][]int, ts.numClasses)
	for i, label := range ts.y {
		byClass[label] = append(byClass[label], i)
	}

	column := make([]float64, 0, len(ts.y))
	for class, rows := range byClass {
		if len(rows) == 0 {
			m.ClassLogPriors[class] = math.Inf(-1)
			continue
		}
		m.ClassLogPriors[class] = math.Log(float64(len(rows)) / float64(len(ts.y)))
		m.FeatureMeans[class] = make([]float64, ts.numFeat)
		m.FeatureVars[class] = make([]float64, ts.numFeat)

		for j := 0; j < ts.numFeat; j++ {
			column = column[:0]
			for _, i := range rows {
				column = append(column, ts.X[i][j])
			}
			mean := stat.Mean(column, nil)
			variance := 0.0
			for _, v := range column {
				variance += (v - mean) * (v - mean)
			}
			m.FeatureMeans[class][j] = mean
			m.FeatureVars[class][j] = variance/float64(len(column)) + nb.VarSmoothing
		}
	}
	return m, nil
}

type NaiveBayesModel struct {
	FeaturesCol    string
	ClassLogPriors []float64
	FeatureMeans   [][]float64
	FeatureVars    [][]float64
}

func (m *NaiveBayesModel) HasScoreColumns() bool { return true }

func (m *NaiveBayesModel) Transform(ds *data.Dataset) (*data.Dataset, error) {
	return scoreDataset(ds, m.FeaturesCol, true, m)
}

func logGaussianPDF(x, mean, variance float64) float64 {
	diff := x - mean
	return -0.5*math.Log(2*math.Pi*variance) - (diff*diff)/(2*variance)
}

func (m *NaiveBayesModel) scoreRow(x []float64) ([]float64, []float64, int, error) {
	logProbs := make([]float64, len(m.ClassLogPriors))
	for class, prior := range m.ClassLogPriors {
		logProbs[class] = prior
		if math.IsInf(prior, -1) {
			continue
		}
		for j, v := range x {
			logProbs[class] += logGaussianPDF(v, m.FeatureMeans[class][j], m.FeatureVars[class][j])
		}
	}
	prob := softmax(logProbs)
	return logProbs, prob, argmax(logProbs), nil
}
