package models

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"mlstages/internal/data"
	"mlstages/internal/pipeline"
)

type KNN struct {
	BaseModel
	K        int
	Distance string
}

func NewKNN(k int, distance string) *KNN {
	if k <= 0 {
		k = 5
	}
	if distance != "euclidean" && distance != "manhattan" {
		distance = "euclidean"
	}
	return &KNN{
		K:        k,
		Distance: distance,
		BaseModel: newBaseModel("KNN", map[string]any{
			"k":        k,
			"distance": distance,
		}),
	}
}

func (knn *KNN) Family() Family        { return GenericFamily }
func (knn *KNN) HasScoreColumns() bool { return true }

func (knn *KNN) Fit(ds *data.Dataset) (pipeline.Transformer, error) {
	ts, err := extractTraining(ds, knn.FeaturesCol, knn.LabelCol)
	if err != nil {
		return nil, err
	}
	norm := 2.0
	if knn.Distance == "manhattan" {
		norm = 1
	}
	return &KNNModel{
		FeaturesCol: knn.FeaturesCol,
		K:           knn.K,
		Norm:        norm,
		NumClasses:  ts.numClasses,
		XTrain:      ts.X,
		YTrain:      ts.y,
	}, nil
}

// KNNModel keeps the training rows and votes among the K nearest.
type KNNModel struct {
	FeaturesCol string
	K           int
	Norm        float64
	NumClasses  int
	XTrain      [][]float64
	YTrain      []int
}

func (m *KNNModel) HasScoreColumns() bool { return true }

func (m *KNNModel) Transform(ds *data.Dataset) (*data.Dataset, error) {
	return scoreDataset(ds, m.FeaturesCol, true, m)
}

func (m *KNNModel) scoreRow(x []float64) ([]float64, []float64, int, error) {
	type neighbor struct {
		index    int
		distance float64
	}
	neighbors := make([]neighbor, len(m.XTrain))
	for i, t := range m.XTrain {
		neighbors[i] = neighbor{index: i, distance: floats.Distance(x, t, m.Norm)}
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].distance < neighbors[j].distance
	})

	votes := make([]float64, m.NumClasses)
	for i := 0; i < m.K && i < len(neighbors); i++ {
		votes[m.YTrain[neighbors[i].index]]++
	}
	return votes, normalize(votes), argmax(votes), nil
}
