package models

import (
	"fmt"

	"mlstages/internal/data"
	"mlstages/internal/pipeline"
	"mlstages/internal/preprocessing"
)

// Family identifies how the classifier trainer prepares data for an algorithm.
type Family int

const (
	LogisticRegressionFamily Family = iota
	GradientBoostedTreesFamily
	DecisionTreeFamily
	RandomForestFamily
	MultilayerPerceptronFamily
	GenericFamily
)

// FamilySpec is the per-family featurization and scoring policy.
type FamilySpec struct {
	Name             string
	OneHotEncode     bool
	NumFeatures      int
	AdjustInputLayer bool
	HasScoreColumns  bool
}

var familySpecs = map[Family]FamilySpec{
	LogisticRegressionFamily: {
		Name:            "LogisticRegression",
		OneHotEncode:    true,
		NumFeatures:     preprocessing.NumFeaturesDefault,
		HasScoreColumns: true,
	},
	GradientBoostedTreesFamily: {
		Name:        "GradientBoostedTrees",
		NumFeatures: preprocessing.NumFeaturesTreeOrNNBased,
	},
	DecisionTreeFamily: {
		Name:            "DecisionTree",
		NumFeatures:     preprocessing.NumFeaturesTreeOrNNBased,
		HasScoreColumns: true,
	},
	RandomForestFamily: {
		Name:        "RandomForest",
		NumFeatures: preprocessing.NumFeaturesTreeOrNNBased,
	},
	MultilayerPerceptronFamily: {
		Name:             "MultilayerPerceptron",
		OneHotEncode:     true,
		NumFeatures:      preprocessing.NumFeaturesTreeOrNNBased,
		AdjustInputLayer: true,
	},
	GenericFamily: {
		Name:            "Generic",
		OneHotEncode:    true,
		NumFeatures:     preprocessing.NumFeaturesDefault,
		HasScoreColumns: true,
	},
}

func (f Family) Spec() (FamilySpec, bool) {
	spec, ok := familySpecs[f]
	return spec, ok
}

func (f Family) String() string {
	if spec, ok := familySpecs[f]; ok {
		return spec.Name
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// Column names written by every fitted classification model.
const (
	DefaultLabelCol    = "label"
	DefaultFeaturesCol = "features"
	PredictionCol      = "prediction"
	ProbabilityCol     = "probability"
	RawPredictionCol   = "rawPrediction"
)

// Classifier is an unfitted classification algorithm.
type Classifier interface {
	Family() Family
	GetName() string
	Fit(ds *data.Dataset) (pipeline.Transformer, error)
	// HasScoreColumns reports whether fitted models write probability and
	// raw score columns next to the prediction.
	HasScoreColumns() bool
}

// ColumnBinder is implemented by algorithms that read their label and
// features from configurable columns.
type ColumnBinder interface {
	SetLabelCol(col string)
	SetFeaturesCol(col string)
}

// InputLayerSizer is implemented by algorithms whose first layer must match
// the feature vector length.
type InputLayerSizer interface {
	SetInputLayerSize(n int)
}

// ScoringModel is a fitted classifier.
type ScoringModel interface {
	pipeline.Transformer
	HasScoreColumns() bool
}

type BaseModel struct {
	Name        string
	Params      map[string]any
	LabelCol    string
	FeaturesCol string
}

func newBaseModel(name string, params map[string]any) BaseModel {
	return BaseModel{
		Name:        name,
		Params:      params,
		LabelCol:    DefaultLabelCol,
		FeaturesCol: DefaultFeaturesCol,
	}
}

func (bm *BaseModel) GetName() string {
	return bm.Name
}

func (bm *BaseModel) GetParams() map[string]any {
	return bm.Params
}

func (bm *BaseModel) SetLabelCol(col string) {
	bm.LabelCol = col
}

func (bm *BaseModel) SetFeaturesCol(col string) {
	bm.FeaturesCol = col
}
