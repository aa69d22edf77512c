package models

import (
	"strings"

	"mlstages/internal/errs"
)

type ModelConfig struct {
	Algorithm    string  `yaml:"algorithm"`
	MaxIter      int     `yaml:"max_iter"`
	RegParam     float64 `yaml:"reg_param"`
	StepSize     float64 `yaml:"step_size"`
	MaxDepth     int     `yaml:"max_depth"`
	MinSplit     int     `yaml:"min_split"`
	NTrees       int     `yaml:"n_trees"`
	Layers       []int   `yaml:"layers"`
	K            int     `yaml:"k"`
	Distance     string  `yaml:"distance"`
	VarSmoothing float64 `yaml:"var_smoothing"`
	Seed         int64   `yaml:"seed"`
}

// CreateClassifier builds an unfitted algorithm from its configuration.
// Zero-valued parameters take the algorithm's defaults.
func CreateClassifier(config ModelConfig) (Classifier, error) {
	switch strings.ToLower(config.Algorithm) {
	case "logistic", "lr", "logisticregression":
		return NewLogisticRegression(config.MaxIter, config.RegParam), nil

	case "gbt", "gradientboostedtrees":
		return NewGradientBoostedTrees(config.MaxIter, config.MaxDepth, config.StepSize), nil

	case "tree", "decisiontree":
		return NewDecisionTree(config.MaxDepth, config.MinSplit), nil

	case "forest", "randomforest":
		rf := NewRandomForest(config.NTrees, config.MaxDepth, config.MinSplit)
		rf.Seed = config.Seed
		return rf, nil

	case "mlp", "multilayerperceptron":
		mlp := NewMultilayerPerceptron(config.Layers, config.MaxIter)
		mlp.Seed = config.Seed
		return mlp, nil

	case "knn":
		return NewKNN(config.K, config.Distance), nil

	case "bayes", "naivebayes":
		return NewNaiveBayes(config.VarSmoothing), nil

	default:
		return nil, &errs.UnrecognizedAlgorithmError{Algorithm: config.Algorithm}
	}
}

func DefaultConfig(algorithm string) ModelConfig {
	config := ModelConfig{Algorithm: algorithm}

	switch strings.ToLower(algorithm) {
	case "logistic", "lr", "logisticregression":
		config.MaxIter = 100
	case "gbt", "gradientboostedtrees":
		config.MaxIter = 20
		config.MaxDepth = 5
		config.StepSize = 0.1
	case "tree", "decisiontree":
		config.MaxDepth = 5
		config.MinSplit = 2
	case "forest", "randomforest":
		config.NTrees = 20
		config.MaxDepth = 5
		config.MinSplit = 2
	case "mlp", "multilayerperceptron":
		config.MaxIter = 100
	case "knn":
		config.K = 5
		config.Distance = "euclidean"
	case "bayes", "naivebayes":
		config.VarSmoothing = 1e-9
	}

	return config
}
