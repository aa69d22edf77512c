// Package experiment trains several algorithm configurations on the same
// split and compares them.
package experiment

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"

	"mlstages/internal/classifier"
	"mlstages/internal/data"
	"mlstages/internal/evaluation"
	"mlstages/internal/logging"
	"mlstages/internal/models"
)

type Runner struct {
	LabelCol    string
	NumFeatures int
	IndexLabel  bool
	TestSize    float64
	Stratified  bool
	// Folds enables cross-validation on the full dataset when above 1.
	Folds int
	Seed  int64
}

type Result struct {
	Algorithm      string
	Parameters     string
	Accuracy       float64
	Precision      float64
	Recall         float64
	F1Score        float64
	CVMean         float64
	CVStd          float64
	TrainingTimeMs int64
	Err            error
}

func (r *Runner) trainer(config models.ModelConfig) (*classifier.TrainClassifier, error) {
	algorithm, err := models.CreateClassifier(config)
	if err != nil {
		return nil, err
	}
	tc := classifier.NewTrainClassifier(r.LabelCol, algorithm)
	tc.NumFeatures = r.NumFeatures
	tc.IndexLabel = r.IndexLabel
	return tc, nil
}

// Run splits ds once and evaluates every configuration on that split. A
// configuration that fails to train is reported in its Result rather than
// stopping the run.
func (r *Runner) Run(ds *data.Dataset, configs []models.ModelConfig) ([]Result, error) {
	splitter := evaluation.NewTrainTestSplitter(r.TestSize, r.Seed, true)
	var train, test *data.Dataset
	var err error
	if r.Stratified {
		train, test, err = splitter.StratifiedSplit(ds, r.LabelCol)
	} else {
		train, test, err = splitter.Split(ds)
	}
	if err != nil {
		return nil, err
	}

	log := logging.For("experiment")
	results := make([]Result, 0, len(configs))
	for _, config := range configs {
		result := r.evaluate(ds, train, test, config)
		if result.Err != nil {
			log.Warn().Err(result.Err).Str("algorithm", config.Algorithm).Msg("configuration failed")
		} else {
			log.Info().Str("algorithm", config.Algorithm).Float64("accuracy", result.Accuracy).Msg("configuration evaluated")
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *Runner) evaluate(ds, train, test *data.Dataset, config models.ModelConfig) Result {
	result := Result{Algorithm: config.Algorithm, Parameters: describe(config)}

	tc, err := r.trainer(config)
	if err != nil {
		result.Err = err
		return result
	}
	start := time.Now()
	model, err := tc.FitModel(train)
	result.TrainingTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Err = err
		return result
	}

	scored, err := model.Transform(test)
	if err != nil {
		result.Err = err
		return result
	}
	metrics, err := evaluation.Evaluate(scored, r.LabelCol, classifier.ScoredLabelsCol)
	if err != nil {
		result.Err = err
		return result
	}
	result.Accuracy = metrics.Accuracy
	result.Precision = metrics.MacroPrecision
	result.Recall = metrics.MacroRecall
	result.F1Score = metrics.MacroF1

	if r.Folds > 1 {
		cv := evaluation.NewCrossValidator(r.Folds)
		cv.RandomSeed = r.Seed
		cvResult, err := cv.CrossValidate(ds, func() (*classifier.TrainClassifier, error) {
			return r.trainer(config)
		})
		if err != nil {
			result.Err = errors.Wrap(err, "cross-validation failed")
			return result
		}
		result.CVMean, result.CVStd = cvResult.Mean, cvResult.Std
	}
	return result
}

// Best returns the successful result with the highest accuracy.
func Best(results []Result) (Result, bool) {
	ok := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return Result{}, false
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Accuracy > ok[j].Accuracy })
	return ok[0], true
}

func ExportResults(w io.Writer, results []Result) error {
	writer := csv.NewWriter(w)
	writer.Write([]string{
		"Algorithm", "Parameters", "Accuracy", "Precision", "Recall", "F1Score",
		"CVMean", "CVStd", "TrainingTimeMs", "Error",
	})
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		writer.Write([]string{
			r.Algorithm,
			r.Parameters,
			fmt.Sprintf("%.4f", r.Accuracy),
			fmt.Sprintf("%.4f", r.Precision),
			fmt.Sprintf("%.4f", r.Recall),
			fmt.Sprintf("%.4f", r.F1Score),
			fmt.Sprintf("%.4f", r.CVMean),
			fmt.Sprintf("%.4f", r.CVStd),
			fmt.Sprintf("%d", r.TrainingTimeMs),
			errText,
		})
	}
	writer.Flush()
	return writer.Error()
}

func describe(c models.ModelConfig) string {
	switch c.Algorithm {
	case "logistic", "lr":
		return fmt.Sprintf("max_iter=%d reg=%g", c.MaxIter, c.RegParam)
	case "gbt":
		return fmt.Sprintf("max_iter=%d depth=%d step=%g", c.MaxIter, c.MaxDepth, c.StepSize)
	case "tree":
		return fmt.Sprintf("depth=%d min_split=%d", c.MaxDepth, c.MinSplit)
	case "forest":
		return fmt.Sprintf("trees=%d depth=%d", c.NTrees, c.MaxDepth)
	case "mlp":
		return fmt.Sprintf("layers=%v max_iter=%d", c.Layers, c.MaxIter)
	case "knn":
		return fmt.Sprintf("k=%d distance=%s", c.K, c.Distance)
	case "bayes":
		return fmt.Sprintf("var_smoothing=%g", c.VarSmoothing)
	}
	return fmt.Sprintf("%+v", c)
}
