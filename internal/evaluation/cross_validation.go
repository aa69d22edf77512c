package evaluation

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"mlstages/internal/classifier"
	"mlstages/internal/data"
	"mlstages/internal/logging"
)

// TrainerFactory returns a fresh, unfitted trainer for each fold. Trainers
// bind columns onto their algorithm, so folds never share one.
type TrainerFactory func() (*classifier.TrainClassifier, error)

type CrossValidator struct {
	NFolds     int
	Shuffle    bool
	RandomSeed int64
	MaxWorkers int
}

func NewCrossValidator(nFolds int) *CrossValidator {
	return &CrossValidator{
		NFolds:     nFolds,
		Shuffle:    true,
		RandomSeed: 42,
		MaxWorkers: 4,
	}
}

type CrossValidationResult struct {
	Scores []float64 `yaml:"scores"`
	Mean   float64   `yaml:"mean"`
	Std    float64   `yaml:"std"`
}

// CrossValidate trains one model per fold on a worker pool and scores each
// on its held-out rows by accuracy.
func (cv *CrossValidator) CrossValidate(ds *data.Dataset, newTrainer TrainerFactory) (*CrossValidationResult, error) {
	folds, err := NewKFoldSplitter(cv.NFolds, cv.Shuffle, cv.RandomSeed).Folds(ds.NumRows())
	if err != nil {
		return nil, err
	}
	log := logging.For("CrossValidator")

	workers := cv.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(folds) {
		workers = len(folds)
	}

	scores := make([]float64, len(folds))
	foldErrs := make([]error, len(folds))
	jobs := make(chan int, len(folds))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				scores[i], foldErrs[i] = cv.evaluateFold(ds, folds[i], newTrainer)
				log.Debug().Int("fold", i).Float64("accuracy", scores[i]).Msg("fold evaluated")
			}
		}()
	}
	for i := range folds {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range foldErrs {
		if err != nil {
			return nil, errors.Wrapf(err, "fold %d failed", i)
		}
	}
	mean, std := meanStd(scores)
	return &CrossValidationResult{Scores: scores, Mean: mean, Std: std}, nil
}

func (cv *CrossValidator) evaluateFold(ds *data.Dataset, testIdx []int, newTrainer TrainerFactory) (float64, error) {
	tc, err := newTrainer()
	if err != nil {
		return 0, err
	}
	model, err := tc.FitModel(ds.Take(complement(ds.NumRows(), testIdx)))
	if err != nil {
		return 0, err
	}
	scored, err := model.Transform(ds.Take(testIdx))
	if err != nil {
		return 0, err
	}
	metrics, err := Evaluate(scored, model.LabelCol, classifier.ScoredLabelsCol)
	if err != nil {
		return 0, err
	}
	return metrics.Accuracy, nil
}

func meanStd(scores []float64) (mean, std float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))

	if len(scores) > 1 {
		variance := 0.0
		for _, s := range scores {
			d := s - mean
			variance += d * d
		}
		std = math.Sqrt(variance / float64(len(scores)-1))
	}
	return mean, std
}
