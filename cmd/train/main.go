package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/fatih/color"
	goerrors "github.com/go-errors/errors"

	"mlstages/internal/classifier"
	"mlstages/internal/config"
	"mlstages/internal/data"
	"mlstages/internal/evaluation"
	"mlstages/internal/experiment"
	"mlstages/internal/jobs"
	"mlstages/internal/logging"
	"mlstages/internal/persistence"
)

const version = "0.3.0"

type args struct {
	Data       string `arg:"positional,required" help:"training data (csv with a header row)"`
	Output     string `arg:"-o,required" help:"directory the trained stages are written to"`
	Config     string `arg:"-c" help:"yaml configuration file"`
	Label      string `arg:"-l" help:"label column, overrides the configuration"`
	Algorithm  string `arg:"-a" help:"logistic, gbt, tree, forest, mlp, knn or bayes"`
	Folds      int    `arg:"-k" help:"cross-validation folds (0 disables)"`
	Clean      bool   `help:"fill missing values before training"`
	Experiment bool   `help:"also compare the configured experiment algorithms"`
	Overwrite  bool   `help:"replace an existing model directory"`
	Progress   bool   `arg:"-p" help:"show a progress bar"`
	Debug      bool   `help:"debug logging and error stack traces"`
}

func (args) Version() string {
	return "train " + version
}

func (args) Description() string {
	return "Trains a classifier on a csv file, reports held-out metrics and saves the model."
}

func main() {
	var a args
	arg.MustParse(&a)

	if err := run(a); err != nil {
		color.Red("training failed: %v", err)
		if a.Debug {
			fmt.Fprintln(os.Stderr, goerrors.Wrap(err, 0).ErrorStack())
		}
		os.Exit(1)
	}
}

func loadConfig(a args) (*config.Config, error) {
	cfg := config.Default()
	if a.Config != "" {
		var err error
		if cfg, err = config.Load(a.Config); err != nil {
			return nil, err
		}
	}
	if a.Label != "" {
		cfg.Train.LabelCol = a.Label
	}
	if a.Algorithm != "" {
		cfg.Train.Model.Algorithm = a.Algorithm
	}
	if a.Folds != 0 {
		cfg.Evaluation.Folds = a.Folds
	}
	if a.Clean {
		cfg.Clean.Enabled = true
	}
	if a.Debug {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func run(a args) error {
	cfg, err := loadConfig(a)
	if err != nil {
		return err
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		return err
	}
	labelCol := cfg.Train.LabelCol

	var (
		ds, train, test *data.Dataset
		model           *classifier.TrainedClassifierModel
		metrics         *evaluation.ClassificationMetrics
		cv              *evaluation.CrossValidationResult
		compared        []experiment.Result
	)

	job := jobs.New("train")
	if a.Progress {
		job.Progress = os.Stderr
	}
	job.Add("load", func(context.Context) error {
		reader := data.NewCSVReader(a.Data)
		reader.Comma = cfg.Comma()
		loaded, err := reader.LoadData()
		if err != nil {
			return err
		}
		validator := data.NewDataValidator()
		if err := validator.ValidateDataset(loaded); err != nil {
			return err
		}
		if err := validator.ValidateLabel(loaded, labelCol); err != nil {
			return err
		}
		ds = loaded.WithPartitions(cfg.Data.Partitions)
		color.Cyan("Loaded %d rows, %d columns from %s", ds.NumRows(), len(ds.Schema()), a.Data)
		for _, s := range validator.GetDatasetStats(ds) {
			if s.Missing > 0 {
				color.Yellow("  %s (%s): %d missing", s.Name, s.Type, s.Missing)
			}
		}
		return nil
	})

	if cfg.Clean.Enabled {
		job.Add("clean", func(context.Context) error {
			cleaner, err := cfg.Clean.Cleaner(ds, labelCol)
			if err != nil {
				return err
			}
			fitted, err := cleaner.FitModel(ds)
			if err != nil {
				return err
			}
			if ds, err = fitted.Transform(ds); err != nil {
				return err
			}
			return persistence.SaveCleanMissingData(filepath.Join(a.Output, "cleaner"), fitted, a.Overwrite)
		})
	}

	job.Add("split", func(context.Context) error {
		splitter := evaluation.NewTrainTestSplitter(cfg.Evaluation.TestSize, cfg.Evaluation.Seed, true)
		var err error
		if cfg.Evaluation.Stratified {
			train, test, err = splitter.StratifiedSplit(ds, labelCol)
		} else {
			train, test, err = splitter.Split(ds)
		}
		return err
	})

	job.Add("fit", func(context.Context) error {
		tc, err := cfg.Train.Trainer()
		if err != nil {
			return err
		}
		model, err = tc.FitModel(train)
		return err
	})

	job.Add("evaluate", func(context.Context) error {
		scored, err := model.Transform(test)
		if err != nil {
			return err
		}
		metrics, err = evaluation.Evaluate(scored, labelCol, classifier.ScoredLabelsCol)
		return err
	})

	if cfg.Evaluation.Folds > 1 {
		job.Add("cross-validate", func(context.Context) error {
			validator := evaluation.NewCrossValidator(cfg.Evaluation.Folds)
			validator.RandomSeed = cfg.Evaluation.Seed
			var err error
			cv, err = validator.CrossValidate(ds, cfg.Train.Trainer)
			return err
		})
	}

	if a.Experiment {
		if len(cfg.Experiment.Algorithms) == 0 {
			return fmt.Errorf("--experiment needs experiment.algorithms in the configuration")
		}
		job.Add("experiment", func(context.Context) error {
			var err error
			if compared, err = cfg.Runner().Run(ds, cfg.Experiment.Algorithms); err != nil {
				return err
			}
			if err := os.MkdirAll(a.Output, 0o755); err != nil {
				return err
			}
			file, err := os.Create(filepath.Join(a.Output, "experiment_results.csv"))
			if err != nil {
				return err
			}
			defer file.Close()
			return experiment.ExportResults(file, compared)
		})
	}

	job.Add("save", func(context.Context) error {
		return persistence.SaveTrainedClassifier(filepath.Join(a.Output, "model"), model, a.Overwrite)
	})

	if err := job.Run(context.Background()); err != nil {
		return err
	}

	color.Green("\nTrained %s on %d rows in %v", cfg.Train.Model.Algorithm, train.NumRows(), job.Elapsed().Round(time.Millisecond))
	fmt.Print(metrics.Format(model.Levels))
	if cv != nil {
		fmt.Printf("CV accuracy: %.4f +/- %.4f over %d folds\n", cv.Mean, cv.Std, len(cv.Scores))
	}
	if best, ok := experiment.Best(compared); ok {
		color.Cyan("Best compared configuration: %s (%s) accuracy %.4f", best.Algorithm, best.Parameters, best.Accuracy)
	}
	color.Green("Model saved to %s", filepath.Join(a.Output, "model"))
	return nil
}
