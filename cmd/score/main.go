package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alexflint/go-arg"
	"github.com/fatih/color"
	goerrors "github.com/go-errors/errors"

	"mlstages/internal/classifier"
	"mlstages/internal/data"
	"mlstages/internal/jobs"
	"mlstages/internal/logging"
	"mlstages/internal/persistence"
	"mlstages/internal/preprocessing"
)

const version = "0.3.0"

type args struct {
	Model     string `arg:"positional,required" help:"directory written by train"`
	Data      string `arg:"positional,required" help:"csv file to score"`
	Output    string `arg:"-o" help:"scored csv (default stdout)"`
	Delimiter string `arg:"-d" default:"," help:"field delimiter of the input"`
	Decode    string `help:"also write predictions as original label values into this column"`
	Progress  bool   `arg:"-p" help:"show a progress bar"`
	Debug     bool   `help:"debug logging and error stack traces"`
}

func (args) Version() string {
	return "score " + version
}

func (args) Description() string {
	return "Scores a csv file with a saved classifier, applying the saved cleaner first when present."
}

func main() {
	var a args
	arg.MustParse(&a)

	if err := run(a); err != nil {
		color.Red("scoring failed: %v", err)
		if a.Debug {
			fmt.Fprintln(os.Stderr, goerrors.Wrap(err, 0).ErrorStack())
		}
		os.Exit(1)
	}
}

func run(a args) error {
	level := "warn"
	if a.Debug {
		level = "debug"
	}
	if err := logging.Configure(level, true); err != nil {
		return err
	}
	comma := []rune(a.Delimiter)
	if len(comma) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", a.Delimiter)
	}

	var (
		ds      *data.Dataset
		cleaner *preprocessing.CleanMissingDataModel
		model   *classifier.TrainedClassifierModel
	)

	job := jobs.New("score")
	if a.Progress {
		job.Progress = os.Stderr
	}
	job.Add("load model", func(context.Context) error {
		cleanerDir := filepath.Join(a.Model, "cleaner")
		if _, err := os.Stat(cleanerDir); err == nil {
			if cleaner, err = persistence.LoadCleanMissingData(cleanerDir); err != nil {
				return err
			}
		}
		var err error
		model, err = persistence.LoadTrainedClassifier(filepath.Join(a.Model, "model"))
		return err
	})
	job.Add("load data", func(context.Context) error {
		reader := data.NewCSVReader(a.Data)
		reader.Comma = comma[0]
		var err error
		ds, err = reader.LoadData()
		return err
	})
	job.Add("score", func(context.Context) error {
		var err error
		if cleaner != nil {
			if ds, err = cleaner.Transform(ds); err != nil {
				return err
			}
		}
		if ds, err = model.Transform(ds); err != nil {
			return err
		}
		if a.Decode != "" {
			if model.Levels == nil {
				return fmt.Errorf("model has no label levels to decode with")
			}
			decode := &preprocessing.IndexToValue{InputCol: classifier.ScoredLabelsCol, OutputCol: a.Decode}
			ds, err = decode.Transform(ds)
		}
		return err
	})
	job.Add("write", func(context.Context) error {
		var out io.Writer = os.Stdout
		if a.Output != "" {
			file, err := os.Create(a.Output)
			if err != nil {
				return err
			}
			defer file.Close()
			out = file
		}
		return data.WriteCSV(out, ds)
	})

	if err := job.Run(context.Background()); err != nil {
		return err
	}
	if a.Output != "" {
		color.Green("Scored %d rows into %s", ds.NumRows(), a.Output)
	}
	return nil
}
