package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/alexflint/go-arg"
	"github.com/fatih/color"
	goerrors "github.com/go-errors/errors"

	"mlstages/internal/config"
	"mlstages/internal/data"
	"mlstages/internal/downloader"
	"mlstages/internal/imagefeaturizer"
	"mlstages/internal/jobs"
	"mlstages/internal/logging"
)

const version = "0.3.0"

type args struct {
	Images   string `arg:"positional" help:"directory of png, jpeg or gif images"`
	Output   string `arg:"-o" help:"embeddings csv (default stdout)"`
	Config   string `arg:"-c" help:"yaml configuration file"`
	Model    string `arg:"-m" help:"published model name, resolved through the downloader"`
	Location string `arg:"-l" help:"local network file, used instead of a named model"`
	Cut      int    `arg:"--cut" default:"-1" help:"output layers to discard (default from config)"`
	List     bool   `help:"list published and stored models and exit"`
	Progress bool   `arg:"-p" help:"show a progress bar"`
	Debug    bool   `help:"debug logging and error stack traces"`
}

func (args) Version() string {
	return "featurize " + version
}

func (args) Description() string {
	return "Computes image embeddings with a pretrained network truncated by a number of output layers."
}

func main() {
	var a args
	arg.MustParse(&a)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, a); err != nil {
		color.Red("featurization failed: %v", err)
		if a.Debug {
			fmt.Fprintln(os.Stderr, goerrors.Wrap(err, 0).ErrorStack())
		}
		stop()
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
	if a.Model != "" {
		cfg.Featurizer.Model = a.Model
	}
	if a.Location != "" {
		cfg.Featurizer.ModelLocation = a.Location
	}
	if a.Cut >= 0 {
		cfg.Featurizer.CutOutputLayers = a.Cut
	}
	if a.Debug {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, a args) error {
	cfg, err := loadConfig(a)
	if err != nil {
		return err
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		return err
	}
	d := downloader.New(cfg.Downloader.LocalPath, cfg.Downloader.ServerURL)

	if a.List {
		return listModels(ctx, d, cfg.Downloader.ServerURL != "")
	}
	if a.Images == "" {
		return fmt.Errorf("an image directory is required")
	}

	var (
		images     *data.Dataset
		featurized *data.Dataset
		featurizer *imagefeaturizer.ImageFeaturizer
	)
	job := jobs.New("featurize")
	if a.Progress {
		job.Progress = os.Stderr
	}
	job.Add("resolve model", func(ctx context.Context) error {
		featurizer = cfg.Featurizer.Featurizer()
		switch {
		case cfg.Featurizer.ModelLocation != "":
			return featurizer.SetModelLocation(cfg.Featurizer.ModelLocation)
		case cfg.Featurizer.Model == "":
			return fmt.Errorf("either a model name or a model location is required")
		case cfg.Downloader.ServerURL == "":
			schema, err := d.LocalModel(cfg.Featurizer.Model)
			if err != nil {
				return err
			}
			return featurizer.SetModel(schema)
		default:
			return featurizer.SetModelByName(ctx, d, cfg.Featurizer.Model)
		}
	})
	job.Add("read images", func(context.Context) error {
		var err error
		if images, err = data.ReadImages(a.Images); err != nil {
			return err
		}
		if cfg.Featurizer.InputCol != "image" {
			if images, err = images.Rename("image", cfg.Featurizer.InputCol); err != nil {
				return err
			}
		}
		images = images.WithPartitions(cfg.Data.Partitions)
		return nil
	})
	job.Add("featurize", func(context.Context) error {
		var err error
		if featurized, err = featurizer.Transform(images); err != nil {
			return err
		}
		featurized = featurized.Drop(cfg.Featurizer.InputCol)
		return nil
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
		return data.WriteCSV(out, featurized)
	})

	if err := job.Run(ctx); err != nil {
		return err
	}
	if a.Output != "" {
		color.Green("Wrote %d embeddings from %s (cut %d) to %s",
			featurized.NumRows(), featurizer.Schema.Name, featurizer.CutOutputLayers, a.Output)
	}
	return nil
}

func listModels(ctx context.Context, d *downloader.Downloader, remote bool) error {
	if remote {
		published, err := d.RemoteModels(ctx)
		if err != nil {
			return err
		}
		color.Cyan("Published on %s:", d.ServerURL)
		for _, m := range published {
			fmt.Printf("  %-20s %-12s %d layers\n", m.Name, m.Dataset, m.NumLayers)
		}
	}
	stored, err := d.LocalModels()
	if err != nil {
		return err
	}
	color.Cyan("Stored in %s:", d.LocalPath)
	for _, m := range stored {
		fmt.Printf("  %-20s %s\n", m.Name, m.URI)
	}
	return nil
}
