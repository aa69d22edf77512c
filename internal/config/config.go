// Package config loads the YAML run configuration shared by the command line
// tools and turns its sections into configured stages.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"mlstages/internal/classifier"
	"mlstages/internal/data"
	"mlstages/internal/experiment"
	"mlstages/internal/imagefeaturizer"
	"mlstages/internal/models"
	"mlstages/internal/preprocessing"
)

type Config struct {
	Data       DataConfig       `yaml:"data"`
	Clean      CleanConfig      `yaml:"clean"`
	Train      TrainConfig      `yaml:"train"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Featurizer FeaturizerConfig `yaml:"featurizer"`
	Downloader DownloaderConfig `yaml:"downloader"`
	Log        LogConfig        `yaml:"log"`
}

type DataConfig struct {
	Delimiter  string `yaml:"delimiter"`
	Partitions int    `yaml:"partitions"`
}

type CleanConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"`
	// Columns defaults to every boolean, numeric or string column except the
	// label.
	Columns     []string `yaml:"columns"`
	CustomValue string   `yaml:"custom_value"`
}

type TrainConfig struct {
	LabelCol    string             `yaml:"label_col"`
	IndexLabel  *bool              `yaml:"index_label"`
	NumFeatures int                `yaml:"num_features"`
	Model       models.ModelConfig `yaml:"model"`
}

type EvaluationConfig struct {
	TestSize   float64 `yaml:"test_size"`
	Stratified bool    `yaml:"stratified"`
	Folds      int     `yaml:"folds"`
	Seed       int64   `yaml:"seed"`
}

// ExperimentConfig lists algorithm configurations to compare against each
// other. Unset parameters take each algorithm's defaults.
type ExperimentConfig struct {
	Algorithms []models.ModelConfig `yaml:"algorithms"`
}

type FeaturizerConfig struct {
	InputCol        string `yaml:"input_col"`
	OutputCol       string `yaml:"output_col"`
	Model           string `yaml:"model"`
	ModelLocation   string `yaml:"model_location"`
	CutOutputLayers int    `yaml:"cut_output_layers"`
	DropNA          *bool  `yaml:"drop_na"`
}

type DownloaderConfig struct {
	LocalPath string `yaml:"local_path"`
	ServerURL string `yaml:"server_url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	c := &Config{}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Data.Delimiter == "" {
		c.Data.Delimiter = ","
	}
	if c.Data.Partitions == 0 {
		c.Data.Partitions = 4
	}
	if c.Clean.Mode == "" {
		c.Clean.Mode = string(preprocessing.Mean)
	}
	if c.Train.LabelCol == "" {
		c.Train.LabelCol = models.DefaultLabelCol
	}
	if c.Train.IndexLabel == nil {
		c.Train.IndexLabel = boolPtr(true)
	}
	if c.Train.Model.Algorithm == "" {
		c.Train.Model.Algorithm = "logistic"
	}
	c.Train.Model = withModelDefaults(c.Train.Model)
	for i := range c.Experiment.Algorithms {
		c.Experiment.Algorithms[i] = withModelDefaults(c.Experiment.Algorithms[i])
	}
	if c.Evaluation.TestSize == 0 {
		c.Evaluation.TestSize = 0.2
	}
	if c.Evaluation.Seed == 0 {
		c.Evaluation.Seed = 42
	}
	if c.Featurizer.InputCol == "" {
		c.Featurizer.InputCol = "image"
	}
	if c.Featurizer.OutputCol == "" {
		c.Featurizer.OutputCol = "features"
	}
	if c.Featurizer.DropNA == nil {
		c.Featurizer.DropNA = boolPtr(true)
	}
	if c.Downloader.LocalPath == "" {
		c.Downloader.LocalPath = "models"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// withModelDefaults fills the zero parameters of m from the algorithm's
// defaults.
func withModelDefaults(m models.ModelConfig) models.ModelConfig {
	d := models.DefaultConfig(m.Algorithm)
	if m.MaxIter == 0 {
		m.MaxIter = d.MaxIter
	}
	if m.StepSize == 0 {
		m.StepSize = d.StepSize
	}
	if m.MaxDepth == 0 {
		m.MaxDepth = d.MaxDepth
	}
	if m.MinSplit == 0 {
		m.MinSplit = d.MinSplit
	}
	if m.NTrees == 0 {
		m.NTrees = d.NTrees
	}
	if m.K == 0 {
		m.K = d.K
	}
	if m.Distance == "" {
		m.Distance = d.Distance
	}
	if m.VarSmoothing == 0 {
		m.VarSmoothing = d.VarSmoothing
	}
	return m
}

func (c *Config) Validate() error {
	if len([]rune(c.Data.Delimiter)) != 1 {
		return errors.Errorf("delimiter must be a single character, got %q", c.Data.Delimiter)
	}
	if _, err := preprocessing.ParseCleaningMode(c.Clean.Mode); err != nil {
		return err
	}
	if c.Evaluation.TestSize <= 0 || c.Evaluation.TestSize >= 1 {
		return errors.Errorf("test_size must be between 0 and 1, got %v", c.Evaluation.TestSize)
	}
	if c.Evaluation.Folds == 1 || c.Evaluation.Folds < 0 {
		return errors.Errorf("folds must be 0 or at least 2, got %d", c.Evaluation.Folds)
	}
	if c.Featurizer.CutOutputLayers < 0 {
		return errors.Errorf("cut_output_layers must not be negative, got %d", c.Featurizer.CutOutputLayers)
	}
	if _, err := models.CreateClassifier(c.Train.Model); err != nil {
		return err
	}
	for _, m := range c.Experiment.Algorithms {
		if _, err := models.CreateClassifier(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Comma() rune {
	return []rune(c.Data.Delimiter)[0]
}

// Cleaner builds the missing-data cleaner for ds, replacing values in place.
func (c CleanConfig) Cleaner(ds *data.Dataset, labelCol string) (*preprocessing.CleanMissingData, error) {
	mode, err := preprocessing.ParseCleaningMode(c.Mode)
	if err != nil {
		return nil, err
	}
	cols := c.Columns
	if len(cols) == 0 {
		for _, f := range ds.Schema() {
			switch f.Type {
			case data.Boolean, data.Integer, data.Double, data.String:
				if f.Name != labelCol {
					cols = append(cols, f.Name)
				}
			}
		}
	}
	cleaner := preprocessing.NewCleanMissingData(cols, append([]string(nil), cols...), mode)
	cleaner.CustomValue = c.CustomValue
	return cleaner, nil
}

// Trainer builds a trainer with a freshly created algorithm.
func (c TrainConfig) Trainer() (*classifier.TrainClassifier, error) {
	algorithm, err := models.CreateClassifier(c.Model)
	if err != nil {
		return nil, err
	}
	tc := classifier.NewTrainClassifier(c.LabelCol, algorithm)
	tc.NumFeatures = c.NumFeatures
	if c.IndexLabel != nil {
		tc.IndexLabel = *c.IndexLabel
	}
	return tc, nil
}

// Featurizer builds an image featurizer without a model; the caller resolves
// the model by name or location.
func (c FeaturizerConfig) Featurizer() *imagefeaturizer.ImageFeaturizer {
	f := imagefeaturizer.New(c.InputCol, c.OutputCol)
	f.CutOutputLayers = c.CutOutputLayers
	if c.DropNA != nil {
		f.DropNA = *c.DropNA
	}
	return f
}

// Runner builds the algorithm comparison for the train and evaluation
// sections.
func (c *Config) Runner() *experiment.Runner {
	return &experiment.Runner{
		LabelCol:    c.Train.LabelCol,
		NumFeatures: c.Train.NumFeatures,
		IndexLabel:  *c.Train.IndexLabel,
		TestSize:    c.Evaluation.TestSize,
		Stratified:  c.Evaluation.Stratified,
		Folds:       c.Evaluation.Folds,
		Seed:        c.Evaluation.Seed,
	}
}

func boolPtr(b bool) *bool { return &b }
