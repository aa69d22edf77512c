// Package persistence stores fitted stages as a directory: a YAML metadata
// file, gob-encoded stages, optional gob-encoded levels and a one-row CSV
// record of the stage's column bindings.
package persistence

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"mlstages/internal/classifier"
	"mlstages/internal/data"
	"mlstages/internal/models"
	"mlstages/internal/pipeline"
	"mlstages/internal/preprocessing"
)

const FormatVersion = 1

const (
	metadataFile = "metadata/metadata.yaml"
	stagesFile   = "model/stages.gob"
	levelsFile   = "levels/levels.gob"
	recordFile   = "data/record.csv"
)

const (
	TrainedClassifierClass = "TrainedClassifierModel"
	CleanMissingDataClass  = "CleanMissingDataModel"
)

type BundleMetadata struct {
	Class         string    `yaml:"class"`
	UID           string    `yaml:"uid"`
	FormatVersion int       `yaml:"format_version"`
	CreatedAt     time.Time `yaml:"created_at"`
	Stages        []string  `yaml:"stages,omitempty"`
}

func init() {
	gob.Register(&preprocessing.FeaturizeModel{})
	gob.Register(&preprocessing.CleanMissingDataModel{})
	gob.Register(&preprocessing.ValueIndexerModel{})
	gob.Register(&models.LogisticRegressionModel{})
	gob.Register(&models.OneVsRestModel{})
	gob.Register(&models.DecisionTreeModel{})
	gob.Register(&models.RandomForestModel{})
	gob.Register(&models.GBTModel{})
	gob.Register(&models.MLPModel{})
	gob.Register(&models.KNNModel{})
	gob.Register(&models.NaiveBayesModel{})
}

func SaveTrainedClassifier(dir string, m *classifier.TrainedClassifierModel, overwrite bool) error {
	if m.Pipeline == nil {
		return errors.New("trained classifier has no pipeline")
	}
	if err := prepareDir(dir, overwrite); err != nil {
		return err
	}

	meta := BundleMetadata{
		Class:         TrainedClassifierClass,
		UID:           m.UID,
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now().UTC(),
	}
	for _, s := range m.Pipeline.Stages {
		meta.Stages = append(meta.Stages, stageName(s))
	}
	if err := writeYAML(filepath.Join(dir, metadataFile), meta); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(dir, stagesFile), m.Pipeline); err != nil {
		return err
	}
	if m.Levels != nil {
		if err := writeGob(filepath.Join(dir, levelsFile), m.Levels); err != nil {
			return err
		}
	}
	return writeRecord(filepath.Join(dir, recordFile),
		[]string{"uid", "label_col", "features_col"},
		[][]string{{m.UID, m.LabelCol, m.FeaturesCol}})
}

func LoadTrainedClassifier(dir string) (*classifier.TrainedClassifierModel, error) {
	meta, err := readMetadata(dir, TrainedClassifierClass)
	if err != nil {
		return nil, err
	}

	var pm pipeline.Model
	if err := readGob(filepath.Join(dir, stagesFile), &pm); err != nil {
		return nil, err
	}
	if len(pm.Stages) != 2 {
		return nil, errors.Errorf("expected a two-stage pipeline, found %d stages", len(pm.Stages))
	}

	var levels *data.Levels
	levelsPath := filepath.Join(dir, levelsFile)
	if _, err := os.Stat(levelsPath); err == nil {
		levels = &data.Levels{}
		if err := readGob(levelsPath, levels); err != nil {
			return nil, err
		}
	}

	rows, err := readRecord(filepath.Join(dir, recordFile), []string{"uid", "label_col", "features_col"})
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, errors.Errorf("record must have exactly one row, found %d", len(rows))
	}
	if rows[0][0] != meta.UID {
		return nil, errors.Errorf("record uid %q does not match metadata uid %q", rows[0][0], meta.UID)
	}

	return &classifier.TrainedClassifierModel{
		UID:         meta.UID,
		LabelCol:    rows[0][1],
		FeaturesCol: rows[0][2],
		Levels:      levels,
		Pipeline:    &pm,
	}, nil
}

func SaveCleanMissingData(dir string, m *preprocessing.CleanMissingDataModel, overwrite bool) error {
	if len(m.InputCols) != len(m.OutputCols) {
		return errors.Errorf("%d input columns but %d output columns", len(m.InputCols), len(m.OutputCols))
	}
	if err := prepareDir(dir, overwrite); err != nil {
		return err
	}

	meta := BundleMetadata{
		Class:         CleanMissingDataClass,
		UID:           m.UID,
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now().UTC(),
		Stages:        []string{stageName(m)},
	}
	if err := writeYAML(filepath.Join(dir, metadataFile), meta); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(dir, stagesFile), m.Replacements); err != nil {
		return err
	}

	rows := make([][]string, len(m.InputCols))
	for i := range m.InputCols {
		rows[i] = []string{m.UID, m.InputCols[i], m.OutputCols[i]}
	}
	return writeRecord(filepath.Join(dir, recordFile), []string{"uid", "input_col", "output_col"}, rows)
}

func LoadCleanMissingData(dir string) (*preprocessing.CleanMissingDataModel, error) {
	meta, err := readMetadata(dir, CleanMissingDataClass)
	if err != nil {
		return nil, err
	}

	replacements := map[string]any{}
	if err := readGob(filepath.Join(dir, stagesFile), &replacements); err != nil {
		return nil, err
	}

	rows, err := readRecord(filepath.Join(dir, recordFile), []string{"uid", "input_col", "output_col"})
	if err != nil {
		return nil, err
	}
	m := &preprocessing.CleanMissingDataModel{UID: meta.UID, Replacements: replacements}
	for _, row := range rows {
		m.InputCols = append(m.InputCols, row[1])
		m.OutputCols = append(m.OutputCols, row[2])
	}
	return m, nil
}

func stageName(s any) string {
	switch s.(type) {
	case *preprocessing.FeaturizeModel:
		return "Featurize"
	case *preprocessing.CleanMissingDataModel:
		return "CleanMissingData"
	case *models.LogisticRegressionModel:
		return "LogisticRegression"
	case *models.OneVsRestModel:
		return "OneVsRest"
	case *models.DecisionTreeModel:
		return "DecisionTree"
	case *models.RandomForestModel:
		return "RandomForest"
	case *models.GBTModel:
		return "GradientBoostedTrees"
	case *models.MLPModel:
		return "MultilayerPerceptron"
	case *models.KNNModel:
		return "KNN"
	case *models.NaiveBayesModel:
		return "NaiveBayes"
	}
	return "unknown"
}

func readMetadata(dir, class string) (*BundleMetadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read metadata")
	}
	var meta BundleMetadata
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return nil, errors.Wrap(err, "failed to parse metadata")
	}
	if meta.Class != class {
		return nil, errors.Errorf("directory holds a %s, not a %s", meta.Class, class)
	}
	if meta.FormatVersion != FormatVersion {
		return nil, errors.Errorf("unsupported format version %d", meta.FormatVersion)
	}
	return &meta, nil
}
