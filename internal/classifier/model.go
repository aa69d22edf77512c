package classifier

import (
	"github.com/pkg/errors"

	"mlstages/internal/data"
	"mlstages/internal/models"
	"mlstages/internal/pipeline"
	"mlstages/internal/preprocessing"
)

// Standardized scoring column names.
const (
	ScoredLabelsCol        = "scored_labels"
	ScoredProbabilitiesCol = "scored_probabilities"
	ScoresCol              = "scores"
)

// Values of the score_value_kind metadata entry.
const (
	ScoredLabelsKind        = "ScoredLabels"
	ScoredProbabilitiesKind = "ScoredProbabilities"
	ScoresKind              = "Scores"
	ClassificationKind      = "classification"
)

type scoreRename struct {
	from, to, kind string
}

// TrainedClassifierModel is a fitted featurization followed by a fitted
// algorithm. Levels is nil when label indexing was off.
type TrainedClassifierModel struct {
	UID         string
	LabelCol    string
	FeaturesCol string
	Levels      *data.Levels
	Pipeline    *pipeline.Model
}

// HasScoreColumns reports whether the fitted algorithm writes probability and
// raw score columns.
func (m *TrainedClassifierModel) HasScoreColumns() bool {
	if m.Pipeline == nil || len(m.Pipeline.Stages) == 0 {
		return false
	}
	last, ok := m.Pipeline.Stages[len(m.Pipeline.Stages)-1].(models.ScoringModel)
	return ok && last.HasScoreColumns()
}

func (m *TrainedClassifierModel) Transform(ds *data.Dataset) (*data.Dataset, error) {
	if m.Pipeline == nil {
		return nil, errors.New("trained classifier has no pipeline")
	}
	scored, err := m.Pipeline.Transform(ds)
	if err != nil {
		return nil, err
	}
	scored = scored.Drop(m.FeaturesCol)

	renames := []scoreRename{{models.PredictionCol, ScoredLabelsCol, ScoredLabelsKind}}
	if m.HasScoreColumns() {
		renames = append(renames,
			scoreRename{models.ProbabilityCol, ScoredProbabilitiesCol, ScoredProbabilitiesKind},
			scoreRename{models.RawPredictionCol, ScoresCol, ScoresKind},
		)
	}
	for _, r := range renames {
		if scored, err = scored.Rename(r.from, r.to); err != nil {
			return nil, errors.Wrapf(err, "failed to rename %s", r.from)
		}
		if scored, err = scored.WithMetadata(r.to, data.ScoreModelKey, m.scoreMetadata(r.kind)); err != nil {
			return nil, err
		}
	}

	if m.Levels != nil {
		if scored, err = preprocessing.SetLevels(scored, ScoredLabelsCol, m.Levels); err != nil {
			return nil, err
		}
		if scored.HasColumn(m.LabelCol) {
			if scored, err = preprocessing.SetLevels(scored, m.LabelCol, m.Levels); err != nil {
				return nil, err
			}
		}
	}
	return scored, nil
}

func (m *TrainedClassifierModel) scoreMetadata(kind string) data.Metadata {
	return data.Metadata{
		"module_name":      m.UID,
		"score_value_kind": kind,
		"model_kind":       ClassificationKind,
	}
}
