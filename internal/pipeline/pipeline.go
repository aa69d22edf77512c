// Package pipeline defines the fit/transform contract shared by every stage and
// chains stages into pipelines.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"mlstages/internal/data"
)

// Transformer maps a dataset to a new dataset.
type Transformer interface {
	Transform(ds *data.Dataset) (*data.Dataset, error)
}

// Estimator learns a Transformer from a dataset.
type Estimator interface {
	Fit(ds *data.Dataset) (Transformer, error)
}

// NewUID returns a stage identifier of the form <prefix>_<12 hex digits>.
func NewUID(prefix string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s_%s", prefix, id[:12])
}

// Pipeline is an ordered list of stages, each an Estimator or a Transformer.
type Pipeline struct {
	Stages []any
}

func New(stages ...any) *Pipeline {
	return &Pipeline{Stages: stages}
}

// Fit fits every Estimator on the output of the stages before it. Data is only
// transformed when a later Estimator needs it, so a pipeline of already fitted
// Transformers performs no computation.
func (p *Pipeline) Fit(ds *data.Dataset) (*Model, error) {
	lastEstimator := -1
	for i, s := range p.Stages {
		switch s.(type) {
		case Estimator:
			lastEstimator = i
		case Transformer:
		default:
			return nil, errors.Errorf("stage %d (%T) is neither an Estimator nor a Transformer", i, s)
		}
	}

	current := ds
	fitted := make([]Transformer, len(p.Stages))
	for i, s := range p.Stages {
		var t Transformer
		if est, ok := s.(Estimator); ok {
			var err error
			t, err = est.Fit(current)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to fit stage %d", i)
			}
		} else {
			t = s.(Transformer)
		}
		fitted[i] = t

		if i < lastEstimator {
			var err error
			current, err = t.Transform(current)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to transform at stage %d", i)
			}
		}
	}

	return &Model{Stages: fitted}, nil
}

// Model is a fitted pipeline.
type Model struct {
	Stages []Transformer
}

func (m *Model) Transform(ds *data.Dataset) (*data.Dataset, error) {
	current := ds
	for i, s := range m.Stages {
		var err error
		current, err = s.Transform(current)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to transform at stage %d", i)
		}
	}
	return current, nil
}
