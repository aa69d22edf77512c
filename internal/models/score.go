package models

import (
	"math"

	"github.com/pkg/errors"

	"mlstages/internal/data"
)

// scorer maps one feature vector to raw scores, class probabilities and the
// predicted class index. Implementations without score columns may return
// nil raw and probability slices.
type scorer interface {
	scoreRow(x []float64) (raw, prob []float64, pred int, err error)
}

// trainingSet is the dense view of a labeled dataset that algorithms fit on.
type trainingSet struct {
	X          [][]float64
	y          []int
	numClasses int
	numFeat    int
}

// extractTraining reads the features and label columns. Rows where either is
// absent are skipped. Labels must be non-negative whole numbers; when the
// label column carries levels their count fixes the number of classes.
func extractTraining(ds *data.Dataset, featuresCol, labelCol string) (*trainingSet, error) {
	feats, err := ds.Column(featuresCol)
	if err != nil {
		return nil, err
	}
	labels, err := ds.Column(labelCol)
	if err != nil {
		return nil, err
	}

	ts := &trainingSet{}
	maxLabel := -1
	for r := range feats {
		x, ok := feats[r].([]float64)
		if !ok || labels[r] == nil {
			continue
		}
		var lf float64
		switch v := labels[r].(type) {
		case int64:
			lf = float64(v)
		case float64:
			lf = v
		default:
			return nil, errors.Errorf("label column %q must hold numeric class indices, got %T", labelCol, labels[r])
		}
		if lf < 0 || lf != math.Trunc(lf) {
			return nil, errors.Errorf("label %v in column %q is not a class index", lf, labelCol)
		}
		if ts.numFeat == 0 {
			ts.numFeat = len(x)
		} else if len(x) != ts.numFeat {
			return nil, errors.Errorf("row %d has %d features, expected %d", r, len(x), ts.numFeat)
		}
		label := int(lf)
		if label > maxLabel {
			maxLabel = label
		}
		ts.X = append(ts.X, x)
		ts.y = append(ts.y, label)
	}

	if len(ts.X) == 0 {
		return nil, errors.New("no labeled rows to train on")
	}

	ts.numClasses = maxLabel + 1
	field, _ := ds.Field(labelCol)
	if levels, ok := field.Metadata[data.LevelsKey].(*data.Levels); ok && levels.Len() > ts.numClasses {
		ts.numClasses = levels.Len()
	}
	if ts.numClasses < 2 {
		ts.numClasses = 2
	}
	return ts, nil
}

// scoreDataset appends the prediction column, and the probability and raw
// prediction columns when withScores is set.
func scoreDataset(ds *data.Dataset, featuresCol string, withScores bool, s scorer) (*data.Dataset, error) {
	feats, err := ds.Column(featuresCol)
	if err != nil {
		return nil, err
	}

	n := ds.NumRows()
	preds := make([]any, n)
	var probs, raws []any
	if withScores {
		probs = make([]any, n)
		raws = make([]any, n)
	}

	err = ds.ForEachPartition(func(p data.Partition) error {
		for r := p.Start; r < p.End; r++ {
			x, ok := feats[r].([]float64)
			if !ok {
				continue
			}
			raw, prob, pred, err := s.scoreRow(x)
			if err != nil {
				return errors.Wrapf(err, "row %d", r)
			}
			preds[r] = float64(pred)
			if withScores {
				raws[r] = raw
				probs[r] = prob
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out, err := ds.WithColumn(data.Field{Name: PredictionCol, Type: data.Double}, preds)
	if err != nil {
		return nil, err
	}
	if !withScores {
		return out, nil
	}
	if out, err = out.WithColumn(data.Field{Name: ProbabilityCol, Type: data.Vector}, probs); err != nil {
		return nil, err
	}
	return out.WithColumn(data.Field{Name: RawPredictionCol, Type: data.Vector}, raws)
}

func softmax(z []float64) []float64 {
	maxZ := math.Inf(-1)
	for _, v := range z {
		if v > maxZ {
			maxZ = v
		}
	}
	out := make([]float64, len(z))
	sum := 0.0
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		for i := range out {
			out[i] = 1 / float64(len(v))
		}
		return out
	}
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}
