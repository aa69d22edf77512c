// Package evaluation scores trained classifiers against held-out data.
package evaluation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"mlstages/internal/data"
	"mlstages/internal/preprocessing"
)

type ClassificationMetrics struct {
	Accuracy          float64              `json:"accuracy" yaml:"accuracy"`
	BalancedAccuracy  float64              `json:"balanced_accuracy" yaml:"balanced_accuracy"`
	MacroPrecision    float64              `json:"macro_precision" yaml:"macro_precision"`
	MacroRecall       float64              `json:"macro_recall" yaml:"macro_recall"`
	MacroF1           float64              `json:"macro_f1" yaml:"macro_f1"`
	WeightedPrecision float64              `json:"weighted_precision" yaml:"weighted_precision"`
	WeightedRecall    float64              `json:"weighted_recall" yaml:"weighted_recall"`
	WeightedF1        float64              `json:"weighted_f1" yaml:"weighted_f1"`
	PerClass          map[int]ClassMetrics `json:"per_class" yaml:"per_class"`
	ConfusionMatrix   [][]int              `json:"confusion_matrix" yaml:"confusion_matrix"`
	Classes           []int                `json:"classes" yaml:"classes"`
	NumSamples        int                  `json:"num_samples" yaml:"num_samples"`
}

type ClassMetrics struct {
	Precision   float64 `json:"precision" yaml:"precision"`
	Recall      float64 `json:"recall" yaml:"recall"`
	F1Score     float64 `json:"f1_score" yaml:"f1_score"`
	Specificity float64 `json:"specificity" yaml:"specificity"`
	Support     int     `json:"support" yaml:"support"`
}

// CalculateMetrics compares true and predicted class indices over the given
// classes. Pairs involving a class outside classes only count toward accuracy.
func CalculateMetrics(yTrue, yPred []int, classes []int) (*ClassificationMetrics, error) {
	if len(yTrue) != len(yPred) {
		return nil, errors.Errorf("%d true labels but %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 || len(classes) == 0 {
		return nil, errors.New("nothing to evaluate")
	}

	confusion := buildConfusionMatrix(yTrue, yPred, classes)
	support := make(map[int]int)
	for _, c := range yTrue {
		support[c]++
	}

	m := &ClassificationMetrics{
		PerClass:        make(map[int]ClassMetrics, len(classes)),
		ConfusionMatrix: confusion,
		Classes:         classes,
		NumSamples:      len(yTrue),
	}
	total := 0
	for i, class := range classes {
		tp := confusion[i][i]
		var fp, fn, tn int
		for j := range classes {
			for k := range classes {
				switch {
				case j == i && k != i:
					fn += confusion[j][k]
				case j != i && k == i:
					fp += confusion[j][k]
				case j != i && k != i:
					tn += confusion[j][k]
				}
			}
		}

		precision := safeDivide(float64(tp), float64(tp+fp))
		recall := safeDivide(float64(tp), float64(tp+fn))
		cm := ClassMetrics{
			Precision:   precision,
			Recall:      recall,
			F1Score:     safeDivide(2*precision*recall, precision+recall),
			Specificity: safeDivide(float64(tn), float64(tn+fp)),
			Support:     support[class],
		}
		m.PerClass[class] = cm

		m.MacroPrecision += cm.Precision
		m.MacroRecall += cm.Recall
		m.MacroF1 += cm.F1Score
		w := float64(cm.Support)
		m.WeightedPrecision += cm.Precision * w
		m.WeightedRecall += cm.Recall * w
		m.WeightedF1 += cm.F1Score * w
		total += cm.Support
	}

	n := float64(len(classes))
	m.MacroPrecision /= n
	m.MacroRecall /= n
	m.MacroF1 /= n
	m.BalancedAccuracy = m.MacroRecall
	m.WeightedPrecision = safeDivide(m.WeightedPrecision, float64(total))
	m.WeightedRecall = safeDivide(m.WeightedRecall, float64(total))
	m.WeightedF1 = safeDivide(m.WeightedF1, float64(total))

	correct := 0
	for i := range yPred {
		if yPred[i] == yTrue[i] {
			correct++
		}
	}
	m.Accuracy = float64(correct) / float64(len(yTrue))
	return m, nil
}

// Evaluate reads the true label and predicted index columns of a scored
// dataset. A label column carrying levels is mapped through them, so it may
// hold the original values or their indices. Rows with an absent or NaN label
// are skipped.
func Evaluate(scored *data.Dataset, labelCol, predictionCol string) (*ClassificationMetrics, error) {
	labels, err := scored.Column(labelCol)
	if err != nil {
		return nil, err
	}
	preds, err := scored.Column(predictionCol)
	if err != nil {
		return nil, err
	}
	levels, _ := preprocessing.GetLevels(scored, labelCol)

	var yTrue, yPred []int
	seen := map[int]bool{}
	for i, v := range labels {
		if data.IsMissing(v) || data.IsMissing(preds[i]) {
			continue
		}
		t, err := classIndex(v, levels)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		p, err := classIndex(preds[i], nil)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		yTrue = append(yTrue, t)
		yPred = append(yPred, p)
		seen[t], seen[p] = true, true
	}

	var classes []int
	if levels != nil {
		for c := 0; c < levels.Len(); c++ {
			classes = append(classes, c)
		}
	} else {
		for c := range seen {
			classes = append(classes, c)
		}
		sort.Ints(classes)
	}
	return CalculateMetrics(yTrue, yPred, classes)
}

func classIndex(v any, levels *data.Levels) (int, error) {
	if levels != nil {
		if idx := levels.Index(v); idx >= 0 {
			return idx, nil
		}
	}
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && x >= 0 {
			return int(x), nil
		}
	case int64:
		if x >= 0 {
			return int(x), nil
		}
	}
	return 0, errors.Errorf("value %v is not a class", v)
}

func buildConfusionMatrix(yTrue, yPred []int, classes []int) [][]int {
	matrix := make([][]int, len(classes))
	for i := range matrix {
		matrix[i] = make([]int, len(classes))
	}
	classToIdx := make(map[int]int, len(classes))
	for i, class := range classes {
		classToIdx[class] = i
	}
	for i := range yTrue {
		t, tok := classToIdx[yTrue[i]]
		p, pok := classToIdx[yPred[i]]
		if tok && pok {
			matrix[t][p]++
		}
	}
	return matrix
}

func safeDivide(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	result := numerator / denominator
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0
	}
	return result
}

// Format renders the summary and, when names are given, a per-class table
// keyed by the level values.
func (m *ClassificationMetrics) Format(names *data.Levels) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Accuracy: %.4f\n", m.Accuracy)
	fmt.Fprintf(&b, "Balanced Accuracy: %.4f\n", m.BalancedAccuracy)
	fmt.Fprintf(&b, "Macro Avg - Precision: %.4f, Recall: %.4f, F1: %.4f\n",
		m.MacroPrecision, m.MacroRecall, m.MacroF1)
	fmt.Fprintf(&b, "Weighted Avg - Precision: %.4f, Recall: %.4f, F1: %.4f\n",
		m.WeightedPrecision, m.WeightedRecall, m.WeightedF1)
	for _, c := range m.Classes {
		name := fmt.Sprint(c)
		if names != nil && c < names.Len() {
			name = data.FormatValue(names.Values[c])
		}
		cm := m.PerClass[c]
		fmt.Fprintf(&b, "  %-12s P=%.3f R=%.3f F1=%.3f n=%d\n", name, cm.Precision, cm.Recall, cm.F1Score, cm.Support)
	}
	return b.String()
}
