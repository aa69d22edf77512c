package preprocessing

import (
	"math"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"mlstages/internal/data"
	"mlstages/internal/errs"
	"mlstages/internal/logging"
	"mlstages/internal/pipeline"
)

type CleaningMode string

const (
	Mean   CleaningMode = "Mean"
	Median CleaningMode = "Median"
	Custom CleaningMode = "Custom"
)

func ParseCleaningMode(s string) (CleaningMode, error) {
	switch s {
	case "Mean", "mean", "":
		return Mean, nil
	case "Median", "median":
		return Median, nil
	case "Custom", "custom":
		return Custom, nil
	}
	return "", errors.Errorf("unknown cleaning mode %q", s)
}

// CleanMissingData computes one replacement value per input column.
type CleanMissingData struct {
	UID         string
	InputCols   []string
	OutputCols  []string
	Mode        CleaningMode
	CustomValue string
}

func NewCleanMissingData(inputCols, outputCols []string, mode CleaningMode) *CleanMissingData {
	return &CleanMissingData{
		UID:        pipeline.NewUID("CleanMissingData"),
		InputCols:  inputCols,
		OutputCols: outputCols,
		Mode:       mode,
	}
}

func (c *CleanMissingData) Fit(ds *data.Dataset) (pipeline.Transformer, error) {
	return c.FitModel(ds)
}

func (c *CleanMissingData) FitModel(ds *data.Dataset) (*CleanMissingDataModel, error) {
	log := logging.For("CleanMissingData")

	if len(c.InputCols) != len(c.OutputCols) {
		return nil, errors.Errorf("%d input columns but %d output columns", len(c.InputCols), len(c.OutputCols))
	}

	replacements := make(map[string]any, len(c.InputCols))
	for _, col := range c.InputCols {
		f, err := ds.Field(col)
		if err != nil {
			return nil, err
		}
		switch f.Type {
		case data.Boolean, data.Integer, data.Double, data.String:
		default:
			return nil, &errs.UnsupportedTypeError{Column: col, Type: f.Type.String(), Stage: "CleanMissingData"}
		}

		values, err := ds.Column(col)
		if err != nil {
			return nil, err
		}

		var stat any
		switch c.Mode {
		case Mean, Median:
			if !f.Type.IsNumeric() {
				return nil, &errs.UnsupportedTypeError{Column: col, Type: f.Type.String(), Stage: "CleanMissingData"}
			}
			if c.Mode == Mean {
				stat = meanOf(values, f.Type)
			} else {
				stat = medianOf(values, f.Type)
			}
		case Custom:
			stat, err = parseLiteral(c.CustomValue, f.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "custom value for column %q", col)
			}
		default:
			return nil, errors.Errorf("unknown cleaning mode %q", c.Mode)
		}

		if stat == nil {
			log.Warn().Str("column", col).Msg("column has no usable statistic; it will not be filled")
			continue
		}
		replacements[col] = stat
	}

	log.Debug().Str("mode", string(c.Mode)).Int("columns", len(c.InputCols)).Msg("fitted replacement values")

	return &CleanMissingDataModel{
		UID:          c.UID,
		InputCols:    append([]string(nil), c.InputCols...),
		OutputCols:   append([]string(nil), c.OutputCols...),
		Replacements: replacements,
	}, nil
}

// numericValues holds the present values of a numeric column in ascending
// order: negInf negative infinities, then the sorted finite values, then posInf
// positive infinities. NaN cells count as absent.
type numericValues struct {
	finite         []decimal.Decimal
	negInf, posInf int
}

func collectNumeric(values []any) numericValues {
	var n numericValues
	n.finite = make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		switch x := v.(type) {
		case int64:
			n.finite = append(n.finite, decimal.NewFromInt(x))
		case float64:
			switch {
			case math.IsNaN(x):
			case math.IsInf(x, 1):
				n.posInf++
			case math.IsInf(x, -1):
				n.negInf++
			default:
				n.finite = append(n.finite, decimal.NewFromFloat(x))
			}
		}
	}
	sort.Slice(n.finite, func(i, j int) bool { return n.finite[i].LessThan(n.finite[j]) })
	return n
}

func (n numericValues) count() int {
	return n.negInf + len(n.finite) + n.posInf
}

// at returns the i-th value in ascending order. sign is -1 or 1 when the value
// is an infinity and 0 otherwise.
func (n numericValues) at(i int) (d decimal.Decimal, sign int) {
	if i < n.negInf {
		return decimal.Zero, -1
	}
	i -= n.negInf
	if i < len(n.finite) {
		return n.finite[i], 0
	}
	return decimal.Zero, 1
}

// nativeValue converts a statistic back to the column's type, truncating toward
// zero for Integer columns.
func nativeValue(d decimal.Decimal, t data.DataType) any {
	if t == data.Integer {
		return d.Truncate(0).IntPart()
	}
	f, _ := d.Float64()
	return f
}

// meanOf returns nil when the column has no present values or holds
// infinities of both signs.
func meanOf(values []any, t data.DataType) any {
	nums := collectNumeric(values)
	switch {
	case nums.count() == 0, nums.posInf > 0 && nums.negInf > 0:
		return nil
	case nums.posInf > 0:
		return math.Inf(1)
	case nums.negInf > 0:
		return math.Inf(-1)
	}
	sum := decimal.Zero
	for _, n := range nums.finite {
		sum = sum.Add(n)
	}
	return nativeValue(sum.Div(decimal.NewFromInt(int64(len(nums.finite)))), t)
}

func medianOf(values []any, t data.DataType) any {
	nums := collectNumeric(values)
	n := nums.count()
	if n == 0 {
		return nil
	}

	mid := n / 2
	if n%2 == 1 {
		d, sign := nums.at(mid)
		if sign != 0 {
			return math.Inf(sign)
		}
		return nativeValue(d, t)
	}
	lo, loSign := nums.at(mid - 1)
	hi, hiSign := nums.at(mid)
	switch {
	case loSign != 0 && hiSign != 0 && loSign != hiSign:
		return nil
	case loSign != 0:
		return math.Inf(loSign)
	case hiSign != 0:
		return math.Inf(hiSign)
	}
	return nativeValue(lo.Add(hi).Div(decimal.NewFromInt(2)), t)
}

func parseLiteral(s string, t data.DataType) (any, error) {
	switch t {
	case data.Integer:
		return strconv.ParseInt(s, 10, 64)
	case data.Double:
		return strconv.ParseFloat(s, 64)
	case data.Boolean:
		return strconv.ParseBool(s)
	case data.String:
		return s, nil
	}
	return nil, errors.Errorf("cannot parse literal as %s", t)
}

// CleanMissingDataModel fills absent and NaN cells with the fitted replacement
// values.
type CleanMissingDataModel struct {
	UID          string
	InputCols    []string
	OutputCols   []string
	Replacements map[string]any
}

func (m *CleanMissingDataModel) Transform(ds *data.Dataset) (*data.Dataset, error) {
	out := ds
	for i, in := range m.InputCols {
		f, err := ds.Field(in)
		if err != nil {
			return nil, err
		}
		src, err := ds.Column(in)
		if err != nil {
			return nil, err
		}

		fill, ok := m.Replacements[in]
		if ok && !data.CheckValue(f.Type, fill) {
			return nil, errors.Errorf("column %q is %s but its replacement value is %T", in, f.Type, fill)
		}

		filled := make([]any, len(src))
		err = ds.ForEachPartition(func(p data.Partition) error {
			for r := p.Start; r < p.End; r++ {
				if ok && data.IsMissing(src[r]) {
					filled[r] = fill
				} else {
					filled[r] = src[r]
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		out, err = out.WithColumn(data.Field{Name: m.OutputCols[i], Type: f.Type, Metadata: f.Metadata}, filled)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
