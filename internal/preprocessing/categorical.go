package preprocessing

import (
	"fmt"

	"github.com/pkg/errors"

	"mlstages/internal/data"
	"mlstages/internal/pipeline"
)

// IsCategorical reports whether the column carries category levels.
func IsCategorical(ds *data.Dataset, col string) bool {
	_, ok := GetLevels(ds, col)
	return ok
}

// GetLevels reads the levels attached to a column, if any.
func GetLevels(ds *data.Dataset, col string) (*data.Levels, bool) {
	f, err := ds.Field(col)
	if err != nil {
		return nil, false
	}
	levels, ok := f.Metadata[data.LevelsKey].(*data.Levels)
	return levels, ok && levels != nil
}

func SetLevels(ds *data.Dataset, col string, levels *data.Levels) (*data.Dataset, error) {
	return ds.WithMetadata(col, data.LevelsKey, levels)
}

// ValueIndexer maps the distinct values of a column to zero-based indices in
// ascending value order.
type ValueIndexer struct {
	UID       string
	InputCol  string
	OutputCol string
}

func NewValueIndexer(inputCol, outputCol string) *ValueIndexer {
	return &ValueIndexer{
		UID:       pipeline.NewUID("ValueIndexer"),
		InputCol:  inputCol,
		OutputCol: outputCol,
	}
}

func (vi *ValueIndexer) Fit(ds *data.Dataset) (pipeline.Transformer, error) {
	return vi.FitModel(ds)
}

func (vi *ValueIndexer) FitModel(ds *data.Dataset) (*ValueIndexerModel, error) {
	f, err := ds.Field(vi.InputCol)
	if err != nil {
		return nil, err
	}
	values, err := ds.Distinct(vi.InputCol)
	if err != nil {
		return nil, err
	}
	return &ValueIndexerModel{
		UID:       vi.UID,
		InputCol:  vi.InputCol,
		OutputCol: vi.OutputCol,
		Levels:    &data.Levels{Type: f.Type, Values: values},
	}, nil
}

type ValueIndexerModel struct {
	UID       string
	InputCol  string
	OutputCol string
	Levels    *data.Levels
}

// Transform writes Integer indices with the levels attached. Values not seen
// at fit time become absent.
func (m *ValueIndexerModel) Transform(ds *data.Dataset) (*data.Dataset, error) {
	src, err := ds.Column(m.InputCol)
	if err != nil {
		return nil, err
	}

	lookup := make(map[any]int64, m.Levels.Len())
	for i, v := range m.Levels.Values {
		lookup[v] = int64(i)
	}

	out := make([]any, len(src))
	for i, v := range src {
		if data.IsMissing(v) {
			continue
		}
		if idx, ok := lookup[v]; ok {
			out[i] = idx
		}
	}

	indexed, err := ds.WithColumn(data.Field{Name: m.OutputCol, Type: data.Integer}, out)
	if err != nil {
		return nil, err
	}
	return SetLevels(indexed, m.OutputCol, m.Levels)
}

// IndexToValue maps an indexed column back to its level values using the
// levels attached to the input column.
type IndexToValue struct {
	InputCol  string
	OutputCol string
}

func (iv *IndexToValue) Transform(ds *data.Dataset) (*data.Dataset, error) {
	levels, ok := GetLevels(ds, iv.InputCol)
	if !ok {
		return nil, errors.Errorf("column %q has no category levels", iv.InputCol)
	}
	src, err := ds.Column(iv.InputCol)
	if err != nil {
		return nil, err
	}

	out := make([]any, len(src))
	for i, v := range src {
		idx, err := levelIndex(v)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		if idx >= 0 && idx < levels.Len() {
			out[i] = levels.Values[idx]
		}
	}

	return ds.WithColumn(data.Field{Name: iv.OutputCol, Type: levels.Type}, out)
}

func levelIndex(v any) (int, error) {
	switch x := v.(type) {
	case nil:
		return -1, nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	}
	return -1, fmt.Errorf("index value %v (%T) is not numeric", v, v)
}
