package preprocessing

import (
	"hash/fnv"
	"math"
	"strings"

	"github.com/pkg/errors"

	"mlstages/internal/data"
	"mlstages/internal/errs"
	"mlstages/internal/logging"
	"mlstages/internal/pipeline"
)

// Hash widths used when no explicit width is requested. The hashed block is
// dense, so every featurized row with a string column holds NumFeatures
// float64 slots: 2 MiB per row at NumFeaturesDefault.
const (
	NumFeaturesDefault       = 1 << 18
	NumFeaturesTreeOrNNBased = 1 << 12
)

type EncodingKind int

const (
	NumericEncoding EncodingKind = iota
	BooleanEncoding
	OneHotEncoding
	IndexEncoding
	VectorEncoding
	HashedEncoding
)

// ColumnEncoding places one input column into the feature vector.
type ColumnEncoding struct {
	Column string
	Kind   EncodingKind
	Offset int
	Width  int
	Levels *data.Levels
	Fill   float64
}

// Featurize assembles the input columns into a single dense vector column.
type Featurize struct {
	UID                      string
	InputCols                []string
	OutputCol                string
	NumFeatures              int
	OneHotEncodeCategoricals bool
}

func NewFeaturize(inputCols []string, outputCol string) *Featurize {
	return &Featurize{
		UID:                      pipeline.NewUID("Featurize"),
		InputCols:                inputCols,
		OutputCol:                outputCol,
		NumFeatures:              NumFeaturesDefault,
		OneHotEncodeCategoricals: true,
	}
}

func (f *Featurize) Fit(ds *data.Dataset) (pipeline.Transformer, error) {
	return f.FitModel(ds)
}

func (f *Featurize) FitModel(ds *data.Dataset) (*FeaturizeModel, error) {
	if f.NumFeatures <= 0 {
		return nil, errors.Errorf("number of features must be positive, got %d", f.NumFeatures)
	}

	var numericCols []string
	encodings := make([]ColumnEncoding, 0, len(f.InputCols))
	var hashed []string
	offset := 0

	for _, col := range f.InputCols {
		field, err := ds.Field(col)
		if err != nil {
			return nil, err
		}

		if levels, ok := GetLevels(ds, col); ok && field.Type != data.Vector && field.Type != data.Image {
			enc := ColumnEncoding{Column: col, Kind: IndexEncoding, Offset: offset, Width: 1, Levels: levels}
			if f.OneHotEncodeCategoricals {
				enc.Kind = OneHotEncoding
				enc.Width = levels.Len()
			}
			encodings = append(encodings, enc)
			offset += enc.Width
			continue
		}

		switch field.Type {
		case data.Integer, data.Double:
			encodings = append(encodings, ColumnEncoding{Column: col, Kind: NumericEncoding, Offset: offset, Width: 1})
			numericCols = append(numericCols, col)
			offset++
		case data.Boolean:
			encodings = append(encodings, ColumnEncoding{Column: col, Kind: BooleanEncoding, Offset: offset, Width: 1})
			offset++
		case data.Vector:
			width, err := vectorWidth(ds, col)
			if err != nil {
				return nil, err
			}
			encodings = append(encodings, ColumnEncoding{Column: col, Kind: VectorEncoding, Offset: offset, Width: width})
			offset += width
		case data.String:
			hashed = append(hashed, col)
		default:
			return nil, &errs.UnsupportedTypeError{Column: col, Type: field.Type.String(), Stage: "Featurize"}
		}
	}

	if len(numericCols) > 0 {
		cleaner := NewCleanMissingData(numericCols, numericCols, Mean)
		fills, err := cleaner.FitModel(ds)
		if err != nil {
			return nil, errors.Wrap(err, "failed to compute numeric fill values")
		}
		for i := range encodings {
			if encodings[i].Kind != NumericEncoding {
				continue
			}
			switch v := fills.Replacements[encodings[i].Column].(type) {
			case int64:
				encodings[i].Fill = float64(v)
			case float64:
				encodings[i].Fill = v
			}
		}
	}

	hashOffset := offset
	if len(hashed) > 0 {
		for _, col := range hashed {
			encodings = append(encodings, ColumnEncoding{Column: col, Kind: HashedEncoding, Offset: hashOffset, Width: f.NumFeatures})
		}
		offset += f.NumFeatures
	}

	logging.For("Featurize").Debug().
		Int("columns", len(f.InputCols)).
		Int("hashed", len(hashed)).
		Int("size", offset).
		Bool("one_hot", f.OneHotEncodeCategoricals).
		Msg("fitted featurization")

	return &FeaturizeModel{
		UID:       f.UID,
		OutputCol: f.OutputCol,
		Encodings: encodings,
		Size:      offset,
	}, nil
}

func vectorWidth(ds *data.Dataset, col string) (int, error) {
	values, err := ds.Column(col)
	if err != nil {
		return 0, err
	}
	for _, v := range values {
		if vec, ok := v.([]float64); ok {
			return len(vec), nil
		}
	}
	return 0, errors.Errorf("vector column %q has no values to size it", col)
}

type FeaturizeModel struct {
	UID       string
	OutputCol string
	Encodings []ColumnEncoding
	Size      int
}

func (m *FeaturizeModel) Transform(ds *data.Dataset) (*data.Dataset, error) {
	sources := make([][]any, len(m.Encodings))
	for i, enc := range m.Encodings {
		col, err := ds.Column(enc.Column)
		if err != nil {
			return nil, err
		}
		sources[i] = col
	}

	out := make([]any, ds.NumRows())
	err := ds.ForEachPartition(func(p data.Partition) error {
		for r := p.Start; r < p.End; r++ {
			vec := make([]float64, m.Size)
			for i, enc := range m.Encodings {
				if err := enc.encode(sources[i][r], vec); err != nil {
					return errors.Wrapf(err, "row %d", r)
				}
			}
			out[r] = vec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ds.WithColumn(data.Field{Name: m.OutputCol, Type: data.Vector}, out)
}

func (enc ColumnEncoding) encode(v any, vec []float64) error {
	switch enc.Kind {
	case NumericEncoding:
		switch x := v.(type) {
		case nil:
			vec[enc.Offset] = enc.Fill
		case int64:
			vec[enc.Offset] = float64(x)
		case float64:
			if math.IsNaN(x) {
				vec[enc.Offset] = enc.Fill
			} else {
				vec[enc.Offset] = x
			}
		}
	case BooleanEncoding:
		if b, ok := v.(bool); ok && b {
			vec[enc.Offset] = 1
		}
	case OneHotEncoding, IndexEncoding:
		if v == nil {
			return nil
		}
		idx := categoryIndex(v, enc.Levels)
		if enc.Kind == IndexEncoding {
			vec[enc.Offset] = float64(idx)
		} else if idx >= 0 && idx < enc.Width {
			vec[enc.Offset+idx] = 1
		}
	case VectorEncoding:
		x, ok := v.([]float64)
		if !ok {
			return nil
		}
		if len(x) != enc.Width {
			return errors.Errorf("column %q has vector of length %d, expected %d", enc.Column, len(x), enc.Width)
		}
		copy(vec[enc.Offset:], x)
	case HashedEncoding:
		s, ok := v.(string)
		if !ok {
			return nil
		}
		for _, tok := range strings.Fields(strings.ToLower(s)) {
			vec[enc.Offset+hashBucket(tok, enc.Width)]++
		}
	}
	return nil
}

// categoryIndex treats numeric cells of a categorical column as indices and
// looks any other value up in the levels.
func categoryIndex(v any, levels *data.Levels) int {
	switch x := v.(type) {
	case int64:
		return int(x)
	case float64:
		return int(x)
	}
	return levels.Index(v)
}

func hashBucket(token string, width int) int {
	h := fnv.New32a()
	h.Write([]byte(token))
	return int(h.Sum32() % uint32(width))
}
