package preprocessing

import (
	"errors"
	"math"
	"testing"

	"mlstages/internal/data"
	"mlstages/internal/errs"
)

func ints(values ...any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if v != nil {
			out[i] = int64(v.(int))
		}
	}
	return out
}

func cleaningDataset(t *testing.T) *data.Dataset {
	t.Helper()
	ds, err := data.New(data.Schema{
		{Name: "col1", Type: data.Integer},
		{Name: "col2", Type: data.Double},
		{Name: "col3", Type: data.String},
		{Name: "col4", Type: data.Boolean},
	}, [][]any{
		ints(2, 3, 4, 5, 1, nil, 3, 4, nil, 2, 3, 4),
		{0.5, nil, 1.5, 2.5, nil, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0},
		{"a", "b", nil, "c", "d", "e", "f", "g", "h", "i", "j", "k"},
		{true, nil, false, true, true, true, true, true, true, true, true, true},
	})
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestMeanTruncatesIntegralColumns(t *testing.T) {
	ds := cleaningDataset(t)
	model, err := NewCleanMissingData([]string{"col1"}, []string{"col1"}, Mean).FitModel(ds)
	if err != nil {
		t.Fatal(err)
	}
	if got := model.Replacements["col1"]; got != int64(3) {
		t.Fatalf("expected mean 3, got %v (%T)", got, got)
	}

	out, err := model.Transform(ds)
	if err != nil {
		t.Fatal(err)
	}
	col, _ := out.Column("col1")
	orig, _ := ds.Column("col1")
	for i, v := range col {
		if orig[i] == nil {
			if v != int64(3) {
				t.Errorf("row %d: expected fill 3, got %v", i, v)
			}
		} else if v != orig[i] {
			t.Errorf("row %d: present value changed from %v to %v", i, orig[i], v)
		}
	}
}

func TestMeanOfDoubleColumn(t *testing.T) {
	ds := cleaningDataset(t)
	model, err := NewCleanMissingData([]string{"col2"}, []string{"col2"}, Mean).FitModel(ds)
	if err != nil {
		t.Fatal(err)
	}
	// (0.5 + 1.5 + 2.5 + 7*1.0) / 10
	if got := model.Replacements["col2"]; got != 1.15 {
		t.Errorf("expected 1.15, got %v", got)
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		schema data.Schema
		values []any
		want   any
	}{
		{"odd integer", data.Schema{{Name: "x", Type: data.Integer}}, ints(5, 1, nil, 3), int64(3)},
		{"even integer truncates", data.Schema{{Name: "x", Type: data.Integer}}, ints(1, 2, 3, 4), int64(2)},
		{"even double averages", data.Schema{{Name: "x", Type: data.Double}}, []any{4.0, 1.0, nil, 2.0, 3.0}, 2.5},
		{"negative integer truncates toward zero", data.Schema{{Name: "x", Type: data.Integer}}, ints(-4, -1), int64(-2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := data.New(tt.schema, [][]any{tt.values})
			if err != nil {
				t.Fatal(err)
			}
			model, err := NewCleanMissingData([]string{"x"}, []string{"x"}, Median).FitModel(ds)
			if err != nil {
				t.Fatal(err)
			}
			if got := model.Replacements["x"]; got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestCustomValue(t *testing.T) {
	ds := cleaningDataset(t)
	c := NewCleanMissingData([]string{"col1", "col3", "col4"}, []string{"out1", "out3", "out4"}, Custom)
	c.CustomValue = "1"
	model, err := c.FitModel(ds)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"col1": int64(1), "col3": "1", "col4": true}
	for col, w := range want {
		if got := model.Replacements[col]; got != w {
			t.Errorf("%s: got %v (%T), want %v", col, got, got, w)
		}
	}

	out, err := model.Transform(ds)
	if err != nil {
		t.Fatal(err)
	}
	for _, col := range []string{"col1", "col3", "col4"} {
		if !out.HasColumn(col) {
			t.Errorf("input column %s was not preserved", col)
		}
	}
	filled, _ := out.Column("out3")
	if filled[2] != "1" {
		t.Errorf("expected custom fill, got %v", filled[2])
	}
	original, _ := out.Column("col3")
	if original[2] != nil {
		t.Error("input column was filled in place")
	}
}

func TestCustomValueMustParse(t *testing.T) {
	c := NewCleanMissingData([]string{"col2"}, []string{"col2"}, Custom)
	c.CustomValue = "not-a-number"
	if _, err := c.FitModel(cleaningDataset(t)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestUnsupportedTypes(t *testing.T) {
	ds := cleaningDataset(t)
	ds, err := ds.WithColumn(data.Field{Name: "vec", Type: data.Vector}, make([]any, ds.NumRows()))
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		col  string
		mode CleaningMode
	}{
		{"vec", Custom},
		{"col3", Mean},
		{"col4", Median},
	}
	for _, c := range cases {
		_, err := NewCleanMissingData([]string{c.col}, []string{c.col}, c.mode).FitModel(ds)
		var typeErr *errs.UnsupportedTypeError
		if !errors.As(err, &typeErr) {
			t.Errorf("%s/%s: expected UnsupportedTypeError, got %v", c.col, c.mode, err)
		}
	}
}

func TestMismatchedColumns(t *testing.T) {
	c := NewCleanMissingData([]string{"col1", "col2"}, []string{"col1"}, Mean)
	if _, err := c.FitModel(cleaningDataset(t)); err == nil {
		t.Fatal("expected error for mismatched columns")
	}
}

func TestEmptyColumnIsLeftUnfilled(t *testing.T) {
	ds, err := data.New(data.Schema{{Name: "x", Type: data.Double}}, [][]any{{nil, nil}})
	if err != nil {
		t.Fatal(err)
	}
	model, err := NewCleanMissingData([]string{"x"}, []string{"x"}, Mean).FitModel(ds)
	if err != nil {
		t.Fatal(err)
	}
	out, err := model.Transform(ds)
	if err != nil {
		t.Fatal(err)
	}
	col, _ := out.Column("x")
	if col[0] != nil || col[1] != nil {
		t.Errorf("expected absent values to stay absent, got %v", col)
	}
}

func TestNonFiniteDoubles(t *testing.T) {
	nan, inf := math.NaN(), math.Inf(1)
	tests := []struct {
		name   string
		mode   CleaningMode
		values []any
		want   any
	}{
		{"mean skips NaN", Mean, []any{1.0, nan, nil, 3.0}, 2.0},
		{"median skips NaN", Median, []any{5.0, nan, 1.0, nil, 3.0}, 3.0},
		{"mean with infinity", Mean, []any{1.0, inf, nil}, inf},
		{"mean with both infinities", Mean, []any{-inf, 1.0, inf}, nil},
		{"median past infinity", Median, []any{2.0, inf, 1.0}, 2.0},
		{"median next to infinity", Median, []any{1.0, -inf}, -inf},
		{"median between infinities", Median, []any{inf, -inf}, nil},
		{"only NaN", Mean, []any{nan, nan}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := data.New(data.Schema{{Name: "x", Type: data.Double}}, [][]any{tt.values})
			if err != nil {
				t.Fatal(err)
			}
			model, err := NewCleanMissingData([]string{"x"}, []string{"x"}, tt.mode).FitModel(ds)
			if err != nil {
				t.Fatal(err)
			}
			if got := model.Replacements["x"]; got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransformFillsNaN(t *testing.T) {
	ds, err := data.New(data.Schema{{Name: "x", Type: data.Double}}, [][]any{{1.0, math.NaN(), nil, 3.0}})
	if err != nil {
		t.Fatal(err)
	}
	model, err := NewCleanMissingData([]string{"x"}, []string{"y"}, Mean).FitModel(ds)
	if err != nil {
		t.Fatal(err)
	}
	out, err := model.Transform(ds)
	if err != nil {
		t.Fatal(err)
	}
	col, _ := out.Column("y")
	want := []any{1.0, 2.0, 2.0, 3.0}
	for i := range want {
		if col[i] != want[i] {
			t.Errorf("row %d: got %v, want %v", i, col[i], want[i])
		}
	}
}
