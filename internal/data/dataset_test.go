package data

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"

	"mlstages/internal/errs"
)

func sample(t *testing.T) *Dataset {
	t.Helper()
	ds, err := FromRows(Schema{
		{Name: "age", Type: Integer},
		{Name: "score", Type: Double},
		{Name: "name", Type: String},
	}, [][]any{
		{int64(30), 1.5, "b"},
		{nil, 2.5, "a"},
		{int64(40), nil, "b"},
		{int64(50), 4.0, nil},
	})
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestNewRejectsWrongTypes(t *testing.T) {
	_, err := New(Schema{{Name: "x", Type: Integer}}, [][]any{{1.5}})
	if err == nil {
		t.Fatal("expected type error")
	}
}

func TestDropNulls(t *testing.T) {
	ds := sample(t)

	out, err := ds.DropNulls("age")
	if err != nil {
		t.Fatal(err)
	}
	if out.NumRows() != 3 {
		t.Errorf("expected 3 rows, got %d", out.NumRows())
	}

	all, err := ds.DropNulls()
	if err != nil {
		t.Fatal(err)
	}
	if all.NumRows() != 1 {
		t.Errorf("expected 1 complete row, got %d", all.NumRows())
	}
	if ds.NumRows() != 4 {
		t.Error("source dataset was modified")
	}
}

func TestWithColumnReplacesInPlace(t *testing.T) {
	ds := sample(t)
	out, err := ds.WithColumn(Field{Name: "score", Type: Double}, []any{1.0, 1.0, 1.0, 1.0})
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Schema().Names(); strings.Join(got, ",") != "age,score,name" {
		t.Errorf("unexpected column order %v", got)
	}
	orig, _ := ds.Column("score")
	if orig[2] != nil {
		t.Error("source column was modified")
	}
}

func TestCast(t *testing.T) {
	ds := sample(t)
	out, err := ds.Cast("age", Double)
	if err != nil {
		t.Fatal(err)
	}
	col, _ := out.Column("age")
	if col[0] != 30.0 || col[1] != nil {
		t.Errorf("unexpected cast result %v", col)
	}

	withVec, err := ds.WithColumn(Field{Name: "v", Type: Vector}, []any{nil, nil, nil, nil})
	if err != nil {
		t.Fatal(err)
	}
	_, err = withVec.Cast("v", Double)
	var typeErr *errs.UnsupportedTypeError
	if !errors.As(err, &typeErr) {
		t.Errorf("expected UnsupportedTypeError, got %v", err)
	}
}

func TestDistinctSorted(t *testing.T) {
	ds := sample(t)
	values, err := ds.Distinct("name")
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 2 || values[0] != "a" || values[1] != "b" {
		t.Errorf("unexpected distinct values %v", values)
	}
}

func TestMetadataIsCopied(t *testing.T) {
	ds := sample(t)
	a, err := ds.WithMetadata("name", LevelsKey, &Levels{Type: String, Values: []any{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := a.WithMetadata("name", "other", true)
	if err != nil {
		t.Fatal(err)
	}
	fa, _ := a.Field("name")
	fb, _ := b.Field("name")
	if _, ok := fa.Metadata["other"]; ok {
		t.Error("metadata leaked into earlier dataset")
	}
	if _, ok := fb.Metadata[LevelsKey]; !ok {
		t.Error("levels lost on later dataset")
	}
}

func TestPartitionsCoverAllRows(t *testing.T) {
	parts := SplitRows(10, 3)
	if len(parts) != 3 {
		t.Fatalf("expected 3 partitions, got %d", len(parts))
	}
	covered := 0
	for i, p := range parts {
		if i > 0 && p.Start != parts[i-1].End {
			t.Errorf("gap before partition %d", i)
		}
		covered += p.End - p.Start
	}
	if covered != 10 {
		t.Errorf("partitions cover %d rows", covered)
	}

	var visited int64
	err := ParallelRange(parts, 2, func(p Partition) error {
		atomic.AddInt64(&visited, int64(p.End-p.Start))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if visited != 10 {
		t.Errorf("visited %d rows", visited)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	in := "a,b,c,d\n1,2.5,x,true\nNA,3,,false\n4,,y,\n"
	ds, err := ReadCSV(strings.NewReader(in), ',')
	if err != nil {
		t.Fatal(err)
	}
	schema := ds.Schema()
	want := []DataType{Integer, Double, String, Boolean}
	for i, f := range schema {
		if f.Type != want[i] {
			t.Errorf("column %s: got %s, want %s", f.Name, f.Type, want[i])
		}
	}
	a, _ := ds.Column("a")
	if a[1] != nil {
		t.Errorf("NA should be absent, got %v", a[1])
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, ds); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "a,b,c,d\n1,2.5,x,true\n,3,,false\n") {
		t.Errorf("unexpected csv output:\n%s", buf.String())
	}
}

func TestDatasetStats(t *testing.T) {
	stats := NewDataValidator().GetDatasetStats(sample(t))
	age := stats[0]
	if age.Missing != 1 || age.Count != 3 {
		t.Errorf("unexpected counts %+v", age)
	}
	if age.Mean.String() != "40" || age.Min.String() != "30" || age.Max.String() != "50" {
		t.Errorf("unexpected summary min=%s max=%s mean=%s", age.Min, age.Max, age.Mean)
	}
}

func TestNaNIsAbsent(t *testing.T) {
	nan := math.NaN()
	ds, err := New(Schema{{Name: "x", Type: Double}}, [][]any{{2.0, nan, 1.0, nil, nan, math.Inf(1), 2.0}})
	if err != nil {
		t.Fatal(err)
	}

	values, err := ds.Distinct("x")
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 3 || values[0] != 1.0 || values[1] != 2.0 || values[2] != math.Inf(1) {
		t.Errorf("unexpected distinct values %v", values)
	}

	kept, err := ds.DropNulls("x")
	if err != nil {
		t.Fatal(err)
	}
	if kept.NumRows() != 4 {
		t.Errorf("expected 4 rows after dropping absent and NaN, got %d", kept.NumRows())
	}

	s := NewDataValidator().GetDatasetStats(ds)[0]
	if s.Missing != 3 || s.Count != 4 || s.Infinite != 1 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.Min.String() != "1" || s.Max.String() != "2" {
		t.Errorf("unexpected summary min=%s max=%s", s.Min, s.Max)
	}
}

func TestSortValuesPlacesNaNFirst(t *testing.T) {
	values := []any{3.0, math.NaN(), 1.0, math.NaN(), 2.0}
	SortValues(values)
	if !math.IsNaN(values[0].(float64)) || !math.IsNaN(values[1].(float64)) {
		t.Fatalf("NaN should sort first, got %v", values)
	}
	if values[2] != 1.0 || values[3] != 2.0 || values[4] != 3.0 {
		t.Errorf("unexpected order %v", values)
	}
}
