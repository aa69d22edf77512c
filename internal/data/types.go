package data

import (
	"fmt"
	"math"
	"sort"
)

type DataType int

const (
	Boolean DataType = iota
	Integer
	Double
	String
	Vector
	Image
)

var typeNames = map[DataType]string{
	Boolean: "Boolean",
	Integer: "Integer",
	Double:  "Double",
	String:  "String",
	Vector:  "Vector",
	Image:   "Image",
}

func (t DataType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int(t))
}

func (t DataType) IsNumeric() bool {
	return t == Integer || t == Double
}

// Metadata keys understood across stages.
const (
	LevelsKey     = "levels"
	ScoreModelKey = "score_model"
)

type Metadata map[string]any

func (m Metadata) clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type Field struct {
	Name     string
	Type     DataType
	Metadata Metadata
}

// Levels are the ordered distinct values of a categorical column. A value's
// position is its zero-based category index.
type Levels struct {
	Type   DataType
	Values []any
}

func (l *Levels) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Values)
}

// Index returns the position of v in the levels, or -1.
func (l *Levels) Index(v any) int {
	if l == nil {
		return -1
	}
	for i, lv := range l.Values {
		if lv == v {
			return i
		}
	}
	return -1
}

type Schema []Field

func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (s Schema) Field(name string) (Field, bool) {
	if i := s.Index(name); i >= 0 {
		return s[i], true
	}
	return Field{}, false
}

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

func (s Schema) clone() Schema {
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

// CheckValue reports whether v is a valid non-absent value for t.
func CheckValue(t DataType, v any) bool {
	if v == nil {
		return true
	}
	switch t {
	case Boolean:
		_, ok := v.(bool)
		return ok
	case Integer:
		_, ok := v.(int64)
		return ok
	case Double:
		_, ok := v.(float64)
		return ok
	case String:
		_, ok := v.(string)
		return ok
	case Vector:
		_, ok := v.([]float64)
		return ok
	case Image:
		_, ok := v.(*ImageValue)
		return ok
	}
	return false
}

// Less orders two non-absent values of the same scalar type.
func Less(a, b any) bool {
	switch x := a.(type) {
	case bool:
		return !x && b.(bool)
	case int64:
		return x < b.(int64)
	case float64:
		y := b.(float64)
		return x < y || (math.IsNaN(x) && !math.IsNaN(y))
	case string:
		return x < b.(string)
	}
	return false
}

// IsMissing reports whether v is absent. A NaN double counts as absent.
func IsMissing(v any) bool {
	if v == nil {
		return true
	}
	f, ok := v.(float64)
	return ok && math.IsNaN(f)
}

// SortValues sorts scalar values in place by their natural order.
func SortValues(values []any) {
	sort.Sort(valueSlice(values))
}

type valueSlice []any

func (v valueSlice) Len() int           { return len(v) }
func (v valueSlice) Less(i, j int) bool { return Less(v[i], v[j]) }
func (v valueSlice) Swap(i, j int)      { v[i], v[j] = v[j], v[i] }
