package data

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/xtgo/set"

	"mlstages/internal/errs"
)

const DefaultPartitions = 4

// Dataset is an immutable columnar table. Operations never modify the receiver;
// they return a new Dataset that shares untouched column storage. Column slices
// handed out by Column must be treated as read-only.
type Dataset struct {
	id         string
	schema     Schema
	columns    [][]any
	nRows      int
	partitions int
}

func New(schema Schema, columns [][]any) (*Dataset, error) {
	if len(schema) != len(columns) {
		return nil, errors.Errorf("schema has %d fields but %d columns were given", len(schema), len(columns))
	}

	seen := make(map[string]bool, len(schema))
	nRows := -1
	for i, f := range schema {
		if seen[f.Name] {
			return nil, errors.Errorf("duplicate column %q", f.Name)
		}
		seen[f.Name] = true

		if nRows == -1 {
			nRows = len(columns[i])
		} else if len(columns[i]) != nRows {
			return nil, errors.Errorf("column %q has %d rows, expected %d", f.Name, len(columns[i]), nRows)
		}

		for r, v := range columns[i] {
			if !CheckValue(f.Type, v) {
				return nil, errors.Errorf("column %q row %d: value %T is not %s", f.Name, r, v, f.Type)
			}
		}
	}
	if nRows == -1 {
		nRows = 0
	}

	return &Dataset{
		id:         uuid.New().String(),
		schema:     schema.clone(),
		columns:    columns,
		nRows:      nRows,
		partitions: DefaultPartitions,
	}, nil
}

func FromRows(schema Schema, rows [][]any) (*Dataset, error) {
	columns := make([][]any, len(schema))
	for j := range schema {
		columns[j] = make([]any, len(rows))
	}
	for i, row := range rows {
		if len(row) != len(schema) {
			return nil, errors.Errorf("row %d has %d values, expected %d", i, len(row), len(schema))
		}
		for j, v := range row {
			columns[j][i] = v
		}
	}
	return New(schema, columns)
}

func (d *Dataset) derive(schema Schema, columns [][]any, nRows int) *Dataset {
	return &Dataset{
		id:         uuid.New().String(),
		schema:     schema,
		columns:    columns,
		nRows:      nRows,
		partitions: d.partitions,
	}
}

func (d *Dataset) ID() string         { return d.id }
func (d *Dataset) NumRows() int       { return d.nRows }
func (d *Dataset) NumPartitions() int { return d.partitions }

func (d *Dataset) Schema() Schema {
	return d.schema.clone()
}

func (d *Dataset) HasColumn(name string) bool {
	return d.schema.Index(name) >= 0
}

func (d *Dataset) Field(name string) (Field, error) {
	f, ok := d.schema.Field(name)
	if !ok {
		return Field{}, errors.Errorf("column %q not found", name)
	}
	return f, nil
}

func (d *Dataset) Column(name string) ([]any, error) {
	i := d.schema.Index(name)
	if i < 0 {
		return nil, errors.Errorf("column %q not found", name)
	}
	return d.columns[i], nil
}

func (d *Dataset) Row(i int) []any {
	row := make([]any, len(d.columns))
	for j, col := range d.columns {
		row[j] = col[i]
	}
	return row
}

// WithPartitions returns the same data split into n partitions for parallel stages.
func (d *Dataset) WithPartitions(n int) *Dataset {
	if n < 1 {
		n = 1
	}
	out := *d
	out.partitions = n
	return &out
}

func (d *Dataset) Select(names ...string) (*Dataset, error) {
	schema := make(Schema, 0, len(names))
	columns := make([][]any, 0, len(names))
	for _, name := range names {
		i := d.schema.Index(name)
		if i < 0 {
			return nil, errors.Errorf("column %q not found", name)
		}
		schema = append(schema, d.schema[i])
		columns = append(columns, d.columns[i])
	}
	return d.derive(schema, columns, d.nRows), nil
}

// Drop removes the named columns; names that do not exist are ignored.
func (d *Dataset) Drop(names ...string) *Dataset {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	schema := make(Schema, 0, len(d.schema))
	columns := make([][]any, 0, len(d.columns))
	for i, f := range d.schema {
		if drop[f.Name] {
			continue
		}
		schema = append(schema, f)
		columns = append(columns, d.columns[i])
	}
	return d.derive(schema, columns, d.nRows)
}

// DropNulls removes every row with an absent or NaN value in any of the named
// columns.
// With no names, all columns are checked.
func (d *Dataset) DropNulls(names ...string) (*Dataset, error) {
	if len(names) == 0 {
		names = d.schema.Names()
	}
	idx := make([]int, 0, len(names))
	for _, name := range names {
		i := d.schema.Index(name)
		if i < 0 {
			return nil, errors.Errorf("column %q not found", name)
		}
		idx = append(idx, i)
	}

	keep := make([]int, 0, d.nRows)
	for r := 0; r < d.nRows; r++ {
		ok := true
		for _, i := range idx {
			if IsMissing(d.columns[i][r]) {
				ok = false
				break
			}
		}
		if ok {
			keep = append(keep, r)
		}
	}
	if len(keep) == d.nRows {
		return d, nil
	}
	return d.Take(keep), nil
}

// Take returns the rows at the given positions, in that order.
func (d *Dataset) Take(rows []int) *Dataset {
	columns := make([][]any, len(d.columns))
	for j, col := range d.columns {
		out := make([]any, len(rows))
		for i, r := range rows {
			out[i] = col[r]
		}
		columns[j] = out
	}
	return d.derive(d.schema.clone(), columns, len(rows))
}

func (d *Dataset) Head(n int) *Dataset {
	if n > d.nRows {
		n = d.nRows
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return d.Take(rows)
}

// WithColumn adds the column, or replaces it in place when the name exists.
func (d *Dataset) WithColumn(field Field, values []any) (*Dataset, error) {
	if len(values) != d.nRows {
		return nil, errors.Errorf("column %q has %d rows, expected %d", field.Name, len(values), d.nRows)
	}
	for r, v := range values {
		if !CheckValue(field.Type, v) {
			return nil, errors.Errorf("column %q row %d: value %T is not %s", field.Name, r, v, field.Type)
		}
	}

	schema := d.schema.clone()
	columns := make([][]any, len(d.columns), len(d.columns)+1)
	copy(columns, d.columns)
	if i := schema.Index(field.Name); i >= 0 {
		schema[i] = field
		columns[i] = values
	} else {
		schema = append(schema, field)
		columns = append(columns, values)
	}
	return d.derive(schema, columns, d.nRows), nil
}

func (d *Dataset) Rename(from, to string) (*Dataset, error) {
	i := d.schema.Index(from)
	if i < 0 {
		return nil, errors.Errorf("column %q not found", from)
	}
	if from == to {
		return d, nil
	}
	if d.schema.Index(to) >= 0 {
		return nil, errors.Errorf("column %q already exists", to)
	}
	schema := d.schema.clone()
	schema[i].Name = to
	return d.derive(schema, d.columns, d.nRows), nil
}

// WithMetadata sets one metadata entry on a column. A nil value removes the key.
func (d *Dataset) WithMetadata(name, key string, value any) (*Dataset, error) {
	i := d.schema.Index(name)
	if i < 0 {
		return nil, errors.Errorf("column %q not found", name)
	}
	schema := d.schema.clone()
	md := schema[i].Metadata.clone()
	if md == nil {
		md = Metadata{}
	}
	if value == nil {
		delete(md, key)
	} else {
		md[key] = value
	}
	schema[i].Metadata = md
	return d.derive(schema, d.columns, d.nRows), nil
}

// Cast converts a scalar column to another scalar type. Values that cannot be
// converted become absent. Metadata is kept.
func (d *Dataset) Cast(name string, to DataType) (*Dataset, error) {
	i := d.schema.Index(name)
	if i < 0 {
		return nil, errors.Errorf("column %q not found", name)
	}
	from := d.schema[i].Type
	if from == to {
		return d, nil
	}
	if from == Vector || from == Image || to == Vector || to == Image {
		return nil, &errs.UnsupportedTypeError{Column: name, Type: from.String(), Stage: "Cast"}
	}

	src := d.columns[i]
	out := make([]any, len(src))
	for r, v := range src {
		out[r] = castValue(v, to)
	}
	field := d.schema[i]
	field.Type = to
	field.Metadata = field.Metadata.clone()
	return d.WithColumn(field, out)
}

func castValue(v any, to DataType) any {
	if v == nil {
		return nil
	}
	switch to {
	case Double:
		switch x := v.(type) {
		case int64:
			return float64(x)
		case bool:
			if x {
				return 1.0
			}
			return 0.0
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return nil
			}
			return f
		}
	case Integer:
		switch x := v.(type) {
		case float64:
			return int64(x)
		case bool:
			if x {
				return int64(1)
			}
			return int64(0)
		case string:
			n, err := strconv.ParseInt(x, 10, 64)
			if err != nil {
				return nil
			}
			return n
		}
	case Boolean:
		switch x := v.(type) {
		case int64:
			return x != 0
		case float64:
			return x != 0
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil
			}
			return b
		}
	case String:
		return fmt.Sprint(v)
	}
	return nil
}

// Distinct returns the sorted distinct values of a scalar column, leaving out
// absent and NaN cells.
func (d *Dataset) Distinct(name string) ([]any, error) {
	i := d.schema.Index(name)
	if i < 0 {
		return nil, errors.Errorf("column %q not found", name)
	}
	switch d.schema[i].Type {
	case Vector, Image:
		return nil, &errs.UnsupportedTypeError{Column: name, Type: d.schema[i].Type.String()}
	}

	values := make([]any, 0, d.nRows)
	for _, v := range d.columns[i] {
		if !IsMissing(v) {
			values = append(values, v)
		}
	}
	SortValues(values)
	n := set.Uniq(valueSlice(values))
	return values[:n], nil
}
