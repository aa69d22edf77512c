package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var missingTokens = map[string]bool{"": true, "na": true, "nan": true, "null": true}

func isMissing(s string) bool {
	return missingTokens[strings.ToLower(strings.TrimSpace(s))]
}

type CSVReader struct {
	filename string
	Comma    rune
}

func NewCSVReader(filename string) *CSVReader {
	return &CSVReader{filename: filename, Comma: ','}
}

// LoadData reads the whole file. The first record is the header; column types
// are inferred from the non-missing cells.
func (cr *CSVReader) LoadData() (*Dataset, error) {
	file, err := os.Open(cr.filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	return ReadCSV(file, cr.Comma)
}

func ReadCSV(r io.Reader, comma rune) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv")
	}

	if len(records) < 1 {
		return nil, fmt.Errorf("insufficient data in file")
	}

	headers := records[0]
	rows := records[1:]

	schema := make(Schema, len(headers))
	columns := make([][]any, len(headers))
	for j, h := range headers {
		cells := make([]string, len(rows))
		for i, rec := range rows {
			if j < len(rec) {
				cells[i] = rec[j]
			}
		}
		t := inferType(cells)
		schema[j] = Field{Name: strings.TrimSpace(h), Type: t}
		columns[j] = parseCells(cells, t)
	}

	return New(schema, columns)
}

func inferType(cells []string) DataType {
	isInt, isFloat, isBool := true, true, true
	seen := false
	for _, c := range cells {
		if isMissing(c) {
			continue
		}
		seen = true
		c = strings.TrimSpace(c)
		if isInt {
			if _, err := strconv.ParseInt(c, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(c, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			l := strings.ToLower(c)
			if l != "true" && l != "false" {
				isBool = false
			}
		}
	}
	switch {
	case !seen:
		return String
	case isInt:
		return Integer
	case isFloat:
		return Double
	case isBool:
		return Boolean
	}
	return String
}

func parseCells(cells []string, t DataType) []any {
	out := make([]any, len(cells))
	for i, c := range cells {
		if isMissing(c) {
			continue
		}
		c = strings.TrimSpace(c)
		switch t {
		case Integer:
			out[i], _ = strconv.ParseInt(c, 10, 64)
		case Double:
			out[i], _ = strconv.ParseFloat(c, 64)
		case Boolean:
			out[i] = strings.ToLower(c) == "true"
		default:
			out[i] = c
		}
	}
	return out
}

// WriteCSV writes the dataset with a header row. Absent values are empty cells,
// vectors are bracketed space-separated lists and images are written as their origin.
func WriteCSV(w io.Writer, d *Dataset) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(d.schema.Names()); err != nil {
		return err
	}

	record := make([]string, len(d.columns))
	for r := 0; r < d.nRows; r++ {
		for j, col := range d.columns {
			record[j] = FormatValue(col[r])
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case *ImageValue:
		return x.Origin
	}
	return fmt.Sprint(v)
}
