package data

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

type DataValidator struct{}

func NewDataValidator() *DataValidator {
	return &DataValidator{}
}

func (dv *DataValidator) ValidateDataset(d *Dataset) error {
	if d.NumRows() == 0 {
		return fmt.Errorf("dataset is empty")
	}
	if len(d.schema) == 0 {
		return fmt.Errorf("dataset has no columns")
	}
	return nil
}

// ValidateLabel checks that the label column exists and has at least two distinct values.
func (dv *DataValidator) ValidateLabel(d *Dataset, labelCol string) error {
	if !d.HasColumn(labelCol) {
		return fmt.Errorf("label column %q not found", labelCol)
	}

	values, err := d.Distinct(labelCol)
	if err != nil {
		return err
	}
	if len(values) < 2 {
		return fmt.Errorf("dataset must have at least 2 classes, found %d", len(values))
	}
	return nil
}

type ColumnStats struct {
	Name     string
	Type     DataType
	Count    int
	Missing  int
	// Infinite counts infinite doubles, which Min, Max and Mean leave out.
	Infinite int
	Min      decimal.Decimal
	Max      decimal.Decimal
	Mean     decimal.Decimal
}

// GetDatasetStats summarises every column. Min, max and mean are only filled
// for numeric columns.
func (dv *DataValidator) GetDatasetStats(d *Dataset) []ColumnStats {
	stats := make([]ColumnStats, len(d.schema))

	for j, f := range d.schema {
		s := ColumnStats{Name: f.Name, Type: f.Type}

		var values []decimal.Decimal
		for _, v := range d.columns[j] {
			if IsMissing(v) {
				s.Missing++
				continue
			}
			s.Count++
			switch x := v.(type) {
			case int64:
				values = append(values, decimal.NewFromInt(x))
			case float64:
				if math.IsInf(x, 0) {
					s.Infinite++
					continue
				}
				values = append(values, decimal.NewFromFloat(x))
			}
		}

		if len(values) > 0 {
			s.Min = findMin(values)
			s.Max = findMax(values)
			s.Mean = calculateMean(values)
		}
		stats[j] = s
	}

	return stats
}

func findMin(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	min := values[0]
	for _, v := range values[1:] {
		if v.LessThan(min) {
			min = v
		}
	}
	return min
}

func findMax(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	max := values[0]
	for _, v := range values[1:] {
		if v.GreaterThan(max) {
			max = v
		}
	}
	return max
}

func calculateMean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}
