package optimization

import (
	"fmt"
	"math"
	"time"
)

// Frame is a time x instrument table. Missing observations are NaN.
type Frame struct {
	Index   []time.Time
	Columns []string
	Values  [][]float64 // Values[row][col]
}

// NewFrame validates that values has one row per index entry and one
// column per instrument.
func NewFrame(index []time.Time, columns []string, values [][]float64) (*Frame, error) {
	if len(values) != len(index) {
		return nil, fmt.Errorf("%w: %d rows for %d index entries", ErrInputShape, len(values), len(index))
	}
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("%w: duplicate instrument %s", ErrInputShape, c)
		}
		seen[c] = struct{}{}
	}
	for i, row := range values {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", ErrInputShape, i, len(row), len(columns))
		}
	}
	return &Frame{Index: index, Columns: columns, Values: values}, nil
}

// Rows returns the number of time observations.
func (f *Frame) Rows() int { return len(f.Values) }

// Cols returns the number of instruments.
func (f *Frame) Cols() int { return len(f.Columns) }

// Column returns a copy of column j.
func (f *Frame) Column(j int) []float64 {
	col := make([]float64, len(f.Values))
	for i, row := range f.Values {
		col[i] = row[j]
	}
	return col
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		Index:   append([]time.Time(nil), f.Index...),
		Columns: append([]string(nil), f.Columns...),
		Values:  make([][]float64, len(f.Values)),
	}
	for i, row := range f.Values {
		out.Values[i] = append([]float64(nil), row...)
	}
	return out
}

// Select returns a copy of f with columns reordered to match columns.
// The two column sets must be identical.
func (f *Frame) Select(columns []string) (*Frame, error) {
	if len(columns) != len(f.Columns) {
		return nil, fmt.Errorf("%w: %d instruments, expected %d", ErrInputShape, len(f.Columns), len(columns))
	}
	pos := make(map[string]int, len(f.Columns))
	for j, c := range f.Columns {
		pos[c] = j
	}
	order := make([]int, len(columns))
	for k, c := range columns {
		j, ok := pos[c]
		if !ok {
			return nil, fmt.Errorf("%w: instrument %s missing", ErrInputShape, c)
		}
		order[k] = j
	}

	out := &Frame{
		Index:   append([]time.Time(nil), f.Index...),
		Columns: append([]string(nil), columns...),
		Values:  make([][]float64, len(f.Values)),
	}
	for i, row := range f.Values {
		dst := make([]float64, len(order))
		for k, j := range order {
			dst[k] = row[j]
		}
		out.Values[i] = dst
	}
	return out, nil
}

// ForwardFill replaces every NaN with the latest earlier observation in the
// same column. Leading NaNs have no earlier observation and stay NaN.
// The input is not modified.
func ForwardFill(f *Frame) *Frame {
	out := f.Clone()
	last := make([]float64, f.Cols())
	seen := make([]bool, f.Cols())
	for _, row := range out.Values {
		for j, v := range row {
			if math.IsNaN(v) {
				if seen[j] {
					row[j] = last[j]
				}
				continue
			}
			last[j] = v
			seen[j] = true
		}
	}
	return out
}

// AlignColumns reorders open and volume to the column order of close.
// All three must cover the same instrument set.
func AlignColumns(open, close, volume *Frame) (*Frame, *Frame, error) {
	if open == nil || close == nil || volume == nil {
		return nil, nil, fmt.Errorf("%w: open, close and volume tables are required", ErrInputShape)
	}
	o, err := open.Select(close.Columns)
	if err != nil {
		return nil, nil, fmt.Errorf("open prices: %w", err)
	}
	v, err := volume.Select(close.Columns)
	if err != nil {
		return nil, nil, fmt.Errorf("volumes: %w", err)
	}
	return o, v, nil
}

// firstValidRow returns the first row at which every column has a value,
// or -1 when some column never does.
func firstValidRow(f *Frame) int {
	start := 0
	for j := 0; j < f.Cols(); j++ {
		i := 0
		for i < f.Rows() && math.IsNaN(f.Values[i][j]) {
			i++
		}
		if i == f.Rows() {
			return -1
		}
		if i > start {
			start = i
		}
	}
	return start
}
