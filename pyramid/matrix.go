// Package pyramid builds max-pooled multi-resolution levels of time-indexed
// 2-D arrays and plans chunk shapes for storing them.
package pyramid

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidShape is returned when an input array is not a well formed
	// rank-2 matrix with at least one column
	ErrInvalidShape = errors.New("invalid shape")
	// ErrInvalidConfig is returned for chunk plans that would divide by zero
	// or produce a degenerate chunk
	ErrInvalidConfig = errors.New("invalid config")
)

// Matrix is a dense row-major float32 array. Axis 0 is time.
type Matrix struct {
	Rows int
	Cols int
	Data []float32
}

// NewMatrix wraps data as a rows x cols matrix. data is not copied.
func NewMatrix(rows, cols int, data []float32) (*Matrix, error) {
	m := &Matrix{Rows: rows, Cols: cols, Data: data}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// FromShape is NewMatrix for callers holding an arbitrary-rank shape, such as
// one read from array metadata.
func FromShape(shape []int, data []float32) (*Matrix, error) {
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: want rank 2, got rank %d", ErrInvalidShape, len(shape))
	}
	return NewMatrix(shape[0], shape[1], data)
}

// Zeros allocates a rows x cols matrix of zeros
func Zeros(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

func (m *Matrix) validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil matrix", ErrInvalidShape)
	}
	if m.Rows < 0 {
		return fmt.Errorf("%w: negative row count %d", ErrInvalidShape, m.Rows)
	}
	if m.Cols < 1 {
		return fmt.Errorf("%w: need at least one column, got %d", ErrInvalidShape, m.Cols)
	}
	if len(m.Data) != m.Rows*m.Cols {
		return fmt.Errorf("%w: %d values do not fill %dx%d", ErrInvalidShape, len(m.Data), m.Rows, m.Cols)
	}
	return nil
}

// Shape returns (rows, cols)
func (m *Matrix) Shape() [2]int { return [2]int{m.Rows, m.Cols} }

// At returns the value at row r, column c
func (m *Matrix) At(r, c int) float32 { return m.Data[r*m.Cols+c] }

// Set assigns the value at row r, column c
func (m *Matrix) Set(r, c int, v float32) { m.Data[r*m.Cols+c] = v }

// Row returns a view of row r. Writes to the returned slice modify m.
func (m *Matrix) Row(r int) []float32 { return m.Data[r*m.Cols : (r+1)*m.Cols] }

// Range returns the minimum and maximum over all values, ignoring NaN.
// An empty or all-NaN matrix returns NaN for both.
func Range(m *Matrix) (lo, hi float32) {
	nan := float32(math.NaN())
	lo, hi = nan, nan
	if m == nil {
		return lo, hi
	}
	for _, v := range m.Data {
		if isNaN(v) {
			continue
		}
		if isNaN(lo) || v < lo {
			lo = v
		}
		if isNaN(hi) || v > hi {
			hi = v
		}
	}
	return lo, hi
}

func isNaN(v float32) bool { return v != v }
