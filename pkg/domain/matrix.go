package domain

import "fmt"

// Matrix is a dense row-major 2D array of float32 values.
// Rows are time steps and columns are features.
type Matrix struct {
	Rows int
	Cols int
	Data []float32
}

// NewMatrix wraps data as a rows x cols matrix.
func NewMatrix(rows, cols int, data []float32) (Matrix, error) {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		return Matrix{}, fmt.Errorf("%w: %d values for shape (%d, %d)", ErrShapeMismatch, len(data), rows, cols)
	}
	return Matrix{Rows: rows, Cols: cols, Data: data}, nil
}

// MatrixFromRows builds a matrix from equally sized rows.
func MatrixFromRows(rows [][]float32) (Matrix, error) {
	if len(rows) == 0 {
		return Matrix{}, nil
	}
	cols := len(rows[0])
	data := make([]float32, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return Matrix{}, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShapeMismatch, i, len(r), cols)
		}
		data = append(data, r...)
	}
	return Matrix{Rows: len(rows), Cols: cols, Data: data}, nil
}

// Row returns the i-th row. The slice aliases the matrix data.
func (m Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Slice returns rows [from, to) as a matrix sharing the same backing array.
func (m Matrix) Slice(from, to int) Matrix {
	return Matrix{Rows: to - from, Cols: m.Cols, Data: m.Data[from*m.Cols : to*m.Cols]}
}

func (m Matrix) String() string {
	return fmt.Sprintf("(%d, %d)", m.Rows, m.Cols)
}
