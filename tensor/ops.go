package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ShapeError reports a tensor shape mismatch. A -1 in Want means "any".
type ShapeError struct {
	Op   string
	Want []int
	Got  []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: shape mismatch: want %v, got %v", e.Op, e.Want, e.Got)
}

func dims(m mat.Matrix) []int {
	r, c := m.Dims()
	return []int{r, c}
}

// MatMul returns a×b, or a ShapeError if the inner dimensions differ.
func MatMul(a, b mat.Matrix) (*mat.Dense, error) {
	r, k := a.Dims()
	k2, c := b.Dims()
	if k != k2 {
		return nil, &ShapeError{Op: "MatMul", Want: []int{k, c}, Got: []int{k2, c}}
	}
	o := mat.NewDense(r, c, nil)
	o.Mul(a, b)
	return o, nil
}

// AddRow adds row to every row of m in place.
func AddRow(m *mat.Dense, row []float64) error {
	r, c := m.Dims()
	if len(row) != c {
		return &ShapeError{Op: "AddRow", Want: []int{c}, Got: []int{len(row)}}
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, m.At(i, j)+row[j])
		}
	}
	return nil
}

// Add returns a+b (same shape), or a ShapeError if shapes differ.
func Add(a, b mat.Matrix) (*mat.Dense, error) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return nil, &ShapeError{Op: "Add", Want: dims(a), Got: dims(b)}
	}
	o := mat.NewDense(ar, ac, nil)
	o.Add(a, b)
	return o, nil
}

// ConcatColumns joins blocks along the feature axis. Every block must have
// the same number of rows.
func ConcatColumns(blocks ...mat.Matrix) (*mat.Dense, error) {
	if len(blocks) == 0 {
		return nil, &ShapeError{Op: "ConcatColumns", Want: []int{-1, -1}, Got: nil}
	}
	rows, _ := blocks[0].Dims()
	width := 0
	for _, b := range blocks {
		r, c := b.Dims()
		if r != rows {
			return nil, &ShapeError{Op: "ConcatColumns", Want: []int{rows, c}, Got: []int{r, c}}
		}
		width += c
	}
	o := mat.NewDense(rows, width, nil)
	off := 0
	for _, b := range blocks {
		_, c := b.Dims()
		o.Slice(0, rows, off, off+c).(*mat.Dense).Copy(b)
		off += c
	}
	return o, nil
}

// Relu applies max(0, v) to each element of m, returning a new matrix.
func Relu(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, m)
	return o
}

// ReluGrad masks grad with the positive entries of pre.
func ReluGrad(pre, grad mat.Matrix) *mat.Dense {
	r, c := grad.Dims()
	o := mat.NewDense(r, c, nil)
	o.Apply(func(i, j int, v float64) float64 {
		if pre.At(i, j) > 0 {
			return v
		}
		return 0
	}, grad)
	return o
}

// ColumnSums reduces m over its rows.
func ColumnSums(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out[j] += m.At(i, j)
		}
	}
	return out
}

// Column returns column j of m as an (n, 1) matrix.
func Column(m mat.Matrix, j int) (*mat.Dense, error) {
	r, c := m.Dims()
	if j < 0 || j >= c {
		return nil, &ShapeError{Op: "Column", Want: []int{r, j + 1}, Got: []int{r, c}}
	}
	o := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		o.Set(i, 0, m.At(i, j))
	}
	return o, nil
}

// Fill returns an r×c matrix with every element set to v.
func Fill(r, c int, v float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = v
	}
	return mat.NewDense(r, c, data)
}
