package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a simple n-D array backed by a flat []float64.
// It is the value type of named feed slots and of persisted weights.
type Tensor struct {
	Data  []float64
	Shape []int
}

// New allocates a Tensor of given shape (product of dims = len(Data)).
func New(shape ...int) *Tensor {
	total := 1
	for _, d := range shape {
		total *= d
	}
	return &Tensor{
		Data:  make([]float64, total),
		Shape: append([]int(nil), shape...),
	}
}

// Filled returns a tensor of the given shape with every element set to v.
func Filled(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// FromDense copies a matrix into a 2-D tensor.
func FromDense(m mat.Matrix) *Tensor {
	r, c := m.Dims()
	t := New(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t.Data[i*c+j] = m.At(i, j)
		}
	}
	return t
}

// Dense returns the tensor as an (n, k) matrix. A 1-D tensor of length n
// is read as an (n, 1) column.
func (t *Tensor) Dense() (*mat.Dense, error) {
	switch len(t.Shape) {
	case 1:
		if t.Shape[0] == 0 {
			return nil, &ShapeError{Op: "Dense", Want: []int{-1}, Got: t.Shape}
		}
		return mat.NewDense(t.Shape[0], 1, append([]float64(nil), t.Data...)), nil
	case 2:
		if t.Shape[0] == 0 || t.Shape[1] == 0 {
			return nil, &ShapeError{Op: "Dense", Want: []int{-1, -1}, Got: t.Shape}
		}
		return mat.NewDense(t.Shape[0], t.Shape[1], append([]float64(nil), t.Data...)), nil
	}
	return nil, &ShapeError{Op: "Dense", Want: []int{-1, -1}, Got: t.Shape}
}

// Reshape returns a view of t with a new shape over the same data.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	total := 1
	for _, d := range shape {
		total *= d
	}
	if total != len(t.Data) {
		return nil, &ShapeError{Op: "Reshape", Want: shape, Got: t.Shape}
	}
	return &Tensor{Data: t.Data, Shape: append([]int(nil), shape...)}, nil
}

// At returns the element at the given indices.
// For a 2D tensor [a, b], At(i, j) returns the element at position [i][j].
func (t *Tensor) At(indices ...int) float64 {
	return t.Data[t.offset("At", indices)]
}

// Set sets the element at the given indices to the given value.
func (t *Tensor) Set(value float64, indices ...int) {
	t.Data[t.offset("Set", indices)] = value
}

func (t *Tensor) offset(op string, indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("%s: expected %d indices, got %d", op, len(t.Shape), len(indices)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("%s: index %d out of bounds for dimension %d (shape: %v)", op, indices[i], i, t.Shape))
		}
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}
