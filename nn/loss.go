package nn

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"prognet/tensor"
)

// Cost is an elementwise weighted loss. Label and weight are (n, 1) columns
// broadcast across the output width, or full (n, k) matrices.
type Cost interface {
	// Cost returns the weighted elementwise loss.
	Cost(output, label, weight mat.Matrix) (*mat.Dense, error)
	// Grad returns the derivative of the summed Cost with respect to output.
	Grad(output, label, weight mat.Matrix) (*mat.Dense, error)
	fmt.Stringer
}

// CostLookup maps configuration names to cost functions.
var CostLookup = map[string]Cost{
	"l2":    L2{},
	"l1":    L1{},
	"huber": Huber{Delta: 1},
}

// LookupCost resolves a cost by name.
func LookupCost(name string) (Cost, error) {
	c, ok := CostLookup[name]
	if !ok {
		names := make([]string, 0, len(CostLookup))
		for n := range CostLookup {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unsupported cost %q (have %v)", name, names)
	}
	return c, nil
}

// L2 is 0.5·(output-label)²·weight.
type L2 struct{}

func (L2) Cost(output, label, weight mat.Matrix) (*mat.Dense, error) {
	return elementwise(output, label, weight, func(d float64) float64 { return 0.5 * d * d })
}

func (L2) Grad(output, label, weight mat.Matrix) (*mat.Dense, error) {
	return elementwise(output, label, weight, func(d float64) float64 { return d })
}

func (L2) String() string { return "l2" }

// L1 is |output-label|·weight.
type L1 struct{}

func (L1) Cost(output, label, weight mat.Matrix) (*mat.Dense, error) {
	return elementwise(output, label, weight, math.Abs)
}

func (L1) Grad(output, label, weight mat.Matrix) (*mat.Dense, error) {
	return elementwise(output, label, weight, sign)
}

func (L1) String() string { return "l1" }

// Huber is quadratic within Delta of the label and linear outside.
type Huber struct {
	Delta float64
}

func (h Huber) Cost(output, label, weight mat.Matrix) (*mat.Dense, error) {
	return elementwise(output, label, weight, func(d float64) float64 {
		if a := math.Abs(d); a > h.Delta {
			return h.Delta * (a - 0.5*h.Delta)
		}
		return 0.5 * d * d
	})
}

func (h Huber) Grad(output, label, weight mat.Matrix) (*mat.Dense, error) {
	return elementwise(output, label, weight, func(d float64) float64 {
		if math.Abs(d) > h.Delta {
			return h.Delta * sign(d)
		}
		return d
	})
}

func (Huber) String() string { return "huber" }

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// elementwise applies f to output-label and scales by weight.
func elementwise(output, label, weight mat.Matrix, f func(float64) float64) (*mat.Dense, error) {
	r, c := output.Dims()
	if err := broadcastable("label", r, c, label); err != nil {
		return nil, err
	}
	if err := broadcastable("weight", r, c, weight); err != nil {
		return nil, err
	}
	o := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := output.At(i, j) - broadcastAt(label, i, j)
			o.Set(i, j, f(d)*broadcastAt(weight, i, j))
		}
	}
	return o, nil
}

func broadcastable(op string, r, c int, m mat.Matrix) error {
	mr, mc := m.Dims()
	if mr != r || (mc != 1 && mc != c) {
		return &tensor.ShapeError{Op: op, Want: []int{r, 1}, Got: []int{mr, mc}}
	}
	return nil
}

func broadcastAt(m mat.Matrix, i, j int) float64 {
	if _, c := m.Dims(); c == 1 {
		return m.At(i, 0)
	}
	return m.At(i, j)
}
