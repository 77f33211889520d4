// Package nn holds the trainable-parameter, initialization, cost and
// optimizer primitives shared by the column networks.
package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"prognet/tensor"
)

// Role names the part of a column block a parameter plays.
type Role string

const (
	RoleWeight      Role = "W"
	RoleBias        Role = "b"
	RoleAlpha       Role = "alpha"
	RoleLateralV    Role = "V"
	RoleLateralBias Role = "b_lat"
	RoleLateralU    Role = "U"
)

// Param is a trainable matrix with its most recent gradient.
// Vectors are stored as 1×n matrices and scalars as 1×1.
type Param struct {
	Name  string
	Layer int
	Task  int
	Role  Role
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam wraps value; the gradient starts unset.
func NewParam(name string, layer, task int, role Role, value *mat.Dense) *Param {
	return &Param{Name: name, Layer: layer, Task: task, Role: role, Value: value}
}

// Dims returns the parameter shape.
func (p *Param) Dims() (int, int) { return p.Value.Dims() }

// Size is the number of scalars held by p.
func (p *Param) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// SetGrad stores g as the gradient of p. g must match the parameter shape.
func (p *Param) SetGrad(g mat.Matrix) error {
	r, c := p.Value.Dims()
	gr, gc := g.Dims()
	if r != gr || c != gc {
		return &tensor.ShapeError{Op: "SetGrad " + p.Name, Want: []int{r, c}, Got: []int{gr, gc}}
	}
	if p.Grad == nil {
		p.Grad = mat.NewDense(r, c, nil)
	}
	p.Grad.Copy(g)
	return nil
}

// ZeroGrad drops the stored gradient.
func (p *Param) ZeroGrad() { p.Grad = nil }

// Snapshot returns a deep copy of the current value.
func (p *Param) Snapshot() *mat.Dense { return mat.DenseCopyOf(p.Value) }

// Assign overwrites the value of p with v.
func (p *Param) Assign(v mat.Matrix) error {
	r, c := p.Value.Dims()
	vr, vc := v.Dims()
	if r != vr || c != vc {
		return &tensor.ShapeError{Op: "Assign " + p.Name, Want: []int{r, c}, Got: []int{vr, vc}}
	}
	p.Value.Copy(v)
	return nil
}

func (p *Param) String() string {
	r, c := p.Value.Dims()
	return fmt.Sprintf("%s[%dx%d]", p.Name, r, c)
}

// CountParams sums the scalar sizes of params.
func CountParams(params []*Param) int {
	n := 0
	for _, p := range params {
		n += p.Size()
	}
	return n
}
