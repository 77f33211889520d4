package progressive

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"prognet/nn"
)

// Key identifies one parameter of the column graph.
type Key struct {
	Layer int
	Task  int
	Role  nn.Role
}

// Name is the scoped parameter name, e.g. task1/V_layer_2_task1.
func (k Key) Name() string {
	return fmt.Sprintf("%s/%s_layer_%d_task%d", TaskScope(k.Task), k.Role, k.Layer, k.Task)
}

// TaskScope is the namespace holding every parameter owned by task t.
func TaskScope(t int) string { return fmt.Sprintf("task%d", t) }

// Registry owns the parameters of one graph. A key can be allocated once.
type Registry struct {
	byKey  map[Key]*nn.Param
	byName map[string]*nn.Param
	order  []*nn.Param
}

func NewRegistry() *Registry {
	return &Registry{byKey: map[Key]*nn.Param{}, byName: map[string]*nn.Param{}}
}

// Allocate registers value under k.
func (r *Registry) Allocate(k Key, value *mat.Dense) (*nn.Param, error) {
	if _, ok := r.byKey[k]; ok {
		return nil, fmt.Errorf("parameter %s already allocated", k.Name())
	}
	p := nn.NewParam(k.Name(), k.Layer, k.Task, k.Role, value)
	r.byKey[k] = p
	r.byName[p.Name] = p
	r.order = append(r.order, p)
	return p, nil
}

// Lookup returns the parameter allocated under k.
func (r *Registry) Lookup(k Key) (*nn.Param, bool) {
	p, ok := r.byKey[k]
	return p, ok
}

func (r *Registry) ByName(name string) (*nn.Param, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Params returns every parameter in allocation order.
func (r *Registry) Params() []*nn.Param {
	return append([]*nn.Param(nil), r.order...)
}

func (r *Registry) Len() int { return len(r.order) }
