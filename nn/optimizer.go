package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Optimizer applies gradients to an explicit, fixed parameter list. Nothing
// outside that list is read or written by Step.
type Optimizer interface {
	// Step applies the stored gradient of every bound parameter.
	Step() error

	// Params returns the bound parameter list.
	Params() []*Param

	// Reset clears optimizer state (momentum, moments, accumulators).
	Reset()

	// Name returns the optimizer name
	Name() string
}

// NewOptimizer builds the named optimizer bound to params. Supported names
// are sgd, momentum, adam, adagrad and rmsprop.
func NewOptimizer(name string, learningRate, momentum float64, params []*Param) (Optimizer, error) {
	if learningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", learningRate)
	}
	bound := append([]*Param(nil), params...)
	seen := make(map[string]bool, len(bound))
	for _, p := range bound {
		if seen[p.Name] {
			return nil, fmt.Errorf("parameter %s bound twice", p.Name)
		}
		seen[p.Name] = true
	}
	base := bindings{params: bound, lr: learningRate}
	switch name {
	case "sgd":
		return &SGD{bindings: base}, nil
	case "momentum":
		return &Momentum{bindings: base, momentum: momentum, velocities: map[string][]float64{}}, nil
	case "adam":
		return &Adam{bindings: base, beta1: 0.9, beta2: 0.999, epsilon: 1e-8,
			m: map[string][]float64{}, v: map[string][]float64{}}, nil
	case "adagrad":
		return &Adagrad{bindings: base, initial: 0.1, acc: map[string][]float64{}}, nil
	case "rmsprop":
		return &RMSprop{bindings: base, decay: 0.9, momentum: momentum, epsilon: 1e-10,
			ms: map[string][]float64{}, mom: map[string][]float64{}}, nil
	}
	return nil, fmt.Errorf("unsupported optimizer %q", name)
}

type bindings struct {
	params []*Param
	lr     float64
}

func (b *bindings) Params() []*Param { return append([]*Param(nil), b.params...) }

// each calls f with the flat value and gradient storage of every parameter.
func (b *bindings) each(f func(p *Param, w, g []float64)) error {
	for _, p := range b.params {
		if p.Grad == nil {
			return fmt.Errorf("no gradient for %s", p.Name)
		}
		f(p, p.Value.RawMatrix().Data, p.Grad.RawMatrix().Data)
	}
	return nil
}

func state(m map[string][]float64, p *Param, init float64) []float64 {
	s, ok := m[p.Name]
	if !ok {
		s = make([]float64, p.Size())
		if init != 0 {
			for i := range s {
				s[i] = init
			}
		}
		m[p.Name] = s
	}
	return s
}

// ============================================================================
// SGD: w -= lr * g
// ============================================================================

type SGD struct {
	bindings
}

func (o *SGD) Step() error {
	return o.each(func(_ *Param, w, g []float64) {
		floats.AddScaled(w, -o.lr, g)
	})
}

func (o *SGD) Reset()       {}
func (o *SGD) Name() string { return "sgd" }

// ============================================================================
// Momentum: v = momentum * v + g ; w -= lr * v
// ============================================================================

type Momentum struct {
	bindings
	momentum   float64
	velocities map[string][]float64
}

func (o *Momentum) Step() error {
	return o.each(func(p *Param, w, g []float64) {
		v := state(o.velocities, p, 0)
		floats.Scale(o.momentum, v)
		floats.Add(v, g)
		floats.AddScaled(w, -o.lr, v)
	})
}

func (o *Momentum) Reset()       { o.velocities = map[string][]float64{} }
func (o *Momentum) Name() string { return "momentum" }

// ============================================================================
// Adam with bias correction folded into the step size
// ============================================================================

type Adam struct {
	bindings
	beta1, beta2, epsilon float64
	step                  int
	m, v                  map[string][]float64
}

func (o *Adam) Step() error {
	o.step++
	lrT := o.lr * math.Sqrt(1-math.Pow(o.beta2, float64(o.step))) / (1 - math.Pow(o.beta1, float64(o.step)))
	return o.each(func(p *Param, w, g []float64) {
		m := state(o.m, p, 0)
		v := state(o.v, p, 0)
		for j := range w {
			m[j] = o.beta1*m[j] + (1-o.beta1)*g[j]
			v[j] = o.beta2*v[j] + (1-o.beta2)*g[j]*g[j]
			w[j] -= lrT * m[j] / (math.Sqrt(v[j]) + o.epsilon)
		}
	})
}

func (o *Adam) Reset() {
	o.step = 0
	o.m = map[string][]float64{}
	o.v = map[string][]float64{}
}

func (o *Adam) Name() string { return "adam" }

// ============================================================================
// Adagrad
// ============================================================================

type Adagrad struct {
	bindings
	initial float64
	acc     map[string][]float64
}

func (o *Adagrad) Step() error {
	return o.each(func(p *Param, w, g []float64) {
		acc := state(o.acc, p, o.initial)
		for j := range w {
			acc[j] += g[j] * g[j]
			w[j] -= o.lr * g[j] / math.Sqrt(acc[j])
		}
	})
}

func (o *Adagrad) Reset()       { o.acc = map[string][]float64{} }
func (o *Adagrad) Name() string { return "adagrad" }

// ============================================================================
// RMSprop with momentum
// ============================================================================

type RMSprop struct {
	bindings
	decay, momentum, epsilon float64
	ms, mom                  map[string][]float64
}

func (o *RMSprop) Step() error {
	return o.each(func(p *Param, w, g []float64) {
		ms := state(o.ms, p, 1)
		mom := state(o.mom, p, 0)
		for j := range w {
			ms[j] = o.decay*ms[j] + (1-o.decay)*g[j]*g[j]
			mom[j] = o.momentum*mom[j] + o.lr*g[j]/math.Sqrt(ms[j]+o.epsilon)
			w[j] -= mom[j]
		}
	})
}

func (o *RMSprop) Reset() {
	o.ms = map[string][]float64{}
	o.mom = map[string][]float64{}
}

func (o *RMSprop) Name() string { return "rmsprop" }
