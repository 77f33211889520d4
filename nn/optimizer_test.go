package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func quadraticParam(name string, v float64) *Param {
	return NewParam(name, 0, 0, RoleWeight, mat.NewDense(1, 1, []float64{v}))
}

// minimise w² by feeding grad = 2w each step.
func runQuadratic(t *testing.T, name string, lr float64, steps int) float64 {
	p := quadraticParam("w", 3)
	opt, err := NewOptimizer(name, lr, 0.9, []*Param{p})
	require.NoError(t, err)
	require.Equal(t, name, opt.Name())
	for i := 0; i < steps; i++ {
		require.NoError(t, p.SetGrad(mat.NewDense(1, 1, []float64{2 * p.Value.At(0, 0)})))
		require.NoError(t, opt.Step())
	}
	return p.Value.At(0, 0)
}

func TestOptimizersDecreaseQuadratic(t *testing.T) {
	for _, name := range []string{"sgd", "momentum", "adam", "adagrad", "rmsprop"} {
		t.Run(name, func(t *testing.T) {
			got := runQuadratic(t, name, 0.05, 200)
			assert.Less(t, math.Abs(got), 3.0, "optimizer %s did not move toward zero", name)
		})
	}
}

func TestSGDStep(t *testing.T) {
	p := quadraticParam("w", 1)
	opt, err := NewOptimizer("sgd", 0.5, 0, []*Param{p})
	require.NoError(t, err)
	require.NoError(t, p.SetGrad(mat.NewDense(1, 1, []float64{0.4})))
	require.NoError(t, opt.Step())
	assert.InDelta(t, 0.8, p.Value.At(0, 0), 1e-12)
}

func TestAdamFirstStepIsLearningRate(t *testing.T) {
	p := quadraticParam("w", 1)
	opt, err := NewOptimizer("adam", 0.01, 0, []*Param{p})
	require.NoError(t, err)
	require.NoError(t, p.SetGrad(mat.NewDense(1, 1, []float64{5})))
	require.NoError(t, opt.Step())
	// bias-corrected first step moves by lr·sign(g)
	assert.InDelta(t, 0.99, p.Value.At(0, 0), 1e-6)
}

func TestOptimizerOnlyTouchesBoundParams(t *testing.T) {
	bound := quadraticParam("bound", 1)
	other := quadraticParam("other", 1)
	require.NoError(t, other.SetGrad(mat.NewDense(1, 1, []float64{100})))
	opt, err := NewOptimizer("adam", 0.1, 0, []*Param{bound})
	require.NoError(t, err)
	require.NoError(t, bound.SetGrad(mat.NewDense(1, 1, []float64{1})))
	require.NoError(t, opt.Step())
	assert.Equal(t, 1.0, other.Value.At(0, 0))
	assert.NotEqual(t, 1.0, bound.Value.At(0, 0))
	assert.Len(t, opt.Params(), 1)
}

func TestOptimizerErrors(t *testing.T) {
	p := quadraticParam("w", 1)
	_, err := NewOptimizer("lbfgs", 0.1, 0, []*Param{p})
	assert.Error(t, err)
	_, err = NewOptimizer("sgd", 0, 0, []*Param{p})
	assert.Error(t, err)
	_, err = NewOptimizer("sgd", 0.1, 0, []*Param{p, p})
	assert.Error(t, err)

	opt, err := NewOptimizer("sgd", 0.1, 0, []*Param{p})
	require.NoError(t, err)
	assert.Error(t, opt.Step(), "step without gradient")
}

func TestMomentumReset(t *testing.T) {
	p := quadraticParam("w", 0)
	opt, err := NewOptimizer("momentum", 1, 0.5, []*Param{p})
	require.NoError(t, err)
	require.NoError(t, p.SetGrad(mat.NewDense(1, 1, []float64{1})))
	require.NoError(t, opt.Step())
	require.NoError(t, opt.Step())
	// v1 = 1, v2 = 1.5
	assert.InDelta(t, -2.5, p.Value.At(0, 0), 1e-12)
	opt.Reset()
	require.NoError(t, opt.Step())
	assert.InDelta(t, -3.5, p.Value.At(0, 0), 1e-12)
}
