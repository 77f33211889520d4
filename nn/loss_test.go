package nn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"prognet/tensor"
)

func TestL2Cost(t *testing.T) {
	out := mat.NewDense(3, 1, []float64{1, 2, 3})
	label := mat.NewDense(3, 1, []float64{0, 2, 5})
	weight := mat.NewDense(3, 1, []float64{1, 1, 0.5})

	c, err := L2{}.Cost(out, label, weight)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0, 1}, c.RawMatrix().Data)

	g, err := L2{}.Grad(out, label, weight)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, -1}, g.RawMatrix().Data)
}

func TestCostBroadcastsColumn(t *testing.T) {
	out := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	label := mat.NewDense(2, 1, []float64{0, 1})
	weight := mat.NewDense(2, 1, []float64{2, 2})
	c, err := L1{}.Cost(out, label, weight)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 0, 0}, c.RawMatrix().Data)
}

func TestHuberCost(t *testing.T) {
	h := Huber{Delta: 1}
	out := mat.NewDense(2, 1, []float64{0.5, 3})
	zero := mat.NewDense(2, 1, nil)
	ones := mat.NewDense(2, 1, []float64{1, 1})
	c, err := h.Cost(out, zero, ones)
	require.NoError(t, err)
	assert.InDelta(t, 0.125, c.At(0, 0), 1e-12)
	assert.InDelta(t, 2.5, c.At(1, 0), 1e-12)
	g, err := h.Grad(out, zero, ones)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, g.At(0, 0), 1e-12)
	assert.InDelta(t, 1, g.At(1, 0), 1e-12)
}

func TestCostShapeError(t *testing.T) {
	_, err := L2{}.Cost(mat.NewDense(3, 1, nil), mat.NewDense(2, 1, nil), mat.NewDense(3, 1, nil))
	var se *tensor.ShapeError
	assert.True(t, errors.As(err, &se))
}

func TestLookupCost(t *testing.T) {
	c, err := LookupCost("l2")
	require.NoError(t, err)
	assert.Equal(t, "l2", c.String())
	_, err = LookupCost("hinge")
	assert.ErrorContains(t, err, "hinge")
}
