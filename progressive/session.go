package progressive

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"prognet/nn"
	"prognet/tensor"
)

// unitState holds the cached forward values of one (layer, task) block.
type unitState struct {
	input      *mat.Dense // previous layer activation (or features)
	lateral    *mat.Dense // concatenated earlier-task activations
	scaled     *mat.Dense // alpha · lateral
	bottleneck *mat.Dense // scaled·V + b_lat
	pre        *mat.Dense
	mask       *mat.Dense // nil when dropout is off
	out        *mat.Dense
}

// Session is the execution context of one graph. A training session draws
// dropout masks from its own source; an evaluation session applies none.
// Sessions are not safe for concurrent use.
type Session struct {
	graph *Graph
	src   rand.Source
	arena [][]*unitState
	upto  int
}

// NewSession binds an execution context to g.
func NewSession(g *Graph, src rand.Source) *Session {
	s := &Session{graph: g, src: src, arena: make([][]*unitState, g.Depth()), upto: -1}
	for i := range s.arena {
		s.arena[i] = make([]*unitState, g.NTasks())
	}
	return s
}

func (s *Session) Graph() *Graph { return s.graph }

// Forward runs columns 0..upto on the features slot of feed and returns
// their final-layer outputs.
func (s *Session) Forward(feed Feed, upto int) ([]*mat.Dense, error) {
	x, err := feed.dense(FeaturesSlot)
	if err != nil {
		return nil, err
	}
	return s.ForwardFeatures(x, upto)
}

// ForwardFeatures is Forward on a raw (n, F) feature matrix.
func (s *Session) ForwardFeatures(x *mat.Dense, upto int) ([]*mat.Dense, error) {
	n, f := x.Dims()
	if f != s.graph.NFeatures() {
		return nil, &tensor.ShapeError{Op: "Forward features", Want: []int{n, s.graph.NFeatures()}, Got: []int{n, f}}
	}
	return s.forward(x, nil, upto)
}

// ForwardPreactivated runs columns 0..upto from externally computed
// first-layer pre-activations, one (n, size0) matrix per task.
func (s *Session) ForwardPreactivated(pre0 []*mat.Dense, upto int) ([]*mat.Dense, error) {
	if len(pre0) <= upto {
		return nil, &tensor.ShapeError{Op: "ForwardPreactivated", Want: []int{upto + 1}, Got: []int{len(pre0)}}
	}
	return s.forward(nil, pre0, upto)
}

func (s *Session) forward(x *mat.Dense, pre0 []*mat.Dense, upto int) ([]*mat.Dense, error) {
	g := s.graph
	if upto < 0 || upto >= g.NTasks() {
		return nil, &tensor.ShapeError{Op: "Forward tasks", Want: []int{g.NTasks()}, Got: []int{upto + 1}}
	}
	s.upto = -1
	for i := 0; i < g.Depth(); i++ {
		for t := 0; t <= upto; t++ {
			col := g.Unit(i, t)
			st := &unitState{}
			var err error
			switch {
			case i > 0:
				st.input = s.arena[i-1][t].out
				st.pre, err = tensor.MatMul(st.input, col.W.Value)
			case x != nil:
				st.input = x
				st.pre, err = tensor.MatMul(st.input, col.W.Value)
			default:
				st.pre, err = s.checkPreactivation(pre0[t], col)
			}
			if err != nil {
				return nil, err
			}
			if i > 0 || x != nil {
				if err := tensor.AddRow(st.pre, col.B.Value.RawRowView(0)); err != nil {
					return nil, err
				}
			}
			if col.Adapter != nil {
				lat, err := s.lateral(st, i, t, col)
				if err != nil {
					return nil, err
				}
				if st.pre, err = tensor.Add(st.pre, lat); err != nil {
					return nil, err
				}
			}
			st.out = tensor.Relu(st.pre)
			if g.Training() && col.DropoutRate > 0 {
				r, c := st.out.Dims()
				st.mask = nn.DropoutMask(r, c, col.DropoutRate, s.src)
				st.out.MulElem(st.out, st.mask)
			}
			s.arena[i][t] = st
		}
	}
	s.upto = upto
	outs := make([]*mat.Dense, upto+1)
	for t := range outs {
		outs[t] = s.arena[g.Depth()-1][t].out
	}
	return outs, nil
}

func (s *Session) checkPreactivation(pre *mat.Dense, col *Column) (*mat.Dense, error) {
	if pre == nil {
		return nil, &tensor.ShapeError{Op: "ForwardPreactivated", Want: []int{-1, col.OutSize}, Got: nil}
	}
	r, c := pre.Dims()
	if c != col.OutSize {
		return nil, &tensor.ShapeError{Op: "ForwardPreactivated", Want: []int{r, col.OutSize}, Got: []int{r, c}}
	}
	return mat.DenseCopyOf(pre), nil
}

// lateral computes ((alpha·concat)·V + b_lat)·U from the layer i-1
// activations of tasks 0..t-1.
func (s *Session) lateral(st *unitState, i, t int, col *Column) (*mat.Dense, error) {
	prev := make([]mat.Matrix, t)
	for tp := 0; tp < t; tp++ {
		prev[tp] = s.arena[i-1][tp].out
	}
	concat, err := tensor.ConcatColumns(prev...)
	if err != nil {
		return nil, err
	}
	n, width := concat.Dims()
	if want := t * col.InSize; width != want {
		return nil, &tensor.ShapeError{Op: "lateral concat", Want: []int{n, want}, Got: []int{n, width}}
	}
	ad := col.Adapter
	st.lateral = concat
	st.scaled = mat.NewDense(n, width, nil)
	st.scaled.Scale(ad.Alpha.Value.At(0, 0), concat)
	if st.bottleneck, err = tensor.MatMul(st.scaled, ad.V.Value); err != nil {
		return nil, err
	}
	if err := tensor.AddRow(st.bottleneck, ad.BLat.Value.RawRowView(0)); err != nil {
		return nil, err
	}
	return tensor.MatMul(st.bottleneck, ad.U.Value)
}

// Backward propagates dOut (the loss gradient at task's output) through
// column task only and stores gradients on its parameters. Earlier
// columns are treated as constants.
func (s *Session) Backward(task int, dOut *mat.Dense) error {
	g := s.graph
	if task > s.upto {
		return &InvalidStateError{Op: "Backward", Reason: "no forward pass cached for this task"}
	}
	grad := dOut
	for i := g.Depth() - 1; i >= 0; i-- {
		col := g.Unit(i, task)
		st := s.arena[i][task]
		if st.input == nil {
			return &InvalidStateError{Op: "Backward", Reason: "forward pass ran from pre-activations"}
		}
		if st.mask != nil {
			var masked mat.Dense
			masked.MulElem(grad, st.mask)
			grad = &masked
		}
		dPre := tensor.ReluGrad(st.pre, grad)

		dW := mat.NewDense(col.InSize, col.OutSize, nil)
		dW.Mul(st.input.T(), dPre)
		if err := col.W.SetGrad(dW); err != nil {
			return err
		}
		if err := col.B.SetGrad(mat.NewDense(1, col.OutSize, tensor.ColumnSums(dPre))); err != nil {
			return err
		}
		if col.Adapter != nil {
			if err := s.backwardAdapter(st, col, dPre); err != nil {
				return err
			}
		}
		if i > 0 {
			r, _ := dPre.Dims()
			next := mat.NewDense(r, col.InSize, nil)
			next.Mul(dPre, col.W.Value.T())
			grad = next
		}
	}
	return nil
}

func (s *Session) backwardAdapter(st *unitState, col *Column, dPre *mat.Dense) error {
	ad := col.Adapter
	n, width := st.scaled.Dims()

	dU := mat.NewDense(col.InSize, col.OutSize, nil)
	dU.Mul(st.bottleneck.T(), dPre)
	if err := ad.U.SetGrad(dU); err != nil {
		return err
	}

	dBottleneck := mat.NewDense(n, col.InSize, nil)
	dBottleneck.Mul(dPre, ad.U.Value.T())
	if err := ad.BLat.SetGrad(mat.NewDense(1, col.InSize, tensor.ColumnSums(dBottleneck))); err != nil {
		return err
	}

	dV := mat.NewDense(width, col.InSize, nil)
	dV.Mul(st.scaled.T(), dBottleneck)
	if err := ad.V.SetGrad(dV); err != nil {
		return err
	}

	dScaled := mat.NewDense(n, width, nil)
	dScaled.Mul(dBottleneck, ad.V.Value.T())
	dScaled.MulElem(dScaled, st.lateral)
	dAlpha := floats.Sum(dScaled.RawMatrix().Data)
	return ad.Alpha.SetGrad(mat.NewDense(1, 1, []float64{dAlpha}))
}
