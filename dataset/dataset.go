// Package dataset provides the in-memory minibatch source consumed by the
// progressive trainer.
package dataset

import (
	"fmt"
	"iter"

	"gonum.org/v1/gonum/mat"

	"prognet/tensor"
)

// Batch is one minibatch. Y and W are nil when the source carries no
// labels or weights.
type Batch struct {
	X   *mat.Dense // (n, F)
	Y   *mat.Dense // (n, T)
	W   *mat.Dense // (n, T)
	IDs []string
}

// Size is the number of rows in the batch.
func (b Batch) Size() int {
	r, _ := b.X.Dims()
	return r
}

// Dataset yields minibatches in a fixed order.
type Dataset interface {
	// IterBatches yields consecutive batches of batchSize rows. When pad is
	// set, a short final batch is filled up to batchSize by repeating its
	// own rows.
	IterBatches(batchSize int, pad bool) iter.Seq[Batch]
	Len() int
	NFeatures() int
	NTasks() int
}

// Memory is a Dataset held in dense matrices.
type Memory struct {
	x, y, w *mat.Dense
	ids     []string
}

// NewMemory wraps x (n, F) and optional y, w (n, T). A nil w with a non-nil
// y means every example has weight 1. ids may be nil.
func NewMemory(x, y, w *mat.Dense, ids []string) (*Memory, error) {
	if x == nil {
		return nil, fmt.Errorf("dataset needs a feature matrix")
	}
	n, _ := x.Dims()
	if y != nil {
		if r, _ := y.Dims(); r != n {
			return nil, &tensor.ShapeError{Op: "NewMemory labels", Want: []int{n, -1}, Got: dims(y)}
		}
		if w == nil {
			_, t := y.Dims()
			w = tensor.Fill(n, t, 1)
		}
	}
	if w != nil {
		wr, wc := w.Dims()
		if wr != n {
			return nil, &tensor.ShapeError{Op: "NewMemory weights", Want: []int{n, -1}, Got: dims(w)}
		}
		if y != nil {
			if _, t := y.Dims(); t != wc {
				return nil, &tensor.ShapeError{Op: "NewMemory weights", Want: []int{n, t}, Got: dims(w)}
			}
		}
	}
	if ids == nil {
		ids = make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("%d", i)
		}
	}
	if len(ids) != n {
		return nil, &tensor.ShapeError{Op: "NewMemory ids", Want: []int{n}, Got: []int{len(ids)}}
	}
	return &Memory{x: x, y: y, w: w, ids: ids}, nil
}

func dims(m mat.Matrix) []int {
	r, c := m.Dims()
	return []int{r, c}
}

func (m *Memory) Len() int {
	r, _ := m.x.Dims()
	return r
}

func (m *Memory) NFeatures() int {
	_, c := m.x.Dims()
	return c
}

func (m *Memory) NTasks() int {
	switch {
	case m.y != nil:
		_, c := m.y.Dims()
		return c
	case m.w != nil:
		_, c := m.w.Dims()
		return c
	}
	return 0
}

// X returns the feature matrix.
func (m *Memory) X() *mat.Dense { return m.x }

// Y returns the label matrix, or nil.
func (m *Memory) Y() *mat.Dense { return m.y }

func (m *Memory) IterBatches(batchSize int, pad bool) iter.Seq[Batch] {
	return func(yield func(Batch) bool) {
		n := m.Len()
		if batchSize <= 0 {
			batchSize = n
		}
		for start := 0; start < n; start += batchSize {
			end := min(start+batchSize, n)
			rows := make([]int, 0, batchSize)
			for i := start; i < end; i++ {
				rows = append(rows, i)
			}
			if pad {
				for k := 0; len(rows) < batchSize; k++ {
					rows = append(rows, start+k%(end-start))
				}
			}
			if !yield(m.gather(rows)) {
				return
			}
		}
	}
}

func (m *Memory) gather(rows []int) Batch {
	b := Batch{X: gatherRows(m.x, rows), IDs: make([]string, len(rows))}
	if m.y != nil {
		b.Y = gatherRows(m.y, rows)
	}
	if m.w != nil {
		b.W = gatherRows(m.w, rows)
	}
	for i, r := range rows {
		b.IDs[i] = m.ids[r]
	}
	return b
}

func gatherRows(src *mat.Dense, rows []int) *mat.Dense {
	_, c := src.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, src.RawRowView(r))
	}
	return out
}
