package progressive

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"prognet/tensor"
)

// Feed maps slot names to the values bound for one step.
type Feed map[string]*tensor.Tensor

// FeaturesSlot holds the (n, F) feature matrix.
const FeaturesSlot = "features"

// LabelSlot is the label slot of task t.
func LabelSlot(t int) string { return fmt.Sprintf("labels_%d", t) }

// WeightSlot is the example-weight slot of task t.
func WeightSlot(t int) string { return fmt.Sprintf("weights_%d", t) }

// ConstructFeedDict binds a minibatch for task. Labels and weights are
// column task of y and w as (n, 1); when y is nil the labels are zeros and
// when w is nil the weights are ones, both of length batchSize.
func ConstructFeedDict(task int, x, y, w *mat.Dense, batchSize int) (Feed, error) {
	if x == nil {
		return nil, &tensor.ShapeError{Op: "ConstructFeedDict features", Want: []int{-1, -1}, Got: nil}
	}
	feed := Feed{FeaturesSlot: tensor.FromDense(x)}

	if y != nil {
		col, err := tensor.Column(y, task)
		if err != nil {
			return nil, fmt.Errorf("labels: %w", err)
		}
		feed[LabelSlot(task)] = tensor.FromDense(col)
	} else {
		feed[LabelSlot(task)] = tensor.New(batchSize)
	}

	if w != nil {
		col, err := tensor.Column(w, task)
		if err != nil {
			return nil, fmt.Errorf("weights: %w", err)
		}
		feed[WeightSlot(task)] = tensor.FromDense(col)
	} else {
		feed[WeightSlot(task)] = tensor.Filled(1, batchSize)
	}
	return feed, nil
}

func (f Feed) dense(slot string) (*mat.Dense, error) {
	v, ok := f[slot]
	if !ok {
		return nil, fmt.Errorf("feed has no slot %q", slot)
	}
	m, err := v.Dense()
	if err != nil {
		return nil, fmt.Errorf("slot %s: %w", slot, err)
	}
	return m, nil
}
