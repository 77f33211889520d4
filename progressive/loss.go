package progressive

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"prognet/nn"
)

// LossAssembler derives one independent scalar loss per task. Losses are
// summed over the batch and divided by the fixed model batch size, not by
// the number of weighted examples.
type LossAssembler struct {
	cost      nn.Cost
	batchSize int
}

func NewLossAssembler(cost nn.Cost, batchSize int) *LossAssembler {
	return &LossAssembler{cost: cost, batchSize: batchSize}
}

func (a *LossAssembler) targets(feed Feed, task int) (label, weight *mat.Dense, err error) {
	if label, err = feed.dense(LabelSlot(task)); err != nil {
		return nil, nil, err
	}
	if weight, err = feed.dense(WeightSlot(task)); err != nil {
		return nil, nil, err
	}
	return label, weight, nil
}

// Loss is the scalar loss of task given its final-layer output.
func (a *LossAssembler) Loss(output *mat.Dense, feed Feed, task int) (float64, error) {
	label, weight, err := a.targets(feed, task)
	if err != nil {
		return 0, err
	}
	elem, err := a.cost.Cost(output, label, weight)
	if err != nil {
		return 0, fmt.Errorf("task %d loss: %w", task, err)
	}
	return floats.Sum(elem.RawMatrix().Data) / float64(a.batchSize), nil
}

// Grad is dLoss/dOutput for task.
func (a *LossAssembler) Grad(output *mat.Dense, feed Feed, task int) (*mat.Dense, error) {
	label, weight, err := a.targets(feed, task)
	if err != nil {
		return nil, err
	}
	g, err := a.cost.Grad(output, label, weight)
	if err != nil {
		return nil, fmt.Errorf("task %d loss grad: %w", task, err)
	}
	g.Scale(1/float64(a.batchSize), g)
	return g, nil
}

// TaskLosses evaluates the loss of every task in outputs against feeds,
// one feed per task.
func (a *LossAssembler) TaskLosses(outputs []*mat.Dense, feeds []Feed) ([]float64, error) {
	if len(outputs) != len(feeds) {
		return nil, fmt.Errorf("got %d outputs and %d feeds", len(outputs), len(feeds))
	}
	losses := make([]float64, len(outputs))
	for t, out := range outputs {
		l, err := a.Loss(out, feeds[t], t)
		if err != nil {
			return nil, err
		}
		losses[t] = l
	}
	return losses, nil
}
