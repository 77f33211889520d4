package progressive

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"prognet/checkpoint"
	"prognet/dataset"
	"prognet/nn"
	"prognet/tensor"
	"prognet/utils"
)

// ModelFile is the architecture description written next to checkpoints.
const ModelFile = "model.json"

// Regressor is a progressive multitask regressor. Tasks are trained one
// after another; training task t updates only the parameters of column t.
type Regressor struct {
	nTasks     int
	nFeatures  int
	cfg        NetworkConfig
	hp         Hyperparams
	cost       nn.Cost
	buildSrc   rand.Source
	sessionSrc rand.Source
	graph      *Graph
	modelDir   string
	scaling    *FeatureScaling
}

// FeatureScaling holds the per-feature standardization applied to the
// training data. Callers apply it to inputs before prediction.
type FeatureScaling struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// NewRegressor validates the architecture and hyperparameters. No
// parameters are allocated until Build.
func NewRegressor(nTasks, nFeatures int, cfg NetworkConfig, hp Hyperparams) (*Regressor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if nTasks <= 0 || nFeatures <= 0 {
		return nil, &tensor.ShapeError{Op: "NewRegressor", Want: []int{-1, -1}, Got: []int{nTasks, nFeatures}}
	}
	if hp.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", hp.BatchSize)
	}
	cost, err := nn.LookupCost(hp.Cost)
	if err != nil {
		return nil, err
	}
	if _, err := nn.NewOptimizer(hp.Optimizer, hp.LearningRate, hp.Momentum, nil); err != nil {
		return nil, err
	}
	seed := hp.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Regressor{
		nTasks:     nTasks,
		nFeatures:  nFeatures,
		cfg:        cfg,
		hp:         hp,
		cost:       cost,
		buildSrc:   rand.NewSource(uint64(seed)),
		sessionSrc: rand.NewSource(uint64(seed) + 1),
		modelDir:   hp.ModelDir,
	}, nil
}

// Build allocates the training graph.
func (r *Regressor) Build() error {
	g, err := Build(r.cfg, r.nTasks, r.nFeatures, true, r.buildSrc)
	if err != nil {
		return err
	}
	r.graph = g
	utils.Logf("Built %d tasks x %d layers: %d parameters", r.nTasks, r.cfg.Depth(), nn.CountParams(g.Params()))
	return nil
}

// Graph returns the training graph, or nil before Build.
func (r *Regressor) Graph() *Graph { return r.graph }

// ModelDir is the checkpoint directory; set by the first Fit when the
// hyperparameters leave it empty.
func (r *Regressor) ModelDir() string { return r.modelDir }

func (r *Regressor) NTasks() int              { return r.nTasks }
func (r *Regressor) NFeatures() int           { return r.nFeatures }
func (r *Regressor) Config() NetworkConfig    { return r.cfg }
func (r *Regressor) Hyperparams() Hyperparams { return r.hp }

// FitReport summarizes one Fit call.
type FitReport struct {
	RunID       string
	ModelDir    string
	Checkpoints []checkpoint.Entry
	// Latest is the most recent checkpoint; RestoreLatest reloads it.
	Latest checkpoint.Entry
	// EpochLosses[t][e] is the average batch loss of task t in epoch e.
	EpochLosses [][]float64
	Steps       int
	Stats       utils.TimingStats
}

// Fit trains every task in index order, checkpointing after
// initialization (tag 0), after each task t (tag t) and at the end (tag
// T). A canceled ctx stops training between batches; checkpoints already
// written stay valid.
func (r *Regressor) Fit(ctx context.Context, ds dataset.Dataset, fc FitConfig) (*FitReport, error) {
	if r.graph == nil {
		return nil, &InvalidStateError{Op: "Fit", Reason: "graph not built"}
	}
	if !r.graph.Training() {
		return nil, &InvalidStateError{Op: "Fit", Reason: "graph not in training mode"}
	}
	if ds.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	if ds.NFeatures() != r.nFeatures || ds.NTasks() < r.nTasks {
		return nil, &tensor.ShapeError{Op: "Fit dataset", Want: []int{r.nFeatures, r.nTasks}, Got: []int{ds.NFeatures(), ds.NTasks()}}
	}
	if r.modelDir == "" {
		dir, err := os.MkdirTemp("", "prognet-")
		if err != nil {
			return nil, fmt.Errorf("failed to create model dir: %w", err)
		}
		r.modelDir = dir
	}
	if err := r.SaveConfig(); err != nil {
		return nil, err
	}

	start := time.Now()
	st, err := newTrainingState(r.graph, NewSession(r.graph, r.sessionSrc), r.modelDir, fc.MaxCheckpointsToKeep)
	if err != nil {
		return nil, err
	}
	report := &FitReport{RunID: st.RunID.String(), ModelDir: r.modelDir, EpochLosses: make([][]float64, r.nTasks)}
	defer func() {
		report.Checkpoints = st.Saver.Checkpoints()
		if e, ok := st.Saver.Latest(); ok {
			report.Latest = e
			utils.Logf("Latest checkpoint %d: %s", e.Tag, e.Path)
		}
	}()

	if _, err := st.checkpoint(0); err != nil {
		return report, err
	}
	for task := 0; task < r.nTasks; task++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := r.fitTask(ctx, st, ds, task, fc, report); err != nil {
			return report, fmt.Errorf("task %d: %w", task, err)
		}
		if _, err := st.checkpoint(task); err != nil {
			return report, err
		}
	}
	if _, err := st.checkpoint(r.nTasks); err != nil {
		return report, err
	}
	st.Phase = PhaseDone

	st.Stats.TotalTime = time.Since(start)
	report.Stats = st.Stats
	utils.PrintTimingStats(&report.Stats, report.Steps)
	return report, nil
}

func (r *Regressor) fitTask(ctx context.Context, st *TrainingState, ds dataset.Dataset, task int, fc FitConfig, report *FitReport) error {
	st.Phase = PhaseTrainTask
	st.Task = task
	opt, err := nn.NewOptimizer(r.hp.Optimizer, r.hp.LearningRate, r.hp.Momentum, st.Graph.TaskParams(task))
	if err != nil {
		return err
	}
	losses := NewLossAssembler(r.cost, r.hp.BatchSize)

	utils.Logf("Training task %d for %d epochs", task, fc.NbEpoch)
	for epoch := 0; epoch < fc.NbEpoch; epoch++ {
		total, batches := 0.0, 0
		for batch := range ds.IterBatches(r.hp.BatchSize, fc.PadBatches) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if fc.LogEveryNBatches > 0 && batches%fc.LogEveryNBatches == 0 {
				utils.Logf("On batch %d", batches)
			}
			loss, err := r.step(st, opt, losses, task, batch)
			if err != nil {
				return err
			}
			total += loss
			batches++
			report.Steps++
		}
		if batches == 0 {
			return ErrEmptyDataset
		}
		avg := total / float64(batches)
		report.EpochLosses[task] = append(report.EpochLosses[task], avg)
		utils.Logf("Ending epoch %d: Average loss %g", epoch, avg)
	}
	return nil
}

// step runs one forward, backward and update on column task.
func (r *Regressor) step(st *TrainingState, opt nn.Optimizer, losses *LossAssembler, task int, b dataset.Batch) (float64, error) {
	feed, err := ConstructFeedDict(task, b.X, b.Y, b.W, r.hp.BatchSize)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	outs, err := st.Session.Forward(feed, task)
	if err != nil {
		return 0, err
	}
	st.Stats.ForwardPassTime += time.Since(start)

	start = time.Now()
	loss, err := losses.Loss(outs[task], feed, task)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, fmt.Errorf("loss %g: %w", loss, ErrNonFiniteLoss)
	}
	dOut, err := losses.Grad(outs[task], feed, task)
	if err != nil {
		return 0, err
	}
	st.Stats.LossComputationTime += time.Since(start)

	start = time.Now()
	if err := st.Session.Backward(task, dOut); err != nil {
		return 0, err
	}
	st.Stats.BackwardPassTime += time.Since(start)

	start = time.Now()
	if err := opt.Step(); err != nil {
		return 0, err
	}
	st.Stats.UpdateTime += time.Since(start)
	return loss, nil
}

// Evaluate returns the current loss of every task on one batch, computed
// in evaluation mode. The batch must carry labels; a nil W means weight 1.
func (r *Regressor) Evaluate(b dataset.Batch) ([]float64, error) {
	if r.graph == nil {
		return nil, &InvalidStateError{Op: "Evaluate", Reason: "graph not built"}
	}
	if b.Y == nil {
		return nil, &InvalidStateError{Op: "Evaluate", Reason: "batch has no labels"}
	}
	if b.W == nil {
		n, t := b.Y.Dims()
		b.W = tensor.Fill(n, t, 1)
	}
	sess := NewSession(r.graph.EvalView(), nil)
	outs, err := sess.ForwardFeatures(b.X, r.nTasks-1)
	if err != nil {
		return nil, err
	}
	feeds := make([]Feed, r.nTasks)
	for t := range feeds {
		if feeds[t], err = ConstructFeedDict(t, b.X, b.Y, b.W, r.hp.BatchSize); err != nil {
			return nil, err
		}
	}
	return NewLossAssembler(r.cost, r.hp.BatchSize).TaskLosses(outs, feeds)
}

// PredictBatch returns the outputs of every task column side by side,
// shape (n, T·size), computed without dropout.
func (r *Regressor) PredictBatch(x *mat.Dense) (*mat.Dense, error) {
	if r.graph == nil {
		return nil, &InvalidStateError{Op: "Predict", Reason: "graph not built"}
	}
	outs, err := NewSession(r.graph.EvalView(), nil).ForwardFeatures(x, r.nTasks-1)
	if err != nil {
		return nil, err
	}
	return tensor.ConcatColumns(toMatrices(outs)...)
}

// PredictPreactivated is PredictBatch starting from first-layer
// pre-activations computed elsewhere, one (n, size0) matrix per task.
func (r *Regressor) PredictPreactivated(pre0 []*mat.Dense) (*mat.Dense, error) {
	if r.graph == nil {
		return nil, &InvalidStateError{Op: "Predict", Reason: "graph not built"}
	}
	outs, err := NewSession(r.graph.EvalView(), nil).ForwardPreactivated(pre0, r.nTasks-1)
	if err != nil {
		return nil, err
	}
	return tensor.ConcatColumns(toMatrices(outs)...)
}

// Predict runs PredictBatch over every batch of ds and stacks the rows.
func (r *Regressor) Predict(ds dataset.Dataset) (*mat.Dense, error) {
	if ds.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	var out *mat.Dense
	row := 0
	for b := range ds.IterBatches(r.hp.BatchSize, false) {
		pred, err := r.PredictBatch(b.X)
		if err != nil {
			return nil, err
		}
		n, c := pred.Dims()
		if out == nil {
			out = mat.NewDense(ds.Len(), c, nil)
		}
		out.Slice(row, row+n, 0, c).(*mat.Dense).Copy(pred)
		row += n
	}
	return out, nil
}

func toMatrices(ds []*mat.Dense) []mat.Matrix {
	out := make([]mat.Matrix, len(ds))
	for i, d := range ds {
		out[i] = d
	}
	return out
}

// FirstLayer returns copies of the layer-0 weight and bias of task t.
func (r *Regressor) FirstLayer(t int) (*mat.Dense, []float64, error) {
	if r.graph == nil {
		return nil, nil, &InvalidStateError{Op: "FirstLayer", Reason: "graph not built"}
	}
	if t < 0 || t >= r.nTasks {
		return nil, nil, fmt.Errorf("task %d out of range [0, %d)", t, r.nTasks)
	}
	w, okW := r.graph.Lookup(0, t, nn.RoleWeight)
	b, okB := r.graph.Lookup(0, t, nn.RoleBias)
	if !okW || !okB {
		return nil, nil, &InvalidStateError{Op: "FirstLayer", Reason: fmt.Sprintf("task %d has no first layer", t)}
	}
	return w.Snapshot(), append([]float64(nil), b.Value.RawRowView(0)...), nil
}

// Restore loads a checkpoint file into the graph.
func (r *Regressor) Restore(path string) error {
	if r.graph == nil {
		return &InvalidStateError{Op: "Restore", Reason: "graph not built"}
	}
	mw, err := utils.LoadWeights(path)
	if err != nil {
		return err
	}
	if err := r.graph.LoadWeights(mw); err != nil {
		return err
	}
	utils.Logf("Restored checkpoint %d from %s", mw.Tag, path)
	return nil
}

// RestoreLatest loads the most recent checkpoint of the model directory.
func (r *Regressor) RestoreLatest() error {
	path, err := checkpoint.Latest(r.modelDir)
	if err != nil {
		return err
	}
	return r.Restore(path)
}

// SetFeatureScaling records the standardization of the training features.
// It is written to the model description by the next SaveConfig or Fit.
func (r *Regressor) SetFeatureScaling(mean, std []float64) error {
	if len(mean) != r.nFeatures || len(std) != r.nFeatures {
		return &tensor.ShapeError{Op: "SetFeatureScaling", Want: []int{r.nFeatures}, Got: []int{len(mean), len(std)}}
	}
	r.scaling = &FeatureScaling{
		Mean: append([]float64(nil), mean...),
		Std:  append([]float64(nil), std...),
	}
	return nil
}

// FeatureScaling returns the recorded standardization, or nil.
func (r *Regressor) FeatureScaling() *FeatureScaling { return r.scaling }

type modelDescription struct {
	NTasks      int             `json:"n_tasks"`
	NFeatures   int             `json:"n_features"`
	Network     NetworkConfig   `json:"network"`
	Hyperparams Hyperparams     `json:"hyperparams"`
	Scaling     *FeatureScaling `json:"feature_scaling,omitempty"`
}

// SaveConfig writes the architecture and hyperparameters to the model
// directory.
func (r *Regressor) SaveConfig() error {
	if err := os.MkdirAll(r.modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model dir: %w", err)
	}
	desc := modelDescription{NTasks: r.nTasks, NFeatures: r.nFeatures, Network: r.cfg, Hyperparams: r.hp, Scaling: r.scaling}
	desc.Hyperparams.ModelDir = r.modelDir
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model description: %w", err)
	}
	return os.WriteFile(filepath.Join(r.modelDir, ModelFile), data, 0644)
}

// LoadRegressor rebuilds a model from its directory and restores the most
// recent checkpoint.
func LoadRegressor(dir string) (*Regressor, error) {
	data, err := os.ReadFile(filepath.Join(dir, ModelFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read model description: %w", err)
	}
	var desc modelDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model description: %w", err)
	}
	desc.Hyperparams.ModelDir = dir
	r, err := NewRegressor(desc.NTasks, desc.NFeatures, desc.Network, desc.Hyperparams)
	if err != nil {
		return nil, err
	}
	if desc.Scaling != nil {
		if err := r.SetFeatureScaling(desc.Scaling.Mean, desc.Scaling.Std); err != nil {
			return nil, err
		}
	}
	if err := r.Build(); err != nil {
		return nil, err
	}
	if err := r.RestoreLatest(); err != nil {
		return nil, err
	}
	return r, nil
}
