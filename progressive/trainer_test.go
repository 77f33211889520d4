package progressive

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"prognet/checkpoint"
	"prognet/dataset"
	"prognet/tensor"
	"prognet/utils"
)

// syntheticDataset has labels 3 + sum(x) + t for task t.
func syntheticDataset(t *testing.T, n, nFeatures, nTasks int, seed uint64) *dataset.Memory {
	t.Helper()
	src := rand.New(rand.NewSource(seed))
	x := mat.NewDense(n, nFeatures, nil)
	y := mat.NewDense(n, nTasks, nil)
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < nFeatures; j++ {
			v := src.Float64()
			x.Set(i, j, v)
			sum += v
		}
		for task := 0; task < nTasks; task++ {
			y.Set(i, task, 3+sum+float64(task))
		}
	}
	ds, err := dataset.NewMemory(x, y, nil, nil)
	require.NoError(t, err)
	return ds
}

func scenarioRegressor(t *testing.T, dir string) *Regressor {
	t.Helper()
	cfg := uniformConfig(t, []int{4, 1}, .02, 1, 0)
	hp := DefaultHyperparams()
	hp.BatchSize = 8
	hp.Optimizer = "sgd"
	hp.LearningRate = 0.01
	hp.Seed = 17
	hp.ModelDir = dir
	r, err := NewRegressor(2, 3, cfg, hp)
	require.NoError(t, err)
	require.NoError(t, r.Build())
	return r
}

func firstBatch(ds dataset.Dataset, size int) dataset.Batch {
	for b := range ds.IterBatches(size, false) {
		return b
	}
	return dataset.Batch{}
}

func paramValues(t *testing.T, path string) map[string][]float64 {
	t.Helper()
	mw, err := utils.LoadWeights(path)
	require.NoError(t, err)
	out := map[string][]float64{}
	for _, lw := range mw.Layers {
		for _, wd := range lw.Entries() {
			out[wd.Name] = wd.Data
		}
	}
	return out
}

func TestFitEndToEnd(t *testing.T) {
	dir := t.TempDir()
	r := scenarioRegressor(t, dir)
	ds := syntheticDataset(t, 16, 3, 2, 1)
	initial := r.Graph().Snapshot(0, "")
	batch := firstBatch(ds, 8)

	before, err := r.Evaluate(batch)
	require.NoError(t, err)

	fc := DefaultFitConfig()
	fc.NbEpoch = 1
	report, err := r.Fit(context.Background(), ds, fc)
	require.NoError(t, err)

	// exactly three checkpoints: tags 0, 1, 2
	require.Len(t, report.Checkpoints, 3)
	assert.Equal(t, 2, report.Latest.Tag)
	assert.Equal(t, report.Checkpoints[2], report.Latest)
	for i, e := range report.Checkpoints {
		assert.Equal(t, i, e.Tag)
		_, err := os.Stat(e.Path)
		assert.NoError(t, err)
	}
	assert.Equal(t, 4, report.Steps)
	require.Len(t, report.EpochLosses, 2)
	assert.Len(t, report.EpochLosses[0], 1)
	assert.NotEmpty(t, report.RunID)

	after, err := r.Evaluate(batch)
	require.NoError(t, err)
	assert.Less(t, after[0], before[0], "task 0 loss should decrease on the training batch")

	afterTask0 := paramValues(t, report.Checkpoints[0].Path)
	afterTask1 := paramValues(t, report.Checkpoints[1].Path)
	final := paramValues(t, report.Checkpoints[2].Path)

	init := map[string][]float64{}
	for _, lw := range initial.Layers {
		for _, wd := range lw.Entries() {
			init[wd.Name] = wd.Data
		}
	}

	for _, p := range r.Graph().TaskParams(0) {
		assert.NotEqual(t, init[p.Name], afterTask0[p.Name], "task 0 trains %s", p.Name)
		assert.Equal(t, afterTask0[p.Name], afterTask1[p.Name], "task 1 training must not touch %s", p.Name)
	}
	for _, p := range r.Graph().TaskParams(1) {
		assert.Equal(t, init[p.Name], afterTask0[p.Name], "task 0 training must not touch %s", p.Name)
		assert.NotEqual(t, afterTask0[p.Name], afterTask1[p.Name], "task 1 trains %s", p.Name)
	}
	ad := r.Graph().Unit(1, 1).Adapter
	require.NotNil(t, ad)
	for _, p := range ad.Params() {
		assert.NotEqual(t, init[p.Name], final[p.Name], "adapter %s should move from its initial value", p.Name)
	}

	idx, err := checkpoint.LoadIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, idx.RunID)
	_, err = os.Stat(filepath.Join(dir, ModelFile))
	assert.NoError(t, err)
}

func TestFitRequiresBuild(t *testing.T) {
	r, err := NewRegressor(1, 2, uniformConfig(t, []int{2}, .02, 1, 0), DefaultHyperparams())
	require.NoError(t, err)
	_, err = r.Fit(context.Background(), syntheticDataset(t, 4, 2, 1, 1), DefaultFitConfig())
	var ise *InvalidStateError
	assert.True(t, errors.As(err, &ise))

	_, err = r.PredictBatch(mat.NewDense(1, 2, nil))
	assert.True(t, errors.As(err, &ise))
}

func TestNewRegressorValidation(t *testing.T) {
	cfg := uniformConfig(t, []int{2}, .02, 1, 0)
	hp := DefaultHyperparams()

	_, err := NewRegressor(0, 2, cfg, hp)
	var se *tensor.ShapeError
	assert.True(t, errors.As(err, &se))

	bad := hp
	bad.Optimizer = "nadam"
	_, err = NewRegressor(1, 2, cfg, bad)
	assert.Error(t, err)

	bad = hp
	bad.Cost = "cosine"
	_, err = NewRegressor(1, 2, cfg, bad)
	assert.Error(t, err)

	bad = hp
	bad.BatchSize = 0
	_, err = NewRegressor(1, 2, cfg, bad)
	assert.Error(t, err)

	_, err = NewRegressor(1, 2, NetworkConfig{}, hp)
	var ce *ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestFitDatasetMismatch(t *testing.T) {
	r := scenarioRegressor(t, t.TempDir())
	_, err := r.Fit(context.Background(), syntheticDataset(t, 8, 4, 2, 1), DefaultFitConfig())
	var se *tensor.ShapeError
	assert.True(t, errors.As(err, &se))

	_, err = r.Fit(context.Background(), syntheticDataset(t, 8, 3, 1, 1), DefaultFitConfig())
	assert.True(t, errors.As(err, &se))
}

func TestFitNonFiniteLoss(t *testing.T) {
	r := scenarioRegressor(t, t.TempDir())
	x := mat.NewDense(8, 3, nil)
	y := mat.NewDense(8, 2, nil)
	y.Set(0, 0, math.NaN())
	ds, err := dataset.NewMemory(x, y, nil, nil)
	require.NoError(t, err)

	report, err := r.Fit(context.Background(), ds, DefaultFitConfig())
	assert.ErrorIs(t, err, ErrNonFiniteLoss)
	require.NotNil(t, report)
	assert.Len(t, report.Checkpoints, 1, "initial checkpoint stays valid")
	assert.Equal(t, 0, report.Latest.Tag)
}

func TestFitCanceled(t *testing.T) {
	dir := t.TempDir()
	r := scenarioRegressor(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Fit(ctx, syntheticDataset(t, 16, 3, 2, 1), DefaultFitConfig())
	assert.ErrorIs(t, err, context.Canceled)
	latest, err := checkpoint.Latest(dir)
	require.NoError(t, err)
	assert.Contains(t, latest, "model.ckpt-0.json")
}

func TestRestoreAndLoadRegressor(t *testing.T) {
	dir := t.TempDir()
	r := scenarioRegressor(t, dir)
	ds := syntheticDataset(t, 16, 3, 2, 2)
	fc := DefaultFitConfig()
	fc.NbEpoch = 2
	_, err := r.Fit(context.Background(), ds, fc)
	require.NoError(t, err)

	want, err := r.Predict(ds)
	require.NoError(t, err)
	rows, cols := want.Dims()
	assert.Equal(t, []int{16, 2}, []int{rows, cols})

	p := r.Graph().Unit(0, 0).W
	p.Value.Set(0, 0, 42)
	require.NoError(t, r.RestoreLatest())
	got, err := r.Predict(ds)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))

	loaded, err := LoadRegressor(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.NTasks())
	got, err = loaded.Predict(ds)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
}

func TestEvaluateLabels(t *testing.T) {
	r := scenarioRegressor(t, t.TempDir())
	x := mat.NewDense(3, 3, []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9})

	_, err := r.Evaluate(dataset.Batch{X: x})
	var ise *InvalidStateError
	assert.True(t, errors.As(err, &ise), "labels are required")

	// a short batch without weights still evaluates
	y := mat.NewDense(3, 2, []float64{4, 5, 4, 5, 4, 5})
	losses, err := r.Evaluate(dataset.Batch{X: x, Y: y})
	require.NoError(t, err)
	require.Len(t, losses, 2)
	for _, l := range losses {
		assert.Greater(t, l, 0.0)
	}
}

func TestFeatureScalingPersists(t *testing.T) {
	dir := t.TempDir()
	r := scenarioRegressor(t, dir)
	assert.Nil(t, r.FeatureScaling())

	ds := syntheticDataset(t, 16, 3, 2, 4)
	mean, std := dataset.NormalizeFeatures(ds.X())
	require.Error(t, r.SetFeatureScaling(mean[:2], std))
	require.NoError(t, r.SetFeatureScaling(mean, std))
	_, err := r.Fit(context.Background(), ds, DefaultFitConfig())
	require.NoError(t, err)

	loaded, err := LoadRegressor(dir)
	require.NoError(t, err)
	require.NotNil(t, loaded.FeatureScaling())
	assert.Equal(t, mean, loaded.FeatureScaling().Mean)
	assert.Equal(t, std, loaded.FeatureScaling().Std)
}

func TestPredictPreactivatedMatchesPredict(t *testing.T) {
	r := scenarioRegressor(t, t.TempDir())
	x := mat.NewDense(2, 3, []float64{.1, .2, .3, .4, .5, .6})
	want, err := r.PredictBatch(x)
	require.NoError(t, err)

	pre := make([]*mat.Dense, r.NTasks())
	for task := range pre {
		w, b, err := r.FirstLayer(task)
		require.NoError(t, err)
		pre[task], err = tensor.MatMul(x, w)
		require.NoError(t, err)
		require.NoError(t, tensor.AddRow(pre[task], b))
	}
	got, err := r.PredictPreactivated(pre)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want, got, 1e-12))

	_, _, err = r.FirstLayer(5)
	assert.Error(t, err)
}
