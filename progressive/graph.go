// Package progressive builds and trains progressive multitask networks: one
// private column of layers per task, with lateral adapters feeding the
// frozen activations of earlier columns into later ones.
package progressive

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"prognet/nn"
	"prognet/tensor"
	"prognet/utils"
)

// Adapter is the lateral bottleneck of a (layer>0, task>0) block.
type Adapter struct {
	Alpha *nn.Param // 1×1
	V     *nn.Param // [t·prev, prev]
	BLat  *nn.Param // 1×prev
	U     *nn.Param // [prev, size]
}

// Params lists the adapter parameters in allocation order.
func (a *Adapter) Params() []*nn.Param {
	return []*nn.Param{a.Alpha, a.V, a.BLat, a.U}
}

// Column is the (layer, task) block: ReLU(prev·W + b + lateral), then
// dropout in training mode.
type Column struct {
	Layer       int
	Task        int
	InSize      int
	OutSize     int
	DropoutRate float64
	W           *nn.Param
	B           *nn.Param
	Adapter     *Adapter
}

// Graph is a built column network. The layer×task block arena and the
// per-task handle lists are fixed at construction.
type Graph struct {
	cfg        NetworkConfig
	nTasks     int
	nFeatures  int
	training   bool
	registry   *Registry
	units      [][]*Column
	taskParams [][]*nn.Param
}

// Build allocates and initializes every column block and lateral adapter.
// Blocks are created layer by layer, and within a layer task by task.
func Build(cfg NetworkConfig, nTasks, nFeatures int, training bool, src rand.Source) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if nTasks <= 0 || nFeatures <= 0 {
		return nil, &tensor.ShapeError{Op: "Build", Want: []int{-1, -1}, Got: []int{nTasks, nFeatures}}
	}
	g := &Graph{
		cfg:        cfg,
		nTasks:     nTasks,
		nFeatures:  nFeatures,
		training:   training,
		registry:   NewRegistry(),
		units:      make([][]*Column, cfg.Depth()),
		taskParams: make([][]*nn.Param, nTasks),
	}
	for i, layer := range cfg.Layers {
		g.units[i] = make([]*Column, nTasks)
		prevSize := nFeatures
		if i > 0 {
			prevSize = cfg.Layers[i-1].Size
		}
		for t := 0; t < nTasks; t++ {
			col := &Column{Layer: i, Task: t, InSize: prevSize, OutSize: layer.Size, DropoutRate: layer.DropoutRate}
			if i > 0 && t > 0 {
				ad, err := g.addAdapter(i, t, prevSize, layer, src)
				if err != nil {
					return nil, err
				}
				col.Adapter = ad
			}
			var err error
			if col.W, err = g.allocate(Key{i, t, nn.RoleWeight}, nn.TruncatedNormal(prevSize, layer.Size, layer.WeightInitStddev, src)); err != nil {
				return nil, err
			}
			if col.B, err = g.allocate(Key{i, t, nn.RoleBias}, nn.Constant(1, layer.Size, layer.BiasInitConst)); err != nil {
				return nil, err
			}
			g.units[i][t] = col
		}
	}
	return g, nil
}

func (g *Graph) addAdapter(i, t, prevSize int, layer LayerConfig, src rand.Source) (*Adapter, error) {
	var (
		ad  Adapter
		err error
	)
	if ad.Alpha, err = g.allocate(Key{i, t, nn.RoleAlpha}, nn.TruncatedNormal(1, 1, layer.AlphaInitStddev, src)); err != nil {
		return nil, err
	}
	if ad.V, err = g.allocate(Key{i, t, nn.RoleLateralV}, nn.TruncatedNormal(t*prevSize, prevSize, layer.WeightInitStddev, src)); err != nil {
		return nil, err
	}
	if ad.BLat, err = g.allocate(Key{i, t, nn.RoleLateralBias}, nn.Constant(1, prevSize, layer.BiasInitConst)); err != nil {
		return nil, err
	}
	if ad.U, err = g.allocate(Key{i, t, nn.RoleLateralU}, nn.TruncatedNormal(prevSize, layer.Size, layer.WeightInitStddev, src)); err != nil {
		return nil, err
	}
	return &ad, nil
}

func (g *Graph) allocate(k Key, value *mat.Dense) (*nn.Param, error) {
	p, err := g.registry.Allocate(k, value)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	g.taskParams[k.Task] = append(g.taskParams[k.Task], p)
	utils.Logf("allocated %s", p)
	return p, nil
}

// EvalView returns a graph sharing every parameter with g but running in
// evaluation mode (dropout disabled).
func (g *Graph) EvalView() *Graph {
	v := *g
	v.training = false
	return &v
}

func (g *Graph) Config() NetworkConfig { return g.cfg }
func (g *Graph) NTasks() int           { return g.nTasks }
func (g *Graph) NFeatures() int        { return g.nFeatures }
func (g *Graph) Depth() int            { return g.cfg.Depth() }
func (g *Graph) Training() bool        { return g.training }

// Unit returns the (layer, task) block.
func (g *Graph) Unit(layer, task int) *Column { return g.units[layer][task] }

// TaskParams returns the handles owned by task t: W and b of every layer
// plus the adapter parameters of every layer above the first.
func (g *Graph) TaskParams(t int) []*nn.Param {
	return append([]*nn.Param(nil), g.taskParams[t]...)
}

// Params returns every parameter of the graph.
func (g *Graph) Params() []*nn.Param { return g.registry.Params() }

// Lookup returns the parameter with the given role in block (layer, task).
func (g *Graph) Lookup(layer, task int, role nn.Role) (*nn.Param, bool) {
	return g.registry.Lookup(Key{Layer: layer, Task: task, Role: role})
}

// Param looks a parameter up by its scoped name.
func (g *Graph) Param(name string) (*nn.Param, bool) { return g.registry.ByName(name) }

// Adapters returns every allocated lateral adapter.
func (g *Graph) Adapters() []*Adapter {
	var out []*Adapter
	for _, row := range g.units {
		for _, col := range row {
			if col.Adapter != nil {
				out = append(out, col.Adapter)
			}
		}
	}
	return out
}

// LabelSlots and WeightSlots name the per-task feed slots.
func (g *Graph) LabelSlots() []string {
	out := make([]string, g.nTasks)
	for t := range out {
		out[t] = LabelSlot(t)
	}
	return out
}

func (g *Graph) WeightSlots() []string {
	out := make([]string, g.nTasks)
	for t := range out {
		out[t] = WeightSlot(t)
	}
	return out
}

func blockKey(layer, task int) string {
	return fmt.Sprintf("%s/layer_%d", TaskScope(task), layer)
}

// Snapshot copies the full parameter state.
func (g *Graph) Snapshot(tag int, runID string) *utils.ModelWeights {
	mw := &utils.ModelWeights{Version: "1.0", RunID: runID, Tag: tag, Layers: map[string]utils.LayerWeight{}}
	for _, row := range g.units {
		for _, col := range row {
			lw := utils.LayerWeight{
				Weight: utils.DenseToWeightData(col.W.Name, col.W.Value),
				Bias:   utils.DenseToWeightData(col.B.Name, col.B.Value),
			}
			if ad := col.Adapter; ad != nil {
				lw.Alpha = utils.DenseToWeightData(ad.Alpha.Name, ad.Alpha.Value)
				lw.LateralV = utils.DenseToWeightData(ad.V.Name, ad.V.Value)
				lw.LateralBias = utils.DenseToWeightData(ad.BLat.Name, ad.BLat.Value)
				lw.LateralU = utils.DenseToWeightData(ad.U.Name, ad.U.Value)
			}
			mw.Layers[blockKey(col.Layer, col.Task)] = lw
		}
	}
	return mw
}

// LoadWeights assigns every parameter from mw by name. Every parameter of
// the graph must be present with its exact shape.
func (g *Graph) LoadWeights(mw *utils.ModelWeights) error {
	found := 0
	for key, lw := range mw.Layers {
		for _, wd := range lw.Entries() {
			p, ok := g.registry.ByName(wd.Name)
			if !ok {
				return fmt.Errorf("load weights: %s: unknown parameter %s", key, wd.Name)
			}
			m, err := utils.WeightDataToDense(wd)
			if err != nil {
				return fmt.Errorf("load weights: %w", err)
			}
			if err := p.Assign(m); err != nil {
				return fmt.Errorf("load weights: %w", err)
			}
			found++
		}
	}
	if found != g.registry.Len() {
		return fmt.Errorf("load weights: got %d parameters, graph has %d", found, g.registry.Len())
	}
	return nil
}
