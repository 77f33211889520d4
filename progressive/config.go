package progressive

import (
	"fmt"
)

// LayerConfig holds the hyperparameters of one column layer. Every task
// column uses the same per-layer settings.
type LayerConfig struct {
	Size             int     `json:"size"`
	WeightInitStddev float64 `json:"weight_init_stddev"`
	AlphaInitStddev  float64 `json:"alpha_init_stddev"`
	BiasInitConst    float64 `json:"bias_init_const"`
	DropoutRate      float64 `json:"dropout"`
}

// NetworkConfig is the validated column architecture.
type NetworkConfig struct {
	Layers []LayerConfig `json:"layers"`
}

// NewNetworkConfig zips the five per-layer lists into a NetworkConfig.
// The lists must have equal length.
func NewNetworkConfig(layerSizes []int, weightInitStddevs, alphaInitStddevs, biasInitConsts, dropouts []float64) (NetworkConfig, error) {
	lengths := map[string]int{
		"layer_sizes":         len(layerSizes),
		"weight_init_stddevs": len(weightInitStddevs),
		"alpha_init_stddevs":  len(alphaInitStddevs),
		"bias_init_consts":    len(biasInitConsts),
		"dropouts":            len(dropouts),
	}
	n := len(layerSizes)
	for _, l := range lengths {
		if l != n {
			return NetworkConfig{}, &ConfigurationError{Lengths: lengths}
		}
	}
	cfg := NetworkConfig{Layers: make([]LayerConfig, n)}
	for i := range cfg.Layers {
		cfg.Layers[i] = LayerConfig{
			Size:             layerSizes[i],
			WeightInitStddev: weightInitStddevs[i],
			AlphaInitStddev:  alphaInitStddevs[i],
			BiasInitConst:    biasInitConsts[i],
			DropoutRate:      dropouts[i],
		}
	}
	if err := cfg.Validate(); err != nil {
		return NetworkConfig{}, err
	}
	return cfg, nil
}

// DefaultNetworkConfig is a single 1000-unit layer.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{Layers: []LayerConfig{{
		Size:             1000,
		WeightInitStddev: 0.02,
		AlphaInitStddev:  0.02,
		BiasInitConst:    1.0,
		DropoutRate:      0.5,
	}}}
}

// Validate checks per-layer values.
func (c NetworkConfig) Validate() error {
	if len(c.Layers) == 0 {
		return &ConfigurationError{Reason: "at least one layer is required"}
	}
	for i, l := range c.Layers {
		if l.Size <= 0 {
			return &ConfigurationError{Reason: fmt.Sprintf("layer %d: size must be positive, got %d", i, l.Size)}
		}
		if l.DropoutRate < 0 || l.DropoutRate >= 1 {
			return &ConfigurationError{Reason: fmt.Sprintf("layer %d: dropout must be in [0, 1), got %g", i, l.DropoutRate)}
		}
		if l.WeightInitStddev < 0 || l.AlphaInitStddev < 0 {
			return &ConfigurationError{Reason: fmt.Sprintf("layer %d: init stddevs must be non-negative", i)}
		}
	}
	return nil
}

// Depth is the number of layers L.
func (c NetworkConfig) Depth() int { return len(c.Layers) }

// OutputSize is the width of each task column's final layer.
func (c NetworkConfig) OutputSize() int { return c.Layers[len(c.Layers)-1].Size }

// Hyperparams are the model-level training settings.
type Hyperparams struct {
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	Momentum     float64 `json:"momentum"`
	Optimizer    string  `json:"optimizer"`
	Cost         string  `json:"cost"`
	// Seed fixes parameter init and dropout draws; 0 means time-based.
	Seed int64 `json:"seed"`
	// ModelDir receives checkpoints; empty means a fresh temp directory.
	ModelDir string `json:"model_dir"`
}

// DefaultHyperparams returns batch size 50, Adam at learning rate 0.001
// and the l2 cost.
func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		BatchSize:    50,
		LearningRate: 0.001,
		Momentum:     0.9,
		Optimizer:    "adam",
		Cost:         "l2",
	}
}

// FitConfig controls one Fit call.
type FitConfig struct {
	NbEpoch              int
	PadBatches           bool
	LogEveryNBatches     int
	MaxCheckpointsToKeep int
}

// DefaultFitConfig returns 10 epochs without padding, a log line every 50
// batches and 5 retained checkpoints.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		NbEpoch:              10,
		LogEveryNBatches:     50,
		MaxCheckpointsToKeep: 5,
	}
}
