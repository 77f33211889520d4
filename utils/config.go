package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// Config holds the command-line training configuration
type Config struct {
	LayerSizes        []int
	WeightInitStddevs []float64
	AlphaInitStddevs  []float64
	BiasInitConsts    []float64
	Dropouts          []float64
	DataPath          string
	NFeatures         int
	NTasks            int
	BatchSize         int
	Epochs            int
	LearningRate      float64
	Optimizer         string
	ModelDir          string
}

// ParseInts parses a whitespace- or comma-separated list of integers,
// e.g. "1000 500" or "1000,500".
func ParseInts(s string) ([]int, error) {
	parts := fields(s)
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// ParseFloats parses a whitespace- or comma-separated list of floats.
func ParseFloats(s string) ([]float64, error) {
	parts := fields(s)
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func fields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// Broadcast repeats a single value n times; longer lists are returned as-is.
func Broadcast(vals []float64, n int) []float64 {
	if len(vals) != 1 || n <= 1 {
		return vals
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = vals[0]
	}
	return out
}

// ValidateConfig validates training configuration
func ValidateConfig(config *Config) error {
	if len(config.LayerSizes) < 1 {
		return fmt.Errorf("at least one layer size is required")
	}

	if config.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}

	if config.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive")
	}

	if config.NFeatures <= 0 {
		return fmt.Errorf("number of features must be positive")
	}

	if config.NTasks <= 0 {
		return fmt.Errorf("number of tasks must be positive")
	}

	if config.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive")
	}

	if config.DataPath == "" {
		return fmt.Errorf("data path is required")
	}

	return nil
}
