package utils

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"prognet/tensor"
)

// WeightData represents serializable data for one parameter
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelWeights represents the full parameter state of a column graph
type ModelWeights struct {
	Version string                 `json:"version"`
	RunID   string                 `json:"run_id,omitempty"`
	Tag     int                    `json:"tag"`
	Layers  map[string]LayerWeight `json:"layers"`
}

// LayerWeight holds the parameters of one (layer, task) block. The lateral
// fields are set only for adapter blocks.
type LayerWeight struct {
	Weight      *WeightData `json:"weight,omitempty"`
	Bias        *WeightData `json:"bias,omitempty"`
	Alpha       *WeightData `json:"alpha,omitempty"`
	LateralV    *WeightData `json:"lateral_v,omitempty"`
	LateralBias *WeightData `json:"lateral_bias,omitempty"`
	LateralU    *WeightData `json:"lateral_u,omitempty"`
}

// Entries returns the non-nil parameters of the block.
func (lw LayerWeight) Entries() []*WeightData {
	var out []*WeightData
	for _, wd := range []*WeightData{lw.Weight, lw.Bias, lw.Alpha, lw.LateralV, lw.LateralBias, lw.LateralU} {
		if wd != nil {
			out = append(out, wd)
		}
	}
	return out
}

// SaveWeights saves model weights to a JSON file
func SaveWeights(filepath string, weights *ModelWeights) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadWeights loads model weights from a JSON file
func LoadWeights(filepath string) (*ModelWeights, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	return &weights, nil
}

// DenseToWeightData converts a matrix to serializable weight data
func DenseToWeightData(name string, m mat.Matrix) *WeightData {
	t := tensor.FromDense(m)
	return &WeightData{
		Name:  name,
		Shape: t.Shape,
		Data:  t.Data,
	}
}

// WeightDataToDense converts weight data back to a matrix
func WeightDataToDense(wd *WeightData) (*mat.Dense, error) {
	t := &tensor.Tensor{Data: append([]float64{}, wd.Data...), Shape: wd.Shape}
	if _, err := t.Reshape(wd.Shape...); err != nil {
		return nil, fmt.Errorf("weight %s: %w", wd.Name, err)
	}
	return t.Dense()
}
