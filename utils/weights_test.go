package utils

import (
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestDenseToWeightData(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{0, 0.5, 1, 1.5, 2, 2.5})

	wd := DenseToWeightData("test_weight", m)

	if wd.Name != "test_weight" {
		t.Errorf("Name = %s, want test_weight", wd.Name)
	}
	if len(wd.Shape) != 2 || wd.Shape[0] != 2 || wd.Shape[1] != 3 {
		t.Errorf("Shape = %v, want [2, 3]", wd.Shape)
	}
	if len(wd.Data) != 6 {
		t.Fatalf("Data length = %d, want 6", len(wd.Data))
	}
	for i, v := range wd.Data {
		expected := float64(i) * 0.5
		if v != expected {
			t.Errorf("Data[%d] = %f, want %f", i, v, expected)
		}
	}
}

func TestWeightDataToDense(t *testing.T) {
	wd := &WeightData{
		Name:  "test",
		Shape: []int{3, 2},
		Data:  []float64{1, 2, 3, 4, 5, 6},
	}

	m, err := WeightDataToDense(wd)
	if err != nil {
		t.Fatalf("WeightDataToDense failed: %v", err)
	}
	r, c := m.Dims()
	if r != 3 || c != 2 {
		t.Errorf("Dims = (%d, %d), want (3, 2)", r, c)
	}
	if m.At(2, 1) != 6 {
		t.Errorf("At(2, 1) = %f, want 6", m.At(2, 1))
	}

	// the matrix must not alias the serialized data
	m.Set(0, 0, 100)
	if wd.Data[0] != 1 {
		t.Errorf("WeightDataToDense aliases its input")
	}
}

func TestWeightDataToDenseShapeMismatch(t *testing.T) {
	wd := &WeightData{Name: "bad", Shape: []int{2, 2}, Data: []float64{1, 2, 3}}
	if _, err := WeightDataToDense(wd); err == nil {
		t.Error("expected error for data that does not fill the shape")
	}
}

func TestLayerWeightEntries(t *testing.T) {
	lw := LayerWeight{
		Weight: &WeightData{Name: "w"},
		Bias:   &WeightData{Name: "b"},
	}
	if got := len(lw.Entries()); got != 2 {
		t.Errorf("plain block: %d entries, want 2", got)
	}

	lw.Alpha = &WeightData{Name: "alpha"}
	lw.LateralV = &WeightData{Name: "V"}
	lw.LateralBias = &WeightData{Name: "b_lat"}
	lw.LateralU = &WeightData{Name: "U"}
	entries := lw.Entries()
	if len(entries) != 6 {
		t.Fatalf("adapter block: %d entries, want 6", len(entries))
	}
	want := []string{"w", "b", "alpha", "V", "b_lat", "U"}
	for i, wd := range entries {
		if wd.Name != want[i] {
			t.Errorf("entry %d = %s, want %s", i, wd.Name, want[i])
		}
	}
}

func TestSaveLoadWeights(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "model.ckpt-0.json")

	weights := &ModelWeights{
		Version: "1.0",
		RunID:   "run",
		Tag:     3,
		Layers: map[string]LayerWeight{
			"task0/layer_0": {
				Weight: &WeightData{Name: "task0/W_layer_0_task0", Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}},
				Bias:   &WeightData{Name: "task0/b_layer_0_task0", Shape: []int{1, 2}, Data: []float64{0.1, 0.2}},
			},
		},
	}

	if err := SaveWeights(path, weights); err != nil {
		t.Fatalf("SaveWeights failed: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatal("Weights file was not created")
	}

	loaded, err := LoadWeights(path)
	if err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}
	if loaded.Version != "1.0" || loaded.RunID != "run" || loaded.Tag != 3 {
		t.Errorf("header = (%s, %s, %d), want (1.0, run, 3)", loaded.Version, loaded.RunID, loaded.Tag)
	}
	lw, ok := loaded.Layers["task0/layer_0"]
	if !ok {
		t.Fatal("layer task0/layer_0 not found")
	}
	if lw.Alpha != nil {
		t.Error("plain block should not carry an adapter")
	}
	if len(lw.Weight.Data) != 4 || lw.Weight.Data[3] != 4 {
		t.Errorf("weight data = %v", lw.Weight.Data)
	}
}

func TestLoadWeightsMissingFile(t *testing.T) {
	if _, err := LoadWeights(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
