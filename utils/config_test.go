package utils

import (
	"reflect"
	"testing"
)

func TestParseInts(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"1000", []int{1000}},
		{"1000,500", []int{1000, 500}},
		{"1000 500  20", []int{1000, 500, 20}},
		{"4, 2", []int{4, 2}},
		{"", []int{}},
	}
	for _, tt := range tests {
		got, err := ParseInts(tt.in)
		if err != nil {
			t.Errorf("ParseInts(%q): %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseInts(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseInts("10,x"); err == nil {
		t.Error("expected error for non-integer")
	}
}

func TestParseFloats(t *testing.T) {
	got, err := ParseFloats(".02, 0.5\t1e-3")
	if err != nil {
		t.Fatalf("ParseFloats: %v", err)
	}
	want := []float64{0.02, 0.5, 0.001}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseFloats = %v, want %v", got, want)
	}
	if _, err := ParseFloats("nope"); err == nil {
		t.Error("expected error for non-number")
	}
}

func TestBroadcast(t *testing.T) {
	if got := Broadcast([]float64{0.5}, 3); !reflect.DeepEqual(got, []float64{0.5, 0.5, 0.5}) {
		t.Errorf("Broadcast single = %v", got)
	}
	if got := Broadcast([]float64{1, 2}, 3); !reflect.DeepEqual(got, []float64{1, 2}) {
		t.Errorf("Broadcast list = %v, want it unchanged", got)
	}
	if got := Broadcast([]float64{1}, 1); !reflect.DeepEqual(got, []float64{1}) {
		t.Errorf("Broadcast n=1 = %v", got)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			LayerSizes:   []int{1000},
			DataPath:     "data.csv",
			NFeatures:    10,
			NTasks:       2,
			BatchSize:    50,
			Epochs:       10,
			LearningRate: 0.001,
		}
	}
	if err := ValidateConfig(valid()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no layers", func(c *Config) { c.LayerSizes = nil }},
		{"batch size", func(c *Config) { c.BatchSize = 0 }},
		{"epochs", func(c *Config) { c.Epochs = -1 }},
		{"features", func(c *Config) { c.NFeatures = 0 }},
		{"tasks", func(c *Config) { c.NTasks = 0 }},
		{"learning rate", func(c *Config) { c.LearningRate = 0 }},
		{"data path", func(c *Config) { c.DataPath = "" }},
	}
	for _, tt := range tests {
		c := valid()
		tt.mutate(c)
		if err := ValidateConfig(c); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
