package progressive

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNonFiniteLoss is returned when a training batch produces a NaN or
// infinite loss.
var ErrNonFiniteLoss = errors.New("non-finite loss")

// ErrEmptyDataset is returned when Fit or Predict receives no samples.
var ErrEmptyDataset = errors.New("dataset has no samples")

// ConfigurationError reports per-layer hyperparameter lists that disagree
// in length, or a per-layer value outside its domain.
type ConfigurationError struct {
	Lengths map[string]int
	Reason  string
}

var configFields = []string{"layer_sizes", "weight_init_stddevs", "alpha_init_stddevs", "bias_init_consts", "dropouts"}

func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return "invalid network configuration: " + e.Reason
	}
	parts := make([]string, 0, len(configFields))
	for _, f := range configFields {
		if n, ok := e.Lengths[f]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", f, n))
		}
	}
	return "per-layer lists must share one length: " + strings.Join(parts, ", ")
}

// InvalidStateError reports an operation attempted on a model that is not
// in a state to run it.
type InvalidStateError struct {
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: invalid state: %s", e.Op, e.Reason)
}
