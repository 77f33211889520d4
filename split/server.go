package split

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"gonum.org/v1/gonum/mat"

	"prognet/core/ckkswrapper"
	"prognet/progressive"
	"prognet/utils"
)

// Affine is the first layer of one task column: x·W + B.
type Affine struct {
	W *mat.Dense // (F, size)
	B []float64  // size
}

// Server evaluates the first layer of every task column on encrypted
// feature columns.
type Server struct {
	kit       *ckkswrapper.ServerKit
	layers    []Affine
	nFeatures int
	Stats     utils.TimingStats
}

// NewServer checks that every layer reads the same number of features.
func NewServer(kit *ckkswrapper.ServerKit, layers []Affine) (*Server, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("server needs at least one layer")
	}
	nFeatures, _ := layers[0].W.Dims()
	for t, l := range layers {
		r, c := l.W.Dims()
		if r != nFeatures {
			return nil, fmt.Errorf("layer %d reads %d features, want %d", t, r, nFeatures)
		}
		if len(l.B) != c {
			return nil, fmt.Errorf("layer %d has %d bias values for %d units", t, len(l.B), c)
		}
	}
	return &Server{kit: kit, layers: layers, nFeatures: nFeatures}, nil
}

// Widths returns the unit count of each task's first layer.
func (s *Server) Widths() []int {
	out := make([]int, len(s.layers))
	for t, l := range s.layers {
		_, out[t] = l.W.Dims()
	}
	return out
}

// Evaluate computes, for every task t and unit k, Σ_j W_t[j,k]·cts[j] + B_t[k].
// The result is flattened task by task.
func (s *Server) Evaluate(cts []*rlwe.Ciphertext) ([]*rlwe.Ciphertext, error) {
	if len(cts) != s.nFeatures {
		return nil, fmt.Errorf("got %d feature ciphertexts, want %d", len(cts), s.nFeatures)
	}
	start := time.Now()
	var out []*rlwe.Ciphertext
	weights := make([]float64, s.nFeatures)
	for t, l := range s.layers {
		_, units := l.W.Dims()
		for k := 0; k < units; k++ {
			mat.Col(weights, k, l.W)
			ct, err := s.kit.WeightedSum(cts, weights, l.B[k])
			if err != nil {
				return nil, fmt.Errorf("task %d unit %d: %w", t, k, err)
			}
			out = append(out, ct)
		}
	}
	s.Stats.ServerLinearTime += time.Since(start)
	return out, nil
}

// Serve answers forward requests on p until the client sends done, the
// stream ends or ctx is canceled. Per-batch failures are reported to the
// client and the loop continues.
func (s *Server) Serve(ctx context.Context, p *Protocol) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := p.ReceiveForward()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		utils.Logf("[SERVER] batch %d received (%d rows)", payload.BatchID, payload.Rows)

		reply, err := s.handle(payload)
		if err != nil {
			utils.Logf("[SERVER] batch %d: %v", payload.BatchID, err)
			if err := p.SendError(err); err != nil {
				return err
			}
			continue
		}
		if err := p.SendForward(MsgForwardOutput, *reply); err != nil {
			return err
		}
		utils.Logf("[SERVER] batch %d sent", payload.BatchID)
	}
}

func (s *Server) handle(in *ForwardPayload) (reply *ForwardPayload, err error) {
	// a ciphertext that decodes but does not match the parameters panics
	// in the evaluator
	defer func() {
		if r := recover(); r != nil {
			reply, err = nil, fmt.Errorf("evaluate batch %d: %v", in.BatchID, r)
		}
	}()
	cts, err := UnmarshalCiphertexts(in.Ciphertexts)
	if err != nil {
		return nil, err
	}
	outs, err := s.Evaluate(cts)
	if err != nil {
		return nil, err
	}
	data, err := MarshalCiphertexts(outs)
	if err != nil {
		return nil, err
	}
	return &ForwardPayload{
		BatchID:     in.BatchID,
		Rows:        in.Rows,
		Widths:      s.Widths(),
		Ciphertexts: data,
		Level:       outs[0].Level(),
		ScaleFloat:  outs[0].Scale.Float64(),
	}, nil
}

// FirstLayers extracts the layer-0 affine map of every task column of r.
func FirstLayers(r *progressive.Regressor) ([]Affine, error) {
	layers := make([]Affine, r.NTasks())
	for t := range layers {
		w, b, err := r.FirstLayer(t)
		if err != nil {
			return nil, err
		}
		layers[t] = Affine{W: w, B: b}
	}
	return layers, nil
}

// PredictEncrypted runs r on x with the first layer evaluated by the server
// behind p. The result matches r.PredictBatch up to CKKS noise.
func PredictEncrypted(ctx context.Context, c *Client, p *Protocol, r *progressive.Regressor, x *mat.Dense) (*mat.Dense, error) {
	pre0, err := c.Query(ctx, p, x)
	if err != nil {
		return nil, err
	}
	return r.PredictPreactivated(pre0)
}
