package split

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"gonum.org/v1/gonum/mat"

	"prognet/core/ckkswrapper"
	"prognet/utils"
)

// Client holds the keys. It encrypts feature columns and decrypts the
// first-layer pre-activations returned by the server.
type Client struct {
	he    *ckkswrapper.HeContext
	Stats utils.TimingStats
}

func NewClient(he *ckkswrapper.HeContext) *Client {
	return &Client{he: he}
}

// EncryptColumns packs each feature column of x into one ciphertext.
func (c *Client) EncryptColumns(x *mat.Dense) ([]*rlwe.Ciphertext, error) {
	rows, cols := x.Dims()
	if rows > c.he.Slots() {
		return nil, fmt.Errorf("batch of %d rows exceeds %d slots", rows, c.he.Slots())
	}
	start := time.Now()
	out := make([]*rlwe.Ciphertext, cols)
	col := make([]float64, rows)
	for j := range out {
		mat.Col(col, j, x)
		ct, err := c.he.EncryptValues(col)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", j, err)
		}
		out[j] = ct
	}
	c.Stats.EncryptionTime += time.Since(start)
	return out, nil
}

// DecryptOutputs unpacks server outputs into one (rows, width) matrix per
// task.
func (c *Client) DecryptOutputs(cts []*rlwe.Ciphertext, widths []int, rows int) ([]*mat.Dense, error) {
	total := 0
	for _, w := range widths {
		total += w
	}
	if total != len(cts) {
		return nil, fmt.Errorf("got %d output ciphertexts for widths %v", len(cts), widths)
	}
	start := time.Now()
	out := make([]*mat.Dense, len(widths))
	next := 0
	for t, w := range widths {
		m := mat.NewDense(rows, w, nil)
		for k := 0; k < w; k++ {
			vals, err := c.he.DecryptValues(cts[next], rows)
			if err != nil {
				return nil, fmt.Errorf("task %d unit %d: %w", t, k, err)
			}
			m.SetCol(k, vals)
			next++
		}
		out[t] = m
	}
	c.Stats.DecryptionTime += time.Since(start)
	return out, nil
}

// Query sends x to the server in chunks of at most one ciphertext's worth
// of rows and returns the decrypted first-layer pre-activations per task.
func (c *Client) Query(ctx context.Context, p *Protocol, x *mat.Dense) ([]*mat.Dense, error) {
	rows, cols := x.Dims()
	var out []*mat.Dense
	for batchID, start := 0, 0; start < rows; batchID, start = batchID+1, start+c.he.Slots() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+c.he.Slots(), rows)
		chunk := x.Slice(start, end, 0, cols).(*mat.Dense)
		pre, err := c.queryChunk(p, batchID, chunk)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", batchID, err)
		}
		if out == nil {
			out = make([]*mat.Dense, len(pre))
			for t, m := range pre {
				_, w := m.Dims()
				out[t] = mat.NewDense(rows, w, nil)
			}
		}
		for t, m := range pre {
			_, w := m.Dims()
			out[t].Slice(start, end, 0, w).(*mat.Dense).Copy(m)
		}
	}
	return out, nil
}

func (c *Client) queryChunk(p *Protocol, batchID int, x *mat.Dense) ([]*mat.Dense, error) {
	rows, _ := x.Dims()
	cts, err := c.EncryptColumns(x)
	if err != nil {
		return nil, err
	}
	data, err := MarshalCiphertexts(cts)
	if err != nil {
		return nil, err
	}
	if err := p.SendForward(MsgForwardInput, ForwardPayload{
		BatchID:     batchID,
		Rows:        rows,
		Ciphertexts: data,
		Level:       cts[0].Level(),
		ScaleFloat:  cts[0].Scale.Float64(),
	}); err != nil {
		return nil, err
	}
	reply, err := p.ReceiveForward()
	if err != nil {
		return nil, err
	}
	if reply.BatchID != batchID {
		return nil, fmt.Errorf("reply for batch %d, want %d", reply.BatchID, batchID)
	}
	outs, err := UnmarshalCiphertexts(reply.Ciphertexts)
	if err != nil {
		return nil, err
	}
	return c.DecryptOutputs(outs, reply.Widths, rows)
}

// Loopback starts srv on an in-process pipe and returns the client end.
// Closing the returned protocol's session (Close) sends done and waits for
// the server to finish.
func Loopback(ctx context.Context, srv *Server) *LoopbackConn {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	lc := &LoopbackConn{
		Protocol: NewProtocol(respR, reqW),
		done:     make(chan error, 1),
		reqW:     reqW,
	}
	go func() {
		err := srv.Serve(ctx, NewProtocol(reqR, respW))
		respW.CloseWithError(err)
		reqR.Close()
		lc.done <- err
	}()
	return lc
}

// LoopbackConn is the client side of Loopback.
type LoopbackConn struct {
	*Protocol
	done chan error
	reqW *io.PipeWriter
}

// Close sends done and returns the server's exit error.
func (l *LoopbackConn) Close() error {
	if err := l.SendDone(); err != nil {
		l.reqW.CloseWithError(err)
		return <-l.done
	}
	err := <-l.done
	l.reqW.Close()
	return err
}
