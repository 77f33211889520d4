// Package split runs the first layer of every task column on encrypted
// features: the client holds the keys and the remaining layers, the server
// holds the first-layer weights and never sees plaintext inputs.
package split

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

func init() {
	// Register types for gob encoding
	gob.Register(ForwardPayload{})
}

// MessageType defines message types for the encrypted inference protocol
type MessageType int

const (
	MsgForwardInput MessageType = iota
	MsgForwardOutput
	MsgDone
	MsgError
)

// Message represents a message in the protocol
type Message struct {
	Type    MessageType
	Payload interface{}
}

// ForwardPayload carries a batch of serialized ciphertexts. Inputs hold
// one ciphertext per feature column; outputs hold one per first-layer unit,
// task by task, with Widths giving the unit count of each task.
type ForwardPayload struct {
	BatchID     int
	Rows        int
	Widths      []int
	Ciphertexts [][]byte
	Level       int
	ScaleFloat  float64
}

// Protocol handles encrypted inference communication
type Protocol struct {
	encoder *gob.Encoder
	decoder *gob.Decoder
}

// NewProtocol creates a new protocol handler
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	p := &Protocol{}
	if w != nil {
		p.encoder = gob.NewEncoder(w)
	}
	if r != nil {
		p.decoder = gob.NewDecoder(r)
	}
	return p
}

// Send sends a message
func (p *Protocol) Send(msg *Message) error {
	return p.encoder.Encode(msg)
}

// Receive receives a message
func (p *Protocol) Receive() (*Message, error) {
	var msg Message
	if err := p.decoder.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendForward sends a batch of ciphertexts
func (p *Protocol) SendForward(typ MessageType, payload ForwardPayload) error {
	return p.Send(&Message{Type: typ, Payload: payload})
}

// SendDone signals completion
func (p *Protocol) SendDone() error {
	return p.Send(&Message{Type: MsgDone})
}

// SendError sends an error message
func (p *Protocol) SendError(err error) error {
	return p.Send(&Message{
		Type:    MsgError,
		Payload: err.Error(),
	})
}

// ReceiveForward receives a forward payload. A done message yields io.EOF.
func (p *Protocol) ReceiveForward() (*ForwardPayload, error) {
	msg, err := p.Receive()
	if err != nil {
		return nil, err
	}
	if msg.Type == MsgError {
		return nil, fmt.Errorf("remote error: %v", msg.Payload)
	}
	if msg.Type == MsgDone {
		return nil, io.EOF
	}
	if msg.Type != MsgForwardInput && msg.Type != MsgForwardOutput {
		return nil, fmt.Errorf("expected forward message, got %d", msg.Type)
	}
	payload, ok := msg.Payload.(ForwardPayload)
	if !ok {
		return nil, fmt.Errorf("invalid forward payload type")
	}
	return &payload, nil
}

// MarshalCiphertexts serializes cts in order.
func MarshalCiphertexts(cts []*rlwe.Ciphertext) ([][]byte, error) {
	out := make([][]byte, len(cts))
	for i, ct := range cts {
		b, err := ct.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal ciphertext %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// UnmarshalCiphertexts is the inverse of MarshalCiphertexts. Malformed
// input yields an error.
func UnmarshalCiphertexts(data [][]byte) ([]*rlwe.Ciphertext, error) {
	out := make([]*rlwe.Ciphertext, len(data))
	for i, b := range data {
		ct, err := unmarshalCiphertext(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal ciphertext %d: %w", i, err)
		}
		out[i] = ct
	}
	return out, nil
}

// unmarshalCiphertext recovers from the panics lattigo raises on
// corrupted length headers.
func unmarshalCiphertext(b []byte) (ct *rlwe.Ciphertext, err error) {
	defer func() {
		if r := recover(); r != nil {
			ct, err = nil, fmt.Errorf("malformed ciphertext: %v", r)
		}
	}()
	ct = new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return ct, nil
}
