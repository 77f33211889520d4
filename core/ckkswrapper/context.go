// Package ckkswrapper bundles the CKKS parameters, keys and codecs used by
// the encrypted inference path.
package ckkswrapper

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// DefaultLogN is the ring degree used by NewHeContext.
const DefaultLogN = 13

// ParametersForLogN returns the parameter set for one plaintext-weight
// multiplication followed by a rescale: two moduli, scale 2^45.
func ParametersForLogN(logN int) (ckks.Parameters, error) {
	lit := ckks.ParametersLiteral{
		LogN:            logN,
		LogQ:            []int{55, 45},
		LogP:            []int{50},
		LogDefaultScale: 45,
	}
	params, err := ckks.NewParametersFromLiteral(lit)
	if err != nil {
		return ckks.Parameters{}, fmt.Errorf("ckks parameters (logN=%d): %w", logN, err)
	}
	return params, nil
}

// HeContext is the key holder's side: it can encrypt and decrypt.
type HeContext struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Encryptor *rlwe.Encryptor
	Decryptor *rlwe.Decryptor

	sk *rlwe.SecretKey
	pk *rlwe.PublicKey
}

// NewHeContext creates a context with the default ring degree.
func NewHeContext() *HeContext {
	he, err := NewHeContextWithLogN(DefaultLogN)
	if err != nil {
		panic(err)
	}
	return he
}

// NewHeContextWithLogN creates a context with fresh keys for ring degree 2^logN.
func NewHeContextWithLogN(logN int) (*HeContext, error) {
	params, err := ParametersForLogN(logN)
	if err != nil {
		return nil, err
	}
	return NewHeContextWithParams(params), nil
}

// NewHeContextWithParams creates a context with fresh keys for params.
func NewHeContextWithParams(params ckks.Parameters) *HeContext {
	kgen := rlwe.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	return &HeContext{
		Params:    params,
		Encoder:   ckks.NewEncoder(params),
		Encryptor: rlwe.NewEncryptor(params, pk),
		Decryptor: rlwe.NewDecryptor(params, sk),
		sk:        sk,
		pk:        pk,
	}
}

// Slots is the number of values packed into one ciphertext.
func (h *HeContext) Slots() int { return h.Params.MaxSlots() }

// EncryptValues encodes values into the first slots of a fresh ciphertext
// at the maximum level.
func (h *HeContext) EncryptValues(values []float64) (*rlwe.Ciphertext, error) {
	if len(values) > h.Slots() {
		return nil, fmt.Errorf("cannot pack %d values into %d slots", len(values), h.Slots())
	}
	pt := ckks.NewPlaintext(h.Params, h.Params.MaxLevel())
	if err := h.Encoder.Encode(values, pt); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return h.Encryptor.EncryptNew(pt)
}

// DecryptValues returns the first n slots of ct.
func (h *HeContext) DecryptValues(ct *rlwe.Ciphertext, n int) ([]float64, error) {
	pt := h.Decryptor.DecryptNew(ct)
	decoded := make([]complex128, h.Slots())
	if err := h.Encoder.Decode(pt, decoded); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = real(decoded[i])
	}
	return out, nil
}

// GenServerKit returns the evaluation side for the same parameters. It
// carries no secret material.
func (h *HeContext) GenServerKit() *ServerKit {
	return NewServerKit(h.Params)
}

// ServerKit evaluates plaintext-weight linear maps on ciphertexts.
type ServerKit struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Evaluator *ckks.Evaluator
}

func NewServerKit(params ckks.Parameters) *ServerKit {
	return &ServerKit{
		Params:    params,
		Encoder:   ckks.NewEncoder(params),
		Evaluator: ckks.NewEvaluator(params, nil),
	}
}

// constant encodes v in every slot at the given level and scale.
func (k *ServerKit) constant(v float64, level int, scale rlwe.Scale) (*rlwe.Plaintext, error) {
	vals := make([]float64, k.Params.MaxSlots())
	for i := range vals {
		vals[i] = v
	}
	pt := ckks.NewPlaintext(k.Params, level)
	pt.Scale = scale
	if err := k.Encoder.Encode(vals, pt); err != nil {
		return nil, err
	}
	return pt, nil
}

// WeightedSum returns Σ_j weights[j]·cts[j] + bias, rescaled once. All
// ciphertexts must share level and scale.
func (k *ServerKit) WeightedSum(cts []*rlwe.Ciphertext, weights []float64, bias float64) (*rlwe.Ciphertext, error) {
	if len(cts) == 0 || len(cts) != len(weights) {
		return nil, fmt.Errorf("weighted sum: %d ciphertexts, %d weights", len(cts), len(weights))
	}
	level := cts[0].Level()
	if level < 1 {
		return nil, fmt.Errorf("weighted sum: ciphertext level %d leaves no room to rescale", level)
	}
	wScale := rlwe.NewScale(k.Params.Q()[level])

	var acc *rlwe.Ciphertext
	for j, ct := range cts {
		pt, err := k.constant(weights[j], level, wScale)
		if err != nil {
			return nil, fmt.Errorf("weighted sum: encode weight %d: %w", j, err)
		}
		term, err := k.Evaluator.MulNew(ct, pt)
		if err != nil {
			return nil, fmt.Errorf("weighted sum: mul %d: %w", j, err)
		}
		if acc == nil {
			acc = term
			continue
		}
		if err := k.Evaluator.Add(acc, term, acc); err != nil {
			return nil, fmt.Errorf("weighted sum: add %d: %w", j, err)
		}
	}
	if err := k.Evaluator.Rescale(acc, acc); err != nil {
		return nil, fmt.Errorf("weighted sum: rescale: %w", err)
	}
	bpt, err := k.constant(bias, acc.Level(), acc.Scale)
	if err != nil {
		return nil, fmt.Errorf("weighted sum: encode bias: %w", err)
	}
	if err := k.Evaluator.Add(acc, bpt, acc); err != nil {
		return nil, fmt.Errorf("weighted sum: add bias: %w", err)
	}
	return acc, nil
}
