package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Jumshim/fastllm/internal/engine"
)

// ErrInvalidState is returned when serialized weights cannot be decoded
var ErrInvalidState = errors.New("invalid model state")

const (
	fieldEmbeddingSize protowire.Number = 1
	fieldNDims         protowire.Number = 2
	fieldDropout       protowire.Number = 3
	fieldLR            protowire.Number = 4
	fieldW1            protowire.Number = 5
	fieldB1            protowire.Number = 6
	fieldW2            protowire.Number = 7
	fieldB2            protowire.Number = 8
)

// appendFloats appends v as a packed repeated float field
func appendFloats(b []byte, num protowire.Number, v []float32) []byte {
	packed := make([]byte, 0, 4*len(v))
	for _, f := range v {
		packed = protowire.AppendFixed32(packed, math.Float32bits(f))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func consumeFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: packed floats of %d bytes", ErrInvalidState, len(b))
	}
	out := make([]float32, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, protowire.ParseError(n))
		}
		out = append(out, math.Float32frombits(v))
		b = b[n:]
	}
	return out, nil
}

// MarshalBinary encodes the configuration and weights in protobuf wire format.
// Optimizer moments are not saved.
func (m *SimilarityModel) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldEmbeddingSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.cfg.EmbeddingSize))
	b = protowire.AppendTag(b, fieldNDims, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.cfg.NDims))
	b = protowire.AppendTag(b, fieldDropout, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(m.cfg.DropoutFraction))
	b = protowire.AppendTag(b, fieldLR, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(m.cfg.LR))
	b = appendFloats(b, fieldW1, m.w1)
	b = appendFloats(b, fieldB1, m.b1)
	b = appendFloats(b, fieldW2, m.w2)
	b = protowire.AppendTag(b, fieldB2, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(m.b2))
	return b, nil
}

// UnmarshalBinary replaces the model's configuration and weights. The seed is
// kept and the optimizer state is reset.
func (m *SimilarityModel) UnmarshalBinary(data []byte) error {
	cfg := Config{Seed: m.cfg.Seed}
	var w1, b1, w2 []float32
	var b2 float32

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidState, protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d", ErrInvalidState, num)
			}
			switch num {
			case fieldEmbeddingSize:
				cfg.EmbeddingSize = int(v)
			case fieldNDims:
				cfg.NDims = int(v)
			}
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d", ErrInvalidState, num)
			}
			switch num {
			case fieldDropout:
				cfg.DropoutFraction = math.Float64frombits(v)
			case fieldLR:
				cfg.LR = math.Float64frombits(v)
			}
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d", ErrInvalidState, num)
			}
			if num == fieldB2 {
				b2 = math.Float32frombits(v)
			}
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d", ErrInvalidState, num)
			}
			var err error
			switch num {
			case fieldW1:
				w1, err = consumeFloats(v)
			case fieldB1:
				b1, err = consumeFloats(v)
			case fieldW2:
				w2, err = consumeFloats(v)
			}
			if err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d", ErrInvalidState, num)
			}
			b = b[n:]
		}
	}

	if err := cfg.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	inDim := 2 * cfg.EmbeddingSize
	if len(w1) != cfg.NDims*inDim || len(b1) != cfg.NDims || len(w2) != cfg.NDims {
		return fmt.Errorf("%w: weight shapes do not match n_dims=%d embedding_size=%d",
			ErrInvalidState, cfg.NDims, cfg.EmbeddingSize)
	}

	m.cfg = cfg
	m.inDim = inDim
	m.w1, m.b1, m.w2, m.b2 = w1, b1, w2, b2
	m.step = 0
	m.initOptimizer()
	if m.confusion == nil {
		m.confusion = make(map[engine.Stage]*Confusion)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0xda3e39cb94b95bdb))
	}
	if m.workers <= 0 {
		m.workers = runtime.NumCPU()
	}
	return nil
}

// Load decodes a model written by MarshalBinary
func Load(data []byte) (*SimilarityModel, error) {
	m := &SimilarityModel{}
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return m, nil
}
