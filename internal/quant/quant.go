package quant

import (
	"fmt"
	"math"

	"github.com/23skdu/nnue-export/internal/model"
)

// Options controls how out-of-range quantized values are handled.
//
// The deployment format has always been produced with a wrapping integer
// cast, so CheckOverflow is off by default to keep output bit-identical.
type Options struct {
	CheckOverflow bool
}

// OverflowError reports the first value that does not fit its target type.
type OverflowError struct {
	Tensor string
	Index  int
	Value  float32
	Scaled float64
	Type   model.DType
}

func (e *OverflowError) Error() string {
	lo, hi := e.Type.Bounds()
	return fmt.Sprintf("%s[%d]: %v: %v scales to %v, outside %s range [%d, %d]",
		e.Tensor, e.Index, model.ErrQuantizationOverflow, e.Value, e.Scaled, e.Type, lo, hi)
}

func (e *OverflowError) Unwrap() error { return model.ErrQuantizationOverflow }

// Round rounds half to even, the rounding already-deployed models were built with.
func Round(v float64) float64 {
	return math.RoundToEven(v)
}

// InRange reports whether the rounded value v is representable in dt.
// Float types are always in range.
func InRange(v float64, dt model.DType) bool {
	if !dt.IsInteger() {
		return true
	}
	lo, hi := dt.Bounds()
	return v >= float64(lo) && v <= float64(hi)
}

// Quantize converts t to the deployment representation described by spec.
// Integer targets store RoundToEven(f*scale); float targets store f*scale.
// Values outside the integer range wrap unless opts.CheckOverflow is set,
// and are counted in Stats either way. NaN and infinite inputs to an
// integer target are malformed regardless of opts.
func Quantize(t *model.Tensor, spec model.Spec, opts Options) (*model.Quantized, Stats, error) {
	if t.Len() != spec.OutLen() {
		return nil, Stats{}, fmt.Errorf("%w: %s has %d values, deployment layout requires %d",
			model.ErrMalformedInput, spec.Name, t.Len(), spec.OutLen())
	}

	q := model.NewQuantized(spec)
	st := newStats(spec)
	scale := float64(spec.Scale)

	for i, f := range t.Data {
		scaled := float64(f) * scale

		if !spec.Type.IsInteger() {
			v := float32(scaled)
			q.Float32[i] = v
			st.observe(f, float64(v), float64(v)/scale, true)
			continue
		}

		if math.IsNaN(scaled) || math.IsInf(scaled, 0) {
			return nil, st, fmt.Errorf("%w: %s[%d] is %v, which has no %s quantization",
				model.ErrMalformedInput, spec.Name, i, f, spec.Type)
		}

		r := Round(scaled)
		ok := InRange(r, spec.Type)
		if !ok && opts.CheckOverflow {
			return nil, st, &OverflowError{Tensor: spec.Name, Index: i, Value: f, Scaled: r, Type: spec.Type}
		}

		// Go integer conversions truncate to the low bits, which is the
		// same wrap as a numpy astype cast.
		w := int64(r)
		var stored float64
		switch spec.Type {
		case model.DTypeInt8:
			q.Int8[i] = int8(w)
			stored = float64(q.Int8[i])
		case model.DTypeInt16:
			q.Int16[i] = int16(w)
			stored = float64(q.Int16[i])
		case model.DTypeInt32:
			q.Int32[i] = int32(w)
			stored = float64(q.Int32[i])
		}
		st.observe(f, stored, r/scale, ok)
	}
	return q, st, nil
}

// Dequantize maps stored values back to float units by dividing by the scale.
func Dequantize(q *model.Quantized) []float32 {
	out := make([]float32, q.Len())
	scale := float64(q.Spec.Scale)
	for i := range out {
		out[i] = float32(q.At(i) / scale)
	}
	return out
}
