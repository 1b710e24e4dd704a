package rnn

import (
	"fmt"

	"github.com/strandml/strand/internal/tensor"
)

// The kernels are time-major. Layers constructed batch-first permute at
// the boundary and hand the kernels contiguous (T, B, F) memory.

// toTimeMajor copies a (B, T, F) tensor into (T, B, F) layout.
func toTimeMajor[T tensor.Float](x *tensor.RawTensor) *tensor.RawTensor {
	s := x.Shape()
	b, t, f := s[0], s[1], s[2]
	out := tensor.Zeros[T](tensor.Shape{t, b, f}, x.Device())
	src := tensor.Data[T](x)
	dst := tensor.Data[T](out)
	for bi := 0; bi < b; bi++ {
		for ti := 0; ti < t; ti++ {
			copy(dst[(ti*b+bi)*f:(ti*b+bi+1)*f], src[(bi*t+ti)*f:(bi*t+ti+1)*f])
		}
	}
	return out
}

// toBatchMajor copies a (T, B, F) tensor into (B, T, F) layout.
func toBatchMajor[T tensor.Float](x *tensor.RawTensor) *tensor.RawTensor {
	s := x.Shape()
	t, b, f := s[0], s[1], s[2]
	out := tensor.Zeros[T](tensor.Shape{b, t, f}, x.Device())
	src := tensor.Data[T](x)
	dst := tensor.Data[T](out)
	for ti := 0; ti < t; ti++ {
		for bi := 0; bi < b; bi++ {
			copy(dst[(bi*t+ti)*f:(bi*t+ti+1)*f], src[(ti*b+bi)*f:(ti*b+bi+1)*f])
		}
	}
	return out
}

// selectFinalState picks h[lengths[b], b, :] for each batch element
// from a fully-populated (T+1, B, H) state tensor. The recurrence runs
// to the fixed length for every element; masking invalid trailing
// outputs is the caller's responsibility, but the final state honors
// the per-element sequence length.
func selectFinalState[T tensor.Float](h *tensor.RawTensor, lengths []int) *tensor.RawTensor {
	s := h.Shape()
	steps, batch, hidden := s[0], s[1], s[2]
	if len(lengths) != batch {
		panic(fmt.Sprintf("rnn: lengths has %d entries for batch size %d", len(lengths), batch))
	}
	out := tensor.Zeros[T](tensor.Shape{batch, hidden}, h.Device())
	src := tensor.Data[T](h)
	dst := tensor.Data[T](out)
	for b, l := range lengths {
		if l < 0 || l >= steps {
			panic(fmt.Sprintf("rnn: length %d out of range for sequence of %d steps", l, steps-1))
		}
		copy(dst[b*hidden:(b+1)*hidden], src[(l*batch+b)*hidden:(l*batch+b+1)*hidden])
	}
	return out
}
