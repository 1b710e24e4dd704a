package rnn

import (
	"math/rand"

	"github.com/strandml/strand/internal/tensor"
)

// sampleZoneoutMask draws the per-call Bernoulli mask with retain
// probability 1 - rate. An entry of 1 selects the newly computed state;
// 0 retains the previous timestep's state. Rate 0 returns the empty
// tensor, which the kernels treat as "no zoneout".
//
// The mask is sampled once per forward call, reused unchanged by the
// backward pass, and is never differentiated.
func sampleZoneoutMask[T tensor.Float](timeSteps, batch, hidden int, rate float64, rng *rand.Rand) *tensor.RawTensor {
	if rate == 0 {
		return tensor.Empty(tensor.DTypeOf[T](), tensor.CPU)
	}
	return tensor.Bernoulli[T](tensor.Shape{timeSteps, batch, hidden}, 1-rate, rng, tensor.CPU)
}

// dropConnect applies inverted dropout to the recurrent weight matrix
// once per forward call: entries are zeroed with probability rate and
// survivors are scaled by 1/(1-rate) to preserve expectation. The same
// dropped matrix is reused for every timestep.
//
// Returns the dropped matrix and the scaled mask; the gradient of the
// undropped matrix is the kernel's gradient multiplied by that same
// mask. Rate 0 returns the dense matrix unchanged with a nil mask.
func dropConnect[T tensor.Float](w *tensor.RawTensor, rate float64, rng *rand.Rand) (dropped, scaledMask *tensor.RawTensor) {
	if rate == 0 {
		return w, nil
	}
	scale := T(0)
	if rate < 1 {
		scale = T(1 / (1 - rate))
	}
	scaledMask = tensor.Zeros[T](w.Shape(), w.Device())
	dropped = tensor.Zeros[T](w.Shape(), w.Device())
	maskData := tensor.Data[T](scaledMask)
	droppedData := tensor.Data[T](dropped)
	wData := tensor.Data[T](w)
	for i := range maskData {
		if rng.Float64() >= rate {
			maskData[i] = scale
			droppedData[i] = wData[i] * scale
		}
	}
	return dropped, scaledMask
}

// mulMask multiplies a gradient by the scaled DropConnect mask,
// routing the gradient back through the dropped entries.
func mulMask[T tensor.Float](g, scaledMask *tensor.RawTensor) *tensor.RawTensor {
	out := tensor.Zeros[T](g.Shape(), g.Device())
	outData := tensor.Data[T](out)
	maskData := tensor.Data[T](scaledMask)
	for i, v := range tensor.Data[T](g) {
		outData[i] = v * maskData[i]
	}
	return out
}
