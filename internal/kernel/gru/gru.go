// Package gru implements the fused forward and backward kernels for
// the gated recurrent unit cell.
//
// The supported variant is 1406.1078v1: the reset gate is applied to
// the recurrent contribution after the recurrent matrix multiply. This
// is the cuDNN-compatible formulation and is a fixed design choice of
// the kernel, not a configuration knob.
//
// Gate order in every (gates*H)-wide tensor is z, r, h (update, reset,
// candidate).
package gru

import (
	"fmt"
	"math"

	"github.com/strandml/strand/internal/parallel"
	"github.com/strandml/strand/internal/tensor"
)

// Gates is the number of gates in a GRU cell.
const Gates = 3

// Dims fixes the problem sizes for one forward/backward pair.
type Dims struct {
	Time   int // sequence length T
	Batch  int // batch size B
	Input  int // input feature width C
	Hidden int // hidden state width H
}

func (d Dims) gateWidth() int { return Gates * d.Hidden }

// Weights bundles the parameter tensors the kernel consumes. If
// DropConnect is in use, RecurrentKernel is the already-dropped matrix;
// the kernel itself never applies dropout.
type Weights struct {
	Kernel          *tensor.RawTensor // (C, 3H)
	RecurrentKernel *tensor.RawTensor // (H, 3H)
	Bias            *tensor.RawTensor // (3H) input-projection bias
	RecurrentBias   *tensor.RawTensor // (3H) recurrent-projection bias
}

// Cache holds every intermediate a training-mode forward records for
// the backward pass. It is created at forward entry and is consumed by
// exactly one backward call.
type Cache struct {
	dims Dims

	// gates stores the post-activation gate values z, r, g per
	// timestep: (T, B, 3H).
	gates *tensor.RawTensor
	// candidatePre stores q = Rh_h + br_h, the candidate recurrent
	// pre-activation the reset gate multiplies: (T, B, H).
	candidatePre *tensor.RawTensor
}

// Gradients is the backward result, one entry per differentiable
// forward input in forward-argument order. The zoneout mask is
// non-differentiable and has no gradient.
type Gradients struct {
	X               *tensor.RawTensor // (T, B, C)
	Kernel          *tensor.RawTensor // (C, 3H)
	RecurrentKernel *tensor.RawTensor // (H, 3H), pre-DropConnect scaling is the caller's job
	Bias            *tensor.RawTensor // (3H)
	RecurrentBias   *tensor.RawTensor // (3H)
	InitialState    *tensor.RawTensor // (B, H)
}

// ForwardPass drives the sequential recurrence for one call.
type ForwardPass[T tensor.Float] struct {
	dims     Dims
	training bool
	backend  tensor.Backend
	par      parallel.Config
}

// NewForwardPass creates a forward pass driver. When training is true
// the pass records an activation cache for Backward; inference-mode
// passes record nothing and cannot be differentiated.
func NewForwardPass[T tensor.Float](training bool, dims Dims, backend tensor.Backend, par parallel.Config) *ForwardPass[T] {
	return &ForwardPass[T]{dims: dims, training: training, backend: backend, par: par}
}

// Run executes the recurrence.
//
// x is the input sequence (T, B, C). h is the state tensor (T+1, B, H)
// whose first row holds the initial state; Run fills rows 1..T with the
// emitted states. zoneoutMask is either empty (no zoneout) or a
// (T, B, H) Bernoulli mask where 1 selects the newly computed state and
// 0 retains the previous one.
//
// Returns the activation cache, or nil for inference-mode passes.
func (fp *ForwardPass[T]) Run(x *tensor.RawTensor, w Weights, h, zoneoutMask *tensor.RawTensor) *Cache {
	d := fp.dims
	G := d.gateWidth()
	dtype := tensor.DTypeOf[T]()
	checkShapes("forward", d, dtype, x, w, h, zoneoutMask)

	// Input projection for every timestep at once: it has no
	// cross-timestep dependency, so it never belongs in the loop.
	wxAll := fp.backend.MatMul(x.Reshape(tensor.Shape{d.Time * d.Batch, d.Input}), w.Kernel)

	var cache *Cache
	if fp.training {
		cache = &Cache{
			dims:         d,
			gates:        tensor.Zeros[T](tensor.Shape{d.Time, d.Batch, G}, fp.backend.Device()),
			candidatePre: tensor.Zeros[T](tensor.Shape{d.Time, d.Batch, d.Hidden}, fp.backend.Device()),
		}
	}

	bias := tensor.Data[T](w.Bias)
	rBias := tensor.Data[T](w.RecurrentBias)
	wxData := tensor.Data[T](wxAll)
	hData := tensor.Data[T](h)
	var maskData []T
	if !zoneoutMask.IsEmpty() {
		maskData = tensor.Data[T](zoneoutMask)
	}

	H := d.Hidden
	for t := 0; t < d.Time; t++ {
		hPrev := h.SliceRows(t, t+1).Reshape(tensor.Shape{d.Batch, H})
		rh := fp.backend.MatMul(hPrev, w.RecurrentKernel)
		rhData := tensor.Data[T](rh)

		var gates, qPre []T
		if cache != nil {
			gates = tensor.Data[T](cache.gates)[t*d.Batch*G : (t+1)*d.Batch*G]
			qPre = tensor.Data[T](cache.candidatePre)[t*d.Batch*H : (t+1)*d.Batch*H]
		}

		parallel.ForRows(d.Batch, H, func(b int) {
			wx := wxData[(t*d.Batch+b)*G : (t*d.Batch+b+1)*G]
			rhRow := rhData[b*G : (b+1)*G]
			prev := hData[(t*d.Batch+b)*H : (t*d.Batch+b+1)*H]
			next := hData[((t+1)*d.Batch+b)*H : ((t+1)*d.Batch+b+1)*H]

			for j := 0; j < H; j++ {
				z := sigmoid(wx[j] + rhRow[j] + bias[j] + rBias[j])
				r := sigmoid(wx[H+j] + rhRow[H+j] + bias[H+j] + rBias[H+j])
				q := rhRow[2*H+j] + rBias[2*H+j]
				g := tanh(wx[2*H+j] + bias[2*H+j] + r*q)

				out := (1-z)*prev[j] + z*g
				if maskData != nil {
					m := maskData[(t*d.Batch+b)*H+j]
					out = m*out + (1-m)*prev[j]
				}
				next[j] = out

				if cache != nil {
					gates[b*G+j] = z
					gates[b*G+H+j] = r
					gates[b*G+2*H+j] = g
					qPre[b*H+j] = q
				}
			}
		}, fp.par)
	}

	return cache
}

// BackwardPass replays the recurrence in reverse timestep order.
type BackwardPass[T tensor.Float] struct {
	dims    Dims
	backend tensor.Backend
	par     parallel.Config
}

// NewBackwardPass creates a backward pass driver for the same dims as
// the forward pass that produced the cache.
func NewBackwardPass[T tensor.Float](dims Dims, backend tensor.Backend, par parallel.Config) *BackwardPass[T] {
	return &BackwardPass[T]{dims: dims, backend: backend, par: par}
}

// Run computes gradients for every differentiable forward input.
//
// x, w, h and zoneoutMask must be exactly the tensors the forward pass
// saw (h fully populated by Run). dOut is the upstream gradient of the
// emitted state sequence, shape (T, B, H); the caller folds any
// final-state gradient into dOut's last timestep. cache must come from
// a training-mode forward; passing nil is a usage error and panics.
func (bp *BackwardPass[T]) Run(x *tensor.RawTensor, w Weights, h, zoneoutMask, dOut *tensor.RawTensor, cache *Cache) *Gradients {
	if cache == nil {
		panic("gru: backward requires the cache of a training-mode forward")
	}
	d := bp.dims
	if cache.dims != d {
		panic(fmt.Sprintf("gru: backward dims %+v do not match cached forward dims %+v", d, cache.dims))
	}
	G := d.gateWidth()
	H := d.Hidden
	dtype := tensor.DTypeOf[T]()
	checkShapes("backward", d, dtype, x, w, h, zoneoutMask)
	if !dOut.Shape().Equal(tensor.Shape{d.Time, d.Batch, H}) {
		panic(fmt.Sprintf("gru: backward: dOut shape %v, want (%d, %d, %d)", dOut.Shape(), d.Time, d.Batch, H))
	}

	dev := bp.backend.Device()
	// Pre-activation gradients for the input path (z, r, g slots) and
	// the recurrent path (z, r, q slots), buffered for the whole
	// sequence so the weight gradients reduce to two dense products.
	dPre := tensor.Zeros[T](tensor.Shape{d.Time, d.Batch, G}, dev)
	dPreRec := tensor.Zeros[T](tensor.Shape{d.Time, d.Batch, G}, dev)
	dh := tensor.Zeros[T](tensor.Shape{d.Batch, H}, dev)

	gatesAll := tensor.Data[T](cache.gates)
	qAll := tensor.Data[T](cache.candidatePre)
	hData := tensor.Data[T](h)
	dOutData := tensor.Data[T](dOut)
	dhData := tensor.Data[T](dh)
	dPreData := tensor.Data[T](dPre)
	dPreRecData := tensor.Data[T](dPreRec)
	var maskData []T
	if !zoneoutMask.IsEmpty() {
		maskData = tensor.Data[T](zoneoutMask)
	}

	for t := d.Time - 1; t >= 0; t-- {
		parallel.ForRows(d.Batch, H, func(b int) {
			gates := gatesAll[(t*d.Batch+b)*G : (t*d.Batch+b+1)*G]
			qRow := qAll[(t*d.Batch+b)*H : (t*d.Batch+b+1)*H]
			prev := hData[(t*d.Batch+b)*H : (t*d.Batch+b+1)*H]
			dp := dPreData[(t*d.Batch+b)*G : (t*d.Batch+b+1)*G]
			dq := dPreRecData[(t*d.Batch+b)*G : (t*d.Batch+b+1)*G]
			dhRow := dhData[b*H : (b+1)*H]

			for j := 0; j < H; j++ {
				dhTotal := dhRow[j] + dOutData[(t*d.Batch+b)*H+j]

				// Zoneout routes gradient between the candidate state
				// and the retained previous state; the mask itself
				// gets no gradient.
				dhNew := dhTotal
				var dhKeep T
				if maskData != nil {
					m := maskData[(t*d.Batch+b)*H+j]
					dhNew = m * dhTotal
					dhKeep = (1 - m) * dhTotal
				}

				z := gates[j]
				r := gates[H+j]
				g := gates[2*H+j]
				q := qRow[j]

				dg := dhNew * z * (1 - g*g)
				dz := dhNew * (g - prev[j]) * z * (1 - z)
				dqH := dg * r
				dr := dg * q * r * (1 - r)

				dp[j] = dz
				dp[H+j] = dr
				dp[2*H+j] = dg
				dq[j] = dz
				dq[H+j] = dr
				dq[2*H+j] = dqH

				// Direct dependency of h_t on h_{t-1}; the recurrent
				// matmul contribution is added below.
				dhRow[j] = dhKeep + dhNew*(1-z)
			}
		}, bp.par)

		// dh_{t-1} += dPreRec_t @ Rᵀ
		dRec := bp.backend.MatMulBT(dPreRec.SliceRows(t, t+1).Reshape(tensor.Shape{d.Batch, G}), w.RecurrentKernel)
		dRecData := tensor.Data[T](dRec)
		for i := range dhData {
			dhData[i] += dRecData[i]
		}
	}

	flatPre := dPre.Reshape(tensor.Shape{d.Time * d.Batch, G})
	flatPreRec := dPreRec.Reshape(tensor.Shape{d.Time * d.Batch, G})
	xFlat := x.Reshape(tensor.Shape{d.Time * d.Batch, d.Input})
	hPrevFlat := h.SliceRows(0, d.Time).Reshape(tensor.Shape{d.Time * d.Batch, H})

	grads := &Gradients{
		X:               bp.backend.MatMulBT(flatPre, w.Kernel).Reshape(tensor.Shape{d.Time, d.Batch, d.Input}),
		Kernel:          bp.backend.MatMulAT(xFlat, flatPre),
		RecurrentKernel: bp.backend.MatMulAT(hPrevFlat, flatPreRec),
		Bias:            tensor.Zeros[T](tensor.Shape{G}, dev),
		RecurrentBias:   tensor.Zeros[T](tensor.Shape{G}, dev),
		InitialState:    dh,
	}

	sumRows[T](grads.Bias, flatPre)
	sumRows[T](grads.RecurrentBias, flatPreRec)
	return grads
}

// sumRows accumulates the row-wise sum of a (rows, width) tensor into a
// (width) tensor.
func sumRows[T tensor.Float](dst, src *tensor.RawTensor) {
	width := dst.NumElements()
	out := tensor.Data[T](dst)
	data := tensor.Data[T](src)
	for i, v := range data {
		out[i%width] += v
	}
}

func checkShapes(op string, d Dims, dtype tensor.DataType, x *tensor.RawTensor, w Weights, h, zoneoutMask *tensor.RawTensor) {
	G := d.gateWidth()
	want := func(name string, got *tensor.RawTensor, shape tensor.Shape) {
		if got.DType() != dtype {
			panic(fmt.Sprintf("gru: %s: %s dtype %s, want %s", op, name, got.DType(), dtype))
		}
		if !got.Shape().Equal(shape) {
			panic(fmt.Sprintf("gru: %s: %s shape %v, want %v", op, name, got.Shape(), shape))
		}
	}
	want("x", x, tensor.Shape{d.Time, d.Batch, d.Input})
	want("kernel", w.Kernel, tensor.Shape{d.Input, G})
	want("recurrent kernel", w.RecurrentKernel, tensor.Shape{d.Hidden, G})
	want("bias", w.Bias, tensor.Shape{G})
	want("recurrent bias", w.RecurrentBias, tensor.Shape{G})
	want("h", h, tensor.Shape{d.Time + 1, d.Batch, d.Hidden})
	if !zoneoutMask.IsEmpty() {
		want("zoneout mask", zoneoutMask, tensor.Shape{d.Time, d.Batch, d.Hidden})
	}
}

func sigmoid[T tensor.Float](x T) T {
	return T(1 / (1 + math.Exp(float64(-x))))
}

func tanh[T tensor.Float](x T) T {
	return T(math.Tanh(float64(x)))
}
