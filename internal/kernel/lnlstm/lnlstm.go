// Package lnlstm implements the fused forward and backward kernels for
// the layer-normalized LSTM cell.
//
// Three independent normalizations run per timestep: one over the
// input-path pre-activation (gain gamma[0]), one over the recurrent-path
// pre-activation (gain gamma[1]), both 4H wide and summed with the bias
// into the combined gate pre-activation, and one over the new cell state
// (gain gammaH, bias betaH) before the output gate multiply. Statistics
// are per (timestep, batch element) row and never mix across time or
// batch.
//
// Gate order in every (4H)-wide tensor is i, g, f, o (input, candidate,
// forget, output).
package lnlstm

import (
	"fmt"
	"math"

	"github.com/strandml/strand/internal/kernel/layernorm"
	"github.com/strandml/strand/internal/parallel"
	"github.com/strandml/strand/internal/tensor"
)

// Gates is the number of gates in an LSTM cell.
const Gates = 4

// Dims fixes the problem sizes for one forward/backward pair.
type Dims struct {
	Time   int // sequence length T
	Batch  int // batch size B
	Input  int // input feature width C
	Hidden int // hidden state width H
}

func (d Dims) gateWidth() int { return Gates * d.Hidden }

// Weights bundles the parameter tensors the kernel consumes.
// RecurrentKernel is the already-DropConnect-applied matrix when that
// regularization is in use.
type Weights struct {
	Kernel          *tensor.RawTensor // (C, 4H)
	RecurrentKernel *tensor.RawTensor // (H, 4H)
	Bias            *tensor.RawTensor // (4H)
	Gamma           *tensor.RawTensor // (2, 4H): row 0 input path, row 1 recurrent path
	GammaH          *tensor.RawTensor // (H) cell-output gain
	BetaH           *tensor.RawTensor // (H) cell-output bias
}

// Cache holds the intermediates a training-mode forward records for the
// backward pass: raw pre-activations, normalization statistics, and the
// post-activation gate values.
type Cache struct {
	dims Dims

	wxRaw   *tensor.RawTensor // (T*B, 4H) input projection, pre-normalization
	rhRaw   *tensor.RawTensor // (T, B, 4H) recurrent projection, pre-normalization
	gates   *tensor.RawTensor // (T, B, 4H) post-activation i, g, f, o
	lnxStat *tensor.RawTensor // (T*B, 2) input-path mean/invstd
	lnhStat *tensor.RawTensor // (T*B, 2) recurrent-path mean/invstd
	lncStat *tensor.RawTensor // (T*B, 2) cell-output mean/invstd
}

// Gradients is the backward result, one entry per differentiable
// forward input in forward-argument order. The zoneout mask is
// non-differentiable and has no gradient.
type Gradients struct {
	X               *tensor.RawTensor // (T, B, C)
	Kernel          *tensor.RawTensor // (C, 4H)
	RecurrentKernel *tensor.RawTensor // (H, 4H), pre-DropConnect scaling is the caller's job
	Bias            *tensor.RawTensor // (4H)
	Gamma           *tensor.RawTensor // (2, 4H)
	GammaH          *tensor.RawTensor // (H)
	BetaH           *tensor.RawTensor // (H)
	InitialState    *tensor.RawTensor // (B, H)
	InitialCell     *tensor.RawTensor // (B, H)
}

// ForwardPass drives the sequential recurrence for one call.
type ForwardPass[T tensor.Float] struct {
	dims     Dims
	training bool
	backend  tensor.Backend
	par      parallel.Config
}

// NewForwardPass creates a forward pass driver. Only training-mode
// passes record the activation cache needed by Backward.
func NewForwardPass[T tensor.Float](training bool, dims Dims, backend tensor.Backend, par parallel.Config) *ForwardPass[T] {
	return &ForwardPass[T]{dims: dims, training: training, backend: backend, par: par}
}

// Run executes the recurrence.
//
// x is the input sequence (T, B, C). h and c are the state tensors
// (T+1, B, H) whose first rows hold the initial hidden and cell state;
// Run fills rows 1..T. zoneoutMask is either empty or (T, B, H), with 1
// selecting the newly computed hidden state and 0 retaining the
// previous one; it applies to the hidden state only.
//
// Returns the activation cache, or nil for inference-mode passes.
func (fp *ForwardPass[T]) Run(x *tensor.RawTensor, w Weights, h, c, zoneoutMask *tensor.RawTensor) *Cache {
	d := fp.dims
	G := d.gateWidth()
	H := d.Hidden
	dtype := tensor.DTypeOf[T]()
	checkShapes("forward", d, dtype, x, w, h, zoneoutMask)
	if !c.Shape().Equal(tensor.Shape{d.Time + 1, d.Batch, H}) {
		panic(fmt.Sprintf("lnlstm: forward: c shape %v, want (%d, %d, %d)", c.Shape(), d.Time+1, d.Batch, H))
	}

	dev := fp.backend.Device()
	rows := d.Time * d.Batch

	// Input projection and its normalization cover every timestep at
	// once: neither depends on the recurrent state.
	wxRaw := fp.backend.MatMul(x.Reshape(tensor.Shape{rows, d.Input}), w.Kernel)
	wxNorm := tensor.Zeros[T](tensor.Shape{rows, G}, dev)
	lnxStat := tensor.Zeros[T](tensor.Shape{rows, 2}, dev)

	gamma := tensor.Data[T](w.Gamma)
	gammaX := gamma[:G]
	gammaR := gamma[G:]
	layernorm.Forward(rows, G, gammaX, nil, tensor.Data[T](wxRaw), tensor.Data[T](wxNorm), tensor.Data[T](lnxStat), fp.par)

	var cache *Cache
	if fp.training {
		cache = &Cache{
			dims:    d,
			wxRaw:   wxRaw,
			rhRaw:   tensor.Zeros[T](tensor.Shape{d.Time, d.Batch, G}, dev),
			gates:   tensor.Zeros[T](tensor.Shape{d.Time, d.Batch, G}, dev),
			lnxStat: lnxStat,
			lnhStat: tensor.Zeros[T](tensor.Shape{rows, 2}, dev),
			lncStat: tensor.Zeros[T](tensor.Shape{rows, 2}, dev),
		}
	}

	bias := tensor.Data[T](w.Bias)
	gammaH := tensor.Data[T](w.GammaH)
	betaH := tensor.Data[T](w.BetaH)
	wxNormData := tensor.Data[T](wxNorm)
	hData := tensor.Data[T](h)
	cData := tensor.Data[T](c)
	var maskData []T
	if !zoneoutMask.IsEmpty() {
		maskData = tensor.Data[T](zoneoutMask)
	}

	// Scratch reused across timesteps.
	rhNorm := make([]T, d.Batch*G)
	yNorm := make([]T, d.Batch*H)
	statScratch := make([]T, layernorm.CacheSize(d.Batch))
	gateScratch := make([]T, d.Batch*G)

	for t := 0; t < d.Time; t++ {
		hPrev := h.SliceRows(t, t+1).Reshape(tensor.Shape{d.Batch, H})
		rh := fp.backend.MatMul(hPrev, w.RecurrentKernel)
		rhData := tensor.Data[T](rh)

		lnhStat := statScratch
		lncStat := statScratch
		gates := gateScratch
		if cache != nil {
			copy(tensor.Data[T](cache.rhRaw)[t*d.Batch*G:(t+1)*d.Batch*G], rhData)
			lnhStat = tensor.Data[T](cache.lnhStat)[t*d.Batch*2 : (t+1)*d.Batch*2]
			lncStat = tensor.Data[T](cache.lncStat)[t*d.Batch*2 : (t+1)*d.Batch*2]
			gates = tensor.Data[T](cache.gates)[t*d.Batch*G : (t+1)*d.Batch*G]
		}

		layernorm.Forward(d.Batch, G, gammaR, nil, rhData, rhNorm, lnhStat, fp.par)

		// Gate math and cell update.
		parallel.ForRows(d.Batch, H, func(b int) {
			wx := wxNormData[(t*d.Batch+b)*G : (t*d.Batch+b+1)*G]
			rhRow := rhNorm[b*G : (b+1)*G]
			cPrev := cData[(t*d.Batch+b)*H : (t*d.Batch+b+1)*H]
			cNext := cData[((t+1)*d.Batch+b)*H : ((t+1)*d.Batch+b+1)*H]
			v := gates[b*G : (b+1)*G]

			for j := 0; j < H; j++ {
				i := sigmoid(wx[j] + rhRow[j] + bias[j])
				g := tanh(wx[H+j] + rhRow[H+j] + bias[H+j])
				f := sigmoid(wx[2*H+j] + rhRow[2*H+j] + bias[2*H+j])
				o := sigmoid(wx[3*H+j] + rhRow[3*H+j] + bias[3*H+j])

				v[j] = i
				v[H+j] = g
				v[2*H+j] = f
				v[3*H+j] = o
				cNext[j] = f*cPrev[j] + i*g
			}
		}, fp.par)

		// Normalize the new cell state, then gate the hidden output.
		cNextRows := cData[(t+1)*d.Batch*H : (t+2)*d.Batch*H]
		layernorm.Forward(d.Batch, H, gammaH, betaH, cNextRows, yNorm, lncStat, fp.par)

		parallel.ForRows(d.Batch, H, func(b int) {
			v := gates[b*G : (b+1)*G]
			prev := hData[(t*d.Batch+b)*H : (t*d.Batch+b+1)*H]
			next := hData[((t+1)*d.Batch+b)*H : ((t+1)*d.Batch+b+1)*H]
			for j := 0; j < H; j++ {
				out := v[3*H+j] * tanh(yNorm[b*H+j])
				if maskData != nil {
					m := maskData[(t*d.Batch+b)*H+j]
					out = m*out + (1-m)*prev[j]
				}
				next[j] = out
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
// x, w, h, c and zoneoutMask must be exactly the tensors the forward
// pass saw. dOut is the upstream gradient of the emitted hidden state
// sequence, shape (T, B, H); dCellOut is the matching gradient of the
// emitted cell state sequence, shape (T, B, H), or nil when the cell
// states have no downstream consumer. cache must come from a
// training-mode forward.
func (bp *BackwardPass[T]) Run(x *tensor.RawTensor, w Weights, h, c, zoneoutMask, dOut, dCellOut *tensor.RawTensor, cache *Cache) *Gradients {
	if cache == nil {
		panic("lnlstm: backward requires the cache of a training-mode forward")
	}
	d := bp.dims
	if cache.dims != d {
		panic(fmt.Sprintf("lnlstm: backward dims %+v do not match cached forward dims %+v", d, cache.dims))
	}
	G := d.gateWidth()
	H := d.Hidden
	dtype := tensor.DTypeOf[T]()
	checkShapes("backward", d, dtype, x, w, h, zoneoutMask)
	if !dOut.Shape().Equal(tensor.Shape{d.Time, d.Batch, H}) {
		panic(fmt.Sprintf("lnlstm: backward: dOut shape %v, want (%d, %d, %d)", dOut.Shape(), d.Time, d.Batch, H))
	}

	dev := bp.backend.Device()
	rows := d.Time * d.Batch

	dWxRaw := tensor.Zeros[T](tensor.Shape{rows, G}, dev)
	dRhRaw := tensor.Zeros[T](tensor.Shape{d.Time, d.Batch, G}, dev)
	dh := tensor.Zeros[T](tensor.Shape{d.Batch, H}, dev)
	dc := tensor.Zeros[T](tensor.Shape{d.Batch, H}, dev)

	grads := &Gradients{
		Bias:   tensor.Zeros[T](tensor.Shape{G}, dev),
		Gamma:  tensor.Zeros[T](tensor.Shape{2, G}, dev),
		GammaH: tensor.Zeros[T](tensor.Shape{H}, dev),
		BetaH:  tensor.Zeros[T](tensor.Shape{H}, dev),
	}

	gamma := tensor.Data[T](w.Gamma)
	gammaX := gamma[:G]
	gammaR := gamma[G:]
	gammaH := tensor.Data[T](w.GammaH)
	betaH := tensor.Data[T](w.BetaH)
	dGamma := tensor.Data[T](grads.Gamma)
	dGammaX := dGamma[:G]
	dGammaR := dGamma[G:]
	dGammaH := tensor.Data[T](grads.GammaH)
	dBetaH := tensor.Data[T](grads.BetaH)
	dBias := tensor.Data[T](grads.Bias)

	gatesAll := tensor.Data[T](cache.gates)
	wxRawData := tensor.Data[T](cache.wxRaw)
	rhRawData := tensor.Data[T](cache.rhRaw)
	lnxStat := tensor.Data[T](cache.lnxStat)
	lnhStat := tensor.Data[T](cache.lnhStat)
	lncStat := tensor.Data[T](cache.lncStat)

	cData := tensor.Data[T](c)
	dOutData := tensor.Data[T](dOut)
	dhData := tensor.Data[T](dh)
	dcData := tensor.Data[T](dc)
	dWxRawData := tensor.Data[T](dWxRaw)
	dRhRawData := tensor.Data[T](dRhRaw)
	var maskData []T
	if !zoneoutMask.IsEmpty() {
		maskData = tensor.Data[T](zoneoutMask)
	}

	var dCellData []T
	if dCellOut != nil && !dCellOut.IsEmpty() {
		if !dCellOut.Shape().Equal(tensor.Shape{d.Time, d.Batch, H}) {
			panic(fmt.Sprintf("lnlstm: backward: dCellOut shape %v, want (%d, %d, %d)", dCellOut.Shape(), d.Time, d.Batch, H))
		}
		dCellData = tensor.Data[T](dCellOut)
	}

	// Scratch reused across timesteps.
	da := make([]T, d.Batch*G)
	dy := make([]T, d.Batch*H)
	dcNorm := make([]T, d.Batch*H)

	for t := d.Time - 1; t >= 0; t-- {
		gates := gatesAll[t*d.Batch*G : (t+1)*d.Batch*G]
		cNextRows := cData[(t+1)*d.Batch*H : (t+2)*d.Batch*H]
		lncRows := lncStat[t*d.Batch*2 : (t+1)*d.Batch*2]

		// Output gate and cell-output normalization gradient.
		parallel.ForRows(d.Batch, H, func(b int) {
			v := gates[b*G : (b+1)*G]
			dhRow := dhData[b*H : (b+1)*H]
			for j := 0; j < H; j++ {
				dhTotal := dhRow[j] + dOutData[(t*d.Batch+b)*H+j]
				dhNew := dhTotal
				var dhKeep T
				if maskData != nil {
					m := maskData[(t*d.Batch+b)*H+j]
					dhNew = m * dhTotal
					dhKeep = (1 - m) * dhTotal
				}

				mean := lncRows[b*2+0]
				invstd := lncRows[b*2+1]
				chat := (cNextRows[b*H+j] - mean) * invstd
				tanhy := tanh(chat*gammaH[j] + betaH[j])

				o := v[3*H+j]
				da[b*G+3*H+j] = dhNew * tanhy * o * (1 - o)
				dy[b*H+j] = dhNew * o * (1 - tanhy*tanhy)

				// Only the recurrent matmul path remains; add it after
				// the recurrent-path normalization backward below.
				dhRow[j] = dhKeep
			}
		}, bp.par)

		// Cell-output path: exact normalization Jacobian into dcNorm,
		// gain/bias gradients accumulated.
		layernorm.Backward(d.Batch, H, gammaH, cNextRows, lncRows, dy, dcNorm, dGammaH, dBetaH, bp.par)

		// Remaining gates and the cell recurrence.
		parallel.ForRows(d.Batch, H, func(b int) {
			v := gates[b*G : (b+1)*G]
			cPrev := cData[(t*d.Batch+b)*H : (t*d.Batch+b+1)*H]
			dcRow := dcData[b*H : (b+1)*H]
			for j := 0; j < H; j++ {
				dcTotal := dcRow[j] + dcNorm[b*H+j]
				if dCellData != nil {
					dcTotal += dCellData[(t*d.Batch+b)*H+j]
				}

				i := v[j]
				g := v[H+j]
				f := v[2*H+j]

				da[b*G+j] = dcTotal * g * i * (1 - i)
				da[b*G+H+j] = dcTotal * i * (1 - g*g)
				da[b*G+2*H+j] = dcTotal * cPrev[j] * f * (1 - f)

				dcRow[j] = dcTotal * f
			}
		}, bp.par)

		for k, v := range da {
			dBias[k%G] += v
		}

		// The combined pre-activation is the sum of both normalized
		// paths, so da flows into each normalization backward intact.
		layernorm.Backward(d.Batch, G, gammaX,
			wxRawData[t*d.Batch*G:(t+1)*d.Batch*G],
			lnxStat[t*d.Batch*2:(t+1)*d.Batch*2],
			da, dWxRawData[t*d.Batch*G:(t+1)*d.Batch*G], dGammaX, nil, bp.par)
		layernorm.Backward(d.Batch, G, gammaR,
			rhRawData[t*d.Batch*G:(t+1)*d.Batch*G],
			lnhStat[t*d.Batch*2:(t+1)*d.Batch*2],
			da, dRhRawData[t*d.Batch*G:(t+1)*d.Batch*G], dGammaR, nil, bp.par)

		// dh_{t-1} += dRhRaw_t @ Rᵀ
		dRec := bp.backend.MatMulBT(dRhRaw.SliceRows(t, t+1).Reshape(tensor.Shape{d.Batch, G}), w.RecurrentKernel)
		dRecData := tensor.Data[T](dRec)
		for k := range dhData {
			dhData[k] += dRecData[k]
		}
	}

	xFlat := x.Reshape(tensor.Shape{rows, d.Input})
	hPrevFlat := h.SliceRows(0, d.Time).Reshape(tensor.Shape{rows, H})
	flatRhGrad := dRhRaw.Reshape(tensor.Shape{rows, G})

	grads.X = bp.backend.MatMulBT(dWxRaw, w.Kernel).Reshape(tensor.Shape{d.Time, d.Batch, d.Input})
	grads.Kernel = bp.backend.MatMulAT(xFlat, dWxRaw)
	grads.RecurrentKernel = bp.backend.MatMulAT(hPrevFlat, flatRhGrad)
	grads.InitialState = dh
	grads.InitialCell = dc
	return grads
}

func checkShapes(op string, d Dims, dtype tensor.DataType, x *tensor.RawTensor, w Weights, h, zoneoutMask *tensor.RawTensor) {
	G := d.gateWidth()
	want := func(name string, got *tensor.RawTensor, shape tensor.Shape) {
		if got.DType() != dtype {
			panic(fmt.Sprintf("lnlstm: %s: %s dtype %s, want %s", op, name, got.DType(), dtype))
		}
		if !got.Shape().Equal(shape) {
			panic(fmt.Sprintf("lnlstm: %s: %s shape %v, want %v", op, name, got.Shape(), shape))
		}
	}
	want("x", x, tensor.Shape{d.Time, d.Batch, d.Input})
	want("kernel", w.Kernel, tensor.Shape{d.Input, G})
	want("recurrent kernel", w.RecurrentKernel, tensor.Shape{d.Hidden, G})
	want("bias", w.Bias, tensor.Shape{G})
	want("gamma", w.Gamma, tensor.Shape{2, G})
	want("gammaH", w.GammaH, tensor.Shape{d.Hidden})
	want("betaH", w.BetaH, tensor.Shape{d.Hidden})
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
