package rnn

import (
	"fmt"
	"math/rand"

	"github.com/strandml/strand/internal/backend/cpu"
	"github.com/strandml/strand/internal/kernel/gru"
	"github.com/strandml/strand/internal/parallel"
	"github.com/strandml/strand/internal/tensor"
)

// GRUConfig configures a GRU layer. The zero value is a valid
// regularization-free, time-major layer on the default CPU backend.
type GRUConfig struct {
	// BatchFirst accepts and returns (batch, time, feature) tensors
	// instead of the kernel-native (time, batch, feature).
	BatchFirst bool
	// Dropout is the DropConnect rate on the recurrent weight matrix,
	// in [0, 1].
	Dropout float64
	// Zoneout is the Zoneout rate on the hidden state, in [0, 1].
	Zoneout float64
	// Seed seeds parameter initialization and mask sampling. Layers
	// never touch global random state.
	Seed int64
	// Backend overrides the compute backend (default: cpu.New()).
	Backend tensor.Backend
	// Parallel overrides the fan-out config (default: DefaultConfig).
	Parallel *parallel.Config
}

// GRU is a gated recurrent unit layer around the fused GRU kernel.
//
// The cell implements the 1406.1078v1 variant: the reset gate is
// applied to the hidden state after the recurrent matrix
// multiplication, as in cuDNN. DropConnect and Zoneout regularization
// are built in.
//
// Weight layout (gate order z, r, h):
//
//	kernel           (input_size, 3*hidden_size), Xavier-uniform init
//	recurrent_kernel (hidden_size, 3*hidden_size), orthogonal init
//	bias             (3*hidden_size), zeros
//	recurrent_bias   (3*hidden_size), zeros
type GRU[T tensor.Float] struct {
	inputSize  int
	hiddenSize int
	batchFirst bool
	dropout    float64
	zoneout    float64

	backend  tensor.Backend
	par      parallel.Config
	rng      *rand.Rand
	training bool

	kernel          *Parameter
	recurrentKernel *Parameter
	bias            *Parameter
	recurrentBias   *Parameter

	saved *gruSaved
}

// gruSaved is the per-call activation cache: everything the backward
// pass needs from the matching training-mode forward. Freed when
// Backward consumes it.
type gruSaved struct {
	x        *tensor.RawTensor
	h        *tensor.RawTensor
	mask     *tensor.RawTensor
	weights  gru.Weights
	dropMask *tensor.RawTensor
	lengths  []int
	cache    *gru.Cache
}

// NewGRU creates a GRU layer and initializes its parameters.
// Out-of-range dropout or zoneout rates are rejected here, before any
// kernel invocation.
func NewGRU[T tensor.Float](inputSize, hiddenSize int, cfg GRUConfig) (*GRU[T], error) {
	if cfg.Dropout < 0 || cfg.Dropout > 1 {
		return nil, fmt.Errorf("rnn: GRU: dropout must be in [0.0, 1.0], got %v", cfg.Dropout)
	}
	if cfg.Zoneout < 0 || cfg.Zoneout > 1 {
		return nil, fmt.Errorf("rnn: GRU: zoneout must be in [0.0, 1.0], got %v", cfg.Zoneout)
	}
	if inputSize <= 0 || hiddenSize <= 0 {
		return nil, fmt.Errorf("rnn: GRU: sizes must be positive, got input %d hidden %d", inputSize, hiddenSize)
	}

	backend := cfg.Backend
	if backend == nil {
		backend = cpu.New()
	}
	par := parallel.DefaultConfig()
	if cfg.Parallel != nil {
		par = *cfg.Parallel
	}

	G := gru.Gates * hiddenSize
	m := &GRU[T]{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		batchFirst: cfg.BatchFirst,
		dropout:    cfg.Dropout,
		zoneout:    cfg.Zoneout,
		backend:    backend,
		par:        par,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		training:   true,

		kernel:          NewParameter("kernel", tensor.Zeros[T](tensor.Shape{inputSize, G}, tensor.CPU)),
		recurrentKernel: NewParameter("recurrent_kernel", tensor.Zeros[T](tensor.Shape{hiddenSize, G}, tensor.CPU)),
		bias:            NewParameter("bias", tensor.Zeros[T](tensor.Shape{G}, tensor.CPU)),
		recurrentBias:   NewParameter("recurrent_bias", tensor.Zeros[T](tensor.Shape{G}, tensor.CPU)),
	}
	m.ResetParameters(m.rng)
	return m, nil
}

// ResetParameters re-initializes all parameters from the supplied
// random source: Xavier-uniform per gate block for the input
// projection, orthogonal per gate block for the recurrent projection,
// zeros for both biases.
func (m *GRU[T]) ResetParameters(rng *rand.Rand) {
	H := m.hiddenSize
	G := gru.Gates * H
	k := tensor.Data[T](m.kernel.Tensor())
	r := tensor.Data[T](m.recurrentKernel.Tensor())
	for i := 0; i < gru.Gates; i++ {
		xavierUniformBlock(k, m.inputSize, G, i*H, H, rng)
		orthogonalBlock(r, H, G, i*H, H, rng)
	}
	constantSpan(tensor.Data[T](m.bias.Tensor()), 0, G, 0)
	constantSpan(tensor.Data[T](m.recurrentBias.Tensor()), 0, G, 0)
}

// Train switches the layer between training mode (records the
// activation cache, samples regularization masks) and inference mode.
func (m *GRU[T]) Train(training bool) {
	m.training = training
}

// Training reports whether the layer is in training mode.
func (m *GRU[T]) Training() bool { return m.training }

// InputSize returns the input feature width.
func (m *GRU[T]) InputSize() int { return m.inputSize }

// HiddenSize returns the hidden state width.
func (m *GRU[T]) HiddenSize() int { return m.hiddenSize }

// Parameters returns the learnable parameters in a stable order.
func (m *GRU[T]) Parameters() []*Parameter {
	return []*Parameter{m.kernel, m.recurrentKernel, m.bias, m.recurrentBias}
}

// Forward runs the layer over a batch of sequences with a zero initial
// state. See ForwardState.
func (m *GRU[T]) Forward(x *tensor.RawTensor, lengths []int) (output, state *tensor.RawTensor) {
	return m.ForwardState(x, nil, lengths)
}

// ForwardState runs the layer over a batch of sequences.
//
// x is (time, batch, input_size), or (batch, time, input_size) for
// batch-first layers. h0 is the initial state (batch, hidden_size) or
// nil for zeros. lengths optionally gives the valid sequence length per
// batch element; the recurrence still runs to the full fixed length and
// the output is not masked — lengths only select the returned final
// state. Invalid trailing output entries are the caller's to mask.
//
// Returns the emitted state sequence (time, batch, hidden_size) and the
// final state (batch, hidden_size).
func (m *GRU[T]) ForwardState(x, h0 *tensor.RawTensor, lengths []int) (output, state *tensor.RawTensor) {
	if m.batchFirst {
		x = toTimeMajor[T](x)
	}
	if len(x.Shape()) != 3 || x.Shape()[2] != m.inputSize {
		panic(fmt.Sprintf("rnn: GRU: input shape %v, want (time, batch, %d)", x.Shape(), m.inputSize))
	}
	T_, B, H := x.Shape()[0], x.Shape()[1], m.hiddenSize
	dims := gru.Dims{Time: T_, Batch: B, Input: m.inputSize, Hidden: H}

	h := tensor.Zeros[T](tensor.Shape{T_ + 1, B, H}, tensor.CPU)
	if h0 != nil && !h0.IsEmpty() {
		if !h0.Shape().Equal(tensor.Shape{B, H}) {
			panic(fmt.Sprintf("rnn: GRU: initial state shape %v, want (%d, %d)", h0.Shape(), B, H))
		}
		copy(tensor.Data[T](h)[:B*H], tensor.Data[T](h0))
	}

	var mask *tensor.RawTensor
	if m.training {
		mask = sampleZoneoutMask[T](T_, B, H, m.zoneout, m.rng)
	} else {
		mask = tensor.Empty(tensor.DTypeOf[T](), tensor.CPU)
	}

	recurrent := m.recurrentKernel.Tensor()
	var dropMask *tensor.RawTensor
	if m.training {
		recurrent, dropMask = dropConnect[T](recurrent, m.dropout, m.rng)
	}

	weights := gru.Weights{
		Kernel:          m.kernel.Tensor(),
		RecurrentKernel: recurrent,
		Bias:            m.bias.Tensor(),
		RecurrentBias:   m.recurrentBias.Tensor(),
	}

	fp := gru.NewForwardPass[T](m.training, dims, m.backend, m.par)
	cache := fp.Run(x, weights, h, mask)

	if m.training {
		m.saved = &gruSaved{
			x:        x,
			h:        h,
			mask:     mask,
			weights:  weights,
			dropMask: dropMask,
			lengths:  lengths,
			cache:    cache,
		}
	} else {
		m.saved = nil
	}

	if lengths != nil {
		state = selectFinalState[T](h, lengths)
	} else {
		state = h.SliceRows(T_, T_+1).Reshape(tensor.Shape{B, H})
	}

	output = h.SliceRows(1, T_+1)
	if m.batchFirst {
		output = toBatchMajor[T](output)
	}
	return output, state
}

// Backward runs the fused backward kernel against the cache recorded by
// the last training-mode forward, consuming it.
//
// gradOutput is the gradient of the emitted state sequence, in the same
// layout Forward returned it (nil for all-zero). gradState is the
// gradient of the returned final state, (batch, hidden_size) or nil; it
// is routed to the timestep each batch element's state was selected
// from. Parameter gradients accumulate onto the layer's Parameters.
//
// Calling Backward without a prior training-mode forward is a usage
// error and panics.
func (m *GRU[T]) Backward(gradOutput, gradState *tensor.RawTensor) InputGradients {
	if m.saved == nil {
		panic("rnn: GRU backward can only be called after a training-mode forward")
	}
	s := m.saved
	m.saved = nil

	d := s.cacheDims()
	if gradOutput != nil && m.batchFirst {
		gradOutput = toTimeMajor[T](gradOutput)
	}
	dOut, dh0Extra := foldStateGrad[T](gradOutput, gradState, s.lengths, d.Time, d.Batch, d.Hidden)

	bp := gru.NewBackwardPass[T](d, m.backend, m.par)
	grads := bp.Run(s.x, s.weights, s.h, s.mask, dOut, s.cache)

	if dh0Extra != nil {
		addInto(grads.InitialState, dh0Extra)
	}

	recurrentGrad := grads.RecurrentKernel
	if s.dropMask != nil {
		recurrentGrad = mulMask[T](recurrentGrad, s.dropMask)
	}

	m.kernel.AccumulateGrad(grads.Kernel)
	m.recurrentKernel.AccumulateGrad(recurrentGrad)
	m.bias.AccumulateGrad(grads.Bias)
	m.recurrentBias.AccumulateGrad(grads.RecurrentBias)

	dx := grads.X
	if m.batchFirst {
		dx = toBatchMajor[T](dx)
	}
	return InputGradients{X: dx, InitialState: grads.InitialState}
}

func (s *gruSaved) cacheDims() gru.Dims {
	sh := s.x.Shape()
	return gru.Dims{
		Time:   sh[0],
		Batch:  sh[1],
		Input:  sh[2],
		Hidden: s.h.Shape()[2],
	}
}

// InputGradients bundles the gradients Backward returns for the
// non-parameter forward inputs. InitialCell is nil for GRU layers.
type InputGradients struct {
	X            *tensor.RawTensor
	InitialState *tensor.RawTensor
	InitialCell  *tensor.RawTensor
}

// foldStateGrad merges the external final-state gradient into the
// per-timestep output gradient. For length-selected states the
// gradient lands on the timestep the state was taken from; a length of
// zero routes it straight to the initial state.
func foldStateGrad[T tensor.Float](gradOutput, gradState *tensor.RawTensor, lengths []int, timeSteps, batch, hidden int) (dOut, dh0Extra *tensor.RawTensor) {
	dOut = tensor.Zeros[T](tensor.Shape{timeSteps, batch, hidden}, tensor.CPU)
	dOutData := tensor.Data[T](dOut)
	if gradOutput != nil && !gradOutput.IsEmpty() {
		if !gradOutput.Shape().Equal(dOut.Shape()) {
			panic(fmt.Sprintf("rnn: gradOutput shape %v, want %v", gradOutput.Shape(), dOut.Shape()))
		}
		copy(dOutData, tensor.Data[T](gradOutput))
	}
	if gradState == nil || gradState.IsEmpty() {
		return dOut, nil
	}
	if !gradState.Shape().Equal(tensor.Shape{batch, hidden}) {
		panic(fmt.Sprintf("rnn: gradState shape %v, want (%d, %d)", gradState.Shape(), batch, hidden))
	}
	gs := tensor.Data[T](gradState)
	for b := 0; b < batch; b++ {
		t := timeSteps - 1
		if lengths != nil {
			t = lengths[b] - 1
		}
		if t < 0 {
			if dh0Extra == nil {
				dh0Extra = tensor.Zeros[T](tensor.Shape{batch, hidden}, tensor.CPU)
			}
			extra := tensor.Data[T](dh0Extra)
			copy(extra[b*hidden:(b+1)*hidden], gs[b*hidden:(b+1)*hidden])
			continue
		}
		for j := 0; j < hidden; j++ {
			dOutData[(t*batch+b)*hidden+j] += gs[b*hidden+j]
		}
	}
	return dOut, dh0Extra
}
