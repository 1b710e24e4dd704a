package rnn

import (
	"fmt"
	"math/rand"

	"github.com/strandml/strand/internal/backend/cpu"
	"github.com/strandml/strand/internal/kernel/lnlstm"
	"github.com/strandml/strand/internal/parallel"
	"github.com/strandml/strand/internal/tensor"
)

// LayerNormLSTMConfig configures a LayerNormLSTM layer.
type LayerNormLSTMConfig struct {
	// BatchFirst accepts and returns (batch, time, feature) tensors.
	BatchFirst bool
	// ForgetBias is the initial bias of the forget gate. The zero
	// value selects DefaultForgetBias.
	ForgetBias float64
	// Dropout is the DropConnect rate on the recurrent weight matrix.
	Dropout float64
	// Zoneout is the Zoneout rate on the hidden state.
	Zoneout float64
	// Seed seeds parameter initialization and mask sampling.
	Seed int64
	// Backend overrides the compute backend (default: cpu.New()).
	Backend tensor.Backend
	// Parallel overrides the fan-out config.
	Parallel *parallel.Config
}

// DefaultForgetBias is the forget gate bias used when the config does
// not override it.
const DefaultForgetBias = 1.0

// LayerNormLSTM is an LSTM layer that layer-normalizes the input,
// recurrent, and output activations, built around the fused kernel.
// DropConnect and Zoneout regularization are built in, and the initial
// forget gate bias is configurable.
//
// Weight layout (gate order i, g, f, o):
//
//	kernel           (input_size, 4*hidden_size), Xavier-uniform init
//	recurrent_kernel (hidden_size, 4*hidden_size), orthogonal init
//	bias             (4*hidden_size), zeros except forget block
//	gamma            (2, 4*hidden_size), ones; row 0 input path, row 1 recurrent path
//	gamma_h          (hidden_size), ones
//	beta_h           (hidden_size), zeros
type LayerNormLSTM[T tensor.Float] struct {
	inputSize  int
	hiddenSize int
	batchFirst bool
	forgetBias float64
	dropout    float64
	zoneout    float64

	backend  tensor.Backend
	par      parallel.Config
	rng      *rand.Rand
	training bool

	kernel          *Parameter
	recurrentKernel *Parameter
	bias            *Parameter
	gamma           *Parameter
	gammaH          *Parameter
	betaH           *Parameter

	saved *lstmSaved
}

type lstmSaved struct {
	x        *tensor.RawTensor
	h        *tensor.RawTensor
	c        *tensor.RawTensor
	mask     *tensor.RawTensor
	weights  lnlstm.Weights
	dropMask *tensor.RawTensor
	lengths  []int
	cache    *lnlstm.Cache
}

// NewLayerNormLSTM creates a LayerNormLSTM layer and initializes its
// parameters. Out-of-range dropout or zoneout rates are rejected here,
// before any kernel invocation.
func NewLayerNormLSTM[T tensor.Float](inputSize, hiddenSize int, cfg LayerNormLSTMConfig) (*LayerNormLSTM[T], error) {
	if cfg.Dropout < 0 || cfg.Dropout > 1 {
		return nil, fmt.Errorf("rnn: LayerNormLSTM: dropout must be in [0.0, 1.0], got %v", cfg.Dropout)
	}
	if cfg.Zoneout < 0 || cfg.Zoneout > 1 {
		return nil, fmt.Errorf("rnn: LayerNormLSTM: zoneout must be in [0.0, 1.0], got %v", cfg.Zoneout)
	}
	if inputSize <= 0 || hiddenSize <= 0 {
		return nil, fmt.Errorf("rnn: LayerNormLSTM: sizes must be positive, got input %d hidden %d", inputSize, hiddenSize)
	}

	backend := cfg.Backend
	if backend == nil {
		backend = cpu.New()
	}
	par := parallel.DefaultConfig()
	if cfg.Parallel != nil {
		par = *cfg.Parallel
	}
	forgetBias := cfg.ForgetBias
	if forgetBias == 0 {
		forgetBias = DefaultForgetBias
	}

	G := lnlstm.Gates * hiddenSize
	m := &LayerNormLSTM[T]{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		batchFirst: cfg.BatchFirst,
		forgetBias: forgetBias,
		dropout:    cfg.Dropout,
		zoneout:    cfg.Zoneout,
		backend:    backend,
		par:        par,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		training:   true,

		kernel:          NewParameter("kernel", tensor.Zeros[T](tensor.Shape{inputSize, G}, tensor.CPU)),
		recurrentKernel: NewParameter("recurrent_kernel", tensor.Zeros[T](tensor.Shape{hiddenSize, G}, tensor.CPU)),
		bias:            NewParameter("bias", tensor.Zeros[T](tensor.Shape{G}, tensor.CPU)),
		gamma:           NewParameter("gamma", tensor.Zeros[T](tensor.Shape{2, G}, tensor.CPU)),
		gammaH:          NewParameter("gamma_h", tensor.Zeros[T](tensor.Shape{hiddenSize}, tensor.CPU)),
		betaH:           NewParameter("beta_h", tensor.Zeros[T](tensor.Shape{hiddenSize}, tensor.CPU)),
	}
	m.ResetParameters(m.rng)
	return m, nil
}

// ResetParameters re-initializes all parameters from the supplied
// random source. The forget gate bias block is set to the configured
// forget bias; normalization gains are ones and the output shift is
// zeros.
func (m *LayerNormLSTM[T]) ResetParameters(rng *rand.Rand) {
	H := m.hiddenSize
	G := lnlstm.Gates * H
	k := tensor.Data[T](m.kernel.Tensor())
	r := tensor.Data[T](m.recurrentKernel.Tensor())
	for i := 0; i < lnlstm.Gates; i++ {
		xavierUniformBlock(k, m.inputSize, G, i*H, H, rng)
		orthogonalBlock(r, H, G, i*H, H, rng)
	}
	bias := tensor.Data[T](m.bias.Tensor())
	constantSpan(bias, 0, G, 0)
	// Gate order i, g, f, o: the forget block is the third.
	constantSpan(bias, 2*H, 3*H, T(m.forgetBias))
	constantSpan(tensor.Data[T](m.gamma.Tensor()), 0, 2*G, 1)
	constantSpan(tensor.Data[T](m.gammaH.Tensor()), 0, H, 1)
	constantSpan(tensor.Data[T](m.betaH.Tensor()), 0, H, 0)
}

// Train switches between training mode (records the activation cache,
// samples regularization masks) and inference mode.
func (m *LayerNormLSTM[T]) Train(training bool) {
	m.training = training
}

// Training reports whether the layer is in training mode.
func (m *LayerNormLSTM[T]) Training() bool { return m.training }

// InputSize returns the input feature width.
func (m *LayerNormLSTM[T]) InputSize() int { return m.inputSize }

// HiddenSize returns the hidden state width.
func (m *LayerNormLSTM[T]) HiddenSize() int { return m.hiddenSize }

// Parameters returns the learnable parameters in a stable order.
func (m *LayerNormLSTM[T]) Parameters() []*Parameter {
	return []*Parameter{m.kernel, m.recurrentKernel, m.bias, m.gamma, m.gammaH, m.betaH}
}

// Forward runs the layer with zero initial hidden and cell state.
// See ForwardState.
func (m *LayerNormLSTM[T]) Forward(x *tensor.RawTensor, lengths []int) (output, hState, cState *tensor.RawTensor) {
	return m.ForwardState(x, nil, nil, lengths)
}

// ForwardState runs the layer over a batch of sequences.
//
// x is (time, batch, input_size), or (batch, time, input_size) for
// batch-first layers. h0 and c0 are the initial hidden and cell state
// (batch, hidden_size), nil for zeros. lengths selects the returned
// final states per batch element; the output sequence is never masked.
//
// Returns the emitted hidden sequence (time, batch, hidden_size) and
// the final hidden and cell states (batch, hidden_size).
func (m *LayerNormLSTM[T]) ForwardState(x, h0, c0 *tensor.RawTensor, lengths []int) (output, hState, cState *tensor.RawTensor) {
	if m.batchFirst {
		x = toTimeMajor[T](x)
	}
	if len(x.Shape()) != 3 || x.Shape()[2] != m.inputSize {
		panic(fmt.Sprintf("rnn: LayerNormLSTM: input shape %v, want (time, batch, %d)", x.Shape(), m.inputSize))
	}
	T_, B, H := x.Shape()[0], x.Shape()[1], m.hiddenSize
	dims := lnlstm.Dims{Time: T_, Batch: B, Input: m.inputSize, Hidden: H}

	h := tensor.Zeros[T](tensor.Shape{T_ + 1, B, H}, tensor.CPU)
	c := tensor.Zeros[T](tensor.Shape{T_ + 1, B, H}, tensor.CPU)
	for _, init := range []struct {
		state *tensor.RawTensor
		from  *tensor.RawTensor
		name  string
	}{{h, h0, "initial hidden state"}, {c, c0, "initial cell state"}} {
		if init.from == nil || init.from.IsEmpty() {
			continue
		}
		if !init.from.Shape().Equal(tensor.Shape{B, H}) {
			panic(fmt.Sprintf("rnn: LayerNormLSTM: %s shape %v, want (%d, %d)", init.name, init.from.Shape(), B, H))
		}
		copy(tensor.Data[T](init.state)[:B*H], tensor.Data[T](init.from))
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

	weights := lnlstm.Weights{
		Kernel:          m.kernel.Tensor(),
		RecurrentKernel: recurrent,
		Bias:            m.bias.Tensor(),
		Gamma:           m.gamma.Tensor(),
		GammaH:          m.gammaH.Tensor(),
		BetaH:           m.betaH.Tensor(),
	}

	fp := lnlstm.NewForwardPass[T](m.training, dims, m.backend, m.par)
	cache := fp.Run(x, weights, h, c, mask)

	if m.training {
		m.saved = &lstmSaved{
			x:        x,
			h:        h,
			c:        c,
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
		hState = selectFinalState[T](h, lengths)
		cState = selectFinalState[T](c, lengths)
	} else {
		hState = h.SliceRows(T_, T_+1).Reshape(tensor.Shape{B, H})
		cState = c.SliceRows(T_, T_+1).Reshape(tensor.Shape{B, H})
	}

	output = h.SliceRows(1, T_+1)
	if m.batchFirst {
		output = toBatchMajor[T](output)
	}
	return output, hState, cState
}

// Backward runs the fused backward kernel against the cache recorded by
// the last training-mode forward, consuming it.
//
// gradOutput is the gradient of the emitted hidden sequence (nil for
// all-zero), in the layout Forward returned it. gradHState and
// gradCState are the gradients of the returned final states; both are
// routed to the timestep the states were selected from. Parameter
// gradients accumulate onto the layer's Parameters.
//
// Calling Backward without a prior training-mode forward is a usage
// error and panics.
func (m *LayerNormLSTM[T]) Backward(gradOutput, gradHState, gradCState *tensor.RawTensor) InputGradients {
	if m.saved == nil {
		panic("rnn: LayerNormLSTM backward can only be called after a training-mode forward")
	}
	s := m.saved
	m.saved = nil

	sh := s.x.Shape()
	d := lnlstm.Dims{Time: sh[0], Batch: sh[1], Input: sh[2], Hidden: m.hiddenSize}
	if gradOutput != nil && m.batchFirst {
		gradOutput = toTimeMajor[T](gradOutput)
	}
	dOut, dh0Extra := foldStateGrad[T](gradOutput, gradHState, s.lengths, d.Time, d.Batch, d.Hidden)

	var dCellOut *tensor.RawTensor
	var dc0Extra *tensor.RawTensor
	if gradCState != nil && !gradCState.IsEmpty() {
		dCellOut, dc0Extra = foldStateGrad[T](nil, gradCState, s.lengths, d.Time, d.Batch, d.Hidden)
	}

	bp := lnlstm.NewBackwardPass[T](d, m.backend, m.par)
	grads := bp.Run(s.x, s.weights, s.h, s.c, s.mask, dOut, dCellOut, s.cache)

	if dh0Extra != nil {
		addInto(grads.InitialState, dh0Extra)
	}
	if dc0Extra != nil {
		addInto(grads.InitialCell, dc0Extra)
	}

	recurrentGrad := grads.RecurrentKernel
	if s.dropMask != nil {
		recurrentGrad = mulMask[T](recurrentGrad, s.dropMask)
	}

	m.kernel.AccumulateGrad(grads.Kernel)
	m.recurrentKernel.AccumulateGrad(recurrentGrad)
	m.bias.AccumulateGrad(grads.Bias)
	m.gamma.AccumulateGrad(grads.Gamma)
	m.gammaH.AccumulateGrad(grads.GammaH)
	m.betaH.AccumulateGrad(grads.BetaH)

	dx := grads.X
	if m.batchFirst {
		dx = toBatchMajor[T](dx)
	}
	return InputGradients{X: dx, InitialState: grads.InitialState, InitialCell: grads.InitialCell}
}
