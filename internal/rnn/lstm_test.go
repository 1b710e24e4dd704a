package rnn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandml/strand/internal/tensor"
)

func TestNewLayerNormLSTMRejectsBadConfig(t *testing.T) {
	_, err := NewLayerNormLSTM[float32](4, 8, LayerNormLSTMConfig{Dropout: -0.5})
	assert.ErrorContains(t, err, "dropout must be in [0.0, 1.0]")

	_, err = NewLayerNormLSTM[float32](4, 8, LayerNormLSTMConfig{Zoneout: 2})
	assert.ErrorContains(t, err, "zoneout must be in [0.0, 1.0]")

	_, err = NewLayerNormLSTM[float32](4, -1, LayerNormLSTMConfig{})
	assert.ErrorContains(t, err, "sizes must be positive")
}

func TestLayerNormLSTMInitialBias(t *testing.T) {
	const H = 3
	m, err := NewLayerNormLSTM[float64](2, H, LayerNormLSTMConfig{Seed: 1})
	require.NoError(t, err)

	bias := tensor.Data[float64](m.Parameters()[2].Tensor())
	for i, v := range bias {
		if i >= 2*H && i < 3*H {
			assert.Equal(t, DefaultForgetBias, v, "forget bias at %d", i)
		} else {
			assert.Zero(t, v, "bias at %d", i)
		}
	}

	custom, err := NewLayerNormLSTM[float64](2, H, LayerNormLSTMConfig{ForgetBias: 2.5})
	require.NoError(t, err)
	assert.Equal(t, 2.5, tensor.Data[float64](custom.Parameters()[2].Tensor())[2*H])

	gamma := tensor.Data[float64](m.Parameters()[3].Tensor())
	for _, v := range gamma {
		assert.Equal(t, 1.0, v)
	}
	gammaH := tensor.Data[float64](m.Parameters()[4].Tensor())
	for _, v := range gammaH {
		assert.Equal(t, 1.0, v)
	}
	betaH := tensor.Data[float64](m.Parameters()[5].Tensor())
	for _, v := range betaH {
		assert.Zero(t, v)
	}
}

func TestLayerNormLSTMForwardShapes(t *testing.T) {
	m, err := NewLayerNormLSTM[float32](3, 5, LayerNormLSTMConfig{Seed: 2})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	x := tensor.Randn[float32](tensor.Shape{4, 2, 3}, rng, tensor.CPU)
	out, hState, cState := m.Forward(x, nil)

	assert.Equal(t, tensor.Shape{4, 2, 5}, out.Shape())
	assert.Equal(t, tensor.Shape{2, 5}, hState.Shape())
	assert.Equal(t, tensor.Shape{2, 5}, cState.Shape())

	last := out.SliceRows(3, 4).Reshape(tensor.Shape{2, 5})
	assert.Equal(t, last.AsFloat32(), hState.AsFloat32())
}

func TestLayerNormLSTMForwardRejectsBadState(t *testing.T) {
	m, err := NewLayerNormLSTM[float32](3, 4, LayerNormLSTMConfig{})
	require.NoError(t, err)

	x := tensor.Zeros[float32](tensor.Shape{2, 2, 3}, tensor.CPU)
	good := tensor.Zeros[float32](tensor.Shape{2, 4}, tensor.CPU)
	bad := tensor.Zeros[float32](tensor.Shape{2, 5}, tensor.CPU)

	assert.Panics(t, func() { m.ForwardState(x, bad, nil, nil) })
	assert.Panics(t, func() { m.ForwardState(x, good, bad, nil) })
}

func TestLayerNormLSTMBackwardRequiresTrainingForward(t *testing.T) {
	m, err := NewLayerNormLSTM[float32](2, 3, LayerNormLSTMConfig{})
	require.NoError(t, err)

	assert.PanicsWithValue(t,
		"rnn: LayerNormLSTM backward can only be called after a training-mode forward",
		func() { m.Backward(nil, nil, nil) })
}

func TestLayerNormLSTMBackwardGradients(t *testing.T) {
	m, err := NewLayerNormLSTM[float64](2, 3, LayerNormLSTMConfig{Seed: 4})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(5))
	x := tensor.Randn[float64](tensor.Shape{3, 2, 2}, rng, tensor.CPU)
	out, hState, cState := m.Forward(x, nil)

	dOut := tensor.Ones[float64](out.Shape(), tensor.CPU)
	dH := tensor.Ones[float64](hState.Shape(), tensor.CPU)
	dC := tensor.Ones[float64](cState.Shape(), tensor.CPU)
	grads := m.Backward(dOut, dH, dC)

	assert.Equal(t, x.Shape(), grads.X.Shape())
	assert.Equal(t, tensor.Shape{2, 3}, grads.InitialState.Shape())
	assert.Equal(t, tensor.Shape{2, 3}, grads.InitialCell.Shape())

	for _, p := range m.Parameters() {
		require.NotNil(t, p.Grad(), "parameter %s has no gradient", p.Name())
		assert.Equal(t, p.Tensor().Shape(), p.Grad().Shape())
	}

	assert.Panics(t, func() { m.Backward(dOut, nil, nil) })
}

func TestLayerNormLSTMZeroLengthRoutesCellGrad(t *testing.T) {
	m, err := NewLayerNormLSTM[float64](2, 3, LayerNormLSTMConfig{Seed: 6})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	x := tensor.Randn[float64](tensor.Shape{3, 1, 2}, rng, tensor.CPU)
	m.ForwardState(x, nil, nil, []int{0})

	gradC := tensor.Randn[float64](tensor.Shape{1, 3}, rng, tensor.CPU)
	grads := m.Backward(nil, nil, gradC)

	assert.InDeltaSlice(t, gradC.AsFloat64(), grads.InitialCell.AsFloat64(), 1e-12)
	for _, v := range grads.X.AsFloat64() {
		assert.Zero(t, v)
	}
}

func TestLayerNormLSTMLengthsSelectBothStates(t *testing.T) {
	m, err := NewLayerNormLSTM[float64](2, 3, LayerNormLSTMConfig{Seed: 8})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(9))
	x := tensor.Randn[float64](tensor.Shape{4, 2, 2}, rng, tensor.CPU)
	out, hState, _ := m.Forward(x, []int{3, 1})

	outData := out.AsFloat64()
	hData := hState.AsFloat64()
	for j := 0; j < 3; j++ {
		assert.Equal(t, outData[(2*2+0)*3+j], hData[j])
		assert.Equal(t, outData[(0*2+1)*3+j], hData[3+j])
	}
}

func TestLayerNormLSTMBatchFirstMatchesTimeMajor(t *testing.T) {
	const T_, B, C, H = 3, 2, 4, 5
	tm, err := NewLayerNormLSTM[float64](C, H, LayerNormLSTMConfig{Seed: 10})
	require.NoError(t, err)
	bf, err := NewLayerNormLSTM[float64](C, H, LayerNormLSTMConfig{Seed: 10, BatchFirst: true})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(11))
	x := tensor.Randn[float64](tensor.Shape{T_, B, C}, rng, tensor.CPU)

	outTM, hTM, cTM := tm.Forward(x, nil)
	outBF, hBF, cBF := bf.Forward(toBatchMajor[float64](x), nil)

	assert.Equal(t, tensor.Shape{B, T_, H}, outBF.Shape())
	assert.InDeltaSlice(t, outTM.AsFloat64(), toTimeMajor[float64](outBF).AsFloat64(), 1e-12)
	assert.InDeltaSlice(t, hTM.AsFloat64(), hBF.AsFloat64(), 1e-12)
	assert.InDeltaSlice(t, cTM.AsFloat64(), cBF.AsFloat64(), 1e-12)

	dOut := tensor.Randn[float64](tensor.Shape{T_, B, H}, rng, tensor.CPU)
	gTM := tm.Backward(dOut, nil, nil)
	gBF := bf.Backward(toBatchMajor[float64](dOut), nil, nil)

	assert.InDeltaSlice(t, gTM.X.AsFloat64(), toTimeMajor[float64](gBF.X).AsFloat64(), 1e-12)
}

func TestLayerNormLSTMInferenceIsDeterministicUnderRegularization(t *testing.T) {
	m, err := NewLayerNormLSTM[float32](3, 4, LayerNormLSTMConfig{Seed: 12, Dropout: 0.4, Zoneout: 0.4})
	require.NoError(t, err)
	m.Train(false)

	rng := rand.New(rand.NewSource(13))
	x := tensor.Randn[float32](tensor.Shape{4, 2, 3}, rng, tensor.CPU)
	out1, _, _ := m.Forward(x, nil)
	out2, _, _ := m.Forward(x, nil)
	assert.Equal(t, out1.AsFloat32(), out2.AsFloat32())
}
