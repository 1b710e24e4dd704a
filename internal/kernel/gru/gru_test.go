package gru_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandml/strand/internal/backend/cpu"
	"github.com/strandml/strand/internal/kernel/gru"
	"github.com/strandml/strand/internal/parallel"
	"github.com/strandml/strand/internal/tensor"
)

func newWeights(d gru.Dims, rng *rand.Rand) gru.Weights {
	G := gru.Gates * d.Hidden
	return gru.Weights{
		Kernel:          tensor.Randn[float64](tensor.Shape{d.Input, G}, rng, tensor.CPU),
		RecurrentKernel: tensor.Randn[float64](tensor.Shape{d.Hidden, G}, rng, tensor.CPU),
		Bias:            tensor.Randn[float64](tensor.Shape{G}, rng, tensor.CPU),
		RecurrentBias:   tensor.Randn[float64](tensor.Shape{G}, rng, tensor.CPU),
	}
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// Single step with scalar dimensions, checked against the closed-form
// cell equations.
func TestForwardMatchesScalarReference(t *testing.T) {
	d := gru.Dims{Time: 1, Batch: 1, Input: 1, Hidden: 1}
	backend := cpu.New()

	w := gru.Weights{
		Kernel:          tensor.FromSlice([]float64{0.3, -0.2, 0.5}, tensor.Shape{1, 3}, tensor.CPU),
		RecurrentKernel: tensor.FromSlice([]float64{0.4, 0.1, -0.6}, tensor.Shape{1, 3}, tensor.CPU),
		Bias:            tensor.FromSlice([]float64{0.05, -0.1, 0.2}, tensor.Shape{3}, tensor.CPU),
		RecurrentBias:   tensor.FromSlice([]float64{-0.04, 0.3, 0.15}, tensor.Shape{3}, tensor.CPU),
	}
	x := tensor.FromSlice([]float64{0.7}, tensor.Shape{1, 1, 1}, tensor.CPU)
	h := tensor.FromSlice([]float64{0.25, 0}, tensor.Shape{2, 1, 1}, tensor.CPU)

	fp := gru.NewForwardPass[float64](false, d, backend, parallel.Sequential())
	cache := fp.Run(x, w, h, tensor.Empty(tensor.Float64, tensor.CPU))
	assert.Nil(t, cache)

	xv, hPrev := 0.7, 0.25
	z := sigmoid(0.3*xv + 0.4*hPrev + 0.05 + (-0.04))
	r := sigmoid(-0.2*xv + 0.1*hPrev + (-0.1) + 0.3)
	q := -0.6*hPrev + 0.15
	g := math.Tanh(0.5*xv + 0.2 + r*q)
	want := (1-z)*hPrev + z*g

	got := tensor.Data[float64](h)[1]
	assert.InDelta(t, want, got, 1e-12)
}

// Full-size forward checked against a plain per-gate loop reference
// with no shared code.
func TestForwardMatchesLoopReference(t *testing.T) {
	d := gru.Dims{Time: 4, Batch: 1, Input: 3, Hidden: 2}
	backend := cpu.New()
	rng := rand.New(rand.NewSource(21))
	w := newWeights(d, rng)
	x := tensor.Randn[float64](tensor.Shape{d.Time, d.Batch, d.Input}, rng, tensor.CPU)

	h := tensor.Zeros[float64](tensor.Shape{d.Time + 1, d.Batch, d.Hidden}, tensor.CPU)
	gru.NewForwardPass[float64](false, d, backend, parallel.Sequential()).
		Run(x, w, h, tensor.Empty(tensor.Float64, tensor.CPU))

	C, H, G := d.Input, d.Hidden, gru.Gates*d.Hidden
	kernel := tensor.Data[float64](w.Kernel)
	recurrent := tensor.Data[float64](w.RecurrentKernel)
	bias := tensor.Data[float64](w.Bias)
	recurrentBias := tensor.Data[float64](w.RecurrentBias)
	xData := tensor.Data[float64](x)

	prev := make([]float64, H)
	for step := 0; step < d.Time; step++ {
		wx := make([]float64, G)
		rh := make([]float64, G)
		for j := 0; j < G; j++ {
			for k := 0; k < C; k++ {
				wx[j] += xData[step*C+k] * kernel[k*G+j]
			}
			for k := 0; k < H; k++ {
				rh[j] += prev[k] * recurrent[k*G+j]
			}
		}
		next := make([]float64, H)
		for j := 0; j < H; j++ {
			z := sigmoid(wx[j] + rh[j] + bias[j] + recurrentBias[j])
			r := sigmoid(wx[H+j] + rh[H+j] + bias[H+j] + recurrentBias[H+j])
			q := rh[2*H+j] + recurrentBias[2*H+j]
			g := math.Tanh(wx[2*H+j] + bias[2*H+j] + r*q)
			next[j] = (1-z)*prev[j] + z*g
		}
		got := tensor.Data[float64](h)[(step+1)*H : (step+2)*H]
		for j := 0; j < H; j++ {
			assert.InDelta(t, next[j], got[j], 1e-12, "step %d, unit %d", step, j)
		}
		prev = next
	}
}

// The state at step t must not depend on inputs at steps after t.
func TestForwardIsCausal(t *testing.T) {
	d := gru.Dims{Time: 4, Batch: 2, Input: 3, Hidden: 2}
	backend := cpu.New()
	rng := rand.New(rand.NewSource(11))
	w := newWeights(d, rng)

	x1 := tensor.Randn[float64](tensor.Shape{d.Time, d.Batch, d.Input}, rng, tensor.CPU)
	x2 := x1.Clone()
	// Perturb only the final timestep.
	last := tensor.Data[float64](x2)[(d.Time-1)*d.Batch*d.Input:]
	for i := range last {
		last[i] += 5
	}

	run := func(x *tensor.RawTensor) []float64 {
		h := tensor.Zeros[float64](tensor.Shape{d.Time + 1, d.Batch, d.Hidden}, tensor.CPU)
		gru.NewForwardPass[float64](false, d, backend, parallel.Sequential()).
			Run(x, w, h, tensor.Empty(tensor.Float64, tensor.CPU))
		return tensor.Data[float64](h)
	}

	h1 := run(x1)
	h2 := run(x2)
	upToLast := d.Time * d.Batch * d.Hidden // rows 0..T-1 of (T+1, B, H)
	assert.Equal(t, h1[:upToLast], h2[:upToLast])
	assert.NotEqual(t, h1[upToLast:], h2[upToLast:])
}

func TestZoneoutMaskRouting(t *testing.T) {
	d := gru.Dims{Time: 3, Batch: 2, Input: 2, Hidden: 2}
	backend := cpu.New()
	rng := rand.New(rand.NewSource(5))
	w := newWeights(d, rng)
	x := tensor.Randn[float64](tensor.Shape{d.Time, d.Batch, d.Input}, rng, tensor.CPU)

	run := func(mask *tensor.RawTensor) []float64 {
		h := tensor.Zeros[float64](tensor.Shape{d.Time + 1, d.Batch, d.Hidden}, tensor.CPU)
		data := tensor.Data[float64](h)
		for i := 0; i < d.Batch*d.Hidden; i++ {
			data[i] = 0.5
		}
		gru.NewForwardPass[float64](false, d, backend, parallel.Sequential()).Run(x, w, h, mask)
		return data
	}

	maskShape := tensor.Shape{d.Time, d.Batch, d.Hidden}

	// An all-ones mask always takes the newly computed state.
	plain := run(tensor.Empty(tensor.Float64, tensor.CPU))
	allNew := run(tensor.Ones[float64](maskShape, tensor.CPU))
	assert.Equal(t, plain, allNew)

	// An all-zeros mask freezes the state at its initial value.
	frozen := run(tensor.Zeros[float64](maskShape, tensor.CPU))
	for _, v := range frozen {
		assert.InDelta(t, 0.5, v, 1e-12)
	}
}

func TestBackwardRequiresCache(t *testing.T) {
	d := gru.Dims{Time: 2, Batch: 1, Input: 2, Hidden: 2}
	backend := cpu.New()
	rng := rand.New(rand.NewSource(3))
	w := newWeights(d, rng)
	x := tensor.Randn[float64](tensor.Shape{d.Time, d.Batch, d.Input}, rng, tensor.CPU)
	h := tensor.Zeros[float64](tensor.Shape{d.Time + 1, d.Batch, d.Hidden}, tensor.CPU)
	dOut := tensor.Zeros[float64](tensor.Shape{d.Time, d.Batch, d.Hidden}, tensor.CPU)

	bp := gru.NewBackwardPass[float64](d, backend, parallel.Sequential())
	assert.PanicsWithValue(t, "gru: backward requires the cache of a training-mode forward", func() {
		bp.Run(x, w, h, tensor.Empty(tensor.Float64, tensor.CPU), dOut, nil)
	})
}

func TestForwardRejectsBadShapes(t *testing.T) {
	d := gru.Dims{Time: 2, Batch: 1, Input: 2, Hidden: 2}
	backend := cpu.New()
	rng := rand.New(rand.NewSource(4))
	w := newWeights(d, rng)
	x := tensor.Randn[float64](tensor.Shape{d.Time, d.Batch, d.Input + 1}, rng, tensor.CPU)
	h := tensor.Zeros[float64](tensor.Shape{d.Time + 1, d.Batch, d.Hidden}, tensor.CPU)

	fp := gru.NewForwardPass[float64](false, d, backend, parallel.Sequential())
	assert.Panics(t, func() {
		fp.Run(x, w, h, tensor.Empty(tensor.Float64, tensor.CPU))
	})
}

// loss is a fixed linear functional of the emitted state sequence so
// its gradient with respect to the outputs is a constant tensor.
type gradCheck struct {
	d       gru.Dims
	w       gru.Weights
	x       *tensor.RawTensor
	h0      []float64
	mask    *tensor.RawTensor
	lossW   []float64
	backend *cpu.CPUBackend
}

func newGradCheck(t *testing.T, d gru.Dims, withMask bool) *gradCheck {
	t.Helper()
	rng := rand.New(rand.NewSource(99))
	gc := &gradCheck{
		d:       d,
		w:       newWeights(d, rng),
		x:       tensor.Randn[float64](tensor.Shape{d.Time, d.Batch, d.Input}, rng, tensor.CPU),
		h0:      make([]float64, d.Batch*d.Hidden),
		mask:    tensor.Empty(tensor.Float64, tensor.CPU),
		lossW:   make([]float64, d.Time*d.Batch*d.Hidden),
		backend: cpu.New(),
	}
	for i := range gc.h0 {
		gc.h0[i] = rng.NormFloat64()
	}
	for i := range gc.lossW {
		gc.lossW[i] = rng.NormFloat64()
	}
	if withMask {
		gc.mask = tensor.Bernoulli[float64](tensor.Shape{d.Time, d.Batch, d.Hidden}, 0.75, rng, tensor.CPU)
	}
	return gc
}

func (gc *gradCheck) forward(training bool) (*tensor.RawTensor, *gru.Cache) {
	h := tensor.Zeros[float64](tensor.Shape{gc.d.Time + 1, gc.d.Batch, gc.d.Hidden}, tensor.CPU)
	copy(tensor.Data[float64](h), gc.h0)
	cache := gru.NewForwardPass[float64](training, gc.d, gc.backend, parallel.Sequential()).
		Run(gc.x, gc.w, h, gc.mask)
	return h, cache
}

func (gc *gradCheck) loss() float64 {
	h, _ := gc.forward(false)
	out := tensor.Data[float64](h)[gc.d.Batch*gc.d.Hidden:]
	sum := 0.0
	for i, v := range out {
		sum += gc.lossW[i] * v
	}
	return sum
}

func (gc *gradCheck) analytic() *gru.Gradients {
	h, cache := gc.forward(true)
	dOut := tensor.FromSlice(gc.lossW, tensor.Shape{gc.d.Time, gc.d.Batch, gc.d.Hidden}, tensor.CPU)
	return gru.NewBackwardPass[float64](gc.d, gc.backend, parallel.Sequential()).
		Run(gc.x, gc.w, h, gc.mask, dOut, cache)
}

// numeric computes dLoss/dParam via central differences on the slice
// backing a forward input.
func (gc *gradCheck) numeric(data []float64) []float64 {
	const eps = 1e-6
	grad := make([]float64, len(data))
	for i := range data {
		orig := data[i]
		data[i] = orig + eps
		plus := gc.loss()
		data[i] = orig - eps
		minus := gc.loss()
		data[i] = orig
		grad[i] = (plus - minus) / (2 * eps)
	}
	return grad
}

func assertGradsClose(t *testing.T, name string, want, got []float64) {
	t.Helper()
	require.Equal(t, len(want), len(got), name)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-6, "%s[%d]", name, i)
	}
}

func runGradCheck(t *testing.T, withMask bool) {
	d := gru.Dims{Time: 3, Batch: 2, Input: 3, Hidden: 2}
	gc := newGradCheck(t, d, withMask)
	grads := gc.analytic()

	assertGradsClose(t, "x", gc.numeric(tensor.Data[float64](gc.x)), tensor.Data[float64](grads.X))
	assertGradsClose(t, "kernel", gc.numeric(tensor.Data[float64](gc.w.Kernel)), tensor.Data[float64](grads.Kernel))
	assertGradsClose(t, "recurrent kernel", gc.numeric(tensor.Data[float64](gc.w.RecurrentKernel)), tensor.Data[float64](grads.RecurrentKernel))
	assertGradsClose(t, "bias", gc.numeric(tensor.Data[float64](gc.w.Bias)), tensor.Data[float64](grads.Bias))
	assertGradsClose(t, "recurrent bias", gc.numeric(tensor.Data[float64](gc.w.RecurrentBias)), tensor.Data[float64](grads.RecurrentBias))
	assertGradsClose(t, "h0", gc.numeric(gc.h0), tensor.Data[float64](grads.InitialState))
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	runGradCheck(t, false)
}

func TestBackwardMatchesFiniteDifferencesWithZoneout(t *testing.T) {
	runGradCheck(t, true)
}
