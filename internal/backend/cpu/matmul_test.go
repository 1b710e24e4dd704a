package cpu_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/strandml/strand/internal/backend/cpu"
	"github.com/strandml/strand/internal/parallel"
	"github.com/strandml/strand/internal/tensor"
)

func TestMatMul(t *testing.T) {
	backend := cpu.New()
	a := tensor.FromSlice([]float32{
		1, 2, 3,
		4, 5, 6,
	}, tensor.Shape{2, 3}, tensor.CPU)
	b := tensor.FromSlice([]float32{
		7, 8,
		9, 10,
		11, 12,
	}, tensor.Shape{3, 2}, tensor.CPU)

	c := backend.MatMul(a, b)

	assert.Equal(t, tensor.Shape{2, 2}, c.Shape())
	assert.Equal(t, []float32{58, 64, 139, 154}, c.AsFloat32())
}

func TestMatMulAT(t *testing.T) {
	backend := cpu.New()
	// a is (K, M); the result must equal transpose(a) @ b.
	a := tensor.FromSlice([]float64{
		1, 4,
		2, 5,
		3, 6,
	}, tensor.Shape{3, 2}, tensor.CPU)
	b := tensor.FromSlice([]float64{
		7, 8,
		9, 10,
		11, 12,
	}, tensor.Shape{3, 2}, tensor.CPU)

	c := backend.MatMulAT(a, b)

	assert.Equal(t, tensor.Shape{2, 2}, c.Shape())
	assert.Equal(t, []float64{58, 64, 139, 154}, c.AsFloat64())
}

func TestMatMulBT(t *testing.T) {
	backend := cpu.New()
	a := tensor.FromSlice([]float64{
		1, 2, 3,
		4, 5, 6,
	}, tensor.Shape{2, 3}, tensor.CPU)
	// b is (N, K); the result must equal a @ transpose(b).
	b := tensor.FromSlice([]float64{
		7, 9, 11,
		8, 10, 12,
	}, tensor.Shape{2, 3}, tensor.CPU)

	c := backend.MatMulBT(a, b)

	assert.Equal(t, tensor.Shape{2, 2}, c.Shape())
	assert.Equal(t, []float64{58, 64, 139, 154}, c.AsFloat64())
}

func TestParallelMatchesSequential(t *testing.T) {
	const m, k, n = 33, 17, 29
	rng := rand.New(rand.NewSource(6))
	a := tensor.Randn[float64](tensor.Shape{m, k}, rng, tensor.CPU)
	b := tensor.Randn[float64](tensor.Shape{k, n}, rng, tensor.CPU)

	seq := cpu.NewWithConfig(parallel.Sequential()).MatMul(a, b)
	par := cpu.NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 8, MinChunkSize: 1}).MatMul(a, b)

	seqData := seq.AsFloat64()
	for i, v := range par.AsFloat64() {
		assert.InDelta(t, seqData[i], v, 1e-12)
	}
}

func TestMatMulRejectsShapeMismatch(t *testing.T) {
	backend := cpu.New()
	a := tensor.Zeros[float32](tensor.Shape{2, 3}, tensor.CPU)
	b := tensor.Zeros[float32](tensor.Shape{4, 2}, tensor.CPU)
	assert.Panics(t, func() { backend.MatMul(a, b) })
}

func TestMatMulRejectsDTypeMismatch(t *testing.T) {
	backend := cpu.New()
	a := tensor.Zeros[float32](tensor.Shape{2, 3}, tensor.CPU)
	b := tensor.Zeros[float64](tensor.Shape{3, 2}, tensor.CPU)
	assert.Panics(t, func() { backend.MatMul(a, b) })
}
