package layernorm_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/strandml/strand/internal/kernel/layernorm"
	"github.com/strandml/strand/internal/parallel"
)

func randRows(rows, width int, rng *rand.Rand) []float64 {
	data := make([]float64, rows*width)
	for i := range data {
		data[i] = rng.NormFloat64()*2 + 0.5
	}
	return data
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func TestForwardNormalizesEachRow(t *testing.T) {
	const rows, width = 5, 8
	rng := rand.New(rand.NewSource(1))
	x := randRows(rows, width, rng)
	y := make([]float64, rows*width)
	cache := make([]float64, layernorm.CacheSize(rows))

	layernorm.Forward(rows, width, ones(width), nil, x, y, cache, parallel.Sequential())

	for r := 0; r < rows; r++ {
		row := y[r*width : (r+1)*width]
		var mean, sumsq float64
		for _, v := range row {
			mean += v
		}
		mean /= width
		for _, v := range row {
			sumsq += (v - mean) * (v - mean)
		}
		assert.InDelta(t, 0.0, mean, 1e-12, "row %d mean", r)
		// Variance is slightly below one because of epsilon.
		assert.InDelta(t, 1.0, sumsq/width, 1e-3, "row %d variance", r)
	}
}

func TestForwardAppliesGainAndShift(t *testing.T) {
	const rows, width = 2, 4
	rng := rand.New(rand.NewSource(2))
	x := randRows(rows, width, rng)

	gamma := []float64{2, 0.5, -1, 3}
	beta := []float64{0.1, 0.2, 0.3, 0.4}

	plain := make([]float64, rows*width)
	cache := make([]float64, layernorm.CacheSize(rows))
	layernorm.Forward(rows, width, ones(width), nil, x, plain, cache, parallel.Sequential())

	affine := make([]float64, rows*width)
	layernorm.Forward(rows, width, gamma, beta, x, affine, cache, parallel.Sequential())

	for r := 0; r < rows; r++ {
		for i := 0; i < width; i++ {
			want := plain[r*width+i]*gamma[i] + beta[i]
			assert.InDelta(t, want, affine[r*width+i], 1e-12)
		}
	}
}

func TestRowsAreIndependent(t *testing.T) {
	const rows, width = 3, 6
	rng := rand.New(rand.NewSource(3))
	x := randRows(rows, width, rng)
	y1 := make([]float64, rows*width)
	cache := make([]float64, layernorm.CacheSize(rows))
	layernorm.Forward(rows, width, ones(width), nil, x, y1, cache, parallel.Sequential())

	// Changing row 2 must not change rows 0 and 1.
	x2 := append([]float64(nil), x...)
	for i := 2 * width; i < 3*width; i++ {
		x2[i] *= -3
	}
	y2 := make([]float64, rows*width)
	layernorm.Forward(rows, width, ones(width), nil, x2, y2, cache, parallel.Sequential())

	assert.Equal(t, y1[:2*width], y2[:2*width])
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	const rows, width = 3, 5
	const eps = 1e-6
	rng := rand.New(rand.NewSource(4))
	x := randRows(rows, width, rng)
	gamma := make([]float64, width)
	beta := make([]float64, width)
	for i := range gamma {
		gamma[i] = 1 + 0.1*float64(i)
		beta[i] = 0.05 * float64(i)
	}
	lossW := randRows(rows, width, rng)

	loss := func() float64 {
		y := make([]float64, rows*width)
		cache := make([]float64, layernorm.CacheSize(rows))
		layernorm.Forward(rows, width, gamma, beta, x, y, cache, parallel.Sequential())
		sum := 0.0
		for i, v := range y {
			sum += lossW[i] * v
		}
		return sum
	}

	numeric := func(data []float64) []float64 {
		grad := make([]float64, len(data))
		for i := range data {
			orig := data[i]
			data[i] = orig + eps
			plus := loss()
			data[i] = orig - eps
			minus := loss()
			data[i] = orig
			grad[i] = (plus - minus) / (2 * eps)
		}
		return grad
	}

	y := make([]float64, rows*width)
	cache := make([]float64, layernorm.CacheSize(rows))
	layernorm.Forward(rows, width, gamma, beta, x, y, cache, parallel.Sequential())

	dx := make([]float64, rows*width)
	dgamma := make([]float64, width)
	dbeta := make([]float64, width)
	layernorm.Backward(rows, width, gamma, x, cache, lossW, dx, dgamma, dbeta, parallel.Sequential())

	for i, want := range numeric(x) {
		assert.InDelta(t, want, dx[i], 1e-6, "dx[%d]", i)
	}
	for i, want := range numeric(gamma) {
		assert.InDelta(t, want, dgamma[i], 1e-6, "dgamma[%d]", i)
	}
	for i, want := range numeric(beta) {
		assert.InDelta(t, want, dbeta[i], 1e-6, "dbeta[%d]", i)
	}
}

func TestForwardRejectsBadSizes(t *testing.T) {
	assert.Panics(t, func() {
		layernorm.Forward(2, 4, ones(3), nil, make([]float64, 8), make([]float64, 8),
			make([]float64, layernorm.CacheSize(2)), parallel.Sequential())
	})
}
