// Package layernorm implements per-row layer normalization with the
// exact statistics cache the recurrent cell kernels need for their
// backward pass.
//
// Each row of the input is normalized independently to zero mean and
// unit variance over its feature width, then scaled by a learned gain
// and optionally shifted by a learned bias. Statistics never mix across
// rows: a row is one (timestep, batch element) pair of the recurrence.
package layernorm

import (
	"math"

	"github.com/strandml/strand/internal/parallel"
	"github.com/strandml/strand/internal/tensor"
)

// Epsilon is added to the variance before the inverse square root.
const Epsilon = 1e-5

// CacheSize returns the number of cache elements Forward writes for the
// given row count: one (mean, invstd) pair per row.
func CacheSize(rows int) int {
	return rows * 2
}

// Forward normalizes each of the rows of x (rows x width, row-major)
// into y and records per-row mean and inverse standard deviation in
// cache (laid out [mean, invstd] per row).
//
// gamma has width elements; beta may be nil for gain-only affine.
// x and y may alias only if they are the same slice.
func Forward[T tensor.Float](rows, width int, gamma, beta, x, y, cache []T, par parallel.Config) {
	checkDims("forward", rows, width, gamma, beta, x, y, cache)

	parallel.ForRows(rows, width, func(r int) {
		row := x[r*width : (r+1)*width]
		out := y[r*width : (r+1)*width]

		var sum T
		for _, v := range row {
			sum += v
		}
		mean := sum / T(width)

		var sumsq T
		for _, v := range row {
			diff := v - mean
			sumsq += diff * diff
		}
		invstd := T(1 / math.Sqrt(float64(sumsq/T(width))+Epsilon))

		if beta == nil {
			for i, v := range row {
				out[i] = (v - mean) * invstd * gamma[i]
			}
		} else {
			for i, v := range row {
				out[i] = (v-mean)*invstd*gamma[i] + beta[i]
			}
		}

		cache[r*2+0] = mean
		cache[r*2+1] = invstd
	}, par)
}

// Backward computes the exact Jacobian-vector product of Forward.
//
// Given the upstream gradient dy, it writes the input gradient into dx
// and accumulates parameter gradients into dgamma and, when non-nil,
// dbeta. x and cache must be the tensors Forward saw; the gradient
// flows through both the centered value and the variance term.
func Backward[T tensor.Float](rows, width int, gamma, x, cache, dy, dx, dgamma, dbeta []T, par parallel.Config) {
	checkDims("backward", rows, width, gamma, dbeta, x, dx, cache)

	parallel.ForRows(rows, width, func(r int) {
		mean := cache[r*2+0]
		invstd := cache[r*2+1]
		row := x[r*width : (r+1)*width]
		dyRow := dy[r*width : (r+1)*width]
		dxRow := dx[r*width : (r+1)*width]

		// dxhat = dy * gamma; reduce the two correction terms.
		var sumDxhat, sumDxhatXhat T
		for i, g := range dyRow {
			xhat := (row[i] - mean) * invstd
			dxhat := g * gamma[i]
			sumDxhat += dxhat
			sumDxhatXhat += dxhat * xhat
		}
		meanDxhat := sumDxhat / T(width)
		meanDxhatXhat := sumDxhatXhat / T(width)

		for i, g := range dyRow {
			xhat := (row[i] - mean) * invstd
			dxhat := g * gamma[i]
			dxRow[i] = invstd * (dxhat - meanDxhat - xhat*meanDxhatXhat)
		}
	}, par)

	// Parameter gradients reduce across rows; keep this serial so the
	// row fan-out above never races on shared accumulators.
	for r := 0; r < rows; r++ {
		mean := cache[r*2+0]
		invstd := cache[r*2+1]
		row := x[r*width : (r+1)*width]
		dyRow := dy[r*width : (r+1)*width]
		for i, g := range dyRow {
			dgamma[i] += g * (row[i] - mean) * invstd
			if dbeta != nil {
				dbeta[i] += g
			}
		}
	}
}

func checkDims[T tensor.Float](op string, rows, width int, gamma, beta, x, y, cache []T) {
	if len(gamma) != width {
		panic("layernorm: " + op + ": gamma width mismatch")
	}
	if beta != nil && len(beta) != width {
		panic("layernorm: " + op + ": beta width mismatch")
	}
	if len(x) != rows*width || len(y) != rows*width {
		panic("layernorm: " + op + ": row buffer size mismatch")
	}
	if len(cache) != CacheSize(rows) {
		panic("layernorm: " + op + ": cache size mismatch")
	}
}
