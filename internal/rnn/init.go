package rnn

import (
	"math"
	"math/rand"

	"github.com/strandml/strand/internal/tensor"
)

// The weight matrices are initialized per gate block, matching the
// layer contract: Xavier-uniform for the input projection, orthogonal
// for the recurrent projection. Both take the random source explicitly
// so re-initialization is pure given the seed.

// xavierUniformBlock fills column block [col, col+width) of a
// (rows, cols) matrix with U(-bound, bound), bound = sqrt(6/(fanIn+fanOut)).
func xavierUniformBlock[T tensor.Float](w []T, rows, cols, col, width int, rng *rand.Rand) {
	bound := math.Sqrt(6.0 / float64(rows+width))
	for r := 0; r < rows; r++ {
		for c := col; c < col+width; c++ {
			w[r*cols+c] = T((rng.Float64()*2 - 1) * bound)
		}
	}
}

// orthogonalBlock fills column block [col, col+width) of a (rows, cols)
// matrix with an orthogonal matrix obtained by Gram-Schmidt on a random
// normal matrix. Requires width <= rows, which holds for square
// recurrent gate blocks.
func orthogonalBlock[T tensor.Float](w []T, rows, cols, col, width int, rng *rand.Rand) {
	// Columns of a random gaussian matrix, orthonormalized in order.
	basis := make([][]float64, 0, width)
	for c := 0; c < width; c++ {
		v := make([]float64, rows)
		for r := range v {
			v[r] = rng.NormFloat64()
		}
		for _, u := range basis {
			var dot float64
			for r := range v {
				dot += v[r] * u[r]
			}
			for r := range v {
				v[r] -= dot * u[r]
			}
		}
		norm := 0.0
		for _, x := range v {
			norm += x * x
		}
		norm = math.Sqrt(norm)
		if norm < 1e-10 {
			// Degenerate draw; retry this column.
			c--
			continue
		}
		for r := range v {
			v[r] /= norm
		}
		basis = append(basis, v)
	}
	for c, u := range basis {
		for r := 0; r < rows; r++ {
			w[r*cols+col+c] = T(u[r])
		}
	}
}

// constantSpan overwrites w[start:end] with value.
func constantSpan[T tensor.Float](w []T, start, end int, value T) {
	for i := start; i < end; i++ {
		w[i] = value
	}
}
