package cpu

import (
	"fmt"

	"github.com/strandml/strand/internal/parallel"
	"github.com/strandml/strand/internal/tensor"
)

// MatMul performs matrix multiplication: (M, K) @ (K, N) -> (M, N).
// Output rows are computed in parallel; the inner loop is ordered
// k-then-j so the B operand is walked sequentially.
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	m, k := check2D("matmul", a, b)
	kAlt, n := b.Shape()[0], b.Shape()[1]
	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch %v @ %v", a.Shape(), b.Shape()))
	}

	result := tensor.MustRaw(tensor.Shape{m, n}, a.DType(), cpu.device)
	switch a.DType() {
	case tensor.Float32:
		gemm(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), m, k, n, cpu.par)
	case tensor.Float64:
		gemm(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), m, k, n, cpu.par)
	default:
		panic(fmt.Sprintf("matmul: unsupported dtype %s", a.DType()))
	}
	return result
}

// MatMulAT performs aᵀ @ b: (K, M)ᵀ @ (K, N) -> (M, N).
func (cpu *CPUBackend) MatMulAT(a, b *tensor.RawTensor) *tensor.RawTensor {
	k, m := check2D("matmul_at", a, b)
	kAlt, n := b.Shape()[0], b.Shape()[1]
	if k != kAlt {
		panic(fmt.Sprintf("matmul_at: shape mismatch %vᵀ @ %v", a.Shape(), b.Shape()))
	}

	result := tensor.MustRaw(tensor.Shape{m, n}, a.DType(), cpu.device)
	switch a.DType() {
	case tensor.Float32:
		gemmAT(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), m, k, n, cpu.par)
	case tensor.Float64:
		gemmAT(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), m, k, n, cpu.par)
	default:
		panic(fmt.Sprintf("matmul_at: unsupported dtype %s", a.DType()))
	}
	return result
}

// MatMulBT performs a @ bᵀ: (M, K) @ (N, K)ᵀ -> (M, N).
func (cpu *CPUBackend) MatMulBT(a, b *tensor.RawTensor) *tensor.RawTensor {
	m, k := check2D("matmul_bt", a, b)
	n, kAlt := b.Shape()[0], b.Shape()[1]
	if k != kAlt {
		panic(fmt.Sprintf("matmul_bt: shape mismatch %v @ %vᵀ", a.Shape(), b.Shape()))
	}

	result := tensor.MustRaw(tensor.Shape{m, n}, a.DType(), cpu.device)
	switch a.DType() {
	case tensor.Float32:
		gemmBT(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), m, k, n, cpu.par)
	case tensor.Float64:
		gemmBT(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), m, k, n, cpu.par)
	default:
		panic(fmt.Sprintf("matmul_bt: unsupported dtype %s", a.DType()))
	}
	return result
}

func check2D(op string, a, b *tensor.RawTensor) (int, int) {
	if len(a.Shape()) != 2 || len(b.Shape()) != 2 {
		panic(fmt.Sprintf("%s: only 2D tensors supported, got %dD and %dD", op, len(a.Shape()), len(b.Shape())))
	}
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("%s: dtype mismatch %s vs %s", op, a.DType(), b.DType()))
	}
	return a.Shape()[0], a.Shape()[1]
}

// gemm computes C[i,j] = sum_k A[i,k] * B[k,j].
func gemm[T tensor.Float](c, a, b []T, m, k, n int, par parallel.Config) {
	parallel.ForRows(m, n, func(i int) {
		row := c[i*n : (i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for kk := 0; kk < k; kk++ {
			aik := a[i*k+kk]
			if aik == 0 {
				continue
			}
			bRow := b[kk*n : (kk+1)*n]
			for j, bv := range bRow {
				row[j] += aik * bv
			}
		}
	}, par)
}

// gemmAT computes C[i,j] = sum_k A[k,i] * B[k,j].
func gemmAT[T tensor.Float](c, a, b []T, m, k, n int, par parallel.Config) {
	parallel.ForRows(m, n, func(i int) {
		row := c[i*n : (i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for kk := 0; kk < k; kk++ {
			aki := a[kk*m+i]
			if aki == 0 {
				continue
			}
			bRow := b[kk*n : (kk+1)*n]
			for j, bv := range bRow {
				row[j] += aki * bv
			}
		}
	}, par)
}

// gemmBT computes C[i,j] = sum_k A[i,k] * B[j,k].
func gemmBT[T tensor.Float](c, a, b []T, m, k, n int, par parallel.Config) {
	parallel.ForRows(m, n, func(i int) {
		aRow := a[i*k : (i+1)*k]
		row := c[i*n : (i+1)*n]
		for j := 0; j < n; j++ {
			bRow := b[j*k : (j+1)*k]
			var sum T
			for kk, av := range aRow {
				sum += av * bRow[kk]
			}
			row[j] = sum
		}
	}, par)
}
