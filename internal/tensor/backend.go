package tensor

// Backend is the compute surface the fused recurrent kernels need.
// It is deliberately narrow: the kernels do their own elementwise work
// and only delegate the dense projections.
//
// Implementations:
//   - cpu: pure Go, goroutine-parallel over output rows
//   - webgpu: WGSL compute shader offload for large projections
type Backend interface {
	// MatMul computes a @ b for 2D tensors: (M, K) @ (K, N) -> (M, N).
	MatMul(a, b *RawTensor) *RawTensor

	// MatMulAT computes aᵀ @ b: (K, M)ᵀ @ (K, N) -> (M, N).
	// Used to accumulate weight gradients: dW = xᵀ @ dPre.
	MatMulAT(a, b *RawTensor) *RawTensor

	// MatMulBT computes a @ bᵀ: (M, K) @ (N, K)ᵀ -> (M, N).
	// Used to push gradients through a projection: dx = dPre @ Wᵀ.
	MatMulBT(a, b *RawTensor) *RawTensor

	// Name identifies the backend implementation.
	Name() string

	// Device is the device this backend allocates results on.
	Device() Device
}
