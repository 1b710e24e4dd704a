package tensor

import (
	"fmt"
	"math/rand"
)

// Empty returns a tensor with zero elements. Empty tensors stand in for
// optional kernel inputs that are absent (e.g. no zoneout mask).
func Empty(dtype DataType, device Device) *RawTensor {
	return &RawTensor{
		data:   nil,
		shape:  Shape{0},
		stride: []int{1},
		dtype:  dtype,
		device: device,
	}
}

// Data returns the elements of r as a []T. The type parameter must
// match the tensor's runtime dtype.
func Data[T Float](r *RawTensor) []T {
	switch any(*new(T)).(type) {
	case float64:
		return any(r.AsFloat64()).([]T)
	default:
		return any(r.AsFloat32()).([]T)
	}
}

// FromSlice creates a tensor by copying data into fresh memory.
// The shape must account for every element.
func FromSlice[T Float](data []T, shape Shape, device Device) *RawTensor {
	if shape.NumElements() != len(data) {
		panic(fmt.Sprintf("tensor: shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data)))
	}
	raw := MustRaw(shape, DTypeOf[T](), device)
	copy(Data[T](raw), data)
	return raw
}

// Zeros creates a zero-filled tensor.
func Zeros[T Float](shape Shape, device Device) *RawTensor {
	return MustRaw(shape, DTypeOf[T](), device)
}

// Ones creates a tensor filled with ones.
func Ones[T Float](shape Shape, device Device) *RawTensor {
	return Full[T](shape, 1, device)
}

// Full creates a tensor filled with a constant value.
func Full[T Float](shape Shape, value T, device Device) *RawTensor {
	raw := MustRaw(shape, DTypeOf[T](), device)
	data := Data[T](raw)
	for i := range data {
		data[i] = value
	}
	return raw
}

// Randn creates a tensor with elements drawn from N(0, 1) using the
// supplied source of randomness.
func Randn[T Float](shape Shape, rng *rand.Rand, device Device) *RawTensor {
	raw := MustRaw(shape, DTypeOf[T](), device)
	data := Data[T](raw)
	for i := range data {
		data[i] = T(rng.NormFloat64())
	}
	return raw
}

// Bernoulli creates a tensor whose elements are 1 with probability p
// and 0 otherwise, using the supplied source of randomness.
func Bernoulli[T Float](shape Shape, p float64, rng *rand.Rand, device Device) *RawTensor {
	raw := MustRaw(shape, DTypeOf[T](), device)
	data := Data[T](raw)
	for i := range data {
		if rng.Float64() < p {
			data[i] = 1
		}
	}
	return raw
}
