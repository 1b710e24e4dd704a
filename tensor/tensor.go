// Copyright 2025 Strand ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"math/rand"

	"github.com/strandml/strand/internal/tensor"
)

// Shape represents tensor dimensions, e.g. Shape{time, batch, feature}.
type Shape = tensor.Shape

// RawTensor is a dense row-major tensor.
type RawTensor = tensor.RawTensor

// DataType identifies the element type of a tensor at runtime.
type DataType = tensor.DataType

// Supported element types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
)

// Float is the compile-time constraint for tensor element types.
type Float = tensor.Float

// Device represents the compute device a tensor's memory belongs to.
type Device = tensor.Device

// Supported compute devices.
const (
	CPU    = tensor.CPU
	WebGPU = tensor.WebGPU
)

// Backend performs the matrix multiplications of the fused kernels.
type Backend = tensor.Backend

// NewRaw creates a new zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// Empty creates a zero-element tensor, used for absent optional inputs.
func Empty(dtype DataType, device Device) *RawTensor {
	return tensor.Empty(dtype, device)
}

// FromSlice creates a tensor that copies the given elements.
//
// Example:
//
//	x := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, tensor.CPU)
func FromSlice[T Float](data []T, shape Shape, device Device) *RawTensor {
	return tensor.FromSlice(data, shape, device)
}

// Zeros creates a zero-filled tensor.
func Zeros[T Float](shape Shape, device Device) *RawTensor {
	return tensor.Zeros[T](shape, device)
}

// Ones creates a one-filled tensor.
func Ones[T Float](shape Shape, device Device) *RawTensor {
	return tensor.Ones[T](shape, device)
}

// Full creates a tensor filled with the given value.
func Full[T Float](shape Shape, value T, device Device) *RawTensor {
	return tensor.Full(shape, value, device)
}

// Randn creates a tensor of standard gaussian samples.
func Randn[T Float](shape Shape, rng *rand.Rand, device Device) *RawTensor {
	return tensor.Randn[T](shape, rng, device)
}

// Data returns the tensor's elements as a typed slice sharing the
// tensor's memory.
func Data[T Float](r *RawTensor) []T {
	return tensor.Data[T](r)
}
