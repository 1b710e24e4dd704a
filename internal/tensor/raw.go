package tensor

import (
	"fmt"
	"unsafe"
)

// Device represents the compute device a tensor's memory belongs to.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// RawTensor is the low-level tensor representation used by the fused
// kernels. Memory is always contiguous and row-major; views created
// with SliceRows share the underlying buffer.
//
// A RawTensor carries no autodiff state. The kernels record whatever
// they need for their backward pass in explicit caches instead.
type RawTensor struct {
	data   []byte
	shape  Shape
	stride []int
	dtype  DataType
	device Device
	offset int // element offset into data, for row views
}

// NewRaw creates a new zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// MustRaw is NewRaw for shapes already validated by the caller.
func MustRaw(shape Shape, dtype DataType, device Device) *RawTensor {
	r, err := NewRaw(shape, dtype, device)
	if err != nil {
		panic(fmt.Sprintf("tensor: %v", err))
	}
	return r
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the number of elements in this tensor (or view).
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// IsEmpty reports whether the tensor has no elements. Empty tensors are
// used to signal "absent" optional inputs such as the zoneout mask.
func (r *RawTensor) IsEmpty() bool {
	return r == nil || r.shape.NumElements() == 0 || len(r.shape) == 0
}

// AsFloat32 returns the tensor's elements as a float32 slice.
// Panics if the dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor: AsFloat32 on %s tensor", r.dtype))
	}
	if len(r.data) == 0 {
		return nil
	}
	all := unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), len(r.data)/4)
	return all[r.offset : r.offset+r.NumElements()]
}

// AsFloat64 returns the tensor's elements as a float64 slice.
// Panics if the dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor: AsFloat64 on %s tensor", r.dtype))
	}
	if len(r.data) == 0 {
		return nil
	}
	all := unsafe.Slice((*float64)(unsafe.Pointer(&r.data[0])), len(r.data)/8)
	return all[r.offset : r.offset+r.NumElements()]
}

// Bytes returns the raw bytes of this tensor's elements (the view
// window for row views). The slice aliases the tensor's memory.
func (r *RawTensor) Bytes() []byte {
	start := r.offset * r.dtype.Size()
	return r.data[start : start+r.NumElements()*r.dtype.Size()]
}

// SliceRows returns a view of rows [start, end) along the first
// dimension. The view shares memory with the parent tensor.
func (r *RawTensor) SliceRows(start, end int) *RawTensor {
	if len(r.shape) == 0 {
		panic("tensor: SliceRows on scalar tensor")
	}
	if start < 0 || end > r.shape[0] || start > end {
		panic(fmt.Sprintf("tensor: SliceRows [%d, %d) out of range for dim of size %d", start, end, r.shape[0]))
	}
	shape := r.shape.Clone()
	shape[0] = end - start
	return &RawTensor{
		data:   r.data,
		shape:  shape,
		stride: r.stride,
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset + start*r.stride[0],
	}
}

// Reshape returns a view of the same memory with a different shape.
// The element count must match.
func (r *RawTensor) Reshape(shape Shape) *RawTensor {
	if shape.NumElements() != r.NumElements() {
		panic(fmt.Sprintf("tensor: cannot reshape %v to %v", r.shape, shape))
	}
	return &RawTensor{
		data:   r.data,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset,
	}
}

// Clone returns a deep copy of the tensor (views are materialized).
func (r *RawTensor) Clone() *RawTensor {
	out := MustRaw(r.shape, r.dtype, r.device)
	switch r.dtype {
	case Float32:
		copy(out.AsFloat32(), r.AsFloat32())
	case Float64:
		copy(out.AsFloat64(), r.AsFloat64())
	}
	return out
}

// Zero overwrites every element with zero.
func (r *RawTensor) Zero() {
	switch r.dtype {
	case Float32:
		data := r.AsFloat32()
		for i := range data {
			data[i] = 0
		}
	case Float64:
		data := r.AsFloat64()
		for i := range data {
			data[i] = 0
		}
	}
}
