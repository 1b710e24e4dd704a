package tensor

// DataType identifies the element type of a tensor at runtime.
type DataType int

// Supported element types.
const (
	Float32 DataType = iota
	Float64
)

// Float is the compile-time constraint for element types the fused
// kernels are instantiated over.
type Float interface {
	float32 | float64
}

// Size returns the size of one element in bytes.
func (d DataType) Size() int {
	switch d {
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// String returns a human-readable type name.
func (d DataType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// DTypeOf returns the runtime DataType for a Float type parameter.
func DTypeOf[T Float]() DataType {
	var zero T
	switch any(zero).(type) {
	case float64:
		return Float64
	default:
		return Float32
	}
}
