// Package checkpoint provides the .strand binary format for saving and
// loading layer parameters and optimizer state.
//
// Format structure:
//
//	[64-byte fixed header]
//	  0x00  magic "STRD"
//	  0x04  format version (uint32 LE)
//	  0x08  flags (uint32 LE)
//	  0x0C  reserved
//	  0x10  header size (uint64 LE)
//	  0x18  data size (uint64 LE)
//	  0x20  SHA-256 checksum of the data section
//	[JSON header: tensor metadata]
//	[tensor data, 64-byte aligned]
package checkpoint

import (
	"errors"
	"time"

	"github.com/strandml/strand/internal/tensor"
)

const (
	// MagicBytes identifies a .strand file.
	MagicBytes = "STRD"
	// FormatVersion is the current format version.
	FormatVersion = 1
	// FixedHeaderSize is the size of the fixed header in bytes.
	FixedHeaderSize = 64
	// ChecksumOffset is the byte offset of the SHA-256 checksum.
	ChecksumOffset = 0x20
	// DataAlignment aligns the tensor data section.
	DataAlignment = 64
	// MaxHeaderSize bounds the JSON header to reject corrupt files.
	MaxHeaderSize = 100 << 20

	// FlagHasOptimizer marks files that carry optimizer state.
	FlagHasOptimizer = 1 << 0
)

// Common errors.
var (
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
	ErrOutOfBounds        = errors.New("tensor extends beyond data section")
	ErrTensorMissing      = errors.New("tensor not found in checkpoint")
)

// TensorMeta describes one tensor in the data section.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
}

// Header is the JSON metadata block of a .strand file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	ModelType     string            `json:"model_type"`
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func dtypeToString(d tensor.DataType) string {
	return d.String()
}

func dtypeFromString(s string) (tensor.DataType, bool) {
	switch s {
	case "float32":
		return tensor.Float32, true
	case "float64":
		return tensor.Float64, true
	default:
		return 0, false
	}
}
