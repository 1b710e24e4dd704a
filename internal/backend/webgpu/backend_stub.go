//go:build !windows

// Package webgpu offloads the large input-projection matmuls to the GPU
// on platforms with a prebuilt wgpu native library. On other platforms
// New reports the backend as unavailable and callers should use the CPU
// backend instead.
package webgpu

import (
	"errors"

	"github.com/strandml/strand/internal/tensor"
)

// Available reports whether this build can target a GPU.
func Available() bool { return false }

// New always fails on this platform.
func New() (tensor.Backend, error) {
	return nil, errors.New("webgpu: not supported on this platform")
}
