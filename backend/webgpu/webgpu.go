// Copyright 2025 Strand ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the GPU backend for platforms with a wgpu
// native library. On unsupported platforms New returns an error and
// callers should fall back to the CPU backend.
package webgpu

import (
	internalwebgpu "github.com/strandml/strand/internal/backend/webgpu"
	"github.com/strandml/strand/tensor"
)

// Available reports whether this build can target a GPU.
func Available() bool {
	return internalwebgpu.Available()
}

// New creates a WebGPU backend.
//
// Example:
//
//	backend, err := webgpu.New()
//	if err != nil {
//	    backend = cpu.New()
//	}
func New() (tensor.Backend, error) {
	return internalwebgpu.New()
}
