// Copyright 2025 Strand ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend.
package cpu

import (
	internalcpu "github.com/strandml/strand/internal/backend/cpu"
	"github.com/strandml/strand/internal/parallel"
	"github.com/strandml/strand/tensor"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a new CPU backend that fans work out over all cores.
//
// Example:
//
//	backend := cpu.New()
//	layer, err := rnn.NewGRU[float32](128, 256, rnn.GRUConfig{Backend: backend})
func New() *Backend {
	return internalcpu.New()
}

// NewSequential creates a CPU backend that runs on a single goroutine.
// Useful for benchmarking and deterministic profiling.
func NewSequential() *Backend {
	return internalcpu.NewWithConfig(parallel.Sequential())
}
