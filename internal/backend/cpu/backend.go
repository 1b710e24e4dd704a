// Package cpu implements the CPU compute backend for the fused
// recurrent kernels: dense projections parallelized across output rows.
package cpu

import (
	"github.com/strandml/strand/internal/parallel"
	"github.com/strandml/strand/internal/tensor"
)

// CPUBackend implements tensor.Backend on the host CPU.
type CPUBackend struct {
	device tensor.Device
	par    parallel.Config
}

// New creates a new CPU backend with default parallelism.
func New() *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    parallel.DefaultConfig(),
	}
}

// NewWithConfig creates a CPU backend with explicit parallelism config.
func NewWithConfig(par parallel.Config) *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    par,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}
