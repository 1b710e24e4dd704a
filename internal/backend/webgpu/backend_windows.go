//go:build windows

// Package webgpu offloads the large input-projection matmuls to the GPU
// using go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU
// bindings.
//
// Only float32 matmuls run on the GPU; float64 work and anything that
// fails GPU submission falls back to the CPU backend.
package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/strandml/strand/internal/backend/cpu"
	"github.com/strandml/strand/internal/tensor"
)

// Backend implements tensor.Backend on a WebGPU device.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	// Shader and pipeline cache.
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	// CPU fallback for float64 and failed submissions.
	cpu *cpu.CPUBackend
}

// Available reports whether this build can target a GPU.
func Available() bool { return true }

// New creates a WebGPU backend.
// Returns an error if WebGPU is not available or initialization fails.
func New() (backend tensor.Backend, err error) {
	// Recover from panic if the wgpu native library is not found.
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	return &Backend{
		instance:  instance,
		adapter:   adapter,
		device:    device,
		queue:     queue,
		shaders:   make(map[string]*wgpu.ShaderModule),
		pipelines: make(map[string]*wgpu.ComputePipeline),
		cpu:       cpu.New(),
	}, nil
}

// Name returns the backend name.
func (b *Backend) Name() string { return "WebGPU" }

// Device returns the compute device.
func (b *Backend) Device() tensor.Device { return tensor.WebGPU }

// MatMul computes a @ other for a (M, K) and other (K, N).
func (b *Backend) MatMul(a, other *tensor.RawTensor) *tensor.RawTensor {
	M, K := a.Shape()[0], a.Shape()[1]
	N := checkMatMul(a, other, K, other.Shape()[0], "MatMul")
	return b.run(a, other, "matmul", matmulShader, M, K, N,
		func() *tensor.RawTensor { return b.cpu.MatMul(a, other) })
}

// MatMulAT computes aᵀ @ other for a (K, M) and other (K, N).
func (b *Backend) MatMulAT(a, other *tensor.RawTensor) *tensor.RawTensor {
	K, M := a.Shape()[0], a.Shape()[1]
	N := checkMatMul(a, other, K, other.Shape()[0], "MatMulAT")
	return b.run(a, other, "matmul_at", matmulATShader, M, K, N,
		func() *tensor.RawTensor { return b.cpu.MatMulAT(a, other) })
}

// MatMulBT computes a @ otherᵀ for a (M, K) and other (N, K).
func (b *Backend) MatMulBT(a, other *tensor.RawTensor) *tensor.RawTensor {
	M, K := a.Shape()[0], a.Shape()[1]
	if len(other.Shape()) != 2 || other.Shape()[1] != K {
		panic(fmt.Sprintf("webgpu: MatMulBT: inner dimensions do not match: %v x %v", a.Shape(), other.Shape()))
	}
	N := other.Shape()[0]
	return b.run(a, other, "matmul_bt", matmulBTShader, M, K, N,
		func() *tensor.RawTensor { return b.cpu.MatMulBT(a, other) })
}

func checkMatMul(a, other *tensor.RawTensor, innerA, innerB int, op string) int {
	if len(a.Shape()) != 2 || len(other.Shape()) != 2 {
		panic(fmt.Sprintf("webgpu: %s: requires 2D tensors, got %v and %v", op, a.Shape(), other.Shape()))
	}
	if innerA != innerB {
		panic(fmt.Sprintf("webgpu: %s: inner dimensions do not match: %v x %v", op, a.Shape(), other.Shape()))
	}
	if a.DType() != other.DType() {
		panic(fmt.Sprintf("webgpu: %s: dtype mismatch: %s vs %s", op, a.DType(), other.DType()))
	}
	return other.Shape()[1]
}

// run dispatches the shader, falling back to the CPU path for float64
// inputs or when GPU submission fails.
func (b *Backend) run(a, other *tensor.RawTensor, name, code string, M, K, N int, fallback func() *tensor.RawTensor) (result *tensor.RawTensor) {
	if a.DType() != tensor.Float32 {
		return fallback()
	}
	defer func() {
		if r := recover(); r != nil {
			result = fallback()
		}
	}()

	out, err := b.runMatMulShader(a, other, name, code, M, K, N)
	if err != nil {
		return fallback()
	}
	return out
}

func (b *Backend) runMatMulShader(a, other *tensor.RawTensor, name, code string, M, K, N int) (*tensor.RawTensor, error) {
	shader := b.compileShader(name, code)
	pipeline := b.getOrCreatePipeline(name, shader)

	bufferA := b.createBuffer(a.Bytes(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferA.Release()
	bufferOther := b.createBuffer(other.Bytes(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferOther.Release()

	resultSize := uint64(M * N * 4)
	bufferResult := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  resultSize,
	})
	defer bufferResult.Release()

	// Uniform struct fields require 16-byte alignment.
	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(M))
	binary.LittleEndian.PutUint32(params[4:8], uint32(K))
	binary.LittleEndian.PutUint32(params[8:12], uint32(N))
	bufferParams := b.createUniformBuffer(params)
	defer bufferParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufferA, 0, uint64(len(a.Bytes()))),
		wgpu.BufferBindingEntry(1, bufferOther, 0, uint64(len(other.Bytes()))),
		wgpu.BufferBindingEntry(2, bufferResult, 0, resultSize),
		wgpu.BufferBindingEntry(3, bufferParams, 0, 16),
	})
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)
	workgroupsX := uint32(math.Ceil(float64(N) / float64(tileSize)))
	workgroupsY := uint32(math.Ceil(float64(M) / float64(tileSize)))
	computePass.DispatchWorkgroups(workgroupsX, workgroupsY, 1)
	computePass.End()

	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)

	resultData, err := b.readBuffer(bufferResult, resultSize)
	if err != nil {
		return nil, err
	}

	result := tensor.MustRaw(tensor.Shape{M, N}, tensor.Float32, tensor.WebGPU)
	copy(result.Bytes(), resultData)
	return result, nil
}

// compileShader compiles WGSL shader code into a ShaderModule.
// Results are cached in the Backend's shaders map.
func (b *Backend) compileShader(name, code string) *wgpu.ShaderModule {
	b.mu.RLock()
	if shader, exists := b.shaders[name]; exists {
		b.mu.RUnlock()
		return shader
	}
	b.mu.RUnlock()

	shader := b.device.CreateShaderModuleWGSL(code)

	b.mu.Lock()
	b.shaders[name] = shader
	b.mu.Unlock()
	return shader
}

// getOrCreatePipeline returns a cached ComputePipeline or creates a new one.
func (b *Backend) getOrCreatePipeline(name string, shader *wgpu.ShaderModule) *wgpu.ComputePipeline {
	b.mu.RLock()
	if pipeline, exists := b.pipelines[name]; exists {
		b.mu.RUnlock()
		return pipeline
	}
	b.mu.RUnlock()

	pipeline := b.device.CreateComputePipelineSimple(nil, shader, "main")

	b.mu.Lock()
	b.pipelines[name] = pipeline
	b.mu.Unlock()
	return pipeline
}

// createBuffer creates a GPU buffer and uploads initial data.
func (b *Backend) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := buffer.GetMappedRange(0, size)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mappedSlice, data)
	buffer.Unmap()
	return buffer
}

// createUniformBuffer creates a uniform buffer rounded up to 16 bytes.
func (b *Backend) createUniformBuffer(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	alignedSize := (size + 15) &^ 15
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             alignedSize,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := buffer.GetMappedRange(0, alignedSize)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), alignedSize)
	copy(mappedSlice, data)
	buffer.Unmap()
	return buffer
}

// readBuffer reads data back from a GPU buffer through a staging buffer.
func (b *Backend) readBuffer(srcBuffer *wgpu.Buffer, size uint64) ([]byte, error) {
	stagingBuffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer stagingBuffer.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(srcBuffer, 0, stagingBuffer, 0, size)
	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)

	if err := stagingBuffer.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("failed to map staging buffer: %w", err)
	}
	mappedPtr := stagingBuffer.GetMappedRange(0, size)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mappedSlice)
	stagingBuffer.Unmap()
	return result, nil
}

// Release frees all GPU resources held by the backend.
func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pipelines {
		p.Release()
	}
	for _, s := range b.shaders {
		s.Release()
	}
	b.device.Release()
	b.adapter.Release()
	b.instance.Release()
}
