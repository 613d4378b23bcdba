//go:build !nogpu

// Package gpu runs compute kernels as wgpu compute shaders.
//
// The backend compiles one WGSL shader per kernel to SPIR-V at init, then
// for every dispatch uploads the source texels, runs one 8x8-workgroup
// compute pass and maps a staging buffer to read the result back. When no
// GPU adapter can be opened, or a dispatch fails, work is handed to the CPU
// backend, which produces identical output.
package gpu

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Vulkan backend registers itself via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/e7canasta/orion-viewer/modules/compute"
)

// paramsSize is the uniform buffer size: width, height and two pad words.
const paramsSize = 16

// Config tunes the GPU backend.
type Config struct {
	// CPU configures the fallback backend
	CPU compute.CPUConfig
	// Disabled skips GPU initialization entirely (CPU fallback only)
	Disabled bool
}

type kernelPipeline struct {
	shader   hal.ShaderModule
	pipeline hal.ComputePipeline
}

// Backend implements compute.Backend on top of wgpu HAL.
type Backend struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipelines  map[compute.Kernel]kernelPipeline

	fallback    *compute.CPU
	gpuReady    bool
	adapterName string
}

var _ compute.Backend = (*Backend)(nil)

// New initializes the GPU backend. It never fails: when the GPU cannot be
// used the returned backend runs on the CPU and Ready reports false.
func New(cfg Config) *Backend {
	b := &Backend{
		fallback:  compute.NewCPU(cfg.CPU),
		pipelines: make(map[compute.Kernel]kernelPipeline),
	}
	if cfg.Disabled {
		return b
	}

	if err := b.initGPU(); err != nil {
		slog.Warn("gpu: init failed, using CPU fallback", "error", err)
		b.destroy()
		return b
	}
	slog.Info("gpu: compute backend initialized", "adapter", b.adapterName)
	return b
}

// Name implements compute.Backend.
func (b *Backend) Name() string {
	if b.Ready() {
		return "gpu"
	}
	return "cpu"
}

// Ready reports whether dispatches run on the GPU.
func (b *Backend) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gpuReady
}

// Adapter returns the name of the selected GPU adapter, or "" on fallback.
func (b *Backend) Adapter() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adapterName
}

// Close releases every GPU object. Safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroy()
	return nil
}

// Dispatch implements compute.Backend. Validation is identical to the CPU
// backend, so rejections do not depend on which device would have run.
func (b *Backend) Dispatch(ctx context.Context, k compute.Kernel, in, out compute.PixelBuffer, width, height uint32) error {
	if k < compute.KernelNone || k > compute.KernelGaussianBlur5x5 {
		return compute.ErrUnknownKernel
	}
	if err := compute.CheckDispatch(in, out, width, height); err != nil {
		return err
	}
	if len(in) == 0 || k == compute.KernelNone {
		return b.fallback.Dispatch(ctx, k, in, out, width, height)
	}

	b.mu.Lock()
	ready := b.gpuReady
	var err error
	if ready {
		err = b.dispatchGPU(k, in, out, width, height)
	}
	b.mu.Unlock()

	if !ready {
		return b.fallback.Dispatch(ctx, k, in, out, width, height)
	}
	if err != nil {
		slog.Warn("gpu: dispatch failed, running on CPU",
			"kernel", k.String(),
			"width", width,
			"height", height,
			"error", err,
		)
		return b.fallback.Dispatch(ctx, k, in, out, width, height)
	}
	return ctx.Err()
}

func (b *Backend) initGPU() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	b.instance = instance

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	b.device = openDev.Device
	b.queue = openDev.Queue

	if err := b.createPipelines(); err != nil {
		return fmt.Errorf("create pipelines: %w", err)
	}

	b.adapterName = selected.Info.Name
	b.gpuReady = true
	return nil
}

func (b *Backend) createPipelines() error {
	bindLayout, err := b.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "postprocess_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	b.bindLayout = bindLayout

	pipeLayout, err := b.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "postprocess_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{b.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	b.pipeLayout = pipeLayout

	for _, k := range []compute.Kernel{compute.KernelGrayscale, compute.KernelGaussianBlur5x5} {
		src, err := shaderSource(k)
		if err != nil {
			return err
		}
		code, err := compileSPIRV(src)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}

		shader, err := b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  k.String(),
			Source: hal.ShaderSource{SPIRV: code},
		})
		if err != nil {
			return fmt.Errorf("create %s shader module: %w", k, err)
		}

		pipeline, err := b.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label: k.String() + "_pipeline", Layout: b.pipeLayout,
			Compute: hal.ComputeState{Module: shader, EntryPoint: "main"},
		})
		if err != nil {
			b.device.DestroyShaderModule(shader)
			return fmt.Errorf("create %s compute pipeline: %w", k, err)
		}
		b.pipelines[k] = kernelPipeline{shader: shader, pipeline: pipeline}
	}
	return nil
}

// dispatchGPU runs one kernel pass. Caller holds b.mu.
func (b *Backend) dispatchGPU(k compute.Kernel, in, out compute.PixelBuffer, width, height uint32) error {
	kp, ok := b.pipelines[k]
	if !ok {
		return fmt.Errorf("no pipeline for %s", k)
	}

	bufSize := uint64(len(in)) * 4

	paramsBuf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "postprocess_params", Size: paramsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create params buffer: %w", err)
	}
	defer b.device.DestroyBuffer(paramsBuf)

	srcBuf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "postprocess_src", Size: bufSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create source buffer: %w", err)
	}
	defer b.device.DestroyBuffer(srcBuf)

	dstBuf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "postprocess_dst", Size: bufSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("create destination buffer: %w", err)
	}
	defer b.device.DestroyBuffer(dstBuf)

	stagingBuf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "postprocess_staging", Size: bufSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create staging buffer: %w", err)
	}
	defer b.device.DestroyBuffer(stagingBuf)

	params := make([]byte, paramsSize)
	binary.LittleEndian.PutUint32(params[0:], width)
	binary.LittleEndian.PutUint32(params[4:], height)
	if err := b.queue.WriteBuffer(paramsBuf, 0, params); err != nil {
		return fmt.Errorf("upload params: %w", err)
	}
	if err := b.queue.WriteBuffer(srcBuf, 0, texelsToBytes(in)); err != nil {
		return fmt.Errorf("upload texels: %w", err)
	}

	bindGroup, err := b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "postprocess_bind", Layout: b.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: paramsBuf.NativeHandle(), Offset: 0, Size: paramsSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: srcBuf.NativeHandle(), Offset: 0, Size: bufSize}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: dstBuf.NativeHandle(), Offset: 0, Size: bufSize}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group: %w", err)
	}
	defer b.device.DestroyBindGroup(bindGroup)

	encoder, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "postprocess_encoder"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(k.String()); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: k.String() + "_pass"})
	pass.SetPipeline(kp.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.Dispatch((width+workgroupSize-1)/workgroupSize, (height+workgroupSize-1)/workgroupSize, 1)
	pass.End()

	encoder.CopyBufferToBuffer(dstBuf, stagingBuf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: bufSize},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer b.device.FreeCommandBuffer(cmdBuf)

	if _, err := b.queue.Submit([]hal.CommandBuffer{cmdBuf}); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if err := b.device.WaitIdle(); err != nil {
		return fmt.Errorf("wait for GPU: %w", err)
	}

	mapping, err := b.device.MapBuffer(stagingBuf, 0, bufSize)
	if err != nil {
		return fmt.Errorf("map staging buffer: %w", err)
	}
	readback := unsafe.Slice((*byte)(mapping.Ptr), bufSize)
	bytesToTexels(out, readback)
	if err := b.device.UnmapBuffer(stagingBuf); err != nil {
		return fmt.Errorf("unmap staging buffer: %w", err)
	}
	return nil
}

// destroy releases GPU objects in reverse creation order. Caller holds b.mu
// (or owns b exclusively during New).
func (b *Backend) destroy() {
	if b.device != nil {
		for k, kp := range b.pipelines {
			if kp.pipeline != nil {
				b.device.DestroyComputePipeline(kp.pipeline)
			}
			if kp.shader != nil {
				b.device.DestroyShaderModule(kp.shader)
			}
			delete(b.pipelines, k)
		}
		if b.pipeLayout != nil {
			b.device.DestroyPipelineLayout(b.pipeLayout)
			b.pipeLayout = nil
		}
		if b.bindLayout != nil {
			b.device.DestroyBindGroupLayout(b.bindLayout)
			b.bindLayout = nil
		}
		b.device.Destroy()
		b.device = nil
	}
	if b.instance != nil {
		b.instance.Destroy()
		b.instance = nil
	}
	b.queue = nil
	b.gpuReady = false
	b.adapterName = ""
}

func texelsToBytes(buf compute.PixelBuffer) []byte {
	out := make([]byte, len(buf)*4)
	for i, p := range buf {
		binary.LittleEndian.PutUint32(out[i*4:], p)
	}
	return out
}

func bytesToTexels(dst compute.PixelBuffer, data []byte) {
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
}
