package gpu

import (
	"fmt"
	"strings"

	"github.com/gogpu/naga"

	"github.com/e7canasta/orion-viewer/modules/compute"
)

// workgroupSize is the edge of the square compute workgroup used by every kernel.
const workgroupSize = 8

// shaderPrelude declares the bindings shared by all kernels:
//
//	binding 0: uniform {width, height} (padded to 16 bytes)
//	binding 1: read-only source texels
//	binding 2: destination texels
const shaderPrelude = `struct Params {
    width: u32,
    height: u32,
    pad0: u32,
    pad1: u32,
}

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read> src: array<u32>;
@group(0) @binding(2) var<storage, read_write> dst: array<u32>;
`

const grayscaleShaderSource = shaderPrelude + `
@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x >= params.width || id.y >= params.height) {
        return;
    }
    let i = id.y * params.width + id.x;
    let p = src[i];
    let r = p & 0xFFu;
    let g = (p >> 8u) & 0xFFu;
    let b = (p >> 16u) & 0xFFu;
    let l = (77u * r + 150u * g + 29u * b) >> 8u;
    dst[i] = l | (l << 8u) | (l << 16u) | 0xFF000000u;
}
`

// blurShaderSource generates the 5x5 blur shader from compute.BlurWeights.
// The 25 taps are unrolled: naga-generated SPIR-V loops are not reliable on
// every driver.
func blurShaderSource() string {
	var b strings.Builder
	b.WriteString(shaderPrelude)
	b.WriteString(`
fn channels(p: u32) -> vec4<u32> {
    return vec4<u32>(p & 0xFFu, (p >> 8u) & 0xFFu, (p >> 16u) & 0xFFu, p >> 24u);
}

fn tap(x: i32, y: i32) -> vec4<u32> {
    let cx = clamp(x, 0, i32(params.width) - 1);
    let cy = clamp(y, 0, i32(params.height) - 1);
    return channels(src[u32(cy) * params.width + u32(cx)]);
}

@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x >= params.width || id.y >= params.height) {
        return;
    }
    let x = i32(id.x);
    let y = i32(id.y);
    var acc = vec4<u32>(0u, 0u, 0u, 0u);
`)
	for ky := 0; ky < 5; ky++ {
		for kx := 0; kx < 5; kx++ {
			fmt.Fprintf(&b, "    acc = acc + %du * tap(x %s, y %s);\n",
				compute.BlurWeights[ky][kx], offset(kx-compute.BlurRadius), offset(ky-compute.BlurRadius))
		}
	}
	b.WriteString(`    let o = acc >> vec4<u32>(8u, 8u, 8u, 8u);
    dst[id.y * params.width + id.x] = o.x | (o.y << 8u) | (o.z << 16u) | (o.w << 24u);
}
`)
	return b.String()
}

// offset renders a signed tap offset as "+ n" or "- n".
func offset(d int) string {
	if d < 0 {
		return fmt.Sprintf("- %d", -d)
	}
	return fmt.Sprintf("+ %d", d)
}

// shaderSource returns the WGSL for a kernel.
func shaderSource(k compute.Kernel) (string, error) {
	switch k {
	case compute.KernelGrayscale:
		return grayscaleShaderSource, nil
	case compute.KernelGaussianBlur5x5:
		return blurShaderSource(), nil
	default:
		return "", fmt.Errorf("%w: %s has no shader", compute.ErrUnknownKernel, k)
	}
}

// compileSPIRV compiles WGSL to SPIR-V words (little-endian).
func compileSPIRV(wgsl string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}

	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return code, nil
}
