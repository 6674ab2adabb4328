// Package shading holds the data contract with the fragment program: the
// push-constant parameter block, the material table and the fullscreen quad.
// The Go layout mirrors shaders/params.glsl byte for byte.
package shading

import (
	"unsafe"

	mgl32 "github.com/go-gl/mathgl/mgl32"

	"Marcher/internal/camera"
)

// MaterialCount is the fixed length of the material array in the shader.
const MaterialCount = 2

// Size of FrameParams in bytes as declared by the shader.
const FrameParamsSize = 144

type Material struct {
	Specular  float32
	Shininess float32
	Roughness float32
	Diffuse   float32
	Color     mgl32.Vec3
	_         float32
}

// FrameParams is pushed once per frame. Vec3 members sit on 16-byte
// boundaries, matching std430 push-constant layout.
type FrameParams struct {
	Screen      mgl32.Vec2
	_           [2]float32
	CamPosition mgl32.Vec3
	_           float32
	CamUU       mgl32.Vec3
	_           float32
	CamVV       mgl32.Vec3
	_           float32
	CamWW       mgl32.Vec3
	_           float32
	Materials   [MaterialCount]Material
}

// Compile-time layout checks; a mismatch fails the build.
var (
	_ [FrameParamsSize - unsafe.Sizeof(FrameParams{})]struct{}
	_ [unsafe.Sizeof(FrameParams{}) - FrameParamsSize]struct{}
	_ [32 - unsafe.Sizeof(Material{})]struct{}
	_ [unsafe.Sizeof(Material{}) - 32]struct{}
	_ [80 - unsafe.Offsetof(FrameParams{}.Materials)]struct{}
	_ [unsafe.Offsetof(FrameParams{}.Materials) - 80]struct{}
)

// DefaultMaterials is the table the scene ships with: a glossy red and a
// matte off-white.
var DefaultMaterials = [MaterialCount]Material{
	{Specular: 2.9, Shininess: 620, Roughness: 0.8, Diffuse: 0.9, Color: mgl32.Vec3{0.7, 0, 0}},
	{Specular: 0.5, Shininess: 80, Roughness: 0.8, Diffuse: 1.1, Color: mgl32.Vec3{0.9, 0.9, 0.8}},
}

// NewFrameParams snapshots the camera and materials into a parameter block.
func NewFrameParams(cam *camera.Camera, materials [MaterialCount]Material) FrameParams {
	return FrameParams{
		Screen:      cam.Resolution,
		CamPosition: cam.Position,
		CamUU:       cam.UU,
		CamVV:       cam.VV,
		CamWW:       cam.WW,
		Materials:   materials,
	}
}

// Bytes views p as the raw push-constant payload. The slice aliases p.
func (p *FrameParams) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), FrameParamsSize)
}
