package shading

import (
	"unsafe"

	mgl32 "github.com/go-gl/mathgl/mgl32"
)

// Vertex carries one clip-space position, the only vertex attribute.
type Vertex struct {
	Pos mgl32.Vec2
}

const VertexStride = uint32(unsafe.Sizeof(Vertex{}))

// QuadVertices are two triangles covering clip space from (-1,-1) to (1,1).
var QuadVertices = []Vertex{
	{Pos: mgl32.Vec2{-1, -1}},
	{Pos: mgl32.Vec2{-1, 1}},
	{Pos: mgl32.Vec2{1, -1}},
	{Pos: mgl32.Vec2{1, 1}},
	{Pos: mgl32.Vec2{1, -1}},
	{Pos: mgl32.Vec2{-1, 1}},
}

// VerticesToBytes copies verts into a fresh byte slice for upload.
func VerticesToBytes(verts []Vertex) []byte {
	if len(verts) == 0 {
		return nil
	}
	size := len(verts) * int(VertexStride)
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&verts[0])), size))
	return out
}
