package renderer

import (
	"encoding/binary"
	gomath "math"

	"github.com/google/uuid"

	"github.com/stratagfx/strata/engine/math"
)

// ResourceKind tells the binder what a handle refers to, so a write can be
// validated against the binding it is aimed at.
type ResourceKind uint8

const (
	ResourceUniform ResourceKind = iota
	ResourceTexture
	ResourceVertexBuffer
	ResourceIndexBuffer
	ResourceInputAttachment
)

// ResourceHandle is an opaque reference to a GPU-visible resource owned by
// the allocator collaborator (or, for attachments, by the subpass graph).
// The core never touches the memory behind it.
type ResourceHandle struct {
	ID   uuid.UUID
	Kind ResourceKind
}

func NewResourceHandle(kind ResourceKind) ResourceHandle {
	return ResourceHandle{ID: uuid.New(), Kind: kind}
}

// IsZero reports whether the handle refers to nothing.
func (h ResourceHandle) IsZero() bool {
	return h.ID == uuid.Nil
}

// BindingSlot identifies where a resource is attached in a pipeline layout.
type BindingSlot struct {
	Set     uint32
	Binding uint32
}

// The fixed binding convention shared with the shader toolchain.
var (
	SlotModel         = BindingSlot{Set: 0, Binding: 0}
	SlotView          = BindingSlot{Set: 1, Binding: 0}
	SlotProjection    = BindingSlot{Set: 1, Binding: 1}
	SlotMaterialColor = BindingSlot{Set: 2, Binding: 0}
	SlotAlbedo        = BindingSlot{Set: 2, Binding: 1}
	SlotSubpassInput  = BindingSlot{Set: 3, Binding: 0}
)

// PretransformSize is the size of the push-constant block carrying the
// surface pretransform matrix.
const PretransformSize = 64

// Extent is a framebuffer size in pixels.
type Extent struct {
	Width  uint32
	Height uint32
}

// VertexLayout selects the vertex input description baked into a pipeline.
type VertexLayout uint8

const (
	VertexLayoutNone VertexLayout = iota
	VertexLayoutPosition
	VertexLayoutPositionTexcoord
)

// BlendMode is the color blend state baked into a pipeline.
type BlendMode uint8

const (
	BlendNone BlendMode = iota
	BlendAlpha
)

// DepthState flags baked into a pipeline.
type DepthState uint8

const (
	DepthNone  DepthState = 0
	DepthTest  DepthState = 1 << 0
	DepthWrite DepthState = 1 << 1
)

// PipelineKey uniquely identifies a pipeline state object. It is a plain
// comparable value: two keys built independently from the same inputs are
// equal and hit the same cache entry.
type PipelineKey struct {
	Shader  string
	Vertex  VertexLayout
	Subpass uint32
	Blend   BlendMode
	Depth   DepthState
}

// MaterialBinding is the per-material data bound at set 2. The core
// references it during a frame; the scene owns it.
type MaterialBinding struct {
	Color  math.Vec4
	Albedo ResourceHandle
}

// TransformSet carries the matrices combined into the vertex-stage MVP
// chain. Model is per-draw, View/Projection are per-camera per-frame; the
// pretransform is owned by the orchestrator and appended last.
type TransformSet struct {
	Model      math.Mat4
	View       math.Mat4
	Projection math.Mat4
}

func NewTransformSet() TransformSet {
	return TransformSet{
		Model:      math.NewMat4Identity(),
		View:       math.NewMat4Identity(),
		Projection: math.NewMat4Identity(),
	}
}

// DrawCommand is one draw as submitted by the scene collaborator.
type DrawCommand struct {
	Pipeline     PipelineKey
	Material     *MaterialBinding
	Transforms   TransformSet
	VertexBuffer ResourceHandle
	IndexBuffer  ResourceHandle
	IndexCount   uint32
}

// FrameDescription is everything needed to render one frame. Draws are
// grouped by the subpass index of their pipeline key; within a subpass they
// execute in submission order.
type FrameDescription struct {
	Draws []DrawCommand
}

// Mat4Bytes serializes a matrix for a uniform write, in the std140 layout
// the shaders declare.
func Mat4Bytes(mt math.Mat4) []byte {
	out := make([]byte, 64)
	for i, f := range mt.Data {
		binary.LittleEndian.PutUint32(out[i*4:], gomath.Float32bits(f))
	}
	return out
}

// Mat4FromBytes is the inverse of Mat4Bytes.
func Mat4FromBytes(data []byte) math.Mat4 {
	var mt math.Mat4
	for i := range mt.Data {
		mt.Data[i] = gomath.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return mt
}

// Vec4Bytes serializes a vector for a uniform write.
func Vec4Bytes(v math.Vec4) []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint32(out[0:], gomath.Float32bits(v.X))
	binary.LittleEndian.PutUint32(out[4:], gomath.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(out[8:], gomath.Float32bits(v.Z))
	binary.LittleEndian.PutUint32(out[12:], gomath.Float32bits(v.W))
	return out
}

// Vec4FromBytes is the inverse of Vec4Bytes.
func Vec4FromBytes(data []byte) math.Vec4 {
	return math.Vec4{
		X: gomath.Float32frombits(binary.LittleEndian.Uint32(data[0:])),
		Y: gomath.Float32frombits(binary.LittleEndian.Uint32(data[4:])),
		Z: gomath.Float32frombits(binary.LittleEndian.Uint32(data[8:])),
		W: gomath.Float32frombits(binary.LittleEndian.Uint32(data[12:])),
	}
}
