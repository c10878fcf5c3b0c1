package renderer

import (
	"encoding/binary"
	gomath "math"
	"testing"

	"github.com/stratagfx/strata/engine/math"
)

func TestMat4BytesLayout(t *testing.T) {
	mt := math.NewMat4Identity()
	mt.Data[12] = 4.5 // translation x, column-major element 12

	out := Mat4Bytes(mt)
	if len(out) != 64 {
		t.Fatalf("serialized to %d bytes, want 64", len(out))
	}
	// std140 mat4 is 16 consecutive little-endian floats in column order.
	got := gomath.Float32frombits(binary.LittleEndian.Uint32(out[12*4:]))
	if got != 4.5 {
		t.Fatalf("element 12 = %f, want 4.5", got)
	}

	if Mat4FromBytes(out).Data != mt.Data {
		t.Fatal("round trip lost bits")
	}
}

func TestVec4BytesRoundTrip(t *testing.T) {
	v := math.NewVec4(0.1, -2.5, 1e-8, 42)
	got := Vec4FromBytes(Vec4Bytes(v))
	if got != v {
		t.Fatalf("round trip %+v -> %+v", v, got)
	}
}

func TestResourceHandleZero(t *testing.T) {
	var zero ResourceHandle
	if !zero.IsZero() {
		t.Fatal("zero value should report zero")
	}
	if NewResourceHandle(ResourceTexture).IsZero() {
		t.Fatal("fresh handle should not be zero")
	}
}

func TestShaderPackValidate(t *testing.T) {
	valid := func() *ShaderPack {
		return &ShaderPack{
			Name:     "p",
			Vertex:   []byte{1, 2, 3, 4},
			Fragment: []byte{1, 2, 3, 4},
			Layout:   StandardLayout(true, true),
		}
	}

	tests := []struct {
		name   string
		mutate func(p *ShaderPack)
		ok     bool
	}{
		{"complete pack", func(p *ShaderPack) {}, true},
		{"missing vertex stage", func(p *ShaderPack) { p.Vertex = nil }, false},
		{"missing fragment stage", func(p *ShaderPack) { p.Fragment = nil }, false},
		{"missing layout", func(p *ShaderPack) { p.Layout = nil }, false},
		{"layout without projection slot", func(p *ShaderPack) {
			p.Layout.Sets[1].Bindings = p.Layout.Sets[1].Bindings[:1]
		}, false},
		{"push constants too small", func(p *ShaderPack) { p.Layout.PushConstantSize = 32 }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := valid()
			tc.mutate(p)
			err := p.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, ok = %v", err, tc.ok)
			}
		})
	}
}

func TestStandardLayoutShape(t *testing.T) {
	minimal := StandardLayout(false, false)
	if len(minimal.Sets) != 3 {
		t.Fatalf("minimal layout has %d sets, want 3", len(minimal.Sets))
	}
	if minimal.Contains(SlotAlbedo) || minimal.Contains(SlotSubpassInput) {
		t.Fatal("minimal layout should not contain optional slots")
	}

	full := StandardLayout(true, true)
	if full.KindAt(SlotAlbedo) != BindingSampler {
		t.Fatal("albedo slot should be a sampler")
	}
	if full.KindAt(SlotSubpassInput) != BindingInput {
		t.Fatal("input slot should be an input attachment")
	}
	if full.PushConstantSize != PretransformSize {
		t.Fatalf("push constant size = %d", full.PushConstantSize)
	}
}
