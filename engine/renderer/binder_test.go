package renderer

import (
	"errors"
	"testing"

	"github.com/stratagfx/strata/engine/math"
)

// captureRecorder records only what the binder hands it.
type captureRecorder struct {
	flushed [][]DescriptorWrite
}

func (c *captureRecorder) Begin() error                                   { return nil }
func (c *captureRecorder) BeginPass(RenderPassHandle, math.Vec4) error    { return nil }
func (c *captureRecorder) NextSubpass()                                   {}
func (c *captureRecorder) FlushDescriptors(writes []DescriptorWrite)      { c.flushed = append(c.flushed, writes) }
func (c *captureRecorder) BindPipeline(*Pipeline)                         {}
func (c *captureRecorder) PushConstants(math.Mat4)                        {}
func (c *captureRecorder) Draw(_, _ ResourceHandle, _ uint32, _ DescriptorRange) {}
func (c *captureRecorder) EndPass()                                       {}
func (c *captureRecorder) End() error                                     { return nil }

func TestBinderValidation(t *testing.T) {
	layout := StandardLayout(true, true)

	tests := []struct {
		name string
		bind func(b *Binder) error
		want error
	}{
		{
			name: "uniform at model slot",
			bind: func(b *Binder) error { return b.BindUniform(SlotModel, make([]byte, 64)) },
			want: nil,
		},
		{
			name: "texture at albedo slot",
			bind: func(b *Binder) error {
				return b.Bind(SlotAlbedo, NewResourceHandle(ResourceTexture))
			},
			want: nil,
		},
		{
			name: "attachment at input slot",
			bind: func(b *Binder) error {
				return b.Bind(SlotSubpassInput, NewResourceHandle(ResourceInputAttachment))
			},
			want: nil,
		},
		{
			name: "slot outside the layout",
			bind: func(b *Binder) error {
				return b.BindUniform(BindingSlot{Set: 7, Binding: 0}, make([]byte, 64))
			},
			want: ErrLayoutMismatch,
		},
		{
			name: "binding outside the set",
			bind: func(b *Binder) error {
				return b.BindUniform(BindingSlot{Set: 0, Binding: 3}, make([]byte, 64))
			},
			want: ErrLayoutMismatch,
		},
		{
			name: "texture at uniform slot",
			bind: func(b *Binder) error {
				return b.Bind(SlotModel, NewResourceHandle(ResourceTexture))
			},
			want: ErrKindMismatch,
		},
		{
			name: "uniform data at sampler slot",
			bind: func(b *Binder) error { return b.BindUniform(SlotAlbedo, make([]byte, 16)) },
			want: ErrKindMismatch,
		},
		{
			name: "vertex buffer at input slot",
			bind: func(b *Binder) error {
				return b.Bind(SlotSubpassInput, NewResourceHandle(ResourceVertexBuffer))
			},
			want: ErrKindMismatch,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBinder()
			b.SetLayout(layout)
			err := tc.bind(b)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestBinderRejectsWithoutLayout(t *testing.T) {
	b := NewBinder()
	if err := b.BindUniform(SlotModel, make([]byte, 64)); !errors.Is(err, ErrNoLayoutBound) {
		t.Fatalf("got %v, want ErrNoLayoutBound", err)
	}
}

func TestBinderFailedBindLeavesNothingStaged(t *testing.T) {
	b := NewBinder()
	b.SetLayout(StandardLayout(false, false))

	if err := b.Bind(SlotModel, NewResourceHandle(ResourceTexture)); err == nil {
		t.Fatal("expected kind mismatch")
	}
	if r := b.Stage(); r.Count != 0 {
		t.Fatalf("failed bind staged %d writes, want 0", r.Count)
	}
}

func TestBinderStageRanges(t *testing.T) {
	b := NewBinder()
	b.SetLayout(StandardLayout(false, false))

	// First draw stages two writes, second draw one.
	if err := b.BindUniform(SlotModel, make([]byte, 64)); err != nil {
		t.Fatal(err)
	}
	if err := b.BindUniform(SlotView, make([]byte, 64)); err != nil {
		t.Fatal(err)
	}
	first := b.Stage()

	if err := b.BindUniform(SlotProjection, make([]byte, 64)); err != nil {
		t.Fatal(err)
	}
	second := b.Stage()

	if first.First != 0 || first.Count != 2 {
		t.Fatalf("first range = %+v, want {0 2}", first)
	}
	if second.First != 2 || second.Count != 1 {
		t.Fatalf("second range = %+v, want {2 1}", second)
	}

	rec := &captureRecorder{}
	b.Flush(rec)
	if len(rec.flushed) != 1 {
		t.Fatalf("flush count = %d, want 1", len(rec.flushed))
	}
	if len(rec.flushed[0]) != 3 {
		t.Fatalf("flushed batch holds %d writes, want 3", len(rec.flushed[0]))
	}

	// An empty batch must not reach the recorder.
	b.Flush(rec)
	if len(rec.flushed) != 1 {
		t.Fatal("empty flush reached the recorder")
	}
}

func TestBinderResetForgetsEverything(t *testing.T) {
	b := NewBinder()
	b.SetLayout(StandardLayout(false, false))
	if err := b.BindUniform(SlotModel, make([]byte, 64)); err != nil {
		t.Fatal(err)
	}
	b.Stage()

	b.Reset()

	if err := b.BindUniform(SlotModel, make([]byte, 64)); !errors.Is(err, ErrNoLayoutBound) {
		t.Fatalf("layout survived reset: %v", err)
	}
	rec := &captureRecorder{}
	b.Flush(rec)
	if len(rec.flushed) != 0 {
		t.Fatal("staged writes survived reset")
	}
}
