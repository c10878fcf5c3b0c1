package renderer

import (
	"fmt"
)

// Binder maps logical resources to binding slots for one frame slot. It is
// exclusively owned by its slot and never shared across frames; every
// binding is forgotten when the slot is reacquired.
//
// Writes are staged, not applied: the orchestrator stages all bindings of a
// subpass first, then flushes them to the recorder in a single descriptor
// update. Flushing once per subpass instead of once per call keeps updates
// clear of the update-after-bind hazard.
type Binder struct {
	layout  *PipelineLayout
	pending []DescriptorWrite
	batch   []DescriptorWrite
}

func NewBinder() *Binder {
	return &Binder{}
}

// SetLayout points the binder at the layout of the pipeline about to record.
// Bind calls are validated against it.
func (b *Binder) SetLayout(layout *PipelineLayout) {
	b.layout = layout
}

// Bind stages a descriptor write pointing the slot at an existing resource.
// A slot outside the bound layout, or a resource of the wrong kind for the
// slot, is a caller error and leaves nothing partially applied.
func (b *Binder) Bind(slot BindingSlot, resource ResourceHandle) error {
	kind, err := b.check(slot)
	if err != nil {
		return err
	}
	if !kind.accepts(resource.Kind) {
		return fmt.Errorf("bind (set %d, binding %d): %w", slot.Set, slot.Binding, ErrKindMismatch)
	}
	b.pending = append(b.pending, DescriptorWrite{
		Slot:     slot,
		Kind:     kind,
		Resource: resource,
	})
	return nil
}

// BindUniform stages a descriptor write carrying a fresh uniform value
// (a matrix or material constant serialized for this frame).
func (b *Binder) BindUniform(slot BindingSlot, data []byte) error {
	kind, err := b.check(slot)
	if err != nil {
		return err
	}
	if kind != BindingUniform {
		return fmt.Errorf("bind (set %d, binding %d): %w", slot.Set, slot.Binding, ErrKindMismatch)
	}
	b.pending = append(b.pending, DescriptorWrite{
		Slot: slot,
		Kind: kind,
		Data: data,
	})
	return nil
}

func (b *Binder) check(slot BindingSlot) (BindingKind, error) {
	if b.layout == nil {
		return 0, ErrNoLayoutBound
	}
	if !b.layout.Contains(slot) {
		return 0, fmt.Errorf("bind (set %d, binding %d): %w", slot.Set, slot.Binding, ErrLayoutMismatch)
	}
	return b.layout.KindAt(slot), nil
}

// Stage moves the pending writes of one draw into the subpass batch and
// returns the draw's range within it.
func (b *Binder) Stage() DescriptorRange {
	r := DescriptorRange{First: len(b.batch), Count: len(b.pending)}
	b.batch = append(b.batch, b.pending...)
	b.pending = b.pending[:0]
	return r
}

// Flush applies the whole subpass batch in one recorder update and clears it.
func (b *Binder) Flush(rec CommandRecorder) {
	if len(b.batch) == 0 {
		return
	}
	rec.FlushDescriptors(b.batch)
	b.batch = nil
}

// Reset drops all binder state. Called when the owning frame slot is
// reacquired; no binding survives across frames.
func (b *Binder) Reset() {
	b.layout = nil
	b.pending = nil
	b.batch = nil
}
