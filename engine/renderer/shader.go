package renderer

import (
	"fmt"
)

// BindingKind is the descriptor type a pipeline layout declares at a slot.
type BindingKind uint8

const (
	BindingUniform BindingKind = iota
	BindingSampler
	BindingInput
)

// SetLayout is the ordered list of bindings within one descriptor set.
type SetLayout struct {
	Bindings []BindingKind
}

// PipelineLayout describes every slot a pipeline accepts. It is finalized
// when the pipeline is created and immutable afterwards; the binder rejects
// writes to slots outside it.
type PipelineLayout struct {
	Sets             []SetLayout
	PushConstantSize uint32
}

// Contains reports whether the slot exists in this layout.
func (l *PipelineLayout) Contains(slot BindingSlot) bool {
	if int(slot.Set) >= len(l.Sets) {
		return false
	}
	return int(slot.Binding) < len(l.Sets[slot.Set].Bindings)
}

// KindAt returns the declared descriptor kind of the slot. Callers must
// check Contains first.
func (l *PipelineLayout) KindAt(slot BindingSlot) BindingKind {
	return l.Sets[slot.Set].Bindings[slot.Binding]
}

// accepts maps a resource kind onto the binding kinds it may be written to.
func (k BindingKind) accepts(rk ResourceKind) bool {
	switch k {
	case BindingUniform:
		return rk == ResourceUniform
	case BindingSampler:
		return rk == ResourceTexture
	case BindingInput:
		return rk == ResourceInputAttachment
	}
	return false
}

// StandardLayout builds the layout matching the fixed binding convention the
// shader toolchain emits: model at set 0/binding 0, view+projection at set 1,
// material color (+ optional albedo sampler) at set 2, the prior subpass
// color at set 3/binding 0 when the subpass consumes one, and the
// pretransform as a vertex-stage push-constant block.
func StandardLayout(hasAlbedo, hasInput bool) *PipelineLayout {
	material := SetLayout{Bindings: []BindingKind{BindingUniform}}
	if hasAlbedo {
		material.Bindings = append(material.Bindings, BindingSampler)
	}
	sets := []SetLayout{
		{Bindings: []BindingKind{BindingUniform}},
		{Bindings: []BindingKind{BindingUniform, BindingUniform}},
		material,
	}
	if hasInput {
		sets = append(sets, SetLayout{Bindings: []BindingKind{BindingInput}})
	}
	return &PipelineLayout{
		Sets:             sets,
		PushConstantSize: PretransformSize,
	}
}

// ShaderPack is the shader-compilation collaborator's output: a compiled
// vertex/fragment stage pair plus the binding layout the stages declare.
type ShaderPack struct {
	Name       string
	Vertex     []byte
	Fragment   []byte
	Layout     *PipelineLayout
	Generation uint64
}

// Validate checks the pack against the core's binding convention. A pack
// whose declared layout disagrees with the slots the core writes would bind
// garbage, so this fails loudly at load time.
func (sp *ShaderPack) Validate() error {
	if len(sp.Vertex) == 0 || len(sp.Fragment) == 0 {
		return fmt.Errorf("shader pack %q: missing stage binary", sp.Name)
	}
	if sp.Layout == nil {
		return fmt.Errorf("shader pack %q: missing binding layout", sp.Name)
	}
	for _, slot := range []BindingSlot{SlotModel, SlotView, SlotProjection, SlotMaterialColor} {
		if !sp.Layout.Contains(slot) {
			return fmt.Errorf("shader pack %q: layout is missing required slot (set %d, binding %d)",
				sp.Name, slot.Set, slot.Binding)
		}
	}
	if sp.Layout.PushConstantSize < PretransformSize {
		return fmt.Errorf("shader pack %q: push-constant block smaller than the pretransform matrix", sp.Name)
	}
	return nil
}

// ShaderSource is where pipelines get their stages from. The asset catalog
// implements it; tests feed in-memory packs.
type ShaderSource interface {
	Pack(name string) (*ShaderPack, error)
}
