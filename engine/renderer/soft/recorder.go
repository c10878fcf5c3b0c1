package soft

import (
	"fmt"

	"github.com/stratagfx/strata/engine/math"
	"github.com/stratagfx/strata/engine/renderer"
)

type opKind uint8

const (
	opBeginPass opKind = iota
	opNextSubpass
	opFlushDescriptors
	opBindPipeline
	opPushConstants
	opDraw
	opEndPass
)

type command struct {
	op           opKind
	pass         *pass
	clear        math.Vec4
	writes       []renderer.DescriptorWrite
	pipeline     *renderer.Pipeline
	pretransform math.Mat4
	vertex       renderer.ResourceHandle
	index        renderer.ResourceHandle
	indexCount   uint32
	descriptors  renderer.DescriptorRange
}

// recorder accumulates a frame's command stream; Submit executes it. Begin
// discards whatever a previous (possibly aborted) recording left behind.
type recorder struct {
	dev  *Device
	cmds []command
}

var _ renderer.CommandRecorder = (*recorder)(nil)

func (r *recorder) Begin() error {
	r.cmds = r.cmds[:0]
	return nil
}

func (r *recorder) BeginPass(handle renderer.RenderPassHandle, clear math.Vec4) error {
	p, ok := handle.(*pass)
	if !ok {
		return fmt.Errorf("render pass was not created by this device")
	}
	r.cmds = append(r.cmds, command{op: opBeginPass, pass: p, clear: clear})
	return nil
}

func (r *recorder) NextSubpass() {
	r.cmds = append(r.cmds, command{op: opNextSubpass})
}

func (r *recorder) FlushDescriptors(writes []renderer.DescriptorWrite) {
	r.cmds = append(r.cmds, command{op: opFlushDescriptors, writes: writes})
}

func (r *recorder) BindPipeline(p *renderer.Pipeline) {
	r.cmds = append(r.cmds, command{op: opBindPipeline, pipeline: p})
}

func (r *recorder) PushConstants(pretransform math.Mat4) {
	r.cmds = append(r.cmds, command{op: opPushConstants, pretransform: pretransform})
}

func (r *recorder) Draw(vertex, index renderer.ResourceHandle, indexCount uint32, descriptors renderer.DescriptorRange) {
	r.cmds = append(r.cmds, command{
		op:          opDraw,
		vertex:      vertex,
		index:       index,
		indexCount:  indexCount,
		descriptors: descriptors,
	})
}

func (r *recorder) EndPass() {
	r.cmds = append(r.cmds, command{op: opEndPass})
}

func (r *recorder) End() error { return nil }

// execState is the walking state of one submission.
type execState struct {
	pass         *pass
	subpass      int
	clear        math.Vec4
	batch        []renderer.DescriptorWrite
	pipeline     *pipeline
	pretransform math.Mat4
}

func (r *recorder) execute() error {
	st := &execState{pretransform: math.NewMat4Identity()}

	for i := range r.cmds {
		c := &r.cmds[i]
		switch c.op {
		case opBeginPass:
			st.pass = c.pass
			st.subpass = 0
			st.clear = c.clear
			clearPass(c.pass, c.clear)
		case opNextSubpass:
			st.subpass++
		case opFlushDescriptors:
			st.batch = c.writes
		case opBindPipeline:
			p, ok := c.pipeline.Handle.(*pipeline)
			if !ok {
				return fmt.Errorf("pipeline was not created by this device")
			}
			st.pipeline = p
		case opPushConstants:
			st.pretransform = c.pretransform
		case opDraw:
			if err := r.executeDraw(st, c); err != nil {
				return err
			}
		case opEndPass:
			for _, att := range st.pass.layout.Attachments {
				if att.Presentable {
					r.dev.setPresented(st.pass.targets[att.Handle.ID])
				}
			}
		}
	}
	return nil
}

func clearPass(p *pass, clear math.Vec4) {
	for _, att := range p.layout.Attachments {
		t := p.targets[att.Handle.ID]
		if t.depth != nil {
			for i := range t.depth {
				t.depth[i] = 1.0
			}
			continue
		}
		for i := range t.color {
			t.color[i] = clear
		}
	}
}

func (r *recorder) executeDraw(st *execState, c *command) error {
	if st.pass == nil || st.pipeline == nil {
		return fmt.Errorf("draw outside a begun pass or without a bound pipeline")
	}
	if st.subpass >= len(st.pass.layout.Subpasses) {
		return fmt.Errorf("draw past the last subpass")
	}
	sp := st.pass.layout.Subpasses[st.subpass]
	if len(sp.Colors) == 0 {
		return fmt.Errorf("subpass %d has no color attachment to draw into", st.subpass)
	}

	r.dev.mu.Lock()
	vertices, okV := r.dev.vertexBuffers[c.vertex.ID]
	indices, okI := r.dev.indexBuffers[c.index.ID]
	r.dev.mu.Unlock()
	if !okV {
		return fmt.Errorf("subpass %d: unknown vertex buffer %s", st.subpass, c.vertex.ID)
	}
	if !okI {
		return fmt.Errorf("subpass %d: unknown index buffer %s", st.subpass, c.index.ID)
	}
	count := int(c.indexCount)
	if count > len(indices) {
		return fmt.Errorf("subpass %d: draw of %d indices from a %d-index buffer", st.subpass, count, len(indices))
	}

	shading, err := r.resolveBindings(st, c.descriptors)
	if err != nil {
		return err
	}
	shading.blend = st.pipeline.key.Blend
	shading.depthTest = st.pipeline.key.Depth&renderer.DepthTest != 0
	shading.depthWrite = st.pipeline.key.Depth&renderer.DepthWrite != 0

	dst := st.pass.targetFor(sp.Colors[0])
	var depth *target
	if sp.DepthStencil != nil {
		depth = st.pass.targetFor(*sp.DepthStencil)
	}

	// Row-vector convention: the model matrix applies first, the surface
	// pretransform last.
	mvp := shading.model.Mul(shading.view).Mul(shading.projection).Mul(st.pretransform)

	drawTriangles(dst, depth, vertices, indices[:count], mvp, shading)
	return nil
}

// shadeParams is everything the flat "fragment stage" needs for one draw.
type shadeParams struct {
	model      math.Mat4
	view       math.Mat4
	projection math.Mat4
	color      math.Vec4
	albedo     *texture
	input      *target
	blend      renderer.BlendMode
	depthTest  bool
	depthWrite bool
}

// resolveBindings decodes the draw's slice of the flushed descriptor batch
// back into shading inputs, following the fixed slot convention.
func (r *recorder) resolveBindings(st *execState, rng renderer.DescriptorRange) (*shadeParams, error) {
	if rng.First+rng.Count > len(st.batch) {
		return nil, fmt.Errorf("descriptor range [%d, %d) outside flushed batch of %d", rng.First, rng.First+rng.Count, len(st.batch))
	}

	sp := &shadeParams{
		model:      math.NewMat4Identity(),
		view:       math.NewMat4Identity(),
		projection: math.NewMat4Identity(),
		color:      math.NewVec4One(),
	}

	for _, w := range st.batch[rng.First : rng.First+rng.Count] {
		switch w.Slot {
		case renderer.SlotModel:
			sp.model = renderer.Mat4FromBytes(w.Data)
		case renderer.SlotView:
			sp.view = renderer.Mat4FromBytes(w.Data)
		case renderer.SlotProjection:
			sp.projection = renderer.Mat4FromBytes(w.Data)
		case renderer.SlotMaterialColor:
			sp.color = renderer.Vec4FromBytes(w.Data)
		case renderer.SlotAlbedo:
			r.dev.mu.Lock()
			tex, ok := r.dev.textures[w.Resource.ID]
			r.dev.mu.Unlock()
			if !ok {
				return nil, fmt.Errorf("unknown texture %s at albedo slot", w.Resource.ID)
			}
			sp.albedo = tex
		case renderer.SlotSubpassInput:
			t, ok := st.pass.targets[w.Resource.ID]
			if !ok {
				return nil, fmt.Errorf("input attachment %s is not part of this pass", w.Resource.ID)
			}
			sp.input = t
		default:
			return nil, fmt.Errorf("descriptor write at unconventional slot (set %d, binding %d)", w.Slot.Set, w.Slot.Binding)
		}
	}
	return sp, nil
}
