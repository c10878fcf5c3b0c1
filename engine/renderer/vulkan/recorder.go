package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/stratagfx/strata/engine/core"
	"github.com/stratagfx/strata/engine/math"
	"github.com/stratagfx/strata/engine/renderer"
)

// preparedWrite is a batched descriptor write after its uniform payload has
// been copied into the frame slot's arena.
type preparedWrite struct {
	write  renderer.DescriptorWrite
	buffer vk.DescriptorBufferInfo
}

// recorder records one frame slot's commands into a primary command buffer.
// Recording errors are latched and surfaced from End, matching the
// record-then-submit contract.
type recorder struct {
	dev     *Device
	context *VulkanContext

	cmd vk.CommandBuffer

	// Per-slot sync objects. The device wires them into queue submission
	// and presentation.
	imageAvailable vk.Semaphore
	renderComplete vk.Semaphore

	arena *descriptorArena

	pass       *vulkanPass
	imageIndex uint32
	acquired   bool

	batch        []preparedWrite
	pipeline     *vulkanPipeline
	pretransform math.Mat4

	err error
}

var _ renderer.CommandRecorder = (*recorder)(nil)

func newRecorder(dev *Device) (*recorder, error) {
	context := dev.context

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        context.Device.GraphicsCommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, buffers); res != vk.Success {
		err := fmt.Errorf("failed to allocate command buffer with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var imageAvailable, renderComplete vk.Semaphore
	if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreCreateInfo, context.Allocator, &imageAvailable); res != vk.Success {
		return nil, fmt.Errorf("failed to create image-available semaphore with %s", VulkanResultString(res))
	}
	if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreCreateInfo, context.Allocator, &renderComplete); res != vk.Success {
		return nil, fmt.Errorf("failed to create render-complete semaphore with %s", VulkanResultString(res))
	}

	arena, err := newDescriptorArena(context, 4096)
	if err != nil {
		return nil, err
	}

	return &recorder{
		dev:            dev,
		context:        context,
		cmd:            buffers[0],
		imageAvailable: imageAvailable,
		renderComplete: renderComplete,
		arena:          arena,
		pretransform:   math.NewMat4Identity(),
	}, nil
}

func (r *recorder) Begin() error {
	r.err = nil
	r.pass = nil
	r.pipeline = nil
	r.batch = nil
	r.acquired = false
	r.pretransform = math.NewMat4Identity()

	if err := r.arena.reset(); err != nil {
		return err
	}

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if res := vk.BeginCommandBuffer(r.cmd, &beginInfo); res != vk.Success {
		err := fmt.Errorf("failed to begin command buffer with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (r *recorder) BeginPass(handle renderer.RenderPassHandle, clear math.Vec4) error {
	pass, ok := handle.(*vulkanPass)
	if !ok {
		return fmt.Errorf("render pass was not created by this device")
	}
	r.pass = pass

	// The framebuffer choice depends on which swapchain image we get.
	imageIndex, err := r.dev.acquireImage(r.imageAvailable)
	if err != nil {
		return err
	}
	r.imageIndex = imageIndex
	r.acquired = true

	clearValues := make([]vk.ClearValue, len(pass.Layout.Attachments))
	for i, att := range pass.Layout.Attachments {
		if att.Format == renderer.FormatDepth {
			clearValues[i].SetDepthStencil(1.0, 0)
		} else {
			clearValues[i].SetColor([]float32{clear.X, clear.Y, clear.Z, clear.W})
		}
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass.Handle,
		Framebuffer: pass.Framebuffers[imageIndex],
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{
				Width:  pass.Layout.Extent.Width,
				Height: pass.Layout.Extent.Height,
			},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	beginInfo.Deref()

	vk.CmdBeginRenderPass(r.cmd, &beginInfo, vk.SubpassContentsInline)

	viewport := vk.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(pass.Layout.Extent.Width),
		Height:   float32(pass.Layout.Extent.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
	viewport.Deref()
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{
			Width:  pass.Layout.Extent.Width,
			Height: pass.Layout.Extent.Height,
		},
	}
	scissor.Deref()
	vk.CmdSetViewport(r.cmd, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(r.cmd, 0, 1, []vk.Rect2D{scissor})

	return nil
}

func (r *recorder) NextSubpass() {
	if r.err != nil {
		return
	}
	vk.CmdNextSubpass(r.cmd, vk.SubpassContentsInline)
}

// FlushDescriptors uploads the subpass's whole uniform payload into the
// arena in one walk. The per-draw set updates then reference staged regions.
func (r *recorder) FlushDescriptors(writes []renderer.DescriptorWrite) {
	if r.err != nil {
		return
	}
	r.batch = make([]preparedWrite, len(writes))
	for i, w := range writes {
		pw := preparedWrite{write: w}
		if w.Kind == renderer.BindingUniform {
			info, err := r.arena.stageUniform(w.Data)
			if err != nil {
				r.err = err
				return
			}
			pw.buffer = info
		}
		r.batch[i] = pw
	}
}

func (r *recorder) BindPipeline(p *renderer.Pipeline) {
	if r.err != nil {
		return
	}
	pipeline, ok := p.Handle.(*vulkanPipeline)
	if !ok {
		r.err = fmt.Errorf("pipeline was not created by this device")
		return
	}
	r.pipeline = pipeline
	vk.CmdBindPipeline(r.cmd, vk.PipelineBindPointGraphics, pipeline.Handle)
}

func (r *recorder) PushConstants(pretransform math.Mat4) {
	if r.err != nil {
		return
	}
	if r.pipeline == nil {
		r.err = fmt.Errorf("push constants without a bound pipeline")
		return
	}
	r.pretransform = pretransform
	vk.CmdPushConstants(
		r.cmd,
		r.pipeline.PipelineLayout,
		vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		0,
		renderer.PretransformSize,
		unsafe.Pointer(&r.pretransform.Data[0]))
}

func (r *recorder) Draw(vertex, index renderer.ResourceHandle, indexCount uint32, descriptors renderer.DescriptorRange) {
	if r.err != nil {
		return
	}
	if r.pass == nil || r.pipeline == nil {
		r.err = fmt.Errorf("draw outside a begun pass or without a bound pipeline")
		return
	}
	if descriptors.First+descriptors.Count > len(r.batch) {
		r.err = fmt.Errorf("descriptor range [%d, %d) outside flushed batch of %d", descriptors.First, descriptors.First+descriptors.Count, len(r.batch))
		return
	}

	vertexBuffer, indexBuffer, err := r.dev.lookupGeometry(vertex, index)
	if err != nil {
		r.err = err
		return
	}

	if err := r.bindDescriptors(r.batch[descriptors.First : descriptors.First+descriptors.Count]); err != nil {
		r.err = err
		return
	}

	vk.CmdBindVertexBuffers(r.cmd, 0, 1, []vk.Buffer{vertexBuffer.Handle}, []vk.DeviceSize{0})
	vk.CmdBindIndexBuffer(r.cmd, indexBuffer.Handle, 0, vk.IndexTypeUint32)
	vk.CmdDrawIndexed(r.cmd, indexCount, 1, 0, 0, 0)
}

// bindDescriptors allocates one set per set index the draw's writes touch,
// applies the writes and binds the sets.
func (r *recorder) bindDescriptors(writes []preparedWrite) error {
	sets := make(map[uint32]vk.DescriptorSet)
	var updates []vk.WriteDescriptorSet

	for i := range writes {
		w := &writes[i]
		setIndex := w.write.Slot.Set
		set, ok := sets[setIndex]
		if !ok {
			if int(setIndex) >= len(r.pipeline.SetLayouts) {
				return fmt.Errorf("descriptor write at set %d outside pipeline layout of %d sets", setIndex, len(r.pipeline.SetLayouts))
			}
			allocated, err := r.arena.allocate(r.pipeline.SetLayouts[setIndex])
			if err != nil {
				return err
			}
			sets[setIndex] = allocated
			set = allocated
		}

		update := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      w.write.Slot.Binding,
			DstArrayElement: 0,
			DescriptorCount: 1,
			DescriptorType:  descriptorTypeFor(w.write.Kind),
		}

		switch w.write.Kind {
		case renderer.BindingUniform:
			update.PBufferInfo = []vk.DescriptorBufferInfo{w.buffer}
		case renderer.BindingSampler:
			texture, err := r.dev.lookupTexture(w.write.Resource)
			if err != nil {
				return err
			}
			imageInfo := vk.DescriptorImageInfo{
				Sampler:     texture.Sampler,
				ImageView:   texture.Image.View,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}
			imageInfo.Deref()
			update.PImageInfo = []vk.DescriptorImageInfo{imageInfo}
		case renderer.BindingInput:
			view, ok := r.pass.InputView(w.write.Resource.ID)
			if !ok {
				return fmt.Errorf("input attachment %s is not part of this pass", w.write.Resource.ID)
			}
			imageInfo := vk.DescriptorImageInfo{
				ImageView:   view,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}
			imageInfo.Deref()
			update.PImageInfo = []vk.DescriptorImageInfo{imageInfo}
		}

		update.Deref()
		updates = append(updates, update)
	}

	vk.UpdateDescriptorSets(r.context.Device.LogicalDevice, uint32(len(updates)), updates, 0, nil)

	for setIndex, set := range sets {
		vk.CmdBindDescriptorSets(
			r.cmd,
			vk.PipelineBindPointGraphics,
			r.pipeline.PipelineLayout,
			setIndex,
			1,
			[]vk.DescriptorSet{set},
			0,
			nil)
	}
	return nil
}

func (r *recorder) EndPass() {
	if r.err != nil {
		return
	}
	vk.CmdEndRenderPass(r.cmd)
}

func (r *recorder) End() error {
	if res := vk.EndCommandBuffer(r.cmd); res != vk.Success {
		err := fmt.Errorf("failed to end command buffer with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	return r.err
}

func (r *recorder) destroy() {
	if r.arena != nil {
		r.arena.destroy()
		r.arena = nil
	}
	if r.imageAvailable != vk.NullSemaphore {
		vk.DestroySemaphore(r.context.Device.LogicalDevice, r.imageAvailable, r.context.Allocator)
		r.imageAvailable = vk.NullSemaphore
	}
	if r.renderComplete != vk.NullSemaphore {
		vk.DestroySemaphore(r.context.Device.LogicalDevice, r.renderComplete, r.context.Allocator)
		r.renderComplete = vk.NullSemaphore
	}
	if r.cmd != nil {
		vk.FreeCommandBuffers(r.context.Device.LogicalDevice, r.context.Device.GraphicsCommandPool, 1, []vk.CommandBuffer{r.cmd})
		r.cmd = nil
	}
}
