package vulkan

import (
	"fmt"

	"github.com/google/uuid"
	vk "github.com/goki/vulkan"

	"github.com/stratagfx/strata/engine/core"
	"github.com/stratagfx/strata/engine/renderer"
)

// vulkanPass is the compiled form of a pass layout: the VkRenderPass, the
// offscreen attachment images it owns, and one framebuffer per swapchain
// image.
type vulkanPass struct {
	Handle vk.RenderPass
	Layout *renderer.PassLayout

	// Images backing non-presentable attachments, indexed like
	// Layout.Attachments. Presentable slots are nil; they alias the
	// swapchain image.
	Images []*VulkanImage

	Framebuffers []vk.Framebuffer

	// views resolves an attachment's resource handle to the view a subpass
	// input descriptor needs.
	views map[uuid.UUID]vk.ImageView
}

// RenderPassCompile turns a validated pass layout into a VkRenderPass with
// one VkSubpassDescription per subpass, input attachment references
// included.
func RenderPassCompile(context *VulkanContext, layout *renderer.PassLayout) (*vulkanPass, error) {
	pass := &vulkanPass{
		Layout: layout,
		Images: make([]*VulkanImage, len(layout.Attachments)),
		views:  make(map[uuid.UUID]vk.ImageView, len(layout.Attachments)),
	}

	attachmentDescriptions := make([]vk.AttachmentDescription, len(layout.Attachments))
	for i, att := range layout.Attachments {
		desc := vk.AttachmentDescription{
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
		}
		switch {
		case att.Format == renderer.FormatDepth:
			desc.Format = context.Device.DepthFormat
			desc.StoreOp = vk.AttachmentStoreOpDontCare
			desc.FinalLayout = vk.ImageLayoutDepthStencilAttachmentOptimal
		case att.Presentable:
			desc.Format = context.Swapchain.ImageFormat.Format
			desc.FinalLayout = vk.ImageLayoutPresentSrc
		default:
			// Offscreen color, readable as a subpass input afterwards.
			desc.Format = context.Swapchain.ImageFormat.Format
			desc.FinalLayout = vk.ImageLayoutShaderReadOnlyOptimal
		}
		desc.Deref()
		attachmentDescriptions[i] = desc
	}

	subpasses := make([]vk.SubpassDescription, len(layout.Subpasses))
	for si, sp := range layout.Subpasses {
		subpass := vk.SubpassDescription{
			PipelineBindPoint: vk.PipelineBindPointGraphics,
		}

		colorRefs := make([]vk.AttachmentReference, len(sp.Colors))
		for ci, id := range sp.Colors {
			colorRefs[ci] = vk.AttachmentReference{
				Attachment: uint32(id),
				Layout:     vk.ImageLayoutColorAttachmentOptimal,
			}
			colorRefs[ci].Deref()
		}
		subpass.ColorAttachmentCount = uint32(len(colorRefs))
		subpass.PColorAttachments = colorRefs

		if sp.DepthStencil != nil {
			depthRef := vk.AttachmentReference{
				Attachment: uint32(*sp.DepthStencil),
				Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
			}
			depthRef.Deref()
			subpass.PDepthStencilAttachment = &depthRef
		}

		if len(sp.Inputs) > 0 {
			inputRefs := make([]vk.AttachmentReference, len(sp.Inputs))
			for ii, id := range sp.Inputs {
				inputRefs[ii] = vk.AttachmentReference{
					Attachment: uint32(id),
					Layout:     vk.ImageLayoutShaderReadOnlyOptimal,
				}
				inputRefs[ii].Deref()
			}
			subpass.InputAttachmentCount = uint32(len(inputRefs))
			subpass.PInputAttachments = inputRefs
		}

		subpass.Deref()
		subpasses[si] = subpass
	}

	dependencies := []vk.SubpassDependency{
		{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			SrcAccessMask: 0,
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		},
	}
	// A consuming subpass reads the previous subpass's color output as an
	// input attachment at fragment granularity.
	for si := 1; si < len(layout.Subpasses); si++ {
		dependencies = append(dependencies, vk.SubpassDependency{
			SrcSubpass:      uint32(si - 1),
			DstSubpass:      uint32(si),
			SrcStageMask:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			SrcAccessMask:   vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			DstAccessMask:   vk.AccessFlags(vk.AccessInputAttachmentReadBit),
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		})
	}
	for i := range dependencies {
		dependencies[i].Deref()
	}

	renderPassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}
	renderPassCreateInfo.Deref()

	var handle vk.RenderPass
	if res := vk.CreateRenderPass(context.Device.LogicalDevice, &renderPassCreateInfo, context.Allocator, &handle); res != vk.Success {
		err := fmt.Errorf("failed to create render pass with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	pass.Handle = handle

	if err := pass.createAttachmentImages(context); err != nil {
		pass.Destroy(context)
		return nil, err
	}
	if err := pass.createFramebuffers(context); err != nil {
		pass.Destroy(context)
		return nil, err
	}

	core.LogDebug("Render pass compiled: %d attachments, %d subpasses.", len(layout.Attachments), len(layout.Subpasses))
	return pass, nil
}

func (vp *vulkanPass) createAttachmentImages(context *VulkanContext) error {
	for i, att := range vp.Layout.Attachments {
		if att.Presentable {
			continue
		}

		var format vk.Format
		var usage vk.ImageUsageFlags
		var aspect vk.ImageAspectFlags
		if att.Format == renderer.FormatDepth {
			format = context.Device.DepthFormat
			usage = vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
			aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
		} else {
			format = context.Swapchain.ImageFormat.Format
			usage = vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) | vk.ImageUsageFlags(vk.ImageUsageInputAttachmentBit)
			aspect = vk.ImageAspectFlags(vk.ImageAspectColorBit)
		}

		image, err := ImageCreate(
			context,
			vp.Layout.Extent.Width,
			vp.Layout.Extent.Height,
			format,
			vk.ImageTilingOptimal,
			usage,
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
			true,
			aspect)
		if err != nil {
			return err
		}
		vp.Images[i] = image
		vp.views[att.Handle.ID] = image.View
	}
	return nil
}

func (vp *vulkanPass) createFramebuffers(context *VulkanContext) error {
	vp.Framebuffers = make([]vk.Framebuffer, context.Swapchain.ImageCount)
	for imageIndex := 0; imageIndex < int(context.Swapchain.ImageCount); imageIndex++ {
		views := make([]vk.ImageView, len(vp.Layout.Attachments))
		for ai, att := range vp.Layout.Attachments {
			if att.Presentable {
				views[ai] = context.Swapchain.Views[imageIndex]
			} else {
				views[ai] = vp.Images[ai].View
			}
		}

		framebufferCreateInfo := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      vp.Handle,
			AttachmentCount: uint32(len(views)),
			PAttachments:    views,
			Width:           vp.Layout.Extent.Width,
			Height:          vp.Layout.Extent.Height,
			Layers:          1,
		}
		framebufferCreateInfo.Deref()

		var framebuffer vk.Framebuffer
		if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &framebufferCreateInfo, context.Allocator, &framebuffer); res != vk.Success {
			err := fmt.Errorf("failed to create framebuffer with %s", VulkanResultString(res))
			core.LogError(err.Error())
			return err
		}
		vp.Framebuffers[imageIndex] = framebuffer
	}
	return nil
}

// InputView resolves the view behind an attachment's resource handle, for
// input attachment descriptor writes.
func (vp *vulkanPass) InputView(id uuid.UUID) (vk.ImageView, bool) {
	view, ok := vp.views[id]
	return view, ok
}

func (vp *vulkanPass) Destroy(context *VulkanContext) {
	for _, framebuffer := range vp.Framebuffers {
		if framebuffer != nil {
			vk.DestroyFramebuffer(context.Device.LogicalDevice, framebuffer, context.Allocator)
		}
	}
	vp.Framebuffers = nil

	for _, image := range vp.Images {
		if image != nil {
			image.ImageDestroy(context)
		}
	}

	if vp.Handle != nil {
		vk.DestroyRenderPass(context.Device.LogicalDevice, vp.Handle, context.Allocator)
		vp.Handle = nil
	}
}
