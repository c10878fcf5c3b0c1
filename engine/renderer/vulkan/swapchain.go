package vulkan

import (
	"fmt"
	gomath "math"

	vk "github.com/goki/vulkan"

	"github.com/stratagfx/strata/engine/core"
	"github.com/stratagfx/strata/engine/math"
	"github.com/stratagfx/strata/engine/renderer"
)

type VulkanSwapchain struct {
	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	ImageCount  uint32
	Images      []vk.Image
	Views       []vk.ImageView

	// PreTransform actually applied at creation. When the requested
	// orientation is unsupported, the surface's current transform is used and
	// the vertex-stage pretransform compensates.
	PreTransform vk.SurfaceTransformFlagBits
}

type VulkanSwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

// surfaceTransformFor maps the renderer's orientation onto the swapchain
// transform bit, when the surface supports it.
func surfaceTransformFor(orientation renderer.SurfaceOrientation) vk.SurfaceTransformFlagBits {
	switch orientation {
	case renderer.OrientationRotate90:
		return vk.SurfaceTransformRotate90Bit
	case renderer.OrientationRotate180:
		return vk.SurfaceTransformRotate180Bit
	case renderer.OrientationRotate270:
		return vk.SurfaceTransformRotate270Bit
	default:
		return vk.SurfaceTransformIdentityBit
	}
}

func SwapchainCreate(context *VulkanContext, width, height uint32, orientation renderer.SurfaceOrientation, vsync bool) (*VulkanSwapchain, error) {
	return createSwapchain(context, width, height, orientation, vsync)
}

func (vs *VulkanSwapchain) SwapchainRecreate(context *VulkanContext, width, height uint32, orientation renderer.SurfaceOrientation, vsync bool) (*VulkanSwapchain, error) {
	vs.destroySwapchain(context)
	return createSwapchain(context, width, height, orientation, vsync)
}

func (vs *VulkanSwapchain) SwapchainDestroy(context *VulkanContext) {
	vs.destroySwapchain(context)
}

// SwapchainAcquireNextImageIndex blocks until an image is available. An
// out-of-date surface is reported as renderer.ErrSurfaceOutOfDate so the
// caller can run the reconfigure protocol.
func (vs *VulkanSwapchain) SwapchainAcquireNextImageIndex(context *VulkanContext, timeoutNS uint64, imageAvailableSemaphore vk.Semaphore) (uint32, error) {
	var imageIndex uint32
	result := vk.AcquireNextImage(context.Device.LogicalDevice, vs.Handle, timeoutNS, imageAvailableSemaphore, vk.NullFence, &imageIndex)

	switch {
	case result == vk.ErrorOutOfDate:
		return 0, renderer.ErrSurfaceOutOfDate
	case result == vk.ErrorSurfaceLost:
		return 0, renderer.ErrSurfaceLost
	case result != vk.Success && result != vk.Suboptimal:
		err := fmt.Errorf("failed to acquire swapchain image with %s", VulkanResultString(result))
		core.LogError(err.Error())
		return 0, err
	}
	return imageIndex, nil
}

// SwapchainPresent returns the image to the swapchain for presentation.
func (vs *VulkanSwapchain) SwapchainPresent(context *VulkanContext, presentQueue vk.Queue, renderCompleteSemaphore vk.Semaphore, presentImageIndex uint32) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{renderCompleteSemaphore},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{presentImageIndex},
		PResults:           nil,
	}

	result := vk.QueuePresent(presentQueue, &presentInfo)
	switch {
	case result == vk.ErrorOutOfDate || result == vk.Suboptimal:
		return renderer.ErrSurfaceOutOfDate
	case result == vk.ErrorSurfaceLost:
		return renderer.ErrSurfaceLost
	case result != vk.Success:
		err := fmt.Errorf("failed to present swapchain image with %s", VulkanResultString(result))
		core.LogError(err.Error())
		return err
	}
	return nil
}

func createSwapchain(context *VulkanContext, width, height uint32, orientation renderer.SurfaceOrientation, vsync bool) (*VulkanSwapchain, error) {
	swapchain := &VulkanSwapchain{}

	swapchainExtent := vk.Extent2D{Width: width, Height: height}

	// Choose a swap surface format.
	found := false
	for i := 0; i < int(context.Device.SwapchainSupport.FormatCount); i++ {
		format := context.Device.SwapchainSupport.Formats[i]
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			swapchain.ImageFormat = format
			found = true
		}
	}
	if !found {
		swapchain.ImageFormat = context.Device.SwapchainSupport.Formats[0]
	}

	presentMode := vk.PresentModeFifo
	if !vsync {
		for i := 0; i < int(context.Device.SwapchainSupport.PresentModeCount); i++ {
			if context.Device.SwapchainSupport.PresentModes[i] == vk.PresentModeMailbox {
				presentMode = vk.PresentModeMailbox
				break
			}
		}
	}

	if context.Device.SwapchainSupport.Capabilities.CurrentExtent.Width != gomath.MaxUint32 {
		swapchainExtent = context.Device.SwapchainSupport.Capabilities.CurrentExtent
	}

	// Clamp to the range allowed by the surface.
	minExt := context.Device.SwapchainSupport.Capabilities.MinImageExtent
	maxExt := context.Device.SwapchainSupport.Capabilities.MaxImageExtent
	swapchainExtent.Width = math.Clamp(swapchainExtent.Width, minExt.Width, maxExt.Width)
	swapchainExtent.Height = math.Clamp(swapchainExtent.Height, minExt.Height, maxExt.Height)

	imageCount := context.Device.SwapchainSupport.Capabilities.MinImageCount + 1
	if context.Device.SwapchainSupport.Capabilities.MaxImageCount > 0 && imageCount > context.Device.SwapchainSupport.Capabilities.MaxImageCount {
		imageCount = context.Device.SwapchainSupport.Capabilities.MaxImageCount
	}

	preTransform := surfaceTransformFor(orientation)
	if vk.SurfaceTransformFlagBits(context.Device.SwapchainSupport.Capabilities.SupportedTransforms)&preTransform == 0 {
		preTransform = context.Device.SwapchainSupport.Capabilities.CurrentTransform
	}
	swapchain.PreTransform = preTransform

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      swapchainExtent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
	}

	if context.Device.GraphicsQueueIndex != context.Device.PresentQueueIndex {
		queueFamilyIndices := []uint32{
			uint32(context.Device.GraphicsQueueIndex),
			uint32(context.Device.PresentQueueIndex),
		}
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = queueFamilyIndices
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	swapchainCreateInfo.PreTransform = preTransform
	swapchainCreateInfo.CompositeAlpha = vk.CompositeAlphaOpaqueBit
	swapchainCreateInfo.PresentMode = presentMode
	swapchainCreateInfo.Clipped = vk.True
	swapchainCreateInfo.OldSwapchain = nil

	var swapchainHandle vk.Swapchain
	if res := vk.CreateSwapchain(context.Device.LogicalDevice, &swapchainCreateInfo, context.Allocator, &swapchainHandle); res != vk.Success {
		err := fmt.Errorf("failed to create swapchain with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	swapchain.Handle = swapchainHandle

	// Images
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &swapchain.ImageCount, nil); res != vk.Success {
		err := fmt.Errorf("failed to get swapchain images")
		core.LogError(err.Error())
		return nil, err
	}
	swapchain.Images = make([]vk.Image, swapchain.ImageCount)
	swapchain.Views = make([]vk.ImageView, swapchain.ImageCount)
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &swapchain.ImageCount, swapchain.Images); res != vk.Success {
		err := fmt.Errorf("failed to get swapchain images")
		core.LogError(err.Error())
		return nil, err
	}

	for i := 0; i < int(swapchain.ImageCount); i++ {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    swapchain.Images[i],
			ViewType: vk.ImageViewType2d,
			Format:   swapchain.ImageFormat.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}
		if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &swapchain.Views[i]); res != vk.Success {
			err := fmt.Errorf("failed to create swapchain image view")
			core.LogError(err.Error())
			return nil, err
		}
	}

	if !DeviceDetectDepthFormat(context.Device) {
		context.Device.DepthFormat = vk.FormatUndefined
		err := fmt.Errorf("failed to find a supported depth format")
		core.LogError(err.Error())
		return nil, err
	}

	context.FramebufferWidth = swapchainExtent.Width
	context.FramebufferHeight = swapchainExtent.Height

	core.LogInfo("Swapchain created successfully (%dx%d, %d images).", swapchainExtent.Width, swapchainExtent.Height, swapchain.ImageCount)
	return swapchain, nil
}

func (vs *VulkanSwapchain) destroySwapchain(context *VulkanContext) {
	vk.DeviceWaitIdle(context.Device.LogicalDevice)

	// Only destroy the views, not the images; those are owned by the
	// swapchain and go with it.
	for i := 0; i < int(vs.ImageCount); i++ {
		vk.DestroyImageView(context.Device.LogicalDevice, vs.Views[i], context.Allocator)
	}
	vk.DestroySwapchain(context.Device.LogicalDevice, vs.Handle, context.Allocator)
}
