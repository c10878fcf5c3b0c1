package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/stratagfx/strata/engine/core"
	"github.com/stratagfx/strata/engine/renderer"
)

// VulkanFence wraps a VkFence behind the frame-slot fence contract.
type VulkanFence struct {
	context    *VulkanContext
	Handle     vk.Fence
	IsSignaled bool
}

var _ renderer.Fence = (*VulkanFence)(nil)

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		context:    context,
		IsSignaled: createSignaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var handle vk.Fence
	if res := vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &handle); res != vk.Success {
		err := fmt.Errorf("failed to create fence with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	fence.Handle = handle
	return fence, nil
}

func (vf *VulkanFence) Wait(timeout time.Duration) bool {
	if vf.IsSignaled {
		return true
	}
	result := vk.WaitForFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, uint64(timeout.Nanoseconds()))
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return true
	case vk.Timeout:
		core.LogWarn("fence wait timed out after %s", timeout)
	case vk.ErrorDeviceLost:
		core.LogError("fence wait: VK_ERROR_DEVICE_LOST")
	default:
		core.LogError("fence wait failed with %s", VulkanResultString(result))
	}
	return false
}

func (vf *VulkanFence) Reset() {
	if !vf.IsSignaled {
		return
	}
	if res := vk.ResetFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}); res != vk.Success {
		core.LogError("failed to reset fence with %s", VulkanResultString(res))
		return
	}
	vf.IsSignaled = false
}

func (vf *VulkanFence) FenceDestroy() {
	if vf.Handle != nil {
		vk.DestroyFence(vf.context.Device.LogicalDevice, vf.Handle, vf.context.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}
