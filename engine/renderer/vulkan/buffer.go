package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/stratagfx/strata/engine/core"
)

type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   vk.DeviceSize
	// mapped is non-nil while the memory is persistently mapped.
	mapped unsafe.Pointer
}

func BufferCreate(context *VulkanContext, size vk.DeviceSize, usage vk.BufferUsageFlags, memoryFlags vk.MemoryPropertyFlags) (*VulkanBuffer, error) {
	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	bufferCreateInfo.Deref()

	var buffer vk.Buffer
	if res := vk.CreateBuffer(context.Device.LogicalDevice, &bufferCreateInfo, context.Allocator, &buffer); res != vk.Success {
		err := fmt.Errorf("failed to create buffer with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, buffer, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := context.FindMemoryIndex(memoryRequirements.MemoryTypeBits, memoryFlags)
	if memoryType == -1 {
		err := fmt.Errorf("required memory type not found for buffer")
		core.LogError(err.Error())
		return nil, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &memory); res != vk.Success {
		err := fmt.Errorf("failed to allocate buffer memory with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	if res := vk.BindBufferMemory(context.Device.LogicalDevice, buffer, memory, 0); res != vk.Success {
		err := fmt.Errorf("failed to bind buffer memory with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	return &VulkanBuffer{
		Handle: buffer,
		Memory: memory,
		Size:   size,
	}, nil
}

func (vb *VulkanBuffer) BufferDestroy(context *VulkanContext) {
	if vb.mapped != nil {
		vk.UnmapMemory(context.Device.LogicalDevice, vb.Memory)
		vb.mapped = nil
	}
	if vb.Memory != nil {
		vk.FreeMemory(context.Device.LogicalDevice, vb.Memory, context.Allocator)
		vb.Memory = nil
	}
	if vb.Handle != nil {
		vk.DestroyBuffer(context.Device.LogicalDevice, vb.Handle, context.Allocator)
		vb.Handle = nil
	}
}

// BufferMap persistently maps the whole buffer. Only valid on host-visible
// memory.
func (vb *VulkanBuffer) BufferMap(context *VulkanContext) (unsafe.Pointer, error) {
	if vb.mapped != nil {
		return vb.mapped, nil
	}
	var data unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, vb.Memory, 0, vb.Size, 0, &data); res != vk.Success {
		err := fmt.Errorf("failed to map buffer memory with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	vb.mapped = data
	return data, nil
}

// BufferLoadData maps, copies and unmaps in one shot.
func (vb *VulkanBuffer) BufferLoadData(context *VulkanContext, offset vk.DeviceSize, data []byte) error {
	var dst unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, vb.Memory, offset, vk.DeviceSize(len(data)), 0, &dst); res != vk.Success {
		err := fmt.Errorf("failed to map buffer memory with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	vk.Memcopy(dst, data)
	vk.UnmapMemory(context.Device.LogicalDevice, vb.Memory)
	return nil
}

// BufferCopyTo records a full copy into another buffer on a single-use
// command buffer.
func (vb *VulkanBuffer) BufferCopyTo(cmd vk.CommandBuffer, dst *VulkanBuffer, size vk.DeviceSize) {
	region := vk.BufferCopy{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      size,
	}
	region.Deref()
	vk.CmdCopyBuffer(cmd, vb.Handle, dst.Handle, 1, []vk.BufferCopy{region})
}

// uploadThroughStaging creates a device-local buffer and fills it from a
// host-visible staging copy via the transfer queue.
func uploadThroughStaging(context *VulkanContext, data []byte, usage vk.BufferUsageFlags) (*VulkanBuffer, error) {
	size := vk.DeviceSize(len(data))

	staging, err := BufferCreate(context, size,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}
	defer staging.BufferDestroy(context)

	if err := staging.BufferLoadData(context, 0, data); err != nil {
		return nil, err
	}

	deviceLocal, err := BufferCreate(context, size,
		usage|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return nil, err
	}

	cmd, err := beginSingleUseCommandBuffer(context)
	if err != nil {
		deviceLocal.BufferDestroy(context)
		return nil, err
	}
	staging.BufferCopyTo(cmd, deviceLocal, size)
	if err := endSingleUseCommandBuffer(context, cmd, context.Device.GraphicsQueue); err != nil {
		deviceLocal.BufferDestroy(context)
		return nil, err
	}

	return deviceLocal, nil
}

// beginSingleUseCommandBuffer allocates and begins a throwaway command
// buffer for transfer work.
func beginSingleUseCommandBuffer(context *VulkanContext) (vk.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        context.Device.GraphicsCommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, buffers); res != vk.Success {
		err := fmt.Errorf("failed to allocate single-use command buffer with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(buffers[0], &beginInfo); res != vk.Success {
		err := fmt.Errorf("failed to begin single-use command buffer with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	return buffers[0], nil
}

// endSingleUseCommandBuffer submits, waits for the queue to drain and frees
// the buffer.
func endSingleUseCommandBuffer(context *VulkanContext, cmd vk.CommandBuffer, queue vk.Queue) error {
	if res := vk.EndCommandBuffer(cmd); res != vk.Success {
		err := fmt.Errorf("failed to end single-use command buffer with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd},
	}
	if res := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); res != vk.Success {
		err := fmt.Errorf("failed to submit single-use command buffer with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	if res := vk.QueueWaitIdle(queue); res != vk.Success {
		err := fmt.Errorf("queue failed to wait idle with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}

	vk.FreeCommandBuffers(context.Device.LogicalDevice, context.Device.GraphicsCommandPool, 1, []vk.CommandBuffer{cmd})
	return nil
}
