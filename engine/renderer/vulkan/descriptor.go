package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/stratagfx/strata/engine/core"
)

// uniformArenaSize is per frame slot. Each draw stages at most a few hundred
// bytes of uniform data, so this covers thousands of draws.
const uniformArenaSize = 1 << 20

// descriptorArena owns the transient descriptor state of one frame slot: a
// pool that is reset wholesale when the slot's fence clears, and a
// persistently mapped uniform buffer the batched writes copy into.
type descriptorArena struct {
	context *VulkanContext

	pool vk.DescriptorPool

	uniforms      *VulkanBuffer
	mapped        unsafe.Pointer
	uniformOffset vk.DeviceSize
	alignment     vk.DeviceSize
}

func newDescriptorArena(context *VulkanContext, maxSets uint32) (*descriptorArena, error) {
	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: maxSets * 2},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: maxSets},
		{Type: vk.DescriptorTypeInputAttachment, DescriptorCount: maxSets},
	}
	for i := range poolSizes {
		poolSizes[i].Deref()
	}

	poolCreateInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	poolCreateInfo.Deref()

	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
		err := fmt.Errorf("failed to create descriptor pool with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	uniforms, err := BufferCreate(context, uniformArenaSize,
		vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		vk.DestroyDescriptorPool(context.Device.LogicalDevice, pool, context.Allocator)
		return nil, err
	}
	mapped, err := uniforms.BufferMap(context)
	if err != nil {
		uniforms.BufferDestroy(context)
		vk.DestroyDescriptorPool(context.Device.LogicalDevice, pool, context.Allocator)
		return nil, err
	}

	context.Device.Properties.Limits.Deref()
	alignment := vk.DeviceSize(context.Device.Properties.Limits.MinUniformBufferOffsetAlignment)
	if alignment == 0 {
		alignment = 256
	}

	return &descriptorArena{
		context:   context,
		pool:      pool,
		uniforms:  uniforms,
		mapped:    mapped,
		alignment: alignment,
	}, nil
}

// reset reclaims every set and the whole uniform arena. Callable only after
// the slot's fence signaled.
func (da *descriptorArena) reset() error {
	if res := vk.ResetDescriptorPool(da.context.Device.LogicalDevice, da.pool, 0); res != vk.Success {
		err := fmt.Errorf("failed to reset descriptor pool with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	da.uniformOffset = 0
	return nil
}

// stageUniform copies one uniform block into the arena and returns the
// buffer region a descriptor write should point at.
func (da *descriptorArena) stageUniform(data []byte) (vk.DescriptorBufferInfo, error) {
	size := vk.DeviceSize(len(data))
	if da.uniformOffset+size > uniformArenaSize {
		return vk.DescriptorBufferInfo{}, fmt.Errorf("uniform arena exhausted at offset %d", da.uniformOffset)
	}

	vk.Memcopy(unsafe.Add(da.mapped, int(da.uniformOffset)), data)
	info := vk.DescriptorBufferInfo{
		Buffer: da.uniforms.Handle,
		Offset: da.uniformOffset,
		Range:  size,
	}
	info.Deref()

	da.uniformOffset = (da.uniformOffset + size + da.alignment - 1) / da.alignment * da.alignment
	return info, nil
}

// allocate carves one descriptor set out of the pool.
func (da *descriptorArena) allocate(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     da.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	allocateInfo.Deref()

	var set vk.DescriptorSet
	if res := vk.AllocateDescriptorSets(da.context.Device.LogicalDevice, &allocateInfo, &set); res != vk.Success {
		return nil, fmt.Errorf("failed to allocate descriptor set with %s", VulkanResultString(res))
	}
	return set, nil
}

func (da *descriptorArena) destroy() {
	if da.uniforms != nil {
		da.uniforms.BufferDestroy(da.context)
		da.uniforms = nil
	}
	if da.pool != nil {
		vk.DestroyDescriptorPool(da.context.Device.LogicalDevice, da.pool, da.context.Allocator)
		da.pool = nil
	}
}
