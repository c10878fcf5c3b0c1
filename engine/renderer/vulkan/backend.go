// Package vulkan is the goki/vulkan implementation of the renderer's device
// interface. It owns the instance, surface, swapchain and all GPU-side
// resources; the orchestrator drives it through the same command stream the
// soft backend executes on the CPU.
package vulkan

import (
	"fmt"
	gomath "math"
	"runtime"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/google/uuid"
	vk "github.com/goki/vulkan"

	"github.com/stratagfx/strata/engine/core"
	"github.com/stratagfx/strata/engine/math"
	"github.com/stratagfx/strata/engine/platform"
	"github.com/stratagfx/strata/engine/renderer"
)

type vulkanTexture struct {
	Image   *VulkanImage
	Sampler vk.Sampler
}

// pendingPresent is the handoff between Submit and Present: which swapchain
// image to present, gated on which semaphore.
type pendingPresent struct {
	imageIndex     uint32
	renderComplete vk.Semaphore
	valid          bool
}

// Device implements renderer.Device on a real Vulkan driver.
type Device struct {
	platform *platform.Platform
	context  *VulkanContext

	appName     string
	debug       bool
	vsync       bool
	orientation renderer.SurfaceOrientation

	// mu guards the resource maps; uploads may come from the scene
	// goroutine while the render loop runs.
	mu            sync.Mutex
	vertexBuffers map[uuid.UUID]*VulkanBuffer
	indexBuffers  map[uuid.UUID]*VulkanBuffer
	textures      map[uuid.UUID]*vulkanTexture

	// Slot objects created for the orchestrator, tracked for teardown.
	fences    []*VulkanFence
	recorders []*recorder

	present pendingPresent
}

var _ renderer.Device = (*Device)(nil)

type Options struct {
	AppName string
	Extent  renderer.Extent
	VSync   bool
	Debug   bool
}

func New(p *platform.Platform, opts Options) (*Device, error) {
	dev := &Device{
		platform: p,
		appName:  opts.AppName,
		debug:    opts.Debug,
		vsync:    opts.VSync,
		context: &VulkanContext{
			Allocator:         nil,
			FramebufferWidth:  opts.Extent.Width,
			FramebufferHeight: opts.Extent.Height,
		},
		vertexBuffers: make(map[uuid.UUID]*VulkanBuffer),
		indexBuffers:  make(map[uuid.UUID]*VulkanBuffer),
		textures:      make(map[uuid.UUID]*vulkanTexture),
	}

	if err := dev.createInstance(); err != nil {
		return nil, err
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := p.CreateSurface(dev.context.Instance)
	if err != nil {
		core.LogError("Failed to create platform surface: %s", err.Error())
		return nil, err
	}
	dev.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	if err := DeviceCreate(dev.context); err != nil {
		return nil, err
	}

	swapchain, err := SwapchainCreate(dev.context, opts.Extent.Width, opts.Extent.Height, dev.orientation, dev.vsync)
	if err != nil {
		return nil, err
	}
	dev.context.Swapchain = swapchain

	core.LogInfo("Vulkan device initialized successfully.")
	return dev, nil
}

func (d *Device) createInstance() error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		err := fmt.Errorf("vkGetInstanceProcAddr is nil")
		core.LogError(err.Error())
		return err
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return err
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(d.appName),
		PEngineName:        VulkanSafeString("Strata Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{"VK_KHR_surface"}
	requiredExtensions = append(requiredExtensions, d.platform.GetRequiredExtensionNames()...)
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}
	if d.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	var validationLayers []string
	if d.debug {
		validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := verifyValidationLayers(validationLayers); err != nil {
			return err
		}
	}
	createInfo.EnabledLayerCount = uint32(len(validationLayers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(validationLayers)

	if res := vk.CreateInstance(&createInfo, d.context.Allocator, &d.context.Instance); res != vk.Success {
		err := fmt.Errorf("failed to create the Vulkan instance with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(d.context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan instance created.")

	if d.debug {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if res := vk.CreateDebugReportCallback(d.context.Instance, &debugCreateInfo, nil, &dbg); res != vk.Success {
			err := fmt.Errorf("vkCreateDebugReportCallback failed with %s", VulkanResultString(res))
			core.LogError(err.Error())
			return err
		}
		d.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func verifyValidationLayers(required []string) error {
	var availableCount uint32
	if res := vk.EnumerateInstanceLayerProperties(&availableCount, nil); res != vk.Success {
		return fmt.Errorf("failed to enumerate instance layers with %s", VulkanResultString(res))
	}
	available := make([]vk.LayerProperties, availableCount)
	if res := vk.EnumerateInstanceLayerProperties(&availableCount, available); res != vk.Success {
		return fmt.Errorf("failed to enumerate instance layers with %s", VulkanResultString(res))
	}

	for _, name := range required {
		found := false
		for j := range available {
			available[j].Deref()
			end := FindFirstZeroInByteArray(available[j].LayerName[:])
			if name == vk.ToString(available[j].LayerName[:end+1]) {
				found = true
				break
			}
		}
		if !found {
			err := fmt.Errorf("required validation layer is missing: %s", name)
			core.LogError(err.Error())
			return err
		}
	}
	return nil
}

func (d *Device) Name() string { return "vulkan" }

func (d *Device) CreateRenderPass(layout *renderer.PassLayout) (renderer.RenderPassHandle, error) {
	return RenderPassCompile(d.context, layout)
}

func (d *Device) DestroyRenderPass(handle renderer.RenderPassHandle) {
	if pass, ok := handle.(*vulkanPass); ok {
		pass.Destroy(d.context)
	}
}

func (d *Device) CreatePipeline(key renderer.PipelineKey, pack *renderer.ShaderPack, pass renderer.RenderPassHandle) (renderer.PipelineHandle, error) {
	vp, ok := pass.(*vulkanPass)
	if !ok {
		return nil, fmt.Errorf("render pass was not created by this device")
	}
	return PipelineCompile(d.context, key, pack, vp)
}

func (d *Device) DestroyPipeline(p *renderer.Pipeline) {
	if pipeline, ok := p.Handle.(*vulkanPipeline); ok {
		pipeline.PipelineDestroy(d.context)
	}
}

func (d *Device) CreateVertexBuffer(vertices []math.Vertex3D) (renderer.ResourceHandle, error) {
	if len(vertices) == 0 {
		return renderer.ResourceHandle{}, fmt.Errorf("empty vertex buffer")
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(&vertices[0])), len(vertices)*int(unsafe.Sizeof(math.Vertex3D{})))

	buffer, err := uploadThroughStaging(d.context, data, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	if err != nil {
		return renderer.ResourceHandle{}, err
	}

	handle := renderer.NewResourceHandle(renderer.ResourceVertexBuffer)
	d.mu.Lock()
	d.vertexBuffers[handle.ID] = buffer
	d.mu.Unlock()
	return handle, nil
}

func (d *Device) CreateIndexBuffer(indices []uint32) (renderer.ResourceHandle, error) {
	if len(indices) == 0 {
		return renderer.ResourceHandle{}, fmt.Errorf("empty index buffer")
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(&indices[0])), len(indices)*4)

	buffer, err := uploadThroughStaging(d.context, data, vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit))
	if err != nil {
		return renderer.ResourceHandle{}, err
	}

	handle := renderer.NewResourceHandle(renderer.ResourceIndexBuffer)
	d.mu.Lock()
	d.indexBuffers[handle.ID] = buffer
	d.mu.Unlock()
	return handle, nil
}

func (d *Device) CreateTexture(pixels []uint8, width, height uint32) (renderer.ResourceHandle, error) {
	if uint32(len(pixels)) != width*height*4 {
		return renderer.ResourceHandle{}, fmt.Errorf("texture data is %d bytes, want %d", len(pixels), width*height*4)
	}

	staging, err := BufferCreate(d.context, vk.DeviceSize(len(pixels)),
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return renderer.ResourceHandle{}, err
	}
	defer staging.BufferDestroy(d.context)
	if err := staging.BufferLoadData(d.context, 0, pixels); err != nil {
		return renderer.ResourceHandle{}, err
	}

	image, err := ImageCreate(
		d.context,
		width, height,
		vk.FormatR8g8b8a8Unorm,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true,
		vk.ImageAspectFlags(vk.ImageAspectColorBit))
	if err != nil {
		return renderer.ResourceHandle{}, err
	}

	cmd, err := beginSingleUseCommandBuffer(d.context)
	if err != nil {
		image.ImageDestroy(d.context)
		return renderer.ResourceHandle{}, err
	}
	if err := image.ImageTransitionLayout(cmd, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal); err != nil {
		image.ImageDestroy(d.context)
		return renderer.ResourceHandle{}, err
	}
	image.ImageCopyFromBuffer(cmd, staging.Handle)
	if err := image.ImageTransitionLayout(cmd, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal); err != nil {
		image.ImageDestroy(d.context)
		return renderer.ResourceHandle{}, err
	}
	if err := endSingleUseCommandBuffer(d.context, cmd, d.context.Device.GraphicsQueue); err != nil {
		image.ImageDestroy(d.context)
		return renderer.ResourceHandle{}, err
	}

	samplerCreateInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1.0,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}
	samplerCreateInfo.Deref()

	var sampler vk.Sampler
	if res := vk.CreateSampler(d.context.Device.LogicalDevice, &samplerCreateInfo, d.context.Allocator, &sampler); res != vk.Success {
		image.ImageDestroy(d.context)
		err := fmt.Errorf("failed to create sampler with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return renderer.ResourceHandle{}, err
	}

	handle := renderer.NewResourceHandle(renderer.ResourceTexture)
	d.mu.Lock()
	d.textures[handle.ID] = &vulkanTexture{Image: image, Sampler: sampler}
	d.mu.Unlock()
	return handle, nil
}

func (d *Device) DestroyResource(handle renderer.ResourceHandle) {
	d.mu.Lock()
	vertexBuffer := d.vertexBuffers[handle.ID]
	indexBuffer := d.indexBuffers[handle.ID]
	texture := d.textures[handle.ID]
	delete(d.vertexBuffers, handle.ID)
	delete(d.indexBuffers, handle.ID)
	delete(d.textures, handle.ID)
	d.mu.Unlock()

	if vertexBuffer != nil {
		vertexBuffer.BufferDestroy(d.context)
	}
	if indexBuffer != nil {
		indexBuffer.BufferDestroy(d.context)
	}
	if texture != nil {
		vk.DestroySampler(d.context.Device.LogicalDevice, texture.Sampler, d.context.Allocator)
		texture.Image.ImageDestroy(d.context)
	}
}

func (d *Device) NewFence(signaled bool) (renderer.Fence, error) {
	fence, err := NewFence(d.context, signaled)
	if err != nil {
		return nil, err
	}
	d.fences = append(d.fences, fence)
	return fence, nil
}

func (d *Device) NewRecorder() (renderer.CommandRecorder, error) {
	rec, err := newRecorder(d)
	if err != nil {
		return nil, err
	}
	d.recorders = append(d.recorders, rec)
	return rec, nil
}

func (d *Device) acquireImage(imageAvailable vk.Semaphore) (uint32, error) {
	return d.context.Swapchain.SwapchainAcquireNextImageIndex(d.context, gomath.MaxUint64, imageAvailable)
}

func (d *Device) lookupGeometry(vertex, index renderer.ResourceHandle) (*VulkanBuffer, *VulkanBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	vertexBuffer, okV := d.vertexBuffers[vertex.ID]
	indexBuffer, okI := d.indexBuffers[index.ID]
	if !okV {
		return nil, nil, fmt.Errorf("unknown vertex buffer %s", vertex.ID)
	}
	if !okI {
		return nil, nil, fmt.Errorf("unknown index buffer %s", index.ID)
	}
	return vertexBuffer, indexBuffer, nil
}

func (d *Device) lookupTexture(handle renderer.ResourceHandle) (*vulkanTexture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	texture, ok := d.textures[handle.ID]
	if !ok {
		return nil, fmt.Errorf("unknown texture %s", handle.ID)
	}
	return texture, nil
}

// Submit hands the recorded command buffer to the graphics queue. The fence
// signals when the slot's work drains; the render-complete semaphore gates
// the following Present.
func (d *Device) Submit(rec renderer.CommandRecorder, done renderer.Fence) error {
	r, ok := rec.(*recorder)
	if !ok {
		return fmt.Errorf("recorder was not created by this device")
	}
	fence, ok := done.(*VulkanFence)
	if !ok {
		return fmt.Errorf("fence was not created by this device")
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{r.cmd},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{r.renderComplete},
	}
	if r.acquired {
		// Color writes hold until the acquired image is actually free.
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{r.imageAvailable}
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}
	}

	// vkQueueSubmit requires an unsignaled fence.
	fence.Reset()
	if res := vk.QueueSubmit(d.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle); res != vk.Success {
		err := fmt.Errorf("vkQueueSubmit failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		// The queue never took the work, so nothing will signal the fence;
		// mark the slot acquirable again.
		fence.IsSignaled = true
		return err
	}

	d.present = pendingPresent{
		imageIndex:     r.imageIndex,
		renderComplete: r.renderComplete,
		valid:          r.acquired,
	}
	return nil
}

func (d *Device) Present() error {
	if !d.present.valid {
		return fmt.Errorf("no submitted frame to present")
	}
	d.present.valid = false
	return d.context.Swapchain.SwapchainPresent(
		d.context,
		d.context.Device.PresentQueue,
		d.present.renderComplete,
		d.present.imageIndex)
}

// Reconfigure recreates the swapchain for a new extent and orientation.
// Render passes compiled against the old swapchain must be rebuilt by the
// caller afterwards.
func (d *Device) Reconfigure(extent renderer.Extent, orientation renderer.SurfaceOrientation) error {
	if extent.Width == 0 || extent.Height == 0 {
		return fmt.Errorf("cannot reconfigure to a zero-sized surface")
	}

	if res := vk.DeviceWaitIdle(d.context.Device.LogicalDevice); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("vkDeviceWaitIdle failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}

	if err := DeviceQuerySwapchainSupport(d.context.Device.PhysicalDevice, d.context.Surface, &d.context.Device.SwapchainSupport); err != nil {
		return err
	}

	swapchain, err := d.context.Swapchain.SwapchainRecreate(d.context, extent.Width, extent.Height, orientation, d.vsync)
	if err != nil {
		return err
	}
	d.context.Swapchain = swapchain
	d.orientation = orientation
	d.present = pendingPresent{}

	core.LogInfo("Vulkan surface reconfigured: %dx%d %s", extent.Width, extent.Height, orientation)
	return nil
}

func (d *Device) WaitIdle() error {
	if res := vk.DeviceWaitIdle(d.context.Device.LogicalDevice); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("vkDeviceWaitIdle failed with %s", VulkanResultString(res))
	}
	return nil
}

func (d *Device) Shutdown() error {
	vk.DeviceWaitIdle(d.context.Device.LogicalDevice)

	// Destroy in the opposite order of creation.
	for _, rec := range d.recorders {
		rec.destroy()
	}
	d.recorders = nil
	for _, fence := range d.fences {
		fence.FenceDestroy()
	}
	d.fences = nil

	d.mu.Lock()
	for _, buffer := range d.vertexBuffers {
		buffer.BufferDestroy(d.context)
	}
	for _, buffer := range d.indexBuffers {
		buffer.BufferDestroy(d.context)
	}
	for _, texture := range d.textures {
		vk.DestroySampler(d.context.Device.LogicalDevice, texture.Sampler, d.context.Allocator)
		texture.Image.ImageDestroy(d.context)
	}
	d.vertexBuffers = nil
	d.indexBuffers = nil
	d.textures = nil
	d.mu.Unlock()

	d.context.Swapchain.SwapchainDestroy(d.context)

	core.LogDebug("Destroying Vulkan device...")
	DeviceDestroy(d.context)

	core.LogDebug("Destroying Vulkan surface...")
	if d.context.Surface != vk.NullSurface {
		vk.DestroySurface(d.context.Instance, d.context.Surface, d.context.Allocator)
		d.context.Surface = vk.NullSurface
	}

	if d.debug && d.context.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(d.context.Instance, d.context.debugMessenger, d.context.Allocator)
	}

	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(d.context.Instance, d.context.Allocator)
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
