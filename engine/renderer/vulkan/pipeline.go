package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/stratagfx/strata/engine/core"
	"github.com/stratagfx/strata/engine/math"
	"github.com/stratagfx/strata/engine/renderer"
)

// vulkanPipeline holds the pipeline state object plus the layout objects the
// recorder needs at bind and descriptor allocation time.
type vulkanPipeline struct {
	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout
	SetLayouts     []vk.DescriptorSetLayout
}

func descriptorTypeFor(kind renderer.BindingKind) vk.DescriptorType {
	switch kind {
	case renderer.BindingSampler:
		return vk.DescriptorTypeCombinedImageSampler
	case renderer.BindingInput:
		return vk.DescriptorTypeInputAttachment
	default:
		return vk.DescriptorTypeUniformBuffer
	}
}

func stageFlagsFor(kind renderer.BindingKind) vk.ShaderStageFlags {
	// Matrices feed the vertex stage, everything else the fragment stage;
	// uniform blocks are visible to both to keep the layouts permissive.
	switch kind {
	case renderer.BindingSampler, renderer.BindingInput:
		return vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	default:
		return vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	}
}

// PipelineCompile builds the pipeline state object a cache key describes,
// against the given compiled pass and the subpass baked into the key.
func PipelineCompile(context *VulkanContext, key renderer.PipelineKey, pack *renderer.ShaderPack, pass *vulkanPass) (*vulkanPipeline, error) {
	outPipeline := &vulkanPipeline{}

	vertModule, err := shaderModuleCreate(context, pack.Vertex)
	if err != nil {
		return nil, fmt.Errorf("shader %q vertex stage: %w", pack.Name, err)
	}
	defer vk.DestroyShaderModule(context.Device.LogicalDevice, vertModule, context.Allocator)

	fragModule, err := shaderModuleCreate(context, pack.Fragment)
	if err != nil {
		return nil, fmt.Errorf("shader %q fragment stage: %w", pack.Name, err)
	}
	defer vk.DestroyShaderModule(context.Device.LogicalDevice, fragModule, context.Allocator)

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vertModule,
			PName:  VulkanSafeString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: fragModule,
			PName:  VulkanSafeString("main"),
		},
	}
	for i := range stages {
		stages[i].Deref()
	}

	// Descriptor set layouts, one per set the shader layout declares.
	setLayouts, err := descriptorSetLayoutsCreate(context, pack.Layout)
	if err != nil {
		return nil, err
	}
	outPipeline.SetLayouts = setLayouts

	// Viewport and scissor are dynamic; the values here only size the
	// static create info.
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
		Extent: vk.Extent2D{Width: pass.Layout.Extent.Width, Height: pass.Layout.Extent.Height},
	}
	scissor.Deref()

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{viewport},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{scissor},
	}
	viewportState.Deref()

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	rasterizerCreateInfo.Deref()

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}
	multisamplingCreateInfo.Deref()

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if key.Depth&renderer.DepthTest != 0 {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}
	if key.Depth&renderer.DepthWrite != 0 {
		depthStencil.DepthWriteEnable = vk.True
	}
	depthStencil.Deref()

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	if key.Blend == renderer.BlendAlpha {
		colorBlendAttachmentState.BlendEnable = vk.True
		colorBlendAttachmentState.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		colorBlendAttachmentState.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		colorBlendAttachmentState.ColorBlendOp = vk.BlendOpAdd
		colorBlendAttachmentState.SrcAlphaBlendFactor = vk.BlendFactorSrcAlpha
		colorBlendAttachmentState.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		colorBlendAttachmentState.AlphaBlendOp = vk.BlendOpAdd
	}
	colorBlendAttachmentState.Deref()

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}
	colorBlendStateCreateInfo.Deref()

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}
	dynamicStateCreateInfo.Deref()

	bindingDescription := vk.VertexInputBindingDescription{
		Binding:   0,
		Stride:    uint32(unsafe.Sizeof(math.Vertex3D{})),
		InputRate: vk.VertexInputRateVertex,
	}
	bindingDescription.Deref()

	attributes := vertexAttributesFor(key.Vertex)
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   1,
		PVertexBindingDescriptions:      []vk.VertexInputBindingDescription{bindingDescription},
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
	vertexInputInfo.Deref()

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}
	inputAssembly.Deref()

	pushConstantRange := vk.PushConstantRange{
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		Offset:     0,
		Size:       pack.Layout.PushConstantSize,
	}
	pushConstantRange.Deref()

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: 1,
		PPushConstantRanges:    []vk.PushConstantRange{pushConstantRange},
	}
	pipelineLayoutCreateInfo.Deref()

	var pipelineLayout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutCreateInfo, context.Allocator, &pipelineLayout); res != vk.Success {
		outPipeline.destroySetLayouts(context)
		err := fmt.Errorf("vkCreatePipelineLayout failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	outPipeline.PipelineLayout = pipelineLayout

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              outPipeline.PipelineLayout,
		RenderPass:          pass.Handle,
		Subpass:             key.Subpass,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	pipelineCreateInfo.Deref()

	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateGraphicsPipelines(
		context.Device.LogicalDevice,
		vk.NullPipelineCache,
		1,
		[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
		context.Allocator,
		pipelines); res != vk.Success {
		outPipeline.PipelineDestroy(context)
		err := fmt.Errorf("vkCreateGraphicsPipelines failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	outPipeline.Handle = pipelines[0]

	core.LogDebug("Graphics pipeline created for shader %q, subpass %d.", key.Shader, key.Subpass)
	return outPipeline, nil
}

func vertexAttributesFor(layout renderer.VertexLayout) []vk.VertexInputAttributeDescription {
	position := vk.VertexInputAttributeDescription{
		Location: 0,
		Binding:  0,
		Format:   vk.FormatR32g32b32Sfloat,
		Offset:   uint32(unsafe.Offsetof(math.Vertex3D{}.Position)),
	}
	texcoord := vk.VertexInputAttributeDescription{
		Location: 1,
		Binding:  0,
		Format:   vk.FormatR32g32Sfloat,
		Offset:   uint32(unsafe.Offsetof(math.Vertex3D{}.Texcoord)),
	}
	position.Deref()
	texcoord.Deref()

	if layout == renderer.VertexLayoutPosition {
		return []vk.VertexInputAttributeDescription{position}
	}
	return []vk.VertexInputAttributeDescription{position, texcoord}
}

func shaderModuleCreate(context *VulkanContext, code []byte) (vk.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V blob of %d bytes is not a word stream", len(code))
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    repackUint32(code),
	}
	createInfo.Deref()

	var module vk.ShaderModule
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &module); res != vk.Success {
		return nil, fmt.Errorf("vkCreateShaderModule failed with %s", VulkanResultString(res))
	}
	return module, nil
}

func descriptorSetLayoutsCreate(context *VulkanContext, layout *renderer.PipelineLayout) ([]vk.DescriptorSetLayout, error) {
	setLayouts := make([]vk.DescriptorSetLayout, len(layout.Sets))
	for si, set := range layout.Sets {
		bindings := make([]vk.DescriptorSetLayoutBinding, len(set.Bindings))
		for bi, kind := range set.Bindings {
			bindings[bi] = vk.DescriptorSetLayoutBinding{
				Binding:         uint32(bi),
				DescriptorType:  descriptorTypeFor(kind),
				DescriptorCount: 1,
				StageFlags:      stageFlagsFor(kind),
			}
			bindings[bi].Deref()
		}

		createInfo := vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(bindings)),
			PBindings:    bindings,
		}
		createInfo.Deref()

		if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &createInfo, context.Allocator, &setLayouts[si]); res != vk.Success {
			for i := 0; i < si; i++ {
				vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, setLayouts[i], context.Allocator)
			}
			err := fmt.Errorf("vkCreateDescriptorSetLayout failed with %s", VulkanResultString(res))
			core.LogError(err.Error())
			return nil, err
		}
	}
	return setLayouts, nil
}

func (vp *vulkanPipeline) destroySetLayouts(context *VulkanContext) {
	for _, setLayout := range vp.SetLayouts {
		if setLayout != nil {
			vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, setLayout, context.Allocator)
		}
	}
	vp.SetLayouts = nil
}

func (vp *vulkanPipeline) PipelineDestroy(context *VulkanContext) {
	if vp.Handle != nil {
		vk.DestroyPipeline(context.Device.LogicalDevice, vp.Handle, context.Allocator)
		vp.Handle = nil
	}
	if vp.PipelineLayout != nil {
		vk.DestroyPipelineLayout(context.Device.LogicalDevice, vp.PipelineLayout, context.Allocator)
		vp.PipelineLayout = nil
	}
	vp.destroySetLayouts(context)
}
