package main

import (
	"os"
	"path/filepath"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vulkan-go/vulkan"

	"Marcher/internal/shading"
)

const (
	vertexShaderFile   = "quad.vert.spv"
	fragmentShaderFile = "scene.frag.spv"
)

// pushStages are the shader stages that read shading.FrameParams.
var pushStages = vulkan.ShaderStageFlags(vulkan.ShaderStageFragmentBit)

// createRenderPass declares a single color attachment, cleared on load and
// handed to the presentation engine at the end of the pass.
func (d *vkDevice) createRenderPass() error {
	colorAttachment := vulkan.AttachmentDescription{
		Format:         d.surfaceFormat.Format,
		Samples:        vulkan.SampleCount1Bit,
		LoadOp:         vulkan.AttachmentLoadOpClear,
		StoreOp:        vulkan.AttachmentStoreOpStore,
		StencilLoadOp:  vulkan.AttachmentLoadOpDontCare,
		StencilStoreOp: vulkan.AttachmentStoreOpDontCare,
		InitialLayout:  vulkan.ImageLayoutUndefined,
		FinalLayout:    vulkan.ImageLayoutPresentSrc,
	}
	colorRef := vulkan.AttachmentReference{
		Attachment: 0,
		Layout:     vulkan.ImageLayoutColorAttachmentOptimal,
	}
	subpass := vulkan.SubpassDescription{
		PipelineBindPoint:    vulkan.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    []vulkan.AttachmentReference{colorRef},
	}
	dependency := vulkan.SubpassDependency{
		SrcSubpass:    vulkan.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit),
		DstStageMask:  vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vulkan.AccessFlags(vulkan.AccessColorAttachmentWriteBit),
	}

	createInfo := vulkan.RenderPassCreateInfo{
		SType:           vulkan.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vulkan.AttachmentDescription{colorAttachment},
		SubpassCount:    1,
		PSubpasses:      []vulkan.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vulkan.SubpassDependency{dependency},
	}
	if res := vulkan.CreateRenderPass(d.device, &createInfo, nil, &d.renderPass); res != vulkan.Success {
		return errors.Wrap(vulkan.Error(res), "create render pass")
	}
	return nil
}

// createGraphicsPipeline builds the fullscreen quad pipeline. Viewport and
// scissor are dynamic so the pipeline survives swapchain rebuilds.
func (d *vkDevice) createGraphicsPipeline() error {
	vertModule, err := d.loadShader(vertexShaderFile)
	if err != nil {
		return err
	}
	defer vulkan.DestroyShaderModule(d.device, vertModule, nil)
	fragModule, err := d.loadShader(fragmentShaderFile)
	if err != nil {
		return err
	}
	defer vulkan.DestroyShaderModule(d.device, fragModule, nil)

	shaderStages := []vulkan.PipelineShaderStageCreateInfo{
		{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageVertexBit,
			Module: vertModule,
			PName:  "main\x00",
		},
		{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageFragmentBit,
			Module: fragModule,
			PName:  "main\x00",
		},
	}

	bindingDescription := vulkan.VertexInputBindingDescription{
		Binding:   0,
		Stride:    shading.VertexStride,
		InputRate: vulkan.VertexInputRateVertex,
	}
	attributeDescriptions := []vulkan.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vulkan.FormatR32g32Sfloat, Offset: uint32(unsafe.Offsetof(shading.Vertex{}.Pos))},
	}
	vertexInput := vulkan.PipelineVertexInputStateCreateInfo{
		SType:                           vulkan.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   1,
		PVertexBindingDescriptions:      []vulkan.VertexInputBindingDescription{bindingDescription},
		VertexAttributeDescriptionCount: uint32(len(attributeDescriptions)),
		PVertexAttributeDescriptions:    attributeDescriptions,
	}

	inputAssembly := vulkan.PipelineInputAssemblyStateCreateInfo{
		SType:                  vulkan.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vulkan.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vulkan.False,
	}

	viewportState := vulkan.PipelineViewportStateCreateInfo{
		SType:         vulkan.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	dynamicStates := []vulkan.DynamicState{
		vulkan.DynamicStateViewport,
		vulkan.DynamicStateScissor,
	}
	dynamicState := vulkan.PipelineDynamicStateCreateInfo{
		SType:             vulkan.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	rasterizer := vulkan.PipelineRasterizationStateCreateInfo{
		SType:                   vulkan.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vulkan.False,
		RasterizerDiscardEnable: vulkan.False,
		PolygonMode:             vulkan.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vulkan.CullModeFlags(vulkan.CullModeNone),
		FrontFace:               vulkan.FrontFaceCounterClockwise,
		DepthBiasEnable:         vulkan.False,
	}

	multisampling := vulkan.PipelineMultisampleStateCreateInfo{
		SType:                vulkan.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vulkan.SampleCount1Bit,
	}

	colorBlendAttachment := vulkan.PipelineColorBlendAttachmentState{
		ColorWriteMask: vulkan.ColorComponentFlags(vulkan.ColorComponentRBit | vulkan.ColorComponentGBit | vulkan.ColorComponentBBit | vulkan.ColorComponentABit),
		BlendEnable:    vulkan.False,
	}
	colorBlending := vulkan.PipelineColorBlendStateCreateInfo{
		SType:           vulkan.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vulkan.PipelineColorBlendAttachmentState{colorBlendAttachment},
	}

	pushRange := vulkan.PushConstantRange{
		StageFlags: pushStages,
		Offset:     0,
		Size:       shading.FrameParamsSize,
	}
	layoutInfo := vulkan.PipelineLayoutCreateInfo{
		SType:                  vulkan.StructureTypePipelineLayoutCreateInfo,
		PushConstantRangeCount: 1,
		PPushConstantRanges:    []vulkan.PushConstantRange{pushRange},
	}
	if res := vulkan.CreatePipelineLayout(d.device, &layoutInfo, nil, &d.layout); res != vulkan.Success {
		return errors.Wrap(vulkan.Error(res), "create pipeline layout")
	}

	pipelineInfo := vulkan.GraphicsPipelineCreateInfo{
		SType:               vulkan.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(shaderStages)),
		PStages:             shaderStages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PColorBlendState:    &colorBlending,
		PDynamicState:       &dynamicState,
		Layout:              d.layout,
		RenderPass:          d.renderPass,
		Subpass:             0,
	}
	pipelines := make([]vulkan.Pipeline, 1)
	if res := vulkan.CreateGraphicsPipelines(d.device, vulkan.PipelineCache(vulkan.NullHandle), 1, []vulkan.GraphicsPipelineCreateInfo{pipelineInfo}, nil, pipelines); res != vulkan.Success {
		return errors.Wrap(vulkan.Error(res), "create graphics pipeline")
	}
	d.pipeline = pipelines[0]
	return nil
}

func (d *vkDevice) loadShader(name string) (vulkan.ShaderModule, error) {
	path := filepath.Join(d.cfg.shaderDir, name)
	code, err := os.ReadFile(path)
	if err != nil {
		return vulkan.ShaderModule(vulkan.NullHandle), errors.Wrap(err, "read shader")
	}
	if len(code) == 0 || len(code)%4 != 0 {
		return vulkan.ShaderModule(vulkan.NullHandle), errors.Errorf("%s: SPIR-V size %d is not a multiple of 4", path, len(code))
	}
	createInfo := vulkan.ShaderModuleCreateInfo{
		SType:    vulkan.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    bytesToUint32(code),
	}
	var module vulkan.ShaderModule
	if res := vulkan.CreateShaderModule(d.device, &createInfo, nil, &module); res != vulkan.Success {
		return vulkan.ShaderModule(vulkan.NullHandle), errors.Wrapf(vulkan.Error(res), "create shader module %s", name)
	}
	return module, nil
}

func bytesToUint32(data []byte) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}

func (d *vkDevice) createVertexBuffer() error {
	data := shading.VerticesToBytes(shading.QuadVertices)
	size := vulkan.DeviceSize(len(data))
	buf, mem, err := d.createBuffer(size, vulkan.BufferUsageFlags(vulkan.BufferUsageVertexBufferBit), vulkan.MemoryPropertyHostVisibleBit|vulkan.MemoryPropertyHostCoherentBit)
	if err != nil {
		return err
	}
	d.vertexBuffer = buf
	d.vertexBufferMemory = mem

	var mapped unsafe.Pointer
	if res := vulkan.MapMemory(d.device, mem, 0, size, 0, &mapped); res != vulkan.Success {
		return errors.Wrap(vulkan.Error(res), "map vertex buffer")
	}
	copy(unsafe.Slice((*byte)(mapped), len(data)), data)
	vulkan.UnmapMemory(d.device, mem)
	return nil
}

func (d *vkDevice) createBuffer(size vulkan.DeviceSize, usage vulkan.BufferUsageFlags, properties vulkan.MemoryPropertyFlagBits) (vulkan.Buffer, vulkan.DeviceMemory, error) {
	bufferInfo := vulkan.BufferCreateInfo{
		SType:       vulkan.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vulkan.SharingModeExclusive,
	}
	var buffer vulkan.Buffer
	if res := vulkan.CreateBuffer(d.device, &bufferInfo, nil, &buffer); res != vulkan.Success {
		return vulkan.Buffer(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), errors.Wrap(vulkan.Error(res), "create buffer")
	}
	var memReq vulkan.MemoryRequirements
	vulkan.GetBufferMemoryRequirements(d.device, buffer, &memReq)
	memReq.Deref()

	memoryType, err := d.findMemoryType(memReq.MemoryTypeBits, properties)
	if err != nil {
		vulkan.DestroyBuffer(d.device, buffer, nil)
		return vulkan.Buffer(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), err
	}
	allocInfo := vulkan.MemoryAllocateInfo{
		SType:           vulkan.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReq.Size,
		MemoryTypeIndex: memoryType,
	}
	var memory vulkan.DeviceMemory
	if res := vulkan.AllocateMemory(d.device, &allocInfo, nil, &memory); res != vulkan.Success {
		vulkan.DestroyBuffer(d.device, buffer, nil)
		return vulkan.Buffer(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), errors.Wrap(vulkan.Error(res), "allocate buffer memory")
	}
	if res := vulkan.BindBufferMemory(d.device, buffer, memory, 0); res != vulkan.Success {
		vulkan.FreeMemory(d.device, memory, nil)
		vulkan.DestroyBuffer(d.device, buffer, nil)
		return vulkan.Buffer(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), errors.Wrap(vulkan.Error(res), "bind buffer memory")
	}
	return buffer, memory, nil
}

func (d *vkDevice) findMemoryType(typeFilter uint32, properties vulkan.MemoryPropertyFlagBits) (uint32, error) {
	var memProps vulkan.PhysicalDeviceMemoryProperties
	vulkan.GetPhysicalDeviceMemoryProperties(d.physicalDevice, &memProps)
	memProps.Deref()

	want := vulkan.MemoryPropertyFlags(properties)
	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		memoryType := memProps.MemoryTypes[i]
		memoryType.Deref()
		if typeFilter&(1<<i) != 0 && memoryType.PropertyFlags&want == want {
			return i, nil
		}
	}
	return 0, errors.Errorf("no memory type for filter %#x with properties %#x", typeFilter, properties)
}
