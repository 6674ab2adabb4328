package main

import (
	"context"
	"log/slog"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vulkan-go/glfw/v3.3/glfw"
	"github.com/vulkan-go/vulkan"

	"Marcher/internal/present"
	"Marcher/internal/shading"
)

var (
	validationLayers = []string{"VK_LAYER_KHRONOS_validation\x00"}
	deviceExtensions = []string{"VK_KHR_swapchain\x00"}
)

type queueFamilyIndices struct {
	graphicsFamily uint32
	presentFamily  uint32
	hasGraphics    bool
	hasPresent     bool
}

type swapchainSupport struct {
	capabilities vulkan.SurfaceCapabilities
	formats      []vulkan.SurfaceFormat
	presentModes []vulkan.PresentMode
}

type deviceConfig struct {
	validation bool
	shaderDir  string
	appName    string
}

// vkDevice is the Vulkan implementation of present.Device. Everything it
// owns outlives the swapchains built on top of it: instance, surface,
// logical device, render pass, pipeline, quad vertex buffer and the command
// pool.
type vkDevice struct {
	cfg    deviceConfig
	window *glfw.Window
	log    *slog.Logger

	instance       vulkan.Instance
	debugCallback  vulkan.DebugReportCallback
	surface        vulkan.Surface
	physicalDevice vulkan.PhysicalDevice
	device         vulkan.Device
	graphicsQueue  vulkan.Queue
	presentQueue   vulkan.Queue
	queues         queueFamilyIndices

	surfaceFormat vulkan.SurfaceFormat
	renderPass    vulkan.RenderPass
	pipeline      vulkan.Pipeline
	layout        vulkan.PipelineLayout

	vertexBuffer       vulkan.Buffer
	vertexBufferMemory vulkan.DeviceMemory
	commandPool        vulkan.CommandPool
}

var _ present.Device = (*vkDevice)(nil)

func newVulkanDevice(window *glfw.Window, cfg deviceConfig, log *slog.Logger) (*vkDevice, error) {
	d := &vkDevice{
		cfg:    cfg,
		window: window,
		log:    log,
	}
	if err := d.init(); err != nil {
		d.Cleanup()
		return nil, err
	}
	return d, nil
}

func (d *vkDevice) init() error {
	vulkan.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vulkan.Init(); err != nil {
		return errors.Wrap(err, "vulkan init")
	}
	steps := []func() error{
		d.createInstance,
		func() error { return errors.Wrap(vulkan.InitInstance(d.instance), "init instance") },
		d.setupDebugCallback,
		d.createSurface,
		d.pickPhysicalDevice,
		d.createLogicalDevice,
		d.chooseSurfaceFormat,
		d.createRenderPass,
		d.createGraphicsPipeline,
		d.createCommandPool,
		d.createVertexBuffer,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (d *vkDevice) createInstance() error {
	if d.cfg.validation && !validationLayersSupported() {
		return errors.New("requested validation layers not available")
	}
	if !glfw.VulkanSupported() {
		return errors.New("GLFW Vulkan loader not found")
	}

	appInfo := vulkan.ApplicationInfo{
		SType:              vulkan.StructureTypeApplicationInfo,
		PApplicationName:   safeString(d.cfg.appName),
		ApplicationVersion: vulkan.MakeVersion(0, 1, 0),
		PEngineName:        "No Engine\x00",
		EngineVersion:      vulkan.MakeVersion(0, 1, 0),
		ApiVersion:         vulkan.MakeVersion(1, 1, 0),
	}

	var extensions []string
	for _, ext := range d.window.GetRequiredInstanceExtensions() {
		extensions = append(extensions, safeString(ext))
	}
	if d.cfg.validation {
		extensions = append(extensions, "VK_EXT_debug_report\x00")
	}

	createInfo := vulkan.InstanceCreateInfo{
		SType:                   vulkan.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}
	if d.cfg.validation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = validationLayers
	}

	if res := vulkan.CreateInstance(&createInfo, nil, &d.instance); res != vulkan.Success {
		return errors.Wrap(vulkan.Error(res), "create instance")
	}
	return nil
}

func validationLayersSupported() bool {
	var count uint32
	if vulkan.EnumerateInstanceLayerProperties(&count, nil) != vulkan.Success {
		return false
	}
	props := make([]vulkan.LayerProperties, count)
	if vulkan.EnumerateInstanceLayerProperties(&count, props) != vulkan.Success {
		return false
	}
	names := make([]string, 0, len(props))
	for i := range props {
		props[i].Deref()
		names = append(names, vulkan.ToString(props[i].LayerName[:]))
	}
	return containsAll(names, validationLayers)
}

// setupDebugCallback routes validation reports into the structured log.
func (d *vkDevice) setupDebugCallback() error {
	if !d.cfg.validation {
		return nil
	}
	createInfo := vulkan.DebugReportCallbackCreateInfo{
		SType: vulkan.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vulkan.DebugReportFlags(
			vulkan.DebugReportErrorBit |
				vulkan.DebugReportWarningBit |
				vulkan.DebugReportPerformanceWarningBit),
		PfnCallback: func(flags vulkan.DebugReportFlags, objectType vulkan.DebugReportObjectType, object uint64, location uint, messageCode int32, layerPrefix string, message string, userData unsafe.Pointer) vulkan.Bool32 {
			level := slog.LevelWarn
			if flags&vulkan.DebugReportFlags(vulkan.DebugReportErrorBit) != 0 {
				level = slog.LevelError
			}
			d.log.Log(context.Background(), level, "vulkan validation", "layer", layerPrefix, "code", messageCode, "message", message)
			return vulkan.False
		},
	}
	if res := vulkan.CreateDebugReportCallback(d.instance, &createInfo, nil, &d.debugCallback); res != vulkan.Success {
		return errors.Wrap(vulkan.Error(res), "create debug callback")
	}
	return nil
}

func (d *vkDevice) createSurface() error {
	surfacePtr, err := d.window.CreateWindowSurface(d.instance, nil)
	if err != nil {
		return errors.Wrap(err, "create window surface")
	}
	d.surface = vulkan.SurfaceFromPointer(surfacePtr)
	return nil
}

// pickPhysicalDevice takes the highest scoring device that can draw to the
// window surface and hold the parameter block in push constants.
func (d *vkDevice) pickPhysicalDevice() error {
	var count uint32
	if res := vulkan.EnumeratePhysicalDevices(d.instance, &count, nil); res != vulkan.Success || count == 0 {
		return errors.Errorf("enumerate physical devices: %v (count %d)", vulkan.Error(res), count)
	}
	devices := make([]vulkan.PhysicalDevice, count)
	if res := vulkan.EnumeratePhysicalDevices(d.instance, &count, devices); res != vulkan.Success {
		return errors.Wrap(vulkan.Error(res), "enumerate physical devices list")
	}

	var (
		selected       vulkan.PhysicalDevice
		selectedQueues queueFamilyIndices
		selectedName   string
		found          bool
	)
	bestScore := int32(-1)
	for _, dev := range devices {
		q := d.findQueueFamilies(dev)
		if !q.hasGraphics || !q.hasPresent {
			continue
		}
		if !deviceExtensionsSupported(dev) {
			continue
		}
		support := d.querySwapchainSupport(dev)
		if len(support.formats) == 0 || len(support.presentModes) == 0 {
			continue
		}
		score, name, pushLimit := deviceScore(dev)
		if pushLimit < shading.FrameParamsSize {
			d.log.Debug("device push constant space too small", "device", name, "limit", pushLimit)
			continue
		}
		if score > bestScore {
			bestScore = score
			selected = dev
			selectedQueues = q
			selectedName = name
			found = true
		}
	}
	if !found {
		return errors.New("no suitable GPU found")
	}

	d.physicalDevice = selected
	d.queues = selectedQueues
	d.log.Info("gpu selected", "device", selectedName, "score", bestScore)
	return nil
}

// deviceScore ranks discrete over integrated over virtual over cpu devices.
func deviceScore(device vulkan.PhysicalDevice) (score int32, name string, pushLimit uint32) {
	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(device, &props)
	props.Deref()
	props.Limits.Deref()

	switch props.DeviceType {
	case vulkan.PhysicalDeviceTypeDiscreteGpu:
		score = 1000
	case vulkan.PhysicalDeviceTypeIntegratedGpu:
		score = 500
	case vulkan.PhysicalDeviceTypeVirtualGpu:
		score = 200
	case vulkan.PhysicalDeviceTypeCpu:
		score = 100
	}
	return score, vulkan.ToString(props.DeviceName[:]), props.Limits.MaxPushConstantsSize
}

func deviceExtensionsSupported(device vulkan.PhysicalDevice) bool {
	var count uint32
	if res := vulkan.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vulkan.Success {
		return false
	}
	props := make([]vulkan.ExtensionProperties, count)
	if res := vulkan.EnumerateDeviceExtensionProperties(device, "", &count, props); res != vulkan.Success {
		return false
	}
	names := make([]string, 0, len(props))
	for i := range props {
		props[i].Deref()
		names = append(names, vulkan.ToString(props[i].ExtensionName[:]))
	}
	return containsAll(names, deviceExtensions)
}

func (d *vkDevice) findQueueFamilies(device vulkan.PhysicalDevice) queueFamilyIndices {
	var count uint32
	vulkan.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	props := make([]vulkan.QueueFamilyProperties, count)
	vulkan.GetPhysicalDeviceQueueFamilyProperties(device, &count, props)

	var indices queueFamilyIndices
	for i := range props {
		props[i].Deref()
		if props[i].QueueFlags&vulkan.QueueFlags(vulkan.QueueGraphicsBit) != 0 {
			indices.graphicsFamily = uint32(i)
			indices.hasGraphics = true
		}
		var supported vulkan.Bool32
		vulkan.GetPhysicalDeviceSurfaceSupport(device, uint32(i), d.surface, &supported)
		if supported == vulkan.True {
			indices.presentFamily = uint32(i)
			indices.hasPresent = true
		}
		if indices.hasGraphics && indices.hasPresent {
			break
		}
	}
	return indices
}

func (d *vkDevice) createLogicalDevice() error {
	var queueInfos []vulkan.DeviceQueueCreateInfo
	uniqueFamilies := map[uint32]bool{
		d.queues.graphicsFamily: true,
		d.queues.presentFamily:  true,
	}
	for family := range uniqueFamilies {
		queueInfos = append(queueInfos, vulkan.DeviceQueueCreateInfo{
			SType:            vulkan.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	createInfo := vulkan.DeviceCreateInfo{
		SType:                   vulkan.StructureTypeDeviceCreateInfo,
		PQueueCreateInfos:       queueInfos,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PEnabledFeatures:        []vulkan.PhysicalDeviceFeatures{{}},
		PpEnabledExtensionNames: deviceExtensions,
		EnabledExtensionCount:   uint32(len(deviceExtensions)),
	}
	if d.cfg.validation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = validationLayers
	}

	if res := vulkan.CreateDevice(d.physicalDevice, &createInfo, nil, &d.device); res != vulkan.Success {
		return errors.Wrap(vulkan.Error(res), "create logical device")
	}

	vulkan.GetDeviceQueue(d.device, d.queues.graphicsFamily, 0, &d.graphicsQueue)
	vulkan.GetDeviceQueue(d.device, d.queues.presentFamily, 0, &d.presentQueue)
	return nil
}

func (d *vkDevice) createCommandPool() error {
	poolInfo := vulkan.CommandPoolCreateInfo{
		SType:            vulkan.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queues.graphicsFamily,
		Flags:            vulkan.CommandPoolCreateFlags(vulkan.CommandPoolCreateTransientBit),
	}
	if res := vulkan.CreateCommandPool(d.device, &poolInfo, nil, &d.commandPool); res != vulkan.Success {
		return errors.Wrap(vulkan.Error(res), "create command pool")
	}
	return nil
}

// WaitIdle blocks until the device has finished all submitted work.
func (d *vkDevice) WaitIdle() error {
	if res := vulkan.DeviceWaitIdle(d.device); res != vulkan.Success {
		return errors.Wrap(vulkan.Error(res), "device wait idle")
	}
	return nil
}

// Cleanup destroys the device level objects. Swapchains, framebuffers and
// per-frame objects must already be released.
func (d *vkDevice) Cleanup() {
	if d.device != vulkan.Device(vulkan.NullHandle) {
		vulkan.DeviceWaitIdle(d.device)
		if d.commandPool != vulkan.CommandPool(vulkan.NullHandle) {
			vulkan.DestroyCommandPool(d.device, d.commandPool, nil)
		}
		if d.vertexBuffer != vulkan.Buffer(vulkan.NullHandle) {
			vulkan.DestroyBuffer(d.device, d.vertexBuffer, nil)
		}
		if d.vertexBufferMemory != vulkan.DeviceMemory(vulkan.NullHandle) {
			vulkan.FreeMemory(d.device, d.vertexBufferMemory, nil)
		}
		if d.pipeline != vulkan.Pipeline(vulkan.NullHandle) {
			vulkan.DestroyPipeline(d.device, d.pipeline, nil)
		}
		if d.layout != vulkan.PipelineLayout(vulkan.NullHandle) {
			vulkan.DestroyPipelineLayout(d.device, d.layout, nil)
		}
		if d.renderPass != vulkan.RenderPass(vulkan.NullHandle) {
			vulkan.DestroyRenderPass(d.device, d.renderPass, nil)
		}
		vulkan.DestroyDevice(d.device, nil)
	}
	if d.debugCallback != vulkan.DebugReportCallback(vulkan.NullHandle) {
		vulkan.DestroyDebugReportCallback(d.instance, d.debugCallback, nil)
	}
	if d.surface != vulkan.Surface(vulkan.NullHandle) {
		vulkan.DestroySurface(d.instance, d.surface, nil)
	}
	if d.instance != vulkan.Instance(vulkan.NullHandle) {
		vulkan.DestroyInstance(d.instance, nil)
	}
}

// safeString terminates s for the C side.
func safeString(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

func containsAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[strings.TrimRight(h, "\x00")] = true
	}
	for _, w := range want {
		if !set[strings.TrimRight(w, "\x00")] {
			return false
		}
	}
	return true
}
