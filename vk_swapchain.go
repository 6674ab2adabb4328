package main

import (
	"math"

	"github.com/pkg/errors"
	"github.com/vulkan-go/vulkan"

	"Marcher/internal/present"
)

type vkSwapchain struct {
	dev    *vkDevice
	handle vulkan.Swapchain
	extent present.Extent
	images []vulkan.Image
	views  []vulkan.ImageView
}

func (s *vkSwapchain) Extent() present.Extent { return s.extent }
func (s *vkSwapchain) ImageCount() int        { return len(s.images) }

func (s *vkSwapchain) Destroy() {
	for _, view := range s.views {
		vulkan.DestroyImageView(s.dev.device, view, nil)
	}
	s.views = nil
	if s.handle != vulkan.Swapchain(vulkan.NullHandle) {
		vulkan.DestroySwapchain(s.dev.device, s.handle, nil)
		s.handle = vulkan.Swapchain(vulkan.NullHandle)
	}
}

type vkFramebuffer struct {
	dev    *vkDevice
	handle vulkan.Framebuffer
	extent present.Extent
}

func (f *vkFramebuffer) Extent() present.Extent { return f.extent }

func (f *vkFramebuffer) Destroy() {
	if f.handle != vulkan.Framebuffer(vulkan.NullHandle) {
		vulkan.DestroyFramebuffer(f.dev.device, f.handle, nil)
		f.handle = vulkan.Framebuffer(vulkan.NullHandle)
	}
}

var presentModes = map[vulkan.PresentMode]present.PresentMode{
	vulkan.PresentModeFifo:      present.PresentFifo,
	vulkan.PresentModeMailbox:   present.PresentMailbox,
	vulkan.PresentModeImmediate: present.PresentImmediate,
}

func vulkanPresentMode(m present.PresentMode) vulkan.PresentMode {
	for vk, pm := range presentModes {
		if pm == m {
			return vk
		}
	}
	return vulkan.PresentModeFifo
}

func (d *vkDevice) querySwapchainSupport(device vulkan.PhysicalDevice) swapchainSupport {
	var details swapchainSupport
	vulkan.GetPhysicalDeviceSurfaceCapabilities(device, d.surface, &details.capabilities)
	details.capabilities.Deref()
	details.capabilities.CurrentExtent.Deref()
	details.capabilities.MinImageExtent.Deref()
	details.capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	vulkan.GetPhysicalDeviceSurfaceFormats(device, d.surface, &formatCount, nil)
	if formatCount > 0 {
		details.formats = make([]vulkan.SurfaceFormat, formatCount)
		vulkan.GetPhysicalDeviceSurfaceFormats(device, d.surface, &formatCount, details.formats)
		for i := range details.formats {
			details.formats[i].Deref()
		}
	}

	var presentCount uint32
	vulkan.GetPhysicalDeviceSurfacePresentModes(device, d.surface, &presentCount, nil)
	if presentCount > 0 {
		details.presentModes = make([]vulkan.PresentMode, presentCount)
		vulkan.GetPhysicalDeviceSurfacePresentModes(device, d.surface, &presentCount, details.presentModes)
	}
	return details
}

// chooseSurfaceFormat fixes the color format for the lifetime of the device;
// the render pass is built against it.
func (d *vkDevice) chooseSurfaceFormat() error {
	formats := d.querySwapchainSupport(d.physicalDevice).formats
	if len(formats) == 0 {
		return errors.New("surface reports no formats")
	}
	d.surfaceFormat = formats[0]
	for _, f := range formats {
		if f.Format == vulkan.FormatB8g8r8a8Srgb && f.ColorSpace == vulkan.ColorSpaceSrgbNonlinear {
			d.surfaceFormat = f
			break
		}
	}
	return nil
}

func toFormat(f vulkan.SurfaceFormat) present.Format {
	return present.Format{Pixel: uint32(f.Format), ColorSpace: uint32(f.ColorSpace)}
}

// Capabilities lists the render pass format first so the surface picks it.
func (d *vkDevice) Capabilities() (present.Capabilities, error) {
	support := d.querySwapchainSupport(d.physicalDevice)
	caps := present.Capabilities{
		MinImageCount: support.capabilities.MinImageCount,
		MaxImageCount: support.capabilities.MaxImageCount,
		Formats:       []present.Format{toFormat(d.surfaceFormat)},
	}
	for _, f := range support.formats {
		if f.Format != d.surfaceFormat.Format || f.ColorSpace != d.surfaceFormat.ColorSpace {
			caps.Formats = append(caps.Formats, toFormat(f))
		}
	}
	for _, m := range support.presentModes {
		if pm, ok := presentModes[m]; ok {
			caps.PresentModes = append(caps.PresentModes, pm)
		}
	}
	return caps, nil
}

func chooseSwapExtent(caps vulkan.SurfaceCapabilities, want present.Extent) vulkan.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	lo, hi := caps.MinImageExtent, caps.MaxImageExtent
	return vulkan.Extent2D{
		Width:  clamp(want.Width, lo.Width, hi.Width),
		Height: clamp(want.Height, lo.Height, hi.Height),
	}
}

func (d *vkDevice) CreateSwapchain(info present.SwapchainInfo, old present.Swapchain) (present.Swapchain, error) {
	if info.Format != toFormat(d.surfaceFormat) {
		return nil, errors.Errorf("swapchain format %v does not match render pass format", info.Format)
	}
	support := d.querySwapchainSupport(d.physicalDevice)
	extent := chooseSwapExtent(support.capabilities, info.Extent)
	if extent.Width == 0 || extent.Height == 0 {
		return nil, errors.Errorf("surface extent %dx%d has no area", extent.Width, extent.Height)
	}

	oldHandle := vulkan.Swapchain(vulkan.NullHandle)
	if prev, ok := old.(*vkSwapchain); ok && prev != nil {
		oldHandle = prev.handle
	}

	createInfo := vulkan.SwapchainCreateInfo{
		SType:            vulkan.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    info.MinImageCount,
		ImageFormat:      d.surfaceFormat.Format,
		ImageColorSpace:  d.surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vulkan.ImageUsageFlags(vulkan.ImageUsageColorAttachmentBit),
		PreTransform:     support.capabilities.CurrentTransform,
		CompositeAlpha:   vulkan.CompositeAlphaOpaqueBit,
		PresentMode:      vulkanPresentMode(info.PresentMode),
		Clipped:          vulkan.True,
		OldSwapchain:     oldHandle,
	}
	if d.queues.graphicsFamily != d.queues.presentFamily {
		indices := []uint32{d.queues.graphicsFamily, d.queues.presentFamily}
		createInfo.ImageSharingMode = vulkan.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = uint32(len(indices))
		createInfo.PQueueFamilyIndices = indices
	} else {
		createInfo.ImageSharingMode = vulkan.SharingModeExclusive
	}

	sc := &vkSwapchain{
		dev:    d,
		extent: present.Extent{Width: extent.Width, Height: extent.Height},
	}
	if res := vulkan.CreateSwapchain(d.device, &createInfo, nil, &sc.handle); res != vulkan.Success {
		return nil, errors.Wrap(vulkan.Error(res), "create swapchain")
	}

	var count uint32
	vulkan.GetSwapchainImages(d.device, sc.handle, &count, nil)
	sc.images = make([]vulkan.Image, count)
	vulkan.GetSwapchainImages(d.device, sc.handle, &count, sc.images)

	for i, img := range sc.images {
		view, err := d.createImageView(img, d.surfaceFormat.Format)
		if err != nil {
			sc.Destroy()
			return nil, errors.Wrapf(err, "image view %d", i)
		}
		sc.views = append(sc.views, view)
	}
	return sc, nil
}

func (d *vkDevice) createImageView(image vulkan.Image, format vulkan.Format) (vulkan.ImageView, error) {
	viewInfo := vulkan.ImageViewCreateInfo{
		SType:    vulkan.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vulkan.ImageViewType2d,
		Format:   format,
		Components: vulkan.ComponentMapping{
			R: vulkan.ComponentSwizzleIdentity,
			G: vulkan.ComponentSwizzleIdentity,
			B: vulkan.ComponentSwizzleIdentity,
			A: vulkan.ComponentSwizzleIdentity,
		},
		SubresourceRange: vulkan.ImageSubresourceRange{
			AspectMask: vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vulkan.ImageView
	if res := vulkan.CreateImageView(d.device, &viewInfo, nil, &view); res != vulkan.Success {
		return vulkan.ImageView(vulkan.NullHandle), errors.Wrap(vulkan.Error(res), "create image view")
	}
	return view, nil
}

func (d *vkDevice) CreateFramebuffer(sc present.Swapchain, image int) (present.Framebuffer, error) {
	s, ok := sc.(*vkSwapchain)
	if !ok || image < 0 || image >= len(s.views) {
		return nil, errors.Errorf("no swapchain image %d", image)
	}
	createInfo := vulkan.FramebufferCreateInfo{
		SType:           vulkan.StructureTypeFramebufferCreateInfo,
		RenderPass:      d.renderPass,
		AttachmentCount: 1,
		PAttachments:    []vulkan.ImageView{s.views[image]},
		Width:           s.extent.Width,
		Height:          s.extent.Height,
		Layers:          1,
	}
	fb := &vkFramebuffer{dev: d, extent: s.extent}
	if res := vulkan.CreateFramebuffer(d.device, &createInfo, nil, &fb.handle); res != vulkan.Success {
		return nil, errors.Wrapf(vulkan.Error(res), "create framebuffer %d", image)
	}
	return fb, nil
}

func clamp(val, lo, hi uint32) uint32 {
	return min(max(val, lo), hi)
}
