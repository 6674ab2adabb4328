package main

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vulkan-go/vulkan"

	"Marcher/internal/present"
)

type vkSemaphore struct {
	dev    *vkDevice
	handle vulkan.Semaphore
}

func (s *vkSemaphore) Destroy() {
	if s.handle != vulkan.Semaphore(vulkan.NullHandle) {
		vulkan.DestroySemaphore(s.dev.device, s.handle, nil)
		s.handle = vulkan.Semaphore(vulkan.NullHandle)
	}
}

type vkFence struct {
	dev    *vkDevice
	handle vulkan.Fence
}

func (f *vkFence) Signaled() (bool, error) {
	switch res := vulkan.GetFenceStatus(f.dev.device, f.handle); res {
	case vulkan.Success:
		return true, nil
	case vulkan.NotReady:
		return false, nil
	default:
		return false, errors.Wrap(vulkan.Error(res), "fence status")
	}
}

func (f *vkFence) Reset() error {
	if res := vulkan.ResetFences(f.dev.device, 1, []vulkan.Fence{f.handle}); res != vulkan.Success {
		return errors.Wrap(vulkan.Error(res), "reset fence")
	}
	return nil
}

func (f *vkFence) Destroy() {
	if f.handle != vulkan.Fence(vulkan.NullHandle) {
		vulkan.DestroyFence(f.dev.device, f.handle, nil)
		f.handle = vulkan.Fence(vulkan.NullHandle)
	}
}

type vkCommands struct {
	dev    *vkDevice
	handle vulkan.CommandBuffer
}

func (c *vkCommands) Free() {
	vulkan.FreeCommandBuffers(c.dev.device, c.dev.commandPool, 1, []vulkan.CommandBuffer{c.handle})
}

func (d *vkDevice) NewSemaphore() (present.Semaphore, error) {
	info := vulkan.SemaphoreCreateInfo{SType: vulkan.StructureTypeSemaphoreCreateInfo}
	s := &vkSemaphore{dev: d}
	if res := vulkan.CreateSemaphore(d.device, &info, nil, &s.handle); res != vulkan.Success {
		return nil, errors.Wrap(vulkan.Error(res), "create semaphore")
	}
	return s, nil
}

func (d *vkDevice) NewFence() (present.Fence, error) {
	info := vulkan.FenceCreateInfo{SType: vulkan.StructureTypeFenceCreateInfo}
	f := &vkFence{dev: d}
	if res := vulkan.CreateFence(d.device, &info, nil, &f.handle); res != vulkan.Success {
		return nil, errors.Wrap(vulkan.Error(res), "create fence")
	}
	return f, nil
}

// AcquireNextImage waits without timeout for the next presentable image.
func (d *vkDevice) AcquireNextImage(sc present.Swapchain, signal present.Semaphore) (uint32, bool, error) {
	var index uint32
	res := vulkan.AcquireNextImage(d.device, sc.(*vkSwapchain).handle, vulkan.MaxUint64, signal.(*vkSemaphore).handle, vulkan.Fence(vulkan.NullHandle), &index)
	switch res {
	case vulkan.Success:
		return index, false, nil
	case vulkan.Suboptimal:
		return index, true, nil
	case vulkan.ErrorOutOfDate:
		return 0, false, present.ErrOutOfDate
	default:
		return 0, false, errors.Wrap(vulkan.Error(res), "acquire next image")
	}
}

func (d *vkDevice) BeginCommands() (present.Recorder, error) {
	allocInfo := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPool,
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vulkan.CommandBuffer, 1)
	if res := vulkan.AllocateCommandBuffers(d.device, &allocInfo, buffers); res != vulkan.Success {
		return nil, errors.Wrap(vulkan.Error(res), "allocate command buffer")
	}
	cmd := &vkCommands{dev: d, handle: buffers[0]}

	beginInfo := vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
		Flags: vulkan.CommandBufferUsageFlags(vulkan.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vulkan.BeginCommandBuffer(cmd.handle, &beginInfo); res != vulkan.Success {
		cmd.Free()
		return nil, errors.Wrap(vulkan.Error(res), "begin command buffer")
	}
	return &vkRecorder{dev: d, cmd: cmd}, nil
}

// vkRecorder writes straight into the command buffer; End reports any
// failure.
type vkRecorder struct {
	dev *vkDevice
	cmd *vkCommands
}

func (r *vkRecorder) BeginRenderPass(fb present.Framebuffer, clear [4]float32) {
	f := fb.(*vkFramebuffer)
	clearValues := []vulkan.ClearValue{vulkan.NewClearValue(clear[:])}
	info := vulkan.RenderPassBeginInfo{
		SType:       vulkan.StructureTypeRenderPassBeginInfo,
		RenderPass:  r.dev.renderPass,
		Framebuffer: f.handle,
		RenderArea: vulkan.Rect2D{
			Offset: vulkan.Offset2D{X: 0, Y: 0},
			Extent: vulkan.Extent2D{Width: f.extent.Width, Height: f.extent.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vulkan.CmdBeginRenderPass(r.cmd.handle, &info, vulkan.SubpassContentsInline)
}

func (r *vkRecorder) BindPipeline() {
	vulkan.CmdBindPipeline(r.cmd.handle, vulkan.PipelineBindPointGraphics, r.dev.pipeline)
}

// SetViewport also sets a scissor covering the same area.
func (r *vkRecorder) SetViewport(vp present.Viewport) {
	vulkan.CmdSetViewport(r.cmd.handle, 0, 1, []vulkan.Viewport{{
		X:        vp.X,
		Y:        vp.Y,
		Width:    vp.Width,
		Height:   vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}})
	e := vp.Extent()
	vulkan.CmdSetScissor(r.cmd.handle, 0, 1, []vulkan.Rect2D{{
		Offset: vulkan.Offset2D{X: int32(vp.X), Y: int32(vp.Y)},
		Extent: vulkan.Extent2D{Width: e.Width, Height: e.Height},
	}})
}

func (r *vkRecorder) PushConstants(data []byte) {
	if len(data) == 0 {
		return
	}
	vulkan.CmdPushConstants(r.cmd.handle, r.dev.layout, pushStages, 0, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (r *vkRecorder) BindVertexBuffer() {
	vulkan.CmdBindVertexBuffers(r.cmd.handle, 0, 1, []vulkan.Buffer{r.dev.vertexBuffer}, []vulkan.DeviceSize{0})
}

func (r *vkRecorder) Draw(vertexCount uint32) {
	vulkan.CmdDraw(r.cmd.handle, vertexCount, 1, 0, 0)
}

func (r *vkRecorder) EndRenderPass() {
	vulkan.CmdEndRenderPass(r.cmd.handle)
}

func (r *vkRecorder) End() (present.CommandBuffer, error) {
	if res := vulkan.EndCommandBuffer(r.cmd.handle); res != vulkan.Success {
		r.cmd.Free()
		return nil, errors.Wrap(vulkan.Error(res), "end command buffer")
	}
	return r.cmd, nil
}

func stageMask(s present.Stage) vulkan.PipelineStageFlags {
	if s == present.StageColorOutput {
		return vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit)
	}
	return vulkan.PipelineStageFlags(vulkan.PipelineStageAllCommandsBit)
}

func semaphoreHandles(sems []present.Semaphore) []vulkan.Semaphore {
	handles := make([]vulkan.Semaphore, len(sems))
	for i, s := range sems {
		handles[i] = s.(*vkSemaphore).handle
	}
	return handles
}

func (d *vkDevice) Submit(s present.Submission) error {
	waitSems := make([]vulkan.Semaphore, len(s.Waits))
	waitStages := make([]vulkan.PipelineStageFlags, len(s.Waits))
	for i, w := range s.Waits {
		waitSems[i] = w.Semaphore.(*vkSemaphore).handle
		waitStages[i] = stageMask(w.Stage)
	}
	submitInfo := vulkan.SubmitInfo{
		SType:                vulkan.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waitSems)),
		PWaitSemaphores:      waitSems,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vulkan.CommandBuffer{s.Commands.(*vkCommands).handle},
		SignalSemaphoreCount: uint32(len(s.Signals)),
		PSignalSemaphores:    semaphoreHandles(s.Signals),
	}
	fence := vulkan.Fence(vulkan.NullHandle)
	if s.Fence != nil {
		fence = s.Fence.(*vkFence).handle
	}
	if res := vulkan.QueueSubmit(d.graphicsQueue, 1, []vulkan.SubmitInfo{submitInfo}, fence); res != vulkan.Success {
		return errors.Wrap(vulkan.Error(res), "queue submit")
	}
	return nil
}

func (d *vkDevice) Present(sc present.Swapchain, index uint32, waits []present.Semaphore) (bool, error) {
	presentInfo := vulkan.PresentInfo{
		SType:              vulkan.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waits)),
		PWaitSemaphores:    semaphoreHandles(waits),
		SwapchainCount:     1,
		PSwapchains:        []vulkan.Swapchain{sc.(*vkSwapchain).handle},
		PImageIndices:      []uint32{index},
	}
	switch res := vulkan.QueuePresent(d.presentQueue, &presentInfo); res {
	case vulkan.Success:
		return false, nil
	case vulkan.Suboptimal:
		return true, nil
	case vulkan.ErrorOutOfDate:
		return false, present.ErrOutOfDate
	default:
		return false, errors.Wrap(vulkan.Error(res), "queue present")
	}
}
