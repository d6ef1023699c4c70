package gpu

import (
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// ReadTimeout bounds how long a staging read waits for the queue.
var ReadTimeout = 30 * time.Second

// EnsureGPU ensures the GPU context is initialized
func EnsureGPU() error {
	_, err := GetContext()
	return err
}

// UploadGrid stages a host occupancy grid into a device storage buffer.
// WGSL has no byte arrays, so the buffer is read by the kernel as packed
// u32 words; the length is padded up to a multiple of four.
func UploadGrid(c *Context, label string, cells []uint8) (*wgpu.Buffer, error) {
	size := (len(cells) + 3) &^ 3
	if uint64(size) > c.Limits.MaxStorageBufferBindingSize || uint64(size) > c.Limits.MaxBufferSize {
		return nil, fmt.Errorf("grid of %d bytes exceeds device buffer limits", size)
	}
	contents := cells
	if size != len(cells) {
		contents = make([]uint8, size)
		copy(contents, cells)
	}
	buf, err := c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: contents,
		Usage:    wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create grid buffer: %v", err)
	}
	return buf, nil
}

// NewCountBuffer creates a zeroed device array of n u32 counters.
func NewCountBuffer(c *Context, label string, n int) (*wgpu.Buffer, error) {
	buf, err := c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: wgpu.ToBytes(make([]uint32, n)),
		Usage:    wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create count buffer: %v", err)
	}
	return buf, nil
}

// ReadUint32 copies the first n words of buffer back to the host through
// a mappable staging buffer.
func ReadUint32(c *Context, buffer *wgpu.Buffer, n int) ([]uint32, error) {
	sizeBytes := uint64(n * 4)
	stagingBuf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "ReadStaging",
		Size:  sizeBytes,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create staging buffer: %v", err)
	}
	defer stagingBuf.Destroy()

	encoder, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %v", err)
	}
	encoder.CopyBufferToBuffer(buffer, 0, stagingBuf, 0, sizeBytes)
	cmd, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return nil, fmt.Errorf("failed to finish command: %v", err)
	}
	c.Queue.Submit(cmd)
	cmd.Release()

	done := make(chan struct{})
	var mapErr error
	err = stagingBuf.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, fmt.Errorf("MapAsync failed: %v", err)
	}

	// Poll(false) so a hung queue can still time out
	timeout := time.After(ReadTimeout)
Loop:
	for {
		c.Device.Poll(false, nil)
		select {
		case <-done:
			break Loop
		case <-timeout:
			return nil, fmt.Errorf("read timed out after %v", ReadTimeout)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return nil, mapErr
	}

	data := stagingBuf.GetMappedRange(0, uint(sizeBytes))
	if data == nil {
		return nil, fmt.Errorf("failed to get mapped range")
	}
	result := make([]uint32, n)
	copy(result, wgpu.FromBytes[uint32](data))
	stagingBuf.Unmap()
	return result, nil
}
