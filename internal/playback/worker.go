package playback

import (
	"context"
	"fmt"
)

// Device is the blocking output stream the worker drains into; satisfied by
// *audiodev.PlaybackStream.
type Device interface {
	Write(buf []float32) error
}

// Worker pulls drained samples from a Buffer and pushes them to a Device at
// the device's fixed block size, until ctx is cancelled or a device write
// fails.
type Worker struct {
	buf       *Buffer
	device    Device
	blockSize int
}

// NewWorker builds a Worker. blockSize must match the device's fixed write
// size.
func NewWorker(buf *Buffer, device Device, blockSize int) *Worker {
	return &Worker{buf: buf, device: device, blockSize: blockSize}
}

// Run blocks, draining one block from buf and writing it to device on every
// iteration, until ctx is cancelled or the device write errors. Draining
// proceeds even when the buffer is empty — Buffer.Drain zero-fills the
// remainder — so the device's pacing, not the buffer's occupancy, drives
// the loop.
func (w *Worker) Run(ctx context.Context) error {
	block := make([]float32, w.blockSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		w.buf.Drain(block)
		if err := w.device.Write(block); err != nil {
			return fmt.Errorf("playback: device write: %w", err)
		}
	}
}
