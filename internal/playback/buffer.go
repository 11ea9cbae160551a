// Package playback implements the jitter-buffered audio playback pipeline
// fed by downstream audio frames. It is a single flat ordered float32
// sample sequence rather than a per-sender sequence-numbered ring: the
// duplex session has exactly one remote speaker, so there is nothing to
// reorder by sender — only bound and flush.
package playback

import (
	"encoding/binary"
	"math"
	"os"
	"sync"
)

// Buffer decouples variable-rate downstream audio arrival from fixed-rate
// device playback. All operations are serialized by a single mutex so any
// worker may push, drain, or flush concurrently.
type Buffer struct {
	mu         sync.Mutex
	samples    []float32
	diagnostic []byte
	maxSamples int
	suppressed bool
}

// New returns a Buffer capped at sampleRateOut*100 samples.
func New(sampleRateOut int) *Buffer {
	return &Buffer{maxSamples: sampleRateOut * 100}
}

// SetSuppressed toggles the suppression flag. While suppressed, PushBytes
// is a no-op — used while a client-injected TTS burst (sendingChatTtsText)
// is in flight.
func (b *Buffer) SetSuppressed(v bool) {
	b.mu.Lock()
	b.suppressed = v
	b.mu.Unlock()
}

// PushBytes interprets data as a contiguous stream of little-endian
// float32 samples and appends them, dropping the oldest samples if the
// bound would be exceeded. The raw bytes are also appended to the
// diagnostic byte sequence. No-op while suppressed.
func (b *Buffer) PushBytes(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.suppressed {
		return
	}

	n := len(data) / 4
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		b.samples = append(b.samples, math.Float32frombits(bits))
	}
	if b.maxSamples > 0 && len(b.samples) > b.maxSamples {
		drop := len(b.samples) - b.maxSamples
		b.samples = b.samples[drop:]
	}
	b.diagnostic = append(b.diagnostic, data...)
}

// Drain copies up to len(into) samples into into in FIFO order, zero-fills
// the remainder, and removes the copied samples from the sequence.
func (b *Buffer) Drain(into []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := copy(into, b.samples)
	b.samples = b.samples[n:]
	for i := n; i < len(into); i++ {
		into[i] = 0
	}
}

// Flush empties both the sample sequence and the diagnostic byte sequence.
func (b *Buffer) Flush() {
	b.mu.Lock()
	b.samples = nil
	b.diagnostic = nil
	b.mu.Unlock()
}

// Len returns the current number of buffered samples. Exported for tests.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// DumpDiagnostic atomically writes the accumulated diagnostic byte sequence
// to path as raw PCM. No-op if the sequence is empty.
func (b *Buffer) DumpDiagnostic(path string) error {
	b.mu.Lock()
	data := b.diagnostic
	b.mu.Unlock()

	if len(data) == 0 {
		return nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
