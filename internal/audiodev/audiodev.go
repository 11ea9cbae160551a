// Package audiodev wraps blocking PCM capture/playback device streams:
// device resolution, portaudio.OpenStream, and the Start/Stop sequencing
// that matters for not freeing a native stream object while a blocking
// Read/Write call may still be touching it — stripped to the two plain
// streams the wire protocol needs, with no Opus and no AEC/AGC/VAD/
// noise-gate processing.
package audiodev

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

const (
	// CaptureSampleRate and CaptureFrameSize describe the input stream:
	// 16 kHz, mono, 160-frame (10 ms) blocking reads of int16 PCM.
	CaptureSampleRate = 16000
	CaptureFrameSize  = 160

	// PlaybackSampleRate and PlaybackFrameSize describe the output stream:
	// 24 kHz, mono, 512-frame (~21 ms) blocking writes of float32 PCM.
	PlaybackSampleRate = 24000
	PlaybackFrameSize  = 512
)

// Initialize starts the underlying PortAudio host API. It must be called
// once before any stream is opened, and matched with Terminate on shutdown.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("audiodev: initialize: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio host API.
func Terminate() {
	portaudio.Terminate()
}

// paStream abstracts a PortAudio stream so tests can supply a fake device
// (teacher's paStream interface pattern in audio.go).
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

// CaptureStream is a blocking int16 PCM input device.
type CaptureStream struct {
	stream paStream
	buf    []int16
}

// OpenCaptureStream opens the default (or deviceID, if >= 0) input device
// at CaptureSampleRate/CaptureFrameSize.
func OpenCaptureStream(deviceID int) (*CaptureStream, error) {
	dev, err := resolveInputDevice(deviceID)
	if err != nil {
		return nil, err
	}
	buf := make([]int16, CaptureFrameSize)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      CaptureSampleRate,
		FramesPerBuffer: CaptureFrameSize,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("audiodev: open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("audiodev: start capture stream: %w", err)
	}
	return &CaptureStream{stream: stream, buf: buf}, nil
}

// Read blocks until one 160-sample block has been captured and returns it.
// The returned slice aliases the stream's internal buffer — copy it before
// the next Read if you need to retain it.
func (c *CaptureStream) Read() ([]int16, error) {
	if err := c.stream.Read(); err != nil {
		return nil, fmt.Errorf("audiodev: capture read: %w", err)
	}
	return c.buf, nil
}

// Close stops and releases the capture device.
func (c *CaptureStream) Close() error {
	if err := c.stream.Stop(); err != nil {
		return err
	}
	return c.stream.Close()
}

// PlaybackStream is a blocking float32 PCM output device.
type PlaybackStream struct {
	stream paStream
	buf    []float32
}

// OpenPlaybackStream opens the default (or deviceID, if >= 0) output device
// at PlaybackSampleRate/PlaybackFrameSize.
func OpenPlaybackStream(deviceID int) (*PlaybackStream, error) {
	dev, err := resolveOutputDevice(deviceID)
	if err != nil {
		return nil, err
	}
	buf := make([]float32, PlaybackFrameSize)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      PlaybackSampleRate,
		FramesPerBuffer: PlaybackFrameSize,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("audiodev: open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("audiodev: start playback stream: %w", err)
	}
	return &PlaybackStream{stream: stream, buf: buf}, nil
}

// Write blocks until the 512 samples in buf have drained to the device.
// len(buf) must equal PlaybackFrameSize.
func (p *PlaybackStream) Write(buf []float32) error {
	copy(p.buf, buf)
	if err := p.stream.Write(); err != nil {
		return fmt.Errorf("audiodev: playback write: %w", err)
	}
	return nil
}

// Close stops and releases the playback device.
func (p *PlaybackStream) Close() error {
	if err := p.stream.Stop(); err != nil {
		return err
	}
	return p.stream.Close()
}

// newCaptureStreamForTest builds a CaptureStream around an injected
// paStream, bypassing real device resolution. Used by tests only.
func newCaptureStreamForTest(s paStream, buf []int16) *CaptureStream {
	return &CaptureStream{stream: s, buf: buf}
}

// newPlaybackStreamForTest builds a PlaybackStream around an injected
// paStream, bypassing real device resolution. Used by tests only.
func newPlaybackStreamForTest(s paStream, buf []float32) *PlaybackStream {
	return &PlaybackStream{stream: s, buf: buf}
}

func resolveInputDevice(id int) (*portaudio.DeviceInfo, error) {
	if id < 0 {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if id >= len(devices) {
		return nil, fmt.Errorf("audiodev: input device index %d out of range", id)
	}
	return devices[id], nil
}

func resolveOutputDevice(id int) (*portaudio.DeviceInfo, error) {
	if id < 0 {
		return portaudio.DefaultOutputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if id >= len(devices) {
		return nil, fmt.Errorf("audiodev: output device index %d out of range", id)
	}
	return devices[id], nil
}
