// Package upstream runs the capture pump: it reads fixed-size blocks from
// the local microphone and forwards each as an AudioOnlyClient frame until
// cancelled. No Opus encoding, AEC, AGC, VAD, or noise-gate processing is
// applied — just the raw little-endian PCM the wire protocol expects.
package upstream

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"

	"github.com/Austin-Patrician/realtimedialog-go/internal/codec"
)

// Sender is satisfied by *transport.Transport; declared here so this package
// does not depend on the transport package directly.
type Sender interface {
	Send([]byte) error
}

// Capture is a single input device.
type Capture interface {
	Read() ([]int16, error)
	Close() error
}

// Pump owns one capture device and re-encodes each block it reads as an
// upstream wire frame.
type Pump struct {
	capture   Capture
	codec     *codec.Codec
	sender    Sender
	sessionID string
}

// New builds a Pump. c must already have Raw serialization selected — the
// session controller owns that switch since it is shared with the
// downstream pump's codec instance only insofar as both start in Raw mode
// for the steady state.
func New(capture Capture, c *codec.Codec, sender Sender, sessionID string) *Pump {
	return &Pump{capture: capture, codec: c, sender: sender, sessionID: sessionID}
}

// Run blocks, reading and forwarding capture blocks until ctx is cancelled
// or a device read fails. On exit it closes the capture device and sends a
// FinishSession frame; the returned error is nil on an orderly
// cancellation.
func (p *Pump) Run(ctx context.Context) error {
	defer p.capture.Close()

	for {
		select {
		case <-ctx.Done():
			return p.finishSession()
		default:
		}

		block, err := p.capture.Read()
		if err != nil {
			log.Printf("[upstream] capture read failed: %v", err)
			if fErr := p.finishSession(); fErr != nil {
				log.Printf("[upstream] finish session after read error: %v", fErr)
			}
			return fmt.Errorf("upstream: capture read: %w", err)
		}

		payload := int16sToLE(block)
		msg := codec.Message{
			Type:      codec.AudioOnlyClient,
			Flags:     codec.FlagWithEvent,
			Event:     codec.EventAudioUpstream,
			SessionID: p.sessionID,
			Payload:   payload,
		}
		frame, err := p.codec.Encode(msg)
		if err != nil {
			return fmt.Errorf("upstream: encode: %w", err)
		}
		if err := p.sender.Send(frame); err != nil {
			return fmt.Errorf("upstream: send: %w", err)
		}
	}
}

func (p *Pump) finishSession() error {
	msg := codec.Message{
		Type:      codec.FullClient,
		Flags:     codec.FlagWithEvent,
		Event:     codec.EventFinishSession,
		SessionID: p.sessionID,
		Payload:   []byte("{}"),
	}
	frame, err := p.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("upstream: encode finish session: %w", err)
	}
	return p.sender.Send(frame)
}

func int16sToLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
