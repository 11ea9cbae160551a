// Package downstream runs the single receive loop that decodes every frame
// from the service and dispatches it by (type, event) to the callbacks the
// session controller supplies (spec §4.6). Grounded on the teacher's
// message-dispatch switch in client/transport.go, generalized from its
// WebTransport stream-per-message model to this protocol's one-connection,
// length-delimited-frame model.
package downstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/Austin-Patrician/realtimedialog-go/internal/codec"
)

// Receiver is satisfied by *transport.Transport.
type Receiver interface {
	Receive() ([]byte, error)
}

// Callbacks are invoked synchronously from the dispatch loop as each frame
// arrives. A nil callback is simply skipped. None may block for long — the
// session controller owns any further orchestration (e.g. deciding whether
// to inject a ChatTTSText burst) outside of these calls.
type Callbacks struct {
	OnConnectionStarted  func(connectID string)
	OnConnectionFailed   func(msg codec.Message)
	OnConnectionFinished func()
	OnSessionStarted     func(dialogID string)
	OnSessionFinished    func()
	OnSessionFailed      func(msg codec.Message)
	OnTTSInfo            func(ttsType string)
	OnASRInfo            func()
	OnUserQueryFinished  func()
	OnAudio              func(payload []byte)
	OnProtocolError      func(msg codec.Message)
	OnUnknown            func(msg codec.Message)
}

// Pump owns the receive side of the duplex connection.
type Pump struct {
	receiver Receiver
	codec    *codec.Codec
	cb       Callbacks
}

// New builds a Pump.
func New(receiver Receiver, c *codec.Codec, cb Callbacks) *Pump {
	return &Pump{receiver: receiver, codec: c, cb: cb}
}

// Run blocks, dispatching frames until the loop terminates. Termination
// happens one of four ways (spec §4.6, §7): Receive returns a terminal
// error; the server sends SessionFinished (152), the normal end-of-dialog
// signal, in which case Run returns nil; the server sends SessionFailed
// (153) or a frame of type Error, in which case Run returns a non-nil
// error; or the server sends any other unexpected frame type, which is
// treated as a protocol violation. A frame that fails to decode with a
// *codec.DecodeError is logged and skipped and does not stop the loop.
// It does not take a context: the
// transport's Close unblocks a pending Receive, so the session controller
// can also stop this pump by closing the transport.
func (p *Pump) Run() error {
	for {
		frame, err := p.receiver.Receive()
		if err != nil {
			return fmt.Errorf("downstream: receive: %w", err)
		}
		msg, err := p.codec.Decode(frame)
		if err != nil {
			log.Printf("[downstream] dropping unparseable frame: %v", err)
			var decErr *codec.DecodeError
			if errors.As(err, &decErr) {
				continue
			}
			return fmt.Errorf("downstream: decode: %w", err)
		}
		if done, err := p.dispatch(msg); done {
			return err
		}
	}
}

// dispatch handles one decoded frame. The returned bool reports whether the
// pump should stop; when it is true, the returned error is what Run returns
// (nil for an orderly SessionFinished).
func (p *Pump) dispatch(msg codec.Message) (bool, error) {
	switch msg.Type {
	case codec.TypeError:
		log.Printf("[downstream] server error frame: code=%d payload=%s", msg.ErrorCode, msg.Payload)
		if p.cb.OnProtocolError != nil {
			p.cb.OnProtocolError(msg)
		}
		return true, fmt.Errorf("downstream: server error frame: code=%d", msg.ErrorCode)
	case codec.AudioOnlyServer:
		if p.cb.OnAudio != nil {
			p.cb.OnAudio(msg.Payload)
		}
		return false, nil
	case codec.FullServer:
		return p.dispatchFullServer(msg)
	default:
		log.Printf("[downstream] unexpected frame type %v", msg.Type)
		if p.cb.OnUnknown != nil {
			p.cb.OnUnknown(msg)
		}
		return true, fmt.Errorf("downstream: unexpected frame type %v", msg.Type)
	}
}

func (p *Pump) dispatchFullServer(msg codec.Message) (bool, error) {
	switch msg.Event {
	case codec.EventConnectionStarted:
		if p.cb.OnConnectionStarted != nil {
			p.cb.OnConnectionStarted(msg.ConnectID)
		}
	case codec.EventConnectionFailed:
		if p.cb.OnConnectionFailed != nil {
			p.cb.OnConnectionFailed(msg)
		}
	case codec.EventConnectionFinished:
		if p.cb.OnConnectionFinished != nil {
			p.cb.OnConnectionFinished()
		}
	case codec.EventSessionStarted:
		if p.cb.OnSessionStarted != nil {
			p.cb.OnSessionStarted(parseJSONField(msg.Payload, "dialog_id"))
		}
	case codec.EventSessionFinished:
		if p.cb.OnSessionFinished != nil {
			p.cb.OnSessionFinished()
		}
		return true, nil
	case codec.EventSessionFailed:
		if p.cb.OnSessionFailed != nil {
			p.cb.OnSessionFailed(msg)
		}
		return true, fmt.Errorf("downstream: session failed: %s", msg.Payload)
	case codec.EventTTSInfo:
		if p.cb.OnTTSInfo != nil {
			p.cb.OnTTSInfo(parseJSONField(msg.Payload, "tts_type"))
		}
	case codec.EventASRInfo:
		if p.cb.OnASRInfo != nil {
			p.cb.OnASRInfo()
		}
	case codec.EventUserQueryFinished:
		if p.cb.OnUserQueryFinished != nil {
			p.cb.OnUserQueryFinished()
		}
	default:
		log.Printf("[downstream] unrecognized FullServer event %d", msg.Event)
		if p.cb.OnUnknown != nil {
			p.cb.OnUnknown(msg)
		}
	}
	return false, nil
}

// parseJSONField extracts a single string field from a JSON object payload,
// returning "" on any parse failure or field absence. A parse failure is
// logged here; the callback receives the empty string and the pump keeps
// running.
func parseJSONField(payload []byte, field string) string {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		log.Printf("[downstream] malformed JSON payload: %v", err)
		return ""
	}
	v, _ := obj[field].(string)
	return v
}
