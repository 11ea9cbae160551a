// Package session drives the duplex session state machine: handshake,
// steady-state streaming, the probabilistic ChatTTSText interjection, and
// shutdown (spec §4.7). Grounded on the teacher's Transport.Connect /
// StartReceiving orchestration in client/transport.go — a context-cancelled
// goroutine group around a handshake performed with plain blocking
// request/response calls before the steady-state pumps start.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Austin-Patrician/realtimedialog-go/internal/codec"
	"github.com/Austin-Patrician/realtimedialog-go/internal/dialogconfig"
	"github.com/Austin-Patrician/realtimedialog-go/internal/dialogstate"
	"github.com/Austin-Patrician/realtimedialog-go/internal/downstream"
	"github.com/Austin-Patrician/realtimedialog-go/internal/upstream"
)

// silencePromptInterval is how long the steady-state timer waits for a query
// signal before re-greeting (spec §4.7 "Steady state").
const silencePromptInterval = 30 * time.Second

// chatTTSTextRoundGap is the pause between the two ChatTTSText rounds
// (spec §4.7 step 3).
const chatTTSTextRoundGap = 10 * time.Second

// Conn is the duplex connection the controller drives. *transport.Transport
// satisfies it.
type Conn interface {
	Send([]byte) error
	Receive() ([]byte, error)
	Close() error
}

// Playback is the sink for decoded downstream audio. *playback.Buffer
// satisfies it.
type Playback interface {
	PushBytes([]byte)
	SetSuppressed(bool)
	Flush()
}

// Diagnostic is satisfied by *playback.Buffer alongside Playback; kept
// separate so the dump call reads clearly at the call site.
type Diagnostic interface {
	DumpDiagnostic(path string) error
}

// Controller owns one end-to-end dialog session: one connection, one active
// session at a time.
type Controller struct {
	conn     Conn
	codec    *codec.Codec
	state    *dialogstate.State
	capture  upstream.Capture
	playback Playback

	profile        dialogconfig.Profile
	diagnosticPath string

	connectID string
	sessionID string

	connFinished chan struct{}

	// ttsBursts counts completed ChatTTSText sequences, for logging/testing
	// visibility.
	mu                    sync.Mutex
	ttsBursts             int
	randFloat64           func() float64
	ttsRoundGap           time.Duration
	silencePromptInterval time.Duration
}

// New builds a Controller. capture may be nil if the caller only wants to
// exercise the handshake/steady-state orchestration without a real audio
// device (tests do this).
func New(conn Conn, c *codec.Codec, state *dialogstate.State, capture upstream.Capture, playback Playback, profile dialogconfig.Profile, diagnosticPath string) *Controller {
	return &Controller{
		conn:                  conn,
		codec:                 c,
		state:                 state,
		capture:               capture,
		playback:              playback,
		profile:               profile,
		diagnosticPath:        diagnosticPath,
		randFloat64:           rand.Float64,
		ttsRoundGap:           chatTTSTextRoundGap,
		silencePromptInterval: silencePromptInterval,
		connFinished:          make(chan struct{}, 1),
	}
}

// connFinishedWait is how long shutdown waits for a ConnectionFinished ack
// before giving up and closing the transport anyway.
const connFinishedWait = 5 * time.Second

// Run performs the full handshake → steady state → shutdown lifecycle. It
// blocks until ctx is cancelled or an unrecoverable error occurs.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.handshake(ctx); err != nil {
		return fmt.Errorf("session: handshake: %w", err)
	}

	steadyCtx, cancelSteady := context.WithCancel(ctx)
	var wg sync.WaitGroup

	if c.capture != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pump := upstream.New(c.capture, c.codec, c.conn, c.sessionID)
			if err := pump.Run(steadyCtx); err != nil {
				log.Printf("[session] upstream pump exited: %v", err)
			}
		}()
	}

	// The downstream pump is deliberately NOT parented to steadyCtx: it owns
	// the connection's single Receive consumer for the whole lifetime of
	// Run, including the FinishConnection handshake in shutdown. It stops
	// either when Receive itself errors (shutdown closing the transport) or
	// when the server signals the end of the session on its own — a
	// SessionFinished/SessionFailed event or an Error frame (spec §4.6,
	// §7) — which is the normal server-initiated termination path.
	downDone := make(chan error, 1)
	go func() {
		downDone <- c.runDownstream()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.silencePromptTimer(steadyCtx)
	}()

	// downDone is read at most once here; shutdown is told via
	// downstreamExited whether it has already been drained so it never
	// selects on an already-empty channel.
	downstreamExited := false
	select {
	case <-ctx.Done():
	case err := <-downDone:
		downstreamExited = true
		log.Printf("[session] downstream pump exited early: %v", err)
	}

	cancelSteady()
	wg.Wait()

	return c.shutdown(downDone, downstreamExited)
}

// handshake performs StartConnection → StartSession → SayHello (spec §4.4).
func (c *Controller) handshake(ctx context.Context) error {
	if err := c.send(codec.Message{
		Type:    codec.FullClient,
		Flags:   codec.FlagWithEvent,
		Event:   codec.EventStartConnection,
		Payload: []byte("{}"),
	}); err != nil {
		return fmt.Errorf("send StartConnection: %w", err)
	}
	started, err := c.awaitOneOf(codec.EventConnectionStarted, codec.EventConnectionFailed)
	if err != nil {
		return fmt.Errorf("await ConnectionStarted: %w", err)
	}
	if started.Event == codec.EventConnectionFailed {
		return fmt.Errorf("connection failed: %s", started.Payload)
	}
	c.connectID = started.ConnectID

	c.sessionID = uuid.NewString()
	payload, err := c.profile.SessionConfigPayload()
	if err != nil {
		return fmt.Errorf("build session config payload: %w", err)
	}
	if err := c.send(codec.Message{
		Type:      codec.FullClient,
		Flags:     codec.FlagWithEvent,
		Event:     codec.EventStartSession,
		SessionID: c.sessionID,
		Payload:   payload,
	}); err != nil {
		return fmt.Errorf("send StartSession: %w", err)
	}
	sessionStarted, err := c.awaitOneOf(codec.EventSessionStarted, codec.EventSessionFailed)
	if err != nil {
		return fmt.Errorf("await SessionStarted: %w", err)
	}
	if sessionStarted.Event == codec.EventSessionFailed {
		return fmt.Errorf("session failed: %s", sessionStarted.Payload)
	}
	dialogID := parseDialogID(sessionStarted.Payload)
	c.state.SetDialogID(dialogID)

	hello, err := c.profile.SayHelloPayload(c.profile.Greeting)
	if err != nil {
		return fmt.Errorf("build SayHello payload: %w", err)
	}
	if err := c.send(codec.Message{
		Type:      codec.FullClient,
		Flags:     codec.FlagWithEvent,
		Event:     codec.EventSayHello,
		SessionID: c.sessionID,
		Payload:   hello,
	}); err != nil {
		return fmt.Errorf("send SayHello: %w", err)
	}

	c.codec.UseRawSerialization()
	return nil
}

// awaitOneOf blocks on Receive until a decoded FullServer message carries
// one of the given events, skipping and logging anything else (including
// malformed frames) along the way.
func (c *Controller) awaitOneOf(events ...int32) (codec.Message, error) {
	for {
		frame, err := c.conn.Receive()
		if err != nil {
			return codec.Message{}, fmt.Errorf("receive: %w", err)
		}
		msg, err := c.codec.Decode(frame)
		if err != nil {
			log.Printf("[session] dropping unparseable handshake frame: %v", err)
			continue
		}
		if msg.Type == codec.TypeError {
			return codec.Message{}, fmt.Errorf("server error frame: code=%d", msg.ErrorCode)
		}
		for _, e := range events {
			if msg.Event == e {
				return msg, nil
			}
		}
		log.Printf("[session] ignoring unexpected handshake frame: type=%v event=%d", msg.Type, msg.Event)
	}
}

// runDownstream runs the dispatch pump for the lifetime of the connection.
// It returns when Receive itself errors (the transport was closed, or the
// peer reset the connection), or when the server ends the session on its
// own — SessionFinished (nil error), SessionFailed, a server Error frame, or
// an unexpected frame type (all non-nil) — per spec §4.6/§7. Run's select
// on downDone treats any of these the same way: steady state unwinds and
// shutdown proceeds.
func (c *Controller) runDownstream() error {
	cb := downstream.Callbacks{
		OnSessionFinished: func() {
			log.Printf("[session] session finished by server")
		},
		OnSessionFailed: func(msg codec.Message) {
			log.Printf("[session] session failed: payload=%s", msg.Payload)
		},
		OnConnectionFinished: func() {
			log.Printf("[session] connection finished by server")
			select {
			case c.connFinished <- struct{}{}:
			default:
			}
		},
		OnTTSInfo: func(ttsType string) {
			if ttsType == "chat_tts_text" {
				c.playback.Flush()
				c.state.SetSendingChatTTSText(false)
				c.playback.SetSuppressed(false)
			}
		},
		OnASRInfo: func() {
			c.playback.Flush()
			c.state.SignalQuery()
			c.state.SetUserQuerying(true)
		},
		OnUserQueryFinished: func() {
			c.state.SetUserQuerying(false)
			if c.randFloat64() < 0.5 {
				go c.sendChatTTSTextSequence()
			}
		},
		OnAudio: func(payload []byte) {
			// Buffer.PushBytes itself no-ops while suppressed (spec §4.4); the
			// state flag and the buffer's own suppression flag are kept in
			// lockstep by sendChatTTSTextSequence/OnTTSInfo above.
			c.playback.PushBytes(payload)
		},
		OnProtocolError: func(msg codec.Message) {
			log.Printf("[session] protocol error frame: code=%d", msg.ErrorCode)
		},
	}
	pump := downstream.New(c.conn, c.codec, cb)
	return pump.Run()
}

// silencePromptTimer re-greets after silencePromptInterval (30s by default)
// of silence, restarting on every query signal or re-greeting (spec §4.7
// "Steady state"). The re-greeting is skipped while userQuerying is true
// (spec §3 invariants: "A silence-prompt greeting is sent only while ...
// userQuerying = false"), which matters for utterances that outlast the
// interval.
func (c *Controller) silencePromptTimer(ctx context.Context) {
	timer := time.NewTimer(c.silencePromptInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.state.QuerySignal():
			log.Printf("[session] query signal received, restarting silence timer")
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(c.silencePromptInterval)
		case <-timer.C:
			if c.state.UserQuerying() {
				log.Printf("[session] silence prompt skipped: user is mid-query")
			} else if payload, err := c.profile.SayHelloPayload(c.profile.FollowUpGreeting); err != nil {
				log.Printf("[session] build follow-up greeting: %v", err)
			} else if err := c.send(codec.Message{
				Type:      codec.FullClient,
				Flags:     codec.FlagWithEvent,
				Event:     codec.EventSayHello,
				SessionID: c.sessionID,
				Payload:   payload,
			}); err != nil {
				log.Printf("[session] send silence-prompt SayHello: %v", err)
			}
			timer.Reset(c.silencePromptInterval)
		}
	}
}

// sendChatTTSTextSequence sends the four-message ChatTTSText burst (spec
// §4.7). Aborts without sending if userQuerying is true.
func (c *Controller) sendChatTTSTextSequence() {
	if c.state.UserQuerying() {
		log.Printf("[session] ChatTTSText aborted: userQuerying is true")
		return
	}
	c.state.SetSendingChatTTSText(true)
	c.playback.SetSuppressed(true)
	c.codec.UseJSONSerialization()
	defer c.codec.UseRawSerialization()

	send := func(index int, start, end bool) bool {
		payload, err := c.profile.ChatTTSTextPayload(index, start, end)
		if err != nil {
			log.Printf("[session] build ChatTTSText payload: %v", err)
			c.state.SetSendingChatTTSText(false)
			c.playback.SetSuppressed(false)
			return false
		}
		if err := c.send(codec.Message{
			Type:      codec.FullClient,
			Flags:     codec.FlagWithEvent,
			Event:     codec.EventChatTTSText,
			SessionID: c.sessionID,
			Payload:   payload,
		}); err != nil {
			log.Printf("[session] send ChatTTSText: %v", err)
			c.state.SetSendingChatTTSText(false)
			c.playback.SetSuppressed(false)
			return false
		}
		return true
	}

	if !send(0, true, false) {
		return
	}
	if !send(1, false, true) {
		return
	}
	time.Sleep(c.ttsRoundGap)
	if !send(2, true, false) {
		return
	}
	if !send(3, false, true) {
		return
	}

	c.mu.Lock()
	c.ttsBursts++
	c.mu.Unlock()
}

// shutdown sends FinishSession (if applicable) then FinishConnection, waits
// up to connFinishedWait for the downstream pump to observe
// ConnectionFinished, closes the transport, and dumps the diagnostic PCM
// (spec §4.7 "Shutdown"). alreadyExited reports whether the caller has
// already drained downDone (the downstream pump ended on its own — e.g. a
// server-initiated SessionFinished, or the peer resetting the connection —
// before shutdown was even reached); when true, downDone must not be
// selected on again, since nothing will ever write to it a second time.
func (c *Controller) shutdown(downDone <-chan error, alreadyExited bool) error {
	if c.sessionID != "" {
		if err := c.send(codec.Message{
			Type:      codec.FullClient,
			Flags:     codec.FlagWithEvent,
			Event:     codec.EventFinishSession,
			SessionID: c.sessionID,
			Payload:   []byte("{}"),
		}); err != nil {
			log.Printf("[session] send FinishSession: %v", err)
		}
	}

	if err := c.send(codec.Message{
		Type:    codec.FullClient,
		Flags:   codec.FlagWithEvent,
		Event:   codec.EventFinishConnection,
		Payload: []byte("{}"),
	}); err != nil {
		log.Printf("[session] send FinishConnection: %v", err)
	} else if !alreadyExited {
		select {
		case <-c.connFinished:
		case <-downDone:
			log.Printf("[session] downstream pump exited before ConnectionFinished arrived")
			alreadyExited = true
		case <-time.After(connFinishedWait):
			log.Printf("[session] timed out waiting for ConnectionFinished")
		}
	}

	closeErr := c.conn.Close()
	if !alreadyExited {
		<-downDone // reap the dispatch goroutine: Close unblocks its Receive
	}

	if dg, ok := c.playback.(Diagnostic); ok {
		if err := dg.DumpDiagnostic(c.diagnosticPath); err != nil {
			log.Printf("[session] dump diagnostic PCM: %v", err)
		}
	}

	return closeErr
}

func (c *Controller) send(m codec.Message) error {
	frame, err := c.codec.Encode(m)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return c.conn.Send(frame)
}

func parseDialogID(payload []byte) string {
	var obj struct {
		DialogID string `json:"dialog_id"`
	}
	if err := json.Unmarshal(payload, &obj); err != nil {
		log.Printf("[session] malformed SessionStarted payload: %v", err)
		return ""
	}
	return obj.DialogID
}
