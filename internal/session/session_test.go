package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Austin-Patrician/realtimedialog-go/internal/codec"
	"github.com/Austin-Patrician/realtimedialog-go/internal/dialogconfig"
	"github.com/Austin-Patrician/realtimedialog-go/internal/dialogstate"
)

// fakeConn is an in-memory Conn: sent frames are recorded, and incoming
// frames are delivered from a channel the test feeds. Closing it makes
// every pending/future Receive return an error, mirroring a real socket.
type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	inbox  chan []byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16)}
}

func (f *fakeConn) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("fakeConn: send after close")
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeConn) Receive() ([]byte, error) {
	frame, ok := <-f.inbox
	if !ok {
		return nil, errors.New("fakeConn: closed")
	}
	return frame, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.inbox)
	return nil
}

func (f *fakeConn) push(frame []byte) {
	f.inbox <- frame
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeConn) sentAt(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[i]
}

// fakePlayback implements Playback and Diagnostic for assertions.
type fakePlayback struct {
	mu         sync.Mutex
	pushed     int
	flushed    int
	suppressed bool
	dumpedPath string
	dumpCalled bool
}

func (p *fakePlayback) PushBytes(b []byte) {
	p.mu.Lock()
	p.pushed += len(b)
	p.mu.Unlock()
}
func (p *fakePlayback) SetSuppressed(v bool) {
	p.mu.Lock()
	p.suppressed = v
	p.mu.Unlock()
}
func (p *fakePlayback) Flush() {
	p.mu.Lock()
	p.flushed++
	p.mu.Unlock()
}
func (p *fakePlayback) DumpDiagnostic(path string) error {
	p.mu.Lock()
	p.dumpCalled = true
	p.dumpedPath = path
	p.mu.Unlock()
	return nil
}

func encodeMsg(t *testing.T, c *codec.Codec, m codec.Message) []byte {
	t.Helper()
	frame, err := c.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return frame
}

func newTestController(t *testing.T, conn *fakeConn, pb *fakePlayback) *Controller {
	t.Helper()
	c := codec.New()
	state := dialogstate.New()
	profile := dialogconfig.Default()
	ctrl := New(conn, c, state, nil, pb, profile, "/tmp/doesnotmatter.pcm")
	ctrl.ttsRoundGap = 10 * time.Millisecond
	ctrl.silencePromptInterval = 20 * time.Millisecond
	return ctrl
}

func TestHandshakeSendsExpectedFramesInOrder(t *testing.T) {
	conn := newFakeConn()
	pb := &fakePlayback{}
	ctrl := newTestController(t, conn, pb)

	// Feed handshake responses as the controller's handshake blocks on them.
	go func() {
		conn.push(encodeMsg(t, codec.New(), codec.Message{
			Type: codec.FullServer, Flags: codec.FlagWithEvent,
			Event: codec.EventConnectionStarted, ConnectID: "conn-xyz",
		}))
		conn.push(encodeMsg(t, codec.New(), codec.Message{
			Type: codec.FullServer, Flags: codec.FlagWithEvent,
			Event: codec.EventSessionStarted, SessionID: "ignored",
			Payload: []byte(`{"dialog_id":"dlg-abc"}`),
		}))
	}()

	if err := ctrl.handshake(context.Background()); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	if ctrl.connectID != "conn-xyz" {
		t.Fatalf("expected connectID conn-xyz, got %q", ctrl.connectID)
	}
	if ctrl.sessionID == "" {
		t.Fatal("expected a generated session id")
	}

	decodeCodec := codec.New()
	if got := conn.sentCount(); got != 3 {
		t.Fatalf("expected 3 frames sent (StartConnection, StartSession, SayHello), got %d", got)
	}
	m0, err := decodeCodec.Decode(conn.sentAt(0))
	if err != nil {
		t.Fatalf("decode frame 0: %v", err)
	}
	if m0.Event != codec.EventStartConnection {
		t.Fatalf("expected StartConnection first, got event %d", m0.Event)
	}
	m1, err := decodeCodec.Decode(conn.sentAt(1))
	if err != nil {
		t.Fatalf("decode frame 1: %v", err)
	}
	if m1.Event != codec.EventStartSession || m1.SessionID != ctrl.sessionID {
		t.Fatalf("unexpected StartSession frame: %+v", m1)
	}
	m2, err := decodeCodec.Decode(conn.sentAt(2))
	if err != nil {
		t.Fatalf("decode frame 2: %v", err)
	}
	if m2.Event != codec.EventSayHello {
		t.Fatalf("expected SayHello third, got event %d", m2.Event)
	}
}

func TestHandshakeFailsOnConnectionFailed(t *testing.T) {
	conn := newFakeConn()
	pb := &fakePlayback{}
	ctrl := newTestController(t, conn, pb)

	go func() {
		conn.push(encodeMsg(t, codec.New(), codec.Message{
			Type: codec.FullServer, Flags: codec.FlagWithEvent,
			Event: codec.EventConnectionFailed, Payload: []byte(`{"reason":"bad key"}`),
		}))
	}()

	if err := ctrl.handshake(context.Background()); err == nil {
		t.Fatal("expected handshake to fail")
	}
}

func TestChatTTSTextSequenceAbortsWhenUserQuerying(t *testing.T) {
	conn := newFakeConn()
	pb := &fakePlayback{}
	ctrl := newTestController(t, conn, pb)
	ctrl.sessionID = "sess-1"
	ctrl.state.SetUserQuerying(true)

	ctrl.sendChatTTSTextSequence()

	if conn.sentCount() != 0 {
		t.Fatalf("expected no frames sent while userQuerying, got %d", conn.sentCount())
	}
	if ctrl.state.SendingChatTTSText() {
		t.Fatal("expected sendingChatTtsText to remain false")
	}
}

func TestChatTTSTextSequenceSendsFourFramesInOrder(t *testing.T) {
	conn := newFakeConn()
	pb := &fakePlayback{}
	ctrl := newTestController(t, conn, pb)
	ctrl.sessionID = "sess-1"

	ctrl.sendChatTTSTextSequence()

	if got := conn.sentCount(); got != 4 {
		t.Fatalf("expected 4 ChatTTSText frames, got %d", got)
	}
	dec := codec.New()
	dec.UseJSONSerialization()
	var payloads []struct {
		Start   bool   `json:"start"`
		End     bool   `json:"end"`
		Content string `json:"content"`
	}
	for i := 0; i < 4; i++ {
		m, err := dec.Decode(conn.sentAt(i))
		if err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}
		if m.Event != codec.EventChatTTSText {
			t.Fatalf("frame %d: expected ChatTTSText event, got %d", i, m.Event)
		}
		var p struct {
			Start   bool   `json:"start"`
			End     bool   `json:"end"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			t.Fatalf("unmarshal payload %d: %v", i, err)
		}
		payloads = append(payloads, p)
	}
	if !payloads[0].Start || payloads[0].End {
		t.Fatalf("frame 0 should be start-only: %+v", payloads[0])
	}
	if payloads[1].Start || !payloads[1].End {
		t.Fatalf("frame 1 should be end-only: %+v", payloads[1])
	}
	if !payloads[2].Start || payloads[2].End {
		t.Fatalf("frame 2 should be start-only: %+v", payloads[2])
	}
	if payloads[3].Start || !payloads[3].End {
		t.Fatalf("frame 3 should be end-only: %+v", payloads[3])
	}
}

func TestRunFullLifecycleWithImmediateCancel(t *testing.T) {
	conn := newFakeConn()
	pb := &fakePlayback{}
	ctrl := newTestController(t, conn, pb)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	// Satisfy the handshake, then cancel to unwind the steady state, then
	// deliver ConnectionFinished so shutdown's FinishConnection wait ends
	// cleanly.
	conn.push(encodeMsg(t, codec.New(), codec.Message{
		Type: codec.FullServer, Flags: codec.FlagWithEvent,
		Event: codec.EventConnectionStarted, ConnectID: "conn-1",
	}))
	conn.push(encodeMsg(t, codec.New(), codec.Message{
		Type: codec.FullServer, Flags: codec.FlagWithEvent,
		Event: codec.EventSessionStarted, Payload: []byte(`{"dialog_id":"dlg-1"}`),
	}))

	// Give the handshake a moment to complete and steady state to start.
	time.Sleep(20 * time.Millisecond)
	cancel()

	rawCodec := codec.New()
	rawCodec.UseRawSerialization()
	conn.push(encodeMsg(t, rawCodec, codec.Message{
		Type: codec.FullServer, Flags: codec.FlagWithEvent,
		Event: codec.EventConnectionFinished,
	}))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return in time")
	}

	if !pb.dumpCalled {
		t.Fatal("expected diagnostic dump on shutdown")
	}
}

// TestRunTerminatesOnServerInitiatedSessionFinished guards against the
// downstream pump's SessionFinished/SessionFailed/Error/unexpected-type
// frames never unwinding steady state: without the fix, Run blocks forever
// here because nothing but ctx cancellation or a transport error used to
// stop it (spec §4.6 "terminate the downstream loop (and the session)").
func TestRunTerminatesOnServerInitiatedSessionFinished(t *testing.T) {
	conn := newFakeConn()
	pb := &fakePlayback{}
	ctrl := newTestController(t, conn, pb)

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()

	conn.push(encodeMsg(t, codec.New(), codec.Message{
		Type: codec.FullServer, Flags: codec.FlagWithEvent,
		Event: codec.EventConnectionStarted, ConnectID: "conn-1",
	}))
	conn.push(encodeMsg(t, codec.New(), codec.Message{
		Type: codec.FullServer, Flags: codec.FlagWithEvent,
		Event: codec.EventSessionStarted, Payload: []byte(`{"dialog_id":"dlg-1"}`),
	}))

	time.Sleep(20 * time.Millisecond)

	rawCodec := codec.New()
	rawCodec.UseRawSerialization()
	conn.push(encodeMsg(t, rawCodec, codec.Message{
		Type: codec.FullServer, Flags: codec.FlagWithEvent,
		Event: codec.EventSessionFinished,
	}))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate after a server-initiated SessionFinished")
	}

	if !pb.dumpCalled {
		t.Fatal("expected diagnostic dump on shutdown")
	}
}

// TestSilencePromptTimerSkipsReGreetingWhileUserQuerying guards spec.md §3's
// invariant that a silence-prompt greeting is sent only while
// userQuerying=false: an utterance spanning more than one silence interval
// must not trigger a re-greeting mid-utterance.
func TestSilencePromptTimerSkipsReGreetingWhileUserQuerying(t *testing.T) {
	conn := newFakeConn()
	pb := &fakePlayback{}
	ctrl := newTestController(t, conn, pb)
	ctrl.sessionID = "sess-1"
	ctrl.state.SetUserQuerying(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ctrl.silencePromptTimer(ctx)
		close(done)
	}()

	// Let the timer fire a few times while userQuerying stays true.
	time.Sleep(3 * ctrl.silencePromptInterval)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("silencePromptTimer did not return after cancel")
	}

	if got := conn.sentCount(); got != 0 {
		t.Fatalf("expected no SayHello sent while userQuerying, got %d frames", got)
	}
}
