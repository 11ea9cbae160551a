// Package dialogstate holds the process-wide dialog flags and query-signal
// channel shared by every worker in the session. It is global by contract:
// only one transport exists per process, so these fields live on a single
// State passed by reference rather than being replicated per request.
package dialogstate

import (
	"sync"
	"sync/atomic"
)

// querySignalCapacity is the minimum channel capacity required.
const querySignalCapacity = 10

// State holds the atomics and the query-signal channel. Zero value is not
// usable — construct with New.
type State struct {
	dialogIDMu sync.Mutex
	dialogID   string

	userQuerying       atomic.Bool
	sendingChatTTSText atomic.Bool

	querySignal chan struct{}
}

// New returns a ready-to-use State.
func New() *State {
	return &State{querySignal: make(chan struct{}, querySignalCapacity)}
}

// SetDialogID records the dialog id once, read back after shutdown for
// logging.
func (s *State) SetDialogID(id string) {
	s.dialogIDMu.Lock()
	s.dialogID = id
	s.dialogIDMu.Unlock()
}

// DialogID returns the recorded dialog id, or "" if none was set.
func (s *State) DialogID() string {
	s.dialogIDMu.Lock()
	defer s.dialogIDMu.Unlock()
	return s.dialogID
}

// UserQuerying reports whether the user is currently mid-utterance.
func (s *State) UserQuerying() bool { return s.userQuerying.Load() }

// SetUserQuerying updates the user-querying flag.
func (s *State) SetUserQuerying(v bool) { s.userQuerying.Store(v) }

// SendingChatTTSText reports whether a client-injected TTS burst is in
// flight; while true, incoming downstream audio must be dropped.
func (s *State) SendingChatTTSText() bool { return s.sendingChatTTSText.Load() }

// SetSendingChatTTSText updates the suppression flag.
func (s *State) SetSendingChatTTSText(v bool) { s.sendingChatTTSText.Store(v) }

// SignalQuery attempts a non-blocking enqueue onto the query-signal channel;
// it silently drops the signal if the channel is full.
func (s *State) SignalQuery() {
	select {
	case s.querySignal <- struct{}{}:
	default:
	}
}

// QuerySignal returns the channel the silence-prompt timer selects on.
func (s *State) QuerySignal() <-chan struct{} { return s.querySignal }
