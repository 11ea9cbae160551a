// Package codec implements the custom binary message framing exchanged
// between the dialog client and the cloud speech-dialog service: header
// bit-packing, variable-length optional sub-fields, and an injectable
// sequence-presence predicate.
package codec

// Type is the high nibble of the second header byte.
type Type uint8

const (
	FullClient           Type = 0b0001
	AudioOnlyClient      Type = 0b0010
	FullServer           Type = 0b1001
	AudioOnlyServer      Type = 0b1011 // alias: ServerACK
	FrontEndResultServer Type = 0b1100
	TypeError            Type = 0b1111
)

// Flags is the low nibble of the second header byte.
type Flags uint8

const (
	FlagNoSeq       Flags = 0b0000
	FlagPositiveSeq Flags = 0b0001
	FlagLastNoSeq   Flags = 0b0010
	FlagNegativeSeq Flags = 0b0011
	FlagWithEvent   Flags = 0b0100
)

// HasEvent reports whether the with-event bit is set.
func (f Flags) HasEvent() bool { return f&FlagWithEvent != 0 }

// seqMask isolates the sequence-type sub-bits (low 2 bits), independent of
// the with-event bit.
const seqMask = 0b0011

// SeqKind returns the sequence-flag sub-bits, ignoring with-event.
func (f Flags) SeqKind() Flags { return f & seqMask }

// Event numbers used on the wire.
const (
	EventStartConnection    int32 = 1
	EventFinishConnection   int32 = 2
	EventConnectionStarted  int32 = 50
	EventConnectionFailed   int32 = 51
	EventConnectionFinished int32 = 52
	EventStartSession       int32 = 100
	EventFinishSession      int32 = 102
	EventSessionStarted     int32 = 150
	EventSessionFinished    int32 = 152
	EventSessionFailed      int32 = 153
	EventAudioUpstream      int32 = 200
	EventSayHello           int32 = 300
	EventTTSInfo            int32 = 350
	EventASRInfo            int32 = 450
	EventUserQueryFinished  int32 = 459
	EventChatTTSText        int32 = 500
)

// eventsWithoutSessionID are the events for which a session-id sub-field
// must never appear on the wire, even when with-event is set.
var eventsWithoutSessionID = map[int32]bool{
	EventStartConnection:    true,
	EventFinishConnection:   true,
	EventConnectionStarted:  true,
	EventConnectionFailed:   true,
	EventConnectionFinished: true,
}

// eventsWithConnectID are the events for which a connect-id sub-field is
// carried.
var eventsWithConnectID = map[int32]bool{
	EventConnectionStarted:  true,
	EventConnectionFailed:   true,
	EventConnectionFinished: true,
}

// needsSessionID reports whether event should carry a session-id, given
// with-event is set.
func needsSessionID(event int32) bool { return !eventsWithoutSessionID[event] }

// needsConnectID reports whether event should carry a connect-id.
func needsConnectID(event int32) bool { return eventsWithConnectID[event] }

// Message is a single self-describing wire record. A Message is built fresh
// for every send and decoded fresh from every receive; it is never reused
// across the wire boundary.
type Message struct {
	Type      Type
	Flags     Flags
	Event     int32  // present iff Flags.HasEvent()
	SessionID string // present iff Flags.HasEvent() && needsSessionID(Event)
	ConnectID string // present iff needsConnectID(Event)
	Sequence  int32  // present iff a sequence flag is set AND the SequencePredicate says so
	ErrorCode uint32 // present iff Type == TypeError
	Payload   []byte
}

// HasSessionID reports whether m should carry a session-id sub-field.
func (m Message) HasSessionID() bool {
	return m.Flags.HasEvent() && needsSessionID(m.Event)
}

// HasConnectID reports whether m should carry a connect-id sub-field.
func (m Message) HasConnectID() bool {
	return needsConnectID(m.Event)
}
