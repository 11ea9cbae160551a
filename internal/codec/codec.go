package codec

import (
	"encoding/binary"
	"fmt"
)

// SequencePredicate decides whether a sequence sub-field is present on the
// wire for a given flag set. Modeled as an injected function rather than a
// hidden global so the codec stays pure and testable.
type SequencePredicate func(Flags) bool

// DefaultSequencePredicate returns true iff a positive or negative sequence
// flag is set — the predicate this client supplies to Decode.
func DefaultSequencePredicate(f Flags) bool {
	return f.SeqKind() == FlagPositiveSeq || f.SeqKind() == FlagNegativeSeq
}

// Compressor is a pluggable payload compressor. Decoders never auto-invoke
// it — a caller that configured a Compressor on Encode must apply the
// matching Decompress itself.
type Compressor interface {
	Compress([]byte) ([]byte, error)
	Decompress([]byte) ([]byte, error)
}

// Codec bundles the wire header configuration with an optional compressor
// and the sequence predicate used on decode.
type Codec struct {
	Header     Header
	Compressor Compressor // nil means no compression is applied
	SeqPred    SequencePredicate
}

// New returns a Codec with the default header configuration and the
// client's default sequence predicate.
func New() *Codec {
	return &Codec{Header: DefaultHeader(), SeqPred: DefaultSequencePredicate}
}

// UseRawSerialization switches the header to Raw serialization — audio
// frames carry PCM, not JSON.
func (c *Codec) UseRawSerialization() { c.Header.SetSerialization(SerializationRaw) }

// UseJSONSerialization switches the header back to JSON serialization.
func (c *Codec) UseJSONSerialization() { c.Header.SetSerialization(SerializationJSON) }

func putUint32Len(buf []byte, n int) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(n))
	return append(buf, tmp[:]...)
}

func putInt32(buf []byte, v int32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	return append(buf, tmp[:]...)
}

// Encode serializes m into a self-contained wire frame. Field order:
// sequence → event → sessionId → connectId → payload, with errorCode
// substituting the entire event grouping when m.Type == TypeError.
func (c *Codec) Encode(m Message) ([]byte, error) {
	headerBytes := c.Header.HeaderBytes()
	if headerBytes < 3 {
		return nil, fmt.Errorf("codec: header size too small (%d bytes)", headerBytes)
	}

	body := make([]byte, 0, headerBytes+len(m.Payload)+32)

	if c.seqPredicate()(m.Flags) {
		body = putInt32(body, m.Sequence)
	}

	if m.Type == TypeError {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], m.ErrorCode)
		body = append(body, tmp[:]...)
	} else if m.Flags.HasEvent() {
		body = putInt32(body, m.Event)
		if m.HasSessionID() {
			sid := []byte(m.SessionID)
			body = putUint32Len(body, len(sid))
			body = append(body, sid...)
		}
		if m.HasConnectID() {
			cid := []byte(m.ConnectID)
			body = putUint32Len(body, len(cid))
			body = append(body, cid...)
		}
	}

	payload := m.Payload
	if c.Compressor != nil && len(payload) > 0 {
		compressed, err := c.Compressor.Compress(payload)
		if err != nil {
			return nil, fmt.Errorf("codec: compress payload: %w", err)
		}
		payload = compressed
	}
	body = putUint32Len(body, len(payload))
	body = append(body, payload...)

	frame := make([]byte, headerBytes, headerBytes+len(body))
	frame[0] = c.Header.byte0()
	frame[1] = (byte(m.Type) << 4) | byte(m.Flags)
	frame[2] = c.Header.byte2()
	// bytes 3..headerBytes-1 are zero padding, already zeroed by make.
	frame = append(frame, body...)
	return frame, nil
}

func (c *Codec) seqPredicate() SequencePredicate {
	if c.SeqPred != nil {
		return c.SeqPred
	}
	return DefaultSequencePredicate
}

// Decode parses a complete wire frame into a Message. Decoding must consume
// exactly the entire frame; any residual byte is a protocol error
// (ErrKindTrailingBytes).
func (c *Codec) Decode(frame []byte) (Message, error) {
	if len(frame) < 3 {
		return Message{}, decodeErr(ErrKindShortHeader)
	}

	headerSizeUnits := frame[0] & 0x0F
	headerBytes := int(headerSizeUnits) * 4
	if headerBytes < 3 || len(frame) < headerBytes {
		return Message{}, decodeErr(ErrKindShortHeader)
	}

	hdr := headerFromBytes(frame[0], frame[2], headerSizeUnits)

	typeBits := Type(frame[1] >> 4)
	switch typeBits {
	case FullClient, AudioOnlyClient, FullServer, AudioOnlyServer, FrontEndResultServer, TypeError:
	default:
		return Message{}, decodeErr(ErrKindUnknownType)
	}
	flags := Flags(frame[1] & 0x0F)

	switch hdr.Serialization() {
	case SerializationRaw, SerializationJSON, SerializationThrift, SerializationCustom:
	default:
		return Message{}, decodeErr(ErrKindUnknownSerialization)
	}
	switch hdr.Compression() {
	case CompressionNone, CompressionGzip, CompressionCustom:
	default:
		return Message{}, decodeErr(ErrKindUnknownCompression)
	}

	m := Message{Type: typeBits, Flags: flags}
	rest := frame[headerBytes:]

	if c.seqPredicate()(flags) {
		if len(rest) < 4 {
			return Message{}, decodeErr(ErrKindShortSequence)
		}
		m.Sequence = int32(binary.BigEndian.Uint32(rest[:4]))
		rest = rest[4:]
	}

	if typeBits == TypeError {
		if len(rest) < 4 {
			return Message{}, decodeErr(ErrKindShortErrorCode)
		}
		m.ErrorCode = binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
	} else if flags.HasEvent() {
		if len(rest) < 4 {
			return Message{}, decodeErr(ErrKindShortEvent)
		}
		m.Event = int32(binary.BigEndian.Uint32(rest[:4]))
		rest = rest[4:]

		if needsSessionID(m.Event) {
			sid, tail, err := readLenPrefixed(rest, ErrKindShortSessionIDLen, ErrKindShortSessionIDBody)
			if err != nil {
				return Message{}, err
			}
			m.SessionID = string(sid)
			rest = tail
		}
		if needsConnectID(m.Event) {
			cid, tail, err := readLenPrefixed(rest, ErrKindShortConnectIDLen, ErrKindShortConnectIDBody)
			if err != nil {
				return Message{}, err
			}
			m.ConnectID = string(cid)
			rest = tail
		}
	}

	payload, tail, err := readLenPrefixed(rest, ErrKindShortPayloadLen, ErrKindShortPayloadBody)
	if err != nil {
		return Message{}, err
	}
	rest = tail

	if len(rest) != 0 {
		return Message{}, decodeErr(ErrKindTrailingBytes)
	}

	m.Payload = payload
	return m, nil
}

// readLenPrefixed reads a 4-byte BE length prefix followed by that many
// bytes from buf, returning the extracted slice and the remaining tail.
func readLenPrefixed(buf []byte, lenKind, bodyKind DecodeErrorKind) (data, tail []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, decodeErr(lenKind)
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n) {
		return nil, nil, decodeErr(bodyKind)
	}
	return buf[:n], buf[n:], nil
}
