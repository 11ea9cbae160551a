package codec

// Serialization is the high nibble of the third header byte.
type Serialization uint8

const (
	SerializationRaw    Serialization = 0x0
	SerializationJSON   Serialization = 0x1
	SerializationThrift Serialization = 0x2
	SerializationCustom Serialization = 0xF
)

// Compression is the low nibble of the third header byte.
type Compression uint8

const (
	CompressionNone   Compression = 0x0
	CompressionGzip   Compression = 0x1
	CompressionCustom Compression = 0xF
)

// Header carries the four nibble-encoded codec configuration settings
// carried in the fixed prefix.
//
// Getters/setters below mask only the relevant nibble so toggling one
// setting never disturbs its neighbor.
type Header struct {
	version       uint8 // 1..4
	headerSize    uint8 // in 4-byte units, 1..4
	serialization Serialization
	compression   Compression
}

// DefaultHeader returns the reference configuration: version 1, 4-byte
// header, JSON serialization, no compression.
func DefaultHeader() Header {
	return Header{version: 1, headerSize: 1, serialization: SerializationJSON, compression: CompressionNone}
}

// Version returns the protocol version (1..4).
func (h Header) Version() uint8 { return h.version }

// SetVersion sets the protocol version without disturbing header size.
func (h *Header) SetVersion(v uint8) { h.version = v & 0x0F }

// HeaderSizeUnits returns the header size in 4-byte units (1..4); the
// actual byte length of the fixed prefix is HeaderSizeUnits()*4.
func (h Header) HeaderSizeUnits() uint8 { return h.headerSize }

// SetHeaderSizeUnits sets the header size in 4-byte units.
func (h *Header) SetHeaderSizeUnits(units uint8) { h.headerSize = units & 0x0F }

// HeaderBytes returns the fixed-prefix length in bytes.
func (h Header) HeaderBytes() int { return int(h.headerSize) * 4 }

// Serialization returns the configured serialization method.
func (h Header) Serialization() Serialization { return h.serialization }

// SetSerialization sets only the serialization nibble.
func (h *Header) SetSerialization(s Serialization) { h.serialization = s }

// Compression returns the configured compression method.
func (h Header) Compression() Compression { return h.compression }

// SetCompression sets only the compression nibble.
func (h *Header) SetCompression(c Compression) { h.compression = c }

// byte0 packs (version<<4 | headerSize).
func (h Header) byte0() byte { return (h.version << 4) | (h.headerSize & 0x0F) }

// byte2 packs (serialization<<4 | compression), high nibble first.
func (h Header) byte2() byte { return (byte(h.serialization) << 4) | (byte(h.compression) & 0x0F) }

func headerFromBytes(b0, b2 byte, headerSize uint8) Header {
	return Header{
		version:       b0 >> 4,
		headerSize:    headerSize,
		serialization: Serialization(b2 >> 4),
		compression:   Compression(b2 & 0x0F),
	}
}
