// Package chunk parses the fixed-format chunks a message is split into.
//
// Every chunk starts with a 9-byte big-endian header:
//
//	offset 0  1 byte   options (bit 0: end of message, other bits reserved)
//	offset 1  4 bytes  message id
//	offset 5  4 bytes  serial (zero-based position within the message)
//
// followed by the payload. There is no trailer and no checksum.
package chunk

import "encoding/binary"

const (
	// HeaderSize is the length of the chunk header in bytes.
	HeaderSize = 9

	// OptionEndOfMessage marks the last chunk of a message.
	OptionEndOfMessage byte = 0x01
)

// Header identifies the message a chunk belongs to and its position in it.
type Header struct {
	ID     uint32
	Serial uint32
	End    bool
}

// Put writes h into dst, which must be at least HeaderSize bytes long.
// Reserved option bits are always written as zero.
func (h Header) Put(dst []byte) {
	_ = dst[HeaderSize-1]
	var options byte
	if h.End {
		options |= OptionEndOfMessage
	}
	dst[0] = options
	binary.BigEndian.PutUint32(dst[1:5], h.ID)
	binary.BigEndian.PutUint32(dst[5:9], h.Serial)
}

// Encode returns header ++ payload as a new buffer.
func Encode(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	h.Put(buf)
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodeHeader reads the header from the start of raw.
// Reserved option bits are ignored.
func DecodeHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderSize {
		return Header{}, tooShort(int64(len(raw)))
	}
	return Header{
		ID:     binary.BigEndian.Uint32(raw[1:5]),
		Serial: binary.BigEndian.Uint32(raw[5:9]),
		End:    raw[0]&OptionEndOfMessage != 0,
	}, nil
}
