package wire

import (
	"encoding/binary"

	"github.com/roach88/xchange/internal/model"
)

const (
	// Magic is "XCHG" in ASCII.
	Magic uint32 = 0x58434847

	// HeaderLen is the fixed frame header size.
	HeaderLen = 16

	// MaxPayload bounds decode memory use. Payloads carry one order at most.
	MaxPayload = 1 << 20
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	Tag        Tag
	Flags      uint32
	PayloadLen uint32
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Tag))
	binary.BigEndian.PutUint32(buf[8:12], h.Flags)
	binary.BigEndian.PutUint32(buf[12:16], h.PayloadLen)
	return buf
}

// parseHeader validates the fixed header. The tag is checked by the caller so
// that structural errors take precedence over unknown variants.
func parseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, ErrTruncated
	}
	h := Header{
		Magic:      binary.BigEndian.Uint32(buf[0:4]),
		Version:    binary.BigEndian.Uint16(buf[4:6]),
		Tag:        Tag(binary.BigEndian.Uint16(buf[6:8])),
		Flags:      binary.BigEndian.Uint32(buf[8:12]),
		PayloadLen: binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.Magic != Magic {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != model.WireVersion {
		return Header{}, ErrUnsupportedVersion
	}
	if h.Flags != 0 {
		return Header{}, ErrReservedFlags
	}
	if h.PayloadLen > MaxPayload {
		return Header{}, ErrPayloadTooLarge
	}
	return h, nil
}
