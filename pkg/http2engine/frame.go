// Package http2engine implements the Http2Engine component of spec.md
// §4.5: an HTTP/2 (RFC 9113) session and per-stream state machine,
// HPACK header compression, SETTINGS negotiation, flow control, and
// RFC 8441 WebSocket-over-HTTP/2 CONNECT tunneling.
package http2engine

import (
	"encoding/binary"

	"github.com/kosmosnet/awh/pkg/awherr"
)

// Preface is the client connection preface that must precede the first
// SETTINGS frame on every HTTP/2 connection.
//
// https://datatracker.ietf.org/doc/html/rfc9113#section-3.4
var Preface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// FrameHeaderLen is the fixed 9-byte length of every frame header.
const FrameHeaderLen = 9

// FrameType identifies an HTTP/2 frame's type.
type FrameType uint8

const (
	FrameData FrameType = iota
	FrameHeaders
	FramePriority
	FrameRSTStream
	FrameSettings
	FramePushPromise
	FramePing
	FrameGoAway
	FrameWindowUpdate
	FrameContinuation
)

const (
	// FrameAltSvc and FrameOrigin are registered IANA extension frame
	// types this engine recognizes but does not act upon beyond
	// pass-through to the application layer.
	FrameAltSvc FrameType = 0xa
	FrameOrigin FrameType = 0xc
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameRSTStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	case FrameAltSvc:
		return "ALTSVC"
	case FrameOrigin:
		return "ORIGIN"
	default:
		return "UNKNOWN"
	}
}

// Frame flags. Not every flag applies to every frame type; see RFC
// 9113 §6 for the per-type meaning.
const (
	FlagAck        uint8 = 0x1
	FlagEndStream  uint8 = 0x1
	FlagEndHeaders uint8 = 0x4
	FlagPadded     uint8 = 0x8
	FlagPriority   uint8 = 0x20
)

// FrameHeader is the common 9-byte prefix of every HTTP/2 frame.
type FrameHeader struct {
	Length   uint32 // 24-bit payload length, excluding this header.
	Type     FrameType
	Flags    uint8
	StreamID uint32 // 31-bit; high bit is reserved and always 0.
}

// ReadFrameHeader decodes a 9-byte frame header. It never needs
// partial-read handling from the caller: the caller is expected to
// buffer FrameHeaderLen bytes before calling this.
func ReadFrameHeader(buf []byte) (FrameHeader, error) {
	if len(buf) < FrameHeaderLen {
		return FrameHeader{}, awherr.HTTP2(awherr.H2InternalError, "short frame header")
	}
	length := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	streamID := binary.BigEndian.Uint32(buf[5:9]) & 0x7fffffff
	return FrameHeader{
		Length:   length,
		Type:     FrameType(buf[3]),
		Flags:    buf[4],
		StreamID: streamID,
	}, nil
}

// WriteFrameHeader encodes h into a 9-byte buffer.
func WriteFrameHeader(h FrameHeader) []byte {
	buf := make([]byte, FrameHeaderLen)
	buf[0] = byte(h.Length >> 16)
	buf[1] = byte(h.Length >> 8)
	buf[2] = byte(h.Length)
	buf[3] = byte(h.Type)
	buf[4] = h.Flags
	binary.BigEndian.PutUint32(buf[5:], h.StreamID&0x7fffffff)
	return buf
}

// EncodeFrame builds a complete frame (header + payload).
func EncodeFrame(t FrameType, flags uint8, streamID uint32, payload []byte) []byte {
	h := FrameHeader{Length: uint32(len(payload)), Type: t, Flags: flags, StreamID: streamID}
	out := WriteFrameHeader(h)
	return append(out, payload...)
}
