package wsframe

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/kosmosnet/awh/pkg/awherr"
)

// Side identifies which endpoint [Encode] or [CheckHeader] is acting as.
// The masking rules in RFC 6455 §5.1-5.3 are asymmetric: clients mask
// outgoing frames and reject masked incoming ones; servers do the reverse.
type Side int

const (
	SideClient Side = iota
	SideServer
)

// maxControlPayload is the maximum length of a control frame payload, as
// defined in https://datatracker.ietf.org/doc/html/rfc6455#section-5.5.
const maxControlPayload = 125

const (
	bit0     = 0x80
	bit1     = 0x40
	bit2     = 0x20
	bit3     = 0x10
	bits1to7 = 0x7f
	bits4to7 = 0x0f

	len7bits  = 125
	len16bits = 126
	len64bits = 127
)

// Header is a WebSocket frame header, excluding the payload itself, as
// defined in https://datatracker.ietf.org/doc/html/rfc6455#section-5.2.
type Header struct {
	FIN     bool
	RSV1    bool // Set by [CompressionCodec] when a message is compressed.
	RSV2    bool
	RSV3    bool
	Opcode  Opcode
	Masked  bool
	Length  uint64
	MaskKey [4]byte
}

// DecodeHeader parses a frame header from the start of buf. If buf doesn't
// yet contain a complete header (including any extended length field and
// masking key), it returns needMore=true and consumed=0: the caller should
// wait for more bytes and retry, without consuming anything from buf.
func DecodeHeader(buf []byte) (h Header, consumed int, needMore bool, err error) {
	if len(buf) < 2 {
		return h, 0, true, nil
	}

	b0, b1 := buf[0], buf[1]
	h.FIN = b0&bit0 != 0
	h.RSV1 = b0&bit1 != 0
	h.RSV2 = b0&bit2 != 0
	h.RSV3 = b0&bit3 != 0
	h.Opcode = Opcode(b0 & bits4to7)
	h.Masked = b1&bit0 != 0

	n := b1 & bits1to7
	off := 2
	switch {
	case n <= len7bits:
		h.Length = uint64(n)
	case n == len16bits:
		if len(buf) < off+2 {
			return h, 0, true, nil
		}
		h.Length = uint64(binary.BigEndian.Uint16(buf[off:]))
		off += 2
	case n == len64bits:
		if len(buf) < off+8 {
			return h, 0, true, nil
		}
		h.Length = binary.BigEndian.Uint64(buf[off:])
		off += 8
	}

	if h.Masked {
		if len(buf) < off+4 {
			return h, 0, true, nil
		}
		copy(h.MaskKey[:], buf[off:off+4])
		off += 4
	}

	return h, off, false, nil
}

// CheckHeader validates h against the protocol rules that don't depend on
// payload contents, given the side we are acting as and the opcode of the
// data message currently being reassembled (OpcodeContinuation if none).
// It returns a WebSocket close code and reason on violation.
func CheckHeader(h Header, side Side, currentOpcode Opcode) error {
	if h.RSV2 || h.RSV3 || (h.RSV1 && !h.Opcode.IsData()) {
		// RSV1 on a control frame is also invalid; RSV1 on a data frame is
		// only valid when a compression extension negotiated it, which
		// the caller (aware of negotiation state) may choose to tolerate
		// by not calling CheckHeader with that restriction — see
		// pkg/wshandshake for negotiated-extension bookkeeping.
		return awherr.WS(awherr.WSProtocolError, "reserved bits must be zero")
	}

	if !knownOpcode(h.Opcode) {
		return awherr.WS(awherr.WSProtocolError, fmt.Sprintf("unknown opcode %d", h.Opcode))
	}

	if h.Opcode == OpcodeContinuation && currentOpcode == OpcodeContinuation {
		return awherr.WS(awherr.WSProtocolError, "continuation frame with nothing to continue")
	}
	if (h.Opcode == OpcodeText || h.Opcode == OpcodeBinary) && currentOpcode != OpcodeContinuation {
		return awherr.WS(awherr.WSProtocolError, "new data frame while a message is still being assembled")
	}

	if h.Opcode.IsControl() {
		if h.Length > maxControlPayload {
			return awherr.WS(awherr.WSProtocolError, "control frame payload too large")
		}
		if !h.FIN {
			return awherr.WS(awherr.WSProtocolError, "control frame must not be fragmented")
		}
	}

	switch side {
	case SideClient:
		if h.Masked {
			return awherr.WS(awherr.WSProtocolError, "server sent a masked frame")
		}
	case SideServer:
		if !h.Masked {
			return awherr.WS(awherr.WSProtocolError, "client sent an unmasked frame")
		}
	}

	return nil
}

// MaskPayload applies (or un-applies, since it's its own inverse) RFC 6455's
// masking algorithm to payload in place, using the given 4-byte key.
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.3
func MaskPayload(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i&3]
	}
}

// Encode writes a single frame to w. For [SideClient], a random masking key
// is generated per frame and the payload is masked on the wire (the input
// slice is left unmodified). For [SideServer], the frame is sent unmasked.
func Encode(w io.Writer, side Side, h Header, payload []byte) error {
	if h.Opcode.IsControl() && len(payload) > maxControlPayload {
		return awherr.WS(awherr.WSProtocolError, "control frame payload too large")
	}

	var first byte
	if h.FIN {
		first |= bit0
	}
	if h.RSV1 {
		first |= bit1
	}
	if h.RSV2 {
		first |= bit2
	}
	if h.RSV3 {
		first |= bit3
	}
	first |= byte(h.Opcode)

	hdr := make([]byte, 1, 14)
	hdr[0] = first

	masked := side == SideClient
	lenByte := byte(0)
	if masked {
		lenByte = bit0
	}

	n := len(payload)
	switch {
	case n <= len7bits:
		hdr = append(hdr, lenByte|byte(n))
	case n <= math.MaxUint16:
		hdr = append(hdr, lenByte|len16bits)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n)) //nolint:gosec // bounded above.
		hdr = append(hdr, b[:]...)
	default:
		hdr = append(hdr, lenByte|len64bits)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(n))
		hdr = append(hdr, b[:]...)
	}

	var key [4]byte
	if masked {
		if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
			return awherr.WrapWS(awherr.WSInternalError, "failed to generate masking key", err)
		}
		hdr = append(hdr, key[:]...)
	}

	if _, err := w.Write(hdr); err != nil {
		return awherr.WrapWS(awherr.WSInternalError, "failed to write frame header", err)
	}

	if len(payload) == 0 {
		return nil
	}

	if !masked {
		_, err := w.Write(payload)
		if err != nil {
			return awherr.WrapWS(awherr.WSInternalError, "failed to write frame payload", err)
		}
		return nil
	}

	// Mask into a scratch buffer so the caller's slice is never mutated.
	out := make([]byte, len(payload))
	copy(out, payload)
	MaskPayload(out, key)
	if _, err := w.Write(out); err != nil {
		return awherr.WrapWS(awherr.WSInternalError, "failed to write frame payload", err)
	}
	return nil
}
