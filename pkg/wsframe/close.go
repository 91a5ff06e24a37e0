package wsframe

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/kosmosnet/awh/pkg/awherr"
)

// maxCloseReason is the maximum length of a connection-closing reason: the
// control-frame payload cap minus the 2-byte status code.
const maxCloseReason = maxControlPayload - 2

// ParseClose extracts the status code and optional UTF-8 reason from an
// incoming connection-close control frame's payload, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.5.1.
func ParseClose(payload []byte) (code int, reason string) {
	switch len(payload) {
	case 0:
		return awherr.WSNotReceived, ""
	case 1:
		return awherr.WSProtocolError, ""
	default:
		code = int(binary.BigEndian.Uint16(payload))
	}

	if len(payload) > 2 {
		r := payload[2:]
		if !utf8.Valid(r) {
			return awherr.WSInvalidData, ""
		}
		reason = string(r)
	}

	return code, reason
}

// CheckClose sanitizes a status code and reason before they are sent on
// the wire, per spec.md §9 Open Question (c): codes 1005/1006/1015 are
// reserved and MUST NEVER appear on the wire, and any out-of-range or
// otherwise invalid code is rewritten to a protocol error.
func CheckClose(code int, reason string) (int, string) {
	switch {
	case code < awherr.WSNormalClosure || code == 1004:
		code = awherr.WSProtocolError
	case code == awherr.WSNotReceived || code == awherr.WSClosedAbnormal:
		code = awherr.WSProtocolError
	case code >= awherr.WSTLSHandshake && code < 3000:
		code = awherr.WSProtocolError
	}

	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}

	return code, reason
}

// EncodeClose builds the 2-byte-status(+reason) payload for a CLOSE frame.
func EncodeClose(code int, reason string) []byte {
	buf := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(buf, uint16(code)) //nolint:gosec // code is a 16-bit close code.
	copy(buf[2:], reason)
	return buf
}
