package wsframe

import (
	"unicode/utf8"

	"github.com/kosmosnet/awh/pkg/awherr"
)

// Message is a fully defragmented WebSocket data message.
type Message struct {
	Opcode     Opcode
	Data       []byte
	Compressed bool // RSV1 was set on the initial frame.
}

// Reassembler tracks the state of an in-progress fragmented message, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.4. One
// Reassembler is owned by a single connection; it is not safe for
// concurrent use.
//
// Grounded on the frame-state loop in the teacher's
// pkg/websocket/message.go readMessage, generalized here to be driven
// frame-by-frame by a caller instead of owning its own read loop, so it
// can sit behind either an HTTP/1.1 or an HTTP/2 (RFC 8441) transport.
type Reassembler struct {
	opcode     Opcode
	buf        []byte
	compressed bool
}

// CurrentOpcode returns the data opcode of the message currently being
// assembled, or OpcodeContinuation if no message is in progress.
func (r *Reassembler) CurrentOpcode() Opcode {
	return r.opcode
}

// Feed processes one already-validated data frame (header.Opcode must be
// OpcodeContinuation, OpcodeText, or OpcodeBinary) and its (unmasked)
// payload. It returns a non-nil *Message once the frame with FIN=1
// completes the message.
func (r *Reassembler) Feed(h Header, payload []byte) (*Message, error) {
	if h.Opcode != OpcodeContinuation {
		r.opcode = h.Opcode
		r.compressed = h.RSV1
	}

	if len(payload) > 0 {
		r.buf = append(r.buf, payload...)
	}

	if !h.FIN {
		return nil, nil
	}

	op, data, compressed := r.opcode, r.buf, r.compressed
	r.opcode, r.buf, r.compressed = OpcodeContinuation, nil, false

	if data == nil {
		data = []byte{}
	}

	// "If an endpoint receives a byte stream which is not UTF-8... the
	// endpoint MUST Fail the WebSocket Connection." This check only
	// applies to uncompressed text; compressed payloads are validated by
	// the caller after [CompressionCodec] decompresses them.
	if op == OpcodeText && !compressed && len(data) > 0 && !utf8.Valid(data) {
		return nil, awherr.WS(awherr.WSInvalidData, "invalid UTF-8 text message")
	}

	return &Message{Opcode: op, Data: data, Compressed: compressed}, nil
}

// Fragment splits data into one or more frame (header, payload) pairs
// according to spec's fragmentation policy: if data fits within
// segmentSize it is sent as a single unfragmented frame; otherwise it is
// split into an initial data frame (FIN=0), zero or more continuations
// (FIN=0), and a final continuation (FIN=1). RSV1 (compression) is set
// only on the initial frame, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.4.
func Fragment(opcode Opcode, data []byte, segmentSize int, rsv1 bool) []struct {
	Header  Header
	Payload []byte
} {
	type frame = struct {
		Header  Header
		Payload []byte
	}

	if segmentSize <= 0 || len(data) <= segmentSize {
		return []frame{{Header: Header{FIN: true, RSV1: rsv1, Opcode: opcode}, Payload: data}}
	}

	var frames []frame
	first := true
	for len(data) > 0 {
		n := segmentSize
		if n > len(data) {
			n = len(data)
		}
		chunk := data[:n]
		data = data[n:]

		h := Header{FIN: len(data) == 0}
		if first {
			h.Opcode = opcode
			h.RSV1 = rsv1
			first = false
		} else {
			h.Opcode = OpcodeContinuation
		}
		frames = append(frames, frame{Header: h, Payload: chunk})
	}
	return frames
}
