package wscompress

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/kosmosnet/awh/pkg/awherr"
)

// deflateTail is the 4-byte empty deflate block that RFC 7692 requires
// senders to strip from the end of every compressed message and
// receivers to append back before inflating.
//
// https://datatracker.ietf.org/doc/html/rfc7692#section-7.2.1
var deflateTail = []byte{0x00, 0x00, 0xff, 0xff}

// deflateFinalBlock is an empty, final (BFINAL=1) stored block appended
// after deflateTail purely so the flate reader reports a clean io.EOF
// at the end of each message instead of io.ErrUnexpectedEOF (the
// sync-flush block RFC 7692 strips is never final). This mirrors the
// tail gorilla/websocket's decompressor appends for the same reason.
var deflateFinalBlock = []byte{0x01, 0x00, 0x00, 0xff, 0xff}

// maxDeflateWindow is the largest sliding window a raw deflate stream
// can reference (32 KiB), independent of the negotiated
// client/server_max_window_bits value: neither compress/flate nor
// klauspost/compress/flate support shrinking the actual LZ77 window
// below this, so it's the right size to cap the preserved
// context-takeover dictionary at.
const maxDeflateWindow = 1 << 15

// PerMessageDeflateParams are the negotiated permessage-deflate
// extension parameters for one direction of a connection, per
// https://datatracker.ietf.org/doc/html/rfc7692#section-7.1.
type PerMessageDeflateParams struct {
	NoContextTakeover bool
	MaxWindowBits     int // 8-15; 0 means "unspecified", treated as 15.
}

func (p PerMessageDeflateParams) windowBits() int {
	if p.MaxWindowBits == 0 {
		return 15
	}
	return p.MaxWindowBits
}

// PerMessageDeflate holds the compression state for one direction
// (either the frames this side sends, or the frames this side
// receives) of a permessage-deflate-negotiated connection.
//
// When NoContextTakeover is false the flate.Writer/flate.Reader's
// sliding window is preserved across messages, so later messages can
// reference strings from earlier ones; this is the RFC's default and
// gives the best compression ratio. When NoContextTakeover is true the
// context is reset after every message, trading ratio for an bounded
// memory footprint and for resilience to a peer that drops frames.
//
// A PerMessageDeflate is not safe for concurrent use; each direction
// needs its own instance, and frames in that direction must be fed in
// order.
type PerMessageDeflate struct {
	params PerMessageDeflateParams

	writeBuf bytes.Buffer
	writer   *flate.Writer

	reader  io.ReadCloser
	history []byte // last bytes decompressed, preserved as a preset dictionary across messages when context takeover applies
}

// NewPerMessageDeflate constructs a compression context for one
// direction of a connection using the given negotiated parameters.
func NewPerMessageDeflate(params PerMessageDeflateParams) (*PerMessageDeflate, error) {
	pmd := &PerMessageDeflate{params: params}

	w, err := flate.NewWriter(&pmd.writeBuf, flate.DefaultCompression)
	if err != nil {
		return nil, awherr.WrapCompression("failed to create permessage-deflate writer", err)
	}
	pmd.writer = w

	return pmd, nil
}

// CompressMessage compresses one complete WebSocket message payload,
// stripping the trailing empty deflate block per RFC 7692 §7.2.1. If
// NoContextTakeover is negotiated for this direction, the compression
// context is reset once the message has been flushed.
func (pmd *PerMessageDeflate) CompressMessage(data []byte) ([]byte, error) {
	pmd.writeBuf.Reset()

	if _, err := pmd.writer.Write(data); err != nil {
		return nil, awherr.WrapCompression("failed to write to permessage-deflate context", err)
	}
	if err := pmd.writer.Flush(); err != nil {
		return nil, awherr.WrapCompression("failed to flush permessage-deflate context", err)
	}

	out := pmd.writeBuf.Bytes()
	out = bytes.TrimSuffix(out, deflateTail)

	compressed := append([]byte(nil), out...)

	if pmd.params.NoContextTakeover {
		pmd.writer.Reset(&pmd.writeBuf)
	}

	return compressed, nil
}

// DecompressMessage appends the trailing empty deflate block back onto
// a received message payload and inflates it. Per spec.md §3's
// CompressionContext invariant, when NoContextTakeover is negotiated
// for this direction the inflater's window is discarded after every
// message; otherwise it is carried forward (as a preset dictionary, so
// the encoder's cross-message back-references decode correctly) across
// messages for this direction.
func (pmd *PerMessageDeflate) DecompressMessage(data []byte) ([]byte, error) {
	withTail := make([]byte, 0, len(data)+len(deflateTail)+len(deflateFinalBlock))
	withTail = append(withTail, data...)
	withTail = append(withTail, deflateTail...)
	withTail = append(withTail, deflateFinalBlock...)

	var dict []byte
	if !pmd.params.NoContextTakeover {
		dict = pmd.history
	}

	src := bytes.NewReader(withTail)
	if pmd.reader == nil {
		pmd.reader = flate.NewReaderDict(src, dict)
	} else if r, ok := pmd.reader.(flate.Resetter); ok {
		if err := r.Reset(src, dict); err != nil {
			return nil, awherr.WrapCompression("failed to reset permessage-deflate reader", err)
		}
	} else {
		pmd.reader = flate.NewReaderDict(src, dict)
	}

	out, err := io.ReadAll(pmd.reader)
	if err != nil {
		return nil, awherr.WrapCompression("failed to inflate permessage-deflate message", err)
	}

	if pmd.params.NoContextTakeover {
		pmd.history = nil
	} else {
		pmd.history = append(pmd.history, out...)
		if len(pmd.history) > maxDeflateWindow {
			pmd.history = pmd.history[len(pmd.history)-maxDeflateWindow:]
		}
	}

	return out, nil
}

// CompressForSend compresses a message and reports whether RSV1 (the
// "this frame is compressed" bit) should be set on the wire. Per
// spec.md §4.2, if compression would expand the message, the message
// is sent uncompressed instead.
func (pmd *PerMessageDeflate) CompressForSend(data []byte) (payload []byte, rsv1 bool, err error) {
	compressed, err := pmd.CompressMessage(data)
	if err != nil {
		return nil, false, err
	}
	if len(compressed) >= len(data) {
		return data, false, nil
	}
	return compressed, true, nil
}
