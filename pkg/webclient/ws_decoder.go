package webclient

import (
	"log/slog"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/conncore"
	"github.com/kosmosnet/awh/pkg/payloadcrypto"
	"github.com/kosmosnet/awh/pkg/wscompress"
	"github.com/kosmosnet/awh/pkg/wsframe"
)

// wsDecoder implements [conncore.Decoder] for a WebSocket connection: it
// feeds raw bytes through [wsframe.DecodeHeader], reassembles
// fragmented messages via [wsframe.Reassembler], decompresses and
// decrypts complete messages, and answers control frames (PING/CLOSE)
// directly on the broker it is attached to.
//
// Grounded on pkg/wsframe.DecodeHeader's needs-more-data convention,
// generalized into a conncore.Decoder so a
// single Broker read loop can drive WebSocket framing the same way it
// drives HTTP/1.1 and HTTP/2 parsing.
type wsDecoder struct {
	side    wsframe.Side
	reasm   wsframe.Reassembler
	recvPMD *wscompress.PerMessageDeflate
	crypto  *payloadcrypto.Context
	cb      Callbacks
	logger  *slog.Logger

	broker *conncore.Broker // set once the Broker is constructed.

	closeSent     bool
	closeReceived bool
}

// Feed implements [conncore.Decoder].
func (d *wsDecoder) Feed(buf []byte) (int, error) {
	total := 0
	for {
		h, n, needMore, err := wsframe.DecodeHeader(buf[total:])
		if err != nil {
			return total, err
		}
		if needMore {
			return total, nil
		}
		if len(buf[total+n:]) < int(h.Length) {
			return total, nil
		}

		payload := append([]byte(nil), buf[total+n:total+n+int(h.Length)]...)
		if h.Masked {
			wsframe.MaskPayload(payload, h.MaskKey)
		}
		total += n + int(h.Length)

		if err := wsframe.CheckHeader(h, d.side, d.reasm.CurrentOpcode()); err != nil {
			return total, err
		}

		if err := d.handleFrame(h, payload); err != nil {
			return total, err
		}
		if d.closeReceived {
			return total, nil
		}
	}
}

func (d *wsDecoder) handleFrame(h wsframe.Header, payload []byte) error {
	switch h.Opcode {
	case wsframe.OpcodeClose:
		return d.handleClose(payload)

	case wsframe.OpcodePing:
		return d.reply(wsframe.OpcodePong, payload)

	case wsframe.OpcodePong:
		return nil

	default:
		msg, err := d.reasm.Feed(h, payload)
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
		return d.deliverMessage(msg)
	}
}

func (d *wsDecoder) deliverMessage(msg *wsframe.Message) error {
	data := msg.Data
	var err error

	if msg.Compressed {
		if d.recvPMD == nil {
			return awherr.WS(awherr.WSProtocolError, "received RSV1-compressed frame but no compression extension was negotiated")
		}
		data, err = d.recvPMD.DecompressMessage(data)
		if err != nil {
			return err
		}
	}

	if d.crypto != nil {
		data, err = d.crypto.Decrypt(data)
		if err != nil {
			return err
		}
	}

	if d.cb.Message != nil {
		d.cb.Message(data, msg.Opcode == wsframe.OpcodeBinary)
	}
	return nil
}

func (d *wsDecoder) handleClose(payload []byte) error {
	code, reason := wsframe.ParseClose(payload)
	d.closeReceived = true

	if !d.closeSent {
		d.closeSent = true
		sendCode, sendReason := wsframe.CheckClose(code, reason)
		_ = d.reply(wsframe.OpcodeClose, wsframe.EncodeClose(sendCode, sendReason))
	}

	if d.cb.End != nil {
		d.cb.End()
	}
	if d.broker != nil {
		d.broker.Close(nil)
	}
	return nil
}

func (d *wsDecoder) reply(opcode wsframe.Opcode, payload []byte) error {
	if d.broker == nil {
		return nil
	}
	var buf sliceWriter
	if err := wsframe.Encode(&buf, d.side, wsframe.Header{FIN: true, Opcode: opcode}, payload); err != nil {
		return err
	}
	d.broker.Send(buf.b)
	return nil
}

// sliceWriter is a minimal io.Writer backed by a growable byte slice,
// used to capture wsframe.Encode's output before handing it to
// Broker.Send.
type sliceWriter struct {
	b []byte
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
