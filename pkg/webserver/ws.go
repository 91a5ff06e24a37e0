package webserver

import (
	"net"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/conncore"
	"github.com/kosmosnet/awh/pkg/payloadcrypto"
	"github.com/kosmosnet/awh/pkg/wscompress"
	"github.com/kosmosnet/awh/pkg/wsframe"
)

// Conn is a live, upgraded WebSocket connection accepted by a [Server].
type Conn struct {
	conn        net.Conn
	broker      *conncore.Broker
	sendPMD     *wscompress.PerMessageDeflate
	crypto      *payloadcrypto.Context
	segmentSize int
	subprotocol string

	closeSent bool
}

// Subprotocol returns the subprotocol negotiated for this connection,
// or "" if none was selected.
func (c *Conn) Subprotocol() string {
	return c.subprotocol
}

// RemoteAddr returns the address of the connected peer.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send transmits a WebSocket data message over c, applying
// PayloadCrypto and CompressionCodec exactly as [pkg/webclient.Client.Send]
// does on the client side, but with unmasked server-side framing.
func (c *Conn) Send(data []byte, binary bool) error {
	if c.closeSent {
		return awherr.WS(awherr.WSProtocolError, "cannot send after a CLOSE frame")
	}

	opcode := wsframe.OpcodeText
	if binary {
		opcode = wsframe.OpcodeBinary
	}

	payload := data
	var err error
	if c.crypto != nil {
		payload, err = c.crypto.Encrypt(payload)
		if err != nil {
			return err
		}
	}

	rsv1 := false
	if c.sendPMD != nil {
		compressed, err := c.sendPMD.CompressMessage(payload)
		if err != nil {
			return err
		}
		if len(compressed) < len(payload) {
			payload = compressed
			rsv1 = true
		}
	}

	frames := wsframe.Fragment(opcode, payload, c.segmentSize, rsv1)
	for _, f := range frames {
		var buf sliceWriter
		if err := wsframe.Encode(&buf, wsframe.SideServer, f.Header, f.Payload); err != nil {
			return err
		}
		if !c.broker.Send(buf.b) {
			return awherr.New(awherr.KindResource, 0, "WebSocket send queue is over capacity")
		}
	}
	return nil
}

// Close sends a CLOSE frame with the given status code and reason and
// tears down the connection.
func (c *Conn) Close(code int, reason string) {
	if c.closeSent {
		c.broker.Close(nil)
		return
	}
	c.closeSent = true
	code, reason = wsframe.CheckClose(code, reason)

	var buf sliceWriter
	_ = wsframe.Encode(&buf, wsframe.SideServer, wsframe.Header{FIN: true, Opcode: wsframe.OpcodeClose}, wsframe.EncodeClose(code, reason))
	c.broker.Send(buf.b)
	c.broker.Close(nil)
}

// serverDecoder implements [conncore.Decoder] for an accepted WebSocket
// connection, the server-side mirror of pkg/webclient's wsDecoder: it
// expects masked frames from the client and replies unmasked, per RFC
// 6455 §5.1's asymmetric masking rule.
type serverDecoder struct {
	reasm   wsframe.Reassembler
	recvPMD *wscompress.PerMessageDeflate
	crypto  *payloadcrypto.Context
	handler WSHandler
	wsc     *Conn

	broker *conncore.Broker

	closeSent     bool
	closeReceived bool
}

func (d *serverDecoder) Feed(buf []byte) (int, error) {
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

		if err := wsframe.CheckHeader(h, wsframe.SideServer, d.reasm.CurrentOpcode()); err != nil {
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

func (d *serverDecoder) handleFrame(h wsframe.Header, payload []byte) error {
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

func (d *serverDecoder) deliverMessage(msg *wsframe.Message) error {
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

	if d.handler.Message != nil {
		d.handler.Message(d.wsc, data, msg.Opcode == wsframe.OpcodeBinary)
	}
	return nil
}

func (d *serverDecoder) handleClose(payload []byte) error {
	code, reason := wsframe.ParseClose(payload)
	d.closeReceived = true

	if !d.closeSent {
		d.closeSent = true
		sendCode, sendReason := wsframe.CheckClose(code, reason)
		_ = d.reply(wsframe.OpcodeClose, wsframe.EncodeClose(sendCode, sendReason))
	}

	if d.handler.End != nil {
		d.handler.End(d.wsc)
	}
	if d.broker != nil {
		d.broker.Close(nil)
	}
	return nil
}

func (d *serverDecoder) reply(opcode wsframe.Opcode, payload []byte) error {
	if d.broker == nil {
		return nil
	}
	var buf sliceWriter
	if err := wsframe.Encode(&buf, wsframe.SideServer, wsframe.Header{FIN: true, Opcode: opcode}, payload); err != nil {
		return err
	}
	d.broker.Send(buf.b)
	return nil
}

// sliceWriter is a minimal io.Writer backed by a growable byte slice.
type sliceWriter struct {
	b []byte
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
