package webclient

import (
	"context"
	"net"
	"net/url"
	"strconv"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/conncore"
	"github.com/kosmosnet/awh/pkg/http1"
	"github.com/kosmosnet/awh/pkg/httpmodel"
	"github.com/kosmosnet/awh/pkg/payloadcrypto"
	"github.com/kosmosnet/awh/pkg/wscompress"
	"github.com/kosmosnet/awh/pkg/wsframe"
	"github.com/kosmosnet/awh/pkg/wshandshake"
)

// wsState holds everything a live WebSocket connection needs once the
// opening handshake has completed: the Broker driving its read/write
// loops, the negotiated compression contexts (one per direction, per
// spec.md §3's CompressionContext), and the negotiated subprotocol.
type wsState struct {
	conn    net.Conn
	broker  *conncore.Broker
	decoder *wsDecoder

	sendPMD     *wscompress.PerMessageDeflate
	crypto      *payloadcrypto.Context
	segmentSize int

	subprotocol string
}

func (ws *wsState) close(code int, reason string) {
	if ws.decoder.closeSent {
		ws.broker.Close(nil)
		return
	}
	ws.decoder.closeSent = true
	code, reason = wsframe.CheckClose(code, reason)

	var buf sliceWriter
	_ = wsframe.Encode(&buf, wsframe.SideClient, wsframe.Header{FIN: true, Opcode: wsframe.OpcodeClose}, wsframe.EncodeClose(code, reason))
	ws.broker.Send(buf.b)
	ws.broker.Close(nil)
}

// Connect dials the Client's target, performs the RFC 6455 opening
// handshake (retrying on a 401 authentication challenge until the auth
// state stops reporting Retry), and
// starts the broker's read/write loops, per spec.md §4.7 and §4.13.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := dial(c.opts, c.target)
	if err != nil {
		return err
	}

	host, port := hostPort(c.target)
	authority := host
	if port != 0 {
		authority = net.JoinHostPort(host, strconv.Itoa(port))
	}

	clientOpts := wshandshake.ClientOptions{
		Host:         authority,
		Path:         requestURI(c.target),
		Subprotocols: c.opts.Subprotocols,
		Extensions:   c.opts.Extensions,
	}

	var authState *httpmodel.State
	var extra httpmodel.Headers

	var resp httpmodel.Response
	var key string

	for {
		clientOpts.ExtraHeaders = extra
		req, k, err := wshandshake.BuildRequest(clientOpts)
		if err != nil {
			conn.Close()
			return err
		}
		key = k

		data := http1.WriteRequest(req.Method, req.URI, req.Version, req.Headers, req.Body, false)
		if _, err := conn.Write(data); err != nil {
			conn.Close()
			return awherr.Wrap(awherr.KindTransport, 0, "failed to write WebSocket handshake request", err)
		}

		p := http1.NewParser(http1.ModeResponse, http1.Limits{})
		if err := readHTTP1Message(conn, p); err != nil {
			conn.Close()
			return err
		}
		resp = httpmodel.Response{Version: p.Version, StatusCode: p.StatusCode, Reason: p.Reason, Headers: p.Headers, Body: p.Body}

		if resp.StatusCode != 401 || c.opts.Credentials == nil {
			break
		}

		raw, ok := resp.Headers.Get("WWW-Authenticate")
		if !ok {
			break
		}
		challenge, err := httpmodel.ParseChallenge(raw)
		if err != nil {
			conn.Close()
			return err
		}
		if authState == nil {
			authState = httpmodel.NewState(*c.opts.Credentials, c.opts.maxAuthAttempts())
		}
		value, outcome, err := authState.Respond(challenge, "GET", clientOpts.Path)
		if err != nil {
			conn.Close()
			return err
		}
		if outcome == httpmodel.Fault {
			conn.Close()
			return awherr.New(awherr.KindAuth, 401, "WebSocket handshake authentication failed")
		}
		extra = httpmodel.Headers{}
		extra.Set("Authorization", value)
	}

	if err := wshandshake.CheckResponse(resp, key); err != nil {
		conn.Close()
		return err
	}

	ws := &wsState{conn: conn, crypto: c.opts.Crypto, segmentSize: c.opts.SegmentSize}

	if sub, ok := resp.Headers.Get("Sec-WebSocket-Protocol"); ok {
		ws.subprotocol = sub
	}

	if extHeader, ok := resp.Headers.Get("Sec-WebSocket-Extensions"); ok && extHeader != "" {
		offers, err := wshandshake.ParseExtensionOffers(extHeader)
		if err != nil {
			conn.Close()
			return err
		}
		accept, found, err := wshandshake.NegotiatePermessageDeflate(offers, wshandshake.DeflateParams{})
		if err != nil {
			conn.Close()
			return err
		}
		if found {
			sendPMD, err := wscompress.NewPerMessageDeflate(wscompress.PerMessageDeflateParams{
				NoContextTakeover: accept.Params.ClientNoContextTakeover,
				MaxWindowBits:     accept.Params.ClientMaxWindowBits,
			})
			if err != nil {
				conn.Close()
				return err
			}
			recvPMD, err := wscompress.NewPerMessageDeflate(wscompress.PerMessageDeflateParams{
				NoContextTakeover: accept.Params.ServerNoContextTakeover,
				MaxWindowBits:     accept.Params.ServerMaxWindowBits,
			})
			if err != nil {
				conn.Close()
				return err
			}
			ws.sendPMD = sendPMD
			ws.decoder = &wsDecoder{side: wsframe.SideClient, recvPMD: recvPMD, crypto: ws.crypto, cb: c.cb, logger: c.brokerLogger()}
		}
	}

	if ws.decoder == nil {
		ws.decoder = &wsDecoder{side: wsframe.SideClient, crypto: ws.crypto, cb: c.cb, logger: c.brokerLogger()}
	}

	bid, broker, err := c.registerBroker(conncore.ProtocolWebSocket, conn, ws.decoder)
	if err != nil {
		conn.Close()
		return err
	}
	ws.broker = broker
	ws.decoder.broker = broker
	_ = bid

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	go broker.Run(ctx)

	if c.cb.Active != nil {
		c.cb.Active()
	}
	return nil
}

// Send transmits a WebSocket data message, applying PayloadCrypto (if
// configured), then CompressionCodec (if negotiated), then fragmenting
// per spec.md §4.1's policy before handing each frame to the Broker's
// write queue.
func (c *Client) Send(data []byte, binary bool) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return awherr.New(awherr.KindTransport, 0, "WebSocket connection is not established")
	}
	if ws.decoder.closeSent {
		return awherr.WS(awherr.WSProtocolError, "cannot send after a CLOSE frame")
	}

	opcode := wsframe.OpcodeText
	if binary {
		opcode = wsframe.OpcodeBinary
	}

	payload := data
	var err error
	if ws.crypto != nil {
		payload, err = ws.crypto.Encrypt(payload)
		if err != nil {
			return err
		}
	}

	rsv1 := false
	if ws.sendPMD != nil {
		compressed, err := ws.sendPMD.CompressMessage(payload)
		if err != nil {
			return err
		}
		if len(compressed) < len(payload) {
			payload = compressed
			rsv1 = true
		}
	}

	frames := wsframe.Fragment(opcode, payload, ws.segmentSize, rsv1)
	for _, f := range frames {
		var buf sliceWriter
		if err := wsframe.Encode(&buf, wsframe.SideClient, f.Header, f.Payload); err != nil {
			return err
		}
		if !ws.broker.Send(buf.b) {
			if c.cb.Unavailable != nil {
				c.cb.Unavailable()
			}
			return awherr.New(awherr.KindResource, 0, "WebSocket send queue is over capacity")
		}
	}
	return nil
}

// CloseWS sends a CLOSE frame with the given status code and reason
// (sanitized per spec.md §9 Open Question (c)) and tears down the
// connection. It is a no-op if no WebSocket connection is established.
func (c *Client) CloseWS(code int, reason string) {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		ws.close(code, reason)
	}
}

// Subprotocol returns the subprotocol the server selected, or "" if
// none was negotiated.
func (c *Client) Subprotocol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ""
	}
	return c.ws.subprotocol
}

func requestURI(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		return path + "?" + u.RawQuery
	}
	return path
}
