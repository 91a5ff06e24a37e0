// Package webserver implements the WebServer half of the WebClient/
// WebServer facades component of spec.md §4.13: it accepts connections,
// dispatches plain HTTP/1.1 requests to a Handler, and upgrades
// WebSocket handshakes into long-lived Brokers, driven through the same
// ConnectionCore abstraction pkg/webclient uses.
//
// Grounded on the teacher's pkg/http/webhooks (httpServer.Run's
// http.HandleFunc-based accept-and-dispatch shape), generalized from
// net/http's connection handling to this module's own Http1Parser/
// ConnectionCore so request parsing stays the incremental, re-entrant
// state machine the rest of the module uses instead of net/http's.
package webserver

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"strings"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/conncore"
	"github.com/kosmosnet/awh/pkg/http1"
	"github.com/kosmosnet/awh/pkg/http2engine"
	"github.com/kosmosnet/awh/pkg/httpmodel"
	"github.com/kosmosnet/awh/pkg/node"
	"github.com/kosmosnet/awh/pkg/payloadcrypto"
	"github.com/kosmosnet/awh/pkg/wscompress"
	"github.com/kosmosnet/awh/pkg/wshandshake"
)

// HTTPHandler answers a plain HTTP/1.1 request.
type HTTPHandler func(req httpmodel.Request) httpmodel.Response

// WSHandler is the set of callbacks a caller subscribes to for upgraded
// WebSocket connections, mirroring pkg/webclient.Callbacks's shape for
// the server side.
type WSHandler struct {
	// Accept decides whether to upgrade the handshake request req, and
	// which subprotocol (if any) to select. A nil Accept always accepts,
	// selecting a subprotocol from Options.Subprotocols if one matches.
	Accept func(req httpmodel.Request) (subprotocol string, ok bool)

	Active  func(conn *Conn)
	Message func(conn *Conn, data []byte, binary bool)
	End     func(conn *Conn)
}

// Options configures a [Server].
type Options struct {
	TLSConfig *tls.Config

	Subprotocols []string

	// DeflatePolicy controls how permessage-deflate offers are accepted:
	// its fields are the server's minimum requirements (e.g. requiring
	// no_context_takeover), not a toggle. The server always accepts a
	// permessage-deflate offer when one is present.
	DeflatePolicy wshandshake.DeflateParams

	Crypto *payloadcrypto.Context

	SegmentSize int

	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Server accepts connections on a [net.Listener] and dispatches them
// per spec.md §4.13.
type Server struct {
	ln   net.Listener
	opts Options

	http HTTPHandler
	ws   WSHandler

	node     *node.Node
	schemeID node.SchemeID
	ownsNode bool
}

// New constructs a Server bound to ln. If n is nil, the Server creates
// and owns a private [node.Node].
func New(ln net.Listener, n *node.Node, opts Options, http HTTPHandler, ws WSHandler) (*Server, error) {
	ownsNode := false
	if n == nil {
		n = node.New(0)
		ownsNode = true
	}

	family := node.FamilyIPv4
	sid, err := n.Scheme(node.SchemeConfig{Family: family, SockKind: node.SockTCP})
	if err != nil {
		return nil, err
	}

	return &Server{ln: ln, opts: opts, http: http, ws: ws, node: n, schemeID: sid, ownsNode: ownsNode}, nil
}

// Serve accepts connections until ctx is cancelled or the listener
// returns an error, per spec.md §4.9's accept-loop description.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return awherr.Wrap(awherr.KindTransport, 0, "accept failed", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// Close tears down every broker this Server registered and, if it
// created its own private Node, stops that Node too.
func (s *Server) Close() error {
	err := s.node.Remove(s.schemeID)
	if s.ownsNode {
		if stopErr := s.node.Stop(context.Background()); err == nil {
			err = stopErr
		}
	}
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	if s.opts.TLSConfig != nil {
		tlsConn := tls.Server(conn, s.opts.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return
		}
		conn = tlsConn
	}

	pending, isH2, err := peekHTTP2Preface(conn)
	if err != nil {
		conn.Close()
		return
	}
	if isH2 {
		s.handleHTTP2(conn)
		return
	}

	for {
		p := http1.NewParser(http1.ModeRequest, http1.Limits{})
		var err error
		pending, err = feedParser(conn, p, pending)
		if err != nil {
			conn.Close()
			return
		}
		if p.Broken() {
			conn.Close()
			return
		}

		req := httpmodel.Request{Method: p.Method, URI: p.URI, Version: p.Version, Headers: p.Headers, Body: p.Body}

		if isUpgradeRequest(req) {
			s.handleUpgrade(ctx, conn, req, pending)
			return
		}

		keepAlive := !closeRequested(req)
		if !s.handleHTTP1(conn, req) {
			conn.Close()
			return
		}
		if !keepAlive {
			conn.Close()
			return
		}
	}
}

func (s *Server) handleHTTP1(conn net.Conn, req httpmodel.Request) bool {
	var resp httpmodel.Response
	if s.http != nil {
		resp = s.http(req)
	} else {
		resp = httpmodel.Response{Version: "HTTP/1.1", StatusCode: 404, Reason: "Not Found"}
	}

	data := http1.WriteResponse(resp.Version, resp.StatusCode, resp.Reason, resp.Headers, resp.Body, false)
	_, err := conn.Write(data)
	return err == nil
}

func (s *Server) handleUpgrade(ctx context.Context, conn net.Conn, req httpmodel.Request, pending []byte) {
	key, err := wshandshake.CheckRequest(req)
	if err != nil {
		conn.Close()
		return
	}

	subprotocol := ""
	if s.ws.Accept != nil {
		sub, ok := s.ws.Accept(req)
		if !ok {
			conn.Close()
			return
		}
		subprotocol = sub
	} else if len(s.opts.Subprotocols) > 0 {
		if offered, ok := req.Headers.Get("Sec-WebSocket-Protocol"); ok {
			want := splitCSV(offered)
			if sub, ok := wshandshake.SelectSubprotocol(want, s.opts.Subprotocols); ok {
				subprotocol = sub
			}
		}
	}

	serverOpts := wshandshake.ServerOptions{Subprotocol: subprotocol}

	var sendPMD, recvPMD *wscompress.PerMessageDeflate
	if extHeader, ok := req.Headers.Get("Sec-WebSocket-Extensions"); ok && extHeader != "" {
		offers, err := wshandshake.ParseExtensionOffers(extHeader)
		if err == nil {
			accept, found, err := wshandshake.NegotiatePermessageDeflate(offers, s.opts.DeflatePolicy)
			if err == nil && found {
				serverOpts.Extension = &accept
				sendPMD, _ = wscompress.NewPerMessageDeflate(wscompress.PerMessageDeflateParams{
					NoContextTakeover: accept.Params.ServerNoContextTakeover,
					MaxWindowBits:     accept.Params.ServerMaxWindowBits,
				})
				recvPMD, _ = wscompress.NewPerMessageDeflate(wscompress.PerMessageDeflateParams{
					NoContextTakeover: accept.Params.ClientNoContextTakeover,
					MaxWindowBits:     accept.Params.ClientMaxWindowBits,
				})
			}
		}
	}

	resp := wshandshake.BuildResponse(key, serverOpts)
	data := http1.WriteResponse(resp.Version, resp.StatusCode, resp.Reason, resp.Headers, resp.Body, false)
	if _, err := conn.Write(data); err != nil {
		conn.Close()
		return
	}

	wsc := &Conn{conn: conn, sendPMD: sendPMD, crypto: s.opts.Crypto, segmentSize: s.opts.SegmentSize, subprotocol: subprotocol}
	decoder := &serverDecoder{recvPMD: recvPMD, crypto: s.opts.Crypto, handler: s.ws, wsc: wsc}

	queue := conncore.NewPayloadQueue(s.node.GlobalMemory(), 0)
	broker := conncore.NewBroker(0, uint64(s.schemeID), conncore.ProtocolWebSocket, conn, decoder, queue, s.opts.logger(), 0)
	bid, err := s.node.AddBroker(s.schemeID, broker)
	if err != nil {
		conn.Close()
		return
	}
	_ = bid
	wsc.broker = broker
	decoder.broker = broker

	if len(pending) > 0 {
		if _, err := decoder.Feed(pending); err != nil {
			conn.Close()
			return
		}
	}

	if s.ws.Active != nil {
		s.ws.Active(wsc)
	}
	broker.Run(ctx)
}

// peekHTTP2Preface reads bytes off conn until it can determine whether
// the connection opens with the HTTP/2 client connection preface
// (RFC 9113 §3.4, "prior knowledge"). It returns any bytes read so the
// HTTP/1.1 path can replay them if the preface doesn't match.
func peekHTTP2Preface(conn net.Conn) ([]byte, bool, error) {
	want := http2engine.Preface
	buf := make([]byte, 0, len(want))

	for len(buf) < len(want) {
		chunk := make([]byte, len(want)-len(buf))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return buf, false, nil
		}
	}

	for i := range want {
		if buf[i] != want[i] {
			return buf, false, nil
		}
	}
	return nil, true, nil
}

func feedParser(conn net.Conn, p *http1.Parser, pending []byte) ([]byte, error) {
	buf := make([]byte, 4096)
	for !p.Done() && !p.Broken() {
		for len(pending) > 0 {
			consumed, ferr := p.Feed(pending)
			if ferr != nil {
				return pending, ferr
			}
			if consumed == 0 {
				break
			}
			pending = pending[consumed:]
			if p.Done() {
				return pending, nil
			}
		}
		if p.Done() {
			return pending, nil
		}
		n, err := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
		}
		if err != nil {
			return pending, awherr.Wrap(awherr.KindTransport, 0, "connection closed while reading HTTP/1.1 request", err)
		}
	}
	return pending, nil
}

func isUpgradeRequest(req httpmodel.Request) bool {
	v, ok := req.Headers.Get("Upgrade")
	return ok && strings.EqualFold(v, "websocket")
}

func closeRequested(req httpmodel.Request) bool {
	v, ok := req.Headers.Get("Connection")
	if !ok {
		return req.Version == "HTTP/1.0"
	}
	return strings.EqualFold(v, "close")
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
