// Package webclient implements the WebClient half of the WebClient/
// WebServer facades component of spec.md §4.13: it coordinates
// everything below it (DnsResolver, ProxyStateMachines, Http1Parser,
// Http2Engine, WsHandshake, CompressionCodec, PayloadCrypto,
// ConnectionCore) into an open/close lifecycle with protocol
// selection, bounded redirect handling, authentication retry, and the
// per-request callback set a caller subscribes to.
//
// It is grounded on the teacher's pkg/websocket.Client
// (NewOrCachedClient/relayMessages/replaceConn/RefreshConnectionIn):
// its client shape is generalized from WebSocket-only framing to
// HTTP/1.1, HTTP/2, and WebSocket dispatch chosen by protocol
// negotiation. No standby connection is kept and a dropped connection
// is not reconnected.
package webclient

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/conncore"
	"github.com/kosmosnet/awh/pkg/httpmodel"
	"github.com/kosmosnet/awh/pkg/node"
	"github.com/kosmosnet/awh/pkg/payloadcrypto"
	"github.com/kosmosnet/awh/pkg/wshandshake"
)

// Protocol identifies which wire protocol a request is ultimately
// carried over, once negotiation (ALPN, or prior-knowledge for
// plaintext) has settled it.
type Protocol int

const (
	ProtocolAuto Protocol = iota
	ProtocolHTTP1
	ProtocolHTTP2
	ProtocolWebSocket
)

// Callbacks is the set of per-request/response events a caller may
// subscribe to, per spec.md §4.13. Every field is optional; a nil
// callback is simply not invoked.
type Callbacks struct {
	Active      func()
	Message     func(data []byte, binary bool)
	Entity      func(chunk []byte)
	Headers     func(h httpmodel.Headers)
	Complete    func(resp httpmodel.Response)
	End         func()
	Error       func(err error)
	Origin      func(origins []string)
	AltSvc      func(value string)
	Available   func(freed int64)
	Unavailable func()
}

// Options configures a [Client].
type Options struct {
	// URL is the target address, e.g. "https://example.com/path" or
	// "wss://example.com/socket".
	URL string

	Protocol Protocol // ProtocolAuto negotiates HTTP1 vs HTTP2 via ALPN.

	TLSConfig *tls.Config

	Proxy *node.ProxyConfig

	Credentials *httpmodel.Credentials
	MaxAuthAttempts int // default 15, per spec.md §4.6.

	MaxRedirects int // 0 selects the default of 10.

	Subprotocols []string
	Extensions   []wshandshake.ExtensionOffer

	Crypto *payloadcrypto.Context // non-nil enables PayloadCrypto on this connection.

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	SegmentSize int // WS fragmentation threshold; 0 disables fragmentation.

	Node     *node.Node
	SchemeID node.SchemeID // 0 means Client creates and owns its own Scheme.

	Logger *slog.Logger
}

func (o Options) maxRedirects() int {
	if o.MaxRedirects == 0 {
		return 10
	}
	return o.MaxRedirects
}

func (o Options) maxAuthAttempts() int {
	if o.MaxAuthAttempts == 0 {
		return 15
	}
	return o.MaxAuthAttempts
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Client is a WebClient facade bound to one target URL. It owns (or
// shares, if SchemeID was supplied) a [node.Scheme], and drives
// request/response or WebSocket exchanges over brokers it registers
// under that scheme.
type Client struct {
	opts Options
	cb   Callbacks

	node     *node.Node
	schemeID node.SchemeID
	ownsNode bool

	target *url.URL

	mu sync.Mutex

	ws *wsState // non-nil once Connect has been called at least once.
}

// New constructs a Client for opts, registering (or reusing) a Scheme
// on opts.Node. If opts.Node is nil, Client creates a private Node of
// its own with no global payload-memory cap.
func New(opts Options, cb Callbacks) (*Client, error) {
	target, err := url.Parse(opts.URL)
	if err != nil {
		return nil, awherr.Wrap(awherr.KindTransport, 0, "invalid target URL", err)
	}

	n := opts.Node
	ownsNode := false
	if n == nil {
		n = node.New(0)
		ownsNode = true
	}

	c := &Client{opts: opts, cb: cb, node: n, target: target, ownsNode: ownsNode}

	if opts.SchemeID != 0 {
		c.schemeID = opts.SchemeID
		return c, nil
	}

	family := node.FamilyIPv4
	sid, err := n.Scheme(node.SchemeConfig{
		Family:    family,
		SockKind:  schemeSockKind(target),
		TargetURL: opts.URL,
		Proxy:     proxyConfigOrZero(opts.Proxy),
		KeepAlive: node.KeepAliveConfig{
			ConnectTimeout: opts.ConnectTimeout.Milliseconds(),
			ReadTimeout:    opts.ReadTimeout.Milliseconds(),
			WriteTimeout:   opts.WriteTimeout.Milliseconds(),
		},
	})
	if err != nil {
		return nil, err
	}
	c.schemeID = sid
	return c, nil
}

// Close tears down every broker this Client registered and, if it
// created its own private Node, stops that Node too.
func (c *Client) Close() error {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		ws.close(awherr.WSGoingAway, "client closed")
	}

	err := c.node.Remove(c.schemeID)
	if c.ownsNode {
		if stopErr := c.node.Stop(context.Background()); err == nil {
			err = stopErr
		}
	}
	return err
}

func schemeSockKind(u *url.URL) node.SockKind {
	if u.Scheme == "https" || u.Scheme == "wss" {
		return node.SockTLS
	}
	return node.SockTCP
}

func proxyConfigOrZero(p *node.ProxyConfig) node.ProxyConfig {
	if p == nil {
		return node.ProxyConfig{}
	}
	return *p
}

func isSecure(u *url.URL) bool {
	return u.Scheme == "https" || u.Scheme == "wss"
}

func isWebSocketScheme(u *url.URL) bool {
	return u.Scheme == "ws" || u.Scheme == "wss"
}

func hostPort(u *url.URL) (host string, port int) {
	host = u.Hostname()
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
		return host, port
	}
	if isSecure(u) {
		return host, 443
	}
	return host, 80
}

func (c *Client) brokerLogger() *slog.Logger {
	return c.opts.logger()
}

func (c *Client) registerBroker(proto conncore.Protocol, conn conncore.Transport, decoder conncore.Decoder) (node.BrokerID, *conncore.Broker, error) {
	scheme, ok := c.node.SchemeByID(c.schemeID)
	if !ok {
		return 0, nil, awherr.New(awherr.KindTransport, 0, "unknown scheme id")
	}

	cap := scheme.Config.KeepAlive.BrokerMemoryCap
	queue := conncore.NewPayloadQueue(c.node.GlobalMemory(), cap)
	queue.SetCallbacks(func(freed int64) {
		if c.cb.Available != nil {
			c.cb.Available(freed)
		}
	}, func() {
		if c.cb.Unavailable != nil {
			c.cb.Unavailable()
		}
	})

	broker := conncore.NewBroker(uint64(0), uint64(c.schemeID), proto, conn, decoder, queue, c.brokerLogger(), 0)
	bid, err := c.node.AddBroker(c.schemeID, broker)
	if err != nil {
		return 0, nil, err
	}
	return bid, broker, nil
}
