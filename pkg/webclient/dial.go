package webclient

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/http1"
	"github.com/kosmosnet/awh/pkg/httpmodel"
	"github.com/kosmosnet/awh/pkg/proxy"
)

// dial opens the transport target requires: a direct TCP/TLS
// connection, or one preceded by a SOCKS5 or HTTP CONNECT negotiation
// through opts.Proxy, per spec.md §4.8's "on ESTABLISHED the caller
// switches the socket from proxy reads to application reads" handoff.
// The returned string is the ALPN protocol the TLS handshake
// negotiated ("h2" or "http/1.1"), or "" for a plaintext connection.
func dial(opts Options, target *url.URL) (net.Conn, string, error) {
	host, port := hostPort(target)

	dialTimeout := opts.ConnectTimeout
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}

	var conn net.Conn
	var err error

	if opts.Proxy != nil && opts.Proxy.Kind != "" {
		proxyAddr := net.JoinHostPort(opts.Proxy.Host, strconv.Itoa(opts.Proxy.Port))
		conn, err = net.DialTimeout("tcp", proxyAddr, dialTimeout)
		if err != nil {
			return nil, "", awherr.Wrap(awherr.KindTransport, 0, "failed to dial proxy", err)
		}

		var creds *httpmodel.Credentials
		if opts.Proxy.Username != "" || opts.Proxy.Password != "" {
			creds = &httpmodel.Credentials{Username: opts.Proxy.Username, Password: opts.Proxy.Password}
		}

		switch opts.Proxy.Kind {
		case "socks5":
			if err := negotiateSocks5(conn, creds, host, uint16(port)); err != nil {
				conn.Close()
				return nil, "", err
			}
		case "http-connect", "http", "https":
			if err := negotiateHTTPConnect(conn, creds, host, port); err != nil {
				conn.Close()
				return nil, "", err
			}
		default:
			conn.Close()
			return nil, "", awherr.New(awherr.KindProxy, 0, "unsupported proxy kind: "+opts.Proxy.Kind)
		}
	} else {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		conn, err = net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			return nil, "", awherr.Wrap(awherr.KindTransport, 0, "failed to dial target", err)
		}
	}

	alpn := ""
	if isSecure(target) {
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: host}
		} else if cfg.ServerName == "" {
			clone := cfg.Clone()
			clone.ServerName = host
			cfg = clone
		}
		if len(cfg.NextProtos) == 0 {
			clone := cfg.Clone()
			clone.NextProtos = alpnProtocols(opts.Protocol)
			cfg = clone
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			conn.Close()
			return nil, "", awherr.Wrap(awherr.KindTLS, 0, "TLS handshake failed", err)
		}
		conn = tlsConn
		alpn = tlsConn.ConnectionState().NegotiatedProtocol
	}

	return conn, alpn, nil
}

// alpnProtocols returns the ALPN protocol IDs to offer during the TLS
// handshake for the given protocol preference, per spec.md §4.5's ALPN
// negotiation note ("h2" before "http/1.1" when either is acceptable).
func alpnProtocols(p Protocol) []string {
	switch p {
	case ProtocolHTTP2:
		return []string{"h2"}
	case ProtocolHTTP1:
		return []string{"http/1.1"}
	default:
		return []string{"h2", "http/1.1"}
	}
}

// negotiateSocks5 drives [proxy.Socks5Client] synchronously to
// completion over conn, per spec.md §4.8.
func negotiateSocks5(conn net.Conn, creds *httpmodel.Credentials, host string, port uint16) error {
	sc := proxy.NewSocks5Client(creds)

	if _, err := conn.Write(sc.Greeting()); err != nil {
		return awherr.Wrap(awherr.KindProxy, 0, "failed to write SOCKS5 greeting", err)
	}
	if err := feedBytewise(conn, sc.HandleGreetingReply); err != nil {
		return err
	}

	if sc.State() == proxy.Socks5AuthRequired {
		req, err := sc.AuthRequest()
		if err != nil {
			return err
		}
		if _, err := conn.Write(req); err != nil {
			return awherr.Wrap(awherr.KindProxy, 0, "failed to write SOCKS5 auth request", err)
		}
		if err := feedBytewise(conn, sc.HandleAuthReply); err != nil {
			return err
		}
	}

	req, err := sc.ConnectRequest(host, port)
	if err != nil {
		return err
	}
	if _, err := conn.Write(req); err != nil {
		return awherr.Wrap(awherr.KindProxy, 0, "failed to write SOCKS5 CONNECT request", err)
	}
	return feedBytewise(conn, sc.HandleConnectReply)
}

// negotiateHTTPConnect drives [proxy.HTTPConnectClient] synchronously
// to completion over conn, retrying with Proxy-Authorization for as
// long as the proxy keeps challenging with 407 and HandleResponse
// reports a retry.
func negotiateHTTPConnect(conn net.Conn, creds *httpmodel.Credentials, host string, port int) error {
	pc := proxy.NewHTTPConnectClient(host, port, creds)

	authHeader := ""
	for {
		if _, err := conn.Write(pc.Request(authHeader)); err != nil {
			return awherr.Wrap(awherr.KindProxy, 0, "failed to write CONNECT request", err)
		}

		p := http1.NewParser(http1.ModeResponse, http1.Limits{})
		if err := readHTTP1Message(conn, p); err != nil {
			return err
		}

		resp := httpmodel.Response{Version: p.Version, StatusCode: p.StatusCode, Reason: p.Reason, Headers: p.Headers, Body: p.Body}
		next, retry, err := pc.HandleResponse(resp)
		if err != nil {
			return err
		}
		if !retry {
			return nil
		}
		authHeader = next
	}
}

// feedBytewise drives a proxy negotiation step function (which reports
// needMore rather than blocking) over conn, reading one byte at a time
// since proxy handshake messages are small and this keeps the helper
// transport-agnostic.
func feedBytewise(conn net.Conn, step func(buf []byte) (consumed int, needMore bool, err error)) error {
	var buf []byte
	one := make([]byte, 1)
	for {
		_, needMore, err := step(buf)
		if err != nil {
			return err
		}
		if !needMore {
			return nil
		}
		n, rerr := conn.Read(one)
		if n > 0 {
			buf = append(buf, one[:n]...)
		}
		if rerr != nil {
			return awherr.Wrap(awherr.KindProxy, 0, "connection closed during proxy negotiation", rerr)
		}
	}
}

// readHTTP1Message reads from conn until p reaches StateDone or
// StateBroken, per http1.Parser's re-entrant Feed contract.
func readHTTP1Message(conn net.Conn, p *http1.Parser) error {
	buf := make([]byte, 4096)
	var pending []byte
	for !p.Done() && !p.Broken() {
		n, err := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for len(pending) > 0 {
				consumed, ferr := p.Feed(pending)
				if ferr != nil {
					return ferr
				}
				if consumed == 0 {
					break
				}
				pending = pending[consumed:]
			}
		}
		if p.Done() || p.Broken() {
			break
		}
		if err != nil {
			return awherr.Wrap(awherr.KindTransport, 0, "connection closed while reading HTTP/1.1 message", err)
		}
	}
	if p.Broken() {
		return p.Err
	}
	return nil
}

