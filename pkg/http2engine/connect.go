package http2engine

import (
	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/httpmodel"
)

// ExtendedConnectRequest builds the pseudo-headers for an RFC 8441
// extended CONNECT request that establishes a WebSocket tunnel over an
// HTTP/2 stream: a CONNECT request carrying `:protocol: websocket`,
// `:scheme: https`, `:authority`, and `:path`.
//
// https://datatracker.ietf.org/doc/html/rfc8441#section-4
func (c *HeaderCodec) ExtendedConnectRequest(authority, path string, extraHeaders httpmodel.Headers) ([]byte, error) {
	var fields = []struct{ name, value string }{
		{":method", "CONNECT"},
		{":protocol", "websocket"},
		{":scheme", "https"},
		{":path", path},
		{":authority", authority},
	}

	c.buf.Reset()
	for _, f := range fields {
		if err := c.encField(f.name, f.value); err != nil {
			return nil, err
		}
	}

	var encErr error
	extraHeaders.Range(func(name, value string) {
		if encErr != nil {
			return
		}
		encErr = c.encField(name, value)
	})
	if encErr != nil {
		return nil, encErr
	}

	return append([]byte(nil), c.buf.Bytes()...), nil
}

// IsWebSocketTunnelEstablished reports whether a response to an
// extended CONNECT request successfully established the tunnel: a
// `:status` of 200.
func IsWebSocketTunnelEstablished(resp httpmodel.Response) bool {
	return resp.StatusCode == 200
}

// ValidateExtendedConnectRequest checks that a decoded request is a
// well-formed RFC 8441 extended CONNECT (a :protocol pseudo-header
// equal to "websocket"); Http2Engine's generic DecodeRequest already
// enforces the baseline CONNECT pseudo-header requirements
// (:method, :authority).
func ValidateExtendedConnectRequest(req httpmodel.Request) error {
	if req.Method != "CONNECT" {
		return awherr.HTTP2(awherr.H2ProtocolError, "extended CONNECT requires :method CONNECT")
	}
	protocol, _ := req.Headers.Get(":protocol")
	if protocol != "websocket" {
		return awherr.HTTP2(awherr.H2ProtocolError, "unsupported extended CONNECT :protocol")
	}
	return nil
}
