// Package wshandshake implements the WsHandshake component: the RFC
// 6455 opening handshake (Sec-WebSocket-Key/Accept) on both the client
// and server side, plus permessage-deflate extension negotiation and
// subprotocol selection.
package wshandshake

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // required by RFC 6455, not used for security.
	"encoding/base64"
	"io"
	"strings"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/httpmodel"
)

// acceptGUID is the magic value RFC 6455 §1.3 appends to the client's
// nonce before hashing it into Sec-WebSocket-Accept.
var acceptGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// GenerateKey returns a random, base64-encoded 16-byte nonce for use as
// a client's Sec-WebSocket-Key.
func GenerateKey() (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", awherr.WrapWS(0, "failed to generate Sec-WebSocket-Key nonce", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// ExpectedAccept computes the Sec-WebSocket-Accept value a server must
// return for the given client key.
//
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.2.2
func ExpectedAccept(key string) string {
	h := sha1.New() //nolint:gosec // required by RFC 6455.
	h.Write([]byte(key))
	h.Write(acceptGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ClientOptions configures BuildRequest.
type ClientOptions struct {
	Host         string
	Path         string
	Subprotocols []string
	Extensions   []ExtensionOffer
	ExtraHeaders httpmodel.Headers
}

// BuildRequest constructs the client's HTTP/1.1 handshake request and
// returns the Sec-WebSocket-Key it generated, so the caller can verify
// the server's response against it.
//
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.1
func BuildRequest(opts ClientOptions) (httpmodel.Request, string, error) {
	key, err := GenerateKey()
	if err != nil {
		return httpmodel.Request{}, "", err
	}

	req := httpmodel.Request{
		Method:  "GET",
		URI:     opts.Path,
		Version: "HTTP/1.1",
		Headers: opts.ExtraHeaders.Clone(),
	}
	req.Headers.Set("Host", opts.Host)
	req.Headers.Set("Upgrade", "websocket")
	req.Headers.Set("Connection", "Upgrade")
	req.Headers.Set("Sec-WebSocket-Key", key)
	req.Headers.Set("Sec-WebSocket-Version", "13")
	if len(opts.Subprotocols) > 0 {
		req.Headers.Set("Sec-WebSocket-Protocol", strings.Join(opts.Subprotocols, ", "))
	}
	if len(opts.Extensions) > 0 {
		req.Headers.Set("Sec-WebSocket-Extensions", EncodeExtensionOffers(opts.Extensions))
	}

	return req, key, nil
}

// CheckResponse validates a server's handshake response against the
// client key that was sent, per RFC 6455 §4.1 step 5.
func CheckResponse(resp httpmodel.Response, key string) error {
	if resp.StatusCode != 101 {
		return awherr.WS(awherr.WSProtocolError, "WebSocket handshake response status is not 101 Switching Protocols")
	}
	if err := checkHeaderEqualFold(resp.Headers, "Upgrade", "websocket"); err != nil {
		return err
	}
	if err := checkHeaderEqualFold(resp.Headers, "Connection", "Upgrade"); err != nil {
		return err
	}

	want := ExpectedAccept(key)
	got, ok := resp.Headers.Get("Sec-WebSocket-Accept")
	if !ok || got != want {
		return awherr.WS(awherr.WSProtocolError, "Sec-WebSocket-Accept does not match the expected value")
	}
	return nil
}

func checkHeaderEqualFold(h httpmodel.Headers, name, want string) error {
	got, ok := h.Get(name)
	if !ok || !strings.EqualFold(got, want) {
		return awherr.WS(awherr.WSProtocolError, "missing or unexpected "+name+" header in WebSocket handshake")
	}
	return nil
}

// CheckRequest validates an incoming HTTP/1.1 request as a well-formed
// WebSocket opening handshake and returns its Sec-WebSocket-Key.
func CheckRequest(req httpmodel.Request) (string, error) {
	if req.Method != "GET" {
		return "", awherr.WS(awherr.WSProtocolError, "WebSocket handshake request method must be GET")
	}
	if err := checkHeaderEqualFold(req.Headers, "Upgrade", "websocket"); err != nil {
		return "", err
	}
	if err := checkHeaderEqualFold(req.Headers, "Connection", "Upgrade"); err != nil {
		return "", err
	}
	version, ok := req.Headers.Get("Sec-WebSocket-Version")
	if !ok || version != "13" {
		return "", awherr.WS(awherr.WSProtocolError, "unsupported or missing Sec-WebSocket-Version")
	}
	key, ok := req.Headers.Get("Sec-WebSocket-Key")
	if !ok || key == "" {
		return "", awherr.WS(awherr.WSProtocolError, "missing Sec-WebSocket-Key")
	}
	return key, nil
}

// ServerOptions configures BuildResponse.
type ServerOptions struct {
	Subprotocol  string
	Extension    *ExtensionAccept
	ExtraHeaders httpmodel.Headers
}

// BuildResponse constructs the server's 101 handshake response.
func BuildResponse(key string, opts ServerOptions) httpmodel.Response {
	resp := httpmodel.Response{
		Version:    "HTTP/1.1",
		StatusCode: 101,
		Reason:     "Switching Protocols",
		Headers:    opts.ExtraHeaders.Clone(),
	}
	resp.Headers.Set("Upgrade", "websocket")
	resp.Headers.Set("Connection", "Upgrade")
	resp.Headers.Set("Sec-WebSocket-Accept", ExpectedAccept(key))
	if opts.Subprotocol != "" {
		resp.Headers.Set("Sec-WebSocket-Protocol", opts.Subprotocol)
	}
	if opts.Extension != nil {
		resp.Headers.Set("Sec-WebSocket-Extensions", EncodeExtensionAccept(*opts.Extension))
	}
	return resp
}

// SelectSubprotocol picks the first entry of offered that appears in
// supported, preserving the client's preference order.
func SelectSubprotocol(offered, supported []string) (string, bool) {
	for _, want := range offered {
		for _, have := range supported {
			if want == have {
				return want, true
			}
		}
	}
	return "", false
}
