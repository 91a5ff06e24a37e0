package webclient

import (
	"net"
	"net/url"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/http1"
	"github.com/kosmosnet/awh/pkg/httpmodel"
	"github.com/kosmosnet/awh/pkg/wscompress"
)

// Do performs one HTTP/1.1 request/response exchange against the
// Client's target, following redirects (bounded by opts.MaxRedirects)
// and retrying on a Basic/Digest authentication challenge until the
// auth state reports Fault (bounded by opts.MaxAuthAttempts), per
// spec.md §4.13's "redirect handling bounded by attempts" and §4.6's
// authentication retry. Each call dials a fresh connection; callers
// wanting a persistent WebSocket session should use [Client.Connect]
// instead.
func (c *Client) Do(req httpmodel.Request) (httpmodel.Response, error) {
	target := c.target
	var authState *httpmodel.State

	for attempt := 0; attempt <= c.opts.maxRedirects(); attempt++ {
		resp, conn, err := doOnce(c.opts, target, req)
		if conn != nil {
			conn.Close()
		}
		if err != nil {
			return httpmodel.Response{}, err
		}

		if resp.StatusCode == 401 && c.opts.Credentials != nil {
			raw, ok := resp.Headers.Get("WWW-Authenticate")
			if ok {
				challenge, err := httpmodel.ParseChallenge(raw)
				if err == nil {
					if authState == nil {
						authState = httpmodel.NewState(*c.opts.Credentials, c.opts.maxAuthAttempts())
					}
					value, outcome, err := authState.Respond(challenge, req.Method, req.URI)
					if err == nil && outcome != httpmodel.Fault {
						req.Headers.Set("Authorization", value)
						continue
					}
				}
			}
		}

		if isRedirect(resp.StatusCode) {
			loc, ok := resp.Headers.Get("Location")
			if ok {
				next, err := target.Parse(loc)
				if err == nil {
					target = next
					req.URI = requestURI(target)
					req.Headers.Set("Host", target.Host)
					continue
				}
			}
		}

		return decodeBody(resp)
	}

	return httpmodel.Response{}, awherr.New(awherr.KindTransport, 0, "too many redirects")
}

func isRedirect(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	default:
		return false
	}
}

func doOnce(opts Options, target *url.URL, req httpmodel.Request) (httpmodel.Response, net.Conn, error) {
	conn, alpn, err := dial(opts, target)
	if err != nil {
		return httpmodel.Response{}, nil, err
	}

	if !req.Headers.Has("Host") {
		req.Headers.Set("Host", target.Host)
	}
	if !req.Headers.Has("Accept-Encoding") {
		req.Headers.Set("Accept-Encoding", "gzip, deflate, br")
	}

	if alpn == "h2" || (alpn == "" && !isSecure(target) && opts.Protocol == ProtocolHTTP2) {
		resp, err := doOnceHTTP2(conn, req, isSecure(target))
		return resp, conn, err
	}

	data := http1.WriteRequest(req.Method, req.URI, req.Version, req.Headers, req.Body, false)
	if _, err := conn.Write(data); err != nil {
		return httpmodel.Response{}, conn, awherr.Wrap(awherr.KindTransport, 0, "failed to write HTTP/1.1 request", err)
	}

	p := http1.NewParser(http1.ModeResponse, http1.Limits{})
	if err := readHTTP1Message(conn, p); err != nil {
		return httpmodel.Response{}, conn, err
	}

	resp := httpmodel.Response{Version: p.Version, StatusCode: p.StatusCode, Reason: p.Reason, Headers: p.Headers, Body: p.Body}
	return resp, conn, nil
}

// decodeBody applies Content-Encoding decompression, per spec.md
// §4.2/§4.6's content-negotiation contract.
func decodeBody(resp httpmodel.Response) (httpmodel.Response, error) {
	enc, ok := resp.Headers.Get("Content-Encoding")
	if !ok || enc == "" {
		return resp, nil
	}
	method := httpmodel.MethodFromContentEncoding(enc)
	if method == wscompress.MethodNone {
		return resp, nil
	}
	body, err := wscompress.Decompress(method, resp.Body)
	if err != nil {
		return httpmodel.Response{}, err
	}
	resp.Body = body
	resp.Headers.Del("Content-Encoding")
	return resp, nil
}
