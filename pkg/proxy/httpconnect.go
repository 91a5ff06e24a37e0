package proxy

import (
	"net"
	"strconv"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/http1"
	"github.com/kosmosnet/awh/pkg/httpmodel"
)

// HTTPConnectClient drives an HTTP CONNECT negotiation through an
// HTTP(S) proxy, per spec.md §4.8. Parsing of the proxy's response is
// the caller's responsibility (typically fed through an [http1.Parser]
// in ModeResponse); HTTPConnectClient only builds requests and
// interprets the assembled response.
type HTTPConnectClient struct {
	host string
	port int

	creds    *httpmodel.Credentials
	authImpl *httpmodel.State
}

// NewHTTPConnectClient constructs a client targeting host:port. creds
// may be nil if the proxy requires no authentication.
func NewHTTPConnectClient(host string, port int, creds *httpmodel.Credentials) *HTTPConnectClient {
	return &HTTPConnectClient{host: host, port: port, creds: creds}
}

// Request builds the CONNECT request bytes. authHeader, when non-empty,
// is attached as Proxy-Authorization (typically produced by a prior
// call to [HTTPConnectClient.HandleResponse]).
func (c *HTTPConnectClient) Request(authHeader string) []byte {
	hostport := net.JoinHostPort(c.host, strconv.Itoa(c.port))

	var h httpmodel.Headers
	h.Set("Host", hostport)
	h.Set("Proxy-Connection", "keep-alive")
	if authHeader != "" {
		h.Set("Proxy-Authorization", authHeader)
	}

	return http1.WriteRequest("CONNECT", hostport, "HTTP/1.1", h, nil, false)
}

// HandleResponse consults the proxy's parsed response. A 200 status
// means the tunnel is established: the caller switches this broker from
// "proxy reads" to "application reads". A 407 consults the
// authentication retry state: if credentials are configured and
// attempts remain, it returns the Proxy-Authorization value to retry
// the request with; otherwise it fails.
func (c *HTTPConnectClient) HandleResponse(resp httpmodel.Response) (authHeader string, retry bool, err error) {
	switch resp.StatusCode {
	case 200:
		return "", false, nil

	case 407:
		if c.creds == nil {
			return "", false, awherr.New(awherr.KindProxy, 407, "proxy requires authentication but no credentials are configured")
		}

		raw, ok := resp.Headers.Get("Proxy-Authenticate")
		if !ok {
			return "", false, awherr.New(awherr.KindProxy, 407, "407 response missing Proxy-Authenticate header")
		}
		challenge, err := httpmodel.ParseChallenge(raw)
		if err != nil {
			return "", false, err
		}

		if c.authImpl == nil {
			c.authImpl = httpmodel.NewState(*c.creds, 15)
		}

		hostport := net.JoinHostPort(c.host, strconv.Itoa(c.port))
		value, outcome, err := c.authImpl.Respond(challenge, "CONNECT", hostport)
		if err != nil {
			return "", false, err
		}
		if outcome == httpmodel.Fault {
			return "", false, awherr.New(awherr.KindProxy, 407, "proxy authentication failed")
		}
		return value, true, nil

	default:
		return "", false, awherr.New(awherr.KindProxy, resp.StatusCode, "HTTP CONNECT failed: "+resp.Reason)
	}
}
