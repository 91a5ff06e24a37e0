package proxy_test

import (
	"strings"
	"testing"

	"github.com/kosmosnet/awh/pkg/httpmodel"
	"github.com/kosmosnet/awh/pkg/proxy"
)

func TestHTTPConnectRequest(t *testing.T) {
	c := proxy.NewHTTPConnectClient("example.org", 443, nil)
	req := string(c.Request(""))

	if !strings.HasPrefix(req, "CONNECT example.org:443 HTTP/1.1\r\n") {
		t.Fatalf("unexpected request line: %q", req)
	}
	if !strings.Contains(req, "Host: example.org:443\r\n") {
		t.Fatalf("missing Host header: %q", req)
	}
	if strings.Contains(req, "Proxy-Authorization") {
		t.Fatalf("unexpected Proxy-Authorization with no auth header: %q", req)
	}
}

func TestHTTPConnectRequestWithAuth(t *testing.T) {
	c := proxy.NewHTTPConnectClient("example.org", 443, nil)
	req := string(c.Request("Basic dXNlcjpwYXNz"))
	if !strings.Contains(req, "Proxy-Authorization: Basic dXNlcjpwYXNz\r\n") {
		t.Fatalf("missing Proxy-Authorization header: %q", req)
	}
}

func TestHTTPConnectHandleResponse200(t *testing.T) {
	c := proxy.NewHTTPConnectClient("example.org", 443, nil)
	_, retry, err := c.HandleResponse(httpmodel.Response{StatusCode: 200})
	if err != nil || retry {
		t.Fatalf("HandleResponse(200) = (_, %v, %v), want (_, false, nil)", retry, err)
	}
}

func TestHTTPConnectHandleResponse407RetriesWithCredentials(t *testing.T) {
	creds := &httpmodel.Credentials{Username: "u", Password: "p"}
	c := proxy.NewHTTPConnectClient("example.org", 443, creds)

	var h httpmodel.Headers
	h.Set("Proxy-Authenticate", `Basic realm="proxy"`)

	authHeader, retry, err := c.HandleResponse(httpmodel.Response{StatusCode: 407, Headers: h})
	if err != nil {
		t.Fatal(err)
	}
	if !retry {
		t.Fatal("expected retry=true on 407 with credentials configured")
	}
	if !strings.HasPrefix(authHeader, "Basic ") {
		t.Fatalf("unexpected Proxy-Authorization value: %q", authHeader)
	}
}

func TestHTTPConnectHandleResponse407WithoutCredentialsFails(t *testing.T) {
	c := proxy.NewHTTPConnectClient("example.org", 443, nil)
	_, _, err := c.HandleResponse(httpmodel.Response{StatusCode: 407})
	if err == nil {
		t.Fatal("expected an error for 407 with no credentials configured")
	}
}

func TestHTTPConnectHandleResponseOtherStatusFails(t *testing.T) {
	c := proxy.NewHTTPConnectClient("example.org", 443, nil)
	_, _, err := c.HandleResponse(httpmodel.Response{StatusCode: 502, Reason: "Bad Gateway"})
	if err == nil {
		t.Fatal("expected an error for a non-200/407 status")
	}
}
