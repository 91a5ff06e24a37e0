package proxy_test

import (
	"testing"

	"github.com/kosmosnet/awh/pkg/httpmodel"
	"github.com/kosmosnet/awh/pkg/proxy"
)

// TestSocks5FullNegotiation follows spec.md §8 S5's wire sequence for a
// SOCKS5 proxy with username/password authentication:
//
//	greeting {0x05 0x01 0x02} -> {0x05 0x02}
//	user/pass {0x01 len u len p} -> {0x01 0x00}
//	CONNECT {0x05 0x01 0x00 0x03 len h 0x01 0xBB} -> {0x05 0x00 ...}
func TestSocks5FullNegotiation(t *testing.T) {
	creds := &httpmodel.Credentials{Username: "u", Password: "p"}
	c := proxy.NewSocks5Client(creds)

	greeting := c.Greeting()
	want := []byte{0x05, 0x01, 0x02}
	if string(greeting) != string(want) {
		t.Fatalf("Greeting() = %x, want %x", greeting, want)
	}

	consumed, needMore, err := c.HandleGreetingReply([]byte{0x05, 0x02})
	if err != nil || needMore || consumed != 2 {
		t.Fatalf("HandleGreetingReply() = (%d, %v, %v)", consumed, needMore, err)
	}
	if c.State() != proxy.Socks5AuthRequired {
		t.Fatalf("state = %v, want AUTH_REQUIRED", c.State())
	}

	authReq, err := c.AuthRequest()
	if err != nil {
		t.Fatal(err)
	}
	wantAuth := []byte{0x01, 1, 'u', 1, 'p'}
	if string(authReq) != string(wantAuth) {
		t.Fatalf("AuthRequest() = %x, want %x", authReq, wantAuth)
	}
	if c.State() != proxy.Socks5AuthSent {
		t.Fatalf("state = %v, want AUTH_SENT", c.State())
	}

	consumed, needMore, err = c.HandleAuthReply([]byte{0x01, 0x00})
	if err != nil || needMore || consumed != 2 {
		t.Fatalf("HandleAuthReply() = (%d, %v, %v)", consumed, needMore, err)
	}
	if c.State() != proxy.Socks5RequestSent {
		t.Fatalf("state = %v, want REQUEST_SENT", c.State())
	}

	connReq, err := c.ConnectRequest("h", 0x01BB)
	if err != nil {
		t.Fatal(err)
	}
	wantConn := []byte{0x05, 0x01, 0x00, 0x03, 1, 'h', 0x01, 0xBB}
	if string(connReq) != string(wantConn) {
		t.Fatalf("ConnectRequest() = %x, want %x", connReq, wantConn)
	}

	reply := []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	consumed, needMore, err = c.HandleConnectReply(reply)
	if err != nil {
		t.Fatal(err)
	}
	if needMore {
		t.Fatal("HandleConnectReply() needMore = true, want false")
	}
	if consumed != 10 {
		t.Fatalf("consumed = %d, want 10", consumed)
	}
	if c.State() != proxy.Socks5Established {
		t.Fatalf("state = %v, want ESTABLISHED", c.State())
	}
}

func TestSocks5NoAuthNegotiation(t *testing.T) {
	c := proxy.NewSocks5Client(nil)

	greeting := c.Greeting()
	want := []byte{0x05, 0x01, 0x00}
	if string(greeting) != string(want) {
		t.Fatalf("Greeting() = %x, want %x", greeting, want)
	}

	_, _, err := c.HandleGreetingReply([]byte{0x05, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if c.State() != proxy.Socks5RequestSent {
		t.Fatalf("state = %v, want REQUEST_SENT", c.State())
	}
}

func TestSocks5GreetingReplyNeedsMoreData(t *testing.T) {
	c := proxy.NewSocks5Client(nil)
	consumed, needMore, err := c.HandleGreetingReply([]byte{0x05})
	if err != nil || !needMore || consumed != 0 {
		t.Fatalf("HandleGreetingReply() = (%d, %v, %v), want (0, true, nil)", consumed, needMore, err)
	}
}

func TestSocks5NoAcceptableMethods(t *testing.T) {
	c := proxy.NewSocks5Client(nil)
	_, _, err := c.HandleGreetingReply([]byte{0x05, 0xff})
	if err == nil {
		t.Fatal("expected an error for no acceptable authentication methods")
	}
	if c.State() != proxy.Socks5End {
		t.Fatalf("state = %v, want END", c.State())
	}
}

func TestSocks5ConnectRefused(t *testing.T) {
	c := proxy.NewSocks5Client(nil)
	reply := []byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	_, _, err := c.HandleConnectReply(reply)
	if err == nil {
		t.Fatal("expected an error for a refused CONNECT")
	}
	if c.State() != proxy.Socks5End {
		t.Fatalf("state = %v, want END", c.State())
	}
}
