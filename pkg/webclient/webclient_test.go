package webclient_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kosmosnet/awh/pkg/http1"
	"github.com/kosmosnet/awh/pkg/httpmodel"
	"github.com/kosmosnet/awh/pkg/node"
	"github.com/kosmosnet/awh/pkg/webclient"
	"github.com/kosmosnet/awh/pkg/wsframe"
	"github.com/kosmosnet/awh/pkg/wshandshake"
)

// bytesBuf is a minimal io.Writer backed by a growable slice, used to
// capture wsframe.Encode's output in these server-side test helpers.
type bytesBuf struct{ b []byte }

func (w *bytesBuf) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

// readN blocks, appending to pending, until it holds at least n bytes.
func readN(conn net.Conn, pending []byte, n int) ([]byte, error) {
	buf := make([]byte, 4096)
	for len(pending) < n {
		rn, err := conn.Read(buf)
		if rn > 0 {
			pending = append(pending, buf[:rn]...)
		}
		if err != nil {
			return pending, err
		}
	}
	return pending, nil
}

// echoWSServer accepts a single WebSocket connection, performs the
// server-side handshake, and echoes back every data frame it receives
// until a CLOSE frame arrives.
func echoWSServer(t *testing.T, ln net.Listener) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	p := http1.NewParser(http1.ModeRequest, http1.Limits{})
	buf := make([]byte, 4096)
	var pending []byte
	for !p.Done() && !p.Broken() {
		n, rerr := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for len(pending) > 0 {
				consumed, ferr := p.Feed(pending)
				if ferr != nil {
					t.Errorf("server parse request: %v", ferr)
					return
				}
				if consumed == 0 {
					break
				}
				pending = pending[consumed:]
			}
		}
		if rerr != nil {
			return
		}
	}

	req := httpmodel.Request{Method: "GET", URI: "/ws", Version: "HTTP/1.1", Headers: p.Headers}
	key, err := wshandshake.CheckRequest(req)
	if err != nil {
		t.Errorf("server CheckRequest: %v", err)
		return
	}
	resp := wshandshake.BuildResponse(key, wshandshake.ServerOptions{})
	data := http1.WriteResponse(resp.Version, resp.StatusCode, resp.Reason, resp.Headers, resp.Body, false)
	if _, err := conn.Write(data); err != nil {
		return
	}

	for {
		var h wsframe.Header
		var n int
		var needMore bool

		for {
			h, n, needMore, err = wsframe.DecodeHeader(pending)
			if err != nil {
				return
			}
			if !needMore {
				break
			}
			pending, err = readN(conn, pending, len(pending)+1)
			if err != nil {
				return
			}
		}

		pending, err = readN(conn, pending, n+int(h.Length))
		if err != nil {
			return
		}

		payload := append([]byte(nil), pending[n:n+int(h.Length)]...)
		if h.Masked {
			wsframe.MaskPayload(payload, h.MaskKey)
		}
		pending = pending[n+int(h.Length):]

		var out bytesBuf
		if err := wsframe.Encode(&out, wsframe.SideServer, wsframe.Header{FIN: true, Opcode: h.Opcode}, payload); err != nil {
			return
		}
		if _, err := conn.Write(out.b); err != nil {
			return
		}
		if h.Opcode == wsframe.OpcodeClose {
			return
		}
	}
}

func TestClientWebSocketEchoRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go echoWSServer(t, ln)

	msgs := make(chan []byte, 4)
	target := fmt.Sprintf("ws://%s/ws", ln.Addr().String())
	c, err := webclient.New(webclient.Options{URL: target}, webclient.Callbacks{
		Message: func(data []byte, binary bool) { msgs <- append([]byte(nil), data...) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := c.Send([]byte("hello"), false); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case data := <-msgs:
		if string(data) != "hello" {
			t.Fatalf("got %q, want %q", data, "hello")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestClientWebSocketCloseHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go echoWSServer(t, ln)

	target := fmt.Sprintf("ws://%s/ws", ln.Addr().String())
	c, err := webclient.New(webclient.Options{URL: target}, webclient.Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.CloseWS(1000, "done")
}

func TestClientHTTP1RequestResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, err := webclient.New(webclient.Options{URL: srv.URL}, webclient.Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	resp, err := c.Do(httpmodel.Request{Method: "GET", URI: "/", Version: "HTTP/1.1"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != "ok" {
		t.Fatalf("Body = %q, want %q", resp.Body, "ok")
	}
}

func TestClientHTTP1RedirectFollowed(t *testing.T) {
	var final *httptest.Server
	final = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/end", http.StatusFound)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("landed"))
	}))
	defer final.Close()

	c, err := webclient.New(webclient.Options{URL: final.URL + "/start"}, webclient.Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	resp, err := c.Do(httpmodel.Request{Method: "GET", URI: "/start", Version: "HTTP/1.1"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != 200 || string(resp.Body) != "landed" {
		t.Fatalf("got status=%d body=%q, want 200/%q", resp.StatusCode, resp.Body, "landed")
	}
}

func TestClientReusesSharedNode(t *testing.T) {
	n := node.New(0)
	defer n.Stop(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(204)
	}))
	defer srv.Close()

	c, err := webclient.New(webclient.Options{URL: srv.URL, Node: n}, webclient.Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Do(httpmodel.Request{Method: "GET", URI: "/", Version: "HTTP/1.1"}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
