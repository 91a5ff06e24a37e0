package http2engine

import (
	"testing"

	"github.com/kosmosnet/awh/pkg/httpmodel"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	enc := NewHeaderCodec(4096)
	dec := NewHeaderCodec(4096)

	var hdrs httpmodel.Headers
	hdrs.Add("user-agent", "awh-test")
	hdrs.Add("accept", "*/*")

	block, err := enc.EncodeRequest("GET", "https", "example.com", "/path", hdrs, false)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	req, err := dec.DecodeRequest(block)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if req.Method != "GET" || req.URI != "/path" || req.Version != "HTTP/2.0" {
		t.Errorf("DecodeRequest() = %+v", req)
	}
	if host, _ := req.Headers.Get("Host"); host != "example.com" {
		t.Errorf("Host = %q, want example.com", host)
	}
	if ua, _ := req.Headers.Get("user-agent"); ua != "awh-test" {
		t.Errorf("user-agent = %q, want awh-test", ua)
	}
}

func TestEncodeDecodeConnectRequest(t *testing.T) {
	enc := NewHeaderCodec(4096)
	dec := NewHeaderCodec(4096)

	block, err := enc.EncodeRequest("CONNECT", "", "example.com:443", "", httpmodel.Headers{}, true)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	req, err := dec.DecodeRequest(block)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if req.Method != "CONNECT" {
		t.Errorf("Method = %q, want CONNECT", req.Method)
	}
	if host, _ := req.Headers.Get("Host"); host != "example.com:443" {
		t.Errorf("Host = %q, want example.com:443", host)
	}
}

func TestDecodeRequestRejectsMissingPseudoHeaders(t *testing.T) {
	enc := NewHeaderCodec(4096)
	dec := NewHeaderCodec(4096)

	// A non-CONNECT request with an empty authority: EncodeRequest writes
	// :method, :scheme and an empty :path but omits :authority.
	block, err := enc.EncodeRequest("GET", "https", "", "", httpmodel.Headers{}, false)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	if _, err := dec.DecodeRequest(block); err == nil {
		t.Fatal("expected an error for a request missing :authority")
	}
}

func TestDecodeRequestRejectsPseudoHeaderAfterRegularHeader(t *testing.T) {
	dec := NewHeaderCodec(4096)

	// Hand-build a codec that encodes a regular header before a
	// pseudo-header, which EncodeRequest itself never produces but a
	// misbehaving peer could send.
	rawEnc := NewHeaderCodec(4096)
	var err error
	rawEnc.buf.Reset()
	if e := rawEnc.encField("user-agent", "bad-peer"); e != nil {
		t.Fatalf("encField() error = %v", e)
	}
	if e := rawEnc.encField(":method", "GET"); e != nil {
		t.Fatalf("encField() error = %v", e)
	}
	block := append([]byte(nil), rawEnc.buf.Bytes()...)

	if _, err = dec.DecodeRequest(block); err == nil {
		t.Fatal("expected an error for a pseudo-header following a regular header")
	}
}

func TestEncodeResponseStatus(t *testing.T) {
	enc := NewHeaderCodec(4096)
	dec := NewHeaderCodec(4096)

	var hdrs httpmodel.Headers
	hdrs.Add("content-type", "text/plain")

	block, err := enc.EncodeResponse(200, hdrs)
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}

	fields, err := dec.dec.DecodeFull(block)
	if err != nil {
		t.Fatalf("DecodeFull() error = %v", err)
	}
	if len(fields) == 0 || fields[0].Name != ":status" || fields[0].Value != "200" {
		t.Errorf("first field = %+v, want :status=200", fields[0])
	}
}

func TestSetMaxDynamicTableSizeDoesNotPanic(t *testing.T) {
	c := NewHeaderCodec(4096)
	c.SetEncoderMaxDynamicTableSize(8192)
	c.SetDecoderMaxDynamicTableSize(8192)
}

func TestEncodeDecodeResponseRoundTrip(t *testing.T) {
	enc := NewHeaderCodec(4096)
	dec := NewHeaderCodec(4096)

	var hdrs httpmodel.Headers
	hdrs.Add("content-length", "4")

	block, err := enc.EncodeResponse(200, hdrs)
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}

	resp, err := dec.DecodeResponse(block)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.StatusCode != 200 || resp.Version != "HTTP/2.0" {
		t.Errorf("DecodeResponse() = %+v", resp)
	}
	if cl, _ := resp.Headers.Get("content-length"); cl != "4" {
		t.Errorf("content-length = %q, want 4", cl)
	}
}

func TestDecodeResponseRejectsMissingStatus(t *testing.T) {
	enc := NewHeaderCodec(4096)
	dec := NewHeaderCodec(4096)

	var hdrs httpmodel.Headers
	hdrs.Add("content-type", "text/plain")
	enc.buf.Reset()
	if e := enc.encField("content-type", "text/plain"); e != nil {
		t.Fatalf("encField() error = %v", e)
	}
	block := append([]byte(nil), enc.buf.Bytes()...)

	if _, err := dec.DecodeResponse(block); err == nil {
		t.Fatal("expected an error for a response missing :status")
	}
}
