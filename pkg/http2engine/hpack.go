package http2engine

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/http2/hpack"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/httpmodel"
)

// requestPseudoHeaders are the pseudo-headers a non-CONNECT request
// must carry; CONNECT requests only require :method and :authority.
var requestPseudoHeaders = []string{":method", ":scheme", ":path"}

// HeaderCodec wraps golang.org/x/net/http2/hpack's Encoder/Decoder pair
// with this engine's pseudo-header validation rules (RFC 9113 §8.3).
type HeaderCodec struct {
	enc *hpack.Encoder
	buf bytes.Buffer
	dec *hpack.Decoder
}

// NewHeaderCodec constructs a codec with the given dynamic table size,
// shared for the lifetime of one HTTP/2 connection.
func NewHeaderCodec(dynamicTableSize uint32) *HeaderCodec {
	c := &HeaderCodec{}
	c.enc = hpack.NewEncoder(&c.buf)
	c.enc.SetMaxDynamicTableSize(dynamicTableSize)
	c.dec = hpack.NewDecoder(dynamicTableSize, nil)
	return c
}

// encField writes a single header field, wrapping the underlying
// HPACK error in this module's error taxonomy.
func (c *HeaderCodec) encField(name, value string) error {
	if err := c.enc.WriteField(hpack.HeaderField{Name: name, Value: value}); err != nil {
		return awherr.WrapHTTP2(awherr.H2CompressionError, "failed to HPACK-encode header field", err)
	}
	return nil
}

// SetEncoderMaxDynamicTableSize bounds the table this side's encoder
// uses when writing header blocks, per a peer-advertised
// HEADER_TABLE_SIZE: the peer is telling us the largest table its own
// decoder will accept, so our encoder must not exceed it.
func (c *HeaderCodec) SetEncoderMaxDynamicTableSize(size uint32) {
	c.enc.SetMaxDynamicTableSize(size)
}

// SetDecoderMaxDynamicTableSize bounds the table this side's decoder
// uses when reading header blocks, per this side's own advertised
// HEADER_TABLE_SIZE. This is independent of whatever table size the
// peer advertises to us: that value governs our encoder, not our
// decoder.
func (c *HeaderCodec) SetDecoderMaxDynamicTableSize(size uint32) {
	c.dec.SetMaxDynamicTableSize(size)
}

// EncodeRequest encodes pseudo-headers followed by regular headers for
// a request, in the order RFC 9113 requires (pseudo-headers first).
func (c *HeaderCodec) EncodeRequest(method, scheme, authority, path string, headers httpmodel.Headers, isConnect bool) ([]byte, error) {
	c.buf.Reset()

	fields := []hpack.HeaderField{{Name: ":method", Value: method}}
	if isConnect {
		fields = append(fields, hpack.HeaderField{Name: ":authority", Value: authority})
	} else {
		fields = append(fields,
			hpack.HeaderField{Name: ":scheme", Value: scheme},
			hpack.HeaderField{Name: ":path", Value: path},
		)
		if authority != "" {
			fields = append(fields, hpack.HeaderField{Name: ":authority", Value: authority})
		}
	}

	for _, f := range fields {
		if err := c.enc.WriteField(f); err != nil {
			return nil, awherr.WrapHTTP2(awherr.H2CompressionError, "failed to HPACK-encode pseudo-header", err)
		}
	}

	var err error
	headers.Range(func(name, value string) {
		if err != nil {
			return
		}
		err = c.enc.WriteField(hpack.HeaderField{Name: strings.ToLower(name), Value: value})
	})
	if err != nil {
		return nil, awherr.WrapHTTP2(awherr.H2CompressionError, "failed to HPACK-encode headers", err)
	}

	return append([]byte(nil), c.buf.Bytes()...), nil
}

// EncodeResponse encodes a :status pseudo-header followed by regular
// headers.
func (c *HeaderCodec) EncodeResponse(statusCode int, headers httpmodel.Headers) ([]byte, error) {
	c.buf.Reset()

	if err := c.enc.WriteField(hpack.HeaderField{Name: ":status", Value: statusText(statusCode)}); err != nil {
		return nil, awherr.WrapHTTP2(awherr.H2CompressionError, "failed to HPACK-encode :status", err)
	}

	var encErr error
	headers.Range(func(name, value string) {
		if encErr != nil {
			return
		}
		encErr = c.enc.WriteField(hpack.HeaderField{Name: strings.ToLower(name), Value: value})
	})
	if encErr != nil {
		return nil, awherr.WrapHTTP2(awherr.H2CompressionError, "failed to HPACK-encode headers", encErr)
	}

	return append([]byte(nil), c.buf.Bytes()...), nil
}

// DecodeRequest decodes a complete HEADERS(+CONTINUATION) block into a
// request, validating that pseudo-headers precede regular headers and
// that the required pseudo-headers are present.
func (c *HeaderCodec) DecodeRequest(block []byte) (req httpmodel.Request, err error) {
	fields, err := c.dec.DecodeFull(block)
	if err != nil {
		return httpmodel.Request{}, awherr.WrapHTTP2(awherr.H2CompressionError, "HPACK decode failed", err)
	}

	seenRegular := false
	pseudo := map[string]string{}

	for _, f := range fields {
		if f.IsPseudo() {
			if seenRegular {
				return httpmodel.Request{}, awherr.HTTP2(awherr.H2ProtocolError, "pseudo-header after regular header")
			}
			pseudo[f.Name] = f.Value
			continue
		}
		seenRegular = true
		req.Headers.Add(f.Name, f.Value)
	}

	method, isConnect := pseudo[":method"], pseudo[":method"] == "CONNECT"
	if method == "" {
		return httpmodel.Request{}, awherr.HTTP2(awherr.H2ProtocolError, "missing :method pseudo-header")
	}
	if _, ok := pseudo[":authority"]; !ok {
		return httpmodel.Request{}, awherr.HTTP2(awherr.H2ProtocolError, "missing :authority pseudo-header")
	}
	if !isConnect {
		for _, name := range requestPseudoHeaders {
			if _, ok := pseudo[name]; !ok {
				return httpmodel.Request{}, awherr.HTTP2(awherr.H2ProtocolError, "missing required pseudo-header: "+name)
			}
		}
	}

	req.Method = method
	req.URI = pseudo[":path"]
	req.Version = "HTTP/2.0"
	req.Headers.Set("Host", pseudo[":authority"])
	if protocol, ok := pseudo[":protocol"]; ok {
		req.Headers.Set(":protocol", protocol)
	}
	return req, nil
}

// DecodeResponse decodes a complete HEADERS(+CONTINUATION) block into a
// response, validating that :status precedes regular headers and is
// present and numeric.
func (c *HeaderCodec) DecodeResponse(block []byte) (resp httpmodel.Response, err error) {
	fields, err := c.dec.DecodeFull(block)
	if err != nil {
		return httpmodel.Response{}, awherr.WrapHTTP2(awherr.H2CompressionError, "HPACK decode failed", err)
	}

	seenRegular := false
	status := ""

	for _, f := range fields {
		if f.IsPseudo() {
			if seenRegular {
				return httpmodel.Response{}, awherr.HTTP2(awherr.H2ProtocolError, "pseudo-header after regular header")
			}
			if f.Name == ":status" {
				status = f.Value
			}
			continue
		}
		seenRegular = true
		resp.Headers.Add(f.Name, f.Value)
	}

	if status == "" {
		return httpmodel.Response{}, awherr.HTTP2(awherr.H2ProtocolError, "missing :status pseudo-header")
	}
	code, convErr := strconv.Atoi(status)
	if convErr != nil {
		return httpmodel.Response{}, awherr.WrapHTTP2(awherr.H2ProtocolError, "non-numeric :status pseudo-header", convErr)
	}

	resp.StatusCode = code
	resp.Version = "HTTP/2.0"
	return resp, nil
}

func statusText(code int) string {
	return strconv.Itoa(code)
}
