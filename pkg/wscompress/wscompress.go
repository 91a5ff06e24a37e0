// Package wscompress implements per-direction content compression for
// WebSocket messages (RFC 7692 permessage-deflate) and for HTTP bodies
// (gzip, deflate, brotli Content-Encoding), as specified by spec.md
// §4.2's CompressionCodec component.
//
// Deflate uses github.com/klauspost/compress/flate, a drop-in faster
// replacement for the standard library's compress/flate that several
// packages in the retrieval pack depend on for the same purpose. Brotli
// has no standard library implementation, so github.com/andybalholm/brotli
// is used, matching the rest of the pack's WebSocket/HTTP stacks.
package wscompress

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"

	"github.com/kosmosnet/awh/pkg/awherr"
)

// Method identifies a content compression algorithm.
type Method int

const (
	MethodNone Method = iota
	MethodDeflate
	MethodGzip
	MethodBrotli
)

func (m Method) String() string {
	switch m {
	case MethodDeflate:
		return "deflate"
	case MethodGzip:
		return "gzip"
	case MethodBrotli:
		return "br"
	default:
		return "none"
	}
}

// Compress compresses data as a single, complete buffer (used for HTTP
// Content-Encoding, where there is no concept of per-direction context
// reuse across messages).
func Compress(m Method, data []byte) ([]byte, error) {
	var buf bytes.Buffer

	switch m {
	case MethodNone:
		return data, nil

	case MethodDeflate:
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, awherr.WrapCompression("failed to create deflate writer", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, awherr.WrapCompression("failed to write deflate stream", err)
		}
		if err := w.Close(); err != nil {
			return nil, awherr.WrapCompression("failed to close deflate stream", err)
		}

	case MethodGzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, awherr.WrapCompression("failed to write gzip stream", err)
		}
		if err := w.Close(); err != nil {
			return nil, awherr.WrapCompression("failed to close gzip stream", err)
		}

	case MethodBrotli:
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, awherr.WrapCompression("failed to write brotli stream", err)
		}
		if err := w.Close(); err != nil {
			return nil, awherr.WrapCompression("failed to close brotli stream", err)
		}

	default:
		return nil, awherr.Compression("unsupported compression method")
	}

	return buf.Bytes(), nil
}

// Decompress inflates a single, complete compressed buffer.
func Decompress(m Method, data []byte) ([]byte, error) {
	var r io.ReadCloser
	var err error

	switch m {
	case MethodNone:
		return data, nil

	case MethodDeflate:
		r = flate.NewReader(bytes.NewReader(data))

	case MethodGzip:
		r, err = gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, awherr.WrapCompression("failed to open gzip stream", err)
		}

	case MethodBrotli:
		r = io.NopCloser(brotli.NewReader(bytes.NewReader(data)))

	default:
		return nil, awherr.Compression("unsupported compression method")
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, awherr.WrapCompression("failed to inflate stream", err)
	}
	return out, nil
}
