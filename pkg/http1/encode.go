package http1

import (
	"fmt"
	"strconv"

	"github.com/kosmosnet/awh/pkg/httpmodel"
)

// WriteRequest serializes a request line, headers, and body into HTTP/1.1
// wire format. If chunked is true, the body is framed as a single
// chunk followed by the terminating zero-length chunk; callers
// streaming a body incrementally should use [EncodeChunk] instead.
func WriteRequest(method, uri, version string, headers httpmodel.Headers, body []byte, chunked bool) []byte {
	var out []byte
	out = append(out, method...)
	out = append(out, ' ')
	out = append(out, uri...)
	out = append(out, ' ')
	out = append(out, version...)
	out = append(out, "\r\n"...)
	out = appendHeaders(out, headers)
	return appendBody(out, body, chunked)
}

// WriteResponse serializes a status line, headers, and body.
func WriteResponse(version string, statusCode int, reason string, headers httpmodel.Headers, body []byte, chunked bool) []byte {
	var out []byte
	out = append(out, version...)
	out = append(out, ' ')
	out = append(out, strconv.Itoa(statusCode)...)
	out = append(out, ' ')
	out = append(out, reason...)
	out = append(out, "\r\n"...)
	out = appendHeaders(out, headers)
	return appendBody(out, body, chunked)
}

func appendHeaders(out []byte, headers httpmodel.Headers) []byte {
	headers.Range(func(name, value string) {
		out = append(out, name...)
		out = append(out, ':', ' ')
		out = append(out, value...)
		out = append(out, "\r\n"...)
	})
	out = append(out, "\r\n"...)
	return out
}

func appendBody(out, body []byte, chunked bool) []byte {
	if !chunked {
		return append(out, body...)
	}
	if len(body) > 0 {
		out = append(out, fmt.Sprintf("%x\r\n", len(body))...)
		out = append(out, body...)
		out = append(out, "\r\n"...)
	}
	out = append(out, "0\r\n\r\n"...)
	return out
}

// EncodeChunk formats a single chunk of a chunked-transfer body. An
// empty data slice encodes the terminating zero-length chunk.
func EncodeChunk(data []byte) []byte {
	if len(data) == 0 {
		return []byte("0\r\n\r\n")
	}
	out := []byte(fmt.Sprintf("%x\r\n", len(data)))
	out = append(out, data...)
	out = append(out, "\r\n"...)
	return out
}
