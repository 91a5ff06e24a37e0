package httpmodel

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kosmosnet/awh/pkg/wscompress"
)

// qEncoding is one Accept-Encoding candidate with its quality value.
type qEncoding struct {
	method wscompress.Method
	q      float64
}

// NegotiateEncoding parses an Accept-Encoding header value and returns
// the highest-quality compression method this module supports, or
// wscompress.MethodNone if the peer accepts only identity (or the
// header is absent/empty).
func NegotiateEncoding(acceptEncoding string) wscompress.Method {
	if strings.TrimSpace(acceptEncoding) == "" {
		return wscompress.MethodNone
	}

	var candidates []qEncoding
	for _, part := range strings.Split(acceptEncoding, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, q := part, 1.0
		if i := strings.Index(part, ";"); i >= 0 {
			name = strings.TrimSpace(part[:i])
			if qv, ok := parseQValue(part[i+1:]); ok {
				q = qv
			}
		}

		if q == 0 {
			continue
		}

		m, ok := methodFromToken(name)
		if !ok {
			continue
		}
		candidates = append(candidates, qEncoding{method: m, q: q})
	}

	if len(candidates) == 0 {
		return wscompress.MethodNone
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].q > candidates[j].q })
	return candidates[0].method
}

func parseQValue(params string) (float64, bool) {
	for _, p := range strings.Split(params, ";") {
		p = strings.TrimSpace(p)
		name, value, found := strings.Cut(p, "=")
		if !found || strings.TrimSpace(name) != "q" {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		return q, true
	}
	return 0, false
}

func methodFromToken(token string) (wscompress.Method, bool) {
	switch strings.ToLower(token) {
	case "gzip":
		return wscompress.MethodGzip, true
	case "deflate":
		return wscompress.MethodDeflate, true
	case "br":
		return wscompress.MethodBrotli, true
	case "identity", "*":
		return wscompress.MethodNone, true
	default:
		return 0, false
	}
}

// ContentEncodingToken returns the Content-Encoding header token for m,
// or "" for MethodNone (meaning the header should be omitted).
func ContentEncodingToken(m wscompress.Method) string {
	switch m {
	case wscompress.MethodGzip:
		return "gzip"
	case wscompress.MethodDeflate:
		return "deflate"
	case wscompress.MethodBrotli:
		return "br"
	default:
		return ""
	}
}

// MethodFromContentEncoding parses a Content-Encoding header value back
// into a Method, returning MethodNone if absent or unrecognized.
func MethodFromContentEncoding(contentEncoding string) wscompress.Method {
	m, ok := methodFromToken(strings.TrimSpace(contentEncoding))
	if !ok {
		return wscompress.MethodNone
	}
	return m
}
