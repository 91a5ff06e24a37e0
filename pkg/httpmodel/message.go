package httpmodel

// Request is a fully assembled HTTP request: method/URI/version line,
// headers, and body. Http1Parser and Http2Engine both produce this
// shape so that downstream code (authentication, content negotiation,
// proxying) is protocol-version agnostic.
type Request struct {
	Method  string
	URI     string
	Version string
	Headers Headers
	Body    []byte
}

// Response is a fully assembled HTTP response.
type Response struct {
	Version    string
	StatusCode int
	Reason     string
	Headers    Headers
	Body       []byte
}

// BodyAssembler accumulates a body that may arrive in multiple pieces
// (chunks, or successive DATA frames), exposing the buffer only once
// the caller signals completion.
type BodyAssembler struct {
	buf []byte
}

// Append appends a piece of body data.
func (b *BodyAssembler) Append(p []byte) {
	b.buf = append(b.buf, p...)
}

// Bytes returns the buffer assembled so far.
func (b *BodyAssembler) Bytes() []byte {
	return b.buf
}

// Len reports the number of bytes assembled so far.
func (b *BodyAssembler) Len() int {
	return len(b.buf)
}

// Reset clears the assembler for reuse.
func (b *BodyAssembler) Reset() {
	b.buf = b.buf[:0]
}
