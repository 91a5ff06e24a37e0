package http1

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/kosmosnet/awh/pkg/awherr"
)

// Feed supplies newly available bytes to the parser. Once the message
// is complete, it returns how many leading bytes of buf belong to it;
// any unconsumed suffix belongs to the next message (pipelining). While
// the message is still incomplete, Feed keeps a partial line or chunk
// internally and reports all of buf as consumed, so the caller never
// re-feeds those bytes.
//
// Feed is re-entrant: a short buf that ends mid-line, mid-header, or
// mid-chunk causes no error; state carries over to the next call
// transparently.
func (p *Parser) Feed(buf []byte) (consumed int, err error) {
	if p.state == StateDone || p.state == StateBroken {
		return 0, nil
	}

	work := buf
	if len(p.lineBuf) > 0 {
		work = append(append([]byte(nil), p.lineBuf...), buf...)
	}
	startLen := len(work)
	carryLen := len(p.lineBuf)

	idx := 0
loop:
	for {
		switch p.state {
		case StateRequestLine, StateStatusLine:
			line, n, ok := readLine(work[idx:])
			if !ok {
				break loop
			}
			idx += n
			if err := p.parsePreamble(line); err != nil {
				return p.fail(buf, carryLen, idx, startLen, err)
			}

		case StateHeaders:
			line, n, ok := readLine(work[idx:])
			if !ok {
				break loop
			}
			idx += n
			if err := p.feedHeaderLine(line); err != nil {
				return p.fail(buf, carryLen, idx, startLen, err)
			}
			if p.state != StateHeaders {
				if err := p.selectFraming(); err != nil {
					return p.fail(buf, carryLen, idx, startLen, err)
				}
			}

		case StateBody:
			remaining := p.contentLength - p.bodyRead
			avail := int64(len(work) - idx)
			take := remaining
			if avail < take {
				take = avail
			}
			if take > 0 {
				p.Body = append(p.Body, work[idx:idx+int(take)]...)
				idx += int(take)
				p.bodyRead += take
			}
			if p.bodyRead >= p.contentLength {
				p.state = StateDone
				break loop
			}
			break loop

		case StateChunkSize:
			line, n, ok := readLine(work[idx:])
			if !ok {
				break loop
			}
			idx += n
			size, err := parseChunkSizeLine(line)
			if err != nil {
				return p.fail(buf, carryLen, idx, startLen, err)
			}
			p.chunkSize = size
			p.chunkRead = 0
			if size == 0 {
				p.state = StateChunkTrailer
			} else {
				p.state = StateChunkData
			}

		case StateChunkData:
			remaining := p.chunkSize - p.chunkRead
			avail := int64(len(work) - idx)
			take := remaining
			if avail < take {
				take = avail
			}
			if take > 0 {
				p.Body = append(p.Body, work[idx:idx+int(take)]...)
				idx += int(take)
				p.chunkRead += take
			}
			if p.chunkRead < p.chunkSize {
				break loop
			}
			// Consume the trailing CRLF after the chunk data.
			if len(work)-idx < 2 {
				break loop
			}
			if work[idx] != '\r' || work[idx+1] != '\n' {
				return p.fail(buf, carryLen, idx, startLen, awherr.New(awherr.KindHTTP1, 0, "malformed chunk terminator"))
			}
			idx += 2
			p.state = StateChunkSize

		case StateChunkTrailer:
			line, n, ok := readLine(work[idx:])
			if !ok {
				break loop
			}
			idx += n
			if len(line) == 0 {
				p.state = StateDone
				break loop
			}
			if err := p.feedTrailerLine(line); err != nil {
				return p.fail(buf, carryLen, idx, startLen, err)
			}

		default:
			break loop
		}

		if p.state == StateDone || p.state == StateBroken {
			break loop
		}
	}

	if p.preambleBytes > p.limits.MaxPreambleBytes {
		return p.fail(buf, carryLen, idx, startLen, awherr.New(awherr.KindHTTP1, 0, "preamble too large"))
	}

	if p.state == StateDone || p.state == StateBroken {
		p.lineBuf = nil
		newBytes := idx - carryLen
		if newBytes < 0 {
			newBytes = 0
		}
		return newBytes, nil
	}

	// Not finished: everything fed so far is absorbed into carry state.
	p.lineBuf = append([]byte(nil), work[idx:]...)
	return len(buf), nil
}

func (p *Parser) fail(buf []byte, carryLen, idx, startLen int, err error) (int, error) {
	p.state = StateBroken
	p.Err = err
	p.lineBuf = nil
	newBytes := idx - carryLen
	if newBytes < 0 {
		newBytes = 0
	}
	if newBytes > len(buf) {
		newBytes = len(buf)
	}
	_ = startLen
	return newBytes, err
}

// readLine extracts one CRLF- or LF-terminated line (excluding the
// terminator) from the front of buf, reporting how many bytes
// (including the terminator) it consumed, and false if no full line is
// present yet.
func readLine(buf []byte) (line []byte, n int, ok bool) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return nil, 0, false
	}
	end := i
	if end > 0 && buf[end-1] == '\r' {
		end--
	}
	return buf[:end], i + 1, true
}

func (p *Parser) parsePreamble(line []byte) error {
	p.preambleBytes += len(line) + 2

	if p.mode == ModeRequest {
		parts := strings.SplitN(string(line), " ", 3)
		if len(parts) != 3 {
			return awherr.New(awherr.KindHTTP1, 0, "malformed request line")
		}
		if len(parts[0]) > p.limits.MaxMethodLen {
			return awherr.New(awherr.KindHTTP1, 0, "method too long")
		}
		if len(parts[1]) > p.limits.MaxURILen {
			return awherr.New(awherr.KindHTTP1, 0, "URI too long")
		}
		p.Method, p.URI, p.Version = parts[0], parts[1], parts[2]
	} else {
		parts := strings.SplitN(string(line), " ", 3)
		if len(parts) < 2 {
			return awherr.New(awherr.KindHTTP1, 0, "malformed status line")
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return awherr.New(awherr.KindHTTP1, 0, "malformed status code")
		}
		p.Version = parts[0]
		p.StatusCode = code
		if len(parts) == 3 {
			p.Reason = parts[2]
		}
	}

	p.state = StateHeaders
	return nil
}

func (p *Parser) feedHeaderLine(line []byte) error {
	p.preambleBytes += len(line) + 2
	if p.preambleBytes > p.limits.MaxHeaderBytes {
		return awherr.New(awherr.KindHTTP1, 0, "headers too large")
	}

	if len(line) == 0 {
		p.state = StateBody
		return nil
	}

	// RFC 7230 deprecated header folding, but some peers still send it;
	// a line starting with SP/TAB continues the previous header value.
	if line[0] == ' ' || line[0] == '\t' {
		if p.lastHeaderName == "" {
			return awherr.New(awherr.KindHTTP1, 0, "folded header with no preceding header")
		}
		return p.appendFoldedValue(line)
	}

	name, value, ok := strings.Cut(string(line), ":")
	if !ok {
		return awherr.New(awherr.KindHTTP1, 0, "malformed header line")
	}
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)

	p.Headers.Add(name, value)
	p.lastHeaderName = name
	return nil
}

func (p *Parser) appendFoldedValue(line []byte) error {
	values := p.Headers.Values(p.lastHeaderName)
	if len(values) == 0 {
		return awherr.New(awherr.KindHTTP1, 0, "folded header with no preceding header")
	}
	p.Headers.Del(p.lastHeaderName)
	last := values[len(values)-1] + " " + strings.TrimSpace(string(line))
	for _, v := range values[:len(values)-1] {
		p.Headers.Add(p.lastHeaderName, v)
	}
	p.Headers.Add(p.lastHeaderName, last)
	return nil
}

func (p *Parser) feedTrailerLine(line []byte) error {
	name, value, ok := strings.Cut(string(line), ":")
	if !ok {
		return awherr.New(awherr.KindHTTP1, 0, "malformed trailer line")
	}
	name, value = strings.TrimSpace(name), strings.TrimSpace(value)
	p.Trailers.Add(name, value)
	// Trailers are header fields delivered late; fold them into Headers
	// too so callers that only read Headers still see them.
	p.Headers.Add(name, value)
	return nil
}

// selectFraming decides how the body is framed once headers are fully
// read, per spec.md §4.4: Transfer-Encoding: chunked overrides
// Content-Length; otherwise a request with neither has no body, and a
// response with neither runs to connection close.
func (p *Parser) selectFraming() error {
	if te, ok := p.Headers.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		p.framing = framingChunked
		p.state = StateChunkSize
		return nil
	}

	if cl, ok := p.Headers.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return awherr.New(awherr.KindHTTP1, 0, "malformed Content-Length")
		}
		p.framing = framingContentLength
		p.contentLength = n
		if n == 0 {
			p.state = StateDone
			return nil
		}
		p.state = StateBody
		return nil
	}

	if p.mode == ModeRequest {
		p.framing = framingNone
		p.state = StateDone
		return nil
	}

	p.framing = framingUntilClose
	p.state = StateBody
	p.contentLength = 1 << 62 // effectively unbounded; caller signals EOF via Close.
	return nil
}

// Close signals that the underlying connection has closed, which is
// the terminating condition for a framingUntilClose response body.
func (p *Parser) Close() {
	if p.state == StateBody && p.framing == framingUntilClose {
		p.state = StateDone
	}
}

func parseChunkSizeLine(line []byte) (int64, error) {
	s := string(line)
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	n, err := strconv.ParseInt(s, 16, 64)
	if err != nil || n < 0 {
		return 0, awherr.New(awherr.KindHTTP1, 0, "malformed chunk size")
	}
	return n, nil
}
