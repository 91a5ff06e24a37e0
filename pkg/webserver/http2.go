package webserver

import (
	"net"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/http2engine"
	"github.com/kosmosnet/awh/pkg/httpmodel"
)

// handleHTTP2 drives an HTTP/2 connection whose client preface has
// already been consumed: it writes its own SETTINGS frame, then reads
// the client's, then serially accepts and answers each request
// stream via s.http, per spec.md §4.5. One stream is handled at a time
// in the order its HEADERS frame completes, matching this server's
// single-goroutine-per-connection accept style elsewhere in the
// package; concurrent in-flight streams are accepted but their
// response is written once their request is fully buffered.
func (s *Server) handleHTTP2(conn net.Conn) {
	defer conn.Close()

	sess := http2engine.NewSession(http2engine.RoleServer)

	if _, err := conn.Write(http2engine.EncodeFrame(http2engine.FrameSettings, 0, 0, http2engine.EncodeSettings(sess.Local))); err != nil {
		return
	}

	var headerBlock []byte

	for {
		h, err := readHTTP2FrameHeader(conn)
		if err != nil {
			return
		}
		payload := make([]byte, h.Length)
		if _, err := readFull(conn, payload); err != nil {
			return
		}

		switch h.Type {
		case http2engine.FrameSettings:
			if h.Flags&http2engine.FlagAck == 0 {
				if err := sess.ApplyPeerSettings(payload); err != nil {
					return
				}
				if _, err := conn.Write(http2engine.EncodeFrame(http2engine.FrameSettings, http2engine.FlagAck, 0, nil)); err != nil {
					return
				}
			}

		case http2engine.FrameWindowUpdate:
			if h.StreamID == 0 {
				if inc, err := http2engine.DecodeWindowUpdate(payload); err == nil {
					_ = sess.ApplyConnectionWindowUpdate(inc)
				}
			} else if st, ok := sess.Stream(h.StreamID); ok {
				if inc, err := http2engine.DecodeWindowUpdate(payload); err == nil {
					_ = st.ApplyPeerWindowUpdate(inc)
				}
			}

		case http2engine.FramePing:
			if h.Flags&http2engine.FlagAck == 0 {
				var data [8]byte
				copy(data[:], payload)
				if _, err := conn.Write(http2engine.EncodeFrame(http2engine.FramePing, http2engine.FlagAck, 0, data[:])); err != nil {
					return
				}
			}

		case http2engine.FrameGoAway:
			lastID, _, _, _ := http2engine.DecodeGoAway(payload)
			sess.ReceiveGoAway(lastID)
			return

		case http2engine.FrameHeaders:
			st, ok := sess.Stream(h.StreamID)
			if !ok {
				st, err = sess.AcceptStream(h.StreamID)
				if err != nil {
					return
				}
				headerBlock = nil
			}
			headerBlock = append(headerBlock, payload...)
			if h.Flags&http2engine.FlagEndHeaders != 0 {
				req, err := sess.HeaderCodec().DecodeRequest(headerBlock)
				if err != nil {
					return
				}
				st.Request = req
				st.Open(h.Flags&http2engine.FlagEndStream != 0)
			}
			if h.Flags&http2engine.FlagEndStream != 0 {
				if !s.answerHTTP2Stream(conn, sess, st) {
					return
				}
			}

		case http2engine.FrameData:
			st, ok := sess.Stream(h.StreamID)
			if !ok {
				continue
			}
			if err := st.CheckDataAllowed(); err != nil {
				return
			}
			st.Body.Append(payload)
			if h.Flags&http2engine.FlagEndStream != 0 {
				st.HalfCloseRemote()
				st.Request.Body = st.Body.Bytes()
				if !s.answerHTTP2Stream(conn, sess, st) {
					return
				}
			}

		default:
			// PRIORITY, RST_STREAM, PUSH_PROMISE: no action taken by
			// this server's single-stream-at-a-time response path.
		}
	}
}

func (s *Server) answerHTTP2Stream(conn net.Conn, sess *http2engine.Session, st *http2engine.Stream) bool {
	var resp httpmodel.Response
	if s.http != nil {
		resp = s.http(st.Request)
	} else {
		resp = httpmodel.Response{StatusCode: 404}
	}

	block, err := sess.HeaderCodec().EncodeResponse(resp.StatusCode, resp.Headers)
	if err != nil {
		return false
	}

	flags := http2engine.FlagEndHeaders
	if len(resp.Body) == 0 {
		flags |= http2engine.FlagEndStream
	}
	if _, err := conn.Write(http2engine.EncodeFrame(http2engine.FrameHeaders, flags, st.ID, block)); err != nil {
		return false
	}
	if len(resp.Body) > 0 {
		if _, err := conn.Write(http2engine.EncodeFrame(http2engine.FrameData, http2engine.FlagEndStream, st.ID, resp.Body)); err != nil {
			return false
		}
	}
	sess.CloseStream(st.ID)
	return true
}

func readHTTP2FrameHeader(conn net.Conn) (http2engine.FrameHeader, error) {
	buf := make([]byte, http2engine.FrameHeaderLen)
	if _, err := readFull(conn, buf); err != nil {
		return http2engine.FrameHeader{}, err
	}
	return http2engine.ReadFrameHeader(buf)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, awherr.Wrap(awherr.KindTransport, 0, "connection closed while reading HTTP/2 frame", err)
		}
	}
	return total, nil
}
