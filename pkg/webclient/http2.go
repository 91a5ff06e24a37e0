package webclient

import (
	"net"

	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/http2engine"
	"github.com/kosmosnet/awh/pkg/httpmodel"
)

// doOnceHTTP2 drives one request/response exchange on a brand-new
// HTTP/2 connection: the client preface, a SETTINGS exchange, a single
// HEADERS(+DATA) stream, and the matching response stream, per
// spec.md §4.5. One stream per connection keeps this path's scope to
// what [Client.Do]'s one-shot-dial contract actually needs; no
// persistent multi-stream HTTP/2 session is offered by this package
// ([Client.Connect] upgrades over HTTP/1.1 only).
func doOnceHTTP2(conn net.Conn, req httpmodel.Request, secure bool) (httpmodel.Response, error) {
	sess := http2engine.NewSession(http2engine.RoleClient)

	if _, err := conn.Write(http2engine.Preface); err != nil {
		return httpmodel.Response{}, awherr.Wrap(awherr.KindTransport, 0, "failed to write HTTP/2 preface", err)
	}
	if _, err := conn.Write(http2engine.EncodeFrame(http2engine.FrameSettings, 0, 0, http2engine.EncodeSettings(sess.Local))); err != nil {
		return httpmodel.Response{}, awherr.Wrap(awherr.KindTransport, 0, "failed to write SETTINGS", err)
	}

	stream, err := sess.OpenStream()
	if err != nil {
		return httpmodel.Response{}, err
	}

	authority, _ := req.Headers.Get("Host")
	scheme := "http"
	if secure {
		scheme = "https"
	}
	block, err := sess.HeaderCodec().EncodeRequest(req.Method, scheme, authority, req.URI, req.Headers, false)
	if err != nil {
		return httpmodel.Response{}, err
	}

	flags := http2engine.FlagEndHeaders
	if len(req.Body) == 0 {
		flags |= http2engine.FlagEndStream
	}
	if _, err := conn.Write(http2engine.EncodeFrame(http2engine.FrameHeaders, flags, stream.ID, block)); err != nil {
		return httpmodel.Response{}, awherr.Wrap(awherr.KindTransport, 0, "failed to write HEADERS", err)
	}
	stream.Open(false)
	if len(req.Body) == 0 {
		stream.HalfCloseLocal()
	}

	if len(req.Body) > 0 {
		if _, err := conn.Write(http2engine.EncodeFrame(http2engine.FrameData, http2engine.FlagEndStream, stream.ID, req.Body)); err != nil {
			return httpmodel.Response{}, awherr.Wrap(awherr.KindTransport, 0, "failed to write DATA", err)
		}
		stream.HalfCloseLocal()
	}

	return readHTTP2Response(conn, sess, stream)
}

// readHTTP2Response reads frames off conn until stream's response
// HEADERS and any DATA have been fully received, applying SETTINGS and
// WINDOW_UPDATE frames to sess as they arrive, acknowledging PING,
// failing on a GOAWAY that arrives before the response headers, and
// ignoring frame types this one-shot path doesn't act on (such as
// PUSH_PROMISE).
func readHTTP2Response(conn net.Conn, sess *http2engine.Session, stream *http2engine.Stream) (httpmodel.Response, error) {
	var headerBlock []byte
	gotHeaders := false

	for {
		h, err := readHTTP2FrameHeader(conn)
		if err != nil {
			return httpmodel.Response{}, err
		}
		payload := make([]byte, h.Length)
		if _, err := readFull(conn, payload); err != nil {
			return httpmodel.Response{}, err
		}

		switch h.Type {
		case http2engine.FrameSettings:
			if h.Flags&http2engine.FlagAck == 0 {
				if err := sess.ApplyPeerSettings(payload); err != nil {
					return httpmodel.Response{}, err
				}
				if _, err := conn.Write(http2engine.EncodeFrame(http2engine.FrameSettings, http2engine.FlagAck, 0, nil)); err != nil {
					return httpmodel.Response{}, awherr.Wrap(awherr.KindTransport, 0, "failed to ack SETTINGS", err)
				}
			}

		case http2engine.FrameWindowUpdate:
			if h.StreamID == 0 {
				inc, err := http2engine.DecodeWindowUpdate(payload)
				if err == nil {
					_ = sess.ApplyConnectionWindowUpdate(inc)
				}
			} else if h.StreamID == stream.ID {
				inc, err := http2engine.DecodeWindowUpdate(payload)
				if err == nil {
					_ = stream.ApplyPeerWindowUpdate(inc)
				}
			}

		case http2engine.FrameHeaders:
			if h.StreamID != stream.ID {
				continue
			}
			headerBlock = append(headerBlock, payload...)
			if h.Flags&http2engine.FlagEndHeaders != 0 {
				gotHeaders = true
				resp, err := sess.HeaderCodec().DecodeResponse(headerBlock)
				if err != nil {
					return httpmodel.Response{}, err
				}
				stream.Response = resp
			}
			if h.Flags&http2engine.FlagEndStream != 0 {
				stream.HalfCloseRemote()
				return stream.Response, nil
			}

		case http2engine.FrameData:
			if h.StreamID != stream.ID {
				continue
			}
			if err := stream.CheckDataAllowed(); err != nil {
				return httpmodel.Response{}, err
			}
			stream.Body.Append(payload)
			if h.Flags&http2engine.FlagEndStream != 0 {
				stream.Response.Body = stream.Body.Bytes()
				stream.HalfCloseRemote()
				return stream.Response, nil
			}

		case http2engine.FrameGoAway:
			lastID, _, _, _ := http2engine.DecodeGoAway(payload)
			sess.ReceiveGoAway(lastID)
			if !gotHeaders {
				return httpmodel.Response{}, awherr.New(awherr.KindTransport, 0, "server sent GOAWAY before response headers")
			}

		case http2engine.FramePing:
			if h.Flags&http2engine.FlagAck == 0 {
				var data [8]byte
				copy(data[:], payload)
				_, _ = conn.Write(http2engine.EncodeFrame(http2engine.FramePing, http2engine.FlagAck, 0, data[:]))
			}

		default:
			// RST_STREAM, PRIORITY, PUSH_PROMISE: not acted on in this
			// single-stream client path.
		}
	}
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
