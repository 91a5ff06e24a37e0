package http2engine

import (
	"github.com/kosmosnet/awh/pkg/awherr"
	"github.com/kosmosnet/awh/pkg/httpmodel"
)

// StreamState is one RFC 9113 §5.1 stream state.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamReservedLocal
	StreamReservedRemote
	StreamOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "IDLE"
	case StreamReservedLocal:
		return "RESERVED_LOCAL"
	case StreamReservedRemote:
		return "RESERVED_REMOTE"
	case StreamOpen:
		return "OPEN"
	case StreamHalfClosedLocal:
		return "HALF_CLOSED_LOCAL"
	case StreamHalfClosedRemote:
		return "HALF_CLOSED_REMOTE"
	case StreamClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Stream is one HTTP/2 stream's state, per spec.md §3's Stream data
// model: a 31-bit id, local/peer flow-control windows, current state,
// and the request or response being assembled on it.
type Stream struct {
	ID    uint32
	State StreamState

	// PeerWindow is how many more DATA bytes this side may send on
	// this stream before waiting for a WINDOW_UPDATE from the peer.
	PeerWindow int64
	// LocalWindow is how many more DATA bytes the peer may send before
	// this side must issue a WINDOW_UPDATE.
	LocalWindow int64

	Request  httpmodel.Request
	Response httpmodel.Response
	Body     httpmodel.BodyAssembler

	EndHeadersSeen bool
	headerBlock    []byte
}

// NewStream constructs a stream in the IDLE state with the connection's
// currently negotiated initial windows.
func NewStream(id uint32, peerInitialWindow, localInitialWindow uint32) *Stream {
	return &Stream{
		ID:          id,
		State:       StreamIdle,
		PeerWindow:  int64(peerInitialWindow),
		LocalWindow: int64(localInitialWindow),
	}
}

// Open transitions a stream to OPEN (or directly to a half-closed state
// when the peer's HEADERS carried END_STREAM).
func (s *Stream) Open(endStream bool) {
	if endStream {
		s.State = StreamHalfClosedRemote
	} else {
		s.State = StreamOpen
	}
}

// CheckDataAllowed validates an incoming DATA frame against the
// stream's state, per RFC 9113 §8.1: a peer must not send DATA before
// HEADERS has opened the stream.
func (s *Stream) CheckDataAllowed() error {
	switch s.State {
	case StreamOpen, StreamHalfClosedLocal:
		return nil
	case StreamIdle:
		return awherr.HTTP2(awherr.H2ProtocolError, "DATA received before HEADERS opened the stream")
	default:
		return awherr.HTTP2(awherr.H2StreamClosed, "DATA received on a stream that is not open for receiving")
	}
}

// ApplyPeerWindowUpdate applies a WINDOW_UPDATE increment received
// from the peer to this stream's send window. A zero increment is
// invalid per RFC 9113 §6.9.
func (s *Stream) ApplyPeerWindowUpdate(increment uint32) error {
	if increment == 0 {
		return awherr.HTTP2(awherr.H2ProtocolError, "WINDOW_UPDATE increment must not be zero")
	}
	s.PeerWindow += int64(increment)
	if s.PeerWindow > MaxWindowSize {
		return awherr.HTTP2(awherr.H2FlowControlError, "stream flow-control window overflow")
	}
	return nil
}

// ConsumeLocalWindow deducts n bytes of received DATA from the local
// (receive) window, failing if the peer exceeded it.
func (s *Stream) ConsumeLocalWindow(n int64) error {
	if n > s.LocalWindow {
		return awherr.HTTP2(awherr.H2FlowControlError, "peer exceeded the stream's advertised receive window")
	}
	s.LocalWindow -= n
	return nil
}

// HalfCloseLocal transitions the stream once this side sends
// END_STREAM.
func (s *Stream) HalfCloseLocal() {
	switch s.State {
	case StreamOpen:
		s.State = StreamHalfClosedLocal
	case StreamHalfClosedRemote:
		s.State = StreamClosed
	}
}

// HalfCloseRemote transitions the stream once the peer sends
// END_STREAM.
func (s *Stream) HalfCloseRemote() {
	switch s.State {
	case StreamOpen:
		s.State = StreamHalfClosedRemote
	case StreamHalfClosedLocal:
		s.State = StreamClosed
	}
}
