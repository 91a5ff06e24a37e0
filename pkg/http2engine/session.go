package http2engine

import (
	"github.com/kosmosnet/awh/pkg/awherr"
)

// Role distinguishes which side of the connection a Session plays,
// since stream-id parity (client-odd, server-even) and HEADERS/DATA
// direction rules differ by role.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Session is one HTTP/2 connection's state: open streams, HPACK
// codec, negotiated settings for both directions, and the connection
// flow-control windows. It is not safe for concurrent use; callers
// serialize access (e.g. from the single read/write goroutine pair
// ConnectionCore drives per broker).
type Session struct {
	role Role

	Local Settings
	Peer  Settings
	codec *HeaderCodec

	// Connection-level flow-control windows, independent of any
	// stream's window.
	PeerConnWindow  int64
	LocalConnWindow int64

	streams    map[uint32]*Stream
	lastPeerID uint32
	lastOwnID  uint32

	goAwayReceived bool
	goAwayLastID   uint32
	goAwaySent     bool
}

// NewSession constructs a Session with default settings for both
// directions; call ApplyPeerSettings once the peer's SETTINGS frame
// arrives.
func NewSession(role Role) *Session {
	defaults := DefaultSettings()
	return &Session{
		role:            role,
		Local:           defaults,
		Peer:            defaults,
		codec:           NewHeaderCodec(defaults.HeaderTableSize),
		PeerConnWindow:  int64(defaults.InitialWindowSize),
		LocalConnWindow: int64(defaults.InitialWindowSize),
		streams:         make(map[uint32]*Stream),
	}
}

// HeaderCodec exposes the session's shared HPACK encoder/decoder.
func (s *Session) HeaderCodec() *HeaderCodec {
	return s.codec
}

// isOwnStreamID reports whether id belongs to this session's own
// parity (client streams are odd, server streams are even).
func (s *Session) isOwnStreamID(id uint32) bool {
	if s.role == RoleClient {
		return id%2 == 1
	}
	return id%2 == 0
}

// OpenStream creates and registers a new stream initiated by this
// side, enforcing monotonically increasing ids and MAX_CONCURRENT_STREAMS.
func (s *Session) OpenStream() (*Stream, error) {
	if s.goAwaySent || s.goAwayReceived {
		return nil, awherr.HTTP2(awherr.H2RefusedStream, "session is shutting down")
	}
	if uint32(len(s.openCount())) >= s.Peer.MaxConcurrentStreams {
		return nil, awherr.HTTP2(awherr.H2RefusedStream, "MAX_CONCURRENT_STREAMS exceeded")
	}

	var id uint32
	if s.role == RoleClient {
		id = s.lastOwnID + 2
		if s.lastOwnID == 0 {
			id = 1
		}
	} else {
		id = s.lastOwnID + 2
		if s.lastOwnID == 0 {
			id = 2
		}
	}
	s.lastOwnID = id

	st := NewStream(id, s.Peer.InitialWindowSize, s.Local.InitialWindowSize)
	s.streams[id] = st
	return st, nil
}

// AcceptStream registers a stream opened by the peer via an incoming
// HEADERS frame, enforcing the monotonic-id and fencing invariants.
func (s *Session) AcceptStream(id uint32) (*Stream, error) {
	if s.isOwnStreamID(id) {
		return nil, awherr.HTTP2(awherr.H2ProtocolError, "peer used a stream id reserved for this side")
	}
	if id <= s.lastPeerID {
		return nil, awherr.HTTP2(awherr.H2ProtocolError, "stream id is not monotonically increasing")
	}
	if s.goAwaySent && id > s.goAwayLastID {
		return nil, awherr.HTTP2(awherr.H2RefusedStream, "stream opened after GOAWAY fenced new streams")
	}

	s.lastPeerID = id
	st := NewStream(id, s.Peer.InitialWindowSize, s.Local.InitialWindowSize)
	s.streams[id] = st
	return st, nil
}

// Stream looks up an existing stream by id.
func (s *Session) Stream(id uint32) (*Stream, bool) {
	st, ok := s.streams[id]
	return st, ok
}

// CloseStream removes a stream once it reaches the CLOSED state.
func (s *Session) CloseStream(id uint32) {
	delete(s.streams, id)
}

func (s *Session) openCount() map[uint32]*Stream {
	return s.streams
}

// ApplyPeerSettings applies a parsed peer SETTINGS update, propagating
// an INITIAL_WINDOW_SIZE change to every open stream's peer window per
// RFC 9113 §6.9.2.
func (s *Session) ApplyPeerSettings(payload []byte) error {
	before := s.Peer.InitialWindowSize
	if err := ApplySettingsUpdate(&s.Peer, payload); err != nil {
		return err
	}
	if s.Peer.InitialWindowSize != before {
		delta := int64(s.Peer.InitialWindowSize) - int64(before)
		for _, st := range s.streams {
			st.PeerWindow += delta
			if st.PeerWindow > MaxWindowSize || st.PeerWindow < 0 {
				return awherr.HTTP2(awherr.H2FlowControlError, "INITIAL_WINDOW_SIZE update overflowed a stream window")
			}
		}
	}
	s.codec.SetEncoderMaxDynamicTableSize(s.Peer.HeaderTableSize)
	return nil
}

// ApplyConnectionWindowUpdate applies a connection-level (stream id 0)
// WINDOW_UPDATE.
func (s *Session) ApplyConnectionWindowUpdate(increment uint32) error {
	if increment == 0 {
		return awherr.HTTP2(awherr.H2ProtocolError, "WINDOW_UPDATE increment must not be zero")
	}
	s.PeerConnWindow += int64(increment)
	if s.PeerConnWindow > MaxWindowSize {
		return awherr.HTTP2(awherr.H2FlowControlError, "connection flow-control window overflow")
	}
	return nil
}

// ReceiveGoAway records a GOAWAY from the peer and its lastStreamID;
// from then on OpenStream refuses new locally-initiated streams, and
// the caller should begin an orderly shutdown once in-flight streams at
// or below lastStreamID finish. AcceptStream's id fence applies only
// after SendGoAway.
func (s *Session) ReceiveGoAway(lastStreamID uint32) {
	s.goAwayReceived = true
	s.goAwayLastID = lastStreamID
}

// SendGoAway marks this side as having sent GOAWAY, fencing further
// locally-initiated streams.
func (s *Session) SendGoAway(lastStreamID uint32) {
	s.goAwaySent = true
	s.goAwayLastID = lastStreamID
}

// Draining reports whether either side has sent GOAWAY.
func (s *Session) Draining() bool {
	return s.goAwaySent || s.goAwayReceived
}

// InFlightStreams reports how many registered streams (not yet removed
// by CloseStream) have an id at or below the GOAWAY-fenced
// last-stream-id, for the orderly-shutdown wait described in spec.md
// §4.5. Before any GOAWAY it counts every registered stream.
func (s *Session) InFlightStreams() int {
	n := 0
	for id := range s.streams {
		if !s.Draining() || id <= s.goAwayLastID {
			n++
		}
	}
	return n
}
