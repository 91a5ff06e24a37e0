package http2engine

import (
	"encoding/binary"

	"github.com/kosmosnet/awh/pkg/awherr"
)

// EncodeRSTStream builds an RST_STREAM frame.
func EncodeRSTStream(streamID uint32, errorCode uint32) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, errorCode)
	return EncodeFrame(FrameRSTStream, 0, streamID, payload)
}

// DecodeRSTStream parses an RST_STREAM payload.
func DecodeRSTStream(payload []byte) (errorCode uint32, err error) {
	if len(payload) != 4 {
		return 0, awherr.HTTP2(awherr.H2FrameSizeError, "RST_STREAM payload must be 4 bytes")
	}
	return binary.BigEndian.Uint32(payload), nil
}

// EncodeWindowUpdate builds a WINDOW_UPDATE frame for streamID (0 for
// the connection window).
func EncodeWindowUpdate(streamID uint32, increment uint32) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, increment&0x7fffffff)
	return EncodeFrame(FrameWindowUpdate, 0, streamID, payload)
}

// DecodeWindowUpdate parses a WINDOW_UPDATE payload.
func DecodeWindowUpdate(payload []byte) (increment uint32, err error) {
	if len(payload) != 4 {
		return 0, awherr.HTTP2(awherr.H2FrameSizeError, "WINDOW_UPDATE payload must be 4 bytes")
	}
	return binary.BigEndian.Uint32(payload) & 0x7fffffff, nil
}

// EncodeGoAway builds a GOAWAY frame.
func EncodeGoAway(lastStreamID uint32, errorCode uint32, debugData []byte) []byte {
	payload := make([]byte, 8+len(debugData))
	binary.BigEndian.PutUint32(payload[0:4], lastStreamID&0x7fffffff)
	binary.BigEndian.PutUint32(payload[4:8], errorCode)
	copy(payload[8:], debugData)
	return EncodeFrame(FrameGoAway, 0, 0, payload)
}

// DecodeGoAway parses a GOAWAY payload.
func DecodeGoAway(payload []byte) (lastStreamID, errorCode uint32, debugData []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, awherr.HTTP2(awherr.H2FrameSizeError, "GOAWAY payload must be at least 8 bytes")
	}
	lastStreamID = binary.BigEndian.Uint32(payload[0:4]) & 0x7fffffff
	errorCode = binary.BigEndian.Uint32(payload[4:8])
	debugData = payload[8:]
	return lastStreamID, errorCode, debugData, nil
}

// EncodePing builds a PING frame carrying an 8-byte opaque payload.
func EncodePing(data [8]byte, ack bool) []byte {
	var flags uint8
	if ack {
		flags = FlagAck
	}
	return EncodeFrame(FramePing, flags, 0, data[:])
}

// DecodePing parses a PING payload.
func DecodePing(payload []byte) ([8]byte, error) {
	var out [8]byte
	if len(payload) != 8 {
		return out, awherr.HTTP2(awherr.H2FrameSizeError, "PING payload must be 8 bytes")
	}
	copy(out[:], payload)
	return out, nil
}

// EncodePriority builds a PRIORITY frame.
func EncodePriority(streamID uint32, exclusive bool, dependsOn uint32, weight uint8) []byte {
	payload := make([]byte, 5)
	dep := dependsOn & 0x7fffffff
	if exclusive {
		dep |= 0x80000000
	}
	binary.BigEndian.PutUint32(payload[0:4], dep)
	payload[4] = weight
	return EncodeFrame(FramePriority, 0, streamID, payload)
}
