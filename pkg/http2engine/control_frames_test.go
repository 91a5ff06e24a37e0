package http2engine

import "testing"

const (
	errorCodeCancel   uint32 = 0x8
	errorCodeProtocol uint32 = 0x1
)

func TestRSTStreamRoundTrip(t *testing.T) {
	frame := EncodeRSTStream(5, errorCodeCancel)
	h, err := ReadFrameHeader(frame)
	if err != nil {
		t.Fatalf("ReadFrameHeader() error = %v", err)
	}
	got, err := DecodeRSTStream(frame[FrameHeaderLen:])
	if err != nil {
		t.Fatalf("DecodeRSTStream() error = %v", err)
	}
	if h.StreamID != 5 || got != errorCodeCancel {
		t.Errorf("RST_STREAM round trip = streamID %d code %d", h.StreamID, got)
	}
}

func TestWindowUpdateRoundTrip(t *testing.T) {
	frame := EncodeWindowUpdate(3, 1000)
	got, err := DecodeWindowUpdate(frame[FrameHeaderLen:])
	if err != nil {
		t.Fatalf("DecodeWindowUpdate() error = %v", err)
	}
	if got != 1000 {
		t.Errorf("DecodeWindowUpdate() = %d, want 1000", got)
	}
}

func TestGoAwayRoundTrip(t *testing.T) {
	frame := EncodeGoAway(9, errorCodeProtocol, []byte("bye"))
	lastID, code, debug, err := DecodeGoAway(frame[FrameHeaderLen:])
	if err != nil {
		t.Fatalf("DecodeGoAway() error = %v", err)
	}
	if lastID != 9 || code != errorCodeProtocol || string(debug) != "bye" {
		t.Errorf("GOAWAY round trip = %d %d %q", lastID, code, debug)
	}
}

func TestPingRoundTrip(t *testing.T) {
	var data [8]byte
	copy(data[:], "ping1234")
	frame := EncodePing(data, true)

	h, err := ReadFrameHeader(frame)
	if err != nil {
		t.Fatalf("ReadFrameHeader() error = %v", err)
	}
	if h.Flags != FlagAck {
		t.Errorf("Flags = %x, want FlagAck", h.Flags)
	}
	got, err := DecodePing(frame[FrameHeaderLen:])
	if err != nil {
		t.Fatalf("DecodePing() error = %v", err)
	}
	if got != data {
		t.Errorf("DecodePing() = %v, want %v", got, data)
	}
}

func TestEncodePriority(t *testing.T) {
	frame := EncodePriority(7, true, 3, 200)
	h, err := ReadFrameHeader(frame)
	if err != nil {
		t.Fatalf("ReadFrameHeader() error = %v", err)
	}
	if h.Type != FramePriority || h.StreamID != 7 || h.Length != 5 {
		t.Errorf("ReadFrameHeader() = %+v", h)
	}
	payload := frame[FrameHeaderLen:]
	if payload[4] != 200 {
		t.Errorf("weight = %d, want 200", payload[4])
	}
	if payload[0]&0x80 == 0 {
		t.Error("exclusive bit not set")
	}
}

func TestDecodeRSTStreamRejectsWrongLength(t *testing.T) {
	if _, err := DecodeRSTStream([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a malformed RST_STREAM payload")
	}
}
