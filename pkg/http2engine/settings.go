package http2engine

import (
	"encoding/binary"

	"github.com/kosmosnet/awh/pkg/awherr"
)

// SETTINGS identifiers, per https://datatracker.ietf.org/doc/html/rfc9113#section-6.5.2
const (
	SettingHeaderTableSize      uint16 = 0x1
	SettingEnablePush           uint16 = 0x2
	SettingMaxConcurrentStreams uint16 = 0x3
	SettingInitialWindowSize    uint16 = 0x4
	SettingMaxFrameSize         uint16 = 0x5
	SettingMaxHeaderListSize    uint16 = 0x6
)

// MaxWindowSize is the largest value a flow-control window may take,
// 2^31-1.
const MaxWindowSize = 1<<31 - 1

const (
	minFrameSize     = 16384
	maxFrameSizeCeil = 16777215
)

// Settings holds the six IANA-registered SETTINGS values this engine
// recognizes and enforces.
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
}

// DefaultSettings are the connection-opening SETTINGS values, with
// ENABLE_PUSH defaulting to off per spec.md §4.5.
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      4096,
		EnablePush:           false,
		MaxConcurrentStreams: 100,
		InitialWindowSize:    1<<16 - 1,
		MaxFrameSize:         minFrameSize,
		MaxHeaderListSize:    1 << 20,
	}
}

// EncodeSettings serializes s as a SETTINGS frame payload (six 6-byte
// parameter entries).
func EncodeSettings(s Settings) []byte {
	push := uint32(0)
	if s.EnablePush {
		push = 1
	}
	entries := []struct {
		id  uint16
		val uint32
	}{
		{SettingHeaderTableSize, s.HeaderTableSize},
		{SettingEnablePush, push},
		{SettingMaxConcurrentStreams, s.MaxConcurrentStreams},
		{SettingInitialWindowSize, s.InitialWindowSize},
		{SettingMaxFrameSize, s.MaxFrameSize},
		{SettingMaxHeaderListSize, s.MaxHeaderListSize},
	}
	out := make([]byte, 0, len(entries)*6)
	for _, e := range entries {
		var buf [6]byte
		binary.BigEndian.PutUint16(buf[0:2], e.id)
		binary.BigEndian.PutUint32(buf[2:6], e.val)
		out = append(out, buf[:]...)
	}
	return out
}

// ApplySettingsUpdate parses one SETTINGS frame payload (a sequence of
// 6-byte entries) and applies each recognized parameter to cur,
// clamping INITIAL_WINDOW_SIZE and MAX_FRAME_SIZE to their legal
// ranges. Unrecognized parameters are ignored, per RFC 9113 §6.5.2.
func ApplySettingsUpdate(cur *Settings, payload []byte) error {
	if len(payload)%6 != 0 {
		return awherr.HTTP2(awherr.H2FrameSizeError, "SETTINGS frame length not a multiple of 6")
	}

	for i := 0; i+6 <= len(payload); i += 6 {
		id := binary.BigEndian.Uint16(payload[i : i+2])
		val := binary.BigEndian.Uint32(payload[i+2 : i+6])

		switch id {
		case SettingHeaderTableSize:
			cur.HeaderTableSize = val
		case SettingEnablePush:
			if val > 1 {
				return awherr.HTTP2(awherr.H2ProtocolError, "ENABLE_PUSH must be 0 or 1")
			}
			cur.EnablePush = val == 1
		case SettingMaxConcurrentStreams:
			cur.MaxConcurrentStreams = val
		case SettingInitialWindowSize:
			if val > MaxWindowSize {
				val = MaxWindowSize
			}
			cur.InitialWindowSize = val
		case SettingMaxFrameSize:
			if val < minFrameSize {
				val = minFrameSize
			} else if val > maxFrameSizeCeil {
				val = maxFrameSizeCeil
			}
			cur.MaxFrameSize = val
		case SettingMaxHeaderListSize:
			cur.MaxHeaderListSize = val
		}
	}

	return nil
}
