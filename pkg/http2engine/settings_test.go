package http2engine

import "testing"

func TestEncodeDecodeSettingsRoundTrip(t *testing.T) {
	want := Settings{
		HeaderTableSize:      8192,
		EnablePush:           false,
		MaxConcurrentStreams: 50,
		InitialWindowSize:    65535,
		MaxFrameSize:         32768,
		MaxHeaderListSize:    16384,
	}

	payload := EncodeSettings(want)

	got := DefaultSettings()
	if err := ApplySettingsUpdate(&got, payload); err != nil {
		t.Fatalf("ApplySettingsUpdate() error = %v", err)
	}
	if got != want {
		t.Errorf("ApplySettingsUpdate() = %+v, want %+v", got, want)
	}
}

func TestApplySettingsUpdateClampsInitialWindowSize(t *testing.T) {
	payload := make([]byte, 6)
	payload[1] = byte(SettingInitialWindowSize)
	// Encode a value above MaxWindowSize.
	payload[2], payload[3], payload[4], payload[5] = 0xff, 0xff, 0xff, 0xff

	s := DefaultSettings()
	if err := ApplySettingsUpdate(&s, payload); err != nil {
		t.Fatalf("ApplySettingsUpdate() error = %v", err)
	}
	if s.InitialWindowSize != MaxWindowSize {
		t.Errorf("InitialWindowSize = %d, want %d (clamped)", s.InitialWindowSize, MaxWindowSize)
	}
}

func TestApplySettingsUpdateClampsMaxFrameSize(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		want  uint32
	}{
		{"too_small", 100, 16384},
		{"too_large", 1 << 25, 16777215},
		{"minimum_valid", 16384, 16384},
		{"maximum_valid", 16777215, 16777215},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := make([]byte, 6)
			payload[1] = byte(SettingMaxFrameSize)
			payload[2] = byte(tt.value >> 24)
			payload[3] = byte(tt.value >> 16)
			payload[4] = byte(tt.value >> 8)
			payload[5] = byte(tt.value)

			s := DefaultSettings()
			if err := ApplySettingsUpdate(&s, payload); err != nil {
				t.Fatalf("ApplySettingsUpdate(%d) error = %v", tt.value, err)
			}
			if s.MaxFrameSize != tt.want {
				t.Errorf("ApplySettingsUpdate(%d) MaxFrameSize = %d, want %d", tt.value, s.MaxFrameSize, tt.want)
			}
		})
	}
}

func TestApplySettingsUpdateRejectsMisalignedPayload(t *testing.T) {
	s := DefaultSettings()
	if err := ApplySettingsUpdate(&s, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a payload length not a multiple of 6")
	}
}

func TestApplySettingsUpdateIgnoresUnknownParameters(t *testing.T) {
	payload := make([]byte, 6)
	payload[0], payload[1] = 0xff, 0xff // unknown id.

	s := DefaultSettings()
	before := s
	if err := ApplySettingsUpdate(&s, payload); err != nil {
		t.Fatalf("ApplySettingsUpdate() error = %v", err)
	}
	if s != before {
		t.Errorf("unknown SETTINGS id mutated state: got %+v, want %+v", s, before)
	}
}
