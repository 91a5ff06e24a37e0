package wsframe

import (
	"testing"

	"github.com/kosmosnet/awh/pkg/awherr"
)

func TestParseClose(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		wantCode   int
		wantReason string
	}{
		{name: "empty", payload: nil, wantCode: awherr.WSNotReceived},
		{name: "code_only", payload: EncodeClose(awherr.WSNormalClosure, ""), wantCode: awherr.WSNormalClosure},
		{name: "code_and_reason", payload: EncodeClose(awherr.WSGoingAway, "bye"), wantCode: awherr.WSGoingAway, wantReason: "bye"},
		{name: "truncated_one_byte", payload: []byte{0x03}, wantCode: awherr.WSProtocolError},
		{name: "invalid_utf8_reason", payload: append(EncodeClose(awherr.WSNormalClosure, ""), 0xff, 0xfe), wantCode: awherr.WSInvalidData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, reason := ParseClose(tt.payload)
			if code != tt.wantCode {
				t.Errorf("ParseClose() code = %d, want %d", code, tt.wantCode)
			}
			if reason != tt.wantReason {
				t.Errorf("ParseClose() reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestCheckCloseRewritesReservedCodes(t *testing.T) {
	tests := []struct {
		name string
		code int
		want int
	}{
		{name: "not_received_1005", code: awherr.WSNotReceived, want: awherr.WSProtocolError},
		{name: "closed_abnormally_1006", code: awherr.WSClosedAbnormal, want: awherr.WSProtocolError},
		{name: "tls_handshake_1015", code: awherr.WSTLSHandshake, want: awherr.WSProtocolError},
		{name: "below_1000", code: 42, want: awherr.WSProtocolError},
		{name: "normal_closure_passthrough", code: awherr.WSNormalClosure, want: awherr.WSNormalClosure},
		{name: "library_range_passthrough", code: 3000, want: 3000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := CheckClose(tt.code, "")
			if got != tt.want {
				t.Errorf("CheckClose(%d) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestCheckCloseTruncatesLongReason(t *testing.T) {
	reason := make([]byte, 200)
	for i := range reason {
		reason[i] = 'a'
	}
	_, got := CheckClose(awherr.WSNormalClosure, string(reason))
	if len(got) != maxCloseReason {
		t.Errorf("CheckClose() reason length = %d, want %d", len(got), maxCloseReason)
	}
}
