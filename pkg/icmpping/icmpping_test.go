package icmpping_test

import (
	"net"
	"testing"

	"github.com/kosmosnet/awh/pkg/icmpping"
)

func TestChecksumZeroForBalancedData(t *testing.T) {
	// A buffer of all 0xff 16-bit words sums to 0xffff per word; the
	// one's-complement checksum of many such words is 0.
	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = 0xff
	}
	got := icmpping.Checksum(buf)
	if got != 0 {
		t.Fatalf("Checksum = %#x, want 0", got)
	}
}

func TestChecksumKnownVector(t *testing.T) {
	// RFC 1071's worked example.
	buf := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	got := icmpping.Checksum(buf)
	if got != 0x220d {
		t.Fatalf("Checksum = %#x, want 0x220d", got)
	}
}

func TestBuildEchoV4HasCorrectType(t *testing.T) {
	msg := icmpping.BuildEchoV4(42, 0, []byte("ping"))
	if msg[0] != 8 {
		t.Fatalf("type = %d, want 8 (ICMPv4 Echo Request)", msg[0])
	}
	if icmpping.Checksum(msg) != 0 {
		t.Fatalf("self-checksum of a just-built message should be 0, got %#x", icmpping.Checksum(msg))
	}
}

func TestBuildEchoV6HasCorrectType(t *testing.T) {
	src := net.ParseIP("::1")
	dst := net.ParseIP("::1")
	msg := icmpping.BuildEchoV6(7, 3, []byte("ping"), src, dst)
	if msg[0] != 128 {
		t.Fatalf("type = %d, want 128 (ICMPv6 Echo Request)", msg[0])
	}
}

func TestParseEchoReplyV4RoundTrip(t *testing.T) {
	reply := []byte{0, 0, 0, 0, 0, 42, 0, 7, 'o', 'k'}
	// The checksum field is left zero: ParseEchoReply doesn't verify
	// checksums itself, so a structurally valid reply is enough.
	got, err := icmpping.ParseEchoReply(reply, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 42 || got.Seq != 7 || string(got.Payload) != "ok" {
		t.Fatalf("got %+v", got)
	}
}

func TestParseEchoReplyRejectsWrongType(t *testing.T) {
	reply := []byte{8, 0, 0, 0, 0, 1, 0, 1}
	_, err := icmpping.ParseEchoReply(reply, false)
	if err == nil {
		t.Fatal("expected an error for an Echo Request mistaken as a reply")
	}
}

func TestParseEchoReplyRejectsShortBuffer(t *testing.T) {
	_, err := icmpping.ParseEchoReply([]byte{0, 0, 0}, false)
	if err == nil {
		t.Fatal("expected an error for a too-short ICMP message")
	}
}

func TestProbePrivilegeReturnsAResult(t *testing.T) {
	result := icmpping.ProbePrivilege()
	switch result {
	case icmpping.ProbeRawSocket, icmpping.ProbeDatagramSocket, icmpping.ProbeUnavailable:
	default:
		t.Fatalf("ProbePrivilege() = %v, want one of the defined ProbeResult values", result)
	}
}
