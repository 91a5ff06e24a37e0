package wscompress

import (
	"bytes"
	"strings"
	"testing"
)

func TestPerMessageDeflateRoundTrip(t *testing.T) {
	tx, err := NewPerMessageDeflate(PerMessageDeflateParams{})
	if err != nil {
		t.Fatalf("NewPerMessageDeflate() error = %v", err)
	}
	rx, err := NewPerMessageDeflate(PerMessageDeflateParams{})
	if err != nil {
		t.Fatalf("NewPerMessageDeflate() error = %v", err)
	}

	messages := []string{
		"hello",
		"hello again, with more repeated text: hello hello hello",
		strings.Repeat("context takeover should shrink this a lot ", 20),
	}

	for _, msg := range messages {
		compressed, err := tx.CompressMessage([]byte(msg))
		if err != nil {
			t.Fatalf("CompressMessage(%q) error = %v", msg, err)
		}
		if bytes.HasSuffix(compressed, deflateTail) {
			t.Errorf("CompressMessage(%q) did not strip the trailing empty block", msg)
		}

		got, err := rx.DecompressMessage(compressed)
		if err != nil {
			t.Fatalf("DecompressMessage(%q) error = %v", msg, err)
		}
		if string(got) != msg {
			t.Errorf("round trip mismatch: got %q, want %q", got, msg)
		}
	}
}

func TestPerMessageDeflateContextTakeoverShrinksLaterMessages(t *testing.T) {
	tx, err := NewPerMessageDeflate(PerMessageDeflateParams{})
	if err != nil {
		t.Fatalf("NewPerMessageDeflate() error = %v", err)
	}

	repeated := strings.Repeat("abcdefghijklmnopqrstuvwxyz", 8)

	first, err := tx.CompressMessage([]byte(repeated))
	if err != nil {
		t.Fatalf("CompressMessage() error = %v", err)
	}
	second, err := tx.CompressMessage([]byte(repeated))
	if err != nil {
		t.Fatalf("CompressMessage() error = %v", err)
	}

	if len(second) >= len(first) {
		t.Errorf("expected context takeover to shrink a repeated message further: first=%d second=%d", len(first), len(second))
	}
}

func TestPerMessageDeflateContextTakeoverCrossMessageBackReference(t *testing.T) {
	tx, err := NewPerMessageDeflate(PerMessageDeflateParams{})
	if err != nil {
		t.Fatalf("NewPerMessageDeflate() error = %v", err)
	}
	rx, err := NewPerMessageDeflate(PerMessageDeflateParams{})
	if err != nil {
		t.Fatalf("NewPerMessageDeflate() error = %v", err)
	}

	// The first message primes the sliding window; the second message
	// is short and entirely composed of text already seen in the
	// first, so with context takeover (the default) the encoder's
	// compressor is never reset and is free to emit a back-reference
	// that reaches into the first message's window. A decoder that
	// discards its window between messages fails or corrupts this.
	first := strings.Repeat("the quick brown fox jumps over the lazy dog ", 30)
	second := "the quick brown fox"

	firstCompressed, err := tx.CompressMessage([]byte(first))
	if err != nil {
		t.Fatalf("CompressMessage(first) error = %v", err)
	}
	if _, err := rx.DecompressMessage(firstCompressed); err != nil {
		t.Fatalf("DecompressMessage(first) error = %v", err)
	}

	secondCompressed, err := tx.CompressMessage([]byte(second))
	if err != nil {
		t.Fatalf("CompressMessage(second) error = %v", err)
	}

	got, err := rx.DecompressMessage(secondCompressed)
	if err != nil {
		t.Fatalf("DecompressMessage(second) error = %v", err)
	}
	if string(got) != second {
		t.Errorf("cross-message round trip mismatch: got %q, want %q", got, second)
	}
}

func TestPerMessageDeflateNoContextTakeoverIsDeterministic(t *testing.T) {
	tx, err := NewPerMessageDeflate(PerMessageDeflateParams{NoContextTakeover: true})
	if err != nil {
		t.Fatalf("NewPerMessageDeflate() error = %v", err)
	}

	repeated := strings.Repeat("abcdefghijklmnopqrstuvwxyz", 8)

	first, err := tx.CompressMessage([]byte(repeated))
	if err != nil {
		t.Fatalf("CompressMessage() error = %v", err)
	}
	second, err := tx.CompressMessage([]byte(repeated))
	if err != nil {
		t.Fatalf("CompressMessage() error = %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("no_context_takeover should produce identical output for identical input: first=%v second=%v", first, second)
	}
}

func TestCompressForSendFallsBackToUncompressed(t *testing.T) {
	tx, err := NewPerMessageDeflate(PerMessageDeflateParams{})
	if err != nil {
		t.Fatalf("NewPerMessageDeflate() error = %v", err)
	}

	tiny := []byte("a")
	payload, rsv1, err := tx.CompressForSend(tiny)
	if err != nil {
		t.Fatalf("CompressForSend() error = %v", err)
	}
	if rsv1 {
		t.Error("expected CompressForSend() to fall back to uncompressed for a tiny message")
	}
	if !bytes.Equal(payload, tiny) {
		t.Errorf("CompressForSend() payload = %v, want %v", payload, tiny)
	}
}

func TestCompressForSendUsesCompressionWhenItHelps(t *testing.T) {
	tx, err := NewPerMessageDeflate(PerMessageDeflateParams{})
	if err != nil {
		t.Fatalf("NewPerMessageDeflate() error = %v", err)
	}

	large := []byte(strings.Repeat("compress me please ", 50))
	payload, rsv1, err := tx.CompressForSend(large)
	if err != nil {
		t.Fatalf("CompressForSend() error = %v", err)
	}
	if !rsv1 {
		t.Error("expected CompressForSend() to compress a large repetitive message")
	}
	if len(payload) >= len(large) {
		t.Errorf("CompressForSend() payload not smaller: got %d, want < %d", len(payload), len(large))
	}
}

func TestPerMessageDeflateWindowBitsDefault(t *testing.T) {
	p := PerMessageDeflateParams{}
	if p.windowBits() != 15 {
		t.Errorf("windowBits() = %d, want 15", p.windowBits())
	}
	p.MaxWindowBits = 10
	if p.windowBits() != 10 {
		t.Errorf("windowBits() = %d, want 10", p.windowBits())
	}
}
