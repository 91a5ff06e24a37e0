package wsframe

import (
	"bytes"
	"testing"
)

func TestReassemblerSingleFrame(t *testing.T) {
	var r Reassembler
	msg, err := r.Feed(Header{FIN: true, Opcode: OpcodeText}, []byte("hello"))
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if msg == nil || string(msg.Data) != "hello" || msg.Opcode != OpcodeText {
		t.Fatalf("Feed() = %+v", msg)
	}
}

func TestReassemblerFragmented(t *testing.T) {
	var r Reassembler

	if msg, err := r.Feed(Header{FIN: false, Opcode: OpcodeText}, []byte("hel")); err != nil || msg != nil {
		t.Fatalf("first fragment: msg=%v err=%v", msg, err)
	}
	if r.CurrentOpcode() != OpcodeText {
		t.Fatalf("CurrentOpcode() = %v, want text", r.CurrentOpcode())
	}
	if msg, err := r.Feed(Header{FIN: false, Opcode: OpcodeContinuation}, []byte("lo ")); err != nil || msg != nil {
		t.Fatalf("second fragment: msg=%v err=%v", msg, err)
	}
	msg, err := r.Feed(Header{FIN: true, Opcode: OpcodeContinuation}, []byte("world"))
	if err != nil {
		t.Fatalf("final fragment error = %v", err)
	}
	if msg == nil || string(msg.Data) != "hello world" {
		t.Fatalf("Feed() = %+v", msg)
	}
	if r.CurrentOpcode() != OpcodeContinuation {
		t.Fatalf("CurrentOpcode() after completion = %v, want continuation", r.CurrentOpcode())
	}
}

func TestReassemblerInvalidUTF8(t *testing.T) {
	var r Reassembler
	_, err := r.Feed(Header{FIN: true, Opcode: OpcodeText}, []byte{0xff, 0xfe, 0xfd})
	if err == nil {
		t.Fatal("expected an error for invalid UTF-8 text")
	}
}

func TestFragmentSmallMessage(t *testing.T) {
	frames := Fragment(OpcodeText, []byte("hi"), 1024, false)
	if len(frames) != 1 {
		t.Fatalf("Fragment() returned %d frames, want 1", len(frames))
	}
	if !frames[0].Header.FIN || frames[0].Header.Opcode != OpcodeText {
		t.Errorf("Fragment() header = %+v", frames[0].Header)
	}
}

func TestFragmentLargeMessage(t *testing.T) {
	data := bytes.Repeat([]byte("abcd"), 100) // 400 bytes.
	frames := Fragment(OpcodeBinary, data, 100, true)

	if len(frames) != 4 {
		t.Fatalf("Fragment() returned %d frames, want 4", len(frames))
	}
	if frames[0].Header.Opcode != OpcodeBinary || frames[0].Header.FIN || !frames[0].Header.RSV1 {
		t.Errorf("first frame header = %+v", frames[0].Header)
	}
	for i := 1; i < 3; i++ {
		if frames[i].Header.Opcode != OpcodeContinuation || frames[i].Header.FIN || frames[i].Header.RSV1 {
			t.Errorf("middle frame %d header = %+v", i, frames[i].Header)
		}
	}
	last := frames[len(frames)-1]
	if last.Header.Opcode != OpcodeContinuation || !last.Header.FIN {
		t.Errorf("last frame header = %+v", last.Header)
	}

	var reassembled []byte
	for _, f := range frames {
		reassembled = append(reassembled, f.Payload...)
	}
	if !bytes.Equal(reassembled, data) {
		t.Error("reassembled fragments do not match the original message")
	}
}
