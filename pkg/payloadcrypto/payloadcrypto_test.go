package payloadcrypto

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		cipher Cipher
		data   []byte
	}{
		{"aes128_short", AES128, []byte("hello")},
		{"aes192_short", AES192, []byte("hello")},
		{"aes256_short", AES256, []byte("hello")},
		{"aes256_empty", AES256, []byte{}},
		{"aes256_exact_block", AES256, bytes.Repeat([]byte("x"), 16)},
		{"aes256_multi_block", AES256, bytes.Repeat([]byte("0123456789abcdef"), 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, err := New("s3cr3t", "somesalt", tt.cipher)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			ciphertext, err := ctx.Encrypt(tt.data)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}

			plaintext, err := ctx.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(plaintext, tt.data) {
				t.Errorf("round trip mismatch: got %q, want %q", plaintext, tt.data)
			}
		})
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	ctx, err := New("pass", "salt", AES256)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	a, _ := ctx.Encrypt([]byte("same plaintext"))
	b, _ := ctx.Encrypt([]byte("same plaintext"))
	if bytes.Equal(a, b) {
		t.Error("expected Encrypt() to produce different ciphertext for a fresh random IV each call")
	}
}

func TestDecryptRejectsCipherMismatch(t *testing.T) {
	enc, err := New("pass", "salt", AES128)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	dec, err := New("pass", "salt", AES256)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ciphertext, err := enc.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := dec.Decrypt(ciphertext); err == nil {
		t.Fatal("expected Decrypt() to fail on a cipher-size mismatch")
	}
}

func TestDecryptRejectsTruncatedPayload(t *testing.T) {
	ctx, err := New("pass", "salt", AES256)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := ctx.Decrypt([]byte{0x01}); err == nil {
		t.Fatal("expected Decrypt() to fail on a too-short payload")
	}
}

func TestNewRejectsUnsupportedCipher(t *testing.T) {
	if _, err := New("pass", "salt", Cipher(7)); err == nil {
		t.Fatal("expected New() to reject an unsupported cipher size")
	}
}

func TestPKCS7PadUnpad(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 17, 31, 32} {
		data := bytes.Repeat([]byte{0xab}, n)
		padded := pkcs7Pad(data, 16)
		if len(padded)%16 != 0 {
			t.Fatalf("pkcs7Pad(%d bytes) length = %d, not a multiple of 16", n, len(padded))
		}
		unpadded, err := pkcs7Unpad(padded)
		if err != nil {
			t.Fatalf("pkcs7Unpad() error = %v", err)
		}
		if !bytes.Equal(unpadded, data) {
			t.Errorf("pkcs7Unpad(pkcs7Pad(%d bytes)) mismatch", n)
		}
	}
}
