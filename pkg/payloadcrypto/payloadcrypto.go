// Package payloadcrypto implements the optional symmetric payload
// encryption layer described by spec.md §4.3's PayloadCrypto component:
// PBKDF2-derived AES-CBC encryption applied to a message payload before
// compression on send, and after decompression on receive.
package payloadcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/kosmosnet/awh/pkg/awherr"
)

// Cipher selects the AES key size used for payload encryption.
type Cipher int

const (
	AES128 Cipher = 16
	AES192 Cipher = 24
	AES256 Cipher = 32
)

func (c Cipher) String() string {
	switch c {
	case AES128:
		return "aes-128-cbc"
	case AES192:
		return "aes-192-cbc"
	case AES256:
		return "aes-256-cbc"
	default:
		return "unknown"
	}
}

const pbkdf2Iterations = 10000

// Context derives an AES key from a passphrase and salt via PBKDF2 and
// uses it to encrypt and decrypt payloads with AES-CBC. A Context is
// safe for concurrent use; key derivation happens once, at
// construction.
type Context struct {
	cipher Cipher
	key    []byte
}

// New derives the AES key for (pass, salt) at the given cipher size.
func New(pass, salt string, c Cipher) (*Context, error) {
	switch c {
	case AES128, AES192, AES256:
	default:
		return nil, awherr.Encryption("unsupported cipher size")
	}

	key := pbkdf2.Key([]byte(pass), []byte(salt), pbkdf2Iterations, int(c), sha256.New)
	return &Context{cipher: c, key: key}, nil
}

// Encrypt pads and encrypts data with a freshly generated random IV,
// producing a payload of the form: [2-byte big-endian cipher size]
// [16-byte IV] [ciphertext]. The cipher size travels in-band in this
// leading field; no HTTP header (such as X-AWH-Encryption) carries it,
// and only WebSocket message payloads are passed through this layout.
func (ctx *Context) Encrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(ctx.key)
	if err != nil {
		return nil, awherr.WrapEncryption("failed to create AES cipher", err)
	}

	padded := pkcs7Pad(data, block.BlockSize())

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, awherr.WrapEncryption("failed to generate IV", err)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, 2+len(iv)+len(ciphertext))
	out = binary.BigEndian.AppendUint16(out, uint16(ctx.cipher))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt reverses [Context.Encrypt]. If the cipher size embedded in
// the payload doesn't match this context's configured cipher, Decrypt
// fails rather than silently using the wrong key size.
func (ctx *Context) Decrypt(data []byte) ([]byte, error) {
	if len(data) < 2+aes.BlockSize {
		return nil, awherr.Encryption("encrypted payload too short")
	}

	gotCipher := Cipher(binary.BigEndian.Uint16(data))
	if gotCipher != ctx.cipher {
		return nil, awherr.Encryption("cipher size mismatch")
	}

	iv := data[2 : 2+aes.BlockSize]
	ciphertext := data[2+aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, awherr.Encryption("ciphertext is not a multiple of the block size")
	}

	block, err := aes.NewCipher(ctx.key)
	if err != nil {
		return nil, awherr.WrapEncryption("failed to create AES cipher", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, awherr.Encryption("cannot unpad empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, awherr.Encryption("invalid PKCS#7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, awherr.Encryption("invalid PKCS#7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}
