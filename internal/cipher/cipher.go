// Package cipher provides the symmetric codec that makes tokens opaque.
//
// Payloads are encrypted with AES in ECB mode with PKCS#5 padding. The mode
// needs no IV, so identical plaintexts produce identical ciphertexts; callers
// that need distinct tokens must put a unique component in the payload.
package cipher

import (
	"bytes"
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tjfontaine/reqguard/internal/apperr"
)

// ErrDecrypt is returned for ciphertext that is malformed or was produced
// under a different key.
var ErrDecrypt = errors.New("failed to decrypt bytes")

// ValidKeySizes lists the accepted raw key lengths in bytes.
var ValidKeySizes = []int{16, 24, 32}

// Codec encrypts and decrypts byte payloads under a fixed key.
// It is safe for concurrent use.
type Codec struct {
	key []byte

	encMu sync.Mutex
	enc   gocipher.Block

	decMu sync.Mutex
	dec   gocipher.Block
}

// New creates a codec from a standard base64-encoded key.
// The key must decode to 16, 24 or 32 bytes.
func New(encodedKey string) (*Codec, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "encryption key is not valid base64", err)
	}
	return NewFromBytes(key)
}

// NewFromBytes creates a codec from raw key bytes. The slice is copied.
func NewFromBytes(key []byte) (*Codec, error) {
	if !validKeySize(len(key)) {
		return nil, apperr.Newf(apperr.KindConfiguration,
			"encryption key must be 16, 24 or 32 bytes, got %d", len(key))
	}
	key = bytes.Clone(key)
	enc, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "encryption algorithm not supported", err)
	}
	dec, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "encryption algorithm not supported", err)
	}
	return &Codec{key: key, enc: enc, dec: dec}, nil
}

// GenerateKey returns a random base64-encoded key of the given size.
func GenerateKey(size int) (string, error) {
	if !validKeySize(size) {
		return "", fmt.Errorf("key size must be 16, 24 or 32 bytes, got %d", size)
	}
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("read random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func validKeySize(n int) bool {
	for _, s := range ValidKeySizes {
		if n == s {
			return true
		}
	}
	return false
}

// Key returns a copy of the raw key bytes.
func (c *Codec) Key() []byte {
	return bytes.Clone(c.key)
}

// Encrypt pads and encrypts plaintext.
func (c *Codec) Encrypt(plaintext []byte) []byte {
	bs := c.enc.BlockSize()
	padded := pad(plaintext, bs)
	out := make([]byte, len(padded))

	c.encMu.Lock()
	defer c.encMu.Unlock()
	for i := 0; i < len(padded); i += bs {
		c.enc.Encrypt(out[i:i+bs], padded[i:i+bs])
	}
	return out
}

// Decrypt decrypts and unpads ciphertext. It returns ErrDecrypt when the
// input is not a whole number of blocks or the padding is invalid.
func (c *Codec) Decrypt(ciphertext []byte) ([]byte, error) {
	bs := c.dec.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("%w: input length %d is not a multiple of the block size", ErrDecrypt, len(ciphertext))
	}
	out := make([]byte, len(ciphertext))

	c.decMu.Lock()
	for i := 0; i < len(ciphertext); i += bs {
		c.dec.Decrypt(out[i:i+bs], ciphertext[i:i+bs])
	}
	c.decMu.Unlock()

	plain, ok := unpad(out, bs)
	if !ok {
		return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
	}
	return plain, nil
}

// EncryptToString encrypts plaintext and encodes it with standard base64.
func (c *Codec) EncryptToString(plaintext []byte) string {
	return base64.StdEncoding.EncodeToString(c.Encrypt(plaintext))
}

// EncryptToURLString encrypts plaintext and encodes it with URL-safe base64.
func (c *Codec) EncryptToURLString(plaintext []byte) string {
	return base64.URLEncoding.EncodeToString(c.Encrypt(plaintext))
}

// DecryptString decodes s and decrypts it. The alphabet is chosen by looking
// for characters that only URL-safe base64 uses.
func (c *Codec) DecryptString(s string) ([]byte, error) {
	enc := base64.StdEncoding
	if IsURLEncoded(s) {
		enc = base64.URLEncoding
	}
	raw, err := enc.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	return c.Decrypt(raw)
}

// IsURLEncoded reports whether s contains a URL-safe-only base64 character.
func IsURLEncoded(s string) bool {
	return strings.ContainsAny(s, "-_")
}

func pad(b []byte, bs int) []byte {
	n := bs - len(b)%bs
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte, bs int) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > bs || n > len(b) {
		return nil, false
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
