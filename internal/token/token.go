// Package token issues and parses opaque credentials.
//
// A token is a fixed prefix followed by the base64 encoding of the encrypted
// JSON form of a principal. The prefix is not secret; confidentiality and
// integrity rest entirely on the cipher key.
package token

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/cipher"
)

// Error codes carried by credential errors.
const (
	CodeMissingCredential   = "missing_credential"
	CodeMalformedCredential = "malformed_credential"
	CodeInvalidCredential   = "invalid_credential"
)

// Sentinel credential errors for use with errors.Is.
var (
	ErrMissingCredential   = apperr.Unauthorized("token is empty").WithCode(CodeMissingCredential)
	ErrMalformedCredential = apperr.Unauthorized("invalid token (wrong prefix)").WithCode(CodeMalformedCredential)
	ErrInvalidCredential   = apperr.Unauthorized("invalid token").WithCode(CodeInvalidCredential)
)

// Codec issues and parses tokens.
type Codec struct {
	cipher *cipher.Codec
	prefix string
}

// NewCodec creates a token codec. The prefix may be empty.
func NewCodec(c *cipher.Codec, prefix string) *Codec {
	return &Codec{cipher: c, prefix: prefix}
}

// Prefix returns the configured token prefix.
func (c *Codec) Prefix() string {
	return c.prefix
}

// Issue serializes payload, encrypts it and returns the prefixed token.
func (c *Codec) Issue(payload any) (string, error) {
	body, err := c.Generate(payload)
	if err != nil {
		return "", err
	}
	return c.AddPrefix(body), nil
}

// Generate returns the encrypted token body without the prefix.
func (c *Codec) Generate(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "serialize token payload", err)
	}
	return c.cipher.EncryptToString(raw), nil
}

// AddPrefix prepends the configured prefix to a token body.
func (c *Codec) AddPrefix(body string) string {
	return c.prefix + body
}

// StripPrefix validates that token is present and carries the configured
// prefix, and returns the remaining body.
func (c *Codec) StripPrefix(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", apperr.Unauthorized(ErrMissingCredential.Message).WithCode(CodeMissingCredential)
	}
	body, ok := strings.CutPrefix(token, c.prefix)
	if !ok {
		return "", apperr.Unauthorized(ErrMalformedCredential.Message).WithCode(CodeMalformedCredential)
	}
	return body, nil
}

// ParseInto parses token into dst, which must be a non-nil pointer.
func (c *Codec) ParseInto(token string, dst any) error {
	body, err := c.StripPrefix(token)
	if err != nil {
		return err
	}
	raw, err := c.cipher.DecryptString(body)
	if err != nil {
		return invalid("unable to decrypt", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalid("unable to deserialize", err)
	}
	return nil
}

// Parse parses token into a value of type T.
func Parse[T any](c *Codec, token string) (T, error) {
	var v T
	if err := c.ParseInto(token, &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func invalid(reason string, cause error) error {
	return apperr.Wrap(apperr.KindUnauthorized, fmt.Sprintf("invalid token (%s)", reason), cause).
		WithCode(CodeInvalidCredential)
}
