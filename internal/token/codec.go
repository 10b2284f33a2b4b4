// Package token implements the symmetric codec for routing tokens embedded
// in reply addresses. Tokens are short querystrings encrypted with a key
// derived from the installation secret and hex-encoded so they survive
// inside an email local-part or subdomain label.
package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrNoSecret is returned when the installation secret is empty. The
	// codec fails closed: no secret means no tokens in either direction.
	ErrNoSecret = errors.New("token: installation secret is empty")

	// ErrBadCiphertext is returned when the hex payload cannot be decoded.
	ErrBadCiphertext = errors.New("token: malformed ciphertext")
)

const (
	keyLen     = 16 // AES-128
	kdfRounds  = 4096
	keyContext = "replypost.token.key."
	ivContext  = "replypost.token.iv."
)

// Codec encrypts and decrypts routing tokens with a per-installation secret.
// The zero value is unusable; construct with NewCodec.
type Codec struct {
	secret string
}

// NewCodec returns a codec keyed by the installation secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: strings.TrimSpace(secret)}
}

// Encode encrypts plaintext and returns the hex ciphertext. The optional
// salt binds the token to a caller-supplied value (e.g. a user id for
// new-item tokens); Decode must be called with the same salt.
func (c *Codec) Encode(plaintext, salt string) (string, error) {
	stream, err := c.stream(salt)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(plaintext))
	stream.XORKeyStream(out, []byte(plaintext))
	return hex.EncodeToString(out), nil
}

// Decode decrypts a hex ciphertext produced by Encode with the same salt.
// Callers are expected to check IsHex before invoking Decode; non-hex
// input is rejected with ErrBadCiphertext.
func (c *Codec) Decode(hexCiphertext, salt string) (string, error) {
	stream, err := c.stream(salt)
	if err != nil {
		return "", err
	}
	raw, err := hex.DecodeString(hexCiphertext)
	if err != nil {
		return "", ErrBadCiphertext
	}
	out := make([]byte, len(raw))
	stream.XORKeyStream(out, raw)
	return string(out), nil
}

// stream derives the AES-128-CTR keystream for the given salt. The IV is
// derived alongside the key so encoding is deterministic for a given
// (secret, salt) pair, which keeps outbound addresses stable.
func (c *Codec) stream(salt string) (cipher.Stream, error) {
	if c == nil || c.secret == "" {
		return nil, ErrNoSecret
	}
	key := pbkdf2.Key([]byte(c.secret), []byte(keyContext+salt), kdfRounds, keyLen, sha256.New)
	iv := pbkdf2.Key([]byte(c.secret), []byte(ivContext+salt), kdfRounds, aes.BlockSize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}

// IsHex reports whether s is non-empty and valid hexadecimal. Callers use
// this to distinguish encrypted tokens from legacy plaintext querystrings.
func IsHex(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
