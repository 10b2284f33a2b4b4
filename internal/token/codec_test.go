package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec("installation-secret")

	tests := []struct {
		name  string
		plain string
		salt  string
	}{
		{"reply token", "a=10&p=11", ""},
		{"new item token", "t=42&g=7", "5"},
		{"single pair", "m=1", ""},
		{"unicode value", "t=café", "9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := codec.Encode(tt.plain, tt.salt)
			require.NoError(t, err)
			assert.True(t, IsHex(enc), "ciphertext must be hex: %q", enc)

			dec, err := codec.Decode(enc, tt.salt)
			require.NoError(t, err)
			assert.Equal(t, tt.plain, dec)
		})
	}
}

func TestCodecSaltBindsToken(t *testing.T) {
	codec := NewCodec("installation-secret")

	enc, err := codec.Encode("a=10&p=11", "5")
	require.NoError(t, err)

	dec, err := codec.Decode(enc, "6")
	require.NoError(t, err)
	assert.NotEqual(t, "a=10&p=11", dec, "wrong salt must not recover the plaintext")
}

func TestCodecDeterministicForSameInputs(t *testing.T) {
	codec := NewCodec("installation-secret")

	first, err := codec.Encode("a=10", "")
	require.NoError(t, err)
	second, err := codec.Encode("a=10", "")
	require.NoError(t, err)
	assert.Equal(t, first, second, "outbound addresses must be stable")
}

func TestCodecFailsClosedWithoutSecret(t *testing.T) {
	codec := NewCodec("")

	_, err := codec.Encode("a=10", "")
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = codec.Decode("deadbeef", "")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestCodecRejectsMalformedHex(t *testing.T) {
	codec := NewCodec("installation-secret")

	_, err := codec.Decode("not-hex!", "")
	assert.ErrorIs(t, err, ErrBadCiphertext)
}

func TestIsHex(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"deadbeef", true},
		{"ABC123", true},
		{"", false},
		{"abc", false},       // odd length
		{"xyz123", false},    // non-hex chars
		{"a=10&p=11", false}, // legacy plaintext querystring
	}
	for _, tt := range tests {
		if got := IsHex(tt.in); got != tt.want {
			t.Fatalf("IsHex(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
