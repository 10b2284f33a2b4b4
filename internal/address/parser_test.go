package address

import (
	"testing"

	"github.com/replypost-io/replypost/internal/token"
)

func TestTokenStringTagMode(t *testing.T) {
	got, err := TokenString("test+ABC123@gmail.com", ModeTag, '+')
	if err != nil {
		t.Fatalf("TokenString returned error: %v", err)
	}
	if got != "ABC123" {
		t.Fatalf("token = %q, want ABC123", got)
	}
}

func TestTokenStringTagModeWithDisplayName(t *testing.T) {
	got, err := TokenString(`"Reply Post" <alice+XYZ@example.com>`, ModeTag, '+')
	if err != nil {
		t.Fatalf("TokenString returned error: %v", err)
	}
	if got != "XYZ" {
		t.Fatalf("token = %q, want XYZ", got)
	}
}

func TestTokenStringSubdomainMode(t *testing.T) {
	got, err := TokenString("ABC123@reply.example.com", ModeSubdomain, 0)
	if err != nil {
		t.Fatalf("TokenString returned error: %v", err)
	}
	if got != "ABC123" {
		t.Fatalf("token = %q, want ABC123", got)
	}
}

func TestTokenStringMissingTag(t *testing.T) {
	if _, err := TokenString("test@gmail.com", ModeTag, '+'); err != ErrNoAddressTag {
		t.Fatalf("expected ErrNoAddressTag, got %v", err)
	}
}

func TestTokenStringMalformedAddress(t *testing.T) {
	if _, err := TokenString("not-an-address", ModeTag, '+'); err != ErrNoAddressTag {
		t.Fatalf("expected ErrNoAddressTag, got %v", err)
	}
}

func TestDecodeTokenReply(t *testing.T) {
	codec := token.NewCodec("secret")
	enc, err := codec.Encode("a=10&p=11", "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	parser := NewParser(codec)
	rt, err := parser.DecodeToken(enc, 0)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if rt.IsNewItem {
		t.Fatalf("reply token must not be flagged new item")
	}
	if rt.Parameters["a"] != "10" || rt.Parameters["p"] != "11" {
		t.Fatalf("unexpected params %+v", rt.Parameters)
	}
}

func TestDecodeTokenNewItemSuffixAndSalt(t *testing.T) {
	codec := token.NewCodec("secret")
	enc, err := codec.Encode("t=42&g=7", "5")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	parser := NewParser(codec)
	rt, err := parser.DecodeToken(enc+NewItemSuffix, 5)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if !rt.IsNewItem {
		t.Fatalf("expected new item flag")
	}
	if rt.Parameters["t"] != "42" || rt.Parameters["g"] != "7" {
		t.Fatalf("unexpected params %+v", rt.Parameters)
	}

	// A different user id salt must not recover the params.
	if rt2, err := parser.DecodeToken(enc+NewItemSuffix, 6); err == nil {
		if rt2.Parameters["t"] == "42" {
			t.Fatalf("wrong salt recovered params: %+v", rt2.Parameters)
		}
	}
}

func TestDecodeTokenLegacyPlaintext(t *testing.T) {
	parser := NewParser(token.NewCodec("secret"))
	rt, err := parser.DecodeToken("a=10&p=11", 0)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if rt.Parameters["a"] != "10" {
		t.Fatalf("unexpected params %+v", rt.Parameters)
	}
}

func TestDecodeTokenWhitelistFiltering(t *testing.T) {
	parser := NewParser(token.NewCodec("secret"))
	rt, err := parser.DecodeToken("a=1&evil=x&p=2", 0)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if _, ok := rt.Parameters["evil"]; ok {
		t.Fatalf("non-whitelisted key survived: %+v", rt.Parameters)
	}
	if len(rt.Parameters) != 2 {
		t.Fatalf("expected 2 params, got %+v", rt.Parameters)
	}
}

type staticKeys []string

func (s staticKeys) ParamKeys() []string { return s }

func TestDecodeTokenRegisteredKeys(t *testing.T) {
	parser := NewParser(token.NewCodec("secret"), WithRegisteredKeys(staticKeys{"f"}))
	rt, err := parser.DecodeToken("f=3&a=1", 0)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if rt.Parameters["f"] != "3" {
		t.Fatalf("registered key dropped: %+v", rt.Parameters)
	}
}

func TestDecodeTokenNoParams(t *testing.T) {
	parser := NewParser(token.NewCodec("secret"))
	if _, err := parser.DecodeToken("zz=1", 0); err != ErrNoParams {
		t.Fatalf("expected ErrNoParams, got %v", err)
	}
}

func TestDecodeTokenFallback(t *testing.T) {
	parser := NewParser(token.NewCodec("secret"), WithFallback(func(raw string, isNew bool) string {
		if raw == "LEGACY" {
			return "a=99"
		}
		return ""
	}))
	rt, err := parser.DecodeToken("LEGACY", 0)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if rt.Parameters["a"] != "99" {
		t.Fatalf("fallback params missing: %+v", rt.Parameters)
	}
}
