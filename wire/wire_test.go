package wire

import "testing"

func TestRawIsIdentity(t *testing.T) {
	in := []byte("foo")

	decoded, err := Raw.Decode(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, ok := decoded.([]byte)
	if !ok || string(b) != "foo" {
		t.Fatalf("expected raw bytes unchanged, got %#v", decoded)
	}

	encoded, err := Raw.Encode(decoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	eb, ok := encoded.([]byte)
	if !ok || string(eb) != "foo" {
		t.Fatalf("expected round-trip identity, got %#v", encoded)
	}
}

func TestUTF8RoundTrip(t *testing.T) {
	decoded, err := UTF8.Decode([]byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != "hello" {
		t.Fatalf("expected %q, got %#v", "hello", decoded)
	}

	encoded, err := UTF8.Encode(decoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(encoded.([]byte)) != "hello" {
		t.Fatalf("expected round-trip bytes, got %#v", encoded)
	}
}

func TestUTF8RejectsInvalidBytes(t *testing.T) {
	_, err := UTF8.Decode([]byte{0xff, 0xfe, 0xfd})
	if err == nil {
		t.Fatal("expected an error for invalid utf-8")
	}
}
