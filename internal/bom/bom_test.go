package bom

import (
	"testing"

	"golang.org/x/text/encoding/unicode"
)

func TestDecodeNoBOMPassesThrough(t *testing.T) {
	got, err := Decode([]byte("/c /Fo out.obj a.cpp"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "/c /Fo out.obj a.cpp" {
		t.Fatalf("got %q", got)
	}
}

func TestDecodeUTF16LE(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	encoded, err := enc.NewEncoder().Bytes([]byte("/c a.cpp"))
	if err != nil {
		t.Fatalf("setup encode: %v", err)
	}

	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "/c a.cpp" {
		t.Fatalf("got %q, want %q", got, "/c a.cpp")
	}
}

func TestDecodeIdempotentUnderBOM(t *testing.T) {
	plain := "/c /FoOut.obj a.cpp"
	enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	encoded, err := enc.NewEncoder().Bytes([]byte(plain))
	if err != nil {
		t.Fatalf("setup encode: %v", err)
	}

	withBOM, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode(withBOM): %v", err)
	}
	withoutBOM, err := Decode([]byte(plain))
	if err != nil {
		t.Fatalf("Decode(withoutBOM): %v", err)
	}
	if withBOM != withoutBOM {
		t.Fatalf("BOM-encoded and plain input should decode to the same text: %q != %q", withBOM, withoutBOM)
	}
}
