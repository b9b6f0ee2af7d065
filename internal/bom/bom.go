// Package bom decodes response-file bytes according to a leading byte
// order mark, mirroring the encoding table the original wrapper used to
// read @file arguments: UTF-32 and UTF-16, big- or little-endian, with an
// 8-bit fallback when no BOM is present.
package bom

import (
	"bytes"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
	"golang.org/x/text/transform"
)

var (
	utf32BE = []byte{0x00, 0x00, 0xFE, 0xFF}
	utf32LE = []byte{0xFF, 0xFE, 0x00, 0x00}
	utf16BE = []byte{0xFE, 0xFF}
	utf16LE = []byte{0xFF, 0xFE}
)

// Decode strips a leading BOM (if any) from raw and returns the UTF-8 text
// it names. Input with no recognized BOM passes through unchanged, treated
// as 8-bit text per the original wrapper's behavior.
func Decode(raw []byte) (string, error) {
	switch {
	case bytes.HasPrefix(raw, utf32BE):
		return decodeWith(raw[len(utf32BE):], utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM))
	case bytes.HasPrefix(raw, utf32LE):
		return decodeWith(raw[len(utf32LE):], utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM))
	case bytes.HasPrefix(raw, utf16BE):
		return decodeWith(raw[len(utf16BE):], unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM))
	case bytes.HasPrefix(raw, utf16LE):
		return decodeWith(raw[len(utf16LE):], unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM))
	default:
		return string(raw), nil
	}
}

func decodeWith(body []byte, enc encoding.Encoding) (string, error) {
	out, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
