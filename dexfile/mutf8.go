package dexfile

import (
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeMUTF8 decodes a NUL-terminated DEX "modified UTF-8" string_data
// entry. MUTF-8 differs from standard UTF-8 in
// two ways: NUL is encoded as the two-byte sequence 0xC0 0x80, and
// characters outside the basic multilingual plane are encoded as a
// surrogate pair, each half written as its own 3-byte UTF-8 sequence.
//
// This first recovers the UTF-16 code-unit stream by hand (the one part
// standard UTF-8 libraries cannot do, since they reject lone
// surrogates), then hands that stream to the same
// golang.org/x/text/encoding/unicode UTF-16 transform the teacher uses
// for the PE resource directory's UTF-16 strings, to produce final UTF-8
// output uniformly.
func decodeMUTF8(data []byte) (string, int) {
	var units []uint16
	i := 0
	for i < len(data) {
		b0 := data[i]
		if b0 == 0x00 {
			i++
			break // NUL terminator
		}
		switch {
		case b0&0x80 == 0:
			units = append(units, uint16(b0))
			i++
		case b0&0xE0 == 0xC0:
			if i+1 >= len(data) {
				i = len(data)
				continue
			}
			b1 := data[i+1]
			r := (uint16(b0&0x1F) << 6) | uint16(b1&0x3F)
			units = append(units, r)
			i += 2
		case b0&0xF0 == 0xE0:
			if i+2 >= len(data) {
				i = len(data)
				continue
			}
			b1, b2 := data[i+1], data[i+2]
			r := (uint16(b0&0x0F) << 12) | (uint16(b1&0x3F) << 6) | uint16(b2&0x3F)
			units = append(units, r)
			i += 3
		default:
			// Malformed lead byte; skip it rather than abort the whole
			// string pool parse.
			i++
		}
	}

	le := make([]byte, len(units)*2)
	for idx, u := range units {
		le[idx*2] = byte(u)
		le[idx*2+1] = byte(u >> 8)
	}

	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, _, err := transform.Bytes(decoder, le)
	if err != nil {
		// Fall back to stdlib surrogate-pair recombination if the
		// transform rejects an isolated surrogate.
		runes := utf16.Decode(units)
		return string(runes), i
	}
	return string(out), i
}
