package dexfile

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMinimalDex constructs a byte-accurate minimal DEX image with two
// strings, two types, and one empty class_def (no fields/methods), used
// to test the header/ID-table/class-def decode path without requiring a
// real APK fixture on disk.
func buildMinimalDex(t *testing.T) []byte {
	t.Helper()

	// Build the string data section first so we know offsets.
	type strEntry struct {
		off uint32
		s   string
	}
	var entries []strEntry
	appendStr := func(base *bytes.Buffer, s string) uint32 {
		off := uint32(base.Len())
		n := len(s) // ASCII-only test strings: utf16_size == byte length
		var ulebBuf [5]byte
		ulebLen := encodeULEB128(ulebBuf[:], uint32(n))
		base.Write(ulebBuf[:ulebLen])
		base.WriteString(s)
		base.WriteByte(0)
		return off
	}

	var dataSection bytes.Buffer
	off0 := appendStr(&dataSection, "LFoo;")
	off1 := appendStr(&dataSection, "Ljava/lang/Object;")
	entries = append(entries, strEntry{off0, "LFoo;"}, strEntry{off1, "Ljava/lang/Object;"})

	const numStrings = 2
	const numTypes = 2

	stringIDsOff := uint32(HeaderSizeBytes)
	typeIDsOff := stringIDsOff + numStrings*StringIDSize
	classDefsOff := typeIDsOff + numTypes*TypeIDSize
	dataOff := classDefsOff + 1*ClassDefSize

	var buf bytes.Buffer
	hdr := Header{
		Magic:         DexMagic,
		HeaderSize:    HeaderSizeBytes,
		StringIDsSize: numStrings,
		StringIDsOff:  stringIDsOff,
		TypeIDsSize:   numTypes,
		TypeIDsOff:    typeIDsOff,
		ClassDefsSize: 1,
		ClassDefsOff:  classDefsOff,
		DataOff:       dataOff,
		DataSize:      uint32(dataSection.Len()),
	}
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	hdr.FileSize = dataOff + uint32(dataSection.Len())

	// string_ids: offsets relative to dataOff.
	for _, e := range entries {
		if err := binary.Write(&buf, binary.LittleEndian, dataOff+e.off); err != nil {
			t.Fatalf("write string_id: %v", err)
		}
	}

	// type_ids: both point at string 0 and 1.
	for i := uint32(0); i < numTypes; i++ {
		if err := binary.Write(&buf, binary.LittleEndian, i); err != nil {
			t.Fatalf("write type_id: %v", err)
		}
	}

	// class_def: class Foo (type 0), superclass Object (type 1), no data.
	cd := ClassDef{
		ClassIdx:        0,
		AccessFlags:     AccPublic,
		SuperclassIdx:   1,
		InterfacesOff:   0,
		SourceFileIdx:   NoIndex,
		AnnotationsOff:  0,
		ClassDataOff:    0,
		StaticValuesOff: 0,
	}
	if err := binary.Write(&buf, binary.LittleEndian, &cd); err != nil {
		t.Fatalf("write class_def: %v", err)
	}

	buf.Write(dataSection.Bytes())

	out := buf.Bytes()
	// Patch file_size now that everything is laid out.
	binary.LittleEndian.PutUint32(out[8+4+20:], uint32(len(out)))
	return out
}

// encodeULEB128 is a tiny encoder used only by the test fixture builder.
func encodeULEB128(buf []byte, v uint32) int {
	n := 0
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf[n] = b
		n++
		if v == 0 {
			break
		}
	}
	return n
}

func TestParseMinimalDex(t *testing.T) {
	data := buildMinimalDex(t)

	f, err := NewBytes(data, nil)
	if err != nil {
		t.Fatalf("NewBytes: %v", err)
	}

	if got, want := f.GetString(0), "LFoo;"; got != want {
		t.Errorf("GetString(0) = %q, want %q", got, want)
	}
	if got, want := f.GetString(1), "Ljava/lang/Object;"; got != want {
		t.Errorf("GetString(1) = %q, want %q", got, want)
	}
	if got, want := f.TypeDescriptor(0), "LFoo;"; got != want {
		t.Errorf("TypeDescriptor(0) = %q, want %q", got, want)
	}

	idx, ok := f.ClassDefByDescriptor("LFoo;")
	if !ok || idx != 0 {
		t.Fatalf("ClassDefByDescriptor(LFoo;) = (%d, %v), want (0, true)", idx, ok)
	}
	if f.ClassDefs[0].SuperclassIdx != 1 {
		t.Errorf("superclass_idx = %d, want 1", f.ClassDefs[0].SuperclassIdx)
	}
}

func TestRejectsBadMagic(t *testing.T) {
	data := buildMinimalDex(t)
	data[0] = 'X'
	if _, err := NewBytes(data, nil); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestULEB128RoundTrip(t *testing.T) {
	tests := []uint32{0, 1, 127, 128, 300, 1 << 20, 0xffffffff}
	for _, v := range tests {
		var buf [5]byte
		n := encodeULEB128(buf[:], v)
		got, consumed := ReadULEB128(buf[:n])
		if got != v || consumed != n {
			t.Errorf("ULEB128 round trip for %d: got %d (consumed %d), want %d (consumed %d)", v, got, consumed, v, n)
		}
	}
}

func TestULEB128p1NoValue(t *testing.T) {
	var buf [5]byte
	n := encodeULEB128(buf[:], 0)
	got, consumed := ReadULEB128p1(buf[:n])
	if got != -1 || consumed != n {
		t.Errorf("ReadULEB128p1(0) = (%d, %d), want (-1, %d)", got, consumed, n)
	}
}
