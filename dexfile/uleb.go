package dexfile

// ReadULEB128 decodes an unsigned LEB128 value starting at data[0],
// returning the value and the number of bytes consumed.
func ReadULEB128(data []byte) (uint32, int) {
	var result uint32
	var shift uint
	var n int
	for n < len(data) {
		b := data[n]
		result |= uint32(b&0x7f) << shift
		n++
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, n
}

// ReadSLEB128 decodes a signed LEB128 value starting at data[0].
func ReadSLEB128(data []byte) (int32, int) {
	var result int32
	var shift uint
	var n int
	var b byte
	for {
		b = data[n]
		result |= int32(b&0x7f) << shift
		shift += 7
		n++
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 32 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n
}

// ReadULEB128p1 decodes a ULEB128p1 value: the encoded value plus one.
// A decoded 0 means "no value", reported as -1.
func ReadULEB128p1(data []byte) (int32, int) {
	v, n := ReadULEB128(data)
	return int32(v) - 1, n
}
