package dexfile

import "github.com/dexgraph/dexgraph/dexerr"

// EncodedField is one static or instance field entry in a class_data_item.
type EncodedField struct {
	FieldIdx    uint32
	AccessFlags uint32
}

// EncodedMethod is one direct or virtual method entry in a
// class_data_item.
type EncodedMethod struct {
	MethodIdx   uint32
	AccessFlags uint32
	CodeOff     uint32
}

// ClassData is the decoded class_data_item for one class_def.
type ClassData struct {
	StaticFields    []EncodedField
	InstanceFields  []EncodedField
	DirectMethods   []EncodedMethod
	VirtualMethods  []EncodedMethod
}

// ClassData parses the class_data_item referenced by ClassDefs[idx].
func (file *File) ClassData(idx int) (ClassData, error) {
	var cd ClassData
	if idx < 0 || idx >= len(file.ClassDefs) {
		return cd, dexerr.New(dexerr.InvalidHandle, "class def index out of range")
	}
	off := file.ClassDefs[idx].ClassDataOff
	if off == 0 {
		return cd, nil
	}
	if off >= uint32(len(file.raw)) {
		return cd, dexerr.New(dexerr.MalformedDex, "class_data_off out of range")
	}
	data := file.raw[off:]
	pos := 0

	readULEB := func() uint32 {
		v, n := ReadULEB128(data[pos:])
		pos += n
		return v
	}

	staticCount := readULEB()
	instanceCount := readULEB()
	directCount := readULEB()
	virtualCount := readULEB()

	readFields := func(count uint32) []EncodedField {
		out := make([]EncodedField, count)
		idx := uint32(0)
		for i := uint32(0); i < count; i++ {
			idx += readULEB()
			flags := readULEB()
			out[i] = EncodedField{FieldIdx: idx, AccessFlags: flags}
		}
		return out
	}
	readMethods := func(count uint32) []EncodedMethod {
		out := make([]EncodedMethod, count)
		idx := uint32(0)
		for i := uint32(0); i < count; i++ {
			idx += readULEB()
			flags := readULEB()
			codeOff := readULEB()
			out[i] = EncodedMethod{MethodIdx: idx, AccessFlags: flags, CodeOff: codeOff}
		}
		return out
	}

	cd.StaticFields = readFields(staticCount)
	cd.InstanceFields = readFields(instanceCount)
	cd.DirectMethods = readMethods(directCount)
	cd.VirtualMethods = readMethods(virtualCount)
	return cd, nil
}

// indexCodeOffsets records every method's code-item base offset and
// insns_size for FindMethodHandle/FindInsn.
func (file *File) indexCodeOffsets(classDefIdx uint32) error {
	cd, err := file.ClassData(int(classDefIdx))
	if err != nil {
		return err
	}
	register := func(methods []EncodedMethod) error {
		for _, m := range methods {
			if m.CodeOff == 0 {
				continue
			}
			var ch CodeHeader
			if err := file.structUnpack(&ch, m.CodeOff, CodeHeaderSize); err != nil {
				return err
			}
			file.codeOffsets = append(file.codeOffsets, codeOffsetEntry{
				base:      m.CodeOff,
				insnsSize: ch.InsnsSize,
				methodIdx: uint16(m.MethodIdx),
			})
		}
		return nil
	}
	if err := register(cd.DirectMethods); err != nil {
		return err
	}
	return register(cd.VirtualMethods)
}
