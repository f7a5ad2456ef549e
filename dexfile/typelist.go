package dexfile

import "github.com/dexgraph/dexgraph/dexerr"

// TypeList decodes a type_list at off: a uint32 size followed by that
// many uint16 type_idx entries. Used for a class_def's interfaces and a
// proto_id's parameter types. An off of 0 means "empty list", the wire
// convention for "no interfaces"/"no parameters".
func (file *File) TypeList(off uint32) ([]uint32, error) {
	if off == 0 {
		return nil, nil
	}
	if uint64(off)+4 > uint64(len(file.raw)) {
		return nil, dexerr.New(dexerr.MalformedDex, "type_list size out of range")
	}
	var size uint32
	if err := file.structUnpack(&size, off, 4); err != nil {
		return nil, err
	}
	out := make([]uint32, size)
	base := off + 4
	for i := uint32(0); i < size; i++ {
		var v uint16
		if err := file.structUnpack(&v, base+i*2, 2); err != nil {
			return nil, err
		}
		out[i] = uint32(v)
	}
	return out, nil
}
