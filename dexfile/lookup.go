package dexfile

import (
	"sort"

	"github.com/dexgraph/dexgraph/dexerr"
)

// sortCodeOffsets sorts the code-offset index in ascending base order,
// as required before FindMethodHandle/FindInsn's binary search. Parse
// calls it once after all class defs have been indexed.
func (file *File) sortCodeOffsets() {
	sort.Slice(file.codeOffsets, func(i, j int) bool {
		return file.codeOffsets[i].base < file.codeOffsets[j].base
	})
}

// FindMethodHandle returns the method index whose code item has the
// largest base offset <= dexOffset.
func (file *File) FindMethodHandle(dexOffset uint32) (uint16, error) {
	entries := file.codeOffsets
	// sort.Search finds the first index whose base > dexOffset; the
	// entry just before it is the one we want.
	i := sort.Search(len(entries), func(i int) bool { return entries[i].base > dexOffset })
	if i == 0 {
		return 0, dexerr.New(dexerr.NotFound, "no code item at or before offset")
	}
	return entries[i-1].methodIdx, nil
}

// FindInsn resolves a byte offset within this file to a (method index,
// instruction-offset-in-16-bit-units) pair.
func (file *File) FindInsn(byteOffset uint32) (methodIdx uint16, insnOffset uint32, err error) {
	entries := file.codeOffsets
	i := sort.Search(len(entries), func(i int) bool { return entries[i].base > byteOffset })
	if i == 0 {
		return 0, 0, dexerr.New(dexerr.NotFound, "no code item at or before offset")
	}
	e := entries[i-1]
	delta := byteOffset - e.base
	if delta < CodeHeaderSize {
		return 0, 0, dexerr.New(dexerr.NotFound, "offset inside code item header")
	}
	off := (delta - CodeHeaderSize) >> 1
	if off >= e.insnsSize {
		return 0, 0, dexerr.New(dexerr.NotFound, "offset beyond insns_size")
	}
	return e.methodIdx, off, nil
}
