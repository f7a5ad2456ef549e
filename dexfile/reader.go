// Package dexfile implements the memory-mapped DEX container parser:
// header, the five ID tables, the class-def table, per-class class data,
// and the code-offset index used by FindMethodHandle/FindInsn.
package dexfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/dexgraph/dexgraph/dexerr"
	"github.com/dexgraph/dexgraph/logx"
)

// codeOffsetEntry indexes one method's code item by its byte offset,
// used by FindMethodHandle / FindInsn for the profile-counter ingestion
// hook.
type codeOffsetEntry struct {
	base      uint32
	insnsSize uint32
	methodIdx uint16
}

// File is a parsed, memory-mapped (or borrowed) DEX file.
type File struct {
	data mmap.MMap // non-nil only when this File owns a memory map
	raw  []byte    // the effective byte range in use (data, or a borrowed slice)
	f    *os.File

	Header Header

	Strings   []string // decoded string_data_off entries, indexed by string_id
	Types     []uint32 // descriptor_idx into Strings, indexed by type_id
	Protos    []ProtoID
	Fields    []FieldID
	Methods   []MethodID
	ClassDefs []ClassDef

	descToClassDef map[string]int
	codeOffsets    []codeOffsetEntry // sorted by base

	logger *logx.Helper
}

// Options configures parsing, mirroring the teacher's pe.Options.
type Options struct {
	// Logger overrides the default filtered-stdout logger.
	Logger logx.Logger
}

// New memory-maps the file at path and parses it.
func New(path string, opts *Options) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	file := &File{data: data, raw: []byte(data), f: f}
	file.setLogger(opts)

	if err := file.Parse(); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

// NewBytes parses a DEX file already held in memory (a borrowed byte
// range rather than an owned memory map).
func NewBytes(data []byte, opts *Options) (*File, error) {
	file := &File{raw: data}
	file.setLogger(opts)
	if err := file.Parse(); err != nil {
		return nil, err
	}
	return file, nil
}

func (file *File) setLogger(opts *Options) {
	if opts != nil && opts.Logger != nil {
		file.logger = logx.NewHelper(opts.Logger)
		return
	}
	file.logger = logx.Default()
}

// Close releases the memory map, if any.
func (file *File) Close() error {
	if file.data != nil {
		_ = file.data.Unmap()
	}
	if file.f != nil {
		return file.f.Close()
	}
	return nil
}

// Parse decodes the header, ID tables, class defs, and class data,
// unwrapping an ODEX prefix first if present.
func (file *File) Parse() error {
	raw := file.raw
	if len(raw) >= 8 && bytes.Equal(raw[:8], OdexMagic[:]) {
		var oh OdexHeader
		if err := binary.Read(bytes.NewReader(raw[:OdexHeaderSizeBytes]), binary.LittleEndian, &oh); err != nil {
			return dexerr.Wrap(dexerr.MalformedDex, "odex header", err)
		}
		if int(oh.DexOff)+int(oh.DexSize) > len(raw) {
			return dexerr.New(dexerr.MalformedDex, "odex dex_off/dex_size out of range")
		}
		file.raw = raw[oh.DexOff : oh.DexOff+oh.DexSize]
		raw = file.raw
	}

	if len(raw) < HeaderSizeBytes {
		return dexerr.New(dexerr.MalformedDex, "file smaller than dex header")
	}
	if !bytes.Equal(raw[:8], DexMagic[:]) {
		return dexerr.New(dexerr.MalformedDex, "dex magic mismatch")
	}

	if err := binary.Read(bytes.NewReader(raw[:HeaderSizeBytes]), binary.LittleEndian, &file.Header); err != nil {
		return dexerr.Wrap(dexerr.MalformedDex, "dex header", err)
	}

	if err := file.parseStrings(); err != nil {
		return err
	}
	if err := file.parseTypes(); err != nil {
		return err
	}
	if err := file.parseProtos(); err != nil {
		return err
	}
	if err := file.parseFields(); err != nil {
		return err
	}
	if err := file.parseMethods(); err != nil {
		return err
	}
	if err := file.parseClassDefs(); err != nil {
		return err
	}
	file.sortCodeOffsets()

	return nil
}

func (file *File) structUnpack(v interface{}, offset, size uint32) error {
	raw := file.raw
	if uint64(offset)+uint64(size) > uint64(len(raw)) {
		return dexerr.New(dexerr.MalformedDex, "read out of bounds")
	}
	return binary.Read(bytes.NewReader(raw[offset:offset+size]), binary.LittleEndian, v)
}

func (file *File) parseStrings() error {
	n := file.Header.StringIDsSize
	file.Strings = make([]string, n)
	for i := uint32(0); i < n; i++ {
		var off uint32
		if err := file.structUnpack(&off, file.Header.StringIDsOff+i*StringIDSize, StringIDSize); err != nil {
			return fmt.Errorf("string_id[%d]: %w", i, err)
		}
		if off >= uint32(len(file.raw)) {
			return dexerr.New(dexerr.MalformedDex, "string_data_off out of range")
		}
		// string_data_item begins with a uleb128 utf16_size, which this
		// decoder does not need: decodeMUTF8 stops at the NUL
		// terminator regardless.
		_, n := ReadULEB128(file.raw[off:])
		s, _ := decodeMUTF8(file.raw[off+uint32(n):])
		file.Strings[i] = s
	}
	return nil
}

func (file *File) parseTypes() error {
	n := file.Header.TypeIDsSize
	file.Types = make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		if err := file.structUnpack(&file.Types[i], file.Header.TypeIDsOff+i*TypeIDSize, TypeIDSize); err != nil {
			return fmt.Errorf("type_id[%d]: %w", i, err)
		}
	}
	return nil
}

func (file *File) parseProtos() error {
	n := file.Header.ProtoIDsSize
	file.Protos = make([]ProtoID, n)
	for i := uint32(0); i < n; i++ {
		if err := file.structUnpack(&file.Protos[i], file.Header.ProtoIDsOff+i*ProtoIDSize, ProtoIDSize); err != nil {
			return fmt.Errorf("proto_id[%d]: %w", i, err)
		}
	}
	return nil
}

func (file *File) parseFields() error {
	n := file.Header.FieldIDsSize
	file.Fields = make([]FieldID, n)
	for i := uint32(0); i < n; i++ {
		if err := file.structUnpack(&file.Fields[i], file.Header.FieldIDsOff+i*FieldIDSize, FieldIDSize); err != nil {
			return fmt.Errorf("field_id[%d]: %w", i, err)
		}
	}
	return nil
}

func (file *File) parseMethods() error {
	n := file.Header.MethodIDsSize
	file.Methods = make([]MethodID, n)
	for i := uint32(0); i < n; i++ {
		if err := file.structUnpack(&file.Methods[i], file.Header.MethodIDsOff+i*MethodIDSize, MethodIDSize); err != nil {
			return fmt.Errorf("method_id[%d]: %w", i, err)
		}
	}
	return nil
}

func (file *File) parseClassDefs() error {
	n := file.Header.ClassDefsSize
	file.ClassDefs = make([]ClassDef, n)
	file.descToClassDef = make(map[string]int, n)
	for i := uint32(0); i < n; i++ {
		if err := file.structUnpack(&file.ClassDefs[i], file.Header.ClassDefsOff+i*ClassDefSize, ClassDefSize); err != nil {
			return fmt.Errorf("class_def[%d]: %w", i, err)
		}
		desc := file.TypeDescriptor(file.ClassDefs[i].ClassIdx)
		file.descToClassDef[desc] = int(i)
		if file.ClassDefs[i].ClassDataOff != 0 {
			if err := file.indexCodeOffsets(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetString returns the decoded string_data entry for idx.
func (file *File) GetString(idx uint32) string {
	if idx >= uint32(len(file.Strings)) {
		return ""
	}
	return file.Strings[idx]
}

// TypeDescriptor returns the descriptor string for a type_id index.
func (file *File) TypeDescriptor(typeIdx uint32) string {
	if typeIdx >= uint32(len(file.Types)) {
		return ""
	}
	return file.GetString(file.Types[typeIdx])
}

// ClassDefByDescriptor looks up a class_def by its type descriptor,
// used by classloader.Load to bind a class vertex to its backing
// class_def.
func (file *File) ClassDefByDescriptor(desc string) (int, bool) {
	idx, ok := file.descToClassDef[desc]
	return idx, ok
}
