package dexfile

import "errors"

// Magic values. DexMagic is the standard-DEX magic "dex\n035\0";
// OdexMagic prefixes a standard DEX with a device-specific header,
// "dey\n036\0".
var (
	DexMagic  = [8]byte{'d', 'e', 'x', '\n', '0', '3', '5', 0}
	OdexMagic = [8]byte{'d', 'e', 'y', '\n', '0', '3', '6', 0}
)

// Sentinel errors for container faults. The parser in this package does
// not return them; it reports malformed input as dexerr.MalformedDex
// errors.
var (
	ErrBadMagic       = errors.New("dex magic mismatch")
	ErrTruncated      = errors.New("dex file truncated")
	ErrOutOfRange     = errors.New("index out of range")
	ErrInconsistentCU = errors.New("inconsistent code-item size")
)

// Header is the fixed 112-byte standard-DEX header.
type Header struct {
	Magic         [8]byte
	Checksum      uint32
	Signature     [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIDsSize uint32
	StringIDsOff  uint32
	TypeIDsSize   uint32
	TypeIDsOff    uint32
	ProtoIDsSize  uint32
	ProtoIDsOff   uint32
	FieldIDsSize  uint32
	FieldIDsOff   uint32
	MethodIDsSize uint32
	MethodIDsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

// HeaderSizeBytes is the wire size of Header in bytes.
const HeaderSizeBytes = 112

// OdexHeader prefixes a standard DEX with device-specific ODEX metadata.
type OdexHeader struct {
	Magic    [8]byte
	DexOff   uint32
	DexSize  uint32
	DepsOff  uint32
	DepsSize uint32
	OptOff   uint32
	OptSize  uint32
	Flags    uint32
	Checksum uint32
}

// OdexHeaderSizeBytes is the wire size of OdexHeader in bytes.
const OdexHeaderSizeBytes = 8 + 4*8

// Wire record layouts.
const (
	StringIDSize = 4
	TypeIDSize   = 4
	ProtoIDSize  = 12
	FieldIDSize  = 8
	MethodIDSize = 8
	ClassDefSize = 32
	CodeHeaderSize = 16
	TryItemSize    = 8
)

// ProtoID is the wire layout of a proto_id record.
type ProtoID struct {
	ShortyIdx     uint32
	ReturnTypeIdx uint32
	ParametersOff uint32
}

// FieldID is the wire layout of a field_id record.
type FieldID struct {
	ClassIdx uint16
	TypeIdx  uint16
	NameIdx  uint32
}

// MethodID is the wire layout of a method_id record.
type MethodID struct {
	ClassIdx uint16
	ProtoIdx uint16
	NameIdx  uint32
}

// ClassDef is the wire layout of a class_def record.
type ClassDef struct {
	ClassIdx        uint32
	AccessFlags     uint32
	SuperclassIdx   uint32
	InterfacesOff   uint32
	SourceFileIdx   uint32
	AnnotationsOff  uint32
	ClassDataOff    uint32
	StaticValuesOff uint32
}

// NoIndex marks an absent index (superclass_idx, interfaces_off, ...).
const NoIndex uint32 = 0xffffffff

// CodeHeader is the fixed 16-byte prefix of a code_item.
type CodeHeader struct {
	RegistersSize uint16
	InsSize       uint16
	OutsSize      uint16
	TriesSize     uint16
	DebugInfoOff  uint32
	InsnsSize     uint32
}

// TryItem is the wire layout of a try_item record.
type TryItem struct {
	StartAddr uint32
	InsnCount uint16
	HandlerOff uint16
}

// Access flag bits.
const (
	AccPublic              = 0x1
	AccPrivate             = 0x2
	AccProtected           = 0x4
	AccStatic              = 0x8
	AccFinal               = 0x10
	AccSynchronized        = 0x20
	AccVolatileBridge      = 0x40
	AccTransientVarargs    = 0x80
	AccNative              = 0x100
	AccInterface           = 0x200
	AccAbstract            = 0x400
	AccStrict              = 0x800
	AccSynthetic           = 0x1000
	AccAnnotation          = 0x2000
	AccEnum                = 0x4000
	AccConstructor         = 0x10000
	AccDeclaredSynchronized = 0x20000
)
