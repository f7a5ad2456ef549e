// Package insn implements the DEX instruction model: a tagged-variant
// instruction type covering the 38 real instruction kinds this module
// supports plus the insn_entry/insn_exit pseudo-instructions, and the
// per-opcode metadata table that drives CFG construction, def/use
// analysis, and call-graph/points-to synthesis.
package insn

// Opcode identifies an instruction variant. The two pseudo-opcodes
// (OpEntry, OpExit) never appear in a DEX file; they are synthesized by
// package insngraph for every method's pseudo-entry/exit vertices.
type Opcode int

const (
	OpNop Opcode = iota

	OpMove
	OpMoveResultObject
	OpReturnVoid
	OpReturn
	OpReturnObject

	OpGoto
	OpIfEq
	OpIfEqz
	OpPackedSwitch
	OpSparseSwitch

	OpConst
	OpConstString
	OpConstClass

	OpNewInstance
	OpNewArray
	OpFilledNewArray
	OpFilledNewArrayRange

	OpCheckCast

	OpAgetObject
	OpAputObject
	OpIgetObject
	OpIputObject
	OpSgetObject
	OpSputObject

	OpInvokeVirtual
	OpInvokeSuper
	OpInvokeDirect
	OpInvokeStatic
	OpInvokeInterface
	OpInvokeVirtualRange
	OpInvokeSuperRange
	OpInvokeDirectRange
	OpInvokeStaticRange
	OpInvokeInterfaceRange

	// ODEX-only quick forms: resolution requires the device's vtable
	// layout for the receiver's class, which is not present in the DEX.
	// These are decoded but never resolved by call-graph or points-to
	// synthesis.
	OpInvokeVirtualQuick
	OpInvokeVirtualQuickRange
	OpExecuteInline

	// Pseudo-instructions. Never produced by the DEX decoder; only
	// insngraph.Build emits vertices carrying these.
	OpEntry
	OpExit

	opcodeCount
)

// Flags is a bit set of per-opcode properties.
type Flags uint32

const (
	CanThrow Flags = 1 << iota
	OdexOnly
	CanContinue // fallthrough possible
	SetsResult
	SetsRegister // destination reg is first operand
	SetsWideRegister
	ReadsWideRegister
	CanReturn
	CanBranch
	CanSwitch
	CanInvoke
	CanVirtuallyInvoke // true for virtual/interface invoke variants
	CanDirectlyInvoke  // super/direct/static + range forms + inline forms
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// OpInfo is the per-opcode metadata record returned by Info(opcode).
type OpInfo struct {
	Mnemonic string
	Format   string // raw instruction format id, e.g. "35c", "3rc"
	ByteSize int    // size in bytes of the encoded instruction
	Flags    Flags
}

var opInfo = map[Opcode]OpInfo{
	OpNop:                 {"nop", "10x", 2, CanContinue},
	OpMove:                {"move", "12x", 2, CanContinue | SetsRegister},
	OpMoveResultObject:    {"move-result-object", "11x", 2, CanContinue | SetsRegister},
	OpReturnVoid:          {"return-void", "10x", 2, CanReturn},
	OpReturn:              {"return", "11x", 2, CanReturn},
	OpReturnObject:        {"return-object", "11x", 2, CanReturn},
	OpGoto:                {"goto", "10t", 2, CanBranch},
	OpIfEq:                {"if-eq", "22t", 4, CanContinue | CanBranch},
	OpIfEqz:               {"if-eqz", "21t", 4, CanContinue | CanBranch},
	OpPackedSwitch:        {"packed-switch", "31t", 6, CanContinue | CanSwitch},
	OpSparseSwitch:        {"sparse-switch", "31t", 6, CanContinue | CanSwitch},
	OpConst:               {"const", "31i", 6, CanContinue | SetsRegister},
	OpConstString:         {"const-string", "21c", 4, CanContinue | CanThrow | SetsRegister},
	OpConstClass:          {"const-class", "21c", 4, CanContinue | CanThrow | SetsRegister},
	OpNewInstance:         {"new-instance", "21c", 4, CanContinue | CanThrow | SetsRegister},
	OpNewArray:            {"new-array", "22c", 4, CanContinue | CanThrow | SetsRegister},
	OpFilledNewArray:      {"filled-new-array", "35c", 6, CanContinue | CanThrow | SetsResult},
	OpFilledNewArrayRange: {"filled-new-array/range", "3rc", 6, CanContinue | CanThrow | SetsResult},
	OpCheckCast:           {"check-cast", "21c", 4, CanContinue | CanThrow | SetsRegister},
	OpAgetObject:          {"aget-object", "23x", 4, CanContinue | CanThrow | SetsRegister},
	OpAputObject:          {"aput-object", "23x", 4, CanContinue | CanThrow},
	OpIgetObject:          {"iget-object", "22c", 4, CanContinue | CanThrow | SetsRegister},
	OpIputObject:          {"iput-object", "22c", 4, CanContinue | CanThrow},
	OpSgetObject:          {"sget-object", "21c", 4, CanContinue | CanThrow | SetsRegister},
	OpSputObject:          {"sput-object", "21c", 4, CanContinue | CanThrow},
	OpInvokeVirtual:       {"invoke-virtual", "35c", 6, CanContinue | CanThrow | CanInvoke | CanVirtuallyInvoke | SetsResult},
	OpInvokeSuper:         {"invoke-super", "35c", 6, CanContinue | CanThrow | CanInvoke | CanDirectlyInvoke | SetsResult},
	OpInvokeDirect:        {"invoke-direct", "35c", 6, CanContinue | CanThrow | CanInvoke | CanDirectlyInvoke | SetsResult},
	OpInvokeStatic:        {"invoke-static", "35c", 6, CanContinue | CanThrow | CanInvoke | CanDirectlyInvoke | SetsResult},
	OpInvokeInterface:     {"invoke-interface", "35c", 6, CanContinue | CanThrow | CanInvoke | CanVirtuallyInvoke | SetsResult},
	OpInvokeVirtualRange:  {"invoke-virtual/range", "3rc", 6, CanContinue | CanThrow | CanInvoke | CanVirtuallyInvoke | SetsResult},
	OpInvokeSuperRange:    {"invoke-super/range", "3rc", 6, CanContinue | CanThrow | CanInvoke | CanDirectlyInvoke | SetsResult},
	OpInvokeDirectRange:   {"invoke-direct/range", "3rc", 6, CanContinue | CanThrow | CanInvoke | CanDirectlyInvoke | SetsResult},
	OpInvokeStaticRange:   {"invoke-static/range", "3rc", 6, CanContinue | CanThrow | CanInvoke | CanDirectlyInvoke | SetsResult},
	OpInvokeInterfaceRange: {
		"invoke-interface/range", "3rc", 6,
		CanContinue | CanThrow | CanInvoke | CanVirtuallyInvoke | SetsResult,
	},
	OpInvokeVirtualQuick: {
		"invoke-virtual-quick", "35ms", 6,
		CanContinue | CanThrow | CanInvoke | CanVirtuallyInvoke | OdexOnly | SetsResult,
	},
	OpInvokeVirtualQuickRange: {
		"invoke-virtual-quick/range", "3rms", 6,
		CanContinue | CanThrow | CanInvoke | CanVirtuallyInvoke | OdexOnly | SetsResult,
	},
	OpExecuteInline: {
		"execute-inline", "35mi", 6,
		CanContinue | CanThrow | CanInvoke | CanDirectlyInvoke | OdexOnly | SetsResult,
	},
	OpEntry: {"insn-entry", "pseudo", 0, CanContinue | SetsRegister},
	OpExit:  {"insn-exit", "pseudo", 0, 0},
}

// Info returns the per-opcode metadata record for op.
func Info(op Opcode) OpInfo {
	return opInfo[op]
}

// SetsRegisterInPlace reports whether op's destination register is also
// an operand — true for the 2addr arithmetic forms (not modeled as
// distinct opcodes here, since this module only decodes reference-typed
// arithmetic-free variants) and for check-cast, whose single register
// operand is simultaneously the use and the def.
func SetsRegisterInPlace(op Opcode) bool {
	return op == OpCheckCast
}
