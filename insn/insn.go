package insn

import "github.com/dexgraph/dexgraph/hdl"

// maxRegs is the largest fixed register array any real variant needs: the
// 5-register form of invoke-{virtual,direct,static,interface,super}
// (format 35c).
const maxRegs = 5

// invalidReg marks an unused slot in Regs.
const invalidReg int16 = -1

// PayloadKind tags which field of Insn carries the decoded payload.
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadInt32
	PayloadInt64
	PayloadString
	PayloadType
	PayloadField
	PayloadMethod
	PayloadArrayData
	PayloadSlot // vtable/inline index for odex-only quick/inline forms
)

// SwitchCase is one (key, target offset) pair of a packed- or
// sparse-switch instruction, decoded from the switch payload at build
// time.
type SwitchCase struct {
	Key          int32
	TargetOffset int32 // relative to the switch instruction, in code units
}

// Insn is a decoded DEX instruction vertex value: one of the 38 real
// opcodes in this module plus the insn_entry/insn_exit pseudo-ops.
type Insn struct {
	Op Opcode

	// Regs holds up to 5 register operands. IsRange indicates Regs[0]
	// and Regs[1] are the first and last register of a contiguous range
	// (used by invoke/range and filled-new-array/range); RegCount is
	// unused in that case. Otherwise Regs[0:RegCount] are the real
	// register operands and the remaining slots are invalidReg.
	Regs     [maxRegs]int16
	RegCount uint8
	IsRange  bool

	PayloadKind PayloadKind
	IntValue    int64
	StrIdx      uint16 // string_id index, for PayloadString
	StrValue    string // resolved string_data, populated by the decoder
	TypeValue   hdl.DexTypeHandle
	FieldValue  hdl.DexFieldHandle
	MethodValue hdl.DexMethodHandle
	Slot        int32
	ArrayWidth  int
	ArrayData   []byte

	// Switch holds the decoded case list for packed_switch/sparse_switch.
	Switch []SwitchCase

	// GotoTarget/BranchTarget are the relative code-unit offsets decoded
	// from goto*/if* instructions; insngraph resolves them to vertices.
	GotoTarget   int32
	BranchTarget int32

	// ExitUsesResult is set by insngraph.Build on the pseudo-exit vertex
	// when the enclosing method's return type is non-void.
	ExitUsesResult bool
}

// NewSimple builds a fixed-arity instruction with no range encoding.
func NewSimple(op Opcode, regs ...int16) Insn {
	var i Insn
	i.Op = op
	i.RegCount = uint8(len(regs))
	for idx := range i.Regs {
		i.Regs[idx] = invalidReg
	}
	for idx, r := range regs {
		i.Regs[idx] = r
	}
	return i
}

// NewRange builds a range-encoded instruction (invoke*/range,
// filled-new-array/range) spanning [first, last] inclusive.
func NewRange(op Opcode, first, last int16) Insn {
	var i Insn
	i.Op = op
	i.IsRange = true
	for idx := range i.Regs {
		i.Regs[idx] = invalidReg
	}
	i.Regs[0] = first
	i.Regs[1] = last
	return i
}

// ExpandRegs returns the full register list an instruction reads/writes,
// expanding a range encoding on demand to every register in [first,
// last].
func (i Insn) ExpandRegs() []int16 {
	if i.IsRange {
		first, last := i.Regs[0], i.Regs[1]
		if last < first {
			return nil
		}
		out := make([]int16, 0, last-first+1)
		for r := first; r <= last; r++ {
			out = append(out, r)
		}
		return out
	}
	out := make([]int16, 0, i.RegCount)
	for idx := uint8(0); idx < i.RegCount; idx++ {
		out = append(out, i.Regs[idx])
	}
	return out
}

// Defs returns the registers written by i.
func Defs(i Insn) []int32 {
	info := Info(i.Op)
	switch {
	case i.Op == OpEntry:
		// The pseudo-entry vertex defines the full incoming-parameter
		// register range, encoded as a range in Regs[0:1].
		regs := i.ExpandRegs()
		out := make([]int32, len(regs))
		for idx, r := range regs {
			out[idx] = int32(r)
		}
		return out
	case info.Flags.Has(SetsResult):
		return []int32{hdl.RegResult}
	case info.Flags.Has(SetsRegister):
		return []int32{int32(i.Regs[0])}
	default:
		return nil
	}
}

// Uses returns the registers read by i.
func Uses(i Insn) []int32 {
	info := Info(i.Op)

	if i.Op == OpEntry {
		// The pseudo-entry vertex only defines registers; it has no
		// predecessor whose values it could read.
		return nil
	}

	if i.Op == OpExit {
		if i.ExitUsesResult {
			return []int32{hdl.RegResult}
		}
		return nil
	}

	regs := i.ExpandRegs()
	if i.IsRange {
		out := make([]int32, len(regs))
		for idx, r := range regs {
			out[idx] = int32(r)
		}
		return out
	}

	start := 0
	if info.Flags.Has(SetsRegister) && !SetsRegisterInPlace(i.Op) {
		start = 1 // drop the non-in-place destination register
	}
	if start >= len(regs) {
		return nil
	}
	out := make([]int32, 0, len(regs)-start)
	for _, r := range regs[start:] {
		out = append(out, int32(r))
	}
	return out
}

// Equal reports structural equality of two instructions, comparing
// opcode, registers, and payload value.
func Equal(a, b Insn) bool {
	if a.Op != b.Op || a.RegCount != b.RegCount || a.IsRange != b.IsRange {
		return false
	}
	if a.Regs != b.Regs {
		return false
	}
	if a.PayloadKind != b.PayloadKind {
		return false
	}
	switch a.PayloadKind {
	case PayloadInt32, PayloadInt64:
		return a.IntValue == b.IntValue
	case PayloadString:
		return a.StrValue == b.StrValue
	case PayloadType:
		return a.TypeValue == b.TypeValue
	case PayloadField:
		return a.FieldValue == b.FieldValue
	case PayloadMethod:
		return a.MethodValue == b.MethodValue
	case PayloadSlot:
		return a.Slot == b.Slot
	default:
		return true
	}
}
