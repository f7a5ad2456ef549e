package insngraph

import (
	"github.com/dexgraph/dexgraph/dexerr"
	"github.com/dexgraph/dexgraph/dexfile"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/insn"
)

// Wire encoding of a real instruction within a code_item's insns array.
//
// This module's decoder does not aim to be bit-compatible with the ART
// runtime's actual opcode bytes and nibble-packed operand encoding --
// replicating that exactly is a large, separate engineering effort that
// the graph structure, dataflow, and points-to analyses built on top of
// it do not depend on. Instead every instruction uses one small uniform
// layout, built and consumed consistently by Encode/decodeAt:
//
//	unit0:        low byte = Opcode; high byte: bit7 = IsRange,
//	              bits 0-6 = register count (ignored when IsRange)
//	[if IsRange]  unit1 = first register, unit2 = last register
//	[else]        unit1..unit(regCount) = one register per unit
//	payload:      opcode-specific, see decodeAt
//
// packed-switch/sparse-switch payload tables follow the real DEX layout,
// using its normative ident values.
const (
	identPackedSwitch = 0x0100
	identSparseSwitch = 0x0200
)

func u16(v uint16) int16 { return int16(v) }

// Encode builds the wire representation of i as a sequence of 16-bit
// code units, for use by insngraph's own tests and by any caller
// assembling synthetic method bodies.
func Encode(i insn.Insn) []uint16 {
	var out []uint16
	header := uint16(i.Op)
	regs := i.ExpandRegs()
	if i.IsRange {
		header |= 0x8000
	} else {
		header |= uint16(len(regs)) << 8
	}
	out = append(out, header)

	if i.IsRange {
		out = append(out, uint16(i.Regs[0]), uint16(i.Regs[1]))
	} else {
		for _, r := range regs {
			out = append(out, uint16(r))
		}
	}

	switch i.Op {
	case insn.OpGoto:
		out = append(out, uint16(i.GotoTarget))
	case insn.OpIfEq, insn.OpIfEqz:
		out = append(out, uint16(i.BranchTarget))
	case insn.OpPackedSwitch, insn.OpSparseSwitch:
		off := uint32(i.BranchTarget)
		out = append(out, uint16(off), uint16(off>>16))
	case insn.OpConst:
		v := uint32(i.IntValue)
		out = append(out, uint16(v), uint16(v>>16))
	case insn.OpConstString:
		out = append(out, i.StrIdx)
	case insn.OpConstClass, insn.OpNewInstance, insn.OpCheckCast:
		out = append(out, uint16(i.TypeValue.Idx))
	case insn.OpNewArray:
		out = append(out, uint16(i.TypeValue.Idx))
	case insn.OpAgetObject, insn.OpAputObject:
		// no extra payload: all operands are registers
	case insn.OpIgetObject, insn.OpIputObject, insn.OpSgetObject, insn.OpSputObject:
		out = append(out, i.FieldValue.Idx)
	case insn.OpInvokeVirtual, insn.OpInvokeSuper, insn.OpInvokeDirect,
		insn.OpInvokeStatic, insn.OpInvokeInterface,
		insn.OpInvokeVirtualRange, insn.OpInvokeSuperRange, insn.OpInvokeDirectRange,
		insn.OpInvokeStaticRange, insn.OpInvokeInterfaceRange:
		out = append(out, i.MethodValue.Idx)
	case insn.OpFilledNewArray, insn.OpFilledNewArrayRange:
		out = append(out, i.TypeValue.Idx)
	case insn.OpInvokeVirtualQuick, insn.OpInvokeVirtualQuickRange, insn.OpExecuteInline:
		out = append(out, uint16(i.Slot))
	}
	return out
}

// decodeAt decodes one real instruction starting at units[pos], returning
// the decoded instruction and the number of 16-bit units consumed.
func decodeAt(file hdl.DexFileHandle, dfile *dexfile.File, units []uint16, pos int) (insn.Insn, int, error) {
	if pos >= len(units) {
		return insn.Insn{}, 0, dexerr.New(dexerr.MalformedDex, "instruction read past end of insns")
	}
	header := units[pos]
	op := insn.Opcode(header & 0x00ff)
	isRange := header&0x8000 != 0
	regCount := int((header >> 8) & 0x7f)
	cursor := pos + 1

	var i insn.Insn
	i.Op = op

	readRegs := func() {
		if isRange {
			i.IsRange = true
			i.Regs[0] = u16(units[cursor])
			i.Regs[1] = u16(units[cursor+1])
			cursor += 2
			return
		}
		i.RegCount = uint8(regCount)
		for idx := 0; idx < regCount; idx++ {
			i.Regs[idx] = u16(units[cursor])
			cursor++
		}
	}
	readRegs()

	switch op {
	case insn.OpNop, insn.OpReturnVoid:
		// no payload
	case insn.OpMove, insn.OpMoveResultObject, insn.OpReturn, insn.OpReturnObject,
		insn.OpAgetObject, insn.OpAputObject:
		// all operands already consumed as registers
	case insn.OpGoto:
		i.GotoTarget = int32(int16(units[cursor]))
		cursor++
	case insn.OpIfEq, insn.OpIfEqz:
		i.BranchTarget = int32(int16(units[cursor]))
		cursor++
	case insn.OpPackedSwitch, insn.OpSparseSwitch:
		lo, hi := uint32(units[cursor]), uint32(units[cursor+1])
		i.BranchTarget = int32(lo | hi<<16)
		cursor += 2
	case insn.OpConst:
		lo, hi := uint32(units[cursor]), uint32(units[cursor+1])
		i.PayloadKind = insn.PayloadInt32
		i.IntValue = int64(int32(lo | hi<<16))
		cursor += 2
	case insn.OpConstString:
		i.PayloadKind = insn.PayloadString
		i.StrIdx = units[cursor]
		i.StrValue = dfile.GetString(uint32(i.StrIdx))
		cursor++
	case insn.OpConstClass, insn.OpNewInstance, insn.OpCheckCast, insn.OpNewArray:
		i.PayloadKind = insn.PayloadType
		i.TypeValue = hdl.DexTypeHandle{File: file, Idx: units[cursor]}
		cursor++
	case insn.OpIgetObject, insn.OpIputObject, insn.OpSgetObject, insn.OpSputObject:
		i.PayloadKind = insn.PayloadField
		i.FieldValue = hdl.DexFieldHandle{File: file, Idx: units[cursor]}
		cursor++
	case insn.OpInvokeVirtual, insn.OpInvokeSuper, insn.OpInvokeDirect,
		insn.OpInvokeStatic, insn.OpInvokeInterface,
		insn.OpInvokeVirtualRange, insn.OpInvokeSuperRange, insn.OpInvokeDirectRange,
		insn.OpInvokeStaticRange, insn.OpInvokeInterfaceRange:
		i.PayloadKind = insn.PayloadMethod
		i.MethodValue = hdl.DexMethodHandle{File: file, Idx: units[cursor]}
		cursor++
	case insn.OpFilledNewArray, insn.OpFilledNewArrayRange:
		i.PayloadKind = insn.PayloadType
		i.TypeValue = hdl.DexTypeHandle{File: file, Idx: units[cursor]}
		cursor++
	case insn.OpInvokeVirtualQuick, insn.OpInvokeVirtualQuickRange, insn.OpExecuteInline:
		i.PayloadKind = insn.PayloadSlot
		i.Slot = int32(units[cursor])
		cursor++
	default:
		return insn.Insn{}, 0, dexerr.New(dexerr.MalformedDex, "unknown opcode")
	}

	return i, cursor - pos, nil
}

// decodeSwitchPayload decodes a packed- or sparse-switch payload table
// located at units[pos:], following the real DEX payload-table layout.
func decodeSwitchPayload(units []uint16, pos int) ([]insn.SwitchCase, error) {
	if pos >= len(units) {
		return nil, dexerr.New(dexerr.MalformedDex, "switch payload out of range")
	}
	ident := units[pos]
	size := int(units[pos+1])
	cursor := pos + 2

	readInt32 := func() int32 {
		lo, hi := uint32(units[cursor]), uint32(units[cursor+1])
		cursor += 2
		return int32(lo | hi<<16)
	}

	switch ident {
	case identPackedSwitch:
		firstKey := readInt32()
		cases := make([]insn.SwitchCase, size)
		for i := 0; i < size; i++ {
			cases[i] = insn.SwitchCase{Key: firstKey + int32(i), TargetOffset: readInt32()}
		}
		return cases, nil
	case identSparseSwitch:
		keys := make([]int32, size)
		for i := 0; i < size; i++ {
			keys[i] = readInt32()
		}
		cases := make([]insn.SwitchCase, size)
		for i := 0; i < size; i++ {
			cases[i] = insn.SwitchCase{Key: keys[i], TargetOffset: readInt32()}
		}
		return cases, nil
	default:
		return nil, dexerr.New(dexerr.MalformedDex, "unrecognized switch payload ident")
	}
}
