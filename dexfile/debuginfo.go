package dexfile

// Debug info bytecode opcodes.
const (
	dbgEndSequence      = 0x00
	dbgAdvancePC        = 0x01
	dbgAdvanceLine      = 0x02
	dbgStartLocal       = 0x03
	dbgStartLocalExtended = 0x04
	dbgEndLocal         = 0x05
	dbgRestartLocal     = 0x06
	dbgSetPrologueEnd   = 0x07
	dbgSetEpilogueBegin = 0x08
	dbgSetFile          = 0x09
	dbgFirstSpecial     = 0x0a

	dbgLineBase  = -4
	dbgLineRange = 15
)

// DebugInfo is the decoded result of walking a debug_info_item.
type DebugInfo struct {
	// ParameterNames holds one entry per incoming parameter register
	// (excluding `this`), decoded via ULEB128p1: -1 means "no name".
	ParameterNames []int32

	// LineAt maps an instruction's code-unit address to the source line
	// active at that address. An address with no entry is only valid if
	// a prior address's line is still in force; insngraph.Build applies
	// this as a running value while it walks vertices in offset order,
	// and stops updating it once set_file has been seen: set_file
	// invalidates line numbers from that point on.
	LineAt map[uint32]int32

	// InvalidFromAddr is the first address, if any, at which a set_file
	// opcode fired -- addresses at or after it have no further line
	// updates, per the rule above. -1 if set_file never occurs.
	InvalidFromAddr int64
}

// ParseDebugInfo decodes the debug_info_item at off.
func (file *File) ParseDebugInfo(off uint32) (DebugInfo, error) {
	var di DebugInfo
	di.InvalidFromAddr = -1
	di.LineAt = make(map[uint32]int32)

	if off == 0 || off >= uint32(len(file.raw)) {
		return di, nil
	}
	data := file.raw[off:]
	pos := 0

	readULEB := func() uint32 {
		v, n := ReadULEB128(data[pos:])
		pos += n
		return v
	}
	readSLEB := func() int32 {
		v, n := ReadSLEB128(data[pos:])
		pos += n
		return v
	}
	readULEBp1 := func() int32 {
		v, n := ReadULEB128p1(data[pos:])
		pos += n
		return v
	}

	line := int32(readULEB())
	paramCount := readULEB()
	di.ParameterNames = make([]int32, paramCount)
	for i := uint32(0); i < paramCount; i++ {
		di.ParameterNames[i] = readULEBp1()
	}

	var address uint32
	lineValid := true

	emit := func() {
		if lineValid {
			di.LineAt[address] = line
		}
	}
	emit() // line_start applies at address 0 before any bytecode runs

	for pos < len(data) {
		op := data[pos]
		pos++
		switch op {
		case dbgEndSequence:
			return di, nil
		case dbgAdvancePC:
			address += readULEB()
		case dbgAdvanceLine:
			line += readSLEB()
		case dbgStartLocal:
			readULEB()   // register_num
			readULEBp1() // name_idx
			readULEBp1() // type_idx
		case dbgStartLocalExtended:
			readULEB()
			readULEBp1()
			readULEBp1()
			readULEBp1() // sig_idx
		case dbgEndLocal, dbgRestartLocal:
			readULEB()
		case dbgSetPrologueEnd, dbgSetEpilogueBegin:
			// no operands
		case dbgSetFile:
			readULEBp1() // name_idx, unused: only invalidates future lines
			lineValid = false
			if di.InvalidFromAddr < 0 {
				di.InvalidFromAddr = int64(address)
			}
		default:
			adjusted := int32(op) - dbgFirstSpecial
			line += dbgLineBase + adjusted%dbgLineRange
			address += uint32(adjusted / dbgLineRange)
			emit()
		}
	}
	return di, nil
}
