package dexfile

import (
	"encoding/binary"

	"github.com/dexgraph/dexgraph/dexerr"
)

// EncodedTypeAddrPair is one (exception type, handler address) entry of
// an encoded_catch_handler.
type EncodedTypeAddrPair struct {
	TypeIdx uint32
	Addr    uint32
}

// EncodedCatchHandler is one parsed entry of the encoded_catch_handler_list.
// Offset is its byte offset relative to the start of that list (right
// after the list's own uleb128 size prefix), which is how TryItem.HandlerOff
// addresses it.
type EncodedCatchHandler struct {
	Offset       uint16
	Handlers     []EncodedTypeAddrPair
	CatchAllAddr int32 // -1 if no catch-all
}

// CodeItem is a parsed code_item.
type CodeItem struct {
	RegistersSize uint16
	InsSize       uint16
	OutsSize      uint16
	TriesSize     uint16
	DebugInfoOff  uint32
	InsnsSize     uint32

	Insns []uint16 // raw 16-bit code units, length InsnsSize

	Tries         []TryItem
	CatchHandlers []EncodedCatchHandler
}

// CodeItem parses the code_item at off.
func (file *File) CodeItem(off uint32) (CodeItem, error) {
	var ci CodeItem
	var ch CodeHeader
	if err := file.structUnpack(&ch, off, CodeHeaderSize); err != nil {
		return ci, err
	}
	ci.RegistersSize = ch.RegistersSize
	ci.InsSize = ch.InsSize
	ci.OutsSize = ch.OutsSize
	ci.TriesSize = ch.TriesSize
	ci.DebugInfoOff = ch.DebugInfoOff
	ci.InsnsSize = ch.InsnsSize

	insnsOff := off + CodeHeaderSize
	insnsBytes := uint32(ci.InsnsSize) * 2
	if uint64(insnsOff)+uint64(insnsBytes) > uint64(len(file.raw)) {
		return ci, dexerr.New(dexerr.MalformedDex, "code_item insns out of range")
	}
	ci.Insns = make([]uint16, ci.InsnsSize)
	for i := uint32(0); i < ci.InsnsSize; i++ {
		ci.Insns[i] = binary.LittleEndian.Uint16(file.raw[insnsOff+i*2:])
	}

	if ci.TriesSize == 0 {
		return ci, nil
	}

	triesOff := insnsOff + insnsBytes
	if ci.InsnsSize%2 != 0 {
		triesOff += 2 // padding to align try_item table
	}

	ci.Tries = make([]TryItem, ci.TriesSize)
	for i := uint16(0); i < ci.TriesSize; i++ {
		if err := file.structUnpack(&ci.Tries[i], triesOff+uint32(i)*TryItemSize, TryItemSize); err != nil {
			return ci, err
		}
	}

	handlersBase := triesOff + uint32(ci.TriesSize)*TryItemSize
	if int(handlersBase) >= len(file.raw) {
		return ci, dexerr.New(dexerr.MalformedDex, "encoded_catch_handler_list out of range")
	}
	listData := file.raw[handlersBase:]
	handlerCount, n := ReadULEB128(listData)
	cursor := n
	ci.CatchHandlers = make([]EncodedCatchHandler, 0, handlerCount)
	for i := uint32(0); i < handlerCount; i++ {
		startOffset := cursor - n // offset relative to the list, after its size prefix
		size, sn := ReadSLEB128(listData[cursor:])
		cursor += sn

		count := size
		hasCatchAll := size <= 0
		if hasCatchAll {
			count = -size
		}
		var eh EncodedCatchHandler
		eh.Offset = uint16(startOffset)
		eh.CatchAllAddr = -1
		for j := int32(0); j < count; j++ {
			typeIdx, tn := ReadULEB128(listData[cursor:])
			cursor += tn
			addr, an := ReadULEB128(listData[cursor:])
			cursor += an
			eh.Handlers = append(eh.Handlers, EncodedTypeAddrPair{TypeIdx: typeIdx, Addr: addr})
		}
		if hasCatchAll {
			addr, an := ReadULEB128(listData[cursor:])
			cursor += an
			eh.CatchAllAddr = int32(addr)
		}
		ci.CatchHandlers = append(ci.CatchHandlers, eh)
	}

	return ci, nil
}
