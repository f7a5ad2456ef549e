package insngraph

import (
	"github.com/dexgraph/dexgraph/dexerr"
	"github.com/dexgraph/dexgraph/dexfile"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/insn"
)

// Build decodes the code item at codeOff into a full instruction graph
// for method. returnDescriptor is the method's return type descriptor
// (its first character decides whether the pseudo-exit vertex uses the
// result register).
func Build(dfile *dexfile.File, fileHdl hdl.DexFileHandle, method hdl.DexMethodHandle, codeOff uint32, returnDescriptor string) (*Graph, error) {
	ci, err := dfile.CodeItem(codeOff)
	if err != nil {
		return nil, err
	}

	g := New(method)

	// Step 1: pseudo-entry. Its defs span the incoming parameter
	// registers, the last ins_size registers of the frame.
	var entryInsn insn.Insn
	entryInsn.Op = insn.OpEntry
	if ci.InsSize > 0 {
		entryInsn.IsRange = true
		entryInsn.Regs[0] = int16(int(ci.RegistersSize) - int(ci.InsSize))
		entryInsn.Regs[1] = int16(ci.RegistersSize) - 1
	}
	g.AddVertex(Vertex{Insn: entryInsn, Line: -1})

	// Step 2: walk the instruction stream, skipping payload islands.
	units := ci.Insns
	pos := 0
	for pos < len(units) {
		if isPayloadMarker(units[pos]) {
			n, err := payloadLength(units, pos)
			if err != nil {
				return nil, err
			}
			pos += n
			continue
		}
		offset := uint32(pos)
		decoded, n, err := decodeAt(fileHdl, dfile, units, pos)
		if err != nil {
			return nil, err
		}
		if decoded.Op == insn.OpPackedSwitch || decoded.Op == insn.OpSparseSwitch {
			payloadPos := pos + int(decoded.BranchTarget)
			cases, err := decodeSwitchPayload(units, payloadPos)
			if err == nil {
				decoded.Switch = cases
			}
			// decodeSwitchPayload failures are non-fatal to graph
			// construction: the switch vertex just carries no cases,
			// and later passes see it as having no outgoing switch edges.
		}
		g.AddVertex(Vertex{Insn: decoded, Offset: offset, Line: -1})
		pos += n
	}

	// Step 3: pseudo-exit. It uses {result} iff the method's return type
	// is non-void.
	var exitInsn insn.Insn
	exitInsn.Op = insn.OpExit
	exitInsn.ExitUsesResult = len(returnDescriptor) > 0 && returnDescriptor[0] != 'V'
	g.AddVertex(Vertex{Insn: exitInsn, Line: -1})
	exitIdx := g.ExitIdx()

	g.FinalizeOffsetIndex()

	// Step 5: fallthrough entry -> first real vertex (or straight to
	// exit for a method with no real instructions).
	firstReal := 1
	if exitIdx == EntryIdx+1 {
		// Only entry/exit exist.
		g.AddEdge(Edge{From: EntryIdx, To: exitIdx, Kind: EdgeControlFlow, Branch: BranchFallthrough})
	} else {
		g.AddEdge(Edge{From: EntryIdx, To: firstReal, Kind: EdgeControlFlow, Branch: BranchFallthrough})
	}

	// Step 6: control-flow edges per real vertex.
	for v := 1; v < exitIdx; v++ {
		vertex := g.Vertices[v]
		op := vertex.Insn.Op
		info := insn.Info(op)

		switch op {
		case insn.OpReturnVoid, insn.OpReturn, insn.OpReturnObject:
			g.AddEdge(Edge{From: v, To: exitIdx, Kind: EdgeControlFlow, Branch: BranchFallthrough})
		case insn.OpGoto:
			if target, ok := g.FindByOffset(uint32(int64(vertex.Offset) + int64(vertex.Insn.GotoTarget))); ok {
				g.AddEdge(Edge{From: v, To: target, Kind: EdgeControlFlow, Branch: BranchTaken})
			}
		case insn.OpIfEq, insn.OpIfEqz:
			if target, ok := g.FindByOffset(uint32(int64(vertex.Offset) + int64(vertex.Insn.BranchTarget))); ok {
				g.AddEdge(Edge{From: v, To: target, Kind: EdgeControlFlow, Branch: BranchTaken})
			}
		case insn.OpPackedSwitch, insn.OpSparseSwitch:
			for _, c := range vertex.Insn.Switch {
				if target, ok := g.FindByOffset(uint32(int64(vertex.Offset) + int64(c.TargetOffset))); ok {
					g.AddEdge(Edge{From: v, To: target, Kind: EdgeControlFlow, Branch: BranchSwitchKey, SwitchKey: c.Key})
				}
			}
		}

		if info.Flags.Has(insn.CanContinue) {
			next := v + 1
			g.AddEdge(Edge{From: v, To: next, Kind: EdgeControlFlow, Branch: BranchFallthrough})
		}
	}

	// Step 4: try/catch blocks and exception edges.
	if err := buildTryCatch(g, ci); err != nil {
		return nil, err
	}

	// Step 7: debug info.
	if ci.DebugInfoOff != 0 {
		di, err := dfile.ParseDebugInfo(ci.DebugInfoOff)
		if err == nil {
			applyDebugInfo(g, di)
		}
	}

	return g, nil
}

// isPayloadMarker reports whether the unit at the current position is
// the ident field of a packed-switch or sparse-switch payload (spec
// section 6, 9).
func isPayloadMarker(u uint16) bool {
	return u == identPackedSwitch || u == identSparseSwitch
}

func payloadLength(units []uint16, pos int) (int, error) {
	if pos+1 >= len(units) {
		return 0, dexerr.New(dexerr.MalformedDex, "truncated switch payload")
	}
	size := int(units[pos+1])
	switch units[pos] {
	case identPackedSwitch:
		return 2 + 2 + size*2, nil
	case identSparseSwitch:
		return 2 + size*2 + size*2, nil
	default:
		return 0, dexerr.New(dexerr.MalformedDex, "unrecognized payload ident")
	}
}

func buildTryCatch(g *Graph, ci dexfile.CodeItem) error {
	for _, t := range ci.Tries {
		first, ok := g.FindByOffset(t.StartAddr)
		if !ok {
			continue
		}
		lastOffsetExclusive := t.StartAddr + uint32(t.InsnCount)
		last := findLastVertexBefore(g, lastOffsetExclusive)
		if last < first {
			continue
		}

		handler := findHandler(ci.CatchHandlers, t.HandlerOff)

		block := TryCatchBlock{
			First:    first,
			Last:     last,
			Handlers: make(map[hdl.DexTypeHandle]int),
			CatchAll: -1,
		}

		for _, pair := range handler.Handlers {
			if hv, ok := g.FindByOffset(pair.Addr); ok {
				th := hdl.DexTypeHandle{File: g.Method.File, Idx: uint16(pair.TypeIdx)}
				block.Handlers[th] = hv
				addExceptionEdges(g, first, last, hv, th, false)
			}
		}
		if handler.CatchAllAddr >= 0 {
			if hv, ok := g.FindByOffset(uint32(handler.CatchAllAddr)); ok {
				block.CatchAll = hv
				addExceptionEdges(g, first, last, hv, hdl.DexTypeHandle{}, true)
			}
		}

		g.TryCatchBlocks = append(g.TryCatchBlocks, block)
	}
	return nil
}

func addExceptionEdges(g *Graph, first, last, handlerVertex int, catchType hdl.DexTypeHandle, catchAll bool) {
	for v := first; v <= last; v++ {
		if !insn.Info(g.Vertices[v].Insn.Op).Flags.Has(insn.CanThrow) {
			continue
		}
		g.AddEdge(Edge{
			From:       v,
			To:         handlerVertex,
			Kind:       EdgeException,
			CatchType:  catchType,
			IsCatchAll: catchAll,
		})
	}
}

func findLastVertexBefore(g *Graph, offsetExclusive uint32) int {
	best := -1
	for i := 1; i < g.ExitIdx(); i++ {
		if g.Vertices[i].Offset >= offsetExclusive {
			continue
		}
		if best == -1 || g.Vertices[i].Offset > g.Vertices[best].Offset {
			best = i
		}
	}
	return best
}

func findHandler(handlers []dexfile.EncodedCatchHandler, off uint16) dexfile.EncodedCatchHandler {
	for _, h := range handlers {
		if h.Offset == off {
			return h
		}
	}
	return dexfile.EncodedCatchHandler{CatchAllAddr: -1}
}

func applyDebugInfo(g *Graph, di dexfile.DebugInfo) {
	for i := 1; i < g.ExitIdx(); i++ {
		v := &g.Vertices[i]
		if line, ok := di.LineAt[v.Offset]; ok {
			v.Line = line
		}
	}
	// Propagate the most recent known line forward to vertices with no
	// direct entry, honoring the "set_file invalidates from that point"
	// cutoff.
	var current int32 = -1
	for i := 1; i < g.ExitIdx(); i++ {
		v := &g.Vertices[i]
		if di.InvalidFromAddr >= 0 && int64(v.Offset) >= di.InvalidFromAddr {
			break
		}
		if line, ok := di.LineAt[v.Offset]; ok {
			current = line
		} else if current >= 0 {
			v.Line = current
		}
	}
}
