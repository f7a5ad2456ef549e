package analysis

import (
	"github.com/dexgraph/dexgraph/insn"
	"github.com/dexgraph/dexgraph/insngraph"
)

// PruneDeadExceptionEdges drops try/catch blocks whose protected range
// contains no throwing instruction, a direct port of jitana's
// exception_flow.hpp: insngraph.Build already only adds an EdgeException
// edge per actually-throwing instruction, so a block with none never
// produced an edge in the first place; this pass removes the now-vestigial
// TryCatchBlock record itself so a later Graphviz dump does not draw a
// dead protected range. Returns the number of blocks dropped.
func PruneDeadExceptionEdges(g *insngraph.Graph) int {
	var live []insngraph.TryCatchBlock
	dropped := 0
	for _, tc := range g.TryCatchBlocks {
		if blockHasThrowingInsn(g, tc) {
			live = append(live, tc)
		} else {
			dropped++
		}
	}
	g.TryCatchBlocks = live
	return dropped
}

func blockHasThrowingInsn(g *insngraph.Graph, tc insngraph.TryCatchBlock) bool {
	for v := tc.First; v <= tc.Last; v++ {
		if insn.Info(g.Vertices[v].Insn.Op).Flags.Has(insn.CanThrow) {
			return true
		}
	}
	return false
}
