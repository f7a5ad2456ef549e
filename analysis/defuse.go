// Package analysis builds the def-use, reaching-definitions, call-graph,
// and field-path data-flow edges on top of package dataflow's generic
// solver, plus the recursive loader and the CHA call-graph builder used
// when on-the-fly points-to analysis is not run.
package analysis

import (
	"github.com/dexgraph/dexgraph/dataflow"
	"github.com/dexgraph/dexgraph/insn"
	"github.com/dexgraph/dexgraph/insngraph"
	"github.com/dexgraph/dexgraph/internal/slicesx"
)

// defElem is one element of the S lattice for plain reaching-definitions,
// a sorted, deduplicated set of (vertex, register) pairs.
type defElem struct {
	vertex int
	reg    int32
}

func lessDefElem(a, b defElem) bool {
	if a.vertex != b.vertex {
		return a.vertex < b.vertex
	}
	return a.reg < b.reg
}

func equalDefElemSet(a, b []defElem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func combineDefElemSet(a *[]defElem, b []defElem) {
	merged := append(append([]defElem(nil), *a...), b...)
	*a = slicesx.UniqueSort(merged, lessDefElem)
}

// AddDefUseEdges runs the plain register reaching-definitions fixpoint
// and adds an EdgeDefUse from u to v, tagged with register r, for
// every pair (u, r) reaching v with u != v and r among v's uses.
func AddDefUseEdges(g *insngraph.Graph) error {
	flow := func(v int, in []defElem, out *[]defElem) {
		defs := insn.Defs(g.Vertices[v].Insn)
		if len(defs) == 0 {
			*out = append([]defElem(nil), in...)
			return
		}
		defSet := make(map[int32]bool, len(defs))
		for _, r := range defs {
			defSet[r] = true
		}
		next := make([]defElem, 0, len(in)+len(defs))
		for _, e := range in {
			if !defSet[e.reg] {
				next = append(next, e)
			}
		}
		for _, r := range defs {
			next = append(next, defElem{vertex: v, reg: r})
		}
		*out = slicesx.UniqueSort(next, lessDefElem)
	}

	res := dataflow.Solve[[]defElem](g, nil, combineDefElemSet, flow, equalDefElemSet)

	for v := 0; v < g.NumVertices(); v++ {
		uses := insn.Uses(g.Vertices[v].Insn)
		if len(uses) == 0 {
			continue
		}
		useSet := make(map[int32]bool, len(uses))
		for _, r := range uses {
			useSet[r] = true
		}
		for _, e := range res.In[v] {
			if e.vertex == v {
				continue
			}
			if useSet[e.reg] {
				g.AddEdge(insngraph.Edge{From: e.vertex, To: v, Kind: insngraph.EdgeDefUse, Register: e.reg})
			}
		}
	}
	return nil
}
