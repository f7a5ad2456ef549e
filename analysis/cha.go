package analysis

import (
	"github.com/dexgraph/dexgraph/classloader"
	"github.com/dexgraph/dexgraph/dexerr"
	"github.com/dexgraph/dexgraph/insn"
	"github.com/dexgraph/dexgraph/vm"
)

// CallGraphEdge is one caller -> callee edge of a CHA call graph, both
// method indices into vm.VM.Methods.
type CallGraphEdge struct {
	Caller, Callee int
}

// CallGraph is the cheap class-hierarchy call graph, used in place of
// the points-to contextual call graph when on-the-fly resolution is
// not run.
type CallGraph struct {
	Edges []CallGraphEdge
}

// BuildCHACallGraph starts a BFS from entryPoints, resolving every invoke
// instruction's static target and, for virtual/interface invokes, every
// descendant in the virtual-override subtree rooted at that target.
func BuildCHACallGraph(v *vm.VM, entryPoints []int) (*CallGraph, error) {
	cg := &CallGraph{}
	visited := make(map[int]bool)
	queue := append([]int(nil), entryPoints...)
	for _, e := range entryPoints {
		visited[e] = true
	}

	enqueue := func(idx int) {
		if !visited[idx] {
			visited[idx] = true
			queue = append(queue, idx)
		}
	}

	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]

		mv := v.Methods[m]
		if mv.Graph == nil {
			continue
		}
		for _, vertex := range mv.Graph.Vertices {
			i := vertex.Insn
			info := insn.Info(i.Op)
			if !info.Flags.Has(insn.CanInvoke) || info.Flags.Has(insn.OdexOnly) {
				continue
			}
			jvmMethod, err := resolveMethodTarget(v, mv.Dex.File, i.MethodValue)
			if err != nil {
				continue
			}
			targetIdx, err := classloader.FindMethod(v, jvmMethod, true)
			if err != nil {
				if dexerr.Is(err, dexerr.NotFound) {
					continue
				}
				return nil, err
			}

			cg.Edges = append(cg.Edges, CallGraphEdge{Caller: m, Callee: targetIdx})
			enqueue(targetIdx)

			if info.Flags.Has(insn.CanVirtuallyInvoke) {
				for _, sub := range overrideSubtree(v, targetIdx) {
					cg.Edges = append(cg.Edges, CallGraphEdge{Caller: m, Callee: sub})
					enqueue(sub)
				}
			}
		}
	}
	return cg, nil
}
