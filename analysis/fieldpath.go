package analysis

import (
	"github.com/dexgraph/dexgraph/dataflow"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/insn"
	"github.com/dexgraph/dexgraph/insngraph"
	"github.com/dexgraph/dexgraph/internal/slicesx"
)

// VarKind tags which fields of a Variable are meaningful: a variable is
// a (register, field) pair with one of three kinds.
type VarKind int

const (
	VarRegisterOnly VarKind = iota
	VarStaticField
	VarInstanceField
)

// Variable is one data-flow-with-field-paths element: a plain register, a
// static field, or a field reached through a register's current value.
type Variable struct {
	Kind  VarKind
	Reg   int32
	Field hdl.DexFieldHandle
}

type fpElem struct {
	vertex int
	v      Variable
}

func lessFpElem(a, b fpElem) bool {
	if a.vertex != b.vertex {
		return a.vertex < b.vertex
	}
	if a.v.Kind != b.v.Kind {
		return a.v.Kind < b.v.Kind
	}
	if a.v.Reg != b.v.Reg {
		return a.v.Reg < b.v.Reg
	}
	return a.v.Field.Less(b.v.Field)
}

func equalFpElemSet(a, b []fpElem) bool {
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

// registerVars wraps a plain register list as register-only variables.
func registerVars(regs []int32) []Variable {
	out := make([]Variable, len(regs))
	for i, r := range regs {
		out[i] = Variable{Kind: VarRegisterOnly, Reg: r}
	}
	return out
}

// fieldPathDefsUses extends the plain register defs/uses of i with the
// field-path variable it reads or writes: iget reads
// instance_field(src, field), iput writes it; sget reads
// static_field(field), sput writes it.
func fieldPathDefsUses(i insn.Insn) (defs, uses []Variable) {
	defs = registerVars(insn.Defs(i))
	uses = registerVars(insn.Uses(i))

	switch i.Op {
	case insn.OpIgetObject:
		uses = append(uses, Variable{Kind: VarInstanceField, Reg: int32(i.Regs[1]), Field: i.FieldValue})
	case insn.OpIputObject:
		defs = append(defs, Variable{Kind: VarInstanceField, Reg: int32(i.Regs[1]), Field: i.FieldValue})
	case insn.OpSgetObject:
		uses = append(uses, Variable{Kind: VarStaticField, Field: i.FieldValue})
	case insn.OpSputObject:
		defs = append(defs, Variable{Kind: VarStaticField, Field: i.FieldValue})
	}
	return defs, uses
}

// AddDataFlowEdges runs the field-path-aware reaching-definitions
// fixpoint and adds an EdgeDataFlow from u to v for every (u, variable) reaching v
// with u != v and variable among v's uses. returnDescriptor decides
// whether the pseudo-exit's use set includes the result register.
func AddDataFlowEdges(g *insngraph.Graph, returnDescriptor string) error {
	exitIdx := g.ExitIdx()

	defsByV := make(map[int][]Variable, g.NumVertices())
	usesByV := make(map[int][]Variable, g.NumVertices())
	var allUses, allNonRegDefs []Variable
	for v := 1; v < exitIdx; v++ {
		d, u := fieldPathDefsUses(g.Vertices[v].Insn)
		defsByV[v] = d
		usesByV[v] = u
		allUses = append(allUses, u...)
		for _, x := range d {
			if x.Kind != VarRegisterOnly {
				allNonRegDefs = append(allNonRegDefs, x)
			}
		}
	}

	// Special pre-processing: the pseudo-entry defines every variable
	// the method ever uses; the pseudo-exit uses every
	// non-register-only variable ever defined, plus the result register
	// for a non-void return.
	defsByV[insngraph.EntryIdx] = dedupVariables(allUses)
	exitUses := dedupVariables(allNonRegDefs)
	if len(returnDescriptor) > 0 && returnDescriptor[0] != 'V' {
		exitUses = append(exitUses, Variable{Kind: VarRegisterOnly, Reg: hdl.RegResult})
	}
	usesByV[exitIdx] = exitUses

	flow := func(v int, in []fpElem, out *[]fpElem) {
		defs := defsByV[v]
		if len(defs) == 0 {
			*out = append([]fpElem(nil), in...)
			return
		}
		killed := make(map[Variable]bool, len(defs))
		for _, d := range defs {
			killed[d] = true
		}
		next := make([]fpElem, 0, len(in)+len(defs))
		for _, e := range in {
			if !killed[e.v] {
				next = append(next, e)
			}
		}
		for _, d := range defs {
			next = append(next, fpElem{vertex: v, v: d})
		}
		*out = slicesx.UniqueSort(next, lessFpElem)
	}
	comb := func(a *[]fpElem, b []fpElem) {
		merged := append(append([]fpElem(nil), *a...), b...)
		*a = slicesx.UniqueSort(merged, lessFpElem)
	}

	res := dataflow.Solve[[]fpElem](g, nil, comb, flow, equalFpElemSet)

	for v := 0; v < g.NumVertices(); v++ {
		uses := usesByV[v]
		if len(uses) == 0 {
			continue
		}
		useSet := make(map[Variable]bool, len(uses))
		for _, u := range uses {
			useSet[u] = true
		}
		for _, e := range res.In[v] {
			if e.vertex == v {
				continue
			}
			if useSet[e.v] {
				g.AddEdge(insngraph.Edge{From: e.vertex, To: v, Kind: insngraph.EdgeDataFlow, Register: e.v.Reg})
			}
		}
	}
	return nil
}

func dedupVariables(vars []Variable) []Variable {
	less := func(a, b Variable) bool {
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Reg != b.Reg {
			return a.Reg < b.Reg
		}
		return a.Field.Less(b.Field)
	}
	return slicesx.UniqueSort(append([]Variable(nil), vars...), less)
}
