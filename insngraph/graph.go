// Package insngraph builds and holds the per-method instruction graph: a
// pseudo-entry/pseudo-exit-bounded control-flow graph over a method's
// decoded instructions, with exception-handler metadata and an
// instruction-offset lookup.
//
// Edge kinds are a tagged union stored in one slice: dataflow,
// call-graph, and points-to passes all add their own edge kind to the
// same graph rather than building a parallel structure, and EdgesOfKind
// gives each pass a filtered view without copying the vertex set.
package insngraph

import (
	"sort"

	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/insn"
)

// Vertex indices: 0 is always the pseudo-entry; the last index is always
// the pseudo-exit. A method with no real instructions has only those
// two vertices.
const (
	EntryIdx = 0
)

// Vertex is one instruction-graph vertex.
type Vertex struct {
	Insn    insn.Insn
	Offset  uint32 // offset in 16-bit code units; meaningless for entry/exit
	Line    int32  // -1 if unknown
	Counter uint64 // profiler hit counter
}

// EdgeKind tags an Edge's meaning within the single heterogeneous edge
// store.
type EdgeKind int

const (
	EdgeControlFlow EdgeKind = iota
	EdgeException
	EdgeDefUse
	EdgeDataFlow
	EdgeCallGraph
	EdgeVirtualOverride
)

// BranchCond tags a control-flow edge's condition.
type BranchCond int

const (
	BranchFallthrough BranchCond = iota
	BranchTaken                  // boolean "taken" edge of a conditional
	BranchSwitchKey               // packed/sparse switch case
)

// Edge is one heterogeneous graph edge. Only the fields relevant to Kind
// are meaningful.
type Edge struct {
	From, To int
	Kind     EdgeKind

	// EdgeControlFlow
	Branch    BranchCond
	SwitchKey int32

	// EdgeException
	CatchType  hdl.DexTypeHandle
	IsCatchAll bool

	// EdgeDefUse / EdgeDataFlow
	Register int32

	// EdgeCallGraph. A call-graph edge crosses method graphs, so To is
	// not a vertex index into this graph; CallTarget is the target
	// method's index into vm.VM.Methods instead.
	Virtual          bool
	CallerInsnVertex int
	CallTarget       int
}

// TryCatchBlock is one parsed try/catch region.
type TryCatchBlock struct {
	First, Last int // vertex indices, inclusive
	// Handlers maps a caught exception type to the handler vertex.
	Handlers map[hdl.DexTypeHandle]int
	// CatchAll is the catch-all handler vertex, or -1 if none.
	CatchAll int
}

// Graph is one method's instruction graph.
type Graph struct {
	Method hdl.DexMethodHandle

	Vertices []Vertex
	Edges    []Edge

	TryCatchBlocks []TryCatchBlock

	kindIndex   map[EdgeKind][]int
	outIdx      map[int][]int // vertex -> edge indices leaving it
	inIdx       map[int][]int // vertex -> edge indices entering it
	offsetOrder []int         // vertex indices (excluding entry/exit), sorted by Offset
}

// New builds an empty graph for method.
func New(method hdl.DexMethodHandle) *Graph {
	return &Graph{
		Method:    method,
		kindIndex: make(map[EdgeKind][]int),
		outIdx:    make(map[int][]int),
		inIdx:     make(map[int][]int),
	}
}

// ExitIdx returns the pseudo-exit vertex index (the last vertex).
func (g *Graph) ExitIdx() int { return len(g.Vertices) - 1 }

// NumVertices satisfies dataflow.CFG.
func (g *Graph) NumVertices() int { return len(g.Vertices) }

// AddVertex appends v and returns its index.
func (g *Graph) AddVertex(v Vertex) int {
	g.Vertices = append(g.Vertices, v)
	return len(g.Vertices) - 1
}

// AddEdge appends e to the shared edge store and updates the adjacency
// and kind indices.
func (g *Graph) AddEdge(e Edge) int {
	idx := len(g.Edges)
	g.Edges = append(g.Edges, e)
	g.kindIndex[e.Kind] = append(g.kindIndex[e.Kind], idx)
	g.outIdx[e.From] = append(g.outIdx[e.From], idx)
	g.inIdx[e.To] = append(g.inIdx[e.To], idx)
	return idx
}

// EdgesOfKind returns a filtered copy of the edges of the given kind.
// Cheap: it walks a pre-built index of edge positions rather than
// rescanning the whole edge store.
func (g *Graph) EdgesOfKind(kind EdgeKind) []Edge {
	idxs := g.kindIndex[kind]
	out := make([]Edge, len(idxs))
	for i, idx := range idxs {
		out[i] = g.Edges[idx]
	}
	return out
}

// HasOutEdgeOfKind reports whether any edge out of v has the given kind
// (used by analysis.AddCallGraphEdges's idempotence check).
func (g *Graph) HasOutEdgeOfKind(v int, kind EdgeKind) bool {
	for _, idx := range g.outIdx[v] {
		if g.Edges[idx].Kind == kind {
			return true
		}
	}
	return false
}

// OutEdges returns the edges leaving v, optionally restricted to the
// given kinds (all kinds if none given).
func (g *Graph) OutEdges(v int, kinds ...EdgeKind) []Edge {
	return g.filterEdges(g.outIdx[v], kinds)
}

// InEdges returns the edges entering v, optionally restricted to the
// given kinds (all kinds if none given).
func (g *Graph) InEdges(v int, kinds ...EdgeKind) []Edge {
	return g.filterEdges(g.inIdx[v], kinds)
}

func (g *Graph) filterEdges(idxs []int, kinds []EdgeKind) []Edge {
	if len(kinds) == 0 {
		out := make([]Edge, len(idxs))
		for i, idx := range idxs {
			out[i] = g.Edges[idx]
		}
		return out
	}
	allowed := make(map[EdgeKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	var out []Edge
	for _, idx := range idxs {
		if e := g.Edges[idx]; allowed[e.Kind] {
			out = append(out, e)
		}
	}
	return out
}

// Successors returns the distinct vertex indices reachable via a direct
// control-flow or exception edge from v -- the CFG the dataflow solver
// walks.
func (g *Graph) Successors(v int) []int {
	return g.neighbors(g.OutEdges(v, EdgeControlFlow, EdgeException), func(e Edge) int { return e.To })
}

// Predecessors is the reverse of Successors.
func (g *Graph) Predecessors(v int) []int {
	return g.neighbors(g.InEdges(v, EdgeControlFlow, EdgeException), func(e Edge) int { return e.From })
}

func (g *Graph) neighbors(edges []Edge, pick func(Edge) int) []int {
	seen := make(map[int]bool, len(edges))
	var out []int
	for _, e := range edges {
		n := pick(e)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// FinalizeOffsetIndex sorts the (non-entry, non-exit) vertices by Offset
// for FindByOffset's binary search. Build calls this once after decoding.
func (g *Graph) FinalizeOffsetIndex() {
	g.offsetOrder = g.offsetOrder[:0]
	for i := 1; i < g.ExitIdx(); i++ {
		g.offsetOrder = append(g.offsetOrder, i)
	}
	sort.Slice(g.offsetOrder, func(i, j int) bool {
		return g.Vertices[g.offsetOrder[i]].Offset < g.Vertices[g.offsetOrder[j]].Offset
	})
}

// FindByOffset looks up the vertex at the given code-unit offset via
// binary search, excluding the pseudo-entry/exit vertices.
func (g *Graph) FindByOffset(offset uint32) (int, bool) {
	order := g.offsetOrder
	i := sort.Search(len(order), func(i int) bool {
		return g.Vertices[order[i]].Offset >= offset
	})
	if i < len(order) && g.Vertices[order[i]].Offset == offset {
		return order[i], true
	}
	return 0, false
}

// IsBasicBlockHead reports whether v is a basic-block head: any
// predecessor is an if, if-z, switch, or pseudo-entry.
func (g *Graph) IsBasicBlockHead(v int) bool {
	if v == EntryIdx {
		return true
	}
	for _, p := range g.Predecessors(v) {
		if p == EntryIdx {
			return true
		}
		op := g.Vertices[p].Insn.Op
		switch op {
		case insn.OpIfEq, insn.OpIfEqz, insn.OpPackedSwitch, insn.OpSparseSwitch:
			return true
		}
	}
	return false
}
