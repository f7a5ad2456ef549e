// Package pointsto implements the Andersen-style points-to engine and its
// on-the-fly call graph: a Pointer Assignment Graph (PAG) over seven
// tagged node kinds, built and solved in two interleaved phases.
//
// Context sensitivity is modeled with hdl.DexInsnHandle (the call-site
// context) as a first-class field on every register-rooted node, but
// this engine's phase A only ever instantiates the context-insensitive
// context hdl.NoInsn: full call-string sensitivity would require
// re-walking every caller's instructions once per distinct context,
// which this module's worklist does not attempt. The node and edge model
// stays context-parametric so a future caller can supply real contexts
// without changing the node/edge vocabulary.
package pointsto

import "github.com/dexgraph/dexgraph/hdl"

// NodeKind tags a PAG vertex's variant.
type NodeKind int

const (
	NodeReg NodeKind = iota
	NodeAlloc
	NodeRegField
	NodeAllocField
	NodeStaticField
	NodeRegArray
	NodeAllocArray
)

func (k NodeKind) String() string {
	switch k {
	case NodeReg:
		return "reg"
	case NodeAlloc:
		return "alloc"
	case NodeRegField:
		return "reg.field"
	case NodeAllocField:
		return "alloc.field"
	case NodeStaticField:
		return "static_field"
	case NodeRegArray:
		return "reg.array"
	case NodeAllocArray:
		return "alloc.array"
	default:
		return "unknown"
	}
}

// AllocSite identifies one allocation-site instruction: the method it
// lives in and its vertex index within that method's insngraph.Graph.
type AllocSite struct {
	Method hdl.DexMethodHandle
	Vertex int
}

// InvokeRecord is one virtual-invoke call site queued on a register node
// for on-the-fly resolution: phase A records the current context and
// invoke site on the receiver's PAG vertex.
type InvokeRecord struct {
	Context      hdl.DexInsnHandle
	CallerMethod hdl.DexMethodHandle
	CallVertex   int
}

// Node is one PAG vertex. Only the fields relevant to Kind are
// meaningful, the same tagged-union discipline insngraph.Edge uses.
type Node struct {
	Kind NodeKind

	// NodeReg / NodeRegField / NodeRegArray
	Reg     hdl.RegisterHandle
	Context hdl.DexInsnHandle

	// NodeAlloc / NodeAllocField / NodeAllocArray
	Alloc AllocSite

	// NodeRegField / NodeAllocField / NodeStaticField
	Field hdl.DexFieldHandle

	// DeclaredType optionally narrows a reg node (check_cast) or names
	// the allocated type of an alloc node (new_instance/new_array,
	// defaulting to java.lang.Object for new_array).
	DeclaredType hdl.DexTypeHandle
	HasType      bool

	parent int // union-find parent; a root node points to itself

	inSet     []int        // pending alloc-node indices awaiting propagation
	pointsTo  []int        // alloc-node indices already propagated into this node
	outAssign []int        // nodes this one forwards its points-to set into (assign/sstore/sload)
	derefs    []derefEdge  // reg.field/reg.array placeholders dereferencing this node
	invokes   []InvokeRecord
}

// derefEdge records one istore/iload/astore/aload placeholder hung off
// the register node it dereferences, resolved at phase-B time once that
// register's points-to set is known.
type derefEdge struct {
	Placeholder int // the reg.field/reg.array node index carrying the value-side edge
	Kind        EdgeKind
}

// key identifies a node for the per-kind lookup multimap: two nodes with
// the same kind/reg/alloc/field/context describe the same PAG vertex.
type key struct {
	Kind    NodeKind
	Reg     hdl.RegisterHandle
	Context hdl.DexInsnHandle
	Alloc   AllocSite
	Field   hdl.DexFieldHandle
}

func (n *Node) key() key {
	return key{Kind: n.Kind, Reg: n.Reg, Context: n.Context, Alloc: n.Alloc, Field: n.Field}
}

// EdgeKind tags a PAG edge's meaning.
type EdgeKind int

const (
	EdgeAlloc EdgeKind = iota
	EdgeAssign
	EdgeIStore
	EdgeILoad
	EdgeSStore
	EdgeSLoad
	EdgeAStore
	EdgeALoad
)

// Edge is one PAG edge.
type Edge struct {
	From, To int
	Kind     EdgeKind
}
