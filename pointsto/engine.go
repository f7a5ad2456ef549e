package pointsto

import (
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/logx"
	"github.com/dexgraph/dexgraph/vm"
)

// Options configures an Engine, the pointsto analogue of vm.Options.
type Options struct {
	// Logger overrides the default filtered-stdout logger.
	Logger logx.Logger

	// OnTheFly selects on-the-fly virtual dispatch during phase B instead
	// of the cheaper CHA builder (analysis.BuildCHACallGraph).
	OnTheFly bool

	// MaxWorklistIterations bounds phase B; zero means unbounded.
	MaxWorklistIterations int
}

// ContextualCallEdge is one caller@context -> callee edge of the
// contextual call graph.
type ContextualCallEdge struct {
	CallerMethod hdl.DexMethodHandle
	Context      hdl.DexInsnHandle
	CalleeMethod hdl.DexMethodHandle
	Virtual      bool
	CallerVertex int
}

// Engine owns the PAG, its lookup tables, the phase-B worklist, and the
// contextual call graph populated as a side effect of both phases.
type Engine struct {
	VM   *vm.VM
	Opts Options
	log  *logx.Helper

	Nodes []*Node
	Edges []Edge

	CallGraph []ContextualCallEdge

	lookup      map[key]int
	worklist    []int
	inWorklist  map[int]bool
	visited     map[methodContext]bool // phase-A "already walked" guard
	clinitQueue []int                  // method indices queued for phase-A walking

	// rewired dedups the alloc.field/alloc.array materialization edges
	// phase B step 3 adds, keyed by (placeholder, concrete node): without
	// it, the same placeholder would be rewired once per freshly
	// discovered alloc rather than once per (placeholder, alloc) pair.
	rewired map[[2]int]bool
}

type methodContext struct {
	Method  hdl.DexMethodHandle
	Context hdl.DexInsnHandle
}

// New builds an empty engine over v.
func New(v *vm.VM, opts *Options) *Engine {
	e := &Engine{
		VM:         v,
		lookup:     make(map[key]int),
		inWorklist: make(map[int]bool),
		visited:    make(map[methodContext]bool),
		rewired:    make(map[[2]int]bool),
	}
	if opts != nil {
		e.Opts = *opts
	}
	if e.Opts.Logger != nil {
		e.log = logx.NewHelper(e.Opts.Logger)
	} else {
		e.log = logx.Default()
	}
	return e
}

// Log returns the engine's diagnostic logger.
func (e *Engine) Log() *logx.Helper { return e.log }

// getOrCreate returns the existing node matching n's key, or appends n
// and returns its fresh index. The lookup key's extra context field
// picks the unique vertex matching both the structural key and context.
func (e *Engine) getOrCreate(n Node) int {
	k := n.key()
	if idx, ok := e.lookup[k]; ok {
		return idx
	}
	idx := len(e.Nodes)
	n.parent = idx
	node := n
	e.Nodes = append(e.Nodes, &node)
	e.lookup[k] = idx
	return idx
}

// find resolves v's union-find root, path-compressing along the way.
func (e *Engine) find(v int) int {
	for e.Nodes[v].parent != v {
		e.Nodes[v].parent = e.Nodes[e.Nodes[v].parent].parent
		v = e.Nodes[v].parent
	}
	return v
}

// RegNode returns (creating if needed) the reg node for (reg, context).
func (e *Engine) RegNode(reg hdl.RegisterHandle, context hdl.DexInsnHandle) int {
	return e.getOrCreate(Node{Kind: NodeReg, Reg: reg, Context: context})
}

// AllocNode returns (creating if needed) the alloc node for site,
// optionally carrying a declared type.
func (e *Engine) AllocNode(site AllocSite, declaredType hdl.DexTypeHandle, hasType bool) int {
	return e.getOrCreate(Node{Kind: NodeAlloc, Alloc: site, DeclaredType: declaredType, HasType: hasType})
}

// RegFieldNode returns (creating if needed) the reg.field node dereferencing
// reg's pointee through field, under context.
func (e *Engine) RegFieldNode(reg hdl.RegisterHandle, context hdl.DexInsnHandle, field hdl.DexFieldHandle) int {
	return e.getOrCreate(Node{Kind: NodeRegField, Reg: reg, Context: context, Field: field})
}

// AllocFieldNode returns (creating if needed) the alloc.field node for
// site's field.
func (e *Engine) AllocFieldNode(site AllocSite, field hdl.DexFieldHandle) int {
	return e.getOrCreate(Node{Kind: NodeAllocField, Alloc: site, Field: field})
}

// StaticFieldNode returns (creating if needed) the static_field node for
// field.
func (e *Engine) StaticFieldNode(field hdl.DexFieldHandle) int {
	return e.getOrCreate(Node{Kind: NodeStaticField, Field: field})
}

// RegArrayNode returns (creating if needed) the reg.array node for reg
// under context.
func (e *Engine) RegArrayNode(reg hdl.RegisterHandle, context hdl.DexInsnHandle) int {
	return e.getOrCreate(Node{Kind: NodeRegArray, Reg: reg, Context: context})
}

// AllocArrayNode returns (creating if needed) the alloc.array node for
// site.
func (e *Engine) AllocArrayNode(site AllocSite) int {
	return e.getOrCreate(Node{Kind: NodeAllocArray, Alloc: site})
}

// AddEdge records a PAG edge and, for alloc/assign/sstore/sload kinds,
// seeds the worklist. istore/iload/astore/aload edges instead register a
// dereference relationship resolved later by phase B.
func (e *Engine) AddEdge(from, to int, kind EdgeKind) {
	e.Edges = append(e.Edges, Edge{From: from, To: to, Kind: kind})
	switch kind {
	case EdgeAlloc:
		// from is itself a NodeAlloc vertex: the allocation flows
		// directly into to's in-set rather than through from's own
		// (always-empty) points-to set.
		toRoot := e.find(to)
		e.Nodes[toRoot].inSet = append(e.Nodes[toRoot].inSet, e.find(from))
		e.enqueue(toRoot)
	case EdgeAssign, EdgeSStore, EdgeSLoad:
		fromRoot, toRoot := e.find(from), e.find(to)
		e.Nodes[fromRoot].outAssign = append(e.Nodes[fromRoot].outAssign, toRoot)
		e.propagateAllocEdge(fromRoot, toRoot)
	case EdgeIStore, EdgeILoad, EdgeAStore, EdgeALoad:
		e.registerDeref(from, to, kind)
	}
}

// registerDeref hangs a reg.field/reg.array placeholder off the register
// node it dereferences: istore/astore read the container from the
// placeholder's destination, iload/aload from its
// source, since in both cases the placeholder is keyed by the same
// (reg, context[, field]) as the container register node.
func (e *Engine) registerDeref(from, to int, kind EdgeKind) {
	var placeholder int
	switch kind {
	case EdgeIStore, EdgeAStore:
		placeholder = to
	default: // EdgeILoad, EdgeALoad
		placeholder = from
	}
	p := e.Nodes[e.find(placeholder)]
	containerRoot := e.find(e.RegNode(p.Reg, p.Context))
	container := e.Nodes[containerRoot]
	container.derefs = append(container.derefs, derefEdge{Placeholder: placeholder, Kind: kind})
	if len(container.pointsTo) > 0 {
		// A deref registered after the container already resolved some
		// allocations: re-seed those so phase B's drain loop revisits
		// them against the new placeholder.
		container.inSet = append(container.inSet, container.pointsTo...)
	}
	e.enqueue(containerRoot)
}

// propagateAllocEdge pushes from's already-known points-to set (plus its
// pending in-set) incrementally into to's in-set and enqueues to.
func (e *Engine) propagateAllocEdge(from, to int) {
	fromRoot := e.find(from)
	toRoot := e.find(to)
	if fromRoot == toRoot {
		return
	}
	pending := append(append([]int(nil), e.Nodes[fromRoot].pointsTo...), e.Nodes[fromRoot].inSet...)
	if len(pending) == 0 {
		return
	}
	e.Nodes[toRoot].inSet = append(e.Nodes[toRoot].inSet, pending...)
	e.enqueue(toRoot)
}

func (e *Engine) enqueue(v int) {
	if !e.inWorklist[v] {
		e.inWorklist[v] = true
		e.worklist = append(e.worklist, v)
	}
}
