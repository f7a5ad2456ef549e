package pointsto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dexgraph/dexgraph/dexfile"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/insn"
	"github.com/dexgraph/dexgraph/insngraph"
	"github.com/dexgraph/dexgraph/vm"
)

func TestAllocPropagatesThroughAssignChain(t *testing.T) {
	e := New(vm.New(nil), nil)

	site := AllocSite{Vertex: 0}
	allocN := e.AllocNode(site, hdl.DexTypeHandle{}, false)
	a := e.RegNode(hdl.RegisterHandle{Reg: 0}, hdl.NoInsn)
	b := e.RegNode(hdl.RegisterHandle{Reg: 1}, hdl.NoInsn)
	c := e.RegNode(hdl.RegisterHandle{Reg: 2}, hdl.NoInsn)

	// alloc -> a -> b -> c, b->c added before a ever resolves anything so
	// the chain must be carried by in-set forwarding, not just pointsTo.
	e.AddEdge(b, c, EdgeAssign)
	e.AddEdge(allocN, a, EdgeAlloc)
	e.AddEdge(a, b, EdgeAssign)

	require.NoError(t, e.drainWorklist())

	cRoot := e.find(c)
	require.True(t, containsInt(e.Nodes[cRoot].pointsTo, e.find(allocN)),
		"c.pointsTo = %v, want it to contain alloc node %d", e.Nodes[cRoot].pointsTo, e.find(allocN))
}

func TestRegisterDerefMaterializesAllocField(t *testing.T) {
	e := New(vm.New(nil), nil)

	site := AllocSite{Vertex: 0}
	allocN := e.AllocNode(site, hdl.DexTypeHandle{}, false)
	obj := e.RegNode(hdl.RegisterHandle{Reg: 0}, hdl.NoInsn)
	e.AddEdge(allocN, obj, EdgeAlloc)

	field := hdl.DexFieldHandle{Idx: 7}
	val := e.RegNode(hdl.RegisterHandle{Reg: 1}, hdl.NoInsn)
	allocV := e.AllocNode(AllocSite{Vertex: 1}, hdl.DexTypeHandle{}, false)
	e.AddEdge(allocV, val, EdgeAlloc)

	// iput-object val, obj.field
	fPut := e.RegFieldNode(hdl.RegisterHandle{Reg: 0}, hdl.NoInsn, field)
	e.AddEdge(val, fPut, EdgeIStore)

	// iget-object dst, obj.field (a different alias register for field,
	// but the same underlying (reg 0, field) container)
	dst := e.RegNode(hdl.RegisterHandle{Reg: 2}, hdl.NoInsn)
	fGet := e.RegFieldNode(hdl.RegisterHandle{Reg: 0}, hdl.NoInsn, field)
	e.AddEdge(fGet, dst, EdgeILoad)

	require.NoError(t, e.drainWorklist())

	dstRoot := e.find(dst)
	require.True(t, containsInt(e.Nodes[dstRoot].pointsTo, e.find(allocV)),
		"dst.pointsTo = %v, want it to contain the value allocation %d (iput then iget on the same obj.field)",
		e.Nodes[dstRoot].pointsTo, e.find(allocV))
}

// classFixture builds a tiny three-class hierarchy (Object <- Foo <- Bar)
// over one fabricated dex file, registered directly into a fresh VM
// (classloader.FindClass short-circuits on the Jvm-handle map, so no real
// DEX bytes are needed).
type classFixture struct {
	v        *vm.VM
	loader   hdl.ClassLoaderHandle
	file     hdl.DexFileHandle
	objType  hdl.DexTypeHandle
	fooType  hdl.DexTypeHandle
	barType  hdl.DexTypeHandle
	objIdx   int
	fooIdx   int
	barIdx   int
}

func newClassFixture() *classFixture {
	v := vm.New(nil)
	loader := v.AddLoader("app")

	f := &dexfile.File{
		Strings: []string{"LObject;", "LFoo;", "LBar;", "V", "foo"},
		Types:   []uint32{0, 1, 2, 3},
		Protos:  []dexfile.ProtoID{{ReturnTypeIdx: 3}},
		Methods: []dexfile.MethodID{
			{ClassIdx: 1, ProtoIdx: 0, NameIdx: 4}, // Foo.foo()V
			{ClassIdx: 2, ProtoIdx: 0, NameIdx: 4}, // Bar.foo()V
		},
	}
	fileHdl := v.AddFile(loader, f)

	objType := hdl.DexTypeHandle{File: fileHdl, Idx: 0}
	fooType := hdl.DexTypeHandle{File: fileHdl, Idx: 1}
	barType := hdl.DexTypeHandle{File: fileHdl, Idx: 2}

	objJvm := hdl.JvmTypeHandle{Loader: loader, Descriptor: "LObject;"}
	fooJvm := hdl.JvmTypeHandle{Loader: loader, Descriptor: "LFoo;"}
	barJvm := hdl.JvmTypeHandle{Loader: loader, Descriptor: "LBar;"}

	objIdx := v.RegisterClass(&vm.ClassVertex{Dex: objType, Jvm: objJvm, SuperIdx: -1})
	fooIdx := v.RegisterClass(&vm.ClassVertex{Dex: fooType, Jvm: fooJvm, SuperIdx: objIdx})
	barIdx := v.RegisterClass(&vm.ClassVertex{Dex: barType, Jvm: barJvm, SuperIdx: fooIdx})

	return &classFixture{
		v: v, loader: loader, file: fileHdl,
		objType: objType, fooType: fooType, barType: barType,
		objIdx: objIdx, fooIdx: fooIdx, barIdx: barIdx,
	}
}

func TestMergeFilteredRejectsIncompatibleSubclass(t *testing.T) {
	fx := newClassFixture()
	e := New(fx.v, nil)

	dest := e.RegNode(hdl.RegisterHandle{Reg: 0}, hdl.NoInsn)
	destRoot := e.find(dest)
	e.Nodes[destRoot].DeclaredType = fx.fooType
	e.Nodes[destRoot].HasType = true

	objAlloc := e.AllocNode(AllocSite{Vertex: 0}, fx.objType, true) // not a Foo
	fooAlloc := e.AllocNode(AllocSite{Vertex: 1}, fx.fooType, true) // exactly Foo

	fresh := e.mergeFiltered(destRoot, []int{objAlloc, fooAlloc})

	require.False(t, containsInt(fresh, e.find(objAlloc)), "fresh = %v, want it to exclude the incompatible Object allocation", fresh)
	require.True(t, containsInt(fresh, e.find(fooAlloc)), "fresh = %v, want it to include the compatible Foo allocation", fresh)
}

func TestVtableLookupByNamePrefersOverride(t *testing.T) {
	fx := newClassFixture()
	e := New(fx.v, nil)

	fooMethodDex := hdl.DexMethodHandle{File: fx.file, Idx: 0}
	fooMethodJvm := hdl.JvmMethodHandle{Type: fx.v.Classes[fx.fooIdx].Jvm, UniqueName: "foo()V"}
	fooMethodIdx := fx.v.RegisterMethod(&vm.MethodVertex{Dex: fooMethodDex, Jvm: fooMethodJvm, DeclaringClass: fx.fooIdx, ReturnDesc: "V"})

	barMethodDex := hdl.DexMethodHandle{File: fx.file, Idx: 1}
	barMethodJvm := hdl.JvmMethodHandle{Type: fx.v.Classes[fx.barIdx].Jvm, UniqueName: "foo()V"}
	barMethodIdx := fx.v.RegisterMethod(&vm.MethodVertex{Dex: barMethodDex, Jvm: barMethodJvm, DeclaringClass: fx.barIdx, ReturnDesc: "V"})

	fx.v.Classes[fx.fooIdx].Vtable = []hdl.DexMethodHandle{fooMethodDex}
	fx.v.Classes[fx.barIdx].Vtable = []hdl.DexMethodHandle{barMethodDex}
	fx.v.Overrides = []vm.Override{{Super: fooMethodIdx, Sub: barMethodIdx}}

	got, ok := e.vtableLookupByName(fx.barIdx, "foo()V")
	require.True(t, ok)
	require.Equal(t, barMethodIdx, got)

	got, ok = e.vtableLookupByName(fx.fooIdx, "foo()V")
	require.True(t, ok)
	require.Equal(t, fooMethodIdx, got)
}

func TestResolveOnTheFlyDispatchesToOverride(t *testing.T) {
	fx := newClassFixture()

	fooMethodDex := hdl.DexMethodHandle{File: fx.file, Idx: 0}
	fooMethodJvm := hdl.JvmMethodHandle{Type: fx.v.Classes[fx.fooIdx].Jvm, UniqueName: "foo()V"}
	fooMethodIdx := fx.v.RegisterMethod(&vm.MethodVertex{Dex: fooMethodDex, Jvm: fooMethodJvm, DeclaringClass: fx.fooIdx, ReturnDesc: "V"})

	barMethodDex := hdl.DexMethodHandle{File: fx.file, Idx: 1}
	barMethodJvm := hdl.JvmMethodHandle{Type: fx.v.Classes[fx.barIdx].Jvm, UniqueName: "foo()V"}
	barMethodIdx := fx.v.RegisterMethod(&vm.MethodVertex{Dex: barMethodDex, Jvm: barMethodJvm, DeclaringClass: fx.barIdx, ReturnDesc: "V"})

	fx.v.Classes[fx.fooIdx].Vtable = []hdl.DexMethodHandle{fooMethodDex}
	fx.v.Classes[fx.barIdx].Vtable = []hdl.DexMethodHandle{barMethodDex}
	fx.v.Overrides = []vm.Override{{Super: fooMethodIdx, Sub: barMethodIdx}}

	callerDex := hdl.DexMethodHandle{File: fx.file, Idx: 2}
	g := insngraph.New(callerDex)

	var entry insn.Insn
	entry.Op = insn.OpEntry
	entry.IsRange = true
	entry.Regs[0], entry.Regs[1] = 0, 0
	g.AddVertex(insngraph.Vertex{Insn: entry, Line: -1})

	invoke := insn.NewSimple(insn.OpInvokeVirtual, 0)
	invoke.MethodValue = fooMethodDex
	g.AddVertex(insngraph.Vertex{Insn: invoke, Offset: 0, Line: -1})

	var exit insn.Insn
	exit.Op = insn.OpExit
	g.AddVertex(insngraph.Vertex{Insn: exit, Line: -1})

	callerJvm := hdl.JvmMethodHandle{Type: fx.v.Classes[fx.objIdx].Jvm, UniqueName: "caller()V"}
	callerIdx := fx.v.RegisterMethod(&vm.MethodVertex{Dex: callerDex, Jvm: callerJvm, DeclaringClass: fx.objIdx, ReturnDesc: "V", Graph: g})

	e := New(fx.v, &Options{OnTheFly: true})
	require.NoError(t, e.walkMethod(callerIdx, hdl.NoInsn))

	receiver := e.RegNode(hdl.RegisterHandle{Method: callerDex, Reg: 0}, hdl.NoInsn)
	barAlloc := e.AllocNode(AllocSite{Method: callerDex, Vertex: 0}, fx.barType, true)
	e.AddEdge(barAlloc, receiver, EdgeAlloc)

	require.NoError(t, e.drainWorklist())

	var dispatched bool
	for _, edge := range e.CallGraph {
		if edge.CalleeMethod == barMethodDex && edge.Virtual {
			dispatched = true
		}
		require.NotEqual(t, fooMethodDex, edge.CalleeMethod,
			"on-the-fly mode bound the call to the statically declared target Foo.foo, want the receiver's runtime override Bar.foo")
	}
	require.True(t, dispatched, "CallGraph = %+v, want an edge dispatched to Bar.foo()V", e.CallGraph)
}

func TestBindCallWiresReceiverParamsAndReturn(t *testing.T) {
	fx := newClassFixture()
	e := New(fx.v, nil)

	callerDex := hdl.DexMethodHandle{File: fx.file, Idx: 3}
	calleeDex := hdl.DexMethodHandle{File: fx.file, Idx: 4}

	callerG := insngraph.New(callerDex)
	var callerEntry insn.Insn
	callerEntry.Op = insn.OpEntry
	callerG.AddVertex(insngraph.Vertex{Insn: callerEntry, Line: -1})
	// invoke-virtual {v10, v11, v12, v13}: receiver, a wide (J) pair, a Foo ref.
	callInsn := insn.NewSimple(insn.OpInvokeVirtual, 10, 11, 12, 13)
	callerG.AddVertex(insngraph.Vertex{Insn: callInsn, Offset: 0, Line: -1})

	calleeG := insngraph.New(calleeDex)
	var calleeEntry insn.Insn
	calleeEntry.Op = insn.OpEntry
	calleeEntry.IsRange = true
	calleeEntry.Regs[0], calleeEntry.Regs[1] = 0, 3 // this, wideLo, wideHi, fooArg
	calleeG.AddVertex(insngraph.Vertex{Insn: calleeEntry, Line: -1})

	callerMV := &vm.MethodVertex{Dex: callerDex, Graph: callerG, ReturnDesc: "V"}
	callerIdx := fx.v.RegisterMethod(callerMV)

	calleeMV := &vm.MethodVertex{
		Dex: calleeDex, Graph: calleeG, AccessFlags: 0,
		ParamDescs: []string{"J", "LFoo;"}, ReturnDesc: "LFoo;",
	}
	calleeIdx := fx.v.RegisterMethod(calleeMV)

	require.NoError(t, e.bindCall(callerIdx, 1, calleeIdx, hdl.NoInsn, true))

	require.Len(t, e.CallGraph, 1)
	require.Equal(t, calleeDex, e.CallGraph[0].CalleeMethod)

	wantEdge := func(fromReg, toReg int32, fromM, toM hdl.DexMethodHandle, toCtx hdl.DexInsnHandle) bool {
		from := e.find(e.RegNode(hdl.RegisterHandle{Method: fromM, Reg: fromReg}, hdl.NoInsn))
		to := e.find(e.RegNode(hdl.RegisterHandle{Method: toM, Reg: toReg}, toCtx))
		for _, edge := range e.Edges {
			if e.find(edge.From) == from && e.find(edge.To) == to && edge.Kind == EdgeAssign {
				return true
			}
		}
		return false
	}

	require.True(t, wantEdge(10, 0, callerDex, calleeDex, hdl.NoInsn), "missing receiver wiring caller v10 -> callee this (v0)")
	require.True(t, wantEdge(13, 3, callerDex, calleeDex, hdl.NoInsn), "missing reference-parameter wiring caller v13 -> callee v3")

	retFrom := e.find(e.RegNode(hdl.RegisterHandle{Method: calleeDex, Reg: hdl.RegResult}, hdl.NoInsn))
	retTo := e.find(e.RegNode(hdl.RegisterHandle{Method: callerDex, Reg: hdl.RegResult}, hdl.NoInsn))
	var foundReturn bool
	for _, edge := range e.Edges {
		if e.find(edge.From) == retFrom && e.find(edge.To) == retTo && edge.Kind == EdgeAssign {
			foundReturn = true
		}
	}
	require.True(t, foundReturn, "missing return-value wiring callee RegResult -> caller RegResult")
}
