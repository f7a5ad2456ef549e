package dot

import (
	"strings"
	"testing"

	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/insn"
	"github.com/dexgraph/dexgraph/insngraph"
	"github.com/dexgraph/dexgraph/pointsto"
	"github.com/dexgraph/dexgraph/vm"
)

func TestWriteClassGraphEmitsExtendsAndImplementsEdges(t *testing.T) {
	v := vm.New(nil)
	loader := v.AddLoader("app")
	fileHdl := hdl.DexFileHandle{Loader: loader, Idx: 0}

	objIdx := v.RegisterClass(&vm.ClassVertex{
		Dex: hdl.DexTypeHandle{File: fileHdl, Idx: 0},
		Jvm: hdl.JvmTypeHandle{Loader: loader, Descriptor: "Ljava/lang/Object;"},
		SuperIdx: -1,
	})
	ifaceIdx := v.RegisterClass(&vm.ClassVertex{
		Dex: hdl.DexTypeHandle{File: fileHdl, Idx: 1},
		Jvm: hdl.JvmTypeHandle{Loader: loader, Descriptor: "LRunnable;"},
		SuperIdx: -1,
	})
	v.RegisterClass(&vm.ClassVertex{
		Dex: hdl.DexTypeHandle{File: fileHdl, Idx: 2},
		Jvm: hdl.JvmTypeHandle{Loader: loader, Descriptor: "LFoo;"},
		SuperIdx:     objIdx,
		InterfaceIdx: []int{ifaceIdx},
	})

	var out strings.Builder
	if err := WriteClassGraph(&out, v); err != nil {
		t.Fatalf("WriteClassGraph: %v", err)
	}
	text := out.String()

	for _, want := range []string{"digraph classes", "c2\" -> \"c0\"", "c2\" -> \"c1\"", "rankdir=LR"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestWriteInsnGraphSkipsCallGraphEdges(t *testing.T) {
	g := insngraph.New(hdl.DexMethodHandle{})

	var entry insn.Insn
	entry.Op = insn.OpEntry
	g.AddVertex(insngraph.Vertex{Insn: entry, Line: -1})

	var invoke insn.Insn
	invoke.Op = insn.OpInvokeVirtual
	g.AddVertex(insngraph.Vertex{Insn: invoke, Offset: 2, Line: -1, Counter: 9})

	var exit insn.Insn
	exit.Op = insn.OpExit
	g.AddVertex(insngraph.Vertex{Insn: exit, Line: -1})

	g.Edges = append(g.Edges,
		insngraph.Edge{From: 0, To: 1, Kind: insngraph.EdgeControlFlow, Branch: insngraph.BranchFallthrough},
		insngraph.Edge{From: 1, To: 2, Kind: insngraph.EdgeControlFlow, Branch: insngraph.BranchFallthrough},
		insngraph.Edge{From: 1, To: 99, Kind: insngraph.EdgeCallGraph, CallTarget: 7},
	)

	var out strings.Builder
	if err := WriteInsnGraph(&out, g); err != nil {
		t.Fatalf("WriteInsnGraph: %v", err)
	}
	text := out.String()

	if strings.Contains(text, `"v1" -> "v99"`) {
		t.Errorf("call-graph edge leaked into instruction-graph dot output:\n%s", text)
	}
	if !strings.Contains(text, `"v0" -> "v1"`) || !strings.Contains(text, `"v1" -> "v2"`) {
		t.Errorf("missing expected control-flow edges:\n%s", text)
	}
	if !strings.Contains(text, "hits=9") {
		t.Errorf("expected profile counter in label:\n%s", text)
	}
}

func TestWritePAGLabelsAllocAndRegNodes(t *testing.T) {
	e := pointsto.New(vm.New(nil), nil)
	allocSite := pointsto.AllocSite{Method: hdl.DexMethodHandle{}, Vertex: 3}
	reg := hdl.RegisterHandle{Reg: 1}

	regIdx := e.RegNode(reg, hdl.NoInsn)
	allocIdx := e.AllocNode(allocSite, hdl.DexTypeHandle{}, false)
	e.AddEdge(allocIdx, regIdx, pointsto.EdgeAssign)

	var out strings.Builder
	if err := WritePAG(&out, e); err != nil {
		t.Fatalf("WritePAG: %v", err)
	}
	text := out.String()

	if !strings.Contains(text, "digraph pag") {
		t.Errorf("missing graph header:\n%s", text)
	}
	if !strings.Contains(text, "shape=box") {
		t.Errorf("expected alloc node to render as a box:\n%s", text)
	}
}
