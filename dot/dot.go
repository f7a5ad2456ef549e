// Package dot renders the core's graphs as Graphviz DOT text: the class
// graph, one method's instruction graph, and a points-to engine's PAG.
// It is an external-collaborator-only consumer: it reads the public
// handle/iteration surface of vm, insngraph, and pointsto and never
// reaches into their unexported state.
//
// Node and edge styling follows the pastel19 record-shape convention of
// jitana's graphviz.hpp (ported, not translated: DOT generation here
// goes through gographviz's builder rather than hand-assembled
// boost::write_graphviz strings). The exact attribute strings carry no
// other significance beyond making the rendered graph legible.
package dot

import (
	"fmt"
	"io"
	"strings"

	"github.com/awalterschulze/gographviz"

	"github.com/dexgraph/dexgraph/insn"
	"github.com/dexgraph/dexgraph/insngraph"
	"github.com/dexgraph/dexgraph/pointsto"
	"github.com/dexgraph/dexgraph/vm"
)

// pastelFill reproduces graphviz.hpp's "(9 + n - 3) % 9 + 1" fillcolor
// rotation over the pastel19 colorscheme, keyed by loader index so
// classes/methods from the same loader share a color band.
func pastelFill(n int) int {
	return (9+n-3)%9 + 1
}

func quoteLabel(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return `"` + s + `"`
}

func recordAttrs(label string, loaderIdx int) map[string]string {
	return map[string]string{
		"label":       quoteLabel(label),
		"shape":       "record",
		"style":       "filled",
		"colorscheme": "pastel19",
		"fillcolor":   fmt.Sprint(pastelFill(loaderIdx)),
	}
}

func newGraph(name string, rankdir string) (*gographviz.Graph, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(name); err != nil {
		return nil, err
	}
	if err := g.SetDir(true); err != nil {
		return nil, err
	}
	if err := g.AddAttr(name, "rankdir", rankdir); err != nil {
		return nil, err
	}
	return g, nil
}

// WriteClassGraph renders every loaded class and its extends/implements
// edges, mirroring graphviz.hpp's write_graphviz_class_graph.
func WriteClassGraph(w io.Writer, v *vm.VM) error {
	g, err := newGraph("classes", "LR")
	if err != nil {
		return err
	}

	name := func(idx int) string { return fmt.Sprintf("c%d", idx) }

	for idx, c := range v.Classes {
		label := fmt.Sprintf("%s | acc=0x%x | %s", c.Dex, c.AccessFlags, c.Jvm.Descriptor)
		attrs := recordAttrs(label, int(c.Dex.File.Loader.Idx))
		if err := g.AddNode("classes", name(idx), attrs); err != nil {
			return err
		}
	}
	for idx, c := range v.Classes {
		if c.SuperIdx >= 0 {
			if err := g.AddEdge(name(idx), name(c.SuperIdx), true, map[string]string{"label": `"extends"`}); err != nil {
				return err
			}
		}
		for _, ifaceIdx := range c.InterfaceIdx {
			if err := g.AddEdge(name(idx), name(ifaceIdx), true, map[string]string{"label": `"implements"`, "style": "dashed"}); err != nil {
				return err
			}
		}
	}

	_, err = io.WriteString(w, g.String())
	return err
}

// WriteInsnGraph renders one method's instruction graph: control-flow
// and exception edges solid/dashed, def-use and data-flow edges colored
// per kind, mirroring graphviz.hpp's write_graphviz_method_graph.
func WriteInsnGraph(w io.Writer, g *insngraph.Graph) error {
	dg, err := newGraph("method", "TB")
	if err != nil {
		return err
	}

	name := func(idx int) string { return fmt.Sprintf("v%d", idx) }

	for idx, vtx := range g.Vertices {
		mnemonic := insn.Info(vtx.Insn.Op).Mnemonic
		label := fmt.Sprintf("%d: %s | off=%d line=%d hits=%d", idx, mnemonic, vtx.Offset, vtx.Line, vtx.Counter)
		shape := "box"
		if idx == insngraph.EntryIdx || idx == g.ExitIdx() {
			shape = "doublecircle"
		}
		attrs := map[string]string{"label": quoteLabel(label), "shape": shape}
		if vtx.Counter > 0 {
			attrs["style"] = "filled"
			attrs["fillcolor"] = "lightyellow"
		}
		if err := dg.AddNode("method", name(idx), attrs); err != nil {
			return err
		}
	}

	for _, e := range g.Edges {
		attrs := map[string]string{}
		switch e.Kind {
		case insngraph.EdgeControlFlow:
			switch e.Branch {
			case insngraph.BranchTaken:
				attrs["label"] = `"taken"`
			case insngraph.BranchSwitchKey:
				attrs["label"] = quoteLabel(fmt.Sprintf("case %d", e.SwitchKey))
			}
		case insngraph.EdgeException:
			attrs["style"] = "dashed"
			attrs["color"] = "red"
			if e.IsCatchAll {
				attrs["label"] = `"catch-all"`
			} else {
				attrs["label"] = quoteLabel(e.CatchType.String())
			}
		case insngraph.EdgeDefUse:
			attrs["color"] = "blue"
			attrs["label"] = quoteLabel(fmt.Sprintf("v%d", e.Register))
		case insngraph.EdgeDataFlow:
			attrs["color"] = "darkgreen"
			attrs["label"] = quoteLabel(fmt.Sprintf("v%d", e.Register))
		case insngraph.EdgeCallGraph, insngraph.EdgeVirtualOverride:
			// To names a vertex in a different graph (vm.VM.Methods index
			// for call-graph edges) or is otherwise not locally resolvable
			// here; these render in the call-graph-specific views instead.
			continue
		default:
			continue
		}
		if err := dg.AddEdge(name(e.From), name(e.To), true, attrs); err != nil {
			return err
		}
	}

	_, err = io.WriteString(w, dg.String())
	return err
}

// WritePAG renders a points-to engine's Pointer Assignment Graph: one
// node per PAG vertex, shaped by NodeKind, and one edge per PAG edge.
func WritePAG(w io.Writer, e *pointsto.Engine) error {
	g, err := newGraph("pag", "LR")
	if err != nil {
		return err
	}

	name := func(idx int) string { return fmt.Sprintf("p%d", idx) }

	for idx, n := range e.Nodes {
		label := nodeLabel(n)
		shape := "ellipse"
		if n.Kind == pointsto.NodeAlloc || n.Kind == pointsto.NodeAllocField || n.Kind == pointsto.NodeAllocArray {
			shape = "box"
		}
		if err := g.AddNode("pag", name(idx), map[string]string{"label": quoteLabel(label), "shape": shape}); err != nil {
			return err
		}
	}

	for _, edge := range e.Edges {
		attrs := map[string]string{"label": quoteLabel(edgeLabel(edge.Kind))}
		if err := g.AddEdge(name(edge.From), name(edge.To), true, attrs); err != nil {
			return err
		}
	}

	_, err = io.WriteString(w, g.String())
	return err
}

func nodeLabel(n *pointsto.Node) string {
	switch n.Kind {
	case pointsto.NodeReg, pointsto.NodeRegArray:
		return fmt.Sprintf("%s\n%s@%s", n.Kind, n.Reg, n.Context)
	case pointsto.NodeRegField:
		return fmt.Sprintf("%s\n%s.%s@%s", n.Kind, n.Reg, n.Field, n.Context)
	case pointsto.NodeAlloc:
		return fmt.Sprintf("%s\nsite=%d", n.Kind, n.Alloc.Vertex)
	case pointsto.NodeAllocField:
		return fmt.Sprintf("%s\nsite=%d.%s", n.Kind, n.Alloc.Vertex, n.Field)
	case pointsto.NodeAllocArray:
		return fmt.Sprintf("%s\nsite=%d", n.Kind, n.Alloc.Vertex)
	case pointsto.NodeStaticField:
		return fmt.Sprintf("%s\n%s", n.Kind, n.Field)
	default:
		return n.Kind.String()
	}
}

func edgeLabel(kind pointsto.EdgeKind) string {
	switch kind {
	case pointsto.EdgeAlloc:
		return "alloc"
	case pointsto.EdgeAssign:
		return "assign"
	case pointsto.EdgeIStore:
		return "istore"
	case pointsto.EdgeILoad:
		return "iload"
	case pointsto.EdgeSStore:
		return "sstore"
	case pointsto.EdgeSLoad:
		return "sload"
	case pointsto.EdgeAStore:
		return "astore"
	case pointsto.EdgeALoad:
		return "aload"
	default:
		return "?"
	}
}
