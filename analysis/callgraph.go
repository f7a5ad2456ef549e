package analysis

import (
	"github.com/dexgraph/dexgraph/classloader"
	"github.com/dexgraph/dexgraph/dexerr"
	"github.com/dexgraph/dexgraph/dexfile"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/insn"
	"github.com/dexgraph/dexgraph/insngraph"
	"github.com/dexgraph/dexgraph/vm"
)

// resolveMethodTarget turns an invoke instruction's method_id reference
// (local to the caller's DEX file) into the JVM handle of the declaring
// class and method, so classloader.FindMethod can search the loader
// hierarchy.
func resolveMethodTarget(v *vm.VM, fileHdl hdl.DexFileHandle, methodHdl hdl.DexMethodHandle) (hdl.JvmMethodHandle, error) {
	file := v.File(fileHdl)
	if file == nil {
		return hdl.JvmMethodHandle{}, dexerr.New(dexerr.InvalidHandle, "unknown dex file")
	}
	if int(methodHdl.Idx) >= len(file.Methods) {
		return hdl.JvmMethodHandle{}, dexerr.New(dexerr.InvalidHandle, "method_id index out of range")
	}
	classDesc := file.TypeDescriptor(uint32(file.Methods[methodHdl.Idx].ClassIdx))
	name, paramDescs, returnDesc, err := file.MethodSignature(methodHdl.Idx)
	if err != nil {
		return hdl.JvmMethodHandle{}, err
	}
	classJvm := hdl.JvmTypeHandle{Loader: fileHdl.Loader, Descriptor: classDesc}
	return hdl.JvmMethodHandle{
		Type:       classJvm,
		UniqueName: hdl.MethodUniqueName(name, dexfile.MethodDescriptor(paramDescs, returnDesc)),
	}, nil
}

// ResolveInvokeTarget exposes resolveMethodTarget for other packages that
// need to turn a method_id reference into a loader-searchable JVM handle
// without re-deriving the class-descriptor/signature plumbing
// (pointsto's phase A call handling).
func ResolveInvokeTarget(v *vm.VM, fileHdl hdl.DexFileHandle, methodHdl hdl.DexMethodHandle) (hdl.JvmMethodHandle, error) {
	return resolveMethodTarget(v, fileHdl, methodHdl)
}

// AddCallGraphEdges walks m's instruction graph and adds an EdgeCallGraph
// m -> target for every resolvable invoke. Idempotent:
// if any vertex of m's instruction graph already has an outgoing
// EdgeCallGraph, the method is skipped.
func AddCallGraphEdges(v *vm.VM, methodIdx int) error {
	mv := v.Methods[methodIdx]
	if mv.Graph == nil {
		return nil
	}
	g := mv.Graph
	for i := range g.Vertices {
		if g.HasOutEdgeOfKind(i, insngraph.EdgeCallGraph) {
			return nil
		}
	}

	for i, vertex := range g.Vertices {
		op := vertex.Insn.Op
		info := insn.Info(op)
		if !info.Flags.Has(insn.CanVirtuallyInvoke) && !info.Flags.Has(insn.CanDirectlyInvoke) {
			continue
		}
		if info.Flags.Has(insn.OdexOnly) {
			continue
		}

		jvmTarget, err := resolveMethodTarget(v, mv.Dex.File, vertex.Insn.MethodValue)
		if err != nil {
			v.Log().Warnf("call-graph: resolving target at %s: %v", vertex.Insn.MethodValue, err)
			continue
		}
		targetIdx, err := classloader.FindMethod(v, jvmTarget, true)
		if err != nil {
			if dexerr.Is(err, dexerr.NotFound) {
				v.Log().Warnf("call-graph: target not found: %s", jvmTarget)
				continue
			}
			return err
		}

		g.AddEdge(insngraph.Edge{
			From:             i,
			To:               -1,
			Kind:             insngraph.EdgeCallGraph,
			Virtual:          info.Flags.Has(insn.CanVirtuallyInvoke),
			CallerInsnVertex: i,
			CallTarget:       targetIdx,
		})
	}
	return nil
}
