package pointsto

import (
	"github.com/dexgraph/dexgraph/analysis"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/vm"
)

// drainWorklist runs phase B to a fixpoint: for each dirty node, filter
// its pending in-set by declared-type compatibility,
// merge the survivors into its points-to set, forward them along
// outgoing assign/sstore/sload edges, materialize any alloc.field/
// alloc.array nodes its dereferences now resolve to, and dispatch any
// on-the-fly invoke records the new allocations complete.
func (e *Engine) drainWorklist() error {
	iterations := 0
	for len(e.worklist) > 0 {
		if e.Opts.MaxWorklistIterations > 0 && iterations >= e.Opts.MaxWorklistIterations {
			e.log.Warnf("points-to: worklist iteration cap (%d) reached, stopping early", e.Opts.MaxWorklistIterations)
			break
		}
		iterations++

		v := e.worklist[0]
		e.worklist = e.worklist[1:]
		root := e.find(v)
		e.inWorklist[root] = false

		node := e.Nodes[root]
		pending := node.inSet
		node.inSet = nil
		if len(pending) == 0 {
			continue
		}

		fresh := e.mergeFiltered(root, pending)
		if len(fresh) == 0 {
			continue
		}

		for _, target := range node.outAssign {
			targetRoot := e.find(target)
			e.Nodes[targetRoot].inSet = append(e.Nodes[targetRoot].inSet, fresh...)
			e.enqueue(targetRoot)
		}

		for _, dr := range node.derefs {
			e.resolveDeref(dr, fresh)
		}

		if e.Opts.OnTheFly {
			for _, inv := range node.invokes {
				for _, allocIdx := range fresh {
					if err := e.resolveOnTheFly(inv, allocIdx); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// mergeFiltered drops any pending alloc index whose declared type is
// incompatible with destRoot's declared type (if destRoot carries one,
// e.g. a check-cast-narrowed register), dedups the rest against what
// destRoot already points to, and returns the newly added entries.
func (e *Engine) mergeFiltered(destRoot int, pending []int) []int {
	dest := e.Nodes[destRoot]
	var fresh []int
	for _, allocIdx := range pending {
		allocRoot := e.find(allocIdx)
		if !e.typeCompatible(allocRoot, destRoot) {
			continue
		}
		if containsInt(dest.pointsTo, allocRoot) {
			continue
		}
		dest.pointsTo = append(dest.pointsTo, allocRoot)
		fresh = append(fresh, allocRoot)
	}
	return fresh
}

// typeCompatible reports whether allocRoot's declared allocation type
// may flow into destRoot, per destRoot's own declared type if it has one,
// by walking the class-super chain in reverse. Either side
// lacking a resolvable declared type is treated as compatible: most
// allocation sites (const-string, const-class, new-array) carry no real
// type_id, and most destinations are never check-cast-narrowed.
func (e *Engine) typeCompatible(allocRoot, destRoot int) bool {
	dest := e.Nodes[destRoot]
	if !dest.HasType {
		return true
	}
	alloc := e.Nodes[allocRoot]
	if !alloc.HasType {
		return true
	}
	allocClassIdx, ok := e.classForType(alloc.DeclaredType)
	if !ok {
		return true
	}
	declaredClassIdx, ok := e.classForType(dest.DeclaredType)
	if !ok {
		return true
	}
	return isSubclass(e.VM.Classes, allocClassIdx, declaredClassIdx)
}

// isSubclass reports whether classIdx is declaredIdx or transitively
// extends/implements it, walking SuperIdx/InterfaceIdx upward.
func isSubclass(classes []*vm.ClassVertex, classIdx, declaredIdx int) bool {
	if classIdx == declaredIdx {
		return true
	}
	visited := make(map[int]bool)
	var walk func(int) bool
	walk = func(idx int) bool {
		if idx < 0 || idx >= len(classes) || visited[idx] {
			return false
		}
		visited[idx] = true
		c := classes[idx]
		if c.SuperIdx == declaredIdx {
			return true
		}
		for _, ifaceIdx := range c.InterfaceIdx {
			if ifaceIdx == declaredIdx || walk(ifaceIdx) {
				return true
			}
		}
		if c.SuperIdx >= 0 {
			return walk(c.SuperIdx)
		}
		return false
	}
	return walk(classIdx)
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// resolveDeref materializes the alloc.field/alloc.array node for each
// freshly resolved allocation and wires it to dr's value-side placeholder:
// istore/astore copy the placeholder's value into the concrete node,
// iload/aload copy the concrete node's points-to back out to the
// placeholder.
func (e *Engine) resolveDeref(dr derefEdge, fresh []int) {
	placeholder := e.Nodes[e.find(dr.Placeholder)]
	for _, allocIdx := range fresh {
		allocNode := e.Nodes[e.find(allocIdx)]
		var concrete int
		switch dr.Kind {
		case EdgeIStore, EdgeILoad:
			concrete = e.AllocFieldNode(allocNode.Alloc, placeholder.Field)
		default: // EdgeAStore, EdgeALoad
			concrete = e.AllocArrayNode(allocNode.Alloc)
		}

		pairKey := [2]int{dr.Placeholder, concrete}
		if e.rewired[pairKey] {
			continue
		}
		e.rewired[pairKey] = true

		switch dr.Kind {
		case EdgeIStore, EdgeAStore:
			e.AddEdge(dr.Placeholder, concrete, EdgeAssign)
		default: // EdgeILoad, EdgeALoad
			e.AddEdge(concrete, dr.Placeholder, EdgeAssign)
		}
	}
}

// resolveOnTheFly dispatches invoke record inv against a newly resolved
// receiver allocation, binding the call to whichever method allocRoot's
// runtime class actually runs for inv's declared signature. A no-op for
// untyped allocations (const-string, const-class, new-array), which
// on-the-fly mode cannot dispatch on.
func (e *Engine) resolveOnTheFly(inv InvokeRecord, allocRoot int) error {
	allocNode := e.Nodes[e.find(allocRoot)]
	if !allocNode.HasType {
		return nil
	}
	allocClassIdx, ok := e.classForType(allocNode.DeclaredType)
	if !ok {
		return nil
	}

	callerIdx, ok := e.VM.MethodByDex(inv.CallerMethod)
	if !ok {
		return nil
	}
	caller := e.VM.Methods[callerIdx]
	if caller.Graph == nil || inv.CallVertex >= len(caller.Graph.Vertices) {
		return nil
	}
	callInsn := caller.Graph.Vertices[inv.CallVertex].Insn

	jvmTarget, err := analysis.ResolveInvokeTarget(e.VM, inv.CallerMethod.File, callInsn.MethodValue)
	if err != nil {
		return nil
	}

	targetIdx, ok := e.vtableLookupByName(allocClassIdx, jvmTarget.UniqueName)
	if !ok {
		return nil
	}

	if err := e.bindCall(callerIdx, inv.CallVertex, targetIdx, inv.Context, true); err != nil {
		return err
	}
	return e.walkMethod(targetIdx, hdl.NoInsn)
}

// vtableLookupByName finds classIdx's effective method for uniqueName,
// whether classIdx declares/overrides it itself or inherits it unchanged:
// the vtable slot already holds whichever is correct, per the
// inherit-then-override-in-place rule.
func (e *Engine) vtableLookupByName(classIdx int, uniqueName string) (int, bool) {
	for _, dexHdl := range e.VM.Classes[classIdx].Vtable {
		idx, ok := e.VM.MethodByDex(dexHdl)
		if ok && e.VM.Methods[idx].Jvm.UniqueName == uniqueName {
			return idx, true
		}
	}
	return 0, false
}
