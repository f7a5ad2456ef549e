package pointsto

import (
	"github.com/dexgraph/dexgraph/analysis"
	"github.com/dexgraph/dexgraph/classloader"
	"github.com/dexgraph/dexgraph/dexerr"
	"github.com/dexgraph/dexgraph/dexfile"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/insn"
	"github.com/dexgraph/dexgraph/insngraph"
)

// Run seeds phase-A edge synthesis from every method in entryPoints
// (indices into e.VM.Methods), transitively walks every method reached
// through a resolved invoke, and drains the phase-B worklist to a
// fixpoint. Phases A and B are interleaved by the clinit/invoke
// reachability walk rather than run strictly in sequence. Every context
// instantiated by this call is hdl.NoInsn; see the package doc comment.
func (e *Engine) Run(entryPoints []int) error {
	for _, m := range entryPoints {
		if err := e.walkMethod(m, hdl.NoInsn); err != nil {
			return err
		}
	}
	for len(e.clinitQueue) > 0 {
		m := e.clinitQueue[0]
		e.clinitQueue = e.clinitQueue[1:]
		if err := e.walkMethod(m, hdl.NoInsn); err != nil {
			return err
		}
	}
	return e.drainWorklist()
}

// queueClinit schedules declaringClass's <clinit>()V for a phase-A walk
// if it has one and it has not already been visited: new_instance and
// sget/sput additionally trigger the declaring class's <clinit>.
func (e *Engine) queueClinit(declaringClass int) {
	class := e.VM.Classes[declaringClass]
	clinitJvm := hdl.JvmMethodHandle{Type: class.Jvm, UniqueName: "<clinit>()V"}
	idx, err := classloader.FindMethod(e.VM, clinitJvm, true)
	if err != nil {
		return
	}
	mc := methodContext{Method: e.VM.Methods[idx].Dex, Context: hdl.NoInsn}
	if !e.visited[mc] {
		e.clinitQueue = append(e.clinitQueue, idx)
	}
}

func (e *Engine) queueFieldClinit(fieldIdx int) {
	e.queueClinit(e.VM.Fields[fieldIdx].DeclaringClass)
}

// walkMethod is phase A's per-method instruction walk: it maps each
// instruction that can produce or consume a reference value onto its
// corresponding PAG edge.
func (e *Engine) walkMethod(methodIdx int, context hdl.DexInsnHandle) error {
	mv := e.VM.Methods[methodIdx]
	mc := methodContext{Method: mv.Dex, Context: context}
	if e.visited[mc] {
		return nil
	}
	e.visited[mc] = true

	if mv.Graph == nil {
		return nil
	}
	g := mv.Graph

	for v, vertex := range g.Vertices {
		i := vertex.Insn

		switch i.Op {
		case insn.OpMove:
			dst, src := int32(i.Regs[0]), int32(i.Regs[1])
			e.AddEdge(e.regNode(mv.Dex, src, context), e.regNode(mv.Dex, dst, context), EdgeAssign)

		case insn.OpMoveResultObject:
			dst := int32(i.Regs[0])
			e.AddEdge(e.regNode(mv.Dex, hdl.RegResult, context), e.regNode(mv.Dex, dst, context), EdgeAssign)

		case insn.OpReturnObject:
			src := int32(i.Regs[0])
			e.AddEdge(e.regNode(mv.Dex, src, context), e.regNode(mv.Dex, hdl.RegResult, context), EdgeAssign)

		case insn.OpCheckCast:
			reg := int32(i.Regs[0])
			regN := e.regNode(mv.Dex, reg, context)
			root := e.find(regN)
			e.Nodes[root].DeclaredType = i.TypeValue
			e.Nodes[root].HasType = true

		case insn.OpConstString, insn.OpConstClass:
			site := AllocSite{Method: mv.Dex, Vertex: v}
			allocN := e.AllocNode(site, hdl.DexTypeHandle{}, false)
			dst := int32(i.Regs[0])
			e.AddEdge(allocN, e.regNode(mv.Dex, dst, context), EdgeAlloc)

		case insn.OpNewInstance:
			site := AllocSite{Method: mv.Dex, Vertex: v}
			allocN := e.AllocNode(site, i.TypeValue, true)
			dst := int32(i.Regs[0])
			e.AddEdge(allocN, e.regNode(mv.Dex, dst, context), EdgeAlloc)
			if classIdx, ok := e.classForType(i.TypeValue); ok {
				e.queueClinit(classIdx)
			}

		case insn.OpNewArray:
			// Element type defaults to java.lang.Object; the PAG does
			// not model array-element-type refinement.
			site := AllocSite{Method: mv.Dex, Vertex: v}
			allocN := e.AllocNode(site, hdl.DexTypeHandle{}, false)
			dst := int32(i.Regs[0])
			e.AddEdge(allocN, e.regNode(mv.Dex, dst, context), EdgeAlloc)

		case insn.OpAgetObject:
			dst, src := int32(i.Regs[0]), int32(i.Regs[1])
			arrN := e.RegArrayNode(regHdl(mv.Dex, src), context)
			e.AddEdge(arrN, e.regNode(mv.Dex, dst, context), EdgeALoad)

		case insn.OpAputObject:
			val, arr := int32(i.Regs[0]), int32(i.Regs[1])
			arrN := e.RegArrayNode(regHdl(mv.Dex, arr), context)
			e.AddEdge(e.regNode(mv.Dex, val, context), arrN, EdgeAStore)

		case insn.OpIgetObject:
			if !isReferenceField(e, mv.Dex.File, i.FieldValue) {
				continue
			}
			dst, obj := int32(i.Regs[0]), int32(i.Regs[1])
			fN := e.RegFieldNode(regHdl(mv.Dex, obj), context, i.FieldValue)
			e.AddEdge(fN, e.regNode(mv.Dex, dst, context), EdgeILoad)

		case insn.OpIputObject:
			if !isReferenceField(e, mv.Dex.File, i.FieldValue) {
				continue
			}
			val, obj := int32(i.Regs[0]), int32(i.Regs[1])
			fN := e.RegFieldNode(regHdl(mv.Dex, obj), context, i.FieldValue)
			e.AddEdge(e.regNode(mv.Dex, val, context), fN, EdgeIStore)

		case insn.OpSgetObject:
			dst := int32(i.Regs[0])
			sN := e.StaticFieldNode(i.FieldValue)
			e.AddEdge(sN, e.regNode(mv.Dex, dst, context), EdgeSLoad)
			e.queueSgetSputClinit(mv.Dex.File, i.FieldValue)

		case insn.OpSputObject:
			src := int32(i.Regs[0])
			sN := e.StaticFieldNode(i.FieldValue)
			e.AddEdge(e.regNode(mv.Dex, src, context), sN, EdgeSStore)
			e.queueSgetSputClinit(mv.Dex.File, i.FieldValue)

		default:
			info := insn.Info(i.Op)
			if info.Flags.Has(insn.CanInvoke) && !info.Flags.Has(insn.OdexOnly) {
				if err := e.handleInvoke(methodIdx, v, i, context); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *Engine) regNode(method hdl.DexMethodHandle, reg int32, context hdl.DexInsnHandle) int {
	return e.RegNode(regHdl(method, reg), context)
}

func regHdl(method hdl.DexMethodHandle, reg int32) hdl.RegisterHandle {
	return hdl.RegisterHandle{Method: method, Reg: reg}
}

func (e *Engine) classForType(typeHdl hdl.DexTypeHandle) (int, bool) {
	file := e.VM.File(typeHdl.File)
	if file == nil {
		return 0, false
	}
	desc := file.TypeDescriptor(uint32(typeHdl.Idx))
	jvmHdl := hdl.JvmTypeHandle{Loader: typeHdl.File.Loader, Descriptor: desc}
	idx, err := classloader.FindClass(e.VM, jvmHdl, true)
	if err != nil {
		return 0, false
	}
	return idx, true
}

func (e *Engine) queueSgetSputClinit(fileHdl hdl.DexFileHandle, fieldHdl hdl.DexFieldHandle) {
	jvmField, err := analysis.ResolveFieldTarget(e.VM, fileHdl, fieldHdl)
	if err != nil {
		return
	}
	fieldIdx, err := classloader.FindField(e.VM, jvmField, true)
	if err != nil {
		return
	}
	e.queueFieldClinit(fieldIdx)
}

func isReferenceField(e *Engine, fileHdl hdl.DexFileHandle, fieldHdl hdl.DexFieldHandle) bool {
	file := e.VM.File(fileHdl)
	if file == nil || int(fieldHdl.Idx) >= len(file.Fields) {
		return false
	}
	_, typeDesc, err := file.FieldSignature(fieldHdl.Idx)
	if err != nil || len(typeDesc) == 0 {
		return false
	}
	return typeDesc[0] == 'L' || typeDesc[0] == '['
}

// handleInvoke implements the invoke* rule: record the receiver's
// on-the-fly dispatch site for virtual/interface calls, and
// (unless on-the-fly mode is selected for this very call) bind it
// immediately to every statically resolvable target, including every
// override in the target's virtual-override subtree.
func (e *Engine) handleInvoke(callerIdx, callVertex int, i insn.Insn, context hdl.DexInsnHandle) error {
	caller := e.VM.Methods[callerIdx]
	info := insn.Info(i.Op)
	virtual := info.Flags.Has(insn.CanVirtuallyInvoke)

	jvmTarget, err := analysis.ResolveInvokeTarget(e.VM, caller.Dex.File, i.MethodValue)
	if err != nil {
		return nil
	}
	targetIdx, err := classloader.FindMethod(e.VM, jvmTarget, true)
	if err != nil {
		if dexerr.Is(err, dexerr.NotFound) {
			return nil
		}
		return err
	}

	if virtual {
		regs := i.ExpandRegs()
		if len(regs) > 0 {
			receiverN := e.regNode(caller.Dex, int32(regs[0]), context)
			root := e.find(receiverN)
			e.Nodes[root].invokes = append(e.Nodes[root].invokes, InvokeRecord{
				Context: context, CallerMethod: caller.Dex, CallVertex: callVertex,
			})
		}
	}

	if i.Op == insn.OpInvokeStatic || i.Op == insn.OpInvokeStaticRange {
		e.queueClinit(e.VM.Methods[targetIdx].DeclaringClass)
	}

	if e.Opts.OnTheFly && virtual {
		// Deferred to phase B step 4's on-the-fly dispatch over the
		// receiver's resolved points-to set.
		return nil
	}

	if err := e.bindCall(callerIdx, callVertex, targetIdx, context, virtual); err != nil {
		return err
	}
	if err := e.walkMethod(targetIdx, hdl.NoInsn); err != nil {
		return err
	}

	if virtual {
		for _, sub := range analysis.OverrideSubtree(e.VM, targetIdx) {
			if err := e.bindCall(callerIdx, callVertex, sub, context, virtual); err != nil {
				return err
			}
			if err := e.walkMethod(sub, hdl.NoInsn); err != nil {
				return err
			}
		}
	}
	return nil
}

// bindCall records a contextual call-graph edge and wires reference-typed
// argument-to-parameter and return-value edges between the caller's call
// site and targetIdx's entry/exit. Wide-type (J/D) parameters consume two
// register slots on both sides and are skipped since neither side is
// reference-typed.
func (e *Engine) bindCall(callerIdx, callVertex, targetIdx int, context hdl.DexInsnHandle, virtual bool) error {
	caller := e.VM.Methods[callerIdx]
	callee := e.VM.Methods[targetIdx]

	e.CallGraph = append(e.CallGraph, ContextualCallEdge{
		CallerMethod: caller.Dex, Context: context, CalleeMethod: callee.Dex,
		Virtual: virtual, CallerVertex: callVertex,
	})

	if callee.Graph == nil {
		return nil
	}

	callInsn := caller.Graph.Vertices[callVertex].Insn
	callerArgs := callInsn.ExpandRegs()
	calleeParams := callee.Graph.Vertices[insngraph.EntryIdx].Insn.ExpandRegs()

	callerPos, calleePos := 0, 0
	isStatic := callee.AccessFlags&dexfile.AccStatic != 0
	if !isStatic {
		e.wireArg(caller.Dex, callerArgs, callerPos, callee.Dex, calleeParams, calleePos, context)
		callerPos++
		calleePos++
	}
	for _, desc := range callee.ParamDescs {
		step := 1
		if len(desc) > 0 && (desc[0] == 'J' || desc[0] == 'D') {
			step = 2
		}
		if len(desc) > 0 && (desc[0] == 'L' || desc[0] == '[') {
			e.wireArg(caller.Dex, callerArgs, callerPos, callee.Dex, calleeParams, calleePos, context)
		}
		callerPos += step
		calleePos += step
	}

	if len(callee.ReturnDesc) > 0 && (callee.ReturnDesc[0] == 'L' || callee.ReturnDesc[0] == '[') {
		e.AddEdge(
			e.regNode(callee.Dex, hdl.RegResult, hdl.NoInsn),
			e.regNode(caller.Dex, hdl.RegResult, context),
			EdgeAssign,
		)
	}
	return nil
}

func (e *Engine) wireArg(callerM hdl.DexMethodHandle, callerArgs []int16, callerPos int, calleeM hdl.DexMethodHandle, calleeParams []int16, calleePos int, context hdl.DexInsnHandle) {
	if callerPos >= len(callerArgs) || calleePos >= len(calleeParams) {
		return
	}
	e.AddEdge(
		e.regNode(callerM, int32(callerArgs[callerPos]), context),
		e.regNode(calleeM, int32(calleeParams[calleePos]), hdl.NoInsn),
		EdgeAssign,
	)
}
