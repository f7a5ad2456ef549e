package analysis

import (
	"github.com/dexgraph/dexgraph/classloader"
	"github.com/dexgraph/dexgraph/dexerr"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/insn"
	"github.com/dexgraph/dexgraph/vm"
)

const clinitName = "<clinit>()V"

// resolveFieldTarget mirrors resolveMethodTarget for a field_id reference
// local to a caller's DEX file (sget/sput targets).
func resolveFieldTarget(v *vm.VM, fileHdl hdl.DexFileHandle, fieldHdl hdl.DexFieldHandle) (hdl.JvmFieldHandle, error) {
	file := v.File(fileHdl)
	if file == nil {
		return hdl.JvmFieldHandle{}, dexerr.New(dexerr.InvalidHandle, "unknown dex file")
	}
	if int(fieldHdl.Idx) >= len(file.Fields) {
		return hdl.JvmFieldHandle{}, dexerr.New(dexerr.InvalidHandle, "field_id index out of range")
	}
	classDesc := file.TypeDescriptor(uint32(file.Fields[fieldHdl.Idx].ClassIdx))
	name, typeDesc, err := file.FieldSignature(fieldHdl.Idx)
	if err != nil {
		return hdl.JvmFieldHandle{}, err
	}
	classJvm := hdl.JvmTypeHandle{Loader: fileHdl.Loader, Descriptor: classDesc}
	return hdl.JvmFieldHandle{Type: classJvm, UniqueName: hdl.FieldUniqueName(name, typeDesc)}, nil
}

// ResolveFieldTarget exposes resolveFieldTarget for other packages that
// need a field_id reference turned into a loader-searchable JVM handle
// (pointsto's static/instance field load-site handling).
func ResolveFieldTarget(v *vm.VM, fileHdl hdl.DexFileHandle, fieldHdl hdl.DexFieldHandle) (hdl.JvmFieldHandle, error) {
	return resolveFieldTarget(v, fileHdl, fieldHdl)
}

// OverrideSubtree exposes overrideSubtree for other packages that need
// every transitive overrider of root without duplicating the BFS
// (pointsto's static virtual-dispatch enumeration).
func OverrideSubtree(v *vm.VM, root int) []int {
	return overrideSubtree(v, root)
}

// overrideSubtree returns every method index transitively overriding
// root in v.Overrides: the subtree of the virtual-override graph
// rooted at the resolved method.
func overrideSubtree(v *vm.VM, root int) []int {
	var out []int
	frontier := []int{root}
	for len(frontier) > 0 {
		var next []int
		for _, super := range frontier {
			for _, ov := range v.Overrides {
				if ov.Super == super {
					out = append(out, ov.Sub)
					next = append(next, ov.Sub)
				}
			}
		}
		frontier = next
	}
	return out
}

// triggerClinit resolves and recursively loads declaringClass's
// <clinit>()V, a no-op if the class declares none.
func triggerClinit(v *vm.VM, declaringClass int, visited map[int]bool) error {
	class := v.Classes[declaringClass]
	clinitJvm := hdl.JvmMethodHandle{Type: class.Jvm, UniqueName: clinitName}
	idx, err := classloader.FindMethod(v, clinitJvm, true)
	if err != nil {
		if dexerr.Is(err, dexerr.NotFound) {
			return nil
		}
		return err
	}
	return loadRecursive(v, idx, visited)
}

// LoadRecursive performs a depth-first instruction-variant walk:
// new_instance loads its class, sget/sput loads the
// field and triggers <clinit> of its declaring class, and invoke resolves
// its target, triggers <clinit> for static invokes, and recurses into
// every override in the virtual-override subtree rooted at the target.
// Revisiting a method already seen in this call is a no-op.
func LoadRecursive(v *vm.VM, methodIdx int) error {
	return loadRecursive(v, methodIdx, make(map[int]bool))
}

func loadRecursive(v *vm.VM, methodIdx int, visited map[int]bool) error {
	if visited[methodIdx] {
		return nil
	}
	visited[methodIdx] = true

	mv := v.Methods[methodIdx]
	if mv.Graph == nil {
		return nil
	}

	for _, vertex := range mv.Graph.Vertices {
		i := vertex.Insn
		info := insn.Info(i.Op)

		switch i.Op {
		case insn.OpNewInstance:
			typeFile := v.File(i.TypeValue.File)
			if typeFile == nil {
				continue
			}
			desc := typeFile.TypeDescriptor(uint32(i.TypeValue.Idx))
			jvmHdl := hdl.JvmTypeHandle{Loader: i.TypeValue.File.Loader, Descriptor: desc}
			if _, err := classloader.FindClass(v, jvmHdl, true); err != nil && !dexerr.Is(err, dexerr.NotFound) {
				return err
			}

		case insn.OpSgetObject, insn.OpSputObject:
			jvmField, err := resolveFieldTarget(v, mv.Dex.File, i.FieldValue)
			if err != nil {
				continue
			}
			fieldIdx, err := classloader.FindField(v, jvmField, true)
			if err != nil {
				if dexerr.Is(err, dexerr.NotFound) {
					continue
				}
				return err
			}
			if err := triggerClinit(v, v.Fields[fieldIdx].DeclaringClass, visited); err != nil {
				return err
			}

		default:
			if !info.Flags.Has(insn.CanInvoke) || info.Flags.Has(insn.OdexOnly) {
				continue
			}
			jvmMethod, err := resolveMethodTarget(v, mv.Dex.File, i.MethodValue)
			if err != nil {
				continue
			}
			targetIdx, err := classloader.FindMethod(v, jvmMethod, true)
			if err != nil {
				if dexerr.Is(err, dexerr.NotFound) {
					continue
				}
				return err
			}
			if i.Op == insn.OpInvokeStatic || i.Op == insn.OpInvokeStaticRange {
				if err := triggerClinit(v, v.Methods[targetIdx].DeclaringClass, visited); err != nil {
					return err
				}
			}
			if err := loadRecursive(v, targetIdx, visited); err != nil {
				return err
			}
			for _, sub := range overrideSubtree(v, targetIdx) {
				if err := loadRecursive(v, sub, visited); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
