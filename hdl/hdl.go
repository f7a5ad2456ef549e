// Package hdl implements the opaque, value-typed handles that name every
// entity in the DEX static-analysis core: class loaders, DEX files,
// types, methods, fields, instructions, and registers, plus the
// "initiating" JVM-level handles used across loader boundaries.
//
// Every handle here is a comparable Go struct of small fixed-width
// fields, so it is usable directly as a map key — hashability comes for
// free from Go's struct equality and hashing. Total ordering is provided
// by a Less method on each handle.
package hdl

import "fmt"

// Result and exception pseudo-register indices.
const (
	RegResult    int32 = -2
	RegException int32 = -3
)

// ClassLoaderHandle names one class loader. It is a small integer,
// assigned in the order loaders are added to the virtual machine.
type ClassLoaderHandle struct {
	Idx uint8
}

func (h ClassLoaderHandle) Less(o ClassLoaderHandle) bool { return h.Idx < o.Idx }
func (h ClassLoaderHandle) String() string                { return fmt.Sprintf("%d", h.Idx) }

// DexFileHandle names one DEX file within a loader's ordered file list.
type DexFileHandle struct {
	Loader ClassLoaderHandle
	Idx    uint8
}

func (h DexFileHandle) Less(o DexFileHandle) bool {
	if h.Loader != o.Loader {
		return h.Loader.Less(o.Loader)
	}
	return h.Idx < o.Idx
}

func (h DexFileHandle) String() string { return fmt.Sprintf("%d_%d", h.Loader.Idx, h.Idx) }

// DexTypeHandle names a type_id entry within a DEX file.
type DexTypeHandle struct {
	File DexFileHandle
	Idx  uint16
}

func (h DexTypeHandle) Less(o DexTypeHandle) bool {
	if h.File != o.File {
		return h.File.Less(o.File)
	}
	return h.Idx < o.Idx
}

func (h DexTypeHandle) String() string { return fmt.Sprintf("%s_t%d", h.File, h.Idx) }

// DexMethodHandle names a method_id entry within a DEX file.
type DexMethodHandle struct {
	File DexFileHandle
	Idx  uint16
}

func (h DexMethodHandle) Less(o DexMethodHandle) bool {
	if h.File != o.File {
		return h.File.Less(o.File)
	}
	return h.Idx < o.Idx
}

func (h DexMethodHandle) String() string { return fmt.Sprintf("%s_m%d", h.File, h.Idx) }

// DexFieldHandle names a field_id entry within a DEX file.
type DexFieldHandle struct {
	File DexFileHandle
	Idx  uint16
}

func (h DexFieldHandle) Less(o DexFieldHandle) bool {
	if h.File != o.File {
		return h.File.Less(o.File)
	}
	return h.Idx < o.Idx
}

func (h DexFieldHandle) String() string { return fmt.Sprintf("%s_f%d", h.File, h.Idx) }

// DexInsnHandle names one method's instruction graph as a whole (the
// method that owns it). Individual instruction vertices are addressed by
// (DexInsnHandle, offset) pairs kept by the owning insngraph.Graph; the
// handle itself only needs to identify the owning method.
type DexInsnHandle struct {
	File DexFileHandle
	Idx  uint16
}

func (h DexInsnHandle) Less(o DexInsnHandle) bool {
	if h.File != o.File {
		return h.File.Less(o.File)
	}
	return h.Idx < o.Idx
}

func (h DexInsnHandle) String() string { return fmt.Sprintf("%s_i%d", h.File, h.Idx) }

// NoInsn is the "no context" call-site instruction handle used by
// context-insensitive PAG nodes.
var NoInsn = DexInsnHandle{}

// RegisterHandle names a register within one method's instruction graph.
// Reg >= 0 is a real register; RegResult names the result pseudo-register
// (return values); RegException names the exception pseudo-register.
type RegisterHandle struct {
	Method DexMethodHandle
	Reg    int32
}

func (h RegisterHandle) Less(o RegisterHandle) bool {
	if h.Method != o.Method {
		return h.Method.Less(o.Method)
	}
	return h.Reg < o.Reg
}

// String renders the register as v?/vR/vE/vN.
func (h RegisterHandle) String() string {
	switch {
	case h.Reg == RegResult:
		return "vR"
	case h.Reg == RegException:
		return "vE"
	case h.Reg >= 0:
		return fmt.Sprintf("v%d", h.Reg)
	default:
		return "v?"
	}
}

// JvmTypeHandle is the initiating, loader-qualified name of a type: the
// pair (loader, descriptor) used to identify a class consistently across
// every DEX file that might define or reference it.
type JvmTypeHandle struct {
	Loader     ClassLoaderHandle
	Descriptor string
}

func (h JvmTypeHandle) Less(o JvmTypeHandle) bool {
	if h.Loader != o.Loader {
		return h.Loader.Less(o.Loader)
	}
	return h.Descriptor < o.Descriptor
}

func (h JvmTypeHandle) String() string { return fmt.Sprintf("%d:%s", h.Loader.Idx, h.Descriptor) }

// JvmMethodHandle extends JvmTypeHandle with a unique name encoding the
// method's parameter and return descriptors, e.g. "foo(ILjava/lang/String;)V".
type JvmMethodHandle struct {
	Type       JvmTypeHandle
	UniqueName string
}

func (h JvmMethodHandle) Less(o JvmMethodHandle) bool {
	if h.Type != o.Type {
		return h.Type.Less(o.Type)
	}
	return h.UniqueName < o.UniqueName
}

func (h JvmMethodHandle) String() string { return fmt.Sprintf("%s.%s", h.Type, h.UniqueName) }

// JvmFieldHandle extends JvmTypeHandle with a unique name encoding the
// field's descriptor, e.g. "count:I".
type JvmFieldHandle struct {
	Type       JvmTypeHandle
	UniqueName string
}

func (h JvmFieldHandle) Less(o JvmFieldHandle) bool {
	if h.Type != o.Type {
		return h.Type.Less(o.Type)
	}
	return h.UniqueName < o.UniqueName
}

func (h JvmFieldHandle) String() string { return fmt.Sprintf("%s.%s", h.Type, h.UniqueName) }

// MethodUniqueName builds the unique-name component of a JvmMethodHandle
// from a method name and its raw descriptor, e.g. ("foo", "(I)V") ->
// "foo(I)V".
func MethodUniqueName(name, descriptor string) string {
	return name + descriptor
}

// FieldUniqueName builds the unique-name component of a JvmFieldHandle
// from a field name and its type descriptor, e.g. ("count", "I") ->
// "count:I".
func FieldUniqueName(name, descriptor string) string {
	return name + ":" + descriptor
}
