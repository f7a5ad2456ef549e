// Package vm owns the virtual machine state: the loader graph, and the
// class/method/field graphs materialized by package classloader on
// demand. It holds the data and the DEX-handle/JVM-handle lookup tables;
// the loader-graph search and class-loading algorithm live in package
// classloader to keep the mutual recursion between "load a class" and
// "search the loader hierarchy" in one place without an import cycle.
package vm

import (
	"github.com/dexgraph/dexgraph/dexfile"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/insngraph"
	"github.com/dexgraph/dexgraph/logx"
)

// Options configures a VM, mirroring the teacher's pe.Options: a plain
// struct of documented zero-value defaults, passed by pointer.
type Options struct {
	// Logger overrides the default filtered-stdout logger.
	Logger logx.Logger

	// OnTheFly records a choice of on-the-fly points-to call-graph
	// construction over the CHA builder. No package in this module reads
	// it; pointsto.New takes its own pointsto.Options.OnTheFly.
	OnTheFly bool

	// MaxWorklistIterations records a points-to propagation cap. No
	// package in this module reads it; pointsto.Options carries the cap
	// phase B applies.
	MaxWorklistIterations int
}

// Loader is one class-loader vertex.
type Loader struct {
	Handle  hdl.ClassLoaderHandle
	Name    string
	Parents []hdl.ClassLoaderHandle
	Files   []*dexfile.File
}

// ClassVertex is one loaded class.
type ClassVertex struct {
	Dex hdl.DexTypeHandle
	Jvm hdl.JvmTypeHandle

	AccessFlags uint32

	StaticFields   []hdl.DexFieldHandle
	InstanceFields []hdl.DexFieldHandle
	Dtable         []hdl.DexMethodHandle
	Vtable         []hdl.DexMethodHandle

	StaticSize   uint32
	InstanceSize uint32

	// SuperIdx/InterfaceIdx index into VM.Classes; -1/empty for
	// java.lang.Object or an interface with no superinterfaces.
	SuperIdx     int
	InterfaceIdx []int
}

// MethodVertex is one method.
type MethodVertex struct {
	Dex hdl.DexMethodHandle
	Jvm hdl.JvmMethodHandle

	DeclaringClass int // index into VM.Classes
	AccessFlags    uint32

	ParamDescs       []string
	ParamNames       []int32 // string_id index per parameter, -1 = unnamed
	ReturnDesc       string

	// Graph is nil for abstract/native methods (no code_item).
	Graph *insngraph.Graph
}

// FieldVertex is one field.
type FieldVertex struct {
	Dex hdl.DexFieldHandle
	Jvm hdl.JvmFieldHandle

	DeclaringClass int
	AccessFlags    uint32
	Static         bool
	Offset         uint32
	Width          uint8
	DescChar       byte
}

// Override is a virtual-override edge: Super's method vertex is
// overridden by Sub's.
type Override struct {
	Super, Sub int // indices into VM.Methods
}

// VM owns the four graphs and their lookup tables.
type VM struct {
	Opts Options

	Loaders []*Loader
	Classes []*ClassVertex
	Methods []*MethodVertex
	Fields  []*FieldVertex

	Overrides []Override

	classByDex  map[hdl.DexTypeHandle]int
	classByJvm  map[hdl.JvmTypeHandle]int
	methodByDex map[hdl.DexMethodHandle]int
	methodByJvm map[hdl.JvmMethodHandle]int
	fieldByDex  map[hdl.DexFieldHandle]int
	fieldByJvm  map[hdl.JvmFieldHandle]int

	log *logx.Helper
}

// New builds an empty VM.
func New(opts *Options) *VM {
	v := &VM{
		classByDex:  make(map[hdl.DexTypeHandle]int),
		classByJvm:  make(map[hdl.JvmTypeHandle]int),
		methodByDex: make(map[hdl.DexMethodHandle]int),
		methodByJvm: make(map[hdl.JvmMethodHandle]int),
		fieldByDex:  make(map[hdl.DexFieldHandle]int),
		fieldByJvm:  make(map[hdl.JvmFieldHandle]int),
	}
	if opts != nil {
		v.Opts = *opts
	}
	if v.Opts.Logger != nil {
		v.log = logx.NewHelper(v.Opts.Logger)
	} else {
		v.log = logx.Default()
	}
	return v
}

// Log returns the VM's diagnostic logger, used by packages analysis and
// profile to report non-fatal conditions (not_found, analysis_precondition) without
// aborting the enclosing pass.
func (v *VM) Log() *logx.Helper { return v.log }

// AddLoader registers a new class loader with the given parents. A
// loader is added once; its DEX files are then immutable.
func (v *VM) AddLoader(name string, parents ...hdl.ClassLoaderHandle) hdl.ClassLoaderHandle {
	h := hdl.ClassLoaderHandle{Idx: uint8(len(v.Loaders))}
	v.Loaders = append(v.Loaders, &Loader{Handle: h, Name: name, Parents: parents})
	return h
}

// Loader returns the loader for h, or nil if unknown.
func (v *VM) Loader(h hdl.ClassLoaderHandle) *Loader {
	if int(h.Idx) >= len(v.Loaders) {
		return nil
	}
	return v.Loaders[h.Idx]
}

// AddFile appends file to loader's ordered file list and returns its
// handle.
func (v *VM) AddFile(loaderHdl hdl.ClassLoaderHandle, file *dexfile.File) hdl.DexFileHandle {
	loader := v.Loader(loaderHdl)
	h := hdl.DexFileHandle{Loader: loaderHdl, Idx: uint8(len(loader.Files))}
	loader.Files = append(loader.Files, file)
	return h
}

// File resolves a DexFileHandle to its parsed file, or nil if unknown.
func (v *VM) File(h hdl.DexFileHandle) *dexfile.File {
	loader := v.Loader(h.Loader)
	if loader == nil || int(h.Idx) >= len(loader.Files) {
		return nil
	}
	return loader.Files[h.Idx]
}

// ClassByDex/ClassByJvm/MethodByDex/MethodByJvm/FieldByDex/FieldByJvm
// look up a graph index by handle.
func (v *VM) ClassByDex(h hdl.DexTypeHandle) (int, bool)   { i, ok := v.classByDex[h]; return i, ok }
func (v *VM) ClassByJvm(h hdl.JvmTypeHandle) (int, bool)   { i, ok := v.classByJvm[h]; return i, ok }
func (v *VM) MethodByDex(h hdl.DexMethodHandle) (int, bool) { i, ok := v.methodByDex[h]; return i, ok }
func (v *VM) MethodByJvm(h hdl.JvmMethodHandle) (int, bool) { i, ok := v.methodByJvm[h]; return i, ok }
func (v *VM) FieldByDex(h hdl.DexFieldHandle) (int, bool)  { i, ok := v.fieldByDex[h]; return i, ok }
func (v *VM) FieldByJvm(h hdl.JvmFieldHandle) (int, bool)  { i, ok := v.fieldByJvm[h]; return i, ok }

// RegisterClass appends c and indexes it under both handles. Callers
// must only do this after c's superclass/interfaces/fields/vtable/dtable
// are fully computed.
func (v *VM) RegisterClass(c *ClassVertex) int {
	idx := len(v.Classes)
	v.Classes = append(v.Classes, c)
	v.classByDex[c.Dex] = idx
	v.classByJvm[c.Jvm] = idx
	return idx
}

// RegisterMethod appends m and indexes it under both handles.
func (v *VM) RegisterMethod(m *MethodVertex) int {
	idx := len(v.Methods)
	v.Methods = append(v.Methods, m)
	v.methodByDex[m.Dex] = idx
	v.methodByJvm[m.Jvm] = idx
	return idx
}

// RegisterField appends f and indexes it under both handles.
func (v *VM) RegisterField(f *FieldVertex) int {
	idx := len(v.Fields)
	v.Fields = append(v.Fields, f)
	v.fieldByDex[f.Dex] = idx
	v.fieldByJvm[f.Jvm] = idx
	return idx
}

// RegisterAlias registers an additional JVM handle for an already-loaded
// class, used when an initiating loader different from the defining
// loader first requests a class: the initiating handle is cached in the
// class graph's lookup table.
func (v *VM) RegisterAlias(jvmHdl hdl.JvmTypeHandle, classIdx int) {
	v.classByJvm[jvmHdl] = classIdx
}

// AddOverride records a virtual-override edge.
func (v *VM) AddOverride(super, sub int) {
	v.Overrides = append(v.Overrides, Override{Super: super, Sub: sub})
}

// FieldWidth returns the byte width for a field's descriptor first
// character: 1 for B/Z, 2 for S/C, 8 for J/D, and 4 for everything else
// including references.
func FieldWidth(descChar byte) uint8 {
	switch descChar {
	case 'B', 'Z':
		return 1
	case 'S', 'C':
		return 2
	case 'J', 'D':
		return 8
	default:
		return 4
	}
}
