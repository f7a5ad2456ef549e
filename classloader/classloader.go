// Package classloader implements the class-loading algorithm and the
// loader-graph search it shares with external lookup: loading one class
// on demand, building its inheritance edges, vtable,
// dtable, and static/instance field layouts, and the depth-first search
// over the loader hierarchy that both on-demand loading and external
// find_class/find_method/find_field calls use.
package classloader

import (
	"fmt"

	"github.com/dexgraph/dexgraph/dexerr"
	"github.com/dexgraph/dexgraph/dexfile"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/insngraph"
	"github.com/dexgraph/dexgraph/vm"
)

// FindClass performs a loader-graph depth-first search: start at
// jvmHdl.Loader, visit that loader's own files first, then
// recurse into its parents in order (so parents are searched before
// siblings of other roots), skipping already-visited loaders. The first
// loader whose files define the class wins; if tryLoad is set and no
// loaded class exists yet under that handle, Load is invoked. The
// initiating jvmHdl is cached in the class graph's lookup table (via
// aliasJvmHandle) when a loader other than jvmHdl.Loader defines the class.
func FindClass(v *vm.VM, jvmHdl hdl.JvmTypeHandle, tryLoad bool) (int, error) {
	if idx, ok := v.ClassByJvm(jvmHdl); ok {
		return idx, nil
	}
	if !tryLoad {
		return 0, dexerr.New(dexerr.NotFound, "class not loaded: "+jvmHdl.String())
	}

	visited := make(map[hdl.ClassLoaderHandle]bool)
	return searchLoader(v, jvmHdl.Loader, jvmHdl, visited)
}

func searchLoader(v *vm.VM, loaderHdl hdl.ClassLoaderHandle, jvmHdl hdl.JvmTypeHandle, visited map[hdl.ClassLoaderHandle]bool) (int, error) {
	if visited[loaderHdl] {
		return 0, dexerr.New(dexerr.NotFound, "class not found: "+jvmHdl.String())
	}
	visited[loaderHdl] = true

	loader := v.Loader(loaderHdl)
	if loader == nil {
		return 0, dexerr.New(dexerr.InvalidHandle, "unknown loader")
	}

	if idx, err := Load(v, loaderHdl, jvmHdl.Descriptor); err == nil {
		if loaderHdl != jvmHdl.Loader {
			aliasJvmHandle(v, jvmHdl, idx)
		}
		return idx, nil
	} else if !dexerr.Is(err, dexerr.NotFound) {
		return 0, err
	}

	for _, parent := range loader.Parents {
		if idx, err := searchLoader(v, parent, jvmHdl, visited); err == nil {
			return idx, nil
		}
	}
	return 0, dexerr.New(dexerr.NotFound, "class not found in loader hierarchy: "+jvmHdl.String())
}

// aliasJvmHandle registers an additional JVM handle for an already-loaded
// class, used when an initiating loader different from the defining
// loader first requests a class: the initiating handle is cached in the
// class graph's lookup table.
func aliasJvmHandle(v *vm.VM, jvmHdl hdl.JvmTypeHandle, classIdx int) {
	if _, ok := v.ClassByJvm(jvmHdl); ok {
		return
	}
	v.RegisterAlias(jvmHdl, classIdx)
}

// Load loads the class named desc as seen by loaderHdl's own files only
// (no loader-hierarchy search). FindClass wraps this with the
// loader-graph DFS. Returns a dexerr.NotFound error if loaderHdl's own
// files do not define desc.
func Load(v *vm.VM, loaderHdl hdl.ClassLoaderHandle, desc string) (int, error) {
	jvmHdl := hdl.JvmTypeHandle{Loader: loaderHdl, Descriptor: desc}
	if idx, ok := v.ClassByJvm(jvmHdl); ok {
		return idx, nil
	}

	loader := v.Loader(loaderHdl)
	if loader == nil {
		return 0, dexerr.New(dexerr.InvalidHandle, "unknown loader")
	}

	var file *dexfile.File
	var fileHdl hdl.DexFileHandle
	var classDefIdx int
	found := false
	for i, f := range loader.Files {
		if cdi, ok := f.ClassDefByDescriptor(desc); ok {
			file = f
			fileHdl = hdl.DexFileHandle{Loader: loaderHdl, Idx: uint8(i)}
			classDefIdx = cdi
			found = true
			break
		}
	}
	if !found {
		return 0, dexerr.New(dexerr.NotFound, "class not defined in loader's files: "+desc)
	}

	cd := file.ClassDefs[classDefIdx]
	dexHdl := hdl.DexTypeHandle{File: fileHdl, Idx: uint16(cd.ClassIdx)}

	class := &vm.ClassVertex{
		Dex:         dexHdl,
		Jvm:         jvmHdl,
		AccessFlags: cd.AccessFlags,
		SuperIdx:    -1,
	}

	// Step 3: superclass and interfaces, recursively through the loader
	// hierarchy.
	if cd.SuperclassIdx != dexfile.NoIndex {
		superDesc := file.TypeDescriptor(cd.SuperclassIdx)
		superIdx, err := FindClass(v, hdl.JvmTypeHandle{Loader: loaderHdl, Descriptor: superDesc}, true)
		if err != nil {
			return 0, fmt.Errorf("loading superclass %s of %s: %w", superDesc, desc, err)
		}
		class.SuperIdx = superIdx
	}

	interfaceTypeIdxs, err := file.TypeList(cd.InterfacesOff)
	if err != nil {
		return 0, err
	}
	for _, typeIdx := range interfaceTypeIdxs {
		ifaceDesc := file.TypeDescriptor(typeIdx)
		ifaceIdx, err := FindClass(v, hdl.JvmTypeHandle{Loader: loaderHdl, Descriptor: ifaceDesc}, true)
		if err != nil {
			return 0, fmt.Errorf("loading interface %s of %s: %w", ifaceDesc, desc, err)
		}
		class.InterfaceIdx = append(class.InterfaceIdx, ifaceIdx)
	}

	// Step 4: walk the class data. declaringIdx is the index this class
	// will occupy once RegisterClass runs below: nothing between here and
	// that call appends to v.Classes, since field/method vertex creation
	// resolves signatures only and never recursively loads another class.
	classData, err := file.ClassData(classDefIdx)
	if err != nil {
		return 0, err
	}
	declaringIdx := len(v.Classes)

	if err := loadFields(v, class, declaringIdx, file, fileHdl, classData); err != nil {
		return 0, err
	}

	dtable, err := loadDirectMethods(v, class, declaringIdx, file, fileHdl, classData)
	if err != nil {
		return 0, err
	}
	class.Dtable = dtable

	vtable, err := loadVirtualMethods(v, class, declaringIdx, file, fileHdl, classData)
	if err != nil {
		return 0, err
	}
	class.Vtable = vtable

	// Step 5: class vertex with computed sizes was already populated by
	// loadFields. Step 6: super/interface edges are implicit in
	// SuperIdx/InterfaceIdx; this insertion point must come last since it
	// is what makes the class visible to other lookups.
	idx := v.RegisterClass(class)
	return idx, nil
}

func loadFields(v *vm.VM, class *vm.ClassVertex, declaringIdx int, file *dexfile.File, fileHdl hdl.DexFileHandle, cd dexfile.ClassData) error {
	var superStatic, superInstance []hdl.DexFieldHandle
	var staticSize, instanceSize uint32
	if class.SuperIdx >= 0 {
		super := v.Classes[class.SuperIdx]
		superStatic = append(superStatic, super.StaticFields...)
		superInstance = append(superInstance, super.InstanceFields...)
		staticSize = super.StaticSize
		instanceSize = super.InstanceSize
	}

	class.StaticFields = append(class.StaticFields, superStatic...)
	class.InstanceFields = append(class.InstanceFields, superInstance...)

	addField := func(ef dexfile.EncodedField, static bool) error {
		name, typeDesc, err := file.FieldSignature(uint16(ef.FieldIdx))
		if err != nil {
			return err
		}
		descChar := byte(0)
		if len(typeDesc) > 0 {
			descChar = typeDesc[0]
		}
		width := vm.FieldWidth(descChar)
		var offset uint32
		if static {
			offset = staticSize
			staticSize += uint32(width)
		} else {
			offset = instanceSize
			instanceSize += uint32(width)
		}
		fv := &vm.FieldVertex{
			Dex:            hdl.DexFieldHandle{File: fileHdl, Idx: uint16(ef.FieldIdx)},
			Jvm:            hdl.JvmFieldHandle{Type: class.Jvm, UniqueName: hdl.FieldUniqueName(name, typeDesc)},
			DeclaringClass: declaringIdx,
			AccessFlags:    ef.AccessFlags,
			Static:         static,
			Offset:         offset,
			Width:          width,
			DescChar:       descChar,
		}
		v.RegisterField(fv)
		if static {
			class.StaticFields = append(class.StaticFields, fv.Dex)
		} else {
			class.InstanceFields = append(class.InstanceFields, fv.Dex)
		}
		return nil
	}

	for _, ef := range cd.StaticFields {
		if err := addField(ef, true); err != nil {
			return err
		}
	}
	for _, ef := range cd.InstanceFields {
		if err := addField(ef, false); err != nil {
			return err
		}
	}

	class.StaticSize = staticSize
	class.InstanceSize = instanceSize
	return nil
}

func loadDirectMethods(v *vm.VM, class *vm.ClassVertex, declaringIdx int, file *dexfile.File, fileHdl hdl.DexFileHandle, cd dexfile.ClassData) ([]hdl.DexMethodHandle, error) {
	var dtable []hdl.DexMethodHandle
	if class.SuperIdx >= 0 {
		dtable = append(dtable, v.Classes[class.SuperIdx].Dtable...)
	}
	for _, em := range cd.DirectMethods {
		mv, err := buildMethodVertex(v, class, declaringIdx, file, fileHdl, em)
		if err != nil {
			return nil, err
		}
		v.RegisterMethod(mv)
		dtable = append(dtable, mv.Dex)
	}
	return dtable, nil
}

func loadVirtualMethods(v *vm.VM, class *vm.ClassVertex, declaringIdx int, file *dexfile.File, fileHdl hdl.DexFileHandle, cd dexfile.ClassData) ([]hdl.DexMethodHandle, error) {
	var vtable []hdl.DexMethodHandle
	if class.SuperIdx >= 0 {
		vtable = append(vtable, v.Classes[class.SuperIdx].Vtable...)
	}
	inheritedCount := len(vtable)

	for _, em := range cd.VirtualMethods {
		mv, err := buildMethodVertex(v, class, declaringIdx, file, fileHdl, em)
		if err != nil {
			return nil, err
		}
		newIdx := v.RegisterMethod(mv)

		overriddenSlot := -1
		for slot := 0; slot < inheritedCount; slot++ {
			inherited, ok := v.MethodByDex(vtable[slot])
			if !ok {
				continue
			}
			if v.Methods[inherited].Jvm.UniqueName == mv.Jvm.UniqueName {
				overriddenSlot = slot
				break
			}
		}
		if overriddenSlot >= 0 {
			superMethodHdl := vtable[overriddenSlot]
			if superIdx, ok := v.MethodByDex(superMethodHdl); ok {
				v.AddOverride(superIdx, newIdx)
			}
			vtable[overriddenSlot] = mv.Dex
		} else {
			vtable = append(vtable, mv.Dex)
		}
	}
	return vtable, nil
}

func buildMethodVertex(v *vm.VM, class *vm.ClassVertex, declaringIdx int, file *dexfile.File, fileHdl hdl.DexFileHandle, em dexfile.EncodedMethod) (*vm.MethodVertex, error) {
	name, paramDescs, returnDesc, err := file.MethodSignature(uint16(em.MethodIdx))
	if err != nil {
		return nil, err
	}
	uniqueName := hdl.MethodUniqueName(name, dexfile.MethodDescriptor(paramDescs, returnDesc))

	mv := &vm.MethodVertex{
		Dex:            hdl.DexMethodHandle{File: fileHdl, Idx: uint16(em.MethodIdx)},
		Jvm:            hdl.JvmMethodHandle{Type: class.Jvm, UniqueName: uniqueName},
		DeclaringClass: declaringIdx,
		AccessFlags:    em.AccessFlags,
		ParamDescs:     paramDescs,
		ReturnDesc:     returnDesc,
	}

	if em.CodeOff != 0 {
		g, err := insngraph.Build(file, fileHdl, mv.Dex, em.CodeOff, returnDesc)
		if err != nil {
			return nil, fmt.Errorf("building instruction graph for %s: %w", uniqueName, err)
		}
		mv.Graph = g

		ci, err := file.CodeItem(em.CodeOff)
		if err == nil && ci.DebugInfoOff != 0 {
			if di, err := file.ParseDebugInfo(ci.DebugInfoOff); err == nil {
				mv.ParamNames = di.ParameterNames
			}
		}
	}

	return mv, nil
}

// FindMethod resolves jvmHdl to a method index, loading its declaring
// class first via FindClass if necessary. FindField is analogous but
// requires the class to be loaded first too.
func FindMethod(v *vm.VM, jvmHdl hdl.JvmMethodHandle, tryLoad bool) (int, error) {
	if idx, ok := v.MethodByJvm(jvmHdl); ok {
		return idx, nil
	}
	if _, err := FindClass(v, jvmHdl.Type, tryLoad); err != nil {
		return 0, err
	}
	if idx, ok := v.MethodByJvm(jvmHdl); ok {
		return idx, nil
	}
	return 0, dexerr.New(dexerr.NotFound, "method not found: "+jvmHdl.String())
}

// FindField resolves jvmHdl to a field index, loading its declaring class
// first via FindClass if necessary.
func FindField(v *vm.VM, jvmHdl hdl.JvmFieldHandle, tryLoad bool) (int, error) {
	if idx, ok := v.FieldByJvm(jvmHdl); ok {
		return idx, nil
	}
	if _, err := FindClass(v, jvmHdl.Type, tryLoad); err != nil {
		return 0, err
	}
	if idx, ok := v.FieldByJvm(jvmHdl); ok {
		return idx, nil
	}
	return 0, dexerr.New(dexerr.NotFound, "field not found: "+jvmHdl.String())
}
