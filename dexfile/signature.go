package dexfile

import (
	"strings"

	"github.com/dexgraph/dexgraph/dexerr"
)

// MethodSignature resolves a method_id's name, parameter type
// descriptors, and return type descriptor, used to build the method's
// JVM unique name.
func (file *File) MethodSignature(methodIdx uint16) (name string, paramDescs []string, returnDesc string, err error) {
	if int(methodIdx) >= len(file.Methods) {
		return "", nil, "", dexerr.New(dexerr.InvalidHandle, "method_id index out of range")
	}
	m := file.Methods[methodIdx]
	name = file.GetString(m.NameIdx)
	if int(m.ProtoIdx) >= len(file.Protos) {
		return "", nil, "", dexerr.New(dexerr.InvalidHandle, "proto_id index out of range")
	}
	proto := file.Protos[m.ProtoIdx]
	returnDesc = file.TypeDescriptor(proto.ReturnTypeIdx)
	params, err := file.TypeList(proto.ParametersOff)
	if err != nil {
		return "", nil, "", err
	}
	paramDescs = make([]string, len(params))
	for i, t := range params {
		paramDescs[i] = file.TypeDescriptor(t)
	}
	return name, paramDescs, returnDesc, nil
}

// MethodDescriptor builds the raw "(params)return" descriptor string
// used as the tail of a method's unique name.
func MethodDescriptor(paramDescs []string, returnDesc string) string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range paramDescs {
		b.WriteString(p)
	}
	b.WriteByte(')')
	b.WriteString(returnDesc)
	return b.String()
}

// FieldSignature resolves a field_id's name and type descriptor.
func (file *File) FieldSignature(fieldIdx uint16) (name, typeDesc string, err error) {
	if int(fieldIdx) >= len(file.Fields) {
		return "", "", dexerr.New(dexerr.InvalidHandle, "field_id index out of range")
	}
	f := file.Fields[fieldIdx]
	return file.GetString(f.NameIdx), file.TypeDescriptor(uint32(f.TypeIdx)), nil
}
