package insn

import (
	"testing"

	"github.com/dexgraph/dexgraph/hdl"
)

func TestInstructionEquality(t *testing.T) {
	f := hdl.DexFileHandle{Loader: hdl.ClassLoaderHandle{0}, Idx: 1}

	i0 := NewSimple(OpMove, 0, 1)
	i1 := NewSimple(OpMove, 0, 1)
	i2 := NewSimple(OpMove, 0, 2)

	if !Equal(i0, i1) {
		t.Error("i0 should equal i1")
	}
	if Equal(i0, i2) {
		t.Error("i0 should not equal i2")
	}

	mkIput := func(nameIdx uint16) Insn {
		i := NewSimple(OpIputObject, 0, 1)
		i.PayloadKind = PayloadField
		i.FieldValue = hdl.DexFieldHandle{File: f, Idx: nameIdx}
		return i
	}
	i4 := mkIput(3)
	i5 := mkIput(4)

	i6 := NewSimple(OpIgetObject, 0, 1)
	i6.PayloadKind = PayloadField
	i6.FieldValue = hdl.DexFieldHandle{File: f, Idx: 3}

	if Equal(i4, i5) {
		t.Error("i4 should not equal i5 (different field)")
	}
	if Equal(i4, i6) {
		t.Error("i4 should not equal i6 (different opcode)")
	}
	if i4.Op != i5.Op {
		t.Error("op(i4) should equal op(i5)")
	}
	if i4.Op == i6.Op {
		t.Error("op(i4) should not equal op(i6)")
	}

	u4, u6 := i4.ExpandRegs(), i6.ExpandRegs()
	if len(u4) != len(u6) {
		t.Fatalf("regs(i4) and regs(i6) should have equal length, got %v vs %v", u4, u6)
	}
	for idx := range u4 {
		if u4[idx] != u6[idx] {
			t.Errorf("regs(i4) != regs(i6): %v vs %v", u4, u6)
		}
	}

	if i4.FieldValue == i5.FieldValue {
		t.Error("const_val(i4) should not equal const_val(i5)")
	}
	if i4.FieldValue == i6.FieldValue {
		// i6 happens to share the field handle with i4, but via iget,
		// not iput -- Equal() above already distinguishes them by op.
		// This just documents that FieldValue alone is not discriminating.
	}
}

func TestDefsUsesSimpleMove(t *testing.T) {
	i := NewSimple(OpMove, 0, 1)
	if got := Defs(i); len(got) != 1 || got[0] != 0 {
		t.Errorf("Defs(move v0,v1) = %v, want [0]", got)
	}
	if got := Uses(i); len(got) != 1 || got[0] != 1 {
		t.Errorf("Uses(move v0,v1) = %v, want [1]", got)
	}
}

func TestDefsUsesCheckCastInPlace(t *testing.T) {
	i := NewSimple(OpCheckCast, 2)
	if got := Defs(i); len(got) != 1 || got[0] != 2 {
		t.Errorf("Defs(check-cast v2) = %v, want [2]", got)
	}
	if got := Uses(i); len(got) != 1 || got[0] != 2 {
		t.Errorf("Uses(check-cast v2) = %v, want [2] (destination is also a use)", got)
	}
}

func TestDefsUsesInvokeSetsResultNotDestRegister(t *testing.T) {
	i := NewSimple(OpInvokeStatic, 0, 1)
	if got := Defs(i); len(got) != 1 || got[0] != hdl.RegResult {
		t.Errorf("Defs(invoke-static) = %v, want [vR]", got)
	}
	if got := Uses(i); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("Uses(invoke-static v0,v1) = %v, want [0 1]", got)
	}
}

func TestExpandRegsRange(t *testing.T) {
	i := NewRange(OpInvokeStaticRange, 2, 5)
	regs := i.ExpandRegs()
	want := []int16{2, 3, 4, 5}
	if len(regs) != len(want) {
		t.Fatalf("ExpandRegs() = %v, want %v", regs, want)
	}
	for idx := range want {
		if regs[idx] != want[idx] {
			t.Fatalf("ExpandRegs() = %v, want %v", regs, want)
		}
	}
}

func TestOpInfoFlags(t *testing.T) {
	if !Info(OpInvokeVirtual).Flags.Has(CanVirtuallyInvoke) {
		t.Error("invoke-virtual should be can_virtually_invoke")
	}
	if !Info(OpInvokeStatic).Flags.Has(CanDirectlyInvoke) {
		t.Error("invoke-static should be can_directly_invoke")
	}
	if !Info(OpInvokeVirtualQuick).Flags.Has(OdexOnly) {
		t.Error("invoke-virtual-quick should be odex_only")
	}
	if Info(OpInvokeVirtual).Flags.Has(OdexOnly) {
		t.Error("invoke-virtual should not be odex_only")
	}
}
