package hdl

import "testing"

func TestRegisterHandleString(t *testing.T) {
	m := DexMethodHandle{File: DexFileHandle{Loader: ClassLoaderHandle{0}, Idx: 1}, Idx: 2}

	tests := []struct {
		name string
		reg  RegisterHandle
		want string
	}{
		{"real register", RegisterHandle{Method: m, Reg: 3}, "v3"},
		{"result register", RegisterHandle{Method: m, Reg: RegResult}, "vR"},
		{"exception register", RegisterHandle{Method: m, Reg: RegException}, "vE"},
		{"unknown register", RegisterHandle{Method: m, Reg: -4}, "v?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.reg.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandleStringFormat(t *testing.T) {
	f := DexFileHandle{Loader: ClassLoaderHandle{1}, Idx: 2}
	ty := DexTypeHandle{File: f, Idx: 5}
	me := DexMethodHandle{File: f, Idx: 5}
	fi := DexFieldHandle{File: f, Idx: 5}
	in := DexInsnHandle{File: f, Idx: 5}

	if got, want := f.String(), "1_2"; got != want {
		t.Errorf("DexFileHandle.String() = %q, want %q", got, want)
	}
	if got, want := ty.String(), "1_2_t5"; got != want {
		t.Errorf("DexTypeHandle.String() = %q, want %q", got, want)
	}
	if got, want := me.String(), "1_2_m5"; got != want {
		t.Errorf("DexMethodHandle.String() = %q, want %q", got, want)
	}
	if got, want := fi.String(), "1_2_f5"; got != want {
		t.Errorf("DexFieldHandle.String() = %q, want %q", got, want)
	}
	if got, want := in.String(), "1_2_i5"; got != want {
		t.Errorf("DexInsnHandle.String() = %q, want %q", got, want)
	}
}

func TestHandlesAreComparableMapKeys(t *testing.T) {
	f1 := DexFileHandle{Loader: ClassLoaderHandle{0}, Idx: 0}
	f2 := DexFileHandle{Loader: ClassLoaderHandle{0}, Idx: 0}

	m := map[DexFileHandle]int{f1: 1}
	if _, ok := m[f2]; !ok {
		t.Fatal("equal DexFileHandle values should collide as map keys")
	}
}

func TestTotalOrder(t *testing.T) {
	a := ClassLoaderHandle{0}
	b := ClassLoaderHandle{1}

	if !a.Less(b) {
		t.Errorf("expected %v < %v", a, b)
	}
	if b.Less(a) {
		t.Errorf("expected %v to not be < %v", b, a)
	}
	if a.Less(a) {
		t.Errorf("Less must be irreflexive")
	}
}

func TestMethodAndFieldUniqueName(t *testing.T) {
	if got, want := MethodUniqueName("foo", "(I)V"), "foo(I)V"; got != want {
		t.Errorf("MethodUniqueName = %q, want %q", got, want)
	}
	if got, want := FieldUniqueName("count", "I"), "count:I"; got != want {
		t.Errorf("FieldUniqueName = %q, want %q", got, want)
	}
}
