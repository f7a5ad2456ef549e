package analysis

import (
	"reflect"
	"sort"
	"testing"

	"github.com/dexgraph/dexgraph/vm"
)

func TestOverrideSubtreeTransitive(t *testing.T) {
	v := vm.New(nil)
	// Override chain: 0 <- 1 <- 2, and a second direct override 0 <- 3.
	v.Overrides = []vm.Override{
		{Super: 0, Sub: 1},
		{Super: 1, Sub: 2},
		{Super: 0, Sub: 3},
	}

	got := overrideSubtree(v, 0)
	sort.Ints(got)
	want := []int{1, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("overrideSubtree(0) = %v, want %v", got, want)
	}
}

func TestOverrideSubtreeLeaf(t *testing.T) {
	v := vm.New(nil)
	v.Overrides = []vm.Override{{Super: 0, Sub: 1}}

	got := overrideSubtree(v, 1)
	if len(got) != 0 {
		t.Fatalf("overrideSubtree(1) = %v, want empty (1 has no overriders)", got)
	}
}
