package dataflow

import (
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// chainCFG is a, straight-line three-vertex CFG: 0 -> 1 -> 2.
type chainCFG struct{}

func (chainCFG) NumVertices() int { return 3 }
func (chainCFG) Successors(v int) []int {
	switch v {
	case 0:
		return []int{1}
	case 1:
		return []int{2}
	default:
		return nil
	}
}
func (chainCFG) Predecessors(v int) []int {
	switch v {
	case 1:
		return []int{0}
	case 2:
		return []int{1}
	default:
		return nil
	}
}

func intSetEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]int(nil), a...)
	bs := append([]int(nil), b...)
	sort.Ints(as)
	sort.Ints(bs)
	return reflect.DeepEqual(as, bs)
}

func unionComb(a *[]int, b []int) {
	seen := make(map[int]bool, len(*a))
	for _, x := range *a {
		seen[x] = true
	}
	for _, x := range b {
		if !seen[x] {
			*a = append(*a, x)
			seen[x] = true
		}
	}
}

// TestSolveReachingDefsChain propagates a single definition introduced at
// vertex 0 down a straight-line CFG, the simplest possible fixpoint.
func TestSolveReachingDefsChain(t *testing.T) {
	defs := map[int][]int{0: {100}}
	flow := func(v int, in []int, out *[]int) {
		var next []int
		next = append(next, in...)
		next = append(next, defs[v]...)
		*out = next
	}

	res := Solve[[]int](chainCFG{}, nil, unionComb, flow, intSetEqual)

	require.True(t, intSetEqual(res.Out[0], []int{100}), "out[0] = %v, want [100]", res.Out[0])
	require.True(t, intSetEqual(res.In[2], []int{100}), "in[2] = %v, want [100]", res.In[2])
	require.True(t, intSetEqual(res.Out[2], []int{100}), "out[2] = %v, want [100]", res.Out[2])
}

// diamondCFG is 0 -> {1, 2} -> 3, exercising comb's merge of two
// predecessors at the join vertex.
type diamondCFG struct{}

func (diamondCFG) NumVertices() int { return 4 }
func (diamondCFG) Successors(v int) []int {
	switch v {
	case 0:
		return []int{1, 2}
	case 1, 2:
		return []int{3}
	default:
		return nil
	}
}
func (diamondCFG) Predecessors(v int) []int {
	switch v {
	case 1, 2:
		return []int{0}
	case 3:
		return []int{1, 2}
	default:
		return nil
	}
}

func TestSolveMergesAtJoin(t *testing.T) {
	defs := map[int][]int{1: {1}, 2: {2}}
	flow := func(v int, in []int, out *[]int) {
		var next []int
		next = append(next, in...)
		next = append(next, defs[v]...)
		*out = next
	}

	res := Solve[[]int](diamondCFG{}, nil, unionComb, flow, intSetEqual)

	require.True(t, intSetEqual(res.In[3], []int{1, 2}), "in[3] = %v, want [1 2] (union of both branches)", res.In[3])
}

// selfLoopCFG is 0 -> 1 -> 1 (self loop) -> 2, checking the solver
// terminates and reaches a fixpoint across a cycle.
type selfLoopCFG struct{}

func (selfLoopCFG) NumVertices() int { return 3 }
func (selfLoopCFG) Successors(v int) []int {
	switch v {
	case 0:
		return []int{1}
	case 1:
		return []int{1, 2}
	default:
		return nil
	}
}
func (selfLoopCFG) Predecessors(v int) []int {
	switch v {
	case 1:
		return []int{0, 1}
	case 2:
		return []int{1}
	default:
		return nil
	}
}

func TestSolveTerminatesOnSelfLoop(t *testing.T) {
	defs := map[int][]int{1: {7}}
	flow := func(v int, in []int, out *[]int) {
		next := append([]int(nil), in...)
		for _, d := range defs[v] {
			has := false
			for _, x := range next {
				if x == d {
					has = true
				}
			}
			if !has {
				next = append(next, d)
			}
		}
		*out = next
	}

	done := make(chan Result[[]int], 1)
	go func() {
		done <- Solve[[]int](selfLoopCFG{}, nil, unionComb, flow, intSetEqual)
	}()
	var res Result[[]int]
	select {
	case res = <-done:
	case <-time.After(time.Second):
		require.Fail(t, "Solve did not terminate on a self loop")
	}

	require.True(t, intSetEqual(res.Out[2], []int{7}), "out[2] = %v, want [7]", res.Out[2])
}
