// Package proptree is a tiny named tree used to aggregate per-class and
// per-method analysis results for display, ported from jitana's
// property_tree.hpp (a thin wrapper over boost::property_tree::ptree
// offering name-filtered child iteration). This module has no XML/INI
// parsing needs, so only the named-tree-of-values shape is kept.
package proptree

// Tree is a named node carrying a value of type T and an ordered list of
// named children. Child names are not required to be unique, mirroring
// ptree's multimap-of-children semantics.
type Tree[T any] struct {
	Name     string
	Value    T
	children []*Tree[T]
}

// New builds a leaf node.
func New[T any](name string, value T) *Tree[T] {
	return &Tree[T]{Name: name, Value: value}
}

// AddChild appends a child node and returns it.
func (t *Tree[T]) AddChild(name string, value T) *Tree[T] {
	child := New(name, value)
	t.children = append(t.children, child)
	return child
}

// Children returns every direct child, in insertion order.
func (t *Tree[T]) Children() []*Tree[T] {
	return t.children
}

// ChildElements returns the direct children named elementName, the Go
// equivalent of property_tree.hpp's child_elements filter-iterator.
func (t *Tree[T]) ChildElements(elementName string) []*Tree[T] {
	var out []*Tree[T]
	for _, c := range t.children {
		if c.Name == elementName {
			out = append(out, c)
		}
	}
	return out
}

// Walk calls fn for t and every descendant, depth-first pre-order, with
// depth starting at 0 for t itself.
func (t *Tree[T]) Walk(fn func(node *Tree[T], depth int)) {
	t.walk(fn, 0)
}

func (t *Tree[T]) walk(fn func(node *Tree[T], depth int), depth int) {
	fn(t, depth)
	for _, c := range t.children {
		c.walk(fn, depth+1)
	}
}
