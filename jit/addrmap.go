/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package jit

import (
	"github.com/google/btree"

	"github.com/launix-de/bfjit/ast"
)

// AddrMap maps a code-buffer offset back to the most specific ast.Node
// whose generated code contains it — the debugger resolves a trapped
// instruction pointer through this, and the profiler resolves a sampled
// one. Top-level siblings are indexed in a btree (storage/index.go's
// deltaBtree is the grounding for NewG/ReplaceOrInsert here) for O(log n)
// lookup; a matching LOOP node is then descended into linearly, since a
// loop body's sibling count is small relative to the whole program.
type AddrMap struct {
	top *btree.BTreeG[spanEntry]
}

type spanEntry struct {
	node *ast.Node
}

func lessSpan(a, b spanEntry) bool {
	return a.node.Code.Begin < b.node.Code.Begin
}

// NewAddrMap indexes every top-level sibling of root by its Code.Begin.
func NewAddrMap(root *ast.Node) *AddrMap {
	t := btree.NewG(8, lessSpan)
	for cur := root; cur != nil; cur = cur.Next {
		t.ReplaceOrInsert(spanEntry{node: cur})
	}
	return &AddrMap{top: t}
}

// Lookup returns the most specific node whose Code span contains offset,
// or nil if offset falls outside every top-level node's span (true only
// for offsets in the shared prologue/epilogue, which no node owns).
func (m *AddrMap) Lookup(offset int32) *ast.Node {
	pivot := spanEntry{node: &ast.Node{Code: ast.CodeSpan{Begin: offset}}}
	var found *ast.Node
	m.top.DescendLessOrEqual(pivot, func(e spanEntry) bool {
		if e.node.Code.Contains(offset) {
			found = e.node
		}
		return false
	})
	if found == nil {
		return nil
	}
	return descendInto(found, offset)
}

func descendInto(n *ast.Node, offset int32) *ast.Node {
	if n.Kind != ast.KindLoop {
		return n
	}
	for cur := n.Child; cur != nil; cur = cur.Next {
		if cur.Code.Contains(offset) {
			return descendInto(cur, offset)
		}
	}
	return n
}
