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

package ast

// arenaBlockSize is the number of Nodes carved out per backing block.
const arenaBlockSize = 256

// Arena is a slab allocator for Node: a parse carves every Node it needs
// out of a handful of backing blocks instead of one heap allocation per
// node, and Release drops them all at once. This is deliberately not a
// sync.Pool — a pool recycles individual objects across unrelated
// callers, where an Arena is owned outright by the one parse that filled
// it and is released as a unit when that parse is done with its tree.
//
// The zero Arena is ready to use.
type Arena struct {
	blocks [][]Node
	next   int // next free index in the last block
}

// New carves a zeroed Node out of the arena, growing it with a fresh
// block first if the current one is full.
func (a *Arena) New() *Node {
	if len(a.blocks) == 0 || a.next == len(a.blocks[len(a.blocks)-1]) {
		a.blocks = append(a.blocks, make([]Node, arenaBlockSize))
		a.next = 0
	}
	n := &a.blocks[len(a.blocks)-1][a.next]
	a.next++
	return n
}

// Release drops every block the arena holds. A released Arena is empty
// and ready to reuse; Nodes it handed out must not be touched afterward.
func (a *Arena) Release() {
	a.blocks = nil
	a.next = 0
}

// Len reports how many Nodes the arena has handed out since the last
// Release, for tests and diagnostics.
func (a *Arena) Len() int {
	if len(a.blocks) == 0 {
		return 0
	}
	return (len(a.blocks)-1)*arenaBlockSize + a.next
}
