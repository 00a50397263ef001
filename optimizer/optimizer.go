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

// Package optimizer rewrites a parsed ast.Node tree in place into the
// denser form the JIT back end consumes: dead loops are pruned using a
// three-valued cell-state abstraction, dead code past the last observable
// effect is dropped, and maximal add/move runs are fused into ADDMOVE
// superinstructions.
//
// Grounded on original_source/optimizer.c's three-pass structure; the one
// deliberate departure is the non-terminating-loop strengthening in pass1
// (see the pass1 doc), which the reference implementation does not
// perform but the specification calls for.
package optimizer

import "github.com/launix-de/bfjit/ast"

// CellState is the optimizer's three-valued abstraction of the cell under
// the head at a given point in the sibling list. Deliberately not an
// ordered int (per the reference's design notes): the three states do not
// form a lattice a caller should compare with <.
type CellState uint8

const (
	CellUnknown CellState = iota
	CellZero
	CellNonzero
)

// Optimize runs all three passes over root (the top-level sibling list)
// and returns the rewritten list. root may be mutated in place; callers
// should not retain references into the pre-optimized tree.
func Optimize(root *ast.Node) *ast.Node {
	pass1(&root, CellZero)
	pass2(&root)
	pass3(&root)
	return root
}

// pass1 walks the sibling list pointed to by p, coalescing adjacent
// same-kind ADD/MOVE nodes (folding ADD values modulo 256 and dropping
// nodes that fold to zero), and eliminating LOOPs that provably cannot
// run (incoming cell state CellZero) or provably never terminate
// (incoming state CellNonzero and the body, run with an incoming state of
// CellNonzero, leaves the cell CellNonzero — in that case every sibling
// after the loop is unreachable and is dropped too).
//
// cell is the abstract state of the cell under the head just before *p.
// Returns the abstract state of the cell after the (possibly shortened)
// list has run.
func pass1(p **ast.Node, cell CellState) CellState {
	for *p != nil {
		n := *p
		switch n.Kind {
		case ast.KindMove, ast.KindAdd:
			for n.Next != nil && n.Next.Kind == n.Kind {
				n.Value += n.Next.Value
				n.Next = n.Next.Next
			}
			if n.Kind == ast.KindAdd {
				n.Value = int(ast.ClampByte(n.Value))
			}
			if n.Value == 0 {
				*p = n.Next
				continue
			}
			if n.Kind == ast.KindAdd {
				if cell == CellZero {
					cell = CellNonzero
				} else {
					cell = CellUnknown
				}
			} else {
				cell = CellUnknown
			}

		case ast.KindCall:
			cell = CellUnknown

		case ast.KindLoop:
			if cell == CellZero {
				*p = n.Next
				continue
			}
			bodyEnd := pass1(&n.Child, CellNonzero)
			if cell == CellNonzero && bodyEnd == CellNonzero {
				// The cell entered nonzero and the body (run
				// straight-line, ignoring the implicit repeat) leaves
				// it nonzero again: the loop can never see a zero cell
				// and so never exits. Nothing after it is reachable.
				n.Next = nil
				return CellNonzero
			}
			cell = CellZero

		default:
			cell = CellUnknown
		}

		p = &n.Next
	}
	return cell
}

// pass2 drops every sibling in the root list after the last LOOP or CALL:
// with no side-effecting operation left, nothing past that point can be
// observed. Only applied to the top-level list, matching the reference
// implementation (loop bodies are left to pass3 without a dead-tail pass
// of their own — a loop body's tail before the implicit repeat is not
// dead, since it affects the next iteration's cell state).
func pass2(p **ast.Node) {
	end := p
	for cur := *p; cur != nil; cur = cur.Next {
		if cur.Kind == ast.KindLoop || cur.Kind == ast.KindCall {
			end = &cur.Next
		}
	}
	*end = nil
}

// pass3 recursively fuses every maximal run of ADD/MOVE nodes (including
// single-node runs, for uniformity in the code generator) into one
// ADDMOVE node each.
func pass3(p **ast.Node) {
	for *p != nil {
		n := *p
		if n.Kind == ast.KindAdd || n.Kind == ast.KindMove {
			q := &n.Next
			for *q != nil && ((*q).Kind == ast.KindAdd || (*q).Kind == ast.KindMove) {
				q = &(*q).Next
			}
			tail := *q
			*q = nil
			fused := collapse(n)
			fused.Next = tail
			*p = fused
		} else {
			if n.Kind == ast.KindLoop {
				pass3(&n.Child)
			}
			p = &n.Next
		}
	}
}

// collapse fuses the ADD/MOVE run starting at head (a NUL-terminated
// sibling list containing only ADD/MOVE nodes) into a single ADDMOVE node.
func collapse(head *ast.Node) *ast.Node {
	begin, end, pos := 0, 1, 0
	for n := head; n != nil; n = n.Next {
		if n.Kind != ast.KindMove {
			continue
		}
		pos += n.Value
		if pos >= end {
			end = pos + 1
		} else if pos < begin {
			begin = pos
		}
	}

	add := make([]int8, end-begin)
	pos = 0
	for n := head; n != nil; n = n.Next {
		if n.Kind == ast.KindMove {
			pos += n.Value
		} else {
			add[pos-begin] += int8(n.Value)
		}
	}

	// Compress [begin, end) from both ends, keeping every non-zero entry
	// and both head positions 0 and pos (the final offset) in range.
	for begin < 0 && begin < pos && add[0] == 0 {
		begin++
		add = add[1:]
	}
	for end > 1 && end-1 > pos && add[len(add)-1] == 0 {
		end--
		add = add[:len(add)-1]
	}

	return &ast.Node{
		Kind:  ast.KindAddMove,
		Value: pos,
		Begin: begin,
		End:   end,
		Add:   add,
		Span:  ast.Span{Begin: head.Span.Begin, End: ast.Last(head).Span.End},
	}
}
