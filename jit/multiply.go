//go:build amd64

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

import "github.com/launix-de/bfjit/ast"

// mulTarget is one affected cell in a recognized multiply loop: the cell at
// [H+pos] accumulates absK * currentCell, added if !neg, subtracted if neg.
type mulTarget struct {
	pos  int32
	absK uint8
	neg  bool
}

// tryMultiplyLoop recognizes SPEC_FULL.md §4.4's copy/multiply loop special
// case — a LOOP whose body is exactly one ADDMOVE with net offset 0 and a
// +-1 delta at the head position — and, when matched, emits the straight-
// line bit-parallel replacement directly in place of n's loop encoding.
// Returns false (emitting nothing) when n does not match, leaving genLoop
// to fall back to the general insert-then-splice encoding.
func (g *codegen) tryMultiplyLoop(n *ast.Node) bool {
	child := n.Child
	if child == nil || child.Next != nil || child.Kind != ast.KindAddMove || child.Value != 0 {
		return false
	}
	if 0 < child.Begin || 0 >= child.End {
		return false
	}
	add0 := child.Add[0-child.Begin]
	if add0 != 1 && add0 != -1 {
		return false
	}

	var targets []mulTarget
	for p := child.Begin; p < child.End; p++ {
		if p == 0 {
			continue
		}
		addp := int(child.Add[p-child.Begin])
		if addp == 0 {
			continue
		}
		k := addp
		if add0 == 1 {
			k = -k
		}
		neg := k < 0
		if neg {
			k = -k
		}
		targets = append(targets, mulTarget{pos: int32(p), absK: uint8(k), neg: neg})
	}

	enterCell := g.cell
	begin := g.w.Len()

	var skip int
	needCheck := enterCell != cellNonzero
	if needCheck {
		skip = g.w.ReserveLabel()
		if !g.zf {
			g.w.emitCmpByteMemImm0(RegH, 0)
		}
		g.w.emitJccNear(ccZ, skip)
	}

	g.w.emitMovzxByteRegMem(RegScratch, RegH)
	for bit := 0; bit < 8; bit++ {
		for _, t := range targets {
			if (t.absK>>uint(bit))&1 == 0 {
				continue
			}
			if t.neg {
				g.w.emitSubMemRegByte(RegH, t.pos, RegScratch)
			} else {
				g.w.emitAddMemRegByte(RegH, t.pos, RegScratch)
			}
		}
		if bit != 7 {
			g.w.emitShlReg1(RegScratch)
		}
	}
	g.w.emitMovByteMemImm0(RegH, 0)

	if needCheck {
		g.w.MarkLabel(skip)
	}

	child.Code.Begin = int32(begin)
	child.Code.End = int32(g.w.Len())
	g.nodes = append(g.nodes, child)

	g.cell, g.zf = cellZero, true
	return true
}
