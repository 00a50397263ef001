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

// cellState mirrors the optimizer's three-valued abstraction, tracked
// independently here so the generator stays correct even on a tree the
// optimizer never touched. See SPEC_FULL.md §4.4.
type cellState uint8

const (
	cellUnknown cellState = iota
	cellZero
	cellNonzero
)

// pageSize matches tape.Tape's alignment on every Linux/amd64 target this
// backend runs on; genMove uses it to decide when a move must be split
// into page-sized, bounds-probed strides.
const pageSize = 1 << 12

// codegen carries the two dataflow bits (cell_value/zf_valid) through one
// Generate call, plus the wrap-check flag.
//
// Branch encoding: unlike original_source/vm.c, which picks between a
// short (rel8) and near (rel32) displacement per branch to save bytes,
// every conditional/unconditional branch here always uses the near
// (rel32) form. The short form's size feeds back into the insert-then-
// splice position of an enclosing loop's own prefix, and that prefix's
// size in turn shifts the enclosing loop's distances — picking short vs.
// near correctly in the face of arbitrarily nested loops needs a fixed-
// point/relaxation pass this generator does not implement. Always-near
// keeps every distance computation monotonic and resolvable in one final
// ResolveFixups pass; see DESIGN.md.
type codegen struct {
	w         *Writer
	wrapCheck bool
	cell      cellState
	zf        bool

	// nodes records every node whose Code span has been finalized, in the
	// order finalized. A later Insert (an enclosing loop's own forward-test
	// splice) walks this list through w.relocate to keep every descendant's
	// span in sync with the bytes it actually names.
	nodes []*ast.Node
}

// Generate compiles root into a fresh code buffer implementing the
// (head_ptr, callback_vector) -> head_ptr contract described in abi.go.
func Generate(root *ast.Node, wrapCheck bool) *Writer {
	w := &Writer{}
	g := &codegen{w: w, wrapCheck: wrapCheck, cell: cellZero, zf: false}
	w.relocate = func(pos, delta int) {
		for _, nd := range g.nodes {
			if int(nd.Code.Begin) >= pos {
				nd.Code.Begin += int32(delta)
			}
			if int(nd.Code.End) >= pos {
				nd.Code.End += int32(delta)
			}
		}
	}
	g.emitPrologue()
	g.genList(root)
	g.emitBoundsProbe()
	g.emitEpilogue()
	w.ResolveFixups()
	return w
}

func (g *codegen) genList(n *ast.Node) {
	for cur := n; cur != nil; cur = cur.Next {
		g.genNode(cur)
	}
}

func (g *codegen) genNode(n *ast.Node) {
	begin := g.w.Len()
	switch n.Kind {
	case ast.KindAddMove:
		// A genuine optimizer-fused run never wrap-checks its at-head delta:
		// original_source/vm.c's OP_ADD_MOVE case has no wrap-check callback,
		// only the standalone OP_ADD case does.
		g.genAddMove(n, int32(begin), false)
	case ast.KindAdd:
		g.genAddMove(&ast.Node{Kind: ast.KindAddMove, Value: 0, Begin: 0, End: 1, Add: []int8{ast.ClampByte(n.Value)}}, int32(begin), true)
	case ast.KindMove:
		g.genMove(n.Value)
		g.cell, g.zf = cellUnknown, false
	case ast.KindCall:
		g.genCall(n.Value, int32(begin))
	case ast.KindLoop:
		g.genLoop(n)
	}
	n.Code.Begin = int32(begin)
	n.Code.End = int32(g.w.Len())
	g.nodes = append(g.nodes, n)
}

// genMove emits H += n. Distances over one page are split into page-sized
// strides, each followed by a bounds probe, so a move cannot skip past
// the right guard page without the probe's read faulting on it; the
// remainder is then emitted as a single immediate add.
func (g *codegen) genMove(n int) {
	for n > pageSize {
		g.w.emitAddRegImm32(RegH, pageSize)
		g.emitBoundsProbe()
		n -= pageSize
	}
	for n < -pageSize {
		g.w.emitAddRegImm32(RegH, -pageSize)
		g.emitBoundsProbe()
		n += pageSize
	}
	switch {
	case n == 0:
		// nop
	case n >= -128 && n <= 127:
		g.w.emitAddRegImm8(RegH, int8(n))
	default:
		g.w.emitAddRegImm32(RegH, int32(n))
	}
	if n != 0 {
		g.emitBoundsProbe()
	}
}

func (g *codegen) emitBoundsProbe() {
	g.w.emitTestByteMem(RegH, 0)
}

// genAddMove lowers a fused ADDMOVE node per SPEC_FULL.md §4.4: every
// off-head delta first (in ascending offset order), then the head
// movement, then the at-head delta last so the machine ZF reflects the
// new cell. allowWrapCheck is false for a genuine optimizer-fused run
// (original_source/vm.c never wrap-checks OP_ADD_MOVE) and true for the
// single-ADD path in genNode, which reuses this function's emission shape
// for a node that is really just one standalone ADD.
func (g *codegen) genAddMove(n *ast.Node, siteOffset int32, allowWrapCheck bool) {
	offHead := false
	for p := n.Begin; p < n.End; p++ {
		if p == n.Value {
			continue
		}
		if d := n.Add[p-n.Begin]; d != 0 {
			g.emitAddAt(int32(p), int(d))
			offHead = true
		}
	}
	g.genMove(n.Value)
	if n.Value != 0 {
		g.cell = cellUnknown
	}
	d := int8(0)
	if n.Value >= n.Begin && n.Value < n.End {
		d = n.Add[n.Value-n.Begin]
	}
	if d != 0 {
		priorCell := g.cell
		g.emitAddAt(0, int(d))
		g.zf = true
		if g.wrapCheck && allowWrapCheck {
			g.emitWrapCheck(int(d), siteOffset)
			g.zf = false // a taken wrapped-callback call leaves ZF undefined
		}
		if priorCell == cellZero {
			g.cell = cellNonzero
		} else {
			g.cell = cellUnknown
		}
	} else if n.Value != 0 {
		g.cell, g.zf = cellUnknown, false
	} else if offHead {
		g.zf = false // the off-head adds set ZF for other cells
	}
}

func (g *codegen) emitAddAt(disp int32, delta int) {
	d := int8(delta)
	if d > 0 {
		g.w.emitAddByteMemImm8(RegH, disp, d)
	} else if d < 0 {
		g.w.emitSubByteMemImm8(RegH, disp, -d)
	}
}

// emitWrapCheck follows an ADD/SUB at [H] with a branch over a call to
// the "wrapped" callback, testing the carry flag the add/sub just set.
// When |delta| >= 256 the wrap is certain (ADD values are always held as
// clamped int8s in this generator, so this path is unreachable today, but
// kept for a future non-clamped delta source) and the test is skipped.
func (g *codegen) emitWrapCheck(delta int, siteOffset int32) {
	if delta >= 256 || delta <= -256 {
		g.emitCallback(ast.CallWrapped, siteOffset)
		return
	}
	skip := g.w.ReserveLabel()
	g.w.emitJccNear(ccNC, skip)
	g.emitCallback(ast.CallWrapped, siteOffset)
	g.w.MarkLabel(skip)
}

// genCall loads H into the argument register, calls through the callback
// vector slot for op, and reloads H from the return value (the callback
// may have grown the tape, see abi.go). siteOffset is this CALL node's own
// code offset, recorded in Callbacks.Site immediately before the call so a
// Debug/Wrapped callback can resolve which node invoked it.
func (g *codegen) genCall(op int, siteOffset int32) {
	g.emitCallback(op, siteOffset)
	g.cell, g.zf = cellUnknown, false
}

// emitCallback implements "move H into the first-argument register ...
// call through offset sizeof(pointer)*op of B" (SPEC_FULL.md §4.4):
// RAX <- H, RCX <- *(B + 8*op), call RCX, H <- RAX. The store into
// B+siteFieldOffset happens before the call, through B rather than a
// dedicated register, since B (the callback vector pointer) is already
// live. A Go callback does not preserve R13, so B is pushed before the
// call and popped after it; H needs no saving since it is reloaded from
// the callback's result.
func (g *codegen) emitCallback(op int, siteOffset int32) {
	g.w.emitMovMemImm32(RegB, siteFieldOffset, siteOffset)
	g.w.emitMovRegReg(RegRAX, RegH)
	g.w.emitMovRegReg(RegRCX, RegB)
	g.w.emitAddRegImm32(RegRCX, int32(op*8))
	g.w.Byte(rex(true, RegRCX.needsREX(), false, RegRCX.needsREX()))
	g.w.Bytes(0x8B)
	g.w.emitAddrForm(RegRCX.low3(), RegRCX, 0)
	g.w.emitPush(RegB)
	g.w.emitCallReg(RegRCX)
	g.w.emitPop(RegB)
	g.w.emitMovRegReg(RegH, RegRAX)
}

// genLoop implements the insert-then-splice loop encoding described in
// SPEC_FULL.md §4.4: the body is emitted first (entering with the cell
// known nonzero, per the LOOP-body-starts-with-1 invariant), then the
// backward test is appended, then the forward test — skip the whole body
// when the cell is zero on entry — is built and spliced in at the body's
// recorded start position, which Writer.Insert relocates every position
// after automatically.
func (g *codegen) genLoop(n *ast.Node) {
	if g.tryMultiplyLoop(n) {
		return
	}

	enterCell, enterZF := g.cell, g.zf

	bodyStart := g.w.DefineLabel()
	g.cell, g.zf = cellNonzero, false
	g.genList(n.Child)
	bodyEndCell, bodyEndZF := g.cell, g.zf

	if bodyEndCell != cellZero {
		if !bodyEndZF {
			g.w.emitCmpByteMemImm0(RegH, 0)
		}
		g.w.emitJccNear(ccNZ, bodyStart)
	}

	if enterCell != cellNonzero {
		bodyStartPos := g.w.LabelPos(bodyStart)
		target := g.w.Len()
		prefix := g.buildForwardTest(bodyStartPos, target, enterZF)
		g.w.Insert(bodyStartPos, prefix)
	}

	g.cell, g.zf = cellZero, true
}

// buildForwardTest builds, in a scratch writer, the "skip the body when
// *H == 0" prefix: a compare (unless the machine ZF is already valid on
// entry, per the entry state — not the body's exit state, since this test
// runs before the body ever executes) followed by a near jump whose
// displacement is computed directly from the two (pre-splice) absolute
// positions rather than through Writer's label/fixup machinery.
//
// This sidesteps a circularity: a forward jump's displacement is normally
// (target - end-of-jump-instruction), and Insert shifts both bodyStartPos
// (the splice point) and target (which lies after it) by the spliced
// length once the splice happens — but by exactly the same amount, since
// the jump is always the last instruction in the prefix being spliced in.
// The two shifts cancel, so target-bodyStartPos computed before splicing
// already equals the post-splice displacement; no fixup, and no need to
// know the prefix's own length in advance, is required.
func (g *codegen) buildForwardTest(bodyStartPos, target int, enterZF bool) []byte {
	scratch := &Writer{}
	if !enterZF {
		scratch.emitCmpByteMemImm0(RegH, 0)
	}
	scratch.Bytes(0x0F, 0x80+ccZ)
	scratch.Imm32(int32(target - bodyStartPos))
	return scratch.Code
}
