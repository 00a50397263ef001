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

// emitPrologue implements the (head_ptr, callback_vector) -> head_ptr call
// frame contract: the two arguments arrive in RAX and RBX under Go's
// internal register ABI (see abi.go) and are moved into H/B (R12/R13) for
// the whole body; R12, R13 and the scratch accumulator R15 are saved on
// entry and restored by emitEpilogue. Callbacks do not preserve them, so
// emitCallback saves B around each call and reloads H from its result.
func (g *codegen) emitPrologue() {
	g.w.emitPush(RegH)
	g.w.emitPush(RegB)
	g.w.emitPush(RegScratch)
	g.w.emitMovRegReg(RegH, RegRAX)
	g.w.emitMovRegReg(RegB, RegRBX)
}

// emitEpilogue moves the final head pointer into the return-value register
// and restores the callee-saved registers in the reverse order of the push
// sequence emitPrologue used.
func (g *codegen) emitEpilogue() {
	g.w.emitMovRegReg(RegRAX, RegH)
	g.w.emitPop(RegScratch)
	g.w.emitPop(RegB)
	g.w.emitPop(RegH)
	g.w.emitRet()
}
