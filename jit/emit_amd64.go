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

// Instruction encoders for the subset of x86-64 the code generator needs:
// byte load/store at [H+disp], 8/32-bit immediate adds to a GPR, compare
// of a byte at [H+disp] against zero, short/near conditional jumps, and
// calls through a register. Mirrors the manual encoding style of
// scm/jit_emit_amd64.go, extended with REX.B/R handling for R8-R15 since
// H, B and the scratch register all live above RDI.

func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

// emitMovRegReg: mov dst, src (64-bit).
func (w *Writer) emitMovRegReg(dst, src Reg) {
	w.Byte(rex(true, src.needsREX(), false, dst.needsREX()))
	w.Bytes(0x89, modrm(3, src.low3(), dst.low3()))
}

// emitMovRegImm64: mov dst, imm64.
func (w *Writer) emitMovRegImm64(dst Reg, imm uint64) {
	w.Byte(rex(true, false, false, dst.needsREX()))
	w.Byte(0xB8 + dst.low3())
	w.Imm64(imm)
}

// emitMovRegImm32: mov dst, imm32 (zero-extended into the 64-bit register).
func (w *Writer) emitMovRegImm32(dst Reg, imm int32) {
	if dst.needsREX() {
		w.Byte(rex(false, false, false, true))
	}
	w.Byte(0xB8 + dst.low3())
	w.Imm32(imm)
}

// emitPush/emitPop: push/pop a 64-bit GPR.
func (w *Writer) emitPush(r Reg) {
	if r.needsREX() {
		w.Byte(rex(false, false, false, true))
	}
	w.Byte(0x50 + r.low3())
}

func (w *Writer) emitPop(r Reg) {
	if r.needsREX() {
		w.Byte(rex(false, false, false, true))
	}
	w.Byte(0x58 + r.low3())
}

// addrForm picks the disp0/disp8/disp32 ModRM+displacement encoding for
// [base+disp]. base=RSP/R12 additionally requires a SIB byte, which this
// helper always emits for those two bases (H lives in R12, so every
// [H+disp] operand takes the SIB form).
func (w *Writer) emitAddrForm(reg byte, base Reg, disp int32) {
	needsSIB := base.low3() == 4 // RSP or R12
	switch {
	case disp == 0 && base.low3() != 5: // RBP/R13 cannot use mod=00 disp0
		w.Byte(modrm(0, reg, base.low3()))
		if needsSIB {
			w.Byte(0x24) // SIB: scale=0 index=none base=base
		}
	case disp >= -128 && disp <= 127:
		w.Byte(modrm(1, reg, base.low3()))
		if needsSIB {
			w.Byte(0x24)
		}
		w.Byte(byte(int8(disp)))
	default:
		w.Byte(modrm(2, reg, base.low3()))
		if needsSIB {
			w.Byte(0x24)
		}
		w.Imm32(disp)
	}
}

// emitAddByteMemImm8: addb $imm8, disp(base)  — "ADD v, offset" for v>0.
func (w *Writer) emitAddByteMemImm8(base Reg, disp int32, imm int8) {
	if base.needsREX() {
		w.Byte(rex(false, false, false, true))
	}
	w.Byte(0x80)
	w.emitAddrForm(0, base, disp)
	w.Byte(byte(imm))
}

// emitSubByteMemImm8: subb $imm8, disp(base).
func (w *Writer) emitSubByteMemImm8(base Reg, disp int32, imm int8) {
	if base.needsREX() {
		w.Byte(rex(false, false, false, true))
	}
	w.Byte(0x80)
	w.emitAddrForm(5, base, disp)
	w.Byte(byte(imm))
}

// emitCmpByteMemImm0: cmpb $0, disp(base). Sets ZF = (*[base+disp] == 0).
func (w *Writer) emitCmpByteMemImm0(base Reg, disp int32) {
	if base.needsREX() {
		w.Byte(rex(false, false, false, true))
	}
	w.Byte(0x80)
	w.emitAddrForm(7, base, disp)
	w.Byte(0)
}

// emitTestByteMem: testb $0xff, disp(base). Used as a bounds-probing read
// that touches the byte without altering it or requiring a known ZF use.
func (w *Writer) emitTestByteMem(base Reg, disp int32) {
	if base.needsREX() {
		w.Byte(rex(false, false, false, true))
	}
	w.Byte(0xF6)
	w.emitAddrForm(0, base, disp)
	w.Byte(0xFF)
}

// emitAddRegImm8: add $imm8, reg (64-bit, sign-extended).
func (w *Writer) emitAddRegImm8(reg Reg, imm int8) {
	w.Byte(rex(true, false, false, reg.needsREX()))
	w.Bytes(0x83, modrm(3, 0, reg.low3()), byte(imm))
}

// emitAddRegImm32: add $imm32, reg (64-bit).
func (w *Writer) emitAddRegImm32(reg Reg, imm int32) {
	w.Byte(rex(true, false, false, reg.needsREX()))
	w.Byte(0x81)
	w.Byte(modrm(3, 0, reg.low3()))
	w.Imm32(imm)
}

// emitMovzxByteRegMem: movzx reg, byte (base) — load the byte at [base]
// into reg, zero-extending the rest.
func (w *Writer) emitMovzxByteRegMem(reg, base Reg) {
	rexByte := rex(true, reg.needsREX(), false, base.needsREX())
	w.Byte(rexByte)
	w.Bytes(0x0F, 0xB6)
	w.emitAddrForm(reg.low3(), base, 0)
}

// emitShlReg1: shl reg, 1 (double the register — the bit-parallel
// multiply loop's per-bit step).
func (w *Writer) emitShlReg1(reg Reg) {
	w.Byte(rex(true, false, false, reg.needsREX()))
	w.Bytes(0xD1, modrm(3, 4, reg.low3()))
}

// emitAddMemRegByte: add the low byte of reg to the byte at [base+disp],
// for the multiply loop's scaled writes.
func (w *Writer) emitAddMemRegByte(base Reg, disp int32, reg Reg) {
	if reg.needsREX() || base.needsREX() {
		w.Byte(rex(false, reg.needsREX(), false, base.needsREX()))
	}
	w.Byte(0x00)
	w.emitAddrForm(reg.low3(), base, disp)
}

// emitSubMemRegByte: subtract the low byte of reg from the byte at
// [base+disp].
func (w *Writer) emitSubMemRegByte(base Reg, disp int32, reg Reg) {
	if reg.needsREX() || base.needsREX() {
		w.Byte(rex(false, reg.needsREX(), false, base.needsREX()))
	}
	w.Byte(0x28)
	w.emitAddrForm(reg.low3(), base, disp)
}

// emitMovByteMemImm0: movb $0, disp(base) — zero the cell the multiply
// loop special case just finished folding into its neighbors.
func (w *Writer) emitMovByteMemImm0(base Reg, disp int32) {
	if base.needsREX() {
		w.Byte(rex(false, false, false, true))
	}
	w.Byte(0xC6)
	w.emitAddrForm(0, base, disp)
	w.Byte(0)
}

// emitMovMemImm32: movl $imm32, disp(base) — a 4-byte store, no REX.W since
// the target is always a 32-bit field (Callbacks.Site).
func (w *Writer) emitMovMemImm32(base Reg, disp int32, imm int32) {
	if base.needsREX() {
		w.Byte(rex(false, false, false, true))
	}
	w.Byte(0xC7)
	w.emitAddrForm(0, base, disp)
	w.Imm32(imm)
}

// emitXorRegReg: xor dst, dst (zero a register cheaply).
func (w *Writer) emitXorRegReg(dst Reg) {
	w.Byte(rex(true, dst.needsREX(), false, dst.needsREX()))
	w.Bytes(0x31, modrm(3, dst.low3(), dst.low3()))
}

// Conditional branch opcodes.
const (
	ccZ  = 0x4 // ZF=1 (equal / zero)
	ccNZ = 0x5 // ZF=0 (not equal / nonzero)
	ccC  = 0x2 // CF=1 (carry, for wrap detection)
	ccNC = 0x3 // CF=0 (no carry)
)

// emitJccShort: jcc rel8 (2 bytes, displacement resolved by a fixup).
func (w *Writer) emitJccShort(cc byte, label int) {
	w.Bytes(0x70 + cc)
	w.Rel8(label)
}

// emitJccNear: jcc rel32 (6 bytes).
func (w *Writer) emitJccNear(cc byte, label int) {
	w.Bytes(0x0F, 0x80+cc)
	w.Rel32(label)
}

// emitJmpShort/emitJmpNear: unconditional jump.
func (w *Writer) emitJmpShort(label int) {
	w.Byte(0xEB)
	w.Rel8(label)
}

func (w *Writer) emitJmpNear(label int) {
	w.Byte(0xE9)
	w.Rel32(label)
}

// emitCallReg: call reg (indirect call through a 64-bit GPR).
func (w *Writer) emitCallReg(reg Reg) {
	if reg.needsREX() {
		w.Byte(rex(false, false, false, true))
	}
	w.Bytes(0xFF, modrm(3, 2, reg.low3()))
}

// emitRet: ret.
func (w *Writer) emitRet() { w.Byte(0xC3) }
