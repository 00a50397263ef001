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

// Reg is a hardware general-purpose register index, encoded the way the
// x86-64 ModRM/REX bytes expect it (0-15, R8-R15 needing REX.B/REX.R/REX.X).
type Reg uint8

const (
	RegRAX Reg = 0
	RegRCX Reg = 1
	RegRDX Reg = 2
	RegRBX Reg = 3
	RegRSP Reg = 4
	RegRBP Reg = 5
	RegRSI Reg = 6
	RegRDI Reg = 7
	RegR8  Reg = 8
	RegR9  Reg = 9
	RegR10 Reg = 10
	RegR11 Reg = 11
	RegR12 Reg = 12
	RegR13 Reg = 13
	RegR14 Reg = 14
	RegR15 Reg = 15
)

// H holds the tape head pointer for the lifetime of the generated function.
// B holds the callback vector pointer. The Go functions called through the
// callback vector do not preserve either register, so emitCallback
// (codegen.go) pushes B around each call and reloads H from the call's
// result.
//
// RegScratch deliberately avoids R14: under Go's internal register ABI, R14
// holds the current goroutine's g pointer for the whole lifetime of any Go
// code, including the real Go functions the callback vector calls back
// into. scm/jit_amd64.go's own register allocator freely hands out R13 and
// R14 as ordinary scratch registers, but that JIT only ever evaluates
// self-contained arithmetic and never calls back into Go code from
// generated code, so the hazard never arises there; this backend's
// callback vector makes a foreign-into-Go call the common case, so R14
// must stay untouched (or correctly restored before any call) rather than
// repurposed mid-computation the way the teacher's allocator would allow.
const (
	RegH Reg = RegR12
	RegB Reg = RegR13
	// RegScratch is the bit-parallel multiply loop's accumulator; no
	// callback is called while it holds a live value.
	RegScratch Reg = RegR15
)

func (r Reg) needsREX() bool { return r >= RegR8 }

// low3 returns the register's 3-bit field, ignoring the REX extension bit.
func (r Reg) low3() byte { return byte(r) & 0x7 }
