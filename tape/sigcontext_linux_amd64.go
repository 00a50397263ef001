//go:build linux && amd64

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

package tape

import "unsafe"

// ucontext mirrors glibc's ucontext_t for linux/amd64 just far enough to
// reach uc_mcontext.gregs: uc_flags (8) + uc_link (8) + uc_stack (24) bytes
// precede the register file, matching sys/ucontext.h. gregs is indexed by
// the REG_* constants below, the same order the kernel's sigcontext uses.
type ucontext struct {
	flags uint64
	link  uintptr
	stack [24]byte
	gregs [23]uint64
	// fpregs and the rest are not needed here.
}

const (
	regR8 = iota
	regR9
	regR10
	regR11
	regR12
	regR13
	regR14
	regR15
	regRDI
	regRSI
	regRBP
	regRBX
	regRDX
	regRAX
	regRCX
	regRSP
	regRIP
	regEFL
)

const eflZF = 1 << 6

func ucontextFromPtr(p unsafe.Pointer) *ucontext {
	return (*ucontext)(p)
}

func (u *ucontext) rip() uintptr     { return uintptr(u.gregs[regRIP]) }
func (u *ucontext) setRip(v uintptr) { u.gregs[regRIP] = uint64(v) }
func (u *ucontext) sp() uintptr      { return uintptr(u.gregs[regRSP]) }
func (u *ucontext) setSP(v uintptr)  { u.gregs[regRSP] = uint64(v) }

// head reads/writes the register the generated code keeps the tape head
// pointer in: R12 (RegH in package jit). Duplicated as a plain constant
// index here rather than importing jit, since jit already depends on tape
// and a back-import would cycle.
func (u *ucontext) head() uintptr          { return uintptr(u.gregs[regR12]) }
func (u *ucontext) setHead(v uintptr)      { u.gregs[regR12] = uint64(v) }
func (u *ucontext) setZF(zero bool) {
	if zero {
		u.gregs[regEFL] |= eflZF
	} else {
		u.gregs[regEFL] &^= eflZF
	}
}
