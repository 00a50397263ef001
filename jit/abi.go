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
	"fmt"
	"reflect"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/launix-de/bfjit/ast"
)

// Callback is the signature every callback-vector slot must have: it
// receives the current head pointer and returns the (possibly relocated,
// if it grew the tape) head pointer. Compiled code calls it with the head
// in RAX and reloads RAX as the new head on return (emitCallback), so this
// signature must stay a single uintptr argument and a single uintptr
// result for reflect.ValueOf(fn).Pointer() to hand back an address that
// honors the same register convention.
type Callback func(head uintptr) uintptr

// Callbacks is the callback vector a compiled Program is run against: a
// flat table of code pointers, indexed the way emitCallback's
// "B + 8*op" addressing expects. The field order must match
// ast.CallRead/CallWrite/CallDebug/CallWrapped.
//
// Site is not part of that table: generated code stores the calling
// node's code offset there immediately before every callback call (see
// codegen.emitCallback), so a debug or wrapped callback can recover
// "where was I called from" through the same pointer it's already
// handed nothing else of — the Callback signature has no room for a
// second argument — without any native stack unwinding.
type Callbacks struct {
	Read, Write, Debug, Wrapped uintptr
	Site                        int32
}

// NewCallbacks builds a Callbacks table from four Go functions, extracting
// each one's entry address the same way scm/jit.go's jitCompile locates a
// function's source (reflect.ValueOf(fn).Pointer()) — here used in the
// opposite direction, to hand a plain function's code address to code that
// will call it directly rather than through the Go calling convention's
// usual argument-marshalling path. read, write, debug and wrapped must not
// be closures: a closure's entry point expects its captured-variable
// context in a register compiled code never sets up.
func NewCallbacks(read, write, debug, wrapped Callback) *Callbacks {
	return &Callbacks{
		Read:    funcAddr(read),
		Write:   funcAddr(write),
		Debug:   funcAddr(debug),
		Wrapped: funcAddr(wrapped),
	}
}

func funcAddr(f Callback) uintptr {
	return reflect.ValueOf(f).Pointer()
}

// entry is a compiled program's own call signature: (head, callbacks) ->
// head, matching emitPrologue/emitEpilogue's RAX/RBX argument convention.
type entry func(head, callbacks uintptr) uintptr

// Program is one Generate result finalized into executable memory.
type Program struct {
	mem     []byte
	codeLen int
	fn      entry
}

// Build maps w's code into executable memory and wraps it as a callable
// Program. Grounded on scm/jit.go's allocExec/makeRX: map PROT_READ|WRITE,
// copy the bytes in, then Mprotect to PROT_READ|PROT_EXEC rather than
// writing directly into an already-executable mapping the way
// original_source/codebuf.c does, keeping the buffer non-writable for as
// short a window as possible (W^X).
func Build(w *Writer) (*Program, error) {
	code := w.Code
	if len(code) == 0 {
		code = []byte{0xC3} // bare ret, so an empty program is still callable
	}
	page := unix.Getpagesize()
	size := (len(code) + page - 1) &^ (page - 1)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("jit: allocating executable buffer: %w", err)
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("jit: marking buffer executable: %w", err)
	}
	return &Program{mem: mem, codeLen: len(code), fn: makeEntry(mem)}, nil
}

// Span returns the mapped code's [base, end) address range, the bounds the
// SEGV/VTALRM signal shim (tape.Handler) and the profiler use to recognize
// an instruction pointer as belonging to this program.
func (p *Program) Span() (base, end uintptr) {
	if len(p.mem) == 0 {
		return 0, 0
	}
	base = uintptr(unsafe.Pointer(&p.mem[0]))
	return base, base + uintptr(p.codeLen)
}

// makeEntry builds a Go function value whose code pointer is code's first
// byte, the same funcval-literal trick scm/jit.go's OptimizeForValues uses
// to turn a raw machine-code buffer into a callable Go value: a func value
// is a pointer to a struct whose first word is the entry address, so
// constructing that one-word struct and reinterpreting its address as the
// target func type calls through to the raw bytes directly.
func makeEntry(code []byte) entry {
	fn := unsafe.Pointer(&struct{ *byte }{&code[0]})
	return *(*entry)(unsafe.Pointer(&fn))
}

// Run invokes the compiled program against head with the given callback
// vector and returns the final head pointer.
func (p *Program) Run(head uintptr, cb *Callbacks) uintptr {
	return p.fn(head, uintptr(unsafe.Pointer(cb)))
}

// Close releases the executable mapping. The Program must not be run again
// afterward.
func (p *Program) Close() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	p.fn = nil
	return err
}

// op constants, exported for packages (vm, debugger) that need to name a
// callback vector slot without importing ast directly.
const (
	OpRead    = ast.CallRead
	OpWrite   = ast.CallWrite
	OpDebug   = ast.CallDebug
	OpWrapped = ast.CallWrapped
)

// siteFieldOffset is Callbacks.Site's byte offset, computed once from the
// struct layout rather than hardcoded, for emitCallback's store-before-call
// to address.
const siteFieldOffset = int32(unsafe.Offsetof(Callbacks{}.Site))
