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

// Package vm ties the JIT, the tape, the signal shim and the debugger
// together into one run: it builds the callback vector, installs the
// SIGSEGV/SIGVTALRM handler, and runs the compiled program to completion
// (or to an explicit debugger quit). Grounded on original_source/vm.c's
// vm_run, which owns exactly this set of globals (tape, code, callbacks,
// eof_value, wrap_check) as file-scope statics; read/write/debug/wrapped
// must stay plain package-level functions here for the same reason
// jit_test.go's fixtures do — compiled code calls them with no closure
// context, so the running Runtime is reached through the package-level
// current var instead of captured state.
package vm

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/dc0d/onexit"

	"github.com/launix-de/bfjit/ast"
	"github.com/launix-de/bfjit/debugger"
	"github.com/launix-de/bfjit/jit"
	"github.com/launix-de/bfjit/profiler"
	"github.com/launix-de/bfjit/tape"
)

// IOConfig wires the guest program's read/write callbacks to real streams.
type IOConfig struct {
	In  io.Reader
	Out io.Writer

	// BufMode is "none" (flush every byte), "line" (flush on '\n') or
	// "full" (flush only at exit). Empty defaults to "full".
	BufMode string

	// EOFValue is stored at the head on a read past EOF; -1 means "leave
	// the cell unchanged", the spec's default.
	EOFValue int
}

// Options configures one run beyond its I/O streams.
type Options struct {
	WrapCheck bool    // -w: emit and break on cell wrap-around
	MemLimit  uintptr // -m, 0 means unbounded

	Profile           bool  // -P
	ProfileIntervalUs int64 // virtual-time sampling period; 0 defaults to 1000us (1kHz)

	RemoteAddr string // -R, empty disables the websocket observer
}

// Runtime is the live state compiled code's callbacks reach through the
// package-level current pointer. Exactly one Runtime may run at a time,
// matching the single-threaded cooperative model (spec.md §5) and
// original_source/vm.c's single set of file-scope statics.
type Runtime struct {
	tp   *tape.Tape
	prog *jit.Program
	cb   *jit.Callbacks
	addr *jit.AddrMap
	dbg  *debugger.Session

	in      *bufio.Reader
	out     *bufio.Writer
	bufMode string
	eofVal  int

	interrupted atomic.Bool
}

var current *Runtime

// Run compiles root and executes it against the given I/O and options,
// blocking until the program finishes, is interrupted to completion via
// "quit", or a fatal runtime error aborts the process. On success it
// returns a Profiler if Options.Profile was set, nil otherwise.
func Run(root *ast.Node, ioCfg IOConfig, opts Options) (*profiler.Profiler, error) {
	if current != nil {
		return nil, fmt.Errorf("vm: a program is already running in this process")
	}

	addr := jit.NewAddrMap(root)
	w := jit.Generate(root, opts.WrapCheck)
	prog, err := jit.Build(w)
	if err != nil {
		return nil, err
	}

	tp, err := tape.New(0, opts.MemLimit)
	if err != nil {
		prog.Close()
		return nil, err
	}

	dbg, err := debugger.New(tp, addr)
	if err != nil {
		tp.Close()
		prog.Close()
		return nil, fmt.Errorf("vm: %w", err)
	}
	if opts.RemoteAddr != "" {
		if err := dbg.EnableRemote(opts.RemoteAddr); err != nil {
			dbg.Close()
			tp.Close()
			prog.Close()
			return nil, fmt.Errorf("vm: %w", err)
		}
	}

	bufMode := ioCfg.BufMode
	if bufMode == "" {
		bufMode = "full"
	}

	rt := &Runtime{
		tp:      tp,
		prog:    prog,
		addr:    addr,
		dbg:     dbg,
		in:      bufio.NewReader(ioCfg.In),
		out:     bufio.NewWriter(ioCfg.Out),
		bufMode: bufMode,
		eofVal:  ioCfg.EOFValue,
	}
	rt.cb = jit.NewCallbacks(cbRead, cbWrite, cbDebug, cbWrapped)
	current = rt

	base, end := prog.Span()
	interval := opts.ProfileIntervalUs
	if interval <= 0 {
		interval = 1000
	}
	sig := tape.NewHandler(tp, base, end, rt.onLeftFault, rt.onInterrupt, rt.onIntCode)

	// cleanup releases every OS resource exactly once, whether reached by
	// this function returning normally or by a callback deep in prog.Run
	// calling onexit.Exit directly (the "quit" command, see shutdown):
	// either way nothing unwinds through this stack frame's own defers, so
	// onexit.Register is what spec.md §5's "resources released at
	// finalization" actually relies on, per SPEC_FULL.md §4.4.
	cleanup := sync.OnceFunc(func() {
		rt.out.Flush()
		dbg.Close()
		sig.Close()
		prog.Close()
		tp.Close()
		current = nil
	})
	onexit.Register(cleanup)

	if err := sig.Install(opts.Profile, interval); err != nil {
		cleanup()
		return nil, fmt.Errorf("vm: %w", err)
	}

	prog.Run(tp.Base(), rt.cb)

	var prof *profiler.Profiler
	if opts.Profile {
		prof = profiler.Finish(sig.Samples())
	}
	cleanup()
	return prof, nil
}

// onLeftFault is tape.Handler's left-guard notification hook. By the time
// this runs, dispatch has already redirected the faulting context onto
// leftFaultTrampoline and the kernel has returned from the signal: this is
// ordinary Go code on the interrupted goroutine's own stack (see
// tape.leftFaultEntry), so it may safely call the debugger. It never
// returns — tape.leftFaultEntry calls os.Exit right after, matching
// original_source/vm.c's range_check (break, then always exit).
func (r *Runtime) onLeftFault(head uintptr, codeOffset int32) {
	box := &headBox{v: head}
	r.dbg.Break(codeOffset, "left guard", box)
}

// onInterrupt runs from dispatch's SIGINT branch when the interrupted
// context cannot be safely redirected (interrupting a callback, not
// generated code) — that is not free to block on the debugger, so it
// just records the request; checkInterrupt
// drains it at the next callback invocation, the only point this runtime
// ever reaches after the generated code made a call outward, per
// spec.md §5's "pending interrupt flag" branch.
func (r *Runtime) onInterrupt() {
	r.interrupted.Store(true)
}

// onIntCode is tape.Handler's hook for SIGINT interrupting generated code
// directly (spec.md §5's other branch). Like onLeftFault, dispatch has
// already redirected the saved context onto a landing trampoline
// (tape.sigintEntry) by the time this runs, so it is ordinary Go code on
// the interrupted goroutine's own stack and may call the debugger; unlike
// onLeftFault, a plain interrupt is resumable, so it returns the
// (possibly debugger-modified) head for sigintEntry to reload into H.
func (r *Runtime) onIntCode(head uintptr, codeOffset int32) uintptr {
	box := &headBox{v: head}
	if !r.dbg.Break(codeOffset, "interrupt", box) {
		r.shutdown()
	}
	return box.v
}

// shutdown runs cleanup via onexit so it executes even though we are deep
// inside prog.Run's native call stack rather than unwinding through Run's
// own defers, then exits the process — spec.md's "quit causes an immediate
// process exit".
func (r *Runtime) shutdown() {
	onexit.Exit(0)
}

// headBox adapts a callback's head argument to debugger.Head: Head/SetHead
// read and write a plain local, which the callback reloads into its return
// value after the break, the same way generated code reloads H from RAX.
type headBox struct{ v uintptr }

func (h *headBox) Head() uintptr     { return h.v }
func (h *headBox) SetHead(v uintptr) { h.v = v }

// checkInterrupt enters the debugger with reason "interrupt" if a signal
// arrived since the last check, returning the (possibly debugger-modified)
// head. Called at the top of every callback, the only safe points this
// runtime recognizes.
func checkInterrupt(head uintptr) uintptr {
	r := current
	if !r.interrupted.CompareAndSwap(true, false) {
		return head
	}
	box := &headBox{v: head}
	if !r.dbg.Break(r.cb.Site, "interrupt", box) {
		r.shutdown()
	}
	return box.v
}

func cbRead(head uintptr) uintptr {
	r := current
	head = checkInterrupt(head)
	c, err := r.in.ReadByte()
	if err == nil {
		*(*byte)(unsafe.Pointer(head)) = c
	} else if r.eofVal >= 0 {
		*(*byte)(unsafe.Pointer(head)) = byte(r.eofVal)
	}
	return head
}

func cbWrite(head uintptr) uintptr {
	r := current
	head = checkInterrupt(head)
	b := *(*byte)(unsafe.Pointer(head))
	r.out.WriteByte(b)
	switch r.bufMode {
	case "none":
		r.out.Flush()
	case "line":
		if b == '\n' {
			r.out.Flush()
		}
	}
	return head
}

func cbDebug(head uintptr) uintptr {
	r := current
	head = checkInterrupt(head)
	box := &headBox{v: head}
	if !r.dbg.Break(r.cb.Site, "debug", box) {
		r.shutdown()
	}
	return box.v
}

func cbWrapped(head uintptr) uintptr {
	r := current
	head = checkInterrupt(head)
	box := &headBox{v: head}
	if !r.dbg.Break(r.cb.Site, "wrap", box) {
		r.shutdown()
	}
	return box.v
}
