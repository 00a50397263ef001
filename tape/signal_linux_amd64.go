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

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Handler wires the guard-page growth trap, the profiler's sampling
// timer and SIGINT onto raw OS signals, grounded on original_source/vm.c's
// sigsegv_handler and range_check: SIGSEGV is inspected for whether the
// fault lies within one guard page of the tape's right bound (grow and
// resume), within the left guard (hand off to the debugger, then exit) or
// genuinely outside the tape (unrecoverable). SIGVTALRM increments a
// sample counter at the interrupted instruction's offset into the code
// buffer. SIGINT, per spec.md §5, takes one of two paths depending on
// where it lands: inside generated code, the saved context is redirected
// to a landing trampoline that calls into the debugger directly once the
// signal returns (see dispatch and sigintEntry); anywhere else — inside a
// callback, i.e. inside ordinary Go code already running on this same
// goroutine's stack — redirecting RIP is not safe (no guarantee the
// interrupted frame is idle at a call boundary), so a pending-interrupt
// flag is set instead, for the callback to notice at its own next safe
// point. SIGTERM never needs register-level resumption and is handled the
// ordinary Go way through os/signal.
type Handler struct {
	tape              *Tape
	codeBase, codeEnd uintptr

	// onLeftFault is called from leftFaultEntry, after dispatch has
	// already redirected the saved context onto the landing trampoline —
	// so, unlike dispatch itself, this runs as ordinary Go code on the
	// interrupted goroutine's own stack and may allocate, block and call
	// the debugger. It never returns (see leftFaultEntry).
	onLeftFault func(head uintptr, codeOffset int32)
	// onInterrupt is called only from dispatch's SIGINT branch, when the
	// interrupted RIP is outside the code buffer or onIntCode is nil (see
	// Handler's own doc comment); it just flags a pending interrupt for the
	// next callback invocation to notice, since that is the only point
	// this single-threaded runtime can safely suspend at when the
	// interrupted context cannot be redirected.
	onInterrupt func()
	// onIntCode is called from sigintEntry, after dispatch has redirected
	// the saved context onto the landing trampoline: like onLeftFault,
	// this runs as ordinary Go code on the interrupted goroutine's own
	// stack. It receives the current head and the interrupted
	// instruction's offset into the code buffer, and returns the
	// (possibly debugger-modified) head, which sigintEntry reloads into H
	// before resuming the generated code exactly where it was interrupted.
	onIntCode func(head uintptr, codeOffset int32) uintptr

	samples   []uint64 // one per code-buffer byte plus one sentinel
	oldSegv   unix.Sigaction
	oldAlarm  unix.Sigaction
	oldInt    unix.Sigaction
	installed bool

	// intOffset is a plain field, not atomic: SIGINT is blocked by the
	// kernel for the duration of its own handler (no SA_NODEFER), so
	// dispatch's SIGINT branch never reenters itself.
	intOffset int32

	sigCh chan os.Signal
	done  chan struct{}
}

// current holds the single installed Handler; the raw trampoline is a bare
// package function with no receiver (it cannot carry a Go closure across
// the signal boundary), so dispatch reaches the active Handler through
// this package-level slot. Only one Handler may be installed at a time.
var current atomic.Pointer[Handler]

// NewHandler prepares (but does not yet install) a signal handler for t.
// codeBase/codeEnd bound the JIT code buffer. onIntCode is called when
// SIGINT interrupts generated code directly (spec.md §5); onInterrupt
// when it interrupts a callback instead, or when onIntCode is nil.
func NewHandler(t *Tape, codeBase, codeEnd uintptr, onLeftFault func(head uintptr, codeOffset int32), onInterrupt func(), onIntCode func(head uintptr, codeOffset int32) uintptr) *Handler {
	return &Handler{
		tape:        t,
		codeBase:    codeBase,
		codeEnd:     codeEnd,
		onLeftFault: onLeftFault,
		onInterrupt: onInterrupt,
		onIntCode:   onIntCode,
		samples:     make([]uint64, codeEnd-codeBase+1),
	}
}

// Install registers the SIGSEGV/SIGVTALRM/SIGINT raw handler and starts a
// goroutine watching SIGTERM. enableProfiler, if true, arms an
// ITIMER_VIRTUAL firing every intervalMicros microseconds.
func (h *Handler) Install(enableProfiler bool, intervalMicros int64) error {
	if !current.CompareAndSwap(nil, h) {
		return fmt.Errorf("tape: a signal Handler is already installed")
	}

	act := unix.Sigaction{
		Handler:  uintptr(unsafe.Pointer(sigTrampolinePtr())),
		Flags:    unix.SA_SIGINFO | unix.SA_RESTORER | unix.SA_ONSTACK,
		Restorer: uintptr(unsafe.Pointer(sigRestorerPtr())),
	}
	if err := unix.Sigaction(unix.SIGSEGV, &act, &h.oldSegv); err != nil {
		current.Store(nil)
		return fmt.Errorf("tape: installing SIGSEGV handler: %w", err)
	}
	if err := unix.Sigaction(unix.SIGINT, &act, &h.oldInt); err != nil {
		unix.Sigaction(unix.SIGSEGV, &h.oldSegv, nil)
		current.Store(nil)
		return fmt.Errorf("tape: installing SIGINT handler: %w", err)
	}
	if enableProfiler {
		if err := unix.Sigaction(unix.SIGVTALRM, &act, &h.oldAlarm); err != nil {
			unix.Sigaction(unix.SIGSEGV, &h.oldSegv, nil)
			unix.Sigaction(unix.SIGINT, &h.oldInt, nil)
			current.Store(nil)
			return fmt.Errorf("tape: installing SIGVTALRM handler: %w", err)
		}
		it := unix.Itimerval{
			Value:    unix.Timeval{Sec: intervalMicros / 1e6, Usec: intervalMicros % 1e6},
			Interval: unix.Timeval{Sec: intervalMicros / 1e6, Usec: intervalMicros % 1e6},
		}
		if err := unix.Setitimer(unix.ITIMER_VIRTUAL, &it, nil); err != nil {
			return fmt.Errorf("tape: arming profiler timer: %w", err)
		}
	}

	h.sigCh = make(chan os.Signal, 4)
	h.done = make(chan struct{})
	signal.Notify(h.sigCh, syscall.SIGTERM)
	go h.watch()

	h.installed = true
	return nil
}

// watch handles SIGTERM: exit so deferred cleanup — registered via
// github.com/dc0d/onexit in cmd/bf — still runs, per spec.md §5's "fall
// through to normal exit". SIGINT is handled by dispatch instead (see
// Handler's doc comment).
func (h *Handler) watch() {
	for {
		select {
		case sig, ok := <-h.sigCh:
			if !ok {
				return
			}
			if sig == syscall.SIGTERM {
				os.Exit(0)
			}
		case <-h.done:
			return
		}
	}
}

// Close restores the previous signal dispositions and disarms the timer.
func (h *Handler) Close() error {
	if !h.installed {
		return nil
	}
	close(h.done)
	signal.Stop(h.sigCh)
	unix.Sigaction(unix.SIGSEGV, &h.oldSegv, nil)
	unix.Sigaction(unix.SIGINT, &h.oldInt, nil)
	unix.Sigaction(unix.SIGVTALRM, &h.oldAlarm, nil)
	unix.Setitimer(unix.ITIMER_VIRTUAL, &unix.Itimerval{}, nil)
	current.CompareAndSwap(h, nil)
	h.installed = false
	return nil
}

// Samples returns the raw per-offset counter array; the profiler package
// turns this into a prefix sum once sampling stops.
func (h *Handler) Samples() []uint64 { return h.samples }

// sigTrampoline and sigRestorer are implemented in sigshim_linux_amd64.s.
func sigTrampoline()
func sigRestorer()

// sigintTrampoline and leftFaultTrampoline are landing pads implemented in
// sigshim_linux_amd64.s. Neither is a signal handler: dispatch redirects a
// saved ucontext's RIP to one of these addresses with a synthetic return
// address pushed onto the interrupted stack, so that once the kernel's
// rt_sigreturn resumes execution, the CPU finds itself at the trampoline
// as if it had been CALLed from the fault site — ordinary user-mode code,
// on the same goroutine's own stack the generated code was already
// running on (the same stack the callback vector already calls back into
// Go through), free to call sigintEntry/leftFaultEntry.
func sigintTrampoline()
func leftFaultTrampoline()

func sigTrampolinePtr() *byte        { return funcCodePtr(sigTrampoline) }
func sigRestorerPtr() *byte          { return funcCodePtr(sigRestorer) }
func sigintTrampolinePtr() *byte     { return funcCodePtr(sigintTrampoline) }
func leftFaultTrampolinePtr() *byte  { return funcCodePtr(leftFaultTrampoline) }

// funcCodePtr recovers a Go function's entry address the same way
// jit.funcAddr does in the opposite direction, via reflect on a value —
// here the function is a bare package-level symbol referenced directly, so
// the address comes from its func value's first word instead.
func funcCodePtr(fn func()) *byte {
	type funcval struct{ fn uintptr }
	fv := *(**funcval)(unsafe.Pointer(&fn))
	return (*byte)(unsafe.Pointer(fv.fn))
}

// dispatch is called by sigTrampoline with the raw SysV arguments shuffled
// into Go's first three integer argument registers. It must not allocate,
// block or call anything that might grow the goroutine stack: it is
// running on the signal stack established by SA_ONSTACK, outside the
// normal Go scheduler's view.
func dispatch(sig uintptr, infoPtr, ctxPtr unsafe.Pointer) {
	h := current.Load()
	if h == nil {
		return
	}
	uc := ucontextFromPtr(ctxPtr)

	if sig == uintptr(unix.SIGVTALRM) {
		ip := uc.rip()
		if ip >= h.codeBase && ip < h.codeEnd {
			atomic.AddUint64(&h.samples[ip-h.codeBase], 1)
		}
		return
	}

	if sig == uintptr(unix.SIGINT) {
		ip := uc.rip()
		if ip >= h.codeBase && ip < h.codeEnd && h.onIntCode != nil {
			// Interrupting generated code: redirect onto a landing
			// trampoline instead of handling the break here, since this
			// function must not allocate, block, or call into the
			// readline-backed debugger while running on the signal
			// stack. See redirectTo and sigintTrampoline.
			h.intOffset = int32(ip - h.codeBase)
			redirectTo(uc, sigintTrampolinePtr())
			return
		}
		// Interrupting a callback (already running ordinary Go code on
		// this goroutine's stack) or no generated-code hook configured:
		// redirecting RIP here has no safe landing point, so fall back to
		// the pending-interrupt flag the callback checks on its own next
		// safe point.
		if h.onInterrupt != nil {
			h.onInterrupt()
		}
		return
	}

	// SIGSEGV.
	ip := uc.rip()
	if ip < h.codeBase || ip >= h.codeEnd {
		fmt.Fprintln(os.Stderr, "segmentation fault occurred outside generated code")
		os.Exit(2)
	}

	faultAddr := faultAddrFromInfo(infoPtr)
	switch {
	case h.tape.RightGuard(faultAddr):
		head := uc.head()
		offset := head - h.tape.Base()
		newOffset, err := h.tape.Grow(offset)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		newHead := h.tape.Base() + newOffset
		uc.setHead(newHead)
		uc.setZF(*(*byte)(unsafe.Pointer(newHead)) == 0)
	case h.tape.LeftGuard(faultAddr):
		// Per original_source/vm.c's range_check: announce, break to the
		// debugger, then exit — never resume. Redirected the same way as
		// the SIGINT case, onto leftFaultTrampoline, which calls
		// leftFaultEntry and never returns to the generated code.
		fmt.Fprintln(os.Stderr, "tape head exceeds left bound")
		h.intOffset = int32(ip - h.codeBase)
		redirectTo(uc, leftFaultTrampolinePtr())
	default:
		fmt.Fprintln(os.Stderr, "segmentation fault occurred")
		os.Exit(2)
	}
}

// redirectTo rewrites uc so that, once rt_sigreturn resumes it, execution
// lands at target as though target had just been CALLed from the
// interrupted instruction: the interrupted RIP is pushed as a synthetic
// return address and RSP is adjusted to match, matching the x86-64 CALL
// convention target's own RET expects.
func redirectTo(uc *ucontext, target *byte) {
	retAddr := uc.rip()
	sp := uc.sp() - 8
	*(*uint64)(unsafe.Pointer(sp)) = uint64(retAddr)
	uc.setSP(sp)
	uc.setRip(uintptr(unsafe.Pointer(target)))
}

// sigintEntry is sigintTrampoline's Go-side call target. It runs as
// ordinary code on the interrupted goroutine's own stack (see
// sigintTrampoline's doc comment), so it is free to call the debugger.
// Its signature matches the generated code's callback ABI (head in,
// head out) since sigintTrampoline moves H into and out of it exactly
// the way emitCallback does for a CALL node.
func sigintEntry(head uintptr) uintptr {
	h := current.Load()
	if h == nil || h.onIntCode == nil {
		return head
	}
	return h.onIntCode(head, h.intOffset)
}

// leftFaultEntry is leftFaultTrampoline's Go-side call target, running on
// the interrupted goroutine's own stack for the same reason sigintEntry
// does. Unlike sigintEntry it never returns: a left-guard fault has no
// valid resumption (the head is genuinely out of bounds), matching
// original_source/vm.c's range_check, which calls debug_break and then
// always exits.
func leftFaultEntry(head uintptr) {
	h := current.Load()
	if h != nil && h.onLeftFault != nil {
		h.onLeftFault(head, h.intOffset)
	}
	os.Exit(1)
}

// faultAddrFromInfo extracts si_addr from a siginfo_t. On linux/amd64 that
// field sits at byte offset 16 (si_signo, si_errno, si_code: 4 bytes each,
// padded to 8, then si_addr for the SIGSEGV union member).
func faultAddrFromInfo(p unsafe.Pointer) uintptr {
	return *(*uintptr)(unsafe.Pointer(uintptr(p) + 16))
}
