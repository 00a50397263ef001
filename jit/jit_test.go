//go:build amd64

package jit_test

import (
	"bytes"
	"strings"
	"testing"
	"unsafe"

	"github.com/launix-de/bfjit/jit"
	"github.com/launix-de/bfjit/optimizer"
	"github.com/launix-de/bfjit/parser"
	"github.com/launix-de/bfjit/tape"
)

// The four callbacks below must stay plain (non-closure) package-level
// functions: jit.NewCallbacks hands their raw entry addresses to compiled
// code, which calls them with no closure context set up (see abi.go).
// Tests are run serially, so the package-level recorder vars are safe to
// reset between cases.
var (
	recordedOutput []byte
	wrapCount      int
)

func testRead(head uintptr) uintptr {
	*(*byte)(unsafe.Pointer(head)) = 0
	return head
}

func testWrite(head uintptr) uintptr {
	recordedOutput = append(recordedOutput, *(*byte)(unsafe.Pointer(head)))
	return head
}

func testDebug(head uintptr) uintptr { return head }

func testWrapped(head uintptr) uintptr {
	wrapCount++
	return head
}

func run(t *testing.T, src string, wrapCheck bool) {
	t.Helper()
	recordedOutput = nil
	wrapCount = 0

	res := parser.ParseString(src, parser.NoDebug)
	if res.ErrorCount() != 0 {
		t.Fatalf("parse errors: %v", res.Messages)
	}
	root := optimizer.Optimize(res.Root)

	w := jit.Generate(root, wrapCheck)
	prog, err := jit.Build(w)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer prog.Close()

	tp, err := tape.New(0, 0)
	if err != nil {
		t.Fatalf("tape.New: %v", err)
	}
	defer tp.Close()

	cb := jit.NewCallbacks(testRead, testWrite, testDebug, testWrapped)
	prog.Run(tp.Base(), cb)
}

// runRaw compiles the parsed tree without running it through optimizer.Optimize,
// for cases specifically targeting the JIT's own dataflow/elision logic.
func runRaw(t *testing.T, src string, wrapCheck bool) {
	t.Helper()
	recordedOutput = nil
	wrapCount = 0

	res := parser.ParseString(src, parser.NoDebug)
	if res.ErrorCount() != 0 {
		t.Fatalf("parse errors: %v", res.Messages)
	}

	w := jit.Generate(res.Root, wrapCheck)
	prog, err := jit.Build(w)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer prog.Close()

	tp, err := tape.New(0, 0)
	if err != nil {
		t.Fatalf("tape.New: %v", err)
	}
	defer tp.Close()

	cb := jit.NewCallbacks(testRead, testWrite, testDebug, testWrapped)
	prog.Run(tp.Base(), cb)
}

func TestAddAndWrite(t *testing.T) {
	run(t, "+++.", false)
	if !bytes.Equal(recordedOutput, []byte{3}) {
		t.Fatalf("expected [3], got %v", recordedOutput)
	}
}

func TestGenericLoopPrintsEachIteration(t *testing.T) {
	// The CALL node inside the body keeps it from collapsing to a single
	// ADDMOVE, exercising the generic insert-then-splice loop encoding
	// rather than the multiply-loop special case.
	run(t, "+++[.>+<-]", false)
	if !bytes.Equal(recordedOutput, []byte{3, 2, 1}) {
		t.Fatalf("expected [3 2 1], got %v", recordedOutput)
	}
}

func TestMultiplyLoopSpecialCase(t *testing.T) {
	// spec example: +++[>+++++<-]>. prints byte 15 (3 * 5).
	run(t, "+++[>+++++<-]>.", false)
	if !bytes.Equal(recordedOutput, []byte{15}) {
		t.Fatalf("expected [15], got %v", recordedOutput)
	}
}

func TestLoopNeverEnteredIsSkipped(t *testing.T) {
	// Generate directly from the unoptimized tree (optimizer.Optimize would
	// prune this loop itself) so the JIT's own forward-test skip is what's
	// under test, not the optimizer's dead-loop elimination.
	runRaw(t, "[+++].", false)
	if !bytes.Equal(recordedOutput, []byte{0}) {
		t.Fatalf("expected [0] (loop body never ran), got %v", recordedOutput)
	}
}

func TestNestedLoopAtBodyStart(t *testing.T) {
	// The inner loop is the very first node of the outer loop's body. ','
	// leaves the cell unknown, so the outer loop gets a forward-test prefix,
	// and Writer.Insert splices it in at exactly the position where the
	// inner loop's code and its body-start label begin — the coincident-
	// position case Insert's relocation must handle correctly. testRead
	// stores 0, so the cell holds 3 when the outer loop is entered.
	run(t, ",+++[[.-]]", false)
	if !bytes.Equal(recordedOutput, []byte{3, 2, 1}) {
		t.Fatalf("expected [3 2 1], got %v", recordedOutput)
	}
}

func TestWrapCheckFiresOnOverflow(t *testing.T) {
	// SPEC_FULL.md §4.4 defines wrap detection as testing the carry flag
	// of whichever single add/sub instruction the (sign-minimizing)
	// clamped delta was encoded as — not an abstract "did the BF value
	// cross 256" check. A run of same-sign '+'/'-' is coalesced by the
	// parser into one net byte delta applied by one machine instruction,
	// so each '.' below starts a fresh delta. The tree is generated
	// without optimizer.Optimize, since an optimizer-fused ADDMOVE is never
	// wrap-checked (see genNode); only a standalone ADD is.
	//
	// First delta: +55 from 0, encoded as ADD 55 (clamped delta is
	// already non-negative). 0+55=55 <= 255: no unsigned carry.
	// Second delta: +200 from 55. ClampByte(200) is -56, so it's encoded
	// as SUB 56. 55 < 56: the subtraction borrows, setting CF — the wrap
	// check's branch condition — even though the net result (55+200 mod
	// 256 = 255) never really went negative.
	src := strings.Repeat("+", 55) + "." + strings.Repeat("+", 200) + "."
	runRaw(t, src, true)
	if wrapCount != 1 {
		t.Fatalf("expected exactly one wrap notification, got %d", wrapCount)
	}
	if !bytes.Equal(recordedOutput, []byte{55, 255}) {
		t.Fatalf("expected [55 255], got %v", recordedOutput)
	}
}

func TestReadThenWriteRoundTrips(t *testing.T) {
	run(t, ",.", false)
	if !bytes.Equal(recordedOutput, []byte{0}) {
		t.Fatalf("expected [0], got %v", recordedOutput)
	}
}
