package optimizer

import (
	"testing"

	"github.com/launix-de/bfjit/ast"
	"github.com/launix-de/bfjit/parser"
)

func parse(t *testing.T, src string) *ast.Node {
	t.Helper()
	r := parser.ParseString(src, parser.NoDebug)
	if len(r.Messages) != 0 {
		t.Fatalf("unexpected parse messages for %q: %v", src, r.Messages)
	}
	return r.Root
}

func TestLeadingZeroCellDropsLoop(t *testing.T) {
	// The trailing '.' keeps pass2 from dropping the '+' as a dead tail.
	root := Optimize(parse(t, "[-]+."))
	if root == nil || root.Kind != ast.KindAddMove {
		t.Fatalf("expected the leading [-] to be eliminated, got %+v", root)
	}
}

func TestInfiniteLoopDropsFollowingSiblings(t *testing.T) {
	root := Optimize(parse(t, "+[]+++."))
	// ADD(1) folds to cell=nonzero entering the loop; the loop body is
	// empty so it leaves the cell nonzero too: provably infinite. The
	// trailing "+++." must be gone.
	if root == nil {
		t.Fatalf("expected the ADD and LOOP to survive")
	}
	count := 0
	for n := root; n != nil; n = n.Next {
		count++
	}
	if count != 2 {
		t.Fatalf("expected exactly 2 top-level nodes (ADD, LOOP), got %d", count)
	}
	if root.Next.Kind != ast.KindLoop {
		t.Fatalf("expected second node to be the LOOP, got %v", root.Next.Kind)
	}
	if root.Next.Next != nil {
		t.Fatalf("expected nothing after the non-terminating loop")
	}
}

func TestDeadTailAfterLastCall(t *testing.T) {
	root := Optimize(parse(t, ".+++"))
	// "." is a CALL; "+++" after it is unobservable and must be dropped.
	if root == nil || root.Kind != ast.KindCall {
		t.Fatalf("expected the program to end at the CALL, got %+v", root)
	}
	if root.Next != nil {
		t.Fatalf("expected dead tail to be dropped, got %+v", root.Next)
	}
}

func TestAddMoveFusion(t *testing.T) {
	// The trailing '.' keeps pass2 from dropping the whole run as a dead tail.
	root := Optimize(parse(t, ">+++<--."))
	if root == nil || root.Kind != ast.KindAddMove {
		t.Fatalf("expected a single ADDMOVE, got %+v", root)
	}
	if root.Next == nil || root.Next.Kind != ast.KindCall || root.Next.Next != nil {
		t.Fatalf("expected exactly one ADDMOVE followed by the CALL, got trailing %+v", root.Next)
	}
	if root.Value != 0 {
		t.Fatalf("expected net offset 0 (> then <), got %d", root.Value)
	}
	if root.Begin > 0 || root.End <= 0 {
		t.Fatalf("expected begin<=0<end, got begin=%d end=%d", root.Begin, root.End)
	}
	if got := root.Add[1-root.Begin]; got != 3 {
		t.Fatalf("expected +3 at offset 1, got %d", got)
	}
	if got := root.Add[0-root.Begin]; got != -2 {
		t.Fatalf("expected -2 at offset 0, got %d", got)
	}
}

func TestAddMoveFusionInsideLoop(t *testing.T) {
	root := Optimize(parse(t, "+[->+<]"))
	if root == nil || root.Kind != ast.KindAddMove {
		t.Fatalf("expected leading ADD to fuse into ADDMOVE, got %+v", root)
	}
	loop := root.Next
	if loop == nil || loop.Kind != ast.KindLoop {
		t.Fatalf("expected a LOOP, got %+v", loop)
	}
	if loop.Child == nil || loop.Child.Kind != ast.KindAddMove || loop.Child.Next != nil {
		t.Fatalf("expected the loop body to fuse into one ADDMOVE, got %+v", loop.Child)
	}
}

func TestIdempotence(t *testing.T) {
	src := "++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++."
	once := Optimize(parse(t, src))
	twice := Optimize(once)
	if !isomorphic(once, twice) {
		t.Fatalf("optimize(optimize(p)) is not isomorphic to optimize(p)")
	}
}

func isomorphic(a, b *ast.Node) bool {
	for a != nil && b != nil {
		if a.Kind != b.Kind || a.Value != b.Value || a.Begin != b.Begin || a.End != b.End {
			return false
		}
		if len(a.Add) != len(b.Add) {
			return false
		}
		for i := range a.Add {
			if a.Add[i] != b.Add[i] {
				return false
			}
		}
		if a.Kind == ast.KindLoop && !isomorphic(a.Child, b.Child) {
			return false
		}
		a, b = a.Next, b.Next
	}
	return a == nil && b == nil
}
