package parser

import (
	"strings"
	"testing"

	"github.com/launix-de/bfjit/ast"
)

func nodes(n *ast.Node) []ast.Kind {
	var out []ast.Kind
	for cur := n; cur != nil; cur = cur.Next {
		out = append(out, cur.Kind)
	}
	return out
}

func TestCoalescing(t *testing.T) {
	r := ParseString("+++--->", NoDebug)
	if len(r.Messages) != 0 {
		t.Fatalf("unexpected messages: %v", r.Messages)
	}
	root := r.Root
	if root == nil || root.Kind != ast.KindAdd || root.Value != 3 {
		t.Fatalf("expected ADD(3) from +++, got %+v", root)
	}
	if root.Next == nil || root.Next.Kind != ast.KindAdd || root.Next.Value != -3 {
		t.Fatalf("expected ADD(-3) from ---, got %+v", root.Next)
	}
	if root.Next.Next == nil || root.Next.Next.Kind != ast.KindMove || root.Next.Next.Value != 1 {
		t.Fatalf("expected MOVE(1), got %+v", root.Next.Next)
	}
}

func TestSignChangeSplitsRun(t *testing.T) {
	r := ParseString("+++---", NoDebug)
	root := r.Root
	if root.Kind != ast.KindAdd || root.Value != 3 {
		t.Fatalf("expected ADD(3), got %+v", root)
	}
	// net effect collapses to zero, but the parser is non-optimizing: it
	// still coalesces same-sign runs into one node each, it does not drop
	// zero-sum nodes (that is the optimizer's job).
}

func TestLoopNesting(t *testing.T) {
	r := ParseString("+[->+<]", NoDebug)
	if len(r.Messages) != 0 {
		t.Fatalf("unexpected messages: %v", r.Messages)
	}
	kinds := nodes(r.Root)
	if len(kinds) != 2 || kinds[0] != ast.KindAdd || kinds[1] != ast.KindLoop {
		t.Fatalf("unexpected top-level shape: %v", kinds)
	}
	loop := r.Root.Next
	if inner := nodes(loop.Child); len(inner) != 4 {
		t.Fatalf("expected 4 nodes in loop body, got %v", inner)
	}
}

func TestUnmatchedClosingBracketWarns(t *testing.T) {
	r := ParseString("]+", NoDebug)
	if len(r.Messages) != 1 || r.Messages[0].Severity != ast.SeverityWarning {
		t.Fatalf("expected one warning, got %v", r.Messages)
	}
	if !strings.Contains(r.Messages[0].Text, "ignored unmatched closing bracket") {
		t.Fatalf("unexpected message: %s", r.Messages[0].Text)
	}
	if r.Root == nil || r.Root.Kind != ast.KindAdd {
		t.Fatalf("expected parsing to continue past the stray bracket: %+v", r.Root)
	}
}

func TestUnmatchedOpeningBracketWarns(t *testing.T) {
	r := ParseString("+[+", NoDebug)
	if len(r.Messages) != 1 || !strings.Contains(r.Messages[0].Text, "closed unmatched opening bracket") {
		t.Fatalf("expected unmatched-opening warning, got %v", r.Messages)
	}
}

func TestDebugCharacter(t *testing.T) {
	r := ParseString("+#+", '#')
	kinds := nodes(r.Root)
	if len(kinds) != 3 || kinds[1] != ast.KindCall {
		t.Fatalf("expected ADD, CALL(debug), ADD, got %v", kinds)
	}
	if r.Root.Next.Value != ast.CallDebug {
		t.Fatalf("expected CallDebug, got %d", r.Root.Next.Value)
	}
}

func TestSeparatorStopsButLeavesByteUnread(t *testing.T) {
	p := &Parser{Debug: NoDebug, Separator: '!'}
	src := "+.!hello"
	r := p.Parse(strings.NewReader(src))
	if !p.SeparatorFound {
		t.Fatalf("expected separator to be found")
	}
	kinds := nodes(r.Root)
	if len(kinds) != 2 {
		t.Fatalf("expected parsing to stop at separator, got %v", kinds)
	}
}

func TestCommentCharactersAreSkipped(t *testing.T) {
	r := ParseString("this is a comment + only the plus signs matter +", NoDebug)
	kinds := nodes(r.Root)
	if len(kinds) != 1 || kinds[0] != ast.KindAdd {
		t.Fatalf("expected a single coalesced ADD, got %v", kinds)
	}
	if r.Root.Value != 2 {
		t.Fatalf("expected ADD(2), got %d", r.Root.Value)
	}
}
