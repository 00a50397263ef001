package profiler

import (
	"testing"

	"github.com/launix-de/bfjit/ast"
)

func TestFinishPrefixSum(t *testing.T) {
	p := Finish([]uint64{1, 0, 3, 2})
	if got := p.Total(); got != 6 {
		t.Fatalf("expected total 6, got %d", got)
	}

	n := &ast.Node{}
	n.Code.Begin, n.Code.End = 1, 3
	if got := p.Samples(n); got != 3 {
		t.Fatalf("expected inclusive count 3 for span [1,3), got %d", got)
	}
}

func TestSamplesOutOfRangeIsZero(t *testing.T) {
	p := Finish([]uint64{5, 5})
	n := &ast.Node{}
	n.Code.Begin, n.Code.End = 10, 20
	if got := p.Samples(n); got != 0 {
		t.Fatalf("expected 0 for an out-of-range span, got %d", got)
	}
}

func TestFinishEmpty(t *testing.T) {
	p := Finish(nil)
	if got := p.Total(); got != 0 {
		t.Fatalf("expected total 0 for no samples, got %d", got)
	}
}
