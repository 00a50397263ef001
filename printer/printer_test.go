package printer

import (
	"bytes"
	"testing"

	"github.com/launix-de/bfjit/ast"
	"github.com/launix-de/bfjit/parser"
)

func TestCompactRoundTrips(t *testing.T) {
	src := "++>--<[.,]"
	root := parser.ParseString(src, parser.NoDebug).Root

	var buf bytes.Buffer
	if err := Compact(&buf, root, 0); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	got := buf.String()
	if got != src+"\n" {
		t.Fatalf("expected %q, got %q", src+"\n", got)
	}
}

func TestCompactWraps(t *testing.T) {
	src := "++++++++++"
	root := parser.ParseString(src, parser.NoDebug).Root

	var buf bytes.Buffer
	if err := Compact(&buf, root, 4); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	if len(lines) != 3 {
		t.Fatalf("expected 3 wrapped lines at width 4 for %d chars, got %d", len(src), len(lines))
	}
}

func TestTreeWritesOneLinePerNode(t *testing.T) {
	root := parser.ParseString("+[-]", parser.NoDebug).Root

	var buf bytes.Buffer
	if err := Tree(&buf, root, nil); err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected non-empty tree output")
	}
}

type constSamples struct{ n uint64 }

func (c constSamples) Samples(*ast.Node) uint64 { return c.n }

func TestTreeAnnotatesWithSamples(t *testing.T) {
	root := parser.ParseString("+", parser.NoDebug).Root

	var buf bytes.Buffer
	if err := Tree(&buf, root, constSamples{n: 7}); err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("samples=7")) {
		t.Fatalf("expected annotated output to mention samples=7, got %q", buf.String())
	}
}
