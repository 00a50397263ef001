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

// Package printer renders an ast.Node tree back to text: the compact
// canonical form used by "-p" (round-trips through the parser to an
// isomorphic tree) and the indented tree form used by "-t", optionally
// annotated with profiler sample counts.
package printer

import (
	"fmt"
	"io"
	"strings"

	"github.com/launix-de/bfjit/ast"
)

// LineWidth is a wrap column for Compact's width argument. No code in this
// module passes it; cmd/bf's -p passes 80.
const LineWidth = 72

// Compact writes the canonical compact form of root to w: each node
// expands back to its literal Brainfuck characters (ADDMOVE nodes, which
// never appear before the optimizer runs, expand to an equivalent
// add/move sequence so the output still round-trips through the parser),
// wrapped at width columns (0 disables wrapping).
func Compact(w io.Writer, root *ast.Node, width int) error {
	var sb strings.Builder
	writeCompact(&sb, root)
	s := sb.String()
	if width <= 0 {
		_, err := io.WriteString(w, s+"\n")
		return err
	}
	for len(s) > width {
		if _, err := io.WriteString(w, s[:width]+"\n"); err != nil {
			return err
		}
		s = s[width:]
	}
	_, err := io.WriteString(w, s+"\n")
	return err
}

func writeCompact(sb *strings.Builder, n *ast.Node) {
	for cur := n; cur != nil; cur = cur.Next {
		switch cur.Kind {
		case ast.KindAdd:
			writeRun(sb, '+', '-', cur.Value)
		case ast.KindMove:
			writeRun(sb, '>', '<', cur.Value)
		case ast.KindCall:
			switch cur.Value {
			case ast.CallRead:
				sb.WriteByte(',')
			case ast.CallWrite:
				sb.WriteByte('.')
			case ast.CallDebug:
				sb.WriteByte('#')
			}
		case ast.KindLoop:
			sb.WriteByte('[')
			writeCompact(sb, cur.Child)
			sb.WriteByte(']')
		case ast.KindAddMove:
			writeAddMoveCompact(sb, cur)
		}
	}
}

func writeRun(sb *strings.Builder, pos, neg byte, value int) {
	c := pos
	n := value
	if n < 0 {
		c = neg
		n = -n
	}
	for i := 0; i < n; i++ {
		sb.WriteByte(c)
	}
}

// writeAddMoveCompact expands a fused ADDMOVE back into the add/move
// sequence it is equivalent to: the deltas at every offset other than the
// final head offset, in ascending offset order, then the head movement, with the head's final
// cell add applied last (matching the JIT's own emission order so the
// printed form is an equally valid, if unoptimized-looking, program).
func writeAddMoveCompact(sb *strings.Builder, n *ast.Node) {
	for p := n.Begin; p < n.End; p++ {
		if p == n.Value {
			continue
		}
		if d := n.Add[p-n.Begin]; d != 0 {
			moveTo(sb, p)
			writeRun(sb, '+', '-', int(d))
			moveTo(sb, -p)
		}
	}
	moveTo(sb, n.Value)
	if d := n.Add[n.Value-n.Begin]; d != 0 {
		writeRun(sb, '+', '-', int(d))
	}
}

func moveTo(sb *strings.Builder, offset int) {
	writeRun(sb, '>', '<', offset)
}

// SampleCounts supplies per-node inclusive sample counts for the
// annotated tree printer, computed by the profiler as
// counts[node.Code.End] - counts[node.Code.Begin].
type SampleCounts interface {
	Samples(n *ast.Node) uint64
}

// Tree writes an indented tree representation of root to w, one line per
// node, annotated with source spans and (when samples is non-nil) the
// profiler's inclusive sample count for that node.
func Tree(w io.Writer, root *ast.Node, samples SampleCounts) error {
	return writeTree(w, root, 0, samples)
}

func writeTree(w io.Writer, n *ast.Node, depth int, samples SampleCounts) error {
	indent := strings.Repeat("  ", depth)
	for cur := n; cur != nil; cur = cur.Next {
		line := fmt.Sprintf("%s%s", indent, describe(cur))
		if samples != nil {
			line += fmt.Sprintf(" samples=%d", samples.Samples(cur))
		}
		line += fmt.Sprintf(" @%d:%d-%d:%d\n", cur.Span.Begin.Line, cur.Span.Begin.Column, cur.Span.End.Line, cur.Span.End.Column)
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
		if cur.Kind == ast.KindLoop {
			if err := writeTree(w, cur.Child, depth+1, samples); err != nil {
				return err
			}
		}
	}
	return nil
}

func describe(n *ast.Node) string {
	switch n.Kind {
	case ast.KindAdd:
		return fmt.Sprintf("ADD %d", n.Value)
	case ast.KindMove:
		return fmt.Sprintf("MOVE %d", n.Value)
	case ast.KindCall:
		return fmt.Sprintf("CALL %s", callName(n.Value))
	case ast.KindLoop:
		return "LOOP"
	case ast.KindAddMove:
		return fmt.Sprintf("ADDMOVE offset=%d begin=%d end=%d add=%v", n.Value, n.Begin, n.End, n.Add)
	default:
		return "?"
	}
}

func callName(v int) string {
	switch v {
	case ast.CallRead:
		return "read"
	case ast.CallWrite:
		return "write"
	case ast.CallDebug:
		return "debug"
	case ast.CallWrapped:
		return "wrapped"
	default:
		return "?"
	}
}
