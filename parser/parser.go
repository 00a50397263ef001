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

// Package parser turns Brainfuck source bytes into an ast.ParseResult. It
// never aborts on malformed input: unmatched brackets become warnings and
// parsing continues. Grounded on the reference implementation's single-pass
// recursive-descent scanner (original_source/parser.c): one AstNode per
// accumulated run of same-kind/same-sign characters, recursing on '[' and
// returning on the matching ']' or EOF.
package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/launix-de/bfjit/ast"
)

// NoDebug means no byte is recognized as the debug-break operation.
const NoDebug = -1

// NoSeparator means parsing runs to EOF with no stop byte.
const NoSeparator = -1

// Parser holds the configuration shared across one parse (debug character,
// optional separator) and the post-parse state callers care about.
type Parser struct {
	Debug     int // recognized debug character, or NoDebug
	Separator int // recognized separator byte, or NoSeparator

	// SeparatorFound is set by Parse once it returns, true iff Separator
	// was configured and actually encountered (left unread in the
	// stream) rather than EOF being hit first.
	SeparatorFound bool
}

// Parse parses program source from r. The separator byte, if configured
// and found, ends the parse and is left unread in Parse's own buffered
// reader. Parse reads r through that buffer, so bytes after the separator
// may already have been consumed from r when Parse returns; they are not
// handed back to the caller. r is never closed by Parse.
func (p *Parser) Parse(r io.Reader) *ast.ParseResult {
	p.SeparatorFound = false
	arena := &ast.Arena{}
	st := &state{
		r:         bufio.NewReader(r),
		debug:     p.Debug,
		separator: p.Separator,
		arena:     arena,
		result:    &ast.ParseResult{Arena: arena},
	}
	st.result.Root = st.parseList()
	p.SeparatorFound = st.separatorSeen
	return st.result
}

// Parse is a convenience wrapper for the common case of no separator.
func Parse(r io.Reader, debug int) *ast.ParseResult {
	p := &Parser{Debug: debug, Separator: NoSeparator}
	return p.Parse(r)
}

// ParseString parses program source held entirely in memory.
func ParseString(src string, debug int) *ast.ParseResult {
	return Parse(strings.NewReader(src), debug)
}

type state struct {
	r         *bufio.Reader
	debug     int
	separator int
	line      int // 0-based
	column    int // 0-based
	depth     int
	arena     *ast.Arena
	result    *ast.ParseResult

	lastClosePos  ast.Pos
	separatorSeen bool
}

func (st *state) pos() ast.Pos {
	return ast.Pos{Line: st.line + 1, Column: st.column}
}

// building accumulates the node currently under construction, mirroring
// the reference parser's single local AstNode plus run-length coalescing
// of consecutive same-sign +/-/>/<.
type building struct {
	kind    ast.Kind
	value   int
	started bool
	span    ast.Span
}

// emit closes the node under construction (if non-empty) onto the list via
// end, then starts a fresh accumulator of newKind at position at.
func emit(arena *ast.Arena, b *building, end ***ast.Node, newKind ast.Kind, at ast.Pos) {
	if b.started {
		n := arena.New()
		*n = ast.Node{Kind: b.kind, Value: b.value, Span: b.span}
		**end = n
		*end = &n.Next
	}
	b.kind = newKind
	b.value = 0
	b.span = ast.Span{Begin: at, End: at}
	b.started = true
}

// flush closes the node under construction without opening a replacement;
// used when a sibling list ends (']' or EOF).
func flush(arena *ast.Arena, b *building, end ***ast.Node, at ast.Pos) {
	emit(arena, b, end, ast.KindCall, at)
	b.started = false
}

// parseList parses one sibling list: either the top-level program, or the
// body of a LOOP (returning when it sees the matching ']').
func (st *state) parseList() *ast.Node {
	var head *ast.Node
	end := &head
	var b building

	for {
		c, err := st.r.ReadByte()
		if err != nil {
			if st.depth != 0 {
				st.result.Warningf(st.pos(), "closed unmatched opening bracket")
			}
			st.lastClosePos = st.pos()
			flush(st.arena, &b, &end, st.pos())
			return head
		}
		at := st.pos()
		st.column++

		switch c {
		case '[':
			flush(st.arena, &b, &end, at)
			st.depth++
			child := st.parseList()
			st.depth--
			loop := st.arena.New()
			*loop = ast.Node{Kind: ast.KindLoop, Child: child, Span: ast.Span{Begin: at, End: st.lastClosePos}}
			*end = loop
			end = &loop.Next

		case ']':
			if st.depth == 0 {
				st.result.Warningf(at, "ignored unmatched closing bracket")
				continue
			}
			st.lastClosePos = at
			flush(st.arena, &b, &end, at)
			return head

		case '+':
			if !b.started || b.kind != ast.KindAdd || b.value < 0 {
				emit(st.arena, &b, &end, ast.KindAdd, at)
			}
			b.value++
			b.span.End = at

		case '-':
			if !b.started || b.kind != ast.KindAdd || b.value > 0 {
				emit(st.arena, &b, &end, ast.KindAdd, at)
			}
			b.value--
			b.span.End = at

		case '>':
			if !b.started || b.kind != ast.KindMove || b.value < 0 {
				emit(st.arena, &b, &end, ast.KindMove, at)
			}
			b.value++
			b.span.End = at

		case '<':
			if !b.started || b.kind != ast.KindMove || b.value > 0 {
				emit(st.arena, &b, &end, ast.KindMove, at)
			}
			b.value--
			b.span.End = at

		case ',':
			emit(st.arena, &b, &end, ast.KindCall, at)
			b.value = ast.CallRead
			b.span.End = at

		case '.':
			emit(st.arena, &b, &end, ast.KindCall, at)
			b.value = ast.CallWrite
			b.span.End = at

		case '\n':
			st.line++
			st.column = 0
			continue

		default:
			if st.separator != NoSeparator && int(c) == st.separator {
				st.r.UnreadByte()
				st.column--
				st.separatorSeen = true
				flush(st.arena, &b, &end, st.pos())
				return head
			}
			// any other byte is a comment character unless it is the
			// debug character, handled below.
		}

		if st.debug != NoDebug && int(c) == st.debug {
			emit(st.arena, &b, &end, ast.KindCall, at)
			b.value = ast.CallDebug
			b.span.End = at
		}
	}
}
