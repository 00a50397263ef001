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

// Package debugger implements the interactive REPL spec.md §4.5 describes:
// entered on an explicit debug CALL, a wrap-around break, a left-guard
// fault, or an interrupt. The REPL shape (prompt, recovered panics around
// each command) is grounded on scm/prompt.go's Repl.
package debugger

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/launix-de/bfjit/ast"
	"github.com/launix-de/bfjit/jit"
	"github.com/launix-de/bfjit/tape"
)

const breakPrompt = "\033[31m(bf)\033[0m "

// Head is the running program's view of its own head register, as seen
// from the signal handler's saved context: reading it works mid-fault,
// writing it changes where generated code resumes once the break ends.
type Head interface {
	Head() uintptr
	SetHead(uintptr)
}

// Session is one REPL instance, reused across every break during a run
// (matching scm/prompt.go's single long-lived readline.Instance rather
// than constructing one per break).
type Session struct {
	rl   *readline.Instance
	tp   *tape.Tape
	addr *jit.AddrMap

	skip int // remaining breaks to swallow silently; -1 disables forever

	remote *broadcaster // nil unless -R was given
}

// New creates a Session. tp is the running program's tape, addr the
// address→node index built from the same tree the program is running.
func New(tp *tape.Tape, addr *jit.AddrMap) (*Session, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            breakPrompt,
		InterruptPrompt:   "^C",
		EOFPrompt:         "quit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, fmt.Errorf("debugger: %w", err)
	}
	return &Session{rl: rl, tp: tp, addr: addr}, nil
}

// Close releases the underlying readline instance.
func (s *Session) Close() error {
	if s.remote != nil {
		s.remote.close()
	}
	return s.rl.Close()
}

// EnableRemote starts a read-only websocket broadcaster of break events
// at addr (spec.md §4.5's enrichment: an external observer UI,
// never a second control surface).
func (s *Session) EnableRemote(addr string) error {
	b, err := newBroadcaster(addr)
	if err != nil {
		return err
	}
	s.remote = b
	return nil
}

// Break is called by the runtime whenever a break condition fires.
// codeOffset is the faulting/calling instruction's offset into the code
// buffer, reason a short human string ("debug", "wrap", "left guard",
// "interrupt"). It blocks on the REPL until a command resumes execution,
// and returns false if quit was requested (the caller should exit the
// process without resuming generated code).
func (s *Session) Break(codeOffset int32, reason string, head Head) bool {
	if s.skip < 0 {
		return true
	}
	if s.skip > 0 {
		s.skip--
		return true
	}

	n := s.addr.Lookup(codeOffset)
	line, col := endpointFor(n, codeOffset)
	fmt.Fprintf(s.rl.Stderr(), "Break (%s) at source line %d, column %d\n", reason, line, col)
	if s.remote != nil {
		s.remote.broadcast(event{Type: "break", Reason: reason, Line: line, Column: col})
	}

	for {
		line, err := s.rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return false
		}
		if err != nil {
			fmt.Fprintln(s.rl.Stderr(), err)
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		resume, quit := s.dispatch(fields, head)
		if quit {
			return false
		}
		if resume {
			return true
		}
	}
}

func endpointFor(n *ast.Node, codeOffset int32) (line, col int) {
	if n == nil {
		return 0, 0
	}
	// A LOOP's own span covers the whole construct; a break reported
	// against it is narrowed to whichever bracket the break is nearer,
	// using the child range to decide (spec.md §4.5): an offset at or past
	// the end of the last child's code is the closing bracket's test.
	if n.Kind == ast.KindLoop && n.Child != nil {
		if codeOffset >= ast.Last(n.Child).Code.End {
			return int(n.Span.End.Line), n.Span.End.Column
		}
	}
	return int(n.Span.Begin.Line), n.Span.Begin.Column
}

// dispatch runs one command line. resume reports whether generated code
// should resume; quit reports whether the process should exit.
func (s *Session) dispatch(fields []string, head Head) (resume, quit bool) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(s.rl.Stderr(), "error:", r)
		}
	}()

	cmd, args := fields[0], fields[1:]
	switch matchCommand(cmd) {
	case "help":
		s.help(args)
	case "quit":
		return false, true
	case "continue":
		n := 1
		if len(args) > 0 {
			n = mustAtoi(args[0])
		}
		if n == 0 {
			s.skip = -1
		} else {
			s.skip = n - 1
		}
		return true, false
	case "display":
		s.display(args, head)
	case "head":
		s.head(args, head)
	case "move":
		if len(args) != 1 {
			panic("usage: move dist")
		}
		head.SetHead(uintptr(int64(head.Head()) + int64(mustAtoi(args[0]))))
	case "write":
		s.poke(args, head, func(old, v byte) byte { return v })
	case "add":
		s.poke(args, head, func(old, v byte) byte { return old + v })
	case "subtract":
		s.poke(args, head, func(old, v byte) byte { return old - v })
	default:
		fmt.Fprintf(s.rl.Stderr(), "unknown command %q (try help)\n", cmd)
	}
	return false, false
}

var commands = []string{"help", "quit", "continue", "display", "head", "move", "write", "add", "subtract"}

// matchCommand resolves an unambiguous command-name prefix, per spec.md
// §4.5 ("each command may be abbreviated to any unique prefix").
func matchCommand(s string) string {
	var match string
	for _, c := range commands {
		if c == s {
			return c
		}
		if strings.HasPrefix(c, s) {
			if match != "" {
				return "" // ambiguous
			}
			match = c
		}
	}
	return match
}

func (s *Session) help(args []string) {
	texts := map[string]string{
		"help":     "help [cmd] - list commands, optionally filtered",
		"quit":     "quit - exit the process",
		"continue": "continue [N] - resume until the N-th subsequent break (default 1); N=0 disables all future breaks",
		"display":  "display [start [cols [rows]]] - hex-dump the tape around the head",
		"head":     "head [pos] - print or set the head position",
		"move":     "move dist - head += dist",
		"write":    "write v [off] - set the byte at head+off",
		"add":      "add v [off] - add v to the byte at head+off",
		"subtract": "subtract v [off] - subtract v from the byte at head+off",
	}
	if len(args) == 0 {
		for _, c := range commands {
			fmt.Fprintln(s.rl.Stderr(), texts[c])
		}
		return
	}
	if c := matchCommand(args[0]); c != "" {
		fmt.Fprintln(s.rl.Stderr(), texts[c])
	} else {
		fmt.Fprintf(s.rl.Stderr(), "no such command %q\n", args[0])
	}
}

// display hex-dumps the tape. Defaults center six cells before the head,
// 14 columns, 1 row; out-of-range cells print as 0; the head's own cell is
// bracketed.
func (s *Session) display(args []string, head Head) {
	start := int64(head.Head()) - int64(s.tp.Base()) - 6
	cols, rows := 14, 1
	if len(args) > 0 {
		start = int64(mustAtoi(args[0]))
	}
	if len(args) > 1 {
		cols = mustAtoi(args[1])
	}
	if len(args) > 2 {
		rows = mustAtoi(args[2])
	}

	headOff := int64(head.Head()) - int64(s.tp.Base())
	data := s.tp.Data()
	off := start
	for r := 0; r < rows; r++ {
		var sb strings.Builder
		for c := 0; c < cols; c++ {
			var v byte
			if off >= 0 && off < int64(len(data)) {
				v = data[off]
			}
			if off == headOff {
				fmt.Fprintf(&sb, "[%02x]", v)
			} else {
				fmt.Fprintf(&sb, " %02x ", v)
			}
			off++
		}
		fmt.Fprintln(s.rl.Stderr(), sb.String())
	}
}

func (s *Session) head(args []string, head Head) {
	if len(args) == 0 {
		fmt.Fprintln(s.rl.Stderr(), int64(head.Head())-int64(s.tp.Base()))
		return
	}
	pos := mustAtoi(args[0])
	s.growTo(pos, head)
	head.SetHead(s.tp.Base() + uintptr(pos))
}

func (s *Session) poke(args []string, head Head, combine func(old, v byte) byte) {
	if len(args) == 0 {
		panic("usage: write|add|subtract v [off]")
	}
	v := byte(mustAtoi(args[0]))
	off := 0
	if len(args) > 1 {
		off = mustAtoi(args[1])
	}
	target := int64(head.Head()) - int64(s.tp.Base()) + int64(off)
	if target < 0 {
		panic("target position is negative")
	}
	s.growTo(int(target), head)
	data := s.tp.Data()
	data[target] = combine(data[target], v)
}

// growTo grows the tape until pos is writable. Grow may move the tape, so
// the head is re-based onto the new region at its old offset.
func (s *Session) growTo(pos int, head Head) {
	off := head.Head() - s.tp.Base()
	for pos >= len(s.tp.Data()) {
		if _, err := s.tp.Grow(0); err != nil {
			panic(err)
		}
	}
	head.SetHead(s.tp.Base() + off)
}

func mustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		panic(fmt.Sprintf("not a number: %q", s))
	}
	return n
}
