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

// Command bf parses, optionally optimizes, and runs (or compiles) a
// Brainfuck program. Flag handling follows Urethramancer-m68k/cmd/run68's
// style: package-level flag vars set up in init, log.SetFlags(0), a
// single flag.Parse() in main.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	units "github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/launix-de/bfjit/ast"
	"github.com/launix-de/bfjit/jit"
	"github.com/launix-de/bfjit/objfile"
	"github.com/launix-de/bfjit/optimizer"
	"github.com/launix-de/bfjit/parser"
	"github.com/launix-de/bfjit/printer"
	"github.com/launix-de/bfjit/vm"
)

// optionalChar is a flag.Value for "-d"/"-s": a flag that takes an
// optional argument, defaulting when given bare. IsBoolFlag lets the flag
// package accept "-d" alone the same way it already special-cases "-x"
// for a plain bool, instead of demanding "-d=#".
type optionalChar struct {
	set   bool
	value byte
	def   byte
}

func (o *optionalChar) String() string {
	if o == nil {
		return ""
	}
	return string(o.value)
}

func (o *optionalChar) Set(s string) error {
	o.set = true
	if s == "" || s == "true" {
		o.value = o.def
		return nil
	}
	if len(s) != 1 {
		return fmt.Errorf("want a single character, got %q", s)
	}
	o.value = s[0]
	return nil
}

func (o *optionalChar) IsBoolFlag() bool { return true }

var (
	flagE = flag.String("e", "", "use `code` as the program source instead of a file")
	flagD = &optionalChar{def: '#'}
	flagS = &optionalChar{def: '!'}
	flagO = flag.Bool("O", false, "run the optimizer")
	flagW = flag.Bool("w", false, "break to the debugger on cell wrap-around")
	flagC = flag.Bool("c", false, "write a compiled object instead of executing")
	flagP = flag.Bool("p", false, "print the canonical compact form and exit")
	flagT = flag.Bool("t", false, "print the AST and exit")
	flagI = flag.String("i", "", "override the guest program's standard input")
	flagOut = flag.String("o", "", "override the guest program's standard output, or the -c object's destination")
	flagB = flag.String("b", "full", "output buffering: none, line or full")
	flagM = flag.String("m", "", "tape memory cap, e.g. 64M")
	flagZ = flag.Int("z", -1, "byte value stored on read at EOF (default: leave cell unchanged)")
	flagBigP = flag.Bool("P", false, "enable the sampling profiler and print the annotated AST at exit")
	flagR = flag.String("R", "", "enable a websocket debugger observer at `addr`")
)

func init() {
	flag.Var(flagD, "d", "optional debug-break `char` (default '#')")
	flag.Var(flagS, "s", "optional separator `char` between inline source and its input (default '!')")
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: bf [flags] [path|-]")
	flag.PrintDefaults()
}

func main() {
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()

	if *flagE != "" && flagS.set {
		fmt.Fprintln(os.Stderr, "bf: -s has no effect with -e; an inline program has no separate stdin section")
		usage()
		os.Exit(2)
	}
	if flag.NArg() > 1 {
		usage()
		os.Exit(2)
	}

	debugChar := parser.NoDebug
	if flagD.set {
		debugChar = int(flagD.value)
	}

	result := parseSource(debugChar)
	defer result.Release()
	printDiagnostics(result)
	if result.ErrorCount() > 0 {
		log.Fatalf("bf: %d error(s), aborting", result.ErrorCount())
	}

	root := result.Root
	if *flagO {
		root = optimizer.Optimize(root)
	}

	switch {
	case *flagP:
		if err := printer.Compact(os.Stdout, root, 80); err != nil {
			log.Fatalf("bf: %v", err)
		}
		return
	case *flagT && !*flagBigP:
		if err := printer.Tree(os.Stdout, root, nil); err != nil {
			log.Fatalf("bf: %v", err)
		}
		return
	case *flagC:
		runCompile(root)
		return
	}

	runExecute(root)
}

// parseSource resolves the program source (inline -e, a named file, stdin
// on "-", or the lone positional argument) and parses it. With -s, parsing
// of a file or of stdin stops at the separator byte; main rejects -s
// together with -e, and the bytes after the separator are not passed on to
// the guest program.
func parseSource(debugChar int) *ast.ParseResult {
	p := &parser.Parser{Debug: debugChar, Separator: parser.NoSeparator}
	if flagS.set {
		p.Separator = int(flagS.value)
	}

	if *flagE != "" {
		return p.Parse(strings.NewReader(*flagE))
	}

	path := flag.Arg(0)
	if path == "" || path == "-" {
		return p.Parse(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("bf: %v", err)
	}
	defer f.Close()
	return p.Parse(f)
}

// printDiagnostics writes every parser message to stderr in spec order,
// followed by a summary count, per section 6's exact wording.
func printDiagnostics(r *ast.ParseResult) {
	for _, m := range r.Messages {
		kind := "Warning"
		if m.Severity == ast.SeverityError {
			kind = "Error"
		}
		fmt.Fprintf(os.Stderr, "%s at line %d column %d: %s!\n", kind, m.Pos.Line, m.Pos.Column, m.Text)
	}
	if n := len(r.Messages); n > 0 {
		fmt.Fprintf(os.Stderr, "%d warning(s), %d error(s)\n", r.WarningCount(), r.ErrorCount())
	}
}

// runCompile implements -c: generate code without a tape or callback
// vector, wrap it as a relocatable ELF object, and write it to -o (a
// local path or an s3:// destination) or stdout.
func runCompile(root *ast.Node) {
	w := jit.Generate(root, *flagW)
	obj := objfile.Write(w.Code, uuid.New())

	dest := *flagOut
	if dest == "" || dest == "-" {
		if _, err := os.Stdout.Write(obj); err != nil {
			log.Fatalf("bf: %v", err)
		}
		return
	}
	if objfile.IsS3Path(dest) {
		if err := objfile.UploadS3(context.Background(), dest, obj); err != nil {
			log.Fatalf("bf: %v", err)
		}
		return
	}
	if err := os.WriteFile(dest, obj, 0o644); err != nil {
		log.Fatalf("bf: %v", err)
	}

	tapeSize := 1 << 20
	if *flagM != "" {
		if n, err := units.RAMInBytes(*flagM); err == nil {
			tapeSize = int(n)
		}
	}
	if err := os.WriteFile(dest+".wrapper.c", objfile.Wrapper(tapeSize), 0o644); err != nil {
		log.Fatalf("bf: writing companion wrapper: %v", err)
	}
}

// runExecute implements the normal path: build I/O streams and options
// from flags, run the compiled program, and on -P print the annotated
// tree afterward using the returned profiler as the sample source.
func runExecute(root *ast.Node) {
	ioCfg := vm.IOConfig{
		In:       os.Stdin,
		Out:      os.Stdout,
		BufMode:  *flagB,
		EOFValue: *flagZ,
	}
	if *flagI != "" {
		f, err := os.Open(*flagI)
		if err != nil {
			log.Fatalf("bf: %v", err)
		}
		defer f.Close()
		ioCfg.In = f
	}
	if *flagOut != "" {
		f, err := os.Create(*flagOut)
		if err != nil {
			log.Fatalf("bf: %v", err)
		}
		defer f.Close()
		ioCfg.Out = f
	}

	opts := vm.Options{
		WrapCheck:  *flagW,
		Profile:    *flagBigP,
		RemoteAddr: *flagR,
	}
	if *flagM != "" {
		n, err := units.RAMInBytes(*flagM)
		if err != nil {
			log.Fatalf("bf: -m %q: %v", *flagM, err)
		}
		opts.MemLimit = uintptr(n)
	}

	prof, err := vm.Run(root, ioCfg, opts)
	if err != nil {
		log.Fatalf("bf: %v", err)
	}
	if *flagBigP {
		printer.Tree(os.Stderr, root, prof)
	}
}

