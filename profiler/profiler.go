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

// Package profiler turns the raw per-code-offset sample counters a
// tape.Handler's SIGVTALRM dispatch accumulates into a prefix sum, so any
// node's inclusive sample count is a two-lookup subtraction
// (prefix[end]-prefix[begin]) rather than a range scan, per spec.md §4.6.
package profiler

import "github.com/launix-de/bfjit/ast"

// Profiler holds a finished run's prefix-summed sample counters, indexed
// directly by an ast.Node's code offsets.
type Profiler struct {
	prefix []uint64
}

// Finish converts the raw per-offset counters collected during a run (one
// slot per code-buffer byte, plus one trailing sentinel slot) into a
// Profiler. prefix[i] holds the sum of raw[0:i], so a node's inclusive
// count is the plain subtraction prefix[end]-prefix[begin] spec.md §4.6
// names directly, with no range scan at lookup time.
func Finish(raw []uint64) *Profiler {
	prefix := make([]uint64, len(raw)+1)
	for i, c := range raw {
		prefix[i+1] = prefix[i] + c
	}
	return &Profiler{prefix: prefix}
}

// Total returns the number of samples collected (Σ ticks delivered).
func (p *Profiler) Total() uint64 {
	if len(p.prefix) == 0 {
		return 0
	}
	return p.prefix[len(p.prefix)-1]
}

// Samples implements printer.SampleCounts: the inclusive sample count for
// n's emitted code span.
func (p *Profiler) Samples(n *ast.Node) uint64 {
	begin, end := int(n.Code.Begin), int(n.Code.End)
	if begin < 0 || end >= len(p.prefix) || begin > end {
		return 0
	}
	return p.prefix[end] - p.prefix[begin]
}
