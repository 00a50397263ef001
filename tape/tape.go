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

// Package tape manages the Brainfuck data tape: a contiguous anonymous
// mapping flanked on both sides by one PROT_NONE guard page. The writable
// middle region grows on demand (the right guard faults into growth; the
// left guard faults into the debugger) and is never shrunk.
//
// Grounded on original_source/vm.c's vm_alloc/vm_expand/vm_free: same
// guard-page layout and growth formula, translated from raw mmap/mprotect
// to golang.org/x/sys/unix. Growth here reallocates the whole guarded
// region and copies the old contents across rather than mremap-in-place,
// since Go's mmap wrapper does not expose address-hinted/MAP_FIXED mapping;
// the observable guarantees (guard pages on both sides, preserved byte
// offsets, no shrinking) are identical.
package tape

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrMemoryLimit is returned by Grow when growing would exceed the
// configured memory limit.
type ErrMemoryLimit struct {
	Requested, Limit uintptr
}

func (e *ErrMemoryLimit) Error() string {
	return fmt.Sprintf("memory limit exceeded: requested %d bytes, limit is %d bytes", e.Requested, e.Limit)
}

// Tape is the data tape: a PageSize()-aligned writable region, flanked by
// one guard page on either side. The zero value is not usable; use New.
type Tape struct {
	pageSize int
	limit    uintptr // 0 means unbounded

	// region is the full mapping including both guard pages; data is the
	// writable middle slice, region[pageSize : pageSize+len(data)].
	region []byte
	data   []byte
}

// New creates a tape with an initial writable size of at least size bytes
// (rounded up to a page multiple; 0 becomes one page). limit, if non-zero,
// is the largest writable-region size in bytes Grow will ever reach.
func New(size int, limit uintptr) (*Tape, error) {
	t := &Tape{pageSize: unix.Getpagesize(), limit: limit}
	if err := t.alloc(size); err != nil {
		return nil, err
	}
	return t, nil
}

// Close unmaps the tape's entire region, including both guard pages.
func (t *Tape) Close() error {
	if t.region == nil {
		return nil
	}
	err := unix.Munmap(t.region)
	t.region = nil
	t.data = nil
	return err
}

// PageSize returns the page size New aligned the tape to.
func (t *Tape) PageSize() int { return t.pageSize }

// Data returns the current writable region. The returned slice, and any
// address derived from it, is invalidated by the next call to Grow.
func (t *Tape) Data() []byte { return t.data }

// Base returns the address of the first byte of the writable region.
func (t *Tape) Base() uintptr { return addr(t.data) }

// Size returns the current writable region size in bytes.
func (t *Tape) Size() uintptr { return uintptr(len(t.data)) }

// LeftGuard reports whether addr falls inside the left guard page.
func (t *Tape) LeftGuard(a uintptr) bool {
	base := t.Base()
	return a < base && base-a <= uintptr(t.pageSize)
}

// RightGuard reports whether addr falls inside the right guard page
// immediately past the current writable region.
func (t *Tape) RightGuard(a uintptr) bool {
	end := t.Base() + t.Size()
	return a >= end && a-end < uintptr(t.pageSize)
}

// Grow expands the writable region by max(1, ceil(currentPages/4)) pages.
// headOffset is the head's current byte offset from Base(); Grow returns
// the equivalent offset into the (possibly relocated) new region, which is
// always headOffset unchanged since growth preserves every existing byte
// at its offset. Returns *ErrMemoryLimit if the limit would be exceeded.
func (t *Tape) Grow(headOffset uintptr) (uintptr, error) {
	pages := uintptr(len(t.data)) / uintptr(t.pageSize)
	addPages := (pages + 3) / 4
	if addPages < 1 {
		addPages = 1
	}
	newSize := len(t.data) + int(addPages)*t.pageSize
	if err := t.alloc(newSize); err != nil {
		return 0, err
	}
	return headOffset, nil
}

// alloc (re)allocates the tape to hold at least size writable bytes: a
// PROT_NONE reservation of size+2*pagesize is made, then the writable
// middle is carved out of it with mprotect. If a previous allocation
// exists its contents are copied into the new middle at the same offset
// before the old region is released.
func (t *Tape) alloc(size int) error {
	if size <= 0 {
		size = t.pageSize
	}
	if rem := size % t.pageSize; rem != 0 {
		size += t.pageSize - rem
	}
	if t.limit != 0 && uintptr(size) > t.limit {
		return &ErrMemoryLimit{Requested: uintptr(size), Limit: t.limit}
	}

	full, err := unix.Mmap(-1, 0, size+2*t.pageSize, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return fmt.Errorf("tape: reserving guarded region: %w", err)
	}
	middle := full[t.pageSize : t.pageSize+size]
	if err := unix.Mprotect(middle, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		unix.Munmap(full)
		return fmt.Errorf("tape: mapping writable region: %w", err)
	}

	if t.region != nil {
		copy(middle, t.data)
		if err := unix.Munmap(t.region); err != nil {
			unix.Munmap(full)
			return fmt.Errorf("tape: releasing old region: %w", err)
		}
	}
	t.region = full
	t.data = middle
	return nil
}

func addr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
