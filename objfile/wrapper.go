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

package objfile

import "fmt"

// Wrapper returns the C source of a companion program that links against
// an object written by Write: it declares bfmain's extern signature,
// provides a static tape and a minimal read/write/debug/wrapped callback
// vector, and calls bfmain from main. Directly grounded on
// original_source/wrapper.c; tapeSize is the static tape's byte size (the
// -m cap, if set, or a default).
func Wrapper(tapeSize int) []byte {
	return []byte(fmt.Sprintf(`/* companion wrapper for a bfjit -c object: cc -o program wrapper.c out.o */
#include <stdio.h>

typedef unsigned char Cell;
typedef Cell *(*Callback)(Cell *);

extern Cell *bfmain(Cell *tape, Callback callbacks[4]);

static Cell *bf_read(Cell *head)
{
    int c = getchar();
    if (c != EOF) *head = (Cell)c;
    return head;
}

static Cell *bf_write(Cell *head)
{
    putchar(*head);
    return head;
}

static Cell *bf_dummy(Cell *head)
{
    return head;
}

int main(void)
{
    static Callback callbacks[4] = { bf_read, bf_write, bf_dummy, bf_dummy };
    static Cell tape[%d];
    bfmain(tape, callbacks);
    return 0;
}
`, tapeSize))
}
