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

// Package objfile writes the emitted JIT code buffer out as a minimal
// relocatable ELF object: a null/.text/.note.build.id/.symtab/.strtab/
// .shstrtab section layout with one global STT_FUNC symbol, "bfmain",
// spanning the whole of .text. Section/symbol table layout is grounded on
// tinyrange-rtg/std/compiler/elf_x64.go's buildELF64, generalized from an
// executable (ET_EXEC, one PT_LOAD segment) to a relocatable object
// (ET_REL, no program headers, no virtual addresses) per spec.md §6.
package objfile

import (
	"encoding/binary"

	"github.com/google/uuid"
)

const (
	etREL     = 1
	emX8664   = 62
	elfClass  = 2 // ELFCLASS64
	elfData   = 1 // ELFDATA2LSB
	elfHdrLen = 64
	shdrLen   = 64
	symLen    = 24
)

// symbolName is the entry point symbol every emitted object exports,
// matching the (tape, callbacks) -> tape call signature described in
// spec.md §6.
const symbolName = "bfmain"

func putU16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func putU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func putU64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

// Write assembles a relocatable ELF object containing code as .text, an
// ELF note carrying a google/uuid v4 build id (so repeated -c runs of the
// same session, or a profiler/debugger attaching to a loaded object, can be
// told apart), and a symbol table exposing symbolName.
func Write(code []byte, buildID uuid.UUID) []byte {
	var shstrtab []byte
	shstrtab = append(shstrtab, 0)
	nameText := appendStr(&shstrtab, ".text")
	nameNote := appendStr(&shstrtab, ".note.build.id")
	nameSymtab := appendStr(&shstrtab, ".symtab")
	nameStrtab := appendStr(&shstrtab, ".strtab")
	nameShstrtab := appendStr(&shstrtab, ".shstrtab")

	note := buildIDNote(buildID)

	var strtab []byte
	strtab = append(strtab, 0)
	symNameOff := appendStr(&strtab, symbolName)

	symtab := make([]byte, 2*symLen)
	// entry 0: null symbol, all zero.
	s := symtab[symLen:]
	putU32(s[0:], uint32(symNameOff))
	s[4] = 0x12 // st_info: STB_GLOBAL<<4 | STT_FUNC
	s[5] = 0    // st_other
	putU16(s[6:], 1) // st_shndx: .text is section index 1
	putU64(s[8:], 0)
	putU64(s[16:], uint64(len(code)))

	textOff := elfHdrLen
	noteOff := align(textOff+len(code), 8)
	symtabOff := align(noteOff+len(note), 8)
	strtabOff := symtabOff + len(symtab)
	shstrtabOff := strtabOff + len(strtab)
	shdrOff := align(shstrtabOff+len(shstrtab), 8)

	total := shdrOff + 6*shdrLen
	elf := make([]byte, total)

	elf[0], elf[1], elf[2], elf[3] = 0x7f, 'E', 'L', 'F'
	elf[4], elf[5], elf[6] = elfClass, elfData, 1
	putU16(elf[16:], etREL)
	putU16(elf[18:], emX8664)
	putU32(elf[20:], 1)
	putU64(elf[24:], 0) // e_entry: none, ET_REL has no virtual addresses
	putU64(elf[32:], 0) // e_phoff: no program headers
	putU64(elf[40:], uint64(shdrOff))
	putU16(elf[52:], elfHdrLen)
	putU16(elf[54:], 0) // e_phentsize
	putU16(elf[56:], 0) // e_phnum
	putU16(elf[58:], shdrLen)
	putU16(elf[60:], 6) // e_shnum
	putU16(elf[62:], 5) // e_shstrndx

	copy(elf[textOff:], code)
	copy(elf[noteOff:], note)
	copy(elf[symtabOff:], symtab)
	copy(elf[strtabOff:], strtab)
	copy(elf[shstrtabOff:], shstrtab)

	shdr := elf[shdrOff:]
	// section 0: SHT_NULL, all zero.

	s = shdr[1*shdrLen:]
	putU32(s[0:], uint32(nameText))
	putU32(s[4:], 1)     // SHT_PROGBITS
	putU64(s[8:], 0x6)   // SHF_ALLOC|SHF_EXECINSTR
	putU64(s[24:], uint64(textOff))
	putU64(s[32:], uint64(len(code)))
	putU64(s[48:], 16)

	s = shdr[2*shdrLen:]
	putU32(s[0:], uint32(nameNote))
	putU32(s[4:], 7) // SHT_NOTE
	putU64(s[24:], uint64(noteOff))
	putU64(s[32:], uint64(len(note)))
	putU64(s[48:], 4)

	s = shdr[3*shdrLen:]
	putU32(s[0:], uint32(nameSymtab))
	putU32(s[4:], 2) // SHT_SYMTAB
	putU64(s[24:], uint64(symtabOff))
	putU64(s[32:], uint64(len(symtab)))
	putU32(s[40:], 4) // sh_link: .strtab is section index 4
	putU32(s[44:], 1) // sh_info: first global symbol index
	putU64(s[48:], 8)
	putU64(s[56:], symLen)

	s = shdr[4*shdrLen:]
	putU32(s[0:], uint32(nameStrtab))
	putU32(s[4:], 3) // SHT_STRTAB
	putU64(s[24:], uint64(strtabOff))
	putU64(s[32:], uint64(len(strtab)))
	putU64(s[48:], 1)

	s = shdr[5*shdrLen:]
	putU32(s[0:], uint32(nameShstrtab))
	putU32(s[4:], 3) // SHT_STRTAB
	putU64(s[24:], uint64(shstrtabOff))
	putU64(s[32:], uint64(len(shstrtab)))
	putU64(s[48:], 1)

	return elf
}

func appendStr(tab *[]byte, s string) int {
	off := len(*tab)
	*tab = append(*tab, s...)
	*tab = append(*tab, 0)
	return off
}

func align(n, to int) int {
	if rem := n % to; rem != 0 {
		n += to - rem
	}
	return n
}

// buildIDNote encodes id as a GNU-style ELF note (name "GNU\0", type
// NT_GNU_BUILD_ID = 3), the same note kind readelf/gdb expect for "build
// id" sections in production toolchains.
func buildIDNote(id uuid.UUID) []byte {
	name := []byte("GNU\x00")
	desc := id[:]
	note := make([]byte, 12+len(name)+len(desc))
	putU32(note[0:], uint32(len(name)))
	putU32(note[4:], uint32(len(desc)))
	putU32(note[8:], 3) // NT_GNU_BUILD_ID
	copy(note[12:], name)
	copy(note[12+len(name):], desc)
	return note
}
