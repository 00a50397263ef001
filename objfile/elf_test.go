package objfile

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
)

func TestWriteProducesValidELFHeader(t *testing.T) {
	code := []byte{0x90, 0x90, 0xC3} // nop; nop; ret
	elf := Write(code, uuid.New())

	if string(elf[:4]) != "\x7fELF" {
		t.Fatalf("missing ELF magic, got %v", elf[:4])
	}
	if elf[4] != elfClass {
		t.Fatalf("expected ELFCLASS64, got %d", elf[4])
	}
	etype := binary.LittleEndian.Uint16(elf[16:])
	if etype != etREL {
		t.Fatalf("expected ET_REL, got %d", etype)
	}
	machine := binary.LittleEndian.Uint16(elf[18:])
	if machine != emX8664 {
		t.Fatalf("expected EM_X86_64, got %d", machine)
	}
	shnum := binary.LittleEndian.Uint16(elf[60:])
	if shnum != 6 {
		t.Fatalf("expected 6 section headers, got %d", shnum)
	}

	textOff := elfHdrLen
	if got := string(elf[textOff : textOff+len(code)]); got != string(code) {
		t.Fatalf(".text does not hold the emitted code verbatim")
	}
}

func TestWrapperEmbedsTapeSize(t *testing.T) {
	src := string(Wrapper(4096))
	if !contains(src, "tape[4096]") {
		t.Fatalf("expected the wrapper's static tape to be sized 4096, got:\n%s", src)
	}
}

func TestIsS3Path(t *testing.T) {
	cases := map[string]bool{
		"s3://bucket/key": true,
		"/tmp/out.o":      false,
		"out.o":           false,
	}
	for path, want := range cases {
		if got := IsS3Path(path); got != want {
			t.Fatalf("IsS3Path(%q) = %v, want %v", path, got, want)
		}
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
