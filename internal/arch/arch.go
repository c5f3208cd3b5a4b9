// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch describes the two machine architectures elfremove
// supports and the on-disk entry sizes that differ between them.
package arch

import "debug/elf"

// Arch describes a supported target architecture.
type Arch struct {
	// GoArch is the GOARCH value for this architecture.
	GoArch string

	// PtrSize is the number of bytes in a pointer, and therefore the
	// width of Elf_Addr, Elf_Off and Elf_Xword on this architecture.
	PtrSize int

	// SymSize is the on-disk size of one Elf_Sym entry.
	SymSize int

	// RelSize is the on-disk size of one implicit-addend relocation
	// entry (Elf_Rel).
	RelSize int

	// RelaSize is the on-disk size of one explicit-addend relocation
	// entry (Elf_Rela). Only x86-64 uses RELA; i386 relocations are
	// always REL, but the field is kept for symmetry with RelSize.
	RelaSize int

	// UsesRela is true when relocation sections on this architecture
	// carry an explicit addend (SHT_RELA) rather than reading it from
	// the word at r_offset (SHT_REL).
	UsesRela bool
}

var (
	AMD64 = &Arch{GoArch: "amd64", PtrSize: 8, SymSize: 24, RelSize: 16, RelaSize: 24, UsesRela: true}
	I386  = &Arch{GoArch: "386", PtrSize: 4, SymSize: 16, RelSize: 8, RelaSize: 12, UsesRela: false}
)

func (a *Arch) String() string {
	if a == nil {
		return "<nil>"
	}
	return a.GoArch
}

// ForMachine returns the Arch for an ELF e_machine value, or nil if the
// machine isn't one elfremove supports.
func ForMachine(m elf.Machine) *Arch {
	switch m {
	case elf.EM_X86_64:
		return AMD64
	case elf.EM_386:
		return I386
	}
	return nil
}
