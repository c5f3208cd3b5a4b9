// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import "debug/elf"

// debug/elf parses the section header table but does not expose a way
// to write individual fields back, so readShdrLayout captures e_shoff
// and e_shentsize directly from the raw identification+header bytes;
// writeShdrField then pokes one field of one row in place.
func (e *ElfFile) readShdrLayout() error {
	hdr := make([]byte, 64)
	n, err := e.f.ReadAt(hdr, 0)
	if err != nil && n < 52 {
		return wrapErr(IOFailure, err, "read ELF header")
	}
	if e.class == elf.ELFCLASS64 {
		e.shoff = int64(e.order.Uint64(hdr[40:48]))
		e.shentsize = int64(e.order.Uint16(hdr[58:60]))
	} else {
		e.shoff = int64(e.order.Uint32(hdr[32:36]))
		e.shentsize = int64(e.order.Uint16(hdr[46:48]))
	}
	return nil
}

type shdrField int

const (
	fieldShSize shdrField = iota
	fieldShInfo
	fieldShLink
)

// shdrFieldLayout returns the (byteOffset, width) of a field within
// one Elf32_Shdr/Elf64_Shdr row.
func (e *ElfFile) shdrFieldLayout(field shdrField) (offset, width int) {
	if e.class == elf.ELFCLASS64 {
		switch field {
		case fieldShSize:
			return 32, 8
		case fieldShLink:
			return 40, 4
		case fieldShInfo:
			return 44, 4
		}
	} else {
		switch field {
		case fieldShSize:
			return 20, 4
		case fieldShLink:
			return 24, 4
		case fieldShInfo:
			return 28, 4
		}
	}
	return 0, 0
}

// writeShdrField pokes one field of section header row idx. A
// synthetic section (idx == synthIndex) has no row to update.
func (e *ElfFile) writeShdrField(idx int, field shdrField, val uint64) error {
	if idx == synthIndex || e.shoff == 0 {
		return nil
	}
	off, width := e.shdrFieldLayout(field)
	rowOff := e.shoff + int64(idx)*e.shentsize + int64(off)
	buf := make([]byte, width)
	if width == 8 {
		e.order.PutUint64(buf, val)
	} else {
		e.order.PutUint32(buf, uint32(val))
	}
	if _, err := e.f.WriteAt(buf, rowOff); err != nil {
		return wrapErr(IOFailure, err, "write section header field")
	}
	return nil
}

// writeSectionInPlace writes data at sec's file offset without
// changing its recorded size; len(data) must equal sec.Size.
func (e *ElfFile) writeSectionInPlace(sec *SectionRef, data []byte) error {
	if sec.ReadOnly {
		return nil
	}
	if _, err := e.f.WriteAt(data, sec.Offset); err != nil {
		return wrapErr(IOFailure, err, "write section %s", sec.Kind)
	}
	return nil
}

// writeSectionShrink writes data (shorter than sec.Size) at sec's file
// offset, zero-fills the freed tail, updates sec.Size and the on-disk
// sh_size (if sec has a real header row), and bumps the version
// counter.
func (e *ElfFile) writeSectionShrink(sec *SectionRef, data []byte, newSize int64) error {
	if newSize < 0 {
		return newErr(SizeUnderflow, "section %s would shrink below zero", sec.Kind)
	}
	if sec.ReadOnly {
		sec.Size = newSize
		sec.bump()
		return nil
	}
	if _, err := e.f.WriteAt(data, sec.Offset); err != nil {
		return wrapErr(IOFailure, err, "write section %s", sec.Kind)
	}
	if tail := sec.Size - newSize; tail > 0 {
		zeros := make([]byte, tail)
		if _, err := e.f.WriteAt(zeros, sec.Offset+newSize); err != nil {
			return wrapErr(IOFailure, err, "zero-fill freed tail of %s", sec.Kind)
		}
	}
	if err := e.writeShdrField(sec.Index, fieldShSize, uint64(newSize)); err != nil {
		return err
	}
	sec.Size = newSize
	sec.bump()
	return nil
}
