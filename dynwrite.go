// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import "debug/elf"

// setDynTagValue rewrites the first .dynamic entry with the given tag
// to val. A no-op when .dynamic has no header row to persist to (a
// stripped file's loader reads straight from the PT_DYNAMIC segment,
// which is the same bytes this writes into).
func (e *ElfFile) setDynTagValue(tag elf.DynTag, val uint64) error {
	if e.dynamic == nil {
		return nil
	}
	return e.editDynTags(func(b []byte, i int, t elf.DynTag) bool {
		if t != tag {
			return false
		}
		e.putDynVal(b, i, val)
		return true
	})
}

// rewriteDynStringTags applies the .dynstr old->new offset map to
// every DT_SONAME/DT_NEEDED/DT_RPATH/DT_RUNPATH entry (spec §4.7).
// DT_NEEDED may repeat; every occurrence is rewritten independently.
func (e *ElfFile) rewriteDynStringTags(oldToNew map[uint32]uint32) error {
	if e.dynamic == nil {
		return nil
	}
	return e.editDynTags(func(b []byte, i int, t elf.DynTag) bool {
		switch t {
		case elf.DT_SONAME, elf.DT_NEEDED, elf.DT_RPATH, elf.DT_RUNPATH:
		default:
			return false
		}
		old := e.dynVal(b, i)
		if nv, ok := oldToNew[uint32(old)]; ok {
			e.putDynVal(b, i, uint64(nv))
			return true
		}
		return false
	})
}

// editDynTags reads .dynamic, applies edit to every entry (edit
// returns true if it mutated that entry's bytes) and, if anything
// changed, writes the section back.
func (e *ElfFile) editDynTags(edit func(b []byte, i int, t elf.DynTag) bool) error {
	buf := make([]byte, e.dynamic.Size)
	if _, err := e.readSection(e.dynamic, buf); err != nil {
		return err
	}
	entSize := e.arch.PtrSize * 2
	changed := false
	for i := 0; i*entSize+entSize <= len(buf); i++ {
		t := e.dynTagAt(buf, i)
		if t == elf.DT_NULL {
			break
		}
		if edit(buf, i, t) {
			changed = true
		}
	}
	if changed {
		return e.writeSectionInPlace(e.dynamic, buf)
	}
	return nil
}

func (e *ElfFile) dynTagAt(buf []byte, i int) elf.DynTag {
	entSize := e.arch.PtrSize * 2
	off := i * entSize
	if e.arch.PtrSize == 8 {
		return elf.DynTag(e.order.Uint64(buf[off : off+8]))
	}
	return elf.DynTag(int32(e.order.Uint32(buf[off : off+4])))
}

func (e *ElfFile) dynVal(buf []byte, i int) uint64 {
	entSize := e.arch.PtrSize * 2
	off := i*entSize + e.arch.PtrSize
	if e.arch.PtrSize == 8 {
		return e.order.Uint64(buf[off : off+8])
	}
	return uint64(e.order.Uint32(buf[off : off+4]))
}

func (e *ElfFile) putDynVal(buf []byte, i int, val uint64) {
	entSize := e.arch.PtrSize * 2
	off := i*entSize + e.arch.PtrSize
	if e.arch.PtrSize == 8 {
		e.order.PutUint64(buf[off:off+8], val)
	} else {
		e.order.PutUint32(buf[off:off+4], uint32(val))
	}
}
