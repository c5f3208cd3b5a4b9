// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import (
	"debug/elf"
	"sort"
)

type relocEntry struct {
	rawRel
	origIdx int
	removed bool
}

// relocKey is the (r_info_sym, addend) sort key spec §4.4 searches on.
type relocKey struct {
	sym    uint32
	addend int64
}

func keyOf(e relocEntry) relocKey { return relocKey{sym: e.Sym, addend: e.Addend} }

func lessKey(a, b relocKey) bool {
	if a.sym != b.sym {
		return a.sym < b.sym
	}
	return a.addend < b.addend
}

// compactRelocations implements the relocation compactor of spec
// §4.4. removed must already be sorted in descending table-index
// order. isSymtab selects the local-function contract: only
// r_info_sym==0, r_addend==symbol-address entries are considered, and
// surviving entries are never renumbered (those indices still refer
// to an untouched .dynsym).
func (e *ElfFile) compactRelocations(sec *SectionRef, removed []SymbolRef, isSymtab bool) error {
	if sec == nil || len(removed) == 0 {
		return nil
	}
	entSize := int(sec.EntSize)
	if entSize == 0 {
		entSize = int(e.arch.RelaSize)
		if !e.arch.UsesRela {
			entSize = int(e.arch.RelSize)
		}
	}
	n := int(sec.Size) / entSize
	buf := make([]byte, sec.Size)
	if _, err := e.readSection(sec, buf); err != nil {
		return err
	}

	entries := make([]relocEntry, n)
	for i := 0; i < n; i++ {
		raw := buf[i*entSize : (i+1)*entSize]
		var r rawRel
		if e.arch.UsesRela {
			r = decodeRela(raw, e.arch, e.order)
		} else {
			r = decodeRel(raw, e.arch, e.order)
			r.Addend = e.readRelAddend(r.Offset)
		}
		entries[i] = relocEntry{rawRel: r, origIdx: i}
	}

	sortedIdx := make([]int, n)
	for i := range sortedIdx {
		sortedIdx[i] = i
	}
	sort.SliceStable(sortedIdx, func(i, j int) bool {
		return lessKey(keyOf(entries[sortedIdx[i]]), keyOf(entries[sortedIdx[j]]))
	})

	for _, s := range removed {
		matched := e.markRelocMatches(entries, sortedIdx, s, isSymtab)
		if !matched {
			e.log.WithField("symbol", s.Name).Debug("no matching relocation entries found during compaction")
		}
	}

	if !isSymtab {
		renumberRelocSymbols(entries, removed)
	}

	survivors := make([]relocEntry, 0, n)
	for _, en := range entries {
		if !en.removed {
			survivors = append(survivors, en)
		}
	}
	sort.SliceStable(survivors, func(i, j int) bool { return survivors[i].Offset < survivors[j].Offset })

	return e.writeRelocSection(sec, survivors, entSize, n)
}

// markRelocMatches finds and flags the relocation entries that
// reference removed symbol s, per the search/stop rules of spec §4.4.
// A dynsym removal can be referenced twice in the same section — once
// as an r_info_sym==0 RELATIVE entry keyed by addend, once as a
// symbol-indexed entry (e.g. GLOB_DAT) keyed by s.Index — so both
// searches always run; only the symtab/local-function contract stops
// after the addend search, since local functions have no dynsym index
// to search by. It returns whether any entry was matched.
func (e *ElfFile) markRelocMatches(entries []relocEntry, sortedIdx []int, s SymbolRef, isSymtab bool) bool {
	target := relocKey{sym: 0, addend: int64(s.Value)}
	start := sort.Search(len(sortedIdx), func(i int) bool {
		return !lessKey(keyOf(entries[sortedIdx[i]]), target)
	})
	matched := false
	for i := start; i < len(sortedIdx); i++ {
		en := &entries[sortedIdx[i]]
		if isSymtab {
			if en.Addend > int64(s.Value) || en.Sym != 0 {
				break
			}
		} else {
			if en.Sym != 0 || en.Addend != int64(s.Value) {
				break
			}
		}
		if en.Sym == 0 && en.Addend == int64(s.Value) && en.Addend > 0 {
			en.removed = true
			matched = true
		}
	}
	if isSymtab {
		return matched
	}

	target2 := relocKey{sym: uint32(s.Index), addend: 0}
	start2 := sort.Search(len(sortedIdx), func(i int) bool {
		return !lessKey(keyOf(entries[sortedIdx[i]]), target2)
	})
	for i := start2; i < len(sortedIdx); i++ {
		en := &entries[sortedIdx[i]]
		if en.Sym != uint32(s.Index) {
			break
		}
		en.removed = true
		matched = true
	}
	return matched
}

// renumberRelocSymbols decrements every surviving nonzero r_info_sym
// by the count of removed symbols whose original index was lower,
// since .dynsym has been compacted underneath it.
func renumberRelocSymbols(entries []relocEntry, removed []SymbolRef) {
	removedIdx := make([]int, len(removed))
	for i, s := range removed {
		removedIdx[i] = s.Index
	}
	sort.Ints(removedIdx)
	for i := range entries {
		en := &entries[i]
		if en.removed || en.Sym == 0 {
			continue
		}
		shift := sort.SearchInts(removedIdx, int(en.Sym))
		en.Sym -= uint32(shift)
	}
}

func (e *ElfFile) readRelAddend(offset uint64) int64 {
	fileOff := e.addrToOffset(offset)
	buf := make([]byte, e.arch.PtrSize)
	if _, err := e.f.ReadAt(buf, fileOff); err != nil {
		return 0
	}
	if e.arch.PtrSize == 8 {
		return int64(e.order.Uint64(buf))
	}
	return int64(int32(e.order.Uint32(buf)))
}

func (e *ElfFile) writeRelAddend(offset uint64, addend int64) error {
	fileOff := e.addrToOffset(offset)
	buf := make([]byte, e.arch.PtrSize)
	if e.arch.PtrSize == 8 {
		e.order.PutUint64(buf, uint64(addend))
	} else {
		e.order.PutUint32(buf, uint32(int32(addend)))
	}
	if _, err := e.f.WriteAt(buf, fileOff); err != nil {
		return wrapErr(IOFailure, err, "write relocation addend at 0x%x", offset)
	}
	return nil
}

// writeRelocSection serializes survivors back to disk. .rela.plt
// always shrinks (push mode, per spec §4.4); .rela.dyn/.rel.dyn pads
// with a duplicated last entry instead of shrinking when
// need_continuous_relocations holds.
func (e *ElfFile) writeRelocSection(sec *SectionRef, survivors []relocEntry, entSize, origCount int) error {
	pad := sec.Kind == SectionRelDyn && e.needContinuousRelocations
	count := len(survivors)
	if pad {
		count = origCount
	}
	out := make([]byte, count*entSize)
	relCountRelative := 0
	for i, en := range survivors {
		encodeRelocEntry(e, out[i*entSize:(i+1)*entSize], en.rawRel)
		if en.Sym == 0 {
			relCountRelative++
		}
	}
	if pad && len(survivors) > 0 {
		last := survivors[len(survivors)-1]
		for i := len(survivors); i < origCount; i++ {
			encodeRelocEntry(e, out[i*entSize:(i+1)*entSize], last.rawRel)
			if last.Sym == 0 {
				relCountRelative++
			}
		}
	}

	if pad {
		if err := e.writeSectionInPlace(sec, out); err != nil {
			return err
		}
	} else {
		newSize := int64(len(out))
		if err := e.writeSectionShrink(sec, out, newSize); err != nil {
			return err
		}
		if err := e.updateRelSizeTag(sec, newSize); err != nil {
			return err
		}
	}
	return e.updateRelCountTag(sec, relCountRelative)
}

func encodeRelocEntry(e *ElfFile, out []byte, r rawRel) {
	if e.arch.UsesRela {
		encodeRela(r, e.arch, e.order, out)
	} else {
		encodeRel(r, e.arch, e.order, out)
	}
}

// updateRelSizeTag/updateRelCountTag refresh DT_REL[A]SZ/DT_REL[A]COUNT
// for the dynamic section matching sec's flavor, when a .dynamic
// section is present (synthetic-only files have no tags to fix since
// the loader reads directly from the segment).
func (e *ElfFile) updateRelSizeTag(sec *SectionRef, newSize int64) error {
	if e.dynamic == nil {
		return nil
	}
	tag := elf.DT_RELASZ
	if !e.arch.UsesRela {
		tag = elf.DT_RELSZ
	}
	if sec.Kind == SectionRelPLT {
		tag = elf.DT_PLTRELSZ
	}
	return e.setDynTagValue(tag, uint64(newSize))
}

func (e *ElfFile) updateRelCountTag(sec *SectionRef, relativeCount int) error {
	if e.dynamic == nil || sec.Kind != SectionRelDyn {
		return nil
	}
	tag := elf.DT_RELACOUNT
	if !e.arch.UsesRela {
		tag = elf.DT_RELCOUNT
	}
	return e.setDynTagValue(tag, uint64(relativeCount))
}
