// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import (
	"debug/elf"
	"sort"
)

// removeFromSection is the single-transaction cascade of spec §4.3:
// delete the collected symbols from their section, overwrite their
// code bodies, then drive the relocation, string-table, hash and
// version cascades that reference them.
//
// For .dynsym the full cascade (4.4-4.8) runs. For .symtab (the
// local-function-purge entry point) only the relocation compactor's
// symtab-flavored pass runs, matching spec §4.3's last paragraph.
func (e *ElfFile) removeFromSection(coll *Collection, overwriteCode bool) error {
	sec := coll.Section
	for _, s := range coll.Symbols {
		if s.Stale() {
			return newErr(StaleCollection, "symbol %s was collected against a stale section version", s.Name)
		}
	}
	removed := append([]SymbolRef(nil), coll.Symbols...)
	sort.Sort(byIndexDescending(removed))

	if overwriteCode {
		for _, s := range removed {
			if err := e.overwriteRange(s.Value, s.Size); err != nil {
				return err
			}
			e.log.WithField("symbol", s.Name).Debug("overwrote function body with trap bytes")
		}
	}

	if err := e.deleteSymEntries(sec, removed); err != nil {
		return err
	}
	e.log.WithFields(map[string]interface{}{"section": sec.Kind.String(), "count": len(removed)}).Info("removed symbol table entries")

	isSymtab := sec.Kind == SectionSymtab
	if err := e.compactRelocations(e.relDyn, removed, isSymtab); err != nil {
		return err
	}
	if isSymtab {
		return nil
	}
	if err := e.compactRelocations(e.relPLT, removed, false); err != nil {
		return err
	}

	indices := make([]int, len(removed))
	for i, s := range removed {
		indices[i] = s.Index
	}
	if err := e.removeVersionEntries(indices); err != nil {
		return err
	}

	for _, s := range removed {
		e.dynstrRanges.Release(s.NameOff)
	}
	if err := e.recompactDynstr(); err != nil {
		return err
	}

	names, err := e.currentSymbolNames(sec)
	if err != nil {
		return err
	}
	if err := e.rebuildSysVHash(names); err != nil {
		return err
	}
	if err := e.editGNUHash(removed); err != nil {
		return err
	}

	return nil
}

// deleteSymEntries implements the Editor steps (1-3, 5-7) of spec
// §4.3: entries removed in descending index order, survivors
// concatenated, trailing space zeroed, sh_size shrunk, sh_info fixed
// up to the first non-local index, version bumped.
func (e *ElfFile) deleteSymEntries(sec *SectionRef, removedDesc []SymbolRef) error {
	entSize := int(e.arch.SymSize)
	n := int(sec.Size) / entSize
	buf := make([]byte, sec.Size)
	if _, err := e.readSection(sec, buf); err != nil {
		return err
	}

	removedSet := make(map[int]bool, len(removedDesc))
	for _, s := range removedDesc {
		removedSet[s.Index] = true
	}

	survivors := make([]byte, 0, len(buf))
	firstNonLocal := -1
	kept := 0
	for i := 0; i < n; i++ {
		entry := buf[i*entSize : (i+1)*entSize]
		if removedSet[i] {
			continue
		}
		survivors = append(survivors, entry...)
		s := decodeSym(entry, e.arch, e.order)
		if firstNonLocal == -1 && symBind(s.Info) != uint8(elf.STB_LOCAL) {
			firstNonLocal = kept
		}
		kept++
	}
	if firstNonLocal == -1 {
		firstNonLocal = kept
	}

	newSize := int64(len(survivors))
	if err := e.writeSectionShrink(sec, survivors, newSize); err != nil {
		return err
	}
	if err := e.writeShdrField(sec.Index, fieldShInfo, uint64(firstNonLocal)); err != nil {
		return err
	}
	sec.Info = firstNonLocal
	return nil
}

// currentSymbolNames reads sec's post-edit entries and resolves each
// one's name through the (already compacted) .dynstr, for the hash
// rebuilders which must see the final name/offset state.
func (e *ElfFile) currentSymbolNames(sec *SectionRef) ([]string, error) {
	strsec := e.dynstr
	if sec == e.symtab && e.strtab != nil {
		strsec = e.strtab
	}
	var names []string
	err := e.forEachSymEntry(sec, func(_ int, s rawSym) error {
		name, err := e.readCString(strsec, int(s.Name))
		if err != nil {
			return err
		}
		names = append(names, name)
		return nil
	})
	return names, err
}

// recompactDynstr runs the §4.7 compaction algorithm over the current
// live-range set and applies the resulting old->new map to every
// surviving .dynsym st_name, the string-valued dynamic tags,
// and every version aux name.
func (e *ElfFile) recompactDynstr() error {
	if e.dynstr == nil {
		return nil
	}
	old := make([]byte, e.dynstr.Size)
	if _, err := e.readSection(e.dynstr, old); err != nil {
		return err
	}
	ranges := e.dynstrRanges.liveRanges()
	newData, oldToNew := compactDynstr(old, ranges)

	if err := e.rewriteStNames(e.dynsym, oldToNew); err != nil {
		return err
	}
	if err := e.rewriteDynStringTags(oldToNew); err != nil {
		return err
	}
	if err := e.rewriteVersionAuxNames(oldToNew); err != nil {
		return err
	}

	newSize := int64(len(newData))
	if err := e.writeSectionShrink(e.dynstr, newData, newSize); err != nil {
		return err
	}
	return e.setDynTagValue(elf.DT_STRSZ, uint64(newSize))
}

func (e *ElfFile) rewriteStNames(sec *SectionRef, oldToNew map[uint32]uint32) error {
	if sec == nil || sec.Size == 0 {
		return nil
	}
	entSize := int(e.arch.SymSize)
	buf := make([]byte, sec.Size)
	if _, err := e.readSection(sec, buf); err != nil {
		return err
	}
	n := len(buf) / entSize
	changed := false
	for i := 0; i < n; i++ {
		entry := buf[i*entSize : (i+1)*entSize]
		s := decodeSym(entry, e.arch, e.order)
		if nv, ok := oldToNew[s.Name]; ok && nv != s.Name {
			s.Name = nv
			encodeSym(s, e.arch, e.order, entry)
			changed = true
		}
	}
	if changed {
		return e.writeSectionInPlace(sec, buf)
	}
	return nil
}
