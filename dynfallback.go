// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import "debug/elf"

// buildFromDynamicSegment reconstructs synthetic SectionRefs (index
// synthIndex) from the PT_DYNAMIC segment's tags when section headers
// are absent (spec §4.1, scenario S4). Synthetic sections have no
// on-disk header to update; their Offset/Size describe a read-only
// view consumed by the cascade.
func (e *ElfFile) buildFromDynamicSegment() error {
	seg := e.findDynamicProg()
	if seg == nil {
		return newErr(MissingSection, "no PT_DYNAMIC segment and no section headers")
	}

	buf := make([]byte, seg.Filesz)
	if _, err := e.f.ReadAt(buf, int64(seg.Off)); err != nil {
		return wrapErr(IOFailure, err, "read PT_DYNAMIC segment")
	}
	tags := decodeDynTags(buf, e.arch, e.order)

	strsz, _ := dynTagValue(tags, elf.DT_STRSZ)
	if stroff, ok := dynTagValue(tags, elf.DT_STRTAB); ok {
		e.dynstr = &SectionRef{Kind: SectionDynstr, Name: ".dynstr", Index: synthIndex,
			Offset: e.addrToOffset(stroff), Size: int64(strsz)}
	}

	symoff, hasSym := dynTagValue(tags, elf.DT_SYMTAB)
	if !hasSym {
		return newErr(MissingSection, "PT_DYNAMIC has no DT_SYMTAB")
	}
	numSyms, err := e.guessSymbolCount(tags)
	if err != nil {
		return err
	}
	e.dynsym = &SectionRef{Kind: SectionDynsym, Name: ".dynsym", Index: synthIndex,
		Offset: e.addrToOffset(symoff), Size: int64(numSyms) * int64(e.arch.SymSize), EntSize: int64(e.arch.SymSize)}
	e.log.Debug("found .dynsym section")

	if hashoff, ok := dynTagValue(tags, elf.DT_HASH); ok {
		hdr := make([]byte, 8)
		off := e.addrToOffset(hashoff)
		if _, err := e.f.ReadAt(hdr, off); err == nil {
			nbucket := e.order.Uint32(hdr[0:4])
			nchain := e.order.Uint32(hdr[4:8])
			size := int64(8 + 4*(nbucket+nchain))
			e.hashSysV = &SectionRef{Kind: SectionHashSysV, Name: ".hash", Index: synthIndex, Offset: off, Size: size}
			e.log.Debug("found .hash section")
		}
	}
	if ghashoff, ok := dynTagValue(tags, elf.DT_GNU_HASH); ok {
		off := e.addrToOffset(ghashoff)
		if size, ok := e.gnuHashSectionSize(off, numSyms); ok {
			e.hashGNU = &SectionRef{Kind: SectionHashGNU, Name: ".gnu.hash", Index: synthIndex, Offset: off, Size: size}
			e.log.Debug("found .gnu.hash section")
		}
	}
	if versymoff, ok := dynTagValue(tags, elf.DT_VERSYM); ok {
		e.verSym = &SectionRef{Kind: SectionGNUVersion, Name: ".gnu.version", Index: synthIndex,
			Offset: e.addrToOffset(versymoff), Size: int64(numSyms) * 2, EntSize: 2}
	}

	if jmprel, ok := dynTagValue(tags, elf.DT_JMPREL); ok {
		if sz, ok2 := dynTagValue(tags, elf.DT_PLTRELSZ); ok2 {
			ent := e.relEntSize(tags)
			e.relPLT = &SectionRef{Kind: SectionRelPLT, Name: ".rela.plt", Index: synthIndex,
				Offset: e.addrToOffset(jmprel), Size: int64(sz), EntSize: ent}
			e.log.Debug("found relocation-plt section")
		}
	}
	relaAddr, hasRela := dynTagValue(tags, elf.DT_RELA)
	if hasRela {
		if sz, ok2 := dynTagValue(tags, elf.DT_RELASZ); ok2 {
			e.relDyn = &SectionRef{Kind: SectionRelDyn, Name: ".rela.dyn", Index: synthIndex,
				Offset: e.addrToOffset(relaAddr), Size: int64(sz), EntSize: int64(e.arch.RelaSize)}
			e.log.Debug("found relocation-dyn section")
		}
	} else if relAddr, ok := dynTagValue(tags, elf.DT_REL); ok {
		if sz, ok2 := dynTagValue(tags, elf.DT_RELSZ); ok2 {
			e.relDyn = &SectionRef{Kind: SectionRelDyn, Name: ".rel.dyn", Index: synthIndex,
				Offset: e.addrToOffset(relAddr), Size: int64(sz), EntSize: int64(e.arch.RelSize)}
			e.log.Debug("found relocation-dyn section")
		}
	}

	// detectBuggyLoader's ABI-tag check needs .note.ABI-tag's section
	// header, which doesn't exist in this no-section-headers path,
	// so DF_BIND_NOW alone decides here; cfg.ForceBuggyLoader, which
	// only stands in for the ABI-tag check, is not consulted.
	if v, ok := dynTagValue(tags, elf.DT_FLAGS); ok && v&uint64(elf.DF_BIND_NOW) != 0 {
		e.needContinuousRelocations = true
	}

	return nil
}

func (e *ElfFile) relEntSize(tags []dynTag) int64 {
	if v, ok := dynTagValue(tags, elf.DT_PLTREL); ok && elf.DynTag(v) == elf.DT_REL {
		return int64(e.arch.RelSize)
	}
	return int64(e.arch.RelaSize)
}

func (e *ElfFile) findDynamicProg() *elf.ProgHeader {
	for i := range e.progs {
		if e.progs[i].Type == elf.PT_DYNAMIC {
			return &e.progs[i]
		}
	}
	return nil
}

// addrToOffset translates a virtual address to a file offset via the
// program header table, mirroring what a loader's address map would
// do. Falls back to identity when no covering segment is found (some
// sections are not memory-mapped).
func (e *ElfFile) addrToOffset(addr uint64) int64 {
	for _, p := range e.progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if addr >= p.Vaddr && addr < p.Vaddr+p.Filesz {
			return int64(p.Off + (addr - p.Vaddr))
		}
	}
	return int64(addr)
}

// guessSymbolCount estimates the number of entries in a stripped
// .dynsym. DT_HASH's nchain field is exact when present; otherwise the
// count is derived by walking .gnu.hash's chain array from its highest
// bucket entry to the terminating (end-bit-set) word.
func (e *ElfFile) guessSymbolCount(tags []dynTag) (uint32, error) {
	if hashoff, ok := dynTagValue(tags, elf.DT_HASH); ok {
		hdr := make([]byte, 8)
		if _, err := e.f.ReadAt(hdr, e.addrToOffset(hashoff)); err == nil {
			return e.order.Uint32(hdr[4:8]), nil
		}
	}
	if ghashoff, ok := dynTagValue(tags, elf.DT_GNU_HASH); ok {
		off := e.addrToOffset(ghashoff)
		hdr := make([]byte, 16)
		if _, err := e.f.ReadAt(hdr, off); err == nil {
			nbuckets := e.order.Uint32(hdr[0:4])
			symoffset := e.order.Uint32(hdr[4:8])
			bloomSize := e.order.Uint32(hdr[8:12])
			bucketsOff := off + 16 + int64(bloomSize)*int64(e.arch.PtrSize)
			buckets := make([]byte, int64(nbuckets)*4)
			if _, err := e.f.ReadAt(buckets, bucketsOff); err == nil {
				maxIdx := uint32(0)
				for i := uint32(0); i < nbuckets; i++ {
					v := e.order.Uint32(buckets[i*4 : i*4+4])
					if v > maxIdx {
						maxIdx = v
					}
				}
				if maxIdx == 0 {
					return symoffset, nil
				}
				chainsOff := bucketsOff + int64(nbuckets)*4
				idx := maxIdx - symoffset
				for {
					word := make([]byte, 4)
					if _, err := e.f.ReadAt(word, chainsOff+int64(idx)*4); err != nil {
						return 0, wrapErr(IOFailure, err, "scan .gnu.hash chain")
					}
					v := e.order.Uint32(word)
					if v&1 != 0 {
						return symoffset + idx + 1, nil
					}
					idx++
				}
			}
		}
	}
	return 0, newErr(MissingSection, "cannot determine dynsym size: no DT_HASH or DT_GNU_HASH")
}

func (e *ElfFile) gnuHashSectionSize(off int64, numSyms uint32) (int64, bool) {
	hdr := make([]byte, 16)
	if _, err := e.f.ReadAt(hdr, off); err != nil {
		return 0, false
	}
	nbuckets := e.order.Uint32(hdr[0:4])
	symoffset := e.order.Uint32(hdr[4:8])
	bloomSize := e.order.Uint32(hdr[8:12])
	nchains := uint32(0)
	if numSyms > symoffset {
		nchains = numSyms - symoffset
	}
	size := 16 + int64(bloomSize)*int64(e.arch.PtrSize) + int64(nbuckets)*4 + int64(nchains)*4
	return size, true
}
