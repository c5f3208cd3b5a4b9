// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import (
	"bytes"
	"debug/elf"
	"sort"
)

// dynstrRange is a live (start, end) byte range in .dynstr, end
// exclusive of the NUL terminator's successor (i.e. end is the offset
// one past the terminating NUL).
type dynstrRange struct {
	start, end int
}

// DynstrRangeMap is the reference-counted multiset of live .dynstr
// ranges described in spec §3/§4.7. It is built once at Open time by
// walking every consumer (symbol names, DT_SONAME/DT_NEEDED/DT_RPATH/
// DT_RUNPATH, and every verneed/verdef aux name) and mutated once per
// removal batch by decrementing the ranges of symbols being deleted.
type DynstrRangeMap struct {
	refcount map[int]int // keyed by start offset
	ends     map[int]int // start -> end, cached alongside refcount
}

func newDynstrRangeMap() *DynstrRangeMap {
	return &DynstrRangeMap{refcount: map[int]int{}, ends: map[int]int{}}
}

// addRef registers one more consumer of the range starting at start
// (end is computed by the caller, typically via cstrEnd).
func (m *DynstrRangeMap) addRef(start, end int) {
	m.refcount[start]++
	m.ends[start] = end
}

// Release decrements the refcount of the range starting at start,
// dropping it from the live set once it reaches zero. It is a no-op if
// start was never registered (defensive against double-release).
func (m *DynstrRangeMap) Release(start uint32) {
	s := int(start)
	if m.refcount[s] <= 0 {
		return
	}
	m.refcount[s]--
	if m.refcount[s] == 0 {
		delete(m.refcount, s)
		delete(m.ends, s)
	}
}

func (m *DynstrRangeMap) liveRanges() []dynstrRange {
	out := make([]dynstrRange, 0, len(m.refcount))
	for s, cnt := range m.refcount {
		if cnt > 0 {
			out = append(out, dynstrRange{start: s, end: m.ends[s]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// cstrEnd returns the offset one past the NUL terminator of the string
// starting at start within data.
func cstrEnd(data []byte, start int) int {
	if start >= len(data) {
		return start
	}
	if i := bytes.IndexByte(data[start:], 0); i >= 0 {
		return start + i + 1
	}
	return len(data)
}

// parseDynstrRanges reads .dynstr once and registers the live range of
// every string currently referenced: every .dynsym st_name,
// every string-valued DT_* tag, and every verneed/verdef aux name.
func (e *ElfFile) parseDynstrRanges() (*DynstrRangeMap, error) {
	data := make([]byte, e.dynstr.Size)
	if _, err := e.f.ReadAt(data, e.dynstr.Offset); err != nil {
		return nil, wrapErr(IOFailure, err, "read .dynstr")
	}
	m := newDynstrRangeMap()
	m.addRef(0, cstrEnd(data, 0)) // the identity-mapped empty string is always kept

	// Only .dynsym names live in .dynstr; .symtab (when present) indexes
	// its own .strtab, which this compactor never touches.
	if e.dynsym != nil {
		if err := e.forEachSymEntry(e.dynsym, func(idx int, s rawSym) error {
			m.addRef(int(s.Name), cstrEnd(data, int(s.Name)))
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if e.dynamic != nil {
		tags, err := e.readDynamicTags()
		if err != nil {
			return nil, err
		}
		for _, t := range tags {
			switch t.Tag {
			case elf.DT_SONAME, elf.DT_NEEDED, elf.DT_RPATH, elf.DT_RUNPATH:
				off := int(t.Val)
				m.addRef(off, cstrEnd(data, off))
			}
		}
	}

	if e.verNeed != nil {
		if err := e.walkVerNeed(func(vnFileOff uint32, auxNameOffs []uint32) {
			m.addRef(int(vnFileOff), cstrEnd(data, int(vnFileOff)))
			for _, off := range auxNameOffs {
				m.addRef(int(off), cstrEnd(data, int(off)))
			}
		}); err != nil {
			return nil, err
		}
	}
	if e.verDef != nil {
		if err := e.walkVerDef(func(auxNameOffs []uint32) {
			for _, off := range auxNameOffs {
				m.addRef(int(off), cstrEnd(data, int(off)))
			}
		}); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// forEachSymEntry reads sec (a .dynsym or .symtab SectionRef) and
// invokes fn for every entry.
func (e *ElfFile) forEachSymEntry(sec *SectionRef, fn func(idx int, s rawSym) error) error {
	if sec.Size == 0 {
		return nil
	}
	entSize := int64(e.arch.SymSize)
	n := sec.Size / entSize
	buf := make([]byte, sec.Size)
	if _, err := e.readSection(sec, buf); err != nil {
		return err
	}
	for i := int64(0); i < n; i++ {
		s := decodeSym(buf[i*entSize:(i+1)*entSize], e.arch, e.order)
		if err := fn(int(i), s); err != nil {
			return err
		}
	}
	return nil
}

// readSection reads a section's whole contents, dispatching to the
// external companion file when the section was adopted from one.
func (e *ElfFile) readSection(sec *SectionRef, buf []byte) (int, error) {
	f := e.f
	if (sec == e.symtab || sec == e.strtab) && e.externalFd != nil {
		f = e.externalFd
	}
	n, err := f.ReadAt(buf, sec.Offset)
	if err != nil {
		return n, wrapErr(IOFailure, err, "read section %s", sec.Kind)
	}
	return n, nil
}

// compactDynstr implements spec §4.7's compaction algorithm: emit the
// leading NUL, then walk surviving ranges in ascending-start order,
// folding suffix aliases into their owning range's already-emitted
// bytes and appending every other range's bytes once.
func compactDynstr(old []byte, ranges []dynstrRange) (newData []byte, oldToNew map[uint32]uint32) {
	oldToNew = map[uint32]uint32{0: 0}
	newData = []byte{0}
	var prev dynstrRange
	havePrev := false

	for _, r := range ranges {
		if r.start == 0 {
			continue // identity-mapped empty string, already emitted
		}
		if _, seen := oldToNew[uint32(r.start)]; seen {
			continue
		}
		if havePrev && r.start < prev.end && r.end == prev.end {
			target := oldToNew[uint32(prev.start)] + uint32(r.start-prev.start)
			oldToNew[uint32(r.start)] = target
			continue
		}
		oldToNew[uint32(r.start)] = uint32(len(newData))
		newData = append(newData, old[r.start:r.end]...)
		prev = r
		havePrev = true
	}
	return newData, oldToNew
}
