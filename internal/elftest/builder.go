// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elftest synthesizes minimal, valid x86-64 ELF shared-object
// fixtures in memory, so the editing cascade can be exercised against a
// hermetic binary instead of a checked-in blob.
package elftest

import (
	"encoding/binary"
	"os"
)

const (
	elfHeaderSize  = 64
	progHeaderSize = 56
	sectHeaderSize = 64
	symEntSize     = 24
	relaEntSize    = 24
	dynEntSize     = 16

	shfAlloc     = 0x2
	shfWrite     = 0x1
	shfExecInstr = 0x4

	sttFunc  = 2
	stbGlobal = 1

	dtNull     = 0
	dtNeeded   = 1
	dtHash     = 4
	dtStrtab   = 5
	dtSymtab   = 6
	dtRela     = 7
	dtRelasz   = 8
	dtRelaent  = 9
	dtStrsz    = 10
	dtSyment   = 11
	dtRelacount = 0x6ffffff9
	dtGnuHash  = 0x6ffffef5

	rX8664Relative = 8
)

// Symbol describes one .dynsym entry to synthesize.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
}

// Builder accumulates dynamic symbols and relocations for one fixture
// shared object, then serializes them into a complete, section-header
// and program-header backed ELF64 little-endian image.
type Builder struct {
	symbols  []Symbol
	relative []uint64 // addends (target addresses) of R_X86_64_RELATIVE entries in .rela.dyn
	needed   []string
	gnuHash  bool
}

// New returns an empty builder.
func New() *Builder { return &Builder{} }

// AddSymbol registers a STT_FUNC/STB_GLOBAL .dynsym entry.
func (b *Builder) AddSymbol(name string, value, size uint64) *Builder {
	b.symbols = append(b.symbols, Symbol{Name: name, Value: value, Size: size})
	return b
}

// AddRelative registers an R_X86_64_RELATIVE .rela.dyn entry whose
// addend is target (typically a symbol's Value).
func (b *Builder) AddRelative(target uint64) *Builder {
	b.relative = append(b.relative, target)
	return b
}

// WithGNUHash enables synthesizing a .gnu.hash section alongside
// SysV .hash.
func (b *Builder) WithGNUHash() *Builder {
	b.gnuHash = true
	return b
}

// WithNeeded adds a DT_NEEDED entry.
func (b *Builder) WithNeeded(name string) *Builder {
	b.needed = append(b.needed, name)
	return b
}

type strtab struct {
	data []byte
	off  map[string]uint32
}

func newStrtab() *strtab {
	return &strtab{data: []byte{0}, off: map[string]uint32{"": 0}}
}

func (s *strtab) add(name string) uint32 {
	if o, ok := s.off[name]; ok {
		return o
	}
	o := uint32(len(s.data))
	s.data = append(s.data, append([]byte(name), 0)...)
	s.off[name] = o
	return o
}

func elfHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		if g := h & 0xF0000000; g != 0 {
			h ^= g >> 24
			h &^= g
		}
	}
	return h
}

func gnuHash(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

// Build serializes the fixture and writes it to a new temp file,
// returning its path. The caller is responsible for removing it.
func (b *Builder) Build() (string, error) {
	order := binary.LittleEndian

	dynstr := newStrtab()
	shstrtab := newStrtab()

	// .dynsym: entry 0 is always the null symbol.
	nsyms := len(b.symbols) + 1
	dynsym := make([]byte, nsyms*symEntSize)
	for i, s := range b.symbols {
		idx := i + 1
		nameOff := dynstr.add(s.Name)
		entry := dynsym[idx*symEntSize : (idx+1)*symEntSize]
		order.PutUint32(entry[0:4], nameOff)
		entry[4] = stbGlobal<<4 | sttFunc // st_info
		entry[5] = 0                      // st_other
		order.PutUint16(entry[6:8], 1)    // st_shndx: nonzero (defined)
		order.PutUint64(entry[8:16], s.Value)
		order.PutUint64(entry[16:24], s.Size)
	}

	for _, n := range b.needed {
		dynstr.add(n)
	}

	// SysV .hash: single bucket, chain in symbol-table order.
	nbucket := uint32(1)
	nchain := uint32(nsyms)
	hash := make([]byte, 8+4*(nbucket+nchain))
	order.PutUint32(hash[0:4], nbucket)
	order.PutUint32(hash[4:8], nchain)
	// bucket[0] -> first real symbol (index 1), or 0 if none.
	firstIdx := uint32(0)
	if len(b.symbols) > 0 {
		firstIdx = 1
	}
	order.PutUint32(hash[8:12], firstIdx)
	chainOff := 12
	for i := 0; i < nsyms; i++ {
		var next uint32
		if i > 0 && i < len(b.symbols) {
			next = uint32(i + 1)
		}
		order.PutUint32(hash[chainOff+i*4:chainOff+i*4+4], next)
	}

	var gnuHashSec []byte
	if b.gnuHash {
		symoffset := uint32(1)
		n := uint32(len(b.symbols))
		bloomSize, bloomShift := uint32(1), uint32(6)
		gnuHashSec = make([]byte, 16+8*int(bloomSize)+4+int(n)*4)
		order.PutUint32(gnuHashSec[0:4], 1) // nbuckets
		order.PutUint32(gnuHashSec[4:8], symoffset)
		order.PutUint32(gnuHashSec[8:12], bloomSize)
		order.PutUint32(gnuHashSec[12:16], bloomShift)
		off := 16 + 8*int(bloomSize)
		if n > 0 {
			order.PutUint32(gnuHashSec[off:off+4], symoffset) // bucket 0
		}
		off += 4
		for i, s := range b.symbols {
			h := gnuHash(s.Name) &^ 1
			if uint32(i) == n-1 {
				h |= 1
			}
			order.PutUint32(gnuHashSec[off+i*4:off+i*4+4], h)
		}
	}

	rela := make([]byte, len(b.relative)*relaEntSize)
	for i, target := range b.relative {
		e := rela[i*relaEntSize : (i+1)*relaEntSize]
		order.PutUint64(e[0:8], target) // r_offset: reuse as its own target for simplicity
		order.PutUint64(e[8:16], rX8664Relative)
		order.PutUint64(e[16:24], target)
	}

	// Section name strings.
	for _, n := range []string{"", ".dynsym", ".dynstr", ".hash", ".rela.dyn", ".dynamic", ".shstrtab"} {
		shstrtab.add(n)
	}
	if b.gnuHash {
		shstrtab.add(".gnu.hash")
	}

	// Lay out section contents after the ELF + program headers.
	const nProgs = 2
	cursor := int64(elfHeaderSize + nProgs*progHeaderSize)
	place := func(size int) int64 {
		cursor = align8(cursor)
		off := cursor
		cursor += int64(size)
		return off
	}

	dynsymOff := place(len(dynsym))
	dynstrOff := place(len(dynstr.data))
	hashOff := place(len(hash))
	var gnuHashOff int64
	if b.gnuHash {
		gnuHashOff = place(len(gnuHashSec))
	}
	relaOff := place(len(rela))

	// .dynamic is built after we know every other section's offset.
	var tags []dynTag
	tags = append(tags,
		dynTag{dtHash, uint64(hashOff)},
		dynTag{dtStrtab, uint64(dynstrOff)},
		dynTag{dtStrsz, uint64(len(dynstr.data))},
		dynTag{dtSymtab, uint64(dynsymOff)},
		dynTag{dtSyment, symEntSize},
	)
	if b.gnuHash {
		tags = append(tags, dynTag{dtGnuHash, uint64(gnuHashOff)})
	}
	if len(b.relative) > 0 {
		tags = append(tags,
			dynTag{dtRela, uint64(relaOff)},
			dynTag{dtRelasz, uint64(len(rela))},
			dynTag{dtRelaent, relaEntSize},
			dynTag{dtRelacount, uint64(len(b.relative))},
		)
	}
	for _, n := range b.needed {
		tags = append(tags, dynTag{dtNeeded, uint64(dynstr.off[n])})
	}
	tags = append(tags, dynTag{dtNull, 0})

	dynamic := make([]byte, len(tags)*dynEntSize)
	for i, t := range tags {
		order.PutUint64(dynamic[i*dynEntSize:i*dynEntSize+8], uint64(t.tag))
		order.PutUint64(dynamic[i*dynEntSize+8:i*dynEntSize+16], t.val)
	}
	dynamicOff := place(len(dynamic))
	shstrtabOff := place(len(shstrtab.data))

	fileEnd := align8(cursor)

	type sectHdr struct {
		name               uint32
		typ, flags         uint32
		addr, offset, size uint64
		link, info         uint32
		addralign, entsize uint64
	}
	var sections []sectHdr
	sections = append(sections, sectHdr{}) // SHT_NULL
	sections = append(sections, sectHdr{
		name: shstrtab.off[".dynsym"], typ: 11 /* SHT_DYNSYM */, flags: shfAlloc,
		addr: uint64(dynsymOff), offset: uint64(dynsymOff), size: uint64(len(dynsym)),
		link: uint32(len(sections) + 1), info: uint32(firstIdx), entsize: symEntSize,
	})
	dynsymIdx := uint32(len(sections) - 1)
	sections = append(sections, sectHdr{
		name: shstrtab.off[".dynstr"], typ: 3 /* SHT_STRTAB */, flags: shfAlloc,
		addr: uint64(dynstrOff), offset: uint64(dynstrOff), size: uint64(len(dynstr.data)),
	})
	sections = append(sections, sectHdr{
		name: shstrtab.off[".hash"], typ: 5 /* SHT_HASH */, flags: shfAlloc,
		addr: uint64(hashOff), offset: uint64(hashOff), size: uint64(len(hash)),
		link: dynsymIdx, entsize: 4,
	})
	if b.gnuHash {
		sections = append(sections, sectHdr{
			name: shstrtab.off[".gnu.hash"], typ: 0x6ffffff6 /* SHT_GNU_HASH */, flags: shfAlloc,
			addr: uint64(gnuHashOff), offset: uint64(gnuHashOff), size: uint64(len(gnuHashSec)),
			link: dynsymIdx,
		})
	}
	if len(b.relative) > 0 {
		sections = append(sections, sectHdr{
			name: shstrtab.off[".rela.dyn"], typ: 4 /* SHT_RELA */, flags: shfAlloc,
			addr: uint64(relaOff), offset: uint64(relaOff), size: uint64(len(rela)),
			link: dynsymIdx, entsize: relaEntSize,
		})
	}
	sections = append(sections, sectHdr{
		name: shstrtab.off[".dynamic"], typ: 6 /* SHT_DYNAMIC */, flags: shfAlloc | shfWrite,
		addr: uint64(dynamicOff), offset: uint64(dynamicOff), size: uint64(len(dynamic)),
		link: dynsymIdx, entsize: dynEntSize,
	})
	sections = append(sections, sectHdr{
		name: shstrtab.off[".shstrtab"], typ: 3, offset: uint64(shstrtabOff), size: uint64(len(shstrtab.data)), addr: uint64(shstrtabOff),
	})

	shoff := align8(fileEnd)
	fileSize := shoff + int64(len(sections))*sectHeaderSize

	buf := make([]byte, fileSize)
	copy(buf[dynsymOff:], dynsym)
	copy(buf[dynstrOff:], dynstr.data)
	copy(buf[hashOff:], hash)
	if b.gnuHash {
		copy(buf[gnuHashOff:], gnuHashSec)
	}
	copy(buf[relaOff:], rela)
	copy(buf[dynamicOff:], dynamic)
	copy(buf[shstrtabOff:], shstrtab.data)

	// ELF identification + header.
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	order.PutUint16(buf[16:18], 3)       // ET_DYN
	order.PutUint16(buf[18:20], 0x3e)    // EM_X86_64
	order.PutUint32(buf[20:24], 1)       // EV_CURRENT
	order.PutUint64(buf[32:40], elfHeaderSize) // e_phoff
	order.PutUint64(buf[40:48], uint64(shoff)) // e_shoff
	order.PutUint16(buf[52:54], elfHeaderSize)
	order.PutUint16(buf[54:56], progHeaderSize)
	order.PutUint16(buf[56:58], nProgs)
	order.PutUint16(buf[58:60], sectHeaderSize)
	order.PutUint16(buf[60:62], uint16(len(sections)))
	shstrndx := uint16(len(sections) - 1)
	order.PutUint16(buf[62:64], shstrndx)

	// PT_LOAD covering every section's contents up to fileEnd (the
	// section header table after it is not covered), identity vaddr==offset.
	ph0 := buf[elfHeaderSize : elfHeaderSize+progHeaderSize]
	order.PutUint32(ph0[0:4], 1) // PT_LOAD
	order.PutUint32(ph0[4:8], 7) // PF_R|PF_W|PF_X
	order.PutUint64(ph0[8:16], 0)
	order.PutUint64(ph0[16:24], 0)
	order.PutUint64(ph0[24:32], 0)
	order.PutUint64(ph0[32:40], uint64(fileEnd))
	order.PutUint64(ph0[40:48], uint64(fileEnd))
	order.PutUint64(ph0[48:56], 0x1000)

	ph1 := buf[elfHeaderSize+progHeaderSize : elfHeaderSize+2*progHeaderSize]
	order.PutUint32(ph1[0:4], 2) // PT_DYNAMIC
	order.PutUint32(ph1[4:8], 6) // PF_R|PF_W
	order.PutUint64(ph1[8:16], uint64(dynamicOff))
	order.PutUint64(ph1[16:24], uint64(dynamicOff))
	order.PutUint64(ph1[24:32], uint64(dynamicOff))
	order.PutUint64(ph1[32:40], uint64(len(dynamic)))
	order.PutUint64(ph1[40:48], uint64(len(dynamic)))
	order.PutUint64(ph1[48:56], 8)

	for i, s := range sections {
		row := buf[int64(shoff)+int64(i)*sectHeaderSize : int64(shoff)+int64(i+1)*sectHeaderSize]
		order.PutUint32(row[0:4], s.name)
		order.PutUint32(row[4:8], s.typ)
		order.PutUint64(row[8:16], uint64(s.flags))
		order.PutUint64(row[16:24], s.addr)
		order.PutUint64(row[24:32], s.offset)
		order.PutUint64(row[32:40], s.size)
		order.PutUint32(row[40:44], s.link)
		order.PutUint32(row[44:48], s.info)
		order.PutUint64(row[48:56], s.addralign)
		order.PutUint64(row[56:64], s.entsize)
	}

	f, err := os.CreateTemp("", "elfremove-fixture-*.so")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

type dynTag struct {
	tag uint64
	val uint64
}

func align8(n int64) int64 { return (n + 7) &^ 7 }
