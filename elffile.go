// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jzh18/elfremove/internal/arch"
)

// ElfFile is a handle to an opened, read-write binary stream: its
// endianness, word size, machine and located sections. One ElfFile
// instance owns exclusive mutable access to its file for its entire
// lifetime; it is not safe for concurrent use (see the package doc).
type ElfFile struct {
	f     *os.File
	order binary.ByteOrder
	class elf.Class
	arch  *arch.Arch
	log   *logrus.Logger

	dynsym   *SectionRef
	symtab   *SectionRef
	dynstr   *SectionRef
	strtab   *SectionRef // .symtab's own string table; never compacted, spec scopes compaction to .dynstr
	hashSysV *SectionRef
	hashGNU  *SectionRef
	verSym   *SectionRef
	verNeed  *SectionRef
	verDef   *SectionRef
	relPLT   *SectionRef
	relDyn   *SectionRef
	dynamic  *SectionRef

	progs []elf.ProgHeader

	shoff     int64
	shentsize int64

	needContinuousRelocations bool

	externalFd *os.File // companion file backing a synthetic symtab, kept open until Close

	dynstrRanges *DynstrRangeMap
}

// Arch returns the detected target architecture.
func (e *ElfFile) Arch() *arch.Arch { return e.arch }

// ByteOrder returns the file's byte order.
func (e *ElfFile) ByteOrder() binary.ByteOrder { return e.order }

// NeedContinuousRelocations reports whether the buggy-loader quirk
// (spec §4.1) requires relocation tables to keep a stable byte length.
func (e *ElfFile) NeedContinuousRelocations() bool { return e.needContinuousRelocations }

// Dynsym, Symtab, Dynstr and so on return the located SectionRef for
// each structure, or nil if the file has none (e.g. Symtab is commonly
// absent in a stripped .so unless an external provider supplied one).
func (e *ElfFile) Dynsym() *SectionRef   { return e.dynsym }
func (e *ElfFile) Symtab() *SectionRef   { return e.symtab }
func (e *ElfFile) Dynstr() *SectionRef   { return e.dynstr }
func (e *ElfFile) HashSysV() *SectionRef { return e.hashSysV }
func (e *ElfFile) HashGNU() *SectionRef  { return e.hashGNU }
func (e *ElfFile) VerSym() *SectionRef   { return e.verSym }
func (e *ElfFile) VerNeed() *SectionRef  { return e.verNeed }
func (e *ElfFile) VerDef() *SectionRef   { return e.verDef }
func (e *ElfFile) RelPLT() *SectionRef   { return e.relPLT }
func (e *ElfFile) RelDyn() *SectionRef   { return e.relDyn }
func (e *ElfFile) Dynamic() *SectionRef  { return e.dynamic }

// DynstrRanges returns the live-range multiset backing the .dynstr
// compactor, or nil if there is no .dynstr section.
func (e *ElfFile) DynstrRanges() *DynstrRangeMap { return e.dynstrRanges }

// openFile parses path for editing. It rejects any machine other than
// EM_386/EM_X86_64 with UnsupportedArchitecture. When section headers
// locate neither .dynsym nor .symtab, it falls back to reconstructing
// synthetic sections from the PT_DYNAMIC segment's tags (spec §4.1);
// when .symtab is entirely absent it consults the external-symtab
// provider chain described by cfg.
func openFile(path string, cfg Config) (*ElfFile, error) {
	log := cfg.logger()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, wrapErr(IOFailure, err, "open %s", path)
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, wrapErr(IOFailure, err, "parse ELF header of %s", path)
	}

	a := arch.ForMachine(ef.Machine)
	if a == nil {
		f.Close()
		return nil, newErr(UnsupportedArchitecture, "machine %s is not EM_386 or EM_X86_64", ef.Machine)
	}

	e := &ElfFile{
		f:     f,
		order: ef.ByteOrder,
		class: ef.Class,
		arch:  a,
		log:   log,
	}
	for _, p := range ef.Progs {
		e.progs = append(e.progs, p.ProgHeader)
	}
	if err := e.readShdrLayout(); err != nil {
		f.Close()
		return nil, err
	}

	log.WithField("file", path).Info("opened file for symbol removal")

	e.scanSections(ef)

	if e.dynamic != nil {
		tags, err := e.readDynamicTags()
		if err != nil {
			f.Close()
			return nil, err
		}
		e.needContinuousRelocations = detectBuggyLoader(ef, tags, cfg.ForceBuggyLoader, log)
	}
	if strings.HasPrefix(filepath.Base(path), "ld-linux-") {
		log.Debug("detected ld-linux binary, keeping relocations continuous")
		e.needContinuousRelocations = true
	}

	if e.dynsym == nil && e.symtab == nil {
		log.Info("no section headers found, falling back to PT_DYNAMIC-derived views")
		if err := e.buildFromDynamicSegment(); err != nil {
			f.Close()
			return nil, err
		}
	}

	if e.symtab == nil {
		if err := e.findExternalSymtab(path, cfg); err != nil {
			log.WithError(err).Debug("external symtab search failed")
		}
	}

	if e.dynstr != nil {
		ranges, err := e.parseDynstrRanges()
		if err != nil {
			f.Close()
			return nil, err
		}
		e.dynstrRanges = ranges
	}

	return e, nil
}

// Close flushes and releases the file and any external companion file
// opened for an adopted symtab.
func (e *ElfFile) Close() error {
	var err error
	if e.externalFd != nil {
		if cerr := e.externalFd.Close(); cerr != nil {
			err = cerr
		}
	}
	if cerr := e.f.Close(); cerr != nil {
		err = cerr
	}
	return err
}

func (e *ElfFile) scanSections(ef *elf.File) {
	for i, s := range ef.Sections {
		ref := &SectionRef{
			Name:    s.Name,
			Index:   i,
			Offset:  int64(s.Offset),
			Size:    int64(s.Size),
			EntSize: int64(s.Entsize),
			Link:    int(s.Link),
			Info:    int(s.Info),
			Addr:    int64(s.Addr),
		}
		switch s.Name {
		case ".gnu.hash":
			ref.Kind = SectionHashGNU
			e.hashGNU = ref
			e.log.Debug("found .gnu.hash section")
		case ".hash":
			ref.Kind = SectionHashSysV
			e.hashSysV = ref
			e.log.Debug("found .hash section")
		case ".dynsym":
			ref.Kind = SectionDynsym
			e.dynsym = ref
			e.log.Debug("found .dynsym section")
		case ".symtab":
			ref.Kind = SectionSymtab
			e.symtab = ref
			e.log.Debug("found .symtab section")
		case ".strtab":
			ref.Kind = SectionDynstr // reuses the string-table role, never compacted
			e.strtab = ref
			e.log.Debug("found .strtab section")
		case ".gnu.version":
			ref.Kind = SectionGNUVersion
			e.verSym = ref
			e.log.Debug("found .gnu.version section")
		case ".gnu.version_r":
			ref.Kind = SectionGNUVersionR
			e.verNeed = ref
			e.log.Debug("found .gnu.version_r section")
		case ".gnu.version_d":
			ref.Kind = SectionGNUVersionD
			e.verDef = ref
			e.log.Debug("found .gnu.version_d section")
		case ".rel.plt", ".rela.plt":
			ref.Kind = SectionRelPLT
			e.relPLT = ref
			e.log.Debug("found relocation-plt section")
		case ".rel.dyn", ".rela.dyn":
			ref.Kind = SectionRelDyn
			e.relDyn = ref
			e.log.Debug("found relocation-dyn section")
		case ".dynstr":
			ref.Kind = SectionDynstr
			e.dynstr = ref
			e.log.Debug("found .dynstr section")
		case ".dynamic":
			ref.Kind = SectionDynamic
			e.dynamic = ref
			e.log.Debug("found .dynamic section")
		}
	}
}

func (e *ElfFile) readDynamicTags() ([]dynTag, error) {
	buf := make([]byte, e.dynamic.Size)
	if _, err := e.f.ReadAt(buf, e.dynamic.Offset); err != nil {
		return nil, wrapErr(IOFailure, err, "read .dynamic")
	}
	return decodeDynTags(buf, e.arch, e.order), nil
}

// detectBuggyLoader implements spec §4.1's quirk detection: eager
// binding (DF_BIND_NOW / DF_1_NOW / DT_BIND_NOW) plus either an
// ABI-tag note of exactly 2.6.32 or an environment override (force).
func detectBuggyLoader(ef *elf.File, tags []dynTag, force bool, log *logrus.Logger) bool {
	bindNow := false
	if v, ok := dynTagValue(tags, elf.DT_FLAGS); ok && v&uint64(elf.DF_BIND_NOW) != 0 {
		bindNow = true
	}
	if v, ok := dynTagValue(tags, elf.DT_FLAGS_1); ok && v&0x1 != 0 { // DF_1_NOW
		bindNow = true
	}
	if _, ok := dynTagValue(tags, elf.DT_BIND_NOW); ok {
		bindNow = true
	}
	if !bindNow {
		return false
	}
	if force {
		log.Debug("buggy loader forced by configuration and BIND_NOW, keeping relocations continuous")
		return true
	}
	if hasBuggyABITag(ef) {
		log.Debug("detected buggy loader/old ABI version and BIND_NOW, keeping relocations continuous")
		return true
	}
	return false
}

// hasBuggyABITag inspects .note.ABI-tag for a Linux ABI of exactly
// 2.6.32, the version the original tool special-cased.
func hasBuggyABITag(ef *elf.File) bool {
	sec := ef.Section(".note.ABI-tag")
	if sec == nil {
		return false
	}
	data, err := sec.Data()
	if err != nil || len(data) < 32 {
		return false
	}
	// Elf32_Nhdr: namesz, descsz, type, then name (padded to 4), then desc.
	order := ef.ByteOrder
	namesz := order.Uint32(data[0:4])
	descsz := order.Uint32(data[4:8])
	ntype := order.Uint32(data[8:12])
	if ntype != 1 { // NT_GNU_ABI_TAG
		return false
	}
	nameEnd := 12 + align4(int(namesz))
	descStart := nameEnd
	descEnd := descStart + int(descsz)
	if descEnd > len(data) || descsz < 16 {
		return false
	}
	desc := data[descStart:descEnd]
	abiOS := order.Uint32(desc[0:4])
	major := order.Uint32(desc[4:8])
	minor := order.Uint32(desc[8:12])
	tiny := order.Uint32(desc[12:16])
	return abiOS == 0 /* ELF_NOTE_OS_LINUX */ && major == 2 && minor == 6 && tiny == 32
}

func align4(n int) int { return (n + 3) &^ 3 }
