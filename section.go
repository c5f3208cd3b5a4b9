// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

// SectionKind enumerates the section roles this package understands,
// replacing a duck-typed name match with an explicit lookup table.
type SectionKind int

const (
	SectionDynsym SectionKind = iota
	SectionSymtab
	SectionDynstr
	SectionHashSysV
	SectionHashGNU
	SectionGNUVersion
	SectionGNUVersionR
	SectionGNUVersionD
	SectionRelPLT
	SectionRelDyn
	SectionDynamic
)

func (k SectionKind) String() string {
	switch k {
	case SectionDynsym:
		return ".dynsym"
	case SectionSymtab:
		return ".symtab"
	case SectionDynstr:
		return ".dynstr"
	case SectionHashSysV:
		return ".hash"
	case SectionHashGNU:
		return ".gnu.hash"
	case SectionGNUVersion:
		return ".gnu.version"
	case SectionGNUVersionR:
		return ".gnu.version_r"
	case SectionGNUVersionD:
		return ".gnu.version_d"
	case SectionRelPLT:
		return ".rel[a].plt"
	case SectionRelDyn:
		return ".rel[a].dyn"
	case SectionDynamic:
		return ".dynamic"
	default:
		return "<unknown section kind>"
	}
}

// synthIndex marks a SectionRef reconstructed from PT_DYNAMIC tags when
// no section header table is present.
const synthIndex = -1

// SectionRef is a located section: its on-disk name, section-header
// index (synthIndex if synthesized from dynamic tags), file offset,
// size, entry size, and a monotonic version counter bumped on every
// mutation. A SymbolRef whose collection-time version no longer
// matches Version is stale and must not be used (see Error Kind
// StaleCollection).
type SectionRef struct {
	Kind    SectionKind
	Name    string
	Index   int // synthIndex (-1) when synthesized, i.e. no header to persist
	Offset  int64
	Size    int64
	EntSize int64

	// Link mirrors sh_link (e.g. dynsym's sh_link is dynstr's index);
	// Info mirrors sh_info (first-non-local index for symbol tables).
	Link int
	Info int

	// Addr is sh_addr (zero for sections built from PT_DYNAMIC tags or
	// adopted from a companion file). Address-to-offset translation
	// goes through the program headers (addrToOffset), not this field.
	Addr int64

	Version uint64

	// ReadOnly is true when this section's bytes live in a different
	// file than the one being edited (an adopted external .symtab):
	// the cascade may read it but must never write to it.
	ReadOnly bool
}

// Synthetic reports whether this section has no header to persist
// (reconstructed from PT_DYNAMIC tags on a stripped binary, or adopted
// from an external companion file).
func (s *SectionRef) Synthetic() bool {
	return s == nil || s.Index == synthIndex
}

// bump advances the version counter, invalidating every SymbolRef
// collected against the previous version.
func (s *SectionRef) bump() {
	s.Version++
}
