// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

// SymbolRef is a captured identity of a symbol slated for removal: its
// name (cached so later cascade steps never need to re-read it through
// a moving .dynstr offset), table
// index, name offset, address, size, and the owning section's version
// at collection time.
type SymbolRef struct {
	Name      string
	Index     int
	NameOff   uint32
	Value     uint64
	Size      uint64
	secVer    uint64
	secOwner  *SectionRef
}

// SecVersion returns the version of the section this ref was collected
// against.
func (r SymbolRef) SecVersion() uint64 { return r.secVer }

// Stale reports whether the owning section has mutated since this ref
// was collected.
func (r SymbolRef) Stale() bool {
	return r.secOwner == nil || r.secOwner.Version != r.secVer
}

// byIndexDescending sorts a []SymbolRef slice in descending table-index
// order, the order every cascade step in this package depends on to
// keep earlier indices stable while later ones are deleted.
type byIndexDescending []SymbolRef

func (s byIndexDescending) Len() int           { return len(s) }
func (s byIndexDescending) Less(i, j int) bool { return s[i].Index > s[j].Index }
func (s byIndexDescending) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
