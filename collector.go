// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import "debug/elf"

var blacklist = map[string]bool{
	"_init": true,
	"_fini": true,
}

// Collection is the result of a collector pass: the SymbolRefs to
// remove, bound to the section version they were collected against.
type Collection struct {
	Section *SectionRef
	Symbols []SymbolRef
}

// FixupSize corrects a previously collected symbol's recorded size —
// useful when an external static-analysis provider computed a
// function's size slightly differently than the symbol table entry
// (padding, interprocedural optimization). It is a no-op if addr
// doesn't match any collected symbol.
func (c *Collection) FixupSize(addr uint64, newSize uint64) {
	for i := range c.Symbols {
		if c.Symbols[i].Value == addr {
			c.Symbols[i].Size = newSize
		}
	}
}

// CollectByName selects every STT_FUNC, non-blacklisted entry of sec
// whose name is in names (or, when complement is true, every such
// entry whose name is NOT in names).
func (e *ElfFile) CollectByName(sec *SectionRef, names []string, complement bool) (*Collection, error) {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return e.collect(sec, func(name string, _ uint64) bool {
		return set[name] != complement
	})
}

// CollectByAddress selects every STT_FUNC, non-blacklisted entry of
// sec whose st_value is in addrs (or, when complement is true, every
// such entry whose address is NOT in addrs).
func (e *ElfFile) CollectByAddress(sec *SectionRef, addrs []uint64, complement bool) (*Collection, error) {
	set := make(map[uint64]bool, len(addrs))
	for _, a := range addrs {
		set[a] = true
	}
	return e.collect(sec, func(_ string, addr uint64) bool {
		return set[addr] != complement
	})
}

func (e *ElfFile) collect(sec *SectionRef, match func(name string, addr uint64) bool) (*Collection, error) {
	if sec == nil {
		return nil, newErr(MissingSection, "collect: section not present")
	}
	strsec := e.dynstr
	if sec == e.symtab && e.strtab != nil {
		strsec = e.strtab
	}

	out := &Collection{Section: sec}
	err := e.forEachSymEntry(sec, func(idx int, s rawSym) error {
		if symType(s.Info) != uint8(elf.STT_FUNC) {
			return nil
		}
		name, err := e.readCString(strsec, int(s.Name))
		if err != nil {
			return err
		}
		if blacklist[name] {
			return nil
		}
		if !match(name, s.Value) {
			return nil
		}
		out.Symbols = append(out.Symbols, SymbolRef{
			Name: name, Index: idx, NameOff: s.Name, Value: s.Value, Size: s.Size,
			secVer: sec.Version, secOwner: sec,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// readCString reads the NUL-terminated string at nameOff within strsec.
func (e *ElfFile) readCString(strsec *SectionRef, nameOff int) (string, error) {
	if strsec == nil {
		return "", newErr(MissingSection, "no string table available to resolve name offset %d", nameOff)
	}
	f := e.f
	if strsec.ReadOnly && e.externalFd != nil {
		f = e.externalFd
	}
	const maxNameLen = 4096
	buf := make([]byte, maxNameLen)
	n, err := f.ReadAt(buf, strsec.Offset+int64(nameOff))
	if err != nil && n == 0 {
		return "", wrapErr(IOFailure, err, "read symbol name at .dynstr+%d", nameOff)
	}
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf[:n]), nil
}
