// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

// verifyHashes implements the original's test_hash_section /
// _check_gnu_hashtable_consistency self-check (spec §8 invariants 1-2,
// §7's documented nonfatal warning): every surviving .dynsym symbol is
// looked up in both hash tables (the unnamed null entry is skipped); a
// miss is logged, not fatal, and returned to the caller.
func (e *ElfFile) verifyHashes() ([]string, error) {
	if e.dynsym == nil {
		return nil, nil
	}
	var names []string
	err := e.forEachSymEntry(e.dynsym, func(_ int, s rawSym) error {
		name, err := e.readCString(e.dynstr, int(s.Name))
		if err != nil {
			return err
		}
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var failed []string
	if e.hashSysV != nil {
		ok, err := e.sysvLookupAll(names)
		if err != nil {
			return nil, err
		}
		for i, name := range names {
			if !ok[i] && name != "" {
				e.log.WithField("symbol", name).Warn("symbol not found in SysV hash table during consistency check")
				failed = append(failed, name)
			}
		}
	}
	if e.hashGNU != nil {
		ok, err := e.gnuLookupAll(names)
		if err != nil {
			return nil, err
		}
		for i, name := range names {
			if !ok[i] && name != "" {
				e.log.WithField("symbol", name).Warn("symbol not found in GNU hash table during consistency check")
				failed = append(failed, name)
			}
		}
	}
	return failed, nil
}

func (e *ElfFile) sysvLookupAll(names []string) ([]bool, error) {
	buf := make([]byte, e.hashSysV.Size)
	if _, err := e.readSection(e.hashSysV, buf); err != nil {
		return nil, err
	}
	nbuckets := e.order.Uint32(buf[0:4])
	buckets := buf[8 : 8+4*nbuckets]
	chains := buf[8+4*nbuckets:]

	result := make([]bool, len(names))
	for i, name := range names {
		h := elfHash(name) % nbuckets
		idx := e.order.Uint32(buckets[h*4 : h*4+4])
		for idx != 0 {
			if int(idx) < len(names) && names[idx] == name {
				result[i] = true
				break
			}
			idx = e.order.Uint32(chains[idx*4 : idx*4+4])
		}
	}
	return result, nil
}

func (e *ElfFile) gnuLookupAll(names []string) ([]bool, error) {
	hdr, _, buckets, chains, err := e.readGNUHash()
	if err != nil {
		return nil, err
	}
	result := make([]bool, len(names))
	for i, name := range names {
		h1 := gnuHash(name)
		bucket := h1 % hdr.nbuckets
		if int(bucket) >= len(buckets) {
			continue
		}
		idx := buckets[bucket]
		if idx == 0 {
			continue
		}
		for {
			symNr := idx - hdr.symoffset
			if int(symNr) >= len(chains) {
				break
			}
			if chains[symNr]>>1 == h1>>1 && int(idx) < len(names) && names[idx] == name {
				result[i] = true
				break
			}
			if chains[symNr]&1 != 0 {
				break
			}
			idx++
		}
	}
	return result, nil
}
