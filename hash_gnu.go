// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import "sort"

// gnuHash is the GNU djb2-style hash used by .gnu.hash (spec §4.5).
func gnuHash(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

type gnuHashHeader struct {
	nbuckets, symoffset, bloomSize, bloomShift uint32
}

// editGNUHash performs the incremental .gnu.hash edit of spec §4.5:
// the bloom filter is left untouched; buckets and chains are edited in
// place. removed must be sorted in descending .dynsym-index order, the
// same order the invariant check (descending bucket order) demands.
func (e *ElfFile) editGNUHash(removed []SymbolRef) error {
	if e.hashGNU == nil || len(removed) == 0 {
		return nil
	}

	hdr, bloom, buckets, chains, err := e.readGNUHash()
	if err != nil {
		return err
	}

	var defined, undefined []SymbolRef
	for _, s := range removed {
		if uint32(s.Index) < hdr.symoffset {
			undefined = append(undefined, s)
		} else {
			defined = append(defined, s)
		}
	}

	funcBuckets := make([]uint32, len(defined))
	for i, s := range defined {
		funcBuckets[i] = gnuHash(s.Name) % hdr.nbuckets
	}
	for i := 1; i < len(funcBuckets); i++ {
		if funcBuckets[i] > funcBuckets[i-1] {
			return newErr(IntegrityViolation, "gnu.hash: bucket numbers of removed symbols are not in descending order")
		}
	}

	for _, s := range defined {
		symNr := int(uint32(s.Index) - hdr.symoffset)
		if symNr < 0 || symNr >= len(chains) {
			return newErr(IntegrityViolation, "gnu.hash: symbol %s index out of chain range", s.Name)
		}
		if chains[symNr]>>1 != gnuHash(s.Name)>>1 {
			return newErr(IntegrityViolation, "gnu.hash: chain hash mismatch for symbol %s", s.Name)
		}
		h := gnuHash(s.Name) % hdr.nbuckets
		endBit := chains[symNr] & 1

		chains = append(chains[:symNr], chains[symNr+1:]...)

		if endBit == 1 {
			switch {
			case symNr == 0:
				buckets[h] = 0
			case chains[symNr-1]&1 == 1:
				buckets[h] = 0
			default:
				chains[symNr-1] |= 1
			}
		}
	}

	if len(defined) > 0 {
		removedIdx := make([]int, len(defined))
		for i, s := range defined {
			removedIdx[i] = s.Index
		}
		sort.Ints(removedIdx)
		newNchain := uint32(len(chains))
		for i := range buckets {
			if buckets[i] == 0 {
				continue
			}
			shift := sort.SearchInts(removedIdx, int(buckets[i]))
			buckets[i] -= uint32(shift)
			if buckets[i] == hdr.symoffset+newNchain {
				buckets[i] = 0
			}
		}
	}

	if len(undefined) > 0 {
		n := uint32(len(undefined))
		hdr.symoffset -= n
		for i := range buckets {
			if buckets[i] != 0 {
				buckets[i] -= n
			}
		}
	}

	return e.writeGNUHash(hdr, bloom, buckets, chains)
}

func (e *ElfFile) readGNUHash() (gnuHashHeader, []byte, []uint32, []uint32, error) {
	buf := make([]byte, e.hashGNU.Size)
	if _, err := e.readSection(e.hashGNU, buf); err != nil {
		return gnuHashHeader{}, nil, nil, nil, err
	}
	hdr := gnuHashHeader{
		nbuckets:   e.order.Uint32(buf[0:4]),
		symoffset:  e.order.Uint32(buf[4:8]),
		bloomSize:  e.order.Uint32(buf[8:12]),
		bloomShift: e.order.Uint32(buf[12:16]),
	}
	off := 16
	bloomBytes := int(hdr.bloomSize) * e.arch.PtrSize
	bloom := append([]byte(nil), buf[off:off+bloomBytes]...)
	off += bloomBytes

	buckets := make([]uint32, hdr.nbuckets)
	for i := range buckets {
		buckets[i] = e.order.Uint32(buf[off : off+4])
		off += 4
	}
	nchain := (len(buf) - off) / 4
	chains := make([]uint32, nchain)
	for i := range chains {
		chains[i] = e.order.Uint32(buf[off : off+4])
		off += 4
	}
	return hdr, bloom, buckets, chains, nil
}

func (e *ElfFile) writeGNUHash(hdr gnuHashHeader, bloom []byte, buckets, chains []uint32) error {
	size := int64(16 + len(bloom) + 4*len(buckets) + 4*len(chains))
	out := make([]byte, size)
	e.order.PutUint32(out[0:4], hdr.nbuckets)
	e.order.PutUint32(out[4:8], hdr.symoffset)
	e.order.PutUint32(out[8:12], hdr.bloomSize)
	e.order.PutUint32(out[12:16], hdr.bloomShift)
	off := 16
	copy(out[off:], bloom)
	off += len(bloom)
	for _, b := range buckets {
		e.order.PutUint32(out[off:off+4], b)
		off += 4
	}
	for _, c := range chains {
		e.order.PutUint32(out[off:off+4], c)
		off += 4
	}
	return e.writeSectionShrink(e.hashGNU, out, size)
}
