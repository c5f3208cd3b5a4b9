// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

// sysvNbucketsSchedule is the fixed bucket-count schedule of spec
// §4.5; nbuckets is the largest entry <= the new symbol count.
var sysvNbucketsSchedule = []uint32{
	1, 3, 17, 37, 67, 97, 131, 197, 263, 521, 1031, 2053, 4099, 8209,
	16411, 32771, 65537, 131101, 262147,
}

func chooseNbuckets(nchain uint32) uint32 {
	best := sysvNbucketsSchedule[0]
	for _, n := range sysvNbucketsSchedule {
		if n <= nchain {
			best = n
		} else {
			break
		}
	}
	return best
}

// elfHash is the SysV symbol-hash algorithm (spec §4.5).
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

// rebuildSysVHash fully recomputes .hash from the post-edit .dynsym,
// per spec §4.5: choose nbuckets from the schedule, then for each
// surviving symbol in index order, chain it into its bucket.
func (e *ElfFile) rebuildSysVHash(names []string) error {
	if e.hashSysV == nil {
		return nil
	}
	nchain := uint32(len(names))
	nbuckets := chooseNbuckets(nchain)

	buckets := make([]uint32, nbuckets)
	chains := make([]uint32, nchain)
	for i, name := range names {
		if name == "" {
			continue
		}
		h := elfHash(name) % nbuckets
		chains[i] = buckets[h]
		buckets[h] = uint32(i)
	}

	size := int64(2+int(nbuckets)+int(nchain)) * 4
	out := make([]byte, size)
	e.order.PutUint32(out[0:4], nbuckets)
	e.order.PutUint32(out[4:8], nchain)
	off := 8
	for _, b := range buckets {
		e.order.PutUint32(out[off:off+4], b)
		off += 4
	}
	for _, c := range chains {
		e.order.PutUint32(out[off:off+4], c)
		off += 4
	}

	return e.writeSectionShrink(e.hashSysV, out, size)
}
