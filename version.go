// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import "sort"

// walkVerNeed parses .gnu.version_r and calls fn once per verneed
// record with its vn_file name offset and every aux record's vna_name
// offset.
func (e *ElfFile) walkVerNeed(fn func(vnFileOff uint32, auxNameOffs []uint32)) error {
	buf := make([]byte, e.verNeed.Size)
	if _, err := e.readSection(e.verNeed, buf); err != nil {
		return err
	}
	off := 0
	for off+verneedEntSize <= len(buf) {
		vn := decodeVerneed(buf[off:off+verneedEntSize], e.order)
		var auxNames []uint32
		auxOff := off + int(vn.Aux)
		for i := uint16(0); i < vn.Cnt && auxOff+vernauxEntSize <= len(buf); i++ {
			aux := decodeVernaux(buf[auxOff:auxOff+vernauxEntSize], e.order)
			auxNames = append(auxNames, aux.Name)
			if aux.Next == 0 {
				break
			}
			auxOff += int(aux.Next)
		}
		fn(vn.File, auxNames)
		if vn.Next == 0 {
			break
		}
		off += int(vn.Next)
	}
	return nil
}

// walkVerDef parses .gnu.version_d and calls fn once per verdef record
// with every aux record's vda_name offset.
func (e *ElfFile) walkVerDef(fn func(auxNameOffs []uint32)) error {
	buf := make([]byte, e.verDef.Size)
	if _, err := e.readSection(e.verDef, buf); err != nil {
		return err
	}
	off := 0
	for off+verdefEntSize <= len(buf) {
		vd := decodeVerdef(buf[off:off+verdefEntSize], e.order)
		var auxNames []uint32
		auxOff := off + int(vd.Aux)
		for i := uint16(0); i < vd.Cnt && auxOff+verdauxEntSize <= len(buf); i++ {
			aux := decodeVerdaux(buf[auxOff:auxOff+verdauxEntSize], e.order)
			auxNames = append(auxNames, aux.Name)
			if aux.Next == 0 {
				break
			}
			auxOff += int(aux.Next)
		}
		fn(auxNames)
		if vd.Next == 0 {
			break
		}
		off += int(vd.Next)
	}
	return nil
}

// removeVersionEntries implements spec §4.6's parallel-array deletion:
// .gnu.version carries one uint16 per .dynsym entry, so the indices
// removed from .dynsym are removed here too, in the same descending
// order, with the freed tail zeroed and sh_size shrunk by 2*count.
func (e *ElfFile) removeVersionEntries(indices []int) error {
	if e.verSym == nil || len(indices) == 0 {
		return nil
	}
	sorted := append([]int(nil), indices...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	buf := make([]byte, e.verSym.Size)
	if _, err := e.readSection(e.verSym, buf); err != nil {
		return err
	}
	for _, idx := range sorted {
		o := idx * 2
		if o+2 > len(buf) {
			continue
		}
		buf = append(buf[:o], buf[o+2:]...)
	}
	newSize := int64(len(buf))
	if err := e.writeSectionShrink(e.verSym, buf, newSize); err != nil {
		return err
	}
	return nil
}

// rewriteVersionAuxNames applies oldToNew (the .dynstr compaction map)
// to every vn_file/vna_name/vda_name field, per spec §4.6.
func (e *ElfFile) rewriteVersionAuxNames(oldToNew map[uint32]uint32) error {
	if e.verNeed != nil {
		buf := make([]byte, e.verNeed.Size)
		if _, err := e.readSection(e.verNeed, buf); err != nil {
			return err
		}
		off := 0
		for off+verneedEntSize <= len(buf) {
			vn := decodeVerneed(buf[off:off+verneedEntSize], e.order)
			if nv, ok := oldToNew[vn.File]; ok {
				encodeVerneedFile(buf[off:off+verneedEntSize], e.order, nv)
			}
			auxOff := off + int(vn.Aux)
			for i := uint16(0); i < vn.Cnt && auxOff+vernauxEntSize <= len(buf); i++ {
				aux := decodeVernaux(buf[auxOff:auxOff+vernauxEntSize], e.order)
				if nv, ok := oldToNew[aux.Name]; ok {
					encodeVernauxName(buf[auxOff:auxOff+vernauxEntSize], e.order, nv)
				}
				if aux.Next == 0 {
					break
				}
				auxOff += int(aux.Next)
			}
			if vn.Next == 0 {
				break
			}
			off += int(vn.Next)
		}
		if err := e.writeSectionInPlace(e.verNeed, buf); err != nil {
			return err
		}
	}
	if e.verDef != nil {
		buf := make([]byte, e.verDef.Size)
		if _, err := e.readSection(e.verDef, buf); err != nil {
			return err
		}
		off := 0
		for off+verdefEntSize <= len(buf) {
			vd := decodeVerdef(buf[off:off+verdefEntSize], e.order)
			auxOff := off + int(vd.Aux)
			for i := uint16(0); i < vd.Cnt && auxOff+verdauxEntSize <= len(buf); i++ {
				aux := decodeVerdaux(buf[auxOff:auxOff+verdauxEntSize], e.order)
				if nv, ok := oldToNew[aux.Name]; ok {
					encodeVerdauxName(buf[auxOff:auxOff+verdauxEntSize], e.order, nv)
				}
				if aux.Next == 0 {
					break
				}
				auxOff += int(aux.Next)
			}
			if vd.Next == 0 {
				break
			}
			off += int(vd.Next)
		}
		if err := e.writeSectionInPlace(e.verDef, buf); err != nil {
			return err
		}
	}
	return nil
}
