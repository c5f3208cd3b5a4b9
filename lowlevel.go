// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import (
	"debug/elf"
	"encoding/binary"

	"github.com/jzh18/elfremove/internal/arch"
)

// rawSym is an architecture-independent view of one Elf32_Sym/Elf64_Sym
// entry. The Editor and Collector marshal/unmarshal through this type
// so the rest of the cascade never branches on word size.
type rawSym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

func decodeSym(b []byte, a *arch.Arch, order binary.ByteOrder) rawSym {
	if a.PtrSize == 8 {
		return rawSym{
			Name:  order.Uint32(b[0:4]),
			Info:  b[4],
			Other: b[5],
			Shndx: order.Uint16(b[6:8]),
			Value: order.Uint64(b[8:16]),
			Size:  order.Uint64(b[16:24]),
		}
	}
	return rawSym{
		Name:  order.Uint32(b[0:4]),
		Value: uint64(order.Uint32(b[4:8])),
		Size:  uint64(order.Uint32(b[8:12])),
		Info:  b[12],
		Other: b[13],
		Shndx: order.Uint16(b[14:16]),
	}
}

func encodeSym(s rawSym, a *arch.Arch, order binary.ByteOrder, out []byte) {
	if a.PtrSize == 8 {
		order.PutUint32(out[0:4], s.Name)
		out[4] = s.Info
		out[5] = s.Other
		order.PutUint16(out[6:8], s.Shndx)
		order.PutUint64(out[8:16], s.Value)
		order.PutUint64(out[16:24], s.Size)
		return
	}
	order.PutUint32(out[0:4], s.Name)
	order.PutUint32(out[4:8], uint32(s.Value))
	order.PutUint32(out[8:12], uint32(s.Size))
	out[12] = s.Info
	out[13] = s.Other
	order.PutUint16(out[14:16], s.Shndx)
}

func symBind(info uint8) uint8 { return info >> 4 }
func symType(info uint8) uint8 { return info & 0xf }
func makeSymInfo(bind, typ uint8) uint8 { return bind<<4 | (typ & 0xf) }

// rawRel is an architecture-independent view of one relocation entry,
// with the addend normalized to an explicit field regardless of
// whether the on-disk format is SHT_REL (addend read from the image)
// or SHT_RELA (addend stored inline).
type rawRel struct {
	Offset uint64
	Sym    uint32
	Type   uint32
	Addend int64
}

func decodeRelaInfo(v uint64, ptrSize int) (sym uint32, typ uint32) {
	if ptrSize == 8 {
		return uint32(v >> 32), uint32(v & 0xffffffff)
	}
	return uint32(v >> 8), uint32(v & 0xff)
}

func encodeRelaInfo(sym, typ uint32, ptrSize int) uint64 {
	if ptrSize == 8 {
		return uint64(sym)<<32 | uint64(typ)
	}
	return uint64(sym)<<8 | uint64(typ&0xff)
}

func decodeRela(b []byte, a *arch.Arch, order binary.ByteOrder) rawRel {
	if a.PtrSize == 8 {
		off := order.Uint64(b[0:8])
		info := order.Uint64(b[8:16])
		add := int64(order.Uint64(b[16:24]))
		sym, typ := decodeRelaInfo(info, 8)
		return rawRel{Offset: off, Sym: sym, Type: typ, Addend: add}
	}
	off := uint64(order.Uint32(b[0:4]))
	info := uint64(order.Uint32(b[4:8]))
	add := int64(int32(order.Uint32(b[8:12])))
	sym, typ := decodeRelaInfo(info, 4)
	return rawRel{Offset: off, Sym: sym, Type: typ, Addend: add}
}

func encodeRela(r rawRel, a *arch.Arch, order binary.ByteOrder, out []byte) {
	info := encodeRelaInfo(r.Sym, r.Type, a.PtrSize)
	if a.PtrSize == 8 {
		order.PutUint64(out[0:8], r.Offset)
		order.PutUint64(out[8:16], info)
		order.PutUint64(out[16:24], uint64(r.Addend))
		return
	}
	order.PutUint32(out[0:4], uint32(r.Offset))
	order.PutUint32(out[4:8], uint32(info))
	order.PutUint32(out[8:12], uint32(int32(r.Addend)))
}

func decodeRel(b []byte, a *arch.Arch, order binary.ByteOrder) rawRel {
	if a.PtrSize == 8 {
		off := order.Uint64(b[0:8])
		info := order.Uint64(b[8:16])
		sym, typ := decodeRelaInfo(info, 8)
		return rawRel{Offset: off, Sym: sym, Type: typ}
	}
	off := uint64(order.Uint32(b[0:4]))
	info := uint64(order.Uint32(b[4:8]))
	sym, typ := decodeRelaInfo(info, 4)
	return rawRel{Offset: off, Sym: sym, Type: typ}
}

func encodeRel(r rawRel, a *arch.Arch, order binary.ByteOrder, out []byte) {
	info := encodeRelaInfo(r.Sym, r.Type, a.PtrSize)
	if a.PtrSize == 8 {
		order.PutUint64(out[0:8], r.Offset)
		order.PutUint64(out[8:16], info)
		return
	}
	order.PutUint32(out[0:4], uint32(r.Offset))
	order.PutUint32(out[4:8], uint32(info))
}

// dynTag is one (d_tag, d_val) pair of a PT_DYNAMIC segment, read
// independent of whether a .dynamic section header exists.
type dynTag struct {
	Tag elf.DynTag
	Val uint64
}

func decodeDynTags(b []byte, a *arch.Arch, order binary.ByteOrder) []dynTag {
	entSize := a.PtrSize * 2
	n := len(b) / entSize
	tags := make([]dynTag, 0, n)
	for i := 0; i < n; i++ {
		off := i * entSize
		var tag int64
		var val uint64
		if a.PtrSize == 8 {
			tag = int64(order.Uint64(b[off : off+8]))
			val = order.Uint64(b[off+8 : off+16])
		} else {
			tag = int64(int32(order.Uint32(b[off : off+4])))
			val = uint64(order.Uint32(b[off+4 : off+8]))
		}
		if elf.DynTag(tag) == elf.DT_NULL {
			break
		}
		tags = append(tags, dynTag{Tag: elf.DynTag(tag), Val: val})
	}
	return tags
}

func dynTagValue(tags []dynTag, t elf.DynTag) (uint64, bool) {
	for _, dt := range tags {
		if dt.Tag == t {
			return dt.Val, true
		}
	}
	return 0, false
}

// Elf_Verneed / Elf_Vernaux / Elf_Verdef / Elf_Verdaux have the same
// on-disk layout on ELF32 and ELF64 (all fields are Elf32_Half/Word),
// so decoding them needs only the byte order, not the class.

type verneedEntry struct {
	Version uint16
	Cnt     uint16
	File    uint32
	Aux     uint32
	Next    uint32
}

const verneedEntSize = 16

func decodeVerneed(b []byte, order binary.ByteOrder) verneedEntry {
	return verneedEntry{
		Version: order.Uint16(b[0:2]),
		Cnt:     order.Uint16(b[2:4]),
		File:    order.Uint32(b[4:8]),
		Aux:     order.Uint32(b[8:12]),
		Next:    order.Uint32(b[12:16]),
	}
}

func encodeVerneedFile(b []byte, order binary.ByteOrder, file uint32) {
	order.PutUint32(b[4:8], file)
}

type vernauxEntry struct {
	Hash  uint32
	Flags uint16
	Other uint16
	Name  uint32
	Next  uint32
}

const vernauxEntSize = 16

func decodeVernaux(b []byte, order binary.ByteOrder) vernauxEntry {
	return vernauxEntry{
		Hash:  order.Uint32(b[0:4]),
		Flags: order.Uint16(b[4:6]),
		Other: order.Uint16(b[6:8]),
		Name:  order.Uint32(b[8:12]),
		Next:  order.Uint32(b[12:16]),
	}
}

func encodeVernauxName(b []byte, order binary.ByteOrder, name uint32) {
	order.PutUint32(b[8:12], name)
}

type verdefEntry struct {
	Version uint16
	Flags   uint16
	Ndx     uint16
	Cnt     uint16
	Hash    uint32
	Aux     uint32
	Next    uint32
}

const verdefEntSize = 20

func decodeVerdef(b []byte, order binary.ByteOrder) verdefEntry {
	return verdefEntry{
		Version: order.Uint16(b[0:2]),
		Flags:   order.Uint16(b[2:4]),
		Ndx:     order.Uint16(b[4:6]),
		Cnt:     order.Uint16(b[6:8]),
		Hash:    order.Uint32(b[8:12]),
		Aux:     order.Uint32(b[12:16]),
		Next:    order.Uint32(b[16:20]),
	}
}

type verdauxEntry struct {
	Name uint32
	Next uint32
}

const verdauxEntSize = 8

func decodeVerdaux(b []byte, order binary.ByteOrder) verdauxEntry {
	return verdauxEntry{
		Name: order.Uint32(b[0:4]),
		Next: order.Uint32(b[4:8]),
	}
}

func encodeVerdauxName(b []byte, order binary.ByteOrder, name uint32) {
	order.PutUint32(b[0:4], name)
}
