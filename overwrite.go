// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

const trapByte = 0xCC

// overwriteRange fills [addr, addr+size) in the executable segment
// with 0xCC trap bytes (spec §4.8), translating the virtual address to
// a file offset via the program header address map.
func (e *ElfFile) overwriteRange(addr, size uint64) error {
	if size == 0 {
		return nil
	}
	off := e.addrToOffset(addr)
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = trapByte
	}
	if _, err := e.f.WriteAt(buf, off); err != nil {
		return wrapErr(IOFailure, err, "overwrite code at 0x%x", addr)
	}
	return nil
}
