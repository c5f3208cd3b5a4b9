// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elfremove performs surgical, in-place removal of unused
// functions from x86-64 and i386 shared libraries.
//
// Given an open library and a set of target function symbols (by name
// or address), Remover.RemoveSymbols rewrites the dynamic symbol table,
// the SysV and GNU hash tables, the relocation tables, the
// symbol-version tables and the string table in one cascade, and
// overwrites the removed functions' code bytes with 0xCC trap
// instructions. The result is a loader-valid ELF with every reference
// to the removed symbols gone.
//
// This package never shrinks the file itself or moves bytes between
// segments; sections are compacted in place and the freed tail is
// zeroed (or, for relocation tables under the continuous-relocation
// quirk, padded with a duplicated entry). A separate tool is expected
// to consume Remover.KeepRanges and perform any subsequent file-size
// reduction.
//
// A Remover is not safe for concurrent use: it owns exclusive access
// to one *os.File for its whole lifetime, and a removal batch is not
// crash-atomic. Callers that need crash safety must snapshot the file
// before calling RemoveSymbols.
package elfremove
