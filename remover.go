// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

// Remover is the public entry point: an opened library plus the
// configuration that drives its external-symtab search. It owns
// exclusive access to the underlying file for its whole lifetime (see
// the package doc) and is not safe for concurrent use.
type Remover struct {
	file *ElfFile
	cfg  Config
}

// Open opens path for surgical symbol removal.
func Open(path string, cfg Config) (*Remover, error) {
	f, err := openFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return &Remover{file: f, cfg: cfg}, nil
}

// Close releases the underlying file.
func (r *Remover) Close() error { return r.file.Close() }

// RemoveSymbols removes every STT_FUNC entry in .dynsym matching names
// (or, when complement is true, every entry NOT matching names),
// overwriting their code bodies with 0xCC unless overwriteCode is
// false. It runs the full cascade of spec §4.3-§4.8.
func (r *Remover) RemoveSymbols(names []string, complement bool, overwriteCode bool) (*Report, error) {
	if r.file.Dynsym() == nil {
		return nil, newErr(MissingSection, "no .dynsym section to remove symbols from")
	}
	coll, err := r.file.CollectByName(r.file.Dynsym(), names, complement)
	if err != nil {
		return nil, err
	}
	return r.apply(coll, overwriteCode)
}

// RemoveSymbolsByAddress is RemoveSymbols filtered by address instead
// of name.
func (r *Remover) RemoveSymbolsByAddress(addrs []uint64, complement bool, overwriteCode bool) (*Report, error) {
	if r.file.Dynsym() == nil {
		return nil, newErr(MissingSection, "no .dynsym section to remove symbols from")
	}
	coll, err := r.file.CollectByAddress(r.file.Dynsym(), addrs, complement)
	if err != nil {
		return nil, err
	}
	return r.apply(coll, overwriteCode)
}

// RemoveLocalFunctions purges .symtab entries for the given
// (address, size) pairs of file-internal functions (spec §3's "Local
// function set", supplemented from the original's
// overwrite_local_functions): their code is overwritten and any
// .rela.dyn/.rel.dyn R_*_RELATIVE entry pointing at their address is
// removed, without touching .dynsym, the hash tables, or .dynstr.
func (r *Remover) RemoveLocalFunctions(fns []LocalFunction, overwriteCode bool) (*Report, error) {
	if r.file.Symtab() == nil {
		r.file.log.Warn("no .symtab available; local-function purge runs code-overwrite and relocation removal only")
		rep := &Report{}
		for _, fn := range fns {
			if overwriteCode {
				if err := r.file.overwriteRange(fn.Address, fn.Size); err != nil {
					return nil, err
				}
			}
			rep.Removed = append(rep.Removed, RemovedSymbol{Value: fn.Address, Size: fn.Size})
		}
		if err := r.file.compactRelocations(r.file.relDyn, localFunctionsToSymbolRefs(fns), true); err != nil {
			return nil, err
		}
		return rep, nil
	}

	addrs := make([]uint64, len(fns))
	for i, fn := range fns {
		addrs[i] = fn.Address
	}
	coll, err := r.file.CollectByAddress(r.file.Symtab(), addrs, false)
	if err != nil {
		return nil, err
	}
	for _, fn := range fns {
		coll.FixupSize(fn.Address, fn.Size)
	}
	return r.apply(coll, overwriteCode)
}

// LocalFunction is a file-internal (non-exported) function's
// (address, size) pair, collected by an external static-analysis
// input rather than found via .symtab.
type LocalFunction struct {
	Address uint64
	Size    uint64
}

func localFunctionsToSymbolRefs(fns []LocalFunction) []SymbolRef {
	refs := make([]SymbolRef, len(fns))
	for i, fn := range fns {
		refs[i] = SymbolRef{Value: fn.Address, Size: fn.Size, Index: -1}
	}
	sortByIndexThenValueDescending(refs)
	return refs
}

func sortByIndexThenValueDescending(refs []SymbolRef) {
	for i := 1; i < len(refs); i++ {
		for j := i; j > 0 && refs[j].Value > refs[j-1].Value; j-- {
			refs[j], refs[j-1] = refs[j-1], refs[j]
		}
	}
}

func (r *Remover) apply(coll *Collection, overwriteCode bool) (*Report, error) {
	rep := &Report{}
	for _, s := range coll.Symbols {
		rep.Removed = append(rep.Removed, RemovedSymbol{Name: s.Name, Value: s.Value, Size: s.Size})
	}
	if err := r.file.removeFromSection(coll, overwriteCode); err != nil {
		return nil, err
	}
	return rep, nil
}

// VerifyHashes looks up every surviving .dynsym symbol in both hash
// tables and returns the names that failed lookup, matching the
// original's test_hash_section/_check_gnu_hashtable_consistency
// self-check (spec §7's documented nonfatal warning).
func (r *Remover) VerifyHashes() ([]string, error) {
	return r.file.verifyHashes()
}

// KeepRanges computes the ordered [start, end) byte ranges of the file
// not covered by any function in removed, for consumption by an
// external size-shrinking post-processor (original's get_keep_list).
func (r *Remover) KeepRanges(totalSize int64, removed []RemovedSymbol) [][2]int64 {
	return computeKeepRanges(totalSize, removed)
}
