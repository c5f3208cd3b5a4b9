// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove_test

import (
	"bytes"
	"debug/elf"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/jzh18/elfremove"
	"github.com/jzh18/elfremove/internal/elftest"
)

func buildFixture(t *testing.T, b *elftest.Builder) string {
	t.Helper()
	path, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(path) })
	return path
}

func TestRemoveSymbolsByName(t *testing.T) {
	path := buildFixture(t, elftest.New().
		AddSymbol("keep_me", 0x1000, 0x10).
		AddSymbol("drop_me", 0x2000, 0x20).
		AddRelative(0x2000))

	rm, err := elfremove.Open(path, elfremove.Config{})
	require.NoError(t, err)

	rep, err := rm.RemoveSymbols([]string{"drop_me"}, false, true)
	require.NoError(t, err)
	require.Len(t, rep.Removed, 1)
	require.Equal(t, "drop_me", rep.Removed[0].Name)
	require.Equal(t, uint64(0x2000), rep.Removed[0].Value)
	require.Equal(t, uint64(0x20), rep.Removed[0].Size)
	require.EqualValues(t, 0x20, rep.BytesRemoved())
	require.NoError(t, rm.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for i := 0; i < 0x20; i++ {
		require.Equalf(t, byte(0xCC), raw[0x2000+i], "byte %d of removed function body", i)
	}

	ef, err := elf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)
	defer ef.Close()

	dynsym := ef.Section(".dynsym")
	require.NotNil(t, dynsym)
	require.EqualValues(t, 2*24, dynsym.Size, "null symbol + keep_me only")

	dynstr := ef.Section(".dynstr")
	require.NotNil(t, dynstr)
	strData, err := dynstr.Data()
	require.NoError(t, err)
	require.NotContains(t, string(strData), "drop_me")
	require.Contains(t, string(strData), "keep_me")
}

func TestRemoveSymbolsComplement(t *testing.T) {
	path := buildFixture(t, elftest.New().
		AddSymbol("a", 0x1000, 0x10).
		AddSymbol("b", 0x2000, 0x10).
		AddSymbol("c", 0x3000, 0x10))

	rm, err := elfremove.Open(path, elfremove.Config{})
	require.NoError(t, err)
	defer rm.Close()

	rep, err := rm.RemoveSymbols([]string{"b"}, true, false)
	require.NoError(t, err)
	require.Len(t, rep.Removed, 2)
	var names []string
	for _, s := range rep.Removed {
		names = append(names, s.Name)
	}
	require.ElementsMatch(t, []string{"a", "c"}, names)
}

func TestVerifyHashes(t *testing.T) {
	path := buildFixture(t, elftest.New().
		AddSymbol("alpha", 0x1000, 0x8).
		AddSymbol("beta", 0x2000, 0x8).
		AddSymbol("gamma", 0x3000, 0x8).
		WithGNUHash())

	rm, err := elfremove.Open(path, elfremove.Config{})
	require.NoError(t, err)
	defer rm.Close()

	failed, err := rm.VerifyHashes()
	require.NoError(t, err)
	require.Empty(t, failed, "every symbol should resolve before any removal")

	_, err = rm.RemoveSymbols([]string{"beta"}, false, true)
	require.NoError(t, err)

	failed, err = rm.VerifyHashes()
	require.NoError(t, err)
	require.Empty(t, failed, "surviving symbols must still resolve in both hash tables after compaction")
}

func TestKeepRanges(t *testing.T) {
	path := buildFixture(t, elftest.New().
		AddSymbol("a", 0x100, 0x10).
		AddSymbol("b", 0x200, 0x20))

	rm, err := elfremove.Open(path, elfremove.Config{})
	require.NoError(t, err)
	defer rm.Close()

	rep, err := rm.RemoveSymbols([]string{"a", "b"}, false, true)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	total := info.Size()

	ranges := rm.KeepRanges(total, rep.Removed)
	want := [][2]int64{{0, 0x100}, {0x110, 0x200}, {0x220, total}}
	if diff := cmp.Diff(want, ranges); diff != "" {
		t.Fatalf("keep ranges mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveSymbolsByAddress(t *testing.T) {
	path := buildFixture(t, elftest.New().
		AddSymbol("x", 0x500, 0x4).
		AddSymbol("y", 0x600, 0x4))

	rm, err := elfremove.Open(path, elfremove.Config{})
	require.NoError(t, err)
	defer rm.Close()

	rep, err := rm.RemoveSymbolsByAddress([]uint64{0x500}, false, true)
	require.NoError(t, err)
	require.Len(t, rep.Removed, 1)
	require.Equal(t, uint64(0x500), rep.Removed[0].Value)
}
