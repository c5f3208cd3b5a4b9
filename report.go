// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import "github.com/aclements/go-moremath/stats"

// RemovedSymbol records one symbol removed by a batch, for reporting.
type RemovedSymbol struct {
	Name  string
	Value uint64
	Size  uint64
}

// Report summarizes one RemoveSymbols/RemoveLocalFunctions batch,
// carrying forward the original tool's print_dynsym_info/
// get_removed_bytes/get_size_dicts diagnostics.
type Report struct {
	Removed []RemovedSymbol
}

// BytesRemoved returns the total size, in bytes, of every removed
// function body.
func (r *Report) BytesRemoved() uint64 {
	var total uint64
	for _, s := range r.Removed {
		total += s.Size
	}
	return total
}

// FunctionAddresses returns the address of every removed function, in
// removal order.
func (r *Report) FunctionAddresses() []uint64 {
	addrs := make([]uint64, len(r.Removed))
	for i, s := range r.Removed {
		addrs[i] = s.Value
	}
	return addrs
}

// BatchStats summarizes bytes-removed-per-file across many Reports,
// e.g. when a caller drives Remove across a whole directory tree of
// libraries. nil/empty input yields a zero-valued Sample.
func BatchStats(reports []*Report) stats.Sample {
	sizes := make([]float64, len(reports))
	for i, r := range reports {
		sizes[i] = float64(r.BytesRemoved())
	}
	return stats.Sample{Xs: sizes}
}

type byteSpan struct{ start, end int64 }

// computeKeepRanges implements the original's get_keep_list: the
// ordered, non-overlapping [start, end) byte ranges of a totalSize-byte
// file not covered by any removed function's code body, for an
// external post-processor that wants to physically shrink the file
// rather than leave 0xCC-filled holes in place.
func computeKeepRanges(totalSize int64, removed []RemovedSymbol) [][2]int64 {
	spans := make([]byteSpan, 0, len(removed))
	for _, s := range removed {
		if s.Size == 0 {
			continue
		}
		start := int64(s.Value)
		end := start + int64(s.Size)
		if start < 0 {
			start = 0
		}
		if end > totalSize {
			end = totalSize
		}
		if start < end {
			spans = append(spans, byteSpan{start, end})
		}
	}
	sortSpans(spans)

	var merged []byteSpan
	for _, sp := range spans {
		if len(merged) > 0 && sp.start <= merged[len(merged)-1].end {
			if sp.end > merged[len(merged)-1].end {
				merged[len(merged)-1].end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}

	var keep [][2]int64
	cur := int64(0)
	for _, sp := range merged {
		if sp.start > cur {
			keep = append(keep, [2]int64{cur, sp.start})
		}
		if sp.end > cur {
			cur = sp.end
		}
	}
	if cur < totalSize {
		keep = append(keep, [2]int64{cur, totalSize})
	}
	return keep
}

func sortSpans(spans []byteSpan) {
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j].start < spans[j-1].start; j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}
}
