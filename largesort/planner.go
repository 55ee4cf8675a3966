// elsort: a parallel external sorter for compact alignment archives.
// Copyright (c) 2021 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elprep/blob/master/LICENSE.txt>.

package largesort

import (
	"math"

	"github.com/exascience/elsort/intervals"
)

// AutoSplitSize derives a split size from the available memory, such
// that threads splits that are sorted at the same time, each taking
// scalingFactor times its size in memory, use at most memoryFraction
// of the available memory. The result is at least 1.
func AutoSplitSize(availableMemory uint64, memoryFraction float64, threads int, scalingFactor float64) int64 {
	budget := float64(availableMemory) * memoryFraction
	size := budget / (float64(max(threads, 1)) * scalingFactor)
	if size >= math.MaxInt64 {
		return math.MaxInt64
	}
	return max(int64(size), 1)
}

// lastOffset is the offset of the last byte that splits of a file of
// the given size must cover.
func lastOffset(fileSize int64) int64 {
	return max(fileSize-1, 0)
}

// PlanSplits cuts [0, fileSize) into consecutive ranges of splitSize
// bytes. The last range ends at fileSize-1 and may be shorter.
func PlanSplits(fileSize, splitSize int64) []intervals.Range {
	if splitSize <= 0 {
		splitSize = 1
	}
	last := lastOffset(fileSize)
	var ranges []intervals.Range
	for start := int64(0); ; start += splitSize {
		end := start + splitSize - 1
		if end >= last || end < start {
			return append(ranges, intervals.Range{Min: start, Max: last})
		}
		ranges = append(ranges, intervals.Range{Min: start, Max: end})
	}
}
