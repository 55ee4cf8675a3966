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

// Package intervals implements lists of inclusive byte ranges into
// a file, and their normalization into sorted, coalesced lists.
package intervals

import (
	"sort"
	"strconv"
	"strings"

	psort "github.com/exascience/pargo/sort"
)

// Range is an inclusive byte range [Min, Max] into a file.
type Range struct {
	Min, Max int64
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() int64 {
	return r.Max - r.Min + 1
}

// Is checks whether the range is exactly [min, max].
func (r Range) Is(min, max int64) bool {
	return r.Min == min && r.Max == max
}

func (r Range) String() string {
	var buf []byte
	buf = append(buf, '[')
	buf = strconv.AppendInt(buf, r.Min, 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, r.Max, 10)
	buf = append(buf, ']')
	return string(buf)
}

// Format renders a list of ranges as [a,b] [c,d] ...
func Format(ranges []Range) string {
	strs := make([]string, len(ranges))
	for i, r := range ranges {
		strs[i] = r.String()
	}
	return strings.Join(strs, " ")
}

// SortByMin sorts a slice of Range by Min position.
func SortByMin(ranges []Range) {
	sort.SliceStable(ranges, func(i, j int) bool {
		return ranges[i].Min < ranges[j].Min
	})
}

type stableRangeSorter []Range

func (s stableRangeSorter) SequentialSort(i, j int) {
	SortByMin(s[i:j])
}

func (s stableRangeSorter) NewTemp() psort.StableSorter {
	return stableRangeSorter(make([]Range, len(s)))
}

func (s stableRangeSorter) Len() int {
	return len(s)
}

func (s stableRangeSorter) Less(i, j int) bool {
	return s[i].Min < s[j].Min
}

func (s stableRangeSorter) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s, source.(stableRangeSorter)
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

// ParallelSortByMin sorts a slice of Range by Min position using
// a parallel stable sort.
func ParallelSortByMin(ranges []Range) {
	psort.StableSort(stableRangeSorter(ranges))
}

// Extend makes range1 larger if it overlaps with or is adjacent to
// range2, by storing max(range1.Max, range2.Max) in range1.Max;
// otherwise, range1 remains unchanged.
// Returns true if the two ranges were joined, false otherwise.
// range2.Min >= range1.Min must be true before calling Extend.
func (range1 *Range) Extend(range2 Range) bool {
	if range2.Min > range1.Max+1 {
		return false
	}
	if range2.Max > range1.Max {
		range1.Max = range2.Max
	}
	return true
}

// Flatten merges overlapping and adjacent ranges into larger ranges.
// ranges must be sorted by Min before calling Flatten.
// The resulting slice is sorted by Min, and no two
// ranges in the result overlap or touch each other.
// The result shares memory with the ranges argument.
func Flatten(ranges []Range) []Range {
	for i, n := 0, len(ranges)-1; i < n; i++ {
		if ranges[i].Extend(ranges[i+1]) {
			n++
			for j := i + 1; j < n; j++ {
				if !ranges[i].Extend(ranges[j]) {
					i++
					ranges[i] = ranges[j]
				}
			}
			return ranges[:i+1]
		}
	}
	return ranges
}

const parallelSortGrainSize = 0x1000

// Coalesce returns the normalized form of the concatenation of the
// given range lists: sorted by Min, with overlapping and adjacent
// ranges merged. The arguments are not modified.
func Coalesce(lists ...[]Range) []Range {
	var n int
	for _, list := range lists {
		n += len(list)
	}
	if n == 0 {
		return nil
	}
	result := make([]Range, 0, n)
	for _, list := range lists {
		result = append(result, list...)
	}
	if n < parallelSortGrainSize {
		SortByMin(result)
	} else {
		ParallelSortByMin(result)
	}
	return Flatten(result)
}

// Overlapping reports the first pair of ranges from the given lists
// that share at least one byte. Adjacent ranges do not overlap.
func Overlapping(lists ...[]Range) (r1, r2 Range, ok bool) {
	var all []Range
	for _, list := range lists {
		all = append(all, list...)
	}
	SortByMin(all)
	for i := 1; i < len(all); i++ {
		if all[i].Min <= all[i-1].Max {
			return all[i-1], all[i], true
		}
	}
	return Range{}, Range{}, false
}

// Covers checks whether a normalized range list consists of exactly
// the single range [min, max].
func Covers(ranges []Range, min, max int64) bool {
	return len(ranges) == 1 && ranges[0].Is(min, max)
}

// Total returns the number of bytes covered by a normalized range list.
func Total(ranges []Range) (total int64) {
	for _, r := range ranges {
		total += r.Len()
	}
	return
}
