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

// Package archive reads and writes compact alignment archives.
//
// An archive with basename b consists of the files b.entries (a BGZF
// stream of encoded entries, where no entry spans two blocks),
// b.header, b.stats, and, for sorted archives, b.index. A separate
// b.tmh file holds the too-many-hits table of the aligner that
// produced the archive.
package archive

import (
	"cmp"
	"fmt"
	"sort"

	psort "github.com/exascience/pargo/sort"
)

// Entry is one alignment entry.
type Entry struct {
	QueryIndex            int32
	TargetIndex           int32
	Position              int32
	Score                 float32
	MatchingReverseStrand bool
	QueryPosition         int32
	QueryLength           int32
	QueryAlignedLength    int32
	TargetAlignedLength   int32
	NumberOfMismatches    int32
	NumberOfIndels        int32
	Multiplicity          int32
	FragmentIndex         int32
	MappingQuality        int32
}

// Key is the sort key of an entry.
type Key struct {
	TargetIndex, Position int32
}

// Key returns the sort key of the entry.
func (e *Entry) Key() Key {
	return Key{e.TargetIndex, e.Position}
}

// Less orders keys by target index, then by position.
func (k Key) Less(other Key) bool {
	if k.TargetIndex != other.TargetIndex {
		return k.TargetIndex < other.TargetIndex
	}
	return k.Position < other.Position
}

func (k Key) String() string {
	return fmt.Sprintf("%v:%v", k.TargetIndex, k.Position)
}

// KeyLess compares two entries by their sort keys.
func KeyLess(e1, e2 *Entry) bool {
	if e1.TargetIndex != e2.TargetIndex {
		return e1.TargetIndex < e2.TargetIndex
	}
	return e1.Position < e2.Position
}

func (e *Entry) String() string {
	strand := '+'
	if e.MatchingReverseStrand {
		strand = '-'
	}
	return fmt.Sprintf("%v\t%v\t%v\t%c\t%v\t%v\t%v\t%v\t%v\t%v\t%v\t%v\t%v\t%v",
		e.QueryIndex, e.TargetIndex, e.Position, strand, e.Score,
		e.QueryPosition, e.QueryLength, e.QueryAlignedLength, e.TargetAlignedLength,
		e.NumberOfMismatches, e.NumberOfIndels, e.Multiplicity, e.FragmentIndex, e.MappingQuality)
}

// Compare orders entries by key, and entries with equal keys by their
// remaining fields, so that only identical entries compare equal.
func Compare(e1, e2 *Entry) int {
	if c := cmp.Compare(e1.TargetIndex, e2.TargetIndex); c != 0 {
		return c
	}
	if c := cmp.Compare(e1.Position, e2.Position); c != 0 {
		return c
	}
	if c := cmp.Compare(e1.QueryIndex, e2.QueryIndex); c != 0 {
		return c
	}
	if c := cmp.Compare(e1.QueryPosition, e2.QueryPosition); c != 0 {
		return c
	}
	if e1.MatchingReverseStrand != e2.MatchingReverseStrand {
		if e2.MatchingReverseStrand {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(e1.FragmentIndex, e2.FragmentIndex); c != 0 {
		return c
	}
	if c := cmp.Compare(e1.Score, e2.Score); c != 0 {
		return c
	}
	for _, c := range [...]int{
		cmp.Compare(e1.QueryLength, e2.QueryLength),
		cmp.Compare(e1.QueryAlignedLength, e2.QueryAlignedLength),
		cmp.Compare(e1.TargetAlignedLength, e2.TargetAlignedLength),
		cmp.Compare(e1.NumberOfMismatches, e2.NumberOfMismatches),
		cmp.Compare(e1.NumberOfIndels, e2.NumberOfIndels),
		cmp.Compare(e1.Multiplicity, e2.Multiplicity),
		cmp.Compare(e1.MappingQuality, e2.MappingQuality),
	} {
		if c != 0 {
			return c
		}
	}
	return 0
}

// Less reports whether e sorts before other in the order of Compare.
func (e *Entry) Less(other *Entry) bool {
	return Compare(e, other) < 0
}

// EntrySorter implements psort.StableSorter for slices of entries,
// ordered by Compare.
type EntrySorter []Entry

func (s EntrySorter) SequentialSort(i, j int) {
	entries := s[i:j]
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Less(&entries[j])
	})
}

func (s EntrySorter) NewTemp() psort.StableSorter {
	return make(EntrySorter, len(s))
}

func (s EntrySorter) Len() int {
	return len(s)
}

func (s EntrySorter) Less(i, j int) bool {
	return s[i].Less(&s[j])
}

func (s EntrySorter) Assign(p psort.StableSorter) func(i, j, len int) {
	dst, src := s, p.(EntrySorter)
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

// SortEntries sorts entries with a parallel sort in the order of
// Compare. The result does not depend on the initial order of the
// entries.
func SortEntries(entries []Entry) {
	psort.StableSort(EntrySorter(entries))
}

// IsSorted checks whether entries are ordered by key.
func IsSorted(entries []Entry) bool {
	for i := 1; i < len(entries); i++ {
		if KeyLess(&entries[i], &entries[i-1]) {
			return false
		}
	}
	return true
}
