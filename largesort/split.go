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
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/exascience/elsort/intervals"
)

// Split is a set of byte ranges of the source .entries file whose
// entries are stored, sorted, in the temporary archive named by Tag.
type Split struct {
	Ranges []intervals.Range

	// Tag names the temporary archive sorted-<Tag>.
	Tag string

	// NumFiles is the number of initial splits merged into this one.
	NumFiles int
}

func newTag() string {
	return uuid.New().String()
}

func newSplit(r intervals.Range) *Split {
	return &Split{
		Ranges:   []intervals.Range{r},
		Tag:      newTag(),
		NumFiles: 1,
	}
}

// mergedSplit describes the result of merging the given splits.
func mergedSplit(splits []*Split) *Split {
	lists := make([][]intervals.Range, len(splits))
	var numFiles int
	for i, split := range splits {
		lists[i] = split.Ranges
		numFiles += split.NumFiles
	}
	return &Split{
		Ranges:   intervals.Coalesce(lists...),
		Tag:      newTag(),
		NumFiles: numFiles,
	}
}

// sortByFirstRange orders splits by the start of their first range,
// so that merges of the same splits see their inputs in the same order.
func sortByFirstRange(splits []*Split) {
	sort.SliceStable(splits, func(i, j int) bool {
		return splits[i].Ranges[0].Min < splits[j].Ranges[0].Min
	})
}

func (split *Split) String() string {
	return intervals.Format(split.Ranges)
}

// Basename returns the basename of the temporary archive of a split.
func (split *Split) Basename(tempDir string) string {
	return filepath.Join(tempDir, "sorted-"+split.Tag)
}

func formatSplits(splits []*Split) string {
	return fmt.Sprint(splits)
}
