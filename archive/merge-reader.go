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

package archive

import (
	"container/heap"
	"errors"
	"fmt"
	"io"
	"slices"
)

type (
	mergeInput struct {
		id     int
		reader *Reader
		entry  *Entry
	}

	mergeHeap []*mergeInput

	// MergeReader reads the entries of several sorted archives in the
	// order of Compare. Identical entries are delivered in the order of
	// the archives passed to NewMergeReader.
	MergeReader struct {
		readers []*Reader
		heap    mergeHeap
		started bool
	}
)

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if c := Compare(h[i].entry, h[j].entry); c != 0 {
		return c < 0
	}
	return h[i].id < h[j].id
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*mergeInput)) }

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old) - 1
	x := old[n]
	old[n] = nil
	*h = old[:n]
	return x
}

// NewMergeReader opens the given sorted archives for merging. All
// archives must be sorted and must have the same target identifiers.
func NewMergeReader(basenames ...string) (result *MergeReader, err error) {
	if len(basenames) == 0 {
		return nil, errors.New("no archives to merge")
	}
	m := &MergeReader{}
	defer func() {
		if err != nil {
			_ = m.Close()
		}
	}()
	for _, basename := range basenames {
		r, err := Open(basename)
		if err != nil {
			return nil, err
		}
		m.readers = append(m.readers, r)
		if !r.IsSorted() {
			return nil, fmt.Errorf("cannot merge unsorted archive %v", basename)
		}
		if first := m.readers[0]; !slices.Equal(first.TargetIdentifiers(), r.TargetIdentifiers()) {
			return nil, fmt.Errorf("target identifiers of %v differ from those of %v", basename, first.Basename())
		}
	}
	return m, nil
}

// Readers returns the readers of the merged archives, in order.
func (m *MergeReader) Readers() []*Reader {
	return m.readers
}

func (m *MergeReader) TargetIdentifiers() []string {
	return m.readers[0].TargetIdentifiers()
}

// TargetLengths returns the first non-empty target lengths of the
// merged archives.
func (m *MergeReader) TargetLengths() []int32 {
	for _, r := range m.readers {
		if lengths := r.TargetLengths(); len(lengths) > 0 {
			return lengths
		}
	}
	return nil
}

// NumberOfQueries returns the largest number of queries of the merged
// archives.
func (m *MergeReader) NumberOfQueries() (n int32) {
	for _, r := range m.readers {
		n = max(n, r.NumberOfQueries())
	}
	return n
}

func (m *MergeReader) start() error {
	m.started = true
	for id, r := range m.readers {
		e, err := r.Read()
		if err == io.EOF {
			continue
		} else if err != nil {
			return err
		}
		m.heap = append(m.heap, &mergeInput{id: id, reader: r, entry: e})
	}
	heap.Init(&m.heap)
	return nil
}

// Read returns the next entry in sorted order, or io.EOF when all
// archives are exhausted.
func (m *MergeReader) Read() (*Entry, error) {
	if !m.started {
		if err := m.start(); err != nil {
			return nil, err
		}
	}
	if len(m.heap) == 0 {
		return nil, io.EOF
	}
	top := m.heap[0]
	result := top.entry
	e, err := top.reader.Read()
	switch {
	case err == io.EOF:
		heap.Pop(&m.heap)
	case err != nil:
		return nil, err
	default:
		top.entry = e
		heap.Fix(&m.heap, 0)
	}
	return result, nil
}

// Close closes all merged archives.
func (m *MergeReader) Close() error {
	var errs []error
	for _, r := range m.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.readers = nil
	m.heap = nil
	return errors.Join(errs...)
}
