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
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/exascience/pargo/pipeline"

	"github.com/exascience/elsort/utils/bgzf"
)

// Reader reads the entries of an archive, optionally restricted to
// the blocks whose compressed start offset lies in a byte range of
// the .entries file.
type Reader struct {
	basename   string
	header     *Header
	statistics map[string]string
	index      *Index
	file       *os.File
	size       int64
	min, max   int64
	blocks     *bgzf.Reader
	block      *bgzf.Block
	data       []byte
}

// Open opens an archive for reading all of its entries.
func Open(basename string) (*Reader, error) {
	return OpenRange(basename, 0, math.MaxInt64)
}

// OpenRange opens an archive for reading the entries of the blocks
// whose compressed start offset lies in the inclusive range [min, max].
func OpenRange(basename string, min, max int64) (*Reader, error) {
	header, err := ReadHeader(basename)
	if err != nil {
		return nil, fmt.Errorf("%w, while opening archive %v", err, basename)
	}
	statistics, err := ReadStatistics(basename)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(basename + EntriesExtension)
	if err != nil {
		return nil, fmt.Errorf("%w, while opening archive %v", err, basename)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	r := &Reader{
		basename:   basename,
		header:     header,
		statistics: statistics,
		file:       file,
		size:       info.Size(),
		min:        min,
		max:        max,
	}
	r.blocks = bgzf.NewReader(file, r.size, min, max)
	return r, nil
}

func (r *Reader) Basename() string {
	return r.basename
}

func (r *Reader) Header() *Header {
	return r.header
}

func (r *Reader) IsSorted() bool {
	return r.header.Sorted
}

func (r *Reader) IsIndexed() bool {
	return r.header.Indexed
}

func (r *Reader) NumberOfQueries() int32 {
	return r.header.NumberOfQueries
}

func (r *Reader) TargetLengths() []int32 {
	return r.header.TargetLengths
}

func (r *Reader) TargetIdentifiers() []string {
	return r.header.TargetIdentifiers
}

// Statistics returns the key=value pairs of the .stats file.
func (r *Reader) Statistics() map[string]string {
	return r.statistics
}

// EntriesSize returns the size in bytes of the .entries file.
func (r *Reader) EntriesSize() int64 {
	return r.size
}

func (r *Reader) releaseBlock() {
	if r.block != nil {
		bgzf.ReleaseBlock(r.block)
		r.block = nil
		r.data = nil
	}
}

func (r *Reader) decodeError(err error) error {
	return fmt.Errorf("%w, while decoding entry in block at offset %v of %v", err, r.block.Offset, r.basename+EntriesExtension)
}

// Read returns the next entry, or io.EOF when there are no more
// entries in range.
func (r *Reader) Read() (*Entry, error) {
	for len(r.data) == 0 {
		r.releaseBlock()
		block, err := r.blocks.ReadBlock()
		if err == io.EOF {
			return nil, io.EOF
		} else if err != nil {
			return nil, fmt.Errorf("%w, while reading %v", err, r.basename+EntriesExtension)
		}
		r.block = block
		r.data = block.Data
	}
	e := &Entry{}
	n, err := DecodeEntry(r.data, e)
	if err != nil {
		return nil, r.decodeError(err)
	}
	r.data = r.data[n:]
	return e, nil
}

type blockSource struct {
	r     *bgzf.Reader
	err   error
	block *bgzf.Block
}

func (src *blockSource) Err() error {
	return src.err
}

func (src *blockSource) Prepare(_ context.Context) int {
	return -1
}

func (src *blockSource) Fetch(size int) (fetched int) {
	block, err := src.r.ReadBlock()
	if err != nil {
		if err != io.EOF {
			src.err = err
		}
		src.block = nil
		return 0
	}
	src.block = block
	return 1
}

func (src *blockSource) Data() interface{} {
	return src.block
}

// LoadEntries reads all remaining entries in range, decoding blocks
// in parallel.
func (r *Reader) LoadEntries() ([]Entry, error) {
	var result []Entry
	if len(r.data) > 0 {
		var err error
		if result, err = DecodeEntries(nil, r.data); err != nil {
			return nil, r.decodeError(err)
		}
	}
	r.releaseBlock()
	src := &blockSource{r: r.blocks}
	var p pipeline.Pipeline
	p.Source(src)
	p.Add(
		pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
			block := data.(*bgzf.Block)
			defer bgzf.ReleaseBlock(block)
			entries, err := DecodeEntries(nil, block.Data)
			if err != nil {
				p.SetErr(fmt.Errorf("%w, while decoding entry in block at offset %v of %v", err, block.Offset, r.basename+EntriesExtension))
				return nil
			}
			return entries
		})),
		pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
			if entries, ok := data.([]Entry); ok {
				result = append(result, entries...)
			}
			return nil
		})),
	)
	p.Run()
	err := p.Err()
	if err == nil {
		err = src.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w, while loading entries of %v", err, r.basename)
	}
	return result, nil
}

// Index returns the index of a sorted archive, reading it on first use.
func (r *Reader) Index() (*Index, error) {
	if r.index == nil {
		if !r.header.Indexed {
			return nil, fmt.Errorf("archive %v has no index", r.basename)
		}
		idx, err := ReadIndex(r.basename)
		if err != nil {
			return nil, err
		}
		r.index = idx
	}
	return r.index, nil
}

// SkipTo repositions the reader at the first entry in range whose key
// is not less than (targetIndex, position), and returns that entry.
// It returns io.EOF when there is no such entry.
func (r *Reader) SkipTo(targetIndex, position int32) (*Entry, error) {
	key := Key{targetIndex, position}
	idx, err := r.Index()
	if err != nil {
		return nil, err
	}
	start := idx.Search(key)
	if start < r.min {
		start = r.min
	}
	r.releaseBlock()
	if err := r.blocks.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	r.blocks = bgzf.NewReader(r.file, r.size, start, r.max)
	for {
		e, err := r.Read()
		if err != nil {
			return nil, err
		}
		if !e.Key().Less(key) {
			return e, nil
		}
	}
}

// Close implements the corresponding method of io.Closer.
func (r *Reader) Close() error {
	r.releaseBlock()
	err := r.blocks.Close()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}
