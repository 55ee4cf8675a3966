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
	"compress/flate"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"lukechampine.com/blake3"

	"github.com/exascience/elsort/internal"
	"github.com/exascience/elsort/utils/bgzf"
)

// DefaultEntriesPerChunk is the default maximum number of entries per
// BGZF block.
const DefaultEntriesPerChunk = 10000

// ErrUnsorted is returned when an entry is appended out of order to
// an archive that is marked sorted.
var ErrUnsorted = errors.New("entry out of order in sorted archive")

// Writer writes an archive.
type Writer struct {
	// EntriesPerChunk bounds the number of entries in a BGZF block.
	// It can be changed before the first call to Append.
	EntriesPerChunk int

	basename   string
	file       *os.File
	hash       *blake3.Hasher
	bgzf       *bgzf.Writer
	header     Header
	statistics map[string]string
	keys       []Key
	inChunk    int
	last       Key
	buf        []byte
	entries    int64
	minQuery   int32
	maxQuery   int32
	closed     bool
}

// Create creates an archive with the given basename. Existing files
// are overwritten. The compression level is one of the compress/flate
// levels.
func Create(basename string, level int) (*Writer, error) {
	if dir := filepath.Dir(basename); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(basename + EntriesExtension)
	if err != nil {
		return nil, err
	}
	hash := blake3.New(32, nil)
	bw, err := bgzf.NewWriter(io.MultiWriter(file, hash), level)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &Writer{
		EntriesPerChunk: DefaultEntriesPerChunk,
		basename:        basename,
		file:            file,
		hash:            hash,
		bgzf:            bw,
		statistics:      make(map[string]string),
		buf:             internal.ReserveByteBuffer(maxEncodedEntrySize),
	}, nil
}

// CreateDefault creates an archive with the default compression level.
func CreateDefault(basename string) (*Writer, error) {
	return Create(basename, flate.DefaultCompression)
}

// Basename returns the basename of the archive being written.
func (w *Writer) Basename() string {
	return w.basename
}

func (w *Writer) SetTargetIdentifiers(ids []string) {
	w.header.TargetIdentifiers = append([]string(nil), ids...)
}

func (w *Writer) SetTargetLengths(lengths []int32) {
	w.header.TargetLengths = append([]int32(nil), lengths...)
}

func (w *Writer) SetNumberOfQueries(n int32) {
	w.header.NumberOfQueries = n
}

func (w *Writer) SetAligner(name, version string) {
	w.header.AlignerName = name
	w.header.AlignerVersion = version
}

// SetSorted marks the archive as sorted. A sorted archive gets an
// index, and Append rejects entries that are out of order.
func (w *Writer) SetSorted(sorted bool) {
	w.header.Sorted = sorted
}

// SetStatistics replaces the statistics that are written to the .stats
// file. The statistics the Writer maintains itself are added on Close.
func (w *Writer) SetStatistics(statistics map[string]string) {
	w.statistics = make(map[string]string, len(statistics))
	for key, value := range statistics {
		w.statistics[key] = value
	}
}

func (w *Writer) PutStatistic(key, value string) {
	w.statistics[key] = value
}

// NumberOfEntries returns the number of entries appended so far.
func (w *Writer) NumberOfEntries() int64 {
	return w.entries
}

// Append writes one entry.
func (w *Writer) Append(e *Entry) error {
	if w.closed {
		return errors.New("append to closed archive writer")
	}
	key := e.Key()
	if w.header.Sorted && w.entries > 0 && key.Less(w.last) {
		return fmt.Errorf("%w: %v after %v in %v", ErrUnsorted, key, w.last, w.basename)
	}
	w.buf = AppendEntry(w.buf[:0], e)
	if w.inChunk > 0 && (w.inChunk >= w.EntriesPerChunk || w.bgzf.Buffered()+len(w.buf) >= bgzf.BlockSize) {
		if err := w.bgzf.Flush(); err != nil {
			return err
		}
		w.inChunk = 0
	}
	if w.inChunk == 0 {
		w.keys = append(w.keys, key)
	}
	if _, err := w.bgzf.Write(w.buf); err != nil {
		return fmt.Errorf("%w, while writing %v", err, w.basename+EntriesExtension)
	}
	w.inChunk++
	if w.entries == 0 || e.QueryIndex < w.minQuery {
		w.minQuery = e.QueryIndex
	}
	if w.entries == 0 || e.QueryIndex > w.maxQuery {
		w.maxQuery = e.QueryIndex
	}
	w.entries++
	w.last = key
	return nil
}

// Close finishes the .entries file and writes the .header, .stats and,
// for sorted archives, .index files.
func (w *Writer) Close() (err error) {
	if w.closed {
		return nil
	}
	w.closed = true
	internal.ReleaseByteBuffer(w.buf)
	w.buf = nil
	err = w.bgzf.Close()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w, while closing %v", err, w.basename+EntriesExtension)
	}
	offsets := w.bgzf.Offsets()
	if len(offsets) != len(w.keys) {
		return fmt.Errorf("%v blocks written for %v chunks in %v", len(offsets), len(w.keys), w.basename)
	}
	if w.header.Sorted {
		w.header.Indexed = true
		if err := WriteIndex(w.basename, &Index{Keys: w.keys, Offsets: offsets}); err != nil {
			return err
		}
	} else if err := os.Remove(w.basename + IndexExtension); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if w.entries > 0 {
		w.header.SmallestQueryIndex = w.minQuery
		w.header.LargestQueryIndex = w.maxQuery
		w.statistics[StatMinQueryIndex] = strconv.FormatInt(int64(w.minQuery), 10)
		w.statistics[StatMaxQueryIndex] = strconv.FormatInt(int64(w.maxQuery), 10)
	} else {
		delete(w.statistics, StatMinQueryIndex)
		delete(w.statistics, StatMaxQueryIndex)
	}
	if err := WriteHeader(w.basename, &w.header); err != nil {
		return err
	}
	w.statistics[StatNumberOfEntries] = strconv.FormatInt(w.entries, 10)
	w.statistics[StatEntriesDigest] = hex.EncodeToString(w.hash.Sum(nil))
	w.statistics[StatBasename] = filepath.Base(w.basename)
	if full, err := internal.FullPathname(w.basename); err == nil {
		w.statistics[StatBasenameFull] = full
	}
	return WriteStatistics(w.basename, w.statistics)
}
