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
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/exascience/elsort/utils/bgzf"
)

func makeEntries(n int, seed int64) []Entry {
	rnd := rand.New(rand.NewSource(seed))
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{
			QueryIndex:            int32(i),
			TargetIndex:           int32(rnd.Intn(5)),
			Position:              int32(rnd.Intn(1000)),
			Score:                 float32(rnd.Intn(100)) / 4,
			MatchingReverseStrand: rnd.Intn(2) == 0,
			QueryPosition:         int32(rnd.Intn(10)),
			QueryLength:           int32(50 + rnd.Intn(100)),
			QueryAlignedLength:    int32(rnd.Intn(150)),
			TargetAlignedLength:   int32(rnd.Intn(150)),
			NumberOfMismatches:    int32(rnd.Intn(4)),
			NumberOfIndels:        int32(rnd.Intn(2)),
			Multiplicity:          1,
			FragmentIndex:         int32(rnd.Intn(2)),
			MappingQuality:        int32(rnd.Intn(61)),
		}
	}
	return entries
}

var testTargets = []string{"chr1", "chr2", "chr3", "chr4", "chr5"}

func writeArchive(t *testing.T, basename string, entries []Entry, sorted bool, entriesPerChunk int) {
	t.Helper()
	w, err := CreateDefault(basename)
	if err != nil {
		t.Fatal(err)
	}
	w.EntriesPerChunk = entriesPerChunk
	w.SetTargetIdentifiers(testTargets)
	w.SetTargetLengths([]int32{1000, 1000, 1000, 1000, 1000})
	w.SetNumberOfQueries(int32(len(entries)))
	w.SetSorted(sorted)
	for i := range entries {
		if err := w.Append(&entries[i]); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func readAll(t *testing.T, r interface{ Read() (*Entry, error) }) (result []Entry) {
	t.Helper()
	for {
		e, err := r.Read()
		if err == io.EOF {
			return
		} else if err != nil {
			t.Fatal(err)
		}
		result = append(result, *e)
	}
}

func entriesEqual(entries1, entries2 []Entry) bool {
	if len(entries1) != len(entries2) {
		return false
	}
	for i := range entries1 {
		if entries1[i] != entries2[i] {
			return false
		}
	}
	return true
}

func TestCodec(t *testing.T) {
	e := Entry{
		QueryIndex: 12, TargetIndex: -1, Position: -300, Score: 17.5,
		MatchingReverseStrand: true, QueryLength: 1 << 30, MappingQuality: 60,
	}
	buf := AppendEntry(nil, &e)
	buf = AppendEntry(buf, &e)
	if len(buf) > 2*maxEncodedEntrySize {
		t.Errorf("encoded entry too large: %v bytes", len(buf))
	}
	entries, err := DecodeEntries(nil, buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0] != e || entries[1] != e {
		t.Error("codec round trip failed")
	}
	if _, err := DecodeEntries(nil, buf[:len(buf)-1]); !errors.Is(err, ErrFormat) {
		t.Error("truncated entry not detected")
	}
}

func TestWriteRead(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "unsorted")
	entries := makeEntries(1000, 1)
	writeArchive(t, basename, entries, false, 7)

	r, err := Open(basename)
	if err != nil {
		t.Fatal(err)
	}
	if r.IsSorted() || r.IsIndexed() {
		t.Error("unsorted archive reported as sorted")
	}
	if r.NumberOfQueries() != 1000 || len(r.TargetIdentifiers()) != 5 || len(r.TargetLengths()) != 5 {
		t.Error("header round trip failed")
	}
	if r.Header().SmallestQueryIndex != 0 || r.Header().LargestQueryIndex != 999 {
		t.Error("query index range failed")
	}
	if !entriesEqual(readAll(t, r), entries) {
		t.Error("Read round trip failed")
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	r, err = Open(basename)
	if err != nil {
		t.Fatal(err)
	}
	first, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	rest, err := r.LoadEntries()
	if err != nil {
		t.Fatal(err)
	}
	if !entriesEqual(append([]Entry{*first}, rest...), entries) {
		t.Error("LoadEntries failed")
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	stats, err := ReadStatistics(basename)
	if err != nil {
		t.Fatal(err)
	}
	if stats[StatNumberOfEntries] != "1000" || stats[StatBasename] != "unsorted" || len(stats[StatEntriesDigest]) != 64 {
		t.Errorf("statistics failed: %v", stats)
	}
	if _, err := os.Stat(basename + IndexExtension); !os.IsNotExist(err) {
		t.Error("unsorted archive has an index")
	}
}

func TestRangesPartitionEntries(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "ranges")
	entries := makeEntries(2000, 2)
	writeArchive(t, basename, entries, false, 13)
	size, err := EntriesSize(basename)
	if err != nil {
		t.Fatal(err)
	}
	for _, splitSize := range []int64{17, 97, 1000, size} {
		var all []Entry
		for min := int64(0); min < size; min += splitSize {
			max := min + splitSize - 1
			if max > size-1 {
				max = size - 1
			}
			r, err := OpenRange(basename, min, max)
			if err != nil {
				t.Fatal(err)
			}
			loaded, err := r.LoadEntries()
			if err != nil {
				t.Fatal(err)
			}
			all = append(all, loaded...)
			if err := r.Close(); err != nil {
				t.Fatal(err)
			}
		}
		if !entriesEqual(all, entries) {
			t.Errorf("split size %v: ranges do not partition the entries", splitSize)
		}
	}
}

func TestSortedWriter(t *testing.T) {
	dir := t.TempDir()
	entries := makeEntries(500, 3)
	w, err := CreateDefault(filepath.Join(dir, "rejects"))
	if err != nil {
		t.Fatal(err)
	}
	w.SetSorted(true)
	e1, e2 := Entry{TargetIndex: 1, Position: 10}, Entry{TargetIndex: 1, Position: 9}
	if err := w.Append(&e1); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(&e2); !errors.Is(err, ErrUnsorted) {
		t.Error("out of order entry accepted")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	SortEntries(entries)
	if !IsSorted(entries) {
		t.Fatal("SortEntries failed")
	}
	basename := filepath.Join(dir, "sorted")
	writeArchive(t, basename, entries, true, 10)
	idx, err := ReadIndex(basename)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 50 {
		t.Errorf("index has %v blocks instead of 50", idx.Len())
	}
	for i := 0; i < idx.Len(); i++ {
		if idx.Keys[i] != entries[10*i].Key() {
			t.Errorf("index key %v is %v instead of %v", i, idx.Keys[i], entries[10*i].Key())
		}
	}
	r, err := Open(basename)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			t.Error(err)
		}
	}()
	if !r.IsSorted() || !r.IsIndexed() {
		t.Error("sorted archive not marked sorted")
	}
	for _, key := range []Key{{0, 0}, {2, 500}, {3, 1}, {4, 999}} {
		expected := -1
		for i := range entries {
			if !entries[i].Key().Less(key) {
				expected = i
				break
			}
		}
		e, err := r.SkipTo(key.TargetIndex, key.Position)
		if expected < 0 {
			if err != io.EOF {
				t.Errorf("SkipTo %v: expected io.EOF, got %v", key, err)
			}
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if *e != entries[expected] {
			t.Errorf("SkipTo %v returned %v instead of %v", key, e, &entries[expected])
		}
	}
	if _, err := r.SkipTo(5, 0); err != io.EOF {
		t.Errorf("SkipTo past the end: %v", err)
	}
}

func TestSortEntriesTotalOrder(t *testing.T) {
	entries := makeEntries(2000, 11)
	for i := range entries {
		// collapse the keys so that ties are common
		entries[i].TargetIndex %= 2
		entries[i].Position %= 7
	}
	entries = append(entries, entries[:100]...)
	sorted := append([]Entry(nil), entries...)
	SortEntries(sorted)
	if !IsSorted(sorted) {
		t.Fatal("SortEntries failed")
	}
	for i := 1; i < len(sorted); i++ {
		if Compare(&sorted[i], &sorted[i-1]) < 0 {
			t.Fatalf("entries %v and %v out of order", i-1, i)
		}
	}
	rnd := rand.New(rand.NewSource(3))
	for round := 0; round < 5; round++ {
		shuffled := append([]Entry(nil), entries...)
		rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		SortEntries(shuffled)
		if !entriesEqual(shuffled, sorted) {
			t.Errorf("order of equal keys depends on input order in round %v", round)
		}
	}
	e := entries[0]
	if Compare(&e, &e) != 0 {
		t.Error("Compare of identical entries failed")
	}
	f := e
	f.MappingQuality++
	if !e.Less(&f) || f.Less(&e) {
		t.Error("Compare of last field failed")
	}
}

func TestMergeReader(t *testing.T) {
	dir := t.TempDir()
	entries := makeEntries(900, 4)
	var basenames []string
	for i := 0; i < 3; i++ {
		part := append([]Entry(nil), entries[i*300:(i+1)*300]...)
		SortEntries(part)
		basename := filepath.Join(dir, "part"+strconv.Itoa(i))
		writeArchive(t, basename, part, true, 16)
		basenames = append(basenames, basename)
	}
	m, err := NewMergeReader(basenames...)
	if err != nil {
		t.Fatal(err)
	}
	merged := readAll(t, m)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	SortEntries(entries)
	if !entriesEqual(merged, entries) {
		t.Error("merge failed")
	}

	unsorted := filepath.Join(dir, "unsorted")
	writeArchive(t, unsorted, makeEntries(10, 5), false, 16)
	if _, err := NewMergeReader(basenames[0], unsorted); err == nil {
		t.Error("merge of unsorted archive accepted")
	}
	if _, err := NewMergeReader(filepath.Join(dir, "missing")); err == nil {
		t.Error("merge of missing archive accepted")
	}
}

func TestTooManyHits(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source")
	table := NewTooManyHits(100, 25)
	table.Add(TooManyHitsEntry{QueryIndex: 3, AtLeastNumberOfHits: 30, LengthOfMatch: 20})
	table.Add(TooManyHitsEntry{QueryIndex: 70, AtLeastNumberOfHits: 40, LengthOfMatch: 21})
	table.Add(TooManyHitsEntry{QueryIndex: 3, AtLeastNumberOfHits: 31, LengthOfMatch: 22})
	if table.Len() != 2 {
		t.Errorf("Len failed: %v", table.Len())
	}
	if err := WriteTooManyHits(source, table); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "output")
	if err := MaterializeTooManyHits(output, 50, source); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadTooManyHits(output)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NumberOfQueries != 50 || loaded.AlignerThreshold != 25 {
		t.Error("materialized table header failed")
	}
	if !loaded.IsAmbiguous(3) || loaded.IsAmbiguous(70) || loaded.IsAmbiguous(4) {
		t.Error("materialized table entries failed")
	}
	if queries := loaded.Queries(); len(queries) != 1 || queries[0] != 3 || loaded.Entries[0].AtLeastNumberOfHits != 31 {
		t.Errorf("Queries failed: %v", queries)
	}

	empty := filepath.Join(dir, "empty")
	if err := MaterializeTooManyHits(empty, 10, filepath.Join(dir, "no-such-archive")); err != nil {
		t.Fatal(err)
	}
	if loaded, err := LoadTooManyHits(empty); err != nil || loaded.Len() != 0 || loaded.NumberOfQueries != 10 {
		t.Error("empty materialized table failed")
	}
}

func TestCorruptEntries(t *testing.T) {
	dir := t.TempDir()
	basename := filepath.Join(dir, "corrupt")
	entries := makeEntries(1000, 13)
	SortEntries(entries)
	writeArchive(t, basename, entries, true, 16)
	idx, err := ReadIndex(basename)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(basename + EntriesExtension)
	if err != nil {
		t.Fatal(err)
	}
	// flip a bit in the CRC of a block in the middle
	middle := idx.Len() / 2
	data[idx.Offsets[middle+1]-8] ^= 0x01
	if err := os.WriteFile(basename+EntriesExtension, data, 0666); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 300; i++ {
		r, err := Open(basename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := r.LoadEntries(); !errors.Is(err, bgzf.ErrCorrupt) {
			t.Fatalf("round %v: corrupt block not detected: %v", i, err)
		}
		_ = r.Close()
	}
}

func TestDigestAndFiles(t *testing.T) {
	dir := t.TempDir()
	entries := makeEntries(300, 6)
	a, b := filepath.Join(dir, "a"), filepath.Join(dir, "b")
	writeArchive(t, a, entries, false, 20)
	writeArchive(t, b, entries, false, 20)
	statsA, _ := ReadStatistics(a)
	statsB, _ := ReadStatistics(b)
	if statsA[StatEntriesDigest] != statsB[StatEntriesDigest] {
		t.Error("identical archives have different digests")
	}
	if Basename(a+EntriesExtension) != a || Basename(a+TooManyHitsExtension) != a || Basename(a) != a {
		t.Error("Basename failed")
	}
	c := filepath.Join(dir, "c")
	if err := Move(a, c); err != nil {
		t.Fatal(err)
	}
	if ok, _ := Exists(a); ok {
		t.Error("Move left source behind")
	}
	r, err := Open(c)
	if err != nil {
		t.Fatal(err)
	}
	if !entriesEqual(readAll(t, r), entries) {
		t.Error("moved archive differs")
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if failed, err := Remove(c); err != nil || len(failed) != 0 {
		t.Errorf("Remove failed: %v %v", failed, err)
	}
	if ok, _ := Exists(c); ok {
		t.Error("Remove left entries behind")
	}
}
