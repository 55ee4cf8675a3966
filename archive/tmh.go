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
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/willf/bitset"
)

const tmhMagic = "ELST"

// TooManyHitsEntry records that the aligner found at least
// AtLeastNumberOfHits hits for a query, so that the query was not
// reported as an entry.
type TooManyHitsEntry struct {
	QueryIndex          int32
	AtLeastNumberOfHits int32
	LengthOfMatch       int32
}

// TooManyHits is the too-many-hits table of an archive.
type TooManyHits struct {
	NumberOfQueries  int32
	AlignerThreshold int32
	Entries          []TooManyHitsEntry
	ambiguous        *bitset.BitSet
}

// NewTooManyHits creates an empty table.
func NewTooManyHits(numberOfQueries, alignerThreshold int32) *TooManyHits {
	return &TooManyHits{
		NumberOfQueries:  numberOfQueries,
		AlignerThreshold: alignerThreshold,
		ambiguous:        bitset.New(uint(max(numberOfQueries, 0))),
	}
}

// Add records a query with too many hits. Later additions for the
// same query replace earlier ones.
func (tmh *TooManyHits) Add(entry TooManyHitsEntry) {
	if entry.QueryIndex < 0 {
		return
	}
	if tmh.ambiguous.Test(uint(entry.QueryIndex)) {
		for i := range tmh.Entries {
			if tmh.Entries[i].QueryIndex == entry.QueryIndex {
				tmh.Entries[i] = entry
				return
			}
		}
	}
	tmh.ambiguous.Set(uint(entry.QueryIndex))
	tmh.Entries = append(tmh.Entries, entry)
}

// IsAmbiguous checks whether the aligner reported too many hits for
// the given query.
func (tmh *TooManyHits) IsAmbiguous(queryIndex int32) bool {
	return queryIndex >= 0 && tmh.ambiguous.Test(uint(queryIndex))
}

// Len returns the number of queries in the table.
func (tmh *TooManyHits) Len() int {
	return int(tmh.ambiguous.Count())
}

// Queries returns the indices of all queries in the table, in
// ascending order.
func (tmh *TooManyHits) Queries() []int32 {
	result := make([]int32, 0, tmh.ambiguous.Count())
	for i, ok := tmh.ambiguous.NextSet(0); ok; i, ok = tmh.ambiguous.NextSet(i + 1) {
		result = append(result, int32(i))
	}
	return result
}

func (tmh *TooManyHits) encode() []byte {
	entries := append([]TooManyHitsEntry(nil), tmh.Entries...)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].QueryIndex < entries[j].QueryIndex
	})
	buf := []byte(tmhMagic)
	buf = binary.AppendVarint(buf, int64(tmh.NumberOfQueries))
	buf = binary.AppendVarint(buf, int64(tmh.AlignerThreshold))
	buf = binary.AppendUvarint(buf, uint64(len(entries)))
	for _, entry := range entries {
		buf = binary.AppendVarint(buf, int64(entry.QueryIndex))
		buf = binary.AppendVarint(buf, int64(entry.AtLeastNumberOfHits))
		buf = binary.AppendVarint(buf, int64(entry.LengthOfMatch))
	}
	return buf
}

func decodeTooManyHits(data []byte) (*TooManyHits, error) {
	d := decoder{data: data}
	d.magic(tmhMagic)
	tmh := NewTooManyHits(d.int32(), d.int32())
	n := d.length()
	for i := 0; i < n; i++ {
		var entry TooManyHitsEntry
		entry.QueryIndex = d.int32()
		entry.AtLeastNumberOfHits = d.int32()
		entry.LengthOfMatch = d.int32()
		if d.err == nil {
			tmh.Add(entry)
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return tmh, nil
}

// LoadTooManyHits reads the too-many-hits table of an archive. An
// archive without a .tmh file yields an empty table.
func LoadTooManyHits(basename string) (*TooManyHits, error) {
	filename := basename + TooManyHitsExtension
	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return NewTooManyHits(0, 0), nil
	} else if err != nil {
		return nil, err
	}
	tmh, err := decodeTooManyHits(data)
	if err != nil {
		return nil, fmt.Errorf("%w, while reading %v", err, filename)
	}
	return tmh, nil
}

// WriteTooManyHits writes the .tmh file of an archive.
func WriteTooManyHits(basename string, tmh *TooManyHits) error {
	return os.WriteFile(basename+TooManyHitsExtension, tmh.encode(), 0666)
}

// MaterializeTooManyHits writes a too-many-hits table for the output
// archive, sized for numberOfQueries queries, with the entries of the
// source archive's table for queries in [0, numberOfQueries).
func MaterializeTooManyHits(output string, numberOfQueries int32, source string) error {
	sourceTable, err := LoadTooManyHits(source)
	if err != nil {
		return err
	}
	table := NewTooManyHits(numberOfQueries, sourceTable.AlignerThreshold)
	for _, entry := range sourceTable.Entries {
		if entry.QueryIndex < numberOfQueries {
			table.Add(entry)
		}
	}
	if err := WriteTooManyHits(output, table); err != nil {
		return fmt.Errorf("%w, while writing too-many-hits table for %v", err, output)
	}
	return nil
}
