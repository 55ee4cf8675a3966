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
	"fmt"
	"os"
	"sort"
)

const indexMagic = "ELSI"

// Index maps the first key of every block of a sorted .entries file
// to the compressed offset of the block.
type Index struct {
	Keys    []Key
	Offsets []int64
}

// Len returns the number of indexed blocks.
func (idx *Index) Len() int {
	return len(idx.Offsets)
}

// Search returns the offset of the block where reading must start to
// find the first entry whose key is not less than key.
func (idx *Index) Search(key Key) int64 {
	i := sort.Search(len(idx.Keys), func(i int) bool {
		return !idx.Keys[i].Less(key)
	})
	if i > 0 {
		i--
	}
	if i >= len(idx.Offsets) {
		return 0
	}
	return idx.Offsets[i]
}

func (idx *Index) encode() []byte {
	buf := []byte(indexMagic)
	buf = binary.AppendUvarint(buf, uint64(len(idx.Offsets)))
	var previous int64
	for i, offset := range idx.Offsets {
		buf = binary.AppendVarint(buf, int64(idx.Keys[i].TargetIndex))
		buf = binary.AppendVarint(buf, int64(idx.Keys[i].Position))
		buf = binary.AppendUvarint(buf, uint64(offset-previous))
		previous = offset
	}
	return buf
}

func decodeIndex(data []byte) (*Index, error) {
	d := decoder{data: data}
	d.magic(indexMagic)
	n := d.length()
	idx := &Index{Keys: make([]Key, n), Offsets: make([]int64, n)}
	var offset int64
	for i := 0; i < n; i++ {
		idx.Keys[i].TargetIndex = d.int32()
		idx.Keys[i].Position = d.int32()
		offset += int64(d.uvarint())
		idx.Offsets[i] = offset
	}
	if d.err != nil {
		return nil, d.err
	}
	return idx, nil
}

// ReadIndex reads the .index file of a sorted archive.
func ReadIndex(basename string) (*Index, error) {
	filename := basename + IndexExtension
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	idx, err := decodeIndex(data)
	if err != nil {
		return nil, fmt.Errorf("%w, while reading %v", err, filename)
	}
	return idx, nil
}

// WriteIndex writes the .index file of a sorted archive.
func WriteIndex(basename string, idx *Index) error {
	if len(idx.Keys) != len(idx.Offsets) {
		return fmt.Errorf("index has %v keys but %v offsets", len(idx.Keys), len(idx.Offsets))
	}
	return os.WriteFile(basename+IndexExtension, idx.encode(), 0666)
}
