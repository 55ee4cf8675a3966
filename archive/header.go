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
)

const (
	headerMagic   = "ELSH"
	headerVersion = 1
)

// Header holds the information in the .header file of an archive.
type Header struct {
	NumberOfQueries    int32
	TargetIdentifiers  []string
	TargetLengths      []int32
	Sorted             bool
	Indexed            bool
	SmallestQueryIndex int32
	LargestQueryIndex  int32
	AlignerName        string
	AlignerVersion     string
}

// NumberOfTargets returns the number of targets the header describes.
func (hdr *Header) NumberOfTargets() int {
	if n := len(hdr.TargetIdentifiers); n > 0 {
		return n
	}
	return len(hdr.TargetLengths)
}

func (hdr *Header) encode() []byte {
	buf := []byte(headerMagic)
	buf = binary.AppendUvarint(buf, headerVersion)
	buf = binary.AppendVarint(buf, int64(hdr.NumberOfQueries))
	buf = appendBool(buf, hdr.Sorted)
	buf = appendBool(buf, hdr.Indexed)
	buf = binary.AppendVarint(buf, int64(hdr.SmallestQueryIndex))
	buf = binary.AppendVarint(buf, int64(hdr.LargestQueryIndex))
	buf = appendString(buf, hdr.AlignerName)
	buf = appendString(buf, hdr.AlignerVersion)
	buf = binary.AppendUvarint(buf, uint64(len(hdr.TargetIdentifiers)))
	for _, id := range hdr.TargetIdentifiers {
		buf = appendString(buf, id)
	}
	buf = binary.AppendUvarint(buf, uint64(len(hdr.TargetLengths)))
	for _, length := range hdr.TargetLengths {
		buf = binary.AppendVarint(buf, int64(length))
	}
	return buf
}

func decodeHeader(data []byte) (*Header, error) {
	d := decoder{data: data}
	d.magic(headerMagic)
	if version := d.uvarint(); d.err == nil && version != headerVersion {
		return nil, fmt.Errorf("%w: unsupported header version %v", ErrFormat, version)
	}
	hdr := &Header{}
	hdr.NumberOfQueries = d.int32()
	hdr.Sorted = d.bool()
	hdr.Indexed = d.bool()
	hdr.SmallestQueryIndex = d.int32()
	hdr.LargestQueryIndex = d.int32()
	hdr.AlignerName = d.string()
	hdr.AlignerVersion = d.string()
	if n := d.length(); n > 0 {
		hdr.TargetIdentifiers = make([]string, n)
		for i := range hdr.TargetIdentifiers {
			hdr.TargetIdentifiers[i] = d.string()
		}
	}
	if n := d.length(); n > 0 {
		hdr.TargetLengths = make([]int32, n)
		for i := range hdr.TargetLengths {
			hdr.TargetLengths[i] = d.int32()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return hdr, nil
}

// ReadHeader reads the .header file of the archive with the given
// basename.
func ReadHeader(basename string) (*Header, error) {
	filename := basename + HeaderExtension
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	hdr, err := decodeHeader(data)
	if err != nil {
		return nil, fmt.Errorf("%w, while reading %v", err, filename)
	}
	return hdr, nil
}

// WriteHeader writes the .header file of the archive with the given
// basename.
func WriteHeader(basename string, hdr *Header) error {
	return os.WriteFile(basename+HeaderExtension, hdr.encode(), 0666)
}
