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
	"math"
)

// ErrFormat is returned when an archive file cannot be decoded.
var ErrFormat = errors.New("invalid archive format")

const (
	reverseStrandFlag = 1 << iota
)

// maxEncodedEntrySize bounds the encoded size of a single entry,
// including its length prefix.
const maxEncodedEntrySize = 96

func appendEntryBody(buf []byte, e *Entry) []byte {
	var flags uint64
	if e.MatchingReverseStrand {
		flags |= reverseStrandFlag
	}
	buf = binary.AppendUvarint(buf, flags)
	buf = binary.AppendVarint(buf, int64(e.QueryIndex))
	buf = binary.AppendVarint(buf, int64(e.TargetIndex))
	buf = binary.AppendVarint(buf, int64(e.Position))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(e.Score))
	buf = binary.AppendVarint(buf, int64(e.QueryPosition))
	buf = binary.AppendVarint(buf, int64(e.QueryLength))
	buf = binary.AppendVarint(buf, int64(e.QueryAlignedLength))
	buf = binary.AppendVarint(buf, int64(e.TargetAlignedLength))
	buf = binary.AppendVarint(buf, int64(e.NumberOfMismatches))
	buf = binary.AppendVarint(buf, int64(e.NumberOfIndels))
	buf = binary.AppendVarint(buf, int64(e.Multiplicity))
	buf = binary.AppendVarint(buf, int64(e.FragmentIndex))
	buf = binary.AppendVarint(buf, int64(e.MappingQuality))
	return buf
}

// AppendEntry appends the length-prefixed encoding of an entry to buf.
func AppendEntry(buf []byte, e *Entry) []byte {
	var body [maxEncodedEntrySize]byte
	encoded := appendEntryBody(body[:0], e)
	buf = binary.AppendUvarint(buf, uint64(len(encoded)))
	return append(buf, encoded...)
}

// DecodeEntry decodes the entry at the start of data, and returns the
// number of bytes consumed.
func DecodeEntry(data []byte, e *Entry) (int, error) {
	length, n := binary.Uvarint(data)
	if n <= 0 || length > uint64(len(data)-n) {
		return 0, fmt.Errorf("%w: truncated entry", ErrFormat)
	}
	d := decoder{data: data[n : n+int(length)]}
	flags := d.uvarint()
	e.MatchingReverseStrand = flags&reverseStrandFlag != 0
	e.QueryIndex = d.int32()
	e.TargetIndex = d.int32()
	e.Position = d.int32()
	e.Score = math.Float32frombits(d.uint32())
	e.QueryPosition = d.int32()
	e.QueryLength = d.int32()
	e.QueryAlignedLength = d.int32()
	e.TargetAlignedLength = d.int32()
	e.NumberOfMismatches = d.int32()
	e.NumberOfIndels = d.int32()
	e.Multiplicity = d.int32()
	e.FragmentIndex = d.int32()
	e.MappingQuality = d.int32()
	if d.err != nil {
		return 0, d.err
	}
	if len(d.data) != 0 {
		return 0, fmt.Errorf("%w: %v trailing bytes in entry", ErrFormat, len(d.data))
	}
	return n + int(length), nil
}

// DecodeEntries decodes all entries in a block of data and appends
// them to entries.
func DecodeEntries(entries []Entry, data []byte) ([]Entry, error) {
	for len(data) > 0 {
		entries = append(entries, Entry{})
		n, err := DecodeEntry(data, &entries[len(entries)-1])
		if err != nil {
			return entries[:len(entries)-1], err
		}
		data = data[n:]
	}
	return entries, nil
}

// decoder reads the primitive values of the archive file formats
// from a byte slice. The first error sticks.
type decoder struct {
	data []byte
	err  error
}

func (d *decoder) fail(what string) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: cannot decode %v", ErrFormat, what)
	}
	d.data = nil
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	value, n := binary.Uvarint(d.data)
	if n <= 0 {
		d.fail("unsigned varint")
		return 0
	}
	d.data = d.data[n:]
	return value
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	value, n := binary.Varint(d.data)
	if n <= 0 {
		d.fail("varint")
		return 0
	}
	d.data = d.data[n:]
	return value
}

func (d *decoder) int32() int32 {
	value := d.varint()
	if value < math.MinInt32 || value > math.MaxInt32 {
		d.fail("int32")
		return 0
	}
	return int32(value)
}

func (d *decoder) uint32() uint32 {
	if d.err != nil {
		return 0
	}
	if len(d.data) < 4 {
		d.fail("uint32")
		return 0
	}
	value := binary.LittleEndian.Uint32(d.data)
	d.data = d.data[4:]
	return value
}

func (d *decoder) bool() bool {
	return d.uvarint() != 0
}

func (d *decoder) length() int {
	value := d.uvarint()
	if value > uint64(len(d.data)) {
		d.fail("length")
		return 0
	}
	return int(value)
}

func (d *decoder) string() string {
	n := d.length()
	if d.err != nil {
		return ""
	}
	s := string(d.data[:n])
	d.data = d.data[n:]
	return s
}

func (d *decoder) magic(magic string) {
	if d.err != nil {
		return
	}
	if len(d.data) < len(magic) || string(d.data[:len(magic)]) != magic {
		d.err = fmt.Errorf("%w: missing %v magic", ErrFormat, magic)
		d.data = nil
		return
	}
	d.data = d.data[len(magic):]
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}
