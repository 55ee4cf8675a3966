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

package bgzf

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

func writeBlocks(t *testing.T, blocks []string, level int) ([]byte, []int64) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, level)
	if err != nil {
		t.Fatal(err)
	}
	for _, block := range blocks {
		if _, err := w.Write([]byte(block)); err != nil {
			t.Fatal(err)
		}
		if w.Buffered() != len(block) {
			t.Errorf("Buffered failed: %v instead of %v", w.Buffered(), len(block))
		}
		if err := w.Flush(); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if w.Size() != int64(buf.Len()) {
		t.Errorf("Size failed: %v instead of %v", w.Size(), buf.Len())
	}
	return buf.Bytes(), w.Offsets()
}

func readBlocks(t *testing.T, data []byte, min, max int64) (result []string, offsets []int64) {
	r := NewReader(bytes.NewReader(data), int64(len(data)), min, max)
	for {
		block, err := r.ReadBlock()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		result = append(result, string(block.Data))
		offsets = append(offsets, block.Offset)
		ReleaseBlock(block)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	return
}

func makeBlocks(n int) []string {
	blocks := make([]string, n)
	for i := range blocks {
		blocks[i] = fmt.Sprintf("block %03d: %v", i, bytes.Repeat([]byte{byte('a' + i%26)}, 100+i))
	}
	return blocks
}

func TestRoundTrip(t *testing.T) {
	blocks := makeBlocks(40)
	data, offsets := writeBlocks(t, blocks, flate.DefaultCompression)
	if len(offsets) != len(blocks) {
		t.Fatalf("Offsets failed: %v offsets for %v blocks", len(offsets), len(blocks))
	}
	if offsets[0] != 0 {
		t.Error("first offset not 0")
	}
	if ok, err := CheckEOF(bytes.NewReader(data), int64(len(data))); err != nil || !ok {
		t.Error("CheckEOF failed")
	}
	result, readOffsets := readBlocks(t, data, 0, int64(len(data))-1)
	if len(result) != len(blocks) {
		t.Fatalf("read %v blocks instead of %v", len(result), len(blocks))
	}
	for i := range blocks {
		if result[i] != blocks[i] {
			t.Errorf("block %v differs", i)
		}
		if readOffsets[i] != offsets[i] {
			t.Errorf("offset %v differs: %v instead of %v", i, readOffsets[i], offsets[i])
		}
	}
}

func TestRanges(t *testing.T) {
	blocks := makeBlocks(25)
	data, offsets := writeBlocks(t, blocks, flate.BestSpeed)
	size := int64(len(data))
	for _, splitSize := range []int64{1, 7, 100, 333, size} {
		var all []string
		for min := int64(0); min < size; min += splitSize {
			max := min + splitSize - 1
			if max >= size-1 {
				max = size - 1
			}
			result, readOffsets := readBlocks(t, data, min, max)
			for _, offset := range readOffsets {
				if offset < min || offset > max {
					t.Errorf("block at %v delivered for range [%v,%v]", offset, min, max)
				}
			}
			all = append(all, result...)
		}
		if len(all) != len(blocks) {
			t.Errorf("split size %v: %v blocks instead of %v", splitSize, len(all), len(blocks))
			continue
		}
		for i := range blocks {
			if all[i] != blocks[i] {
				t.Errorf("split size %v: block %v differs", splitSize, i)
			}
		}
	}
	if result, _ := readBlocks(t, data, offsets[3], offsets[3]); len(result) != 1 || result[0] != blocks[3] {
		t.Error("single block range failed")
	}
}

func TestEmpty(t *testing.T) {
	data, offsets := writeBlocks(t, nil, flate.DefaultCompression)
	if len(offsets) != 0 {
		t.Error("empty Offsets failed")
	}
	if len(data) != len(bgzfEOF) {
		t.Errorf("empty stream has %v bytes", len(data))
	}
	if result, _ := readBlocks(t, data, 0, int64(len(data))-1); len(result) != 0 {
		t.Error("empty read failed")
	}
}

func TestLargeWrite(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	payload := bytes.Repeat([]byte("0123456789"), 3*BlockSize/10)
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if len(w.Offsets()) != 3 {
		t.Errorf("large write produced %v blocks", len(w.Offsets()))
	}
	var result []byte
	r := NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()), 0, int64(buf.Len()))
	for {
		block, err := r.ReadBlock()
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		result = append(result, block.Data...)
		ReleaseBlock(block)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(result, payload) {
		t.Error("large write round trip failed")
	}
}

func TestCorruptBlock(t *testing.T) {
	blocks := makeBlocks(5)
	data, offsets := writeBlocks(t, blocks, flate.DefaultCompression)
	corrupt := append([]byte(nil), data...)
	// flip a bit in the CRC of the third block
	crcOffset := offsets[3] - tailSize
	corrupt[crcOffset] ^= 0x01
	r := NewReader(bytes.NewReader(corrupt), int64(len(corrupt)), 0, int64(len(corrupt))-1)
	var err error
	for err == nil {
		var block *Block
		if block, err = r.ReadBlock(); err == nil {
			ReleaseBlock(block)
		}
	}
	if err == io.EOF {
		t.Error("corrupt CRC not detected")
	} else if !errors.Is(err, ErrCorrupt) {
		t.Errorf("unexpected error %v", err)
	}
	_ = r.Close()

	corrupt = append([]byte(nil), data...)
	corrupt[offsets[1]] = 0
	if _, err := readBlocksErr(corrupt, offsets[1], offsets[1]); !errors.Is(err, ErrCorrupt) {
		t.Errorf("corrupt header not detected: %v", err)
	}
}

func readBlocksErr(data []byte, min, max int64) (n int, err error) {
	r := NewReader(bytes.NewReader(data), int64(len(data)), min, max)
	defer func() {
		if cerr := r.Close(); err == nil {
			err = cerr
		}
	}()
	for {
		block, err := r.ReadBlock()
		if err == io.EOF {
			return n, nil
		} else if err != nil {
			return n, err
		}
		n++
		ReleaseBlock(block)
	}
}

func TestCorruptBlockRepeated(t *testing.T) {
	blocks := makeBlocks(60)
	data, offsets := writeBlocks(t, blocks, flate.BestSpeed)
	corrupt := append([]byte(nil), data...)
	// flip a bit in the CRC of a block in the middle
	corrupt[offsets[31]-tailSize] ^= 0x01
	for i := 0; i < 300; i++ {
		n, err := readBlocksErr(corrupt, 0, int64(len(corrupt))-1)
		if !errors.Is(err, ErrCorrupt) {
			t.Fatalf("round %v: corrupt CRC not detected after %v blocks: %v", i, n, err)
		}
		if n > 30 {
			t.Fatalf("round %v: %v blocks delivered before the corrupt block", i, n)
		}
	}
	// close before reading everything
	for i := 0; i < 100; i++ {
		r := NewReader(bytes.NewReader(corrupt), int64(len(corrupt)), 0, int64(len(corrupt))-1)
		if block, err := r.ReadBlock(); err == nil {
			ReleaseBlock(block)
		}
		_ = r.Close()
	}
}

type failingWriter struct {
	writes int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, errors.New("disk full")
}

func TestWriteFailure(t *testing.T) {
	w, err := NewWriter(&failingWriter{}, flate.BestSpeed)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		block := bytes.Repeat([]byte("x"), 1000)
		for i := 0; i < 1000; i++ {
			if _, err := w.Write(block); err != nil {
				done <- err
				return
			}
			if err := w.Flush(); err != nil {
				done <- err
				return
			}
		}
		done <- w.Close()
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Error("write failure not reported")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("writer blocked after the underlying writer failed")
	}
	if err := w.Close(); err == nil {
		t.Error("Close after a write failure succeeded")
	}
	if _, err := w.Write([]byte("more")); err == nil {
		t.Error("Write after Close succeeded")
	}
}
