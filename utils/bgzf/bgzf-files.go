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

// Package bgzf reads and writes BGZF streams in parallel.
//
// The Writer lets clients decide where blocks end, so that a block
// can be made to contain only whole records, and it reports the
// compressed start offset of every block it writes. The Reader can
// be restricted to the blocks whose compressed start offset lies in
// a given byte range of the underlying file.
package bgzf

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/exascience/pargo/pipeline"
)

const (
	// BlockSize is the maximum number of uncompressed bytes in a block.
	BlockSize = 0xff00

	// MaxBlockSize is the maximum size of a compressed block.
	MaxBlockSize = 0x10000

	headerSize = 18
	tailSize   = 8
)

var bgzfEOF = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
	0x42, 0x43, 0x02, 0x00, 0x1b, 0x00,
	0x03, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

// ErrCorrupt is returned when a block header or trailer is invalid.
var ErrCorrupt = errors.New("corrupt BGZF block")

// CheckEOF determines whether a BGZF file of the given size ends
// with the BGZF end-of-file marker.
func CheckEOF(r io.ReaderAt, size int64) (bool, error) {
	if size < int64(len(bgzfEOF)) {
		return false, nil
	}
	var buf [28]byte
	if _, err := r.ReadAt(buf[:], size-int64(len(buf))); err != nil {
		return false, err
	}
	return bytes.Equal(buf[:], bgzfEOF), nil
}

type (
	// Block is one block of data from a BGZF file, together with the
	// offset in the compressed file where the block starts.
	Block struct {
		Offset int64
		Data   []byte
		Crc32  uint32
		Size   uint32
		buf    []byte
	}

	// Reader reads in parallel from a BGZF file.
	Reader struct {
		err      error
		r        io.ReaderAt
		size     int64
		pos      int64
		min, max int64
		p        pipeline.Pipeline
		w        sync.WaitGroup
		channel  chan *Block
		done     chan struct{}
		ctx      context.Context
		cancel   func()
		data     interface{}
	}

	internalReader Reader
)

var blockPool = sync.Pool{New: func() interface{} {
	return &Block{buf: make([]byte, 0, MaxBlockSize)}
}}

// blockHeader checks the fixed part of a BGZF block header and
// returns the total size of the block.
func blockHeader(header []byte) (int64, error) {
	if header[0] != 0x1f || header[1] != 0x8b || header[2] != 8 || header[3]&4 == 0 {
		return 0, ErrCorrupt
	}
	if binary.LittleEndian.Uint16(header[10:12]) != 6 ||
		header[12] != 'B' || header[13] != 'C' ||
		binary.LittleEndian.Uint16(header[14:16]) != 2 {
		return 0, fmt.Errorf("%w: missing BC extra subfield", ErrCorrupt)
	}
	bsize := int64(binary.LittleEndian.Uint16(header[16:18])) + 1
	if bsize < headerSize+tailSize {
		return 0, fmt.Errorf("%w: invalid block size %v", ErrCorrupt, bsize)
	}
	return bsize, nil
}

func (bgzf *internalReader) readHeader(offset int64) (int64, error) {
	var header [headerSize]byte
	if _, err := bgzf.r.ReadAt(header[:], offset); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, fmt.Errorf("%v, while reading BGZF block header at offset %v", err, offset)
	}
	bsize, err := blockHeader(header[:])
	if err != nil {
		return 0, fmt.Errorf("%w at offset %v", err, offset)
	}
	return bsize, nil
}

func (bgzf *internalReader) readBgzfBlock() (*Block, error) {
	for bgzf.pos < bgzf.min {
		bsize, err := bgzf.readHeader(bgzf.pos)
		if err != nil {
			return nil, err
		}
		bgzf.pos += bsize
		if bgzf.pos >= bgzf.size {
			return nil, io.EOF
		}
	}
	if bgzf.pos > bgzf.max || bgzf.pos >= bgzf.size {
		return nil, io.EOF
	}
	offset := bgzf.pos
	bsize, err := bgzf.readHeader(offset)
	if err != nil {
		return nil, err
	}
	block := blockPool.Get().(*Block)
	block.Offset = offset
	block.buf = block.buf[:bsize]
	if _, err := bgzf.r.ReadAt(block.buf, offset); err != nil {
		blockPool.Put(block)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%v, while reading BGZF block at offset %v", err, offset)
	}
	tail := block.buf[bsize-tailSize:]
	block.Crc32 = binary.LittleEndian.Uint32(tail[0:4])
	block.Size = binary.LittleEndian.Uint32(tail[4:8])
	if block.Size > MaxBlockSize {
		blockPool.Put(block)
		return nil, fmt.Errorf("%w: uncompressed size %v at offset %v", ErrCorrupt, block.Size, offset)
	}
	block.Data = block.buf[headerSize : bsize-tailSize]
	bgzf.pos += bsize
	return block, nil
}

// Err implements the corresponding method of pipeline.Source
func (bgzf *internalReader) Err() error {
	if bgzf.err != io.EOF {
		return bgzf.err
	}
	return nil
}

// Prepare implements the corresponding method of pipeline.Source
func (bgzf *internalReader) Prepare(_ context.Context) (size int) {
	return -1
}

// Fetch implements the corresponding method of pipeline.Source
func (bgzf *internalReader) Fetch(size int) (fetched int) {
	if bgzf.err != nil {
		return 0
	}
	select {
	case <-bgzf.ctx.Done():
		bgzf.err = io.EOF
		bgzf.data = nil
		return 0
	default:
	}
	block, err := bgzf.readBgzfBlock()
	if err != nil {
		bgzf.err = err
		bgzf.data = nil
		return 0
	}
	bgzf.data = block
	return 1
}

// Data implements the corresponding method of pipeline.Source
func (bgzf *internalReader) Data() interface{} {
	return bgzf.data
}

var flateReaderPool sync.Pool

func inflate(block *Block) (*Block, error) {
	blockReader := bytes.NewReader(block.Data)
	var flateReader io.ReadCloser
	if pooled := flateReaderPool.Get(); pooled == nil {
		flateReader = flate.NewReader(blockReader)
	} else {
		flateReader = pooled.(io.ReadCloser)
		if err := flateReader.(flate.Resetter).Reset(blockReader, nil); err != nil {
			flateReader = flate.NewReader(blockReader)
		}
	}
	defer flateReaderPool.Put(flateReader)
	uncompressed := blockPool.Get().(*Block)
	uncompressed.Offset = block.Offset
	uncompressed.Crc32 = block.Crc32
	uncompressed.Size = block.Size
	uncompressed.buf = uncompressed.buf[:int(block.Size)]
	uncompressed.Data = uncompressed.buf
	var err error
	if _, err = io.ReadFull(flateReader, uncompressed.Data); err == io.EOF {
		err = io.ErrUnexpectedEOF
	} else if err == nil && crc32.ChecksumIEEE(uncompressed.Data) != block.Crc32 {
		err = fmt.Errorf("%w: invalid CRC-32 value for the data block at offset %v", ErrCorrupt, block.Offset)
	}
	if cerr := flateReader.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		blockPool.Put(uncompressed)
		return nil, err
	}
	return uncompressed, nil
}

// NewReader returns a Reader for the BGZF file of the given size,
// that only delivers the blocks whose compressed start offset lies
// in the inclusive range [min, max]. Empty blocks, including the
// end-of-file marker, are skipped.
func NewReader(r io.ReaderAt, size, min, max int64) *Reader {
	ctx, cancel := context.WithCancel(context.Background())
	bgzf := &Reader{
		r:       r,
		size:    size,
		min:     min,
		max:     max,
		channel: make(chan *Block, 1),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	bgzf.p.Source((*internalReader)(bgzf))
	bgzf.p.Add(pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
		block := data.(*Block)
		defer blockPool.Put(block)
		uncompressed, err := inflate(block)
		if err != nil {
			bgzf.p.SetErr(err)
			return nil
		}
		return uncompressed
	})), pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
		block, ok := data.(*Block)
		if !ok || block == nil {
			return nil
		}
		if len(block.Data) == 0 || bgzf.p.Err() != nil {
			blockPool.Put(block)
			return nil
		}
		select {
		case <-bgzf.ctx.Done():
			blockPool.Put(block)
		case <-bgzf.p.Context().Done():
			blockPool.Put(block)
		case bgzf.channel <- block:
		}
		return nil
	})))
	bgzf.w.Add(1)
	go func() {
		defer bgzf.w.Done()
		bgzf.p.Run()
		if err := (*internalReader)(bgzf).Err(); err != nil {
			bgzf.p.SetErr(err)
		}
		// After a failure, pipeline goroutines may still be running,
		// so the data channel stays open.
		close(bgzf.done)
	}()
	return bgzf
}

// Close implements the corresponding method of io.Closer
func (bgzf *Reader) Close() error {
	bgzf.cancel()
	bgzf.w.Wait()
	for {
		select {
		case block := <-bgzf.channel:
			blockPool.Put(block)
		default:
			return bgzf.p.Err()
		}
	}
}

// ReadBlock returns the next uncompressed block, or io.EOF when all
// blocks in range have been delivered. The block can be handed back
// with ReleaseBlock once it is no longer used.
func (bgzf *Reader) ReadBlock() (*Block, error) {
	select {
	case <-bgzf.ctx.Done():
		return nil, bgzf.ctx.Err()
	case block := <-bgzf.channel:
		return block, nil
	case <-bgzf.done:
		if err := bgzf.p.Err(); err != nil {
			return nil, err
		}
		// the last block may still be buffered
		select {
		case block := <-bgzf.channel:
			return block, nil
		default:
			return nil, io.EOF
		}
	}
}

// ReleaseBlock returns a block obtained from ReadBlock to the
// internal pool.
func ReleaseBlock(block *Block) {
	blockPool.Put(block)
}

type (
	bytesBlock struct {
		bytes []byte
	}

	// Writer writes in parallel to a BGZF file.
	Writer struct {
		w       io.Writer
		p       pipeline.Pipeline
		wait    sync.WaitGroup
		block   *bytesBlock
		channel chan *bytesBlock
		done    chan struct{}
		data    interface{}
		offset  int64
		offsets []int64
		closed  bool
	}

	internalWriter Writer
)

func (*internalWriter) Err() error {
	return nil
}

func (writer *internalWriter) Prepare(_ context.Context) (size int) {
	return -1
}

func (writer *internalWriter) Fetch(size int) (fetched int) {
	if block, ok := <-writer.channel; ok {
		writer.data = block
		return 1
	}
	writer.data = nil
	return 0
}

func (writer *internalWriter) Data() interface{} {
	return writer.data
}

var (
	bytesPool = sync.Pool{New: func() interface{} {
		return &bytesBlock{bytes: make([]byte, 0, MaxBlockSize)}
	}}

	// flate writers keep their level when reset, so pool them per level
	flateWriterPools [flate.BestCompression - flate.HuffmanOnly + 1]sync.Pool
)

// NewWriter returns a Writer for the given io.Writer.
//
// Following zlib, levels range from 1 (BestSpeed) to 9 (BestCompression);
// higher levels typically run slower but compress more. Level 0
// (NoCompression) does not attempt any compression; it only adds the
// necessary DEFLATE framing.
// Level -1 (DefaultCompression) uses the default compression level.
// Level -2 (HuffmanOnly) will use Huffman compression only, giving
// a very fast compression for all types of input, but sacrificing considerable
// compression efficiency.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return nil, fmt.Errorf("invalid BGZF compression level %v", level)
	}
	flateWriterPool := &flateWriterPools[level-flate.HuffmanOnly]
	bgzf := &Writer{
		w:       w,
		block:   bytesPool.Get().(*bytesBlock),
		channel: make(chan *bytesBlock, 1),
		done:    make(chan struct{}),
	}
	bgzf.p.Source((*internalWriter)(bgzf))
	bgzf.p.Add(pipeline.LimitedPar(0, pipeline.Receive(func(n int, data interface{}) interface{} {
		block := data.(*bytesBlock)
		gzBytes := bytesPool.Get().(*bytesBlock)
		gzBuf := bytes.NewBuffer(gzBytes.bytes[:0])

		gzBuf.Write([]byte{
			0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
			0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
			0x42, 0x43, 0x02, 0x00, 0x00, 0x00,
		})

		var flateWriter *flate.Writer
		if pooled := flateWriterPool.Get(); pooled != nil {
			flateWriter = pooled.(*flate.Writer)
			flateWriter.Reset(gzBuf)
		} else {
			var err error
			if flateWriter, err = flate.NewWriter(gzBuf, level); err != nil {
				bgzf.p.SetErr(err)
				return nil
			}
		}
		if _, err := flateWriter.Write(block.bytes); err != nil {
			bgzf.p.SetErr(err)
		} else if err := flateWriter.Close(); err != nil {
			bgzf.p.SetErr(err)
		}
		flateWriterPool.Put(flateWriter)
		var tail [tailSize]byte
		binary.LittleEndian.PutUint32(tail[0:4], crc32.ChecksumIEEE(block.bytes))
		binary.LittleEndian.PutUint32(tail[4:8], uint32(len(block.bytes)))
		gzBuf.Write(tail[:])
		gzBytes.bytes = gzBuf.Bytes()
		if len(gzBytes.bytes) > MaxBlockSize {
			bgzf.p.SetErr(fmt.Errorf("compressed BGZF block exceeds %v bytes", MaxBlockSize))
		}
		binary.LittleEndian.PutUint16(gzBytes.bytes[16:18], uint16(len(gzBytes.bytes)-1))
		block.bytes = block.bytes[:0]
		bytesPool.Put(block)
		return gzBytes
	})), pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
		gzBytes, ok := data.(*bytesBlock)
		if !ok || gzBytes == nil {
			return nil
		}
		if bgzf.p.Err() != nil {
			gzBytes.bytes = gzBytes.bytes[:0]
			bytesPool.Put(gzBytes)
			return nil
		}
		if _, err := w.Write(gzBytes.bytes); err != nil {
			bgzf.p.SetErr(err)
		}
		bgzf.offsets = append(bgzf.offsets, bgzf.offset)
		bgzf.offset += int64(len(gzBytes.bytes))
		gzBytes.bytes = gzBytes.bytes[:0]
		bytesPool.Put(gzBytes)
		return nil
	})))
	bgzf.wait.Add(1)
	go func() {
		defer bgzf.wait.Done()
		bgzf.p.Run()
		close(bgzf.done)
	}()
	return bgzf, nil
}

var errClosed = errors.New("BGZF writer is closed")

// sendBlock hands the current block to the pipeline. Once the
// pipeline has stopped, nothing receives blocks any more, and the
// pipeline error is returned instead.
func (bgzf *Writer) sendBlock() error {
	if err := bgzf.p.Err(); err != nil {
		return err
	}
	select {
	case bgzf.channel <- bgzf.block:
		return nil
	case <-bgzf.done:
		if err := bgzf.p.Err(); err != nil {
			return err
		}
		return errors.New("BGZF writer pipeline stopped")
	}
}

// Buffered returns the number of bytes in the current, not yet
// flushed block.
func (bgzf *Writer) Buffered() int {
	if bgzf.block == nil {
		return 0
	}
	return len(bgzf.block.bytes)
}

// Flush ends the current block, if it is not empty. The next Write
// starts a new block.
func (bgzf *Writer) Flush() error {
	if bgzf.closed {
		return errClosed
	}
	if len(bgzf.block.bytes) == 0 {
		return nil
	}
	if err := bgzf.sendBlock(); err != nil {
		return err
	}
	bgzf.block = bytesPool.Get().(*bytesBlock)
	return nil
}

// Close implements the corresponding method of io.Closer
func (bgzf *Writer) Close() error {
	if bgzf.closed {
		return errClosed
	}
	bgzf.closed = true
	var err error
	if len(bgzf.block.bytes) > 0 {
		err = bgzf.sendBlock()
	}
	bgzf.block = nil
	close(bgzf.channel)
	bgzf.wait.Wait()
	if perr := bgzf.p.Err(); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	_, err = bgzf.w.Write(bgzfEOF)
	bgzf.offset += int64(len(bgzfEOF))
	return err
}

// Offsets returns the compressed start offsets of all data blocks,
// in the order in which they were written. Only valid after Close.
func (bgzf *Writer) Offsets() []int64 {
	return bgzf.offsets
}

// Size returns the total number of compressed bytes written,
// including the end-of-file marker. Only valid after Close.
func (bgzf *Writer) Size() int64 {
	return bgzf.offset
}

// Write implements the corresponding method of io.Writer.
func (bgzf *Writer) Write(p []byte) (n int, err error) {
	if bgzf.closed {
		return 0, errClosed
	}
	n = len(p)
	for {
		blockIndex := len(bgzf.block.bytes)
		newBlockLength := blockIndex + len(p)
		if newBlockLength >= BlockSize {
			bgzf.block.bytes = bgzf.block.bytes[:BlockSize]
			k := copy(bgzf.block.bytes[blockIndex:], p)
			p = p[k:]
			if err := bgzf.sendBlock(); err != nil {
				return n - len(p), err
			}
			bgzf.block = bytesPool.Get().(*bytesBlock)
			if len(p) == 0 {
				return
			}
		} else {
			bgzf.block.bytes = bgzf.block.bytes[:newBlockLength]
			copy(bgzf.block.bytes[blockIndex:], p)
			return
		}
	}
}
