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

// Package largesort sorts alignment archives that do not fit in
// memory. The .entries file of the source archive is cut into byte
// range splits, each split is sorted in memory into a temporary sorted
// archive, and sorted archives are merged in batches until a single
// archive covering the whole source file remains.
package largesort

import (
	"compress/flate"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/exascience/elsort/archive"
)

const (
	DefaultFilesPerMerge   = 50
	DefaultMemoryFraction  = 0.75
	DefaultScalingFactor   = 50
	DefaultDeletionRetries = 1
	DefaultPollInterval    = time.Second
	DefaultShutdownPoll    = time.Minute

	MinMemoryFraction = 0.5
	MaxMemoryFraction = 0.99
)

// Options configures a sort run.
type Options struct {
	// Input and Output are archive basenames.
	Input, Output string

	// TempDir holds the temporary sorted archives.
	TempDir string

	// Threads is the number of workers. 0 runs all jobs on the calling
	// goroutine, a negative value uses one worker per CPU.
	Threads int

	// FilesPerMerge is the maximum number of archives merged at once.
	FilesPerMerge int

	// SplitSize is the number of bytes of the source .entries file per
	// initial split. 0 derives it from the available memory.
	SplitSize int64

	// MemoryFraction is the fraction of the available memory the
	// initial splits may use together, clamped to [0.5, 0.99].
	MemoryFraction float64

	// ScalingFactor relates the size of a split on disk to the size of
	// its entries in memory.
	ScalingFactor float64

	// DeletionRetries is the number of passes over temporary files that
	// could not be deleted, after all jobs have finished.
	DeletionRetries int

	// PollInterval is how long the scheduler sleeps when there is
	// nothing to submit. ShutdownPoll is how long it waits between
	// progress messages while workers finish.
	PollInterval, ShutdownPoll time.Duration

	// EntriesPerChunk is passed to the archive writers.
	EntriesPerChunk int

	// TempCompression and OutputCompression are compress/flate levels
	// for the temporary archives and the final output.
	TempCompression, OutputCompression int

	Verbose bool

	// beforeMerge is called with the basenames of the inputs of each
	// merge, before they are opened.
	beforeMerge func(basenames []string)
}

// DefaultOptions returns the options for sorting input into output.
func DefaultOptions(input, output string) Options {
	return Options{
		Input:             input,
		Output:            output,
		TempDir:           os.TempDir(),
		Threads:           -1,
		FilesPerMerge:     DefaultFilesPerMerge,
		MemoryFraction:    DefaultMemoryFraction,
		ScalingFactor:     DefaultScalingFactor,
		DeletionRetries:   DefaultDeletionRetries,
		PollInterval:      DefaultPollInterval,
		ShutdownPoll:      DefaultShutdownPoll,
		EntriesPerChunk:   archive.DefaultEntriesPerChunk,
		TempCompression:   flate.BestSpeed,
		OutputCompression: flate.DefaultCompression,
	}
}

// Validate checks the options, and fills in and clamps values where
// that is meaningful.
func (opts *Options) Validate() error {
	if opts.Input == "" {
		return errors.New("missing input archive")
	}
	if opts.Output == "" {
		return errors.New("missing output archive")
	}
	if archive.Basename(opts.Input) == archive.Basename(opts.Output) {
		return fmt.Errorf("input and output archive are both %v", opts.Input)
	}
	opts.Input, opts.Output = archive.Basename(opts.Input), archive.Basename(opts.Output)
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Threads < 0 {
		opts.Threads = runtime.GOMAXPROCS(0)
	}
	if opts.FilesPerMerge < 2 {
		return fmt.Errorf("files per merge must be at least 2, not %v", opts.FilesPerMerge)
	}
	if opts.SplitSize < 0 {
		return fmt.Errorf("invalid split size %v", opts.SplitSize)
	}
	if opts.MemoryFraction < MinMemoryFraction || opts.MemoryFraction > MaxMemoryFraction {
		clamped := min(max(opts.MemoryFraction, MinMemoryFraction), MaxMemoryFraction)
		log.Printf("Warning: Memory fraction %v is clamped to %v.\n", opts.MemoryFraction, clamped)
		opts.MemoryFraction = clamped
	}
	if opts.ScalingFactor <= 0 {
		return fmt.Errorf("split size scaling factor must be positive, not %v", opts.ScalingFactor)
	}
	if opts.DeletionRetries < 0 {
		opts.DeletionRetries = 0
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ShutdownPoll <= 0 {
		opts.ShutdownPoll = DefaultShutdownPoll
	}
	if opts.EntriesPerChunk <= 0 {
		opts.EntriesPerChunk = archive.DefaultEntriesPerChunk
	}
	if opts.TempCompression < flate.HuffmanOnly || opts.TempCompression > flate.BestCompression {
		return fmt.Errorf("invalid compression level %v", opts.TempCompression)
	}
	if opts.OutputCompression < flate.HuffmanOnly || opts.OutputCompression > flate.BestCompression {
		return fmt.Errorf("invalid compression level %v", opts.OutputCompression)
	}
	return nil
}

// FileBudget estimates the number of file descriptors a run with
// these options may keep open at the same time.
func (opts *Options) FileBudget() uint64 {
	return uint64(opts.FilesPerMerge)*uint64(max(opts.Threads, 1))*uint64(len(archive.Extensions)) + 4
}
