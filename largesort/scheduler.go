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

package largesort

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/exascience/elsort/archive"
	"github.com/exascience/elsort/internal"
	"github.com/exascience/elsort/intervals"
	"github.com/exascience/elsort/utils"
)

// State is the state of the merge scheduler.
type State int

const (
	Sorting State = iota
	Merging
	FinalMergeSubmitted
	Done
	Failed
)

func (state State) String() string {
	switch state {
	case Sorting:
		return "SORTING"
	case Merging:
		return "MERGING"
	case FinalMergeSubmitted:
		return "FINAL_MERGE_SUBMITTED"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(state))
	}
}

// ErrMissingSource is returned when the .entries file of the input
// archive does not exist.
var ErrMissingSource = errors.New("missing source archive")

// Result reports on a sort run.
type Result struct {
	State State

	// SplitSize is the size of the initial splits.
	SplitSize int64

	// InitialSplits is the number of splits the source was cut into.
	InitialSplits int

	// MergesSubmitted and MergesExecuted count the merge jobs that
	// were submitted and that completed successfully.
	MergesSubmitted, MergesExecuted int64

	// Final is the split that was written to the output, if the run
	// succeeded.
	Final *Split

	// Undeleted lists temporary files that could not be deleted.
	Undeleted []string
}

// Run sorts the input archive into the output archive.
func Run(opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	fileSize, err := archive.EntriesSize(opts.Input)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: could not locate %v", ErrMissingSource, opts.Input+archive.EntriesExtension)
	} else if err != nil {
		return nil, err
	}
	hdr, err := archive.ReadHeader(opts.Input)
	if err != nil {
		return nil, err
	}
	if hdr.Sorted {
		log.Println("Warning: The input archive is already sorted.")
	}
	if opts.SplitSize == 0 {
		available := utils.AvailableMemory()
		opts.SplitSize = AutoSplitSize(available, opts.MemoryFraction, opts.Threads, opts.ScalingFactor)
		log.Printf("Available memory is %v. Using a split size of %v.\n", humanize.IBytes(available), humanize.IBytes(uint64(opts.SplitSize)))
	}
	if limit, err := utils.EnsureFileLimit(opts.FileBudget()); err != nil {
		log.Printf("Warning: %v, while checking the file descriptor limit.\n", err)
	} else if limit < opts.FileBudget() {
		log.Printf("Warning: Up to %v files may be open at the same time, but the limit is %v. Consider lowering --files-per-merge.\n", opts.FileBudget(), limit)
	}
	if err := os.MkdirAll(opts.TempDir, 0700); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(opts.Output); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}

	c := newRunContext(&opts, fileSize)
	c.exec = newExecutor(opts.Threads)
	result := &Result{State: Sorting, SplitSize: opts.SplitSize}
	if opts.Verbose {
		log.Printf("Sorting %v (%v) with %v threads and %v files per merge\n", opts.Input, humanize.IBytes(uint64(fileSize)), opts.Threads, opts.FilesPerMerge)
	}

	for i, r := range PlanSplits(fileSize, opts.SplitSize) {
		c.sortSplit(newSplit(r), i == 0)
		result.InitialSplits++
		if !c.errs.empty() {
			break
		}
	}
	if opts.Verbose {
		log.Printf("Split file into %v pieces\n", result.InitialSplits)
	}

	c.schedule(result)

	c.exec.shutdown()
	for !c.exec.awaitTermination(opts.ShutdownPoll) {
		log.Println("Waiting for workers to finish...")
	}
	result.MergesExecuted = c.mergesExecuted.Load()
	result.Undeleted = c.reaper.retry()

	if err := c.errs.join(); err != nil {
		result.State = Failed
		return result, err
	}
	final, ok := c.splitsToMerge.Poll()
	if !ok {
		result.State = Failed
		return result, errors.New("no sorted archive left after merging")
	}
	result.Final = final
	if opts.Verbose {
		log.Printf("%v made up from %v splits\n", final, final.NumFiles)
		log.Printf("Took %v secondary merges\n", result.MergesExecuted)
	}
	return result, nil
}

// schedule runs the merge scheduler until all splits are merged into
// the output, or until a job fails.
func (c *runContext) schedule(result *Result) {
	last := lastOffset(c.fileSize)
	for {
		if !c.errs.empty() {
			result.State = Failed
			return
		}
		c.drain()
		pending := int(c.pending.Load())
		if result.State == FinalMergeSubmitted && pending == 1 {
			result.State = Done
			return
		}

		var n int
		final := false
		switch {
		case pending == 0:
		case pending == 1:
			if result.State != FinalMergeSubmitted && c.covered(last) {
				if err := c.promote(); err != nil {
					c.fail(0, err)
					continue
				}
				result.State = Done
				return
			}
		case pending > c.opts.FilesPerMerge:
			n = c.opts.FilesPerMerge
		default:
			if c.covered(last) {
				n, final = pending, true
			} else if pending == c.opts.FilesPerMerge {
				n = pending
			}
		}
		if !c.errs.empty() {
			continue
		}

		if n > 0 {
			batch := c.take(n)
			if final {
				result.State = FinalMergeSubmitted
			} else {
				result.State = Merging
			}
			result.MergesSubmitted++
			if c.opts.Verbose {
				log.Printf("%v splits waiting to merge after taking %v\n", pending-n, n)
			}
			c.mergeSplits(batch, final)
			continue
		}

		if c.running.Load() == 0 {
			c.fail(0, fmt.Errorf("cannot make progress: %v splits cover %v of [0,%v] and no jobs are running",
				pending, intervals.Format(c.pendingRanges()), last))
			continue
		}
		time.Sleep(c.opts.PollInterval)
	}
}

func (c *runContext) pendingRanges() []intervals.Range {
	splits := c.splitsToMerge.Snapshot()
	lists := make([][]intervals.Range, len(splits))
	for i, split := range splits {
		lists[i] = split.Ranges
	}
	return intervals.Coalesce(lists...)
}

// covered checks whether the pending splits together cover the whole
// source file. Overlapping splits are an error, because their union
// would count some entries twice.
func (c *runContext) covered(last int64) bool {
	splits := c.splitsToMerge.Snapshot()
	lists := make([][]intervals.Range, len(splits))
	for i, split := range splits {
		lists[i] = split.Ranges
	}
	if r1, r2, ok := intervals.Overlapping(lists...); ok {
		c.fail(0, fmt.Errorf("pending splits overlap in %v and %v", r1, r2))
		return false
	}
	return intervals.Covers(intervals.Coalesce(lists...), 0, last)
}

// promote turns the temporary archive of the only remaining split
// into the output archive.
func (c *runContext) promote() error {
	splits := c.splitsToMerge.Snapshot()
	if len(splits) != 1 {
		return fmt.Errorf("%v splits left to promote", len(splits))
	}
	from := c.basename(splits[0])
	if err := archive.Move(from, c.opts.Output); err != nil {
		return err
	}
	return finishOutputStatistics(c.opts.Output)
}

// finishOutputStatistics updates the statistics of an archive that
// was renamed.
func finishOutputStatistics(basename string) error {
	statistics, err := archive.ReadStatistics(basename)
	if err != nil {
		return err
	}
	statistics[archive.StatBasename] = filepath.Base(basename)
	if full, err := internal.FullPathname(basename); err == nil {
		statistics[archive.StatBasenameFull] = full
	}
	return archive.WriteStatistics(basename, statistics)
}
