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

package cmd

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/dustin/go-humanize"

	"github.com/exascience/elsort/archive"
	"github.com/exascience/elsort/largesort"
	"github.com/exascience/elsort/utils"
)

// SortLargeHelp is the help string for this command.
const SortLargeHelp = "\nsort-large parameters:\n" +
	"elsort sort-large --input basename --output basename\n" +
	"[--num-threads n|auto]\n" +
	"[--files-per-merge n]\n" +
	"[--split-size bytes|auto]\n" +
	"[--temp-dir path]\n" +
	"[--memory-percentage-for-work f]\n" +
	"[--split-size-scaling-factor f]\n" +
	"[--entries-per-chunk n]\n" +
	"[--deletion-retries n]\n" +
	"[--verbose]\n" +
	"[--timed]\n" +
	"[--profile file]\n" +
	"[--log-path path]\n"

// SortLarge implements the elsort sort-large command.
func SortLarge() error {
	var (
		input, output, tempDir  string
		threads, splitSize      string
		filesPerMerge           int
		entriesPerChunk         int
		deletionRetries         int
		memoryFraction, scaling float64
		profile, logPath        string
		verbose, timed          bool
	)

	var flags flag.FlagSet

	flags.StringVar(&input, "input", "", "basename of the unsorted input archive")
	flags.StringVar(&output, "output", "", "basename of the sorted output archive")
	flags.StringVar(&threads, "num-threads", "auto", "number of worker threads, or auto")
	flags.IntVar(&filesPerMerge, "files-per-merge", largesort.DefaultFilesPerMerge, "maximum number of archives merged at once")
	flags.StringVar(&splitSize, "split-size", "auto", "size of the initial splits in bytes, or auto")
	flags.StringVar(&tempDir, "temp-dir", os.TempDir(), "directory for temporary archives")
	flags.Float64Var(&memoryFraction, "memory-percentage-for-work", largesort.DefaultMemoryFraction, "fraction of the available memory used for sorting splits")
	flags.Float64Var(&scaling, "split-size-scaling-factor", largesort.DefaultScalingFactor, "ratio between in-memory size and on-disk size of a split")
	flags.IntVar(&entriesPerChunk, "entries-per-chunk", archive.DefaultEntriesPerChunk, "maximum number of entries per compressed block")
	flags.IntVar(&deletionRetries, "deletion-retries", largesort.DefaultDeletionRetries, "number of retries for temporary files that could not be deleted")
	flags.BoolVar(&verbose, "verbose", false, "log the progress of the scheduler")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&profile, "profile", "", "write a runtime profile to the specified file(s)")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(flags, 2, SortLargeHelp)

	setLogOutput(logPath)

	// sanity checks

	var sanityChecksFailed bool

	input, output = archive.Basename(input), archive.Basename(output)

	if !checkInputArchive("--input", input) {
		sanityChecksFailed = true
	}
	if !checkOutputArchive("--output", output, input) {
		sanityChecksFailed = true
	}

	nrOfThreads, ok := parseThreads(threads)
	if !ok {
		sanityChecksFailed = true
	}

	size, err := utils.ParseSize(splitSize)
	if err != nil {
		sanityChecksFailed = true
		log.Printf("Error: Invalid split size %v: %v.\n", splitSize, err)
	}

	if filesPerMerge < 2 {
		sanityChecksFailed = true
		log.Println("Error: Invalid files-per-merge: ", filesPerMerge)
	}

	if scaling <= 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid split-size-scaling-factor: ", scaling)
	}

	if profile != "" && !checkCreate("--profile", profile) {
		sanityChecksFailed = true
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, SortLargeHelp)
		os.Exit(1)
	}

	// building output command line

	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " sort-large --input ", input, " --output ", output)
	if nrOfThreads > 0 {
		runtime.GOMAXPROCS(nrOfThreads)
	}
	fmt.Fprint(&command, " --num-threads ", threads)
	fmt.Fprint(&command, " --files-per-merge ", filesPerMerge)
	fmt.Fprint(&command, " --split-size ", splitSize)
	fmt.Fprint(&command, " --temp-dir ", tempDir)
	fmt.Fprint(&command, " --memory-percentage-for-work ", memoryFraction)
	fmt.Fprint(&command, " --split-size-scaling-factor ", scaling)
	fmt.Fprint(&command, " --entries-per-chunk ", entriesPerChunk)
	fmt.Fprint(&command, " --deletion-retries ", deletionRetries)
	if verbose {
		fmt.Fprint(&command, " --verbose")
	}
	if timed {
		fmt.Fprint(&command, " --timed")
	}
	if profile != "" {
		fmt.Fprint(&command, " --profile ", profile)
	}
	if logPath != "" {
		fmt.Fprint(&command, " --log-path ", logPath)
	}

	// executing command

	log.Println("Executing command:\n", command.String())

	opts := largesort.DefaultOptions(input, output)
	opts.TempDir = tempDir
	opts.Threads = nrOfThreads
	opts.FilesPerMerge = filesPerMerge
	opts.SplitSize = size
	opts.MemoryFraction = memoryFraction
	opts.ScalingFactor = scaling
	opts.EntriesPerChunk = entriesPerChunk
	opts.DeletionRetries = deletionRetries
	opts.Verbose = verbose

	return timedRun(timed, profile, "Sorting large archive.", 1, func() error {
		result, err := largesort.Run(opts)
		if result != nil {
			logResult(result)
		}
		return err
	})
}

func logResult(result *largesort.Result) {
	log.Printf("Sort finished in state %v after %v initial splits of %v and %v merges.\n",
		result.State, result.InitialSplits, humanize.IBytes(uint64(result.SplitSize)), result.MergesExecuted)
	if len(result.Undeleted) > 0 {
		log.Printf("Warning: %v temporary files are left for manual cleanup.\n", len(result.Undeleted))
	}
}
