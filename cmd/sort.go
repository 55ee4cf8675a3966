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

// SortHelp is the help string for this command.
const SortHelp = "\nsort parameters:\n" +
	"elsort sort --input basename --output basename\n" +
	"[--num-threads n|auto]\n" +
	"[--temp-dir path]\n" +
	"[--split-size-scaling-factor f]\n" +
	"[--timed]\n" +
	"[--profile file]\n" +
	"[--log-path path]\n"

// Sort implements the elsort sort command. The whole input is sorted
// in memory as a single split.
func Sort() error {
	var (
		input, output, tempDir string
		threads                string
		scaling                float64
		profile, logPath       string
		timed                  bool
	)

	var flags flag.FlagSet

	flags.StringVar(&input, "input", "", "basename of the unsorted input archive")
	flags.StringVar(&output, "output", "", "basename of the sorted output archive")
	flags.StringVar(&threads, "num-threads", "auto", "number of threads for sorting, or auto")
	flags.StringVar(&tempDir, "temp-dir", os.TempDir(), "directory for the temporary archive")
	flags.Float64Var(&scaling, "split-size-scaling-factor", largesort.DefaultScalingFactor, "ratio between in-memory size and on-disk size of an archive")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&profile, "profile", "", "write a runtime profile to the specified file(s)")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(flags, 2, SortHelp)

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

	if scaling <= 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid split-size-scaling-factor: ", scaling)
	}

	if profile != "" && !checkCreate("--profile", profile) {
		sanityChecksFailed = true
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, SortHelp)
		os.Exit(1)
	}

	fileSize, err := archive.EntriesSize(input)
	if err != nil {
		return err
	}
	if needed, available := uint64(float64(fileSize)*scaling), utils.AvailableMemory(); needed > available {
		log.Printf("Warning: Sorting %v in memory may need %v, but only %v is available. Consider sort-large.\n",
			input, humanize.IBytes(needed), humanize.IBytes(available))
	}

	// building output command line

	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " sort --input ", input, " --output ", output)
	if nrOfThreads > 0 {
		runtime.GOMAXPROCS(nrOfThreads)
	}
	fmt.Fprint(&command, " --num-threads ", threads)
	fmt.Fprint(&command, " --temp-dir ", tempDir)
	fmt.Fprint(&command, " --split-size-scaling-factor ", scaling)
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
	opts.Threads = 0
	opts.SplitSize = max(fileSize, 1)
	opts.ScalingFactor = scaling

	return timedRun(timed, profile, "Sorting archive in memory.", 1, func() error {
		result, err := largesort.Run(opts)
		if result != nil {
			logResult(result)
		}
		return err
	})
}
