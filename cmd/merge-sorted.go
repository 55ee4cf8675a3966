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
	"compress/flate"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/exascience/elsort/archive"
	"github.com/exascience/elsort/internal"
	"github.com/exascience/elsort/largesort"
)

// MergeSortedHelp is the help string for this command.
const MergeSortedHelp = "\nmerge-sorted parameters:\n" +
	"elsort merge-sorted /path/to/input output-basename\n" +
	"[--compression-level n]\n" +
	"[--entries-per-chunk n]\n" +
	"[--timed]\n" +
	"[--profile file]\n" +
	"[--log-path path]\n" +
	"The input is either a directory of sorted archives, or a comma-separated list of basenames.\n"

// archivesToMerge returns the basenames of the archives named by the
// input of the merge-sorted command.
func archivesToMerge(input string) ([]string, error) {
	if info, err := os.Stat(input); err == nil && info.IsDir() {
		fullInputPath, err := filepath.Abs(input)
		if err != nil {
			return nil, err
		}
		files, err := internal.Directory(fullInputPath)
		if err != nil {
			return nil, err
		}
		var basenames []string
		for _, file := range files {
			if strings.HasSuffix(file, archive.EntriesExtension) {
				basenames = append(basenames, filepath.Join(fullInputPath, archive.Basename(file)))
			}
		}
		sort.Strings(basenames)
		return basenames, nil
	}
	var basenames []string
	for _, name := range strings.Split(input, ",") {
		if name = strings.TrimSpace(name); name != "" {
			basenames = append(basenames, archive.Basename(name))
		}
	}
	return basenames, nil
}

// MergeSorted implements the elsort merge-sorted command.
func MergeSorted() error {
	var (
		level, entriesPerChunk int
		profile, logPath       string
		timed                  bool
	)

	var flags flag.FlagSet

	flags.IntVar(&level, "compression-level", flate.DefaultCompression, "compression level of the output archive")
	flags.IntVar(&entriesPerChunk, "entries-per-chunk", archive.DefaultEntriesPerChunk, "maximum number of entries per compressed block")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&profile, "profile", "", "write a runtime profile to the specified file(s)")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(flags, 4, MergeSortedHelp)

	input := getFilename(os.Args[2], MergeSortedHelp)
	output := archive.Basename(getFilename(os.Args[3], MergeSortedHelp))

	setLogOutput(logPath)

	// sanity checks

	var sanityChecksFailed bool

	inputs, err := archivesToMerge(input)
	if err != nil {
		log.Printf("Given input %v causes error %v.\n", input, err)
		sanityChecksFailed = true
	} else if len(inputs) == 0 {
		log.Printf("Given input %v does not name any archives.\n", input)
		sanityChecksFailed = true
	}
	for _, basename := range inputs {
		if !checkInputArchive("", basename) || !checkOutputArchive("", output, basename) {
			sanityChecksFailed = true
		}
	}

	if level < flate.HuffmanOnly || level > flate.BestCompression {
		sanityChecksFailed = true
		log.Println("Error: Invalid compression-level: ", level)
	}

	if profile != "" && !checkCreate("--profile", profile) {
		sanityChecksFailed = true
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, MergeSortedHelp)
		os.Exit(1)
	}

	// building output command line

	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " merge-sorted ", input, " ", output)
	fmt.Fprint(&command, " --compression-level ", level)
	fmt.Fprint(&command, " --entries-per-chunk ", entriesPerChunk)
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

	return timedRun(timed, profile, "Merging sorted archives.", 1, func() error {
		n, err := largesort.MergeSorted(inputs, output, level, entriesPerChunk, nil)
		if err != nil {
			return err
		}
		hdr, err := archive.ReadHeader(output)
		if err != nil {
			return err
		}
		if err := archive.MaterializeTooManyHits(output, hdr.NumberOfQueries, inputs[0]); err != nil {
			return err
		}
		log.Printf("Merged %v archives into %v with %v entries.\n", len(inputs), output, n)
		return nil
	})
}
