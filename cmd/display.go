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
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/exascience/elsort/archive"
)

// DisplayEntriesHelp is the help string for this command.
const DisplayEntriesHelp = "\ndisplay-entries parameters:\n" +
	"elsort display-entries basename\n" +
	"[--start-target n]\n" +
	"[--start-position n]\n" +
	"[--max-entries n]\n" +
	"[--header-only]\n"

// DisplayEntries implements the elsort display-entries command.
func DisplayEntries() error {
	var (
		startTarget, startPosition int
		maxEntries                 int64
		headerOnly                 bool
	)

	var flags flag.FlagSet

	flags.IntVar(&startTarget, "start-target", -1, "index of the first target to display (sorted archives only)")
	flags.IntVar(&startPosition, "start-position", 0, "first position on the start target to display")
	flags.Int64Var(&maxEntries, "max-entries", -1, "maximum number of entries to display")
	flags.BoolVar(&headerOnly, "header-only", false, "only display the header and statistics")

	parseFlags(flags, 3, DisplayEntriesHelp)

	input := archive.Basename(getFilename(os.Args[2], DisplayEntriesHelp))

	// sanity checks

	var sanityChecksFailed bool

	if !checkInputArchive("", input) {
		sanityChecksFailed = true
	}
	if startPosition < 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid start-position: ", startPosition)
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, DisplayEntriesHelp)
		os.Exit(1)
	}

	reader, err := archive.Open(input)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			log.Println("Warning:", cerr)
		}
	}()

	out := bufio.NewWriter(os.Stdout)
	defer func() {
		_ = out.Flush()
	}()

	if err := displayHeader(out, reader); err != nil {
		return err
	}
	if headerOnly {
		return nil
	}

	var e *archive.Entry
	if startTarget >= 0 {
		if !reader.IsIndexed() {
			return fmt.Errorf("archive %v has no index, cannot start at target %v", input, startTarget)
		}
		e, err = reader.SkipTo(int32(startTarget), int32(startPosition))
	} else {
		e, err = reader.Read()
	}
	for n := int64(0); maxEntries < 0 || n < maxEntries; n++ {
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		fmt.Fprintln(out, e.String())
		e, err = reader.Read()
	}
	return nil
}

func displayHeader(out io.Writer, reader *archive.Reader) error {
	hdr := reader.Header()
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# basename:", reader.Basename())
	fmt.Fprintln(&buf, "# entries size:", humanize.IBytes(uint64(reader.EntriesSize())))
	fmt.Fprintln(&buf, "# sorted:", hdr.Sorted, "indexed:", hdr.Indexed)
	fmt.Fprintln(&buf, "# number of queries:", hdr.NumberOfQueries,
		"smallest query index:", hdr.SmallestQueryIndex, "largest query index:", hdr.LargestQueryIndex)
	if hdr.AlignerName != "" {
		fmt.Fprintln(&buf, "# aligner:", hdr.AlignerName, hdr.AlignerVersion)
	}
	fmt.Fprintln(&buf, "# number of targets:", hdr.NumberOfTargets())
	for i, id := range hdr.TargetIdentifiers {
		var length int32
		if i < len(hdr.TargetLengths) {
			length = hdr.TargetLengths[i]
		}
		fmt.Fprintf(&buf, "#   %v\t%v\t%v\n", i, id, length)
	}
	statistics := reader.Statistics()
	keys := make([]string, 0, len(statistics))
	for key := range statistics {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&buf, "# %v=%v\n", key, statistics[key])
	}
	tmh, err := archive.LoadTooManyHits(reader.Basename())
	if err != nil {
		return err
	}
	fmt.Fprintln(&buf, "# too many hits:", tmh.Len(), "queries, threshold", tmh.AlignerThreshold)
	_, err = out.Write(buf.Bytes())
	return err
}
