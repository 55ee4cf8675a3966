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

// elsort sorts compact alignment archives that are too large to sort
// in memory. It cuts the entries of an archive into byte-range splits,
// sorts the splits in parallel, and merges the sorted splits until one
// sorted and indexed archive remains.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/exascience/elsort/cmd"
)

func printHelp() {
	fmt.Fprintln(os.Stderr, "Available commands: sort-large, sort, merge-sorted, display-entries")
	fmt.Fprint(os.Stderr, "\n", cmd.SortLargeHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.SortHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.MergeSortedHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.DisplayEntriesHelp)
}

func main() {
	fmt.Fprintln(os.Stderr, cmd.ProgramMessage)
	if len(os.Args) < 2 {
		log.Println("Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, cmd.HelpMessage, "\n")
		printHelp()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "sort-large":
		err = cmd.SortLarge()
	case "sort":
		err = cmd.Sort()
	case "merge-sorted":
		err = cmd.MergeSorted()
	case "display-entries":
		err = cmd.DisplayEntries()
	case "help", "-help", "--help", "-h", "--h":
		printHelp()
	default:
		log.Printf("Unknown command %v.\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}
