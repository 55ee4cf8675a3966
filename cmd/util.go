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
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/exascience/elsort/archive"
	"github.com/exascience/elsort/internal"
	"github.com/exascience/elsort/utils"
)

// ProgramMessage is the first line printed when the elsort binary is
// called.
var ProgramMessage string

func init() {
	ProgramMessage = fmt.Sprint(
		"\n", utils.ProgramName, " version ", utils.ProgramVersion,
		" compiled with ", runtime.Version(),
		" - see ", utils.ProgramURL, " for more information.\n",
	)
}

// HelpMessage is printed to show the --help flag
const HelpMessage = "Print command details:\n" +
	"[--help]\n"

func getFilename(s, help string) string {
	switch s {
	case "-h", "--h", "-help", "--help":
		fmt.Fprint(os.Stderr, help)
		os.Exit(0)
	default:
		if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "--") {
			log.Println("Filename(s) in command line missing.")
			fmt.Fprint(os.Stderr, help)
			os.Exit(1)
		}
	}
	return s
}

func parseFlags(flags flag.FlagSet, requiredArgs int, help string) {
	if len(os.Args) < requiredArgs {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	flags.SetOutput(io.Discard)
	if err := flags.Parse(os.Args[requiredArgs:]); err != nil {
		x := 0
		if err != flag.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			x = 1
		}
		fmt.Fprint(os.Stderr, help)
		os.Exit(x)
	}
	if flags.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Cannot parse remaining parameters:", flags.Args())
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
}

func logCheckFile(parameter, format string, v ...interface{}) {
	if parameter != "" {
		log.Printf(format+" for command line parameter %v.\n", append(v, parameter)...)
	} else {
		log.Printf(format+".\n", v...)
	}
}

func checkFilename(parameter, filename string) bool {
	switch {
	case filename == "":
		logCheckFile(parameter, "Error: Missing filename")
	case filename[0] == '-':
		logCheckFile(parameter, "Error: Missing filename before %v", filename)
	default:
		return true
	}
	return false
}

func checkExist(parameter, filename string) bool {
	if !checkFilename(parameter, filename) {
		return false
	}
	_, err := os.Stat(filename)
	switch {
	case err == nil:
		return true
	case os.IsNotExist(err):
		logCheckFile(parameter, "Error: File %v does not exist", filename)
	case os.IsPermission(err):
		logCheckFile(parameter, "Error: No permission to read file %v", filename)
	default:
		logCheckFile(parameter, "Error %v when trying to access file %v", err, filename)
	}
	return false
}

// checkInputArchive checks that the .entries and .header files of an
// archive exist.
func checkInputArchive(parameter, basename string) bool {
	if !checkFilename(parameter, basename) {
		return false
	}
	ok := checkExist(parameter, basename+archive.EntriesExtension)
	return checkExist(parameter, basename+archive.HeaderExtension) && ok
}

// checkCreate checks that a file can be created, without leaving it
// behind. Existing files are assumed to stem from earlier elsort runs.
func checkCreate(parameter, filename string) bool {
	if !checkFilename(parameter, filename) {
		return false
	}
	if _, err := os.Stat(filename); err == nil {
		return true
	}
	err := os.MkdirAll(filepath.Dir(filename), 0700)
	if err == nil {
		err = os.WriteFile(filename, nil, 0666)
	}
	if err != nil {
		if os.IsPermission(err) {
			logCheckFile(parameter, "Error: No permission to create file %v", filename)
		} else {
			logCheckFile(parameter, "Error %v when trying to create file %v", err, filename)
		}
		return false
	}
	_ = os.Remove(filename)
	return true
}

// checkOutputArchive checks that an archive can be written, and that it
// is not the same archive as the input.
func checkOutputArchive(parameter, basename, input string) bool {
	if !checkCreate(parameter, basename+archive.EntriesExtension) {
		return false
	}
	if basename == input {
		logCheckFile(parameter, "Error: Archive %v is both input and output", basename)
		return false
	}
	return true
}

// parseThreads accepts a number of threads or "auto".
func parseThreads(s string) (int, bool) {
	if strings.EqualFold(s, "auto") {
		return -1, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		log.Printf("Error: Invalid number of threads %v.\n", s)
		return 0, false
	}
	return n, true
}

func createLogFilename() string {
	t := time.Now()
	zone, _ := t.Zone()
	return fmt.Sprintf("logs/elsort/elsort-%d-%02d-%02d-%02d-%02d-%02d-%09d-%v.log", t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), zone)
}

func setLogOutput(path string) {
	logPath := createLogFilename()
	var fullPath string
	if path == "" {
		fullPath = filepath.Join(os.Getenv("HOME"), logPath)
	} else {
		fullPath = filepath.Join(path, logPath)
	}
	internal.MkdirAll(filepath.Dir(fullPath), 0700)
	f := internal.FileCreate(fullPath)
	fmt.Fprintln(f, ProgramMessage)

	orgStderr, err := unix.Dup(2)
	if err != nil {
		log.Panic(err)
	}
	ferr := os.NewFile(uintptr(orgStderr), "/dev/stderr")
	if err := unix.Dup2(int(f.Fd()), 2); err != nil {
		log.Panic(err)
	}

	multi := io.MultiWriter(f, ferr)

	log.SetOutput(multi)
	log.Println("Created log file at", fullPath)
	log.Println("Command line:", os.Args)
}

func timedRun(timed bool, profile, msg string, phase int64, f func() error) error {
	if profile != "" {
		filename := profile + strconv.FormatInt(phase, 10) + ".prof"
		file := internal.FileCreate(filename)
		defer internal.Close(file)
		if err := pprof.StartCPUProfile(file); err != nil {
			log.Panic(err)
		}
		defer pprof.StopCPUProfile()
	}
	if timed {
		log.Println(msg)
		start := time.Now()
		defer func() {
			end := time.Now()
			log.Println("Elapsed time: ", end.Sub(start))
		}()
	}
	return f()
}
