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

package archive

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/exascience/elsort/internal"
)

// File extensions of the components of an archive.
const (
	EntriesExtension     = ".entries"
	HeaderExtension      = ".header"
	IndexExtension       = ".index"
	StatsExtension       = ".stats"
	TooManyHitsExtension = ".tmh"
)

// Extensions lists the extensions of the files that together form a
// sorted archive. The too-many-hits table is not included.
var Extensions = []string{EntriesExtension, HeaderExtension, IndexExtension, StatsExtension}

// Basename strips a known archive extension from a filename.
func Basename(filename string) string {
	for _, ext := range [...]string{EntriesExtension, HeaderExtension, IndexExtension, StatsExtension, TooManyHitsExtension} {
		if strings.HasSuffix(filename, ext) {
			return strings.TrimSuffix(filename, ext)
		}
	}
	return filename
}

// Files returns the names of the files of the archive with the given
// basename.
func Files(basename string) []string {
	files := make([]string, len(Extensions))
	for i, ext := range Extensions {
		files[i] = basename + ext
	}
	return files
}

// Exists checks whether the .entries file of an archive exists.
func Exists(basename string) (bool, error) {
	return internal.FileExists(basename + EntriesExtension)
}

// EntriesSize returns the size in bytes of the .entries file of an
// archive.
func EntriesSize(basename string) (int64, error) {
	info, err := os.Stat(basename + EntriesExtension)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes the files of an archive. Files that do not exist are
// ignored. It returns the names of the files that could not be
// deleted, together with the corresponding errors.
func Remove(basename string) (failed []string, err error) {
	var errs []error
	for _, filename := range Files(basename) {
		if rerr := os.Remove(filename); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			failed = append(failed, filename)
			errs = append(errs, rerr)
		}
	}
	return failed, errors.Join(errs...)
}

// Move renames the files of an archive to a new basename, copying
// them when the destination is on a different file system.
func Move(from, to string) error {
	for _, ext := range Extensions {
		if ok, err := internal.FileExists(from + ext); err != nil {
			return err
		} else if !ok {
			continue
		}
		if err := internal.MoveFile(from+ext, to+ext); err != nil {
			return fmt.Errorf("%w, while moving %v to %v", err, from+ext, to+ext)
		}
	}
	return nil
}
