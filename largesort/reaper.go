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
	"log"
	"os"
	"sync"

	"github.com/exascience/elsort/archive"
)

// reaper deletes the temporary archives that were consumed by a
// merge. Files that cannot be deleted are kept for later passes.
type reaper struct {
	mutex   sync.Mutex
	failed  []string
	retries int
}

func newReaper(retries int) *reaper {
	return &reaper{retries: retries}
}

func (r *reaper) reap(basename string) {
	failed, err := archive.Remove(basename)
	if len(failed) == 0 {
		return
	}
	log.Printf("Warning: %v, will try again later.\n", err)
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.failed = append(r.failed, failed...)
}

// retry makes the configured number of passes over the files that
// could not be deleted, and returns the files that are still left.
func (r *reaper) retry() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for pass := 0; pass < r.retries && len(r.failed) > 0; pass++ {
		var left []string
		for _, filename := range r.failed {
			if err := os.Remove(filename); err != nil && !errors.Is(err, os.ErrNotExist) {
				left = append(left, filename)
			}
		}
		r.failed = left
	}
	for _, filename := range r.failed {
		log.Printf("Warning: Could not delete temporary file %v.\n", filename)
	}
	return append([]string(nil), r.failed...)
}
