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
	"fmt"

	"github.com/exascience/pargo/parallel"

	"github.com/exascience/elsort/archive"
)

// sortSplit submits a job that sorts the entries of a split with a
// single range into the split's temporary archive. The job of the
// first split also writes the too-many-hits table of the output.
func (c *runContext) sortSplit(split *Split, firstPass bool) {
	c.running.Add(1)
	c.exec.submit(func(worker int) {
		defer c.recoverJob(worker, "sorting split "+split.String())
		if err := c.sortSplitJob(worker, split, firstPass); err != nil {
			c.fail(worker, fmt.Errorf("%w, while sorting split %v", err, split))
			return
		}
		c.sortedSplits.Push(split)
	})
}

func (c *runContext) sortSplitJob(worker int, split *Split, firstPass bool) (err error) {
	if len(split.Ranges) != 1 {
		return fmt.Errorf("split to sort has %v ranges", len(split.Ranges))
	}
	r := split.Ranges[0]
	c.logf(worker, "Sorting %v\n", split)
	reader, err := archive.OpenRange(c.opts.Input, r.Min, r.Max)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := reader.Close(); err == nil {
			err = cerr
		}
	}()
	c.logf(worker, "Loading entries...\n")
	entries, err := reader.LoadEntries()
	if err != nil {
		return err
	}
	c.logf(worker, "Sorting %v entries...\n", len(entries))
	var tmhErr error
	parallel.Do(
		func() { archive.SortEntries(entries) },
		func() {
			if firstPass {
				c.logf(worker, "Writing too-many-hits table\n")
				tmhErr = archive.MaterializeTooManyHits(c.opts.Output, reader.NumberOfQueries(), c.opts.Input)
			}
		},
	)
	if tmhErr != nil {
		return tmhErr
	}
	c.logf(worker, "Writing sorted archive...\n")
	writer, err := archive.Create(c.basename(split), c.opts.TempCompression)
	if err != nil {
		return err
	}
	writer.EntriesPerChunk = c.opts.EntriesPerChunk
	copyHeader(writer, reader.Header())
	writer.SetStatistics(reader.Statistics())
	writer.SetSorted(true)
	for i := range entries {
		if err := writer.Append(&entries[i]); err != nil {
			_ = writer.Close()
			return err
		}
	}
	return writer.Close()
}

func copyHeader(writer *archive.Writer, hdr *archive.Header) {
	writer.SetTargetIdentifiers(hdr.TargetIdentifiers)
	writer.SetTargetLengths(hdr.TargetLengths)
	writer.SetNumberOfQueries(hdr.NumberOfQueries)
	writer.SetAligner(hdr.AlignerName, hdr.AlignerVersion)
}
