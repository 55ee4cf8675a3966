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
	"io"
	"path/filepath"

	"github.com/exascience/elsort/archive"
)

// MergeSorted merges sorted archives into a new sorted archive, and
// returns the number of entries written. The output carries the
// header of the first input, and the given statistics, or else those
// of the first input.
func MergeSorted(inputs []string, output string, level, entriesPerChunk int, statistics map[string]string) (n int64, err error) {
	m, err := archive.NewMergeReader(inputs...)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := m.Close(); err == nil {
			err = cerr
		}
	}()
	writer, err := archive.Create(output, level)
	if err != nil {
		return 0, err
	}
	if entriesPerChunk > 0 {
		writer.EntriesPerChunk = entriesPerChunk
	}
	copyHeader(writer, m.Readers()[0].Header())
	writer.SetTargetLengths(m.TargetLengths())
	writer.SetNumberOfQueries(m.NumberOfQueries())
	if statistics == nil {
		statistics = m.Readers()[0].Statistics()
	}
	writer.SetStatistics(statistics)
	writer.SetSorted(true)
	for {
		e, err := m.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			_ = writer.Close()
			return writer.NumberOfEntries(), err
		}
		if err := writer.Append(e); err != nil {
			_ = writer.Close()
			return writer.NumberOfEntries(), err
		}
	}
	return writer.NumberOfEntries(), writer.Close()
}

// mergeSplits submits a job that merges a batch of splits. The final
// merge writes the output archive, other merges write a temporary
// archive. The temporary archives of the batch are deleted once the
// merge succeeds.
func (c *runContext) mergeSplits(batch []*Split, final bool) {
	c.running.Add(1)
	c.exec.submit(func(worker int) {
		defer c.recoverJob(worker, "merging splits "+formatSplits(batch))
		merged, err := c.mergeSplitsJob(worker, batch, final)
		if err != nil {
			c.fail(worker, fmt.Errorf("%w, while merging splits %v", err, formatSplits(batch)))
			return
		}
		c.mergesExecuted.Add(1)
		for _, split := range batch {
			c.reaper.reap(c.basename(split))
		}
		c.sortedSplits.Push(merged)
	})
}

func (c *runContext) mergeSplitsJob(worker int, batch []*Split, final bool) (*Split, error) {
	inputs := append([]*Split(nil), batch...)
	sortByFirstRange(inputs)
	merged := mergedSplit(inputs)
	basenames := make([]string, len(inputs))
	for i, split := range inputs {
		basenames[i] = c.basename(split)
	}
	output, level := c.basename(merged), c.opts.TempCompression
	if final {
		output, level = c.opts.Output, c.opts.OutputCompression
	}
	c.logf(worker, "Merging %v items %v to %v\n", len(inputs), formatSplits(inputs), merged)
	if c.opts.beforeMerge != nil {
		c.opts.beforeMerge(basenames)
	}
	n, err := MergeSorted(basenames, output, level, c.opts.EntriesPerChunk, nil)
	if err != nil {
		return nil, err
	}
	c.logf(worker, "Merged %v entries into %v\n", n, filepath.Base(output))
	return merged, nil
}
