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
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// errorList collects the errors of concurrent jobs.
type errorList struct {
	mutex sync.Mutex
	errs  []error
}

func (l *errorList) add(err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorList) empty() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.errs) == 0
}

func (l *errorList) join() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return errors.Join(l.errs...)
}

// runContext is the state that the scheduler shares with the sort and
// merge jobs of one run.
type runContext struct {
	opts     *Options
	fileSize int64

	// splits whose job finished, not yet seen by the scheduler
	sortedSplits queue[*Split]
	// splits the scheduler can select for merging
	splitsToMerge queue[*Split]

	pending        atomic.Int64
	running        atomic.Int64
	mergesExecuted atomic.Int64

	errs   errorList
	reaper *reaper
	exec   *executor
}

func newRunContext(opts *Options, fileSize int64) *runContext {
	return &runContext{
		opts:     opts,
		fileSize: fileSize,
		reaper:   newReaper(opts.DeletionRetries),
	}
}

func (c *runContext) basename(split *Split) string {
	return split.Basename(c.opts.TempDir)
}

func (c *runContext) logf(worker int, format string, v ...interface{}) {
	if c.opts.Verbose {
		log.Printf("[w%02d] "+format, append([]interface{}{worker}, v...)...)
	}
}

func (c *runContext) fail(worker int, err error) {
	log.Printf("[w%02d] Error: %v\n", worker, err)
	c.errs.add(err)
}

// recoverJob records a panic in a job as an error, together with the
// stack of the panicking goroutine.
func (c *runContext) recoverJob(worker int, what string) {
	if x := recover(); x != nil {
		c.fail(worker, fmt.Errorf("panic while %v: %v\n%s", what, x, debug.Stack()))
	}
}

// drain moves the splits of finished jobs to the splits that can be
// merged.
func (c *runContext) drain() {
	for {
		split, ok := c.sortedSplits.Poll()
		if !ok {
			return
		}
		c.splitsToMerge.Push(split)
		c.running.Add(-1)
		c.pending.Add(1)
	}
}

// take removes n splits from the splits that can be merged.
func (c *runContext) take(n int) []*Split {
	batch := c.splitsToMerge.PollN(n)
	c.pending.Add(-int64(len(batch)))
	return batch
}
