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
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type job func(worker int)

// executor runs jobs on a fixed number of worker goroutines, in the
// order in which they are submitted. Submit never blocks. An executor
// with 0 workers runs each job on the submitting goroutine.
//
// Jobs record their own errors in the run context, so the errgroup
// only starts the workers and waits for them; its error is always nil.
type executor struct {
	workers int
	mutex   sync.Mutex
	cond    *sync.Cond
	jobs    []job
	closed  bool
	group   errgroup.Group
	done    chan struct{}
}

func newExecutor(workers int) *executor {
	e := &executor{workers: workers, done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mutex)
	for w := 1; w <= workers; w++ {
		worker := w
		e.group.Go(func() error {
			e.work(worker)
			return nil
		})
	}
	go func() {
		_ = e.group.Wait()
		close(e.done)
	}()
	return e
}

func (e *executor) next() (job, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	for len(e.jobs) == 0 && !e.closed {
		e.cond.Wait()
	}
	if len(e.jobs) == 0 {
		return nil, false
	}
	j := e.jobs[0]
	e.jobs[0] = nil
	e.jobs = e.jobs[1:]
	return j, true
}

func (e *executor) work(worker int) {
	for {
		j, ok := e.next()
		if !ok {
			return
		}
		j(worker)
	}
}

// submit queues a job, or runs it right away when there are no
// workers. Jobs submitted after shutdown are dropped.
func (e *executor) submit(j job) bool {
	if e.workers == 0 {
		j(0)
		return true
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.closed {
		return false
	}
	e.jobs = append(e.jobs, j)
	e.cond.Signal()
	return true
}

// shutdown stops accepting jobs. Queued jobs still run.
func (e *executor) shutdown() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.closed = true
	e.cond.Broadcast()
}

// awaitTermination waits for all workers to finish, or for the timeout
// to pass. It reports whether all workers finished.
func (e *executor) awaitTermination(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.done:
		return true
	case <-timer.C:
		return false
	}
}
