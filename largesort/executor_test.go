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
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/exascience/elsort/archive"
)

func TestExecutor(t *testing.T) {
	for _, workers := range []int{0, 1, 4} {
		e := newExecutor(workers)
		var count atomic.Int64
		for i := 0; i < 100; i++ {
			if !e.submit(func(worker int) {
				if worker < 0 || worker > workers || (workers > 0 && worker == 0) {
					t.Errorf("invalid worker %v", worker)
				}
				count.Add(1)
			}) {
				t.Fatal("submit failed")
			}
		}
		e.shutdown()
		if !e.awaitTermination(10 * time.Second) {
			t.Fatalf("executor with %v workers did not terminate", workers)
		}
		if count.Load() != 100 {
			t.Errorf("executor with %v workers ran %v jobs", workers, count.Load())
		}
		if workers > 0 && e.submit(func(int) {}) {
			t.Error("submit after shutdown accepted")
		}
	}
}

func TestQueue(t *testing.T) {
	var q queue[int]
	if _, ok := q.Poll(); ok {
		t.Error("Poll on empty queue failed")
	}
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	if item, ok := q.Poll(); !ok || item != 0 {
		t.Error("Poll failed")
	}
	if items := q.PollN(2); len(items) != 2 || items[0] != 1 || items[1] != 2 {
		t.Errorf("PollN failed: %v", items)
	}
	if snapshot := q.Snapshot(); len(snapshot) != 2 || q.Len() != 2 {
		t.Errorf("Snapshot failed: %v", snapshot)
	}
	if items := q.PollN(10); len(items) != 2 || q.Len() != 0 {
		t.Errorf("PollN failed: %v", items)
	}
}

func TestReaper(t *testing.T) {
	dir := t.TempDir()
	basename := filepath.Join(dir, "sorted-x")
	for _, filename := range archive.Files(basename) {
		if err := os.WriteFile(filename, nil, 0666); err != nil {
			t.Fatal(err)
		}
	}
	// a non-empty directory cannot be removed
	stuck := filepath.Join(dir, "sorted-y")
	if err := os.MkdirAll(stuck+archive.StatsExtension, 0700); err != nil {
		t.Fatal(err)
	}
	blocker := filepath.Join(stuck+archive.StatsExtension, "blocker")
	if err := os.WriteFile(blocker, nil, 0666); err != nil {
		t.Fatal(err)
	}

	r := newReaper(1)
	r.reap(basename)
	r.reap(stuck)
	for _, filename := range archive.Files(basename) {
		if _, err := os.Stat(filename); !os.IsNotExist(err) {
			t.Errorf("%v not deleted", filename)
		}
	}
	if len(r.failed) != 1 {
		t.Fatalf("reaper recorded %v failures", len(r.failed))
	}
	if left := r.retry(); len(left) != 1 || left[0] != stuck+archive.StatsExtension {
		t.Errorf("retry failed: %v", left)
	}
	if err := os.Remove(blocker); err != nil {
		t.Fatal(err)
	}
	if left := r.retry(); len(left) != 0 {
		t.Errorf("retry failed: %v", left)
	}
	if _, err := os.Stat(stuck + archive.StatsExtension); !os.IsNotExist(err) {
		t.Error("retry did not delete the file")
	}
}
