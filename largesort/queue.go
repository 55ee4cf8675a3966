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

import "sync"

// queue is a FIFO that is safe for concurrent use.
type queue[T any] struct {
	mutex sync.Mutex
	items []T
}

func (q *queue[T]) Push(item T) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.items = append(q.items, item)
}

// Poll removes and returns the first item, if any.
func (q *queue[T]) Poll() (item T, ok bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// PollN removes and returns up to n items from the front.
func (q *queue[T]) PollN(n int) []T {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	n = min(n, len(q.items))
	result := make([]T, n)
	copy(result, q.items)
	var zero T
	for i := 0; i < n; i++ {
		q.items[i] = zero
	}
	q.items = q.items[n:]
	return result
}

// Snapshot returns a copy of the current items.
func (q *queue[T]) Snapshot() []T {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return append([]T(nil), q.items...)
}

func (q *queue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}
