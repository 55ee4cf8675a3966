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

package utils

import (
	"math"
	"runtime/debug"

	"golang.org/x/sys/unix"
)

// AvailableMemory estimates the number of bytes of memory the process
// can use: free and buffer memory as reported by the kernel, capped by
// the Go memory limit, if one is set.
func AvailableMemory() uint64 {
	var info unix.Sysinfo_t
	var available uint64
	if err := unix.Sysinfo(&info); err == nil {
		unit := uint64(info.Unit)
		if unit == 0 {
			unit = 1
		}
		available = (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	}
	if available == 0 {
		available = defaultAvailableMemory
	}
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		available = min(available, uint64(limit))
	}
	return available
}
