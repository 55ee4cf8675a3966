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

import "testing"

func TestParseSize(t *testing.T) {
	for s, expected := range map[string]int64{
		"":        0,
		"auto":    0,
		"Auto":    0,
		"1000000": 1000000,
		" 42 ":    42,
		"512MiB":  512 << 20,
		"2GB":     2000000000,
		"64 KiB":  64 << 10,
	} {
		if n, err := ParseSize(s); err != nil || n != expected {
			t.Errorf("ParseSize %q failed: %v, %v", s, n, err)
		}
	}
	for _, s := range []string{"-1", "lots", "12XB"} {
		if _, err := ParseSize(s); err == nil {
			t.Errorf("ParseSize %q accepted", s)
		}
	}
}

func TestResources(t *testing.T) {
	if AvailableMemory() == 0 {
		t.Error("AvailableMemory failed")
	}
	limit, err := EnsureFileLimit(16)
	if err != nil {
		t.Fatal(err)
	}
	if limit < 16 {
		t.Errorf("EnsureFileLimit failed: %v", limit)
	}
}
