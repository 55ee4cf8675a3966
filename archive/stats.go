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
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Keys of the statistics maintained by the Writer.
const (
	StatNumberOfEntries = "number.entries"
	StatEntriesDigest   = "entries.blake3"
	StatBasename        = "basename"
	StatBasenameFull    = "basename.full"
	StatMinQueryIndex   = "min.query.index"
	StatMaxQueryIndex   = "max.query.index"
)

// ReadStatistics reads the key=value pairs of the .stats file of an
// archive. A missing .stats file yields an empty map.
func ReadStatistics(basename string) (map[string]string, error) {
	filename := basename + StatsExtension
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	} else if err != nil {
		return nil, err
	}
	statistics := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("%w: missing = in line %v, while reading %v", ErrFormat, line, filename)
		}
		statistics[key] = value
	}
	return statistics, scanner.Err()
}

// WriteStatistics writes key=value pairs to the .stats file of an
// archive, sorted by key.
func WriteStatistics(basename string, statistics map[string]string) error {
	keys := make([]string, 0, len(statistics))
	for key := range statistics {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, key := range keys {
		buf.WriteString(key)
		buf.WriteByte('=')
		buf.WriteString(statistics[key])
		buf.WriteByte('\n')
	}
	return os.WriteFile(basename+StatsExtension, buf.Bytes(), 0666)
}
