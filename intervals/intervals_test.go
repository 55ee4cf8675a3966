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

package intervals

import (
	"math/rand"
	"testing"
)

func rangesEqual(ranges1, ranges2 []Range) bool {
	if len(ranges1) != len(ranges2) {
		return false
	}
	for i, range1 := range ranges1 {
		if range1 != ranges2[i] {
			return false
		}
	}
	return true
}

func makeLargeRangesSlice() (result []Range) {
	result = make([]Range, 0x3000)
	result[0].Min = 0
	result[0].Max = 3
	for i := 1; i < len(result); i++ {
		if rand.Intn(100) < 20 {
			result[i].Min = result[i-1].Max + 1
		} else {
			result[i].Min = result[i-1].Max + 3
		}
		result[i].Max = result[i].Min + 3
	}
	return result
}

func TestFlatten(t *testing.T) {
	if Flatten(nil) != nil {
		t.Error("empty Flatten failed")
	}
	if !rangesEqual(Flatten([]Range{{2, 3}, {3, 4}}), []Range{{2, 4}}) {
		t.Error("Flatten 1 failed")
	}
	if !rangesEqual(Flatten([]Range{{2, 3}, {4, 5}}), []Range{{2, 5}}) {
		t.Error("Flatten 2 failed")
	}
	if !rangesEqual(Flatten([]Range{{2, 3}, {5, 6}}), []Range{{2, 3}, {5, 6}}) {
		t.Error("Flatten 3 failed")
	}
	if !rangesEqual(Flatten([]Range{{2, 4}, {3, 5}, {4, 6}, {8, 9}}), []Range{{2, 6}, {8, 9}}) {
		t.Error("Flatten 4 failed")
	}
	if !rangesEqual(Flatten([]Range{{0, 9}, {10, 19}, {25, 29}, {30, 39}}), []Range{{0, 19}, {25, 39}}) {
		t.Error("Flatten 5 failed")
	}
	ranges := Flatten(makeLargeRangesSlice())
	for i := 1; i < len(ranges); i++ {
		r := ranges[i]
		if r.Min > r.Max || r.Min <= ranges[i-1].Max+1 {
			t.Error("Flatten 6 failed")
		}
	}
}

func TestCoalesce(t *testing.T) {
	if Coalesce() != nil {
		t.Error("empty Coalesce failed")
	}
	a := []Range{{20, 29}}
	b := []Range{{0, 9}, {40, 49}}
	c := []Range{{10, 19}}
	result := Coalesce(a, b, c)
	if !rangesEqual(result, []Range{{0, 29}, {40, 49}}) {
		t.Errorf("Coalesce 1 failed: %v", Format(result))
	}
	if !rangesEqual(a, []Range{{20, 29}}) || !rangesEqual(b, []Range{{0, 9}, {40, 49}}) {
		t.Error("Coalesce 2 failed: arguments modified")
	}
	if !Covers(Coalesce(result, []Range{{30, 39}}), 0, 49) {
		t.Error("Coalesce 3 failed")
	}
	large := makeLargeRangesSlice()
	rand.Shuffle(len(large), func(i, j int) { large[i], large[j] = large[j], large[i] })
	sorted := append([]Range(nil), large...)
	SortByMin(sorted)
	if !rangesEqual(Coalesce(large), Flatten(sorted)) {
		t.Error("Coalesce 4 failed")
	}
}

func TestOverlapping(t *testing.T) {
	if _, _, ok := Overlapping([]Range{{0, 9}}, []Range{{10, 19}}); ok {
		t.Error("Overlapping 1 failed")
	}
	r1, r2, ok := Overlapping([]Range{{0, 9}, {20, 29}}, []Range{{9, 15}})
	if !ok || r1 != (Range{0, 9}) || r2 != (Range{9, 15}) {
		t.Error("Overlapping 2 failed")
	}
	if _, _, ok := Overlapping(); ok {
		t.Error("empty Overlapping failed")
	}
}

func TestCovers(t *testing.T) {
	if Covers(nil, 0, 9) {
		t.Error("empty Covers failed")
	}
	if !Covers([]Range{{0, 9}}, 0, 9) {
		t.Error("Covers 1 failed")
	}
	if Covers([]Range{{0, 4}, {6, 9}}, 0, 9) {
		t.Error("Covers 2 failed")
	}
	if Covers([]Range{{1, 9}}, 0, 9) {
		t.Error("Covers 3 failed")
	}
}

func TestTotalAndFormat(t *testing.T) {
	ranges := []Range{{0, 9}, {20, 24}}
	if Total(ranges) != 15 {
		t.Error("Total failed")
	}
	if Format(ranges) != "[0,9] [20,24]" {
		t.Errorf("Format failed: %v", Format(ranges))
	}
}

func BenchmarkCoalesce(b *testing.B) {
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		ranges := makeLargeRangesSlice()
		b.StartTimer()
		_ = Coalesce(ranges)
	}
}
