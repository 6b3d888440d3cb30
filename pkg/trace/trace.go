// Copyright 2026 showmap project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package trace operates on the coverage bitmap shared with an
// instrumented target: hit count classification, set bit counting
// and tuple report rendering.
package trace

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
)

// MapSize is the size of the coverage bitmap. One byte per edge,
// the value is a saturating hit count. The instrumentation runtime
// is compiled with the same constant, so it cannot be changed
// independently.
const MapSize = 1 << 16

// countClasses maps raw hit count ranges to power-of-two buckets.
// The exact boundaries are a public contract: downstream tools compare
// coverage maps bucket by bucket, so any change here breaks them.
var countClasses = []struct {
	lo, hi int
	bucket byte
}{
	{0, 0, 0},
	{1, 1, 1},
	{2, 2, 2},
	{3, 3, 1 << 2},
	{4, 7, 1 << 3},
	{8, 15, 1 << 4},
	{16, 31, 1 << 5},
	{32, 127, 1 << 6},
	{128, 255, 1 << 7},
}

var classLookup [256]byte

func init() {
	for _, class := range countClasses {
		for v := class.lo; v <= class.hi; v++ {
			classLookup[v] = class.bucket
		}
	}
}

// Classify returns the bucket for a single raw hit count.
func Classify(v byte) byte {
	return classLookup[v]
}

// ClassifyCounts replaces every raw hit count in the bitmap with its
// bucket, in place.
func ClassifyCounts(bitmap []byte) {
	for i, v := range bitmap {
		bitmap[i] = classLookup[v]
	}
}

// CountBits returns the total number of set bits in the bitmap.
// A zero result after an execution means the target never wrote to the
// map, i.e. it is not instrumented.
func CountBits(bitmap []byte) int {
	n := 0
	words := len(bitmap) &^ 7
	for i := 0; i < words; i += 8 {
		n += bits.OnesCount64(binary.LittleEndian.Uint64(bitmap[i:]))
	}
	for _, v := range bitmap[words:] {
		n += bits.OnesCount8(v)
	}
	return n
}

// WriteTuples writes one "<index>/<value>" line per non-zero bitmap
// entry, in ascending index order.
func WriteTuples(w io.Writer, bitmap []byte) error {
	bw := bufio.NewWriter(w)
	for i, v := range bitmap {
		if v == 0 {
			continue
		}
		fmt.Fprintf(bw, "%05d/%d\n", i, v)
	}
	return bw.Flush()
}
