// Copyright 2026 showmap project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log provides functionality similar to standard log package
// with some extensions:
//   - verbosity levels
//   - ability to suppress all informational output (quiet mode)
//
// Informational output goes to stderr so that the tuple report on
// stdout stays machine consumable.
package log

import (
	"flag"
	"fmt"
	"io"
	"os"
)

var (
	flagV = flag.Int("vv", 0, "verbosity")
	quiet bool
	out   io.Writer = os.Stderr // for testing
)

// SetQuiet suppresses all informational output, whatever the verbosity.
func SetQuiet(v bool) {
	quiet = v
}

func Logf(v int, msg string, args ...interface{}) {
	if quiet || v > *flagV {
		return
	}
	fmt.Fprintf(out, msg+"\n", args...)
}
