// Copyright 2026 showmap project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tool contains helpers for command line tools: fatal error
// reporting and cleanups that run on every exit path. Components never
// terminate the process themselves, they return errors up to the top
// level, which keeps the cleanup ordering correct on fatal paths.
package tool

import (
	"fmt"
	"os"
)

var atExit []func()

// AtExit registers f to run on process termination through Exit/Failf,
// including fatal error paths. Handlers run in reverse registration
// order.
func AtExit(f func()) {
	atExit = append(atExit, f)
}

// Exit runs the registered handlers and terminates the process.
func Exit(code int) {
	runAtExit()
	os.Exit(code)
}

func runAtExit() {
	for i := len(atExit) - 1; i >= 0; i-- {
		atExit[i]()
	}
	atExit = nil
}

func Failf(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	Exit(1)
}

func Fail(err error) {
	Failf("%v", err)
}
