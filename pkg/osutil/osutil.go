// Copyright 2026 showmap project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package osutil isolates the low-level OS machinery the fork server
// protocol needs: process spawning, descriptor limits and the SysV
// shared memory segment that carries the coverage bitmap.
package osutil

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// Command is similar to os/exec.Command, but also sets PDEATHSIG
// so that the spawned process does not outlive us.
func Command(bin string, args ...string) *exec.Cmd {
	cmd := exec.Command(bin, args...)
	setPdeathsig(cmd)
	return cmd
}

// EnsureNofile raises the soft RLIMIT_NOFILE to at least n, best
// effort. The limit is inherited across fork/exec, so raising it before
// spawning covers the child's fixed protocol descriptors as well.
func EnsureNofile(n uint64) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil || lim.Cur >= n {
		return
	}
	lim.Cur = n
	if lim.Cur > lim.Max {
		lim.Cur = lim.Max
	}
	unix.Setrlimit(unix.RLIMIT_NOFILE, &lim)
}
