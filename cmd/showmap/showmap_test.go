// Copyright 2026 showmap project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/afltools/showmap/pkg/forksrv"
)

// The tests re-exec the test binary twice: with SHOWMAP_CMD_MAIN set it
// runs the real main, and the target it is then given is the test
// binary once more, which with SHOWMAP_CMD_FORKSRV set acts as a fake
// fork server on the fixed descriptors.
func TestMain(m *testing.M) {
	switch {
	case os.Getenv("SHOWMAP_CMD_FORKSRV") != "":
		fakeForkServer()
		os.Exit(0)
	case os.Getenv("SHOWMAP_CMD_MAIN") != "":
		os.Unsetenv("SHOWMAP_CMD_MAIN")
		os.Setenv("SHOWMAP_CMD_FORKSRV", "1")
		main()
		os.Exit(0) // main exits itself, but be explicit
	}
	os.Exit(m.Run())
}

func fakeForkServer() {
	ctl := os.NewFile(uintptr(forksrv.CtrlFD), "ctl")
	st := os.NewFile(uintptr(forksrv.StatusFD), "status")
	var trigger [4]byte
	if _, err := io.ReadFull(ctl, trigger[:]); err != nil {
		panic(err)
	}
	if list := os.Getenv("SHOWMAP_CMD_TOUCH"); list != "" {
		id, err := strconv.Atoi(os.Getenv(forksrv.ShmEnvVar))
		if err != nil {
			panic(err)
		}
		mem, err := unix.SysvShmAttach(id, 0, 0)
		if err != nil {
			panic(err)
		}
		for _, ent := range strings.Split(list, ",") {
			idx, val, _ := strings.Cut(ent, ":")
			i, err1 := strconv.Atoi(idx)
			v, err2 := strconv.Atoi(val)
			if err1 != nil || err2 != nil {
				panic("bad touch list: " + list)
			}
			mem[i] = byte(v)
		}
		unix.SysvShmDetach(mem)
	}
	for _, w := range []uint32{0, uint32(os.Getpid()), 0} {
		var buf [4]byte
		binary.NativeEndian.PutUint32(buf[:], w)
		if _, err := st.Write(buf[:]); err != nil {
			panic(err)
		}
	}
}

// runShowmap re-execs the test binary as the showmap CLI and returns
// its exit code, stdout and stderr. withTarget passes the test binary
// itself as the traced app.
func runShowmap(t *testing.T, withTarget bool, extraEnv ...string) (int, string, string) {
	var args []string
	if withTarget {
		args = append(args, os.Args[0])
	}
	cmd := exec.Command(os.Args[0], args...)
	for _, kv := range os.Environ() {
		// Start from a clean tool environment.
		if strings.HasPrefix(kv, "AFL_") || strings.HasPrefix(kv, "SHOWMAP_CMD_") {
			continue
		}
		cmd.Env = append(cmd.Env, kv)
	}
	cmd.Env = append(cmd.Env, "SHOWMAP_CMD_MAIN=1")
	cmd.Env = append(cmd.Env, extraEnv...)
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	if _, ok := err.(*exec.ExitError); err != nil && !ok {
		t.Fatalf("failed to run showmap: %v", err)
	}
	// The shm segment must never outlive the run, whatever the exit
	// path: the atexit handler removes it before the process dies.
	require.Zero(t, shmSegmentsOwnedBy(t, cmd.Process.Pid))
	return cmd.ProcessState.ExitCode(), stdout.String(), stderr.String()
}

// shmSegmentsOwnedBy counts live SysV shm segments created by pid,
// the same view "ipcs -m" presents.
func shmSegmentsOwnedBy(t *testing.T, pid int) int {
	f, err := os.Open("/proc/sysvipc/shm")
	require.NoError(t, err)
	defer f.Close()
	n := 0
	s := bufio.NewScanner(f)
	s.Scan() // header
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) > 4 && fields[4] == strconv.Itoa(pid) {
			n++
		}
	}
	require.NoError(t, s.Err())
	return n
}

func TestUsageNoArgs(t *testing.T) {
	code, stdout, stderr := runShowmap(t, false)
	require.NotZero(t, code)
	require.Empty(t, stdout)
	require.Contains(t, stderr, "usage: showmap")
}

func TestReport(t *testing.T) {
	code, stdout, stderr := runShowmap(t, true, "SHOWMAP_CMD_TOUCH=10:1,20:5")
	require.Zero(t, code)
	// The report on stdout is exactly the classified tuples, banners
	// stay on stderr.
	require.Equal(t, "00010/1\n00020/8\n", stdout)
	require.Contains(t, stderr, "Tuples recorded")
}

func TestEmptyBitmapFatal(t *testing.T) {
	code, stdout, stderr := runShowmap(t, true)
	require.NotZero(t, code)
	require.Empty(t, stdout)
	require.Contains(t, stderr, "no instrumentation data recorded")
}

func TestQuiet(t *testing.T) {
	code, stdout, stderr := runShowmap(t, true,
		"SHOWMAP_CMD_TOUCH=10:1,20:5", "AFL_QUIET=1")
	require.Zero(t, code)
	require.Equal(t, "00010/1\n00020/8\n", stdout)
	require.NotContains(t, stderr, "Tuples recorded")
}
