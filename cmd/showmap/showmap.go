// Copyright 2026 showmap project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

// showmap runs a binary compiled with afl instrumentation once and
// prints all recorded coverage tuples in a human-readable form, one
// "<index>/<bucketed count>" line per touched bitmap entry. Useful in
// scripts to eliminate redundant inputs and perform other checks.
//
// Usage:
//
//	showmap /path/to/traced_app [ args... ]
//
// Set AFL_SINK_OUTPUT=1 to sink all output from the executed program,
// or AFL_QUIET=1 to suppress non-fatal messages from this tool.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/afltools/showmap/pkg/forksrv"
	"github.com/afltools/showmap/pkg/log"
	"github.com/afltools/showmap/pkg/osutil"
	"github.com/afltools/showmap/pkg/tool"
	"github.com/afltools/showmap/pkg/trace"
)

func main() {
	flag.Usage = usage
	flag.Parse()
	if os.Getenv("AFL_QUIET") != "" {
		log.SetQuiet(true)
	}
	log.Logf(0, "showmap: coverage tuple dump")
	args := flag.Args()
	if len(args) == 0 {
		usage()
		tool.Exit(1)
	}
	sink := os.Getenv("AFL_SINK_OUTPUT") != ""

	shmID, bitmap, err := osutil.CreateSysvShm(trace.MapSize)
	if err != nil {
		tool.Fail(err)
	}
	tool.AtExit(func() {
		osutil.RemoveSysvShm(shmID, bitmap)
	})
	os.Setenv(forksrv.ShmEnvVar, strconv.Itoa(shmID))

	if !sink {
		log.Logf(0, "-- Program output begins --")
	}
	res, err := forksrv.Run(&forksrv.Config{Args: args, SinkOutput: sink})
	if err != nil {
		tool.Fail(err)
	}
	if !sink {
		log.Logf(0, "-- Program output ends --")
	}
	if sig, ok := res.Signaled(); ok {
		log.Logf(0, "+++ Killed by signal %d +++", sig)
	}

	if trace.CountBits(bitmap) == 0 {
		tool.Failf("no instrumentation data recorded")
	}
	log.Logf(0, "\nTuples recorded:\n")
	trace.ClassifyCounts(bitmap)
	if err := trace.WriteTuples(os.Stdout, bitmap); err != nil {
		tool.Fail(err)
	}
	tool.Exit(0)
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: showmap /path/to/traced_app [ args... ]

Shows all instrumentation tuples recorded when executing a binary built
with afl instrumentation. You can set AFL_SINK_OUTPUT=1 to sink all
output from the executed program, or AFL_QUIET=1 to suppress non-fatal
messages from this tool.
`)
}
