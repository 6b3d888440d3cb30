// Copyright 2026 showmap project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

// Package forksrv implements the client side of the fork server
// protocol spoken by afl-instrumented binaries. The instrumented target
// embeds a fork server that blocks on a control pipe; any 4-byte write
// makes it fork one worker, and it reports back three 4-byte words on a
// status pipe: an acknowledgment, the worker pid and the worker's raw
// wait status. The pipe ends live on the fixed descriptors CtrlFD and
// StatusFD in the child, and the coverage shm id is passed through
// ShmEnvVar. All of that is a compiled-in contract with the
// instrumentation runtime and is not configurable.
package forksrv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/afltools/showmap/pkg/log"
	"github.com/afltools/showmap/pkg/osutil"
)

const (
	// ShmEnvVar is the environment variable through which the target's
	// instrumentation runtime finds the coverage shm segment.
	ShmEnvVar = "__AFL_SHM_ID"

	// CtrlFD is the descriptor the embedded fork server reads run
	// requests from; status words come back on CtrlFD+1.
	CtrlFD   = 198
	StatusFD = CtrlFD + 1
)

// ErrNoInstrumentation covers every handshake failure. We cannot tell
// a target built without fork server support from a fork server that
// died mid-handshake, so all protocol violations collapse into this
// one category. There is exactly one attempt, no retry.
var ErrNoInstrumentation = errors.New("no instrumentation detected or fork server fault")

type Config struct {
	// Target binary and its arguments, passed through unmodified.
	Args []string
	// SinkOutput redirects the target's stdout/stderr to /dev/null.
	SinkOutput bool
}

// Result describes the single worker execution performed by the fork
// server.
type Result struct {
	Pid    int
	Status unix.WaitStatus
}

// Signaled reports whether the worker was terminated by a signal,
// and which one.
func (r *Result) Signaled() (unix.Signal, bool) {
	if !r.Status.Signaled() {
		return 0, false
	}
	return r.Status.Signal(), true
}

type session struct {
	cmd  *exec.Cmd
	ctlw *os.File // control pipe, our write end
	strp *os.File // status pipe, our read end
}

// Run spawns the target's fork server and requests exactly one
// execution. The fork server itself is not reaped: closing our pipe
// ends at process exit breaks its blocking read and makes it exit on
// its own.
//
// The handshake has no timeout: a target that accepts the trigger but
// never completes its side of the protocol hangs us. Bounding the run
// time is the job of an external wrapper.
func Run(cfg *Config) (*Result, error) {
	s, err := start(cfg)
	if err != nil {
		return nil, err
	}
	defer s.close()
	return s.exec()
}

func start(cfg *Config) (*session, error) {
	if len(cfg.Args) == 0 {
		return nil, fmt.Errorf("no target binary")
	}
	ctlr, ctlw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	strp, stwp, err := os.Pipe()
	if err != nil {
		ctlr.Close()
		ctlw.Close()
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		ctlr.Close()
		ctlw.Close()
		strp.Close()
		stwp.Close()
		return nil, fmt.Errorf("failed to open %v: %w", os.DevNull, err)
	}

	// The descriptor limit is inherited, so raising it here covers the
	// child's fixed protocol descriptors.
	osutil.EnsureNofile(StatusFD + 1)

	cmd := osutil.Command(cfg.Args[0], cfg.Args[1:]...)
	cmd.Stdin = os.Stdin
	if cfg.SinkOutput {
		cmd.Stdout = devNull
		cmd.Stderr = devNull
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	// ExtraFiles[i] becomes descriptor 3+i in the child. Pad the slice
	// with the null device so that the control pipe read end lands
	// exactly on CtrlFD and the status pipe write end on StatusFD.
	extras := make([]*os.File, StatusFD+1-3)
	for i := range extras {
		extras[i] = devNull
	}
	extras[CtrlFD-3] = ctlr
	extras[StatusFD-3] = stwp
	cmd.ExtraFiles = extras

	if err := cmd.Start(); err != nil {
		ctlr.Close()
		ctlw.Close()
		strp.Close()
		stwp.Close()
		devNull.Close()
		return nil, fmt.Errorf("failed to execute %v: %w", cfg.Args[0], err)
	}
	// The child's copies are live now, drop ours.
	ctlr.Close()
	stwp.Close()
	devNull.Close()
	log.Logf(1, "fork server pid %v", cmd.Process.Pid)
	return &session{cmd: cmd, ctlw: ctlw, strp: strp}, nil
}

func (s *session) close() {
	// Closing our pipe ends breaks the fork server's blocking read and
	// makes it exit on its own. Reap it in the background so that
	// repeated use within one process does not accumulate zombies; a
	// fork server that ignores the closed pipes is not waited for.
	s.ctlw.Close()
	s.strp.Close()
	go s.cmd.Wait()
}

func (s *session) exec() (*Result, error) {
	// The trigger value is not interpreted by the fork server, any
	// 4 bytes request one run.
	var trigger [4]byte
	if _, err := s.ctlw.Write(trigger[:]); err != nil {
		return nil, protocolErr(err)
	}
	// Status words come in strict order: ack, worker pid, wait status.
	if _, err := readWord(s.strp); err != nil {
		return nil, protocolErr(err)
	}
	pid, err := readWord(s.strp)
	if err != nil || int32(pid) <= 0 {
		return nil, protocolErr(err)
	}
	status, err := readWord(s.strp)
	if err != nil {
		return nil, protocolErr(err)
	}
	log.Logf(1, "worker pid %v status 0x%x", int32(pid), status)
	return &Result{
		Pid:    int(int32(pid)),
		Status: unix.WaitStatus(status),
	}, nil
}

func protocolErr(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoInstrumentation, err)
	}
	return ErrNoInstrumentation
}

func readWord(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint32(buf[:]), nil
}
