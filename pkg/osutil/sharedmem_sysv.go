// Copyright 2026 showmap project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package osutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// The instrumentation runtime embedded in the target attaches to the
// coverage bitmap by SysV shm id, so we have to use SysV shared memory
// here rather than a memfd.

// CreateSysvShm allocates a private SysV shared memory segment of the
// given size and attaches it to this process. The segment is owned by
// the caller for destruction purposes: it persists until RemoveSysvShm,
// so the caller must arrange for removal on every exit path.
func CreateSysvShm(size int) (id int, mem []byte, err error) {
	id, err = unix.SysvShmGet(unix.IPC_PRIVATE, size, unix.IPC_CREAT|unix.IPC_EXCL|0o600)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create shm segment: %w", err)
	}
	mem, err = unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return 0, nil, fmt.Errorf("failed to attach shm segment: %w", err)
	}
	return id, mem, nil
}

// RemoveSysvShm detaches mem and marks the segment for destruction.
func RemoveSysvShm(id int, mem []byte) error {
	var err1 error
	if mem != nil {
		err1 = unix.SysvShmDetach(mem)
	}
	_, err2 := unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	switch {
	case err1 != nil:
		return err1
	case err2 != nil:
		return err2
	default:
		return nil
	}
}
