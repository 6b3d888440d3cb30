// Copyright 2026 showmap project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package osutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSysvShm(t *testing.T) {
	const size = 4096
	id, mem, err := CreateSysvShm(size)
	require.NoError(t, err)
	require.Len(t, mem, size)
	mem[0] = 1
	mem[size-1] = 2

	// A second attach must observe the same memory.
	mem2, err := unix.SysvShmAttach(id, 0, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, mem2[0])
	require.EqualValues(t, 2, mem2[size-1])
	require.NoError(t, unix.SysvShmDetach(mem2))

	require.NoError(t, RemoveSysvShm(id, mem))
	// The segment is destroyed once the last attachment is gone,
	// so a fresh attach by id must fail.
	_, err = unix.SysvShmAttach(id, 0, 0)
	require.Error(t, err)
}

func TestSysvShmRemoveTwice(t *testing.T) {
	id, mem, err := CreateSysvShm(4096)
	require.NoError(t, err)
	require.NoError(t, RemoveSysvShm(id, mem))
	require.Error(t, RemoveSysvShm(id, nil))
}
