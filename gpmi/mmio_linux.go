// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package gpmi

import (
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MMIO is a register window mapped from /dev/mem.
type MMIO struct {
	mem  []byte
	off  int
	size int
}

// MapRegisters maps size bytes of physical memory at base.
//
// It requires CAP_SYS_RAWIO.
func MapRegisters(base uint64, size int) (*MMIO, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "gpmi")
	}
	defer f.Close()
	page := uint64(os.Getpagesize())
	aligned := base &^ (page - 1)
	delta := int(base - aligned)
	mem, err := unix.Mmap(int(f.Fd()), int64(aligned), delta+size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "gpmi: mapping %#x", base)
	}
	return &MMIO{mem: mem, off: delta, size: size}, nil
}

func (m *MMIO) reg(off uint32) *uint32 {
	if int(off)+4 > m.size || off&3 != 0 {
		panic(errors.Errorf("gpmi: register offset %#x out of window", off))
	}
	return (*uint32)(unsafe.Pointer(&m.mem[m.off+int(off)]))
}

// Read32 implements Registers.
func (m *MMIO) Read32(off uint32) uint32 {
	return atomic.LoadUint32(m.reg(off))
}

// Write32 implements Registers.
func (m *MMIO) Write32(off, v uint32) {
	atomic.StoreUint32(m.reg(off), v)
}

// Close unmaps the window.
func (m *MMIO) Close() error {
	return unix.Munmap(m.mem)
}
