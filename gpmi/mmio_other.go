// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux

package gpmi

import "github.com/pkg/errors"

// MMIO is a register window mapped from /dev/mem.
type MMIO struct{}

// MapRegisters is only supported on linux.
func MapRegisters(base uint64, size int) (*MMIO, error) {
	return nil, errors.New("gpmi: register mapping is only supported on linux")
}

// Read32 implements Registers.
func (m *MMIO) Read32(off uint32) uint32 {
	return 0
}

// Write32 implements Registers.
func (m *MMIO) Write32(off, v uint32) {
}

// Close is a no-op.
func (m *MMIO) Close() error {
	return nil
}
