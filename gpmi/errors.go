// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import "github.com/pkg/errors"

var (
	// ErrUnsupportedGeometry is returned when no ECC layout exists for the
	// page and OOB size of the chip.
	ErrUnsupportedGeometry = errors.New("gpmi: unsupported geometry")
	// ErrBlockMarkInECCRegion is returned when the physical block mark falls
	// in the parity bits of a chunk and therefore cannot be swapped.
	ErrBlockMarkInECCRegion = errors.New("gpmi: block mark in ECC region")
	// ErrDMATimeout is returned when the DMA engine did not complete a chain.
	// The channel is terminated; the operation may be retried.
	ErrDMATimeout = errors.New("gpmi: DMA timeout")
	// ErrECCTimeout is returned when the BCH engine did not signal
	// completion. The accompanying result may hold stale status.
	ErrECCTimeout = errors.New("gpmi: BCH timeout")
	// ErrOOBWriteUnsupported is returned when writing the OOB area outside of
	// bad block marking.
	ErrOOBWriteUnsupported = errors.New("gpmi: OOB write unsupported")
	// ErrInadequateDMABuffer is returned when neither the caller buffer nor
	// the internal buffer can hold a transfer.
	ErrInadequateDMABuffer = errors.New("gpmi: inadequate DMA buffer")
	// ErrNoGeometry is returned by page operations before SetGeometry.
	ErrNoGeometry = errors.New("gpmi: geometry not set")
	// ErrOperationFailed is returned when the chip reports a failed program
	// or erase in its status byte.
	ErrOperationFailed = errors.New("gpmi: NAND operation failed")
	// ErrHalted is returned by every operation after Halt.
	ErrHalted = errors.New("gpmi: controller halted")
)
