// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmitest

import "sync"

// Register offsets used by the fakes.
const (
	RegCtrl0 uint32 = 0x000
	// RegGPMICtrl1 and the following are GPMI registers.
	RegGPMICtrl1   uint32 = 0x060
	RegGPMITiming0 uint32 = 0x070
	RegGPMIStat    uint32 = 0x0b0
	// RegBCHLayout0 and RegBCHLayout1 are BCH registers.
	RegBCHLayout0 uint32 = 0x080
	RegBCHLayout1 uint32 = 0x090

	softReset = 1 << 31
	clkGate   = 1 << 30
	// BCHCompleteIRQ is the BCH CTRL bit set when a page was processed.
	BCHCompleteIRQ uint32 = 1 << 0
)

// Registers is an mxs register block with SET, CLR and TOG aliases.
//
// Setting the soft reset bit of CTRL0 gates the clock, like the hardware
// does once the reset completes.
type Registers struct {
	mu     sync.Mutex
	values map[uint32]uint32
	writes int
}

// NewRegisters returns a block where every register reads as zero.
func NewRegisters() *Registers {
	return &Registers{values: map[uint32]uint32{}}
}

// Read32 implements gpmi.Registers.
func (r *Registers) Read32(off uint32) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[off&^0xf]
}

// Write32 implements gpmi.Registers.
func (r *Registers) Write32(off, v uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	base := off &^ 0xf
	cur := r.values[base]
	switch off & 0xf {
	case 0x4:
		cur |= v
	case 0x8:
		cur &^= v
	case 0xc:
		cur ^= v
	default:
		cur = v
	}
	if base == RegCtrl0 && cur&softReset != 0 {
		cur |= clkGate
	}
	r.values[base] = cur
}

// Get returns a register without side effects.
func (r *Registers) Get(off uint32) uint32 {
	return r.Read32(off)
}

// Set overwrites a register.
func (r *Registers) Set(off, v uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[off&^0xf] = v
}

// Writes returns the number of writes so far.
func (r *Registers) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}
