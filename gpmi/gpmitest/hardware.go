// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmitest

import (
	"periph.io/x/conn/v3/physic"
	"periph.io/x/nand/v3/gpmi"
)

// DefaultRate is the GPMI clock rate of Hardware.
const DefaultRate = 100 * physic.MegaHertz

// Hardware is a software GPMI and BCH with chips on every chip select.
type Hardware struct {
	Generation gpmi.Generation
	GPMI       *Registers
	BCH        *Registers
	IRQ        *Interrupt
	Clock      *Clock
	Mem        *Allocator
	// Alloc is handed to the controller. It is Mem unless WithMapping was
	// called.
	Alloc    gpmi.Allocator
	Engine   *BCH
	Chips    []*Chip
	Channels []*Channel
}

// New returns hardware of generation g with one chip per chip select.
func New(g gpmi.Generation, chips ...*Chip) *Hardware {
	h := &Hardware{
		Generation: g,
		GPMI:       NewRegisters(),
		BCH:        NewRegisters(),
		IRQ:        &Interrupt{},
		Clock:      NewClock(DefaultRate),
		Mem:        NewAllocator(),
		Chips:      chips,
	}
	// Every ready/busy line is high.
	h.GPMI.Set(RegGPMIStat, 0xff<<24)
	h.Alloc = h.Mem
	h.Engine = &BCH{Generation: g, Regs: h.BCH, IRQ: h.IRQ}
	for _, c := range chips {
		h.Channels = append(h.Channels, NewChannel(c, h.Engine, h.Mem))
	}
	return h
}

// WithMapping makes the allocator map caller buffers instead of copying
// them.
func (h *Hardware) WithMapping() *MappingAllocator {
	m := &MappingAllocator{Allocator: h.Mem}
	h.Alloc = m
	return m
}

// Opts returns controller options wired to h.
func (h *Hardware) Opts() gpmi.Opts {
	dma := make([]gpmi.DMAChannel, len(h.Channels))
	for i, c := range h.Channels {
		dma[i] = c
	}
	return gpmi.Opts{
		Generation: h.Generation,
		GPMI:       h.GPMI,
		BCH:        h.BCH,
		DMA:        dma,
		BCHIRQ:     h.IRQ,
		GPMIClock:  h.Clock,
		Alloc:      h.Alloc,
	}
}
