// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Generation identifies a revision of the GPMI and BCH blocks.
type Generation uint8

// Supported generations.
const (
	// MX23 is the 4 chip GPMI with the first BCH. It cannot swap the block
	// mark, so the medium is transcribed instead.
	MX23 Generation = iota
	// MX28 is the 8 chip GPMI and BCH.
	MX28
	// MX50 adds GF(2^14) and the synchronous interfaces.
	MX50
)

func (g Generation) String() string {
	switch g {
	case MX23:
		return "i.MX23"
	case MX28:
		return "i.MX28"
	case MX50:
		return "i.MX50"
	default:
		return fmt.Sprintf("Generation(%d)", uint8(g))
	}
}

// Caps are the fixed properties of a controller generation.
type Caps struct {
	Description          string
	MaxChipCount         int
	MaxDataSetupCycles   int
	InternalDataSetup    time.Duration
	MaxSampleDelayFactor int
	MaxDLLClockPeriod    time.Duration
	MaxDLLDelay          time.Duration
	SwapBlockMark        bool
	DDR                  bool
}

// nfcHAL is what differs between generations.
type nfcHAL interface {
	caps() Caps
	// encodeLayout returns the FLASH0LAYOUT0 and FLASH0LAYOUT1 values.
	encodeLayout(l Layout) (uint32, uint32)
	decodeLayout(l0, l1 uint32) Layout
}

func (g Generation) hal() (nfcHAL, error) {
	switch g {
	case MX23:
		return mx23{}, nil
	case MX28:
		return mx28{}, nil
	case MX50:
		return mx50{}, nil
	default:
		return nil, errors.Errorf("gpmi: unknown generation %d", uint8(g))
	}
}

// Caps returns the capabilities of the generation.
func (g Generation) Caps() (Caps, error) {
	h, err := g.hal()
	if err != nil {
		return Caps{}, err
	}
	return h.caps(), nil
}

// Every generation shares the same TIMING0 and CTRL1 field widths.
var commonCaps = Caps{
	MaxDataSetupCycles:   int(timing0FieldMask),
	InternalDataSetup:    0,
	MaxSampleDelayFactor: int(ctrl1RDNDelayMask >> ctrl1RDNDelayShift),
	MaxDLLClockPeriod:    32 * time.Nanosecond,
	MaxDLLDelay:          16 * time.Nanosecond,
}

type mx23 struct{}

func (mx23) caps() Caps {
	c := commonCaps
	c.Description = "4-chip GPMI and BCH"
	c.MaxChipCount = 4
	return c
}

func (mx23) encodeLayout(l Layout) (uint32, uint32) {
	return layoutMX28.encode(l)
}

func (mx23) decodeLayout(l0, l1 uint32) Layout {
	return layoutMX28.decode(l0, l1)
}

type mx28 struct{}

func (mx28) caps() Caps {
	c := commonCaps
	c.Description = "8-chip GPMI and BCH"
	c.MaxChipCount = 8
	c.SwapBlockMark = true
	return c
}

func (mx28) encodeLayout(l Layout) (uint32, uint32) {
	return layoutMX28.encode(l)
}

func (mx28) decodeLayout(l0, l1 uint32) Layout {
	return layoutMX28.decode(l0, l1)
}

type mx50 struct{}

func (mx50) caps() Caps {
	c := commonCaps
	c.Description = "8-chip GPMI and BCH"
	c.MaxChipCount = 8
	c.SwapBlockMark = true
	c.DDR = true
	return c
}

func (mx50) encodeLayout(l Layout) (uint32, uint32) {
	return layoutMX50.encode(l)
}

func (mx50) decodeLayout(l0, l1 uint32) Layout {
	return layoutMX50.decode(l0, l1)
}

// EncodeLayout returns the FLASH0LAYOUT0 and FLASH0LAYOUT1 register values
// of l for the generation.
func (g Generation) EncodeLayout(l Layout) (uint32, uint32, error) {
	h, err := g.hal()
	if err != nil {
		return 0, 0, err
	}
	l0, l1 := h.encodeLayout(l)
	return l0, l1, nil
}

// DecodeLayout is the reverse of EncodeLayout.
func (g Generation) DecodeLayout(l0, l1 uint32) (Layout, error) {
	h, err := g.hal()
	if err != nil {
		return Layout{}, err
	}
	return h.decodeLayout(l0, l1), nil
}
