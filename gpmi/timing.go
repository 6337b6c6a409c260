// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import (
	"fmt"
	"time"

	"periph.io/x/nand/v3/nandinfo"
)

// Timing is the NAND timing the controller must honor.
type Timing struct {
	DataSetup    time.Duration
	DataHold     time.Duration
	AddressSetup time.Duration
	// SampleDelay is how long after the read strobe the controller should
	// sample the bus when the propagation characteristics are unknown.
	SampleDelay time.Duration
	// Propagation is nil when the chip characteristics are unknown.
	Propagation *Propagation
}

// Propagation are the read access characteristics of a NAND chip.
type Propagation struct {
	// TREA is the RE# access time.
	TREA time.Duration
	// TRLOH is the RE# low to output hold time.
	TRLOH time.Duration
	// TRHOH is the RE# high to output hold time.
	TRHOH time.Duration
}

// SafeTiming works with every chip the controller was validated with, at the
// cost of throughput.
var SafeTiming = Timing{
	DataSetup:    80 * time.Nanosecond,
	DataHold:     60 * time.Nanosecond,
	AddressSetup: 25 * time.Nanosecond,
	SampleDelay:  6 * time.Nanosecond,
}

// DeviceTiming returns the timing d requires.
func DeviceTiming(d *nandinfo.Device) Timing {
	t := Timing{
		DataSetup:    d.DataSetup(),
		DataHold:     d.DataHold(),
		AddressSetup: d.AddressSetup(),
		SampleDelay:  d.SampleDelay(),
	}
	if d.HasPropagation() {
		t.Propagation = &Propagation{
			TREA:  time.Duration(d.TREANs) * time.Nanosecond,
			TRLOH: time.Duration(d.TRLOHNs) * time.Nanosecond,
			TRHOH: time.Duration(d.TRHOHNs) * time.Nanosecond,
		}
	}
	return t
}

// RelaxFor returns t loosened for the bus load of chips chips sharing the
// data lines.
func (t Timing) RelaxFor(chips int) Timing {
	var extra time.Duration
	switch {
	case chips > 2:
		extra = 10 * time.Nanosecond
	case chips > 1:
		extra = 5 * time.Nanosecond
	}
	t.DataSetup += extra
	t.DataHold += extra
	t.AddressSetup += extra
	return t
}

func (t Timing) String() string {
	s := fmt.Sprintf("setup=%s hold=%s address=%s sample=%s", t.DataSetup, t.DataHold, t.AddressSetup, t.SampleDelay)
	if p := t.Propagation; p != nil {
		s += fmt.Sprintf(" tREA=%s tRLOH=%s tRHOH=%s", p.TREA, p.TRLOH, p.TRHOH)
	}
	return s
}

// Constraints are the limits of the controller delay line and of the board.
type Constraints struct {
	MaxDataSetupCycles   int
	InternalDataSetup    time.Duration
	MaxSampleDelayFactor int
	MaxDLLClockPeriod    time.Duration
	MaxDLLDelay          time.Duration
	// MinPropDelay and MaxPropDelay bound the propagation delay of the
	// signals between the controller and the chips.
	MinPropDelay time.Duration
	MaxPropDelay time.Duration
}

// Constraints returns the delay line limits of the generation combined with
// the board propagation delays.
func (c Caps) Constraints(minProp, maxProp time.Duration) Constraints {
	return Constraints{
		MaxDataSetupCycles:   c.MaxDataSetupCycles,
		InternalDataSetup:    c.InternalDataSetup,
		MaxSampleDelayFactor: c.MaxSampleDelayFactor,
		MaxDLLClockPeriod:    c.MaxDLLClockPeriod,
		MaxDLLDelay:          c.MaxDLLDelay,
		MinPropDelay:         minProp,
		MaxPropDelay:         maxProp,
	}
}

// HardwareTiming is the register ready form of a Timing.
type HardwareTiming struct {
	DataSetupCycles    int
	DataHoldCycles     int
	AddressSetupCycles int
	HalfPeriods        bool
	SampleDelayFactor  int
	// EyeMissed is set when the data setup cycles ran out before the sample
	// point could be placed in the data valid window.
	EyeMissed bool
}

// Timing0 returns the TIMING0 register image.
func (h HardwareTiming) Timing0() Timing0 {
	return Timing0{
		AddressSetup: uint8(h.AddressSetupCycles),
		DataHold:     uint8(h.DataHoldCycles),
		DataSetup:    uint8(h.DataSetupCycles),
	}
}

// Ctrl1 returns the DLL fields of the CTRL1 register image.
func (h HardwareTiming) Ctrl1() Ctrl1Timing {
	return Ctrl1Timing{
		DLLEnable:  h.SampleDelayFactor != 0,
		HalfPeriod: h.HalfPeriods,
		RDNDelay:   uint8(h.SampleDelayFactor),
	}
}

func (h HardwareTiming) String() string {
	return fmt.Sprintf("setup=%d hold=%d address=%d half=%t sdf=%d", h.DataSetupCycles, h.DataHoldCycles, h.AddressSetupCycles, h.HalfPeriods, h.SampleDelayFactor)
}

// Synthesize converts t into cycle counts at the given clock period.
//
// The sample delay factor selects a fraction of the clock period, 1/8 or
// 1/16 when half periods are used, by which the DLL delays the sampling of
// the data bus after the read strobe. When the propagation characteristics
// of the chip are known, the delay is centered in the window where the data
// is valid, the eye.
//
// It never fails; HardwareTiming.EyeMissed reports a best effort result.
func Synthesize(t Timing, period time.Duration, c Constraints) HardwareTiming {
	s := synthesis{c: c, period: nanos(period)}
	if s.period < 1 {
		s.period = 1
	}
	s.h = HardwareTiming{
		DataSetupCycles:    nsToCycles(nanos(t.DataSetup), s.period, 1),
		DataHoldCycles:     nsToCycles(nanos(t.DataHold), s.period, 1),
		AddressSetupCycles: nsToCycles(nanos(t.AddressSetup), s.period, 0),
	}
	maxDLLPeriod := nanos(c.MaxDLLClockPeriod)
	s.shift = 3
	if s.period > maxDLLPeriod>>1 {
		s.h.HalfPeriods = true
		s.shift = 4
	}
	// Beyond the DLL range the delay line cannot be used at all.
	if s.period <= maxDLLPeriod {
		s.maxDelay = c.MaxSampleDelayFactor * s.period >> s.shift
		if d := nanos(c.MaxDLLDelay); s.maxDelay > d {
			s.maxDelay = d
		}
	}
	if t.Propagation == nil {
		s.basic(nanos(t.SampleDelay))
	} else {
		s.eye(t.Propagation)
	}
	s.clamp()
	return s.h
}

type synthesis struct {
	c        Constraints
	period   int
	shift    uint
	maxDelay int
	h        HardwareTiming
}

func (s *synthesis) basic(sampleDelay int) {
	ideal := sampleDelay + nanos(s.c.InternalDataSetup)
	// Trade delay line for whole data setup cycles.
	for ideal > s.maxDelay && s.canGrow() {
		s.h.DataSetupCycles++
		ideal -= s.period
		if ideal < 0 {
			ideal = 0
		}
	}
	s.h.SampleDelayFactor = s.factor(ideal)
	s.h.EyeMissed = ideal > s.maxDelay
}

func (s *synthesis) eye(p *Propagation) {
	minProp := nanos(s.c.MinPropDelay)
	maxProp := nanos(s.c.MaxPropDelay) + nanos(s.c.InternalDataSetup)
	tREA := nanos(p.TREA)
	tRHOH := nanos(p.TRHOH)

	// The data is valid from the latest moment it can appear after RE# falls
	// until the earliest moment it can disappear after RE# rises.
	setup := s.period * s.h.DataSetupCycles
	eye := minProp + tRHOH + setup - (maxProp + tREA)
	for eye <= 0 && s.canGrow() {
		s.h.DataSetupCycles++
		setup += s.period
		eye += s.period
	}

	ideal := (maxProp + tREA + minProp + tRHOH - setup) >> 1
	if ideal < 0 {
		ideal = 0
	}
	// Each extra setup cycle moves the middle of the eye half a period
	// earlier.
	for ideal > s.maxDelay && s.canGrow() {
		s.h.DataSetupCycles++
		setup += s.period
		eye += s.period
		ideal -= s.period >> 1
		if ideal < 0 {
			ideal = 0
		}
	}

	factor := s.factor(ideal)
	quantized := func() int { return factor * s.period >> s.shift }
	outside := func() bool { return abs(quantized()-ideal) > eye>>1 }
	for outside() && s.canGrow() {
		if quantized() > ideal {
			if factor == 0 {
				break
			}
			factor--
			continue
		}
		s.h.DataSetupCycles++
		setup += s.period
		eye += s.period
		ideal -= s.period >> 1
		ideal -= s.period
		if ideal < 0 {
			ideal = 0
		}
		factor = s.factor(ideal)
	}
	s.h.SampleDelayFactor = factor
	s.h.EyeMissed = eye <= 0 || outside()
}

func (s *synthesis) canGrow() bool {
	return s.h.DataSetupCycles < s.c.MaxDataSetupCycles
}

// factor quantizes a delay in ns to the delay line granularity.
func (s *synthesis) factor(delay int) int {
	f := nsToCycles(delay<<s.shift, s.period, 0)
	if f > s.c.MaxSampleDelayFactor {
		f = s.c.MaxSampleDelayFactor
	}
	return f
}

// clamp keeps every field within its register width.
func (s *synthesis) clamp() {
	m := s.c.MaxDataSetupCycles
	s.h.DataSetupCycles = clampInt(s.h.DataSetupCycles, m)
	s.h.DataHoldCycles = clampInt(s.h.DataHoldCycles, m)
	s.h.AddressSetupCycles = clampInt(s.h.AddressSetupCycles, m)
	s.h.SampleDelayFactor = clampInt(s.h.SampleDelayFactor, s.c.MaxSampleDelayFactor)
}

// nsToCycles returns the number of cycles of period ns covering t ns, at
// least floor.
func nsToCycles(t, period, floor int) int {
	k := (t + period - 1) / period
	if k < floor {
		return floor
	}
	return k
}

func nanos(d time.Duration) int {
	return int(d / time.Nanosecond)
}

func clampInt(v, limit int) int {
	if v > limit {
		return limit
	}
	if v < 0 {
		return 0
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
