// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmitest

import (
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/nand/v3/gpmi"
)

// Interrupt is an interrupt line fired by software.
type Interrupt struct {
	mu sync.Mutex
	fn func()
}

// SetHandler implements gpmi.Interrupt.
func (i *Interrupt) SetHandler(fn func()) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.fn = fn
	return nil
}

// Installed reports whether a handler is installed.
func (i *Interrupt) Installed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fn != nil
}

// Fire calls the handler, if any.
func (i *Interrupt) Fire() {
	i.mu.Lock()
	fn := i.fn
	i.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Clock is a gateable clock.
type Clock struct {
	mu       sync.Mutex
	freq     physic.Frequency
	enabled  int
	enables  int
	disables int
}

// NewClock returns a stopped clock running at f when enabled.
func NewClock(f physic.Frequency) *Clock {
	return &Clock{freq: f}
}

// Enable implements gpmi.ClockSource.
func (c *Clock) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled++
	c.enables++
	return nil
}

// Disable implements gpmi.ClockSource.
func (c *Clock) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == 0 {
		return errors.New("gpmitest: clock disabled more than enabled")
	}
	c.enabled--
	c.disables++
	return nil
}

// Rate implements gpmi.ClockSource.
func (c *Clock) Rate() physic.Frequency {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freq
}

// SetRate changes the rate used by the next transaction.
func (c *Clock) SetRate(f physic.Frequency) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freq = f
}

// Enabled reports whether the clock is running.
func (c *Clock) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled != 0
}

// Counts returns the number of Enable and Disable calls.
func (c *Clock) Counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enables, c.disables
}

var (
	_ gpmi.Interrupt   = &Interrupt{}
	_ gpmi.ClockSource = &Clock{}
)
