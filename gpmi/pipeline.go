// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BCH status byte values. Any other value is the number of bits corrected
// in the chunk.
const (
	StatusClean         byte = 0x00
	StatusUncorrectable byte = 0xfe
	StatusErased        byte = 0xff
)

// ReadResult is the ECC outcome of a page read.
type ReadResult struct {
	// Corrected is the number of bit flips fixed over the whole page.
	Corrected int
	// Failed is the number of chunks that could not be corrected.
	Failed int
}

// ECCStats accumulates ECC outcomes over the life of a controller.
type ECCStats struct {
	Corrected uint64
	Failed    uint64
}

// AggregateStatus sums the per chunk status bytes written by the BCH engine.
func AggregateStatus(status []byte) ReadResult {
	var r ReadResult
	for _, s := range status {
		switch s {
		case StatusClean, StatusErased:
		case StatusUncorrectable:
			r.Failed++
		default:
			r.Corrected += int(s)
		}
	}
	return r
}

// account adds r to s when it is worth reporting: an uncorrectable chunk or
// corrections close to the strength of the code. It returns true if s was
// updated.
func (s *ECCStats) account(r ReadResult, strength int) bool {
	if r.Failed == 0 && r.Corrected < strength-1 {
		return false
	}
	s.Failed += uint64(r.Failed)
	s.Corrected += uint64(r.Corrected)
	return true
}

// completion is a one-shot event reusable across transfers.
type completion struct {
	c chan struct{}
}

func newCompletion() *completion {
	return &completion{c: make(chan struct{}, 1)}
}

func (c *completion) complete() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// reinit drops a stale event.
func (c *completion) reinit() {
	select {
	case <-c.c:
	default:
	}
}

// wait returns false if the event did not happen within d.
func (c *completion) wait(clk clock.Clock, d time.Duration) bool {
	select {
	case <-c.c:
		return true
	default:
	}
	t := clk.Timer(d)
	defer t.Stop()
	select {
	case <-c.c:
		return true
	case <-t.C:
		return false
	}
}

// pipeline runs chains on the DMA channels of a controller.
//
// A chain completes in two steps: the DMA engine signals the end of the last
// descriptor, then for ECC transfers the BCH engine signals that the parity
// was computed or checked.
type pipeline struct {
	log        *zap.Logger
	clk        clock.Clock
	dmaTimeout time.Duration
	eccTimeout time.Duration
	channels   []DMAChannel
	bchDone    *completion
}

// run submits c and blocks until it completes.
//
// A DMA timeout terminates the channel and returns ErrDMATimeout. A BCH
// timeout returns ErrECCTimeout after the data was transferred.
func (p *pipeline) run(c *Chain, ecc bool) error {
	if c.Chip < 0 || c.Chip >= len(p.channels) {
		return errors.Errorf("gpmi: no DMA channel for chip %d", c.Chip)
	}
	ch := p.channels[c.Chip]
	log := p.log.With(zap.Stringer("chain", c.ID), zap.Int("cs", c.Chip))
	if ce := log.Check(zap.DebugLevel, "submit"); ce != nil {
		stages := make([]string, len(c.Descriptors))
		for i := range c.Descriptors {
			stages[i] = c.Descriptors[i].Stage.String()
		}
		ce.Write(zap.Strings("stages", stages), zap.Bool("ecc", ecc))
	}
	if ecc {
		p.bchDone.reinit()
	}
	dmaDone := newCompletion()
	if err := ch.Submit(c, dmaDone.complete); err != nil {
		return errors.Wrapf(err, "gpmi: submit %s", c)
	}
	if !dmaDone.wait(p.clk, p.dmaTimeout) {
		log.Error("DMA timeout", zap.Duration("timeout", p.dmaTimeout))
		if err := ch.Terminate(); err != nil {
			log.Warn("terminate", zap.Error(err))
		}
		return errors.Wrapf(ErrDMATimeout, "gpmi: %s after %s", c, p.dmaTimeout)
	}
	if !ecc {
		return nil
	}
	// TODO(gpmi): Poison the status bytes before submitting so that a missing
	// BCH interrupt cannot report the status of the previous page.
	if !p.bchDone.wait(p.clk, p.eccTimeout) {
		log.Warn("BCH timeout", zap.Duration("timeout", p.eccTimeout))
		return errors.Wrapf(ErrECCTimeout, "gpmi: %s after %s", c, p.eccTimeout)
	}
	return nil
}
