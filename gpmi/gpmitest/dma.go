// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmitest

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"periph.io/x/nand/v3/gpmi"
)

// Channel is an APBH DMA channel wired to one chip. Chains run
// synchronously inside Submit.
type Channel struct {
	chip *Chip
	bch  *BCH
	mem  *Allocator

	dropDMA atomic.Bool

	mu         sync.Mutex
	submitted  int
	terminated int
	last       *gpmi.Chain
}

// NewChannel returns a channel moving data between chip and the buffers of
// mem, using bch for ECC transfers.
func NewChannel(chip *Chip, bch *BCH, mem *Allocator) *Channel {
	return &Channel{chip: chip, bch: bch, mem: mem}
}

// DropCompletion makes the channel run chains without reporting their
// completion, as if the engine hung.
func (c *Channel) DropCompletion(drop bool) {
	c.dropDMA.Store(drop)
}

// Submit implements gpmi.DMAChannel.
func (c *Channel) Submit(ch *gpmi.Chain, done func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted++
	c.last = ch
	for i := range ch.Descriptors {
		if err := c.run(&ch.Descriptors[i]); err != nil {
			return errors.Wrapf(err, "%s descriptor %d (%s)", ch, i, ch.Descriptors[i].Stage)
		}
	}
	if !c.dropDMA.Load() {
		done()
	}
	return nil
}

func (c *Channel) run(d *gpmi.Descriptor) error {
	w := d.Word()
	if w.PIOWords != len(d.PIO) {
		return errors.Errorf("gpmitest: %d PIO words declared, %d given", w.PIOWords, len(d.PIO))
	}
	var ctrl0 gpmi.Ctrl0
	if len(d.PIO) > 0 {
		ctrl0 = gpmi.DecodeCtrl0(d.PIO[0])
	}
	switch w.Command {
	case gpmi.DMARead:
		if d.Buf == nil || len(d.Buf.Buf()) < w.XferCount {
			return errors.New("gpmitest: DMA read beyond buffer")
		}
		b := d.Buf.Buf()[:w.XferCount]
		if ctrl0.Address == gpmi.AddressCLE {
			if len(b) == 0 || !ctrl0.AddressIncrement {
				return errors.New("gpmitest: malformed command")
			}
			return c.chip.Command(b[0], b[1:])
		}
		c.chip.WriteData(b)
	case gpmi.DMAWrite:
		if d.Buf == nil || len(d.Buf.Buf()) < w.XferCount {
			return errors.New("gpmitest: DMA write beyond buffer")
		}
		c.chip.ReadData(d.Buf.Buf()[:w.XferCount])
	case gpmi.DMANoXfer:
		if len(d.PIO) < 6 {
			// Wait for ready, or unlock.
			return nil
		}
		ecc := gpmi.DecodeECCCtrl(d.PIO[2])
		if !ecc.Enable {
			return nil
		}
		return c.bch.transfer(c.chip, c.mem, ecc.Command, uint64(d.PIO[4]), uint64(d.PIO[5]))
	default:
		return errors.Errorf("gpmitest: unsupported DMA command %s", w.Command)
	}
	return nil
}

// Terminate implements gpmi.DMAChannel.
func (c *Channel) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated++
	return nil
}

// Counts returns the number of chains submitted and terminated.
func (c *Channel) Counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitted, c.terminated
}

// Last returns the last chain submitted.
func (c *Channel) Last() *gpmi.Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

var _ gpmi.DMAChannel = &Channel{}
