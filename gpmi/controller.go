// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/nand/v3/nandinfo"
)

// NAND commands.
const (
	cmdRead0     byte = 0x00
	cmdReadStart byte = 0x30
	cmdSeqIn     byte = 0x80
	cmdPageProg  byte = 0x10
	cmdErase1    byte = 0x60
	cmdErase2    byte = 0xd0
	cmdStatus    byte = 0x70
	cmdReadID    byte = 0x90
	cmdReset     byte = 0xff
)

// NAND status byte.
const (
	statusFail  byte = 0x01
	statusReady byte = 0x40
)

const (
	// cmdBufSize holds a command byte and the longest address.
	cmdBufSize = 8
	// minDataBufSize is the size of the raw transfer buffer before the
	// geometry is known.
	minDataBufSize = 4096
	// resetPolls bounds the wait for the soft reset and clock gate bits.
	resetPolls = 1000
)

// Registers is a block of 32 bit memory mapped registers. Offsets are in
// bytes.
type Registers interface {
	Read32(off uint32) uint32
	Write32(off, v uint32)
}

// ClockSource is a clock the controller gates around every transaction.
type ClockSource interface {
	Enable() error
	Disable() error
	Rate() physic.Frequency
}

// PhysicalGeometry describes the NAND chips sharing the bus.
type PhysicalGeometry struct {
	ChipCount int
	ChipSize  int64
	// BlockSize and PageSize exclude the OOB area.
	BlockSize int
	PageSize  int
	OOBSize   int
}

// PagesPerBlock returns the number of pages in an erase block.
func (p PhysicalGeometry) PagesPerBlock() int {
	return p.BlockSize / p.PageSize
}

// PagesPerChip returns the number of pages of one chip.
func (p PhysicalGeometry) PagesPerChip() int {
	return int(p.ChipSize / int64(p.PageSize))
}

// Blocks returns the number of erase blocks over all chips.
func (p PhysicalGeometry) Blocks() int {
	return int(p.ChipSize/int64(p.BlockSize)) * p.ChipCount
}

func (p PhysicalGeometry) validate(maxChips int) error {
	switch {
	case p.ChipCount < 1 || p.ChipCount > maxChips:
		return errors.Errorf("gpmi: %d chips, controller has %d chip selects", p.ChipCount, maxChips)
	case p.PageSize <= 0 || p.OOBSize <= 0:
		return errors.Errorf("gpmi: invalid page %d+%d", p.PageSize, p.OOBSize)
	case p.BlockSize <= 0 || p.BlockSize%p.PageSize != 0:
		return errors.Errorf("gpmi: block of %d bytes is not a multiple of the page", p.BlockSize)
	case p.ChipSize <= 0 || p.ChipSize%int64(p.BlockSize) != 0:
		return errors.Errorf("gpmi: chip of %d bytes is not a multiple of the block", p.ChipSize)
	}
	return nil
}

// Opts configures a Controller.
type Opts struct {
	Generation Generation
	// GPMI and BCH are the two register blocks.
	GPMI Registers
	BCH  Registers
	// DMA holds the APBH channel of every chip select, in order. Its length
	// is the number of chip selects in use.
	DMA []DMAChannel
	// BCHIRQ is the BCH completion interrupt line.
	BCHIRQ Interrupt
	// GPMIClock feeds the NAND interface; its rate drives the timing.
	GPMIClock ClockSource
	// AuxClocks are enabled in order before GPMIClock and disabled in reverse
	// order after it. Typically DDR, APBH and AHB.
	AuxClocks []ClockSource
	Alloc     Allocator
	// WriteProtect, when set, drives the WP# line of the chips.
	WriteProtect gpio.PinOut

	// Logger defaults to a no-op logger unless built with the
	// periph_nand_gpmi_debug tag.
	Logger *zap.Logger
	// Clock defaults to the wall clock.
	Clock clock.Clock
	// DMATimeout and ECCTimeout default to one second.
	DMATimeout time.Duration
	ECCTimeout time.Duration
	// MinPropDelay and MaxPropDelay bound the board signal propagation
	// delay. They default to 5ns and 9ns.
	MinPropDelay time.Duration
	MaxPropDelay time.Duration
	// Strengths defaults to DefaultStrengthTable.
	Strengths StrengthTable
	// DDR selects the synchronous interface layout. Only i.MX50 supports it.
	DDR bool
	// Rom defaults to DefaultRomGeometry.
	Rom RomGeometry
	// IgnoreBadBlocks makes IsBlockBad report every block as good, to
	// recover a medium whose marks are known to be bogus.
	IgnoreBadBlocks bool
}

func (o *Opts) withDefaults() {
	if o.Logger == nil {
		o.Logger = defaultLogger()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.DMATimeout == 0 {
		o.DMATimeout = time.Second
	}
	if o.ECCTimeout == 0 {
		o.ECCTimeout = time.Second
	}
	if o.MinPropDelay == 0 {
		o.MinPropDelay = 5 * time.Nanosecond
	}
	if o.MaxPropDelay == 0 {
		o.MaxPropDelay = 9 * time.Nanosecond
	}
	if o.Strengths == nil {
		o.Strengths = DefaultStrengthTable
	}
	if o.Rom == (RomGeometry{}) {
		o.Rom = DefaultRomGeometry
	}
}

func (o *Opts) validate(caps Caps) error {
	switch {
	case o.GPMI == nil || o.BCH == nil:
		return errors.New("gpmi: missing register blocks")
	case o.BCHIRQ == nil:
		return errors.New("gpmi: missing BCH interrupt")
	case o.GPMIClock == nil:
		return errors.New("gpmi: missing GPMI clock")
	case o.Alloc == nil:
		return errors.New("gpmi: missing DMA allocator")
	case len(o.DMA) == 0 || len(o.DMA) > caps.MaxChipCount:
		return errors.Errorf("gpmi: %d DMA channels, want 1 to %d", len(o.DMA), caps.MaxChipCount)
	case o.DDR && !caps.DDR:
		return errors.New("gpmi: DDR interface not supported")
	case o.MinPropDelay > o.MaxPropDelay:
		return errors.Errorf("gpmi: propagation delay %s above %s", o.MinPropDelay, o.MaxPropDelay)
	}
	for i, ch := range o.DMA {
		if ch == nil {
			return errors.Errorf("gpmi: missing DMA channel for chip %d", i)
		}
	}
	return nil
}

// Controller drives the GPMI and BCH blocks of one SoC.
//
// Every method is serialized; separate controllers are independent.
type Controller struct {
	mu     sync.Mutex
	opts   Opts
	hal    nfcHAL
	caps   Caps
	log    *zap.Logger
	pipe   pipeline
	timing Timing
	hw     HardwareTiming

	phys       PhysicalGeometry
	geo        *Geometry
	policy     markPolicy
	buf        *PageBuffer
	cmdBuf     Mem
	dataBuf    Mem
	markingBad bool
	stats      ECCStats
	halted     bool
}

// New resets the GPMI block and returns a controller with no geometry.
//
// Call Probe or SetGeometry before page operations.
func New(o Opts) (*Controller, error) {
	h, err := o.Generation.hal()
	if err != nil {
		return nil, err
	}
	o.withDefaults()
	caps := h.caps()
	if err := o.validate(caps); err != nil {
		return nil, err
	}
	c := &Controller{
		opts:   o,
		hal:    h,
		caps:   caps,
		log:    o.Logger.Named("gpmi").With(zap.Stringer("generation", o.Generation)),
		timing: SafeTiming,
	}
	c.pipe = pipeline{
		log:        c.log,
		clk:        o.Clock,
		dmaTimeout: o.DMATimeout,
		eccTimeout: o.ECCTimeout,
		channels:   o.DMA,
		bchDone:    newCompletion(),
	}
	if c.cmdBuf, err = o.Alloc.Alloc(cmdBufSize); err != nil {
		return nil, errors.Wrap(err, "gpmi: command buffer")
	}
	if c.dataBuf, err = o.Alloc.Alloc(minDataBufSize); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "gpmi: data buffer"), c.cmdBuf.Close())
	}
	if err := c.initHardware(); err != nil {
		return nil, multierr.Append(err, closeAll(c.cmdBuf, c.dataBuf))
	}
	if err := o.BCHIRQ.SetHandler(c.bchInterrupt); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "gpmi: BCH interrupt"), closeAll(c.cmdBuf, c.dataBuf))
	}
	if o.WriteProtect != nil {
		if err := o.WriteProtect.Out(gpio.High); err != nil {
			return nil, multierr.Combine(errors.Wrap(err, "gpmi: write protect"), o.BCHIRQ.SetHandler(nil), closeAll(c.cmdBuf, c.dataBuf))
		}
	}
	c.log.Debug("initialized", zap.Int("chip selects", len(o.DMA)), zap.String("caps", caps.Description))
	return c, nil
}

func (c *Controller) String() string {
	return fmt.Sprintf("gpmi-nand(%s)", c.opts.Generation)
}

// Halt implements conn.Resource.
//
// It write protects the chips and releases the DMA buffers. The controller
// cannot be used afterward.
func (c *Controller) Halt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted {
		return nil
	}
	c.halted = true
	var err error
	if c.opts.WriteProtect != nil {
		err = multierr.Append(err, c.opts.WriteProtect.Out(gpio.Low))
	}
	err = multierr.Append(err, c.opts.BCHIRQ.SetHandler(nil))
	if c.buf != nil {
		err = multierr.Append(err, c.buf.Close())
		c.buf = nil
	}
	err = multierr.Append(err, closeAll(c.cmdBuf, c.dataBuf))
	c.cmdBuf, c.dataBuf, c.geo = nil, nil, nil
	return err
}

// Caps returns the capabilities of the controller generation.
func (c *Controller) Caps() Caps {
	return c.caps
}

// Geometry returns the ECC layout in use.
func (c *Controller) Geometry() (Geometry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.geo == nil {
		return Geometry{}, ErrNoGeometry
	}
	return *c.geo, nil
}

// PhysicalGeometry returns the chips geometry set by SetGeometry.
func (c *Controller) PhysicalGeometry() PhysicalGeometry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phys
}

// Stats returns the ECC statistics accumulated so far.
func (c *Controller) Stats() ECCStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Timing returns the target timing.
func (c *Controller) Timing() Timing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timing
}

// HardwareTiming returns the register values programmed by the last
// transaction.
func (c *Controller) HardwareTiming() HardwareTiming {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hw
}

// SetTiming changes the target timing. It is applied at the start of the
// next transaction, once the clock rate is known.
func (c *Controller) SetTiming(t Timing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timing = t
	c.log.Debug("timing", zap.Stringer("target", t))
}

// SetGeometry derives the ECC layout of the chips and programs the BCH
// engine with it.
func (c *Controller) SetGeometry(p PhysicalGeometry) (Geometry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted {
		return Geometry{}, ErrHalted
	}
	return c.setGeometry(p)
}

func (c *Controller) setGeometry(p PhysicalGeometry) (Geometry, error) {
	if err := p.validate(len(c.opts.DMA)); err != nil {
		return Geometry{}, err
	}
	// The ROM search area is only scanned on media that are transcribed.
	if !c.caps.SwapBlockMark {
		if err := c.opts.Rom.validate(p.PagesPerChip()); err != nil {
			return Geometry{}, err
		}
	}
	g, err := ComputeGeometry(GeometryParams{
		PageSize:      p.PageSize,
		OOBSize:       p.OOBSize,
		Table:         c.opts.Strengths,
		SwapBlockMark: c.caps.SwapBlockMark,
		DDR:           c.opts.DDR,
	})
	if err != nil {
		return Geometry{}, err
	}
	buf, err := newPageBuffer(c.opts.Alloc, &g)
	if err != nil {
		return Geometry{}, err
	}
	if need := p.PageSize + p.OOBSize; len(c.dataBuf.Buf()) < need {
		m, err := c.opts.Alloc.Alloc(need)
		if err != nil {
			return Geometry{}, multierr.Append(errors.Wrap(err, "gpmi: data buffer"), buf.Close())
		}
		if err := c.dataBuf.Close(); err != nil {
			c.log.Warn("freeing data buffer", zap.Error(err))
		}
		c.dataBuf = m
	}
	if err := c.transact(func() error { return c.programBCH(&g) }); err != nil {
		return Geometry{}, multierr.Append(err, buf.Close())
	}
	if c.buf != nil {
		if err := c.buf.Close(); err != nil {
			c.log.Warn("freeing page buffer", zap.Error(err))
		}
	}
	c.buf = buf
	c.geo = &g
	c.phys = p
	if g.SwapBlockMark {
		c.policy = swapPolicy{geo: c.geo}
	} else {
		c.policy = transcribePolicy{}
	}
	c.log.Info("geometry",
		zap.Stringer("ecc", c.geo),
		zap.Int("page", p.PageSize),
		zap.Int("oob", p.OOBSize),
		zap.Int("chips", p.ChipCount),
		zap.Stringer("block marks", c.policy))
	return g, nil
}

// programBCH resets the BCH engine and loads the layout of g.
func (c *Controller) programBCH(g *Geometry) error {
	if err := resetBlock(c.opts.BCH, regBCHCtrl, false); err != nil {
		return errors.Wrap(err, "gpmi: resetting BCH")
	}
	l0, l1 := c.hal.encodeLayout(g.Layout())
	c.opts.BCH.Write32(regBCHFlash0Layout0, l0)
	c.opts.BCH.Write32(regBCHFlash0Layout1, l1)
	// Every chip select uses layout 0.
	c.opts.BCH.Write32(regBCHLayoutSelect, 0)
	c.opts.BCH.Write32(regBCHCtrl+regSet, bchCtrlCompleteIRQEn)
	return nil
}

// Probe identifies the chips with READ ID and configures the controller for
// them. On generations that cannot swap the block mark, the medium is
// transcribed the first time.
func (c *Controller) Probe() (*nandinfo.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted {
		return nil, ErrHalted
	}
	var ids [][]byte
	err := c.transact(func() error {
		for cs := range c.opts.DMA {
			if err := c.reset(cs); err != nil {
				return err
			}
			id := make([]byte, 5)
			if err := c.readID(cs, id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	dev, err := nandinfo.Lookup(ids[0])
	if err != nil {
		return nil, err
	}
	chips := 1
	for chips < len(ids) && bytes.Equal(ids[chips], ids[0]) {
		chips++
	}
	c.log.Info("found", zap.Stringer("device", dev), zap.Int("chips", chips), zap.Binary("id", ids[0]))
	if _, err := c.setGeometry(PhysicalGeometry{
		ChipCount: chips,
		ChipSize:  dev.ChipSize,
		BlockSize: dev.BlockSize(),
		PageSize:  dev.PageSize,
		OOBSize:   dev.OOBSize,
	}); err != nil {
		return dev, err
	}
	c.timing = DeviceTiming(dev)
	if c.geo.SwapBlockMark {
		return dev, nil
	}
	_, err = c.transcribe()
	return dev, err
}

// ReadPage reads page with ECC into data, which must hold the payload.
//
// oob is filled with 0xFF except for its first byte, the first metadata
// byte, where the bad block mark is expected. When the BCH engine does not
// signal completion, ErrECCTimeout is returned along with a result computed
// from status bytes that may be stale.
func (c *Controller) ReadPage(page int, data, oob []byte) (ReadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chip, row, err := c.locate(page)
	if err != nil {
		return ReadResult{}, err
	}
	if len(data) < c.geo.PayloadSize {
		return ReadResult{}, errors.Errorf("gpmi: buffer of %d bytes, payload is %d", len(data), c.geo.PayloadSize)
	}
	var res ReadResult
	err = c.transact(func() error {
		var err error
		res, err = c.readPage(chip, row, data[:c.geo.PayloadSize], oob)
		return err
	})
	return res, err
}

func (c *Controller) readPage(chip, row int, data, oob []byte) (ReadResult, error) {
	if err := c.sendCommand(chip, cmdRead0, pageAddress(0, row)...); err != nil {
		return ReadResult{}, err
	}
	if err := c.sendCommand(chip, cmdReadStart); err != nil {
		return ReadResult{}, err
	}
	region, err := incoming(c.opts.Alloc, data, c.buf.mem)
	if err != nil {
		return ReadResult{}, err
	}
	ch, err := chainBuilder{geo: c.geo}.readPage(chip, region.addr(), c.buf.AuxiliaryAddr())
	if err != nil {
		return ReadResult{}, multierr.Append(err, region.finish(nil))
	}
	runErr := c.pipe.run(ch, true)
	if runErr != nil && !errors.Is(runErr, ErrECCTimeout) {
		return ReadResult{}, multierr.Append(runErr, region.finish(nil))
	}
	aux := c.buf.Auxiliary()
	c.policy.afterRead(region.buf, aux)
	res := AggregateStatus(c.geo.AuxiliaryStatus(aux))
	if c.stats.account(res, c.geo.ECCStrength) {
		c.log.Warn("ECC",
			zap.Int("cs", chip),
			zap.Int("row", row),
			zap.Int("corrected", res.Corrected),
			zap.Int("failed", res.Failed))
	}
	if len(oob) > 0 {
		fill(oob, 0xff)
		oob[0] = aux[0]
	}
	return res, multierr.Append(runErr, region.finish(data))
}

// WritePage programs page with ECC. Only the metadata bytes of oob are
// stored; oob may be nil.
//
// When the BCH engine does not signal completion, the page is programmed
// anyway and ErrECCTimeout is returned along with the program status.
func (c *Controller) WritePage(page int, data, oob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	chip, row, err := c.locate(page)
	if err != nil {
		return err
	}
	if len(data) < c.geo.PayloadSize {
		return errors.Errorf("gpmi: buffer of %d bytes, payload is %d", len(data), c.geo.PayloadSize)
	}
	return c.transact(func() error {
		return c.writePage(chip, row, data[:c.geo.PayloadSize], oob)
	})
}

func (c *Controller) writePage(chip, row int, data, oob []byte) error {
	aux := c.buf.Auxiliary()
	fill(aux, 0xff)
	copy(aux[:c.geo.MetadataSize], oob)
	var region dmaRegion
	if c.policy.modifiesPayload() {
		payload := c.buf.Payload()
		copy(payload, data)
		c.policy.beforeWrite(payload, aux)
		region = dmaRegion{mem: c.buf.mem, buf: payload}
	} else {
		var err error
		if region, err = outgoing(c.opts.Alloc, data, c.buf.mem); err != nil {
			return err
		}
		c.policy.beforeWrite(region.buf, aux)
	}
	if err := c.sendCommand(chip, cmdSeqIn, pageAddress(0, row)...); err != nil {
		return multierr.Append(err, region.finish(nil))
	}
	ch, err := chainBuilder{geo: c.geo}.writePage(chip, region.addr(), c.buf.AuxiliaryAddr())
	if err != nil {
		return multierr.Append(err, region.finish(nil))
	}
	// The page register is loaded even when the BCH engine does not signal
	// completion, so only a DMA failure aborts the program.
	runErr := c.pipe.run(ch, true)
	if runErr != nil && !errors.Is(runErr, ErrECCTimeout) {
		return multierr.Append(runErr, region.finish(nil))
	}
	if err := region.finish(nil); err != nil {
		return multierr.Append(runErr, err)
	}
	return multierr.Append(runErr, c.program(chip))
}

// ReadOOB reads the OOB area of page without ECC.
//
// The first byte is the bad block mark as seen through the BCH layout: on
// transcribed media it is read from the first byte of the page.
func (c *Controller) ReadOOB(page int, oob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	chip, row, err := c.locate(page)
	if err != nil {
		return err
	}
	return c.transact(func() error { return c.readOOB(chip, row, oob) })
}

func (c *Controller) readOOB(chip, row int, oob []byte) error {
	fill(oob, 0xff)
	n := len(oob)
	if n > c.phys.OOBSize {
		n = c.phys.OOBSize
	}
	if err := c.readRaw(chip, row, c.phys.PageSize, oob[:n]); err != nil {
		return err
	}
	if c.geo.SwapBlockMark || len(oob) == 0 {
		return nil
	}
	return c.readRaw(chip, row, 0, oob[:1])
}

// WriteOOB always fails with ErrOOBWriteUnsupported: the BCH engine owns
// the OOB area and the only OOB write is the one done by MarkBlockBad.
func (c *Controller) WriteOOB(page int, oob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	chip, row, err := c.locate(page)
	if err != nil {
		return err
	}
	if !c.markingBad {
		return errors.Wrapf(ErrOOBWriteUnsupported, "gpmi: page %d", page)
	}
	return c.transact(func() error { return c.writeOOB(chip, row) })
}

// writeOOB writes the bad block mark in the first page of a block.
func (c *Controller) writeOOB(chip, row int) error {
	if !c.markingBad {
		return ErrOOBWriteUnsupported
	}
	return c.writeRaw(chip, row, c.policy.markColumn(), []byte{0})
}

// MarkBlockBad writes a bad block mark in the block holding the medium byte
// offset off.
func (c *Controller) MarkBlockBad(off int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.geo == nil {
		return c.notReady()
	}
	if off < 0 || off >= c.phys.ChipSize*int64(c.phys.ChipCount) {
		return errors.Errorf("gpmi: offset %d out of range", off)
	}
	block := int(off / int64(c.phys.BlockSize))
	return c.markBad(block)
}

func (c *Controller) markBad(block int) error {
	chip, row, err := c.locate(block * c.phys.PagesPerBlock())
	if err != nil {
		return err
	}
	c.log.Info("marking block bad", zap.Int("block", block), zap.Stringer("policy", c.policy))
	c.markingBad = true
	defer func() { c.markingBad = false }()
	return c.transact(func() error { return c.writeOOB(chip, row) })
}

// IsBlockBad reports whether block carries a bad block mark.
func (c *Controller) IsBlockBad(block int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.geo == nil {
		return false, c.notReady()
	}
	if c.opts.IgnoreBadBlocks {
		return false, nil
	}
	chip, row, err := c.locate(block * c.phys.PagesPerBlock())
	if err != nil {
		return false, err
	}
	var mark [1]byte
	if err := c.transact(func() error { return c.readOOB(chip, row, mark[:]) }); err != nil {
		return false, err
	}
	return mark[0] != 0xff, nil
}

// EraseBlock erases block.
func (c *Controller) EraseBlock(block int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.geo == nil {
		return c.notReady()
	}
	chip, row, err := c.locate(block * c.phys.PagesPerBlock())
	if err != nil {
		return err
	}
	return c.transact(func() error { return c.erase(chip, row) })
}

func (c *Controller) erase(chip, row int) error {
	if err := c.sendCommand(chip, cmdErase1, rowAddress(row)...); err != nil {
		return err
	}
	if err := c.sendCommand(chip, cmdErase2); err != nil {
		return err
	}
	return c.checkStatus(chip, "erase")
}

// ReadPageRaw reads len(buf) bytes of page starting at column, bypassing
// the BCH engine.
func (c *Controller) ReadPageRaw(page, column int, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	chip, row, err := c.locate(page)
	if err != nil {
		return err
	}
	if err := c.checkColumn(column, len(buf)); err != nil {
		return err
	}
	return c.transact(func() error { return c.readRaw(chip, row, column, buf) })
}

// WritePageRaw programs buf at column of page, bypassing the BCH engine.
func (c *Controller) WritePageRaw(page, column int, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	chip, row, err := c.locate(page)
	if err != nil {
		return err
	}
	if err := c.checkColumn(column, len(buf)); err != nil {
		return err
	}
	return c.transact(func() error { return c.writeRaw(chip, row, column, buf) })
}

func (c *Controller) checkColumn(column, n int) error {
	if column < 0 || n > dmaXferCountMax {
		return errors.Errorf("gpmi: %d bytes at column %d", n, column)
	}
	return nil
}

func (c *Controller) readRaw(chip, row, column int, buf []byte) error {
	if err := c.sendCommand(chip, cmdRead0, pageAddress(column, row)...); err != nil {
		return err
	}
	if err := c.sendCommand(chip, cmdReadStart); err != nil {
		return err
	}
	if err := c.waitChip(chip); err != nil {
		return err
	}
	return c.readData(chip, buf)
}

func (c *Controller) writeRaw(chip, row, column int, buf []byte) error {
	if err := c.sendCommand(chip, cmdSeqIn, pageAddress(column, row)...); err != nil {
		return err
	}
	if err := c.writeData(chip, buf); err != nil {
		return err
	}
	return c.program(chip)
}

// ReadID returns the first n bytes the chip answers to READ ID.
func (c *Controller) ReadID(chip, n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkChip(chip); err != nil {
		return nil, err
	}
	id := make([]byte, n)
	if err := c.transact(func() error { return c.readID(chip, id) }); err != nil {
		return nil, err
	}
	return id, nil
}

func (c *Controller) readID(chip int, id []byte) error {
	if err := c.sendCommand(chip, cmdReadID, 0x00); err != nil {
		return err
	}
	return c.readData(chip, id)
}

// Reset resets the chip and waits for it to be ready.
func (c *Controller) Reset(chip int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkChip(chip); err != nil {
		return err
	}
	return c.transact(func() error { return c.reset(chip) })
}

func (c *Controller) reset(chip int) error {
	if err := c.sendCommand(chip, cmdReset); err != nil {
		return err
	}
	return c.waitChip(chip)
}

// Ready reports whether the ready/busy line of chip is high.
func (c *Controller) Ready(chip int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkChip(chip); err != nil {
		return false, err
	}
	ready := false
	err := c.transact(func() error {
		ready = ChipReady(c.opts.GPMI.Read32(regGPMIStat), chip)
		return nil
	})
	return ready, err
}

//

func (c *Controller) initHardware() (err error) {
	if err := c.opts.GPMIClock.Enable(); err != nil {
		return errors.Wrap(err, "gpmi: enabling clock")
	}
	defer func() {
		err = multierr.Append(err, c.opts.GPMIClock.Disable())
	}()
	if err := resetBlock(c.opts.GPMI, regGPMICtrl0, true); err != nil {
		return errors.Wrap(err, "gpmi: resetting GPMI")
	}
	// NAND mode, ready/busy active high, no device reset, BCH as ECC engine.
	c.opts.GPMI.Write32(regGPMICtrl1+regClr, ctrl1GPMIMode)
	c.opts.GPMI.Write32(regGPMICtrl1+regSet, ctrl1ATAIRQRdyPolarity|ctrl1DevReset|ctrl1BCHMode)
	return nil
}

func (c *Controller) bchInterrupt() {
	c.opts.BCH.Write32(regBCHCtrl+regClr, bchCtrlCompleteIRQ)
	c.pipe.bchDone.complete()
}

func (c *Controller) clocks() []ClockSource {
	out := make([]ClockSource, 0, len(c.opts.AuxClocks)+1)
	out = append(out, c.opts.AuxClocks...)
	return append(out, c.opts.GPMIClock)
}

// begin enables the clocks and programs the timing for the current rate.
func (c *Controller) begin() error {
	clocks := c.clocks()
	for i, clk := range clocks {
		if err := clk.Enable(); err != nil {
			err = errors.Wrap(err, "gpmi: enabling clocks")
			for j := i - 1; j >= 0; j-- {
				err = multierr.Append(err, clocks[j].Disable())
			}
			return err
		}
	}
	c.applyTiming()
	return nil
}

// end disables the clocks in reverse order.
func (c *Controller) end() error {
	clocks := c.clocks()
	var err error
	for i := len(clocks) - 1; i >= 0; i-- {
		err = multierr.Append(err, clocks[i].Disable())
	}
	return err
}

// transact runs fn between begin and end. Must be called with mu held.
func (c *Controller) transact(fn func() error) (err error) {
	if c.halted {
		return ErrHalted
	}
	if err := c.begin(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, c.end())
	}()
	return fn()
}

func (c *Controller) applyTiming() {
	period := c.opts.GPMIClock.Rate().Period()
	chips := c.phys.ChipCount
	if chips == 0 {
		chips = 1
	}
	c.hw = Synthesize(c.timing.RelaxFor(chips), period, c.caps.Constraints(c.opts.MinPropDelay, c.opts.MaxPropDelay))
	if c.hw.EyeMissed {
		c.log.Warn("sample point outside of the data eye", zap.Stringer("timing", c.hw), zap.Duration("period", period))
	}
	c.opts.GPMI.Write32(regGPMITiming0, EncodeTiming0(c.hw.Timing0()))
	c.opts.GPMI.Write32(regGPMICtrl1+regClr, ctrl1TimingMask)
	c.opts.GPMI.Write32(regGPMICtrl1+regSet, EncodeCtrl1Timing(c.hw.Ctrl1()))
}

func (c *Controller) notReady() error {
	if c.halted {
		return ErrHalted
	}
	return ErrNoGeometry
}

func (c *Controller) checkChip(chip int) error {
	if c.halted {
		return ErrHalted
	}
	if chip < 0 || chip >= len(c.opts.DMA) {
		return errors.Errorf("gpmi: no chip select %d", chip)
	}
	return nil
}

// locate splits a medium page number into a chip select and a row address.
func (c *Controller) locate(page int) (int, int, error) {
	if c.geo == nil {
		return 0, 0, c.notReady()
	}
	ppc := c.phys.PagesPerChip()
	if page < 0 || page >= ppc*c.phys.ChipCount {
		return 0, 0, errors.Errorf("gpmi: page %d out of range", page)
	}
	return page / ppc, page % ppc, nil
}

// sendCommand sends cmd with CLE asserted followed by the address bytes
// with ALE asserted.
func (c *Controller) sendCommand(chip int, cmd byte, addr ...byte) error {
	b := c.cmdBuf.Buf()
	b[0] = cmd
	n := 1 + copy(b[1:], addr)
	ch, err := command(chip, c.cmdBuf, n)
	if err != nil {
		return err
	}
	return c.pipe.run(ch, false)
}

func (c *Controller) waitChip(chip int) error {
	ch, err := waitReady(chip)
	if err != nil {
		return err
	}
	return c.pipe.run(ch, false)
}

func (c *Controller) readData(chip int, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	region, err := incoming(c.opts.Alloc, dst, c.dataBuf)
	if err != nil {
		return err
	}
	ch, err := dataIn(chip, region.mem, len(dst))
	if err != nil {
		return multierr.Append(err, region.finish(nil))
	}
	if err := c.pipe.run(ch, false); err != nil {
		return multierr.Append(err, region.finish(nil))
	}
	return region.finish(dst)
}

func (c *Controller) writeData(chip int, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	region, err := outgoing(c.opts.Alloc, src, c.dataBuf)
	if err != nil {
		return err
	}
	ch, err := dataOut(chip, region.mem, len(src))
	if err != nil {
		return multierr.Append(err, region.finish(nil))
	}
	return multierr.Append(c.pipe.run(ch, false), region.finish(nil))
}

func (c *Controller) readStatus(chip int) (byte, error) {
	if err := c.sendCommand(chip, cmdStatus); err != nil {
		return 0, err
	}
	var s [1]byte
	if err := c.readData(chip, s[:]); err != nil {
		return 0, err
	}
	return s[0], nil
}

// program commits the page register of the chip to the array.
func (c *Controller) program(chip int) error {
	if err := c.sendCommand(chip, cmdPageProg); err != nil {
		return err
	}
	return c.checkStatus(chip, "program")
}

func (c *Controller) checkStatus(chip int, op string) error {
	if err := c.waitChip(chip); err != nil {
		return err
	}
	s, err := c.readStatus(chip)
	if err != nil {
		return err
	}
	if s&statusReady == 0 {
		return errors.Wrapf(ErrOperationFailed, "gpmi: %s on cs%d: chip busy (status %#02x)", op, chip, s)
	}
	if s&statusFail != 0 {
		return errors.Wrapf(ErrOperationFailed, "gpmi: %s on cs%d (status %#02x)", op, chip, s)
	}
	return nil
}

// resetBlock brings a GPMI or BCH block out of reset with its clock
// running. With justEnable, the block is not reset if it is already out of
// reset.
func resetBlock(r Registers, ctrl uint32, justEnable bool) error {
	r.Write32(ctrl+regClr, ctrl0SoftReset)
	if err := pollBits(r, ctrl, ctrl0SoftReset, false); err != nil {
		return err
	}
	r.Write32(ctrl+regClr, ctrl0ClkGate)
	if justEnable {
		return nil
	}
	r.Write32(ctrl+regSet, ctrl0SoftReset)
	// The block gates its own clock once the reset is done.
	if err := pollBits(r, ctrl, ctrl0ClkGate, true); err != nil {
		return err
	}
	r.Write32(ctrl+regClr, ctrl0SoftReset)
	if err := pollBits(r, ctrl, ctrl0SoftReset, false); err != nil {
		return err
	}
	r.Write32(ctrl+regClr, ctrl0ClkGate)
	return pollBits(r, ctrl, ctrl0ClkGate, false)
}

func pollBits(r Registers, off, mask uint32, set bool) error {
	for i := 0; i < resetPolls; i++ {
		if (r.Read32(off)&mask != 0) == set {
			return nil
		}
	}
	return errors.Errorf("gpmi: register %#x bits %#x stuck", off, mask)
}

// pageAddress is the 2 column and 3 row address cycles of a large page
// chip.
func pageAddress(column, row int) []byte {
	return []byte{byte(column), byte(column >> 8), byte(row), byte(row >> 8), byte(row >> 16)}
}

func rowAddress(row int) []byte {
	return []byte{byte(row), byte(row >> 8), byte(row >> 16)}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

var _ conn.Resource = &Controller{}
