// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi_test

//go:generate mockgen -destination mock_gpmi_test.go -package gpmi_test -write_package_comment=false periph.io/x/nand/v3/gpmi ClockSource,DMAChannel

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/nand/v3/gpmi"
	"periph.io/x/nand/v3/gpmi/gpmitest"
)

const (
	testPagesPerBlock = 64
	testBlocks        = 16
)

// testGeometry is a small 2048+128 chip.
var testGeometry = gpmi.PhysicalGeometry{
	ChipCount: 1,
	ChipSize:  2048 * testPagesPerBlock * testBlocks,
	BlockSize: 2048 * testPagesPerBlock,
	PageSize:  2048,
	OOBSize:   128,
}

func newTestChip() *gpmitest.Chip {
	return gpmitest.NewChip([]byte{0x2c, 0xda, 0x90, 0x95, 0x06}, 2048, 128, testPagesPerBlock, testBlocks)
}

// newController returns a controller on hw, letting opt tweak its options.
func newController(t *testing.T, hw *gpmitest.Hardware, opt func(o *gpmi.Opts)) *gpmi.Controller {
	o := hw.Opts()
	o.Logger = zaptest.NewLogger(t, zaptest.Level(zapcore.InfoLevel))
	if opt != nil {
		opt(&o)
	}
	c, err := gpmi.New(o)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Halt()) })
	return c
}

// newReady returns a controller with testGeometry set.
func newReady(t *testing.T, g gpmi.Generation) (*gpmi.Controller, *gpmitest.Hardware) {
	hw := gpmitest.New(g, newTestChip())
	c := newController(t, hw, nil)
	_, err := c.SetGeometry(testGeometry)
	require.NoError(t, err)
	return c, hw
}

func randomPage(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestNew(t *testing.T) {
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	c := newController(t, hw, nil)
	require.Equal(t, "gpmi-nand(i.MX28)", c.String())
	ctrl1 := hw.GPMI.Get(gpmitest.RegGPMICtrl1)
	// BCH mode, device reset released, ready/busy active high, NAND mode.
	require.Equal(t, uint32(1<<18|1<<3|1<<2), ctrl1&(1<<18|1<<3|1<<2|1<<0))
	require.Zero(t, hw.GPMI.Get(gpmitest.RegCtrl0)&(3<<30))
	require.True(t, hw.IRQ.Installed())
	require.False(t, hw.Clock.Enabled())
	_, err := c.Geometry()
	require.ErrorIs(t, err, gpmi.ErrNoGeometry)
	require.Equal(t, gpmi.SafeTiming, c.Timing())
}

func TestNew_invalid(t *testing.T) {
	data := []func(o *gpmi.Opts){
		func(o *gpmi.Opts) { o.GPMI = nil },
		func(o *gpmi.Opts) { o.BCHIRQ = nil },
		func(o *gpmi.Opts) { o.GPMIClock = nil },
		func(o *gpmi.Opts) { o.Alloc = nil },
		func(o *gpmi.Opts) { o.DMA = nil },
		func(o *gpmi.Opts) { o.DMA = []gpmi.DMAChannel{nil} },
		func(o *gpmi.Opts) { o.DDR = true },
		func(o *gpmi.Opts) { o.Generation = 7 },
		func(o *gpmi.Opts) { o.MinPropDelay, o.MaxPropDelay = 10*time.Nanosecond, 5*time.Nanosecond },
	}
	for i, f := range data {
		o := gpmitest.New(gpmi.MX28, newTestChip()).Opts()
		f(&o)
		_, err := gpmi.New(o)
		require.Error(t, err, "#%d", i)
	}
	// i.MX23 has 4 chip selects.
	chips := make([]*gpmitest.Chip, 5)
	for i := range chips {
		chips[i] = newTestChip()
	}
	_, err := gpmi.New(gpmitest.New(gpmi.MX23, chips...).Opts())
	require.Error(t, err)
}

func TestController_noGeometry(t *testing.T) {
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	c := newController(t, hw, nil)
	_, err := c.ReadPage(0, make([]byte, 2048), nil)
	require.ErrorIs(t, err, gpmi.ErrNoGeometry)
	require.ErrorIs(t, c.WritePage(0, make([]byte, 2048), nil), gpmi.ErrNoGeometry)
	require.ErrorIs(t, c.EraseBlock(0), gpmi.ErrNoGeometry)
	_, err = c.IsBlockBad(0)
	require.ErrorIs(t, err, gpmi.ErrNoGeometry)
	_, err = c.Transcribe()
	require.ErrorIs(t, err, gpmi.ErrNoGeometry)
}

func TestController_SetGeometry(t *testing.T) {
	c, hw := newReady(t, gpmi.MX28)
	g, err := c.Geometry()
	require.NoError(t, err)
	require.Equal(t, 1999, g.BlockMarkByteOffset)
	require.Equal(t, testGeometry, c.PhysicalGeometry())
	l, err := gpmi.MX28.DecodeLayout(hw.BCH.Get(gpmitest.RegBCHLayout0), hw.BCH.Get(gpmitest.RegBCHLayout1))
	require.NoError(t, err)
	require.Equal(t, g.Layout(), l)
	// Completion interrupt enabled, block out of reset.
	require.Equal(t, uint32(1<<8), hw.BCH.Get(gpmitest.RegCtrl0)&(1<<8|3<<30))
}

func TestController_SetGeometry_invalid(t *testing.T) {
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	c := newController(t, hw, nil)
	p := testGeometry
	p.OOBSize = 64
	_, err := c.SetGeometry(p)
	require.ErrorIs(t, err, gpmi.ErrUnsupportedGeometry)
	p = testGeometry
	p.ChipCount = 2
	_, err = c.SetGeometry(p)
	require.Error(t, err)
	p = testGeometry
	p.BlockSize = 3000
	_, err = c.SetGeometry(p)
	require.Error(t, err)
}

func TestController_page(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, g := range []gpmi.Generation{gpmi.MX23, gpmi.MX28, gpmi.MX50} {
		t.Run(g.String(), func(t *testing.T) {
			c, _ := newReady(t, g)
			data := randomPage(r, 2048)
			require.NoError(t, c.WritePage(70, data, nil))
			out := make([]byte, 2048)
			oob := make([]byte, 16)
			res, err := c.ReadPage(70, out, oob)
			require.NoError(t, err)
			require.Equal(t, gpmi.ReadResult{}, res)
			require.Equal(t, data, out)
			require.Equal(t, bytes.Repeat([]byte{0xff}, 16), oob)
			bad, err := c.IsBlockBad(1)
			require.NoError(t, err)
			require.False(t, bad)
		})
	}
}

func TestController_page_metadata(t *testing.T) {
	c, hw := newReady(t, gpmi.MX28)
	data := randomPage(rand.New(rand.NewSource(2)), 2048)
	require.NoError(t, c.WritePage(3, data, []byte{0x5a, 1, 2}))
	out := make([]byte, 2048)
	oob := make([]byte, 4)
	_, err := c.ReadPage(3, out, oob)
	require.NoError(t, err)
	require.Equal(t, data, out)
	require.Equal(t, []byte{0x5a, 0xff, 0xff, 0xff}, oob)
	// The first metadata byte is stored where the factory mark lives.
	require.Equal(t, byte(0x5a), hw.Chips[0].Page(3)[2048])
}

func TestController_swapKeepsMark(t *testing.T) {
	c, hw := newReady(t, gpmi.MX28)
	data := make([]byte, 2048)
	require.NoError(t, c.WritePage(0, data, nil))
	raw := make([]byte, 1)
	require.NoError(t, c.ReadPageRaw(0, 2048, raw))
	require.Equal(t, byte(0xff), raw[0])
	require.Equal(t, byte(0xff), hw.Chips[0].Page(0)[2048])
	bad, err := c.IsBlockBad(0)
	require.NoError(t, err)
	require.False(t, bad)
}

func TestController_noSwapLayout(t *testing.T) {
	c, hw := newReady(t, gpmi.MX23)
	data := make([]byte, 2048)
	require.NoError(t, c.WritePage(1, data, []byte{0x33}))
	// Metadata first, then the first chunk.
	raw := hw.Chips[0].Page(1)
	require.Equal(t, byte(0x33), raw[0])
	require.Equal(t, byte(0x00), raw[10])
	oob := make([]byte, 2)
	require.NoError(t, c.ReadOOB(1, oob))
	require.Equal(t, byte(0x33), oob[0])
}

func TestController_erased(t *testing.T) {
	c, _ := newReady(t, gpmi.MX28)
	out := make([]byte, 2048)
	oob := make([]byte, 8)
	res, err := c.ReadPage(100, out, oob)
	require.NoError(t, err)
	require.Equal(t, gpmi.ReadResult{}, res)
	require.Equal(t, bytes.Repeat([]byte{0xff}, 2048), out)
	require.Equal(t, bytes.Repeat([]byte{0xff}, 8), oob)
}

func TestController_bounds(t *testing.T) {
	c, _ := newReady(t, gpmi.MX28)
	_, err := c.ReadPage(testPagesPerBlock*testBlocks, make([]byte, 2048), nil)
	require.Error(t, err)
	_, err = c.ReadPage(-1, make([]byte, 2048), nil)
	require.Error(t, err)
	_, err = c.ReadPage(0, make([]byte, 100), nil)
	require.Error(t, err)
	require.Error(t, c.WritePage(0, make([]byte, 100), nil))
	require.Error(t, c.ReadPageRaw(0, -1, make([]byte, 1)))
	require.Error(t, c.MarkBlockBad(-1))
	_, err = c.ReadID(1, 2)
	require.Error(t, err)
}

func TestController_ECCStats(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	c := newController(t, hw, func(o *gpmi.Opts) { o.Logger = zap.New(core) })
	_, err := c.SetGeometry(testGeometry)
	require.NoError(t, err)
	require.NoError(t, c.WritePage(5, make([]byte, 2048), nil))
	out := make([]byte, 2048)

	hw.Chips[0].InjectECC(5, 1, 2, 0, 0)
	res, err := c.ReadPage(5, out, nil)
	require.NoError(t, err)
	require.Equal(t, gpmi.ReadResult{Corrected: 3}, res)
	require.Zero(t, logs.FilterMessage("ECC").Len())
	require.Equal(t, gpmi.ECCStats{}, c.Stats())

	hw.Chips[0].InjectECC(5, 7, 0, 0, 0)
	res, err = c.ReadPage(5, out, nil)
	require.NoError(t, err)
	require.Equal(t, gpmi.ReadResult{Corrected: 7}, res)
	require.Equal(t, 1, logs.FilterMessage("ECC").Len())

	hw.Chips[0].InjectECC(5, 0, gpmi.StatusUncorrectable, 0, 0)
	res, err = c.ReadPage(5, out, nil)
	require.NoError(t, err)
	require.Equal(t, gpmi.ReadResult{Failed: 1}, res)
	require.Equal(t, gpmi.ECCStats{Corrected: 7, Failed: 1}, c.Stats())
}

func TestController_badBlocks(t *testing.T) {
	// i.MX23 only sees factory marks once transcribed; see TestTranscribe.
	for _, g := range []gpmi.Generation{gpmi.MX28, gpmi.MX50} {
		t.Run(g.String(), func(t *testing.T) {
			chip := newTestChip()
			chip.MarkFactoryBad(9)
			hw := gpmitest.New(g, chip)
			c := newController(t, hw, nil)
			_, err := c.SetGeometry(testGeometry)
			require.NoError(t, err)
			for block, want := range map[int]bool{8: false, 9: true, 10: false} {
				bad, err := c.IsBlockBad(block)
				require.NoError(t, err)
				require.Equal(t, want, bad, "block %d", block)
			}
			require.NoError(t, c.MarkBlockBad(int64(10*testGeometry.BlockSize+4096)))
			bad, err := c.IsBlockBad(10)
			require.NoError(t, err)
			require.True(t, bad)
		})
	}
}

func TestController_IgnoreBadBlocks(t *testing.T) {
	chip := newTestChip()
	chip.MarkFactoryBad(2)
	hw := gpmitest.New(gpmi.MX28, chip)
	c := newController(t, hw, func(o *gpmi.Opts) { o.IgnoreBadBlocks = true })
	_, err := c.SetGeometry(testGeometry)
	require.NoError(t, err)
	bad, err := c.IsBlockBad(2)
	require.NoError(t, err)
	require.False(t, bad)
}

func TestController_WriteOOB(t *testing.T) {
	c, hw := newReady(t, gpmi.MX28)
	enables, _ := hw.Clock.Counts()
	err := c.WriteOOB(0, []byte{0})
	require.ErrorIs(t, err, gpmi.ErrOOBWriteUnsupported)
	after, _ := hw.Clock.Counts()
	require.Equal(t, enables, after)
	programs, _ := hw.Chips[0].Counts()
	require.Zero(t, programs)
}

func TestController_EraseBlock(t *testing.T) {
	c, hw := newReady(t, gpmi.MX28)
	require.NoError(t, c.WritePage(testPagesPerBlock+1, make([]byte, 2048), nil))
	require.NoError(t, c.EraseBlock(1))
	require.Equal(t, bytes.Repeat([]byte{0xff}, 2176), hw.Chips[0].Page(testPagesPerBlock+1))
	_, erases := hw.Chips[0].Counts()
	require.Equal(t, 1, erases)
}

func TestController_operationFailed(t *testing.T) {
	c, hw := newReady(t, gpmi.MX28)
	hw.Chips[0].FailRow(testPagesPerBlock * 2)
	require.ErrorIs(t, c.WritePage(testPagesPerBlock*2, make([]byte, 2048), nil), gpmi.ErrOperationFailed)
	require.ErrorIs(t, c.EraseBlock(2), gpmi.ErrOperationFailed)
	require.ErrorIs(t, c.WritePageRaw(testPagesPerBlock*2, 0, []byte{1}), gpmi.ErrOperationFailed)
}

func TestController_raw(t *testing.T) {
	c, hw := newReady(t, gpmi.MX28)
	buf := []byte("raw access")
	require.NoError(t, c.WritePageRaw(12, 100, buf))
	require.Equal(t, buf, hw.Chips[0].Page(12)[100:110])
	out := make([]byte, len(buf))
	require.NoError(t, c.ReadPageRaw(12, 100, out))
	require.Equal(t, buf, out)
	oob := make([]byte, 200)
	require.NoError(t, c.ReadOOB(12, oob))
	require.Equal(t, bytes.Repeat([]byte{0xff}, 200), oob)
}

func TestController_inadequateBuffer(t *testing.T) {
	c, _ := newReady(t, gpmi.MX28)
	require.ErrorIs(t, c.WritePageRaw(0, 0, make([]byte, 5000)), gpmi.ErrInadequateDMABuffer)
	require.ErrorIs(t, c.ReadPageRaw(0, 0, make([]byte, 5000)), gpmi.ErrInadequateDMABuffer)
}

func TestController_mapping(t *testing.T) {
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	m := hw.WithMapping()
	c := newController(t, hw, nil)
	_, err := c.SetGeometry(testGeometry)
	require.NoError(t, err)
	live := hw.Mem.Live()
	data := randomPage(rand.New(rand.NewSource(3)), 2048)
	require.NoError(t, c.WritePage(7, data, nil))
	out := make([]byte, 2048)
	_, err = c.ReadPage(7, out, nil)
	require.NoError(t, err)
	require.Equal(t, data, out)
	// Raw transfers larger than the internal buffer are mapped too.
	big := make([]byte, 2176)
	require.NoError(t, c.ReadPageRaw(7, 0, big))
	require.NotZero(t, m.Mapped())
	require.Equal(t, live, hw.Mem.Live())
}

func TestController_multiChip(t *testing.T) {
	hw := gpmitest.New(gpmi.MX28, newTestChip(), newTestChip())
	c := newController(t, hw, nil)
	p := testGeometry
	p.ChipCount = 2
	_, err := c.SetGeometry(p)
	require.NoError(t, err)
	ppc := p.PagesPerChip()
	require.NoError(t, c.WritePage(ppc+4, make([]byte, 2048), nil))
	p0, _ := hw.Chips[0].Counts()
	p1, _ := hw.Chips[1].Counts()
	require.Equal(t, 0, p0)
	require.Equal(t, 1, p1)
	require.Equal(t, byte(0), hw.Chips[1].Page(4)[100])
	// Two chips load the bus.
	require.Equal(t, gpmi.SafeTiming.RelaxFor(2).DataSetup, 85*time.Nanosecond)
	require.Equal(t, 9, c.HardwareTiming().DataSetupCycles)
}

func TestController_concurrent(t *testing.T) {
	c, _ := newReady(t, gpmi.MX28)
	r := rand.New(rand.NewSource(4))
	pages := make([][]byte, 8)
	for i := range pages {
		pages[i] = randomPage(r, 2048)
		require.NoError(t, c.WritePage(i, pages[i], nil))
	}
	var eg errgroup.Group
	for i := range pages {
		i := i
		eg.Go(func() error {
			out := make([]byte, 2048)
			if _, err := c.ReadPage(i, out, nil); err != nil {
				return err
			}
			if !bytes.Equal(out, pages[i]) {
				return errors.Errorf("page %d corrupted", i)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}

func TestController_chip(t *testing.T) {
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	c := newController(t, hw, nil)
	require.NoError(t, c.Reset(0))
	id, err := c.ReadID(0, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{0x2c, 0xda}, id)
	ready, err := c.Ready(0)
	require.NoError(t, err)
	require.True(t, ready)
	hw.GPMI.Set(gpmitest.RegGPMIStat, 0)
	ready, err = c.Ready(0)
	require.NoError(t, err)
	require.False(t, ready)
}

func TestController_timing(t *testing.T) {
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	c := newController(t, hw, nil)
	_, err := c.Ready(0)
	require.NoError(t, err)
	// SafeTiming at 100MHz.
	require.Equal(t, gpmi.HardwareTiming{DataSetupCycles: 8, DataHoldCycles: 6, AddressSetupCycles: 3, SampleDelayFactor: 5}, c.HardwareTiming())
	require.Equal(t, uint32(0x030608), hw.GPMI.Get(gpmitest.RegGPMITiming0))
	require.Equal(t, uint32(1<<17|5<<12), hw.GPMI.Get(gpmitest.RegGPMICtrl1)&(1<<17|1<<16|0xf<<12))

	c.SetTiming(gpmi.Timing{DataSetup: 40 * time.Nanosecond, DataHold: 40 * time.Nanosecond, AddressSetup: 40 * time.Nanosecond})
	hw.Clock.SetRate(25 * physic.MegaHertz)
	_, err = c.Ready(0)
	require.NoError(t, err)
	h := c.HardwareTiming()
	require.Equal(t, gpmi.HardwareTiming{DataSetupCycles: 1, DataHoldCycles: 1, AddressSetupCycles: 1, HalfPeriods: true}, h)
	require.Equal(t, uint32(1<<16), hw.GPMI.Get(gpmitest.RegGPMICtrl1)&(1<<17|1<<16|0xf<<12))
}

func TestController_dmaTimeout(t *testing.T) {
	mock := clock.NewMock()
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	c := newController(t, hw, func(o *gpmi.Opts) { o.Clock = mock })
	hw.Channels[0].DropCompletion(true)
	errc := make(chan error)
	go func() { errc <- c.Reset(0) }()
	var err error
	for err == nil {
		select {
		case err = <-errc:
		case <-time.After(time.Millisecond):
			mock.Add(100 * time.Millisecond)
		}
	}
	require.ErrorIs(t, err, gpmi.ErrDMATimeout)
	_, terminated := hw.Channels[0].Counts()
	require.Equal(t, 1, terminated)
	require.False(t, hw.Clock.Enabled())

	hw.Channels[0].DropCompletion(false)
	require.NoError(t, c.Reset(0))
}

func TestController_eccTimeout(t *testing.T) {
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	c := newController(t, hw, func(o *gpmi.Opts) { o.ECCTimeout = 20 * time.Millisecond })
	_, err := c.SetGeometry(testGeometry)
	require.NoError(t, err)
	data := randomPage(rand.New(rand.NewSource(5)), 2048)
	require.NoError(t, c.WritePage(1, data, nil))

	hw.Engine.DropInterrupt(true)
	out := make([]byte, 2048)
	_, err = c.ReadPage(1, out, nil)
	require.ErrorIs(t, err, gpmi.ErrECCTimeout)
	// The data was transferred nevertheless.
	require.Equal(t, data, out)

	// The write is still committed to the chip.
	data2 := randomPage(rand.New(rand.NewSource(6)), 2048)
	require.ErrorIs(t, c.WritePage(2, data2, nil), gpmi.ErrECCTimeout)
	programs, _ := hw.Chips[0].Counts()
	require.Equal(t, 2, programs)

	hw.Engine.DropInterrupt(false)
	_, err = c.ReadPage(1, out, nil)
	require.NoError(t, err)
	res, err := c.ReadPage(2, out, nil)
	require.NoError(t, err)
	require.Zero(t, res.Failed)
	require.Equal(t, data2, out)
}

func TestController_eccTimeout_programFails(t *testing.T) {
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	c := newController(t, hw, func(o *gpmi.Opts) { o.ECCTimeout = 20 * time.Millisecond })
	_, err := c.SetGeometry(testGeometry)
	require.NoError(t, err)
	hw.Chips[0].FailRow(3)
	hw.Engine.DropInterrupt(true)
	err = c.WritePage(3, randomPage(rand.New(rand.NewSource(7)), 2048), nil)
	require.ErrorIs(t, err, gpmi.ErrECCTimeout)
	require.ErrorIs(t, err, gpmi.ErrOperationFailed)
}

func TestController_Halt(t *testing.T) {
	wp := &gpiotest.Pin{N: "WP#", Num: 1}
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	o := hw.Opts()
	o.WriteProtect = wp
	c, err := gpmi.New(o)
	require.NoError(t, err)
	require.Equal(t, gpio.High, wp.Read())
	_, err = c.SetGeometry(testGeometry)
	require.NoError(t, err)

	require.NoError(t, c.Halt())
	require.NoError(t, c.Halt())
	require.Equal(t, gpio.Low, wp.Read())
	require.False(t, hw.IRQ.Installed())
	require.Zero(t, hw.Mem.Live())
	_, err = c.ReadPage(0, make([]byte, 2048), nil)
	require.ErrorIs(t, err, gpmi.ErrHalted)
	require.ErrorIs(t, c.Reset(0), gpmi.ErrHalted)
	_, err = c.SetGeometry(testGeometry)
	require.ErrorIs(t, err, gpmi.ErrHalted)
	_, err = c.Probe()
	require.ErrorIs(t, err, gpmi.ErrHalted)
}
