// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/nand/v3/gpmi"
	"periph.io/x/nand/v3/gpmi/gpmitest"
)

func TestController_clockBracket(t *testing.T) {
	ctrl := gomock.NewController(t)
	gpmiClk := NewMockClockSource(ctrl)
	apbh := NewMockClockSource(ctrl)
	gomock.InOrder(
		// Reset in New.
		gpmiClk.EXPECT().Enable().Return(nil),
		gpmiClk.EXPECT().Disable().Return(nil),
		// One transaction.
		apbh.EXPECT().Enable().Return(nil),
		gpmiClk.EXPECT().Enable().Return(nil),
		gpmiClk.EXPECT().Rate().Return(100*physic.MegaHertz),
		gpmiClk.EXPECT().Disable().Return(nil),
		apbh.EXPECT().Disable().Return(nil),
	)
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	c := newController(t, hw, func(o *gpmi.Opts) {
		o.GPMIClock = gpmiClk
		o.AuxClocks = []gpmi.ClockSource{apbh}
	})
	ready, err := c.Ready(0)
	require.NoError(t, err)
	require.True(t, ready)
}

func TestController_clockUnwind(t *testing.T) {
	ctrl := gomock.NewController(t)
	gpmiClk := NewMockClockSource(ctrl)
	apbh := NewMockClockSource(ctrl)
	gomock.InOrder(
		gpmiClk.EXPECT().Enable().Return(nil),
		gpmiClk.EXPECT().Disable().Return(nil),
		apbh.EXPECT().Enable().Return(nil),
		gpmiClk.EXPECT().Enable().Return(errors.New("gated")),
		apbh.EXPECT().Disable().Return(nil),
	)
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	c := newController(t, hw, func(o *gpmi.Opts) {
		o.GPMIClock = gpmiClk
		o.AuxClocks = []gpmi.ClockSource{apbh}
	})
	_, err := c.Ready(0)
	require.ErrorContains(t, err, "gated")
}

func TestController_submitError(t *testing.T) {
	ctrl := gomock.NewController(t)
	ch := NewMockDMAChannel(ctrl)
	ch.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(errors.New("descriptor fault"))
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	c := newController(t, hw, func(o *gpmi.Opts) { o.DMA = []gpmi.DMAChannel{ch} })
	err := c.Reset(0)
	require.ErrorContains(t, err, "descriptor fault")
	require.NotErrorIs(t, err, gpmi.ErrDMATimeout)
}

func TestController_terminate(t *testing.T) {
	ctrl := gomock.NewController(t)
	ch := NewMockDMAChannel(ctrl)
	gomock.InOrder(
		ch.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(func(c *gpmi.Chain, done func()) error {
			if c.Chip != 0 || c.Descriptors[0].Stage != gpmi.StageCommand {
				return errors.Errorf("unexpected %s", c)
			}
			// Never completes.
			return nil
		}),
		ch.EXPECT().Terminate().Return(nil),
	)
	hw := gpmitest.New(gpmi.MX28, newTestChip())
	c := newController(t, hw, func(o *gpmi.Opts) {
		o.DMA = []gpmi.DMAChannel{ch}
		o.DMATimeout = 10 * time.Millisecond
	})
	require.ErrorIs(t, c.Reset(0), gpmi.ErrDMATimeout)
}
