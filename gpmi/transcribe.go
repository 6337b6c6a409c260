// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// RomGeometry is where the boot ROM searches for its control blocks.
//
// The ROM reads it from fuses, which are not accessible here; the defaults
// match unprogrammed fuses.
type RomGeometry struct {
	StrideSizeInPages        int
	SearchAreaStrideExponent uint
}

// DefaultRomGeometry is the ROM behavior with unprogrammed fuses.
var DefaultRomGeometry = RomGeometry{
	StrideSizeInPages:        64,
	SearchAreaStrideExponent: 2,
}

// Strides returns the number of strides in a search area.
func (r RomGeometry) Strides() int {
	return 1 << r.SearchAreaStrideExponent
}

// SearchAreaPages returns the size of a search area in pages.
func (r RomGeometry) SearchAreaPages() int {
	return r.Strides() * r.StrideSizeInPages
}

// validate checks that the search area fits in a chip of pagesPerChip pages.
func (r RomGeometry) validate(pagesPerChip int) error {
	if r.StrideSizeInPages <= 0 {
		return errors.Errorf("gpmi: ROM stride of %d pages", r.StrideSizeInPages)
	}
	if r.SearchAreaStrideExponent > 16 || r.SearchAreaPages() > pagesPerChip {
		return errors.Errorf("gpmi: ROM search area of %d strides of %d pages beyond chip of %d pages", r.Strides(), r.StrideSizeInPages, pagesPerChip)
	}
	return nil
}

func (r RomGeometry) String() string {
	return fmt.Sprintf("stride=%d pages, search area=%d strides", r.StrideSizeInPages, r.Strides())
}

const fingerprintOffset = 12

// fingerprint is stamped in the first page of every stride of the first
// search area once the block marks were transcribed.
var fingerprint = []byte("STMP")

// Transcribe moves the factory bad block marks of the whole medium to the
// first byte of the page, where the BCH layout keeps the first metadata
// byte, and stamps the first search area of chip 0 so that it is only done
// once. It returns true if the medium was transcribed by this call.
//
// It is only needed on generations that cannot swap the block mark; Probe
// calls it when required. An interrupted transcription is not resumed: the
// stamp is written last, so the next call scans the medium again, but marks
// already transcribed are not recognized in their original location anymore
// if their block was erased in between.
func (c *Controller) Transcribe() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.geo == nil {
		return false, c.notReady()
	}
	return c.transcribe()
}

func (c *Controller) transcribe() (bool, error) {
	found, err := c.findFingerprint()
	if err != nil || found {
		return false, err
	}
	c.log.Info("transcribing bad block marks")
	var errs error
	mark := make([]byte, 1)
	ppb := c.phys.PagesPerBlock()
	for block := 0; block < c.phys.Blocks(); block++ {
		chip, row, err := c.locate(block * ppb)
		if err != nil {
			return false, err
		}
		// The factory mark is the first OOB byte of the first page.
		if err := c.transact(func() error { return c.readRaw(chip, row, c.phys.PageSize, mark) }); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if mark[0] == 0xff {
			continue
		}
		c.log.Info("transcribing", zap.Int("block", block))
		errs = multierr.Append(errs, c.markBad(block))
	}
	errs = multierr.Append(errs, c.stamp())
	return errs == nil, errs
}

// findFingerprint scans the first search area of chip 0.
func (c *Controller) findFingerprint() (bool, error) {
	buf := make([]byte, len(fingerprint))
	for stride := 0; stride < c.opts.Rom.Strides(); stride++ {
		row := stride * c.opts.Rom.StrideSizeInPages
		if err := c.transact(func() error { return c.readRaw(0, row, fingerprintOffset, buf) }); err != nil {
			return false, err
		}
		if bytes.Equal(buf, fingerprint) {
			c.log.Debug("found transcription stamp", zap.Int("page", row))
			return true, nil
		}
	}
	return false, nil
}

// stamp erases the first search area of chip 0 and writes the fingerprint
// in the first page of every stride.
func (c *Controller) stamp() error {
	ppb := c.phys.PagesPerBlock()
	pages := c.opts.Rom.SearchAreaPages()
	blocks := (pages + ppb - 1) / ppb
	var errs error
	for block := 0; block < blocks; block++ {
		row := block * ppb
		if err := c.transact(func() error { return c.erase(0, row) }); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	page := make([]byte, c.phys.PageSize)
	fill(page, 0xff)
	copy(page[fingerprintOffset:], fingerprint)
	for stride := 0; stride < c.opts.Rom.Strides(); stride++ {
		row := stride * c.opts.Rom.StrideSizeInPages
		c.log.Debug("writing transcription stamp", zap.Int("page", row))
		if err := c.transact(func() error { return c.writeRaw(0, row, 0, page) }); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
