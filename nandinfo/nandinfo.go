// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package nandinfo is a database of raw NAND flash chips keyed by the bytes
// they return to the READ ID command.
//
// The data was collected from the manufacturers datasheets. Timings are the
// ones validated on i.MX boards, which are sometimes looser than the
// datasheet.
package nandinfo

import (
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrUnknownDevice is returned by Lookup when no entry matches.
var ErrUnknownDevice = errors.New("nandinfo: unknown device")

// Device describes one NAND chip.
type Device struct {
	// ID is the hex encoded prefix of the READ ID bytes identifying the chip.
	ID           string
	Name         string
	Manufacturer string
	// Cell is SLC or MLC.
	Cell       string
	ChipSize   int64
	BlockPages int
	PageSize   int
	OOBSize    int
	// ECC is the number of bits per 512 bytes the manufacturer requires the
	// host to correct.
	ECC int

	DataSetupNs    int
	DataHoldNs     int
	AddressSetupNs int
	SampleDelayNs  int
	// Zero when unknown.
	TREANs  int
	TRLOHNs int
	TRHOHNs int
}

// BlockSize returns the size of an erase block in bytes, excluding OOB.
func (d *Device) BlockSize() int {
	return d.BlockPages * d.PageSize
}

// HasPropagation reports whether the read access characteristics are known.
func (d *Device) HasPropagation() bool {
	return d.TREANs != 0 || d.TRLOHNs != 0 || d.TRHOHNs != 0
}

// DataSetup returns the data setup time.
func (d *Device) DataSetup() time.Duration {
	return time.Duration(d.DataSetupNs) * time.Nanosecond
}

// DataHold returns the data hold time.
func (d *Device) DataHold() time.Duration {
	return time.Duration(d.DataHoldNs) * time.Nanosecond
}

// AddressSetup returns the address setup time.
func (d *Device) AddressSetup() time.Duration {
	return time.Duration(d.AddressSetupNs) * time.Nanosecond
}

// SampleDelay returns the sample delay hint.
func (d *Device) SampleDelay() time.Duration {
	return time.Duration(d.SampleDelayNs) * time.Nanosecond
}

func (d *Device) String() string {
	return fmt.Sprintf("%s %s (%s, %dMiB, %d+%d x %d)", d.Manufacturer, d.Name, d.Cell, d.ChipSize>>20, d.PageSize, d.OOBSize, d.BlockPages)
}

// Lookup returns the device whose ID is the longest prefix of id.
func Lookup(id []byte) (*Device, error) {
	devs, err := load()
	if err != nil {
		return nil, err
	}
	h := hex.EncodeToString(id)
	var best *Device
	for i := range devs {
		d := &devs[i]
		if strings.HasPrefix(h, d.ID) && (best == nil || len(d.ID) > len(best.ID)) {
			best = d
		}
	}
	if best == nil {
		return nil, errors.Wrapf(ErrUnknownDevice, "id %s", h)
	}
	c := *best
	return &c, nil
}

// All returns every known device, sorted by ID.
func All() ([]Device, error) {
	devs, err := load()
	if err != nil {
		return nil, err
	}
	out := make([]Device, len(devs))
	copy(out, devs)
	return out, nil
}

//go:embed devices.json
var devicesJSON []byte

var load = sync.OnceValues(func() ([]Device, error) {
	return parse(devicesJSON)
})

func parse(b []byte) ([]Device, error) {
	var devs []Device
	if err := json.Unmarshal(b, &devs); err != nil {
		return nil, errors.Wrap(err, "nandinfo: decoding device table")
	}
	for i := range devs {
		d := &devs[i]
		d.ID = strings.ToLower(d.ID)
		if _, err := hex.DecodeString(d.ID); err != nil || len(d.ID) < 4 {
			return nil, errors.Errorf("nandinfo: %s: invalid id %q", d.Name, d.ID)
		}
		if d.PageSize <= 0 || d.OOBSize <= 0 || d.BlockPages <= 0 || d.ChipSize <= 0 {
			return nil, errors.Errorf("nandinfo: %s: invalid geometry", d.Name)
		}
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID < devs[j].ID })
	return devs, nil
}
