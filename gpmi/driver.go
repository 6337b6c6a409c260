// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/driver/driverreg"
)

// All returns the GPMI controllers found on the host.
func All() []Platform {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	out := make([]Platform, len(drv.all))
	copy(out, drv.all)
	return out
}

// Map maps the register windows of p.
func (p *Platform) Map() (*MMIO, *MMIO, error) {
	g, err := MapRegisters(p.GPMIBase, regBlockSize)
	if err != nil {
		return nil, nil, err
	}
	b, err := MapRegisters(p.BCHBase, regBlockSize)
	if err != nil {
		return nil, nil, multierr.Append(err, g.Close())
	}
	return g, b, nil
}

// driver implements driver.Impl.
type driver struct {
	mu         sync.Mutex
	all        []Platform
	devicesDir string
}

func (d *driver) String() string {
	return "gpmi"
}

func (d *driver) Prerequisites() []string {
	return nil
}

func (d *driver) After() []string {
	return nil
}

func (d *driver) Init() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	all, err := findPlatforms(d.devicesDir)
	if err != nil {
		return false, errors.Wrap(err, "gpmi: listing platform devices")
	}
	if len(all) == 0 {
		return false, errors.New("gpmi: no controller found")
	}
	d.all = all
	return true, nil
}

func (d *driver) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = nil
	// devicesDir is mocked in tests.
	d.devicesDir = "/sys/bus/platform/devices"
}

func init() {
	if runtime.GOOS == "linux" {
		drv.reset()
		driverreg.MustRegister(&drv)
	}
}

var drv driver
