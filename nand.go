// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package nand drives the NAND flash controllers found on SoCs.
//
// Importing it registers the controller drivers with driverreg.
package nand

import (
	"periph.io/x/conn/v3/driver/driverreg"

	// Make sure the controller drivers are registered.
	_ "periph.io/x/nand/v3/gpmi"
)

// Init calls driverreg.Init() and returns it as-is.
//
// The only difference is that by calling nand.Init(), you are guaranteed to
// have all the controller drivers implemented in this library to be
// implicitly loaded.
func Init() (*driverreg.State, error) {
	return driverreg.Init()
}
