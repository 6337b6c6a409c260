// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpmitest is meant to be used to test drivers using the gpmi
// package.
//
// It models the register blocks, the APBH DMA channels, the BCH engine and
// large page NAND chips closely enough for a gpmi.Controller to run against
// them, including the bit level layout of ECC pages on the medium.
package gpmitest
