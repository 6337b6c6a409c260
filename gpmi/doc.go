// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpmi drives the GPMI NAND interface and the BCH ECC engine of the
// Freescale i.MX23, i.MX28 and i.MX50 processors.
//
// The GPMI block sequences the NAND bus and the BCH block computes and
// checks the parity of every page on the fly, both fed by APBH DMA chains.
// The package builds those chains, programs the ECC layout and the bus
// timing, and keeps the factory bad block marks readable despite the BCH
// layout overwriting their location: i.MX28 and i.MX50 swap the mark with
// the first metadata byte on every access, i.MX23 transcribes the marks once
// and stamps the medium for the boot ROM.
//
// DMA channels, interrupts, clocks and DMA memory are consumed through
// interfaces; package gpmitest implements them in software.
//
// Use build tag periph_nand_gpmi_debug to enable verbose logging.
//
// # Datasheets
//
// i.MX28 Applications Processor Reference Manual, chapters 14 (APBH DMA),
// 15 (GPMI) and 16 (BCH).
package gpmi
