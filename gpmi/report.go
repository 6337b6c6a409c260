// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// row is one line of a report.
type row struct {
	name  string
	value interface{}
}

func writeRows(w io.Writer, rows []row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s\t: %v\n", r.name, r.value); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WritePhysicalGeometry prints p.
func WritePhysicalGeometry(w io.Writer, p PhysicalGeometry) error {
	return writeRows(w, []row{
		{"Chip Count", p.ChipCount},
		{"Chip Size in Bytes", p.ChipSize},
		{"Block Size in Bytes", p.BlockSize},
		{"Page Data Size in Bytes", p.PageSize},
		{"Page OOB Size in Bytes", p.OOBSize},
	})
}

// WriteCaps prints the capabilities of a generation.
func WriteCaps(w io.Writer, g Generation, c Caps) error {
	return writeRows(w, []row{
		{"Generation", g},
		{"Description", c.Description},
		{"Max Chip Count", c.MaxChipCount},
		{"Max Data Setup Cycles", fmt.Sprintf("%#x", c.MaxDataSetupCycles)},
		{"Internal Data Setup", c.InternalDataSetup},
		{"Max Sample Delay Factor", fmt.Sprintf("%#x", c.MaxSampleDelayFactor)},
		{"Max DLL Clock Period", c.MaxDLLClockPeriod},
		{"Max DLL Delay", c.MaxDLLDelay},
		{"Block Mark Swapping", c.SwapBlockMark},
		{"DDR", c.DDR},
	})
}

// WriteGeometry prints the ECC layout.
func WriteGeometry(w io.Writer, g *Geometry) error {
	rows := []row{
		{"ECC Algorithm", "BCH"},
		{"ECC Strength", g.ECCStrength},
		{"Page Size in Bytes", g.PageSize},
		{"Metadata Size in Bytes", g.MetadataSize},
		{"ECC Chunk Size in Bytes", g.ECCChunkSize},
		{"ECC Chunk Count", g.ECCChunkCount},
		{"Payload Size in Bytes", g.PayloadSize},
		{"Auxiliary Size in Bytes", g.AuxiliarySize},
		{"Auxiliary Status Offset", g.AuxiliaryStatusOffset},
	}
	if g.SwapBlockMark {
		rows = append(rows,
			row{"Block Mark Byte Offset", g.BlockMarkByteOffset},
			row{"Block Mark Bit Offset", g.BlockMarkBitOffset})
	}
	return writeRows(w, rows)
}

// WriteRomGeometry prints r.
func WriteRomGeometry(w io.Writer, r RomGeometry) error {
	return writeRows(w, []row{
		{"Stride Size in Pages", r.StrideSizeInPages},
		{"Search Area Stride Exponent", r.SearchAreaStrideExponent},
	})
}

// WriteTiming prints a target timing and its register form.
func WriteTiming(w io.Writer, t Timing, h HardwareTiming) error {
	rows := []row{
		{"Data Setup", t.DataSetup},
		{"Data Hold", t.DataHold},
		{"Address Setup", t.AddressSetup},
		{"Sample Delay", t.SampleDelay},
	}
	if p := t.Propagation; p != nil {
		rows = append(rows, row{"tREA", p.TREA}, row{"tRLOH", p.TRLOH}, row{"tRHOH", p.TRHOH})
	}
	rows = append(rows,
		row{"Data Setup Cycles", h.DataSetupCycles},
		row{"Data Hold Cycles", h.DataHoldCycles},
		row{"Address Setup Cycles", h.AddressSetupCycles},
		row{"Use Half Periods", h.HalfPeriods},
		row{"Sample Delay Factor", h.SampleDelayFactor},
		row{"Eye Missed", h.EyeMissed})
	return writeRows(w, rows)
}

// Report prints the whole state of the controller.
func (c *Controller) Report(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	section := func(title string) error {
		_, err := fmt.Fprintf(w, "%s\n", title)
		return err
	}
	steps := []func() error{
		func() error { return section("NFC") },
		func() error { return WriteCaps(w, c.opts.Generation, c.caps) },
		func() error { return section("\nTiming") },
		func() error { return WriteTiming(w, c.timing, c.hw) },
		func() error { return section("\nROM Geometry") },
		func() error { return WriteRomGeometry(w, c.opts.Rom) },
	}
	if c.geo != nil {
		steps = append(steps,
			func() error { return section("\nPhysical Geometry") },
			func() error { return WritePhysicalGeometry(w, c.phys) },
			func() error { return section("\nNFC Geometry") },
			func() error { return WriteGeometry(w, c.geo) },
			func() error { return section("\nECC Statistics") },
			func() error {
				return writeRows(w, []row{{"Corrected", c.stats.Corrected}, {"Failed", c.stats.Failed}})
			})
	}
	for _, s := range steps {
		if err := s(); err != nil {
			return err
		}
	}
	return nil
}
