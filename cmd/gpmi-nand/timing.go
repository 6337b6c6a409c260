// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/nand/v3/gpmi"
	"periph.io/x/nand/v3/nandinfo"
)

var timingCmd = &cobra.Command{
	Use:   "timing",
	Short: "Print the bus timing programmed for a chip.",
	Long: "Print the GPMI timing registers for the safe timing or for a chip " +
		"identified by its READ ID bytes, at a given GPMI clock rate.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, _ := cmd.Flags().GetString("rate")
		id, _ := cmd.Flags().GetString("id")
		chips, _ := cmd.Flags().GetInt("chips")
		g, err := parseGeneration(generation)
		if err != nil {
			return err
		}
		var f physic.Frequency
		if err := f.Set(rate); err != nil {
			return err
		}
		t := gpmi.SafeTiming
		if id != "" {
			if t, err = deviceTiming(id); err != nil {
				return err
			}
		}
		return printTiming(cmd.OutOrStdout(), g, t, f, chips)
	},
}

func init() {
	rootCmd.AddCommand(timingCmd)
	timingCmd.Flags().String("rate", "100MHz", "GPMI clock rate")
	timingCmd.Flags().String("id", "", "hex encoded READ ID bytes of the chip")
	timingCmd.Flags().Int("chips", 1, "number of chips sharing the bus")
}

func deviceTiming(id string) (gpmi.Timing, error) {
	raw, err := hex.DecodeString(id)
	if err != nil {
		return gpmi.Timing{}, err
	}
	d, err := nandinfo.Lookup(raw)
	if err != nil {
		return gpmi.Timing{}, err
	}
	logger.Debug("device", zap.Stringer("device", d))
	return gpmi.DeviceTiming(d), nil
}

func printTiming(w io.Writer, gen gpmi.Generation, t gpmi.Timing, f physic.Frequency, chips int) error {
	caps, err := gen.Caps()
	if err != nil {
		return err
	}
	t = t.RelaxFor(chips)
	// Board propagation delays of the reference designs.
	h := gpmi.Synthesize(t, f.Period(), caps.Constraints(5*time.Nanosecond, 9*time.Nanosecond))
	if h.EyeMissed {
		logger.Warn("sample point outside of the data eye", zap.Stringer("timing", h))
	}
	if err := gpmi.WriteTiming(w, t, h); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "HW_GPMI_TIMING0 : %#08x\nHW_GPMI_CTRL1   : %#08x\n",
		gpmi.EncodeTiming0(h.Timing0()), gpmi.EncodeCtrl1Timing(h.Ctrl1()))
	return err
}
