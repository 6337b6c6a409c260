// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// gpmi-nand computes the BCH layout and the bus timing the i.MX GPMI
// controller uses for a NAND chip, and exercises the driver against a
// simulated controller.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"periph.io/x/nand/v3/gpmi"
)

var (
	generation string
	verbose    bool
	logger     = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "gpmi-nand",
	Short:         "Inspect the i.MX GPMI NAND controller configuration.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !verbose {
			return nil
		}
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&generation, "generation", "g", "mx28", "controller generation: mx23, mx28 or mx50")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log the driver activity")
}

// parseGeneration accepts "mx28", "imx28" or "i.MX28".
func parseGeneration(s string) (gpmi.Generation, error) {
	name := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(s), "i."), "i")
	for _, g := range []gpmi.Generation{gpmi.MX23, gpmi.MX28, gpmi.MX50} {
		if strings.TrimPrefix(strings.ToLower(g.String()), "i.") == name {
			return g, nil
		}
	}
	return 0, errors.Errorf("unknown generation %q", s)
}

func main() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gpmi-nand: %s.\n", err)
		os.Exit(1)
	}
}
