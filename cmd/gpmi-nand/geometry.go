// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"periph.io/x/nand/v3/gpmi"
)

var geometryCmd = &cobra.Command{
	Use:   "geometry",
	Short: "Print the BCH layout of a page.",
	Long: "Print the BCH layout the controller applies to a page of the given " +
		"size, including the location of the factory bad block mark.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		oob, _ := cmd.Flags().GetInt("oob")
		ddr, _ := cmd.Flags().GetBool("ddr")
		layout, _ := cmd.Flags().GetBool("registers")
		g, err := parseGeneration(generation)
		if err != nil {
			return err
		}
		return printGeometry(cmd.OutOrStdout(), g, page, oob, ddr, layout)
	},
}

func init() {
	rootCmd.AddCommand(geometryCmd)
	geometryCmd.Flags().Int("page", 2048, "page data size in bytes")
	geometryCmd.Flags().Int("oob", 64, "page OOB size in bytes")
	geometryCmd.Flags().Bool("ddr", false, "use the synchronous interface layout")
	geometryCmd.Flags().Bool("registers", false, "also print the BCH layout registers")
}

func printGeometry(w io.Writer, gen gpmi.Generation, page, oob int, ddr, registers bool) error {
	caps, err := gen.Caps()
	if err != nil {
		return err
	}
	if ddr && !caps.DDR {
		return errors.Errorf("%s has no synchronous interface", gen)
	}
	g, err := gpmi.ComputeGeometry(gpmi.GeometryParams{
		PageSize:      page,
		OOBSize:       oob,
		SwapBlockMark: caps.SwapBlockMark,
		DDR:           ddr,
	})
	if err != nil {
		return err
	}
	logger.Debug("geometry", zap.Stringer("generation", gen), zap.Stringer("layout", &g))
	if err := gpmi.WriteGeometry(w, &g); err != nil {
		return err
	}
	if !registers {
		return nil
	}
	l0, l1, err := gen.EncodeLayout(g.Layout())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "FLASH0LAYOUT0 : %#08x\nFLASH0LAYOUT1 : %#08x\n", l0, l1)
	return err
}
