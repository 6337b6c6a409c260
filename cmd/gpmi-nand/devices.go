// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"periph.io/x/nand/v3/nandinfo"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the NAND chips with known characteristics.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printDevices(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func printDevices(w io.Writer) error {
	devs, err := nandinfo.All()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tName\tManufacturer\tCell\tPage\tPages/Block\tECC")
	for i := range devs {
		d := &devs[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d+%d\t%d\t%d\n", d.ID, d.Name, d.Manufacturer, d.Cell, d.PageSize, d.OOBSize, d.BlockPages, d.ECC)
	}
	return tw.Flush()
}
