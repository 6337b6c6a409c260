// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/hex"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"periph.io/x/nand/v3/gpmi"
	"periph.io/x/nand/v3/gpmi/gpmitest"
	"periph.io/x/nand/v3/nandinfo"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run page traffic against simulated controllers.",
	Long: "Probe simulated controllers populated with the given chip, then " +
		"write and read back random pages on all of them concurrently and " +
		"print the final state of the first one.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		chips, _ := cmd.Flags().GetInt("chips")
		controllers, _ := cmd.Flags().GetInt("controllers")
		pages, _ := cmd.Flags().GetInt("pages")
		seed, _ := cmd.Flags().GetInt64("seed")
		g, err := parseGeneration(generation)
		if err != nil {
			return err
		}
		raw, err := hex.DecodeString(id)
		if err != nil {
			return err
		}
		d, err := nandinfo.Lookup(raw)
		if err != nil {
			return err
		}
		sim := simulation{gen: g, dev: d, id: raw, chips: chips, pages: pages, seed: seed}
		ctrls, err := sim.run(controllers)
		for _, c := range ctrls {
			defer c.Halt()
		}
		if err != nil {
			return err
		}
		return ctrls[0].Report(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().String("id", "2c48002600", "hex encoded READ ID bytes of the simulated chips")
	simulateCmd.Flags().Int("chips", 1, "chips per controller")
	simulateCmd.Flags().Int("controllers", 2, "independent controllers")
	simulateCmd.Flags().Int("pages", 32, "pages written and read back per controller")
	simulateCmd.Flags().Int64("seed", 1, "random seed of the page content")
}

type simulation struct {
	gen   gpmi.Generation
	dev   *nandinfo.Device
	id    []byte
	chips int
	pages int
	seed  int64
}

// run probes n controllers and runs the traffic on all of them at once.
func (s *simulation) run(n int) ([]*gpmi.Controller, error) {
	ctrls := make([]*gpmi.Controller, n)
	for i := range ctrls {
		chips := make([]*gpmitest.Chip, s.chips)
		for j := range chips {
			chips[j] = gpmitest.NewChipFor(s.dev, s.id)
		}
		o := gpmitest.New(s.gen, chips...).Opts()
		o.Logger = logger.With(zap.Int("controller", i))
		c, err := gpmi.New(o)
		if err != nil {
			return ctrls[:i], err
		}
		ctrls[i] = c
		if _, err := c.Probe(); err != nil {
			return ctrls[:i+1], err
		}
	}
	var eg errgroup.Group
	for i, c := range ctrls {
		c := c
		r := rand.New(rand.NewSource(s.seed + int64(i)))
		eg.Go(func() error { return s.traffic(c, r) })
	}
	return ctrls, eg.Wait()
}

func (s *simulation) traffic(c *gpmi.Controller, r *rand.Rand) error {
	g, err := c.Geometry()
	if err != nil {
		return err
	}
	p := c.PhysicalGeometry()
	total := p.PagesPerChip() * p.ChipCount
	data := make([]byte, g.PayloadSize)
	got := make([]byte, g.PayloadSize)
	for i := 0; i < s.pages; i++ {
		page := r.Intn(total)
		r.Read(data)
		if err := c.EraseBlock(page / p.PagesPerBlock()); err != nil {
			return err
		}
		if err := c.WritePage(page, data, nil); err != nil {
			return err
		}
		res, err := c.ReadPage(page, got, nil)
		if err != nil {
			return err
		}
		if res.Failed != 0 || !bytes.Equal(data, got) {
			return errors.Errorf("%s: page %d mismatch (%d chunks failed)", c, page, res.Failed)
		}
		logger.Debug("page verified", zap.Stringer("controller", c), zap.Int("page", page))
	}
	return nil
}
