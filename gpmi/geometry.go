// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	// MetadataSize is the number of metadata bytes the BCH engine prepends to
	// the first chunk of every page. Changing it breaks the on-medium format.
	MetadataSize = 10

	chunkSizeSDR = 512
	chunkSizeDDR = 1024

	gf13Bits = 13
	gf14Bits = 14
)

// Strength is one row of a StrengthTable.
type Strength struct {
	PageSize int
	OOBSize  int
	// ECC is the number of bits each chunk can correct.
	ECC int
}

// StrengthTable maps a NAND page/OOB size pair to the ECC strength the BCH
// engine must use for it.
type StrengthTable []Strength

// Lookup returns the ECC strength registered for pageSize and oobSize.
func (s StrengthTable) Lookup(pageSize, oobSize int) (int, bool) {
	for _, e := range s {
		if e.PageSize == pageSize && e.OOBSize == oobSize {
			return e.ECC, true
		}
	}
	return 0, false
}

// DefaultStrengthTable is used when Opts.Strengths is nil.
//
// There is no entry for 2048+64 pages. The 8192 byte entries only fit the
// page with 1024 byte chunks, that is on DDR interfaces or with 640 OOB
// bytes.
var DefaultStrengthTable = StrengthTable{
	{PageSize: 2048, OOBSize: 112, ECC: 8},
	{PageSize: 2048, OOBSize: 128, ECC: 8},
	{PageSize: 4096, OOBSize: 128, ECC: 8},
	{PageSize: 4096, OOBSize: 218, ECC: 16},
	{PageSize: 4096, OOBSize: 224, ECC: 16},
	{PageSize: 8192, OOBSize: 376, ECC: 24},
	{PageSize: 8192, OOBSize: 436, ECC: 24},
	{PageSize: 8192, OOBSize: 448, ECC: 24},
	{PageSize: 8192, OOBSize: 640, ECC: 24},
}

// GeometryParams is the input of ComputeGeometry.
type GeometryParams struct {
	PageSize int
	OOBSize  int
	Table    StrengthTable
	// SwapBlockMark requests the location of the physical block mark inside
	// the data view of the page.
	SwapBlockMark bool
	// DDR selects 1024 byte chunks and GF(2^14) parity, as used by ONFI and
	// Toggle synchronous interfaces.
	DDR bool
}

// Geometry is the ECC layout the BCH engine applies to every page.
type Geometry struct {
	ECCStrength           int
	ECCChunkSize          int
	ECCChunkCount         int
	MetadataSize          int
	PageSize              int // Physical bytes moved per page.
	PayloadSize           int
	AuxiliarySize         int
	AuxiliaryStatusOffset int
	DDR                   bool

	// Only valid when SwapBlockMark is true.
	SwapBlockMark       bool
	BlockMarkByteOffset int
	BlockMarkBitOffset  int
}

// ComputeGeometry derives the BCH layout for a NAND page.
func ComputeGeometry(p GeometryParams) (Geometry, error) {
	if p.PageSize <= 0 || p.OOBSize <= 0 {
		return Geometry{}, errors.Wrapf(ErrUnsupportedGeometry, "gpmi: invalid page %d+%d", p.PageSize, p.OOBSize)
	}
	table := p.Table
	if table == nil {
		table = DefaultStrengthTable
	}
	strength, ok := table.Lookup(p.PageSize, p.OOBSize)
	if !ok {
		return Geometry{}, errors.Wrapf(ErrUnsupportedGeometry, "gpmi: no ECC strength for page %d+%d", p.PageSize, p.OOBSize)
	}
	chunk := chunkSizeSDR
	gfBits := gf13Bits
	if p.DDR {
		chunk = chunkSizeDDR
		gfBits = gf14Bits
	}
	if p.PageSize%chunk != 0 {
		return Geometry{}, errors.Wrapf(ErrUnsupportedGeometry, "gpmi: page %d is not a multiple of %d byte chunks", p.PageSize, chunk)
	}
	g := Geometry{
		ECCStrength:   strength,
		ECCChunkSize:  chunk,
		ECCChunkCount: p.PageSize / chunk,
		MetadataSize:  MetadataSize,
		PageSize:      p.PageSize + p.OOBSize,
		PayloadSize:   p.PageSize,
		DDR:           p.DDR,
	}
	if p.DDR {
		// The synchronous interfaces only move what the BCH layout covers.
		g.PageSize = (g.layoutBits(gfBits) + 7) / 8
	}
	metaAligned := roundUp(MetadataSize, 4)
	g.AuxiliarySize = metaAligned + roundUp(g.ECCChunkCount, 4)
	g.AuxiliaryStatusOffset = metaAligned

	if err := g.checkFits(p.OOBSize, gfBits); err != nil {
		return Geometry{}, err
	}
	if !p.SwapBlockMark {
		return g, nil
	}
	byteOff, bitOff, err := blockMarkOffset(p.PageSize, chunk, strength*gfBits)
	if err != nil {
		return Geometry{}, err
	}
	g.SwapBlockMark = true
	g.BlockMarkByteOffset = byteOff
	g.BlockMarkBitOffset = bitOff
	return g, nil
}

// checkFits makes sure the metadata and parity of every chunk fit in the
// physical page.
func (g *Geometry) checkFits(oobSize, gfBits int) error {
	bits := g.layoutBits(gfBits)
	if avail := (g.PayloadSize + oobSize) * 8; bits > avail {
		return errors.Wrapf(ErrUnsupportedGeometry, "gpmi: ECC layout needs %d bits, page has %d", bits, avail)
	}
	return nil
}

func (g *Geometry) layoutBits(gfBits int) int {
	return g.MetadataSize*8 + g.ECCChunkCount*(g.ECCChunkSize*8+g.ECCStrength*gfBits)
}

// blockMarkOffset locates the physical block mark, the first byte past the
// data area, inside the data view of a page.
//
// The BCH engine lays out the page as the metadata followed, for each chunk,
// by its data and then its parity bits. Removing the parity of the chunks
// before the mark gives its position in the data the host sees.
func blockMarkOffset(pageSize, chunkSize, eccBits int) (int, int, error) {
	dataBits := chunkSize * 8
	chunkBits := dataBits + eccBits
	markBit := pageSize*8 - MetadataSize*8
	chunkNum := markBit / chunkBits
	chunkBit := markBit - chunkNum*chunkBits
	if chunkBit >= dataBits {
		return 0, 0, errors.Wrapf(ErrBlockMarkInECCRegion, "gpmi: mark at bit %d of chunk %d", chunkBit, chunkNum)
	}
	markBit -= chunkNum * eccBits
	return markBit / 8, markBit % 8, nil
}

// AuxiliaryStatus returns the per chunk ECC status bytes inside aux.
func (g *Geometry) AuxiliaryStatus(aux []byte) []byte {
	return aux[g.AuxiliaryStatusOffset : g.AuxiliaryStatusOffset+g.ECCChunkCount]
}

// Layout returns the BCH flash layout for this geometry.
func (g *Geometry) Layout() Layout {
	return Layout{
		NBlocks:   g.ECCChunkCount - 1,
		MetaSize:  g.MetadataSize,
		ECC0:      g.ECCStrength >> 1,
		Data0Size: g.ECCChunkSize,
		PageSize:  g.PageSize,
		ECCN:      g.ECCStrength >> 1,
		DataNSize: g.ECCChunkSize,
		GF14:      g.DDR,
	}
}

func (g *Geometry) String() string {
	return fmt.Sprintf("%dx%d ECC%d", g.ECCChunkCount, g.ECCChunkSize, g.ECCStrength)
}

func roundUp(v, align int) int {
	return (v + align - 1) / align * align
}
