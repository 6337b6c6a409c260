// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// PageBuffer is the DMA buffer holding one page in the layout of the BCH
// engine: the payload followed by the auxiliary area.
type PageBuffer struct {
	mem     Mem
	payload int
	aux     int
}

func newPageBuffer(a Allocator, g *Geometry) (*PageBuffer, error) {
	m, err := a.Alloc(g.PayloadSize + g.AuxiliarySize)
	if err != nil {
		return nil, errors.Wrap(err, "gpmi: page buffer")
	}
	if len(m.Buf()) < g.PayloadSize+g.AuxiliarySize {
		_ = m.Close()
		return nil, errors.Wrapf(ErrInadequateDMABuffer, "gpmi: page buffer of %d bytes", len(m.Buf()))
	}
	return &PageBuffer{mem: m, payload: g.PayloadSize, aux: g.AuxiliarySize}, nil
}

// Payload returns the payload region.
func (p *PageBuffer) Payload() []byte {
	return p.mem.Buf()[:p.payload]
}

// Auxiliary returns the auxiliary region: metadata then status bytes.
func (p *PageBuffer) Auxiliary() []byte {
	return p.mem.Buf()[p.payload : p.payload+p.aux]
}

// PayloadAddr returns the bus address of the payload region.
func (p *PageBuffer) PayloadAddr() uint64 {
	return p.mem.PhysAddr()
}

// AuxiliaryAddr returns the bus address of the auxiliary region.
func (p *PageBuffer) AuxiliaryAddr() uint64 {
	return p.mem.PhysAddr() + uint64(p.payload)
}

// Close frees the buffer.
func (p *PageBuffer) Close() error {
	return p.mem.Close()
}

// dmaRegion is a buffer handed to the DMA engine for one transfer.
type dmaRegion struct {
	mem Mem
	// buf is the part of mem used by the transfer.
	buf    []byte
	mapped bool
}

func (r *dmaRegion) addr() uint64 {
	return r.mem.PhysAddr()
}

// outgoing prepares src to be read by the DMA engine. When the allocator
// cannot map src, it is copied into alt.
func outgoing(a Allocator, src []byte, alt Mem) (dmaRegion, error) {
	if r, ok := mapRegion(a, src); ok {
		return r, nil
	}
	b := alt.Buf()
	if len(b) < len(src) {
		return dmaRegion{}, errors.Wrapf(ErrInadequateDMABuffer, "gpmi: %d bytes out, buffer is %d", len(src), len(b))
	}
	copy(b, src)
	return dmaRegion{mem: alt, buf: b[:len(src)]}, nil
}

// incoming prepares dst to be written by the DMA engine, falling back on alt.
func incoming(a Allocator, dst []byte, alt Mem) (dmaRegion, error) {
	if r, ok := mapRegion(a, dst); ok {
		return r, nil
	}
	b := alt.Buf()
	if len(b) < len(dst) {
		return dmaRegion{}, errors.Wrapf(ErrInadequateDMABuffer, "gpmi: %d bytes in, buffer is %d", len(dst), len(b))
	}
	return dmaRegion{mem: alt, buf: b[:len(dst)]}, nil
}

func mapRegion(a Allocator, b []byte) (dmaRegion, bool) {
	m, ok := a.(Mapper)
	if !ok {
		return dmaRegion{}, false
	}
	mem, err := m.Map(b)
	if err != nil {
		return dmaRegion{}, false
	}
	return dmaRegion{mem: mem, buf: mem.Buf(), mapped: true}, true
}

// finish releases the region, copying the data back to dst when the
// fallback buffer was used. dst is nil for outgoing regions.
func (r *dmaRegion) finish(dst []byte) error {
	if r.mapped {
		return r.mem.Close()
	}
	copy(dst, r.buf)
	return nil
}

// closeAll closes every non nil Mem.
func closeAll(m ...Mem) error {
	var err error
	for _, x := range m {
		if x != nil {
			err = multierr.Append(err, x.Close())
		}
	}
	return err
}
