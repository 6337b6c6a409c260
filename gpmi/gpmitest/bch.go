// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmitest

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"periph.io/x/nand/v3/gpmi"
)

// BCH is the ECC engine. It follows the layout programmed in its registers
// but computes no real parity: parity bits are written as zeros and every
// decode is clean unless an error was injected with Chip.InjectECC.
type BCH struct {
	Generation gpmi.Generation
	Regs       *Registers
	IRQ        *Interrupt

	dropIRQ atomic.Bool

	mu    sync.Mutex
	pages int
}

// DropInterrupt makes the engine process pages without raising its
// completion interrupt.
func (b *BCH) DropInterrupt(drop bool) {
	b.dropIRQ.Store(drop)
}

// Pages returns the number of pages processed.
func (b *BCH) Pages() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pages
}

// layout is the programmed layout in bits.
type layout struct {
	gpmi.Layout
	chunks     int
	parityBits int
	payload    int
	auxSize    int
	statusOff  int
}

func (b *BCH) layout() (layout, error) {
	l, err := b.Generation.DecodeLayout(b.Regs.Get(RegBCHLayout0), b.Regs.Get(RegBCHLayout1))
	if err != nil {
		return layout{}, err
	}
	if l.Data0Size != l.DataNSize || l.ECC0 != l.ECCN || l.DataNSize == 0 {
		return layout{}, errors.Errorf("gpmitest: unsupported layout %#v", l)
	}
	gf := 13
	if l.GF14 {
		gf = 14
	}
	out := layout{Layout: l, chunks: l.NBlocks + 1, parityBits: l.ECCN * 2 * gf}
	out.payload = out.chunks * l.DataNSize
	out.statusOff = roundUp(l.MetaSize, 4)
	out.auxSize = out.statusOff + roundUp(out.chunks, 4)
	if bits := l.MetaSize*8 + out.chunks*(l.DataNSize*8+out.parityBits); bits > l.PageSize*8 {
		return layout{}, errors.Errorf("gpmitest: layout of %d bits in a %d bytes page", bits, l.PageSize)
	}
	return out, nil
}

func (b *BCH) transfer(chip *Chip, mem *Allocator, cmd gpmi.ECCCommand, payloadAddr, auxAddr uint64) error {
	l, err := b.layout()
	if err != nil {
		return err
	}
	payload, err := mem.Resolve(payloadAddr, l.payload)
	if err != nil {
		return err
	}
	aux, err := mem.Resolve(auxAddr, l.auxSize)
	if err != nil {
		return err
	}
	chip.withPageRegister(func(reg, inject []byte) {
		if l.PageSize > len(reg) {
			err = errors.Errorf("gpmitest: layout page of %d bytes, chip page is %d", l.PageSize, len(reg))
			return
		}
		raw := reg[:l.PageSize]
		if cmd == gpmi.ECCEncode {
			l.encode(raw, payload, aux)
		} else {
			l.decode(raw, payload, aux, inject)
		}
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.pages++
	b.mu.Unlock()
	b.Regs.Write32(RegCtrl0+0x4, BCHCompleteIRQ)
	if !b.dropIRQ.Load() {
		b.IRQ.Fire()
	}
	return nil
}

func (l *layout) encode(raw, payload, aux []byte) {
	bit := 0
	putBits(raw, bit, aux[:l.MetaSize])
	bit += l.MetaSize * 8
	for i := 0; i < l.chunks; i++ {
		putBits(raw, bit, payload[i*l.DataNSize:(i+1)*l.DataNSize])
		bit += l.DataNSize * 8
		for j := 0; j < l.parityBits; j++ {
			setBit(raw, bit+j, false)
		}
		bit += l.parityBits
	}
}

func (l *layout) decode(raw, payload, aux, inject []byte) {
	bit := 0
	getBits(raw, bit, aux[:l.MetaSize])
	bit += l.MetaSize * 8
	for i := 0; i < l.chunks; i++ {
		data := payload[i*l.DataNSize : (i+1)*l.DataNSize]
		getBits(raw, bit, data)
		erased := allOnes(data)
		bit += l.DataNSize * 8
		for j := 0; j < l.parityBits && erased; j++ {
			erased = getBit(raw, bit+j)
		}
		bit += l.parityBits
		status := gpmi.StatusClean
		switch {
		case i < len(inject):
			status = inject[i]
		case erased:
			status = gpmi.StatusErased
		}
		aux[l.statusOff+i] = status
	}
}

// Bits are numbered LSB first, as the BCH engine serializes them.

func getBit(b []byte, n int) bool {
	return b[n>>3]>>(uint(n)&7)&1 != 0
}

func setBit(b []byte, n int, v bool) {
	if v {
		b[n>>3] |= 1 << (uint(n) & 7)
	} else {
		b[n>>3] &^= 1 << (uint(n) & 7)
	}
}

func putBits(dst []byte, bit int, src []byte) {
	if bit&7 == 0 {
		copy(dst[bit>>3:], src)
		return
	}
	for i := 0; i < len(src)*8; i++ {
		setBit(dst, bit+i, getBit(src, i))
	}
}

func getBits(src []byte, bit int, dst []byte) {
	if bit&7 == 0 {
		copy(dst, src[bit>>3:])
		return
	}
	for i := 0; i < len(dst)*8; i++ {
		setBit(dst, i, getBit(src, bit+i))
	}
}

func allOnes(b []byte) bool {
	for _, v := range b {
		if v != 0xff {
			return false
		}
	}
	return true
}

func roundUp(v, align int) int {
	return (v + align - 1) / align * align
}
