// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmitest

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/nand/v3/nandinfo"
)

// NAND commands understood by Chip.
const (
	cmdRead0     = 0x00
	cmdReadStart = 0x30
	cmdSeqIn     = 0x80
	cmdPageProg  = 0x10
	cmdErase1    = 0x60
	cmdErase2    = 0xd0
	cmdStatus    = 0x70
	cmdReadID    = 0x90
	cmdReset     = 0xff

	statusReady    = 0xc0
	statusFail     = 0x01
	statusReadOnly = 0x80
)

// Chip is a large page NAND chip. Pages are allocated on first program so
// that multi gigabyte chips are cheap to model.
type Chip struct {
	mu sync.Mutex

	ID            []byte
	PageSize      int
	OOBSize       int
	PagesPerBlock int
	Blocks        int

	pages map[int][]byte
	// reg is the page register.
	reg    []byte
	column int
	row    int
	// out is what the next data read returns, when not the page register.
	out    []byte
	status byte
	last   byte

	programs  int
	erases    int
	failRows  map[int]bool
	eccInject map[int][]byte
}

// NewChip returns an erased chip.
func NewChip(id []byte, pageSize, oobSize, pagesPerBlock, blocks int) *Chip {
	return &Chip{
		ID:            id,
		PageSize:      pageSize,
		OOBSize:       oobSize,
		PagesPerBlock: pagesPerBlock,
		Blocks:        blocks,
		pages:         map[int][]byte{},
		reg:           make([]byte, pageSize+oobSize),
		status:        statusReady,
		failRows:      map[int]bool{},
		eccInject:     map[int][]byte{},
	}
}

// NewChipFor returns an erased chip with the geometry of d. id is the full
// READ ID answer, d.ID only being a prefix.
func NewChipFor(d *nandinfo.Device, id []byte) *Chip {
	blocks := int(d.ChipSize / int64(d.BlockSize()))
	return NewChip(id, d.PageSize, d.OOBSize, d.BlockPages, blocks)
}

func (c *Chip) String() string {
	return fmt.Sprintf("Chip(%x, %d+%d x %d x %d)", c.ID, c.PageSize, c.OOBSize, c.PagesPerBlock, c.Blocks)
}

// Rows returns the number of pages of the chip.
func (c *Chip) Rows() int {
	return c.PagesPerBlock * c.Blocks
}

// Page returns a copy of the raw content of row, data then OOB.
func (c *Chip) Page(row int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, c.PageSize+c.OOBSize)
	if p, ok := c.pages[row]; ok {
		copy(out, p)
	} else {
		fillOnes(out)
	}
	return out
}

// SetPage overwrites the raw content of row, like a factory would.
func (c *Chip) SetPage(row int, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.page(row)
	copy(p, raw)
}

// MarkFactoryBad writes a factory bad block mark in the first OOB byte of
// the first page of block.
func (c *Chip) MarkFactoryBad(block int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page(block * c.PagesPerBlock)[c.PageSize] = 0
}

// FailRow makes program and erase operations on row report a failure.
func (c *Chip) FailRow(row int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failRows[row] = true
}

// InjectECC makes the BCH engine report status for the chunks of row,
// instead of a clean decode.
func (c *Chip) InjectECC(row int, status ...byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eccInject[row] = status
}

// Counts returns the number of program and erase operations.
func (c *Chip) Counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.programs, c.erases
}

func (c *Chip) page(row int) []byte {
	p, ok := c.pages[row]
	if !ok {
		p = make([]byte, c.PageSize+c.OOBSize)
		fillOnes(p)
		c.pages[row] = p
	}
	return p
}

// Command latches cmd followed by the address cycles.
func (c *Chip) Command(cmd byte, addr []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = nil
	switch cmd {
	case cmdRead0, cmdSeqIn:
		if len(addr) != 5 {
			return errors.Errorf("gpmitest: command %#02x with %d address cycles", cmd, len(addr))
		}
		c.column = int(addr[0]) | int(addr[1])<<8
		c.row = int(addr[2]) | int(addr[3])<<8 | int(addr[4])<<16
		if err := c.checkRow(); err != nil {
			return err
		}
		if cmd == cmdSeqIn {
			fillOnes(c.reg)
		}
	case cmdReadStart:
		if c.last != cmdRead0 {
			return errors.New("gpmitest: READSTART without READ0")
		}
		if p, ok := c.pages[c.row]; ok {
			copy(c.reg, p)
		} else {
			fillOnes(c.reg)
		}
	case cmdPageProg:
		if c.last != cmdSeqIn {
			return errors.New("gpmitest: PAGEPROG without SEQIN")
		}
		c.programs++
		if c.failRows[c.row] {
			c.status = statusReady | statusFail
			break
		}
		c.status = statusReady
		p := c.page(c.row)
		for i := range p {
			p[i] &= c.reg[i]
		}
	case cmdErase1:
		if len(addr) != 3 {
			return errors.Errorf("gpmitest: erase with %d address cycles", len(addr))
		}
		c.row = int(addr[0]) | int(addr[1])<<8 | int(addr[2])<<16
		if err := c.checkRow(); err != nil {
			return err
		}
	case cmdErase2:
		if c.last != cmdErase1 {
			return errors.New("gpmitest: ERASE2 without ERASE1")
		}
		c.erases++
		if c.failRows[c.row] {
			c.status = statusReady | statusFail
			break
		}
		c.status = statusReady
		first := c.row - c.row%c.PagesPerBlock
		for r := first; r < first+c.PagesPerBlock; r++ {
			delete(c.pages, r)
		}
	case cmdStatus:
		c.out = []byte{c.status | statusReadOnly}
	case cmdReadID:
		c.out = append([]byte(nil), c.ID...)
	case cmdReset:
		c.status = statusReady
		c.column = 0
	default:
		return errors.Errorf("gpmitest: unknown command %#02x", cmd)
	}
	c.last = cmd
	return nil
}

func (c *Chip) checkRow() error {
	if c.row >= c.Rows() {
		return errors.Errorf("gpmitest: row %d beyond %d", c.row, c.Rows())
	}
	return nil
}

// ReadData clocks len(b) bytes out of the chip.
func (c *Chip) ReadData(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out != nil {
		// The READ ID and STATUS answers repeat.
		for i := range b {
			b[i] = c.out[i%len(c.out)]
		}
		return
	}
	for i := range b {
		if c.column < len(c.reg) {
			b[i] = c.reg[c.column]
		} else {
			b[i] = 0xff
		}
		c.column++
	}
}

// WriteData clocks b into the page register.
func (c *Chip) WriteData(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range b {
		if c.column < len(c.reg) {
			c.reg[c.column] = v
		}
		c.column++
	}
}

// withPageRegister runs fn on the page register, for the BCH engine.
// inject holds the status bytes set by InjectECC for the current row.
func (c *Chip) withPageRegister(fn func(reg []byte, inject []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.reg, c.eccInject[c.row])
}

func fillOnes(b []byte) {
	for i := range b {
		b[i] = 0xff
	}
}
