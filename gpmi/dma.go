// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// Mem is a physically contiguous buffer the DMA engine can reach.
type Mem interface {
	io.Closer
	// Buf returns the CPU view of the buffer.
	Buf() []byte
	// PhysAddr returns the bus address of the buffer.
	PhysAddr() uint64
}

// Allocator allocates DMA buffers.
type Allocator interface {
	Alloc(size int) (Mem, error)
}

// Mapper is implemented by an Allocator that can make a caller buffer
// visible to the DMA engine without copying.
type Mapper interface {
	// Map returns a Mem backed by b. Closing it unmaps b.
	Map(b []byte) (Mem, error)
}

// DMAChannel is the APBH channel wired to one chip select.
type DMAChannel interface {
	// Submit starts c. done is called once, from any goroutine, when the
	// last descriptor of c completes.
	Submit(c *Chain, done func()) error
	// Terminate aborts the running chain.
	Terminate() error
}

// Interrupt is an interrupt line.
type Interrupt interface {
	// SetHandler installs fn to be called every time the line is asserted.
	// A nil fn removes the handler.
	SetHandler(fn func()) error
}

// Stage identifies the role of a Descriptor inside a page transfer.
type Stage uint8

// Page transfer stages, in chain order.
const (
	StageWaitReady Stage = iota
	StageTransfer
	StageECCSettle
	StageUnlock
	StageCommand
	StageDataOut
	StageDataIn
)

func (s Stage) String() string {
	switch s {
	case StageWaitReady:
		return "WaitReady"
	case StageTransfer:
		return "Transfer"
	case StageECCSettle:
		return "ECCSettle"
	case StageUnlock:
		return "Unlock"
	case StageCommand:
		return "Command"
	case StageDataOut:
		return "DataOut"
	case StageDataIn:
		return "DataIn"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// Descriptor is one APBH DMA descriptor.
type Descriptor struct {
	Stage Stage
	// Cmd is the encoded command word, see DecodeDMAWord.
	Cmd uint32
	// Buf is transferred when the command moves data.
	Buf Mem
	// PIO words are written to the GPMI registers starting at CTRL0 before
	// the transfer.
	PIO []uint32
}

// Word returns the decoded command word.
func (d *Descriptor) Word() DMAWord {
	return DecodeDMAWord(d.Cmd)
}

// Chain is a list of descriptors run back to back.
type Chain struct {
	ID          xid.ID
	Chip        int
	Descriptors []Descriptor
}

func (c *Chain) String() string {
	return fmt.Sprintf("chain %s cs%d (%d descriptors)", c.ID, c.Chip, len(c.Descriptors))
}

func newChain(chip int) *Chain {
	return &Chain{ID: xid.New(), Chip: chip}
}

func (c *Chain) add(s Stage, w DMAWord, buf Mem, pio ...uint32) error {
	if len(pio) > maxPIOWords {
		return errors.Errorf("gpmi: %d PIO words, max %d", len(pio), maxPIOWords)
	}
	if w.XferCount > dmaXferCountMax {
		return errors.Errorf("gpmi: transfer of %d bytes, max %d", w.XferCount, dmaXferCountMax)
	}
	w.PIOWords = len(pio)
	c.Descriptors = append(c.Descriptors, Descriptor{Stage: s, Cmd: EncodeDMAWord(w), Buf: buf, PIO: pio})
	return nil
}

// chainBuilder builds the chains of one controller.
type chainBuilder struct {
	geo *Geometry
}

func (b chainBuilder) wordLength8() bool {
	return !b.geo.DDR
}

// busCount is the number of bus cycles needed to move n bytes.
func (b chainBuilder) busCount(n int) int {
	if b.geo.DDR {
		return n >> 1
	}
	return n
}

// readPage waits for the chip, decodes a page with the BCH engine, waits
// again for the engine to release the bus and unlocks the chip select.
func (b chainBuilder) readPage(chip int, payload, aux uint64) (*Chain, error) {
	c := newChain(chip)
	wait := EncodeCtrl0(Ctrl0{Mode: ModeWaitForReady, WordLength8: b.wordLength8(), ChipSelect: chip, Address: AddressData})
	if err := c.add(StageWaitReady, DMAWord{Chain: true, NANDWait4Ready: true, Wait4EndCmd: true}, nil, wait); err != nil {
		return nil, err
	}
	count := b.busCount(b.geo.PayloadSize)
	ctrl0 := EncodeCtrl0(Ctrl0{Mode: ModeRead, WordLength8: b.wordLength8(), ChipSelect: chip, Address: AddressData, XferCount: count})
	ecc := EncodeECCCtrl(ECCCtrl{Enable: true, Command: ECCDecode, BufferMask: BufferPage | BufferAuxOnly})
	if err := c.add(StageTransfer, DMAWord{Chain: true, Wait4EndCmd: true}, nil,
		ctrl0, 0, ecc, EncodeECCCount(count), uint32(payload), uint32(aux)); err != nil {
		return nil, err
	}
	settle := EncodeCtrl0(Ctrl0{Mode: ModeWaitForReady, WordLength8: b.wordLength8(), ChipSelect: chip, Address: AddressData, XferCount: count})
	if err := c.add(StageECCSettle, DMAWord{Chain: true, NANDWait4Ready: true, Wait4EndCmd: true}, nil, settle, 0, 0); err != nil {
		return nil, err
	}
	if err := c.add(StageUnlock, DMAWord{IRQOnComplete: true, DecSemaphore: true}, nil); err != nil {
		return nil, err
	}
	return c, nil
}

// writePage encodes a page with the BCH engine and unlocks the chip select.
func (b chainBuilder) writePage(chip int, payload, aux uint64) (*Chain, error) {
	c := newChain(chip)
	ctrl0 := EncodeCtrl0(Ctrl0{Mode: ModeWrite, WordLength8: b.wordLength8(), ChipSelect: chip, Address: AddressData})
	ecc := EncodeECCCtrl(ECCCtrl{Enable: true, Command: ECCEncode, BufferMask: BufferPage | BufferAuxOnly})
	count := b.busCount(b.geo.PageSize)
	if err := c.add(StageTransfer, DMAWord{Chain: true, Wait4EndCmd: true}, nil,
		ctrl0, 0, ecc, EncodeECCCount(count), uint32(payload), uint32(aux)); err != nil {
		return nil, err
	}
	if err := c.add(StageUnlock, DMAWord{IRQOnComplete: true, DecSemaphore: true}, nil); err != nil {
		return nil, err
	}
	return c, nil
}

// command sends the first byte of buf with CLE and the rest with ALE.
func command(chip int, buf Mem, n int) (*Chain, error) {
	c := newChain(chip)
	ctrl0 := EncodeCtrl0(Ctrl0{Mode: ModeWrite, WordLength8: true, LockCS: true, ChipSelect: chip, Address: AddressCLE, AddressIncrement: true, XferCount: n})
	w := DMAWord{Command: DMARead, IRQOnComplete: true, NANDLock: true, DecSemaphore: true, Wait4EndCmd: true, HaltOnTerminate: true, XferCount: n}
	if err := c.add(StageCommand, w, buf, ctrl0, 0, EncodeECCCtrl(ECCCtrl{})); err != nil {
		return nil, err
	}
	return c, nil
}

// dataOut writes n bytes of buf to the chip.
func dataOut(chip int, buf Mem, n int) (*Chain, error) {
	c := newChain(chip)
	ctrl0 := EncodeCtrl0(Ctrl0{Mode: ModeWrite, WordLength8: true, ChipSelect: chip, Address: AddressData, XferCount: n})
	w := DMAWord{Command: DMARead, IRQOnComplete: true, DecSemaphore: true, Wait4EndCmd: true, XferCount: n}
	if err := c.add(StageDataOut, w, buf, ctrl0, 0, 0, 0); err != nil {
		return nil, err
	}
	return c, nil
}

// dataIn reads n bytes from the chip into buf.
func dataIn(chip int, buf Mem, n int) (*Chain, error) {
	c := newChain(chip)
	ctrl0 := EncodeCtrl0(Ctrl0{Mode: ModeRead, WordLength8: true, ChipSelect: chip, Address: AddressData, XferCount: n})
	w := DMAWord{Command: DMAWrite, IRQOnComplete: true, DecSemaphore: true, Wait4EndCmd: true, HaltOnTerminate: true, XferCount: n}
	if err := c.add(StageDataIn, w, buf, ctrl0); err != nil {
		return nil, err
	}
	return c, nil
}

// waitReady blocks the channel until the ready/busy line of the chip rises.
func waitReady(chip int) (*Chain, error) {
	c := newChain(chip)
	ctrl0 := EncodeCtrl0(Ctrl0{Mode: ModeWaitForReady, WordLength8: true, ChipSelect: chip, Address: AddressData})
	w := DMAWord{IRQOnComplete: true, NANDWait4Ready: true, DecSemaphore: true, Wait4EndCmd: true}
	if err := c.add(StageWaitReady, w, nil, ctrl0); err != nil {
		return nil, err
	}
	return c, nil
}
