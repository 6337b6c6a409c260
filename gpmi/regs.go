// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import "fmt"

// Register offsets inside the GPMI block.
const (
	regGPMICtrl0    uint32 = 0x000
	regGPMICompare  uint32 = 0x010
	regGPMIECCCtrl  uint32 = 0x020
	regGPMIECCCount uint32 = 0x030
	regGPMIPayload  uint32 = 0x040
	regGPMIAux      uint32 = 0x050
	regGPMICtrl1    uint32 = 0x060
	regGPMITiming0  uint32 = 0x070
	regGPMITiming1  uint32 = 0x080
	regGPMIData     uint32 = 0x0a0
	regGPMIStat     uint32 = 0x0b0
)

// Register offsets inside the BCH block.
const (
	regBCHCtrl          uint32 = 0x000
	regBCHStatus0       uint32 = 0x010
	regBCHMode          uint32 = 0x020
	regBCHLayoutSelect  uint32 = 0x070
	regBCHFlash0Layout0 uint32 = 0x080
	regBCHFlash0Layout1 uint32 = 0x090
)

// Every register of the mxs family has three aliases which atomically set,
// clear or toggle the bits written to them.
const (
	regSet uint32 = 0x4
	regClr uint32 = 0x8
	regTog uint32 = 0xc
)

// GPMI CTRL0.
const (
	ctrl0SoftReset        uint32 = 1 << 31
	ctrl0ClkGate          uint32 = 1 << 30
	ctrl0Run              uint32 = 1 << 29
	ctrl0DevIRQEnable     uint32 = 1 << 28
	ctrl0LockCS           uint32 = 1 << 27
	ctrl0UDMA             uint32 = 1 << 26
	ctrl0CommandModeShift        = 24
	ctrl0CommandModeMask  uint32 = 0x3 << ctrl0CommandModeShift
	ctrl0WordLength8      uint32 = 1 << 23
	ctrl0CSShift                 = 20
	ctrl0CSMask           uint32 = 0x7 << ctrl0CSShift
	ctrl0AddressShift            = 17
	ctrl0AddressMask      uint32 = 0x7 << ctrl0AddressShift
	ctrl0AddressIncrement uint32 = 1 << 16
	ctrl0XferCountMask    uint32 = 0xffff
)

// CommandMode is the GPMI CTRL0 COMMAND_MODE field.
type CommandMode uint8

// Valid CommandMode values.
const (
	ModeWrite          CommandMode = 0
	ModeRead           CommandMode = 1
	ModeReadAndCompare CommandMode = 2
	ModeWaitForReady   CommandMode = 3
)

func (c CommandMode) String() string {
	switch c {
	case ModeWrite:
		return "Write"
	case ModeRead:
		return "Read"
	case ModeReadAndCompare:
		return "ReadAndCompare"
	case ModeWaitForReady:
		return "WaitForReady"
	default:
		return fmt.Sprintf("CommandMode(%d)", uint8(c))
	}
}

// AddressClass selects which NAND bus latch the transferred bytes go to.
type AddressClass uint8

// Valid AddressClass values.
const (
	AddressData AddressClass = 0
	AddressCLE  AddressClass = 1
	AddressALE  AddressClass = 2
)

func (a AddressClass) String() string {
	switch a {
	case AddressData:
		return "Data"
	case AddressCLE:
		return "CLE"
	case AddressALE:
		return "ALE"
	default:
		return fmt.Sprintf("AddressClass(%d)", uint8(a))
	}
}

// Ctrl0 is the decoded form of GPMI CTRL0.
type Ctrl0 struct {
	Run              bool
	LockCS           bool
	Mode             CommandMode
	WordLength8      bool
	ChipSelect       int
	Address          AddressClass
	AddressIncrement bool
	XferCount        int
}

// EncodeCtrl0 packs c into a register value.
func EncodeCtrl0(c Ctrl0) uint32 {
	v := uint32(c.Mode)<<ctrl0CommandModeShift&ctrl0CommandModeMask |
		uint32(c.ChipSelect)<<ctrl0CSShift&ctrl0CSMask |
		uint32(c.Address)<<ctrl0AddressShift&ctrl0AddressMask |
		uint32(c.XferCount)&ctrl0XferCountMask
	if c.Run {
		v |= ctrl0Run
	}
	if c.LockCS {
		v |= ctrl0LockCS
	}
	if c.WordLength8 {
		v |= ctrl0WordLength8
	}
	if c.AddressIncrement {
		v |= ctrl0AddressIncrement
	}
	return v
}

// DecodeCtrl0 unpacks a CTRL0 register value.
func DecodeCtrl0(v uint32) Ctrl0 {
	return Ctrl0{
		Run:              v&ctrl0Run != 0,
		LockCS:           v&ctrl0LockCS != 0,
		Mode:             CommandMode((v & ctrl0CommandModeMask) >> ctrl0CommandModeShift),
		WordLength8:      v&ctrl0WordLength8 != 0,
		ChipSelect:       int((v & ctrl0CSMask) >> ctrl0CSShift),
		Address:          AddressClass((v & ctrl0AddressMask) >> ctrl0AddressShift),
		AddressIncrement: v&ctrl0AddressIncrement != 0,
		XferCount:        int(v & ctrl0XferCountMask),
	}
}

func (c Ctrl0) GoString() string {
	return fmt.Sprintf("Ctrl0{%s cs=%d %s inc=%t lock=%t 8bit=%t count=%d}",
		c.Mode, c.ChipSelect, c.Address, c.AddressIncrement, c.LockCS, c.WordLength8, c.XferCount)
}

// GPMI ECCCTRL.
const (
	eccCtrlHandleShift        = 16
	eccCtrlHandleMask  uint32 = 0xffff << eccCtrlHandleShift
	eccCtrlCmdShift           = 13
	eccCtrlCmdMask     uint32 = 0x3 << eccCtrlCmdShift
	eccCtrlEnable      uint32 = 1 << 12
	eccCtrlBufferMask  uint32 = 0x1ff

	// BufferAuxOnly selects the auxiliary buffer only.
	BufferAuxOnly uint32 = 0x100
	// BufferPage selects all the data blocks of a page.
	BufferPage uint32 = 0x0ff
)

// ECCCommand is the ECCCTRL ECC_CMD field.
type ECCCommand uint8

// Valid ECCCommand values.
const (
	ECCDecode ECCCommand = 0
	ECCEncode ECCCommand = 1
)

func (e ECCCommand) String() string {
	if e == ECCEncode {
		return "Encode"
	}
	return "Decode"
}

// ECCCtrl is the decoded form of GPMI ECCCTRL.
type ECCCtrl struct {
	Handle     uint16
	Command    ECCCommand
	Enable     bool
	BufferMask uint32
}

// EncodeECCCtrl packs e into a register value.
func EncodeECCCtrl(e ECCCtrl) uint32 {
	v := uint32(e.Handle)<<eccCtrlHandleShift&eccCtrlHandleMask |
		uint32(e.Command)<<eccCtrlCmdShift&eccCtrlCmdMask |
		e.BufferMask&eccCtrlBufferMask
	if e.Enable {
		v |= eccCtrlEnable
	}
	return v
}

// DecodeECCCtrl unpacks an ECCCTRL register value.
func DecodeECCCtrl(v uint32) ECCCtrl {
	return ECCCtrl{
		Handle:     uint16((v & eccCtrlHandleMask) >> eccCtrlHandleShift),
		Command:    ECCCommand((v & eccCtrlCmdMask) >> eccCtrlCmdShift),
		Enable:     v&eccCtrlEnable != 0,
		BufferMask: v & eccCtrlBufferMask,
	}
}

func (e ECCCtrl) GoString() string {
	return fmt.Sprintf("ECCCtrl{%s enable=%t mask=0x%03x handle=%d}", e.Command, e.Enable, e.BufferMask, e.Handle)
}

// EncodeECCCount packs the ECCCOUNT register.
func EncodeECCCount(n int) uint32 {
	return uint32(n) & 0xffff
}

// GPMI CTRL1.
const (
	ctrl1BCHMode           uint32 = 1 << 18
	ctrl1DLLEnable         uint32 = 1 << 17
	ctrl1HalfPeriod        uint32 = 1 << 16
	ctrl1RDNDelayShift            = 12
	ctrl1RDNDelayMask      uint32 = 0xf << ctrl1RDNDelayShift
	ctrl1DevReset          uint32 = 1 << 3
	ctrl1ATAIRQRdyPolarity uint32 = 1 << 2
	ctrl1GPMIMode          uint32 = 1 << 0
)

// Ctrl1Timing is the timing related part of GPMI CTRL1.
type Ctrl1Timing struct {
	DLLEnable  bool
	HalfPeriod bool
	RDNDelay   uint8
}

// ctrl1TimingMask covers every bit EncodeCtrl1Timing may set.
const ctrl1TimingMask = ctrl1DLLEnable | ctrl1HalfPeriod | ctrl1RDNDelayMask

// EncodeCtrl1Timing packs the DLL related fields of CTRL1.
func EncodeCtrl1Timing(c Ctrl1Timing) uint32 {
	v := uint32(c.RDNDelay) << ctrl1RDNDelayShift & ctrl1RDNDelayMask
	if c.DLLEnable {
		v |= ctrl1DLLEnable
	}
	if c.HalfPeriod {
		v |= ctrl1HalfPeriod
	}
	return v
}

// DecodeCtrl1Timing unpacks the DLL related fields of CTRL1.
func DecodeCtrl1Timing(v uint32) Ctrl1Timing {
	return Ctrl1Timing{
		DLLEnable:  v&ctrl1DLLEnable != 0,
		HalfPeriod: v&ctrl1HalfPeriod != 0,
		RDNDelay:   uint8((v & ctrl1RDNDelayMask) >> ctrl1RDNDelayShift),
	}
}

// GPMI TIMING0.
const (
	timing0AddressSetupShift        = 16
	timing0DataHoldShift            = 8
	timing0FieldMask         uint32 = 0xff
)

// Timing0 is the decoded form of GPMI TIMING0.
type Timing0 struct {
	AddressSetup uint8
	DataHold     uint8
	DataSetup    uint8
}

// EncodeTiming0 packs t into a register value.
func EncodeTiming0(t Timing0) uint32 {
	return uint32(t.AddressSetup)<<timing0AddressSetupShift |
		uint32(t.DataHold)<<timing0DataHoldShift |
		uint32(t.DataSetup)
}

// DecodeTiming0 unpacks a TIMING0 register value.
func DecodeTiming0(v uint32) Timing0 {
	return Timing0{
		AddressSetup: uint8(v >> timing0AddressSetupShift & timing0FieldMask),
		DataHold:     uint8(v >> timing0DataHoldShift & timing0FieldMask),
		DataSetup:    uint8(v & timing0FieldMask),
	}
}

func (t Timing0) GoString() string {
	return fmt.Sprintf("Timing0{addr=%d hold=%d setup=%d}", t.AddressSetup, t.DataHold, t.DataSetup)
}

// GPMI STAT.
const statReadyBusyShift = 24

// ChipReady reports whether the ready/busy line of chip is high in a STAT
// register value.
func ChipReady(stat uint32, chip int) bool {
	return stat>>statReadyBusyShift&(1<<uint(chip)) != 0
}

// BCH CTRL.
const (
	bchCtrlSoftReset     uint32 = 1 << 31
	bchCtrlClkGate       uint32 = 1 << 30
	bchCtrlCompleteIRQEn uint32 = 1 << 8
	bchCtrlCompleteIRQ   uint32 = 1 << 0
)

// BCH FLASH0LAYOUT0 and FLASH0LAYOUT1 fields that do not move between
// generations.
const (
	layout0NBlocksShift         = 24
	layout0MetaSizeShift        = 16
	layout1PageSizeShift        = 16
	layoutByteMask       uint32 = 0xff
)

// Layout is the decoded form of the BCH flash layout register pair.
//
// ECC0 and ECCN hold the register encoding of the strength, which is half
// the number of correctable bits.
type Layout struct {
	NBlocks   int
	MetaSize  int
	ECC0      int
	Data0Size int
	PageSize  int
	ECCN      int
	DataNSize int
	GF14      bool
}

// layoutFormat describes where the ECC and data size fields live in a
// layout register. The older generations store the data size in bytes over
// 12 bits; i.MX50 stores it in 32 bit words and makes room for the Galois
// field selector.
type layoutFormat struct {
	eccShift  uint
	eccMask   uint32
	gfBit     uint32
	dataMask  uint32
	dataShift uint
}

var (
	layoutMX28 = layoutFormat{eccShift: 12, eccMask: 0xf, dataMask: 0xfff}
	layoutMX50 = layoutFormat{eccShift: 11, eccMask: 0x1f, gfBit: 1 << 10, dataMask: 0x3ff, dataShift: 2}
)

func (f layoutFormat) encode(l Layout) (uint32, uint32) {
	gf := uint32(0)
	if l.GF14 {
		gf = f.gfBit
	}
	l0 := uint32(l.NBlocks)&layoutByteMask<<layout0NBlocksShift |
		uint32(l.MetaSize)&layoutByteMask<<layout0MetaSizeShift |
		uint32(l.ECC0)&f.eccMask<<f.eccShift | gf |
		uint32(l.Data0Size)>>f.dataShift&f.dataMask
	l1 := uint32(l.PageSize)&0xffff<<layout1PageSizeShift |
		uint32(l.ECCN)&f.eccMask<<f.eccShift | gf |
		uint32(l.DataNSize)>>f.dataShift&f.dataMask
	return l0, l1
}

func (f layoutFormat) decode(l0, l1 uint32) Layout {
	return Layout{
		NBlocks:   int(l0 >> layout0NBlocksShift & layoutByteMask),
		MetaSize:  int(l0 >> layout0MetaSizeShift & layoutByteMask),
		ECC0:      int(l0 >> f.eccShift & f.eccMask),
		Data0Size: int(l0&f.dataMask) << f.dataShift,
		PageSize:  int(l1 >> layout1PageSizeShift),
		ECCN:      int(l1 >> f.eccShift & f.eccMask),
		DataNSize: int(l1&f.dataMask) << f.dataShift,
		GF14:      f.gfBit != 0 && l0&f.gfBit != 0,
	}
}

func (l Layout) GoString() string {
	return fmt.Sprintf("Layout{blocks=%d meta=%d ecc0=%d data0=%d page=%d eccn=%d datan=%d gf14=%t}",
		l.NBlocks, l.MetaSize, l.ECC0, l.Data0Size, l.PageSize, l.ECCN, l.DataNSize, l.GF14)
}

// APBH DMA command word.
const (
	dmaCommandMask     uint32 = 0x3
	dmaChain           uint32 = 1 << 2
	dmaIRQOnComplete   uint32 = 1 << 3
	dmaNANDLock        uint32 = 1 << 4
	dmaNANDWait4Ready  uint32 = 1 << 5
	dmaSemaphore       uint32 = 1 << 6
	dmaWait4EndCmd     uint32 = 1 << 7
	dmaHaltOnTerminate uint32 = 1 << 8
	dmaTerminateFlush  uint32 = 1 << 9
	dmaCmdWordsShift          = 12
	dmaCmdWordsMask    uint32 = 0xf << dmaCmdWordsShift
	dmaXferCountShift         = 16
	dmaXferCountMax           = 0xffff
	maxPIOWords               = 15
)

// DMACommand is the APBH COMMAND field.
//
// The direction is seen from the DMA engine: a DMA write stores into memory,
// a DMA read fetches from memory.
type DMACommand uint8

// Valid DMACommand values.
const (
	DMANoXfer DMACommand = 0
	DMAWrite  DMACommand = 1
	DMARead   DMACommand = 2
	DMASense  DMACommand = 3
)

func (d DMACommand) String() string {
	switch d {
	case DMANoXfer:
		return "NoXfer"
	case DMAWrite:
		return "Write"
	case DMARead:
		return "Read"
	default:
		return "Sense"
	}
}

// DMAWord is the decoded form of an APBH descriptor command word.
type DMAWord struct {
	Command         DMACommand
	Chain           bool
	IRQOnComplete   bool
	NANDLock        bool
	NANDWait4Ready  bool
	DecSemaphore    bool
	Wait4EndCmd     bool
	HaltOnTerminate bool
	TerminateFlush  bool
	PIOWords        int
	XferCount       int
}

// EncodeDMAWord packs d into a command word.
func EncodeDMAWord(d DMAWord) uint32 {
	v := uint32(d.Command)&dmaCommandMask |
		uint32(d.PIOWords)<<dmaCmdWordsShift&dmaCmdWordsMask |
		uint32(d.XferCount)<<dmaXferCountShift
	for _, f := range []struct {
		set bool
		bit uint32
	}{
		{d.Chain, dmaChain},
		{d.IRQOnComplete, dmaIRQOnComplete},
		{d.NANDLock, dmaNANDLock},
		{d.NANDWait4Ready, dmaNANDWait4Ready},
		{d.DecSemaphore, dmaSemaphore},
		{d.Wait4EndCmd, dmaWait4EndCmd},
		{d.HaltOnTerminate, dmaHaltOnTerminate},
		{d.TerminateFlush, dmaTerminateFlush},
	} {
		if f.set {
			v |= f.bit
		}
	}
	return v
}

// DecodeDMAWord unpacks a command word.
func DecodeDMAWord(v uint32) DMAWord {
	return DMAWord{
		Command:         DMACommand(v & dmaCommandMask),
		Chain:           v&dmaChain != 0,
		IRQOnComplete:   v&dmaIRQOnComplete != 0,
		NANDLock:        v&dmaNANDLock != 0,
		NANDWait4Ready:  v&dmaNANDWait4Ready != 0,
		DecSemaphore:    v&dmaSemaphore != 0,
		Wait4EndCmd:     v&dmaWait4EndCmd != 0,
		HaltOnTerminate: v&dmaHaltOnTerminate != 0,
		TerminateFlush:  v&dmaTerminateFlush != 0,
		PIOWords:        int((v & dmaCmdWordsMask) >> dmaCmdWordsShift),
		XferCount:       int(v >> dmaXferCountShift),
	}
}

func (d DMAWord) GoString() string {
	return fmt.Sprintf("DMAWord{%s pio=%d count=%d chain=%t irq=%t lock=%t wait4ready=%t sem=%t wait4end=%t}",
		d.Command, d.PIOWords, d.XferCount, d.Chain, d.IRQOnComplete, d.NANDLock, d.NANDWait4Ready, d.DecSemaphore, d.Wait4EndCmd)
}
