// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

// SwapBlockMark exchanges the byte of payload starting at bit bitOff of byte
// byteOff with aux[0].
//
// The BCH engine interleaves parity with data, so the physical block mark,
// the first byte past the data area of the page, ends up inside the payload
// and not necessarily on a byte boundary. Swapping it with the first
// metadata byte before every ECC write keeps the physical mark untouched by
// user data; the same call after every ECC read restores both buffers.
func SwapBlockMark(payload, aux []byte, byteOff, bitOff int) {
	p := payload[byteOff:]
	bit := uint(bitOff)
	if bit == 0 {
		p[0], aux[0] = aux[0], p[0]
		return
	}
	fromData := p[0]>>bit | p[1]<<(8-bit)
	fromOOB := aux[0]
	aux[0] = fromData
	p[0] = p[0]&(1<<bit-1) | fromOOB<<bit
	p[1] = p[1]&(0xff<<bit) | fromOOB>>(8-bit)
}

// markPolicy is how a controller keeps the factory bad block marks usable
// despite the BCH layout.
type markPolicy interface {
	// afterRead fixes up an ECC read.
	afterRead(payload, aux []byte)
	// beforeWrite fixes up the buffers of an ECC write.
	beforeWrite(payload, aux []byte)
	// modifiesPayload reports whether beforeWrite writes to the payload,
	// which then must be a private copy of the caller data.
	modifiesPayload() bool
	// markColumn is the column of the block mark in the first page of a
	// block.
	markColumn() int
	String() string
}

// swapPolicy swaps the block mark on every ECC access.
type swapPolicy struct {
	geo *Geometry
}

func (s swapPolicy) afterRead(payload, aux []byte) {
	SwapBlockMark(payload, aux, s.geo.BlockMarkByteOffset, s.geo.BlockMarkBitOffset)
}

func (s swapPolicy) beforeWrite(payload, aux []byte) {
	SwapBlockMark(payload, aux, s.geo.BlockMarkByteOffset, s.geo.BlockMarkBitOffset)
}

func (s swapPolicy) modifiesPayload() bool {
	return true
}

func (s swapPolicy) markColumn() int {
	return s.geo.PayloadSize
}

func (s swapPolicy) String() string {
	return "swap"
}

// transcribePolicy moves the block marks once to the first metadata byte,
// which is the first byte of the page; see Controller.Transcribe.
type transcribePolicy struct{}

func (transcribePolicy) afterRead(payload, aux []byte) {}

func (transcribePolicy) beforeWrite(payload, aux []byte) {}

func (transcribePolicy) modifiesPayload() bool {
	return false
}

func (transcribePolicy) markColumn() int {
	return 0
}

func (transcribePolicy) String() string {
	return "transcription"
}
