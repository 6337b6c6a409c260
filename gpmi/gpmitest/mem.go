// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmitest

import (
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/nand/v3/gpmi"
)

// busStart is the first fake bus address; buffers are spaced by a guard.
const (
	busStart = 0x40000000
	busGuard = 0x1000
)

// Allocator hands out buffers at fake bus addresses below 4GiB and resolves
// addresses back to buffers for the DMA fakes.
type Allocator struct {
	mu      sync.Mutex
	next    uint64
	regions map[uint64]*Mem
	// Limit, when non zero, fails allocations above this size.
	Limit int
}

// NewAllocator returns an Allocator that cannot map caller buffers.
func NewAllocator() *Allocator {
	return &Allocator{next: busStart, regions: map[uint64]*Mem{}}
}

// Alloc implements gpmi.Allocator.
func (a *Allocator) Alloc(size int) (gpmi.Mem, error) {
	if a.Limit != 0 && size > a.Limit {
		return nil, errors.Errorf("gpmitest: allocation of %d bytes over limit %d", size, a.Limit)
	}
	return a.register(make([]byte, size)), nil
}

func (a *Allocator) register(b []byte) *Mem {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := &Mem{a: a, buf: b, addr: a.next}
	a.next += uint64(len(b)+busGuard-1)/busGuard*busGuard + busGuard
	a.regions[m.addr] = m
	return m
}

// Live returns the number of buffers not closed yet.
func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.regions)
}

// Resolve returns the n bytes at bus address addr.
func (a *Allocator) Resolve(addr uint64, n int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for base, m := range a.regions {
		if addr >= base && addr+uint64(n) <= base+uint64(len(m.buf)) {
			off := int(addr - base)
			return m.buf[off : off+n], nil
		}
	}
	return nil, errors.Errorf("gpmitest: no buffer at %#x+%d", addr, n)
}

// MappingAllocator is an Allocator that also implements gpmi.Mapper.
type MappingAllocator struct {
	*Allocator
	mu     sync.Mutex
	mapped int
}

// NewMappingAllocator returns an allocator mapping caller buffers in place.
func NewMappingAllocator() *MappingAllocator {
	return &MappingAllocator{Allocator: NewAllocator()}
}

// Map implements gpmi.Mapper.
func (m *MappingAllocator) Map(b []byte) (gpmi.Mem, error) {
	m.mu.Lock()
	m.mapped++
	m.mu.Unlock()
	return m.register(b), nil
}

// Mapped returns the number of buffers mapped so far.
func (m *MappingAllocator) Mapped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapped
}

// Mem is a buffer returned by Allocator.
type Mem struct {
	a    *Allocator
	buf  []byte
	addr uint64
}

// Buf implements gpmi.Mem.
func (m *Mem) Buf() []byte {
	return m.buf
}

// PhysAddr implements gpmi.Mem.
func (m *Mem) PhysAddr() uint64 {
	return m.addr
}

// Close implements gpmi.Mem.
func (m *Mem) Close() error {
	m.a.mu.Lock()
	defer m.a.mu.Unlock()
	if _, ok := m.a.regions[m.addr]; !ok {
		return errors.Errorf("gpmitest: double free of %#x", m.addr)
	}
	delete(m.a.regions, m.addr)
	return nil
}

var (
	_ gpmi.Allocator = &Allocator{}
	_ gpmi.Mapper    = &MappingAllocator{}
)
