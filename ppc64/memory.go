// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ppc64

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gorse-io/callgen/gil"
)

var ErrMisaligned = errors.New("ppc64: misaligned access")

// Memory is a sparse byte-addressed memory. The lock words of an attached
// gil.State are not stored in it: accesses to their addresses go to the
// State atomics, so machines on different goroutines can share one lock.
type Memory struct {
	mu    sync.Mutex
	order binary.ByteOrder
	data  map[uint64]byte
	lock  *gil.State
}

// NewMemory returns an empty memory in the given byte order. lock may be nil.
func NewMemory(order binary.ByteOrder, lock *gil.State) *Memory {
	return &Memory{order: order, data: make(map[uint64]byte), lock: lock}
}

func (m *Memory) lockWord(addr uint64, size int) (bool, error) {
	if m.lock == nil {
		return false, nil
	}
	top, _ := m.lock.RootStackTopAddr()
	if addr != m.lock.FastGILAddr() && addr != top {
		return false, nil
	}
	if size != 8 {
		return true, fmt.Errorf("ppc64: %d-byte access to lock word %#x", size, addr)
	}
	return true, nil
}

// Load reads size bytes at addr.
func (m *Memory) Load(addr uint64, size int) (uint64, error) {
	if addr%uint64(size) != 0 {
		return 0, fmt.Errorf("%w: load of %d bytes at %#x", ErrMisaligned, size, addr)
	}
	if ok, err := m.lockWord(addr, size); ok {
		if err != nil {
			return 0, err
		}
		if addr == m.lock.FastGILAddr() {
			return uint64(m.lock.Flag().Load()), nil
		}
		return m.lock.RootStackTop().Load(), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = m.data[addr+uint64(i)]
	}
	switch size {
	case 4:
		return uint64(m.order.Uint32(buf)), nil
	case 8:
		return m.order.Uint64(buf), nil
	default:
		return 0, fmt.Errorf("ppc64: unsupported load size %d", size)
	}
}

// Store writes the low size bytes of v at addr.
func (m *Memory) Store(addr uint64, size int, v uint64) error {
	if addr%uint64(size) != 0 {
		return fmt.Errorf("%w: store of %d bytes at %#x", ErrMisaligned, size, addr)
	}
	if ok, err := m.lockWord(addr, size); ok {
		if err != nil {
			return err
		}
		if addr == m.lock.FastGILAddr() {
			m.lock.Flag().Store(int64(v))
		} else {
			m.lock.RootStackTop().Store(v)
		}
		return nil
	}

	buf := make([]byte, size)
	switch size {
	case 4:
		m.order.PutUint32(buf, uint32(v))
	case 8:
		m.order.PutUint64(buf, v)
	default:
		return fmt.Errorf("ppc64: unsupported store size %d", size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range buf {
		m.data[addr+uint64(i)] = b
	}
	return nil
}

// CompareAndSwap stores v at the doubleword addr if it still holds old.
func (m *Memory) CompareAndSwap(addr, old, v uint64) (bool, error) {
	if addr%8 != 0 {
		return false, fmt.Errorf("%w: reservation at %#x", ErrMisaligned, addr)
	}
	if ok, err := m.lockWord(addr, 8); ok {
		if err != nil {
			return false, err
		}
		if addr == m.lock.FastGILAddr() {
			return m.lock.Flag().CompareAndSwap(int64(old), int64(v)), nil
		}
		return m.lock.RootStackTop().CompareAndSwap(old, v), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = m.data[addr+uint64(i)]
	}
	if m.order.Uint64(buf) != old {
		return false, nil
	}
	m.order.PutUint64(buf, v)
	for i, b := range buf {
		m.data[addr+uint64(i)] = b
	}
	return true, nil
}
