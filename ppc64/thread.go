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
	"math"

	cb "github.com/gorse-io/callgen/callbuilder"
)

// Thread is the memory image of a managed thread: its native stack, the JIT
// frame and the thread-local block with the errno words.
type Thread struct {
	// SP is the stack pointer on entry. 0(SP) holds BackChain.
	SP        uint64
	BackChain uint64
	// Frame is the JIT frame pointer, the base of stack slots.
	Frame uint64
	// TL is the thread-local block, whose address sits in the caller frame at
	// ThreadLocalAddrOffset.
	TL uint64
	// ErrnoAddr is the OS errno word the block points to.
	ErrnoAddr uint64
	Layout    cb.ErrnoLayout
}

// DefaultThread returns a thread image laid out in distinct regions.
func DefaultThread() Thread {
	return Thread{
		SP:        0x7fff_0000,
		BackChain: 0x7fff_0400,
		Frame:     0x6000_0000,
		TL:        0x5000_0000,
		ErrnoAddr: 0x5000_1000,
		Layout:    cb.DefaultErrnoLayout,
	}
}

// SetupThread writes t into memory and points SP and the frame register at it.
func (m *Machine) SetupThread(t Thread) error {
	abi := m.arch.abi
	words := []struct{ addr, v uint64 }{
		{t.SP, t.BackChain},
		{t.SP + uint64(abi.ThreadLocalAddrOffset), t.TL},
		{t.TL + uint64(t.Layout.PErrno), t.ErrnoAddr},
	}
	for _, w := range words {
		if err := m.Mem.Store(w.addr, 8, w.v); err != nil {
			return err
		}
	}
	m.SetReg(abi.SP, t.SP)
	m.SetReg(abi.Frame, t.Frame)
	m.thread = &t
	return nil
}

// OSErrno returns the OS errno of the thread.
func (m *Machine) OSErrno() uint32 {
	v, _ := m.Mem.Load(m.thread.ErrnoAddr, 4)
	return uint32(v)
}

// SetOSErrno sets the OS errno, as a native function failing would.
func (m *Machine) SetOSErrno(v uint32) {
	_ = m.Mem.Store(m.thread.ErrnoAddr, 4, uint64(v))
}

// SavedErrno returns the runtime copy of errno, or the alternate copy.
func (m *Machine) SavedErrno(alt bool) uint32 {
	v, _ := m.Mem.Load(m.thread.TL+uint64(m.savedOffset(alt)), 4)
	return uint32(v)
}

// SetSavedErrno sets the runtime copy of errno, or the alternate copy.
func (m *Machine) SetSavedErrno(alt bool, v uint32) {
	_ = m.Mem.Store(m.thread.TL+uint64(m.savedOffset(alt)), 4, uint64(v))
}

func (m *Machine) savedOffset(alt bool) int32 {
	if alt {
		return m.thread.Layout.AltErrno
	}
	return m.thread.Layout.RPyErrno
}

// SetSlot stores a doubleword into the JIT frame at stack slot off.
func (m *Machine) SetSlot(off int32, v uint64) error {
	return m.Mem.Store(m.thread.Frame+uint64(int64(off)), 8, v)
}

// FloatBits returns the bits of f, for FPR contents.
func FloatBits(f float64) uint64 { return math.Float64bits(f) }

// FloatValue is the inverse of FloatBits.
func FloatValue(bits uint64) float64 { return math.Float64frombits(bits) }
