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
	"errors"
	"fmt"

	cb "github.com/gorse-io/callgen/callbuilder"
	"github.com/gorse-io/callgen/gil"
)

var (
	ErrTrap      = errors.New("ppc64: trap")
	ErrStepLimit = errors.New("ppc64: step limit exceeded")
	ErrUnbound   = errors.New("ppc64: call to unbound address")
)

const (
	// Poison is written to volatile registers after a native call when
	// Machine.Poison is set.
	Poison = 0xdeadbeefdeadbeef

	// DefaultMaxSteps bounds Run.
	DefaultMaxSteps = 1 << 20

	// descriptorEntryBias separates an ELFv1 function descriptor from the
	// entry point it names.
	descriptorEntryBias = 0x1000_0000
	// descriptorTOC is the TOC pointer stored in bound descriptors.
	descriptorTOC = 0x4000_8000
)

// Native is a bound native function. It reads its arguments from and leaves
// its result in the machine.
type Native func(m *Machine) error

type native struct {
	addr uint64
	fn   Native
	void bool
}

type condReg struct {
	lt, gt, eq bool
}

type reservation struct {
	addr, val uint64
	valid     bool
}

// Machine interprets one thread of assembled ppc64 code.
type Machine struct {
	GPR [32]uint64
	// FPR holds the raw bits of the float registers.
	FPR [32]uint64
	CTR uint64
	Mem *Memory

	// Calls records, in order, the function pointer of every native call.
	Calls []uint64
	// MaxSteps bounds Run; zero means DefaultMaxSteps.
	MaxSteps int
	// Poison makes native calls clobber every volatile register except the
	// result registers.
	Poison bool
	// TOCSeen is the r2 value observed at the last ELFv1 native call.
	TOCSeen uint64

	arch    *Arch
	natives map[uint64]native
	cr0     condReg
	resv    reservation
	prog    []Instr
	pc      int
	steps   int
	thread  *Thread
}

// NewMachine returns a machine for arch over mem.
func NewMachine(arch *Arch, mem *Memory) *Machine {
	return &Machine{arch: arch, Mem: mem, natives: make(map[uint64]native)}
}

// Arch returns the target of m.
func (m *Machine) Arch() *Arch { return m.arch }

// Bind makes fn callable through the function pointer addr. On ELFv1 addr is
// the address of a descriptor, which Bind writes.
func (m *Machine) Bind(addr uint64, fn Native) error {
	return m.bind(addr, fn, false)
}

// BindVoid is Bind for a function with no result: with Poison set, the result
// registers are clobbered as well.
func (m *Machine) BindVoid(addr uint64, fn Native) error {
	return m.bind(addr, fn, true)
}

func (m *Machine) bind(addr uint64, fn Native, void bool) error {
	entry := addr
	if m.arch.elfv1 {
		entry = addr + descriptorEntryBias
		for i, w := range []uint64{entry, descriptorTOC, 0} {
			if err := m.Mem.Store(addr+uint64(8*i), 8, w); err != nil {
				return err
			}
		}
	}
	m.natives[entry] = native{addr: addr, fn: fn, void: void}
	return nil
}

// BindReacquire binds the slow reacquire routine of lock for a thread whose
// shadow stack top is top.
func (m *Machine) BindReacquire(lock *gil.State, top uint64) error {
	return m.BindVoid(lock.ReacquireAddr(), func(*Machine) error {
		lock.Reacquire(top)
		return nil
	})
}

// Load resets the program counter to the start of prog.
func (m *Machine) Load(prog []Instr) {
	m.prog = prog
	m.pc = 0
	m.steps = 0
}

// PC returns the position of the next instruction.
func (m *Machine) PC() int { return m.pc }

// Done reports whether the program ran off its end.
func (m *Machine) Done() bool { return m.pc >= len(m.prog) }

// Run executes the loaded program to its end.
func (m *Machine) Run() error {
	limit := m.MaxSteps
	if limit == 0 {
		limit = DefaultMaxSteps
	}
	for !m.Done() {
		if m.steps >= limit {
			return fmt.Errorf("%w: %d steps at %d", ErrStepLimit, m.steps, m.pc)
		}
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Exec loads and runs prog.
func (m *Machine) Exec(prog []Instr) error {
	m.Load(prog)
	return m.Run()
}

func (m *Machine) base(ra uint8) uint64 {
	if ra == 0 {
		return 0
	}
	return m.GPR[ra]
}

func (m *Machine) compare(a, b int64) {
	m.cr0 = condReg{lt: a < b, gt: a > b, eq: a == b}
}

func (m *Machine) condBit(bi uint8) bool {
	switch bi {
	case 0:
		return m.cr0.lt
	case 1:
		return m.cr0.gt
	case biEQ:
		return m.cr0.eq
	default:
		return false
	}
}

// Step executes one instruction.
func (m *Machine) Step() error {
	insn := m.prog[m.pc]
	m.steps++
	next := m.pc + 1
	imm := int64(insn.Imm)

	switch insn.Op {
	case ADDI:
		m.GPR[insn.RT] = m.base(insn.RA) + uint64(imm)
	case ADDIS:
		m.GPR[insn.RT] = m.base(insn.RA) + uint64(imm<<16)
	case ORI:
		m.GPR[insn.RT] = m.GPR[insn.RA] | uint64(uint16(insn.Imm))
	case ORIS:
		m.GPR[insn.RT] = m.GPR[insn.RA] | uint64(uint16(insn.Imm))<<16
	case SLDI:
		m.GPR[insn.RT] = m.GPR[insn.RA] << uint(insn.Imm)
	case OR:
		m.GPR[insn.RT] = m.GPR[insn.RA] | m.GPR[insn.RB]
	case FMR:
		m.FPR[insn.RT] = m.FPR[insn.RB]
	case LD, LWZ, LFD:
		size := 8
		if insn.Op == LWZ {
			size = 4
		}
		v, err := m.Mem.Load(m.base(insn.RA)+uint64(imm), size)
		if err != nil {
			return m.fault(err)
		}
		if insn.Op == LFD {
			m.FPR[insn.RT] = v
		} else {
			m.GPR[insn.RT] = v
		}
	case STD, STDU, STW, STFD:
		size, v := 8, m.GPR[insn.RT]
		switch insn.Op {
		case STW:
			size = 4
		case STFD:
			v = m.FPR[insn.RT]
		}
		ea := m.base(insn.RA) + uint64(imm)
		if err := m.Mem.Store(ea, size, v); err != nil {
			return m.fault(err)
		}
		if insn.Op == STDU {
			m.GPR[insn.RA] = ea
		}
	case LDARX:
		ea := m.base(insn.RA) + m.GPR[insn.RB]
		v, err := m.Mem.Load(ea, 8)
		if err != nil {
			return m.fault(err)
		}
		m.GPR[insn.RT] = v
		m.resv = reservation{addr: ea, val: v, valid: true}
	case STDCX:
		ea := m.base(insn.RA) + m.GPR[insn.RB]
		ok := false
		if m.resv.valid && m.resv.addr == ea {
			var err error
			if ok, err = m.Mem.CompareAndSwap(ea, m.resv.val, m.GPR[insn.RT]); err != nil {
				return m.fault(err)
			}
		}
		m.resv = reservation{}
		m.cr0 = condReg{eq: ok}
	case CMPDI:
		m.compare(int64(m.GPR[insn.RA]), imm)
	case CMPD:
		m.compare(int64(m.GPR[insn.RA]), int64(m.GPR[insn.RB]))
	case BC:
		taken := true
		switch insn.RT {
		case boTrue:
			taken = m.condBit(insn.RA)
		case boFalse:
			taken = !m.condBit(insn.RA)
		}
		if taken {
			next = int(insn.Imm)
		}
	case B:
		next = int(insn.Imm)
	case MTCTR:
		m.CTR = m.GPR[insn.RT]
	case BCTRL:
		if err := m.callNative(); err != nil {
			return m.fault(err)
		}
	case LWSYNC, ISYNC:
		// Memory is sequentially consistent.
	case TRAP:
		return m.fault(ErrTrap)
	default:
		return m.fault(fmt.Errorf("ppc64: unknown op %d", insn.Op))
	}
	m.pc = next
	return nil
}

func (m *Machine) fault(err error) error {
	return fmt.Errorf("at %d (%v): %w", m.pc, m.prog[m.pc], err)
}

func (m *Machine) callNative() error {
	n, ok := m.natives[m.CTR]
	if !ok {
		return fmt.Errorf("%w %#x", ErrUnbound, m.CTR)
	}
	if m.arch.elfv1 {
		m.TOCSeen = m.GPR[toc.Num]
	}
	m.Calls = append(m.Calls, n.addr)
	m.resv = reservation{}
	if err := n.fn(m); err != nil {
		return err
	}
	if m.Poison {
		m.poison(n.void)
	}
	return nil
}

func (m *Machine) poison(void bool) {
	for _, r := range volatileGPRs {
		m.GPR[r] = Poison
	}
	for _, r := range volatileFPRs {
		m.FPR[r] = Poison
	}
	if void {
		m.GPR[m.arch.abi.IntResult.Num] = Poison
		m.FPR[m.arch.abi.FloatResult.Num] = Poison
	}
}

// Reg returns the raw contents of r.
func (m *Machine) Reg(r cb.Reg) uint64 {
	if r.Class == cb.FPR {
		return m.FPR[r.Num]
	}
	return m.GPR[r.Num]
}

// SetReg sets the raw contents of r.
func (m *Machine) SetReg(r cb.Reg, v uint64) {
	if r.Class == cb.FPR {
		m.FPR[r.Num] = v
	} else {
		m.GPR[r.Num] = v
	}
}
