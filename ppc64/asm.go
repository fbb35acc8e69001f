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
	"fmt"
	"math"

	cb "github.com/gorse-io/callgen/callbuilder"
)

// Op is one of the PowerPC instructions used by call sequences.
type Op uint8

const (
	ADDI  Op = iota // li when RA is 0
	ADDIS           // lis when RA is 0
	ORI
	ORIS
	SLDI // rldicr RT, RA, n, 63-n
	OR   // mr when RA == RB
	FMR
	LD
	STD
	STDU
	LWZ
	STW
	LFD
	STFD
	LDARX
	STDCX // stdcx.
	CMPDI
	CMPD
	BC
	B
	MTCTR
	BCTRL
	LWSYNC
	ISYNC
	TRAP // tw 31, 0, 0: placeholder for a patched branch
)

// branch options
const (
	boFalse  = 4  // branch if the CR bit is clear
	boTrue   = 12 // branch if the CR bit is set
	boAlways = 20
	biEQ     = 2 // CR0[EQ]
)

// Instr is a decoded instruction. For ORI, ORIS, SLDI and OR, RT is the
// destination and RA the source, whatever the field order of the encoding.
// For BC, RT is BO and RA is BI. For branches Imm is the absolute target position.
type Instr struct {
	Op  Op
	RT  uint8
	RA  uint8
	RB  uint8
	Imm int32
}

// Assembler buffers one code block for a ppc64 ABI. It implements callbuilder.Emitter.
type Assembler struct {
	arch  *Arch
	insns []Instr
}

var _ cb.Emitter = (*Assembler)(nil)

// NewAssembler returns an empty block for a.
func NewAssembler(a *Arch) *Assembler {
	return &Assembler{arch: a}
}

// Instrs returns the instructions emitted so far.
func (a *Assembler) Instrs() []Instr {
	return append([]Instr(nil), a.insns...)
}

// Words returns the encoded instructions.
func (a *Assembler) Words() []uint32 {
	words := make([]uint32, len(a.insns))
	for i, insn := range a.insns {
		words[i] = insn.Encode(i)
	}
	return words
}

// Bytes returns the encoded instructions in the byte order of the target.
func (a *Assembler) Bytes() []byte {
	buf := make([]byte, 0, 4*len(a.insns))
	for _, w := range a.Words() {
		buf = a.arch.order.AppendUint32(buf, w)
	}
	return buf
}

func (a *Assembler) Pos() int { return len(a.insns) }

func (a *Assembler) emit(insn Instr) {
	a.insns = append(a.insns, insn)
}

func (a *Assembler) LoadImm(dst cb.Reg, v int64) {
	mustGPR(dst)
	rt := dst.Num
	switch {
	case v >= math.MinInt16 && v <= math.MaxInt16:
		a.emit(Instr{Op: ADDI, RT: rt, Imm: int32(v)})
	case v >= math.MinInt32 && v <= math.MaxInt32:
		a.loadImm32(rt, int32(v))
	default:
		a.loadImm32(rt, int32(v>>32))
		a.emit(Instr{Op: SLDI, RT: rt, RA: rt, Imm: 32})
		if hi := (v >> 16) & 0xffff; hi != 0 {
			a.emit(Instr{Op: ORIS, RT: rt, RA: rt, Imm: int32(hi)})
		}
		if lo := v & 0xffff; lo != 0 {
			a.emit(Instr{Op: ORI, RT: rt, RA: rt, Imm: int32(lo)})
		}
	}
}

func (a *Assembler) loadImm32(rt uint8, v int32) {
	if v >= math.MinInt16 && v <= math.MaxInt16 {
		a.emit(Instr{Op: ADDI, RT: rt, Imm: v})
		return
	}
	a.emit(Instr{Op: ADDIS, RT: rt, Imm: int32(int16(v >> 16))})
	if lo := v & 0xffff; lo != 0 {
		a.emit(Instr{Op: ORI, RT: rt, RA: rt, Imm: lo})
	}
}

func (a *Assembler) Move(dst, src cb.Reg) {
	if dst.Class != src.Class {
		panic(fmt.Sprintf("ppc64: move between %v and %v", src, dst))
	}
	if dst.Class == cb.FPR {
		a.emit(Instr{Op: FMR, RT: dst.Num, RB: src.Num})
	} else {
		a.emit(Instr{Op: OR, RT: dst.Num, RA: src.Num, RB: src.Num})
	}
}

func (a *Assembler) Load(dst, base cb.Reg, off int32, w cb.Width) {
	mustBase(base)
	mustDisp(off)
	switch {
	case dst.Class == cb.FPR && w == cb.DWord:
		a.emit(Instr{Op: LFD, RT: dst.Num, RA: base.Num, Imm: off})
	case dst.Class == cb.GPR && w == cb.DWord:
		mustDS(off)
		a.emit(Instr{Op: LD, RT: dst.Num, RA: base.Num, Imm: off})
	case dst.Class == cb.GPR && w == cb.Word:
		a.emit(Instr{Op: LWZ, RT: dst.Num, RA: base.Num, Imm: off})
	default:
		panic(fmt.Sprintf("ppc64: no %d-width load into %v", w, dst))
	}
}

func (a *Assembler) Store(src, base cb.Reg, off int32, w cb.Width) {
	mustBase(base)
	mustDisp(off)
	switch {
	case src.Class == cb.FPR && w == cb.DWord:
		a.emit(Instr{Op: STFD, RT: src.Num, RA: base.Num, Imm: off})
	case src.Class == cb.GPR && w == cb.DWord:
		mustDS(off)
		a.emit(Instr{Op: STD, RT: src.Num, RA: base.Num, Imm: off})
	case src.Class == cb.GPR && w == cb.Word:
		a.emit(Instr{Op: STW, RT: src.Num, RA: base.Num, Imm: off})
	default:
		panic(fmt.Sprintf("ppc64: no %d-width store from %v", w, src))
	}
}

func (a *Assembler) StoreUpdate(src, base cb.Reg, off int32) {
	mustGPR(src)
	mustBase(base)
	mustDisp(off)
	mustDS(off)
	a.emit(Instr{Op: STDU, RT: src.Num, RA: base.Num, Imm: off})
}

func (a *Assembler) AddImm(dst, src cb.Reg, v int32) {
	mustGPR(dst)
	mustBase(src)
	mustDisp(v)
	a.emit(Instr{Op: ADDI, RT: dst.Num, RA: src.Num, Imm: v})
}

func (a *Assembler) LoadReserve(dst, addr cb.Reg) {
	mustGPR(dst)
	mustGPR(addr)
	a.emit(Instr{Op: LDARX, RT: dst.Num, RB: addr.Num})
}

func (a *Assembler) StoreConditional(src, addr cb.Reg) {
	mustGPR(src)
	mustGPR(addr)
	a.emit(Instr{Op: STDCX, RT: src.Num, RB: addr.Num})
}

func (a *Assembler) CompareImm(r cb.Reg, v int16) {
	mustGPR(r)
	a.emit(Instr{Op: CMPDI, RA: r.Num, Imm: int32(v)})
}

func (a *Assembler) Compare(x, y cb.Reg) {
	mustGPR(x)
	mustGPR(y)
	a.emit(Instr{Op: CMPD, RA: x.Num, RB: y.Num})
}

func (a *Assembler) Fence(f cb.Fence) {
	switch f {
	case cb.ReleaseFence:
		a.emit(Instr{Op: LWSYNC})
	case cb.AcquireFence:
		a.emit(Instr{Op: ISYNC})
	default:
		panic(fmt.Sprintf("ppc64: unknown fence %d", f))
	}
}

func (a *Assembler) Branch(c cb.Cond, target int) {
	a.emit(branch(c, target))
}

func (a *Assembler) PlaceholderBranch(c cb.Cond) *cb.Patch {
	pos := a.Pos()
	a.emit(Instr{Op: TRAP})
	return cb.NewPatch(pos, c, func(pos int, c cb.Cond, target int) {
		a.insns[pos] = branch(c, target)
	})
}

func branch(c cb.Cond, target int) Instr {
	switch c {
	case cb.Always:
		return Instr{Op: B, Imm: int32(target)}
	case cb.EQ:
		return Instr{Op: BC, RT: boTrue, RA: biEQ, Imm: int32(target)}
	case cb.NE:
		return Instr{Op: BC, RT: boFalse, RA: biEQ, Imm: int32(target)}
	default:
		panic(fmt.Sprintf("ppc64: unknown condition %v", c))
	}
}

// RawCall calls the C function pointer in target. On ELFv1 a function pointer
// is the address of a three-word descriptor: entry point, TOC and environment.
func (a *Assembler) RawCall(target cb.Reg) {
	if target != a.arch.abi.CallReg {
		panic(fmt.Sprintf("ppc64: %s calls through %v, not %v", a.arch.name, a.arch.abi.CallReg, target))
	}
	if a.arch.elfv1 {
		a.emit(Instr{Op: LD, RT: r0.Num, RA: target.Num, Imm: 0})
		a.emit(Instr{Op: LD, RT: r11.Num, RA: target.Num, Imm: 16})
		a.emit(Instr{Op: MTCTR, RT: r0.Num})
		a.emit(Instr{Op: LD, RT: toc.Num, RA: target.Num, Imm: 8}) // TOC is r2: load it last
	} else {
		a.emit(Instr{Op: MTCTR, RT: target.Num})
	}
	a.emit(Instr{Op: BCTRL})
}

func mustGPR(r cb.Reg) {
	if r.Class != cb.GPR {
		panic(fmt.Sprintf("ppc64: %v is not a general purpose register", r))
	}
}

// mustBase rejects r0, which addressing modes read as the constant zero.
func mustBase(r cb.Reg) {
	mustGPR(r)
	if r.Num == 0 {
		panic("ppc64: r0 used as a base register")
	}
}

func mustDisp(off int32) {
	if off < math.MinInt16 || off > math.MaxInt16 {
		panic(fmt.Sprintf("ppc64: displacement %d out of range", off))
	}
}

func mustDS(off int32) {
	if off%4 != 0 {
		panic(fmt.Sprintf("ppc64: displacement %d is not a multiple of 4", off))
	}
}

// Encode returns the machine word of insn placed at position pos.
func (insn Instr) Encode(pos int) uint32 {
	rt, ra, rb := uint32(insn.RT), uint32(insn.RA), uint32(insn.RB)
	d := uint32(uint16(insn.Imm))
	switch insn.Op {
	case ADDI:
		return 14<<26 | rt<<21 | ra<<16 | d
	case ADDIS:
		return 15<<26 | rt<<21 | ra<<16 | d
	case ORI:
		return 24<<26 | ra<<21 | rt<<16 | d
	case ORIS:
		return 25<<26 | ra<<21 | rt<<16 | d
	case SLDI:
		sh := uint32(insn.Imm)
		me := 63 - sh
		return 30<<26 | ra<<21 | rt<<16 | (sh&31)<<11 | ((me&31)<<1|me>>5)<<5 | 1<<2 | (sh>>5)<<1
	case OR:
		return 31<<26 | ra<<21 | rt<<16 | rb<<11 | 444<<1
	case FMR:
		return 63<<26 | rt<<21 | rb<<11 | 72<<1
	case LD:
		return 58<<26 | rt<<21 | ra<<16 | d&^3
	case STD:
		return 62<<26 | rt<<21 | ra<<16 | d&^3
	case STDU:
		return 62<<26 | rt<<21 | ra<<16 | d&^3 | 1
	case LWZ:
		return 32<<26 | rt<<21 | ra<<16 | d
	case STW:
		return 36<<26 | rt<<21 | ra<<16 | d
	case LFD:
		return 50<<26 | rt<<21 | ra<<16 | d
	case STFD:
		return 54<<26 | rt<<21 | ra<<16 | d
	case LDARX:
		return 31<<26 | rt<<21 | ra<<16 | rb<<11 | 84<<1
	case STDCX:
		return 31<<26 | rt<<21 | ra<<16 | rb<<11 | 214<<1 | 1
	case CMPDI:
		return 11<<26 | 1<<21 | ra<<16 | d
	case CMPD:
		return 31<<26 | 1<<21 | ra<<16 | rb<<11
	case BC:
		bd := uint32(int32(insn.Imm)-int32(pos)) * 4
		return 16<<26 | rt<<21 | ra<<16 | bd&0xfffc
	case B:
		li := uint32(int32(insn.Imm)-int32(pos)) * 4
		return 18<<26 | li&0x3fffffc
	case MTCTR:
		return 31<<26 | rt<<21 | 9<<16 | 467<<1
	case BCTRL:
		return 0x4e800421
	case LWSYNC:
		return 0x7c2004ac
	case ISYNC:
		return 0x4c00012c
	case TRAP:
		return 0x7fe00008
	default:
		panic(fmt.Sprintf("ppc64: unknown op %d", insn.Op))
	}
}
