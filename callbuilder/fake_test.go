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

package callbuilder

import "fmt"

// fakeEmitter records every operation and executes the straight-line ones
// on a register file and a flat memory.
type fakeEmitter struct {
	ops  []string
	regs map[Reg]int64
	mem  map[int64]int64
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{regs: make(map[Reg]int64), mem: make(map[int64]int64)}
}

func (f *fakeEmitter) op(format string, args ...any) {
	f.ops = append(f.ops, fmt.Sprintf(format, args...))
}

func (f *fakeEmitter) Pos() int { return len(f.ops) }

func (f *fakeEmitter) LoadImm(dst Reg, v int64) {
	f.op("li %v, %d", dst, v)
	f.regs[dst] = v
}

func (f *fakeEmitter) Move(dst, src Reg) {
	f.op("mr %v, %v", dst, src)
	f.regs[dst] = f.regs[src]
}

func (f *fakeEmitter) Load(dst, base Reg, off int32, w Width) {
	f.op("load%d %v, %d(%v)", w, dst, off, base)
	f.regs[dst] = f.mem[f.regs[base]+int64(off)]
}

func (f *fakeEmitter) Store(src, base Reg, off int32, w Width) {
	f.op("store%d %v, %d(%v)", w, src, off, base)
	f.mem[f.regs[base]+int64(off)] = f.regs[src]
}

func (f *fakeEmitter) StoreUpdate(src, base Reg, off int32) {
	f.op("storeu %v, %d(%v)", src, off, base)
	ea := f.regs[base] + int64(off)
	f.mem[ea] = f.regs[src]
	f.regs[base] = ea
}

func (f *fakeEmitter) AddImm(dst, src Reg, v int32) {
	f.op("addi %v, %v, %d", dst, src, v)
	f.regs[dst] = f.regs[src] + int64(v)
}

func (f *fakeEmitter) LoadReserve(dst, addr Reg) { f.op("lr %v, (%v)", dst, addr) }

func (f *fakeEmitter) StoreConditional(src, addr Reg) { f.op("sc %v, (%v)", src, addr) }

func (f *fakeEmitter) CompareImm(a Reg, v int16) { f.op("cmpi %v, %d", a, v) }

func (f *fakeEmitter) Compare(a, b Reg) { f.op("cmp %v, %v", a, b) }

func (f *fakeEmitter) Fence(fence Fence) { f.op("fence %d", fence) }

func (f *fakeEmitter) Branch(c Cond, target int) { f.op("b%v %d", c, target) }

func (f *fakeEmitter) PlaceholderBranch(c Cond) *Patch {
	pos := f.Pos()
	f.op("placeholder")
	return NewPatch(pos, c, func(pos int, c Cond, target int) {
		f.ops[pos] = fmt.Sprintf("b%v %d", c, target)
	})
}

func (f *fakeEmitter) RawCall(target Reg) { f.op("call %v", target) }

// fakeArch is a small target: four integer and three float argument
// registers and an eight byte parameter save area.
type fakeArch struct {
	abi      *ABI
	releases int
	acquires int
}

func newFakeArch() *fakeArch {
	return &fakeArch{abi: &ABI{
		GPRArgs:               []Reg{R(3), R(4), R(5), R(6)},
		FPRArgs:               []Reg{F(1), F(2), F(3)},
		ParamSaveAreaOffset:   8,
		ThreadLocalAddrOffset: 40,
		StackAlign:            16,
		WordSize:              8,
		MaxArgs:               64,
		MaxDisplacement:       1024,
		SP:                    R(1),
		Frame:                 R(31),
		CallReg:               R(12),
		IntResult:             R(3),
		FloatResult:           F(1),
		Scratch:               R(0),
		Scratch2:              R(11),
		FPScratch:             F(0),
		PostCallScratch:       [2]Reg{R(9), R(10)},
		Reserved:              []Reg{R(0), R(1), R(11), F(0)},
	}}
}

func (a *fakeArch) Name() string { return "fake" }

func (a *fakeArch) ABI() *ABI { return a.abi }

func (a *fakeArch) NewEmitter() Emitter { return newFakeEmitter() }

func (a *fakeArch) ReleaseLock(e Emitter, s SyncState) {
	a.releases++
	e.LoadImm(R(29), int64(s.FastGILAddr()))
	e.Fence(ReleaseFence)
}

func (a *fakeArch) ReacquireLock(e Emitter, s SyncState, hasResult bool, resultType Type) {
	a.acquires++
	p := e.PlaceholderBranch(EQ)
	e.LoadImm(a.abi.CallReg, int64(s.ReacquireAddr()))
	e.RawCall(a.abi.CallReg)
	MustResolve(p, e.Pos())
}

type fakeSync struct{}

func (fakeSync) FastGILAddr() uint64 { return 0x1000 }

func (fakeSync) RootStackTopAddr() (uint64, bool) { return 0x1008, true }

func (fakeSync) ReacquireAddr() uint64 { return 0x2000 }
