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

// Package ppc64 implements foreign calls for 64-bit PowerPC under the ELFv1
// (big endian) and ELFv2 (little endian) ABIs.
package ppc64

import (
	"encoding/binary"

	cb "github.com/gorse-io/callgen/callbuilder"
)

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Arch implements callbuilder.Arch for one ppc64 ABI.
type Arch struct {
	name  string
	abi   *cb.ABI
	elfv1 bool
	order byteOrder
}

var (
	// ELFv1 is big-endian ppc64: 48-byte fixed frame header, calls through
	// function descriptors in r2.
	ELFv1 = &Arch{name: "ppc64", abi: newABI(48, toc), elfv1: true, order: binary.BigEndian}
	// ELFv2 is little-endian ppc64le: 32-byte fixed frame header, calls through r12.
	ELFv2 = &Arch{name: "ppc64le", abi: newABI(32, r12), order: binary.LittleEndian}
)

var _ cb.Arch = (*Arch)(nil)

func (a *Arch) Name() string { return a.name }

func (a *Arch) ABI() *cb.ABI { return a.abi }

func (a *Arch) NewEmitter() cb.Emitter { return NewAssembler(a) }

// ByteOrder returns the memory byte order of the target.
func (a *Arch) ByteOrder() binary.ByteOrder { return a.order }

// FloatSaveOffset is the SP offset where a float result waits out the slow
// reacquire routine: the last word of the register parameter save area.
func (a *Arch) FloatSaveOffset() int32 {
	return a.abi.ParamSaveAreaOffset + 7*wordSize
}

// ReleaseLock keeps the current shadow stack top in rShadowOld, then clears
// the fast GIL flag after a lwsync so that every store to the managed heap is
// visible before another thread can see the lock free. The shadow stack top
// is left in place in the process-wide slot; it is how the next owner learns
// whose shadow stack is current.
func (a *Arch) ReleaseLock(e cb.Emitter, s cb.SyncState) {
	if top, ok := s.RootStackTopAddr(); ok {
		e.LoadImm(rShadowPtr, int64(top))
		e.Load(rShadowOld, rShadowPtr, 0, cb.DWord)
	}
	e.LoadImm(rFastGILPtr, int64(s.FastGILAddr()))
	e.LoadImm(r0, 0)
	e.Fence(cb.ReleaseFence)
	e.Store(r0, rFastGILPtr, 0, cb.DWord)
}

// ReacquireLock emits
//
//	    li      r9, 1
//	retry:
//	    ldarx   r10, 0, rFastGILPtr
//	    cmpdi   r10, 0
//	    bne     slow              ; held by another thread
//	    stdcx.  r9, 0, rFastGILPtr
//	    bne     retry             ; reservation lost
//	    isync
//	    ld      r11, 0(rShadowPtr)  ; shadow stack only
//	    cmpd    r11, rShadowOld
//	    beq     done
//	    li      r0, 0             ; ours, but with a foreign shadow stack:
//	    lwsync                    ; give it back
//	    std     r0, 0(rFastGILPtr)
//	slow:
//	    <save result>             ; in rFastGILPtr, no longer needed
//	    <call the reacquire routine>
//	    <restore result>
//	done:
//
// The fast path leaves the result registers alone.
//
// Without a shadow stack the check is replaced by "b done". The three
// forward branches are emitted as placeholders and patched once slow and
// done are known.
func (a *Arch) ReacquireLock(e cb.Emitter, s cb.SyncState, hasResult bool, resultType cb.Type) {
	e.LoadImm(r9, 1)
	retry := e.Pos()
	e.LoadReserve(r10, rFastGILPtr)
	e.CompareImm(r10, 0)
	held := e.PlaceholderBranch(cb.NE)
	e.StoreConditional(r9, rFastGILPtr)
	e.Branch(cb.NE, retry)
	e.Fence(cb.AcquireFence)

	var done *cb.Patch
	if _, ok := s.RootStackTopAddr(); ok {
		e.Load(r11, rShadowPtr, 0, cb.DWord)
		e.Compare(r11, rShadowOld)
		done = e.PlaceholderBranch(cb.EQ)
		e.LoadImm(r0, 0)
		e.Fence(cb.ReleaseFence)
		e.Store(r0, rFastGILPtr, 0, cb.DWord)
	} else {
		done = e.PlaceholderBranch(cb.Always)
	}

	cb.MustResolve(held, e.Pos())
	if hasResult {
		a.saveResult(e, resultType)
	}
	e.LoadImm(a.abi.CallReg, int64(s.ReacquireAddr()))
	e.RawCall(a.abi.CallReg)
	if hasResult {
		a.restoreResult(e, resultType)
	}
	cb.MustResolve(done, e.Pos())
}

func (a *Arch) saveResult(e cb.Emitter, t cb.Type) {
	switch t {
	case cb.Int:
		e.Move(rFastGILPtr, a.abi.IntResult)
	case cb.Float:
		e.Store(a.abi.FloatResult, sp, a.FloatSaveOffset(), cb.DWord)
	default:
		panic("ppc64: unknown result type")
	}
}

func (a *Arch) restoreResult(e cb.Emitter, t cb.Type) {
	switch t {
	case cb.Int:
		e.Move(a.abi.IntResult, rFastGILPtr)
	case cb.Float:
		e.Load(a.abi.FloatResult, sp, a.FloatSaveOffset(), cb.DWord)
	default:
		panic("ppc64: unknown result type")
	}
}

func init() {
	cb.RegisterArch(ELFv1.name, ELFv1)
	cb.RegisterArch(ELFv2.name, ELFv2)
}
