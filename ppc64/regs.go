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

import cb "github.com/gorse-io/callgen/callbuilder"

const (
	wordSize   = 8
	maxArgs    = 1024
	stackAlign = 16
	maxDisp    = 0x7ff8 // largest word aligned 16-bit displacement
)

// ppc64 register roles
var (
	r0  = cb.R(0) // scratch; reads as zero when used as a base
	sp  = cb.R(1)
	toc = cb.R(2) // call register on ELFv1
	r3  = cb.R(3)
	r9  = cb.R(9)
	r10 = cb.R(10)
	r11 = cb.R(11) // second scratch
	r12 = cb.R(12) // call register on ELFv2
	spp = cb.R(31) // JIT frame pointer, base of stack slots

	// Callee-saved registers owned by the lock protocol. They survive both the
	// foreign call and the slow reacquire routine.
	rShadowPtr  = cb.R(30) // &shadow stack top
	rFastGILPtr = cb.R(29) // &fast GIL flag
	rShadowOld  = cb.R(28) // shadow stack top before the release

	f0 = cb.F(0) // float scratch
	f1 = cb.F(1)
)

// ppc64 argument register sets
var (
	gprArgs = []cb.Reg{cb.R(3), cb.R(4), cb.R(5), cb.R(6), cb.R(7), cb.R(8), cb.R(9), cb.R(10)}
	fprArgs = []cb.Reg{cb.F(1), cb.F(2), cb.F(3), cb.F(4), cb.F(5), cb.F(6), cb.F(7),
		cb.F(8), cb.F(9), cb.F(10), cb.F(11), cb.F(12), cb.F(13)}
)

// volatile registers, clobbered by any native callee
var (
	volatileGPRs = []uint8{0, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	volatileFPRs = []uint8{0, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
)

func newABI(paramSaveArea int32, callReg cb.Reg) *cb.ABI {
	return &cb.ABI{
		GPRArgs:               gprArgs,
		FPRArgs:               fprArgs,
		ParamSaveAreaOffset:   paramSaveArea,
		ThreadLocalAddrOffset: paramSaveArea + int32(len(gprArgs))*wordSize,
		StackAlign:            stackAlign,
		WordSize:              wordSize,
		MaxArgs:               maxArgs,
		MaxDisplacement:       maxDisp,
		SP:                    sp,
		Frame:                 spp,
		CallReg:               callReg,
		IntResult:             r3,
		FloatResult:           f1,
		Scratch:               r0,
		Scratch2:              r11,
		FPScratch:             f0,
		PostCallScratch:       [2]cb.Reg{r9, r10},
		Reserved:              []cb.Reg{r0, sp, r11, f0},
	}
}
