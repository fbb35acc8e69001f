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

import (
	"fmt"

	"github.com/samber/lo"
)

// Plan is where each argument of a call goes.
type Plan struct {
	// IntSrcs[i] moves to IntDsts[i]. The last pair is always the call target.
	IntSrcs []Location
	IntDsts []Reg
	// FloatSrcs[i] moves to FloatDsts[i].
	FloatSrcs []Location
	FloatDsts []Reg
	// Stack holds the arguments written to the overflow area, as (SP offset, argument).
	Stack []lo.Tuple2[int32, Arg]
	// FrameBytes is how far SP moves down for this call, zero if it does not.
	FrameBytes int32
}

// StackSlots returns the number of overflow words actually written.
func (p *Plan) StackSlots() int { return len(p.Stack) }

// Classify assigns every argument to a register or an overflow slot.
//
// The first min(N, G) arguments are positional: argument i owns GPR i. A
// float among them consumes that GPR position but is passed in the next
// free FPR. Beyond position G, integers always go to the stack at their
// ordinal offset, and floats keep filling FPRs until those run out.
func Classify(abi *ABI, args []Arg, target Location) *Plan {
	plan := &Plan{}
	numArgs := len(args)
	numRegs := len(abi.GPRArgs)

	for i, arg := range args[:min(numArgs, numRegs)] {
		switch arg.Type {
		case Int:
			plan.IntSrcs = append(plan.IntSrcs, arg.Loc)
			plan.IntDsts = append(plan.IntDsts, abi.GPRArgs[i])
		case Float:
			plan.placeFloat(abi, i, arg)
		default:
			panic(fmt.Sprintf("callbuilder: unknown type tag %d", arg.Type))
		}
	}
	for n := numRegs; n < numArgs; n++ {
		arg := args[n]
		switch arg.Type {
		case Int:
			plan.Stack = append(plan.Stack, lo.T2(overflowOffset(abi, n), arg))
		case Float:
			plan.placeFloat(abi, n, arg)
		default:
			panic(fmt.Sprintf("callbuilder: unknown type tag %d", arg.Type))
		}
	}
	if numArgs > numRegs || len(plan.Stack) > 0 {
		plan.FrameBytes = alignUp(abi.ParamSaveAreaOffset+abi.WordSize*int32(numArgs), abi.StackAlign)
	}

	plan.IntSrcs = append(plan.IntSrcs, target)
	plan.IntDsts = append(plan.IntDsts, abi.CallReg)
	n := len(plan.FloatSrcs)
	plan.FloatDsts = abi.FPRArgs[:n:n]
	return plan
}

// placeFloat gives the float at ordinal n the next free FPR, or its overflow
// slot once the FPRs run out.
func (p *Plan) placeFloat(abi *ABI, n int, arg Arg) {
	if len(p.FloatSrcs) < len(abi.FPRArgs) {
		p.FloatSrcs = append(p.FloatSrcs, arg.Loc)
		return
	}
	p.Stack = append(p.Stack, lo.T2(overflowOffset(abi, n), arg))
}

func overflowOffset(abi *ABI, n int) int32 {
	return abi.ParamSaveAreaOffset + abi.WordSize*int32(n)
}

func alignUp(n, align int32) int32 {
	return (n + align - 1) &^ (align - 1)
}
