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

// ExtendFrame moves SP down by bytes. The back chain word at 0(SP) is copied to
// the new 0(SP) by the same store that moves SP, so a stack walker never sees
// a frame without its chain: the new back chain still points past both the
// existing fixed part and the new variable part of the frame.
func ExtendFrame(e Emitter, abi *ABI, bytes int32) {
	if bytes <= 0 || bytes%abi.StackAlign != 0 {
		panic(fmt.Sprintf("callbuilder: bad frame extension %d", bytes))
	}
	e.Load(abi.Scratch2, abi.SP, 0, DWord)
	e.StoreUpdate(abi.Scratch2, abi.SP, -bytes)
}

// RestoreFrame undoes ExtendFrame.
func RestoreFrame(e Emitter, abi *ABI, bytes int32) {
	if bytes != 0 {
		e.AddImm(abi.SP, abi.SP, bytes)
	}
}

// StoreOverflow writes the overflow arguments of plan into the extended frame.
// It runs before the register moves, so every source still has its original value.
func StoreOverflow(e Emitter, abi *ABI, plan *Plan) {
	for _, slot := range plan.Stack {
		offset, arg := slot.Unpack()
		var src Reg
		switch loc := arg.Loc.(type) {
		case Reg:
			src = loc
		case StackSlot:
			src = scratchFor(abi, arg.Type)
			e.Load(src, abi.Frame, loc.Offset, DWord)
		case Imm:
			src = abi.Scratch2
			e.LoadImm(src, loc.Value)
		default:
			panic(fmt.Sprintf("callbuilder: unknown location %T", arg.Loc))
		}
		e.Store(src, abi.SP, offset, DWord)
	}
}

func scratchFor(abi *ABI, t Type) Reg {
	switch t {
	case Int:
		return abi.Scratch2
	case Float:
		return abi.FPScratch
	default:
		panic(fmt.Sprintf("callbuilder: unknown type tag %d", t))
	}
}
