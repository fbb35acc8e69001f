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

// RegClass selects one of the two register files.
type RegClass uint8

const (
	GPR RegClass = iota // integer and pointer registers
	FPR                 // floating-point registers
)

// Reg is a machine register. Registers are plain values and can be used as map keys.
type Reg struct {
	Class RegClass
	Num   uint8
}

// R returns the general purpose register n.
func R(n uint8) Reg { return Reg{Class: GPR, Num: n} }

// F returns the floating-point register n.
func F(n uint8) Reg { return Reg{Class: FPR, Num: n} }

func (r Reg) String() string {
	if r.Class == FPR {
		return fmt.Sprintf("F%d", r.Num)
	}
	return fmt.Sprintf("R%d", r.Num)
}

func (Reg) location() {}

// StackSlot is a word in the JIT frame, addressed relative to the frame register.
// It is not affected by moves of the native stack pointer.
type StackSlot struct {
	Offset int32
}

func (s StackSlot) String() string { return fmt.Sprintf("frame%+d", s.Offset) }

func (StackSlot) location() {}

// Imm is an integer constant, most often the address of the callee.
type Imm struct {
	Value int64
}

func (i Imm) String() string { return fmt.Sprintf("$%#x", i.Value) }

func (Imm) location() {}

// Location is where the register allocator placed a value: a Reg, a StackSlot or an Imm.
// The set is closed; type switches over it must handle all three.
type Location interface {
	fmt.Stringer
	location()
}

// Type is the type tag of an argument or result.
type Type uint8

const (
	Int   Type = iota // integers and pointers
	Float             // doubles
)

func (t Type) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Arg is one argument of a foreign call.
type Arg struct {
	Loc  Location
	Type Type
}

func (a Arg) String() string { return fmt.Sprintf("%v:%v", a.Loc, a.Type) }
