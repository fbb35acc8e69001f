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
	"errors"
	"fmt"
)

// Width is the size of a memory access.
type Width uint8

const (
	Word  Width = iota // 32 bits, zero extended on load
	DWord              // 64 bits
)

// Cond is a branch condition on the flags set by the last compare or
// store-conditional.
type Cond uint8

const (
	Always Cond = iota
	EQ          // equal, or store-conditional succeeded
	NE          // not equal, or store-conditional failed
)

func (c Cond) String() string {
	switch c {
	case Always:
		return "always"
	case EQ:
		return "eq"
	case NE:
		return "ne"
	default:
		return fmt.Sprintf("Cond(%d)", uint8(c))
	}
}

// Fence orders memory accesses around it.
type Fence uint8

const (
	// ReleaseFence makes all earlier stores visible before any later store.
	ReleaseFence Fence = iota
	// AcquireFence keeps later accesses from running before an earlier atomic load.
	AcquireFence
)

// Emitter is the code sink of one call sequence. Positions are instruction
// indexes; branch targets are absolute positions.
type Emitter interface {
	// Pos returns the position of the next instruction.
	Pos() int

	LoadImm(dst Reg, v int64)
	// Move copies between two registers of the same class.
	Move(dst, src Reg)
	Load(dst, base Reg, off int32, w Width)
	Store(src, base Reg, off int32, w Width)
	// StoreUpdate stores src at base+off and sets base to base+off as one instruction.
	StoreUpdate(src, base Reg, off int32)
	AddImm(dst, src Reg, v int32)

	// LoadReserve loads the word at addr and takes a reservation on it.
	LoadReserve(dst, addr Reg)
	// StoreConditional stores src at addr if the reservation still holds and sets EQ on success.
	StoreConditional(src, addr Reg)

	CompareImm(a Reg, v int16)
	Compare(a, b Reg)
	Fence(f Fence)

	// Branch emits a branch to an already known position.
	Branch(c Cond, target int)
	// PlaceholderBranch reserves a branch whose target is filled in later.
	PlaceholderBranch(c Cond) *Patch

	// RawCall calls the function whose address is in target.
	RawCall(target Reg)
}

// ErrPatchResolved is returned when a placeholder branch is resolved twice.
var ErrPatchResolved = errors.New("callbuilder: placeholder branch already resolved")

// Patch is a forward branch emitted before its target is known.
type Patch struct {
	pos      int
	cond     Cond
	resolved bool
	fill     func(pos int, c Cond, target int)
}

// NewPatch is called by Emitter implementations. fill rewrites the instruction
// at pos into a branch on c to target.
func NewPatch(pos int, c Cond, fill func(pos int, c Cond, target int)) *Patch {
	return &Patch{pos: pos, cond: c, fill: fill}
}

// Pos returns the position of the placeholder instruction.
func (p *Patch) Pos() int { return p.pos }

// Resolved reports whether Resolve already succeeded.
func (p *Patch) Resolved() bool { return p.resolved }

// Resolve turns the placeholder into a branch to target.
func (p *Patch) Resolve(target int) error {
	if p.resolved {
		return ErrPatchResolved
	}
	p.fill(p.pos, p.cond, target)
	p.resolved = true
	return nil
}

// MustResolve resolves p and panics if it was already resolved.
func MustResolve(p *Patch, target int) {
	if err := p.Resolve(target); err != nil {
		panic(err)
	}
}
