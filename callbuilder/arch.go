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
	"sort"
	"strings"
)

// ABI describes the calling convention of a target and the registers the call
// sequence is allowed to use for itself.
type ABI struct {
	// GPRArgs are the integer argument registers, in order.
	GPRArgs []Reg
	// FPRArgs are the floating-point argument registers, in order.
	FPRArgs []Reg
	// ParamSaveAreaOffset is the offset from SP of the first parameter word.
	ParamSaveAreaOffset int32
	// ThreadLocalAddrOffset is the offset from SP, before any frame extension,
	// of the word holding the thread-local block address.
	ThreadLocalAddrOffset int32
	StackAlign            int32
	WordSize              int32
	// MaxArgs bounds the argument count so every offset fits a displacement.
	MaxArgs int
	// MaxDisplacement bounds the magnitude of a StackSlot offset, which is
	// addressed off Frame in a single load or store.
	MaxDisplacement int32

	SP    Reg // native stack pointer
	Frame Reg // base of StackSlot locations
	// CallReg receives the call target as a synthetic trailing argument.
	CallReg Reg

	IntResult   Reg
	FloatResult Reg

	Scratch   Reg // breaks integer move cycles
	Scratch2  Reg // frame extension and overflow stores
	FPScratch Reg // breaks float move cycles and float overflow stores
	// PostCallScratch are two integer registers that hold nothing live after the call.
	PostCallScratch [2]Reg

	// Reserved registers can never be argument or target sources.
	Reserved []Reg
}

// IsReserved reports whether r is owned by the call sequence.
func (abi *ABI) IsReserved(r Reg) bool {
	for _, reserved := range abi.Reserved {
		if reserved == r {
			return true
		}
	}
	return false
}

// ResultReg returns the fixed register a result of type t is returned in.
func (abi *ABI) ResultReg(t Type) Reg {
	switch t {
	case Int:
		return abi.IntResult
	case Float:
		return abi.FloatResult
	default:
		panic(fmt.Sprintf("callbuilder: unknown type tag %d", t))
	}
}

// Arch is a target able to emit foreign calls. The architecture-neutral parts of
// the call live in Builder; an Arch supplies its ABI and the lock protocol,
// whose instruction sequence is specific to each target.
type Arch interface {
	// Name returns the architecture name (e.g., "ppc64le")
	Name() string

	// ABI returns the calling convention
	ABI() *ABI

	// NewEmitter returns an empty code buffer for this target
	NewEmitter() Emitter

	// ReleaseLock emits the release half of the lock protocol. It runs after the
	// arguments are in place and must not clobber argument registers.
	ReleaseLock(e Emitter, s SyncState)

	// ReacquireLock emits the reacquire half of the lock protocol right after the
	// call. The result of type resultType, if hasResult, must survive it.
	ReacquireLock(e Emitter, s SyncState, hasResult bool, resultType Type)
}

// archs holds the registered targets
var archs = map[string]Arch{}

// RegisterArch registers a target
func RegisterArch(name string, a Arch) {
	archs[name] = a
}

// GetArch returns the target with the given name
func GetArch(name string) (Arch, error) {
	if a, ok := archs[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("unsupported architecture: %s (available: %s)", name, strings.Join(ListArchitectures(), ", "))
}

// ListArchitectures returns the registered target names, sorted
func ListArchitectures() []string {
	names := make([]string, 0, len(archs))
	for name := range archs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
