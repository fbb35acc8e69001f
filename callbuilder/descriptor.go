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

// ErrnoMode says how errno is carried across a call.
type ErrnoMode uint8

const (
	ErrnoNone ErrnoMode = iota
	// ErrnoSaveAfter copies the OS errno into the thread-local slot after the call.
	ErrnoSaveAfter
	// ErrnoZeroBefore clears the OS errno before the call, and saves it after.
	ErrnoZeroBefore
	// ErrnoRestoreSaved writes the thread-local slot into the OS errno before
	// the call, and saves it after.
	ErrnoRestoreSaved
)

var errnoModeNames = map[ErrnoMode]string{
	ErrnoNone:         "none",
	ErrnoSaveAfter:    "save-after",
	ErrnoZeroBefore:   "restore-zero-before",
	ErrnoRestoreSaved: "restore-saved-before",
}

func (m ErrnoMode) String() string {
	if name, ok := errnoModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("ErrnoMode(%d)", uint8(m))
}

// ParseErrnoMode is the inverse of ErrnoMode.String.
func ParseErrnoMode(s string) (ErrnoMode, error) {
	for mode, name := range errnoModeNames {
		if name == s {
			return mode, nil
		}
	}
	if s == "" {
		return ErrnoNone, nil
	}
	return ErrnoNone, fmt.Errorf("%w: %q", ErrBadErrnoMode, s)
}

// WritesBefore reports whether the OS errno is written before the call.
func (m ErrnoMode) WritesBefore() bool {
	return m == ErrnoZeroBefore || m == ErrnoRestoreSaved
}

// SavesAfter reports whether the OS errno is saved after the call.
func (m ErrnoMode) SavesAfter() bool {
	return m != ErrnoNone
}

var (
	ErrNoTarget         = errors.New("callbuilder: call has no target")
	ErrArgCount         = errors.New("callbuilder: too many arguments")
	ErrLocationClass    = errors.New("callbuilder: location does not match its type")
	ErrReservedRegister = errors.New("callbuilder: argument lives in a reserved register")
	ErrResultLocation   = errors.New("callbuilder: result must be in the fixed result register")
	ErrBadErrnoMode     = errors.New("callbuilder: unknown errno mode")
	ErrNoSyncState      = errors.New("callbuilder: lock-releasing call without sync state")
)

// CallDescriptor is one foreign call site, as decided by the tracing compiler.
type CallDescriptor struct {
	Args   []Arg
	Target Location
	// Result is nil when the result is unused. Otherwise it must be the ABI
	// result register for ResultType.
	Result     Location
	ResultType Type
	// ReleasesLock wraps the call in the lock release/reacquire protocol.
	ReleasesLock bool
	Errno        ErrnoMode
	// AltErrno selects the alternate thread-local errno slot.
	AltErrno bool
}

// Validate checks the descriptor against abi. Every error is a bug in the
// compiler that produced d.
func (d *CallDescriptor) Validate(abi *ABI) error {
	if d.Target == nil {
		return ErrNoTarget
	}
	if err := checkLocation(abi, Arg{Loc: d.Target, Type: Int}); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if len(d.Args) > abi.MaxArgs {
		return fmt.Errorf("%w: %d > %d", ErrArgCount, len(d.Args), abi.MaxArgs)
	}
	for i, arg := range d.Args {
		if err := checkLocation(abi, arg); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	if d.Result != nil {
		if r, ok := d.Result.(Reg); !ok || r != abi.ResultReg(d.ResultType) {
			return fmt.Errorf("%w: got %v for %v result", ErrResultLocation, d.Result, d.ResultType)
		}
	}
	if _, ok := errnoModeNames[d.Errno]; !ok {
		return fmt.Errorf("%w: %d", ErrBadErrnoMode, d.Errno)
	}
	return nil
}

func checkLocation(abi *ABI, arg Arg) error {
	if arg.Type != Int && arg.Type != Float {
		return fmt.Errorf("%w: unknown type tag %d", ErrLocationClass, arg.Type)
	}
	switch loc := arg.Loc.(type) {
	case Reg:
		if want := classOf(arg.Type); loc.Class != want {
			return fmt.Errorf("%w: %v holds a %v", ErrLocationClass, loc, arg.Type)
		}
		if abi.IsReserved(loc) {
			return fmt.Errorf("%w: %v", ErrReservedRegister, loc)
		}
	case StackSlot:
		if loc.Offset%abi.WordSize != 0 {
			return fmt.Errorf("%w: unaligned %v", ErrLocationClass, loc)
		}
		if loc.Offset > abi.MaxDisplacement || loc.Offset < -abi.MaxDisplacement {
			return fmt.Errorf("%w: %v out of displacement range", ErrLocationClass, loc)
		}
	case Imm:
		if arg.Type == Float {
			return fmt.Errorf("%w: float immediate %v", ErrLocationClass, loc)
		}
	case nil:
		return fmt.Errorf("%w: missing location", ErrLocationClass)
	default:
		panic(fmt.Sprintf("callbuilder: unknown location %T", loc))
	}
	return nil
}

func classOf(t Type) RegClass {
	switch t {
	case Int:
		return GPR
	case Float:
		return FPR
	default:
		panic(fmt.Sprintf("callbuilder: unknown type tag %d", t))
	}
}
