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

// Package callbuilder emits the machine code of foreign calls made from
// compiled traces: argument placement under the target calling convention,
// the call itself, and the optional lock and errno protocols around it.
package callbuilder

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// SyncState is the process-wide lock state that lock-releasing calls
// coordinate with. Code generation only needs its addresses.
type SyncState interface {
	// FastGILAddr is the address of the fast-path lock word, non-zero while held.
	FastGILAddr() uint64
	// RootStackTopAddr is the address of the shadow stack top. ok is false when
	// GC roots are not tracked by a shadow stack.
	RootStackTopAddr() (addr uint64, ok bool)
	// ReacquireAddr is the entry of the out-of-line reacquire routine.
	ReacquireAddr() uint64
}

// State is a step of the call emission state machine.
type State uint8

const (
	Classifying State = iota
	FrameExtended
	ArgsPlaced
	Called
	LockProtocol
	ResultRetrieved
	FrameRestored
	Done
)

var stateNames = [...]string{
	Classifying:     "CLASSIFYING",
	FrameExtended:   "FRAME-EXTENDED",
	ArgsPlaced:      "ARGS-PLACED",
	Called:          "CALLED",
	LockProtocol:    "LOCK-PROTOCOL",
	ResultRetrieved: "RESULT-RETRIEVED",
	FrameRestored:   "FRAME-RESTORED",
	Done:            "DONE",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Emission reports what Emit did for one call site.
type Emission struct {
	Plan *Plan
	// States lists the states visited, in order.
	States []State
	// Start and End delimit the emitted instructions.
	Start, End int
}

// Builder emits call sequences for one target. A Builder holds no per-call
// state and may be reused for any number of call sites.
type Builder struct {
	arch   Arch
	abi    *ABI
	sync   SyncState
	errno  ErrnoLayout
	logger logrus.FieldLogger
}

// Option configures a Builder.
type Option func(*Builder)

// WithSyncState sets the lock state used by lock-releasing calls.
func WithSyncState(s SyncState) Option {
	return func(b *Builder) { b.sync = s }
}

// WithErrnoLayout sets the thread-local errno layout.
func WithErrnoLayout(l ErrnoLayout) Option {
	return func(b *Builder) { b.errno = l }
}

// WithLogger sets the logger call sites are reported to.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(b *Builder) { b.logger = logger }
}

// NewBuilder returns a Builder for arch.
func NewBuilder(arch Arch, opts ...Option) *Builder {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	b := &Builder{
		arch:   arch,
		abi:    arch.ABI(),
		errno:  DefaultErrnoLayout,
		logger: discard,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit appends the complete call sequence for d to e.
func (b *Builder) Emit(e Emitter, d *CallDescriptor) (*Emission, error) {
	if err := d.Validate(b.abi); err != nil {
		return nil, err
	}
	if d.ReleasesLock && b.sync == nil {
		return nil, ErrNoSyncState
	}
	out := &Emission{Start: e.Pos()}
	enter := func(s State) { out.States = append(out.States, s) }

	enter(Classifying)
	plan := Classify(b.abi, d.Args, d.Target)
	out.Plan = plan

	if plan.FrameBytes != 0 {
		ExtendFrame(e, b.abi, plan.FrameBytes)
		StoreOverflow(e, b.abi, plan)
		enter(FrameExtended)
	}

	if len(plan.FloatSrcs) > 0 {
		RemapFrameLayout(e, b.abi.Frame, plan.FloatSrcs, plan.FloatDsts, b.abi.FPScratch)
	}
	RemapFrameLayout(e, b.abi.Frame, plan.IntSrcs, plan.IntDsts, b.abi.Scratch)
	enter(ArgsPlaced)

	if d.ReleasesLock {
		b.arch.ReleaseLock(e, b.sync)
	}
	WriteRealErrno(e, b.abi, b.errno, d, plan.FrameBytes)
	e.RawCall(b.abi.CallReg)
	enter(Called)

	ReadRealErrno(e, b.abi, b.errno, d, plan.FrameBytes)
	if d.ReleasesLock {
		b.arch.ReacquireLock(e, b.sync, d.Result != nil, d.ResultType)
		enter(LockProtocol)
	}

	// Validate pinned the result to the ABI result register, where the
	// callee left it: retrieval emits nothing.
	enter(ResultRetrieved)

	RestoreFrame(e, b.abi, plan.FrameBytes)
	enter(FrameRestored)
	enter(Done)
	out.End = e.Pos()

	b.logger.WithFields(logrus.Fields{
		"arch":          b.arch.Name(),
		"args":          len(d.Args),
		"stack_slots":   plan.StackSlots(),
		"frame_bytes":   plan.FrameBytes,
		"releases_lock": d.ReleasesLock,
		"errno":         d.Errno.String(),
		"instructions":  out.End - out.Start,
	}).Debug("emitted foreign call")
	return out, nil
}
