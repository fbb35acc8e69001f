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

// Package gil holds the process-wide state of the cooperative execution lock:
// the fast-path flag and the shadow stack top published around native calls.
package gil

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// DefaultReacquireAddr is the code address used for the out-of-line
// reacquire routine when none is configured.
const DefaultReacquireAddr = 0x7e000000

// State is the lock shared by all threads of a process. Both words are only
// accessed atomically. The zero value is not usable; call New.
type State struct {
	fastGIL      atomic.Int64
	rootStackTop atomic.Uint64

	shadowStack bool
	reacquire   uint64
	slowPaths   atomic.Int64
}

// Option configures a State.
type Option func(*State)

// WithShadowStack enables shadow stack tracking with top as the current value.
func WithShadowStack(top uint64) Option {
	return func(s *State) {
		s.shadowStack = true
		s.rootStackTop.Store(top)
	}
}

// WithReacquireAddr sets the address emitted for the slow reacquire routine.
func WithReacquireAddr(addr uint64) Option {
	return func(s *State) { s.reacquire = addr }
}

// New returns a State whose lock is held by the calling thread.
func New(opts ...Option) *State {
	s := &State{reacquire: DefaultReacquireAddr}
	for _, opt := range opts {
		opt(s)
	}
	s.fastGIL.Store(1)
	return s
}

// FastGILAddr returns the address of the lock word. State must not be copied
// once this address has been embedded in generated code.
func (s *State) FastGILAddr() uint64 {
	return uint64(uintptr(unsafe.Pointer(&s.fastGIL)))
}

// RootStackTopAddr returns the address of the shadow stack top word.
func (s *State) RootStackTopAddr() (uint64, bool) {
	return uint64(uintptr(unsafe.Pointer(&s.rootStackTop))), s.shadowStack
}

// ReacquireAddr returns the slow reacquire routine address.
func (s *State) ReacquireAddr() uint64 { return s.reacquire }

// Flag gives direct access to the lock word.
func (s *State) Flag() *atomic.Int64 { return &s.fastGIL }

// RootStackTop gives direct access to the shadow stack top word.
func (s *State) RootStackTop() *atomic.Uint64 { return &s.rootStackTop }

// ShadowStack reports whether shadow stack tracking is enabled.
func (s *State) ShadowStack() bool { return s.shadowStack }

// Held reports whether some thread holds the lock.
func (s *State) Held() bool { return s.fastGIL.Load() != 0 }

// Release publishes top as the shadow stack top and then clears the flag.
// The atomic store orders every earlier write before the flag is seen clear.
func (s *State) Release(top uint64) {
	if s.shadowStack {
		s.rootStackTop.Store(top)
	}
	s.fastGIL.Store(0)
}

// TryAcquire makes one attempt at the fast path: it succeeds only if the flag
// is clear and this thread is the one that sets it.
func (s *State) TryAcquire() bool {
	return s.fastGIL.Load() == 0 && s.fastGIL.CompareAndSwap(0, 1)
}

// Acquire takes the lock for a thread whose shadow stack top is top, as the
// inline code does after a native call. It reports whether the fast path was
// enough; otherwise the slow routine ran.
func (s *State) Acquire(top uint64) bool {
	if s.TryAcquire() {
		if !s.shadowStack || s.rootStackTop.Load() == top {
			return true
		}
		// Free lock, but another thread ran with its own shadow stack.
		s.fastGIL.Store(0)
	}
	s.Reacquire(top)
	return false
}

// Reacquire is the slow routine: it spins until the lock is taken and makes
// top the current shadow stack again.
func (s *State) Reacquire(top uint64) {
	s.slowPaths.Add(1)
	for !s.TryAcquire() {
		runtime.Gosched()
	}
	if s.shadowStack {
		s.rootStackTop.Store(top)
	}
}

// SlowPaths returns how many times Reacquire ran.
func (s *State) SlowPaths() int64 { return s.slowPaths.Load() }

// Addresses is a SyncState for code that will run in another process, such as
// listings. It has no lock of its own.
type Addresses struct {
	FastGIL      uint64
	RootStackTop uint64
	// ShadowStack enables the shadow stack consistency check.
	ShadowStack bool
	Reacquire   uint64
}

func (a Addresses) FastGILAddr() uint64 { return a.FastGIL }

func (a Addresses) RootStackTopAddr() (uint64, bool) { return a.RootStackTop, a.ShadowStack }

func (a Addresses) ReacquireAddr() uint64 { return a.Reacquire }
