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
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestEmitStates(t *testing.T) {
	tests := []struct {
		name string
		d    CallDescriptor
		want []State
	}{
		{"plain", CallDescriptor{Target: R(7)},
			[]State{Classifying, ArgsPlaced, Called, ResultRetrieved, FrameRestored, Done}},
		{"overflow", CallDescriptor{Target: R(7), Args: make5Ints()},
			[]State{Classifying, FrameExtended, ArgsPlaced, Called, ResultRetrieved, FrameRestored, Done}},
		{"lock", CallDescriptor{Target: R(7), ReleasesLock: true},
			[]State{Classifying, ArgsPlaced, Called, LockProtocol, ResultRetrieved, FrameRestored, Done}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(newFakeArch(), WithSyncState(fakeSync{}))
			em, err := b.Emit(newFakeEmitter(), &tt.d)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(em.States, tt.want) {
				t.Errorf("states = %v, want %v", em.States, tt.want)
			}
		})
	}
}

func make5Ints() []Arg {
	args := make([]Arg, 5)
	for i := range args {
		args[i] = Arg{Loc: Imm{Value: int64(i)}, Type: Int}
	}
	return args
}

func TestEmitOrder(t *testing.T) {
	arch := newFakeArch()
	b := NewBuilder(arch, WithSyncState(fakeSync{}))
	f := newFakeEmitter()
	args := append(make5Ints(), Arg{Loc: F(4), Type: Float})
	em, err := b.Emit(f, &CallDescriptor{
		Args:         args,
		Target:       R(7),
		Result:       R(3),
		ResultType:   Int,
		ReleasesLock: true,
		Errno:        ErrnoRestoreSaved,
	})
	if err != nil {
		t.Fatal(err)
	}
	if arch.releases != 1 || arch.acquires != 1 {
		t.Errorf("lock hooks ran %d/%d times", arch.releases, arch.acquires)
	}
	if em.Start != 0 || em.End != len(f.ops) {
		t.Errorf("emission spans [%d, %d) of %d", em.Start, em.End, len(f.ops))
	}

	index := func(prefix string) int {
		for i, op := range f.ops {
			if strings.HasPrefix(op, prefix) {
				return i
			}
		}
		t.Fatalf("no %q in\n%s", prefix, strings.Join(f.ops, "\n"))
		return -1
	}
	steps := []int{
		index("storeu R11"),       // frame extension
		index("store1 R11, 40"),   // overflow argument 4
		index("mr F1, F4"),        // float arguments
		index("mr R12, R7"),       // target
		index("li R29"),           // release
		index("load0 R0"),         // errno restore
		index("call R12"),         // call
		index("load1 R10, 8(R9)"), // errno save
		index("b"),                // reacquire, patched
		index("addi R1, R1, 64"),  // frame restore
	}
	for i := 1; i < len(steps); i++ {
		if steps[i] <= steps[i-1] {
			t.Errorf("step %d at %d does not follow step %d at %d:\n%s",
				i, steps[i], i-1, steps[i-1], strings.Join(f.ops, "\n"))
		}
	}
	if f.ops[len(f.ops)-1] != "addi R1, R1, 64" {
		t.Errorf("last op = %q", f.ops[len(f.ops)-1])
	}
}

func TestEmitErrors(t *testing.T) {
	b := NewBuilder(newFakeArch())
	if _, err := b.Emit(newFakeEmitter(), &CallDescriptor{}); !errors.Is(err, ErrNoTarget) {
		t.Errorf("Emit(no target) = %v", err)
	}
	f := newFakeEmitter()
	if _, err := b.Emit(f, &CallDescriptor{Target: R(7), ReleasesLock: true}); !errors.Is(err, ErrNoSyncState) {
		t.Errorf("Emit(no sync state) = %v", err)
	}
	if len(f.ops) != 0 {
		t.Errorf("failed Emit wrote %q", f.ops)
	}
}

func TestEmitLogs(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	b := NewBuilder(newFakeArch(), WithLogger(logger))
	if _, err := b.Emit(newFakeEmitter(), &CallDescriptor{Target: R(7), Args: make5Ints(), Errno: ErrnoSaveAfter}); err != nil {
		t.Fatal(err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "emitted foreign call" {
		t.Fatalf("last entry = %v", entry)
	}
	if entry.Data["stack_slots"] != 1 || entry.Data["frame_bytes"] != int32(48) || entry.Data["errno"] != "save-after" {
		t.Errorf("fields = %v", entry.Data)
	}
}

func TestPatch(t *testing.T) {
	f := newFakeEmitter()
	p := f.PlaceholderBranch(NE)
	if p.Resolved() {
		t.Fatal("new patch is resolved")
	}
	if err := p.Resolve(3); err != nil {
		t.Fatal(err)
	}
	if f.ops[0] != "bne 3" {
		t.Errorf("patched op = %q", f.ops[0])
	}
	if err := p.Resolve(4); !errors.Is(err, ErrPatchResolved) {
		t.Errorf("second Resolve = %v", err)
	}
	if f.ops[0] != "bne 3" {
		t.Errorf("second Resolve rewrote %q", f.ops[0])
	}
}
