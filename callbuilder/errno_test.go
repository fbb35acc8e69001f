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
	"reflect"
	"testing"
)

func TestRealErrno(t *testing.T) {
	abi := newFakeArch().abi
	l := DefaultErrnoLayout
	tests := []struct {
		mode   ErrnoMode
		alt    bool
		frame  int32
		before []string
		after  []string
	}{
		{ErrnoNone, false, 0, nil, nil},
		{ErrnoSaveAfter, false, 0, nil, []string{
			"load1 R9, 40(R1)", "load1 R10, 8(R9)", "load0 R10, 0(R10)", "store0 R10, 16(R9)"}},
		{ErrnoSaveAfter, true, 32, nil, []string{
			"load1 R9, 72(R1)", "load1 R10, 8(R9)", "load0 R10, 0(R10)", "store0 R10, 20(R9)"}},
		{ErrnoZeroBefore, false, 0, []string{
			"load1 R11, 40(R1)", "load1 R11, 8(R11)", "li R0, 0", "store0 R0, 0(R11)"}, []string{
			"load1 R9, 40(R1)", "load1 R10, 8(R9)", "load0 R10, 0(R10)", "store0 R10, 16(R9)"}},
		{ErrnoRestoreSaved, true, 16, []string{
			"load1 R11, 56(R1)", "load0 R0, 20(R11)", "load1 R11, 8(R11)", "store0 R0, 0(R11)"}, []string{
			"load1 R9, 56(R1)", "load1 R10, 8(R9)", "load0 R10, 0(R10)", "store0 R10, 20(R9)"}},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			d := &CallDescriptor{Errno: tt.mode, AltErrno: tt.alt}
			before := newFakeEmitter()
			WriteRealErrno(before, abi, l, d, tt.frame)
			if !reflect.DeepEqual(before.ops, tt.before) {
				t.Errorf("before = %q, want %q", before.ops, tt.before)
			}
			after := newFakeEmitter()
			ReadRealErrno(after, abi, l, d, tt.frame)
			if !reflect.DeepEqual(after.ops, tt.after) {
				t.Errorf("after = %q, want %q", after.ops, tt.after)
			}
		})
	}
}
