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

// ErrnoLayout locates the errno words inside the runtime's thread-local block.
type ErrnoLayout struct {
	// PErrno holds the address of the OS errno of the thread.
	PErrno int32
	// RPyErrno is the runtime's saved copy of errno.
	RPyErrno int32
	// AltErrno is the saved copy used by calls with CallDescriptor.AltErrno.
	AltErrno int32
}

// DefaultErrnoLayout matches the thread-local block built by ppc64.Machine.
var DefaultErrnoLayout = ErrnoLayout{PErrno: 8, RPyErrno: 16, AltErrno: 20}

func (l ErrnoLayout) saved(alt bool) int32 {
	if alt {
		return l.AltErrno
	}
	return l.RPyErrno
}

// WriteRealErrno emits the pre-call half of the errno bridge. frameBytes is
// the current frame extension; the thread-local anchor moved with SP. Only
// Scratch and Scratch2 are used, both free once arguments are in place.
func WriteRealErrno(e Emitter, abi *ABI, l ErrnoLayout, d *CallDescriptor, frameBytes int32) {
	if !d.Errno.WritesBefore() {
		return
	}
	tl, val := abi.Scratch2, abi.Scratch
	e.Load(tl, abi.SP, abi.ThreadLocalAddrOffset+frameBytes, DWord)
	if d.Errno == ErrnoRestoreSaved {
		e.Load(val, tl, l.saved(d.AltErrno), Word)
		e.Load(tl, tl, l.PErrno, DWord)
	} else {
		e.Load(tl, tl, l.PErrno, DWord)
		e.LoadImm(val, 0)
	}
	e.Store(val, tl, 0, Word)
}

// ReadRealErrno emits the post-call half of the errno bridge. It must run
// before anything else can call into native code and overwrite the OS errno.
func ReadRealErrno(e Emitter, abi *ABI, l ErrnoLayout, d *CallDescriptor, frameBytes int32) {
	if !d.Errno.SavesAfter() {
		return
	}
	tl, val := abi.PostCallScratch[0], abi.PostCallScratch[1]
	e.Load(tl, abi.SP, abi.ThreadLocalAddrOffset+frameBytes, DWord)
	e.Load(val, tl, l.PErrno, DWord)
	e.Load(val, val, 0, Word)
	e.Store(val, tl, l.saved(d.AltErrno), Word)
}
