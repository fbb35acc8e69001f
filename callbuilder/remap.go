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

// inPlace marks a destination whose source is itself. It stays negative after
// the decrements done by other moves reading the same register.
const inPlace = -1 << 30

// RemapFrameLayout emits moves so that every dsts[i] ends up holding the value
// srcs[i] held before the first move, as if all moves happened at once.
// StackSlot sources are read relative to frame. tmp breaks cycles and must not
// appear among the sources or destinations; all destinations share its class.
func RemapFrameLayout(e Emitter, frame Reg, srcs []Location, dsts []Reg, tmp Reg) {
	if len(srcs) != len(dsts) {
		panic(fmt.Sprintf("callbuilder: %d sources for %d destinations", len(srcs), len(dsts)))
	}
	// srcCount maps each destination to the number of pending moves reading it.
	srcCount := make(map[Reg]int, len(dsts))
	for _, dst := range dsts {
		if _, dup := srcCount[dst]; dup {
			panic(fmt.Sprintf("callbuilder: %v is the destination of two moves", dst))
		}
		if dst == tmp || dst.Class != tmp.Class {
			panic(fmt.Sprintf("callbuilder: bad destination %v for scratch %v", dst, tmp))
		}
		srcCount[dst] = 0
	}
	pending := len(dsts)
	for i, src := range srcs {
		reg, ok := src.(Reg)
		if !ok {
			continue
		}
		if reg == tmp {
			panic(fmt.Sprintf("callbuilder: scratch %v used as a source", tmp))
		}
		if _, isDst := srcCount[reg]; !isDst {
			continue
		}
		if reg == dsts[i] {
			srcCount[reg] = inPlace
			pending--
		} else {
			srcCount[reg]++
		}
	}

	for pending > 0 {
		progress := false
		for i, dst := range dsts {
			if srcCount[dst] != 0 {
				continue
			}
			srcCount[dst] = -1
			pending--
			if reg, ok := srcs[i].(Reg); ok {
				if _, isDst := srcCount[reg]; isDst {
					srcCount[reg]--
				}
			}
			emitMove(e, frame, srcs[i], dst)
			progress = true
		}
		if progress {
			continue
		}
		// Only disjoint simple cycles are left.
		sources := make(map[Reg]Reg, len(dsts))
		for i, dst := range dsts {
			if reg, ok := srcs[i].(Reg); ok {
				sources[dst] = reg
			}
		}
		for _, start := range dsts {
			if srcCount[start] < 0 {
				continue
			}
			e.Move(tmp, start)
			dst := start
			for {
				if srcCount[dst] != 1 {
					panic(fmt.Sprintf("callbuilder: %v is not in a simple cycle", dst))
				}
				srcCount[dst] = -1
				pending--
				src := sources[dst]
				if src == start {
					e.Move(dst, tmp)
					break
				}
				e.Move(dst, src)
				dst = src
			}
		}
		if pending != 0 {
			panic(fmt.Sprintf("callbuilder: %d moves left after breaking cycles", pending))
		}
	}
}

func emitMove(e Emitter, frame Reg, src Location, dst Reg) {
	switch loc := src.(type) {
	case Reg:
		if loc != dst {
			e.Move(dst, loc)
		}
	case StackSlot:
		e.Load(dst, frame, loc.Offset, DWord)
	case Imm:
		if dst.Class != GPR {
			panic(fmt.Sprintf("callbuilder: immediate into %v", dst))
		}
		e.LoadImm(dst, loc.Value)
	default:
		panic(fmt.Sprintf("callbuilder: unknown location %T", src))
	}
}
