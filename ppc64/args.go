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

package ppc64

import (
	cb "github.com/gorse-io/callgen/callbuilder"
)

// CalleeArgs decodes the arguments of the current call as the callee sees
// them, from the register and parameter save area contents. Float arguments
// are returned as raw bits.
func CalleeArgs(m *Machine, types []cb.Type) ([]uint64, error) {
	abi := m.arch.abi
	sp := m.Reg(abi.SP)
	nextFPR := 0
	values := make([]uint64, len(types))
	for i, t := range types {
		inReg := false
		switch {
		case t == cb.Float && nextFPR < len(abi.FPRArgs):
			values[i] = m.Reg(abi.FPRArgs[nextFPR])
			nextFPR++
			inReg = true
		case t == cb.Int && i < len(abi.GPRArgs):
			values[i] = m.Reg(abi.GPRArgs[i])
			inReg = true
		}
		if inReg {
			continue
		}
		v, err := m.Mem.Load(sp+uint64(abi.ParamSaveAreaOffset+abi.WordSize*int32(i)), 8)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}
