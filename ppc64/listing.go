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
	"fmt"
	"strings"

	"github.com/klauspost/asmfmt"
	"github.com/samber/lo"
)

// String returns the GNU assembler form of insn. Branch targets are printed
// as absolute instruction positions.
func (insn Instr) String() string {
	switch insn.Op {
	case ADDI:
		if insn.RA == 0 {
			return fmt.Sprintf("li r%d, %d", insn.RT, insn.Imm)
		}
		return fmt.Sprintf("addi r%d, r%d, %d", insn.RT, insn.RA, insn.Imm)
	case ADDIS:
		if insn.RA == 0 {
			return fmt.Sprintf("lis r%d, %#x", insn.RT, uint16(insn.Imm))
		}
		return fmt.Sprintf("addis r%d, r%d, %#x", insn.RT, insn.RA, uint16(insn.Imm))
	case ORI:
		return fmt.Sprintf("ori r%d, r%d, %#x", insn.RT, insn.RA, insn.Imm)
	case ORIS:
		return fmt.Sprintf("oris r%d, r%d, %#x", insn.RT, insn.RA, insn.Imm)
	case SLDI:
		return fmt.Sprintf("sldi r%d, r%d, %d", insn.RT, insn.RA, insn.Imm)
	case OR:
		if insn.RA == insn.RB {
			return fmt.Sprintf("mr r%d, r%d", insn.RT, insn.RA)
		}
		return fmt.Sprintf("or r%d, r%d, r%d", insn.RT, insn.RA, insn.RB)
	case FMR:
		return fmt.Sprintf("fmr f%d, f%d", insn.RT, insn.RB)
	case LD, STD, STDU, LWZ, STW:
		return fmt.Sprintf("%s r%d, %d(r%d)", mnemonics[insn.Op], insn.RT, insn.Imm, insn.RA)
	case LFD, STFD:
		return fmt.Sprintf("%s f%d, %d(r%d)", mnemonics[insn.Op], insn.RT, insn.Imm, insn.RA)
	case LDARX, STDCX:
		return fmt.Sprintf("%s r%d, 0, r%d", mnemonics[insn.Op], insn.RT, insn.RB)
	case CMPDI:
		return fmt.Sprintf("cmpdi r%d, %d", insn.RA, insn.Imm)
	case CMPD:
		return fmt.Sprintf("cmpd r%d, r%d", insn.RA, insn.RB)
	case BC:
		return fmt.Sprintf("%s %d", branchMnemonic(insn), insn.Imm)
	case B:
		return fmt.Sprintf("b %d", insn.Imm)
	case MTCTR:
		return fmt.Sprintf("mtctr r%d", insn.RT)
	case BCTRL, LWSYNC, ISYNC, TRAP:
		return mnemonics[insn.Op]
	default:
		return fmt.Sprintf("op%d", insn.Op)
	}
}

var mnemonics = map[Op]string{
	LD:     "ld",
	STD:    "std",
	STDU:   "stdu",
	LWZ:    "lwz",
	STW:    "stw",
	LFD:    "lfd",
	STFD:   "stfd",
	LDARX:  "ldarx",
	STDCX:  "stdcx.",
	BCTRL:  "bctrl",
	LWSYNC: "lwsync",
	ISYNC:  "isync",
	TRAP:   "trap",
}

func branchMnemonic(insn Instr) string {
	switch {
	case insn.RT == boTrue && insn.RA == biEQ:
		return "beq"
	case insn.RT == boFalse && insn.RA == biEQ:
		return "bne"
	default:
		return fmt.Sprintf("bc %d, %d,", insn.RT, insn.RA)
	}
}

// goBranch returns the Go assembler form of a branch to label.
func goBranch(insn Instr, label string) string {
	if insn.Op == B {
		return "BR " + label
	}
	switch branchMnemonic(insn) {
	case "beq":
		return "BEQ " + label
	case "bne":
		return "BNE " + label
	default:
		return fmt.Sprintf("BC $%d, $%d, %s", insn.RT, insn.RA, label)
	}
}

// Listing renders the block as a Go assembly function named name.
func (a *Assembler) Listing(name string) ([]byte, error) {
	return Listing(a.arch, []string{name}, []*Assembler{a})
}

// Listing renders blocks as Go assembly functions, blocks[i] under names[i].
// Branches are written with labels; every other instruction is a WORD
// carrying its encoding, annotated with the GNU form.
func Listing(arch *Arch, names []string, blocks []*Assembler) ([]byte, error) {
	if len(names) != len(blocks) {
		return nil, fmt.Errorf("ppc64: %d names for %d blocks", len(names), len(blocks))
	}
	var builder strings.Builder
	builder.WriteString("//go:build !noasm && " + arch.name + "\n")
	builder.WriteString(fmt.Sprintf("// Code generated by callgen for %s. DO NOT EDIT.\n\n", arch.name))
	builder.WriteString("#include \"textflag.h\"\n")
	for i, block := range blocks {
		if block.arch != arch {
			return nil, fmt.Errorf("ppc64: block %v was assembled for %s", names[i], block.arch.name)
		}
		block.writeText(&builder, names[i])
	}
	return asmfmt.Format(strings.NewReader(builder.String()))
}

func (a *Assembler) writeText(builder *strings.Builder, name string) {
	targets := lo.Uniq(lo.FilterMap(a.insns, func(insn Instr, _ int) (int, bool) {
		return int(insn.Imm), insn.Op == B || insn.Op == BC
	}))
	labels := lo.SliceToMap(targets, func(pos int) (int, string) {
		return pos, fmt.Sprintf("L%d", pos)
	})

	builder.WriteString(fmt.Sprintf("\nTEXT ·%v(SB), NOSPLIT, $0\n", name))
	for i, insn := range a.insns {
		if label, ok := labels[i]; ok {
			builder.WriteString(label)
			builder.WriteString(":\n")
		}
		if insn.Op == B || insn.Op == BC {
			builder.WriteString(fmt.Sprintf("\t%s\t// %s\n", goBranch(insn, labels[int(insn.Imm)]), insn))
			continue
		}
		builder.WriteString(fmt.Sprintf("\tWORD $0x%08x\t// %s\n", insn.Encode(i), insn))
	}
	if label, ok := labels[len(a.insns)]; ok {
		builder.WriteString(label)
		builder.WriteString(":\n")
	}
	builder.WriteString("\tRET\n")
}
