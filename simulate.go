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
package main

import (
	"fmt"

	cb "github.com/gorse-io/callgen/callbuilder"
	"github.com/gorse-io/callgen/gil"
	"github.com/gorse-io/callgen/ppc64"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	simTarget = 0x2000_0000
	simTop    = 0x3000_0000
	simErrno  = 42
)

// Report is the outcome of running one call site.
type Report struct {
	Name         string
	Instructions int
	FrameBytes   int32
	StackSlots   int
	FloatArgs    int
	Result       string
	SavedErrno   uint32
	SlowPaths    int64
}

func newSimulateCommand(gs *globalState) *cobra.Command {
	command := &cobra.Command{
		Use:   "simulate -f sites.yaml",
		Short: "run call sites against an echo callee and check the arguments it receives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gs.loadConfig(cmd)
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("file")
			m, err := readManifest(gs.fs, path)
			if err != nil {
				return err
			}
			arch, err := archFor(cfg, m.Target)
			if err != nil {
				return err
			}
			for i, site := range m.Sites {
				if site.Name == "" {
					site.Name = fmt.Sprintf("site%d", i)
				}
				report, err := simulate(gs.logger, arch, cfg.ShadowStack.Bool, site)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(gs.stdout, "%s: %d instructions, frame %d bytes, %d stack slots, %d float args, result %s, errno %d, slow paths %d\n",
					report.Name, report.Instructions, report.FrameBytes, report.StackSlots, report.FloatArgs,
					report.Result, report.SavedErrno, report.SlowPaths)
			}
			return nil
		},
	}
	command.Flags().StringP("file", "f", "", "call site manifest")
	_ = command.MarkFlagRequired("file")
	return command
}

// seed fills every location a site reads with a value derived from the location.
func seed(m *ppc64.Machine, loc cb.Location) (uint64, error) {
	switch loc := loc.(type) {
	case cb.Reg:
		if loc == m.Arch().ABI().Frame {
			return 0, fmt.Errorf("%v is the frame register", loc)
		}
		v := uint64(0x10_0000 + 0x100*uint64(loc.Num))
		if loc.Class == cb.FPR {
			v = ppc64.FloatBits(float64(loc.Num) + 0.25)
		}
		m.SetReg(loc, v)
		return v, nil
	case cb.StackSlot:
		v := uint64(0x20_0000 + int64(loc.Offset))
		return v, m.SetSlot(loc.Offset, v)
	case cb.Imm:
		return uint64(loc.Value), nil
	default:
		return 0, fmt.Errorf("unknown location %T", loc)
	}
}

// simulate runs site once in a fresh machine. The callee checks that every
// argument arrived, returns the sum of its integer arguments or the number of
// its arguments as a float, and sets errno.
func simulate(logger logrus.FieldLogger, arch *ppc64.Arch, shadowStack bool, site Site) (*Report, error) {
	d, err := site.Descriptor()
	if err != nil {
		return nil, err
	}
	var opts []gil.Option
	if shadowStack {
		opts = append(opts, gil.WithShadowStack(simTop))
	}
	lock := gil.New(opts...)
	m := ppc64.NewMachine(arch, ppc64.NewMemory(arch.ByteOrder(), lock))
	m.Poison = true
	if err := m.SetupThread(ppc64.DefaultThread()); err != nil {
		return nil, err
	}

	// The target is seeded last: an argument sharing its location sees the
	// target address.
	want := make([]uint64, len(d.Args))
	for i, arg := range d.Args {
		if want[i], err = seed(m, arg.Loc); err != nil {
			return nil, err
		}
	}
	target := uint64(simTarget)
	switch loc := d.Target.(type) {
	case cb.Imm:
		target = uint64(loc.Value)
	case cb.Reg:
		m.SetReg(loc, target)
	case cb.StackSlot:
		if err := m.SetSlot(loc.Offset, target); err != nil {
			return nil, err
		}
	}
	for i, arg := range d.Args {
		if arg.Loc == d.Target {
			want[i] = target
		}
	}

	types := lo.Map(d.Args, func(arg cb.Arg, _ int) cb.Type { return arg.Type })
	if err := m.Bind(target, func(m *ppc64.Machine) error {
		got, err := ppc64.CalleeArgs(m, types)
		if err != nil {
			return err
		}
		var sum uint64
		for i := range got {
			if got[i] != want[i] {
				return fmt.Errorf("%v: argument %d from %v is %#x, want %#x", site.Name, i, d.Args[i].Loc, got[i], want[i])
			}
			if types[i] == cb.Int {
				sum += got[i]
			}
		}
		if d.ReleasesLock && lock.Held() {
			return fmt.Errorf("%v: lock held during the call", site.Name)
		}
		m.GPR[3] = sum
		m.FPR[1] = ppc64.FloatBits(float64(len(got)))
		m.SetOSErrno(simErrno)
		return nil
	}); err != nil {
		return nil, err
	}
	if err := m.BindReacquire(lock, simTop); err != nil {
		return nil, err
	}

	asm := ppc64.NewAssembler(arch)
	em, err := cb.NewBuilder(arch, cb.WithSyncState(lock), cb.WithLogger(logger)).Emit(asm, d)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", site.Name, err)
	}
	if err := m.Exec(asm.Instrs()); err != nil {
		return nil, fmt.Errorf("%v: %w", site.Name, err)
	}
	if d.ReleasesLock && !lock.Held() {
		return nil, fmt.Errorf("%v: lock not reacquired", site.Name)
	}

	report := &Report{
		Name:         site.Name,
		Instructions: em.End - em.Start,
		FrameBytes:   em.Plan.FrameBytes,
		StackSlots:   em.Plan.StackSlots(),
		FloatArgs:    lo.CountBy(d.Args, func(arg cb.Arg) bool { return arg.Type == cb.Float }),
		Result:       "none",
		SavedErrno:   m.SavedErrno(d.AltErrno),
		SlowPaths:    lock.SlowPaths(),
	}
	if d.Result != nil {
		if d.ResultType == cb.Float {
			report.Result = fmt.Sprintf("%g", ppc64.FloatValue(m.FPR[1]))
		} else {
			report.Result = fmt.Sprintf("%#x", m.GPR[3])
		}
	}
	return report, nil
}
