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
	"strconv"

	cb "github.com/gorse-io/callgen/callbuilder"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newProtoCommand(gs *globalState) *cobra.Command {
	command := &cobra.Command{
		Use:   "proto header.h [-o sites.yaml]",
		Short: "build a call site manifest from C prototypes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gs.loadConfig(cmd)
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")
			base, _ := cmd.Flags().GetString("target-addr")
			releasesLock, _ := cmd.Flags().GetBool("releases-lock")
			errno, _ := cmd.Flags().GetString("errno")
			if _, err := cb.ParseErrnoMode(errno); err != nil {
				return err
			}
			addr, err := strconv.ParseUint(base, 0, 64)
			if err != nil {
				return fmt.Errorf("invalid target address %q: %w", base, err)
			}

			prototypes, err := parsePrototypes(gs.fs, args[0])
			if err != nil {
				return err
			}
			m := &Manifest{Target: cfg.Target.String}
			for i, prototype := range prototypes {
				site := prototype.Site(addr + uint64(i)*0x100)
				site.ReleasesLock = releasesLock
				site.Errno = errno
				m.Sites = append(m.Sites, site)
			}
			gs.logger.WithField("functions", len(prototypes)).Debug("parsed prototypes")
			if output == "" {
				data, err := yaml.Marshal(m)
				if err != nil {
					return err
				}
				_, err = gs.stdout.Write(data)
				return err
			}
			return writeManifest(gs.fs, output, m)
		},
	}
	command.Flags().StringP("output", "o", "", "output manifest, standard output if empty")
	command.Flags().String("target-addr", "0x20000000", "address of the first function; later ones follow every 0x100 bytes")
	command.Flags().Bool("releases-lock", false, "release the lock around every call")
	command.Flags().String("errno", "", "errno mode of every call (save-after, restore-zero-before, restore-saved-before)")
	return command
}

func newArchsCommand(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "archs",
		Short: "list supported architectures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range cb.ListArchitectures() {
				arch, err := lookupArch(name)
				if err != nil {
					return err
				}
				abi := arch.ABI()
				_, _ = fmt.Fprintf(gs.stdout, "%-8s %-12s param save area %d, call register %v, %d+%d argument registers\n",
					name, arch.ByteOrder(), abi.ParamSaveAreaOffset, abi.CallReg, len(abi.GPRArgs), len(abi.FPRArgs))
			}
			return nil
		},
	}
}
