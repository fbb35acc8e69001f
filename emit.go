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
	"github.com/gorse-io/callgen/ppc64"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newEmitCommand(gs *globalState) *cobra.Command {
	command := &cobra.Command{
		Use:   "emit -f sites.yaml [-o output.s]",
		Short: "emit the Go assembly listing of call sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gs.loadConfig(cmd)
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("file")
			output, _ := cmd.Flags().GetString("output")
			m, err := readManifest(gs.fs, path)
			if err != nil {
				return err
			}
			arch, err := archFor(cfg, m.Target)
			if err != nil {
				return err
			}
			sync, err := cfg.SyncState()
			if err != nil {
				return err
			}
			names, blocks, err := emitSites(gs.logger, arch, sync, m.Sites)
			if err != nil {
				return err
			}
			text, err := ppc64.Listing(arch, names, blocks)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = gs.stdout.Write(text)
				return err
			}
			gs.logger.WithFields(logrus.Fields{"sites": len(blocks), "output": output}).Info("wrote listing")
			return afero.WriteFile(gs.fs, output, text, 0o644)
		},
	}
	command.Flags().StringP("file", "f", "", "call site manifest")
	command.Flags().StringP("output", "o", "", "output file, standard output if empty")
	_ = command.MarkFlagRequired("file")
	return command
}

// emitSites assembles every site into its own block.
func emitSites(logger logrus.FieldLogger, arch *ppc64.Arch, sync cb.SyncState, sites []Site) ([]string, []*ppc64.Assembler, error) {
	builder := cb.NewBuilder(arch, cb.WithSyncState(sync), cb.WithLogger(logger))
	names := make([]string, 0, len(sites))
	blocks := make([]*ppc64.Assembler, 0, len(sites))
	for i, site := range sites {
		if site.Name == "" {
			site.Name = fmt.Sprintf("site%d", i)
		}
		d, err := site.Descriptor()
		if err != nil {
			return nil, nil, err
		}
		asm := ppc64.NewAssembler(arch)
		if _, err := builder.Emit(asm, d); err != nil {
			return nil, nil, fmt.Errorf("%v: %w", site.Name, err)
		}
		names = append(names, site.Name)
		blocks = append(blocks, asm)
	}
	return names, blocks, nil
}
