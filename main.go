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
// Command callgen emits, lists and simulates the foreign call sequences of
// the trace compiler backend.
package main

import (
	"fmt"
	"io"
	"os"

	cb "github.com/gorse-io/callgen/callbuilder"
	"github.com/gorse-io/callgen/ppc64"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// globalState is everything a command touches outside its arguments.
type globalState struct {
	fs     afero.Fs
	env    map[string]string
	stdout io.Writer
	stderr io.Writer
	logger *logrus.Logger
}

func newGlobalState() *globalState {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.InfoLevel)
	return &globalState{
		fs:     afero.NewOsFs(),
		env:    buildEnvMap(os.Environ()),
		stdout: os.Stdout,
		stderr: os.Stderr,
		logger: logger,
	}
}

// loadConfig consolidates the configuration of cmd.
func (gs *globalState) loadConfig(cmd *cobra.Command) (Config, error) {
	cfg, err := getConsolidatedConfig(cmd.Flags(), gs.env)
	if err != nil {
		return Config{}, err
	}
	if cfg.Verbose.Bool {
		gs.logger.SetLevel(logrus.DebugLevel)
	}
	return cfg, nil
}

// archFor returns the configured target. A target named by a manifest wins
// over the default but not over a flag or the environment.
func archFor(cfg Config, manifestTarget string) (*ppc64.Arch, error) {
	if manifestTarget != "" && !cfg.Target.Valid {
		return lookupArch(manifestTarget)
	}
	return lookupArch(cfg.Target.String)
}

func lookupArch(name string) (*ppc64.Arch, error) {
	arch, err := cb.GetArch(name)
	if err != nil {
		return nil, err
	}
	ppc, ok := arch.(*ppc64.Arch)
	if !ok {
		return nil, fmt.Errorf("architecture %s has no assembler", name)
	}
	return ppc, nil
}

func newRootCommand(gs *globalState) *cobra.Command {
	command := &cobra.Command{
		Use:           "callgen",
		Short:         "foreign call code generator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.SetOut(gs.stdout)
	command.SetErr(gs.stderr)
	command.PersistentFlags().AddFlagSet(configFlagSet())
	command.AddCommand(
		newEmitCommand(gs),
		newProtoCommand(gs),
		newSimulateCommand(gs),
		newArchsCommand(gs),
	)
	return command
}

func main() {
	gs := newGlobalState()
	if err := newRootCommand(gs).Execute(); err != nil {
		_, _ = fmt.Fprintln(gs.stderr, err)
		os.Exit(1)
	}
}
