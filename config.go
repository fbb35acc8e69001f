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
	"strings"

	"github.com/gorse-io/callgen/gil"
	"github.com/mstoykov/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"
)

// Config is the code generation setup shared by all subcommands.
type Config struct {
	Target  null.String `envconfig:"CALLGEN_TARGET"`
	Verbose null.Bool   `envconfig:"CALLGEN_VERBOSE"`

	// ShadowStack enables the shadow stack check of the lock protocol.
	ShadowStack null.Bool `envconfig:"CALLGEN_SHADOWSTACK"`
	// Addresses baked into emitted code, as Go integer literals.
	FastGILAddr   null.String `envconfig:"CALLGEN_FASTGIL_ADDR"`
	RootStackAddr null.String `envconfig:"CALLGEN_ROOTSTACK_ADDR"`
	ReacquireAddr null.String `envconfig:"CALLGEN_REACQUIRE_ADDR"`
}

// NewConfig returns the defaults. None of them count as set.
func NewConfig() Config {
	return Config{
		Target:        null.NewString("ppc64le", false),
		Verbose:       null.NewBool(false, false),
		ShadowStack:   null.NewBool(true, false),
		FastGILAddr:   null.NewString("0x7f000000", false),
		RootStackAddr: null.NewString("0x7f000008", false),
		ReacquireAddr: null.NewString(fmt.Sprintf("%#x", gil.DefaultReacquireAddr), false),
	}
}

// Apply returns c with every set field of cfg applied over it.
func (c Config) Apply(cfg Config) Config {
	if cfg.Target.Valid {
		c.Target = cfg.Target
	}
	if cfg.Verbose.Valid {
		c.Verbose = cfg.Verbose
	}
	if cfg.ShadowStack.Valid {
		c.ShadowStack = cfg.ShadowStack
	}
	if cfg.FastGILAddr.Valid {
		c.FastGILAddr = cfg.FastGILAddr
	}
	if cfg.RootStackAddr.Valid {
		c.RootStackAddr = cfg.RootStackAddr
	}
	if cfg.ReacquireAddr.Valid {
		c.ReacquireAddr = cfg.ReacquireAddr
	}
	return c
}

func configFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.StringP("target", "t", "ppc64le", "target architecture (ppc64, ppc64le)")
	flags.BoolP("verbose", "v", false, "if set, increase verbosity level")
	flags.Bool("shadow-stack", true, "check the shadow stack top when reacquiring the lock")
	flags.String("fastgil-addr", "0x7f000000", "address of the fast lock word")
	flags.String("rootstack-addr", "0x7f000008", "address of the shadow stack top word")
	flags.String("reacquire-addr", fmt.Sprintf("%#x", gil.DefaultReacquireAddr), "address of the slow reacquire routine")
	return flags
}

func getNullString(flags *pflag.FlagSet, key string) null.String {
	v, err := flags.GetString(key)
	if err != nil {
		panic(err)
	}
	return null.NewString(v, flags.Changed(key))
}

func getNullBool(flags *pflag.FlagSet, key string) null.Bool {
	v, err := flags.GetBool(key)
	if err != nil {
		panic(err)
	}
	return null.NewBool(v, flags.Changed(key))
}

func getConfig(flags *pflag.FlagSet) Config {
	return Config{
		Target:        getNullString(flags, "target"),
		Verbose:       getNullBool(flags, "verbose"),
		ShadowStack:   getNullBool(flags, "shadow-stack"),
		FastGILAddr:   getNullString(flags, "fastgil-addr"),
		RootStackAddr: getNullString(flags, "rootstack-addr"),
		ReacquireAddr: getNullString(flags, "reacquire-addr"),
	}
}

func buildEnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env
}

// getConsolidatedConfig layers flags over the environment over the defaults.
func getConsolidatedConfig(flags *pflag.FlagSet, env map[string]string) (Config, error) {
	envConfig := Config{}
	if err := envconfig.Process("", &envConfig, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return Config{}, err
	}
	return NewConfig().Apply(envConfig).Apply(getConfig(flags)), nil
}

// SyncState returns the lock addresses for generated code.
func (c Config) SyncState() (gil.Addresses, error) {
	var a gil.Addresses
	var err error
	if a.FastGIL, err = parseAddr("fast GIL", c.FastGILAddr, true); err != nil {
		return a, err
	}
	if a.RootStackTop, err = parseAddr("root stack", c.RootStackAddr, true); err != nil {
		return a, err
	}
	if a.Reacquire, err = parseAddr("reacquire", c.ReacquireAddr, false); err != nil {
		return a, err
	}
	a.ShadowStack = c.ShadowStack.Bool
	return a, nil
}

func parseAddr(what string, s null.String, word bool) (uint64, error) {
	v, err := strconv.ParseUint(s.String, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s address %q: %w", what, s.String, err)
	}
	if word && v%8 != 0 {
		return 0, fmt.Errorf("%s address %#x is not doubleword aligned", what, v)
	}
	return v, nil
}
