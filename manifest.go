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

	cb "github.com/gorse-io/callgen/callbuilder"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Manifest lists the call sites of one code block.
type Manifest struct {
	// Target overrides the configured architecture when set.
	Target string `yaml:"target,omitempty"`
	Sites  []Site `yaml:"sites"`
}

// Site is one call site. Locations are written as r<n>, f<n>,
// frame<+|-><offset> or imm:<value>.
type Site struct {
	Name         string    `yaml:"name"`
	Target       string    `yaml:"target"`
	Args         []SiteArg `yaml:"args,omitempty"`
	Result       string    `yaml:"result,omitempty"`
	ReleasesLock bool      `yaml:"releases_lock,omitempty"`
	Errno        string    `yaml:"errno,omitempty"`
	AltErrno     bool      `yaml:"alt_errno,omitempty"`
}

type SiteArg struct {
	Loc  string `yaml:"loc"`
	Type string `yaml:"type"`
}

func readManifest(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %v: %w", path, err)
	}
	if len(m.Sites) == 0 {
		return nil, fmt.Errorf("manifest %v has no call sites", path)
	}
	return &m, nil
}

func writeManifest(fs afero.Fs, path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, path, data, 0o644)
}

// Descriptor converts s into a call descriptor.
func (s *Site) Descriptor() (*cb.CallDescriptor, error) {
	d := &cb.CallDescriptor{ReleasesLock: s.ReleasesLock, AltErrno: s.AltErrno}
	var err error
	if d.Target, err = parseLocation(s.Target); err != nil {
		return nil, fmt.Errorf("%v: target: %w", s.Name, err)
	}
	for i, arg := range s.Args {
		loc, err := parseLocation(arg.Loc)
		if err != nil {
			return nil, fmt.Errorf("%v: argument %d: %w", s.Name, i, err)
		}
		t, err := parseType(arg.Type)
		if err != nil {
			return nil, fmt.Errorf("%v: argument %d: %w", s.Name, i, err)
		}
		d.Args = append(d.Args, cb.Arg{Loc: loc, Type: t})
	}
	if s.Result != "" && s.Result != "none" {
		loc, err := parseLocation(s.Result)
		if err != nil {
			return nil, fmt.Errorf("%v: result: %w", s.Name, err)
		}
		reg, ok := loc.(cb.Reg)
		if !ok {
			return nil, fmt.Errorf("%v: result %v is not a register", s.Name, loc)
		}
		d.Result = reg
		if reg.Class == cb.FPR {
			d.ResultType = cb.Float
		}
	}
	if d.Errno, err = cb.ParseErrnoMode(s.Errno); err != nil {
		return nil, fmt.Errorf("%v: %w", s.Name, err)
	}
	return d, nil
}

func parseType(s string) (cb.Type, error) {
	switch s {
	case "int", "":
		return cb.Int, nil
	case "float":
		return cb.Float, nil
	default:
		return 0, fmt.Errorf("unknown type %q", s)
	}
}

func parseLocation(s string) (cb.Location, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "imm:"):
		v, err := strconv.ParseInt(s[len("imm:"):], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid immediate %q: %w", s, err)
		}
		return cb.Imm{Value: v}, nil
	case strings.HasPrefix(s, "frame"):
		off, err := strconv.ParseInt(s[len("frame"):], 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid stack slot %q: %w", s, err)
		}
		return cb.StackSlot{Offset: int32(off)}, nil
	case len(s) > 1 && (s[0] == 'r' || s[0] == 'f'):
		n, err := strconv.ParseUint(s[1:], 10, 8)
		if err != nil || n > 31 {
			return nil, fmt.Errorf("invalid register %q", s)
		}
		if s[0] == 'f' {
			return cb.F(uint8(n)), nil
		}
		return cb.R(uint8(n)), nil
	default:
		return nil, fmt.Errorf("invalid location %q", s)
	}
}

// formatLocation is the inverse of parseLocation.
func formatLocation(loc cb.Location) string {
	switch loc := loc.(type) {
	case cb.Reg:
		if loc.Class == cb.FPR {
			return fmt.Sprintf("f%d", loc.Num)
		}
		return fmt.Sprintf("r%d", loc.Num)
	case cb.StackSlot:
		return fmt.Sprintf("frame%+d", loc.Offset)
	case cb.Imm:
		return fmt.Sprintf("imm:%#x", loc.Value)
	default:
		return ""
	}
}
