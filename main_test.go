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
	"bytes"
	"runtime"
	"strings"
	"testing"

	cb "github.com/gorse-io/callgen/callbuilder"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"modernc.org/cc/v4"
)

type testState struct {
	*globalState
	out *bytes.Buffer
	log *bytes.Buffer
}

func newTestState(env map[string]string) *testState {
	out, log := &bytes.Buffer{}, &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(log)
	if env == nil {
		env = map[string]string{}
	}
	return &testState{
		globalState: &globalState{
			fs:     afero.NewMemMapFs(),
			env:    env,
			stdout: out,
			stderr: log,
			logger: logger,
		},
		out: out,
		log: log,
	}
}

func (ts *testState) run(args ...string) error {
	command := newRootCommand(ts.globalState)
	command.SetArgs(args)
	return command.Execute()
}

const manifestYAML = `
target: ppc64le
sites:
  - name: write
    target: imm:0x20000000
    args:
      - {loc: r5, type: int}
      - {loc: frame+8, type: int}
      - {loc: imm:3, type: int}
    result: r3
    releases_lock: true
    errno: save-after
  - name: many
    target: r7
    args:
      - {loc: r3, type: int}
      - {loc: r4, type: int}
      - {loc: f2, type: float}
      - {loc: r6, type: int}
      - {loc: frame+16, type: int}
      - {loc: frame+24, type: float}
      - {loc: imm:-1, type: int}
      - {loc: r8, type: int}
      - {loc: r9, type: int}
      - {loc: r10, type: int}
    result: f1
`

func TestConfigConsolidation(t *testing.T) {
	flags := configFlagSet()
	cfg, err := getConsolidatedConfig(flags, nil)
	require.NoError(t, err)
	assert.Equal(t, "ppc64le", cfg.Target.String)
	assert.False(t, cfg.Target.Valid)
	assert.True(t, cfg.ShadowStack.Bool)

	env := map[string]string{"CALLGEN_TARGET": "ppc64", "CALLGEN_SHADOWSTACK": "false", "CALLGEN_FASTGIL_ADDR": "0x1000"}
	cfg, err = getConsolidatedConfig(flags, env)
	require.NoError(t, err)
	assert.Equal(t, "ppc64", cfg.Target.String)
	assert.True(t, cfg.Target.Valid)
	assert.False(t, cfg.ShadowStack.Bool)

	require.NoError(t, flags.Parse([]string{"--target", "ppc64le", "--reacquire-addr", "0x4000"}))
	cfg, err = getConsolidatedConfig(flags, env)
	require.NoError(t, err)
	assert.Equal(t, "ppc64le", cfg.Target.String)
	sync, err := cfg.SyncState()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), sync.FastGIL)
	assert.Equal(t, uint64(0x4000), sync.Reacquire)
	assert.False(t, sync.ShadowStack)

	cfg.FastGILAddr.String = "0x1001"
	_, err = cfg.SyncState()
	assert.Error(t, err)
	cfg.FastGILAddr.String = "nowhere"
	_, err = cfg.SyncState()
	assert.Error(t, err)
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in   string
		want cb.Location
	}{
		{"r3", cb.R(3)},
		{"f13", cb.F(13)},
		{"frame+16", cb.StackSlot{Offset: 16}},
		{"frame-8", cb.StackSlot{Offset: -8}},
		{"imm:0x20", cb.Imm{Value: 0x20}},
		{"imm:-0x5", cb.Imm{Value: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLocation(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, formatLocation(got))
		})
	}
	for _, bad := range []string{"", "x1", "r32", "frame", "imm:zz", "r"} {
		_, err := parseLocation(bad)
		assert.Error(t, err, bad)
	}
}

func TestSiteDescriptor(t *testing.T) {
	site := Site{
		Name:   "f",
		Target: "r7",
		Args:   []SiteArg{{Loc: "f2", Type: "float"}, {Loc: "frame+8"}},
		Result: "f1",
		Errno:  "restore-saved-before",
	}
	d, err := site.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, cb.R(7), d.Target)
	assert.Equal(t, []cb.Arg{{Loc: cb.F(2), Type: cb.Float}, {Loc: cb.StackSlot{Offset: 8}, Type: cb.Int}}, d.Args)
	assert.Equal(t, cb.Float, d.ResultType)
	assert.Equal(t, cb.ErrnoRestoreSaved, d.Errno)

	site.Errno = "always"
	_, err = site.Descriptor()
	assert.ErrorIs(t, err, cb.ErrBadErrnoMode)
	site.Errno = ""
	site.Result = "frame+8"
	_, err = site.Descriptor()
	assert.Error(t, err)
}

func TestEmitCommand(t *testing.T) {
	ts := newTestState(nil)
	require.NoError(t, afero.WriteFile(ts.fs, "sites.yaml", []byte(manifestYAML), 0o644))
	require.NoError(t, ts.run("emit", "-f", "sites.yaml", "-o", "calls.s"))
	data, err := afero.ReadFile(ts.fs, "calls.s")
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "//go:build !noasm && ppc64le")
	assert.Contains(t, text, "TEXT ·write(SB), NOSPLIT, $0")
	assert.Contains(t, text, "TEXT ·many(SB), NOSPLIT, $0")
	assert.Contains(t, text, "ldarx")
	assert.Contains(t, text, "bctrl")
	assert.NotContains(t, text, "trap")
}

func TestEmitCommandTargetOverride(t *testing.T) {
	ts := newTestState(map[string]string{"CALLGEN_TARGET": "ppc64"})
	require.NoError(t, afero.WriteFile(ts.fs, "sites.yaml", []byte(manifestYAML), 0o644))
	require.NoError(t, ts.run("emit", "-f", "sites.yaml"))
	assert.Contains(t, ts.out.String(), "//go:build !noasm && ppc64\n")
}

func TestEmitCommandErrors(t *testing.T) {
	ts := newTestState(nil)
	assert.Error(t, ts.run("emit", "-f", "missing.yaml"))
	require.NoError(t, afero.WriteFile(ts.fs, "bad.yaml", []byte("sites:\n  - target: r11\n"), 0o644))
	err := ts.run("emit", "-f", "bad.yaml")
	assert.ErrorIs(t, err, cb.ErrReservedRegister)
	assert.Error(t, ts.run("emit", "-f", "bad.yaml", "--target", "sparc"))

	far := "sites:\n  - target: r7\n    args:\n      - {loc: frame+40000, type: int}\n"
	require.NoError(t, afero.WriteFile(ts.fs, "far.yaml", []byte(far), 0o644))
	assert.ErrorIs(t, ts.run("emit", "-f", "far.yaml"), cb.ErrLocationClass)
	assert.ErrorIs(t, ts.run("simulate", "-f", "far.yaml"), cb.ErrLocationClass)
}

func TestSimulateCommand(t *testing.T) {
	ts := newTestState(nil)
	require.NoError(t, afero.WriteFile(ts.fs, "sites.yaml", []byte(manifestYAML), 0o644))
	require.NoError(t, ts.run("simulate", "-f", "sites.yaml", "-v"))
	lines := strings.Split(strings.TrimSpace(ts.out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "write:")
	assert.Contains(t, lines[0], "frame 0 bytes")
	assert.Contains(t, lines[0], "errno 42")
	assert.Contains(t, lines[0], "slow paths 0")
	// 0x100500 + 0x200008 + 3
	assert.Contains(t, lines[0], "result 0x30050b")
	assert.Contains(t, lines[1], "many:")
	assert.Contains(t, lines[1], "frame 112 bytes, 2 stack slots, 2 float args, result 10")
	assert.Contains(t, ts.log.String(), "emitted foreign call")
}

func TestSimulateCommandELFv1(t *testing.T) {
	ts := newTestState(nil)
	require.NoError(t, afero.WriteFile(ts.fs, "sites.yaml", []byte(manifestYAML), 0o644))
	require.NoError(t, ts.run("simulate", "-f", "sites.yaml", "-t", "ppc64", "--shadow-stack=false"))
	assert.Contains(t, ts.out.String(), "frame 128 bytes")
}

func TestArchsCommand(t *testing.T) {
	ts := newTestState(nil)
	require.NoError(t, ts.run("archs"))
	assert.Contains(t, ts.out.String(), "ppc64 ")
	assert.Contains(t, ts.out.String(), "ppc64le")
	assert.Contains(t, ts.out.String(), "call register R12")
}

const header = `
long write(int fd, const char *buf, unsigned long n);
double hypot(double x, double y);
void reset(void);
static inline int twice(int x) { return 2 * x; }
`

func skipWithoutCompiler(t *testing.T) {
	if _, err := cc.NewConfig(runtime.GOOS, runtime.GOARCH); err != nil {
		t.Skipf("C parser configuration unavailable: %v", err)
	}
}

func TestParsePrototypes(t *testing.T) {
	skipWithoutCompiler(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "calls.h", []byte(header), 0o644))
	prototypes, err := parsePrototypes(fs, "calls.h")
	require.NoError(t, err)
	require.Len(t, prototypes, 4)

	assert.Equal(t, "write", prototypes[0].Name)
	assert.Equal(t, []string{"fd", "buf", "n"}, prototypes[0].Params)
	assert.Equal(t, []cb.Type{cb.Int, cb.Int, cb.Int}, prototypes[0].Types)
	assert.True(t, prototypes[0].Result)
	assert.Equal(t, cb.Int, prototypes[0].ResultType)

	assert.Equal(t, []cb.Type{cb.Float, cb.Float}, prototypes[1].Types)
	assert.Equal(t, cb.Float, prototypes[1].ResultType)

	assert.Empty(t, prototypes[2].Types)
	assert.False(t, prototypes[2].Result)

	site := prototypes[1].Site(0x20000100)
	assert.Equal(t, "imm:0x20000100", site.Target)
	assert.Equal(t, []SiteArg{{Loc: "frame+0", Type: "float"}, {Loc: "frame+8", Type: "float"}}, site.Args)
	assert.Equal(t, "f1", site.Result)
}

func TestParsePrototypesVariadic(t *testing.T) {
	skipWithoutCompiler(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "printf.h", []byte("int printf(const char *format, ...);\n"), 0o644))
	_, err := parsePrototypes(fs, "printf.h")
	assert.ErrorIs(t, err, errVariadic)
}

func TestProtoCommand(t *testing.T) {
	skipWithoutCompiler(t)
	ts := newTestState(nil)
	require.NoError(t, afero.WriteFile(ts.fs, "calls.h", []byte(header), 0o644))
	require.NoError(t, ts.run("proto", "calls.h", "-o", "sites.yaml", "--releases-lock", "--errno", "save-after"))
	m, err := readManifest(ts.fs, "sites.yaml")
	require.NoError(t, err)
	require.Len(t, m.Sites, 4)
	assert.Equal(t, "ppc64le", m.Target)
	assert.True(t, m.Sites[0].ReleasesLock)
	assert.Equal(t, "imm:0x20000100", m.Sites[1].Target)

	// The generated manifest runs.
	require.NoError(t, ts.run("simulate", "-f", "sites.yaml"))
	assert.Contains(t, ts.out.String(), "hypot:")
}
