package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deixis/crosscheck"
	"github.com/deixis/crosscheck/internal/config"
	"github.com/deixis/crosscheck/internal/corpus"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		workspace = ""
		logger = zap.NewNop()
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, crosscheck.Version+"\n", out)
}

func TestHistory_Empty(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "history", "-w", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")

	out, err = execute(t, "history", "-w", dir, "--case", "functional/00_main.sy")
	require.NoError(t, err)
	assert.Contains(t, out, "No history for functional/00_main.sy.")
}

func TestServe_Instructions(t *testing.T) {
	out, err := execute(t, "serve", "--instructions")
	require.NoError(t, err)
	assert.Contains(t, out, "xc_run")
}

func TestRunFlags_Apply(t *testing.T) {
	cfg := &config.Config{}
	f := runFlags{
		mode:         "cross",
		noOptimize:   true,
		saveAsm:      true,
		skipExisting: true,
		jobs:         3,
		timeout:      2 * time.Second,
	}
	require.NoError(t, f.apply(cfg))

	assert.Equal(t, config.Cross, cfg.Mode())
	assert.False(t, cfg.OptimizeReference())
	assert.True(t, cfg.PersistIntermediate)
	assert.True(t, cfg.SkipExisting)
	assert.Equal(t, 3, cfg.Jobs())
	assert.Equal(t, 2*time.Second, cfg.RunTimeout())
}

func TestRunFlags_ApplyUnset(t *testing.T) {
	cfg := &config.Config{}
	require.NoError(t, runFlags{}.apply(cfg))
	assert.Equal(t, config.Interpreter, cfg.Mode())
	assert.True(t, cfg.OptimizeReference())
}

func TestRunFlags_Errors(t *testing.T) {
	assert.ErrorContains(t, runFlags{mode: "jit"}.apply(&config.Config{}), `unknown mode "jit"`)
	assert.ErrorContains(t, runFlags{file: "a.sy", dirs: []string{"functional"}}.apply(&config.Config{}), "mutually exclusive")
}

func TestWatchPaths(t *testing.T) {
	src := filepath.Join("/corpus", "functional", "00_main.sy")
	c := corpus.Case{Rel: "functional/00_main.sy", Source: src}
	assert.Equal(t,
		[]string{src, filepath.Join("/corpus", "functional", "00_main.in"), "/p/compiler.jar"},
		watchPaths(c, "/p/compiler.jar"))

	c.Stdin = "/elsewhere/00_main.in"
	assert.Equal(t, "/elsewhere/00_main.in", watchPaths(c, "/p/compiler.jar")[1])
}
