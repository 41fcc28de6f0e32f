package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverlaysIniOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buildercore.ini")
	contents := `[builder]
targets = x86_64-linux, aarch64-linux
store_path = /tmp/store.bolt
cyclic_build_rounds = 5
dispatch_batch_size = 32

[feature_flags]
build_deps = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, []string{"x86_64-linux", "aarch64-linux"}, targetStrings(cfg))
	require.Equal(t, "/tmp/store.bolt", cfg.StorePath)
	require.Equal(t, 5, cfg.CyclicBuildRounds)
	require.Equal(t, 32, cfg.DispatchBatchSize)
	require.True(t, cfg.Features.BuildDeps)
	require.False(t, cfg.Features.LegacyProject)

	// Unset keys keep their defaults.
	require.Equal(t, Default().ChannelRoot, cfg.ChannelRoot)
	require.Equal(t, Default().DispatchTimeoutSecs, cfg.DispatchTimeoutSecs)
}

func TestLoadRejectsUnparseableInt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buildercore.ini")
	contents := "[builder]\ncyclic_build_rounds = not-a-number\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyOverridesNonZeroFieldsOnly(t *testing.T) {
	cfg := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	o := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-store-path", "/custom/store.bolt", "-dispatch-batch-size", "64"}))

	cfg.Apply(o)

	require.Equal(t, "/custom/store.bolt", cfg.StorePath)
	require.Equal(t, 64, cfg.DispatchBatchSize)
	require.Equal(t, Default().ChannelRoot, cfg.ChannelRoot)
	require.Equal(t, Default().DefaultChannel, cfg.DefaultChannel)
}

func targetStrings(cfg *Config) []string {
	out := make([]string, len(cfg.Targets))
	for i, tgt := range cfg.Targets {
		out[i] = string(tgt)
	}
	return out
}
