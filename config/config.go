// Package config loads buildercore's process configuration from an INI
// file via gopkg.in/ini.v1, with flag-based overrides for the values an
// operator most often wants to change per invocation. The section/key
// layout intentionally mirrors the teacher's own distri.conf handling
// in spirit: one [builder] section of scalar settings, plus a
// [feature_flags] section of booleans.
package config

import (
	"flag"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/ini.v1"

	"github.com/habitat-sh/builder-sub000/ident"
	"github.com/habitat-sh/builder-sub000/manifest"
)

// FeatureFlags gates optional compiler and compatibility behavior.
type FeatureFlags struct {
	// BuildDeps makes the graph and the manifest compiler carry
	// BuildDeps and StrongBuildDeps edges in addition to runtime edges;
	// see graph.LatestGraph.Extend and manifest.Compute.
	BuildDeps bool
	// LegacyProject is loaded from [feature_flags] legacy_project; no
	// code path in this module reads it.
	LegacyProject bool
}

// Config is buildercore's resolved process configuration: defaults,
// overridden by an INI file, overridden again by flags.
type Config struct {
	Targets             []ident.PackageTarget
	StorePath           string
	ChannelRoot         string
	DefaultChannel      string
	CyclicBuildRounds   int
	DispatchBatchSize   int
	DispatchTimeoutSecs int
	DispatchConcurrency int
	Features            FeatureFlags
}

// Default returns the configuration buildercore runs with when no INI
// file and no flags are supplied.
func Default() *Config {
	return &Config{
		Targets:             []ident.PackageTarget{"x86_64-linux"},
		StorePath:           "/var/lib/buildercore/store.bolt",
		ChannelRoot:         "/var/lib/buildercore/channels",
		DefaultChannel:      "stable",
		CyclicBuildRounds:   manifest.DefaultRounds,
		DispatchBatchSize:   16,
		DispatchTimeoutSecs: 7200,
		DispatchConcurrency: 4,
	}
}

// Load reads path as an INI file and overlays it onto Default(). An
// empty path is not an error: it returns the defaults unchanged, the
// same "config file is optional" behavior the teacher's own config
// loading assumes.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, xerrors.Errorf("loading config %s: %w", path, err)
	}

	builder := f.Section("builder")
	if raw := builder.Key("targets").String(); raw != "" {
		cfg.Targets = parseTargets(raw)
	}
	if builder.HasKey("store_path") {
		cfg.StorePath = builder.Key("store_path").String()
	}
	if builder.HasKey("channel_root") {
		cfg.ChannelRoot = builder.Key("channel_root").String()
	}
	if builder.HasKey("default_channel") {
		cfg.DefaultChannel = builder.Key("default_channel").String()
	}
	if builder.HasKey("cyclic_build_rounds") {
		n, err := builder.Key("cyclic_build_rounds").Int()
		if err != nil {
			return nil, xerrors.Errorf("parsing cyclic_build_rounds: %w", err)
		}
		cfg.CyclicBuildRounds = n
	}
	if builder.HasKey("dispatch_batch_size") {
		n, err := builder.Key("dispatch_batch_size").Int()
		if err != nil {
			return nil, xerrors.Errorf("parsing dispatch_batch_size: %w", err)
		}
		cfg.DispatchBatchSize = n
	}
	if builder.HasKey("dispatch_timeout_secs") {
		n, err := builder.Key("dispatch_timeout_secs").Int()
		if err != nil {
			return nil, xerrors.Errorf("parsing dispatch_timeout_secs: %w", err)
		}
		cfg.DispatchTimeoutSecs = n
	}
	if builder.HasKey("dispatch_concurrency") {
		n, err := builder.Key("dispatch_concurrency").Int()
		if err != nil {
			return nil, xerrors.Errorf("parsing dispatch_concurrency: %w", err)
		}
		cfg.DispatchConcurrency = n
	}

	flags := f.Section("feature_flags")
	cfg.Features.BuildDeps = flags.Key("build_deps").MustBool(cfg.Features.BuildDeps)
	cfg.Features.LegacyProject = flags.Key("legacy_project").MustBool(cfg.Features.LegacyProject)

	return cfg, nil
}

func parseTargets(raw string) []ident.PackageTarget {
	parts := strings.Split(raw, ",")
	out := make([]ident.PackageTarget, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, ident.PackageTarget(p))
		}
	}
	return out
}

// Overrides holds flag values bound by RegisterFlags, applied onto a
// Config by Apply once fs.Parse has run.
type Overrides struct {
	storePath   string
	channelRoot string
	channel     string
	batchSize   int
}

// RegisterFlags binds buildercore's process-level overrides onto fs, a
// standard library *flag.FlagSet.
func RegisterFlags(fs *flag.FlagSet) *Overrides {
	o := &Overrides{}
	fs.StringVar(&o.storePath, "store-path", "", "override the configured store_path")
	fs.StringVar(&o.channelRoot, "channel-root", "", "override the configured channel_root")
	fs.StringVar(&o.channel, "channel", "", "override the configured default_channel")
	fs.IntVar(&o.batchSize, "dispatch-batch-size", 0, "override the configured dispatch_batch_size")
	return o
}

// Apply overlays non-zero override values onto cfg.
func (cfg *Config) Apply(o *Overrides) {
	if o == nil {
		return
	}
	if o.storePath != "" {
		cfg.StorePath = o.storePath
	}
	if o.channelRoot != "" {
		cfg.ChannelRoot = o.channelRoot
	}
	if o.channel != "" {
		cfg.DefaultChannel = o.channel
	}
	if o.batchSize > 0 {
		cfg.DispatchBatchSize = o.batchSize
	}
}
