// Package config loads the samples cache configuration.
//
// Configuration lives in a sectioned file (TOML by default) with three
// sections: [samples_cache] for the cache itself, one [site.<NAME>] block
// per grid site, and [binaries] for explicit tool paths overriding PATH
// lookup. Environment variables with the SAMPLECACHE_ prefix override file
// values. The loaded Config is immutable; components receive it by
// reference at construction.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/clip-hep/samplecache/internal/bytesize"
	"github.com/clip-hep/samplecache/internal/expand"
	"github.com/clip-hep/samplecache/internal/logger"
	"github.com/clip-hep/samplecache/pkg/site"
)

// ErrConfig reports malformed or ambiguous configuration. Fatal at startup,
// never retried.
var ErrConfig = errors.New("invalid configuration")

// SamplesCacheConfig is the process-wide cache configuration from the
// [samples_cache] section.
type SamplesCacheConfig struct {
	// VomsProxyPath is where the VOMS proxy credential lives.
	VomsProxyPath string `mapstructure:"voms_proxy_path"`

	// Threads bounds the worker pool: at most this many samples are
	// staged concurrently.
	Threads int `mapstructure:"threads" validate:"min=1"`

	// DBPath is the embedded catalog database file.
	DBPath string `mapstructure:"db_path"`

	// DBSQLEcho logs every SQL statement issued by the catalog.
	DBSQLEcho bool `mapstructure:"db_sql_echo"`

	// Lockfile enables the cross-host lock protocol. Disabling it is only
	// safe when a single job owns the cache.
	Lockfile bool `mapstructure:"lockfile"`

	// LockfileMaxCount is the acquire attempt budget.
	LockfileMaxCount int `mapstructure:"lockfile_max_count" validate:"min=1"`

	// LockfileMaxAge is the age beyond which a lock marker counts as
	// abandoned. Plain numbers in the file are seconds.
	LockfileMaxAge time.Duration `mapstructure:"lockfile_max_age" validate:"min=0"`

	// RootCacheSize is the per-chain read cache handed to the analysis
	// framework; zero keeps the framework default.
	RootCacheSize bytesize.ByteSize `mapstructure:"root_cache_size"`

	// RootThreads is the implicit multi-threading level of the analysis
	// framework; zero means all cores.
	RootThreads int `mapstructure:"root_threads" validate:"min=0"`

	// XrdcpRetry is the transfer attempt budget per file.
	XrdcpRetry int `mapstructure:"xrdcp_retry" validate:"min=1"`
}

// Config is the full loaded configuration.
type Config struct {
	Logging      logger.Config      `mapstructure:"logging"`
	SamplesCache SamplesCacheConfig `mapstructure:"samples_cache"`

	// Sites are the parsed [site.<NAME>] sections, defaults merged and
	// paths expanded, sorted by name.
	Sites []site.Site `mapstructure:"-"`

	// Binaries maps tool names (dashes as underscores) to explicit paths.
	Binaries map[string]string `mapstructure:"binaries"`
}

// SiteRegistry builds the site registry from the configured sites.
func (c *Config) SiteRegistry() (*site.Registry, error) {
	return site.NewRegistry(c.Sites)
}

// fileConfig mirrors the raw file layout before defaults and expansion.
type fileConfig struct {
	Logging      logger.Config          `mapstructure:"logging"`
	SamplesCache SamplesCacheConfig     `mapstructure:"samples_cache"`
	Site         map[string]siteSection `mapstructure:"site"`
	Binaries     map[string]string      `mapstructure:"binaries"`
}

type siteSection struct {
	Domains       []string          `mapstructure:"domains"`
	StorePath     string            `mapstructure:"store_path"`
	LocalPrefix   string            `mapstructure:"local_prefix"`
	RemotePrefix  string            `mapstructure:"remote_prefix"`
	Stage         *bool             `mapstructure:"stage"`
	FileCache     string            `mapstructure:"file_cache"`
	FileCacheSize bytesize.ByteSize `mapstructure:"file_cache_size"`
}

// Load reads the configuration file (or the default location when path is
// empty), applies defaults, expands paths and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SAMPLECACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Boolean defaults must live here: after unmarshalling an unset flag
	// is indistinguishable from an explicit false.
	v.SetDefault("samples_cache.lockfile", true)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(configDir())
		v.SetConfigName("config")
		v.SetConfigType("toml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: read config file: %w", ErrConfig, err)
		}
		// No file is fine: defaults plus built-in sites.
	}

	var raw fileConfig
	if err := v.Unmarshal(&raw, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	cfg := &Config{
		Logging:      raw.Logging,
		SamplesCache: raw.SamplesCache,
		Binaries:     raw.Binaries,
	}
	applyDefaults(cfg)

	cfg.Sites = buildSites(raw.Site)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildSites merges each configured site over its built-in defaults,
// expands path fields and returns the sites sorted by name. Site names are
// normalized to upper case (the file loader is case-insensitive about keys).
func buildSites(sections map[string]siteSection) []site.Site {
	merged := make(map[string]siteSection, len(sections)+len(builtinSites))
	for name, s := range builtinSites {
		merged[name] = s
	}
	for name, s := range sections {
		name = strings.ToUpper(name)
		merged[name] = overlaySite(merged[name], s)
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	sites := make([]site.Site, 0, len(names))
	for _, name := range names {
		s := merged[name]
		sites = append(sites, site.Site{
			Name:          name,
			Domains:       s.Domains,
			StorePath:     s.StorePath,
			LocalPrefix:   s.LocalPrefix,
			RemotePrefix:  s.RemotePrefix,
			Stage:         s.Stage != nil && *s.Stage,
			FileCache:     expand.Path(s.FileCache),
			FileCacheSize: s.FileCacheSize,
		})
	}
	return sites
}

// overlaySite lays the configured values over the built-in defaults,
// field by field.
func overlaySite(base, over siteSection) siteSection {
	if len(over.Domains) > 0 {
		base.Domains = over.Domains
	}
	if over.StorePath != "" {
		base.StorePath = over.StorePath
	}
	if over.LocalPrefix != "" {
		base.LocalPrefix = over.LocalPrefix
	}
	if over.RemotePrefix != "" {
		base.RemotePrefix = over.RemotePrefix
	}
	if over.Stage != nil {
		base.Stage = over.Stage
	}
	if over.FileCache != "" {
		base.FileCache = over.FileCache
	}
	if over.FileCacheSize != 0 {
		base.FileCacheSize = over.FileCacheSize
	}
	return base
}

// validate runs struct tag validation and the site registry checks.
func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if _, err := site.NewRegistry(cfg.Sites); err != nil {
		return err
	}
	return nil
}

// decodeHooks converts human-readable config values into typed fields.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeHook(),
		secondsHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeHook parses strings and numbers into bytesize.ByteSize, so quotas
// can be written as "100GB" or as a plain byte count.
func byteSizeHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// secondsHook parses durations. Strings use time.ParseDuration syntax;
// bare numbers are seconds, matching the lockfile_max_age convention.
func secondsHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

// configDir is $XDG_CONFIG_HOME/samplecache, falling back to ~/.config.
func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "samplecache")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "samplecache")
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.toml")
}
