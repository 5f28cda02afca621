package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/clip-hep/samplecache/internal/expand"
)

// builtinSites are the known grid sites. A [site.<NAME>] section in the
// configuration file overrides individual fields; unknown sites start from
// an empty section and must be configured fully.
var builtinSites = map[string]siteSection{
	"CLIP": {
		Domains:      []string{"cbe.vbc.ac.at"},
		StorePath:    "/eos/vbc/experiments/cms",
		LocalPrefix:  "root://eos.grid.vbc.ac.at/",
		RemotePrefix: "root://xrootd-cms.infn.it/",
		Stage:        boolPtr(true),
		FileCache:    "/scratch-cbe/users/${USER}/file_cache",
	},
	"CERN": {
		Domains:      []string{"cern.ch"},
		StorePath:    "/eos/cms",
		LocalPrefix:  "root://eoscms.cern.ch/",
		RemotePrefix: "root://xrootd-cms.infn.it/",
		Stage:        boolPtr(false),
		FileCache:    "/afs/cern.ch/work/${USER:0:1}/${USER}/file_cache",
	},
}

func boolPtr(b bool) *bool { return &b }

// applyDefaults fills unset fields of the [samples_cache] and [logging]
// sections and expands path values.
func applyDefaults(cfg *Config) {
	sc := &cfg.SamplesCache

	if sc.VomsProxyPath == "" {
		sc.VomsProxyPath = "~/private/.proxy"
	}
	sc.VomsProxyPath = expand.Path(sc.VomsProxyPath)

	if sc.Threads == 0 {
		sc.Threads = 4
	}
	if sc.DBPath == "" {
		sc.DBPath = filepath.Join(cacheDir(), "samples.db")
	}
	sc.DBPath = expand.Path(sc.DBPath)

	if sc.LockfileMaxCount == 0 {
		sc.LockfileMaxCount = 6
	}
	if sc.LockfileMaxAge == 0 {
		sc.LockfileMaxAge = 300 * time.Second
	}
	if sc.XrdcpRetry == 0 {
		sc.XrdcpRetry = 3
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// cacheDir is $XDG_CACHE_HOME/samplecache, falling back to ~/.cache.
func cacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "samplecache")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".cache", "samplecache")
}
