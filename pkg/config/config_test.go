package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clip-hep/samplecache/internal/bytesize"
	"github.com/clip-hep/samplecache/pkg/site"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func findSite(t *testing.T, cfg *Config, name string) site.Site {
	t.Helper()
	for _, s := range cfg.Sites {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("site %s not found", name)
	return site.Site{}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	sc := cfg.SamplesCache
	assert.Equal(t, 4, sc.Threads)
	assert.Equal(t, 3, sc.XrdcpRetry)
	assert.True(t, sc.Lockfile)
	assert.Equal(t, 6, sc.LockfileMaxCount)
	assert.Equal(t, 300*time.Second, sc.LockfileMaxAge)
	assert.Equal(t, bytesize.ByteSize(0), sc.RootCacheSize)
	assert.NotEmpty(t, sc.DBPath)
	assert.NotContains(t, sc.VomsProxyPath, "~")

	clip := findSite(t, cfg, "CLIP")
	assert.Equal(t, "/eos/vbc/experiments/cms", clip.StorePath)
	assert.True(t, clip.Stage)
	cern := findSite(t, cfg, "CERN")
	assert.False(t, cern.Stage)
	assert.Equal(t, []string{"cern.ch"}, cern.Domains)
}

func TestLoadSamplesCacheSection(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[samples_cache]
threads = 8
xrdcp_retry = 5
lockfile = false
lockfile_max_age = 120
root_cache_size = "2GiB"
db_sql_echo = true
`))
	require.NoError(t, err)

	sc := cfg.SamplesCache
	assert.Equal(t, 8, sc.Threads)
	assert.Equal(t, 5, sc.XrdcpRetry)
	assert.False(t, sc.Lockfile)
	assert.Equal(t, 2*time.Minute, sc.LockfileMaxAge)
	assert.Equal(t, bytesize.ByteSize(2<<30), sc.RootCacheSize)
	assert.True(t, sc.DBSQLEcho)
}

func TestLoadDurationString(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[samples_cache]
lockfile_max_age = "10m"
`))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.SamplesCache.LockfileMaxAge)
}

func TestSiteOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[site.CLIP]
file_cache = "/tmp/cache"
file_cache_size = "100GB"
`))
	require.NoError(t, err)

	clip := findSite(t, cfg, "CLIP")
	assert.Equal(t, "/tmp/cache", clip.FileCache)
	assert.Equal(t, bytesize.ByteSize(100_000_000_000), clip.FileCacheSize)
	// Untouched fields keep their built-in values.
	assert.Equal(t, "root://eos.grid.vbc.ac.at/", clip.LocalPrefix)
	assert.True(t, clip.Stage)
}

func TestSiteAdditional(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[site.DESY]
domains = ["desy.de"]
store_path = "/pnfs/desy.de/cms"
local_prefix = "root://dcache-cms-xrootd.desy.de/"
remote_prefix = "root://xrootd-cms.infn.it/"
stage = true
file_cache = "/tmp/desy_cache"
file_cache_size = "10GiB"
`))
	require.NoError(t, err)

	desy := findSite(t, cfg, "DESY")
	assert.Equal(t, []string{"desy.de"}, desy.Domains)
	assert.True(t, desy.Stage)

	reg, err := cfg.SiteRegistry()
	require.NoError(t, err)
	s, ok := reg.Resolve("node01.desy.de")
	require.True(t, ok)
	assert.Equal(t, "DESY", s.Name)
}

func TestSiteStageDisable(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[site.CLIP]
stage = false
`))
	require.NoError(t, err)
	assert.False(t, findSite(t, cfg, "CLIP").Stage)
}

func TestBinariesSection(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[binaries]
xrdcp = "/opt/xrootd/bin/xrdcp"
voms_proxy_init = "/opt/voms/bin/voms-proxy-init"
`))
	require.NoError(t, err)
	assert.Equal(t, "/opt/xrootd/bin/xrdcp", cfg.Binaries["xrdcp"])
	assert.Equal(t, "/opt/voms/bin/voms-proxy-init", cfg.Binaries["voms_proxy_init"])
}

func TestLoadInvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, `
[samples_cache]
threads = -1
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoadOverlappingDomains(t *testing.T) {
	_, err := Load(writeConfig(t, `
[site.FAKE]
domains = ["cern.ch"]
stage = false
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, site.ErrConfig)
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "[samples_cache\nthreads ="))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.SamplesCache.Threads)
	assert.Len(t, cfg.Sites, 2)
}
