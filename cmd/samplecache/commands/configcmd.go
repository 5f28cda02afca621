package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clip-hep/samplecache/pkg/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	RunE:  runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false,
		"overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

const configTemplate = `# samplecache configuration

[samples_cache]
# voms_proxy_path = "~/private/.proxy"
# threads = 4
# xrdcp_retry = 3
# db_path = "~/.cache/samplecache/samples.db"
# lockfile = true
# lockfile_max_count = 6
# lockfile_max_age = 300

# Built-in sites CLIP and CERN need no configuration. Individual fields
# can be overridden, and new sites added:
#
# [site.CLIP]
# file_cache = "/scratch-cbe/users/${USER}/file_cache"
# file_cache_size = "500GB"
#
# [site.DESY]
# domains = ["desy.de"]
# store_path = "/pnfs/desy.de/cms"
# local_prefix = "root://dcache-cms-xrootd.desy.de/"
# remote_prefix = "root://xrootd-cms.infn.it/"
# stage = true
# file_cache = "/tmp/${USER}/file_cache"

# [binaries]
# xrdcp = "/opt/xrootd/bin/xrdcp"
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("config file %s exists, use --force to overwrite", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	os.Stdout.Write(out)
	return nil
}
