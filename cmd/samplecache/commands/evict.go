package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clip-hep/samplecache/internal/bytesize"
	"github.com/clip-hep/samplecache/pkg/evict"
)

var evictQuota string

var evictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Evict least recently used files until the cache fits its quota",
	Long: `Remove staged files in least-recently-used order until total cache
size is within the site quota. Pinned entries are never removed.

Examples:
  # Enforce the configured site quota
  samplecache evict

  # Shrink the cache below an explicit limit
  samplecache evict --quota 50GB`,
	RunE: runEvict,
}

func init() {
	evictCmd.Flags().StringVar(&evictQuota, "quota", "",
		"quota override (e.g. 50GB); default is the site file_cache_size")
}

func runEvict(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	quota := a.site.FileCacheSize
	if evictQuota != "" {
		quota, err = bytesize.Parse(evictQuota)
		if err != nil {
			return err
		}
	}
	if quota == 0 {
		fmt.Printf("Site %s has no cache quota; nothing to do.\n", a.site.Name)
		return nil
	}

	stats, err := evict.New(a.catalog).EnforceQuota(context.Background(), quota.Int64())
	if err != nil {
		return err
	}

	fmt.Printf("Evicted %d files, freed %s; cache now %s of %s.\n",
		stats.Evicted,
		bytesize.ByteSize(stats.BytesFreed),
		bytesize.ByteSize(stats.TotalAfter),
		quota,
	)
	return nil
}
