package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clip-hep/samplecache/internal/logger"
	"github.com/clip-hep/samplecache/internal/metrics"
	"github.com/clip-hep/samplecache/pkg/evict"
	"github.com/clip-hep/samplecache/pkg/grid"
	"github.com/clip-hep/samplecache/pkg/lockfile"
	"github.com/clip-hep/samplecache/pkg/sample"
	"github.com/clip-hep/samplecache/pkg/staging"
)

var (
	stageRefresh     bool
	stageNoProxy     bool
	stageProxyHours  int
	stageMetricsAddr string
)

var stageCmd = &cobra.Command{
	Use:   "stage <samples.yaml>",
	Short: "Stage the files of a sample definition into the site cache",
	Long: `Resolve the samples defined in a YAML file and stage their files
into the site file cache.

File lists come from the grid metadata service or from directory scans and
are remembered in the catalog; use --refresh to resolve them again. At a
site without staging the files are accessed remotely and nothing is copied.

Examples:
  # Stage a sample definition
  samplecache stage samples/wjets.yaml

  # Re-resolve file lists and expose transfer metrics while staging
  samplecache stage --refresh --metrics-listen :9090 samples/wjets.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runStage,
}

func init() {
	stageCmd.Flags().BoolVar(&stageRefresh, "refresh", false,
		"re-resolve sample file lists instead of using the catalog")
	stageCmd.Flags().BoolVar(&stageNoProxy, "no-proxy", false,
		"skip the VOMS proxy check")
	stageCmd.Flags().IntVar(&stageProxyHours, "proxy-valid", 24,
		"minimum remaining proxy validity in hours")
	stageCmd.Flags().StringVar(&stageMetricsAddr, "metrics-listen", "",
		"serve Prometheus metrics on this address while staging")
}

func runStage(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bins, err := grid.ResolveBinaries(a.cfg.Binaries)
	if err != nil {
		return err
	}
	runner := grid.ExecRunner{}

	if !stageNoProxy {
		proxy := grid.NewProxy(runner, bins, a.cfg.SamplesCache.VomsProxyPath, "cms")
		if err := proxy.EnsureValid(ctx, time.Duration(stageProxyHours)*time.Hour); err != nil {
			return err
		}
	}

	das := grid.NewDASClient(runner, bins.Dasgoclient, 5*time.Minute)
	loader := sample.NewLoader(
		a.catalog,
		sample.NewResolver(a.site, das),
		a.cfg.SamplesCache.Threads,
	)
	loader.Refresh = stageRefresh

	set, err := loader.Load(ctx, args[0])
	if err != nil {
		return err
	}

	if !a.site.Stage {
		fmt.Printf("Site %s does not stage; files will be read through %s\n",
			a.site.Name, a.site.RemotePrefix)
		return nil
	}

	reg := metrics.NewRegistry()
	if stageMetricsAddr != "" {
		srv := &http.Server{Addr: stageMetricsAddr, Handler: reg.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	sc := a.cfg.SamplesCache
	controller := staging.New(staging.Config{
		Site:    a.site,
		Catalog: a.catalog,
		Locks: lockfile.New(lockfile.Config{
			Enabled:  sc.Lockfile,
			MaxAge:   sc.LockfileMaxAge,
			MaxCount: sc.LockfileMaxCount,
			Unit:     time.Second,
		}, lockfile.WithMetrics(&reg.Locks)),
		Copier:  grid.NewCopyClient(runner, bins.Xrdcp, time.Hour),
		Evictor: evict.New(a.catalog, evict.WithMetrics(&reg.Evictions)),
		Retries: sc.XrdcpRetry,
		Threads: sc.Threads,
	}, staging.WithMetrics(&reg.Staging))

	keys := stageableKeys(set)
	fmt.Printf("Staging %d files at site %s ...\n", len(keys), a.site.Name)

	if err := controller.StageAll(ctx, keys); err != nil {
		return err
	}
	fmt.Println("Done.")
	return nil
}

// stageableKeys returns the logical names of files living in the store
// namespaces. Everything else is a plain local path with nothing to stage.
func stageableKeys(set *sample.Set) []string {
	var keys []string
	for _, s := range set.Flatten() {
		for _, f := range s.Files {
			if strings.HasPrefix(f.Path, "/store/") || strings.HasPrefix(f.Path, "/eos/") {
				keys = append(keys, f.Path)
			}
		}
	}
	return keys
}
