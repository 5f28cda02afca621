package commands

import (
	"fmt"

	"github.com/clip-hep/samplecache/internal/logger"
	"github.com/clip-hep/samplecache/pkg/catalog"
	"github.com/clip-hep/samplecache/pkg/config"
	"github.com/clip-hep/samplecache/pkg/site"
)

// app bundles what every data command needs: configuration, the site the
// process runs at and an open catalog.
type app struct {
	cfg     *config.Config
	site    site.Site
	catalog *catalog.Catalog
}

// setup loads configuration, initializes logging, resolves the site and
// opens the catalog. Callers must Close the returned app.
func setup() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}

	reg, err := cfg.SiteRegistry()
	if err != nil {
		return nil, err
	}

	var current *site.Site
	if siteName != "" {
		s, ok := reg.Lookup(siteName)
		if !ok {
			return nil, fmt.Errorf("%w: unknown site %q", site.ErrConfig, siteName)
		}
		current = s
	} else {
		s, ok := reg.Current()
		if !ok {
			return nil, fmt.Errorf("%w: could not determine site for domain %q, use --site",
				site.ErrConfig, site.Domainname())
		}
		current = s
	}
	logger.Debug("site resolved", "site", current.Name)

	cat, err := catalog.Open(catalog.Config{
		Path:    cfg.SamplesCache.DBPath,
		SQLEcho: cfg.SamplesCache.DBSQLEcho,
	})
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, site: *current, catalog: cat}, nil
}

// Close releases the catalog.
func (a *app) Close() error {
	return a.catalog.Close()
}
