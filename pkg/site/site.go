// Package site classifies the running host into a grid site.
//
// A site is a named cluster location (CLIP, CERN, ...) with its own storage
// root, access-protocol prefixes and local file cache. Which site a job runs
// at is decided by matching the host's DNS domain against each site's
// configured domain suffixes.
package site

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/clip-hep/samplecache/internal/bytesize"
)

// ErrConfig reports a malformed or ambiguous site configuration. It is fatal
// at startup and never retried.
var ErrConfig = errors.New("invalid site configuration")

// Site describes one grid site.
type Site struct {
	// Name is the unique site identifier, e.g. "CLIP".
	Name string

	// Domains are the DNS suffixes that map a host to this site.
	// Domain sets must be disjoint across sites.
	Domains []string

	// StorePath is the root under which source files live at this site.
	StorePath string

	// LocalPrefix and RemotePrefix are the access-protocol prefixes for
	// on-site and off-site reads.
	LocalPrefix  string
	RemotePrefix string

	// Stage indicates whether files must be copied to the local cache
	// before use at this site.
	Stage bool

	// FileCache is the local cache root; FileCacheSize its byte quota.
	FileCache     string
	FileCacheSize bytesize.ByteSize
}

// Registry holds the parsed site definitions and answers host lookups.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	sites []Site
}

// NewRegistry validates the site definitions and builds a registry.
//
// Validation rejects, with an error matching ErrConfig:
//   - two sites claiming overlapping domain suffixes, equal or nested,
//     since Resolve matches by suffix and a host under the longer domain
//     would otherwise match both sites
//   - a staging site without a store path or cache root
func NewRegistry(sites []Site) (*Registry, error) {
	claimed := make(map[string]string)

	for _, s := range sites {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: site with empty name", ErrConfig)
		}
		for _, d := range s.Domains {
			d = strings.ToLower(d)
			for prev, owner := range claimed {
				if owner == s.Name {
					continue
				}
				if suffixMatch(d, prev) || suffixMatch(prev, d) {
					return nil, fmt.Errorf("%w: domain %q of site %s overlaps %q of site %s",
						ErrConfig, d, s.Name, prev, owner)
				}
			}
			claimed[d] = s.Name
		}
		if s.Stage {
			if s.StorePath == "" {
				return nil, fmt.Errorf("%w: site %s has stage enabled but no store_path", ErrConfig, s.Name)
			}
			if s.FileCache == "" {
				return nil, fmt.Errorf("%w: site %s has stage enabled but no file_cache", ErrConfig, s.Name)
			}
		}
	}

	return &Registry{sites: sites}, nil
}

// Resolve matches hostname against each site's domain suffixes. It returns
// the matching site, or false when no site claims the host (home site).
func (r *Registry) Resolve(hostname string) (*Site, bool) {
	hostname = strings.ToLower(hostname)

	for i := range r.sites {
		for _, d := range r.sites[i].Domains {
			if suffixMatch(hostname, strings.ToLower(d)) {
				return &r.sites[i], true
			}
		}
	}

	return nil, false
}

// Current resolves the site for the local host's fully qualified name.
func (r *Registry) Current() (*Site, bool) {
	return r.Resolve(Domainname())
}

// Sites returns all registered sites.
func (r *Registry) Sites() []Site {
	return r.sites
}

// Lookup returns the site with the given name.
func (r *Registry) Lookup(name string) (*Site, bool) {
	for i := range r.sites {
		if strings.EqualFold(r.sites[i].Name, name) {
			return &r.sites[i], true
		}
	}
	return nil, false
}

// suffixMatch reports whether host equals domain or ends in ".domain".
func suffixMatch(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// Domainname returns the domain part of the local host's FQDN, i.e.
// everything after the first label. Hosts without a domain return the bare
// hostname.
func Domainname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return ""
	}
	if _, domain, ok := strings.Cut(hostname, "."); ok {
		return domain
	}
	return hostname
}
