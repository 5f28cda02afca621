package sample

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/clip-hep/samplecache/internal/logger"
	"github.com/clip-hep/samplecache/pkg/catalog"
	"github.com/clip-hep/samplecache/pkg/grid"
	"github.com/clip-hep/samplecache/pkg/site"
)

// Resolver fills in sample file lists, either from the grid metadata
// service or by scanning the local filesystem.
type Resolver struct {
	site site.Site
	das  *grid.DASClient
}

// NewResolver returns a resolver for the given site.
func NewResolver(s site.Site, das *grid.DASClient) *Resolver {
	return &Resolver{site: s, das: das}
}

// Resolve populates s.Files according to the sample kind.
func (r *Resolver) Resolve(ctx context.Context, s *Sample) error {
	switch s.Kind {
	case catalog.KindDAS:
		return r.resolveDAS(ctx, s)
	case catalog.KindFS:
		return r.resolveFS(s)
	default:
		return fmt.Errorf("%w: sample %s has unknown kind %q", ErrDefinition, s.Name, s.Kind)
	}
}

// resolveDAS queries the metadata service for the dataset file list. Files
// already present in the site store are marked local; the rest will be read
// through the remote redirector.
func (r *Resolver) resolveDAS(ctx context.Context, s *Sample) error {
	instance := s.Instance
	if instance == "" {
		instance = grid.DefaultInstance(s.DASName)
	}

	files, err := r.das.FileList(ctx, s.DASName, instance)
	if err != nil {
		return fmt.Errorf("resolve sample %s: %w", s.Name, err)
	}

	s.Files = s.Files[:0]
	for _, df := range files {
		local := filepath.Join(r.site.StorePath, strings.TrimPrefix(df.Name, "/"))
		_, statErr := os.Stat(local)
		s.Files = append(s.Files, File{
			Path:     df.Name,
			Size:     df.Size,
			Entries:  df.Entries,
			Checksum: df.Adler32,
			Remote:   statErr != nil,
		})
	}
	logger.Debug("resolved sample from metadata service",
		"sample", s.Name, "dataset", s.DASName, "files", len(s.Files))
	return nil
}

// resolveFS walks the sample directory collecting files matching the
// filter. Paths under the site store are recorded relative to it, so the
// usual /store/... logical names come out of a store scan.
func (r *Resolver) resolveFS(s *Sample) error {
	store := r.site.StorePath != "" &&
		strings.HasPrefix(s.Directory, filepath.Join(r.site.StorePath, "store"))

	s.Files = s.Files[:0]
	err := filepath.WalkDir(s.Directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		match, err := filepath.Match(s.Filter, d.Name())
		if err != nil {
			return fmt.Errorf("%w: bad filter %q: %w", ErrDefinition, s.Filter, err)
		}
		if !match {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		name := path
		if store {
			name = strings.TrimPrefix(path, r.site.StorePath)
		}
		s.Files = append(s.Files, File{Path: name, Size: info.Size()})
		return nil
	})
	if err != nil {
		return fmt.Errorf("resolve sample %s: %w", s.Name, err)
	}
	logger.Debug("resolved sample from filesystem",
		"sample", s.Name, "directory", s.Directory, "files", len(s.Files))
	return nil
}
