package sample

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/clip-hep/samplecache/internal/logger"
	"github.com/clip-hep/samplecache/pkg/catalog"
)

// Loader combines definition parsing, file list resolution and catalog
// persistence. Samples already known to the catalog keep their stored file
// lists unless a refresh is forced; the rest are resolved concurrently and
// written back.
type Loader struct {
	catalog  *catalog.Catalog
	resolver *Resolver
	threads  int

	// Refresh forces re-resolution of every sample, ignoring the catalog.
	Refresh bool
}

// NewLoader returns a loader using at most threads concurrent resolutions.
func NewLoader(cat *catalog.Catalog, res *Resolver, threads int) *Loader {
	if threads < 1 {
		threads = 1
	}
	return &Loader{catalog: cat, resolver: res, threads: threads}
}

// Load parses the definition file, fills in file lists and marks files
// already staged in the cache.
func (l *Loader) Load(ctx context.Context, path string) (*Set, error) {
	set, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	var toResolve []*Sample
	for _, s := range set.Flatten() {
		if !l.Refresh {
			rec, err := l.catalog.ReadSample(ctx, s.Name)
			if err == nil {
				if rec.Kind != s.Kind {
					logger.Warn("stored sample kind differs from definition",
						"sample", s.Name, "stored", rec.Kind, "defined", s.Kind)
				}
				applyRecord(s, rec)
				continue
			}
			if !errors.Is(err, catalog.ErrSampleNotFound) {
				return nil, err
			}
		}
		toResolve = append(toResolve, s)
	}

	resolved := l.resolveAll(ctx, toResolve)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, s := range resolved {
		if err := l.catalog.WriteSample(ctx, toRecord(s)); err != nil {
			return nil, err
		}
	}

	if err := l.markStaged(ctx, set); err != nil {
		return nil, err
	}

	logger.Info("samples loaded",
		"samples", len(set.Flatten()), "files", set.FileCount(), "bytes", set.Size())
	return set, nil
}

// resolveAll resolves file lists concurrently and returns the samples that
// succeeded. A failed sample is logged and left with an empty file list; it
// is not persisted, so the next run retries it.
func (l *Loader) resolveAll(ctx context.Context, samples []*Sample) []*Sample {
	var (
		mu sync.Mutex
		ok []*Sample
	)
	p := pool.New().WithContext(ctx).WithMaxGoroutines(l.threads)
	for _, s := range samples {
		s := s
		p.Go(func(ctx context.Context) error {
			if err := l.resolver.Resolve(ctx, s); err != nil {
				logger.Error("sample resolution failed", "sample", s.Name, "error", err)
				return nil
			}
			mu.Lock()
			ok = append(ok, s)
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		logger.Error("sample resolution aborted", "error", err)
	}
	return ok
}

// markStaged flips the Staged flag on every file with a verified cache
// entry.
func (l *Loader) markStaged(ctx context.Context, set *Set) error {
	for _, s := range set.Flatten() {
		for i := range s.Files {
			entry, err := l.catalog.Lookup(ctx, s.Files[i].Path)
			if errors.Is(err, catalog.ErrEntryNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			s.Files[i].Staged = entry.Staged
		}
	}
	return nil
}

// toRecord converts a resolved sample into its catalog form.
func toRecord(s *Sample) *catalog.Sample {
	rec := &catalog.Sample{
		Path:         s.Name,
		Kind:         s.Kind,
		TreeName:     s.TreeName,
		Title:        s.Title,
		CrossSection: s.CrossSection,
		Data:         s.Data,
		DASName:      s.DASName,
		Instance:     s.Instance,
		Directory:    s.Directory,
		Pattern:      s.Filter,
	}
	for _, f := range s.Files {
		rec.Files = append(rec.Files, catalog.SampleFile{
			Path:      f.Path,
			SizeBytes: f.Size,
			Entries:   f.Entries,
			Checksum:  f.Checksum,
			Remote:    f.Remote,
		})
	}
	return rec
}

// applyRecord copies the stored file list onto a sample parsed from the
// definition file. Definition fields win over stored ones.
func applyRecord(s *Sample, rec *catalog.Sample) {
	s.Files = s.Files[:0]
	for _, f := range rec.Files {
		s.Files = append(s.Files, File{
			Path:     f.Path,
			Size:     f.SizeBytes,
			Entries:  f.Entries,
			Checksum: f.Checksum,
			Remote:   f.Remote,
		})
	}
}
