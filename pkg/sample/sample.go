// Package sample models analysis samples: named collections of physics
// data files obtained either from the grid metadata service or by scanning
// a local directory tree. Sample definitions are written in YAML and the
// resolved file lists are persisted in the catalog so repeated runs skip
// the expensive metadata queries.
package sample

import (
	"path"
	"strings"

	"github.com/clip-hep/samplecache/pkg/catalog"
	"github.com/clip-hep/samplecache/pkg/site"
)

// File is one physical file belonging to a sample.
type File struct {
	// Path is the logical file name, usually /store/... or /eos/...
	Path string

	Size     int64
	Entries  int64
	Checksum uint32

	// Remote marks files absent from the local site store; they are read
	// or staged through the remote redirector instead.
	Remote bool

	// Staged marks files with a verified copy in the site file cache.
	Staged bool
}

// URL returns the access URL for the file at the given site. Staged files
// resolve into the site file cache; otherwise the site's local or remote
// prefix is prepended. Paths outside the store namespaces pass through
// unchanged.
func (f *File) URL(s site.Site) string {
	if !strings.HasPrefix(f.Path, "/store/") && !strings.HasPrefix(f.Path, "/eos/") {
		return f.Path
	}
	if f.Staged {
		return path.Join(s.FileCache, f.Path[1:])
	}
	if f.Remote {
		return s.RemotePrefix + f.Path
	}
	return s.LocalPrefix + f.Path
}

// CachePath returns where the file lives in the site file cache once
// staged.
func (f *File) CachePath(s site.Site) string {
	return path.Join(s.FileCache, strings.TrimPrefix(f.Path, "/"))
}

// Sample is a single dataset: a name, a tree inside each file and the
// resolved file list.
type Sample struct {
	Name         string
	Title        string
	TreeName     string
	CrossSection *float64
	Data         bool

	Kind catalog.SampleKind

	// DAS samples
	DASName  string
	Instance string

	// Filesystem samples
	Directory string
	Filter    string

	Files []File
}

// DisplayTitle returns the title, falling back to the name.
func (s *Sample) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	return s.Name
}

// Size returns the total byte size of all files.
func (s *Sample) Size() int64 {
	var total int64
	for i := range s.Files {
		total += s.Files[i].Size
	}
	return total
}

// Entries returns the total number of tree entries of all files.
func (s *Sample) Entries() int64 {
	var total int64
	for i := range s.Files {
		total += s.Files[i].Entries
	}
	return total
}

// Group is a named collection of samples. Groups do not nest.
type Group struct {
	Name    string
	Title   string
	Samples []*Sample
}

// Set is the parsed content of a sample definition file: groups plus any
// samples defined outside a group.
type Set struct {
	Groups  []*Group
	Samples []*Sample
}

// Flatten returns every sample in definition order, group members first
// within their group.
func (s *Set) Flatten() []*Sample {
	var out []*Sample
	for _, g := range s.Groups {
		out = append(out, g.Samples...)
	}
	return append(out, s.Samples...)
}

// FileCount returns the total number of files across all samples.
func (s *Set) FileCount() int {
	var n int
	for _, sm := range s.Flatten() {
		n += len(sm.Files)
	}
	return n
}

// Size returns the total byte size across all samples.
func (s *Set) Size() int64 {
	var total int64
	for _, sm := range s.Flatten() {
		total += sm.Size()
	}
	return total
}
