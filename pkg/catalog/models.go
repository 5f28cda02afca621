package catalog

import (
	"errors"
	"time"
)

// Sentinel errors for catalog operations.
var (
	// ErrEntryNotFound is returned when no cache entry exists for a key.
	ErrEntryNotFound = errors.New("cache entry not found")

	// ErrSampleNotFound is returned when no sample exists for a path.
	ErrSampleNotFound = errors.New("sample not found")

	// ErrCatalog reports store corruption or an unavailable storage path.
	// It is not retried automatically; operator intervention is required.
	ErrCatalog = errors.New("catalog store failure")
)

// CacheEntry is one cached physical file.
//
// An entry is created when staging begins (Staged=false), flipped to
// Staged=true after the transfer completes, and removed by eviction or
// explicit invalidation. LastAccess is bumped on every read and drives the
// LRU eviction order. Pinned entries are held open by a running job and are
// exempt from eviction.
type CacheEntry struct {
	ID         uint      `gorm:"primaryKey"`
	LogicalKey string    `gorm:"uniqueIndex;not null"`
	LocalPath  string    `gorm:"not null"`
	SizeBytes  int64     `gorm:"not null"`
	CachedAt   time.Time `gorm:"autoCreateTime"`
	LastAccess time.Time `gorm:"index"`
	Staged     bool      `gorm:"default:false"`
	Pinned     bool      `gorm:"default:false"`
}

// TableName returns the table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// SampleKind discriminates how a sample's file list is obtained.
type SampleKind string

const (
	// KindDAS samples query the grid metadata service for their files.
	KindDAS SampleKind = "das"

	// KindFS samples scan a filesystem directory.
	KindFS SampleKind = "fs"
)

// Sample is a persisted sample definition together with its resolved file
// list, so repeated runs skip the metadata query unless a refresh is forced.
type Sample struct {
	ID           uint       `gorm:"primaryKey"`
	Path         string     `gorm:"uniqueIndex;not null"`
	Kind         SampleKind `gorm:"size:16;not null"`
	TreeName     string     `gorm:"not null"`
	Title        string
	CrossSection *float64
	Data         bool

	// DAS samples
	DASName  string
	Instance string

	// Filesystem samples
	Directory string
	Pattern   string

	Files     []SampleFile `gorm:"foreignKey:SampleID;constraint:OnDelete:CASCADE"`
	UpdatedAt time.Time    `gorm:"autoUpdateTime"`
}

// TableName returns the table name for Sample.
func (Sample) TableName() string {
	return "samples"
}

// SampleFile is one physical file belonging to a sample.
type SampleFile struct {
	ID        uint   `gorm:"primaryKey"`
	SampleID  uint   `gorm:"index;not null"`
	Path      string `gorm:"not null"`
	SizeBytes int64
	Entries   int64
	Checksum  uint32
	Remote    bool
}

// TableName returns the table name for SampleFile.
func (SampleFile) TableName() string {
	return "sample_files"
}

// allModels lists every model for schema migration.
func allModels() []any {
	return []any{&CacheEntry{}, &Sample{}, &SampleFile{}}
}
