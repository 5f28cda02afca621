package catalog

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ReadSample returns the persisted sample and its file list for a sample
// path. Returns ErrSampleNotFound if the sample has never been written.
func (c *Catalog) ReadSample(ctx context.Context, path string) (*Sample, error) {
	var sample Sample
	err := c.db.WithContext(ctx).
		Preload("Files").
		Where("path = ?", path).
		First(&sample).Error
	if err != nil {
		return nil, convertError(err, ErrSampleNotFound, "read sample")
	}
	return &sample, nil
}

// WriteSample replaces the stored definition and file list for the sample's
// path in one transaction.
func (c *Catalog) WriteSample(ctx context.Context, sample *Sample) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Sample
		if err := tx.Where("path = ?", sample.Path).First(&existing).Error; err == nil {
			if err := tx.Where("sample_id = ?", existing.ID).Delete(&SampleFile{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
		}
		return tx.Create(sample).Error
	})
	if err != nil {
		return fmt.Errorf("%w: write sample %s: %w", ErrCatalog, sample.Path, err)
	}
	return nil
}

// ListSamples returns all persisted sample paths.
func (c *Catalog) ListSamples(ctx context.Context) ([]string, error) {
	var paths []string
	err := c.db.WithContext(ctx).
		Model(&Sample{}).
		Order("path ASC").
		Pluck("path", &paths).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list samples: %w", ErrCatalog, err)
	}
	return paths, nil
}
