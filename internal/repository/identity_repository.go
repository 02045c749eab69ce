package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no identity record exists for an id.
var ErrNotFound = errors.New("identity record not found")

// IdentityRecord is the durable profile of one enrolled person. Attributes
// are opaque to the platform: they are stored and returned verbatim, never
// validated or interpreted.
type IdentityRecord struct {
	ID         string            `gorm:"primaryKey;size:36"`
	Attributes map[string]string `gorm:"serializer:json"`
	TrustScore float64           `gorm:"column:trust_score"`
	PhotoPath  string            `gorm:"column:photo_path;size:512"`
	CreatedAt  time.Time         `gorm:"column:created_at"`
	UpdatedAt  time.Time         `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (IdentityRecord) TableName() string {
	return "identity_records"
}

// IdentityRepository provides persistence APIs for identity records.
//
// It performs no internal retries: the enrollment dual-write is not
// idempotent across attempts, so retry policy stays with the caller.
type IdentityRepository struct {
	db *gorm.DB
}

// NewIdentityRepository creates a new repository instance.
func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// AutoMigrate ensures the schema is available.
func (r *IdentityRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&IdentityRecord{})
}

// Put creates or fully replaces the record keyed by its id.
func (r *IdentityRepository) Put(ctx context.Context, record *IdentityRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(record).Error
}

// Get retrieves the record by id, or ErrNotFound.
func (r *IdentityRepository) Get(ctx context.Context, id string) (*IdentityRecord, error) {
	var record IdentityRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// Delete removes the record by id. Deleting an absent id is not an error.
func (r *IdentityRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&IdentityRecord{}, "id = ?", id).Error
}

// List returns all records, newest first.
func (r *IdentityRepository) List(ctx context.Context) ([]*IdentityRecord, error) {
	var records []*IdentityRecord
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Count reports the number of enrolled identities.
func (r *IdentityRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&IdentityRecord{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
