package models

import (
	"time"

	"github.com/google/uuid"
)

// Dataset is an uploaded file referenced by audits
type Dataset struct {
	ID               uuid.UUID `json:"id" db:"id"`
	OwnerID          uuid.UUID `json:"owner_id" db:"owner_id"`
	StorageKey       string    `json:"storage_key" db:"storage_key"`
	OriginalFilename string    `json:"original_filename" db:"original_filename"`
	ContentType      string    `json:"content_type" db:"content_type"`
	SizeBytes        int64     `json:"size_bytes" db:"size_bytes"`

	// Engine handle cache, filled after a successful upload
	ExternalHandle   *string    `json:"external_handle,omitempty" db:"external_handle"`
	HandleUploadedAt *time.Time `json:"handle_uploaded_at,omitempty" db:"handle_uploaded_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Dataset model
func (Dataset) TableName() string {
	return "datasets"
}

// NewDataset creates a new Dataset pointing at a storage object
func NewDataset(ownerID uuid.UUID, storageKey, originalFilename string) *Dataset {
	return &Dataset{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		StorageKey:       storageKey,
		OriginalFilename: originalFilename,
		CreatedAt:        time.Now().UTC(),
	}
}

// CachedHandle returns the cached engine handle when it is younger than maxAge.
// A non-positive maxAge disables reuse.
func (d *Dataset) CachedHandle(now time.Time, maxAge time.Duration) (string, bool) {
	if maxAge <= 0 || d.ExternalHandle == nil || *d.ExternalHandle == "" || d.HandleUploadedAt == nil {
		return "", false
	}
	if now.Sub(*d.HandleUploadedAt) > maxAge {
		return "", false
	}
	return *d.ExternalHandle, true
}
