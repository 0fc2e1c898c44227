package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Franck-F/fairness-sub000/models"
	"github.com/Franck-F/fairness-sub000/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DatasetRepository implements the repositories.DatasetRepository interface
type DatasetRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDatasetRepository creates a new dataset repository
func NewDatasetRepository(db *DB, logger *zap.Logger) repositories.DatasetRepository {
	return &DatasetRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new dataset record
func (r *DatasetRepository) Create(ctx context.Context, dataset *models.Dataset) error {
	query := `
		INSERT INTO datasets (
			id, owner_id, storage_key, original_filename, content_type, size_bytes, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		dataset.ID,
		dataset.OwnerID,
		dataset.StorageKey,
		dataset.OriginalFilename,
		dataset.ContentType,
		dataset.SizeBytes,
		dataset.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}

	r.logger.Debug("dataset created", zap.String("dataset_id", dataset.ID.String()))
	return nil
}

// GetByIDForOwner loads a dataset scoped to its owner
func (r *DatasetRepository) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Dataset, error) {
	query := `
		SELECT id, owner_id, storage_key, original_filename, content_type, size_bytes,
		       external_handle, handle_uploaded_at, created_at
		FROM datasets
		WHERE id = $1 AND owner_id = $2
	`

	executor := GetExecutor(ctx, r.db)
	dataset := &models.Dataset{}
	err := executor.QueryRowContext(ctx, query, id, ownerID).Scan(
		&dataset.ID,
		&dataset.OwnerID,
		&dataset.StorageKey,
		&dataset.OriginalFilename,
		&dataset.ContentType,
		&dataset.SizeBytes,
		&dataset.ExternalHandle,
		&dataset.HandleUploadedAt,
		&dataset.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}

	return dataset, nil
}

// SaveExternalHandle caches the engine handle of a dataset
func (r *DatasetRepository) SaveExternalHandle(ctx context.Context, id uuid.UUID, handle string, uploadedAt time.Time) error {
	query := `
		UPDATE datasets
		SET external_handle = $1, handle_uploaded_at = $2
		WHERE id = $3
	`

	executor := GetExecutor(ctx, r.db)
	res, err := executor.ExecContext(ctx, query, handle, uploadedAt, id)
	if err != nil {
		return fmt.Errorf("failed to save external handle: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return repositories.ErrNotFound
	}

	return nil
}
