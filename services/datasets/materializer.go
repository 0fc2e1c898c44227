package datasets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/Franck-F/fairness-sub000/repositories"
	"github.com/Franck-F/fairness-sub000/services/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDatasetNotFound is returned when the dataset record is missing or owned by someone else
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrObjectMissing is returned when the record exists but its bytes do not
	ErrObjectMissing = errors.New("dataset object missing from storage")

	// ErrDatasetTooLarge is returned when the object exceeds the configured limit
	ErrDatasetTooLarge = errors.New("dataset exceeds size limit")

	// ErrDatasetEmpty is returned when the stored object has no content
	ErrDatasetEmpty = errors.New("dataset is empty")
)

const defaultContentType = "application/octet-stream"

// Payload is the in-memory content of a dataset ready for upload
type Payload struct {
	DatasetID   uuid.UUID
	Filename    string
	ContentType string
	Data        []byte
	Size        int64
}

// Materializer loads dataset bytes from object storage
type Materializer struct {
	datasets repositories.DatasetRepository
	store    storage.ObjectStore
	maxBytes int64
	logger   *zap.Logger
}

// NewMaterializer creates a new materializer. A non-positive maxBytes disables the limit.
func NewMaterializer(datasets repositories.DatasetRepository, store storage.ObjectStore, maxBytes int64, logger *zap.Logger) *Materializer {
	return &Materializer{
		datasets: datasets,
		store:    store,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Materialize reads the dataset record and its object stream for an owner
func (m *Materializer) Materialize(ctx context.Context, datasetID, ownerID uuid.UUID) (*Payload, error) {
	dataset, err := m.datasets.GetByIDForOwner(ctx, datasetID, ownerID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, datasetID)
		}
		return nil, fmt.Errorf("failed to load dataset %s: %w", datasetID, err)
	}

	obj, err := m.store.Open(ctx, dataset.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			return nil, fmt.Errorf("%w: %s", ErrObjectMissing, datasetID)
		}
		return nil, fmt.Errorf("failed to open dataset %s: %w", datasetID, err)
	}
	defer obj.Body.Close()

	if m.maxBytes > 0 && obj.Size > m.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrDatasetTooLarge, obj.Size, m.maxBytes)
	}

	reader := io.Reader(obj.Body)
	if m.maxBytes > 0 {
		// one extra byte detects objects that grew past the limit while reading
		reader = io.LimitReader(obj.Body, m.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", datasetID, err)
	}
	if m.maxBytes > 0 && int64(len(data)) > m.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrDatasetTooLarge, m.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDatasetEmpty, datasetID)
	}

	name := filename(dataset.OriginalFilename, dataset.StorageKey)
	payload := &Payload{
		DatasetID:   dataset.ID,
		Filename:    name,
		ContentType: contentType(dataset.ContentType, name),
		Data:        data,
		Size:        int64(len(data)),
	}

	m.logger.Debug("dataset materialized",
		zap.String("dataset_id", datasetID.String()),
		zap.Int64("size", payload.Size))
	return payload, nil
}

func filename(original, key string) string {
	if original != "" {
		return filepath.Base(original)
	}
	return filepath.Base(key)
}

func contentType(stored, name string) string {
	if stored != "" {
		return stored
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return defaultContentType
}
