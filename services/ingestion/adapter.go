package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/Franck-F/fairness-sub000/repositories"
	"github.com/Franck-F/fairness-sub000/services/datasets"
	"github.com/Franck-F/fairness-sub000/services/engine"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Materializer loads dataset bytes for an owner
type Materializer interface {
	Materialize(ctx context.Context, datasetID, ownerID uuid.UUID) (*datasets.Payload, error)
}

// Uploader sends dataset bytes to the engine
type Uploader interface {
	UploadDataset(ctx context.Context, req *engine.UploadRequest) (string, error)
}

// Adapter turns a dataset id into an engine handle
type Adapter struct {
	materializer Materializer
	uploader     Uploader
	datasets     repositories.DatasetRepository
	reuseTTL     time.Duration
	group        singleflight.Group
	logger       *zap.Logger
	now          func() time.Time
}

// NewAdapter creates a new ingestion adapter. A reuseTTL of 0 always uploads.
func NewAdapter(materializer Materializer, uploader Uploader, datasets repositories.DatasetRepository, reuseTTL time.Duration, logger *zap.Logger) *Adapter {
	return &Adapter{
		materializer: materializer,
		uploader:     uploader,
		datasets:     datasets,
		reuseTTL:     reuseTTL,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Upload returns the engine handle of a dataset.
// A nil datasetID yields (nil, nil). Failures yield (nil, err) and are logged;
// the caller decides whether they are fatal.
func (a *Adapter) Upload(ctx context.Context, datasetID *uuid.UUID, ownerID uuid.UUID) (*string, error) {
	if datasetID == nil || *datasetID == uuid.Nil {
		return nil, nil
	}
	id := *datasetID

	key := id.String() + "/" + ownerID.String()
	ch := a.group.DoChan(key, func() (interface{}, error) {
		// detached from the first caller; each waiter honours its own ctx
		return a.upload(context.WithoutCancel(ctx), id, ownerID)
	})

	select {
	case <-ctx.Done():
		a.logger.Warn("dataset upload abandoned",
			zap.String("dataset_id", id.String()),
			zap.Error(ctx.Err()))
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			a.logger.Warn("dataset upload failed",
				zap.String("dataset_id", id.String()),
				zap.Bool("shared", res.Shared),
				zap.Error(res.Err))
			return nil, res.Err
		}
		handle := res.Val.(string)
		return &handle, nil
	}
}

func (a *Adapter) upload(ctx context.Context, datasetID, ownerID uuid.UUID) (string, error) {
	if handle, ok := a.cachedHandle(ctx, datasetID, ownerID); ok {
		return handle, nil
	}

	payload, err := a.materializer.Materialize(ctx, datasetID, ownerID)
	if err != nil {
		return "", fmt.Errorf("materialize dataset %s: %w", datasetID, err)
	}

	handle, err := a.uploader.UploadDataset(ctx, &engine.UploadRequest{
		Name:        payload.Filename,
		Filename:    payload.Filename,
		ContentType: payload.ContentType,
		Data:        payload.Data,
	})
	if err != nil {
		return "", fmt.Errorf("upload dataset %s: %w", datasetID, err)
	}

	if err := a.datasets.SaveExternalHandle(ctx, datasetID, handle, a.now()); err != nil {
		a.logger.Warn("failed to cache engine handle",
			zap.String("dataset_id", datasetID.String()),
			zap.Error(err))
	}

	a.logger.Debug("dataset uploaded",
		zap.String("dataset_id", datasetID.String()),
		zap.Int64("size", payload.Size))
	return handle, nil
}

func (a *Adapter) cachedHandle(ctx context.Context, datasetID, ownerID uuid.UUID) (string, bool) {
	if a.reuseTTL <= 0 {
		return "", false
	}

	dataset, err := a.datasets.GetByIDForOwner(ctx, datasetID, ownerID)
	if err != nil {
		// the materializer reports the real failure
		return "", false
	}

	handle, ok := dataset.CachedHandle(a.now(), a.reuseTTL)
	if ok {
		a.logger.Debug("reusing cached engine handle", zap.String("dataset_id", datasetID.String()))
	}
	return handle, ok
}
