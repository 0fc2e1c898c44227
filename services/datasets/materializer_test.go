package datasets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Franck-F/fairness-sub000/models"
	"github.com/Franck-F/fairness-sub000/repositories"
	"github.com/Franck-F/fairness-sub000/repositories/mocks"
	"github.com/Franck-F/fairness-sub000/services/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T, maxBytes int64) (*Materializer, *mocks.DatasetRepository, *storage.FileStore) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	repo := new(mocks.DatasetRepository)
	return NewMaterializer(repo, store, maxBytes, zap.NewNop()), repo, store
}

func storeObject(t *testing.T, store *storage.FileStore, key, data string) {
	t.Helper()
	path := filepath.Join(store.Root(), filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
}

func TestMaterializer_Materialize(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()

	t.Run("reads the stored object", func(t *testing.T) {
		m, repo, store := setup(t, 1024)
		dataset := models.NewDataset(owner, "o/loans.csv", "loans.csv")
		dataset.ContentType = "text/csv"
		storeObject(t, store, dataset.StorageKey, "a,b\n1,2\n")

		repo.On("GetByIDForOwner", mock.Anything, dataset.ID, owner).Return(dataset, nil)

		payload, err := m.Materialize(ctx, dataset.ID, owner)
		require.NoError(t, err)
		assert.Equal(t, dataset.ID, payload.DatasetID)
		assert.Equal(t, "loans.csv", payload.Filename)
		assert.Equal(t, "text/csv", payload.ContentType)
		assert.Equal(t, []byte("a,b\n1,2\n"), payload.Data)
		assert.Equal(t, int64(8), payload.Size)
	})

	t.Run("content type follows the storage key when no filename was recorded", func(t *testing.T) {
		m, repo, store := setup(t, 0)
		dataset := models.NewDataset(owner, "o/rows.json", "")
		storeObject(t, store, dataset.StorageKey, "[]")

		repo.On("GetByIDForOwner", mock.Anything, dataset.ID, owner).Return(dataset, nil)

		payload, err := m.Materialize(ctx, dataset.ID, owner)
		require.NoError(t, err)
		assert.Equal(t, "rows.json", payload.Filename)
		assert.Equal(t, "application/json", payload.ContentType)
	})

	t.Run("record missing or not owned", func(t *testing.T) {
		m, repo, _ := setup(t, 0)
		id := uuid.New()
		repo.On("GetByIDForOwner", mock.Anything, id, owner).Return(nil, repositories.ErrNotFound)

		_, err := m.Materialize(ctx, id, owner)
		assert.ErrorIs(t, err, ErrDatasetNotFound)
	})

	t.Run("repository failure is wrapped", func(t *testing.T) {
		m, repo, _ := setup(t, 0)
		id := uuid.New()
		boom := errors.New("db down")
		repo.On("GetByIDForOwner", mock.Anything, id, owner).Return(nil, boom)

		_, err := m.Materialize(ctx, id, owner)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrDatasetNotFound)
	})

	t.Run("object missing from storage", func(t *testing.T) {
		m, repo, _ := setup(t, 0)
		dataset := models.NewDataset(owner, "o/gone.csv", "gone.csv")
		repo.On("GetByIDForOwner", mock.Anything, dataset.ID, owner).Return(dataset, nil)

		_, err := m.Materialize(ctx, dataset.ID, owner)
		assert.ErrorIs(t, err, ErrObjectMissing)
	})

	t.Run("object over the limit", func(t *testing.T) {
		m, repo, store := setup(t, 4)
		dataset := models.NewDataset(owner, "o/big.csv", "big.csv")
		storeObject(t, store, dataset.StorageKey, "0123456789")
		repo.On("GetByIDForOwner", mock.Anything, dataset.ID, owner).Return(dataset, nil)

		_, err := m.Materialize(ctx, dataset.ID, owner)
		assert.ErrorIs(t, err, ErrDatasetTooLarge)
	})

	t.Run("empty object is refused before upload", func(t *testing.T) {
		m, repo, store := setup(t, 1024)
		dataset := models.NewDataset(owner, "o/empty.csv", "empty.csv")
		storeObject(t, store, dataset.StorageKey, "")
		repo.On("GetByIDForOwner", mock.Anything, dataset.ID, owner).Return(dataset, nil)

		payload, err := m.Materialize(ctx, dataset.ID, owner)
		assert.ErrorIs(t, err, ErrDatasetEmpty)
		assert.Nil(t, payload)
	})
}
