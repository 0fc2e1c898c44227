package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Franck-F/fairness-sub000/models"
	"github.com/Franck-F/fairness-sub000/repositories"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var datasetColumns = []string{
	"id", "owner_id", "storage_key", "original_filename", "content_type", "size_bytes",
	"external_handle", "handle_uploaded_at", "created_at",
}

func TestDatasetRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDatasetRepository(db, zap.NewNop())

	dataset := models.NewDataset(uuid.New(), "owner/loans.csv", "loans.csv")
	dataset.ContentType = "text/csv"
	dataset.SizeBytes = 2048

	mock.ExpectExec("INSERT INTO datasets").
		WithArgs(dataset.ID, dataset.OwnerID, "owner/loans.csv", "loans.csv", "text/csv", int64(2048), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), dataset))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasetRepository_GetByIDForOwner(t *testing.T) {
	t.Run("scans the cached handle", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDatasetRepository(db, zap.NewNop())

		id, owner := uuid.New(), uuid.New()
		uploadedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		mock.ExpectQuery("SELECT .+ FROM datasets").
			WithArgs(id, owner).
			WillReturnRows(sqlmock.NewRows(datasetColumns).AddRow(
				id.String(), owner.String(), "k", "loans.csv", "text/csv", int64(10),
				"eng-42", uploadedAt, uploadedAt,
			))

		got, err := repo.GetByIDForOwner(context.Background(), id, owner)
		require.NoError(t, err)
		require.NotNil(t, got.ExternalHandle)
		assert.Equal(t, "eng-42", *got.ExternalHandle)
		assert.Equal(t, uploadedAt, *got.HandleUploadedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not owned is not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDatasetRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT .+ FROM datasets").WillReturnRows(sqlmock.NewRows(datasetColumns))

		_, err := repo.GetByIDForOwner(context.Background(), uuid.New(), uuid.New())
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestDatasetRepository_SaveExternalHandle(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("updates the handle", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDatasetRepository(db, zap.NewNop())
		id := uuid.New()

		mock.ExpectExec("UPDATE datasets").
			WithArgs("eng-1", now, id).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.SaveExternalHandle(context.Background(), id, "eng-1", now))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing dataset", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDatasetRepository(db, zap.NewNop())

		mock.ExpectExec("UPDATE datasets").WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.SaveExternalHandle(context.Background(), uuid.New(), "eng-1", now)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestRunEventRepository(t *testing.T) {
	t.Run("insert encodes details", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewRunEventRepository(db, zap.NewNop())

		event := models.NewRunEvent(uuid.New(), "tok-1", models.RunEventFailed, "engine unavailable").
			WithDetails(map[string]string{"stage": "compute"}).
			WithRequest("req-1")

		mock.ExpectExec("INSERT INTO run_events").
			WithArgs(event.ID, event.AuditID, "tok-1", models.RunEventFailed, "engine unavailable",
				`{"stage":"compute"}`, "req-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Insert(context.Background(), event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list applies the default limit", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewRunEventRepository(db, zap.NewNop())
		auditID := uuid.New()
		created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		columns := []string{"id", "audit_id", "run_token", "kind", "message", "details", "request_id", "created_at"}
		mock.ExpectQuery("SELECT .+ FROM run_events").
			WithArgs(auditID, defaultRunEventLimit).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(uuid.NewString(), auditID.String(), "tok-2", "run_completed", "done", nil, "", created).
				AddRow(uuid.NewString(), auditID.String(), "tok-1", "run_failed", "boom", []byte(`{"stage":"compute"}`), "req-1", created.Add(-time.Hour)))

		events, err := repo.ListByAudit(context.Background(), auditID, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, models.RunEventCompleted, events[0].Kind)
		assert.Nil(t, events[0].Details)
		assert.JSONEq(t, `{"stage":"compute"}`, string(events[1].Details))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
