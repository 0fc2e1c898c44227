package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Franck-F/fairness-sub000/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a row does not exist or is not owned by the caller
	ErrNotFound = errors.New("record not found")

	// ErrRunInProgress is returned when another live run stamp holds the audit
	ErrRunInProgress = errors.New("run in progress")

	// ErrStaleRun is returned when a terminal write no longer matches the run stamp
	ErrStaleRun = errors.New("run stamp superseded")
)

// TransactionManager runs repository work inside a database transaction
type TransactionManager interface {
	// InTransaction runs fn in a transaction opened with opts. It commits
	// when fn returns nil and rolls back otherwise.
	InTransaction(ctx context.Context, opts *sql.TxOptions, fn func(txCtx context.Context) error) error
}

// BeginRunParams describes the transition of an audit into processing
type BeginRunParams struct {
	AuditID    uuid.UUID
	OwnerID    uuid.UUID
	RunToken   string
	StartedAt  time.Time
	StaleAfter time.Duration // stamps older than this no longer block a new run
}

// AuditRepository is the durable store for audits.
// Every read and write is scoped by id and owner.
type AuditRepository interface {
	// Create inserts a new pending audit
	Create(ctx context.Context, audit *models.Audit) error

	// GetByIDForOwner loads an audit. Missing and not-owned both return ErrNotFound.
	GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Audit, error)

	// BeginRun resets the audit to processing, clears the result group and
	// writes the run stamp. Returns ErrRunInProgress if a live stamp exists.
	BeginRun(ctx context.Context, params BeginRunParams) (*models.Audit, error)

	// CompleteRun locks the audit, applies the result through the model and
	// writes the completed state when the stamp still matches. Returns
	// ErrStaleRun otherwise.
	CompleteRun(ctx context.Context, auditID uuid.UUID, runToken string, result *models.AuditResult, completedAt time.Time) error

	// FailRun locks the audit, clears the result group and marks it failed
	// when the stamp still matches. Returns ErrStaleRun otherwise.
	FailRun(ctx context.Context, auditID uuid.UUID, runToken, reason string, failedAt time.Time) error
}

// DatasetRepository handles dataset records
type DatasetRepository interface {
	// Create inserts a new dataset record
	Create(ctx context.Context, dataset *models.Dataset) error

	// GetByIDForOwner loads a dataset. Missing and not-owned both return ErrNotFound.
	GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Dataset, error)

	// SaveExternalHandle caches the engine handle of a dataset
	SaveExternalHandle(ctx context.Context, id uuid.UUID, handle string, uploadedAt time.Time) error
}

// RunEventRepository stores the run history of audits
type RunEventRepository interface {
	// Insert appends a run event
	Insert(ctx context.Context, event *models.RunEvent) error

	// ListByAudit returns the most recent events of an audit, newest first
	ListByAudit(ctx context.Context, auditID uuid.UUID, limit int) ([]*models.RunEvent, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Audits    AuditRepository
	Datasets  DatasetRepository
	RunEvents RunEventRepository
}
