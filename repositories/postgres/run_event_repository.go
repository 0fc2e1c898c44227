package postgres

import (
	"context"
	"fmt"

	"github.com/Franck-F/fairness-sub000/models"
	"github.com/Franck-F/fairness-sub000/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultRunEventLimit caps ListByAudit when no limit is given
const defaultRunEventLimit = 50

// RunEventRepository implements the repositories.RunEventRepository interface
type RunEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRunEventRepository creates a new run event repository
func NewRunEventRepository(db *DB, logger *zap.Logger) repositories.RunEventRepository {
	return &RunEventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends a run event
func (r *RunEventRepository) Insert(ctx context.Context, event *models.RunEvent) error {
	query := `
		INSERT INTO run_events (
			id, audit_id, run_token, kind, message, details, request_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	var details interface{}
	if len(event.Details) > 0 {
		details = string(event.Details)
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.AuditID,
		event.RunToken,
		event.Kind,
		event.Message,
		details,
		event.RequestID,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run event: %w", err)
	}

	r.logger.Debug("run event inserted",
		zap.String("audit_id", event.AuditID.String()),
		zap.String("kind", string(event.Kind)))
	return nil
}

// ListByAudit returns the most recent events of an audit, newest first
func (r *RunEventRepository) ListByAudit(ctx context.Context, auditID uuid.UUID, limit int) ([]*models.RunEvent, error) {
	if limit <= 0 {
		limit = defaultRunEventLimit
	}

	query := `
		SELECT id, audit_id, run_token, kind, message, details, request_id, created_at
		FROM run_events
		WHERE audit_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, auditID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run events: %w", err)
	}
	defer rows.Close()

	var events []*models.RunEvent
	for rows.Next() {
		event := &models.RunEvent{}
		var details []byte
		if err := rows.Scan(
			&event.ID,
			&event.AuditID,
			&event.RunToken,
			&event.Kind,
			&event.Message,
			&details,
			&event.RequestID,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		if len(details) > 0 {
			event.Details = details
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run event rows: %w", err)
	}

	return events, nil
}
