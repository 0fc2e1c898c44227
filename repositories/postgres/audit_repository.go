package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Franck-F/fairness-sub000/models"
	"github.com/Franck-F/fairness-sub000/repositories"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const auditColumns = `
	id, owner_id, name, status, dataset_id, dataset_id_post, target_column,
	sensitive_attributes, favorable_outcome, model_type, ia_type,
	overall_score, risk_level, bias_detected, critical_bias_count,
	metrics_results, comparison_results, recommendations, warnings,
	run_token, run_started_at, failure_reason, created_at, updated_at, completed_at
`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	txm    repositories.TransactionManager
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, txm repositories.TransactionManager, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		txm:    txm,
		logger: logger,
	}
}

// Create inserts a new pending audit
func (r *AuditRepository) Create(ctx context.Context, audit *models.Audit) error {
	query := `
		INSERT INTO audits (
			id, owner_id, name, status, dataset_id, dataset_id_post, target_column,
			sensitive_attributes, favorable_outcome, model_type, ia_type, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		audit.ID,
		audit.OwnerID,
		audit.Name,
		audit.Status,
		audit.DatasetID,
		audit.DatasetIDPost,
		audit.TargetColumn,
		pq.Array(audit.SensitiveAttributes),
		audit.FavorableOutcome,
		audit.ModelType,
		audit.IAType,
		audit.CreatedAt,
		audit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit: %w", err)
	}

	r.logger.Debug("audit created", zap.String("audit_id", audit.ID.String()))
	return nil
}

// GetByIDForOwner loads an audit scoped to its owner
func (r *AuditRepository) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Audit, error) {
	query := `SELECT ` + auditColumns + ` FROM audits WHERE id = $1 AND owner_id = $2`

	executor := GetExecutor(ctx, r.db)
	audit, err := scanAudit(executor.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get audit: %w", err)
	}

	return audit, nil
}

// BeginRun locks the audit row, checks the run stamp and resets the audit to processing
func (r *AuditRepository) BeginRun(ctx context.Context, params repositories.BeginRunParams) (*models.Audit, error) {
	var audit *models.Audit

	err := r.txm.InTransaction(ctx, runTxOptions, func(txCtx context.Context) error {
		query := `SELECT ` + auditColumns + ` FROM audits WHERE id = $1 AND owner_id = $2 FOR UPDATE`
		current, err := scanAudit(GetExecutor(txCtx, r.db).QueryRowContext(txCtx, query, params.AuditID, params.OwnerID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repositories.ErrNotFound
			}
			return fmt.Errorf("failed to lock audit: %w", err)
		}

		if holdsLiveStamp(current, params) {
			return repositories.ErrRunInProgress
		}

		current.ResetForRun(params.RunToken, params.StartedAt)
		if err := r.writeRunState(txCtx, current); err != nil {
			return fmt.Errorf("failed to reset audit: %w", err)
		}

		audit = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("audit run started",
		zap.String("audit_id", params.AuditID.String()),
		zap.String("run_token", params.RunToken))
	return audit, nil
}

// holdsLiveStamp reports whether another run still owns the audit
func holdsLiveStamp(audit *models.Audit, params repositories.BeginRunParams) bool {
	if audit.Status != models.AuditStatusProcessing || audit.RunToken == nil || *audit.RunToken == "" {
		return false
	}
	if *audit.RunToken == params.RunToken {
		return false
	}
	if params.StaleAfter > 0 && audit.RunStartedAt != nil && params.StartedAt.Sub(*audit.RunStartedAt) >= params.StaleAfter {
		return false
	}
	return true
}

// CompleteRun applies the result to the locked audit and writes it when the run stamp still matches
func (r *AuditRepository) CompleteRun(ctx context.Context, auditID uuid.UUID, runToken string, result *models.AuditResult, completedAt time.Time) error {
	err := r.inRun(ctx, auditID, runToken, func(txCtx context.Context, audit *models.Audit) error {
		if err := audit.MarkAsCompleted(result, completedAt); err != nil {
			return err
		}
		if err := r.writeRunState(txCtx, audit); err != nil {
			return fmt.Errorf("failed to complete audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("audit run completed", zap.String("audit_id", auditID.String()))
	return nil
}

// FailRun clears the result group of the locked audit and marks it failed when the run stamp still matches
func (r *AuditRepository) FailRun(ctx context.Context, auditID uuid.UUID, runToken, reason string, failedAt time.Time) error {
	err := r.inRun(ctx, auditID, runToken, func(txCtx context.Context, audit *models.Audit) error {
		audit.MarkAsFailed(reason, failedAt)
		if err := r.writeRunState(txCtx, audit); err != nil {
			return fmt.Errorf("failed to mark audit failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("audit run failed", zap.String("audit_id", auditID.String()), zap.String("reason", reason))
	return nil
}

// inRun locks the audit and calls fn while runToken still owns the processing run.
// A missing row, another token or a terminal status all yield ErrStaleRun.
func (r *AuditRepository) inRun(ctx context.Context, auditID uuid.UUID, runToken string, fn func(txCtx context.Context, audit *models.Audit) error) error {
	return r.txm.InTransaction(ctx, runTxOptions, func(txCtx context.Context) error {
		query := `SELECT ` + auditColumns + ` FROM audits WHERE id = $1 FOR UPDATE`
		audit, err := scanAudit(GetExecutor(txCtx, r.db).QueryRowContext(txCtx, query, auditID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repositories.ErrStaleRun
			}
			return fmt.Errorf("failed to lock audit: %w", err)
		}

		if audit.Status != models.AuditStatusProcessing || audit.RunToken == nil || *audit.RunToken != runToken {
			return repositories.ErrStaleRun
		}
		return fn(txCtx, audit)
	})
}

// writeRunState persists the status, stamp and result group of an audit
func (r *AuditRepository) writeRunState(ctx context.Context, audit *models.Audit) error {
	metrics, err := jsonColumn(audit.MetricsResults, audit.MetricsResults != nil)
	if err != nil {
		return fmt.Errorf("failed to encode metrics results: %w", err)
	}
	recs, err := jsonColumn(audit.Recommendations, audit.Recommendations != nil)
	if err != nil {
		return fmt.Errorf("failed to encode recommendations: %w", err)
	}
	warnings, err := jsonColumn(audit.Warnings, len(audit.Warnings) > 0)
	if err != nil {
		return fmt.Errorf("failed to encode warnings: %w", err)
	}
	var comparison interface{}
	if len(audit.ComparisonResults) > 0 {
		comparison = string(audit.ComparisonResults)
	}

	query := `
		UPDATE audits SET
			status = $1,
			overall_score = $2,
			risk_level = $3,
			bias_detected = $4,
			critical_bias_count = $5,
			metrics_results = $6,
			comparison_results = $7,
			recommendations = $8,
			warnings = $9,
			failure_reason = $10,
			run_token = $11,
			run_started_at = $12,
			completed_at = $13,
			updated_at = $14
		WHERE id = $15
	`

	_, err = GetExecutor(ctx, r.db).ExecContext(ctx, query,
		audit.Status,
		audit.OverallScore,
		audit.RiskLevel,
		audit.BiasDetected,
		audit.CriticalBiasCount,
		metrics,
		comparison,
		recs,
		warnings,
		audit.FailureReason,
		audit.RunToken,
		audit.RunStartedAt,
		audit.CompletedAt,
		audit.UpdatedAt,
		audit.ID,
	)
	return err
}

// jsonColumn encodes v for a JSONB column, or NULL when absent
func jsonColumn(v interface{}, present bool) (interface{}, error) {
	if !present {
		return nil, nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAudit(row rowScanner) (*models.Audit, error) {
	audit := &models.Audit{}
	var metrics, comparison, recs, warnings []byte

	err := row.Scan(
		&audit.ID,
		&audit.OwnerID,
		&audit.Name,
		&audit.Status,
		&audit.DatasetID,
		&audit.DatasetIDPost,
		&audit.TargetColumn,
		pq.Array(&audit.SensitiveAttributes),
		&audit.FavorableOutcome,
		&audit.ModelType,
		&audit.IAType,
		&audit.OverallScore,
		&audit.RiskLevel,
		&audit.BiasDetected,
		&audit.CriticalBiasCount,
		&metrics,
		&comparison,
		&recs,
		&warnings,
		&audit.RunToken,
		&audit.RunStartedAt,
		&audit.FailureReason,
		&audit.CreatedAt,
		&audit.UpdatedAt,
		&audit.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &audit.MetricsResults); err != nil {
			return nil, fmt.Errorf("failed to decode metrics_results: %w", err)
		}
	}
	if len(comparison) > 0 {
		audit.ComparisonResults = json.RawMessage(comparison)
	}
	if len(recs) > 0 {
		if err := json.Unmarshal(recs, &audit.Recommendations); err != nil {
			return nil, fmt.Errorf("failed to decode recommendations: %w", err)
		}
	}
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &audit.Warnings); err != nil {
			return nil, fmt.Errorf("failed to decode warnings: %w", err)
		}
	}

	return audit, nil
}
