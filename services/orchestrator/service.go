// Package orchestrator drives one fairness computation run from audit
// configuration to persisted result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Franck-F/fairness-sub000/internal/observability"
	"github.com/Franck-F/fairness-sub000/models"
	"github.com/Franck-F/fairness-sub000/repositories"
	"github.com/Franck-F/fairness-sub000/services"
	"github.com/Franck-F/fairness-sub000/services/datasets"
	"github.com/Franck-F/fairness-sub000/services/engine"
	"github.com/Franck-F/fairness-sub000/services/normalizer"
	"github.com/Franck-F/fairness-sub000/services/runguard"
	"github.com/Franck-F/fairness-sub000/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTerminalTimeout = 10 * time.Second
	defaultRunEventLimit   = 50
)

// Service orchestrates the audit computation pipeline
type Service struct {
	audits    repositories.AuditRepository
	runEvents repositories.RunEventRepository
	uploader  DatasetUploader
	engine    Computer
	guard     runguard.Guard
	events    EventRecorder
	metrics   *observability.Metrics
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new orchestrator with all dependencies
func NewService(
	repos *repositories.Repositories,
	uploader DatasetUploader,
	computer Computer,
	guard runguard.Guard,
	events EventRecorder,
	metrics *observability.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if cfg.TerminalTimeout <= 0 {
		cfg.TerminalTimeout = defaultTerminalTimeout
	}
	return &Service{
		audits:    repos.Audits,
		runEvents: repos.RunEvents,
		uploader:  uploader,
		engine:    computer,
		guard:     guard,
		events:    events,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunComputation runs the fairness computation of an audit owned by callerID.
// It returns the normalized summary once the completed state is persisted.
func (s *Service) RunComputation(ctx context.Context, auditID, callerID uuid.UUID) (*RunSummary, error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger).With(zap.String("audit_id", auditID.String()))

	// Step 1: load and validate the configuration, nothing is mutated yet
	logger.Debug("step 1: loading audit configuration")
	cfg, err := s.loadConfig(ctx, auditID, callerID)
	if err != nil {
		if services.IsValidationError(err) {
			s.metrics.RunsTotal.WithLabelValues(observability.OutcomeValidation).Inc()
		}
		return nil, err
	}

	// Step 2: take the lease
	logger.Debug("step 2: acquiring run lease")
	lease, err := s.guard.Acquire(ctx, auditID.String())
	if err != nil {
		if errors.Is(err, runguard.ErrHeld) {
			s.conflict(ctx, auditID, "", "lease", logger)
			return nil, services.NewConflict("a computation run is already in progress for this audit", err)
		}
		logger.Error("failed to acquire run lease", zap.Error(err))
		return nil, services.NewUpstreamUnavailable("run coordination is unavailable", "check the lease store (Redis) connectivity and retry", err)
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			logger.Warn("failed to release run lease", zap.Error(err))
		}
	}()

	token := lease.Token
	logger = logger.With(zap.String("run_token", token))

	// Step 3: reset the audit under our stamp
	logger.Debug("step 3: resetting audit to processing")
	if _, err := s.audits.BeginRun(ctx, repositories.BeginRunParams{
		AuditID:    auditID,
		OwnerID:    callerID,
		RunToken:   token,
		StartedAt:  s.now(),
		StaleAfter: s.cfg.StaleAfter,
	}); err != nil {
		switch {
		case errors.Is(err, repositories.ErrRunInProgress):
			s.conflict(ctx, auditID, token, "stamp", logger)
			return nil, services.NewConflict("a computation run is already in progress for this audit", err)
		case errors.Is(err, repositories.ErrNotFound):
			return nil, services.NewNotFound("audit")
		}
		logger.Error("failed to begin run", zap.Error(err))
		return nil, services.WrapInternal("failed to start computation run", err)
	}

	s.record(ctx, models.NewRunEvent(auditID, token, models.RunEventStarted, "computation run started").
		WithDetails(map[string]interface{}{
			"dataset_id":      cfg.DatasetID,
			"dataset_id_post": cfg.DatasetIDPost,
			"target_column":   cfg.TargetColumn,
		}))
	logger.Info("computation run started", zap.Bool("comparison", cfg.DatasetIDPost != nil))

	// Steps 4 and 5: upload both datasets concurrently
	logger.Debug("step 4: uploading datasets")
	handles, err := s.uploadDatasets(ctx, cfg)
	if err != nil {
		return nil, s.abort(ctx, auditID, token, start, fmt.Sprintf("primary dataset upload failed: %v", err), uploadFailure(err), logger)
	}
	if handles.secondaryErr != nil {
		logger.Warn("secondary dataset skipped, continuing in single-dataset mode", zap.Error(handles.secondaryErr))
		s.record(ctx, models.NewRunEvent(auditID, token, models.RunEventSecondarySkipped, "secondary dataset upload failed; comparison skipped").
			WithDetails(map[string]interface{}{
				"dataset_id": cfg.DatasetIDPost,
				"error":      handles.secondaryErr.Error(),
			}))
	}

	// Step 6: compute
	logger.Debug("step 6: requesting computation")
	raw, err := s.engine.Compute(ctx, &engine.ComputeRequest{
		PrimaryHandle:       handles.primary,
		SecondaryHandle:     handles.secondary,
		TargetColumn:        cfg.TargetColumn,
		SensitiveAttributes: cfg.SensitiveAttributes,
		FavorableOutcome:    cfg.FavorableOutcome,
		ModelType:           cfg.ModelType,
		IAType:              cfg.IAType,
	})
	if err != nil {
		return nil, s.abort(ctx, auditID, token, start, fmt.Sprintf("computation failed: %v", err), computeFailure(err), logger)
	}

	// Step 7: normalize and persist
	logger.Debug("step 7: normalizing engine output")
	result, err := normalizer.Normalize(raw, normalizer.Options{SecondaryProcessed: handles.secondary != nil})
	if err != nil {
		return nil, s.abort(ctx, auditID, token, start, fmt.Sprintf("engine output could not be normalized: %v", err),
			services.NewUpstreamUnavailable("analytics engine returned malformed output", "the analytics engine response was incomplete; retry later or check the engine version", err), logger)
	}
	if len(result.Warnings) > 0 {
		s.metrics.NormalizationWarnings.Add(float64(len(result.Warnings)))
		logger.Warn("engine output normalized with warnings", zap.Strings("warnings", result.Warnings))
		s.record(ctx, models.NewRunEvent(auditID, token, models.RunEventNormalizationWarning, "engine output normalized with warnings").
			WithDetails(map[string]interface{}{"warnings": result.Warnings}))
	}

	completedAt := s.now()
	if err := s.completeRun(ctx, auditID, token, result, completedAt); err != nil {
		if errors.Is(err, repositories.ErrStaleRun) {
			s.conflict(ctx, auditID, token, "stamp", logger)
			s.observeRun(observability.OutcomeConflict, start)
			return nil, services.NewConflict("the computation run was superseded by a newer run", err)
		}
		logger.Error("failed to persist run result", zap.Error(err))
		return nil, s.abort(ctx, auditID, token, start, fmt.Sprintf("failed to persist result: %v", err),
			services.WrapInternal("failed to persist computation result", err), logger)
	}

	s.observeRun(observability.OutcomeCompleted, start)
	s.record(ctx, models.NewRunEvent(auditID, token, models.RunEventCompleted, "computation run completed").
		WithDetails(map[string]interface{}{
			"overall_score":       result.OverallScore,
			"risk_level":          result.RiskLevel,
			"critical_bias_count": result.CriticalBiasCount,
			"comparison":          result.ComparisonResults != nil,
		}))
	logger.Info("computation run completed",
		zap.Int("overall_score", result.OverallScore),
		zap.String("risk_level", string(result.RiskLevel)),
		zap.Duration("elapsed", time.Since(start)))

	return newRunSummary(auditID, result, completedAt), nil
}

// GetAudit returns an audit owned by callerID
func (s *Service) GetAudit(ctx context.Context, auditID, callerID uuid.UUID) (*models.Audit, error) {
	audit, err := s.audits.GetByIDForOwner(ctx, auditID, callerID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewNotFound("audit")
		}
		return nil, services.WrapInternal("failed to load audit", err)
	}
	return audit, nil
}

// ListRunEvents returns the most recent run events of an audit owned by callerID
func (s *Service) ListRunEvents(ctx context.Context, auditID, callerID uuid.UUID, limit int) ([]*models.RunEvent, error) {
	if _, err := s.GetAudit(ctx, auditID, callerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRunEventLimit
	}
	events, err := s.runEvents.ListByAudit(ctx, auditID, limit)
	if err != nil {
		return nil, services.WrapInternal("failed to list run events", err)
	}
	return events, nil
}

func (s *Service) loadConfig(ctx context.Context, auditID, callerID uuid.UUID) (models.AuditConfig, error) {
	if auditID == uuid.Nil {
		return models.AuditConfig{}, services.NewValidation("audit id is required", map[string]string{"audit_id": "audit_id is required"})
	}

	audit, err := s.GetAudit(ctx, auditID, callerID)
	if err != nil {
		return models.AuditConfig{}, err
	}

	cfg := audit.Config()
	if err := utils.ValidateStruct(&cfg); err != nil {
		return models.AuditConfig{}, services.NewValidation("audit configuration is incomplete", utils.GetValidationFields(err))
	}
	return cfg, nil
}

// uploadDatasets uploads the primary and optional secondary datasets.
// A primary failure cancels the secondary; a secondary failure is only recorded.
func (s *Service) uploadDatasets(ctx context.Context, cfg models.AuditConfig) (*uploads, error) {
	out := &uploads{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		handle, err := s.uploader.Upload(gctx, &cfg.DatasetID, cfg.OwnerID)
		if err == nil && handle == nil {
			err = errors.New("no engine handle returned")
		}
		if err != nil {
			s.metrics.UploadsTotal.WithLabelValues(RolePrimary, observability.OutcomeError).Inc()
			return err
		}
		s.metrics.UploadsTotal.WithLabelValues(RolePrimary, observability.OutcomeSuccess).Inc()
		out.primary = *handle
		return nil
	})

	if cfg.DatasetIDPost != nil {
		g.Go(func() error {
			handle, err := s.uploader.Upload(gctx, cfg.DatasetIDPost, cfg.OwnerID)
			if err == nil && handle == nil {
				err = errors.New("no engine handle returned")
			}
			if err != nil {
				s.metrics.UploadsTotal.WithLabelValues(RoleSecondary, observability.OutcomeError).Inc()
				out.secondaryErr = err
				return nil
			}
			s.metrics.UploadsTotal.WithLabelValues(RoleSecondary, observability.OutcomeSuccess).Inc()
			out.secondary = handle
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// abort marks the run failed and returns the error for the caller.
// A superseded stamp turns the error into a conflict.
func (s *Service) abort(ctx context.Context, auditID uuid.UUID, token string, start time.Time, reason string, cause error, logger *zap.Logger) error {
	logger.Error("computation run failed", zap.String("reason", reason), zap.Error(cause))

	err := s.failRun(ctx, auditID, token, reason)
	switch {
	case errors.Is(err, repositories.ErrStaleRun):
		logger.Warn("failed state not written, run was superseded")
		s.conflict(ctx, auditID, token, "stamp", logger)
		s.observeRun(observability.OutcomeConflict, start)
		return services.NewConflict("the computation run was superseded by a newer run", err)
	case err != nil:
		logger.Error("failed to persist failed state", zap.Error(err))
	}

	s.observeRun(observability.OutcomeFailed, start)
	s.record(ctx, models.NewRunEvent(auditID, token, models.RunEventFailed, reason))
	return cause
}

// completeRun and failRun outlive the caller's context
func (s *Service) completeRun(ctx context.Context, auditID uuid.UUID, token string, result *models.AuditResult, completedAt time.Time) error {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TerminalTimeout)
	defer cancel()
	return s.audits.CompleteRun(tctx, auditID, token, result, completedAt)
}

func (s *Service) failRun(ctx context.Context, auditID uuid.UUID, token, reason string) error {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TerminalTimeout)
	defer cancel()
	return s.audits.FailRun(tctx, auditID, token, reason, s.now())
}

func (s *Service) conflict(ctx context.Context, auditID uuid.UUID, token, layer string, logger *zap.Logger) {
	s.metrics.GuardConflicts.WithLabelValues(layer).Inc()
	s.metrics.RunsTotal.WithLabelValues(observability.OutcomeConflict).Inc()
	logger.Info("computation run refused, another run holds the audit", zap.String("layer", layer))
	s.record(ctx, models.NewRunEvent(auditID, token, models.RunEventConflict, "another run holds the audit").
		WithDetails(map[string]string{"layer": layer}))
}

func (s *Service) observeRun(outcome string, start time.Time) {
	if outcome != observability.OutcomeConflict {
		s.metrics.RunsTotal.WithLabelValues(outcome).Inc()
	}
	s.metrics.RunDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func (s *Service) record(ctx context.Context, event *models.RunEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(event.WithRequest(observability.RequestID(ctx))); err != nil {
		s.logger.Debug("run event not recorded",
			zap.String("audit_id", event.AuditID.String()),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}

func uploadFailure(err error) error {
	if engine.IsRejected(err) {
		return engineRejected("analytics engine rejected the primary dataset",
			"check that the dataset file is a supported format and is not empty", err)
	}

	switch {
	case errors.Is(err, datasets.ErrDatasetNotFound):
		return services.NewUpstreamUnavailable("primary dataset could not be loaded",
			"the dataset referenced by this audit no longer exists; attach a new dataset", err)
	case errors.Is(err, datasets.ErrObjectMissing):
		return services.NewUpstreamUnavailable("primary dataset file is missing from storage",
			"re-upload the dataset file and retry", err)
	case errors.Is(err, datasets.ErrDatasetTooLarge):
		return services.NewUpstreamUnavailable("primary dataset is too large to upload",
			"reduce the dataset size or raise ENGINE_MAX_DATASET_BYTES", err)
	case errors.Is(err, datasets.ErrDatasetEmpty), errors.Is(err, engine.ErrEmptyUpload):
		return services.NewUpstreamUnavailable("primary dataset file is empty",
			"re-upload the dataset file with its rows and retry", err)
	case engine.IsUnavailable(err):
		return services.NewUpstreamUnavailable("analytics engine unavailable during dataset upload",
			"the analytics engine is unreachable or timed out; retry later", err)
	}
	return services.NewUpstreamUnavailable("primary dataset could not be uploaded to the analytics engine",
		"dataset storage or the analytics engine is unreachable; retry later", err)
}

func computeFailure(err error) error {
	if engine.IsRejected(err) {
		return engineRejected("analytics engine rejected the computation",
			"check the target column, sensitive attributes and favorable outcome of the audit", err)
	}
	return services.NewUpstreamUnavailable("analytics engine unavailable",
		"the analytics engine is unreachable, timed out or returned an invalid response; retry later", err)
}

func engineRejected(message, hint string, err error) error {
	domainErr := services.NewUpstreamRejected(message, hint, err)
	if engineErr, ok := engine.AsError(err); ok && engineErr.Message != "" {
		domainErr.WithDetail("engine_message", engineErr.Message)
	}
	return domainErr
}
