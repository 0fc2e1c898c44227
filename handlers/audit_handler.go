package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Franck-F/fairness-sub000/middleware"
	"github.com/Franck-F/fairness-sub000/models"
	"github.com/Franck-F/fairness-sub000/services"
	"github.com/Franck-F/fairness-sub000/services/orchestrator"
	"github.com/Franck-F/fairness-sub000/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxRunEventLimit = 200

// AuditService defines the audit operations exposed over HTTP
type AuditService interface {
	// RunComputation runs the fairness computation for an audit owned by callerID
	RunComputation(ctx context.Context, auditID, callerID uuid.UUID) (*orchestrator.RunSummary, error)

	// GetAudit returns an audit owned by callerID
	GetAudit(ctx context.Context, auditID, callerID uuid.UUID) (*models.Audit, error)

	// ListRunEvents returns the newest run events of an audit owned by callerID
	ListRunEvents(ctx context.Context, auditID, callerID uuid.UUID, limit int) ([]*models.RunEvent, error)
}

// AuditHandler handles audit-related HTTP requests
type AuditHandler struct {
	service AuditService
	logger  *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(service AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		service: service,
		logger:  logger,
	}
}

// HandleCompute handles POST /audits/{id}/compute
func (h *AuditHandler) HandleCompute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	auditID, callerID, ok := h.resolve(w, r)
	if !ok {
		return
	}

	summary, err := h.service.RunComputation(ctx, auditID, callerID)
	if err != nil {
		h.logger.Info("computation request failed",
			zap.String("request_id", requestID),
			zap.String("audit_id", auditID.String()),
			zap.String("error_type", string(services.GetErrorType(err))))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, summary); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// HandleGet handles GET /audits/{id}
func (h *AuditHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	auditID, callerID, ok := h.resolve(w, r)
	if !ok {
		return
	}

	audit, err := h.service.GetAudit(r.Context(), auditID, callerID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, audit); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleListEvents handles GET /audits/{id}/events
func (h *AuditHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	auditID, callerID, ok := h.resolve(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = utils.WriteBadRequest(w, "Invalid limit", map[string]interface{}{
				"limit": "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxRunEventLimit)
	}

	events, err := h.service.ListRunEvents(r.Context(), auditID, callerID, limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if events == nil {
		events = []*models.RunEvent{}
	}

	if err := utils.WriteOK(w, events); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// resolve reads the audit id path parameter and the authenticated caller
func (h *AuditHandler) resolve(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	callerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return uuid.Nil, uuid.Nil, false
	}

	auditID, err := utils.ParseUUID(chi.URLParam(r, "id"), "audit_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return uuid.Nil, uuid.Nil, false
	}

	return auditID, callerID, true
}
