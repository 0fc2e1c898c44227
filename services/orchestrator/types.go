package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Franck-F/fairness-sub000/models"
	"github.com/Franck-F/fairness-sub000/services/engine"
	"github.com/google/uuid"
)

// Upload roles used in logs, metrics and run events
const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"
)

// DatasetUploader turns a dataset id into an engine handle
type DatasetUploader interface {
	Upload(ctx context.Context, datasetID *uuid.UUID, ownerID uuid.UUID) (*string, error)
}

// Computer runs the fairness computation on uploaded datasets
type Computer interface {
	Compute(ctx context.Context, req *engine.ComputeRequest) (*engine.ComputeResponse, error)
}

// EventRecorder queues run events for persistence
type EventRecorder interface {
	Record(event *models.RunEvent) error
}

// Config holds orchestrator settings
type Config struct {
	StaleAfter      time.Duration // age after which a run stamp stops blocking new runs
	TerminalTimeout time.Duration // bound on the completed/failed write
}

// RunSummary is returned to the caller of a completed run
type RunSummary struct {
	AuditID            uuid.UUID                 `json:"audit_id"`
	Status             models.AuditStatus        `json:"status"`
	OverallScore       int                       `json:"overall_score"`
	RiskLevel          models.RiskLevel          `json:"risk_level"`
	BiasDetected       bool                      `json:"bias_detected"`
	CriticalBiasCount  int                       `json:"critical_bias_count"`
	MetricsByAttribute models.MetricsByAttribute `json:"metrics_by_attribute"`
	ComparisonResults  json.RawMessage           `json:"comparison_results,omitempty"`
	Recommendations    []models.Recommendation   `json:"recommendations"`
	Warnings           []string                  `json:"warnings,omitempty"`
	CompletedAt        time.Time                 `json:"completed_at"`
}

func newRunSummary(auditID uuid.UUID, result *models.AuditResult, completedAt time.Time) *RunSummary {
	recommendations := result.Recommendations
	if recommendations == nil {
		recommendations = []models.Recommendation{}
	}
	return &RunSummary{
		AuditID:            auditID,
		Status:             models.AuditStatusCompleted,
		OverallScore:       result.OverallScore,
		RiskLevel:          result.RiskLevel,
		BiasDetected:       result.BiasDetected,
		CriticalBiasCount:  result.CriticalBiasCount,
		MetricsByAttribute: result.MetricsResults,
		ComparisonResults:  result.ComparisonResults,
		Recommendations:    recommendations,
		Warnings:           result.Warnings,
		CompletedAt:        completedAt,
	}
}

// uploads holds the engine handles of one run
type uploads struct {
	primary      string
	secondary    *string
	secondaryErr error
}
