package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditStatus represents the lifecycle state of an audit
type AuditStatus string

const (
	AuditStatusPending    AuditStatus = "pending"
	AuditStatusProcessing AuditStatus = "processing"
	AuditStatusCompleted  AuditStatus = "completed"
	AuditStatusFailed     AuditStatus = "failed"
)

// IsTerminal reports whether no run is expected to move the audit further
func (s AuditStatus) IsTerminal() bool {
	return s == AuditStatusCompleted || s == AuditStatusFailed
}

// RiskLevel is the canonical coarse risk classification
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "Low"
	RiskLevelMedium RiskLevel = "Medium"
	RiskLevelHigh   RiskLevel = "High"
)

// IsValid reports whether r is one of the canonical levels
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh:
		return true
	}
	return false
}

// MetricStatusFail marks a failing metric evaluation
const MetricStatusFail = "fail"

// MetricResult is a single fairness metric evaluation for one attribute
type MetricResult struct {
	Name   string   `json:"metric_name"`
	Value  *float64 `json:"value"`
	Status string   `json:"status"`
}

// IsFailing reports whether the metric evaluation failed
func (m MetricResult) IsFailing() bool {
	return strings.EqualFold(strings.TrimSpace(m.Status), MetricStatusFail)
}

// MetricsByAttribute maps a sensitive attribute to its ordered metric results
type MetricsByAttribute map[string][]MetricResult

// CountFailing returns the number of failing evaluations across all attributes
func (m MetricsByAttribute) CountFailing() int {
	count := 0
	for _, results := range m {
		for _, r := range results {
			if r.IsFailing() {
				count++
			}
		}
	}
	return count
}

// Recommendation is the normalized remediation record.
// Optional fields stay nil when the engine did not provide them.
type Recommendation struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Impact      *string `json:"impact"`
	Effort      *string `json:"effort"`
	Priority    *string `json:"priority"`
	Technique   *string `json:"technique"`
}

// AuditResult is the result group written as one unit on completion
type AuditResult struct {
	OverallScore      int                `json:"overall_score"`
	RiskLevel         RiskLevel          `json:"risk_level"`
	BiasDetected      bool               `json:"bias_detected"`
	CriticalBiasCount int                `json:"critical_bias_count"`
	MetricsResults    MetricsByAttribute `json:"metrics_by_attribute"`
	ComparisonResults json.RawMessage    `json:"comparison_results,omitempty"`
	Recommendations   []Recommendation   `json:"recommendations"`
	Warnings          []string           `json:"warnings,omitempty"`
}

// ErrIncompleteResult is returned when a result group cannot be persisted as a whole
var ErrIncompleteResult = errors.New("incomplete audit result")

// Validate checks the result group is complete and within range
func (r *AuditResult) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: result is nil", ErrIncompleteResult)
	}
	if r.OverallScore < 0 || r.OverallScore > 100 {
		return fmt.Errorf("%w: overall_score %d out of range", ErrIncompleteResult, r.OverallScore)
	}
	if !r.RiskLevel.IsValid() {
		return fmt.Errorf("%w: risk_level %q", ErrIncompleteResult, r.RiskLevel)
	}
	if r.CriticalBiasCount < 0 {
		return fmt.Errorf("%w: negative critical_bias_count", ErrIncompleteResult)
	}
	if r.MetricsResults == nil {
		return fmt.Errorf("%w: metrics_by_attribute missing", ErrIncompleteResult)
	}
	return nil
}

// Audit is a persisted request to evaluate fairness against one or two datasets
type Audit struct {
	ID      uuid.UUID   `json:"id" db:"id"`
	OwnerID uuid.UUID   `json:"owner_id" db:"owner_id"`
	Name    string      `json:"name" db:"name"`
	Status  AuditStatus `json:"status" db:"status"`

	// Configuration captured by the upload wizard
	DatasetID           uuid.UUID  `json:"dataset_id" db:"dataset_id"`
	DatasetIDPost       *uuid.UUID `json:"dataset_id_post,omitempty" db:"dataset_id_post"`
	TargetColumn        string     `json:"target_column" db:"target_column"`
	SensitiveAttributes []string   `json:"sensitive_attributes" db:"sensitive_attributes"`
	FavorableOutcome    *string    `json:"favorable_outcome,omitempty" db:"favorable_outcome"`
	ModelType           string     `json:"model_type" db:"model_type"`
	IAType              string     `json:"ia_type" db:"ia_type"`

	// Result group, set together on completion and cleared together otherwise
	OverallScore      *int               `json:"overall_score" db:"overall_score"`
	RiskLevel         *RiskLevel         `json:"risk_level" db:"risk_level"`
	BiasDetected      *bool              `json:"bias_detected" db:"bias_detected"`
	CriticalBiasCount *int               `json:"critical_bias_count" db:"critical_bias_count"`
	MetricsResults    MetricsByAttribute `json:"metrics_results" db:"metrics_results"`
	ComparisonResults json.RawMessage    `json:"comparison_results,omitempty" db:"comparison_results"`
	Recommendations   []Recommendation   `json:"recommendations" db:"recommendations"`
	Warnings          []string           `json:"warnings,omitempty" db:"warnings"`

	// Run bookkeeping
	RunToken      *string    `json:"-" db:"run_token"`
	RunStartedAt  *time.Time `json:"run_started_at,omitempty" db:"run_started_at"`
	FailureReason *string    `json:"failure_reason,omitempty" db:"failure_reason"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
}

// TableName returns the table name for the Audit model
func (Audit) TableName() string {
	return "audits"
}

// NewAudit creates a pending audit for a primary dataset
func NewAudit(ownerID, datasetID uuid.UUID, targetColumn string, sensitiveAttributes []string) *Audit {
	now := time.Now().UTC()
	return &Audit{
		ID:                  uuid.New(),
		OwnerID:             ownerID,
		Status:              AuditStatusPending,
		DatasetID:           datasetID,
		TargetColumn:        targetColumn,
		SensitiveAttributes: NormalizeAttributes(sensitiveAttributes),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// HasSecondaryDataset reports whether a pre/post comparison was requested
func (a *Audit) HasSecondaryDataset() bool {
	return a.DatasetIDPost != nil && *a.DatasetIDPost != uuid.Nil
}

// HasResults reports whether any field of the result group is set
func (a *Audit) HasResults() bool {
	return a.OverallScore != nil ||
		a.RiskLevel != nil ||
		a.BiasDetected != nil ||
		a.CriticalBiasCount != nil ||
		a.MetricsResults != nil ||
		a.ComparisonResults != nil ||
		a.Recommendations != nil ||
		a.Warnings != nil
}

// ClearResults empties the whole result group
func (a *Audit) ClearResults() {
	a.OverallScore = nil
	a.RiskLevel = nil
	a.BiasDetected = nil
	a.CriticalBiasCount = nil
	a.MetricsResults = nil
	a.ComparisonResults = nil
	a.Recommendations = nil
	a.Warnings = nil
	a.CompletedAt = nil
	a.FailureReason = nil
}

// ResetForRun moves the audit into processing under the given run token.
// Applying it twice with the same arguments yields the same state.
func (a *Audit) ResetForRun(token string, now time.Time) {
	a.ClearResults()
	a.Status = AuditStatusProcessing
	a.RunToken = &token
	a.RunStartedAt = &now
	a.UpdatedAt = now
}

// MarkAsCompleted writes the whole result group and the completed state
func (a *Audit) MarkAsCompleted(result *AuditResult, now time.Time) error {
	if err := result.Validate(); err != nil {
		return err
	}
	if len(result.ComparisonResults) > 0 && !a.HasSecondaryDataset() {
		return fmt.Errorf("%w: comparison_results without secondary dataset", ErrIncompleteResult)
	}

	score := result.OverallScore
	risk := result.RiskLevel
	bias := result.BiasDetected
	critical := result.CriticalBiasCount
	recommendations := result.Recommendations
	if recommendations == nil {
		recommendations = []Recommendation{}
	}

	a.Status = AuditStatusCompleted
	a.OverallScore = &score
	a.RiskLevel = &risk
	a.BiasDetected = &bias
	a.CriticalBiasCount = &critical
	a.MetricsResults = result.MetricsResults
	a.ComparisonResults = result.ComparisonResults
	a.Recommendations = recommendations
	a.Warnings = result.Warnings
	a.FailureReason = nil
	a.RunToken = nil
	a.CompletedAt = &now
	a.UpdatedAt = now
	return nil
}

// MarkAsFailed clears the result group and records why the run failed
func (a *Audit) MarkAsFailed(reason string, now time.Time) {
	a.ClearResults()
	a.Status = AuditStatusFailed
	a.FailureReason = &reason
	a.RunToken = nil
	a.UpdatedAt = now
}

// Config snapshots the audit configuration used by a run
func (a *Audit) Config() AuditConfig {
	cfg := AuditConfig{
		AuditID:             a.ID,
		OwnerID:             a.OwnerID,
		DatasetID:           a.DatasetID,
		TargetColumn:        strings.TrimSpace(a.TargetColumn),
		SensitiveAttributes: NormalizeAttributes(a.SensitiveAttributes),
		ModelType:           a.ModelType,
		IAType:              a.IAType,
	}
	if a.HasSecondaryDataset() {
		post := *a.DatasetIDPost
		cfg.DatasetIDPost = &post
	}
	if a.FavorableOutcome != nil && strings.TrimSpace(*a.FavorableOutcome) != "" {
		outcome := strings.TrimSpace(*a.FavorableOutcome)
		cfg.FavorableOutcome = &outcome
	}
	return cfg
}

// AuditConfig is the immutable run configuration derived from an audit
type AuditConfig struct {
	AuditID             uuid.UUID  `json:"audit_id" validate:"required"`
	OwnerID             uuid.UUID  `json:"owner_id" validate:"required"`
	DatasetID           uuid.UUID  `json:"dataset_id" validate:"required"`
	DatasetIDPost       *uuid.UUID `json:"dataset_id_post,omitempty"`
	TargetColumn        string     `json:"target_column" validate:"required"`
	SensitiveAttributes []string   `json:"sensitive_attributes"`
	FavorableOutcome    *string    `json:"favorable_outcome,omitempty"`
	ModelType           string     `json:"model_type"`
	IAType              string     `json:"ia_type"`
}

// NormalizeAttributes trims names and drops blanks and duplicates, keeping order
func NormalizeAttributes(attrs []string) []string {
	out := make([]string, 0, len(attrs))
	seen := make(map[string]struct{}, len(attrs))
	for _, attr := range attrs {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		if _, ok := seen[attr]; ok {
			continue
		}
		seen[attr] = struct{}{}
		out = append(out, attr)
	}
	return out
}
