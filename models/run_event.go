package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunEventKind represents a step recorded in an audit's run history
type RunEventKind string

const (
	RunEventStarted              RunEventKind = "run_started"
	RunEventSecondarySkipped     RunEventKind = "secondary_skipped"
	RunEventNormalizationWarning RunEventKind = "normalization_warning"
	RunEventCompleted            RunEventKind = "run_completed"
	RunEventFailed               RunEventKind = "run_failed"
	RunEventConflict             RunEventKind = "run_conflict"
)

// RunEvent is an append-only entry in the history of computation runs
type RunEvent struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	AuditID   uuid.UUID       `json:"audit_id" db:"audit_id"`
	RunToken  string          `json:"run_token" db:"run_token"`
	Kind      RunEventKind    `json:"kind" db:"kind"`
	Message   string          `json:"message" db:"message"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"` // JSONB
	RequestID string          `json:"request_id,omitempty" db:"request_id"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the RunEvent model
func (RunEvent) TableName() string {
	return "run_events"
}

// NewRunEvent creates a new RunEvent for an audit run
func NewRunEvent(auditID uuid.UUID, runToken string, kind RunEventKind, message string) *RunEvent {
	return &RunEvent{
		ID:        uuid.New(),
		AuditID:   auditID,
		RunToken:  runToken,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// WithDetails sets the details
func (e *RunEvent) WithDetails(details interface{}) *RunEvent {
	if data, err := json.Marshal(details); err == nil {
		e.Details = data
	}
	return e
}

// WithRequest sets the originating request ID
func (e *RunEvent) WithRequest(requestID string) *RunEvent {
	e.RequestID = requestID
	return e
}
