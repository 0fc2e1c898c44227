package engine

import (
	"encoding/json"

	"github.com/Franck-F/fairness-sub000/models"
)

// UploadRequest is a dataset file sent to POST /datasets
type UploadRequest struct {
	Name        string // display name
	Filename    string
	ContentType string
	Data        []byte
}

type uploadResponse struct {
	DatasetID string `json:"dataset_id"`
}

// ComputeRequest is the JSON body of POST /fairness/compute
type ComputeRequest struct {
	PrimaryHandle       string   `json:"primary_handle" validate:"required"`
	SecondaryHandle     *string  `json:"secondary_handle,omitempty"`
	TargetColumn        string   `json:"target_column" validate:"required"`
	SensitiveAttributes []string `json:"sensitive_attributes"`
	FavorableOutcome    *string  `json:"favorable_outcome,omitempty"`
	ModelType           string   `json:"model_type"`
	IAType              string   `json:"ia_type"`
}

// ComputeResponse is the raw engine output, before normalization
type ComputeResponse struct {
	OverallScore       *float64                  `json:"overall_score"`
	RiskLevel          string                    `json:"risk_level"`
	BiasDetected       bool                      `json:"bias_detected"`
	MetricsByAttribute models.MetricsByAttribute `json:"metrics_by_attribute"`
	ComparisonResults  json.RawMessage           `json:"comparison_results,omitempty"`
	Recommendations    []json.RawMessage         `json:"recommendations"`
}

// errorBody covers the error shapes the engine is known to return
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Error   json.RawMessage `json:"error"`
	Message json.RawMessage `json:"message"`
}
