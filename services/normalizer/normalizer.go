// Package normalizer turns raw engine output into the canonical audit result.
// Everything here is pure: no I/O, no clock, no randomness.
package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Franck-F/fairness-sub000/models"
	"github.com/Franck-F/fairness-sub000/services/engine"
)

// maxTitlePrefix is the longest prefix of a bare string recommendation read as its title
const maxTitlePrefix = 80

// ErrMalformedOutput is returned when the raw output cannot yield a complete result
var ErrMalformedOutput = errors.New("malformed engine output")

// Options carries run facts the raw output cannot tell
type Options struct {
	// SecondaryProcessed is true when the secondary dataset was uploaded for this run
	SecondaryProcessed bool
}

// Normalize maps raw engine output to the canonical result group
func Normalize(raw *engine.ComputeResponse, opts Options) (*models.AuditResult, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedOutput)
	}
	if raw.OverallScore == nil {
		return nil, fmt.Errorf("%w: overall_score missing", ErrMalformedOutput)
	}
	score := *raw.OverallScore
	if math.IsNaN(score) || score < 0 || score > 100 {
		return nil, fmt.Errorf("%w: overall_score %v out of range", ErrMalformedOutput, score)
	}

	var warnings []string

	risk, ok := MapRiskLevel(raw.RiskLevel)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("unknown risk level %q mapped to %s", raw.RiskLevel, risk))
	}

	metrics := raw.MetricsByAttribute
	if metrics == nil {
		metrics = models.MetricsByAttribute{}
		warnings = append(warnings, "metrics_by_attribute missing; no metrics recorded")
	}

	recommendations, recWarnings := NormalizeRecommendations(raw.Recommendations)
	warnings = append(warnings, recWarnings...)

	comparison, cmpWarning := comparisonResults(raw.ComparisonResults, opts.SecondaryProcessed)
	if cmpWarning != "" {
		warnings = append(warnings, cmpWarning)
	}

	return &models.AuditResult{
		OverallScore:      int(math.Round(score)),
		RiskLevel:         risk,
		BiasDetected:      raw.BiasDetected,
		CriticalBiasCount: metrics.CountFailing(),
		MetricsResults:    metrics,
		ComparisonResults: comparison,
		Recommendations:   recommendations,
		Warnings:          warnings,
	}, nil
}

// MapRiskLevel maps an engine token to a canonical level.
// Unknown tokens map to Medium and report false.
func MapRiskLevel(token string) (models.RiskLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "low":
		return models.RiskLevelLow, true
	case "medium":
		return models.RiskLevelMedium, true
	case "high":
		return models.RiskLevelHigh, true
	}
	return models.RiskLevelMedium, false
}

// NormalizeRecommendations converts bare strings and objects into structured records
func NormalizeRecommendations(raw []json.RawMessage) ([]models.Recommendation, []string) {
	out := make([]models.Recommendation, 0, len(raw))
	var warnings []string

	for i, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			warnings = append(warnings, fmt.Sprintf("recommendation %d is empty; skipped", i))
			continue
		}

		switch item[0] {
		case '"':
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				warnings = append(warnings, fmt.Sprintf("recommendation %d is not valid text; skipped", i))
				continue
			}
			rec, ok := fromString(s)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("recommendation %d has no text; skipped", i))
				continue
			}
			out = append(out, rec)
		case '{':
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(item, &fields); err != nil {
				warnings = append(warnings, fmt.Sprintf("recommendation %d is not a valid object; skipped", i))
				continue
			}
			rec, ok, fieldWarnings := fromObject(i, fields)
			warnings = append(warnings, fieldWarnings...)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("recommendation %d has no title or description; skipped", i))
				continue
			}
			out = append(out, rec)
		default:
			warnings = append(warnings, fmt.Sprintf("recommendation %d has unsupported type; skipped", i))
		}
	}

	return out, warnings
}

func fromString(s string) (models.Recommendation, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.Recommendation{}, false
	}

	if idx := strings.Index(s, ": "); idx > 0 && idx <= maxTitlePrefix {
		title := strings.TrimSpace(s[:idx])
		description := strings.TrimSpace(s[idx+2:])
		if description == "" {
			description = title
		}
		if title != "" {
			return models.Recommendation{Title: title, Description: description}, true
		}
	}
	return models.Recommendation{Title: s, Description: s}, true
}

func fromObject(index int, fields map[string]json.RawMessage) (models.Recommendation, bool, []string) {
	var warnings []string
	text := func(key string) *string {
		raw, ok := fields[key]
		if !ok {
			return nil
		}
		value, supported := scalarText(raw)
		if !supported {
			warnings = append(warnings, fmt.Sprintf("recommendation %d field %q is not a scalar; ignored", index, key))
		}
		return value
	}

	title := text("title")
	description := text("description")
	rec := models.Recommendation{
		Impact:    text("impact"),
		Effort:    text("effort"),
		Priority:  text("priority"),
		Technique: text("technique"),
	}

	switch {
	case title == nil && description == nil:
		return models.Recommendation{}, false, warnings
	case title == nil:
		title = description
	case description == nil:
		description = title
	}
	rec.Title = *title
	rec.Description = *description
	return rec, true, warnings
}

// scalarText renders a JSON scalar as text. Empty values and null yield nil.
// The second result is false for objects and arrays.
func scalarText(raw json.RawMessage) (*string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, true
	}

	var s string
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, true
		}
	case '{', '[':
		return nil, false
	default:
		// numbers and booleans keep their JSON spelling
		s = string(raw)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return nil, true
	}
	return &s, true
}

func comparisonResults(raw json.RawMessage, secondaryProcessed bool) (json.RawMessage, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ""
	}
	if !secondaryProcessed {
		return nil, "comparison_results dropped: secondary dataset was not processed"
	}
	if raw[0] != '{' || !json.Valid(raw) {
		return nil, "comparison_results dropped: not a JSON object"
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, ""
}
