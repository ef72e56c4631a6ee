// Package model defines the inference interface the serving layer calls and
// a deterministic scorecard implementation used when no external model
// endpoint is configured.
package model

import (
	"context"

	"github.com/finsight/riskserve/internal/features"
)

// Prediction is the raw model output consumed by the cache and the decision
// policy engine.
type Prediction struct {
	// RiskScore is the probability of default in [0, 1].
	RiskScore float64 `json:"risk_score"`
	// Confidence is the model's self-reported confidence (HIGH/MEDIUM/LOW).
	Confidence string `json:"confidence_level"`
	// ModelVersion tags the prediction for cache invalidation.
	ModelVersion string `json:"model_version"`
}

// Scorer produces a risk prediction for an applicant. Implementations may
// call out to an external inference service, so the context carries the
// request deadline.
type Scorer interface {
	Score(ctx context.Context, a *features.Applicant) (Prediction, error)
	Version() string
}
