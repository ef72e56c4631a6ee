// Package policy implements the decision policy engine that converts a raw
// model prediction into a governed credit decision.
//
// The core principle: prediction is not decision. The model informs, the
// policy rules control. Every decision passes through mandatory safety
// overrides, and the engine is deterministic so an audited decision can
// always be reproduced from its inputs.
package policy

// Decision is the final credit decision.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReview  Decision = "REVIEW"
	DecisionReject  Decision = "REJECT"
)

// RiskTier is the coarse risk bucket derived from probability of default.
type RiskTier string

const (
	TierLow    RiskTier = "LOW"
	TierMedium RiskTier = "MEDIUM"
	TierHigh   RiskTier = "HIGH"
)

// Confidence is the model's self-reported confidence level.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Default policy cut points.
const (
	DefaultLowRiskThreshold    = 0.30
	DefaultMediumRiskThreshold = 0.60
	DefaultStrongFactorImpact  = 15.0
	DefaultStrongFactorCount   = 3
)

// Thresholds centralizes every tunable cut point so no magic numbers are
// scattered across the engine. Values are fixed at construction.
type Thresholds struct {
	// LowRiskThreshold is the PD below which the tier is LOW.
	LowRiskThreshold float64
	// MediumRiskThreshold is the PD below which the tier is MEDIUM.
	// At or above it the tier is HIGH.
	MediumRiskThreshold float64
	// StrongFactorImpact is the minimum impact percentage for a risk
	// factor to count as strong.
	StrongFactorImpact float64
	// StrongFactorCount is how many strong factors trigger a one-step
	// tier escalation.
	StrongFactorCount int
}

// DefaultThresholds returns the standard production cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowRiskThreshold:    DefaultLowRiskThreshold,
		MediumRiskThreshold: DefaultMediumRiskThreshold,
		StrongFactorImpact:  DefaultStrongFactorImpact,
		StrongFactorCount:   DefaultStrongFactorCount,
	}
}

// CreditDecision is the structured output of the engine. It carries the raw
// PD and the override trail so every decision is auditable.
type CreditDecision struct {
	Decision             Decision   `json:"decision"`
	RiskTier             RiskTier   `json:"risk_tier"`
	Confidence           Confidence `json:"confidence"`
	DecisionReason       string     `json:"decision_reason"`
	RecommendedAction    string     `json:"recommended_action"`
	ProbabilityOfDefault float64    `json:"probability_of_default"`
	OverrideApplied      bool       `json:"override_applied"`
	OverrideReason       string     `json:"override_reason,omitempty"`
	RiskEscalated        bool       `json:"risk_escalated"`
}
