package policy

import (
	"log/slog"
	"strings"

	"github.com/finsight/riskserve/internal/explain"
)

// Engine applies the decision pipeline: base tier from PD, explanation-driven
// escalation, base decision mapping, mandatory overrides, then reason and
// action text. It holds no mutable state beyond its immutable thresholds and
// is safe for concurrent use.
type Engine struct {
	thresholds Thresholds
	logger     *slog.Logger
}

// NewEngine creates a decision engine with the given thresholds. A nil
// logger falls back to the default.
func NewEngine(thresholds Thresholds, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{thresholds: thresholds, logger: logger}
}

// Thresholds returns the engine's cut points.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// MakeDecision converts a model prediction into a credit decision.
// The explanation summary may be nil or empty; that is a valid input and
// forces manual review rather than an error. Identical inputs always
// produce identical output.
func (e *Engine) MakeDecision(probabilityOfDefault float64, confidence Confidence, summary *explain.Summary) CreditDecision {
	baseTier := e.assessRiskTier(probabilityOfDefault)
	tier, escalated := e.applyRiskEscalation(baseTier, summary)
	baseDecision := mapRiskToDecision(tier, confidence)
	final, overrideApplied, overrideReason := applyOverrides(baseDecision, confidence, summary)

	decision := CreditDecision{
		Decision:             final,
		RiskTier:             tier,
		Confidence:           confidence,
		DecisionReason:       decisionReason(final, tier, confidence, summary, overrideApplied),
		RecommendedAction:    recommendedAction(final, tier, confidence),
		ProbabilityOfDefault: probabilityOfDefault,
		OverrideApplied:      overrideApplied,
		OverrideReason:       overrideReason,
		RiskEscalated:        escalated,
	}

	e.logDecision(decision)
	return decision
}

// assessRiskTier buckets the PD: below low threshold LOW, below medium
// threshold MEDIUM, otherwise HIGH.
func (e *Engine) assessRiskTier(pd float64) RiskTier {
	switch {
	case pd < e.thresholds.LowRiskThreshold:
		return TierLow
	case pd < e.thresholds.MediumRiskThreshold:
		return TierMedium
	default:
		return TierHigh
	}
}

// applyRiskEscalation raises the tier by one step when enough strong
// negative factors concentrate in the explanation. HIGH is terminal.
// Escalation is recorded but is not an override.
func (e *Engine) applyRiskEscalation(tier RiskTier, summary *explain.Summary) (RiskTier, bool) {
	if !summary.HasFactors() {
		return tier, false
	}

	strong := 0
	for _, f := range summary.TopRiskFactors {
		// NaN and negative impacts compare false here, so malformed
		// factors are excluded from the count without a special case.
		if f.ImpactPercentage >= e.thresholds.StrongFactorImpact {
			strong++
		}
	}
	if strong < e.thresholds.StrongFactorCount {
		return tier, false
	}

	switch tier {
	case TierLow:
		e.logger.Info("risk escalation", "from", TierLow, "to", TierMedium, "strong_factors", strong)
		return TierMedium, true
	case TierMedium:
		e.logger.Info("risk escalation", "from", TierMedium, "to", TierHigh, "strong_factors", strong)
		return TierHigh, true
	default:
		return tier, false
	}
}

// mapRiskToDecision applies the base mapping. LOW risk with LOW confidence
// maps to REJECT rather than APPROVE; the overrides then force it to REVIEW,
// so a shaky approval can never slip through.
func mapRiskToDecision(tier RiskTier, confidence Confidence) Decision {
	switch tier {
	case TierLow:
		if confidence == ConfidenceHigh || confidence == ConfidenceMedium {
			return DecisionApprove
		}
		return DecisionReject
	case TierMedium:
		return DecisionReview
	default:
		return DecisionReject
	}
}

// Override reasons returned to callers and recorded in the audit trail.
const (
	reasonLowConfidence       = "Insufficient model confidence for automated decision"
	reasonMissingExplanations = "Explanations unavailable - manual review required"
	reasonUnsafeReject        = "High-risk decision requires manual review for safety"
)

// applyOverrides applies the mandatory safety rails in order; the first one
// that fires wins and replaces the decision with REVIEW.
func applyOverrides(base Decision, confidence Confidence, summary *explain.Summary) (Decision, bool, string) {
	// Low confidence never produces an automated APPROVE or REJECT.
	if confidence == ConfidenceLow && base != DecisionReview {
		return DecisionReview, true, reasonLowConfidence
	}

	// No explanations means no automated terminal decision.
	if !summary.HasFactors() && (base == DecisionApprove || base == DecisionReject) {
		return DecisionReview, true, reasonMissingExplanations
	}

	// Never auto-reject without both high confidence and explanations.
	if base == DecisionReject && (confidence != ConfidenceHigh || !summary.HasFactors()) {
		return DecisionReview, true, reasonUnsafeReject
	}

	return base, false, ""
}

// decisionReason produces the jargon-free sentence shown to applicants and
// underwriters. Deterministic over its inputs.
func decisionReason(decision Decision, tier RiskTier, confidence Confidence, summary *explain.Summary, overrideApplied bool) string {
	topFactor := strings.ToLower(summary.TopFactor())

	switch decision {
	case DecisionApprove:
		if tier == TierLow {
			if topFactor != "" {
				return "Low predicted default risk with stable financial profile. Application shows strong indicators across credit metrics."
			}
			return "Low predicted default risk with stable financial indicators."
		}
		return "Approved with conditions. Financial profile meets minimum requirements but may require monitoring."

	case DecisionReview:
		if overrideApplied {
			if confidence == ConfidenceLow {
				return "Manual review required due to insufficient model confidence. Additional verification needed."
			}
			return "Manual review required for safety validation. Decision requires human oversight."
		}
		if tier == TierMedium {
			switch {
			case strings.Contains(topFactor, "debt"):
				return "Moderate risk detected due to elevated debt levels. Manual review recommended for assessment."
			case strings.Contains(topFactor, "credit"):
				return "Moderate risk indicated by credit utilization patterns. Manual review recommended."
			case strings.Contains(topFactor, "delinquenc"):
				return "Moderate risk due to payment history concerns. Manual review recommended."
			default:
				return "Moderate risk profile requires manual assessment. Additional documentation may be needed."
			}
		}
		return "Application requires detailed manual review due to risk indicators."

	default: // REJECT
		if tier == TierHigh {
			switch {
			case strings.Contains(topFactor, "delinquenc"):
				return "High default probability driven by recent payment delinquencies. Application does not meet approval criteria."
			case strings.Contains(topFactor, "debt"):
				return "High default risk indicated by elevated debt-to-income ratio. Unable to approve at this time."
			case strings.Contains(topFactor, "credit"):
				return "High risk assessment based on credit profile. Application does not meet current lending standards."
			default:
				return "High default probability based on financial risk assessment. Application does not meet approval criteria."
			}
		}
		return "Application does not meet minimum approval requirements at this time."
	}
}

// recommendedAction produces the operational next step for the decision.
func recommendedAction(decision Decision, tier RiskTier, confidence Confidence) string {
	switch decision {
	case DecisionApprove:
		return "Proceed with standard loan processing and documentation."
	case DecisionReview:
		switch {
		case confidence == ConfidenceLow:
			return "Route to senior underwriter for detailed assessment. Request additional documentation."
		case tier == TierMedium:
			return "Route to underwriter for manual review. May require income verification or collateral assessment."
		default:
			return "Escalate to senior credit analyst for comprehensive risk evaluation."
		}
	default:
		return "Issue decline notice with reason. Provide information on reapplication criteria and timeline."
	}
}

// logDecision writes the audit record. Rejections log at Warn per
// governance requirements; everything else at Info.
func (e *Engine) logDecision(d CreditDecision) {
	attrs := []any{
		"decision", d.Decision,
		"risk_tier", d.RiskTier,
		"confidence", d.Confidence,
		"probability_of_default", d.ProbabilityOfDefault,
		"override_applied", d.OverrideApplied,
		"risk_escalated", d.RiskEscalated,
	}
	if d.Decision == DecisionReject {
		attrs = append(attrs, "decision_reason", d.DecisionReason)
		e.logger.Warn("credit decision reject", attrs...)
		return
	}
	e.logger.Info("credit decision made", attrs...)
}
