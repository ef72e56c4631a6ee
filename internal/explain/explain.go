// Package explain defines the explanation summary consumed by the decision
// policy engine and provides a deterministic in-process explainer.
//
// The real explainer is an external collaborator; its output is a ranked
// list of feature contributions. An absent or empty summary is a valid,
// expected input downstream: it forces manual review rather than an error.
package explain

import (
	"math"
	"sort"

	"github.com/finsight/riskserve/internal/features"
	"github.com/finsight/riskserve/internal/model"
)

// RiskFactor is a single feature's contribution to the predicted risk.
type RiskFactor struct {
	// Feature is the human-readable feature name ("credit score",
	// "debt-to-income ratio", ...), never the raw schema field.
	Feature string `json:"feature"`
	// ImpactPercentage is the factor's share of the total risk signal,
	// in [0, 100]. Factors arrive ranked by impact, highest first.
	ImpactPercentage float64 `json:"impact_percentage"`
	// Narrative is an optional plain-language sentence about the factor.
	Narrative string `json:"narrative,omitempty"`
}

// Summary is the ranked explanation for one prediction.
type Summary struct {
	TopRiskFactors []RiskFactor `json:"top_risk_factors"`
	ModelVersion   string       `json:"model_version,omitempty"`
}

// HasFactors reports whether the summary exists and carries at least one
// risk factor. Nil summaries are treated as absent.
func (s *Summary) HasFactors() bool {
	return s != nil && len(s.TopRiskFactors) > 0
}

// TopFactor returns the name of the highest-ranked factor with a usable
// (non-negative, finite) impact and a non-empty name, or "" if none.
func (s *Summary) TopFactor() string {
	if s == nil {
		return ""
	}
	for _, f := range s.TopRiskFactors {
		if f.Feature == "" {
			continue
		}
		if math.IsNaN(f.ImpactPercentage) || f.ImpactPercentage < 0 {
			continue
		}
		return f.Feature
	}
	return ""
}

// humanNames maps schema fields to the names shown to underwriters.
var humanNames = map[string]string{
	"credit_score":            "credit score",
	"debt_to_income":          "debt-to-income ratio",
	"delinquencies_2y":        "recent delinquencies",
	"inquiries_6m":            "recent credit inquiries",
	"employment_length_years": "employment history",
	"loan_amount":             "loan size relative to income",
	"number_of_open_accounts": "open account count",
}

// HeuristicExplainer derives a ranked factor list from the scorecard's own
// weighted contributions, so explanations always track the score. It stands
// in for the external explainer when none is configured; its output is
// deterministic.
type HeuristicExplainer struct{}

// NewHeuristicExplainer creates the in-process explainer.
func NewHeuristicExplainer() *HeuristicExplainer {
	return &HeuristicExplainer{}
}

// Explain ranks the applicant's risk-driving features. Each contribution
// is a raw sub-score in [0,100]; impacts are normalized so the reported
// percentages sum to (at most) 100 across the returned factors. Factors
// with negligible contribution (< 1%) are dropped.
func (e *HeuristicExplainer) Explain(a *features.Applicant, modelVersion string) *Summary {
	contributions := model.Contributions(a)

	var total float64
	for _, c := range contributions {
		total += c
	}
	if total <= 0 {
		return &Summary{ModelVersion: modelVersion}
	}

	factors := make([]RiskFactor, 0, len(contributions))
	for field, c := range contributions {
		pct := math.Round(c/total*1000) / 10
		if pct < 1 {
			continue
		}
		factors = append(factors, RiskFactor{
			Feature:          humanNames[field],
			ImpactPercentage: pct,
		})
	}

	sort.Slice(factors, func(i, j int) bool {
		if factors[i].ImpactPercentage != factors[j].ImpactPercentage {
			return factors[i].ImpactPercentage > factors[j].ImpactPercentage
		}
		return factors[i].Feature < factors[j].Feature
	})

	return &Summary{TopRiskFactors: factors, ModelVersion: modelVersion}
}
