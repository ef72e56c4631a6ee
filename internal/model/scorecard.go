package model

import (
	"context"
	"math"

	"github.com/finsight/riskserve/internal/features"
)

// ScorecardVersion tags predictions from the built-in scorecard.
const ScorecardVersion = "deterministic-v1.0.0"

// Feature weights. Credit history dominates; account mix matters least.
const (
	weightCreditScore   = 0.30
	weightDebtToIncome  = 0.25
	weightEmployment    = 0.15
	weightDelinquencies = 0.15
	weightInquiries     = 0.10
	weightOpenAccounts  = 0.05
)

// ScorecardModel is a deterministic weighted scorecard over the applicant's
// credit profile. It exists so the serving path works end to end without an
// external inference service, and so tests get reproducible scores.
type ScorecardModel struct{}

// NewScorecard creates the built-in scorecard model.
func NewScorecard() *ScorecardModel {
	return &ScorecardModel{}
}

// Version returns the scorecard's model version string.
func (m *ScorecardModel) Version() string {
	return ScorecardVersion
}

// Contributions returns each feature's weighted risk contribution, keyed by
// schema field name. Sub-scores are on a 0-100 scale before weighting; the
// explainer normalizes these into impact percentages.
func Contributions(a *features.Applicant) map[string]float64 {
	return map[string]float64{
		"credit_score":            creditScoreRisk(a.CreditScore) * weightCreditScore,
		"debt_to_income":          dtiRisk(a.DTI()) * weightDebtToIncome,
		"employment_length_years": employmentRisk(a.EmploymentLengthYears) * weightEmployment,
		"delinquencies_2y":        delinquencyRisk(a.Delinquencies2y) * weightDelinquencies,
		"inquiries_6m":            inquiryRisk(a.Inquiries6m) * weightInquiries,
		"number_of_open_accounts": accountRisk(a.NumberOfOpenAccounts) * weightOpenAccounts,
	}
}

// Score combines the weighted contributions with loan-shape adjustments into
// a PD in [0, 1], rounded to 3 decimal places. The scorecard is rule-based,
// so it always reports HIGH confidence.
func (m *ScorecardModel) Score(ctx context.Context, a *features.Applicant) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	var risk float64
	for _, c := range Contributions(a) {
		risk += c
	}
	risk = adjustForLoan(risk, a)

	risk = math.Max(0, math.Min(100, risk))

	return Prediction{
		RiskScore:    math.Round(risk/100*1000) / 1000,
		Confidence:   "HIGH",
		ModelVersion: ScorecardVersion,
	}, nil
}

// adjustForLoan adds risk for loans that are large relative to income,
// unusually long, or for historically riskier purposes.
func adjustForLoan(risk float64, a *features.Applicant) float64 {
	loanToIncome := a.LoanAmount / math.Max(a.AnnualIncome, 1)
	if loanToIncome > 0.5 {
		risk += math.Min(15.0, (loanToIncome-0.5)*30)
	}

	if a.LoanTermMonths > 60 {
		risk += math.Min(5.0, float64(a.LoanTermMonths-60)/60)
	}

	switch a.Purpose {
	case "business", "vacation", "other":
		risk += 5.0
	}

	return risk
}

// Sub-score curves, each mapping a raw feature to risk on a 0-100 scale.

func creditScoreRisk(score int) float64 {
	switch {
	case score >= 750:
		return 10
	case score >= 700:
		return 25
	case score >= 670:
		return 45
	case score >= 580:
		return 70 - (float64(score-580)/90)*25
	default:
		return math.Min(100, 70+(float64(580-score)/280)*30)
	}
}

func dtiRisk(dti float64) float64 {
	switch {
	case dti < 20:
		return 15 * (dti / 20)
	case dti < 36:
		return 15 + ((dti-20)/16)*25
	case dti < 43:
		return 40 + ((dti-36)/7)*20
	case dti < 50:
		return 60 + ((dti-43)/7)*20
	default:
		return math.Min(100, 80+(dti-50)*0.5)
	}
}

func employmentRisk(years float64) float64 {
	switch {
	case years < 1:
		return 80 - years*20
	case years < 3:
		return 60 - ((years-1)/2)*20
	case years < 5:
		return 40 - ((years-3)/2)*15
	default:
		return math.Max(10, 25-((years-5)/10)*15)
	}
}

func delinquencyRisk(count int) float64 {
	switch {
	case count == 0:
		return 5
	case count == 1:
		return 30
	case count == 2:
		return 50
	case count == 3:
		return 70
	default:
		return math.Min(100, 70+float64(count-3)*10)
	}
}

func inquiryRisk(count int) float64 {
	switch {
	case count == 0:
		return 10
	case count == 1:
		return 20
	case count <= 3:
		return 20 + float64(count-1)*15
	default:
		return math.Min(100, 50+float64(count-3)*12.5)
	}
}

func accountRisk(count int) float64 {
	switch {
	case count <= 2:
		return 40 // limited credit history
	case count <= 10:
		return 20
	default:
		return math.Min(60, 30+float64(count-10)*3)
	}
}
