package explain

import (
	"math"
	"reflect"
	"testing"

	"github.com/finsight/riskserve/internal/features"
)

func strongApplicant() *features.Applicant {
	return &features.Applicant{
		AnnualIncome:          120000,
		MonthlyDebt:           800,
		CreditScore:           790,
		LoanAmount:            10000,
		LoanTermMonths:        36,
		EmploymentLengthYears: 12,
		HomeOwnership:         "MORTGAGE",
		Purpose:               "debt_consolidation",
		NumberOfOpenAccounts:  8,
		Delinquencies2y:       0,
		Inquiries6m:           0,
	}
}

func weakApplicant() *features.Applicant {
	return &features.Applicant{
		AnnualIncome:          28000,
		MonthlyDebt:           1500,
		CreditScore:           540,
		LoanAmount:            30000,
		LoanTermMonths:        60,
		EmploymentLengthYears: 0.5,
		HomeOwnership:         "RENT",
		Purpose:               "business",
		NumberOfOpenAccounts:  22,
		Delinquencies2y:       4,
		Inquiries6m:           6,
	}
}

func TestExplainDeterministic(t *testing.T) {
	e := NewHeuristicExplainer()
	a := weakApplicant()

	s1 := e.Explain(a, "v1")
	s2 := e.Explain(a, "v1")

	if !reflect.DeepEqual(s1, s2) {
		t.Error("identical applicants produced different explanations")
	}
}

func TestExplainRankedDescending(t *testing.T) {
	e := NewHeuristicExplainer()
	s := e.Explain(weakApplicant(), "v1")

	if !s.HasFactors() {
		t.Fatal("expected factors for weak applicant")
	}
	for i := 1; i < len(s.TopRiskFactors); i++ {
		if s.TopRiskFactors[i].ImpactPercentage > s.TopRiskFactors[i-1].ImpactPercentage {
			t.Errorf("factors not ranked: %v before %v",
				s.TopRiskFactors[i-1], s.TopRiskFactors[i])
		}
	}
}

func TestExplainImpactsBounded(t *testing.T) {
	e := NewHeuristicExplainer()
	for _, a := range []*features.Applicant{strongApplicant(), weakApplicant()} {
		s := e.Explain(a, "v1")
		var total float64
		for _, f := range s.TopRiskFactors {
			if f.ImpactPercentage < 0 || f.ImpactPercentage > 100 {
				t.Errorf("impact out of range: %+v", f)
			}
			if f.Feature == "" {
				t.Errorf("factor with empty name: %+v", f)
			}
			total += f.ImpactPercentage
		}
		if total > 100.5 { // rounding slack
			t.Errorf("impacts sum to %f, want <= 100", total)
		}
	}
}

func TestExplainWeakApplicantTopFactor(t *testing.T) {
	e := NewHeuristicExplainer()
	s := e.Explain(weakApplicant(), "v1")

	top := s.TopFactor()
	// Credit score carries the highest weight and the weak applicant's
	// score is deep subprime; it should dominate.
	if top != "credit score" {
		t.Errorf("top factor = %q, want credit score", top)
	}
}

func TestHasFactors(t *testing.T) {
	var nilSummary *Summary
	if nilSummary.HasFactors() {
		t.Error("nil summary reported factors")
	}
	if (&Summary{}).HasFactors() {
		t.Error("empty summary reported factors")
	}
	s := &Summary{TopRiskFactors: []RiskFactor{{Feature: "credit score", ImpactPercentage: 40}}}
	if !s.HasFactors() {
		t.Error("populated summary reported no factors")
	}
}

func TestTopFactorSkipsMalformed(t *testing.T) {
	s := &Summary{TopRiskFactors: []RiskFactor{
		{Feature: "", ImpactPercentage: 50},
		{Feature: "bad impact", ImpactPercentage: -3},
		{Feature: "nan impact", ImpactPercentage: math.NaN()},
		{Feature: "credit score", ImpactPercentage: 20},
	}}
	if got := s.TopFactor(); got != "credit score" {
		t.Errorf("TopFactor = %q, want credit score", got)
	}

	allBad := &Summary{TopRiskFactors: []RiskFactor{
		{Feature: "", ImpactPercentage: 50},
	}}
	if got := allBad.TopFactor(); got != "" {
		t.Errorf("TopFactor = %q, want empty", got)
	}
}
