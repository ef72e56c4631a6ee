package validation

import (
	"math"
	"testing"

	"github.com/finsight/riskserve/internal/features"
)

func validApplicant() *features.Applicant {
	return &features.Applicant{
		AnnualIncome:          65000,
		MonthlyDebt:           1200,
		CreditScore:           710,
		LoanAmount:            15000,
		LoanTermMonths:        36,
		EmploymentLengthYears: 4,
		HomeOwnership:         "MORTGAGE",
		Purpose:               "debt_consolidation",
		NumberOfOpenAccounts:  8,
		Delinquencies2y:       0,
		Inquiries6m:           1,
	}
}

func TestCheckApplicantValid(t *testing.T) {
	if errs := CheckApplicant(validApplicant()); len(errs) != 0 {
		t.Errorf("valid applicant rejected: %v", errs)
	}
}

func TestCheckApplicantRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*features.Applicant)
		field  string
	}{
		{"negative income", func(a *features.Applicant) { a.AnnualIncome = -1 }, "annual_income"},
		{"income too high", func(a *features.Applicant) { a.AnnualIncome = 10_000_001 }, "annual_income"},
		{"income below floor", func(a *features.Applicant) { a.AnnualIncome = 500 }, "annual_income"},
		{"negative debt", func(a *features.Applicant) { a.MonthlyDebt = -10 }, "monthly_debt"},
		{"debt too high", func(a *features.Applicant) { a.MonthlyDebt = 100_001 }, "monthly_debt"},
		{"credit score low", func(a *features.Applicant) { a.CreditScore = 299 }, "credit_score"},
		{"credit score high", func(a *features.Applicant) { a.CreditScore = 851 }, "credit_score"},
		{"zero loan", func(a *features.Applicant) { a.LoanAmount = 0 }, "loan_amount"},
		{"loan too high", func(a *features.Applicant) { a.LoanAmount = 1_000_001 }, "loan_amount"},
		{"term too short", func(a *features.Applicant) { a.LoanTermMonths = 5 }, "loan_term_months"},
		{"term too long", func(a *features.Applicant) { a.LoanTermMonths = 361 }, "loan_term_months"},
		{"negative employment", func(a *features.Applicant) { a.EmploymentLengthYears = -1 }, "employment_length_years"},
		{"employment too long", func(a *features.Applicant) { a.EmploymentLengthYears = 51 }, "employment_length_years"},
		{"too many accounts", func(a *features.Applicant) { a.NumberOfOpenAccounts = 101 }, "number_of_open_accounts"},
		{"too many delinquencies", func(a *features.Applicant) { a.Delinquencies2y = 51 }, "delinquencies_2y"},
		{"too many inquiries", func(a *features.Applicant) { a.Inquiries6m = 21 }, "inquiries_6m"},
		{"unknown home ownership", func(a *features.Applicant) { a.HomeOwnership = "LEASE" }, "home_ownership"},
		{"empty home ownership", func(a *features.Applicant) { a.HomeOwnership = "" }, "home_ownership"},
		{"unknown purpose", func(a *features.Applicant) { a.Purpose = "consolidation" }, "purpose"},
		{"empty purpose", func(a *features.Applicant) { a.Purpose = "" }, "purpose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validApplicant()
			tt.mutate(a)
			errs := CheckApplicant(a)
			if len(errs) == 0 {
				t.Fatal("expected validation error")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error on field %s: %v", tt.field, errs)
			}
		})
	}
}

func TestCheckApplicantNaNInf(t *testing.T) {
	a := validApplicant()
	a.AnnualIncome = math.NaN()
	errs := CheckApplicant(a)
	if len(errs) == 0 || errs[0].Field != "annual_income" {
		t.Errorf("NaN income not caught: %v", errs)
	}

	a = validApplicant()
	a.LoanAmount = math.Inf(1)
	errs = CheckApplicant(a)
	if len(errs) == 0 || errs[0].Field != "loan_amount" {
		t.Errorf("Inf loan not caught: %v", errs)
	}
}

func TestCheckApplicantNormalizedCategoricals(t *testing.T) {
	a := validApplicant()
	a.HomeOwnership = " mortgage "
	a.Purpose = "Debt_Consolidation"
	a.Normalize()

	if errs := CheckApplicant(a); len(errs) != 0 {
		t.Errorf("normalized applicant rejected: %v", errs)
	}
}

func TestCheckApplicantCollectsMultipleErrors(t *testing.T) {
	a := validApplicant()
	a.CreditScore = 200
	a.LoanTermMonths = 1
	a.Purpose = "yacht"

	errs := CheckApplicant(a)
	if len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() == "" {
		t.Error("empty error string")
	}
}
