// Package validation provides request validation for the riskserve API:
// request-size limiting plus business-range and data-quality checks on
// applicant features, a second layer beyond JSON binding.
package validation

import (
	"fmt"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finsight/riskserve/internal/features"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxBatchSize caps the number of applicants in one batch request.
const MaxBatchSize = 100

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Allowed categorical values, matching the frozen v1 schema.
var (
	allowedHomeOwnership = map[string]bool{
		"RENT": true, "OWN": true, "MORTGAGE": true, "OTHER": true,
	}
	allowedPurposes = map[string]bool{
		"debt_consolidation": true,
		"home_improvement":   true,
		"major_purchase":     true,
		"medical":            true,
		"business":           true,
		"car":                true,
		"vacation":           true,
		"wedding":            true,
		"moving":             true,
		"other":              true,
	}
)

// CheckApplicant validates the applicant against business ranges and data
// quality rules. The applicant should be normalized first. Returns nil when
// valid; never mutates its input.
func CheckApplicant(a *features.Applicant) ValidationErrors {
	var errs ValidationErrors

	add := func(field, message string) {
		errs = append(errs, ValidationError{Field: field, Message: message})
	}

	// NaN and Inf slip through JSON bindings that accept extended float
	// syntax; they must never reach scoring or the cache key.
	finiteChecks := []struct {
		field string
		value float64
	}{
		{"annual_income", a.AnnualIncome},
		{"monthly_debt", a.MonthlyDebt},
		{"loan_amount", a.LoanAmount},
		{"employment_length_years", a.EmploymentLengthYears},
	}
	for _, fc := range finiteChecks {
		if math.IsNaN(fc.value) {
			add(fc.field, "contains NaN, provide a valid numeric value")
		} else if math.IsInf(fc.value, 0) {
			add(fc.field, "contains Infinity, provide a finite numeric value")
		}
	}
	if len(errs) > 0 {
		return errs
	}

	switch {
	case a.AnnualIncome < 0:
		add("annual_income", "cannot be negative")
	case a.AnnualIncome > 10_000_000:
		add("annual_income", "exceeds maximum (10M)")
	case a.AnnualIncome > 0 && a.AnnualIncome < 1000:
		add("annual_income", "too low (minimum 1000)")
	}

	if a.MonthlyDebt < 0 {
		add("monthly_debt", "cannot be negative")
	} else if a.MonthlyDebt > 100_000 {
		add("monthly_debt", "exceeds maximum (100K)")
	}

	if a.CreditScore < 300 || a.CreditScore > 850 {
		add("credit_score", "must be between 300 and 850")
	}

	if a.LoanAmount < 1 {
		add("loan_amount", "must be at least 1")
	} else if a.LoanAmount > 1_000_000 {
		add("loan_amount", "exceeds maximum (1M)")
	}

	if a.LoanTermMonths < 6 || a.LoanTermMonths > 360 {
		add("loan_term_months", "must be between 6 and 360")
	}

	if a.EmploymentLengthYears < 0 || a.EmploymentLengthYears > 50 {
		add("employment_length_years", "must be between 0 and 50")
	}

	if a.NumberOfOpenAccounts < 0 || a.NumberOfOpenAccounts > 100 {
		add("number_of_open_accounts", "must be between 0 and 100")
	}

	if a.Delinquencies2y < 0 || a.Delinquencies2y > 50 {
		add("delinquencies_2y", "must be between 0 and 50")
	}

	if a.Inquiries6m < 0 || a.Inquiries6m > 20 {
		add("inquiries_6m", "must be between 0 and 20")
	}

	if !allowedHomeOwnership[a.HomeOwnership] {
		add("home_ownership", "must be one of RENT, OWN, MORTGAGE, OTHER")
	}

	if !allowedPurposes[a.Purpose] {
		add("purpose", fmt.Sprintf("unknown loan purpose %q", a.Purpose))
	}

	return errs
}
