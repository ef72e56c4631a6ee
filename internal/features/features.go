// Package features defines the applicant feature record and the canonical
// cache key derivation used by the prediction cache.
//
// Two numerically equivalent requests must collapse to one key, and nothing
// outside the eleven model features (no names, no addresses, no metadata)
// may ever enter the key material.
package features

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Applicant holds the eleven model features for a single loan application.
// Field names follow the frozen v1 request schema.
type Applicant struct {
	AnnualIncome          float64 `json:"annual_income" binding:"required"`
	MonthlyDebt           float64 `json:"monthly_debt"`
	CreditScore           int     `json:"credit_score" binding:"required"`
	LoanAmount            float64 `json:"loan_amount" binding:"required"`
	LoanTermMonths        int     `json:"loan_term_months" binding:"required"`
	EmploymentLengthYears float64 `json:"employment_length_years"`
	HomeOwnership         string  `json:"home_ownership" binding:"required"`
	Purpose               string  `json:"purpose" binding:"required"`
	NumberOfOpenAccounts  int     `json:"number_of_open_accounts"`
	Delinquencies2y       int     `json:"delinquencies_2y"`
	Inquiries6m           int     `json:"inquiries_6m"`
}

// Normalize canonicalizes the categorical fields in place. Applied once at
// the API boundary so scoring and validation see the same values the cache
// key is built from.
func (a *Applicant) Normalize() {
	a.HomeOwnership = strings.ToUpper(strings.TrimSpace(a.HomeOwnership))
	a.Purpose = strings.ToLower(strings.TrimSpace(a.Purpose))
}

// DTI returns the debt-to-income ratio as a percentage of monthly income.
// Zero income yields zero rather than Inf; range validation rejects
// nonsensical incomes before scoring.
func (a *Applicant) DTI() float64 {
	monthlyIncome := a.AnnualIncome / 12
	if monthlyIncome <= 0 {
		return 0
	}
	return (a.MonthlyDebt / monthlyIncome) * 100
}

// round2 rounds a float to 2 decimal places so that inputs differing only
// in sub-cent noise produce the same cache key.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// canonical serializes the sanitized feature set deterministically:
// float values rounded to 2 decimal places, fields sorted by name,
// rendered as name=value pairs joined by "&".
func (a *Applicant) canonical() string {
	fields := map[string]string{
		"annual_income":           strconv.FormatFloat(round2(a.AnnualIncome), 'f', -1, 64),
		"monthly_debt":            strconv.FormatFloat(round2(a.MonthlyDebt), 'f', -1, 64),
		"credit_score":            strconv.Itoa(a.CreditScore),
		"loan_amount":             strconv.FormatFloat(round2(a.LoanAmount), 'f', -1, 64),
		"loan_term_months":        strconv.Itoa(a.LoanTermMonths),
		"employment_length_years": strconv.FormatFloat(round2(a.EmploymentLengthYears), 'f', -1, 64),
		"home_ownership":          strings.ToUpper(strings.TrimSpace(a.HomeOwnership)),
		"purpose":                 strings.ToLower(strings.TrimSpace(a.Purpose)),
		"number_of_open_accounts": strconv.Itoa(a.NumberOfOpenAccounts),
		"delinquencies_2y":        strconv.Itoa(a.Delinquencies2y),
		"inquiries_6m":            strconv.Itoa(a.Inquiries6m),
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(fields[name])
	}
	return b.String()
}

// CacheKey derives the content-addressable cache key for this feature set
// under the given model version:
//
//	SHA256(canonical(features) + "|" + modelVersion)
//
// returned as a hex string. The model version is part of the key so that
// entries written under one model can never be served for another.
func (a *Applicant) CacheKey(modelVersion string) string {
	sum := sha256.Sum256([]byte(a.canonical() + "|" + modelVersion))
	return hex.EncodeToString(sum[:])
}
