package model

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/finsight/riskserve/internal/features"
)

func remoteTestApplicant() *features.Applicant {
	return &features.Applicant{
		AnnualIncome:          90000,
		MonthlyDebt:           1200,
		CreditScore:           720,
		LoanAmount:            15000,
		LoanTermMonths:        36,
		EmploymentLengthYears: 5,
		HomeOwnership:         "OWN",
		Purpose:               "car",
		NumberOfOpenAccounts:  5,
	}
}

func newRemote(url string) *RemoteModel {
	return NewRemoteModel(url, "remote-v2", slog.New(slog.DiscardHandler))
}

func TestRemoteModel_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/score" {
			t.Errorf("expected /score, got %s", r.URL.Path)
		}
		var a features.Applicant
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if a.CreditScore != 720 {
			t.Errorf("expected credit score 720, got %d", a.CreditScore)
		}
		json.NewEncoder(w).Encode(Prediction{
			RiskScore:    0.42,
			Confidence:   "MEDIUM",
			ModelVersion: "remote-v2",
		})
	}))
	defer srv.Close()

	m := newRemote(srv.URL)
	pred, err := m.Score(context.Background(), remoteTestApplicant())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if pred.RiskScore != 0.42 {
		t.Errorf("expected risk score 0.42, got %v", pred.RiskScore)
	}
	if pred.Confidence != "MEDIUM" {
		t.Errorf("expected MEDIUM confidence, got %s", pred.Confidence)
	}
}

func TestRemoteModel_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(Prediction{RiskScore: 0.1, Confidence: "HIGH", ModelVersion: "remote-v2"})
	}))
	defer srv.Close()

	m := newRemote(srv.URL)
	pred, err := m.Score(context.Background(), remoteTestApplicant())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if pred.RiskScore != 0.1 {
		t.Errorf("expected risk score 0.1, got %v", pred.RiskScore)
	}
}

func TestRemoteModel_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	m := newRemote(srv.URL)
	if _, err := m.Score(context.Background(), remoteTestApplicant()); err == nil {
		t.Fatal("expected error for 422 response")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", got)
	}
}

func TestRemoteModel_VersionMismatchRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Prediction{RiskScore: 0.2, Confidence: "HIGH", ModelVersion: "remote-v1"})
	}))
	defer srv.Close()

	m := newRemote(srv.URL)
	if _, err := m.Score(context.Background(), remoteTestApplicant()); err == nil {
		t.Fatal("expected error for version mismatch")
	}
}

func TestRemoteModel_OutOfRangeScoreRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Prediction{RiskScore: 1.7, Confidence: "HIGH", ModelVersion: "remote-v2"})
	}))
	defer srv.Close()

	m := newRemote(srv.URL)
	if _, err := m.Score(context.Background(), remoteTestApplicant()); err == nil {
		t.Fatal("expected error for out-of-range score")
	}
}

func TestRemoteModel_BreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := newRemote(srv.URL)
	ctx := context.Background()

	// Each Score exhausts its retries and counts as one breaker failure.
	for i := 0; i < 5; i++ {
		if _, err := m.Score(ctx, remoteTestApplicant()); err == nil {
			t.Fatal("expected failure")
		}
	}

	// Circuit is now open: fail fast without hitting the service.
	_, err := m.Score(ctx, remoteTestApplicant())
	if err != ErrModelUnavailable {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestRemoteModel_Version(t *testing.T) {
	m := newRemote("http://inference.internal")
	if m.Version() != "remote-v2" {
		t.Errorf("expected pinned version, got %s", m.Version())
	}
}
