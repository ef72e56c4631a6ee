// Package serving orchestrates the prediction request path: validation,
// cache lookup, model scoring, explanation, and the decision policy engine.
//
// The cache stores only raw predictions. Decisions are recomputed on every
// request, cached or not, so a policy change takes effect immediately
// without waiting for cache entries to expire.
package serving

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/finsight/riskserve/internal/cache"
	"github.com/finsight/riskserve/internal/explain"
	"github.com/finsight/riskserve/internal/features"
	"github.com/finsight/riskserve/internal/idgen"
	"github.com/finsight/riskserve/internal/metrics"
	"github.com/finsight/riskserve/internal/model"
	"github.com/finsight/riskserve/internal/policy"
	"github.com/finsight/riskserve/internal/traces"
	"github.com/finsight/riskserve/internal/validation"
)

// ErrBatchTooLarge is returned when a batch exceeds validation.MaxBatchSize.
var ErrBatchTooLarge = errors.New("serving: batch exceeds maximum size")

// Explainer produces a ranked explanation for an applicant.
type Explainer interface {
	Explain(a *features.Applicant, modelVersion string) *explain.Summary
}

// Service wires the serving pipeline together. All dependencies are
// injected; there is no global state.
type Service struct {
	cache     *cache.Cache
	scorer    model.Scorer
	explainer Explainer
	engine    *policy.Engine
	logger    *slog.Logger
}

// NewService creates the serving orchestrator.
func NewService(c *cache.Cache, scorer model.Scorer, explainer Explainer, engine *policy.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:     c,
		scorer:    scorer,
		explainer: explainer,
		engine:    engine,
		logger:    logger,
	}
}

// Result is the outcome of one prediction request.
type Result struct {
	RequestID    string
	RiskScore    float64
	Confidence   policy.Confidence
	ModelVersion string
	Cached       bool
	Decision     policy.CreditDecision
	Explanation  *explain.Summary
}

// cachedPayload is the opaque blob stored alongside the risk score in the
// prediction cache. The decision is deliberately not part of it.
type cachedPayload struct {
	Confidence  string           `json:"confidence"`
	Explanation *explain.Summary `json:"explanation"`
}

// Predict runs the full pipeline for one applicant. Validation failures are
// returned as validation.ValidationErrors.
func (s *Service) Predict(ctx context.Context, a *features.Applicant) (*Result, error) {
	a.Normalize()
	if errs := validation.CheckApplicant(a); len(errs) > 0 {
		return nil, errs
	}

	requestID := idgen.WithPrefix("req_")
	version := s.scorer.Version()

	ctx, span := traces.StartSpan(ctx, "serving.predict",
		traces.RequestID(requestID),
		traces.ModelVersion(version),
	)
	defer span.End()

	var (
		riskScore  float64
		confidence policy.Confidence
		summary    *explain.Summary
		cached     bool
	)

	if rec, ok := s.cache.Get(a, version); ok {
		var payload cachedPayload
		if err := json.Unmarshal(rec.Payload, &payload); err == nil {
			cached = true
			riskScore = rec.RiskScore
			confidence = policy.Confidence(payload.Confidence)
			summary = payload.Explanation
			metrics.PredictionsTotal.WithLabelValues("hit").Inc()
		}
		// A corrupt payload falls through to a fresh computation.
	}

	if !cached {
		pred, err := s.scorer.Score(ctx, a)
		if err != nil {
			return nil, err
		}
		riskScore = pred.RiskScore
		confidence = policy.Confidence(pred.Confidence)
		summary = s.explainer.Explain(a, version)
		metrics.PredictionsTotal.WithLabelValues("miss").Inc()

		payload, err := json.Marshal(cachedPayload{
			Confidence:  pred.Confidence,
			Explanation: summary,
		})
		if err == nil {
			s.cache.Put(a, version, cache.Record{
				RiskScore:    riskScore,
				ModelVersion: version,
				Payload:      payload,
			})
		}
	}

	// The explanation is addressable by this request's id regardless of
	// where the prediction came from.
	if data, err := json.Marshal(summary); err == nil {
		s.cache.PutExplanation(requestID, data)
	}

	decision := s.engine.MakeDecision(riskScore, confidence, summary)
	span.SetAttributes(
		traces.CacheOutcome(cached),
		traces.Decision(string(decision.Decision)),
		traces.RiskTier(string(decision.RiskTier)),
	)
	s.recordDecision(decision)

	// Banded fields only; raw applicant financials never reach the logs.
	s.logger.Info("prediction served",
		"request_id", requestID,
		"credit_band", creditBand(a.CreditScore),
		"dti_band", dtiBand(a.DTI()),
		"loan_band", loanBand(a.LoanAmount),
		"employment_band", employmentBand(a.EmploymentLengthYears),
		"risk_tier", decision.RiskTier,
		"decision", decision.Decision,
		"cached", cached,
		"model_version", version,
	)

	return &Result{
		RequestID:    requestID,
		RiskScore:    riskScore,
		Confidence:   confidence,
		ModelVersion: version,
		Cached:       cached,
		Decision:     decision,
		Explanation:  summary,
	}, nil
}

// BatchItem is one applicant's outcome within a batch. Exactly one of
// Result and Err is set.
type BatchItem struct {
	Result *Result
	Err    error
}

// PredictBatch runs Predict for up to validation.MaxBatchSize applicants.
// Individual failures do not abort the batch.
func (s *Service) PredictBatch(ctx context.Context, applicants []*features.Applicant) ([]BatchItem, error) {
	if len(applicants) > validation.MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	items := make([]BatchItem, len(applicants))
	for i, a := range applicants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.Predict(ctx, a)
		items[i] = BatchItem{Result: res, Err: err}
	}
	return items, nil
}

// Decide runs the policy engine directly on an externally supplied
// prediction, without touching the model or cache.
func (s *Service) Decide(pd float64, confidence policy.Confidence, summary *explain.Summary) (policy.CreditDecision, error) {
	if pd < 0 || pd > 1 {
		return policy.CreditDecision{}, validation.ValidationErrors{{
			Field: "probability_of_default", Message: "must be between 0 and 1",
		}}
	}
	switch confidence {
	case policy.ConfidenceHigh, policy.ConfidenceMedium, policy.ConfidenceLow:
	default:
		return policy.CreditDecision{}, validation.ValidationErrors{{
			Field: "confidence", Message: "must be one of HIGH, MEDIUM, LOW",
		}}
	}

	decision := s.engine.MakeDecision(pd, confidence, summary)
	s.recordDecision(decision)
	return decision, nil
}

// Explanation returns the stored explanation for a prior request id.
func (s *Service) Explanation(requestID string) (*explain.Summary, bool) {
	data, ok := s.cache.GetExplanation(requestID)
	if !ok {
		return nil, false
	}
	var summary explain.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, false
	}
	return &summary, true
}

// CacheStats exposes the cache counters for the stats endpoint.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// ClearCache drops all cached predictions and explanations. Used on model
// redeploys.
func (s *Service) ClearCache() {
	s.cache.Clear()
	s.logger.Info("prediction cache cleared")
}

// ModelVersion returns the active model version.
func (s *Service) ModelVersion() string {
	return s.scorer.Version()
}

// Thresholds returns the active policy cut points.
func (s *Service) Thresholds() policy.Thresholds {
	return s.engine.Thresholds()
}

func (s *Service) recordDecision(d policy.CreditDecision) {
	metrics.DecisionsTotal.WithLabelValues(string(d.Decision), string(d.RiskTier)).Inc()
	if d.OverrideApplied {
		metrics.OverridesTotal.Inc()
	}
	if d.RiskEscalated {
		metrics.EscalationsTotal.Inc()
	}
}

// creditBand buckets a credit score so logs stay free of raw financials.
func creditBand(score int) string {
	switch {
	case score >= 750:
		return "EXCELLENT"
	case score >= 700:
		return "GOOD"
	case score >= 650:
		return "FAIR"
	case score >= 580:
		return "POOR"
	default:
		return "VERY_POOR"
	}
}

// dtiBand buckets a debt-to-income percentage.
func dtiBand(dti float64) string {
	switch {
	case dti < 20:
		return "LOW"
	case dti < 36:
		return "MODERATE"
	case dti < 43:
		return "ELEVATED"
	default:
		return "HIGH"
	}
}

func loanBand(amount float64) string {
	switch {
	case amount < 10_000:
		return "SMALL"
	case amount < 50_000:
		return "MEDIUM"
	case amount < 200_000:
		return "LARGE"
	default:
		return "VERY_LARGE"
	}
}

func employmentBand(years float64) string {
	switch {
	case years < 1:
		return "NEW"
	case years < 3:
		return "JUNIOR"
	case years < 8:
		return "EXPERIENCED"
	default:
		return "SENIOR"
	}
}
