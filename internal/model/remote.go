package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/finsight/riskserve/internal/circuitbreaker"
	"github.com/finsight/riskserve/internal/features"
	"github.com/finsight/riskserve/internal/retry"
)

// ErrModelUnavailable is returned when the inference service circuit is open.
var ErrModelUnavailable = errors.New("model: inference service unavailable")

const (
	remoteTimeout     = 5 * time.Second
	remoteMaxAttempts = 3
	remoteBaseDelay   = 100 * time.Millisecond
	breakerKey        = "inference"
)

// RemoteModel scores applicants against an external inference service.
// Transient failures are retried with backoff; repeated failures trip a
// circuit breaker so a dead service fails fast instead of holding up the
// request path.
type RemoteModel struct {
	endpoint string
	version  string
	client   *http.Client
	breaker  *circuitbreaker.Breaker
	logger   *slog.Logger
}

// NewRemoteModel creates a scorer backed by the inference service at
// endpoint. The version is pinned at construction; responses reporting a
// different version are rejected so cached predictions stay consistent.
func NewRemoteModel(endpoint, version string, logger *slog.Logger) *RemoteModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteModel{
		endpoint: endpoint,
		version:  version,
		client:   &http.Client{Timeout: remoteTimeout},
		breaker:  circuitbreaker.New(5, 30*time.Second),
		logger:   logger,
	}
}

// Version returns the pinned model version.
func (m *RemoteModel) Version() string {
	return m.version
}

// Score requests a prediction from the inference service.
func (m *RemoteModel) Score(ctx context.Context, a *features.Applicant) (Prediction, error) {
	if !m.breaker.Allow(breakerKey) {
		return Prediction{}, ErrModelUnavailable
	}

	body, err := json.Marshal(a)
	if err != nil {
		return Prediction{}, fmt.Errorf("encode scoring request: %w", err)
	}

	var pred Prediction
	err = retry.Do(ctx, remoteMaxAttempts, remoteBaseDelay, func() error {
		p, err := m.scoreOnce(ctx, body)
		if err != nil {
			return err
		}
		pred = p
		return nil
	})
	if err != nil {
		m.breaker.RecordFailure(breakerKey)
		return Prediction{}, err
	}

	m.breaker.RecordSuccess(breakerKey)
	return pred, nil
}

func (m *RemoteModel) scoreOnce(ctx context.Context, body []byte) (Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/score", bytes.NewReader(body))
	if err != nil {
		return Prediction{}, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return Prediction{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return Prediction{}, fmt.Errorf("inference service returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		// Client errors will not improve on retry.
		io.Copy(io.Discard, resp.Body)
		return Prediction{}, retry.Permanent(fmt.Errorf("inference service returned %d", resp.StatusCode))
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return Prediction{}, fmt.Errorf("decode scoring response: %w", err)
	}

	if pred.ModelVersion != m.version {
		m.logger.Warn("inference service version mismatch",
			"expected", m.version,
			"got", pred.ModelVersion,
		)
		return Prediction{}, retry.Permanent(fmt.Errorf("model version mismatch: expected %s, got %s",
			m.version, pred.ModelVersion))
	}
	if pred.RiskScore < 0 || pred.RiskScore > 1 {
		return Prediction{}, retry.Permanent(fmt.Errorf("risk score %v out of range", pred.RiskScore))
	}

	return pred, nil
}
