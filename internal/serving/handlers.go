package serving

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finsight/riskserve/internal/cache"
	"github.com/finsight/riskserve/internal/explain"
	"github.com/finsight/riskserve/internal/features"
	"github.com/finsight/riskserve/internal/logging"
	"github.com/finsight/riskserve/internal/policy"
	"github.com/finsight/riskserve/internal/validation"
)

// Handler exposes the serving pipeline over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates the HTTP handler for the v1 API.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the v1 API on the given router.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/predict", h.Predict)
	v1.POST("/predict/batch", h.PredictBatch)
	v1.POST("/decision", h.Decide)
	v1.GET("/explain/:requestId", h.Explain)
	v1.GET("/cache/stats", h.CacheStats)
	v1.POST("/cache/clear", h.ClearCache)
	v1.GET("/model", h.ModelInfo)
}

// errorBody is the machine-readable error carried in every failed envelope.
type errorBody struct {
	Code    string                      `json:"code"`
	Message string                      `json:"message"`
	Details validation.ValidationErrors `json:"details,omitempty"`
}

// predictionBody is the decision portion of a prediction response.
type predictionBody struct {
	RiskScore         float64 `json:"risk_score"`
	RiskTier          string  `json:"risk_tier"`
	Decision          string  `json:"decision"`
	DecisionReason    string  `json:"decision_reason"`
	RecommendedAction string  `json:"recommended_action"`
	OverrideApplied   bool    `json:"override_applied"`
	OverrideReason    string  `json:"override_reason,omitempty"`
	RiskEscalated     bool    `json:"risk_escalated"`
}

// predictEnvelope is the response shape for /v1/predict. Every field is
// present in both success and error responses so clients never branch on
// field existence.
type predictEnvelope struct {
	Status       string           `json:"status"`
	RequestID    string           `json:"request_id"`
	ModelVersion string           `json:"model_version"`
	Cached       bool             `json:"cached"`
	Prediction   *predictionBody  `json:"prediction"`
	Confidence   string           `json:"confidence"`
	Explanation  *explain.Summary `json:"explanation"`
	Error        *errorBody       `json:"error"`
}

func successEnvelope(res *Result) predictEnvelope {
	return predictEnvelope{
		Status:       "success",
		RequestID:    res.RequestID,
		ModelVersion: res.ModelVersion,
		Cached:       res.Cached,
		Prediction: &predictionBody{
			RiskScore:         res.RiskScore,
			RiskTier:          string(res.Decision.RiskTier),
			Decision:          string(res.Decision.Decision),
			DecisionReason:    res.Decision.DecisionReason,
			RecommendedAction: res.Decision.RecommendedAction,
			OverrideApplied:   res.Decision.OverrideApplied,
			OverrideReason:    res.Decision.OverrideReason,
			RiskEscalated:     res.Decision.RiskEscalated,
		},
		Confidence:  string(res.Confidence),
		Explanation: res.Explanation,
	}
}

func failureEnvelope(code, message string, details validation.ValidationErrors) predictEnvelope {
	return predictEnvelope{
		Status: "error",
		Error:  &errorBody{Code: code, Message: message, Details: details},
	}
}

// Predict handles POST /v1/predict.
func (h *Handler) Predict(c *gin.Context) {
	var applicant features.Applicant
	if err := c.ShouldBindJSON(&applicant); err != nil {
		c.JSON(http.StatusBadRequest, failureEnvelope(
			"invalid_request", "Request body is not a valid application", nil))
		return
	}

	res, err := h.svc.Predict(c.Request.Context(), &applicant)
	if err != nil {
		h.writePredictError(c, err)
		return
	}

	c.JSON(http.StatusOK, successEnvelope(res))
}

type batchRequest struct {
	Applications []*features.Applicant `json:"applications" binding:"required"`
}

// PredictBatch handles POST /v1/predict/batch. Item failures are reported
// per item; the batch itself succeeds as long as it is well formed.
func (h *Handler) PredictBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain an applications array",
		})
		return
	}
	if len(req.Applications) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "applications must not be empty",
		})
		return
	}

	items, err := h.svc.PredictBatch(c.Request.Context(), req.Applications)
	if err != nil {
		if errors.Is(err, ErrBatchTooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":    "batch_too_large",
				"message":  "Batch exceeds the maximum size",
				"max_size": validation.MaxBatchSize,
			})
			return
		}
		logging.L(c.Request.Context()).Error("batch prediction failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Batch could not be processed",
		})
		return
	}

	results := make([]predictEnvelope, len(items))
	succeeded := 0
	for i, item := range items {
		if item.Err != nil {
			results[i] = h.itemFailure(item.Err)
			continue
		}
		results[i] = successEnvelope(item.Result)
		succeeded++
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"count":     len(results),
		"succeeded": succeeded,
		"results":   results,
	})
}

type decisionRequest struct {
	// Pointer so an explicit zero survives required validation.
	ProbabilityOfDefault *float64         `json:"probability_of_default" binding:"required"`
	Confidence           string           `json:"confidence" binding:"required"`
	Explanation          *explain.Summary `json:"explanation"`
}

// Decide handles POST /v1/decision: policy evaluation for an externally
// produced prediction, bypassing model and cache.
func (h *Handler) Decide(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "probability_of_default and confidence are required",
		})
		return
	}

	decision, err := h.svc.Decide(*req.ProbabilityOfDefault, policy.Confidence(req.Confidence), req.Explanation)
	if err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "validation_error",
				"message": "Decision request failed validation",
				"details": verrs,
			})
			return
		}
		logging.L(c.Request.Context()).Error("decision evaluation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Decision could not be evaluated",
		})
		return
	}

	c.JSON(http.StatusOK, decision)
}

// Explain handles GET /v1/explain/:requestId.
func (h *Handler) Explain(c *gin.Context) {
	requestID := c.Param("requestId")

	summary, ok := h.svc.Explanation(requestID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No explanation found for this request id",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":  requestID,
		"explanation": summary,
	})
}

// CacheStats handles GET /v1/cache/stats.
func (h *Handler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.CacheStats())
}

// ClearCache handles POST /v1/cache/clear.
func (h *Handler) ClearCache(c *gin.Context) {
	h.svc.ClearCache()
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Prediction cache cleared",
	})
}

// ModelInfo handles GET /v1/model.
func (h *Handler) ModelInfo(c *gin.Context) {
	t := h.svc.Thresholds()
	c.JSON(http.StatusOK, gin.H{
		"model_version":       h.svc.ModelVersion(),
		"model_type":          "deterministic_scorecard",
		"high_risk_threshold": cache.HighRiskThreshold,
		"thresholds": gin.H{
			"low_risk":             t.LowRiskThreshold,
			"medium_risk":          t.MediumRiskThreshold,
			"strong_factor_impact": t.StrongFactorImpact,
			"strong_factor_count":  t.StrongFactorCount,
		},
	})
}

func (h *Handler) writePredictError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusUnprocessableEntity, failureEnvelope(
			"validation_error", "Application failed validation", verrs))
		return
	}

	logging.L(c.Request.Context()).Error("prediction failed", "error", err)
	c.JSON(http.StatusInternalServerError, failureEnvelope(
		"internal_error", "Prediction could not be completed", nil))
}

func (h *Handler) itemFailure(err error) predictEnvelope {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		return failureEnvelope("validation_error", "Application failed validation", verrs)
	}
	return failureEnvelope("internal_error", "Prediction could not be completed", nil)
}
