package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
	"github.com/soundprediction/kpset"
	"github.com/soundprediction/kpset/pkg/model"
	"github.com/soundprediction/kpset/pkg/server/dto"
)

// PredictHandler handles keyphrase prediction requests
type PredictHandler struct {
	kpset  kpset.Kpset
	logger *slog.Logger
}

// NewPredictHandler creates a new predict handler
func NewPredictHandler(k kpset.Kpset, logger *slog.Logger) *PredictHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictHandler{
		kpset:  k,
		logger: logger,
	}
}

// Predict handles POST /api/v1/predict
func (h *PredictHandler) Predict(c *gin.Context) {
	var req dto.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, dto.CodeInvalidRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(c, http.StatusBadRequest, dto.CodeInvalidRequest, err.Error())
		return
	}
	if h.kpset == nil {
		writeError(c, http.StatusServiceUnavailable, dto.CodeModelUnavailable, "kpset client not initialized")
		return
	}

	ctx := c.Request.Context()
	preds, err := h.kpset.PredictDocuments(ctx, req.Documents)
	if err != nil {
		status, code := classify(err)
		h.logger.ErrorContext(ctx, "Prediction request failed",
			"documents", len(req.Documents),
			"status", status,
			"error", err)
		writeError(c, status, code, err.Error())
		return
	}

	c.JSON(http.StatusOK, dto.PredictResponse{
		Predictions: preds,
		Count:       len(preds),
	})
}

// classify maps a prediction error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, model.ErrUnavailable):
		return http.StatusServiceUnavailable, dto.CodeModelUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, dto.CodeTimeout
	}
	var se *model.StatusError
	if errors.As(err, &se) && se.Temporary() {
		return http.StatusServiceUnavailable, dto.CodeModelUnavailable
	}
	return http.StatusInternalServerError, dto.CodePredictFailed
}

// writeError writes an error response as JSON
func writeError(c *gin.Context, status int, errCode, message string) {
	c.JSON(status, dto.ErrorResponse{
		Error:   errCode,
		Message: message,
		Code:    status,
	})
}
