package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/planillas/models"
)

// respondError writes err as a LookupResponse with the matching status.
func respondError(c *gin.Context, err error, timing *models.TimingInfo) {
	detail := toDetail(err)
	c.JSON(mapErrorToStatus(detail.Code), models.LookupResponse{
		Error:  detail,
		Timing: timing,
	})
}

// toDetail converts any error to an API-facing ErrorDetail.
func toDetail(err error) *models.ErrorDetail {
	var scrapeErr *models.ScrapeError
	switch {
	case errors.As(err, &scrapeErr):
		return scrapeErr.ToDetail()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &models.ErrorDetail{Code: models.ErrCodeTimeout, Message: err.Error()}
	default:
		return &models.ErrorDetail{Code: models.ErrCodeInternal, Message: err.Error()}
	}
}

// mapErrorToStatus maps error codes to HTTP status codes.
func mapErrorToStatus(code string) int {
	switch code {
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case models.ErrCodeNotFound:
		return http.StatusNotFound
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case models.ErrCodeSessionNotReady, models.ErrCodeQueueClosed:
		return http.StatusServiceUnavailable
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func invalidInput(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.LookupResponse{
		Error: &models.ErrorDetail{
			Code:    models.ErrCodeInvalidInput,
			Message: err.Error(),
		},
	})
}
