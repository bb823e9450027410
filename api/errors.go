package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vitwit/gasstation/types"
)

const (
	codeInvalidRequest  = "INVALID_REQUEST"
	codeUnauthenticated = "UNAUTHENTICATED"
	codeInternal        = "INTERNAL"
)

type errorResponse struct {
	Code          string      `json:"code"`
	Message       string      `json:"message"`
	Data          interface{} `json:"data,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
}

// StatusFor maps a station error code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case types.CodeUnauthorized:
		return http.StatusForbidden
	case types.CodeAlreadyAdmin, types.CodeNotAdmin, types.CodeLastAdminViolation,
		types.CodeEmptyBalance, types.CodePriceMismatch:
		return http.StatusConflict
	case types.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case types.CodeRateLimited:
		return http.StatusTooManyRequests
	case types.CodeInvalidCoinType, types.CodeInvalidAddress, types.CodeInvalidPrice, types.CodeInvalidConfig:
		return http.StatusBadRequest
	case types.CodeBalanceOverflow:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(c *gin.Context, err error) {
	code := types.CodeOf(err)
	if code == "" {
		s.logger.Error("station operation failed", map[string]any{
			"correlation_id": c.GetString(correlationIDKey),
			"operation":      Operation(c),
			"error":          err,
		})
		abortWithError(c, http.StatusInternalServerError, codeInternal, "internal error", nil)
		return
	}

	var data interface{}
	var gsErr *types.GasStationError
	if errors.As(err, &gsErr) {
		data = gsErr.Data
	}
	abortWithError(c, StatusFor(code), code, err.Error(), data)
}

func abortWithError(c *gin.Context, status int, code, message string, data interface{}) {
	c.AbortWithStatusJSON(status, errorResponse{
		Code:          code,
		Message:       message,
		Data:          data,
		CorrelationID: c.GetString(correlationIDKey),
	})
}
