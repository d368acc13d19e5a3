package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/assistant"
	"github.com/vovakirdan/roomchat-server/internal/core"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func statusForCode(code string) int {
	switch code {
	case core.ErrCodeBadRequest:
		return http.StatusBadRequest
	case core.ErrCodeAuthRequired:
		return http.StatusUnauthorized
	case core.ErrCodeNotInRoom:
		return http.StatusForbidden
	case core.ErrCodeRoomNotFound:
		return http.StatusNotFound
	case core.ErrCodeDuplicateName:
		return http.StatusConflict
	case core.ErrCodeTransientIO, core.ErrCodeConnectionLost:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error to its HTTP response.
func writeError(c *gin.Context, log *zerolog.Logger, err error) {
	if errors.Is(err, assistant.ErrDisabled) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "assistant_disabled"})
		return
	}

	ce := core.ToCoreError(err)
	status := statusForCode(ce.Code)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.JSON(status, ErrorResponse{Error: ce.Message, Code: ce.Code})
}
