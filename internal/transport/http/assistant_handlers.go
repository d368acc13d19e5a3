package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/assistant"
	"github.com/vovakirdan/roomchat-server/internal/core"
)

// AssistantHandlers exposes the caller's private assistant conversation.
type AssistantHandlers struct {
	assistant *assistant.Service
	limiters  *userLimiters
	log       *zerolog.Logger
}

// NewAssistantHandlers creates a new assistant handlers instance.
func NewAssistantHandlers(svc *assistant.Service, ratePerMinute int, logger *zerolog.Logger) *AssistantHandlers {
	return &AssistantHandlers{
		assistant: svc,
		limiters:  newUserLimiters(ratePerMinute),
		log:       logger,
	}
}

// AskRequest is a prompt for the assistant.
type AskRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// Ask sends a prompt and returns the assistant reply.
// POST /api/assistant
func (h *AssistantHandlers) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	who := identity(c)
	if !h.limiters.allow(who.UserID) {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many messages", Code: "rate_limited"})
		return
	}

	reply, err := h.assistant.Ask(c.Request.Context(), who, req.Prompt)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse(reply))
}

// History returns the caller's conversation in order.
// GET /api/assistant/messages
func (h *AssistantHandlers) History(c *gin.Context) {
	msgs, err := h.assistant.History(c.Request.Context(), identity(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, messageResponses(msgs))
}

// Clear deletes the caller's conversation.
// DELETE /api/assistant/messages
func (h *AssistantHandlers) Clear(c *gin.Context) {
	if err := h.assistant.Clear(c.Request.Context(), identity(c)); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
