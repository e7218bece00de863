package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/truenorthhq/truenorth-backend/internal/platform/dbctx"
	"github.com/truenorthhq/truenorth-backend/internal/services"
)

type ChatHandler struct {
	turnService services.TurnService
}

func NewChatHandler(turnService services.TurnService) *ChatHandler {
	return &ChatHandler{turnService: turnService}
}

// Turn is POST /functions/ft_chat. Request: {session_id, user_message}.
// Success: {text, ft_meta}. Failures carry {"error": string} with 429 for
// rate limiting and 402 when credits run out.
func (ch *ChatHandler) Turn(c *gin.Context) {
	var req struct {
		SessionID   string `json:"session_id"`
		UserMessage string `json:"user_message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_message"})
		return
	}

	reply, err := ch.turnService.Send(dbctx.Context{Ctx: c.Request.Context()}, sessionID, req.UserMessage)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many messages. Please wait a moment before trying again."})
		case errors.Is(err, services.ErrCreditsExhausted):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "You've used all your free messages. Upgrade to continue."})
		case errors.Is(err, services.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "chat turn failed"})
		}
		return
	}
	c.JSON(http.StatusOK, reply)
}
