package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/truenorthhq/truenorth-backend/internal/platform/dbctx"
	"github.com/truenorthhq/truenorth-backend/internal/services"
)

type SessionHandler struct {
	sessionService services.SessionService
}

func NewSessionHandler(sessionService services.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

func resolvedBody(res *services.Resolved) gin.H {
	body := gin.H{
		"session":  res.Session,
		"messages": res.Messages,
		"created":  res.Created,
	}
	if res.CurrentMeta != nil {
		body["current_meta"] = res.CurrentMeta
	}
	return body
}

// Current resolves the caller's active session: the most recently updated
// resumable one, or a fresh session when none exists.
func (sh *SessionHandler) Current(c *gin.Context) {
	res, err := sh.sessionService.Resolve(dbctx.Context{Ctx: c.Request.Context()}, services.ResolveOptions{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve session"})
		return
	}
	c.JSON(http.StatusOK, resolvedBody(res))
}

// Create always starts a fresh session regardless of resumable history.
func (sh *SessionHandler) Create(c *gin.Context) {
	res, err := sh.sessionService.Resolve(dbctx.Context{Ctx: c.Request.Context()}, services.ResolveOptions{ForceNew: true})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusCreated, resolvedBody(res))
}

func (sh *SessionHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	res, err := sh.sessionService.Get(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	c.JSON(http.StatusOK, resolvedBody(res))
}

func (sh *SessionHandler) ListMessages(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	messages, err := sh.sessionService.ListMessages(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// PatchStatus is the corrective-write endpoint: it patches status only and
// never touches collected_data.
func (sh *SessionHandler) PatchStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing status"})
		return
	}
	if err := sh.sessionService.PatchStatus(dbctx.Context{Ctx: c.Request.Context()}, id, req.Status); err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "true"})
}
