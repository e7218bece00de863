package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/truenorthhq/truenorth-backend/internal/platform/dbctx"
	"github.com/truenorthhq/truenorth-backend/internal/requestdata"
	"github.com/truenorthhq/truenorth-backend/internal/services"
)

type IdeasHandler struct {
	ideasService services.IdeasService
}

func NewIdeasHandler(ideasService services.IdeasService) *IdeasHandler {
	return &IdeasHandler{ideasService: ideasService}
}

// Generate runs the report generation for a paid session. Idempotent: a
// session that already has a report gets the stored one back.
func (ih *IdeasHandler) Generate(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	report, err := ih.ideasService.Generate(dbctx.Context{Ctx: c.Request.Context()}, sessionID, rd.UserID)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
