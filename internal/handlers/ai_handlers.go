package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lupohub/lupohub/internal/apierror"
	"github.com/lupohub/lupohub/internal/middleware"
)

// ChatInput defines the structure of the JSON request body.
type ChatInput struct {
	Message string `json:"message" binding:"required,max=2000"`
}

// ChatAssistant answers an inventory question.
func (h *Handlers) ChatAssistant(c *gin.Context) {
	// 1. Assistant configured?
	if h.Assistant == nil {
		c.JSON(http.StatusServiceUnavailable, apierror.New("Asistente no configurado"))
		return
	}

	// 2. Who is asking
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, apierror.New(apierror.MsgUnauthorized))
		return
	}

	// 3. Parse Input
	var input ChatInput
	if !bindJSON(c, &input) {
		return
	}

	// 4. Ask
	reply, tokens, err := h.Assistant.Reply(c.Request.Context(), input.Message, claims.Role)
	if err != nil {
		log.Error().Err(err).Int64("user_id", claims.UserID).Msg("assistant failed")
		c.JSON(http.StatusBadGateway, apierror.New("El asistente no está disponible"))
		return
	}

	log.Info().Int64("user_id", claims.UserID).Int("tokens", tokens).Msg("assistant answered")
	c.JSON(http.StatusOK, gin.H{"reply": reply, "tokens": tokens})
}
