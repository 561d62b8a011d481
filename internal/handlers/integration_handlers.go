package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lupohub/lupohub/internal/apierror"
	"github.com/lupohub/lupohub/internal/integrations"
	"github.com/lupohub/lupohub/internal/marketplace/mercadolibre"
	"github.com/lupohub/lupohub/internal/models"
)

func platformParam(c *gin.Context) (models.Platform, bool) {
	p, ok := models.ParsePlatform(c.Param("platform"))
	if !ok {
		c.JSON(http.StatusBadRequest, apierror.New("Plataforma desconocida"))
	}
	return p, ok
}

// IntegrationStatus reports the connection state of every marketplace.
func (h *Handlers) IntegrationStatus(c *gin.Context) {
	status, err := h.Credentials.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// IntegrationAuthURL returns the marketplace authorization URL.
func (h *Handlers) IntegrationAuthURL(c *gin.Context) {
	platform, ok := platformParam(c)
	if !ok {
		return
	}
	url, err := h.OAuth.AuthURL(platform)
	if err != nil {
		log.Warn().Err(err).Str("platform", string(platform)).Msg("oauth not configured")
		c.JSON(http.StatusServiceUnavailable, apierror.New("Integración no configurada"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// IntegrationCallback completes the authorization-code exchange.
func (h *Handlers) IntegrationCallback(c *gin.Context) {
	platform, ok := platformParam(c)
	if !ok {
		return
	}
	if e := c.Query("error"); e != "" {
		c.JSON(http.StatusBadRequest, apierror.New("Autorización rechazada: "+e))
		return
	}

	status, err := h.OAuth.Callback(c.Request.Context(), platform, c.Query("code"), c.Query("state"))
	if err != nil {
		respondError(c, err)
		return
	}
	log.Info().Str("platform", string(platform)).Msg("integration connected")
	c.JSON(http.StatusOK, gin.H{"message": "Integración conectada", "integration": status})
}

// DisconnectIntegration forgets the stored credential.
func (h *Handlers) DisconnectIntegration(c *gin.Context) {
	platform, ok := platformParam(c)
	if !ok {
		return
	}
	if err := h.Credentials.Delete(c.Request.Context(), platform); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Integración desconectada"})
}

// SyncTiendaNube imports the Tienda Nube catalog. Partial failures are
// listed in logs.
func (h *Handlers) SyncTiendaNube(c *gin.Context) {
	platform, ok := platformParam(c)
	if !ok {
		return
	}
	if platform != models.PlatformTiendaNube {
		c.JSON(http.StatusBadRequest, apierror.New("La importación solo está disponible para Tienda Nube"))
		return
	}
	result, err := h.Importer.Run(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// MarketplaceOrders lists recent orders of one marketplace.
func (h *Handlers) MarketplaceOrders(c *gin.Context) {
	platform, ok := platformParam(c)
	if !ok {
		return
	}
	limit := min(max(queryInt(c, "limit", 20), 1), 50)
	orders, err := h.Marketplaces.Recent(c.Request.Context(), platform, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"platform": platform,
		"orders":   orders,
		"total":    integrations.SalesTotal(orders),
	})
}

// --- Webhooks ---

// TiendaNubeWebhook applies paid orders. Failures answer non-2xx so the
// delivery is retried; redeliveries are no-ops.
func (h *Handlers) TiendaNubeWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("Cuerpo inválido"))
		return
	}

	summary, err := h.Webhooks.TiendaNube(c.Request.Context(), body, c.GetHeader("X-Linkedstore-HMAC-SHA256"))
	if errors.Is(err, integrations.ErrInvalidSignature) {
		c.JSON(http.StatusUnauthorized, apierror.New("Firma inválida"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	logSummary(models.PlatformTiendaNube, summary)
	c.JSON(http.StatusOK, gin.H{"received": true, "summary": summary})
}

// MercadoLibreWebhook handles notifications for the orders_v2 topic.
func (h *Handlers) MercadoLibreWebhook(c *gin.Context) {
	var n mercadolibre.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("JSON inválido"))
		return
	}

	summary, err := h.Webhooks.MercadoLibre(c.Request.Context(), n)
	if err != nil {
		respondError(c, err)
		return
	}
	logSummary(models.PlatformMercadoLibre, summary)
	c.JSON(http.StatusOK, gin.H{"received": true, "summary": summary})
}

func logSummary(platform models.Platform, s *integrations.SaleSummary) {
	if s == nil {
		return
	}
	ev := log.Info()
	if len(s.Errors) > 0 {
		ev = log.Warn().Strs("errors", s.Errors)
	}
	ev.Str("platform", string(platform)).Int64("order_id", s.OrderID).
		Int("applied", s.Applied).Int("skipped", s.Skipped).Msg("marketplace sale processed")
}
