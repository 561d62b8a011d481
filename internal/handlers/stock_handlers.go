package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lupohub/lupohub/internal/apierror"
	"github.com/lupohub/lupohub/internal/inventory"
	"github.com/lupohub/lupohub/internal/models"
)

// ListMovements pages through the stock movement log.
func (h *Handlers) ListMovements(c *gin.Context) {
	filter := inventory.MovementFilter{
		Type:      models.MovementType(c.Query("type")),
		Reference: c.Query("reference"),
		Page:      queryInt(c, "page", 1),
		Limit:     queryInt(c, "limit", 100),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		c.JSON(http.StatusBadRequest, apierror.New("Tipo de movimiento inválido"))
		return
	}
	if v := c.Query("variantId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, apierror.New("variantId inválido"))
			return
		}
		filter.VariantID = id
	}

	movements, total, err := h.Inventory.ListMovements(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": movements, "total": total, "page": max(filter.Page, 1)})
}

// SyncVariantStock pushes the current level of a variant to every linked
// marketplace. The pushes run in the background.
func (h *Handlers) SyncVariantStock(c *gin.Context) {
	id, ok := paramID(c, "variantId")
	if !ok {
		return
	}
	stock, err := h.Inventory.SyncVariant(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"variantId": id, "stock": stock, "message": "Sincronización encolada"})
}

// ListSyncJobs shows the state of background pushes, ?status= filtered.
func (h *Handlers) ListSyncJobs(c *gin.Context) {
	status := models.SyncJobStatus(c.Query("status"))
	jobs, err := h.Jobs.List(c.Request.Context(), status, queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}
