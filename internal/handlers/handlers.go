package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/lupohub/lupohub/internal/ai"
	"github.com/lupohub/lupohub/internal/apierror"
	"github.com/lupohub/lupohub/internal/auth"
	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/integrations"
	"github.com/lupohub/lupohub/internal/inventory"
	"github.com/lupohub/lupohub/internal/marketplace"
	"github.com/lupohub/lupohub/internal/marketplace/mercadolibre"
	"github.com/lupohub/lupohub/internal/worker"
)

// Handlers struct holds all dependencies for our handlers.
type Handlers struct {
	Store        *database.Store
	Inventory    *inventory.Service
	Tokens       *auth.Tokens
	Credentials  *integrations.CredentialStore
	OAuth        *integrations.OAuth
	Importer     *integrations.Importer
	Webhooks     *integrations.Webhooks
	Marketplaces *integrations.Orders
	Jobs         *worker.SQLRecorder
	Queue        worker.Queue
	Assistant    *ai.Assistant // nil when GEMINI_API_KEY is unset

	LowStockThreshold int
}

// bindJSON binds the body and answers 400 on failure. Validation failures
// list the offending fields.
func bindJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[lowerFirst(fe.Field())] = fe.Tag()
		}
		c.JSON(http.StatusBadRequest, apierror.NewValidation(fields))
		return false
	}
	c.JSON(http.StatusBadRequest, apierror.New("JSON inválido"))
	return false
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// respondError maps domain errors onto the status taxonomy. Anything
// unclassified is logged and answered with a generic 500.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, inventory.ErrMissingVariantKey):
		c.JSON(http.StatusBadRequest, apierror.New(err.Error()))
	case errors.Is(err, inventory.ErrNegativeStock):
		c.JSON(http.StatusBadRequest, apierror.New("El stock no puede ser negativo"))
	case errors.Is(err, inventory.ErrVariantNotFound):
		c.JSON(http.StatusNotFound, apierror.New("Variante no encontrada"))
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, apierror.New(apierror.MsgNotFound))
	case errors.Is(err, marketplace.ErrNotConnected):
		c.JSON(http.StatusConflict, apierror.New("Plataforma no conectada"))
	case errors.Is(err, integrations.ErrInvalidState), errors.Is(err, integrations.ErrMissingCode):
		c.JSON(http.StatusBadRequest, apierror.New(err.Error()))
	case errors.Is(err, mercadolibre.ErrSKUNotFound),
		errors.Is(err, marketplace.ErrUnavailable),
		errors.Is(err, marketplace.ErrRequestFailed),
		errors.Is(err, marketplace.ErrNotFound),
		errors.Is(err, marketplace.ErrCircuitOpen):
		log.Warn().Err(err).Str("path", c.FullPath()).Msg("upstream marketplace error")
		c.JSON(http.StatusBadGateway, apierror.New(err.Error()))
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Str("method", c.Request.Method).Msg("request failed")
		c.JSON(http.StatusInternalServerError, apierror.New(apierror.MsgInternal))
	}
}

// paramID parses a numeric path parameter, answering 400 when malformed.
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, apierror.New("ID inválido"))
		return 0, false
	}
	return id, true
}

// queryInt reads an integer query parameter with a fallback.
func queryInt(c *gin.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return fallback
	}
	return v
}

// Page is the envelope of every paginated listing.
type Page[T any] struct {
	Data       []T `json:"data"`
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func newPage[T any](data []T, page, perPage, total int) Page[T] {
	pages := 0
	if perPage > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return Page[T]{Data: data, Page: page, PerPage: perPage, Total: total, TotalPages: pages}
}

// pagination reads page/per_page with a default of 20 and a cap of 100.
func pagination(c *gin.Context) (page, perPage, offset int) {
	page = max(queryInt(c, "page", 1), 1)
	perPage = queryInt(c, "per_page", 20)
	if perPage <= 0 {
		perPage = 20
	}
	perPage = min(perPage, 100)
	return page, perPage, (page - 1) * perPage
}

// Health reports database and queue reachability.
func (h *Handlers) Health(c *gin.Context) {
	status := gin.H{"status": "ok", "database": "ok"}
	code := http.StatusOK

	if err := h.Store.DB().PingContext(c.Request.Context()); err != nil {
		status["database"] = "down"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	if h.Queue != nil {
		if n, err := h.Queue.DeadLetterLen(c.Request.Context()); err != nil {
			status["queue"] = "down"
			status["status"] = "degraded"
		} else {
			status["queue"] = "ok"
			status["deadLetters"] = n
		}
	}
	c.JSON(code, status)
}
