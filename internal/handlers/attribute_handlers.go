package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lupohub/lupohub/internal/apierror"
	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/models"
)

// Databases migrated from the first version of the app keep colors and
// sizes in a single "attributes" table, and some lack colors.hex or
// sizes.name. Listings fall back to whatever shape is present.

func (h *Handlers) legacyAttributes(ctx context.Context, kind string) ([]models.Color, error) {
	return database.Select(ctx, h.Store, "SELECT id, value FROM attributes WHERE type = ? ORDER BY value", []any{kind},
		func(rows *sql.Rows) (models.Color, error) {
			var a models.Color
			err := rows.Scan(&a.ID, &a.Code)
			a.Name = a.Code
			return a, err
		})
}

// ListColors returns every color.
func (h *Handlers) ListColors(c *gin.Context) {
	ctx := c.Request.Context()

	colors, err := database.Select(ctx, h.Store, "SELECT id, code, name, hex FROM colors ORDER BY name", nil,
		func(rows *sql.Rows) (models.Color, error) {
			var col models.Color
			err := rows.Scan(&col.ID, &col.Code, &col.Name, &col.Hex)
			return col, err
		})
	switch {
	case database.IsUnknownColumn(err):
		colors, err = database.Select(ctx, h.Store, "SELECT id, code, name FROM colors ORDER BY name", nil,
			func(rows *sql.Rows) (models.Color, error) {
				var col models.Color
				err := rows.Scan(&col.ID, &col.Code, &col.Name)
				return col, err
			})
	case database.IsNoSuchTable(err):
		log.Warn().Msg("colors table missing, reading legacy attributes")
		colors, err = h.legacyAttributes(ctx, "color")
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, colors)
}

// ListSizes returns every size.
func (h *Handlers) ListSizes(c *gin.Context) {
	ctx := c.Request.Context()

	scanSize := func(rows *sql.Rows) (models.Size, error) {
		var s models.Size
		err := rows.Scan(&s.ID, &s.Code, &s.Name)
		return s, err
	}
	sizes, err := database.Select(ctx, h.Store, "SELECT id, size_code, name FROM sizes ORDER BY id", nil, scanSize)
	switch {
	case database.IsUnknownColumn(err):
		sizes, err = database.Select(ctx, h.Store, "SELECT id, size_code, size_code FROM sizes ORDER BY id", nil, scanSize)
	case database.IsNoSuchTable(err):
		log.Warn().Msg("sizes table missing, reading legacy attributes")
		var legacy []models.Color
		legacy, err = h.legacyAttributes(ctx, "size")
		for _, a := range legacy {
			sizes = append(sizes, models.Size{ID: a.ID, Code: a.Code, Name: a.Name})
		}
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if sizes == nil {
		sizes = []models.Size{}
	}
	c.JSON(http.StatusOK, sizes)
}

type CreateColorInput struct {
	Code string  `json:"code" binding:"required,max=20"`
	Name string  `json:"name" binding:"required"`
	Hex  *string `json:"hex" binding:"omitempty,hexcolor"`
}

// CreateColor adds a color. Codes are stored upper-case.
func (h *Handlers) CreateColor(c *gin.Context) {
	var input CreateColorInput
	if !bindJSON(c, &input) {
		return
	}
	code := strings.ToUpper(strings.TrimSpace(input.Code))

	res, err := h.Store.Execute(c.Request.Context(), "INSERT INTO colors (code, name, hex) VALUES (?, ?, ?)",
		code, input.Name, nullableString(input.Hex))
	if database.IsDuplicateKey(err) {
		c.JSON(http.StatusConflict, apierror.New("Ya existe un color con ese código"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	id, _ := res.LastInsertId()
	c.JSON(http.StatusCreated, models.Color{ID: id, Code: code, Name: input.Name, Hex: input.Hex})
}

type CreateSizeInput struct {
	Code string `json:"code" binding:"required,max=20"`
	Name string `json:"name"`
}

// CreateSize adds a size. The name defaults to the code.
func (h *Handlers) CreateSize(c *gin.Context) {
	var input CreateSizeInput
	if !bindJSON(c, &input) {
		return
	}
	code := strings.TrimSpace(input.Code)
	if input.Name == "" {
		input.Name = code
	}

	res, err := h.Store.Execute(c.Request.Context(), "INSERT INTO sizes (size_code, name) VALUES (?, ?)", code, input.Name)
	if database.IsDuplicateKey(err) {
		c.JSON(http.StatusConflict, apierror.New("Ya existe un talle con ese código"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	id, _ := res.LastInsertId()
	c.JSON(http.StatusCreated, models.Size{ID: id, Code: code, Name: input.Name})
}
