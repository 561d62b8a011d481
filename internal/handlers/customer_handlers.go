package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lupohub/lupohub/internal/apierror"
	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/models"
)

const customerColumns = "id, name, business_name, tax_id, email, phone, address, city, province, notes, created_at, updated_at"

func scanCustomer(rows *sql.Rows) (models.Customer, error) {
	var cu models.Customer
	err := rows.Scan(&cu.ID, &cu.Name, &cu.BusinessName, &cu.TaxID, &cu.Email, &cu.Phone,
		&cu.Address, &cu.City, &cu.Province, &cu.Notes, &cu.CreatedAt, &cu.UpdatedAt)
	return cu, err
}

// ListCustomers pages through customers, ?q= matching name, business name,
// tax id or email.
func (h *Handlers) ListCustomers(c *gin.Context) {
	ctx := c.Request.Context()
	page, perPage, offset := pagination(c)

	where := ""
	args := []any{}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		where = " WHERE name LIKE ? OR business_name LIKE ? OR tax_id LIKE ? OR email LIKE ?"
		like := "%" + q + "%"
		args = append(args, like, like, like, like)
	}

	var total int
	if err := h.Store.Get(ctx, "SELECT COUNT(*) FROM customers"+where, args, &total); err != nil {
		respondError(c, err)
		return
	}
	customers, err := database.Select(ctx, h.Store,
		"SELECT "+customerColumns+" FROM customers"+where+" ORDER BY name LIMIT ? OFFSET ?",
		append(args, perPage, offset), scanCustomer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPage(customers, page, perPage, total))
}

// GetCustomer returns one customer.
func (h *Handlers) GetCustomer(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	found, err := database.Select(c.Request.Context(), h.Store,
		"SELECT "+customerColumns+" FROM customers WHERE id = ?", []any{id}, scanCustomer)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(found) == 0 {
		c.JSON(http.StatusNotFound, apierror.New("Cliente no encontrado"))
		return
	}
	c.JSON(http.StatusOK, found[0])
}

type CustomerInput struct {
	Name         *string `json:"name" binding:"omitempty,min=1"`
	BusinessName *string `json:"businessName"`
	TaxID        *string `json:"taxId" binding:"omitempty,max=20"`
	Email        *string `json:"email" binding:"omitempty,email"`
	Phone        *string `json:"phone"`
	Address      *string `json:"address"`
	City         *string `json:"city"`
	Province     *string `json:"province"`
	Notes        *string `json:"notes"`
}

func (in CustomerInput) assignments() []assignment {
	return []assignment{
		{"name", optional(in.Name)},
		{"business_name", optional(in.BusinessName)},
		{"tax_id", optional(in.TaxID)},
		{"email", optional(in.Email)},
		{"phone", optional(in.Phone)},
		{"address", optional(in.Address)},
		{"city", optional(in.City)},
		{"province", optional(in.Province)},
		{"notes", optional(in.Notes)},
	}
}

// CreateCustomer adds a customer. Only the name is required.
func (h *Handlers) CreateCustomer(c *gin.Context) {
	var input CustomerInput
	if !bindJSON(c, &input) {
		return
	}
	if input.Name == nil || strings.TrimSpace(*input.Name) == "" {
		c.JSON(http.StatusBadRequest, apierror.NewValidation(map[string]string{"name": "required"}))
		return
	}

	res, err := h.Store.Execute(c.Request.Context(), `
		INSERT INTO customers (name, business_name, tax_id, email, phone, address, city, province, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(*input.Name), nullableString(input.BusinessName), nullableString(input.TaxID),
		nullableString(input.Email), nullableString(input.Phone), nullableString(input.Address),
		nullableString(input.City), nullableString(input.Province), nullableString(input.Notes))
	if err != nil {
		respondError(c, err)
		return
	}
	id, _ := res.LastInsertId()
	c.JSON(http.StatusCreated, gin.H{"id": id, "message": "Cliente creado"})
}

// UpdateCustomer changes the provided fields.
func (h *Handlers) UpdateCustomer(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input CustomerInput
	if !bindJSON(c, &input) {
		return
	}
	if fields := blankRequired(map[string]*string{"name": input.Name}); fields != nil {
		c.JSON(http.StatusBadRequest, apierror.NewValidation(fields))
		return
	}

	var exists int64
	err := h.Store.Get(ctx, "SELECT id FROM customers WHERE id = ?", []any{id}, &exists)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, apierror.New("Cliente no encontrado"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	if query, args, ok := buildUpdate("customers", id, input.assignments()); ok {
		if _, err := h.Store.Execute(ctx, query, args...); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "message": "Cliente actualizado"})
}

// DeleteCustomer removes a customer. Their orders keep a null customer.
func (h *Handlers) DeleteCustomer(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	res, err := h.Store.Execute(c.Request.Context(), "DELETE FROM customers WHERE id = ?", id)
	if err != nil {
		respondError(c, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, apierror.New("Cliente no encontrado"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cliente eliminado"})
}
