package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/lupohub/lupohub/internal/apierror"
	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/inventory"
	"github.com/lupohub/lupohub/internal/middleware"
	"github.com/lupohub/lupohub/internal/models"
)

const orderSelect = `
	SELECT o.id, o.customer_id, o.seller_id, o.date, o.status, o.total, o.picked_by, o.notes, o.created_at, o.updated_at,
	       cu.name, u.name
	FROM orders o
	LEFT JOIN customers cu ON cu.id = o.customer_id
	LEFT JOIN users u ON u.id = o.seller_id`

const itemSelect = `
	SELECT oi.id, oi.order_id, oi.variant_id, oi.quantity, oi.picked, oi.price_at_moment,
	       p.sku, p.name, c.code, c.name, s.size_code
	FROM order_items oi
	LEFT JOIN product_variants v ON v.id = oi.variant_id
	LEFT JOIN product_colors pc ON pc.id = v.product_color_id
	LEFT JOIN products p ON p.id = pc.product_id
	LEFT JOIN colors c ON c.id = pc.color_id
	LEFT JOIN sizes s ON s.id = v.size_id`

var (
	errOrderLocked    = errors.New("order is locked")
	errOrderNotPicked = errors.New("order is not in picking")
	errItemNotInOrder = errors.New("ítem ajeno al pedido")
)

func scanOrder(rows *sql.Rows) (models.Order, error) {
	var o models.Order
	err := rows.Scan(&o.ID, &o.CustomerID, &o.SellerID, &o.Date, &o.Status, &o.Total, &o.PickedBy, &o.Notes,
		&o.CreatedAt, &o.UpdatedAt, &o.CustomerName, &o.SellerName)
	o.Items = []models.OrderItem{}
	return o, err
}

func scanItem(rows *sql.Rows) (models.OrderItem, error) {
	var it models.OrderItem
	err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.Quantity, &it.Picked, &it.PriceAtMoment,
		&it.SKU, &it.ProductName, &it.ColorCode, &it.ColorName, &it.SizeCode)
	return it, err
}

// attachItems loads the items of every order in one query.
func (h *Handlers) attachItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]any, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}
	items, err := database.Select(ctx, h.Store,
		itemSelect+" WHERE oi.order_id IN ("+database.Placeholders(len(ids))+") ORDER BY oi.id", ids, scanItem)
	if err != nil {
		return err
	}
	for _, it := range items {
		i := index[it.OrderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return nil
}

func (h *Handlers) loadOrder(ctx context.Context, id int64) (*models.Order, error) {
	orders, err := database.Select(ctx, h.Store, orderSelect+" WHERE o.id = ?", []any{id}, scanOrder)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, database.ErrNotFound
	}
	if err := h.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// --- Listing ---

// ListOrders returns a page of orders, newest first.
func (h *Handlers) ListOrders(c *gin.Context) {
	ctx := c.Request.Context()
	page, perPage, offset := pagination(c)

	// 1. --- Filters ---
	conds := []string{}
	args := []any{}
	if s := c.Query("status"); s != "" {
		conds = append(conds, "o.status = ?")
		args = append(args, s)
	}
	if id := queryInt(c, "customerId", 0); id > 0 {
		conds = append(conds, "o.customer_id = ?")
		args = append(args, id)
	}
	if id := queryInt(c, "sellerId", 0); id > 0 {
		conds = append(conds, "o.seller_id = ?")
		args = append(args, id)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	// 2. --- Count & Page ---
	var total int
	if err := h.Store.Get(ctx, "SELECT COUNT(*) FROM orders o"+where, args, &total); err != nil {
		respondError(c, err)
		return
	}
	orders, err := database.Select(ctx, h.Store,
		orderSelect+where+" ORDER BY o.date DESC, o.id DESC LIMIT ? OFFSET ?", append(args, perPage, offset), scanOrder)
	if err != nil {
		respondError(c, err)
		return
	}

	// 3. --- Items for the whole page ---
	if err := h.attachItems(ctx, orders); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPage(orders, page, perPage, total))
}

// GetOrder returns one order with its items.
func (h *Handlers) GetOrder(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	order, err := h.loadOrder(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, apierror.New("Pedido no encontrado"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// --- Create / Update ---

type OrderItemInput struct {
	inventory.VariantKey
	Quantity int              `json:"quantity" binding:"required,gt=0"`
	Price    *decimal.Decimal `json:"price"`
}

type CreateOrderInput struct {
	CustomerID *int64             `json:"customerId"`
	SellerID   *int64             `json:"sellerId"`
	Date       string             `json:"date"`
	Status     models.OrderStatus `json:"status"`
	Notes      *string            `json:"notes"`
	Items      []OrderItemInput   `json:"items" binding:"required,min=1,dive"`
}

type resolvedItem struct {
	variantID int64
	quantity  int
	price     *decimal.Decimal
}

// resolveItems maps each line to a variant id. It answers 400/404 itself
// and returns ok=false on the first failure.
func (h *Handlers) resolveItems(c *gin.Context, items []OrderItemInput) ([]resolvedItem, bool) {
	out := make([]resolvedItem, 0, len(items))
	for i, it := range items {
		if it.Price != nil && it.Price.IsNegative() {
			c.JSON(http.StatusBadRequest, apierror.NewValidation(map[string]string{fmt.Sprintf("items[%d].price", i): "gte"}))
			return nil, false
		}
		id, err := h.Inventory.Resolve(c.Request.Context(), it.VariantKey)
		if err != nil {
			if errors.Is(err, inventory.ErrVariantNotFound) {
				c.JSON(http.StatusNotFound, apierror.New(fmt.Sprintf("Variante no encontrada en el ítem %d", i+1)))
				return nil, false
			}
			respondError(c, err)
			return nil, false
		}
		out = append(out, resolvedItem{variantID: id, quantity: it.Quantity, price: it.Price})
	}
	return out, true
}

// writeItems replaces the items of an order and returns the new total.
// Lines without a price take the product base price.
func writeItems(ctx context.Context, tx *database.Store, orderID int64, items []resolvedItem) (decimal.Decimal, error) {
	if _, err := tx.Execute(ctx, "DELETE FROM order_items WHERE order_id = ?", orderID); err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	args := make([]any, 0, len(items)*4)
	for _, it := range items {
		price := decimal.Zero
		if it.price != nil {
			price = *it.price
		} else {
			err := tx.Get(ctx, `
				SELECT p.base_price FROM product_variants v
				JOIN product_colors pc ON pc.id = v.product_color_id
				JOIN products p ON p.id = pc.product_id
				WHERE v.id = ?`, []any{it.variantID}, &price)
			if err != nil && !errors.Is(err, database.ErrNotFound) {
				return decimal.Zero, err
			}
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(it.quantity))))
		args = append(args, orderID, it.variantID, it.quantity, price)
	}

	values := strings.TrimSuffix(strings.Repeat("(?, ?, ?, ?), ", len(items)), ", ")
	if _, err := tx.Execute(ctx, "INSERT INTO order_items (order_id, variant_id, quantity, price_at_moment) VALUES "+values, args...); err != nil {
		return decimal.Zero, err
	}
	if _, err := tx.Execute(ctx, "UPDATE orders SET total = ? WHERE id = ?", total, orderID); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func parseOrderDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// CreateOrder stores a wholesale order. An order created as Confirmado
// deducts its stock once.
func (h *Handlers) CreateOrder(c *gin.Context) {
	ctx := c.Request.Context()

	// 1. --- Bind & Validate ---
	var input CreateOrderInput
	if !bindJSON(c, &input) {
		return
	}
	if input.Status == "" {
		input.Status = models.OrderDraft
	}
	if input.Status != models.OrderDraft && input.Status != models.OrderConfirmed {
		c.JSON(http.StatusBadRequest, apierror.New("Un pedido nuevo debe estar en Borrador o Confirmado"))
		return
	}
	date, err := parseOrderDate(input.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.NewValidation(map[string]string{"date": "date"}))
		return
	}
	if input.SellerID == nil {
		if claims := middleware.GetClaims(c); claims != nil && claims.Role == models.RoleSeller {
			input.SellerID = &claims.UserID
		}
	}

	// 2. --- Resolve Items ---
	items, ok := h.resolveItems(c, input.Items)
	if !ok {
		return
	}

	// 3. --- Insert ---
	var orderID int64
	err = h.Store.Tx(ctx, func(tx *database.Store) error {
		res, err := tx.Execute(ctx,
			"INSERT INTO orders (customer_id, seller_id, date, status, notes) VALUES (?, ?, ?, ?, ?)",
			input.CustomerID, input.SellerID, date, string(input.Status), input.Notes)
		if err != nil {
			return err
		}
		orderID, _ = res.LastInsertId()
		_, err = writeItems(ctx, tx, orderID, items)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	// 4. --- Stock ---
	stockErrors := []string{}
	if input.Status == models.OrderConfirmed {
		stockErrors = h.Inventory.DeductStockForOrder(ctx, orderID)
	}

	order, err := h.loadOrder(ctx, orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order, "stockErrors": stockErrors})
}

type UpdateOrderInput struct {
	CustomerID *int64           `json:"customerId"`
	SellerID   *int64           `json:"sellerId"`
	Date       *string          `json:"date"`
	Notes      *string          `json:"notes"`
	Items      []OrderItemInput `json:"items" binding:"omitempty,min=1,dive"`
}

// UpdateOrder changes header fields and, while the order is a draft,
// replaces its items.
func (h *Handlers) UpdateOrder(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	// 1. --- Bind ---
	var input UpdateOrderInput
	if !bindJSON(c, &input) {
		return
	}
	var date any = skip
	if input.Date != nil {
		d, err := parseOrderDate(*input.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, apierror.NewValidation(map[string]string{"date": "date"}))
			return
		}
		date = d
	}
	var items []resolvedItem
	if input.Items != nil {
		if items, ok = h.resolveItems(c, input.Items); !ok {
			return
		}
	}

	// 2. --- Apply ---
	err := h.Store.Tx(ctx, func(tx *database.Store) error {
		var status models.OrderStatus
		if err := tx.Get(ctx, "SELECT status FROM orders WHERE id = ? FOR UPDATE", []any{id}, &status); err != nil {
			return err
		}
		if items != nil && status != models.OrderDraft {
			return errOrderLocked
		}
		sets := []assignment{
			{"customer_id", optionalID(input.CustomerID)},
			{"seller_id", optionalID(input.SellerID)},
			{"date", date},
			{"notes", optional(input.Notes)},
		}
		if query, args, ok := buildUpdate("orders", id, sets); ok {
			if _, err := tx.Execute(ctx, query, args...); err != nil {
				return err
			}
		}
		if items != nil {
			_, err := writeItems(ctx, tx, id, items)
			return err
		}
		return nil
	})
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, apierror.New("Pedido no encontrado"))
		return
	case errors.Is(err, errOrderLocked):
		c.JSON(http.StatusConflict, apierror.New("Solo se pueden modificar los ítems de un pedido en Borrador"))
		return
	case err != nil:
		respondError(c, err)
		return
	}

	order, err := h.loadOrder(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func optionalID(id *int64) any {
	if id == nil {
		return skip
	}
	if *id <= 0 {
		return nil
	}
	return *id
}

// DeleteOrder removes a draft or cancelled order.
func (h *Handlers) DeleteOrder(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	err := h.Store.Tx(ctx, func(tx *database.Store) error {
		var status models.OrderStatus
		if err := tx.Get(ctx, "SELECT status FROM orders WHERE id = ? FOR UPDATE", []any{id}, &status); err != nil {
			return err
		}
		if status != models.OrderDraft && status != models.OrderCancelled {
			return errOrderLocked
		}
		_, err := tx.Execute(ctx, "DELETE FROM orders WHERE id = ?", id)
		return err
	})
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, apierror.New("Pedido no encontrado"))
	case errors.Is(err, errOrderLocked):
		c.JSON(http.StatusConflict, apierror.New("Solo se pueden eliminar pedidos en Borrador o Cancelado"))
	case err != nil:
		respondError(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Pedido eliminado"})
	}
}

// --- Status ---

type UpdateStatusInput struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// UpdateOrderStatus moves an order to another state. Confirming a draft
// deducts stock; cancelling a confirmed order (or one being picked)
// returns it. Stock errors are reported, never fatal.
func (h *Handlers) UpdateOrderStatus(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	// 1. --- Bind & Validate ---
	var input UpdateStatusInput
	if !bindJSON(c, &input) {
		return
	}
	if !input.Status.Valid() {
		c.JSON(http.StatusBadRequest, apierror.New("Estado inválido"))
		return
	}

	// 2. --- Transition (row locked) ---
	var previous models.OrderStatus
	err := h.Store.Tx(ctx, func(tx *database.Store) error {
		if err := tx.Get(ctx, "SELECT status FROM orders WHERE id = ? FOR UPDATE", []any{id}, &previous); err != nil {
			return err
		}
		if previous == input.Status {
			return nil
		}
		_, err := tx.Execute(ctx, "UPDATE orders SET status = ? WHERE id = ?", string(input.Status), id)
		return err
	})
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, apierror.New("Pedido no encontrado"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	// 3. --- Stock side effects ---
	stockErrors := []string{}
	switch {
	case previous == models.OrderDraft && input.Status == models.OrderConfirmed:
		stockErrors = h.Inventory.DeductStockForOrder(ctx, id)
	case (previous == models.OrderConfirmed || previous == models.OrderPicking) && input.Status == models.OrderCancelled:
		stockErrors = h.Inventory.RestoreStockForOrder(ctx, id)
	}
	if len(stockErrors) > 0 {
		log.Warn().Int64("order_id", id).Strs("errors", stockErrors).Msg("stock pass finished with errors")
	}

	c.JSON(http.StatusOK, gin.H{
		"id":             id,
		"previousStatus": previous,
		"status":         input.Status,
		"stockErrors":    stockErrors,
	})
}

// --- Picking ---

type PickedItemInput struct {
	ItemID int64 `json:"itemId" binding:"required"`
	Picked int   `json:"picked" binding:"gte=0"`
}

type PickingInput struct {
	PickedBy string            `json:"pickedBy" binding:"required"`
	Items    []PickedItemInput `json:"items" binding:"required,dive"`
}

// UpdatePicking records picked quantities. The order moves to Despachado
// when every line is complete and to Preparación otherwise.
func (h *Handlers) UpdatePicking(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input PickingInput
	if !bindJSON(c, &input) {
		return
	}

	err := h.Store.Tx(ctx, func(tx *database.Store) error {
		// 1. --- Lock & check state ---
		var status models.OrderStatus
		if err := tx.Get(ctx, "SELECT status FROM orders WHERE id = ? FOR UPDATE", []any{id}, &status); err != nil {
			return err
		}
		if status != models.OrderConfirmed && status != models.OrderPicking {
			return errOrderNotPicked
		}

		// 2. --- Current lines ---
		type line struct{ quantity, picked int }
		lines := map[int64]*line{}
		err := tx.Query(ctx, "SELECT id, quantity, picked FROM order_items WHERE order_id = ?", []any{id}, func(rows *sql.Rows) error {
			var itemID int64
			var l line
			if err := rows.Scan(&itemID, &l.quantity, &l.picked); err != nil {
				return err
			}
			lines[itemID] = &l
			return nil
		})
		if err != nil {
			return err
		}

		// 3. --- Apply picked counts (clamped to the ordered quantity) ---
		for _, it := range input.Items {
			l, ok := lines[it.ItemID]
			if !ok {
				return fmt.Errorf("%w: %d", errItemNotInOrder, it.ItemID)
			}
			l.picked = min(it.Picked, l.quantity)
			if _, err := tx.Execute(ctx, "UPDATE order_items SET picked = ? WHERE id = ?", l.picked, it.ItemID); err != nil {
				return err
			}
		}

		// 4. --- Derive status ---
		next := models.OrderShipped
		for _, l := range lines {
			if l.picked < l.quantity {
				next = models.OrderPicking
				break
			}
		}
		_, err = tx.Execute(ctx, "UPDATE orders SET picked_by = ?, status = ? WHERE id = ?", input.PickedBy, string(next), id)
		return err
	})
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, apierror.New("Pedido no encontrado"))
		return
	case errors.Is(err, errOrderNotPicked):
		c.JSON(http.StatusConflict, apierror.New("El pedido no está en preparación"))
		return
	case errors.Is(err, errItemNotInOrder):
		c.JSON(http.StatusBadRequest, apierror.New(err.Error()))
		return
	case err != nil:
		respondError(c, err)
		return
	}

	order, err := h.loadOrder(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
