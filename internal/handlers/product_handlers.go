package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/lupohub/lupohub/internal/apierror"
	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/inventory"
	"github.com/lupohub/lupohub/internal/middleware"
	"github.com/lupohub/lupohub/internal/models"
)

const productColumns = "p.id, p.sku, p.name, p.category, p.base_price, p.description, p.tienda_nube_id, p.mercado_libre_id, p.created_at, p.updated_at"

// productSorts whitelists the ?sort= values.
var productSorts = map[string]string{
	"name":       "p.name",
	"sku":        "p.sku",
	"category":   "p.category",
	"basePrice":  "p.base_price",
	"createdAt":  "p.created_at",
	"totalStock": "total_stock",
}

func scanProduct(row interface{ Scan(...any) error }, extra ...any) (models.Product, error) {
	var p models.Product
	dest := []any{&p.ID, &p.SKU, &p.Name, &p.Category, &p.BasePrice, &p.Description,
		&p.TiendaNubeID, &p.MercadoLibreID, &p.CreatedAt, &p.UpdatedAt}
	err := row.Scan(append(dest, extra...)...)
	return p, err
}

// --- Listing ---

// ListProducts returns a page of products with aggregated stock.
func (h *Handlers) ListProducts(c *gin.Context) {
	ctx := c.Request.Context()
	page, perPage, offset := pagination(c)

	// 1. --- Filters ---
	where := ""
	args := []any{}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		where = " WHERE p.sku LIKE ? OR p.name LIKE ?"
		like := "%" + q + "%"
		args = append(args, like, like)
	}

	sortCol, ok := productSorts[c.Query("sort")]
	if !ok {
		sortCol = "p.name"
	}
	dir := "ASC"
	if strings.EqualFold(c.Query("dir"), "desc") {
		dir = "DESC"
	}

	// 2. --- Count ---
	var total int
	if err := h.Store.Get(ctx, "SELECT COUNT(*) FROM products p"+where, args, &total); err != nil {
		respondError(c, err)
		return
	}

	// 3. --- Page ---
	query := `SELECT ` + productColumns + `, COALESCE(SUM(st.stock), 0) AS total_stock, COUNT(v.id) AS variant_count
		FROM products p
		LEFT JOIN product_colors pc ON pc.product_id = p.id
		LEFT JOIN product_variants v ON v.product_color_id = pc.id
		LEFT JOIN stocks st ON st.variant_id = v.id` + where + `
		GROUP BY p.id
		ORDER BY ` + sortCol + " " + dir + `, p.id
		LIMIT ? OFFSET ?`
	products, err := database.Select(ctx, h.Store, query, append(args, perPage, offset), func(rows *sql.Rows) (models.Product, error) {
		var stock, count int
		p, err := scanProduct(rows, &stock, &count)
		p.TotalStock, p.VariantCount = stock, count
		return p, err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newPage(products, page, perPage, total))
}

// GetProduct returns a product by sku with its color/size matrix.
func (h *Handlers) GetProduct(c *gin.Context) {
	ctx := c.Request.Context()

	// 1. --- Product ---
	found, err := database.Select(ctx, h.Store, "SELECT "+productColumns+" FROM products p WHERE p.sku = ? ORDER BY p.id LIMIT 1",
		[]any{c.Param("sku")}, func(rows *sql.Rows) (models.Product, error) { return scanProduct(rows) })
	if err != nil {
		respondError(c, err)
		return
	}
	if len(found) == 0 {
		c.JSON(http.StatusNotFound, apierror.New("Producto no encontrado"))
		return
	}
	p := found[0]

	// 2. --- Matrix ---
	variants, err := h.productVariants(ctx, p.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	detail := models.ProductDetail{Product: p, Colors: groupByColor(variants)}
	for _, g := range detail.Colors {
		detail.TotalStock += g.TotalStock
		detail.VariantCount += len(g.Sizes)
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handlers) productVariants(ctx context.Context, productID int64) ([]models.VariantDetail, error) {
	return database.Select(ctx, h.Store, `
		SELECT v.id, v.product_color_id, v.size_id, v.sku, v.tienda_nube_variant_id, v.mercado_libre_variant_id,
		       pc.product_id, c.id, c.code, c.name, c.hex, s.size_code, s.name, COALESCE(st.stock, 0)
		FROM product_colors pc
		JOIN colors c ON c.id = pc.color_id
		JOIN product_variants v ON v.product_color_id = pc.id
		JOIN sizes s ON s.id = v.size_id
		LEFT JOIN stocks st ON st.variant_id = v.id
		WHERE pc.product_id = ?
		ORDER BY c.name, c.id, s.id`, []any{productID},
		func(rows *sql.Rows) (models.VariantDetail, error) {
			var d models.VariantDetail
			err := rows.Scan(&d.ID, &d.ProductColorID, &d.SizeID, &d.SKU, &d.TiendaNubeVariantID, &d.MercadoLibreVariantID,
				&d.ProductID, &d.ColorID, &d.ColorCode, &d.ColorName, &d.ColorHex, &d.SizeCode, &d.SizeName, &d.Stock)
			return d, err
		})
}

// groupByColor keeps the query order of colors.
func groupByColor(variants []models.VariantDetail) []models.ColorGroup {
	groups := []models.ColorGroup{}
	index := map[int64]int{}
	for _, v := range variants {
		i, ok := index[v.ColorID]
		if !ok {
			i = len(groups)
			index[v.ColorID] = i
			groups = append(groups, models.ColorGroup{
				ColorID: v.ColorID, ColorCode: v.ColorCode, ColorName: v.ColorName, ColorHex: v.ColorHex,
				Sizes: []models.VariantDetail{},
			})
		}
		groups[i].Sizes = append(groups[i].Sizes, v)
		groups[i].TotalStock += v.Stock
	}
	return groups
}

// --- Create / Update / Delete ---

type VariantInput struct {
	ColorCode string  `json:"colorCode" binding:"required"`
	SizeCode  string  `json:"sizeCode" binding:"required"`
	SKU       *string `json:"sku"`
	Stock     int     `json:"stock" binding:"gte=0"`
}

type CreateProductInput struct {
	SKU         string          `json:"sku" binding:"required"`
	Name        string          `json:"name" binding:"required"`
	Category    string          `json:"category"`
	BasePrice   decimal.Decimal `json:"basePrice"`
	Description *string         `json:"description"`
	Variants    []VariantInput  `json:"variants" binding:"dive"`
}

// CreateProduct inserts a product and its variants. Initial stock is
// recorded as a manual adjustment.
func (h *Handlers) CreateProduct(c *gin.Context) {
	ctx := c.Request.Context()

	// 1. --- Bind & Validate ---
	var input CreateProductInput
	if !bindJSON(c, &input) {
		return
	}
	input.SKU = strings.TrimSpace(input.SKU)
	if input.BasePrice.IsNegative() {
		c.JSON(http.StatusBadRequest, apierror.NewValidation(map[string]string{"basePrice": "gte"}))
		return
	}
	if input.Category == "" {
		input.Category = models.DefaultCategory
	}

	// 2. --- Insert in one transaction ---
	var productID int64
	created := make([]int64, len(input.Variants))
	err := h.Store.Tx(ctx, func(tx *database.Store) error {
		var existing int64
		err := tx.Get(ctx, "SELECT id FROM products WHERE sku = ? LIMIT 1", []any{input.SKU}, &existing)
		if err == nil {
			return errDuplicateSKU
		}
		if !errors.Is(err, database.ErrNotFound) {
			return err
		}

		res, err := tx.Execute(ctx,
			"INSERT INTO products (sku, name, category, base_price, description) VALUES (?, ?, ?, ?, ?)",
			input.SKU, input.Name, input.Category, input.BasePrice, input.Description)
		if err != nil {
			return err
		}
		productID, _ = res.LastInsertId()

		for i, v := range input.Variants {
			id, err := insertVariant(ctx, tx, productID, v)
			if err != nil {
				return err
			}
			created[i] = id
		}
		return nil
	})
	var attrErr *unknownAttributeError
	switch {
	case errors.Is(err, errDuplicateSKU):
		c.JSON(http.StatusConflict, apierror.New("Ya existe un producto con ese SKU"))
		return
	case errors.As(err, &attrErr):
		c.JSON(http.StatusBadRequest, apierror.New(attrErr.Error()))
		return
	case database.IsDuplicateKey(err):
		c.JSON(http.StatusConflict, apierror.New("Variante duplicada"))
		return
	case err != nil:
		respondError(c, err)
		return
	}

	// 3. --- Initial Stock ---
	for i, v := range input.Variants {
		if v.Stock == 0 {
			continue
		}
		if _, err := h.Inventory.UpdateVariantStock(ctx, created[i], v.Stock, models.MovementManual, "Alta de producto "+input.SKU, false); err != nil {
			log.Warn().Err(err).Int64("variant_id", created[i]).Msg("initial stock not recorded")
		}
	}

	c.JSON(http.StatusCreated, gin.H{"id": productID, "sku": input.SKU, "variantIds": created})
}

var errDuplicateSKU = errors.New("duplicate sku")

type unknownAttributeError struct {
	kind, code string
}

func (e *unknownAttributeError) Error() string {
	return fmt.Sprintf("%s desconocido: %s", e.kind, e.code)
}

func insertVariant(ctx context.Context, tx *database.Store, productID int64, v VariantInput) (int64, error) {
	var colorID, sizeID int64
	err := tx.Get(ctx, "SELECT id FROM colors WHERE code = ?", []any{v.ColorCode}, &colorID)
	if errors.Is(err, database.ErrNotFound) {
		return 0, &unknownAttributeError{"Color", v.ColorCode}
	}
	if err != nil {
		return 0, err
	}
	err = tx.Get(ctx, "SELECT id FROM sizes WHERE size_code = ?", []any{v.SizeCode}, &sizeID)
	if errors.Is(err, database.ErrNotFound) {
		return 0, &unknownAttributeError{"Talle", v.SizeCode}
	}
	if err != nil {
		return 0, err
	}

	res, err := tx.Execute(ctx,
		"INSERT INTO product_colors (product_id, color_id) VALUES (?, ?) ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)",
		productID, colorID)
	if err != nil {
		return 0, err
	}
	pcID, _ := res.LastInsertId()

	res, err = tx.Execute(ctx,
		"INSERT INTO product_variants (product_color_id, size_id, sku) VALUES (?, ?, ?)",
		pcID, sizeID, nullableString(v.SKU))
	if err != nil {
		return 0, err
	}
	variantID, _ := res.LastInsertId()

	if _, err := tx.Execute(ctx, "INSERT IGNORE INTO stocks (variant_id, stock) VALUES (?, 0)", variantID); err != nil {
		return 0, err
	}
	return variantID, nil
}

type UpdateProductInput struct {
	SKU         *string          `json:"sku"`
	Name        *string          `json:"name"`
	Category    *string          `json:"category"`
	BasePrice   *decimal.Decimal `json:"basePrice"`
	Description *string          `json:"description"`
}

// UpdateProduct changes the provided fields of a product.
func (h *Handlers) UpdateProduct(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	// 1. --- Bind ---
	var input UpdateProductInput
	if !bindJSON(c, &input) {
		return
	}
	if input.BasePrice != nil && input.BasePrice.IsNegative() {
		c.JSON(http.StatusBadRequest, apierror.NewValidation(map[string]string{"basePrice": "gte"}))
		return
	}
	if fields := blankRequired(map[string]*string{"sku": input.SKU, "name": input.Name, "category": input.Category}); fields != nil {
		c.JSON(http.StatusBadRequest, apierror.NewValidation(fields))
		return
	}

	// 2. --- Existence & SKU clash ---
	var exists int64
	if err := h.Store.Get(ctx, "SELECT id FROM products WHERE id = ?", []any{id}, &exists); err != nil {
		respondError(c, err)
		return
	}
	if input.SKU != nil {
		var other int64
		err := h.Store.Get(ctx, "SELECT id FROM products WHERE sku = ? AND id <> ? LIMIT 1", []any{strings.TrimSpace(*input.SKU), id}, &other)
		if err == nil {
			c.JSON(http.StatusConflict, apierror.New("Ya existe un producto con ese SKU"))
			return
		}
		if !errors.Is(err, database.ErrNotFound) {
			respondError(c, err)
			return
		}
	}

	// 3. --- Update ---
	var price any = skip
	if input.BasePrice != nil {
		price = *input.BasePrice
	}
	sets := []assignment{
		{"sku", optional(input.SKU)},
		{"name", optional(input.Name)},
		{"category", optional(input.Category)},
		{"base_price", price},
		{"description", optional(input.Description)},
	}
	if query, args, ok := buildUpdate("products", id, sets); ok {
		if _, err := h.Store.Execute(ctx, query, args...); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Producto actualizado", "id": id})
}

// DeleteProduct removes a product; colors, variants and stock cascade.
func (h *Handlers) DeleteProduct(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	res, err := h.Store.Execute(c.Request.Context(), "DELETE FROM products WHERE id = ?", id)
	if database.IsRowReferenced(err) {
		c.JSON(http.StatusConflict, apierror.New("El producto tiene pedidos asociados"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, apierror.New("Producto no encontrado"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Producto eliminado"})
}

// DeleteAllProducts empties the catalog. Movements are kept.
func (h *Handlers) DeleteAllProducts(c *gin.Context) {
	ctx := c.Request.Context()
	err := h.Store.Tx(ctx, func(tx *database.Store) error {
		for _, table := range []string{"stocks", "product_variants", "product_colors", "products", "colors", "sizes"} {
			if _, err := tx.Execute(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
	if database.IsRowReferenced(err) {
		c.JSON(http.StatusConflict, apierror.New("Hay pedidos que referencian variantes; no se puede vaciar el catálogo"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if claims := middleware.GetClaims(c); claims != nil {
		log.Warn().Int64("user_id", claims.UserID).Msg("catalog emptied")
	}
	c.JSON(http.StatusOK, gin.H{"message": "Catálogo eliminado"})
}

// --- Stock ---

type PatchStockInput struct {
	inventory.VariantKey
	Stock     *int   `json:"stock" binding:"required,gte=0"`
	Reference string `json:"reference"`
}

// PatchStock sets the stock of one variant and propagates it.
func (h *Handlers) PatchStock(c *gin.Context) {
	ctx := c.Request.Context()

	// 1. --- Bind ---
	var input PatchStockInput
	if !bindJSON(c, &input) {
		return
	}

	// 2. --- Resolve ---
	variantID, err := h.Inventory.Resolve(ctx, input.VariantKey)
	if err != nil {
		respondError(c, err)
		return
	}

	// 3. --- Apply ---
	reference := input.Reference
	if reference == "" {
		reference = "Ajuste manual"
		if claims := middleware.GetClaims(c); claims != nil {
			reference += " (" + claims.Email + ")"
		}
	}
	change, err := h.Inventory.UpdateVariantStock(ctx, variantID, *input.Stock, models.MovementManual, reference, true)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, change)
}

// --- External ids ---

type ProductExternalIDsInput struct {
	TiendaNubeID   *string `json:"tiendaNubeId"`
	MercadoLibreID *string `json:"mercadoLibreId"`
}

// SetProductExternalIDs links a product to marketplace listings. An empty
// string unlinks.
func (h *Handlers) SetProductExternalIDs(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input ProductExternalIDsInput
	if !bindJSON(c, &input) {
		return
	}
	h.setExternalIDs(c, "products", id, []assignment{
		{"tienda_nube_id", optional(input.TiendaNubeID)},
		{"mercado_libre_id", optional(input.MercadoLibreID)},
	})
}

type VariantExternalIDsInput struct {
	SKU                   *string `json:"sku"`
	TiendaNubeVariantID   *string `json:"tiendaNubeVariantId"`
	MercadoLibreVariantID *string `json:"mercadoLibreVariantId"`
}

// SetVariantExternalIDs links a variant to marketplace variations.
func (h *Handlers) SetVariantExternalIDs(c *gin.Context) {
	id, ok := paramID(c, "variantId")
	if !ok {
		return
	}
	var input VariantExternalIDsInput
	if !bindJSON(c, &input) {
		return
	}
	h.setExternalIDs(c, "product_variants", id, []assignment{
		{"sku", optional(input.SKU)},
		{"tienda_nube_variant_id", optional(input.TiendaNubeVariantID)},
		{"mercado_libre_variant_id", optional(input.MercadoLibreVariantID)},
	})
}

func (h *Handlers) setExternalIDs(c *gin.Context, table string, id int64, sets []assignment) {
	ctx := c.Request.Context()
	var exists int64
	if err := h.Store.Get(ctx, "SELECT id FROM "+table+" WHERE id = ?", []any{id}, &exists); err != nil {
		respondError(c, err)
		return
	}
	query, args, ok := buildUpdate(table, id, sets)
	if !ok {
		c.JSON(http.StatusBadRequest, apierror.New("Nada para actualizar"))
		return
	}
	if _, err := h.Store.Execute(ctx, query, args...); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "IDs externos actualizados", "id": id})
}

// --- helpers ---

type assignment struct {
	column string
	value  any // skip marks an absent field
}

type skipValue struct{}

var skip = skipValue{}

// optional maps an absent field to skip and "" to NULL.
func optional(s *string) any {
	if s == nil {
		return skip
	}
	return nullableString(s)
}

// blankRequired reports present-but-blank values for NOT NULL columns, which
// optional would otherwise turn into NULL.
func blankRequired(fields map[string]*string) map[string]string {
	var bad map[string]string
	for name, v := range fields {
		if v != nil && strings.TrimSpace(*v) == "" {
			if bad == nil {
				bad = make(map[string]string)
			}
			bad[name] = "required"
		}
	}
	return bad
}

func nullableString(s *string) any {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return strings.TrimSpace(*s)
}

// buildUpdate renders "UPDATE table SET a = ?, b = ? WHERE id = ?" for the
// assignments that are present. ok is false when none are.
func buildUpdate(table string, id int64, sets []assignment) (string, []any, bool) {
	cols := make([]string, 0, len(sets))
	args := make([]any, 0, len(sets)+1)
	for _, s := range sets {
		if _, absent := s.value.(skipValue); absent {
			continue
		}
		cols = append(cols, s.column+" = ?")
		args = append(args, s.value)
	}
	if len(cols) == 0 {
		return "", nil, false
	}
	return "UPDATE " + table + " SET " + strings.Join(cols, ", ") + " WHERE id = ?", append(args, id), true
}
