package integrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/inventory"
)

const maxColorCodeRetries = 5

// NewProduct is the insert shape used by the importer.
type NewProduct struct {
	SKU          string
	Name         string
	Category     string
	BasePrice    decimal.Decimal
	Description  *string
	TiendaNubeID string
}

// PruneResult reports what a prune removed and what it kept.
type PruneResult struct {
	Deleted    int
	Referenced []int64 // kept because order lines point at them
}

// CatalogTx is the set of catalog writes the importer performs for one
// product. Every call runs on the same transaction.
type CatalogTx interface {
	FindProduct(ctx context.Context, tiendaNubeID, sku string) (id int64, found bool, err error)
	CreateProduct(ctx context.Context, p NewProduct) (int64, error)
	UpdateProduct(ctx context.Context, id int64, name string, description *string, tiendaNubeID string) error
	UpsertColor(ctx context.Context, name string) (int64, error)
	UpsertSize(ctx context.Context, code, name string) (int64, error)
	UpsertProductColor(ctx context.Context, productID, colorID int64) (int64, error)
	UpsertVariant(ctx context.Context, productColorID, sizeID int64, sku *string, tiendaNubeVariantID string) (id int64, created bool, err error)
	SyncStock(ctx context.Context, variantID int64, upstream *int, reference string) (level int, err error)
	PruneVariants(ctx context.Context, productID int64, keep []int64) (PruneResult, error)
}

// CatalogStore opens a CatalogTx.
type CatalogStore interface {
	InTx(ctx context.Context, fn func(tx CatalogTx) error) error
}

// MySQLCatalog is the CatalogStore backed by the main database.
type MySQLCatalog struct {
	store *database.Store
	randN func(n int) int
}

func NewMySQLCatalog(store *database.Store) *MySQLCatalog {
	return &MySQLCatalog{store: store, randN: rand.IntN}
}

func (c *MySQLCatalog) InTx(ctx context.Context, fn func(tx CatalogTx) error) error {
	return c.store.Tx(ctx, func(tx *database.Store) error {
		return fn(&mysqlCatalogTx{tx: tx, randN: c.randN})
	})
}

type mysqlCatalogTx struct {
	tx    *database.Store
	randN func(n int) int
}

func (t *mysqlCatalogTx) FindProduct(ctx context.Context, tiendaNubeID, sku string) (int64, bool, error) {
	var id int64
	err := t.tx.Get(ctx, "SELECT id FROM products WHERE tienda_nube_id = ? ORDER BY id LIMIT 1", []any{tiendaNubeID}, &id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return 0, false, err
	}

	err = t.tx.Get(ctx, "SELECT id FROM products WHERE sku = ? ORDER BY id LIMIT 1", []any{sku}, &id)
	if errors.Is(err, database.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (t *mysqlCatalogTx) CreateProduct(ctx context.Context, p NewProduct) (int64, error) {
	res, err := t.tx.Execute(ctx, `
		INSERT INTO products (sku, name, category, base_price, description, tienda_nube_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.SKU, p.Name, p.Category, p.BasePrice, p.Description, p.TiendaNubeID)
	if err != nil {
		return 0, fmt.Errorf("insert product %s: %w", p.SKU, err)
	}
	return res.LastInsertId()
}

func (t *mysqlCatalogTx) UpdateProduct(ctx context.Context, id int64, name string, description *string, tiendaNubeID string) error {
	_, err := t.tx.Execute(ctx,
		"UPDATE products SET name = ?, description = ?, tienda_nube_id = ? WHERE id = ?",
		name, description, tiendaNubeID, id)
	return err
}

// UpsertColor matches by exact name. New colors get a synthesized code; a
// clash appends two random digits. Schemas without the hex column are
// handled by retrying the insert without it.
func (t *mysqlCatalogTx) UpsertColor(ctx context.Context, name string) (int64, error) {
	var id int64
	err := t.tx.Get(ctx, "SELECT id FROM colors WHERE name = ? ORDER BY id LIMIT 1", []any{name}, &id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return 0, err
	}

	base := colorCode(name)
	code := base
	hex := paletteHex(name)
	withHex := true
	for attempt := 0; attempt <= maxColorCodeRetries; attempt++ {
		var res sql.Result
		if withHex {
			res, err = t.tx.Execute(ctx, "INSERT INTO colors (code, name, hex) VALUES (?, ?, ?)", code, name, hex)
			if database.IsUnknownColumn(err) {
				withHex = false
				res, err = t.tx.Execute(ctx, "INSERT INTO colors (code, name) VALUES (?, ?)", code, name)
			}
		} else {
			res, err = t.tx.Execute(ctx, "INSERT INTO colors (code, name) VALUES (?, ?)", code, name)
		}
		if err == nil {
			return res.LastInsertId()
		}
		if !database.IsDuplicateKey(err) {
			return 0, fmt.Errorf("insert color %q: %w", name, err)
		}
		code = fmt.Sprintf("%s%02d", base, t.randN(100))
	}
	return 0, fmt.Errorf("insert color %q: code %s still taken after %d retries", name, base, maxColorCodeRetries)
}

func (t *mysqlCatalogTx) UpsertSize(ctx context.Context, code, name string) (int64, error) {
	var id int64
	err := t.tx.Get(ctx, "SELECT id FROM sizes WHERE size_code = ? ORDER BY id LIMIT 1", []any{code}, &id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return 0, err
	}

	res, err := t.tx.Execute(ctx, "INSERT INTO sizes (size_code, name) VALUES (?, ?)", code, name)
	if database.IsUnknownColumn(err) {
		res, err = t.tx.Execute(ctx, "INSERT INTO sizes (size_code) VALUES (?)", code)
	}
	if err != nil {
		return 0, fmt.Errorf("insert size %q: %w", code, err)
	}
	return res.LastInsertId()
}

func (t *mysqlCatalogTx) UpsertProductColor(ctx context.Context, productID, colorID int64) (int64, error) {
	// LAST_INSERT_ID(id) makes LastInsertId return the existing row on conflict.
	res, err := t.tx.Execute(ctx, `
		INSERT INTO product_colors (product_id, color_id) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)`, productID, colorID)
	if err != nil {
		return 0, fmt.Errorf("link color %d to product %d: %w", colorID, productID, err)
	}
	return res.LastInsertId()
}

func (t *mysqlCatalogTx) UpsertVariant(ctx context.Context, productColorID, sizeID int64, sku *string, tiendaNubeVariantID string) (int64, bool, error) {
	var id int64
	err := t.tx.Get(ctx, "SELECT id FROM product_variants WHERE product_color_id = ? AND size_id = ?", []any{productColorID, sizeID}, &id)
	switch {
	case err == nil:
		_, err = t.tx.Execute(ctx,
			"UPDATE product_variants SET sku = ?, tienda_nube_variant_id = ? WHERE id = ?",
			sku, tiendaNubeVariantID, id)
		return id, false, err
	case errors.Is(err, database.ErrNotFound):
		res, err := t.tx.Execute(ctx, `
			INSERT INTO product_variants (product_color_id, size_id, sku, tienda_nube_variant_id)
			VALUES (?, ?, ?, ?)`, productColorID, sizeID, sku, tiendaNubeVariantID)
		if err != nil {
			return 0, false, err
		}
		id, err = res.LastInsertId()
		return id, true, err
	default:
		return 0, false, err
	}
}

func (t *mysqlCatalogTx) SyncStock(ctx context.Context, variantID int64, upstream *int, reference string) (int, error) {
	level, _, err := inventory.ApplyImportedStock(ctx, t.tx, variantID, upstream, reference)
	return level, err
}

// PruneVariants removes the product's variants not in keep, with their
// stock rows, then the color links left empty. Variants referenced by order
// lines are kept so order history stays intact.
func (t *mysqlCatalogTx) PruneVariants(ctx context.Context, productID int64, keep []int64) (PruneResult, error) {
	var result PruneResult

	existing, err := database.Select(ctx, t.tx, `
		SELECT v.id FROM product_variants v
		JOIN product_colors pc ON pc.id = v.product_color_id
		WHERE pc.product_id = ?`, []any{productID}, func(rows *sql.Rows) (int64, error) {
		var id int64
		return id, rows.Scan(&id)
	})
	if err != nil {
		return result, err
	}

	for _, id := range existing {
		if slices.Contains(keep, id) {
			continue
		}
		var refs int
		if err := t.tx.Get(ctx, "SELECT COUNT(*) FROM order_items WHERE variant_id = ?", []any{id}, &refs); err != nil {
			return result, err
		}
		if refs > 0 {
			result.Referenced = append(result.Referenced, id)
			continue
		}
		if _, err := t.tx.Execute(ctx, "DELETE FROM stocks WHERE variant_id = ?", id); err != nil {
			return result, err
		}
		if _, err := t.tx.Execute(ctx, "DELETE FROM product_variants WHERE id = ?", id); err != nil {
			return result, err
		}
		result.Deleted++
	}

	_, err = t.tx.Execute(ctx, `
		DELETE pc FROM product_colors pc
		LEFT JOIN product_variants v ON v.product_color_id = pc.id
		WHERE pc.product_id = ? AND v.id IS NULL`, productID)
	if err != nil {
		return result, err
	}
	if len(result.Referenced) > 0 {
		log.Debug().Int64("product_id", productID).Ints64("variant_ids", result.Referenced).Msg("prune kept referenced variants")
	}
	return result, nil
}
