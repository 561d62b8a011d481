package inventory

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/models"
)

// MovementFilter narrows the movement log. Zero values mean "any".
type MovementFilter struct {
	VariantID int64
	Type      models.MovementType
	Reference string
	Page      int
	Limit     int
}

func (f *MovementFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 100
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
}

// ListMovements returns one page of the log, newest first, and the total
// count. Movements of pruned variants are kept; their joined fields are nil.
func (s *Service) ListMovements(ctx context.Context, f MovementFilter) ([]models.StockMovement, int, error) {
	f.normalize()

	var where []string
	var args []any
	if f.VariantID > 0 {
		where = append(where, "m.variant_id = ?")
		args = append(args, f.VariantID)
	}
	if f.Type != "" {
		where = append(where, "m.movement_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Reference != "" {
		where = append(where, "m.reference LIKE ?")
		args = append(args, "%"+f.Reference+"%")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.store.Get(ctx, "SELECT COUNT(*) FROM stock_movements m"+clause, args, &total); err != nil {
		return nil, 0, err
	}

	var query strings.Builder
	query.WriteString(`
		SELECT m.id, m.variant_id, m.previous_stock, m.new_stock, m.quantity_change,
		       m.movement_type, m.reference, m.created_at, p.sku, c.name, sz.size_code
		FROM stock_movements m
		LEFT JOIN product_variants v ON v.id = m.variant_id
		LEFT JOIN product_colors pc ON pc.id = v.product_color_id
		LEFT JOIN products p ON p.id = pc.product_id
		LEFT JOIN colors c ON c.id = pc.color_id
		LEFT JOIN sizes sz ON sz.id = v.size_id`)
	query.WriteString(clause)
	query.WriteString(" ORDER BY m.created_at DESC, m.id DESC LIMIT ? OFFSET ?")
	pageArgs := append(append([]any{}, args...), f.Limit, (f.Page-1)*f.Limit)

	movements, err := database.Select(ctx, s.store, query.String(), pageArgs, func(rows *sql.Rows) (models.StockMovement, error) {
		var m models.StockMovement
		err := rows.Scan(&m.ID, &m.VariantID, &m.PreviousStock, &m.NewStock, &m.QuantityChange,
			&m.MovementType, &m.Reference, &m.CreatedAt, &m.SKU, &m.ColorName, &m.SizeCode)
		return m, err
	})
	if err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

// LowStock lists variants at or below threshold, lowest first.
func (s *Service) LowStock(ctx context.Context, threshold, limit int) ([]models.LowStockVariant, error) {
	return database.Select(ctx, s.store, `
		SELECT v.id, p.sku, p.name, c.name, sz.size_code, COALESCE(st.stock, 0) AS stock
		FROM product_variants v
		JOIN product_colors pc ON pc.id = v.product_color_id
		JOIN products p ON p.id = pc.product_id
		JOIN colors c ON c.id = pc.color_id
		JOIN sizes sz ON sz.id = v.size_id
		LEFT JOIN stocks st ON st.variant_id = v.id
		WHERE COALESCE(st.stock, 0) <= ?
		ORDER BY stock ASC, p.sku
		LIMIT ?`, []any{threshold, limit}, func(rows *sql.Rows) (models.LowStockVariant, error) {
		var l models.LowStockVariant
		err := rows.Scan(&l.VariantID, &l.ProductSKU, &l.ProductName, &l.ColorName, &l.SizeCode, &l.Stock)
		return l, err
	})
}
