package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/lupohub/lupohub/internal/database"
)

const resolveVariantQuery = `
	SELECT v.id
	FROM products p
	JOIN product_colors pc ON pc.product_id = p.id
	JOIN colors c ON c.id = pc.color_id
	JOIN product_variants v ON v.product_color_id = pc.id
	JOIN sizes s ON s.id = v.size_id
	WHERE p.sku = ? AND c.code = ? AND s.size_code = ?
	ORDER BY v.id
	LIMIT 1`

// ResolveVariant maps the natural key to a variant id. Legacy data may hold
// more than one product per sku; the lowest variant id wins.
func (s *Service) ResolveVariant(ctx context.Context, sku, colorCode, sizeCode string) (int64, error) {
	var id int64
	err := s.store.Get(ctx, resolveVariantQuery, []any{sku, colorCode, sizeCode}, &id)
	if errors.Is(err, database.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s/%s/%s", ErrVariantNotFound, sku, colorCode, sizeCode)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve variant: %w", err)
	}
	return id, nil
}

// Resolve accepts either form of VariantKey. An explicit id wins and is
// checked for existence.
func (s *Service) Resolve(ctx context.Context, key VariantKey) (int64, error) {
	if key.VariantID != nil {
		var id int64
		err := s.store.Get(ctx, "SELECT id FROM product_variants WHERE id = ?", []any{*key.VariantID}, &id)
		if errors.Is(err, database.ErrNotFound) {
			return 0, fmt.Errorf("%w: id %d", ErrVariantNotFound, *key.VariantID)
		}
		if err != nil {
			return 0, fmt.Errorf("load variant: %w", err)
		}
		return id, nil
	}
	if !key.HasTriple() {
		return 0, ErrMissingVariantKey
	}
	return s.ResolveVariant(ctx, key.SKU, key.ColorCode, key.SizeCode)
}
