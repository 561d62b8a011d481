// Package inventory owns stock levels: variant resolution, the append-only
// movement log, order deduction/restoration and marketplace sales.
package inventory

import (
	"context"
	"errors"

	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/models"
)

var (
	ErrVariantNotFound   = errors.New("inventory: variant not found")
	ErrMissingVariantKey = errors.New("missing variantId or sku+colorCode+sizeCode")
	ErrNegativeStock     = errors.New("inventory: stock cannot be negative")
)

// Pusher propagates a stock level to every linked marketplace except skip.
type Pusher interface {
	PushVariantStock(ctx context.Context, variantID int64, stock int, skip ...models.Platform) error
}

// Service is safe for concurrent use.
type Service struct {
	store  *database.Store
	pusher Pusher
}

// NewService wires the service. pusher may be nil (no propagation).
func NewService(store *database.Store, pusher Pusher) *Service {
	return &Service{store: store, pusher: pusher}
}

// VariantKey identifies a variant by id or by (sku, colorCode, sizeCode).
type VariantKey struct {
	VariantID *int64 `json:"variantId"`
	SKU       string `json:"sku"`
	ColorCode string `json:"colorCode"`
	SizeCode  string `json:"sizeCode"`
}

// HasTriple reports whether every part of the natural key is present.
func (k VariantKey) HasTriple() bool {
	return k.SKU != "" && k.ColorCode != "" && k.SizeCode != ""
}

// StockChange describes one applied update.
type StockChange struct {
	VariantID int64 `json:"variantId"`
	Previous  int   `json:"previousStock"`
	New       int   `json:"newStock"`
}

// Delta is New - Previous.
func (c StockChange) Delta() int { return c.New - c.Previous }
