package integrations

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/models"
)

// Job types handled by the worker pool.
const (
	JobTiendaNubeVariantStock   = "tiendanube.variant_stock"
	JobMercadoLibreVariantStock = "mercadolibre.variant_stock"
	JobMercadoLibreSKUStock     = "mercadolibre.sku_stock"
)

// TiendaNubeStockJob sets one Tienda Nube variant.
type TiendaNubeStockJob struct {
	VariantID   int64  `json:"variantId"`
	ProductID   string `json:"tnProductId"`
	TNVariantID string `json:"tnVariantId"`
	Stock       int    `json:"stock"`
}

// MercadoLibreStockJob sets one variation of a listing.
type MercadoLibreStockJob struct {
	VariantID   int64  `json:"variantId"`
	ItemID      string `json:"itemId"`
	VariationID string `json:"variationId"`
	Stock       int    `json:"stock"`
}

// SKUStockJob searches Mercado Libre for sku and sets the match.
type SKUStockJob struct {
	SKU   string `json:"sku"`
	Stock int    `json:"stock"`
}

// Submitter enqueues a job. *worker.Pool implements it.
type Submitter interface {
	Submit(ctx context.Context, jobType string, payload any) (string, error)
}

type connectionChecker interface {
	IsConnected(ctx context.Context, platform models.Platform) (bool, error)
}

// Pusher turns a local stock level into marketplace jobs. It implements
// inventory.Pusher and SKUQueue.
type Pusher struct {
	store *database.Store
	creds connectionChecker
	jobs  Submitter
}

func NewPusher(store *database.Store, creds *CredentialStore, jobs Submitter) *Pusher {
	return &Pusher{store: store, creds: creds, jobs: jobs}
}

type variantLinks struct {
	tnProductID string
	tnVariantID string
	mlItemID    string
	mlVariation string
	sku         string
}

func (p *Pusher) links(ctx context.Context, variantID int64) (variantLinks, error) {
	var l variantLinks
	err := p.store.Get(ctx, `
		SELECT COALESCE(p.tienda_nube_id, ''), COALESCE(v.tienda_nube_variant_id, ''),
		       COALESCE(p.mercado_libre_id, ''), COALESCE(v.mercado_libre_variant_id, ''),
		       COALESCE(v.sku, p.sku)
		FROM product_variants v
		JOIN product_colors pc ON pc.id = v.product_color_id
		JOIN products p ON p.id = pc.product_id
		WHERE v.id = ?`, []any{variantID},
		&l.tnProductID, &l.tnVariantID, &l.mlItemID, &l.mlVariation, &l.sku)
	return l, err
}

// PushVariantStock enqueues one job per linked, connected platform not in
// skip. The jobs are independent; one failing to enqueue does not stop the
// others.
func (p *Pusher) PushVariantStock(ctx context.Context, variantID int64, stock int, skip ...models.Platform) error {
	l, err := p.links(ctx, variantID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load links of variant %d: %w", variantID, err)
	}

	var errs []error
	if !slices.Contains(skip, models.PlatformTiendaNube) && l.tnProductID != "" && l.tnVariantID != "" {
		if p.connected(ctx, models.PlatformTiendaNube) {
			errs = append(errs, p.submit(ctx, JobTiendaNubeVariantStock, TiendaNubeStockJob{
				VariantID: variantID, ProductID: l.tnProductID, TNVariantID: l.tnVariantID, Stock: stock,
			}))
		}
	}

	if !slices.Contains(skip, models.PlatformMercadoLibre) && p.connected(ctx, models.PlatformMercadoLibre) {
		// A bare item id is not enough: writing the item quantity would
		// overwrite every variation of the listing. Without a variation
		// link the sku search picks the right one.
		switch {
		case l.mlItemID != "" && l.mlVariation != "":
			errs = append(errs, p.submit(ctx, JobMercadoLibreVariantStock, MercadoLibreStockJob{
				VariantID: variantID, ItemID: l.mlItemID, VariationID: l.mlVariation, Stock: stock,
			}))
		case l.sku != "":
			errs = append(errs, p.submit(ctx, JobMercadoLibreSKUStock, SKUStockJob{SKU: l.sku, Stock: stock}))
		}
	}
	return errors.Join(errs...)
}

// EnqueueSKUStock schedules a best-effort push by sku.
func (p *Pusher) EnqueueSKUStock(ctx context.Context, sku string, stock int) error {
	return p.submit(ctx, JobMercadoLibreSKUStock, SKUStockJob{SKU: sku, Stock: stock})
}

func (p *Pusher) connected(ctx context.Context, platform models.Platform) bool {
	ok, err := p.creds.IsConnected(ctx, platform)
	if err != nil {
		log.Warn().Err(err).Str("platform", string(platform)).Msg("credential lookup failed")
		return false
	}
	return ok
}

func (p *Pusher) submit(ctx context.Context, jobType string, payload any) error {
	id, err := p.jobs.Submit(ctx, jobType, payload)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	log.Debug().Str("job_id", id).Str("job_type", jobType).Msg("stock push queued")
	return nil
}
