package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/marketplace/mercadolibre"
	"github.com/lupohub/lupohub/internal/marketplace/tiendanube"
	"github.com/lupohub/lupohub/internal/models"
)

var ErrInvalidSignature = errors.New("integrations: invalid webhook signature")

// SaleApplier records a marketplace sale. *inventory.Service implements it.
type SaleApplier interface {
	ApplyMarketplaceSale(ctx context.Context, origin models.Platform, variantID int64, qty int, reference string) (bool, error)
}

type tiendaNubeOrders interface {
	GetOrder(ctx context.Context, cred tiendanube.Credentials, orderID int64) (*tiendanube.Order, error)
}

type mercadoLibreOrders interface {
	GetOrder(ctx context.Context, token string, orderID int64) (*mercadolibre.Order, error)
}

// VariantLookup maps marketplace ids to local variants.
type VariantLookup interface {
	ByTiendaNubeVariant(ctx context.Context, tnVariantID string) (int64, error)
	ByMercadoLibre(ctx context.Context, itemID, variationID, sku string) (int64, error)
}

// SaleSummary is returned to the webhook caller.
type SaleSummary struct {
	OrderID int64    `json:"orderId"`
	Applied int      `json:"applied"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// Webhooks applies marketplace sales to local stock.
type Webhooks struct {
	creds    jobCredentials
	tn       tiendaNubeOrders
	ml       mercadoLibreOrders
	variants VariantLookup
	sales    SaleApplier
	secret   string
}

// NewWebhooks verifies Tienda Nube deliveries with the app's client secret.
func NewWebhooks(creds *CredentialStore, tn *tiendanube.Client, ml *mercadolibre.Client, variants VariantLookup, sales SaleApplier, tnSecret string) *Webhooks {
	return &Webhooks{creds: creds, tn: tn, ml: ml, variants: variants, sales: sales, secret: tnSecret}
}

// TiendaNube handles one webhook delivery. Only order/paid changes stock;
// other events return a nil summary.
func (w *Webhooks) TiendaNube(ctx context.Context, body []byte, signature string) (*SaleSummary, error) {
	if !tiendanube.VerifyWebhook(w.secret, body, signature) {
		return nil, ErrInvalidSignature
	}
	var hook tiendanube.Webhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("decode tiendanube webhook: %w", err)
	}
	if hook.Event != "order/paid" {
		log.Debug().Str("event", hook.Event).Msg("tiendanube webhook ignored")
		return nil, nil
	}

	cred, err := w.creds.TiendaNube(ctx)
	if err != nil {
		return nil, err
	}
	order, err := w.tn.GetOrder(ctx, cred, hook.ID)
	if err != nil {
		return nil, err
	}

	summary := &SaleSummary{OrderID: order.ID}
	reference := fmt.Sprintf("TN-ORDER-%d", order.ID)
	for _, line := range order.Products {
		variantID, err := w.variants.ByTiendaNubeVariant(ctx, fmt.Sprint(line.VariantID))
		w.apply(ctx, summary, models.PlatformTiendaNube, variantID, err, int(line.Quantity), reference)
	}
	return summary, nil
}

// MercadoLibre handles one notification. Only paid orders change stock.
func (w *Webhooks) MercadoLibre(ctx context.Context, n mercadolibre.Notification) (*SaleSummary, error) {
	orderID, ok := n.OrderID()
	if !ok {
		log.Debug().Str("topic", n.Topic).Str("resource", n.Resource).Msg("mercadolibre notification ignored")
		return nil, nil
	}

	token, _, err := w.creds.MercadoLibre(ctx)
	if err != nil {
		return nil, err
	}
	order, err := w.ml.GetOrder(ctx, token, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != "paid" {
		log.Debug().Int64("order_id", orderID).Str("status", order.Status).Msg("mercadolibre order not paid yet")
		return nil, nil
	}

	summary := &SaleSummary{OrderID: order.ID}
	reference := fmt.Sprintf("ML-ORDER-%d", order.ID)
	for _, line := range order.OrderItems {
		sku := ""
		if line.Item.SellerSKU != nil {
			sku = *line.Item.SellerSKU
		}
		variantID, err := w.variants.ByMercadoLibre(ctx, line.Item.ID, line.Item.VariationID.String(), sku)
		w.apply(ctx, summary, models.PlatformMercadoLibre, variantID, err, line.Quantity, reference)
	}
	return summary, nil
}

func (w *Webhooks) apply(ctx context.Context, summary *SaleSummary, origin models.Platform, variantID int64, lookupErr error, qty int, reference string) {
	if errors.Is(lookupErr, database.ErrNotFound) {
		summary.Skipped++
		return
	}
	if lookupErr != nil {
		summary.Errors = append(summary.Errors, lookupErr.Error())
		return
	}
	applied, err := w.sales.ApplyMarketplaceSale(ctx, origin, variantID, qty, reference)
	switch {
	case err != nil:
		log.Error().Err(err).Int64("variant_id", variantID).Str("reference", reference).Msg("marketplace sale not applied")
		summary.Errors = append(summary.Errors, err.Error())
	case applied:
		summary.Applied++
	default:
		summary.Skipped++
	}
}

// SQLVariantLookup resolves marketplace ids against product_variants.
type SQLVariantLookup struct {
	store *database.Store
}

func NewSQLVariantLookup(store *database.Store) *SQLVariantLookup {
	return &SQLVariantLookup{store: store}
}

func (l *SQLVariantLookup) ByTiendaNubeVariant(ctx context.Context, tnVariantID string) (int64, error) {
	var id int64
	err := l.store.Get(ctx, "SELECT id FROM product_variants WHERE tienda_nube_variant_id = ? ORDER BY id LIMIT 1", []any{tnVariantID}, &id)
	return id, err
}

// ByMercadoLibre tries the variation id first, then the listing plus sku.
func (l *SQLVariantLookup) ByMercadoLibre(ctx context.Context, itemID, variationID, sku string) (int64, error) {
	var id int64
	if variationID != "" {
		err := l.store.Get(ctx, "SELECT id FROM product_variants WHERE mercado_libre_variant_id = ? ORDER BY id LIMIT 1", []any{variationID}, &id)
		if !errors.Is(err, database.ErrNotFound) {
			return id, err
		}
	}
	if sku == "" {
		return 0, database.ErrNotFound
	}
	err := l.store.Get(ctx, `
		SELECT v.id FROM product_variants v
		JOIN product_colors pc ON pc.id = v.product_color_id
		JOIN products p ON p.id = pc.product_id
		WHERE p.mercado_libre_id = ? AND COALESCE(v.sku, p.sku) = ?
		ORDER BY v.id LIMIT 1`, []any{itemID, sku}, &id)
	return id, err
}
