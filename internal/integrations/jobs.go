package integrations

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/lupohub/lupohub/internal/marketplace"
	"github.com/lupohub/lupohub/internal/marketplace/mercadolibre"
	"github.com/lupohub/lupohub/internal/marketplace/tiendanube"
	"github.com/lupohub/lupohub/internal/worker"
)

type tiendaNubeStockClient interface {
	UpdateVariantStock(ctx context.Context, cred tiendanube.Credentials, productID, variantID string, stock int) error
}

type mercadoLibreStockClient interface {
	UpdateVariationStock(ctx context.Context, token, itemID, variationID string, qty int) error
	PushStockBySKU(ctx context.Context, token, userID, sku string, qty int) error
}

type jobCredentials interface {
	TiendaNube(ctx context.Context) (tiendanube.Credentials, error)
	MercadoLibre(ctx context.Context) (token, userID string, err error)
}

// JobHandlers executes the stock jobs enqueued by Pusher.
type JobHandlers struct {
	creds jobCredentials
	tn    tiendaNubeStockClient
	ml    mercadoLibreStockClient
}

func NewJobHandlers(creds *CredentialStore, tn *tiendanube.Client, ml *mercadolibre.Client) *JobHandlers {
	return &JobHandlers{creds: creds, tn: tn, ml: ml}
}

// Register binds every job type to the pool.
func (h *JobHandlers) Register(pool *worker.Pool) {
	pool.Handle(JobTiendaNubeVariantStock, h.tiendaNubeVariantStock)
	pool.Handle(JobMercadoLibreVariantStock, h.mercadoLibreVariantStock)
	pool.Handle(JobMercadoLibreSKUStock, h.mercadoLibreSKUStock)
}

func decodeJob(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return worker.Permanent(err)
	}
	return nil
}

var errMissingVariation = errors.New("integrations: mercadolibre job without item and variation")

// classify marks errors that a retry cannot fix.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, marketplace.ErrNotConnected),
		errors.Is(err, mercadolibre.ErrSKUNotFound):
		return worker.Permanent(err)
	case marketplace.Retryable(err):
		return err
	case errors.Is(err, marketplace.ErrRequestFailed), errors.Is(err, marketplace.ErrNotFound):
		return worker.Permanent(err)
	default:
		return err
	}
}

func (h *JobHandlers) tiendaNubeVariantStock(ctx context.Context, payload json.RawMessage) error {
	var job TiendaNubeStockJob
	if err := decodeJob(payload, &job); err != nil {
		return err
	}
	cred, err := h.creds.TiendaNube(ctx)
	if err != nil {
		return classify(err)
	}
	if err := h.tn.UpdateVariantStock(ctx, cred, job.ProductID, job.TNVariantID, job.Stock); err != nil {
		return classify(err)
	}
	log.Info().Int64("variant_id", job.VariantID).Int("stock", job.Stock).Msg("tiendanube stock updated")
	return nil
}

func (h *JobHandlers) mercadoLibreVariantStock(ctx context.Context, payload json.RawMessage) error {
	var job MercadoLibreStockJob
	if err := decodeJob(payload, &job); err != nil {
		return err
	}
	if job.ItemID == "" || job.VariationID == "" {
		return worker.Permanent(errMissingVariation)
	}
	token, _, err := h.creds.MercadoLibre(ctx)
	if err != nil {
		return classify(err)
	}
	if err := h.ml.UpdateVariationStock(ctx, token, job.ItemID, job.VariationID, job.Stock); err != nil {
		return classify(err)
	}
	log.Info().Int64("variant_id", job.VariantID).Str("item_id", job.ItemID).Int("stock", job.Stock).Msg("mercadolibre stock updated")
	return nil
}

func (h *JobHandlers) mercadoLibreSKUStock(ctx context.Context, payload json.RawMessage) error {
	var job SKUStockJob
	if err := decodeJob(payload, &job); err != nil {
		return err
	}
	token, userID, err := h.creds.MercadoLibre(ctx)
	if err != nil {
		return classify(err)
	}
	if err := h.ml.PushStockBySKU(ctx, token, userID, job.SKU, job.Stock); err != nil {
		if errors.Is(err, mercadolibre.ErrSKUNotFound) {
			log.Info().Str("sku", job.SKU).Msg("mercadolibre has no listing for sku")
		}
		return classify(err)
	}
	log.Info().Str("sku", job.SKU).Int("stock", job.Stock).Msg("mercadolibre stock updated by sku")
	return nil
}
