package integrations

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/lupohub/lupohub/internal/marketplace/tiendanube"
	"github.com/lupohub/lupohub/internal/models"
)

// ImportResult summarizes one bulk import. Logs carries one line per
// product or variant that could not be reconciled.
type ImportResult struct {
	Pages           int      `json:"pages"`
	ProductsCreated int      `json:"productsCreated"`
	ProductsUpdated int      `json:"productsUpdated"`
	VariantsCreated int      `json:"variantsCreated"`
	VariantsUpdated int      `json:"variantsUpdated"`
	VariantsDeleted int      `json:"variantsDeleted"`
	Logs            []string `json:"logs"`
}

func (r *ImportResult) logf(format string, args ...any) {
	r.Logs = append(r.Logs, fmt.Sprintf(format, args...))
}

type productSource interface {
	ForEachProductPage(ctx context.Context, cred tiendanube.Credentials, fn func(page int, products []tiendanube.Product) error) (int, error)
}

type credentialSource interface {
	TiendaNube(ctx context.Context) (tiendanube.Credentials, error)
	IsConnected(ctx context.Context, platform models.Platform) (bool, error)
}

// SKUQueue schedules a best-effort Mercado Libre push by sku.
type SKUQueue interface {
	EnqueueSKUStock(ctx context.Context, sku string, stock int) error
}

// Importer pulls the Tienda Nube catalog into the local tables.
type Importer struct {
	creds   credentialSource
	source  productSource
	catalog CatalogStore
	skus    SKUQueue
	tenant  string
	group   singleflight.Group
}

func NewImporter(creds *CredentialStore, source *tiendanube.Client, catalog CatalogStore, skus SKUQueue) *Importer {
	return &Importer{creds: creds, source: source, catalog: catalog, skus: skus, tenant: creds.Tenant()}
}

// importTimeout bounds one shared import run.
const importTimeout = 15 * time.Minute

// Run imports every product page. Concurrent calls share one run, which is
// detached from any single caller: a caller that goes away stops waiting
// but the run continues for the others.
func (i *Importer) Run(ctx context.Context) (*ImportResult, error) {
	leader := false
	ch := i.group.DoChan(i.tenant, func() (any, error) {
		leader = true
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), importTimeout)
		defer cancel()
		return i.run(runCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared && !leader {
			log.Info().Str("tenant", i.tenant).Msg("tiendanube import joined a running sync")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ImportResult), nil
	}
}

type skuPush struct {
	sku   string
	stock int
}

// productOutcome is merged into the result only after the product commits.
type productOutcome struct {
	created         bool
	variantsCreated int
	variantsUpdated int
	variantsDeleted int
	pushes          []skuPush
	logs            []string
}

func (i *Importer) run(ctx context.Context) (*ImportResult, error) {
	started := time.Now()

	cred, err := i.creds.TiendaNube(ctx)
	if err != nil {
		return nil, err
	}
	mlConnected, err := i.creds.IsConnected(ctx, models.PlatformMercadoLibre)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Logs: []string{}}
	pages, err := i.source.ForEachProductPage(ctx, cred, func(page int, products []tiendanube.Product) error {
		log.Debug().Int("page", page).Int("products", len(products)).Msg("tiendanube import page")
		for _, p := range products {
			if err := ctx.Err(); err != nil {
				return err
			}
			i.importProduct(ctx, p, mlConnected, result)
		}
		return nil
	})
	result.Pages = pages
	if err != nil {
		if pages == 0 || errors.Is(err, context.Canceled) {
			return nil, err
		}
		result.logf("importación interrumpida tras %d páginas: %v", pages, err)
	}

	log.Info().
		Int("pages", result.Pages).
		Int("products_created", result.ProductsCreated).
		Int("products_updated", result.ProductsUpdated).
		Int("variants_created", result.VariantsCreated).
		Int("variants_updated", result.VariantsUpdated).
		Int("variants_deleted", result.VariantsDeleted).
		Int("issues", len(result.Logs)).
		Dur("took", time.Since(started)).
		Msg("tiendanube import finished")
	return result, nil
}

func (i *Importer) importProduct(ctx context.Context, p tiendanube.Product, mlConnected bool, result *ImportResult) {
	var out productOutcome
	err := i.catalog.InTx(ctx, func(tx CatalogTx) error {
		out = productOutcome{}
		return i.reconcile(ctx, tx, p, mlConnected, &out)
	})
	if err != nil {
		log.Warn().Err(err).Int64("tn_product_id", p.ID).Msg("tiendanube product skipped")
		result.logf("producto TN %d (%s): %v", p.ID, p.Name, err)
		return
	}

	if out.created {
		result.ProductsCreated++
	} else {
		result.ProductsUpdated++
	}
	result.VariantsCreated += out.variantsCreated
	result.VariantsUpdated += out.variantsUpdated
	result.VariantsDeleted += out.variantsDeleted
	result.Logs = append(result.Logs, out.logs...)

	for _, push := range out.pushes {
		if err := i.skus.EnqueueSKUStock(ctx, push.sku, push.stock); err != nil {
			log.Warn().Err(err).Str("sku", push.sku).Msg("mercadolibre sku push not queued")
		}
	}
}

func (i *Importer) reconcile(ctx context.Context, tx CatalogTx, p tiendanube.Product, mlConnected bool, out *productOutcome) error {
	tnID := strconv.FormatInt(p.ID, 10)
	sku := productSKU(p)
	name := p.Name.String()
	if name == "" {
		name = sku
	}
	var description *string
	if d := p.Description.String(); d != "" {
		description = &d
	}

	// 1. --- Product identity ---
	productID, found, err := tx.FindProduct(ctx, tnID, sku)
	if err != nil {
		return err
	}
	if found {
		if err := tx.UpdateProduct(ctx, productID, name, description, tnID); err != nil {
			return err
		}
	} else {
		productID, err = tx.CreateProduct(ctx, NewProduct{
			SKU:          sku,
			Name:         name,
			Category:     models.DefaultCategory,
			BasePrice:    basePrice(p),
			Description:  description,
			TiendaNubeID: tnID,
		})
		if err != nil {
			return err
		}
		out.created = true
	}

	// 2. --- Variants ---
	reference := "TN-" + tnID
	keep := make([]int64, 0, len(p.Variants))
	failed := 0
	for _, v := range p.Variants {
		variantID, created, level, err := i.importVariant(ctx, tx, productID, v, reference)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			out.logs = append(out.logs, fmt.Sprintf("variante TN %d de %s: %v", v.ID, sku, err))
			continue
		}
		keep = append(keep, variantID)
		if created {
			out.variantsCreated++
		} else {
			out.variantsUpdated++
		}
		if mlConnected && v.SKU != nil && *v.SKU != "" {
			out.pushes = append(out.pushes, skuPush{sku: *v.SKU, stock: level})
		}
	}

	// 3. --- Prune ---
	// A failed variant is not in keep; pruning now would delete it.
	if failed > 0 {
		out.logs = append(out.logs, fmt.Sprintf("producto %s: limpieza de variantes omitida por errores", sku))
		return nil
	}
	pruned, err := tx.PruneVariants(ctx, productID, keep)
	if err != nil {
		return fmt.Errorf("prune variants: %w", err)
	}
	out.variantsDeleted = pruned.Deleted
	for _, id := range pruned.Referenced {
		out.logs = append(out.logs, fmt.Sprintf("variante %d de %s ya no existe en TN pero tiene pedidos; se conserva", id, sku))
	}
	return nil
}

func (i *Importer) importVariant(ctx context.Context, tx CatalogTx, productID int64, v tiendanube.Variant, reference string) (id int64, created bool, level int, err error) {
	attrs := attrsFromValues(v.Values)

	colorID, err := tx.UpsertColor(ctx, attrs.ColorName)
	if err != nil {
		return 0, false, 0, err
	}
	sizeID, err := tx.UpsertSize(ctx, attrs.SizeCode, attrs.SizeName)
	if err != nil {
		return 0, false, 0, err
	}
	pcID, err := tx.UpsertProductColor(ctx, productID, colorID)
	if err != nil {
		return 0, false, 0, err
	}

	var sku *string
	if v.SKU != nil && *v.SKU != "" {
		sku = v.SKU
	}
	id, created, err = tx.UpsertVariant(ctx, pcID, sizeID, sku, strconv.FormatInt(v.ID, 10))
	if err != nil {
		return 0, false, 0, err
	}

	level, err = tx.SyncStock(ctx, id, v.Stock, reference)
	if err != nil {
		return 0, false, 0, err
	}
	return id, created, level, nil
}

// productSKU is the first variant sku, else TN-{id}.
func productSKU(p tiendanube.Product) string {
	if len(p.Variants) > 0 {
		if sku := p.Variants[0].SKU; sku != nil && *sku != "" {
			return *sku
		}
	}
	return "TN-" + strconv.FormatInt(p.ID, 10)
}

func basePrice(p tiendanube.Product) decimal.Decimal {
	if len(p.Variants) > 0 && p.Variants[0].Price.Valid {
		return p.Variants[0].Price.Decimal
	}
	return decimal.Zero
}
