package integrations

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lupohub/lupohub/internal/marketplace/mercadolibre"
	"github.com/lupohub/lupohub/internal/marketplace/tiendanube"
	"github.com/lupohub/lupohub/internal/models"
)

// MarketplaceOrder is the common view of a Tienda Nube or Mercado Libre order.
type MarketplaceOrder struct {
	Platform  models.Platform `json:"platform"`
	ID        int64           `json:"id"`
	Status    string          `json:"status"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt string          `json:"createdAt"`
	Units     int             `json:"units"`
}

type orderLister interface {
	ListOrders(ctx context.Context, cred tiendanube.Credentials, perPage int) ([]tiendanube.Order, error)
}

type orderSearcher interface {
	ListRecentOrders(ctx context.Context, token, sellerID string, limit int) ([]mercadolibre.Order, error)
}

// Orders reads recent orders from either marketplace.
type Orders struct {
	creds jobCredentials
	tn    orderLister
	ml    orderSearcher
}

func NewOrders(creds *CredentialStore, tn *tiendanube.Client, ml *mercadolibre.Client) *Orders {
	return &Orders{creds: creds, tn: tn, ml: ml}
}

// Recent returns up to limit orders of platform, newest first.
func (o *Orders) Recent(ctx context.Context, platform models.Platform, limit int) ([]MarketplaceOrder, error) {
	switch platform {
	case models.PlatformTiendaNube:
		cred, err := o.creds.TiendaNube(ctx)
		if err != nil {
			return nil, err
		}
		orders, err := o.tn.ListOrders(ctx, cred, limit)
		if err != nil {
			return nil, err
		}
		out := make([]MarketplaceOrder, 0, len(orders))
		for _, ord := range orders {
			units := 0
			for _, line := range ord.Products {
				units += int(line.Quantity)
			}
			out = append(out, MarketplaceOrder{
				Platform: platform, ID: ord.ID, Status: ord.Status, Total: ord.Total, CreatedAt: ord.CreatedAt, Units: units,
			})
		}
		return out, nil

	case models.PlatformMercadoLibre:
		token, sellerID, err := o.creds.MercadoLibre(ctx)
		if err != nil {
			return nil, err
		}
		orders, err := o.ml.ListRecentOrders(ctx, token, sellerID, limit)
		if err != nil {
			return nil, err
		}
		out := make([]MarketplaceOrder, 0, len(orders))
		for _, ord := range orders {
			units := 0
			for _, line := range ord.OrderItems {
				units += line.Quantity
			}
			out = append(out, MarketplaceOrder{
				Platform: platform, ID: ord.ID, Status: ord.Status, Total: ord.TotalAmount, CreatedAt: ord.DateCreated, Units: units,
			})
		}
		return out, nil
	}
	return nil, fmt.Errorf("integrations: unknown platform %q", platform)
}

// SalesTotal sums the recent orders of platform.
func SalesTotal(orders []MarketplaceOrder) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.Total)
	}
	return total
}
