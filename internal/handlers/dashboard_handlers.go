package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/integrations"
	"github.com/lupohub/lupohub/internal/marketplace"
	"github.com/lupohub/lupohub/internal/models"
)

// ChannelSales is the revenue seen on one sales channel.
type ChannelSales struct {
	Channel   string          `json:"channel"`
	Connected bool            `json:"connected"`
	Orders    int             `json:"orders"`
	Total     decimal.Decimal `json:"total"`
}

// TopProduct is ranked by units sold in wholesale orders.
type TopProduct struct {
	SKU   string `json:"sku"`
	Name  string `json:"name"`
	Units int    `json:"units"`
}

// DashboardStats is the payload of GET /api/dashboard/stats.
type DashboardStats struct {
	OrdersByStatus map[models.OrderStatus]int `json:"ordersByStatus"`
	WholesaleTotal decimal.Decimal            `json:"wholesaleTotal"`
	Channels       []ChannelSales             `json:"channels"`
	TopProducts    []TopProduct               `json:"topProducts"`
	LowStock       []models.LowStockVariant   `json:"lowStock"`
}

// recentMarketplaceOrders bounds the marketplace share of the channel view.
const recentMarketplaceOrders = 50

// GetDashboardStats aggregates orders, sales per channel and low stock.
// Marketplace fetches run concurrently; a disconnected or failing
// marketplace shows up as an empty channel.
func (h *Handlers) GetDashboardStats(c *gin.Context) {
	stats := DashboardStats{OrdersByStatus: map[models.OrderStatus]int{}}
	var wholesaleOrders int
	var tn, ml ChannelSales

	g, ctx := errgroup.WithContext(c.Request.Context())

	// 1. --- Orders by status ---
	g.Go(func() error {
		return h.Store.Query(ctx, "SELECT status, COUNT(*) FROM orders GROUP BY status", nil, func(rows *sql.Rows) error {
			var status models.OrderStatus
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			stats.OrdersByStatus[status] = n
			return nil
		})
	})

	// 2. --- Wholesale sales ---
	g.Go(func() error {
		return h.Store.Get(ctx, `
			SELECT COUNT(*), COALESCE(SUM(total), 0) FROM orders
			WHERE status IN (?, ?, ?)`,
			[]any{string(models.OrderConfirmed), string(models.OrderPicking), string(models.OrderShipped)},
			&wholesaleOrders, &stats.WholesaleTotal)
	})

	// 3. --- Top products ---
	g.Go(func() error {
		top, err := database.Select(ctx, h.Store, `
			SELECT p.sku, p.name, SUM(oi.quantity) AS units
			FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			JOIN product_variants v ON v.id = oi.variant_id
			JOIN product_colors pc ON pc.id = v.product_color_id
			JOIN products p ON p.id = pc.product_id
			WHERE o.status IN (?, ?, ?)
			GROUP BY p.id, p.sku, p.name
			ORDER BY units DESC
			LIMIT 5`,
			[]any{string(models.OrderConfirmed), string(models.OrderPicking), string(models.OrderShipped)},
			func(rows *sql.Rows) (TopProduct, error) {
				var t TopProduct
				err := rows.Scan(&t.SKU, &t.Name, &t.Units)
				return t, err
			})
		stats.TopProducts = top
		return err
	})

	// 4. --- Low stock ---
	g.Go(func() error {
		low, err := h.Inventory.LowStock(ctx, h.LowStockThreshold, 20)
		stats.LowStock = low
		return err
	})

	// 5. --- Marketplace channels ---
	if h.Marketplaces != nil {
		g.Go(func() error {
			tn = h.channel(ctx, models.PlatformTiendaNube)
			return nil
		})
		g.Go(func() error {
			ml = h.channel(ctx, models.PlatformMercadoLibre)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		respondError(c, err)
		return
	}

	stats.Channels = []ChannelSales{{Channel: "mayorista", Connected: true, Orders: wholesaleOrders, Total: stats.WholesaleTotal}}
	if h.Marketplaces != nil {
		stats.Channels = append(stats.Channels, tn, ml)
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handlers) channel(ctx context.Context, platform models.Platform) ChannelSales {
	out := ChannelSales{Channel: string(platform), Total: decimal.Zero}
	orders, err := h.Marketplaces.Recent(ctx, platform, recentMarketplaceOrders)
	if err != nil {
		if !errors.Is(err, marketplace.ErrNotConnected) {
			out.Connected = true
			log.Warn().Err(err).Str("platform", string(platform)).Msg("dashboard: marketplace orders unavailable")
		}
		return out
	}
	out.Connected = true
	out.Orders = len(orders)
	out.Total = integrations.SalesTotal(orders)
	return out
}
