package mercadolibre

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lupohub/lupohub/internal/marketplace"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// ErrSKUNotFound means no listing or variation carries the sku.
var ErrSKUNotFound = errors.New("mercadolibre: sku not found")

// Config holds app credentials and endpoints.
type Config struct {
	BaseURL      string // https://api.mercadolibre.com
	AuthURL      string // https://auth.mercadolibre.com.ar
	AppID        string
	ClientSecret string
	RedirectURI  string
	HTTPClient   *http.Client
	Rate         rate.Limit // requests per second, default 5
}

// Client talks to the Mercado Libre REST API.
type Client struct {
	cfg  Config
	http *marketplace.HTTPClient
}

func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.AuthURL = strings.TrimRight(cfg.AuthURL, "/")
	if cfg.Rate == 0 {
		cfg.Rate = 5
	}
	return &Client{
		cfg: cfg,
		http: marketplace.NewHTTPClient("mercadolibre", marketplace.ClientOptions{
			HTTPClient: cfg.HTTPClient,
			Rate:       cfg.Rate,
			Burst:      10,
			Breaker:    marketplace.DefaultBreakerConfig(),
		}),
	}
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() marketplace.CBState {
	return c.http.BreakerState()
}

// OAuthConfig describes the authorization-code flow. Tokens expire after six
// hours and come with a refresh token.
func (c *Client) OAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.AppID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.cfg.AuthURL + "/authorization",
			TokenURL:  c.cfg.BaseURL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (c *Client) request(method, token, path string, body any) marketplace.Request {
	return marketplace.Request{
		Method:  method,
		URL:     c.cfg.BaseURL + path,
		Headers: map[string]string{"Authorization": "Bearer " + token},
		Body:    body,
	}
}

// SearchItemsBySKU lists the seller's item ids carrying sku.
func (c *Client) SearchItemsBySKU(ctx context.Context, token, userID, sku string) ([]string, error) {
	q := url.Values{}
	q.Set("seller_sku", sku)
	path := fmt.Sprintf("/users/%s/items/search?%s", url.PathEscape(userID), q.Encode())

	var res searchResult
	if err := c.http.Do(ctx, c.request(http.MethodGet, token, path, nil), &res); err != nil {
		return nil, fmt.Errorf("mercadolibre: search sku %s: %w", sku, err)
	}
	return res.Results, nil
}

// GetItem fetches one listing with its variations.
func (c *Client) GetItem(ctx context.Context, token, itemID string) (*Item, error) {
	var item Item
	if err := c.http.Do(ctx, c.request(http.MethodGet, token, "/items/"+url.PathEscape(itemID), nil), &item); err != nil {
		return nil, fmt.Errorf("mercadolibre: get item %s: %w", itemID, err)
	}
	return &item, nil
}

// UpdateVariationStock sets available_quantity on one variation.
func (c *Client) UpdateVariationStock(ctx context.Context, token, itemID, variationID string, qty int) error {
	path := fmt.Sprintf("/items/%s/variations/%s", url.PathEscape(itemID), url.PathEscape(variationID))
	if err := c.http.Do(ctx, c.request(http.MethodPut, token, path, map[string]int{"available_quantity": qty}), nil); err != nil {
		return fmt.Errorf("mercadolibre: update variation %s/%s: %w", itemID, variationID, err)
	}
	return nil
}

// UpdateItemStock sets available_quantity on an item without variations.
func (c *Client) UpdateItemStock(ctx context.Context, token, itemID string, qty int) error {
	path := "/items/" + url.PathEscape(itemID)
	if err := c.http.Do(ctx, c.request(http.MethodPut, token, path, map[string]int{"available_quantity": qty}), nil); err != nil {
		return fmt.Errorf("mercadolibre: update item %s: %w", itemID, err)
	}
	return nil
}

// PushStockBySKU finds the first listing carrying sku and sets its stock:
// on the variation whose sku matches, or on the item itself when it has no
// variations. ErrSKUNotFound when nothing matches.
func (c *Client) PushStockBySKU(ctx context.Context, token, userID, sku string, qty int) error {
	// 1. Search the seller's listings.
	ids, err := c.SearchItemsBySKU(ctx, token, userID, sku)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: %s", ErrSKUNotFound, sku)
	}

	// 2. Load the first match.
	item, err := c.GetItem(ctx, token, ids[0])
	if err != nil {
		return err
	}

	// 3. No variations: the listing itself carries the stock.
	if len(item.Variations) == 0 {
		return c.UpdateItemStock(ctx, token, item.ID, qty)
	}

	// 4. Find the matching variation.
	for _, v := range item.Variations {
		if v.SKU() == sku {
			return c.UpdateVariationStock(ctx, token, item.ID, v.ID.String(), qty)
		}
	}

	log.Warn().Str("sku", sku).Str("item_id", item.ID).Msg("mercadolibre: no variation matches sku")
	return fmt.Errorf("%w: %s in item %s", ErrSKUNotFound, sku, item.ID)
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, token string, orderID int64) (*Order, error) {
	var order Order
	if err := c.http.Do(ctx, c.request(http.MethodGet, token, fmt.Sprintf("/orders/%d", orderID), nil), &order); err != nil {
		return nil, fmt.Errorf("mercadolibre: get order %d: %w", orderID, err)
	}
	return &order, nil
}

// ListRecentOrders returns the seller's latest orders.
func (c *Client) ListRecentOrders(ctx context.Context, token, sellerID string, limit int) ([]Order, error) {
	q := url.Values{}
	q.Set("seller", sellerID)
	q.Set("sort", "date_desc")
	q.Set("limit", fmt.Sprint(limit))

	var res orderSearch
	if err := c.http.Do(ctx, c.request(http.MethodGet, token, "/orders/search?"+q.Encode(), nil), &res); err != nil {
		return nil, fmt.Errorf("mercadolibre: list orders: %w", err)
	}
	return res.Results, nil
}
