package tiendanube

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lupohub/lupohub/internal/marketplace"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// PageSize is the per_page value used when listing products.
	PageSize = 50
	// MaxPages caps a bulk listing at 2500 products.
	MaxPages = 50
)

// Config holds app credentials and endpoints.
type Config struct {
	BaseURL      string // https://api.tiendanube.com/v1
	AuthURL      string // https://www.tiendanube.com
	UserAgent    string
	AppID        string
	ClientSecret string
	RedirectURI  string
	HTTPClient   *http.Client
	Rate         rate.Limit // requests per second, default 2
}

// Client talks to the Tienda Nube REST API.
type Client struct {
	cfg  Config
	http *marketplace.HTTPClient
}

// NewClient builds a client. The default 2 requests/second (burst 10) stays
// under the store's leaky bucket.
func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.AuthURL = strings.TrimRight(cfg.AuthURL, "/")
	if cfg.Rate == 0 {
		cfg.Rate = 2
	}
	return &Client{
		cfg: cfg,
		http: marketplace.NewHTTPClient("tiendanube", marketplace.ClientOptions{
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

// OAuthConfig describes the app authorization flow. The token response
// carries the store id as user_id.
func (c *Client) OAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.AppID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   fmt.Sprintf("%s/apps/%s/authorize", c.cfg.AuthURL, c.cfg.AppID),
			TokenURL:  c.cfg.AuthURL + "/apps/authorize/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (c *Client) request(method string, cred Credentials, path string, body any) marketplace.Request {
	return marketplace.Request{
		Method: method,
		URL:    fmt.Sprintf("%s/%s%s", c.cfg.BaseURL, url.PathEscape(cred.StoreID), path),
		Headers: map[string]string{
			// Tienda Nube uses "Authentication", not "Authorization".
			"Authentication": "bearer " + cred.AccessToken,
			"User-Agent":     c.cfg.UserAgent,
		},
		Body: body,
	}
}

// ListProducts fetches one page of products.
func (c *Client) ListProducts(ctx context.Context, cred Credentials, page int) ([]Product, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(PageSize))

	var products []Product
	if err := c.http.Do(ctx, c.request(http.MethodGet, cred, "/products?"+q.Encode(), nil), &products); err != nil {
		return nil, err
	}
	return products, nil
}

// ForEachProductPage walks the catalog page by page until an empty page, a
// 404 (past the last page) or MaxPages. It returns the number of pages that
// carried products.
func (c *Client) ForEachProductPage(ctx context.Context, cred Credentials, fn func(page int, products []Product) error) (int, error) {
	pages := 0
	for page := 1; page <= MaxPages; page++ {
		products, err := c.ListProducts(ctx, cred, page)
		if errors.Is(err, marketplace.ErrNotFound) {
			break
		}
		if err != nil {
			return pages, fmt.Errorf("tiendanube: list products page %d: %w", page, err)
		}
		if len(products) == 0 {
			break
		}
		pages++
		if err := fn(page, products); err != nil {
			return pages, err
		}
	}
	return pages, nil
}

// UpdateVariantStock sets the stock of one variant.
func (c *Client) UpdateVariantStock(ctx context.Context, cred Credentials, productID, variantID string, stock int) error {
	path := fmt.Sprintf("/products/%s/variants/%s", url.PathEscape(productID), url.PathEscape(variantID))
	if err := c.http.Do(ctx, c.request(http.MethodPut, cred, path, map[string]int{"stock": stock}), nil); err != nil {
		return fmt.Errorf("tiendanube: update variant %s stock: %w", variantID, err)
	}
	return nil
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, cred Credentials, orderID int64) (*Order, error) {
	var order Order
	path := "/orders/" + strconv.FormatInt(orderID, 10)
	if err := c.http.Do(ctx, c.request(http.MethodGet, cred, path, nil), &order); err != nil {
		return nil, fmt.Errorf("tiendanube: get order %d: %w", orderID, err)
	}
	return &order, nil
}

// ListOrders returns the most recent orders.
func (c *Client) ListOrders(ctx context.Context, cred Credentials, perPage int) ([]Order, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	var orders []Order
	if err := c.http.Do(ctx, c.request(http.MethodGet, cred, "/orders?"+q.Encode(), nil), &orders); err != nil {
		if errors.Is(err, marketplace.ErrNotFound) {
			return []Order{}, nil
		}
		return nil, fmt.Errorf("tiendanube: list orders: %w", err)
	}
	return orders, nil
}

// VerifyWebhook checks the X-Linkedstore-HMAC-SHA256 header: the hex
// HMAC-SHA256 of the raw body keyed with the app secret.
func VerifyWebhook(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
