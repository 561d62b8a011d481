package mercadolibre

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type recordedPut struct {
	path string
	body string
}

// fakeML serves one search result and one item, recording PUTs.
func fakeML(t *testing.T, searchBody, itemBody string, puts *[]recordedPut) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/users/777/items/search":
			assert.Equal(t, "REM-01", r.URL.Query().Get("seller_sku"))
			w.Write([]byte(searchBody))
		case r.Method == http.MethodGet && r.URL.Path == "/items/MLA100":
			w.Write([]byte(itemBody))
		case r.Method == http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			*puts = append(*puts, recordedPut{path: r.URL.Path, body: string(body)})
			w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{BaseURL: srv.URL, Rate: rate.Inf})
}

func TestPushStockBySKU(t *testing.T) {
	tests := []struct {
		name     string
		search   string
		item     string
		wantPath string
		wantErr  error
	}{
		{
			name:   "matching variation by custom field",
			search: `{"results": ["MLA100"]}`,
			item: `{"id": "MLA100", "variations": [
				{"id": 1, "seller_custom_field": "OTHER"},
				{"id": 2, "seller_custom_field": "REM-01"}]}`,
			wantPath: "/items/MLA100/variations/2",
		},
		{
			name:   "matching variation by SELLER_SKU attribute",
			search: `{"results": ["MLA100"]}`,
			item: `{"id": "MLA100", "variations": [
				{"id": 9, "attributes": [{"id": "SELLER_SKU", "value_name": "REM-01"}]}]}`,
			wantPath: "/items/MLA100/variations/9",
		},
		{
			name:     "item without variations",
			search:   `{"results": ["MLA100"]}`,
			item:     `{"id": "MLA100", "variations": []}`,
			wantPath: "/items/MLA100",
		},
		{
			name:    "no listing",
			search:  `{"results": []}`,
			wantErr: ErrSKUNotFound,
		},
		{
			name:    "variations without match",
			search:  `{"results": ["MLA100"]}`,
			item:    `{"id": "MLA100", "variations": [{"id": 1, "seller_custom_field": "X"}]}`,
			wantErr: ErrSKUNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var puts []recordedPut
			srv := fakeML(t, tt.search, tt.item, &puts)
			defer srv.Close()

			err := newTestClient(srv).PushStockBySKU(context.Background(), "tok", "777", "REM-01", 8)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, puts)
				return
			}
			require.NoError(t, err)
			require.Len(t, puts, 1)
			assert.Equal(t, tt.wantPath, puts[0].path)
			assert.JSONEq(t, `{"available_quantity": 8}`, puts[0].body)
		})
	}
}

func TestGetOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/2000001", r.URL.Path)
		w.Write([]byte(`{"id": 2000001, "status": "paid", "order_items": [
			{"item": {"id": "MLA100", "variation_id": 123456789012, "seller_sku": "REM-01"}, "quantity": 2, "unit_price": 9999.5}]}`))
	}))
	defer srv.Close()

	order, err := newTestClient(srv).GetOrder(context.Background(), "tok", 2000001)
	require.NoError(t, err)
	require.Len(t, order.OrderItems, 1)
	assert.Equal(t, "123456789012", order.OrderItems[0].Item.VariationID.String())
	assert.Equal(t, 2, order.OrderItems[0].Quantity)
}

func TestNotification_OrderID(t *testing.T) {
	id, ok := Notification{Resource: "/orders/2000001", Topic: "orders_v2"}.OrderID()
	assert.True(t, ok)
	assert.Equal(t, int64(2000001), id)

	_, ok = Notification{Resource: "/items/MLA1", Topic: "items"}.OrderID()
	assert.False(t, ok)
}

func TestOAuthConfig(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://api.mercadolibre.com", AuthURL: "https://auth.mercadolibre.com.ar", AppID: "1"})
	cfg := c.OAuthConfig()
	assert.Equal(t, "https://auth.mercadolibre.com.ar/authorization", cfg.Endpoint.AuthURL)
	assert.Equal(t, "https://api.mercadolibre.com/oauth/token", cfg.Endpoint.TokenURL)
}
