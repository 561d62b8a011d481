package integrations

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/marketplace/mercadolibre"
	"github.com/lupohub/lupohub/internal/marketplace/tiendanube"
	"github.com/lupohub/lupohub/internal/models"
)

type fakeTNOrders struct{ order tiendanube.Order }

func (f fakeTNOrders) GetOrder(context.Context, tiendanube.Credentials, int64) (*tiendanube.Order, error) {
	return &f.order, nil
}

type fakeMLOrders struct{ order mercadolibre.Order }

func (f fakeMLOrders) GetOrder(context.Context, string, int64) (*mercadolibre.Order, error) {
	return &f.order, nil
}

type mapLookup struct {
	tn map[string]int64
	ml map[string]int64
}

func (m mapLookup) ByTiendaNubeVariant(_ context.Context, id string) (int64, error) {
	if v, ok := m.tn[id]; ok {
		return v, nil
	}
	return 0, database.ErrNotFound
}

func (m mapLookup) ByMercadoLibre(_ context.Context, itemID, variationID, sku string) (int64, error) {
	if v, ok := m.ml[variationID]; ok {
		return v, nil
	}
	if v, ok := m.ml[itemID+"/"+sku]; ok {
		return v, nil
	}
	return 0, database.ErrNotFound
}

type sale struct {
	origin    models.Platform
	variantID int64
	qty       int
	reference string
}

// fakeSales applies each (variant, reference) once.
type fakeSales struct{ applied []sale }

func (f *fakeSales) ApplyMarketplaceSale(_ context.Context, origin models.Platform, variantID int64, qty int, reference string) (bool, error) {
	for _, s := range f.applied {
		if s.variantID == variantID && s.reference == reference {
			return false, nil
		}
	}
	f.applied = append(f.applied, sale{origin, variantID, qty, reference})
	return true, nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func tnOrder(t *testing.T) tiendanube.Order {
	t.Helper()
	var o tiendanube.Order
	require.NoError(t, json.Unmarshal([]byte(`{"id": 555, "status": "open", "products": [
		{"variant_id": 1, "quantity": "2"},
		{"variant_id": 99, "quantity": 1}
	]}`), &o))
	return o
}

func TestWebhooks_TiendaNubeOrderPaid(t *testing.T) {
	sales := &fakeSales{}
	w := &Webhooks{
		creds:    fakeCreds{},
		tn:       fakeTNOrders{order: tnOrder(t)},
		variants: mapLookup{tn: map[string]int64{"1": 10}},
		sales:    sales,
		secret:   "shh",
	}
	body := []byte(`{"store_id": 1, "event": "order/paid", "id": 555}`)

	summary, err := w.TiendaNube(context.Background(), body, sign("shh", body))
	require.NoError(t, err)
	assert.Equal(t, &SaleSummary{OrderID: 555, Applied: 1, Skipped: 1}, summary)
	assert.Equal(t, []sale{{models.PlatformTiendaNube, 10, 2, "TN-ORDER-555"}}, sales.applied)

	// Redelivery is a no-op.
	summary, err = w.TiendaNube(context.Background(), body, sign("shh", body))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Applied)
	assert.Len(t, sales.applied, 1)
}

func TestWebhooks_TiendaNubeRejectsAndIgnores(t *testing.T) {
	w := &Webhooks{secret: "shh", sales: &fakeSales{}}

	body := []byte(`{"event": "order/paid", "id": 1}`)
	_, err := w.TiendaNube(context.Background(), body, sign("other", body))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	body = []byte(`{"event": "product/updated", "id": 1}`)
	summary, err := w.TiendaNube(context.Background(), body, sign("shh", body))
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestWebhooks_MercadoLibre(t *testing.T) {
	var order mercadolibre.Order
	require.NoError(t, json.Unmarshal([]byte(`{"id": 2000001, "status": "paid", "order_items": [
		{"item": {"id": "MLA1", "variation_id": 123}, "quantity": 1},
		{"item": {"id": "MLA2", "seller_sku": "BUF-01"}, "quantity": 3}
	]}`), &order))

	sales := &fakeSales{}
	w := &Webhooks{
		creds:    fakeCreds{mlConnected: true},
		ml:       fakeMLOrders{order: order},
		variants: mapLookup{ml: map[string]int64{"123": 20, "MLA2/BUF-01": 21}},
		sales:    sales,
	}

	summary, err := w.MercadoLibre(context.Background(), mercadolibre.Notification{Topic: "orders_v2", Resource: "/orders/2000001"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Applied)
	assert.Equal(t, []sale{
		{models.PlatformMercadoLibre, 20, 1, "ML-ORDER-2000001"},
		{models.PlatformMercadoLibre, 21, 3, "ML-ORDER-2000001"},
	}, sales.applied)

	summary, err = w.MercadoLibre(context.Background(), mercadolibre.Notification{Topic: "items", Resource: "/items/MLA1"})
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestWebhooks_MercadoLibreUnpaid(t *testing.T) {
	sales := &fakeSales{}
	w := &Webhooks{
		creds: fakeCreds{mlConnected: true},
		ml:    fakeMLOrders{order: mercadolibre.Order{ID: 1, Status: "payment_required"}},
		sales: sales,
	}
	summary, err := w.MercadoLibre(context.Background(), mercadolibre.Notification{Topic: "orders_v2", Resource: "/orders/1"})
	require.NoError(t, err)
	assert.Nil(t, summary)
	assert.Empty(t, sales.applied)
}
