package tiendanube

import (
	"github.com/lupohub/lupohub/internal/marketplace"
	"github.com/shopspring/decimal"
)

// Product is the subset of the Tienda Nube product resource we read.
type Product struct {
	ID          int64                         `json:"id"`
	Name        marketplace.LocalizedString   `json:"name"`
	Description marketplace.LocalizedString   `json:"description"`
	Attributes  []marketplace.LocalizedString `json:"attributes"`
	Variants    []Variant                     `json:"variants"`
}

// Variant is one purchasable combination. Stock is nil when the store
// tracks no inventory (unlimited).
type Variant struct {
	ID        int64                         `json:"id"`
	ProductID int64                         `json:"product_id"`
	SKU       *string                       `json:"sku"`
	Stock     *int                          `json:"stock"`
	Price     decimal.NullDecimal           `json:"price"`
	Values    []marketplace.LocalizedString `json:"values"`
}

// Order is the subset of the order resource used for stock deduction.
type Order struct {
	ID            int64           `json:"id"`
	Number        int64           `json:"number"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	Total         decimal.Decimal `json:"total"`
	CreatedAt     string          `json:"created_at"`
	Products      []OrderLine     `json:"products"`
}

// OrderLine is one product line of an order.
type OrderLine struct {
	ProductID int64               `json:"product_id"`
	VariantID int64               `json:"variant_id"`
	Name      string              `json:"name"`
	SKU       *string             `json:"sku"`
	Quantity  marketplace.FlexInt `json:"quantity"`
	Price     decimal.Decimal     `json:"price"`
}

// Webhook is the body Tienda Nube posts on subscribed events.
type Webhook struct {
	StoreID int64  `json:"store_id"`
	Event   string `json:"event"`
	ID      int64  `json:"id"`
}

// Credentials identify a store and its access token.
type Credentials struct {
	StoreID     string
	AccessToken string
}
