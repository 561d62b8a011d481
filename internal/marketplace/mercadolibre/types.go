package mercadolibre

import (
	"strconv"
	"strings"

	"github.com/lupohub/lupohub/internal/marketplace"
	"github.com/shopspring/decimal"
)

// Item is the subset of the listing resource we read.
type Item struct {
	ID                string      `json:"id"`
	Title             string      `json:"title"`
	AvailableQuantity int         `json:"available_quantity"`
	SellerCustomField *string     `json:"seller_custom_field"`
	Attributes        []Attribute `json:"attributes"`
	Variations        []Variation `json:"variations"`
}

// Variation is one color/size combination of an item.
type Variation struct {
	ID                marketplace.FlexID `json:"id"`
	AvailableQuantity int                `json:"available_quantity"`
	SellerCustomField *string            `json:"seller_custom_field"`
	Attributes        []Attribute        `json:"attributes"`
}

// Attribute is a key/value pair such as SELLER_SKU.
type Attribute struct {
	ID        string  `json:"id"`
	ValueName *string `json:"value_name"`
}

// SKU returns the seller sku of a variation: seller_custom_field, else the
// SELLER_SKU attribute.
func (v Variation) SKU() string {
	if v.SellerCustomField != nil && *v.SellerCustomField != "" {
		return *v.SellerCustomField
	}
	return sellerSKU(v.Attributes)
}

// SKU returns the seller sku of an item without variations.
func (i Item) SKU() string {
	if i.SellerCustomField != nil && *i.SellerCustomField != "" {
		return *i.SellerCustomField
	}
	return sellerSKU(i.Attributes)
}

func sellerSKU(attrs []Attribute) string {
	for _, a := range attrs {
		if a.ID == "SELLER_SKU" && a.ValueName != nil {
			return *a.ValueName
		}
	}
	return ""
}

type searchResult struct {
	Results []string `json:"results"`
}

// Order is the subset of the order resource used for stock deduction.
type Order struct {
	ID          int64           `json:"id"`
	Status      string          `json:"status"`
	DateCreated string          `json:"date_created"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	OrderItems  []OrderItem     `json:"order_items"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	Item      OrderItemRef    `json:"item"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderItemRef points at the sold listing and variation.
type OrderItemRef struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	VariationID marketplace.FlexID `json:"variation_id"`
	SellerSKU   *string            `json:"seller_sku"`
}

type orderSearch struct {
	Results []Order `json:"results"`
}

// Notification is the body posted to the notifications callback.
type Notification struct {
	Resource string `json:"resource"`
	UserID   int64  `json:"user_id"`
	Topic    string `json:"topic"`
}

// OrderID extracts the id from an orders resource such as "/orders/123".
func (n Notification) OrderID() (int64, bool) {
	if !strings.HasPrefix(n.Topic, "orders") {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(n.Resource, "/orders/"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
