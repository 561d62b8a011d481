package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the wholesale order workflow state.
type OrderStatus string

const (
	OrderDraft     OrderStatus = "Borrador"
	OrderConfirmed OrderStatus = "Confirmado"
	OrderPicking   OrderStatus = "Preparación"
	OrderShipped   OrderStatus = "Despachado"
	OrderCancelled OrderStatus = "Cancelado"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderDraft, OrderConfirmed, OrderPicking, OrderShipped, OrderCancelled:
		return true
	}
	return false
}

// Order is a wholesale order.
type Order struct {
	ID         int64           `json:"id" db:"id"`
	CustomerID *int64          `json:"customerId,omitempty" db:"customer_id"`
	SellerID   *int64          `json:"sellerId,omitempty" db:"seller_id"`
	Date       time.Time       `json:"date" db:"date"`
	Status     OrderStatus     `json:"status" db:"status"`
	Total      decimal.Decimal `json:"total" db:"total"`
	PickedBy   *string         `json:"pickedBy,omitempty" db:"picked_by"`
	Notes      *string         `json:"notes,omitempty" db:"notes"`
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time       `json:"updatedAt" db:"updated_at"`

	// Joined
	CustomerName *string     `json:"customerName,omitempty"`
	SellerName   *string     `json:"sellerName,omitempty"`
	Items        []OrderItem `json:"items"`
}

// OrderItem is a line of an order. PriceAtMoment snapshots the unit price.
type OrderItem struct {
	ID            int64           `json:"id" db:"id"`
	OrderID       int64           `json:"orderId" db:"order_id"`
	VariantID     int64           `json:"variantId" db:"variant_id"`
	Quantity      int             `json:"quantity" db:"quantity"`
	Picked        int             `json:"picked" db:"picked"`
	PriceAtMoment decimal.Decimal `json:"priceAtMoment" db:"price_at_moment"`

	// Joined
	SKU         *string `json:"sku,omitempty"`
	ProductName *string `json:"productName,omitempty"`
	ColorCode   *string `json:"colorCode,omitempty"`
	ColorName   *string `json:"colorName,omitempty"`
	SizeCode    *string `json:"sizeCode,omitempty"`
}
