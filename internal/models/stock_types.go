package models

import "time"

// MovementType names the cause of a stock change.
type MovementType string

const (
	MovementWholesaleOrder MovementType = "PEDIDO_MAYORISTA"
	MovementTiendaNubeSale MovementType = "VENTA_TIENDA_NUBE"
	MovementMercadoLibre   MovementType = "VENTA_MERCADO_LIBRE"
	MovementManual         MovementType = "AJUSTE_MANUAL"
	MovementReturn         MovementType = "DEVOLUCION"
	MovementImport         MovementType = "IMPORTACION_TN"
)

// Valid reports whether t is one of the known movement types.
func (t MovementType) Valid() bool {
	switch t {
	case MovementWholesaleOrder, MovementTiendaNubeSale, MovementMercadoLibre,
		MovementManual, MovementReturn, MovementImport:
		return true
	}
	return false
}

// Stock is the current level of one variant.
type Stock struct {
	VariantID int64     `json:"variantId" db:"variant_id"`
	Stock     int       `json:"stock" db:"stock"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// StockMovement is an append-only log entry. Rows are never updated.
type StockMovement struct {
	ID             int64        `json:"id" db:"id"`
	VariantID      int64        `json:"variantId" db:"variant_id"`
	PreviousStock  int          `json:"previousStock" db:"previous_stock"`
	NewStock       int          `json:"newStock" db:"new_stock"`
	QuantityChange int          `json:"quantityChange" db:"quantity_change"`
	MovementType   MovementType `json:"movementType" db:"movement_type"`
	Reference      *string      `json:"reference,omitempty" db:"reference"`
	CreatedAt      time.Time    `json:"createdAt" db:"created_at"`

	// Joined for listings
	SKU       *string `json:"sku,omitempty"`
	ColorName *string `json:"colorName,omitempty"`
	SizeCode  *string `json:"sizeCode,omitempty"`
}

// LowStockVariant is reported by the dashboard.
type LowStockVariant struct {
	VariantID   int64  `json:"variantId"`
	ProductSKU  string `json:"productSku"`
	ProductName string `json:"productName"`
	ColorName   string `json:"colorName"`
	SizeCode    string `json:"sizeCode"`
	Stock       int    `json:"stock"`
}
