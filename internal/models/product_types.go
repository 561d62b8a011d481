package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCategory is assigned to products created without one (e.g. by import).
const DefaultCategory = "General"

// Product is a catalog entry. Variants hang off it through ProductColor.
type Product struct {
	ID             int64           `json:"id" db:"id"`
	SKU            string          `json:"sku" db:"sku"`
	Name           string          `json:"name" db:"name"`
	Category       string          `json:"category" db:"category"`
	BasePrice      decimal.Decimal `json:"basePrice" db:"base_price"`
	Description    *string         `json:"description,omitempty" db:"description"`
	TiendaNubeID   *string         `json:"tiendaNubeId,omitempty" db:"tienda_nube_id"`
	MercadoLibreID *string         `json:"mercadoLibreId,omitempty" db:"mercado_libre_id"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`

	// Computed fields
	TotalStock   int `json:"totalStock"`
	VariantCount int `json:"variantCount"`
}

// ProductColor links a product to one of the process-wide colors.
type ProductColor struct {
	ID        int64 `json:"id" db:"id"`
	ProductID int64 `json:"productId" db:"product_id"`
	ColorID   int64 `json:"colorId" db:"color_id"`
}

// Variant is one (product, color, size) stock-keeping unit.
type Variant struct {
	ID                    int64   `json:"id" db:"id"`
	ProductColorID        int64   `json:"productColorId" db:"product_color_id"`
	SizeID                int64   `json:"sizeId" db:"size_id"`
	SKU                   *string `json:"sku,omitempty" db:"sku"`
	TiendaNubeVariantID   *string `json:"tiendaNubeVariantId,omitempty" db:"tienda_nube_variant_id"`
	MercadoLibreVariantID *string `json:"mercadoLibreVariantId,omitempty" db:"mercado_libre_variant_id"`
}

// VariantDetail is a variant joined with its color, size and stock.
type VariantDetail struct {
	Variant
	ProductID int64   `json:"productId"`
	ColorID   int64   `json:"colorId"`
	ColorCode string  `json:"colorCode"`
	ColorName string  `json:"colorName"`
	ColorHex  *string `json:"colorHex,omitempty"`
	SizeCode  string  `json:"sizeCode"`
	SizeName  string  `json:"sizeName"`
	Stock     int     `json:"stock"`
}

// ColorGroup is one row of the color/size matrix shown for a product.
type ColorGroup struct {
	ColorID    int64           `json:"colorId"`
	ColorCode  string          `json:"colorCode"`
	ColorName  string          `json:"colorName"`
	ColorHex   *string         `json:"colorHex,omitempty"`
	TotalStock int             `json:"totalStock"`
	Sizes      []VariantDetail `json:"sizes"`
}

// ProductDetail is the per-SKU view: product plus its variant matrix.
type ProductDetail struct {
	Product
	Colors []ColorGroup `json:"colors"`
}
