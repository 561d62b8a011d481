package models

// Color is shared by every product.
type Color struct {
	ID   int64   `json:"id" db:"id"`
	Code string  `json:"code" db:"code"`
	Name string  `json:"name" db:"name"`
	Hex  *string `json:"hex,omitempty" db:"hex"`
}

// Size is matched by exact code string.
type Size struct {
	ID   int64  `json:"id" db:"id"`
	Code string `json:"code" db:"size_code"`
	Name string `json:"name" db:"name"`
}

// Defaults used when an upstream variant carries no color or size.
const (
	DefaultColorName = "Único"
	DefaultSizeCode  = "U"
	DefaultSizeName  = "Único"
)
