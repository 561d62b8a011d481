package models

import "time"

// Customer is a wholesale buyer.
type Customer struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	BusinessName *string   `json:"businessName,omitempty" db:"business_name"`
	TaxID        *string   `json:"taxId,omitempty" db:"tax_id"`
	Email        *string   `json:"email,omitempty" db:"email"`
	Phone        *string   `json:"phone,omitempty" db:"phone"`
	Address      *string   `json:"address,omitempty" db:"address"`
	City         *string   `json:"city,omitempty" db:"city"`
	Province     *string   `json:"province,omitempty" db:"province"`
	Notes        *string   `json:"notes,omitempty" db:"notes"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}
