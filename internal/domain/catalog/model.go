package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MedicalService maps to the medical_service table.
// DynamicPrice services have no fixed price; the price is entered when billed.
type MedicalService struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	Code         string          `db:"code" json:"code"`
	Name         string          `db:"name" json:"name"`
	Category     string          `db:"category" json:"category"`
	BasePrice    decimal.Decimal `db:"base_price" json:"base_price"`
	DynamicPrice bool            `db:"dynamic_price" json:"dynamic_price"`
	Active       bool            `db:"active" json:"active"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

type SearchParams struct {
	Query    string
	Category string
	Active   *bool
}
