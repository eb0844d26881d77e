package patient

import (
	"time"

	"github.com/google/uuid"
)

const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

var validGenders = map[string]bool{
	GenderMale: true, GenderFemale: true, GenderOther: true, GenderUnknown: true,
}

// Patient maps to the patient table.
type Patient struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	DocumentNumber    string     `db:"document_number" json:"document_number"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	Gender            string     `db:"gender" json:"gender"`
	BirthDate         *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Phone             *string    `db:"phone" json:"phone,omitempty"`
	Email             *string    `db:"email" json:"email,omitempty"`
	Address           *string    `db:"address" json:"address,omitempty"`
	InsurancePolicyID *uuid.UUID `db:"insurance_policy_id" json:"insurance_policy_id,omitempty"`
	Active            bool       `db:"active" json:"active"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// AgeAt returns completed years at t, or -1 without a birth date.
func (p *Patient) AgeAt(t time.Time) int {
	if p.BirthDate == nil {
		return -1
	}
	b := *p.BirthDate
	age := t.Year() - b.Year()
	if t.Month() < b.Month() || (t.Month() == b.Month() && t.Day() < b.Day()) {
		age--
	}
	return age
}

// SearchParams filters patient searches. Empty fields are ignored.
type SearchParams struct {
	Name           string
	DocumentNumber string
	Active         *bool
}
