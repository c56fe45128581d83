package models

import (
	"time"

	"github.com/cpvl/dues-server/internal/ledger"
)

// Roles
const (
	RolePilot = "pilot"
	RoleAdmin = "admin"
)

// User represents a club member account. PilotID is the numeric identifier
// the dues ledger is keyed by.
type User struct {
	ID        string             `db:"id" json:"id"`
	PilotID   int64              `db:"pilot_id" json:"pilotId"`
	Email     string             `db:"email" json:"email"`
	Name      string             `db:"name" json:"name"`
	Password  string             `db:"password" json:"-"` // Password hash, not returned in JSON
	Role      string             `db:"role" json:"role"`
	Status    ledger.PilotStatus `db:"status" json:"status"`
	CreatedAt time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time          `db:"updated_at" json:"updatedAt"`
}

// IsAdmin reports whether the user holds the admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// PaymentMonthly is one persisted monthly-dues row
type PaymentMonthly struct {
	ID             int64           `db:"id"`
	PilotID        int64           `db:"pilot_id"`
	ReferenceYear  int             `db:"reference_year"`
	ReferenceMonth int             `db:"reference_month"`
	Amount         ledger.Amount   `db:"amount"`
	PlanType       ledger.PlanType `db:"plan_type"`
	Description    string          `db:"description"`
	Status         ledger.Status   `db:"status"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// Key returns the row's natural key within the pilot's ledger
func (p PaymentMonthly) Key() ledger.Key {
	return ledger.Key{Year: p.ReferenceYear, Month: p.ReferenceMonth}
}

// Entry converts the row into the engine type
func (p PaymentMonthly) Entry() ledger.Entry {
	id := p.ID
	return ledger.Entry{
		ID:             &id,
		PilotID:        p.PilotID,
		ReferenceYear:  ledger.Year(p.ReferenceYear),
		ReferenceMonth: p.ReferenceMonth,
		Amount:         p.Amount,
		PlanType:       p.PlanType,
		Description:    p.Description,
		Status:         p.Status,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// Entries converts rows into engine entries
func Entries(rows []PaymentMonthly) []ledger.Entry {
	out := make([]ledger.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.Entry()
	}
	return out
}

// Actor is the authenticated caller of a request
type Actor struct {
	UserID  string
	PilotID int64
	Role    string
}

// IsAdmin reports whether the actor holds the admin role
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanAccess reports whether the actor may read or write pilotID's ledger
func (a Actor) CanAccess(pilotID int64) bool {
	return a.IsAdmin() || a.PilotID == pilotID
}
