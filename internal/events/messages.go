package events

import (
	"encoding/json"
	"time"

	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types, also used as routing keys
const (
	TypePaymentNotice    = "payment.notice"
	TypePaymentConfirmed = "payment.confirmed"
	TypePaymentsPurged   = "payment.purged"
)

// PaymentEvent is published whenever ledger entries change state
type PaymentEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	PilotID    int64           `json:"pilotId"`
	Keys       []ledger.Key    `json:"keys"`
	PlanType   ledger.PlanType `json:"planType,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	ActorID    string          `json:"actorId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// NewPaymentEvent creates an event with a fresh id
func NewPaymentEvent(eventType string, pilotID int64, keys []ledger.Key) *PaymentEvent {
	return &PaymentEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		PilotID:    pilotID,
		Keys:       keys,
		OccurredAt: time.Now().UTC(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *PaymentEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// PaymentEventFromJSON decodes an event
func PaymentEventFromJSON(data []byte) (*PaymentEvent, error) {
	var evt PaymentEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
