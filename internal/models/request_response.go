package models

import (
	"time"

	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/shopspring/decimal"
)

// Request models
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type UpdatePilotStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// CreatePaymentRequest is one month of a payment notice
type CreatePaymentRequest struct {
	PilotID        int64           `json:"pilotId" binding:"required"`
	ReferenceYear  ledger.Year     `json:"referenceYear" binding:"required"`
	ReferenceMonth int             `json:"referenceMonth" binding:"required"`
	PlanType       ledger.PlanType `json:"planType" binding:"required"`
	Description    string          `json:"description"`
	Status         string          `json:"status"`
	Date           *time.Time      `json:"date,omitempty"`
	CreatedAt      *time.Time      `json:"createdAt,omitempty"`
}

// PaymentKeyRequest identifies one ledger entry
type PaymentKeyRequest struct {
	PilotID        int64       `json:"pilotId" binding:"required"`
	ReferenceYear  ledger.Year `json:"referenceYear" binding:"required"`
	ReferenceMonth int         `json:"referenceMonth" binding:"required"`
}

// Key returns the natural key of the request
func (r PaymentKeyRequest) Key() ledger.Key {
	return ledger.Key{Year: int(r.ReferenceYear), Month: r.ReferenceMonth}
}

type ConfirmBatchRequest struct {
	Payments []PaymentKeyRequest `json:"payments" binding:"required,min=1,dive"`
}

// Response models
type AuthResponse struct {
	Status    string `json:"status"`
	UserID    string `json:"userId,omitempty"`
	PilotID   int64  `json:"pilotId,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
}

type DataResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
}

type PaymentResponse struct {
	Status  string       `json:"status"`
	Payment ledger.Entry `json:"payment"`
}

type ConfirmBatchResponse struct {
	Status   string         `json:"status"`
	Payments []ledger.Entry `json:"payments"`
}

type PurgeResponse struct {
	Status  string `json:"status"`
	Deleted int64  `json:"deleted"`
}

// PixQuoteResponse is the payment code for one plan together with the
// months a notice for it will cover
type PixQuoteResponse struct {
	Status      string          `json:"status"`
	PlanType    ledger.PlanType `json:"planType"`
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	Discount    decimal.Decimal `json:"discount"`
	FinalAmount decimal.Decimal `json:"finalAmount"`
	Months      []ledger.Key    `json:"months"`
	Payload     string          `json:"payload"`
}

type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
