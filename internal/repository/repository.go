package repository

import (
	"context"
	"errors"

	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/models"
)

// ErrAlreadyConfirmed is returned when a write would overwrite a confirmed entry
var ErrAlreadyConfirmed = errors.New("payment already confirmed")

// Repository interface defines the methods that any repository implementation must satisfy
type Repository interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByPilotID(ctx context.Context, pilotID int64) (*models.User, error)
	UpdatePilotStatus(ctx context.Context, pilotID int64, status ledger.PilotStatus) error

	// Payment operations
	ListPayments(ctx context.Context, pilotID int64, filter ledger.YearFilter) ([]models.PaymentMonthly, error)
	GetPayment(ctx context.Context, pilotID int64, key ledger.Key) (*models.PaymentMonthly, error)
	// UpsertPayment writes p keyed by (pilot, year, month). It replaces a
	// non-confirmed row and fails with ErrAlreadyConfirmed otherwise.
	UpsertPayment(ctx context.Context, p *models.PaymentMonthly) error
	// ConfirmPayments marks every row as confirmed in one transaction.
	// Missing rows are inserted from the given values; rows already confirmed
	// are left untouched.
	ConfirmPayments(ctx context.Context, rows []models.PaymentMonthly) ([]models.PaymentMonthly, error)
	DeletePayment(ctx context.Context, pilotID int64, key ledger.Key) (bool, error)
	DeletePaymentsByStatus(ctx context.Context, pilotID int64, status ledger.Status) (int64, error)
}
