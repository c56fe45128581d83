package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/models"
	"github.com/google/uuid"
)

// ErrDuplicateEmail mirrors the unique constraint on users.email
var ErrDuplicateEmail = errors.New("email already registered")

type paymentKey struct {
	pilotID int64
	key     ledger.Key
}

// MemoryRepository implements the Repository interface in process memory.
// It backs the API tests and local runs without a database.
type MemoryRepository struct {
	mu          sync.RWMutex
	users       map[string]*models.User
	nextPilotID int64
	nextPayID   int64
	payments    map[paymentKey]*models.PaymentMonthly
	now         func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[string]*models.User),
		payments: make(map[paymentKey]*models.PaymentMonthly),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// User repository methods
func (r *MemoryRepository) CreateUser(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicateEmail
		}
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Role == "" {
		user.Role = models.RolePilot
	}
	if user.Status == "" {
		user.Status = ledger.PilotPending
	}
	r.nextPilotID++
	user.PilotID = r.nextPilotID
	now := r.now()
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *MemoryRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findUser(func(u *models.User) bool { return strings.EqualFold(u.Email, email) }), nil
}

func (r *MemoryRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return r.findUser(func(u *models.User) bool { return u.ID == id }), nil
}

func (r *MemoryRepository) GetUserByPilotID(ctx context.Context, pilotID int64) (*models.User, error) {
	return r.findUser(func(u *models.User) bool { return u.PilotID == pilotID }), nil
}

func (r *MemoryRepository) findUser(match func(*models.User) bool) *models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if match(u) {
			found := *u
			return &found
		}
	}
	return nil
}

func (r *MemoryRepository) UpdatePilotStatus(ctx context.Context, pilotID int64, status ledger.PilotStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.PilotID == pilotID {
			u.Status = status
			u.UpdatedAt = r.now()
		}
	}
	return nil
}

// Payment repository methods
func (r *MemoryRepository) ListPayments(ctx context.Context, pilotID int64, filter ledger.YearFilter) ([]models.PaymentMonthly, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rows []models.PaymentMonthly
	for k, p := range r.payments {
		if k.pilotID != pilotID {
			continue
		}
		if !filter.All && p.ReferenceYear != filter.Year {
			continue
		}
		rows = append(rows, *p)
	}
	sortPayments(rows)
	return rows, nil
}

func (r *MemoryRepository) GetPayment(ctx context.Context, pilotID int64, key ledger.Key) (*models.PaymentMonthly, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[paymentKey{pilotID, key}]
	if !ok {
		return nil, nil
	}
	found := *p
	return &found, nil
}

func (r *MemoryRepository) UpsertPayment(ctx context.Context, p *models.PaymentMonthly) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := paymentKey{p.PilotID, p.Key()}
	now := r.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if existing, ok := r.payments[k]; ok {
		if existing.Status == ledger.StatusConfirmed {
			return ErrAlreadyConfirmed
		}
		p.ID = existing.ID
	} else {
		r.nextPayID++
		p.ID = r.nextPayID
	}

	stored := *p
	r.payments[k] = &stored
	return nil
}

func (r *MemoryRepository) ConfirmPayments(ctx context.Context, rows []models.PaymentMonthly) ([]models.PaymentMonthly, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	confirmed := make([]models.PaymentMonthly, 0, len(rows))
	for _, row := range rows {
		k := paymentKey{row.PilotID, row.Key()}
		existing, ok := r.payments[k]
		if !ok {
			r.nextPayID++
			row.ID = r.nextPayID
			row.Status = ledger.StatusConfirmed
			row.CreatedAt = now
			row.UpdatedAt = now
			stored := row
			existing = &stored
			r.payments[k] = existing
		} else if existing.Status != ledger.StatusConfirmed {
			existing.Status = ledger.StatusConfirmed
			existing.UpdatedAt = now
		}
		confirmed = append(confirmed, *existing)
	}
	return confirmed, nil
}

func (r *MemoryRepository) DeletePayment(ctx context.Context, pilotID int64, key ledger.Key) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := paymentKey{pilotID, key}
	if _, ok := r.payments[k]; !ok {
		return false, nil
	}
	delete(r.payments, k)
	return true, nil
}

func (r *MemoryRepository) DeletePaymentsByStatus(ctx context.Context, pilotID int64, status ledger.Status) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, p := range r.payments {
		if k.pilotID == pilotID && p.Status == status {
			delete(r.payments, k)
			n++
		}
	}
	return n, nil
}

func sortPayments(rows []models.PaymentMonthly) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Key().Less(rows[j].Key())
	})
}
