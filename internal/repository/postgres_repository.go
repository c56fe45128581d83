package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// GetDB returns the underlying database connection
func (r *PostgresRepository) GetDB() *sqlx.DB {
	return r.db
}

const paymentColumns = `id, pilot_id, reference_year, reference_month, amount, plan_type, description, status, created_at, updated_at`

// User repository methods
func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, password, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING pilot_id
	`

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Role == "" {
		user.Role = models.RolePilot
	}
	if user.Status == "" {
		user.Status = ledger.PilotPending
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	return r.db.QueryRowxContext(ctx, query,
		user.ID, user.Email, user.Name, user.Password, user.Role, user.Status,
		user.CreatedAt, user.UpdatedAt).Scan(&user.PilotID)
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUser(ctx, `SELECT * FROM users WHERE email = $1`, email)
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return r.getUser(ctx, `SELECT * FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) GetUserByPilotID(ctx context.Context, pilotID int64) (*models.User, error) {
	return r.getUser(ctx, `SELECT * FROM users WHERE pilot_id = $1`, pilotID)
}

func (r *PostgresRepository) getUser(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, err
	}

	return &user, nil
}

func (r *PostgresRepository) UpdatePilotStatus(ctx context.Context, pilotID int64, status ledger.PilotStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET status = $1, updated_at = $2 WHERE pilot_id = $3`,
		status, time.Now().UTC(), pilotID)
	return err
}

// Payment repository methods
func (r *PostgresRepository) ListPayments(ctx context.Context, pilotID int64, filter ledger.YearFilter) ([]models.PaymentMonthly, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_monthly WHERE pilot_id = $1`
	args := []interface{}{pilotID}
	if !filter.All {
		query += ` AND reference_year = $2`
		args = append(args, filter.Year)
	}
	query += ` ORDER BY reference_year, reference_month`

	var rows []models.PaymentMonthly
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	return rows, nil
}

func (r *PostgresRepository) GetPayment(ctx context.Context, pilotID int64, key ledger.Key) (*models.PaymentMonthly, error) {
	query := `
		SELECT ` + paymentColumns + ` FROM payment_monthly
		WHERE pilot_id = $1 AND reference_year = $2 AND reference_month = $3
	`

	var row models.PaymentMonthly
	err := r.db.GetContext(ctx, &row, query, pilotID, key.Year, key.Month)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Payment not found
		}
		return nil, err
	}

	return &row, nil
}

func (r *PostgresRepository) UpsertPayment(ctx context.Context, p *models.PaymentMonthly) error {
	query := `
		INSERT INTO payment_monthly (pilot_id, reference_year, reference_month, amount, plan_type, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (pilot_id, reference_year, reference_month) DO UPDATE
		SET amount = EXCLUDED.amount,
			plan_type = EXCLUDED.plan_type,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE payment_monthly.status <> $10
		RETURNING ` + paymentColumns

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	err := r.db.GetContext(ctx, p, query,
		p.PilotID, p.ReferenceYear, p.ReferenceMonth, p.Amount, p.PlanType,
		p.Description, p.Status, p.CreatedAt, p.UpdatedAt, ledger.StatusConfirmed)
	if errors.Is(err, sql.ErrNoRows) {
		// the conflict branch was filtered out by the WHERE clause
		return ErrAlreadyConfirmed
	}
	return err
}

func (r *PostgresRepository) ConfirmPayments(ctx context.Context, rows []models.PaymentMonthly) (confirmed []models.PaymentMonthly, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	query := `
		INSERT INTO payment_monthly (pilot_id, reference_year, reference_month, amount, plan_type, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (pilot_id, reference_year, reference_month) DO UPDATE
		SET status = EXCLUDED.status,
			updated_at = CASE
				WHEN payment_monthly.status = EXCLUDED.status THEN payment_monthly.updated_at
				ELSE EXCLUDED.updated_at
			END
		RETURNING ` + paymentColumns

	now := time.Now().UTC()
	confirmed = make([]models.PaymentMonthly, 0, len(rows))
	for _, row := range rows {
		var out models.PaymentMonthly
		err = tx.GetContext(ctx, &out, query,
			row.PilotID, row.ReferenceYear, row.ReferenceMonth, row.Amount, row.PlanType,
			row.Description, ledger.StatusConfirmed, now)
		if err != nil {
			return nil, err
		}
		confirmed = append(confirmed, out)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return confirmed, nil
}

func (r *PostgresRepository) DeletePayment(ctx context.Context, pilotID int64, key ledger.Key) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM payment_monthly WHERE pilot_id = $1 AND reference_year = $2 AND reference_month = $3`,
		pilotID, key.Year, key.Month)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepository) DeletePaymentsByStatus(ctx context.Context, pilotID int64, status ledger.Status) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM payment_monthly WHERE pilot_id = $1 AND status = $2`,
		pilotID, status)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
