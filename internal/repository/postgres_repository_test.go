package repository_test

import (
	"context"
	"os"
	"testing"

	"github.com/cpvl/dues-server/internal/config"
	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/models"
	"github.com/cpvl/dues-server/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupPostgres connects to TEST_DATABASE_URL, migrates and empties the
// schema. Without the variable the test is skipped.
func setupPostgres(t *testing.T) (*repository.PostgresRepository, int64) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, config.RunMigrations(db))
	_, err = db.Exec(`TRUNCATE payment_monthly, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	repo := repository.NewPostgresRepository(db)
	pilot := &models.User{Email: "pilot@example.com", Name: "Pilot", Password: "hash"}
	require.NoError(t, repo.CreateUser(context.Background(), pilot))
	return repo, pilot.PilotID
}

func pgNotice(pilotID int64, month int, description string) *models.PaymentMonthly {
	return &models.PaymentMonthly{
		PilotID:        pilotID,
		ReferenceYear:  2025,
		ReferenceMonth: month,
		Amount:         ledger.NewAmount(decimal.RequireFromString("50.00")),
		PlanType:       ledger.PlanQuarterly,
		Description:    description,
		Status:         ledger.StatusToConfirm,
	}
}

func TestPostgresUpsertPayment(t *testing.T) {
	repo, pilotID := setupPostgres(t)
	ctx := context.Background()

	first := pgNotice(pilotID, 3, "first")
	require.NoError(t, repo.UpsertPayment(ctx, first))
	require.NotZero(t, first.ID)

	again := pgNotice(pilotID, 3, "resent")
	require.NoError(t, repo.UpsertPayment(ctx, again))
	assert.Equal(t, first.ID, again.ID, "the natural key keeps the row identity")

	rows, err := repo.ListPayments(ctx, pilotID, ledger.ForYear(2025))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "resent", rows[0].Description)
	assert.Equal(t, ledger.StatusToConfirm, rows[0].Status)
	assert.Equal(t, "50", rows[0].Amount.Decimal.String())

	_, err = repo.ConfirmPayments(ctx, []models.PaymentMonthly{*pgNotice(pilotID, 3, "")})
	require.NoError(t, err)

	err = repo.UpsertPayment(ctx, pgNotice(pilotID, 3, "overwrite"))
	assert.ErrorIs(t, err, repository.ErrAlreadyConfirmed)

	stored, err := repo.GetPayment(ctx, pilotID, ledger.Key{Year: 2025, Month: 3})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, ledger.StatusConfirmed, stored.Status)
	assert.Equal(t, "resent", stored.Description)
}

func TestPostgresConfirmPayments(t *testing.T) {
	repo, pilotID := setupPostgres(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPayment(ctx, pgNotice(pilotID, 1, "notice")))
	gap := models.PaymentMonthly{
		PilotID:        pilotID,
		ReferenceYear:  2025,
		ReferenceMonth: 2,
		Amount:         ledger.NewAmount(decimal.RequireFromString("50.00")),
		PlanType:       ledger.PlanMonthly,
		Description:    "manual confirmation",
	}

	confirmed, err := repo.ConfirmPayments(ctx, []models.PaymentMonthly{*pgNotice(pilotID, 1, ""), gap})
	require.NoError(t, err)
	require.Len(t, confirmed, 2)
	for _, p := range confirmed {
		assert.Equal(t, ledger.StatusConfirmed, p.Status)
		assert.NotZero(t, p.ID)
	}
	assert.Equal(t, "notice", confirmed[0].Description, "an existing row keeps its data")
	assert.Equal(t, ledger.PlanMonthly, confirmed[1].PlanType)
	assert.Equal(t, "manual confirmation", confirmed[1].Description)

	// confirming again is a no-op
	again, err := repo.ConfirmPayments(ctx, []models.PaymentMonthly{gap})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, confirmed[1].ID, again[0].ID)
	assert.True(t, confirmed[1].UpdatedAt.Equal(again[0].UpdatedAt))

	rows, err := repo.ListPayments(ctx, pilotID, ledger.AllYears)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestPostgresDeleteAndPurge(t *testing.T) {
	repo, pilotID := setupPostgres(t)
	ctx := context.Background()

	for m := 1; m <= 3; m++ {
		require.NoError(t, repo.UpsertPayment(ctx, pgNotice(pilotID, m, "notice")))
	}
	_, err := repo.ConfirmPayments(ctx, []models.PaymentMonthly{*pgNotice(pilotID, 3, "")})
	require.NoError(t, err)

	deleted, err := repo.DeletePayment(ctx, pilotID, ledger.Key{Year: 2025, Month: 1})
	require.NoError(t, err)
	assert.True(t, deleted)

	n, err := repo.DeletePaymentsByStatus(ctx, pilotID, ledger.StatusToConfirm)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := repo.ListPayments(ctx, pilotID, ledger.ForYear(2025))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.StatusConfirmed, rows[0].Status)
}
