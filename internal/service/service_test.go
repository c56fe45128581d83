package service

import (
	"context"
	"testing"
	"time"

	"github.com/cpvl/dues-server/internal/events"
	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/models"
	"github.com/cpvl/dues-server/internal/pix"
	"github.com/cpvl/dues-server/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fixture struct {
	svc       Service
	repo      *repository.MemoryRepository
	publisher *events.RecordingPublisher
	pilot     models.Actor
	other     models.Actor
	admin     models.Actor
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	f := &fixture{
		repo:      repository.NewMemoryRepository(),
		publisher: &events.RecordingPublisher{},
	}
	f.svc = NewDefaultService(f.repo, Options{
		JWTSecret:    testSecret,
		TokenTTL:     time.Hour,
		IsAdminEmail: func(email string) bool { return email == "treasurer@cpvl.test" },
		Pricing:      ledger.DefaultPricing(),
		StartYear:    2025,
		Location:     loc,
		Merchant:     pix.Merchant{Key: "pix@cpvl.test", Name: "CPVL", City: "POCOS CALDAS", PostalCode: "37701000"},
		Publisher:    f.publisher,
		Clock:        func() time.Time { return now },
	})

	f.pilot = f.signUp(t, "pilot@cpvl.test")
	f.other = f.signUp(t, "other@cpvl.test")
	f.admin = f.signUp(t, "treasurer@cpvl.test")
	require.Equal(t, models.RoleAdmin, f.admin.Role)
	return f
}

func (f *fixture) signUp(t *testing.T, email string) models.Actor {
	t.Helper()
	resp, err := f.svc.SignUp(context.Background(), models.SignUpRequest{
		Email:    email,
		Password: "password123",
		Name:     "Test Pilot",
	})
	require.NoError(t, err)
	return models.Actor{UserID: resp.UserID, PilotID: resp.PilotID, Role: resp.Role}
}

func (f *fixture) affiliate(t *testing.T, pilotID int64) {
	t.Helper()
	_, err := f.svc.UpdatePilotStatus(context.Background(), f.admin, pilotID,
		models.UpdatePilotStatusRequest{Status: string(ledger.PilotAffiliated)})
	require.NoError(t, err)
}

func notice(pilotID int64, year, month int, plan ledger.PlanType, createdAt time.Time) models.CreatePaymentRequest {
	return models.CreatePaymentRequest{
		PilotID:        pilotID,
		ReferenceYear:  ledger.Year(year),
		ReferenceMonth: month,
		PlanType:       plan,
		CreatedAt:      &createdAt,
	}
}

var march2025 = time.Date(2025, time.March, 10, 15, 0, 0, 0, time.UTC)

func TestSignUpAndLogin(t *testing.T) {
	f := newFixture(t, march2025)
	ctx := context.Background()

	assert.Equal(t, models.RolePilot, f.pilot.Role)
	assert.NotZero(t, f.pilot.PilotID)
	assert.NotEqual(t, f.pilot.PilotID, f.other.PilotID)

	_, err := f.svc.SignUp(ctx, models.SignUpRequest{Email: "pilot@cpvl.test", Password: "password123", Name: "Dup"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = f.svc.Login(ctx, models.LoginRequest{Email: "pilot@cpvl.test", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	resp, err := f.svc.Login(ctx, models.LoginRequest{Email: "pilot@cpvl.test", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, 3600, resp.ExpiresIn)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	assert.Equal(t, f.pilot.UserID, claims["sub"])
	assert.Equal(t, float64(f.pilot.PilotID), claims["pilotId"])
	assert.Equal(t, models.RolePilot, claims["role"])

	me, err := f.svc.Me(ctx, f.pilot)
	require.NoError(t, err)
	assert.Equal(t, ledger.PilotPending, me.Status)
}

func TestPilotStatus(t *testing.T) {
	f := newFixture(t, march2025)
	ctx := context.Background()

	_, err := f.svc.UpdatePilotStatus(ctx, f.pilot, f.pilot.PilotID, models.UpdatePilotStatusRequest{Status: "filiado"})
	assert.ErrorIs(t, err, ErrAdminOnly)

	_, err = f.svc.UpdatePilotStatus(ctx, f.admin, f.pilot.PilotID, models.UpdatePilotStatusRequest{Status: "flying"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.UpdatePilotStatus(ctx, f.admin, 9999, models.UpdatePilotStatusRequest{Status: "filiado"})
	assert.ErrorIs(t, err, ErrPilotNotFound)

	user, err := f.svc.UpdatePilotStatus(ctx, f.admin, f.pilot.PilotID, models.UpdatePilotStatusRequest{Status: "filiado"})
	require.NoError(t, err)
	assert.Equal(t, ledger.PilotAffiliated, user.Status)

	_, err = f.svc.GetPilot(ctx, f.other, f.pilot.PilotID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreatePayment(t *testing.T) {
	f := newFixture(t, march2025)
	ctx := context.Background()

	t.Run("per month amount of a quarterly notice", func(t *testing.T) {
		entry, err := f.svc.CreatePayment(ctx, f.pilot, notice(f.pilot.PilotID, 2025, 1, ledger.PlanQuarterly, march2025))
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusToConfirm, entry.Status)
		assert.Equal(t, "50", entry.Amount.Decimal.String())
		assert.Equal(t, "Pagamento quarterly via PIX", entry.Description)
		assert.True(t, entry.CreatedAt.Equal(march2025))
	})

	t.Run("another pilot's ledger is forbidden", func(t *testing.T) {
		_, err := f.svc.CreatePayment(ctx, f.other, notice(f.pilot.PilotID, 2025, 2, ledger.PlanMonthly, march2025))
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("invalid month", func(t *testing.T) {
		_, err := f.svc.CreatePayment(ctx, f.pilot, notice(f.pilot.PilotID, 2025, 13, ledger.PlanMonthly, march2025))
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("clients cannot create confirmed entries", func(t *testing.T) {
		req := notice(f.pilot.PilotID, 2025, 2, ledger.PlanMonthly, march2025)
		req.Status = "Confirmed"
		_, err := f.svc.CreatePayment(ctx, f.pilot, req)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("resubmitting a month overwrites it", func(t *testing.T) {
		_, err := f.svc.CreatePayment(ctx, f.pilot, notice(f.pilot.PilotID, 2025, 1, ledger.PlanMonthly, march2025))
		require.NoError(t, err)

		entries, err := f.svc.ListPayments(ctx, f.pilot, f.pilot.PilotID, ledger.ForYear(2025))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, ledger.PlanMonthly, entries[0].PlanType)
	})

	t.Run("confirmed months are not overwritten", func(t *testing.T) {
		_, err := f.svc.ConfirmPayment(ctx, f.admin, models.PaymentKeyRequest{
			PilotID: f.pilot.PilotID, ReferenceYear: 2025, ReferenceMonth: 1,
		})
		require.NoError(t, err)

		_, err = f.svc.CreatePayment(ctx, f.pilot, notice(f.pilot.PilotID, 2025, 1, ledger.PlanMonthly, march2025))
		assert.ErrorIs(t, err, ErrAlreadyConfirmed)
	})

	notices := 0
	for _, evt := range f.publisher.Events() {
		if evt.Type == events.TypePaymentNotice {
			notices++
		}
	}
	assert.Equal(t, 2, notices)
}

func TestAnnualDiscountInJanuary(t *testing.T) {
	january := time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, january)

	entry, err := f.svc.CreatePayment(context.Background(), f.pilot, notice(f.pilot.PilotID, 2025, 1, ledger.PlanAnnual, january))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("45").Equal(entry.Amount.Decimal), entry.Amount.Decimal.String())
}

func TestLedgerView(t *testing.T) {
	f := newFixture(t, march2025)
	ctx := context.Background()

	_, err := f.svc.LedgerView(ctx, f.pilot, f.pilot.PilotID, ledger.ForYear(2025))
	assert.ErrorIs(t, err, ErrPilotNotAffiliated)

	f.affiliate(t, f.pilot.PilotID)

	noticeAt := march2025.Add(-time.Hour)
	for _, m := range []int{1, 2, 3} {
		_, err := f.svc.CreatePayment(ctx, f.pilot, notice(f.pilot.PilotID, 2025, m, ledger.PlanQuarterly, noticeAt))
		require.NoError(t, err)
	}

	view, err := f.svc.LedgerView(ctx, f.pilot, f.pilot.PilotID, ledger.ForYear(2025))
	require.NoError(t, err)
	assert.Len(t, view.Rows, 12)
	assert.Equal(t, 9, view.Summary.TotalMissingMonths)
	require.Len(t, view.Batches, 1)
	assert.Equal(t, []ledger.Key{{Year: 2025, Month: 1}, {Year: 2025, Month: 2}, {Year: 2025, Month: 3}}, view.Batches[0])
	assert.Equal(t, []int{2025}, view.AvailableYears)

	_, err = f.svc.LedgerView(ctx, f.other, f.pilot.PilotID, ledger.ForYear(2025))
	assert.ErrorIs(t, err, ErrForbidden)

	// admins review any pilot regardless of status
	_, err = f.svc.LedgerView(ctx, f.admin, f.other.PilotID, ledger.AllYears)
	assert.NoError(t, err)
}

func TestPixQuote(t *testing.T) {
	f := newFixture(t, march2025)
	ctx := context.Background()

	_, err := f.svc.CreatePayment(ctx, f.pilot, notice(f.pilot.PilotID, 2025, 1, ledger.PlanMonthly, march2025))
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, f.admin, models.PaymentKeyRequest{PilotID: f.pilot.PilotID, ReferenceYear: 2025, ReferenceMonth: 1})
	require.NoError(t, err)

	quote, err := f.svc.PixQuote(ctx, f.pilot, f.pilot.PilotID, ledger.PlanQuarterly, ledger.ForYear(2025))
	require.NoError(t, err)
	assert.Equal(t, "150", quote.FinalAmount.String())
	assert.Equal(t, []ledger.Key{{Year: 2025, Month: 2}, {Year: 2025, Month: 3}, {Year: 2025, Month: 4}}, quote.Months)
	assert.Contains(t, quote.Payload, "5406150.00")
	assert.Equal(t, "6304", quote.Payload[len(quote.Payload)-8:len(quote.Payload)-4])

	_, err = f.svc.PixQuote(ctx, f.pilot, f.pilot.PilotID, ledger.PlanAnnual, ledger.ForYear(2025))
	assert.ErrorIs(t, err, ErrInvalidInput)

	png, err := f.svc.PixQRCode(ctx, f.pilot, f.pilot.PilotID, ledger.PlanMonthly, ledger.ForYear(2025))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestConfirmPaymentBatch(t *testing.T) {
	f := newFixture(t, march2025)
	ctx := context.Background()

	for _, m := range []int{4, 5, 6} {
		_, err := f.svc.CreatePayment(ctx, f.pilot, notice(f.pilot.PilotID, 2025, m, ledger.PlanQuarterly, march2025))
		require.NoError(t, err)
	}

	batch := models.ConfirmBatchRequest{Payments: []models.PaymentKeyRequest{
		{PilotID: f.pilot.PilotID, ReferenceYear: 2025, ReferenceMonth: 4},
		{PilotID: f.pilot.PilotID, ReferenceYear: 2025, ReferenceMonth: 5},
		{PilotID: f.pilot.PilotID, ReferenceYear: 2025, ReferenceMonth: 6},
		{PilotID: f.pilot.PilotID, ReferenceYear: 2025, ReferenceMonth: 7},
	}}

	_, err := f.svc.ConfirmPaymentBatch(ctx, f.pilot, batch)
	assert.ErrorIs(t, err, ErrAdminOnly)

	confirmed, err := f.svc.ConfirmPaymentBatch(ctx, f.admin, batch)
	require.NoError(t, err)
	require.Len(t, confirmed, 4)
	for _, e := range confirmed {
		assert.Equal(t, ledger.StatusConfirmed, e.Status)
	}
	// July had no notice and is recorded at the monthly rate
	assert.Equal(t, ledger.PlanMonthly, confirmed[3].PlanType)
	assert.Equal(t, "50", confirmed[3].Amount.Decimal.String())

	again, err := f.svc.ConfirmPaymentBatch(ctx, f.admin, batch)
	require.NoError(t, err)
	assert.Len(t, again, 4)

	entries, err := f.svc.ListPayments(ctx, f.pilot, f.pilot.PilotID, ledger.ForYear(2025))
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	var confirmedEvents []events.PaymentEvent
	for _, evt := range f.publisher.Events() {
		if evt.Type == events.TypePaymentConfirmed {
			confirmedEvents = append(confirmedEvents, evt)
		}
	}
	require.Len(t, confirmedEvents, 2)
	assert.Len(t, confirmedEvents[0].Keys, 4)
	assert.Equal(t, f.admin.UserID, confirmedEvents[0].ActorID)
}

func TestDeleteAndPurge(t *testing.T) {
	f := newFixture(t, march2025)
	ctx := context.Background()

	for _, m := range []int{1, 2, 3} {
		_, err := f.svc.CreatePayment(ctx, f.pilot, notice(f.pilot.PilotID, 2025, m, ledger.PlanQuarterly, march2025))
		require.NoError(t, err)
	}
	_, err := f.svc.ConfirmPayment(ctx, f.admin, models.PaymentKeyRequest{PilotID: f.pilot.PilotID, ReferenceYear: 2025, ReferenceMonth: 1})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeletePayment(ctx, f.pilot, f.pilot.PilotID, ledger.Key{Year: 2025, Month: 2}), ErrAdminOnly)
	require.NoError(t, f.svc.DeletePayment(ctx, f.admin, f.pilot.PilotID, ledger.Key{Year: 2025, Month: 2}))
	assert.ErrorIs(t, f.svc.DeletePayment(ctx, f.admin, f.pilot.PilotID, ledger.Key{Year: 2025, Month: 2}), ErrPaymentNotFound)

	_, err = f.svc.PurgePayments(ctx, f.admin, f.pilot.PilotID, ledger.StatusConfirmed)
	assert.ErrorIs(t, err, ErrInvalidInput)

	n, err := f.svc.PurgePayments(ctx, f.admin, f.pilot.PilotID, ledger.StatusToConfirm)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := f.svc.ListPayments(ctx, f.pilot, f.pilot.PilotID, ledger.AllYears)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.StatusConfirmed, entries[0].Status)
}

func TestExportsAndReceipts(t *testing.T) {
	f := newFixture(t, march2025)
	ctx := context.Background()
	f.affiliate(t, f.pilot.PilotID)

	_, err := f.svc.CreatePayment(ctx, f.pilot, notice(f.pilot.PilotID, 2025, 1, ledger.PlanMonthly, march2025))
	require.NoError(t, err)

	key := ledger.Key{Year: 2025, Month: 1}
	_, err = f.svc.Receipt(ctx, f.pilot, f.pilot.PilotID, key)
	assert.ErrorIs(t, err, ErrNotConfirmed)

	_, err = f.svc.ConfirmPayment(ctx, f.admin, models.PaymentKeyRequest{PilotID: f.pilot.PilotID, ReferenceYear: 2025, ReferenceMonth: 1})
	require.NoError(t, err)

	pdf, err := f.svc.Receipt(ctx, f.pilot, f.pilot.PilotID, key)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(pdf[:4]))

	_, err = f.svc.Receipt(ctx, f.pilot, f.pilot.PilotID, ledger.Key{Year: 2025, Month: 2})
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	xlsx, err := f.svc.ExportLedger(ctx, f.pilot, f.pilot.PilotID, ledger.ForYear(2025))
	require.NoError(t, err)
	assert.Equal(t, "PK", string(xlsx[:2]))
}
