package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/models"
	"github.com/shopspring/decimal"
)

// DefaultSuccessDelay is how long the confirmation notice stays up before
// the flow reports success
const DefaultSuccessDelay = 5 * time.Second

// NoticeRequest declares an out-of-band PIX payment
type NoticeRequest struct {
	PilotID      int64
	Plan         ledger.PlanType
	TotalMissing int
	Year         int
}

// NoticeQuote is what the member sees before submitting
type NoticeQuote struct {
	Plan        ledger.PlanType
	BaseAmount  decimal.Decimal
	Discount    decimal.Decimal
	FinalAmount decimal.Decimal
	Months      []ledger.Key
	// Payload is the PIX copy-and-paste code
	Payload string
}

// NoticeFlow runs the payment notice: quote, one POST per month in order,
// then a delayed success callback.
type NoticeFlow struct {
	client *Client
	cache  *LedgerCache

	Pricing      ledger.Pricing
	SuccessDelay time.Duration
	Now          func() time.Time
	// OnSuccess runs after SuccessDelay, usually a ledger refresh
	OnSuccess func(ctx context.Context) error
}

func NewNoticeFlow(c *Client, cache *LedgerCache, pricing ledger.Pricing) *NoticeFlow {
	return &NoticeFlow{
		client:       c,
		cache:        cache,
		Pricing:      pricing,
		SuccessDelay: DefaultSuccessDelay,
		Now:          time.Now,
	}
}

func (f *NoticeFlow) months(req NoticeRequest) ([]ledger.Key, error) {
	if req.PilotID <= 0 {
		return nil, ErrInvalidPilot
	}
	if !req.Plan.Valid() {
		return nil, fmt.Errorf("%w: %q", ledger.ErrUnknownPlan, req.Plan)
	}
	if !ledger.PlanAvailable(req.Plan, req.TotalMissing) {
		return nil, ErrPlanNotOffered
	}
	return ledger.NoticeMonths(f.Pricing, req.Plan, req.TotalMissing, req.Year)
}

// Quote prices the plan locally and fetches the payment code from the server
func (f *NoticeFlow) Quote(ctx context.Context, req NoticeRequest) (*NoticeQuote, error) {
	months, err := f.months(req)
	if err != nil {
		return nil, err
	}

	pix, err := f.client.PixQuote(ctx, req.PilotID, req.Plan, ledger.ForYear(req.Year))
	if err != nil {
		return nil, err
	}

	q := f.Pricing.Quote(req.Plan, f.Now())
	return &NoticeQuote{
		Plan:        req.Plan,
		BaseAmount:  q.BaseAmount,
		Discount:    q.Discount,
		FinalAmount: q.FinalAmount,
		Months:      months,
		Payload:     pix.Payload,
	}, nil
}

// Submit creates one ToConfirm entry per month, sequentially. If a POST
// fails the loop stops and a *PartialNoticeError lists what was already
// created; nothing is rolled back.
func (f *NoticeFlow) Submit(ctx context.Context, req NoticeRequest) ([]ledger.Entry, error) {
	months, err := f.months(req)
	if err != nil {
		return nil, err
	}

	// one timestamp for the whole notice so the months batch together
	createdAt := f.Now().UTC()
	description := ledger.NoticeDescription(req.Plan)

	created := make([]ledger.Entry, 0, len(months))
	submitted := make([]ledger.Key, 0, len(months))
	for _, k := range months {
		entry, err := f.client.CreatePayment(ctx, models.CreatePaymentRequest{
			PilotID:        req.PilotID,
			ReferenceYear:  ledger.Year(k.Year),
			ReferenceMonth: k.Month,
			PlanType:       req.Plan,
			Description:    description,
			Status:         ledger.StatusToConfirm.String(),
			Date:           &createdAt,
			CreatedAt:      &createdAt,
		})
		if err != nil {
			return created, &PartialNoticeError{Submitted: submitted, Failed: k, Err: err}
		}
		f.cache.Put(*entry)
		created = append(created, *entry)
		submitted = append(submitted, k)
	}

	if f.SuccessDelay > 0 {
		timer := time.NewTimer(f.SuccessDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return created, ctx.Err()
		case <-timer.C:
		}
	}

	if f.OnSuccess != nil {
		if err := f.OnSuccess(ctx); err != nil {
			return created, fmt.Errorf("error refreshing ledger: %w", err)
		}
	}
	return created, nil
}
