package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/models"
)

// Confirmer runs the admin confirmation workflow. At most one confirmation
// is in flight per Confirmer; on success the cache is patched in place
// instead of re-fetching.
type Confirmer struct {
	client *Client
	cache  *LedgerCache
	busy   atomic.Bool
	Now    func() time.Time
}

func NewConfirmer(c *Client, cache *LedgerCache) *Confirmer {
	return &Confirmer{client: c, cache: cache, Now: time.Now}
}

// InFlight reports whether a confirmation is outstanding, for disabling
// the trigger
func (c *Confirmer) InFlight() bool {
	return c.busy.Load()
}

// Confirm confirms one month
func (c *Confirmer) Confirm(ctx context.Context, pilotID int64, key ledger.Key) (ledger.Entry, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return ledger.Entry{}, ErrConfirmationInFlight
	}
	defer c.busy.Store(false)

	entry, err := c.client.ConfirmPayment(ctx, models.PaymentKeyRequest{
		PilotID:        pilotID,
		ReferenceYear:  ledger.Year(key.Year),
		ReferenceMonth: key.Month,
	})
	if err != nil {
		return ledger.Entry{}, err
	}

	c.cache.MarkConfirmed(pilotID, []ledger.Key{key}, []ledger.Entry{*entry}, c.Now())
	confirmed, _ := c.cache.Get(pilotID, key)
	return confirmed, nil
}

// ConfirmBatch confirms every month of a batch with one request
func (c *Confirmer) ConfirmBatch(ctx context.Context, pilotID int64, keys []ledger.Key) ([]ledger.Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrConfirmationInFlight
	}
	defer c.busy.Store(false)

	payload := make([]models.PaymentKeyRequest, len(keys))
	for i, k := range keys {
		payload[i] = models.PaymentKeyRequest{PilotID: pilotID, ReferenceYear: ledger.Year(k.Year), ReferenceMonth: k.Month}
	}

	resp, err := c.client.ConfirmPaymentBatch(ctx, payload)
	if err != nil {
		return nil, err
	}

	c.cache.MarkConfirmed(pilotID, keys, resp, c.Now())
	out := make([]ledger.Entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := c.cache.Get(pilotID, k); ok {
			out = append(out, e)
		}
	}
	return out, nil
}
