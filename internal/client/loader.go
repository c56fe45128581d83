package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/models"
	"golang.org/x/sync/errgroup"
)

// ViewConfig carries the inputs of ledger.BuildView that don't come from
// the server
type ViewConfig struct {
	Pricing   ledger.Pricing
	StartYear int
	Now       func() time.Time
}

func (c ViewConfig) options() ledger.ViewOptions {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	pricing := c.Pricing
	if pricing.MonthlyRate.IsZero() {
		pricing = ledger.DefaultPricing()
	}
	return ledger.ViewOptions{Pricing: pricing, StartYear: c.StartYear, Now: now()}
}

// Dashboard is everything the ledger screen renders, loaded in one step
type Dashboard struct {
	Me    *models.User
	Pilot *models.User
	View  ledger.View
}

// Loader fetches the caller, the pilot and the ledger together and joins
// them before anything is rendered.
type Loader struct {
	client   *Client
	cache    *LedgerCache
	channels *Channels
	cfg      ViewConfig
}

func NewLoader(c *Client, cache *LedgerCache, channels *Channels, cfg ViewConfig) *Loader {
	return &Loader{client: c, cache: cache, channels: channels, cfg: cfg}
}

func ledgerChannel(pilotID int64) string {
	return fmt.Sprintf("ledger:%d", pilotID)
}

// Load returns ErrSuperseded when a newer Load, or a newer fetch of the
// same pilot's ledger, started before this one finished.
func (l *Loader) Load(ctx context.Context, pilotID int64, filter ledger.YearFilter) (*Dashboard, error) {
	if pilotID <= 0 {
		return nil, ErrInvalidPilot
	}

	ctx, doneDashboard := l.channels.Begin(ctx, "dashboard")
	defer doneDashboard()
	ctx, doneLedger := l.channels.Begin(ctx, ledgerChannel(pilotID))
	defer doneLedger()

	var (
		me      *models.User
		pilot   *models.User
		entries []ledger.Entry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		me, err = l.client.Me(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		pilot, err = l.client.Pilot(gctx, pilotID)
		return err
	})
	g.Go(func() error {
		var err error
		entries, err = l.client.ListPayments(gctx, pilotID, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		if superseded(ctx) {
			return nil, ErrSuperseded
		}
		return nil, err
	}

	if err := l.channels.Commit(ctx, func() { l.cache.Replace(pilotID, filter, entries) }); err != nil {
		return nil, err
	}
	return &Dashboard{Me: me, Pilot: pilot, View: l.View(pilotID, filter)}, nil
}

// RefreshLedger re-fetches one pilot's ledger into the cache. It shares the
// pilot's channel with Load; a refresh superseded by a newer one is not an
// error and leaves the cache alone.
func (l *Loader) RefreshLedger(ctx context.Context, pilotID int64, filter ledger.YearFilter) error {
	ctx, done := l.channels.Begin(ctx, ledgerChannel(pilotID))
	defer done()

	entries, err := l.client.ListPayments(ctx, pilotID, filter)
	if err != nil {
		return ignoreSuperseded(err)
	}
	return ignoreSuperseded(l.channels.Commit(ctx, func() { l.cache.Replace(pilotID, filter, entries) }))
}

// View rebuilds the ledger view from the cache
func (l *Loader) View(pilotID int64, filter ledger.YearFilter) ledger.View {
	opts := l.cfg.options()
	view := l.cache.View(pilotID, filter, opts)
	view.AvailableYears = ledger.AvailableYears(l.cache.Entries(pilotID, ledger.AllYears), opts.StartYear, opts.Now.Year())
	return view
}
