package client

import (
	"sync"
	"time"

	"github.com/cpvl/dues-server/internal/ledger"
)

type cacheKey struct {
	pilotID int64
	key     ledger.Key
}

// LedgerCache is the normalized client-side store of ledger entries, keyed
// by (pilotId, year, month). Fetches replace a slice of it, mutations patch
// single entries, and views are always rebuilt from its contents.
type LedgerCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]ledger.Entry
}

func NewLedgerCache() *LedgerCache {
	return &LedgerCache{entries: make(map[cacheKey]ledger.Entry)}
}

// Replace drops the pilot's cached entries matching filter and stores the
// fetched ones.
func (c *LedgerCache) Replace(pilotID int64, filter ledger.YearFilter, fetched []ledger.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if k.pilotID == pilotID && filter.Match(e) {
			delete(c.entries, k)
		}
	}
	for _, e := range fetched {
		if e.Placeholder() {
			continue
		}
		c.entries[cacheKey{pilotID, e.Key()}] = e
	}
}

// Put stores or overwrites one entry
func (c *LedgerCache) Put(e ledger.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{e.PilotID, e.Key()}] = e
}

// Remove drops one entry
func (c *LedgerCache) Remove(pilotID int64, key ledger.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey{pilotID, key})
}

// Get returns the cached entry for key
func (c *LedgerCache) Get(pilotID int64, key ledger.Key) (ledger.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cacheKey{pilotID, key}]
	return e, ok
}

// MarkConfirmed patches keys to Confirmed in one pass. Cached entries keep
// their data and get updatedAt = at; keys missing from the cache are taken
// from the server response when it carries them, else recorded as a monthly
// entry created at at.
func (c *LedgerCache) MarkConfirmed(pilotID int64, keys []ledger.Key, response []ledger.Entry, at time.Time) {
	fromServer := make(map[ledger.Key]ledger.Entry, len(response))
	for _, e := range response {
		fromServer[e.Key()] = e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		ck := cacheKey{pilotID, k}
		if e, ok := c.entries[ck]; ok {
			e.Status = ledger.StatusConfirmed
			e.UpdatedAt = at
			if e.ID == nil {
				if srv, ok := fromServer[k]; ok {
					e.ID = srv.ID
				}
			}
			c.entries[ck] = e
			continue
		}

		e := ledger.NewPlaceholder(pilotID, k.Year, k.Month)
		e.PlanType = ledger.PlanMonthly
		e.CreatedAt = at
		if srv, ok := fromServer[k]; ok {
			e = srv
		}
		e.Status = ledger.StatusConfirmed
		e.UpdatedAt = at
		c.entries[ck] = e
	}
}

// Entries returns the pilot's cached entries matching filter, sorted
func (c *LedgerCache) Entries(pilotID int64, filter ledger.YearFilter) []ledger.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ledger.Entry
	for k, e := range c.entries {
		if k.pilotID == pilotID && filter.Match(e) {
			out = append(out, e)
		}
	}
	ledger.SortEntries(out)
	return out
}

// View rebuilds the ledger view from the cache
func (c *LedgerCache) View(pilotID int64, filter ledger.YearFilter, opts ledger.ViewOptions) ledger.View {
	return ledger.BuildView(c.Entries(pilotID, filter), filter, pilotID, opts)
}
