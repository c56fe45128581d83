package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Summary is the financial overview of a filtered ledger.
type Summary struct {
	TotalEntries         int             `json:"totalEntries"`
	TotalMissingMonths   int             `json:"totalMissingMonths"`
	TotalAmountCollected decimal.Decimal `json:"totalAmountCollected"`
	// YearScoped is false in all-years mode, where TotalMissingMonths still
	// assumes a twelve month denominator and is not meaningful.
	YearScoped bool `json:"yearScoped"`
}

// FillYear returns the entries matching filter. For a single year every
// month without a record gets a placeholder appended after the real
// entries; all-years mode passes entries through unchanged.
func FillYear(entries []Entry, filter YearFilter, pilotID int64) []Entry {
	if filter.All {
		out := make([]Entry, len(entries))
		copy(out, entries)
		return out
	}

	out := make([]Entry, 0, 12)
	present := make(map[int]bool, 12)
	for _, e := range entries {
		if !filter.Match(e) {
			continue
		}
		out = append(out, e)
		present[e.ReferenceMonth] = true
	}
	for m := 1; m <= 12; m++ {
		if !present[m] {
			out = append(out, NewPlaceholder(pilotID, filter.Year, m))
		}
	}
	return out
}

// Summarize computes totals over rows already produced by FillYear.
func Summarize(rows []Entry, filter YearFilter) Summary {
	total := decimal.Zero
	perMonth := make(map[Key]decimal.Decimal)
	for _, e := range rows {
		total = total.Add(e.Amount.Decimal)
		perMonth[e.Key()] = perMonth[e.Key()].Add(e.Amount.Decimal)
	}

	paid := 0
	for _, sum := range perMonth {
		if sum.IsPositive() {
			paid++
		}
	}

	return Summary{
		TotalEntries:         len(rows),
		TotalMissingMonths:   12 - paid,
		TotalAmountCollected: total,
		YearScoped:           !filter.All,
	}
}

// Row is one rendered ledger line.
type Row struct {
	Entry
	Placeholder bool      `json:"placeholder"`
	Batch       *BatchRef `json:"batch,omitempty"`
}

// View is everything a ledger screen needs for one pilot and filter.
type View struct {
	PilotID        int64     `json:"pilotId"`
	Filter         string    `json:"year"`
	Rows           []Row     `json:"rows"`
	Summary        Summary   `json:"summary"`
	Batches        [][]Key   `json:"batches"`
	AvailableYears []int     `json:"availableYears"`
	Plans          []Quote   `json:"plans"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

// ViewOptions carries the non-ledger inputs of BuildView.
type ViewOptions struct {
	Pricing   Pricing
	StartYear int
	Now       time.Time
}

// BuildView runs the aggregator and the batching engine over entries. It
// does not modify entries and returns the same output for the same input.
func BuildView(entries []Entry, filter YearFilter, pilotID int64, opts ViewOptions) View {
	filled := FillYear(entries, filter, pilotID)
	summary := Summarize(filled, filter)

	batches := GroupBatches(filled)
	index := IndexBatches(batches)

	sorted := Sorted(filled)
	rows := make([]Row, len(sorted))
	for i, e := range sorted {
		rows[i] = Row{Entry: e, Placeholder: e.Placeholder()}
		if ref, ok := index[e.Key()]; ok && !rows[i].Placeholder {
			ref := ref
			rows[i].Batch = &ref
		}
	}

	batchKeys := make([][]Key, len(batches))
	for i, b := range batches {
		batchKeys[i] = b.Keys()
	}

	return View{
		PilotID:        pilotID,
		Filter:         filter.String(),
		Rows:           rows,
		Summary:        summary,
		Batches:        batchKeys,
		AvailableYears: AvailableYears(entries, opts.StartYear, opts.Now.Year()),
		Plans:          opts.Pricing.Quotes(summary.TotalMissingMonths, opts.Now),
		GeneratedAt:    opts.Now,
	}
}

// FindBatch returns the batch whose first member has key.
func (v View) FindBatch(first Key) ([]Key, bool) {
	for _, keys := range v.Batches {
		if len(keys) > 0 && keys[0] == first {
			return keys, true
		}
	}
	return nil, false
}
