package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Year is a reference year that decodes from either a JSON number or a
// numeric string.
type Year int

func (y *Year) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*y = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidYear, string(data))
		}
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidYear, raw)
	}
	*y = Year(n)
	return nil
}

// Key is the natural key of an entry within one pilot's ledger.
type Key struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d-%d", k.Year, k.Month)
}

// Less orders keys by year then month.
func (k Key) Less(o Key) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Month < o.Month
}

// Entry is one monthly-dues record.
type Entry struct {
	ID             *int64    `json:"id,omitempty"`
	PilotID        int64     `json:"pilotId"`
	ReferenceYear  Year      `json:"referenceYear"`
	ReferenceMonth int       `json:"referenceMonth"`
	Amount         Amount    `json:"amount"`
	PlanType       PlanType  `json:"planType"`
	Description    string    `json:"description"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Key returns the entry's natural key.
func (e Entry) Key() Key {
	return Key{Year: int(e.ReferenceYear), Month: e.ReferenceMonth}
}

// Placeholder reports whether e was synthesized to fill a missing month.
func (e Entry) Placeholder() bool {
	return e.ID == nil && e.PlanType == PlanNone && e.CreatedAt.IsZero()
}

// NewPlaceholder builds the zero-amount row shown for a month with no record.
func NewPlaceholder(pilotID int64, year, month int) Entry {
	return Entry{
		PilotID:        pilotID,
		ReferenceYear:  Year(year),
		ReferenceMonth: month,
		Status:         StatusPending,
	}
}

// ValidateKey checks the month range and a plausible year.
func ValidateKey(year, month int) error {
	if year < 1900 || year > 9999 {
		return fmt.Errorf("%w: %d", ErrInvalidYear, year)
	}
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: %d", ErrInvalidMonth, month)
	}
	return nil
}

// SortEntries orders entries by (year, month) in place. Equal keys keep
// their relative order.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Key().Less(entries[j].Key())
	})
}

// Sorted returns a sorted copy of entries.
func Sorted(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	SortEntries(out)
	return out
}
