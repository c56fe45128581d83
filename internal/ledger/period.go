package ledger

import (
	"sort"
	"strconv"
	"strings"
)

// YearFilter selects either one reference year or every year.
type YearFilter struct {
	All  bool
	Year int
}

// AllYears is the "all" filter.
var AllYears = YearFilter{All: true}

// ForYear filters on a single reference year.
func ForYear(year int) YearFilter {
	return YearFilter{Year: year}
}

// ParseYearFilter reads "all" or a numeric year. An empty value falls back
// to the given default year.
func ParseYearFilter(raw string, defaultYear int) (YearFilter, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "":
		return ForYear(defaultYear), nil
	case "all":
		return AllYears, nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		return YearFilter{}, ErrInvalidYear
	}
	return ForYear(year), nil
}

func (f YearFilter) String() string {
	if f.All {
		return "all"
	}
	return strconv.Itoa(f.Year)
}

// Match reports whether e falls inside the filter.
func (f YearFilter) Match(e Entry) bool {
	return f.All || int(e.ReferenceYear) == f.Year
}

// TargetYear is the year new entries are written against: the selected year,
// or currentYear when every year is shown.
func (f YearFilter) TargetYear(currentYear int) int {
	if f.All {
		return currentYear
	}
	return f.Year
}

// AddMonths moves (year, month) forward by n months with year rollover.
func AddMonths(year, month, n int) (int, int) {
	idx := year*12 + (month - 1) + n
	return idx / 12, idx%12 + 1
}

// MonthSequence lists count consecutive months following startMonth in
// year. Months past December roll into the next year, so starting at 11
// with count 3 yields 12/year, 1/year+1, 2/year+1.
func MonthSequence(startMonth, count, year int) []Key {
	keys := make([]Key, 0, count)
	for i := 1; i <= count; i++ {
		y, m := AddMonths(year, 1, startMonth+i-1)
		keys = append(keys, Key{Year: y, Month: m})
	}
	return keys
}

// NoticeMonths picks the months a payment notice covers: the plan's month
// count starting right after the months already paid in the year.
func NoticeMonths(pricing Pricing, plan PlanType, totalMissing, year int) ([]Key, error) {
	if !plan.Valid() {
		return nil, ErrUnknownPlan
	}
	if !PlanAvailable(plan, totalMissing) {
		return nil, ErrPlanNotAvailable
	}
	return MonthSequence(12-totalMissing, pricing.MonthsFor(plan), year), nil
}

// AvailableYears is every year with entries plus every year from startYear
// through currentYear, newest first.
func AvailableYears(entries []Entry, startYear, currentYear int) []int {
	seen := make(map[int]struct{})
	for _, e := range entries {
		seen[int(e.ReferenceYear)] = struct{}{}
	}
	for y := startYear; y <= currentYear; y++ {
		seen[y] = struct{}{}
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years
}
