package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PlanType is the billing cadence chosen when a payment is declared.
// The empty plan marks a placeholder row.
type PlanType string

const (
	PlanNone      PlanType = ""
	PlanMonthly   PlanType = "monthly"
	PlanQuarterly PlanType = "quarterly"
	PlanSemester  PlanType = "semester"
	PlanAnnual    PlanType = "annual"
)

var planAliases = map[string]PlanType{
	"":           PlanNone,
	"monthly":    PlanMonthly,
	"mensal":     PlanMonthly,
	"quarterly":  PlanQuarterly,
	"trimestral": PlanQuarterly,
	"semester":   PlanSemester,
	"semestral":  PlanSemester,
	"annual":     PlanAnnual,
	"anual":      PlanAnnual,
}

var planMonths = map[PlanType]int{
	PlanMonthly:   1,
	PlanQuarterly: 3,
	PlanSemester:  6,
	PlanAnnual:    12,
}

// ParsePlanType accepts the current and the legacy plan names.
func ParsePlanType(raw string) (PlanType, error) {
	if p, ok := planAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return p, nil
	}
	return PlanNone, fmt.Errorf("%w: %q", ErrUnknownPlan, raw)
}

// Months is the number of monthly entries a plan covers, 0 for placeholders.
func (p PlanType) Months() int {
	return planMonths[p]
}

// NoticeDescription is the description written on entries created by a
// payment notice.
func NoticeDescription(p PlanType) string {
	return fmt.Sprintf("Pagamento %s via PIX", p)
}

// Valid reports whether p is a billable plan.
func (p PlanType) Valid() bool {
	return p.Months() > 0
}

func (p *PlanType) UnmarshalJSON(data []byte) error {
	var raw string
	if string(data) == "null" {
		*p = PlanNone
		return nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlan, string(data))
	}
	parsed, err := ParsePlanType(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// AvailablePlans lists the plans a member may declare given how many months
// of the year are still unpaid.
func AvailablePlans(totalMissing int) []PlanType {
	if totalMissing <= 0 {
		return nil
	}
	plans := []PlanType{PlanMonthly}
	if totalMissing >= 3 {
		plans = append(plans, PlanQuarterly)
	}
	if totalMissing >= 6 {
		plans = append(plans, PlanSemester)
	}
	if totalMissing == 12 {
		plans = append(plans, PlanAnnual)
	}
	return plans
}

// PlanAvailable reports whether plan is offered for totalMissing.
func PlanAvailable(plan PlanType, totalMissing int) bool {
	for _, p := range AvailablePlans(totalMissing) {
		if p == plan {
			return true
		}
	}
	return false
}

// Pricing holds the dues tariff.
type Pricing struct {
	MonthlyRate    decimal.Decimal
	AnnualDiscount decimal.Decimal
}

// DefaultPricing is the club tariff: 50.00 per month, 10% off the annual plan in January.
func DefaultPricing() Pricing {
	return Pricing{
		MonthlyRate:    decimal.NewFromInt(50),
		AnnualDiscount: decimal.RequireFromString("0.10"),
	}
}

// BaseAmount is the undiscounted price of a plan.
func (p Pricing) BaseAmount(plan PlanType) decimal.Decimal {
	return p.MonthlyRate.Mul(decimal.NewFromInt(int64(plan.Months())))
}

// Discount returns the fractional discount that applies to plan at now.
// The annual discount runs through Jan 31 23:59:59 of now's year.
func (p Pricing) Discount(plan PlanType, now time.Time) decimal.Decimal {
	if plan != PlanAnnual {
		return decimal.Zero
	}
	limit := time.Date(now.Year(), time.January, 31, 23, 59, 59, 0, now.Location())
	if now.After(limit) {
		return decimal.Zero
	}
	return p.AnnualDiscount
}

// FinalAmount is the discounted plan price rounded to cents.
func (p Pricing) FinalAmount(plan PlanType, now time.Time) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(p.Discount(plan, now))
	return p.BaseAmount(plan).Mul(factor).Round(2)
}

// MonthsFor derives how many monthly entries a plan amount represents.
func (p Pricing) MonthsFor(plan PlanType) int {
	if p.MonthlyRate.IsZero() {
		return plan.Months()
	}
	return int(p.BaseAmount(plan).Div(p.MonthlyRate).Round(0).IntPart())
}

// PerMonthAmount splits the final plan price evenly across its months.
func (p Pricing) PerMonthAmount(plan PlanType, now time.Time) decimal.Decimal {
	months := p.MonthsFor(plan)
	if months == 0 {
		return decimal.Zero
	}
	return p.FinalAmount(plan, now).Div(decimal.NewFromInt(int64(months))).Round(2)
}

// Quote is the priced offer for one plan.
type Quote struct {
	PlanType    PlanType        `json:"planType"`
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	Discount    decimal.Decimal `json:"discount"`
	FinalAmount decimal.Decimal `json:"finalAmount"`
}

// Quote prices plan at now.
func (p Pricing) Quote(plan PlanType, now time.Time) Quote {
	return Quote{
		PlanType:    plan,
		BaseAmount:  p.BaseAmount(plan),
		Discount:    p.Discount(plan, now),
		FinalAmount: p.FinalAmount(plan, now),
	}
}

// Quotes prices every plan available for totalMissing.
func (p Pricing) Quotes(totalMissing int, now time.Time) []Quote {
	plans := AvailablePlans(totalMissing)
	quotes := make([]Quote, 0, len(plans))
	for _, plan := range plans {
		quotes = append(quotes, p.Quote(plan, now))
	}
	return quotes
}
