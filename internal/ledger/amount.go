package ledger

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a currency value that tolerates the shapes the backend has
// historically produced: numbers, numeric strings and comma-decimal strings.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps d.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// ParseAmount parses raw defensively. Unparsable or empty input yields zero.
//
//	ParseAmount("50")       -> 50
//	ParseAmount("50,5")     -> 50.5
//	ParseAmount("1.234,56") -> 1234.56
//	ParseAmount("abc")      -> 0
func ParseAmount(raw string) Amount {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Amount{}
	}
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		// dot is a thousands separator when a comma decimal is present
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}
	}
	return Amount{Decimal: d}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.StringFixed(2)), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*a = Amount{}
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			*a = Amount{}
			return nil
		}
		*a = ParseAmount(raw)
		return nil
	}
	*a = ParseAmount(string(data))
	return nil
}

// Scan reads NUMERIC columns.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case []byte:
		*a = ParseAmount(string(v))
		return nil
	case string:
		*a = ParseAmount(v)
		return nil
	}
	return a.Decimal.Scan(src)
}

func (a Amount) Value() (driver.Value, error) {
	return a.StringFixed(2), nil
}

// IsPositive reports whether the amount counts as a paid month.
func (a Amount) IsPositive() bool {
	return a.Decimal.IsPositive()
}
