package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a ledger entry.
type Status int

const (
	StatusPending Status = iota
	StatusToConfirm
	StatusConfirmed
)

var statusNames = map[Status]string{
	StatusPending:   "Pending",
	StatusToConfirm: "ToConfirm",
	StatusConfirmed: "Confirmed",
}

// legacy names are the ones the first frontend persisted
var statusAliases = map[string]Status{
	"pending":    StatusPending,
	"pendente":   StatusPending,
	"toconfirm":  StatusToConfirm,
	"to_confirm": StatusToConfirm,
	"confirmar":  StatusToConfirm,
	"confirmed":  StatusConfirmed,
	"confirmado": StatusConfirmed,
}

// ParseStatus converts a raw backend string into a Status.
// An empty string is a Pending entry.
func ParseStatus(raw string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return StatusPending, nil
	}
	if s, ok := statusAliases[key]; ok {
		return s, nil
	}
	return StatusPending, fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownStatus, string(data))
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Scan implements sql.Scanner so rows can carry a Status column directly.
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseStatus(v)
		if err != nil {
			return err
		}
		*s = parsed
	case []byte:
		parsed, err := ParseStatus(string(v))
		if err != nil {
			return err
		}
		*s = parsed
	case nil:
		*s = StatusPending
	default:
		return fmt.Errorf("%w: unsupported column type %T", ErrUnknownStatus, src)
	}
	return nil
}

func (s Status) Value() (driver.Value, error) {
	return s.String(), nil
}

// PilotStatus is the affiliation state of a club member.
type PilotStatus string

const (
	PilotAffiliated    PilotStatus = "filiado"
	PilotDisaffiliated PilotStatus = "desfiliado"
	PilotExpelled      PilotStatus = "expulso"
	PilotPending       PilotStatus = "pendente"
	PilotSuspended     PilotStatus = "suspenso"
	PilotLocked        PilotStatus = "trancado"
)

// ParsePilotStatus normalizes case and whitespace and rejects unknown values.
func ParsePilotStatus(raw string) (PilotStatus, error) {
	s := PilotStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case PilotAffiliated, PilotDisaffiliated, PilotExpelled, PilotPending, PilotSuspended, PilotLocked:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPilotStatus, raw)
}
