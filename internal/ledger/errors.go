package ledger

import "errors"

var (
	ErrUnknownStatus      = errors.New("unknown payment status")
	ErrUnknownPilotStatus = errors.New("unknown pilot status")
	ErrUnknownPlan        = errors.New("unknown plan type")
	ErrPlanNotAvailable   = errors.New("plan type not available for the missing months")
	ErrInvalidYear        = errors.New("invalid reference year")
	ErrInvalidMonth       = errors.New("invalid reference month")
)
