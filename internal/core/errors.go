package core

import "errors"

var (
	ErrInvalidSplit       = errors.New("invalid split")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrNonPositiveAmount  = errors.New("amount must be positive")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrSelfPayment        = errors.New("payer and payee must differ")
)

// IsValidationError reports whether err is a caller error that must not be retried.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidSplit) ||
		errors.Is(err, ErrUnknownParticipant) ||
		errors.Is(err, ErrNonPositiveAmount) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrSelfPayment)
}
