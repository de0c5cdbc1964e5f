package ledger

import "errors"

var (
	ErrInvalidDirection    = errors.New("ledger: invalid direction")
	ErrInvalidStake        = errors.New("ledger: stake out of range")
	ErrInvalidLeverage     = errors.New("ledger: leverage out of range")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrBettingClosed       = errors.New("ledger: betting window closed for this interval")
	ErrDuplicateInterval   = errors.New("ledger: a wager already exists for this interval")

	// ErrWagerNotFound y ErrAlreadySettled son no-ops: quien llama los loguea
	// y sigue, no son fallos para el usuario.
	ErrWagerNotFound  = errors.New("ledger: wager not found")
	ErrAlreadySettled = errors.New("ledger: wager already settled")
)

// rejectionReason etiqueta el rechazo para métricas.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidDirection):
		return "invalid_direction"
	case errors.Is(err, ErrInvalidStake):
		return "invalid_stake"
	case errors.Is(err, ErrInvalidLeverage):
		return "invalid_leverage"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrBettingClosed):
		return "betting_closed"
	case errors.Is(err, ErrDuplicateInterval):
		return "duplicate_interval"
	default:
		return "other"
	}
}
