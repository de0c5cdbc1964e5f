package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/candlerush/internal/domain"
)

// Notifier avisa al usuario de cada apuesta liquidada.
type Notifier interface {
	// NotifySettlement se llama una vez por apuesta liquidada, con el saldo
	// resultante.
	NotifySettlement(ctx context.Context, w domain.Wager, balance decimal.Decimal) error
}
