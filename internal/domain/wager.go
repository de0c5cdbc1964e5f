package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the side of a wager: the next candle closes above (up) or
// below (down) its open.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// ParseDirection accepts "up"/"down" in any case.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown direction %q", s)
	}
	return d, nil
}

// WagerStatus is monotonic: pending → won | lost.
type WagerStatus string

const (
	StatusPending WagerStatus = "pending"
	StatusWon     WagerStatus = "won"
	StatusLost    WagerStatus = "lost"
)

// Terminal reports whether the status can no longer change.
func (s WagerStatus) Terminal() bool {
	return s == StatusWon || s == StatusLost
}

// Wager is a single up/down bet on one interval of a symbol.
type Wager struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Direction   Direction       `json:"direction"`
	Stake       decimal.Decimal `json:"amount"`
	Leverage    int             `json:"leverage"`
	PlacedAt    time.Time       `json:"placed_at"`
	IntervalKey time.Time       `json:"interval_key"` // apertura de la vela apostada

	InitialPrice       decimal.Decimal `json:"initial_price"`
	InitialPriceSource PriceSource     `json:"initial_price_source"`
	FinalPrice         decimal.Decimal `json:"final_price"`
	FinalPriceSource   PriceSource     `json:"final_price_source,omitempty"`

	Status            WagerStatus     `json:"status"`
	PotentialProfit   decimal.Decimal `json:"potential_profit"`
	CurrentPnL        decimal.Decimal `json:"current_pnl"`
	CurrentPnLPercent decimal.Decimal `json:"current_pnl_percent"`
	LastUpdatedPrice  decimal.Decimal `json:"last_updated_price"`
	LastUpdatedAt     *time.Time      `json:"last_updated_at,omitempty"`
	SettledAt         *time.Time      `json:"settled_at,omitempty"`

	// Authoritative es false si algún precio usado vino de una fuente sintética.
	Authoritative bool `json:"authoritative"`
}

// Pending reports whether the wager still awaits settlement.
func (w Wager) Pending() bool { return w.Status == StatusPending }

// Won reports whether the wager settled in favour of the user.
func (w Wager) Won() bool { return w.Status == StatusWon }

// Age returns how long ago the wager was placed relative to now.
func (w Wager) Age(now time.Time) time.Duration {
	return now.Sub(w.PlacedAt)
}

// Payout is what the ledger credits back when the wager is won.
func (w Wager) Payout() decimal.Decimal {
	return w.Stake.Add(w.PotentialProfit)
}

// NewWagerID builds an id from the placement time plus a random suffix so
// two wagers placed in the same millisecond never collide.
func NewWagerID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}

// IntervalKey floors t to the interval boundary (UTC).
func IntervalKey(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		interval = time.Minute
	}
	return t.UTC().Truncate(interval)
}

// PricePlaces es la precisión con la que se guardan precios: la de los
// tickers de Binance, suficiente para pares por debajo del dólar.
const PricePlaces = 8

// RoundPrice rounds a recorded price to PricePlaces decimals.
func RoundPrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(PricePlaces)
}

// FormatPrice muestra al menos dos decimales sin perder los significativos.
func FormatPrice(p decimal.Decimal) string {
	if p.Exponent() >= -2 {
		return p.StringFixed(2)
	}
	return p.String()
}
