package domain

import "github.com/shopspring/decimal"

// DefaultPayoutRate descuenta un 5% del apalancamiento como comisión de la casa.
var DefaultPayoutRate = decimal.NewFromFloat(0.95)

var hundred = decimal.NewFromInt(100)

// CalculatePnL returns the unrealized profit/loss of a position opened at
// initial and marked at current, plus that amount as a percentage of stake.
//
//	up:   stake × leverage × (current − initial) / initial
//	down: stake × leverage × (initial − current) / initial
//
// With no initial price both values are zero.
func CalculatePnL(initial, current, stake decimal.Decimal, leverage int, dir Direction) (pnl, pct decimal.Decimal) {
	if initial.Sign() <= 0 || current.Sign() <= 0 {
		return decimal.Zero, decimal.Zero
	}
	move := current.Sub(initial)
	if dir == DirectionDown {
		move = move.Neg()
	}
	pnl = stake.Mul(decimal.NewFromInt(int64(leverage))).Mul(move).Div(initial)
	if stake.Sign() > 0 {
		pct = pnl.Div(stake).Mul(hundred)
	}
	return pnl, pct
}

// PotentialProfit is the fixed profit credited on top of the stake when a
// wager is won.
func PotentialProfit(stake decimal.Decimal, leverage int, payoutRate decimal.Decimal) decimal.Decimal {
	return stake.Mul(decimal.NewFromInt(int64(leverage))).Mul(payoutRate).Round(2)
}

// Outcome decides a settled wager purely from its prices. Equal prices lose.
func Outcome(dir Direction, initial, final decimal.Decimal) WagerStatus {
	switch {
	case dir == DirectionUp && final.GreaterThan(initial):
		return StatusWon
	case dir == DirectionDown && final.LessThan(initial):
		return StatusWon
	default:
		return StatusLost
	}
}

// SettledPnL is the frozen PnL of a settled wager: the price-move PnL when
// won, the full stake forfeited when lost.
func SettledPnL(w Wager) (pnl, pct decimal.Decimal) {
	if w.Status == StatusWon {
		return CalculatePnL(w.InitialPrice, w.FinalPrice, w.Stake, w.Leverage, w.Direction)
	}
	return w.Stake.Neg(), hundred.Neg()
}
