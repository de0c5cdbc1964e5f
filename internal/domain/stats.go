package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the persisted state of the ledger.
type Snapshot struct {
	Balance   decimal.Decimal `json:"balance"`
	Wagers    []Wager         `json:"wagers"` // más recientes primero
	UpdatedAt time.Time       `json:"updated_at"`
}

// Stats are aggregates derived from the wager history.
type Stats struct {
	Total       int             `json:"total"`
	Pending     int             `json:"pending"`
	Won         int             `json:"won"`
	Lost        int             `json:"lost"`
	WinRate     decimal.Decimal `json:"win_rate"` // % sobre apuestas resueltas
	TotalStaked decimal.Decimal `json:"total_staked"`
	TotalWon    decimal.Decimal `json:"total_won"`  // Σ potential profit de las ganadas
	TotalLost   decimal.Decimal `json:"total_lost"` // Σ stake de las perdidas
	NetProfit   decimal.Decimal `json:"net_profit"`
}

// ComputeStats aggregates a wager collection.
func ComputeStats(wagers []Wager) Stats {
	var s Stats
	for _, w := range wagers {
		s.Total++
		s.TotalStaked = s.TotalStaked.Add(w.Stake)
		switch w.Status {
		case StatusPending:
			s.Pending++
		case StatusWon:
			s.Won++
			s.TotalWon = s.TotalWon.Add(w.PotentialProfit)
		case StatusLost:
			s.Lost++
			s.TotalLost = s.TotalLost.Add(w.Stake)
		}
	}
	if settled := s.Won + s.Lost; settled > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.Won)).
			Div(decimal.NewFromInt(int64(settled))).
			Mul(hundred).Round(2)
	}
	s.NetProfit = s.TotalWon.Sub(s.TotalLost)
	return s
}
