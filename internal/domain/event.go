package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind distingue refrescos genéricos de liquidaciones.
type EventKind string

const (
	// EventChanged: se añadió, borró o actualizó alguna apuesta o el saldo.
	EventChanged EventKind = "changed"
	// EventSettled: una apuesta acaba de liquidarse. Se emite una sola vez por id.
	EventSettled EventKind = "settled"
)

// LedgerEvent is pushed to ledger subscribers after each committed mutation.
type LedgerEvent struct {
	Kind    EventKind       `json:"type"`
	Balance decimal.Decimal `json:"balance"`
	Wager   *Wager          `json:"wager,omitempty"`
	At      time.Time       `json:"at"`
}
