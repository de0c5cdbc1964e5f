package ledger

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/candlerush/internal/domain"
)

// state es inmutable por convención: cada transición devuelve una copia nueva
// y nunca modifica el slice de la anterior.
type state struct {
	version uint64
	balance decimal.Decimal
	wagers  []domain.Wager // más recientes primero
}

func (s state) index(id string) int {
	return slices.IndexFunc(s.wagers, func(w domain.Wager) bool { return w.ID == id })
}

// occupies reports whether some wager in the ledger already holds the interval.
func (s state) occupies(key time.Time) bool {
	return slices.ContainsFunc(s.wagers, func(w domain.Wager) bool { return w.IntervalKey.Equal(key) })
}

func (s state) withWagers(wagers []domain.Wager) state {
	s.wagers = wagers
	return s
}

func (s state) prepend(w domain.Wager) state {
	next := make([]domain.Wager, 0, len(s.wagers)+1)
	next = append(next, w)
	next = append(next, s.wagers...)
	return s.withWagers(next)
}

func (s state) replace(i int, w domain.Wager) state {
	next := slices.Clone(s.wagers)
	next[i] = w
	return s.withWagers(next)
}

func (s state) remove(i int) state {
	next := slices.Clone(s.wagers)
	return s.withWagers(slices.Delete(next, i, i+1))
}

func (s state) pendingCount() int {
	n := 0
	for _, w := range s.wagers {
		if w.Pending() {
			n++
		}
	}
	return n
}

func (s state) snapshot(at time.Time) domain.Snapshot {
	return domain.Snapshot{
		Balance:   s.balance,
		Wagers:    slices.Clone(s.wagers),
		UpdatedAt: at,
	}
}
