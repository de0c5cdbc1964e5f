package ledger

import (
	"log/slog"
	"sync"

	"github.com/alejandrodnm/candlerush/internal/domain"
)

// maxSeenSettled acota el set de ids ya notificados por suscriptor.
const maxSeenSettled = 64

// Subscription recibe los eventos del ledger. Los envíos no bloquean: si el
// buffer está lleno el evento se descarta.
type Subscription struct {
	C <-chan domain.LedgerEvent

	ch     chan domain.LedgerEvent
	ledger *Ledger
	once   sync.Once

	// ids liquidados ya entregados, en orden de llegada
	seen  map[string]struct{}
	order []string
}

// Subscribe registra un suscriptor nuevo con el buffer dado.
func (l *Ledger) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan domain.LedgerEvent, buffer)
	sub := &Subscription{
		C:      ch,
		ch:     ch,
		ledger: l,
		seen:   make(map[string]struct{}),
	}

	l.subMu.Lock()
	l.subs[sub] = struct{}{}
	l.subMu.Unlock()
	return sub
}

// Close da de baja la suscripción y cierra C. Es idempotente.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.ledger.subMu.Lock()
		delete(s.ledger.subs, s)
		close(s.ch)
		s.ledger.subMu.Unlock()
	})
}

// deliver se llama con subMu tomado. Un liquidado solo cuenta como entregado
// si entró en el buffer; si se descarta, una reentrega posterior pasa.
func (s *Subscription) deliver(ev domain.LedgerEvent) {
	settled := ev.Kind == domain.EventSettled && ev.Wager != nil
	if settled {
		if _, dup := s.seen[ev.Wager.ID]; dup {
			return
		}
	}

	select {
	case s.ch <- ev:
	default:
		slog.Warn("ledger subscriber buffer full, event dropped", "type", ev.Kind)
		return
	}

	if settled {
		s.markSeen(ev.Wager.ID)
	}
}

func (s *Subscription) markSeen(id string) {
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > maxSeenSettled {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
}

func (l *Ledger) publish(events []domain.LedgerEvent) {
	if len(events) == 0 {
		return
	}
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ev := range events {
		for sub := range l.subs {
			sub.deliver(ev)
		}
	}
}
