package ledger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/candlerush/internal/domain"
)

func newTestSubscription(buffer int) *Subscription {
	ch := make(chan domain.LedgerEvent, buffer)
	return &Subscription{C: ch, ch: ch, seen: make(map[string]struct{})}
}

func settledEvent(id string) domain.LedgerEvent {
	return domain.LedgerEvent{Kind: domain.EventSettled, Wager: &domain.Wager{ID: id, Status: domain.StatusWon}}
}

func TestDeliver_SettledDroppedOnFullBufferIsRedelivered(t *testing.T) {
	sub := newTestSubscription(1)

	sub.deliver(domain.LedgerEvent{Kind: domain.EventChanged})
	sub.deliver(settledEvent("w1")) // buffer lleno: se descarta
	assert.NotContains(t, sub.seen, "w1")

	require.Equal(t, domain.EventChanged, (<-sub.C).Kind)

	sub.deliver(settledEvent("w1"))
	require.Len(t, sub.C, 1)
	ev := <-sub.C
	assert.Equal(t, domain.EventSettled, ev.Kind)
	assert.Equal(t, "w1", ev.Wager.ID)
}

func TestDeliver_SettledAtMostOnce(t *testing.T) {
	sub := newTestSubscription(4)

	sub.deliver(settledEvent("w1"))
	sub.deliver(settledEvent("w1"))
	assert.Len(t, sub.C, 1)
}

func TestDeliver_SeenSetIsBounded(t *testing.T) {
	sub := newTestSubscription(maxSeenSettled + 10)

	for i := 0; i < maxSeenSettled+5; i++ {
		sub.deliver(settledEvent(fmt.Sprintf("w%d", i)))
	}
	assert.Len(t, sub.seen, maxSeenSettled)
	assert.Len(t, sub.order, maxSeenSettled)
}
