// Package resolver es el proceso de fondo que mantiene el PnL en vivo y
// liquida las apuestas cuando su vela cierra.
//
// Cada Tick:
//  1. cada PnLEvery refresca el PnL de las pendientes con un precio nuevo;
//  2. entre WindowStart y WindowEnd tras el inicio de cada intervalo, liquida
//     las apuestas de intervalos anteriores (el segundo 0 se salta para que
//     el proveedor tenga ya la vela cerrada);
//  3. fuerza la liquidación de cualquier pendiente con más de MaxAge;
//  4. cada PruneEvery poda el set de intervalos procesados.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/candlerush/internal/application/ledger"
	"github.com/alejandrodnm/candlerush/internal/domain"
	"github.com/alejandrodnm/candlerush/internal/metrics"
	"github.com/alejandrodnm/candlerush/internal/ports"
)

// resolveTimeout acota cada liquidación; va desligado del ctx del loop para
// que un Stop no convierta en sintéticos los precios de una liquidación en curso.
const resolveTimeout = 10 * time.Second

// WagerBook es lo que el resolver necesita del ledger.
type WagerBook interface {
	Pending() []domain.Wager
	ResolveWager(ctx context.Context, id string, hintWon *bool) (domain.Wager, error)
	UpdateLivePnL(symbol string, price decimal.Decimal) int
}

// Config controla las cadencias del resolver.
type Config struct {
	Tick        time.Duration
	PnLEvery    time.Duration
	WindowStart time.Duration
	WindowEnd   time.Duration
	MaxAge      time.Duration
	PruneEvery  time.Duration
	Interval    time.Duration
}

// DefaultConfig: tick de 100ms, PnL cada 3s, ventana 1–5s, backstop 120s.
func DefaultConfig() Config {
	return Config{
		Tick:        100 * time.Millisecond,
		PnLEvery:    3 * time.Second,
		WindowStart: time.Second,
		WindowEnd:   5 * time.Second,
		MaxAge:      120 * time.Second,
		PruneEvery:  5 * time.Minute,
		Interval:    time.Minute,
	}
}

// Resolver liquida apuestas en segundo plano.
type Resolver struct {
	cfg    Config
	book   WagerBook
	prices ports.PriceFeed
	clock  clockwork.Clock

	mu        sync.Mutex
	processed map[time.Time]bool // intervalos ya disparados
	inflight  map[string]bool    // ids con liquidación en curso
	pnlBusy   map[string]bool    // símbolos con refresco de PnL en curso
	lastPnL   time.Time
	lastPrune time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// New crea un Resolver. Los campos de cfg a cero toman el valor por defecto.
func New(book WagerBook, prices ports.PriceFeed, clock clockwork.Clock, cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.PnLEvery <= 0 {
		cfg.PnLEvery = def.PnLEvery
	}
	if cfg.WindowEnd <= 0 {
		cfg.WindowStart, cfg.WindowEnd = def.WindowStart, def.WindowEnd
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.PruneEvery <= 0 {
		cfg.PruneEvery = def.PruneEvery
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Resolver{
		cfg:       cfg,
		book:      book,
		prices:    prices,
		clock:     clock,
		processed: make(map[time.Time]bool),
		inflight:  make(map[string]bool),
		pnlBusy:   make(map[string]bool),
	}
}

// Start lanza el loop. Llamar a Stop para pararlo.
func (r *Resolver) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
	slog.Info("resolver started",
		"tick", r.cfg.Tick,
		"pnl_every", r.cfg.PnLEvery,
		"window", [2]time.Duration{r.cfg.WindowStart, r.cfg.WindowEnd},
		"max_age", r.cfg.MaxAge,
	)
}

// Stop detiene el loop y espera a las liquidaciones en curso.
func (r *Resolver) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.wg.Wait()
	slog.Info("resolver stopped")
}

func (r *Resolver) loop(ctx context.Context) {
	defer close(r.done)
	ticker := r.clock.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.tick(ctx, r.clock.Now().UTC())
		}
	}
}

func (r *Resolver) tick(ctx context.Context, now time.Time) {
	pending := r.book.Pending()

	if now.Sub(r.lastPnL) >= r.cfg.PnLEvery {
		r.lastPnL = now
		r.refreshPnL(ctx, pending)
	}

	current := domain.IntervalKey(now, r.cfg.Interval)
	if offset := now.Sub(current); offset >= r.cfg.WindowStart && offset <= r.cfg.WindowEnd {
		r.resolveElapsed(pending, current)
	}

	for _, w := range pending {
		if w.Age(now) > r.cfg.MaxAge {
			if r.resolveAsync(w, "max_age") {
				metrics.ForcedResolutions.Inc()
				slog.Warn("forcing resolution of stale wager", "wager", w.ID, "age", w.Age(now).Round(time.Second))
			}
		}
	}

	if now.Sub(r.lastPrune) >= r.cfg.PruneEvery {
		r.lastPrune = now
		r.prune(current)
	}
}

// resolveElapsed marca como procesados los intervalos cerrados y después
// lanza sus liquidaciones, así el siguiente tick no los vuelve a disparar.
func (r *Resolver) resolveElapsed(pending []domain.Wager, current time.Time) {
	var due []domain.Wager
	r.mu.Lock()
	fresh := make(map[time.Time]bool)
	for _, w := range pending {
		if !w.IntervalKey.Before(current) {
			continue
		}
		if r.processed[w.IntervalKey] && !fresh[w.IntervalKey] {
			continue
		}
		fresh[w.IntervalKey] = true
		due = append(due, w)
	}
	for k := range fresh {
		r.processed[k] = true
	}
	r.mu.Unlock()

	for _, w := range due {
		r.resolveAsync(w, "interval_closed")
	}
}

// resolveAsync devuelve false si ya había una liquidación en curso para el id.
func (r *Resolver) resolveAsync(w domain.Wager, reason string) bool {
	r.mu.Lock()
	if r.inflight[w.ID] {
		r.mu.Unlock()
		return false
	}
	r.inflight[w.ID] = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.inflight, w.ID)
			r.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
		defer cancel()

		_, err := r.book.ResolveWager(ctx, w.ID, nil)
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrWagerNotFound), errors.Is(err, ledger.ErrAlreadySettled):
			slog.Debug("resolution skipped", "wager", w.ID, "reason", reason, "err", err)
		default:
			slog.Warn("resolution failed", "wager", w.ID, "reason", reason, "err", err)
		}
	}()
	return true
}

// refreshPnL pide un precio por símbolo con pendientes; como mucho un fetch
// en curso por símbolo.
func (r *Resolver) refreshPnL(ctx context.Context, pending []domain.Wager) {
	symbols := make(map[string]bool)
	for _, w := range pending {
		symbols[w.Symbol] = true
	}

	for symbol := range symbols {
		r.mu.Lock()
		if r.pnlBusy[symbol] {
			r.mu.Unlock()
			continue
		}
		r.pnlBusy[symbol] = true
		r.mu.Unlock()

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer func() {
				r.mu.Lock()
				delete(r.pnlBusy, symbol)
				r.mu.Unlock()
			}()

			q := r.prices.CurrentPrice(ctx, symbol)
			if ctx.Err() != nil {
				return
			}
			n := r.book.UpdateLivePnL(symbol, q.Price)
			slog.Debug("live pnl refreshed", "symbol", symbol, "price", q.Price.StringFixed(2), "source", q.Source, "wagers", n)
		}()
	}
}

func (r *Resolver) prune(current time.Time) {
	cutoff := current.Add(-r.cfg.PruneEvery)
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.processed {
		if k.Before(cutoff) {
			delete(r.processed, k)
		}
	}
}
