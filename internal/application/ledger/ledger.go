// Package ledger es el registro autoritativo de apuestas y saldo.
//
// Todas las mutaciones pasan por commit: se lee el estado actual, una función
// pura calcula el siguiente y se sustituye entero. El I/O de precios ocurre
// siempre fuera del lock y el resultado se revalida dentro de commit, así que
// una respuesta lenta nunca pisa una apuesta borrada o ya liquidada.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/candlerush/internal/domain"
	"github.com/alejandrodnm/candlerush/internal/metrics"
	"github.com/alejandrodnm/candlerush/internal/ports"
)

// Config son las reglas del juego.
type Config struct {
	InitialBalance decimal.Decimal
	PayoutRate     decimal.Decimal
	MinStake       decimal.Decimal
	MaxStake       decimal.Decimal // cero = sin máximo
	MaxLeverage    int
	Interval       time.Duration
	// BettingWindow: solo se acepta apostar en los primeros N de cada
	// intervalo. Cero = siempre abierto.
	BettingWindow time.Duration
}

// DefaultConfig devuelve las reglas por defecto.
func DefaultConfig() Config {
	return Config{
		InitialBalance: decimal.NewFromInt(1_000_000),
		PayoutRate:     domain.DefaultPayoutRate,
		MinStake:       decimal.NewFromInt(100),
		MaxStake:       decimal.NewFromInt(100_000),
		MaxLeverage:    100,
		Interval:       time.Minute,
		BettingWindow:  10 * time.Second,
	}
}

// PlaceRequest es una petición de apuesta.
type PlaceRequest struct {
	Symbol    string
	Direction domain.Direction
	Stake     decimal.Decimal
	Leverage  int
}

// Ledger guarda saldo y apuestas en memoria; el SnapshotStore es opcional.
type Ledger struct {
	cfg    Config
	prices ports.PriceFeed
	store  ports.SnapshotStore
	clock  clockwork.Clock

	mu       sync.Mutex
	st       state
	reserved map[time.Time]bool // intervalos con una colocación en curso

	subMu sync.Mutex
	subs  map[*Subscription]struct{}

	saveMu       sync.Mutex
	savedVersion uint64
}

// New crea el ledger y, si hay store, carga el último snapshot guardado.
func New(ctx context.Context, cfg Config, prices ports.PriceFeed, store ports.SnapshotStore, clock clockwork.Clock) (*Ledger, error) {
	def := DefaultConfig()
	if cfg.InitialBalance.Sign() <= 0 {
		cfg.InitialBalance = def.InitialBalance
	}
	if cfg.PayoutRate.Sign() <= 0 {
		cfg.PayoutRate = def.PayoutRate
	}
	if cfg.MaxLeverage <= 0 {
		cfg.MaxLeverage = def.MaxLeverage
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	l := &Ledger{
		cfg:      cfg,
		prices:   prices,
		store:    store,
		clock:    clock,
		st:       state{balance: cfg.InitialBalance},
		reserved: make(map[time.Time]bool),
		subs:     make(map[*Subscription]struct{}),
	}

	if store != nil {
		snap, found, err := store.LoadSnapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("ledger.New: load snapshot: %w", err)
		}
		if found {
			l.st = state{balance: snap.Balance, wagers: snap.Wagers}
			slog.Info("ledger restored",
				"balance", snap.Balance.StringFixed(2),
				"wagers", len(snap.Wagers),
				"pending", l.st.pendingCount(),
			)
		}
	}
	l.observe(l.st)
	return l, nil
}

// Config devuelve las reglas activas.
func (l *Ledger) Config() Config { return l.cfg }

// transition calcula el siguiente estado. Si no devuelve eventos se considera
// que no hubo cambios y no se persiste nada.
type transition func(cur state) (state, []domain.LedgerEvent, error)

func (l *Ledger) commit(fn transition) (state, error) {
	l.mu.Lock()
	next, events, err := fn(l.st)
	if err != nil || len(events) == 0 {
		cur := l.st
		l.mu.Unlock()
		return cur, err
	}
	next.version = l.st.version + 1
	l.st = next
	l.publish(events)
	l.mu.Unlock()

	l.observe(next)
	l.persist(next)
	return next, nil
}

// persist guarda el snapshot fuera del lock principal. saveMu + version evitan
// que un guardado lento de un estado viejo pise uno más nuevo.
func (l *Ledger) persist(st state) {
	if l.store == nil {
		return
	}
	l.saveMu.Lock()
	defer l.saveMu.Unlock()
	if st.version <= l.savedVersion {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.SaveSnapshot(ctx, st.snapshot(l.clock.Now().UTC())); err != nil {
		slog.Warn("ledger snapshot not saved", "version", st.version, "err", err)
		return
	}
	l.savedVersion = st.version
}

func (l *Ledger) observe(st state) {
	metrics.Balance.Set(st.balance.InexactFloat64())
	metrics.PendingWagers.Set(float64(st.pendingCount()))
}

func (l *Ledger) event(kind domain.EventKind, balance decimal.Decimal, w *domain.Wager) domain.LedgerEvent {
	return domain.LedgerEvent{Kind: kind, Balance: balance, Wager: w, At: l.clock.Now().UTC()}
}

// --- colocación ---

// PlaceWager valida la petición, fija el precio de referencia (apertura de la
// vela actual, con los fallbacks de la fuente de precios) y debita el stake.
func (l *Ledger) PlaceWager(ctx context.Context, req PlaceRequest) (domain.Wager, error) {
	w, err := l.placeWager(ctx, req)
	if err != nil {
		metrics.PlacementRejections.WithLabelValues(rejectionReason(err)).Inc()
		return domain.Wager{}, fmt.Errorf("ledger.PlaceWager: %w", err)
	}
	metrics.WagersPlaced.WithLabelValues(string(w.Direction)).Inc()
	slog.Info("wager placed",
		"wager", w.ID,
		"symbol", w.Symbol,
		"direction", w.Direction,
		"amount", w.Stake.StringFixed(2),
		"leverage", w.Leverage,
		"initial_price", domain.FormatPrice(w.InitialPrice),
		"source", w.InitialPriceSource,
	)
	return w, nil
}

func (l *Ledger) placeWager(ctx context.Context, req PlaceRequest) (domain.Wager, error) {
	if err := l.validate(req); err != nil {
		return domain.Wager{}, err
	}
	symbol := domain.NormalizeSymbol(req.Symbol)

	now := l.clock.Now().UTC()
	key := domain.IntervalKey(now, l.cfg.Interval)
	if l.cfg.BettingWindow > 0 && now.Sub(key) >= l.cfg.BettingWindow {
		return domain.Wager{}, ErrBettingClosed
	}

	if err := l.reserve(key, req.Stake); err != nil {
		return domain.Wager{}, err
	}
	defer l.release(key)

	price, source := l.referencePrice(ctx, symbol, key)
	if err := ctx.Err(); err != nil {
		return domain.Wager{}, err
	}

	w := domain.Wager{
		ID:                 domain.NewWagerID(now),
		Symbol:             symbol,
		Direction:          req.Direction,
		Stake:              req.Stake,
		Leverage:           req.Leverage,
		PlacedAt:           now,
		IntervalKey:        key,
		InitialPrice:       price,
		InitialPriceSource: source,
		Status:             domain.StatusPending,
		PotentialProfit:    domain.PotentialProfit(req.Stake, req.Leverage, l.cfg.PayoutRate),
		CurrentPnL:         decimal.Zero,
		CurrentPnLPercent:  decimal.Zero,
		LastUpdatedPrice:   price,
	}

	_, err := l.commit(func(cur state) (state, []domain.LedgerEvent, error) {
		if cur.occupies(key) {
			return cur, nil, ErrDuplicateInterval
		}
		if cur.balance.LessThan(w.Stake) {
			return cur, nil, ErrInsufficientBalance
		}
		next := cur.prepend(w)
		next.balance = cur.balance.Sub(w.Stake)
		return next, []domain.LedgerEvent{l.event(domain.EventChanged, next.balance, nil)}, nil
	})
	if err != nil {
		return domain.Wager{}, err
	}
	return w, nil
}

func (l *Ledger) validate(req PlaceRequest) error {
	if !req.Direction.Valid() {
		return ErrInvalidDirection
	}
	if req.Stake.Sign() <= 0 || req.Stake.LessThan(l.cfg.MinStake) {
		return fmt.Errorf("%w: %s below minimum %s", ErrInvalidStake, req.Stake, l.cfg.MinStake)
	}
	if l.cfg.MaxStake.Sign() > 0 && req.Stake.GreaterThan(l.cfg.MaxStake) {
		return fmt.Errorf("%w: %s above maximum %s", ErrInvalidStake, req.Stake, l.cfg.MaxStake)
	}
	if req.Leverage < 1 || req.Leverage > l.cfg.MaxLeverage {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidLeverage, req.Leverage, l.cfg.MaxLeverage)
	}
	return nil
}

// reserve bloquea el intervalo mientras se obtiene el precio, así dos
// colocaciones simultáneas no pueden ocupar la misma vela.
func (l *Ledger) reserve(key time.Time, stake decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserved[key] || l.st.occupies(key) {
		return ErrDuplicateInterval
	}
	if l.st.balance.LessThan(stake) {
		return ErrInsufficientBalance
	}
	l.reserved[key] = true
	return nil
}

func (l *Ledger) release(key time.Time) {
	l.mu.Lock()
	delete(l.reserved, key)
	l.mu.Unlock()
}

// referencePrice: apertura de la vela del intervalo; si no es positiva, el
// precio actual. La fuente de precios nunca deja sin valor.
func (l *Ledger) referencePrice(ctx context.Context, symbol string, key time.Time) (decimal.Decimal, domain.PriceSource) {
	if l.prices == nil {
		return decimal.Zero, domain.SourceSynthetic
	}
	c := l.prices.IntervalAt(ctx, symbol, key)
	if c.Open.IsPositive() {
		return domain.RoundPrice(c.Open), c.Source
	}
	q := l.prices.CurrentPrice(ctx, symbol)
	return domain.RoundPrice(q.Price), q.Source
}

// --- borrado ---

// DeleteWager elimina la apuesta. Si seguía pendiente devuelve el stake.
func (l *Ledger) DeleteWager(id string) (domain.Wager, error) {
	var removed domain.Wager
	_, err := l.commit(func(cur state) (state, []domain.LedgerEvent, error) {
		i := cur.index(id)
		if i < 0 {
			return cur, nil, ErrWagerNotFound
		}
		removed = cur.wagers[i]
		next := cur.remove(i)
		if removed.Pending() {
			next.balance = cur.balance.Add(removed.Stake)
		}
		return next, []domain.LedgerEvent{l.event(domain.EventChanged, next.balance, nil)}, nil
	})
	if err != nil {
		return domain.Wager{}, fmt.Errorf("ledger.DeleteWager: %s: %w", id, err)
	}

	metrics.WagersDeleted.WithLabelValues(string(removed.Status)).Inc()
	slog.Info("wager deleted", "wager", id, "status", removed.Status, "refunded", removed.Pending())
	return removed, nil
}

// --- liquidación ---

// ResolveWager liquida una apuesta pendiente. El resultado se calcula siempre
// a partir de los precios; hintWon solo se compara y se loguea.
//
// Llamarla sobre una apuesta inexistente o ya liquidada devuelve
// ErrWagerNotFound / ErrAlreadySettled sin tocar el saldo, aunque haya
// llamadas concurrentes para el mismo id.
func (l *Ledger) ResolveWager(ctx context.Context, id string, hintWon *bool) (domain.Wager, error) {
	w, ok := l.Wager(id)
	if !ok {
		return domain.Wager{}, fmt.Errorf("ledger.ResolveWager: %s: %w", id, ErrWagerNotFound)
	}
	if !w.Pending() {
		return w, fmt.Errorf("ledger.ResolveWager: %s: %w", id, ErrAlreadySettled)
	}

	final, source := l.closingPrice(ctx, w)
	// con ctx cancelado los proveedores fallan todos y el cierre sería
	// sintético; la apuesta sigue pendiente para el siguiente intento
	if err := ctx.Err(); err != nil {
		return w, fmt.Errorf("ledger.ResolveWager: %s: %w", id, err)
	}
	now := l.clock.Now().UTC()

	var settled domain.Wager
	_, err := l.commit(func(cur state) (state, []domain.LedgerEvent, error) {
		i := cur.index(id)
		if i < 0 {
			return cur, nil, ErrWagerNotFound
		}
		settled = cur.wagers[i]
		if !settled.Pending() {
			return cur, nil, ErrAlreadySettled
		}

		settled.FinalPrice = final
		settled.FinalPriceSource = source
		settled.Status = domain.Outcome(settled.Direction, settled.InitialPrice, final)
		settled.CurrentPnL, settled.CurrentPnLPercent = domain.SettledPnL(settled)
		settled.SettledAt = &now
		settled.Authoritative = settled.InitialPriceSource.Real() && source.Real()

		next := cur.replace(i, settled)
		if settled.Won() {
			next.balance = cur.balance.Add(settled.Payout())
		}
		ev := settled
		return next, []domain.LedgerEvent{
			l.event(domain.EventChanged, next.balance, nil),
			l.event(domain.EventSettled, next.balance, &ev),
		}, nil
	})
	if err != nil {
		cur, _ := l.Wager(id)
		return cur, fmt.Errorf("ledger.ResolveWager: %s: %w", id, err)
	}

	if hintWon != nil && *hintWon != settled.Won() {
		slog.Debug("resolution hint disagrees with prices",
			"wager", id, "hint_won", *hintWon, "won", settled.Won())
	}

	metrics.WagersSettled.WithLabelValues(string(settled.Status), strconv.FormatBool(settled.Authoritative)).Inc()
	metrics.SettlementDelay.Observe(now.Sub(settled.IntervalKey.Add(l.cfg.Interval)).Seconds())
	slog.Info("wager settled",
		"wager", id,
		"direction", settled.Direction,
		"status", settled.Status,
		"initial_price", domain.FormatPrice(settled.InitialPrice),
		"final_price", domain.FormatPrice(settled.FinalPrice),
		"source", source,
		"pnl", settled.CurrentPnL.StringFixed(2),
		"authoritative", settled.Authoritative,
	)
	return settled, nil
}

// closingPrice: cierre de la vela del intervalo si es real; si la fuente solo
// pudo sintetizar, el último precio de marca; luego el cierre sintético; y en
// último caso el precio inicial.
func (l *Ledger) closingPrice(ctx context.Context, w domain.Wager) (decimal.Decimal, domain.PriceSource) {
	var c domain.Candle
	if l.prices != nil {
		c = l.prices.IntervalAt(ctx, w.Symbol, w.IntervalKey)
	}
	switch {
	case c.Real && c.Close.IsPositive():
		return domain.RoundPrice(c.Close), c.Source
	case w.LastUpdatedPrice.IsPositive() && w.LastUpdatedAt != nil:
		return domain.RoundPrice(w.LastUpdatedPrice), domain.SourceLastMark
	case c.Close.IsPositive():
		return domain.RoundPrice(c.Close), c.Source
	default:
		return domain.RoundPrice(w.InitialPrice), domain.SourceInitial
	}
}

// --- PnL en vivo ---

// UpdateLivePnL marca a mercado las apuestas pendientes del símbolo (todas si
// symbol está vacío). No toca el saldo. Devuelve cuántas actualizó.
func (l *Ledger) UpdateLivePnL(symbol string, price decimal.Decimal) int {
	if !price.IsPositive() {
		return 0
	}
	symbol = domain.NormalizeSymbol(symbol)
	price = domain.RoundPrice(price)
	now := l.clock.Now().UTC()

	updated := 0
	l.commit(func(cur state) (state, []domain.LedgerEvent, error) {
		updated = 0
		var next []domain.Wager
		for i, w := range cur.wagers {
			if !w.Pending() || (symbol != "" && w.Symbol != symbol) {
				continue
			}
			if next == nil {
				next = make([]domain.Wager, len(cur.wagers))
				copy(next, cur.wagers)
			}
			w.CurrentPnL, w.CurrentPnLPercent = domain.CalculatePnL(w.InitialPrice, price, w.Stake, w.Leverage, w.Direction)
			w.LastUpdatedPrice = price
			w.LastUpdatedAt = &now
			next[i] = w
			updated++
		}
		if updated == 0 {
			return cur, nil, nil
		}
		return cur.withWagers(next), []domain.LedgerEvent{l.event(domain.EventChanged, cur.balance, nil)}, nil
	})
	return updated
}

// --- administración ---

// ResetBalance vuelve el saldo al valor inicial. Las apuestas no se tocan.
func (l *Ledger) ResetBalance() decimal.Decimal {
	st, _ := l.commit(func(cur state) (state, []domain.LedgerEvent, error) {
		next := cur
		next.balance = l.cfg.InitialBalance
		return next, []domain.LedgerEvent{l.event(domain.EventChanged, next.balance, nil)}, nil
	})
	slog.Info("balance reset", "balance", st.balance.StringFixed(2))
	return st.balance
}

// ClearHistory borra todas las apuestas, devolviendo antes el stake de las
// pendientes. Devuelve cuántas se borraron.
func (l *Ledger) ClearHistory() int {
	removed := 0
	st, _ := l.commit(func(cur state) (state, []domain.LedgerEvent, error) {
		removed = len(cur.wagers)
		if removed == 0 {
			return cur, nil, nil
		}
		next := cur.withWagers(nil)
		for _, w := range cur.wagers {
			if w.Pending() {
				next.balance = next.balance.Add(w.Stake)
			}
		}
		return next, []domain.LedgerEvent{l.event(domain.EventChanged, next.balance, nil)}, nil
	})
	slog.Info("history cleared", "removed", removed, "balance", st.balance.StringFixed(2))
	return removed
}

// --- consultas ---

func (l *Ledger) current() state {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st
}

// Balance devuelve el saldo actual.
func (l *Ledger) Balance() decimal.Decimal { return l.current().balance }

// Wagers devuelve una copia de todas las apuestas, más recientes primero.
func (l *Ledger) Wagers() []domain.Wager {
	return l.current().snapshot(time.Time{}).Wagers
}

// Wager busca una apuesta por id.
func (l *Ledger) Wager(id string) (domain.Wager, bool) {
	st := l.current()
	if i := st.index(id); i >= 0 {
		return st.wagers[i], true
	}
	return domain.Wager{}, false
}

// Pending devuelve las apuestas pendientes.
func (l *Ledger) Pending() []domain.Wager {
	st := l.current()
	out := make([]domain.Wager, 0, st.pendingCount())
	for _, w := range st.wagers {
		if w.Pending() {
			out = append(out, w)
		}
	}
	return out
}

// Stats calcula los agregados del historial.
func (l *Ledger) Stats() domain.Stats {
	return domain.ComputeStats(l.current().wagers)
}

// Snapshot devuelve saldo y apuestas en un único punto consistente.
func (l *Ledger) Snapshot() domain.Snapshot {
	return l.current().snapshot(l.clock.Now().UTC())
}
