// Package pricing encadena los proveedores de precio externos con un
// fallback sintético. Nunca devuelve error: si ningún proveedor responde, el
// resultado se marca Real=false y Source=synthetic.
package pricing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/candlerush/internal/domain"
	"github.com/alejandrodnm/candlerush/internal/metrics"
	"github.com/alejandrodnm/candlerush/internal/ports"
)

// Config controla el intervalo de vela y el precio sintético.
type Config struct {
	Interval time.Duration

	// Sin precio real previo: uniforme en SyntheticBase ± SyntheticSpread.
	SyntheticBase   decimal.Decimal
	SyntheticSpread decimal.Decimal
	// Bases por símbolo; el spread escala en la misma proporción que
	// SyntheticSpread/SyntheticBase. Los símbolos ausentes usan SyntheticBase.
	SyntheticBases map[string]decimal.Decimal
	// Con precio real previo: uniforme en last ± last×JitterRate.
	JitterRate decimal.Decimal

	// Rand es opcional; los tests lo fijan para resultados deterministas.
	Rand *rand.Rand
}

// DefaultConfig devuelve la configuración por defecto (velas de 1m, 60000 ± 1000).
func DefaultConfig() Config {
	return Config{
		Interval:        time.Minute,
		SyntheticBase:   decimal.NewFromInt(60000),
		SyntheticSpread: decimal.NewFromInt(1000),
		JitterRate:      decimal.NewFromFloat(0.0005),
		SyntheticBases:  DefaultSyntheticBases(),
	}
}

// DefaultSyntheticBases son precios de referencia aproximados para los pares
// con id de CoinGecko.
func DefaultSyntheticBases() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"BTCUSDT":  decimal.NewFromInt(60000),
		"ETHUSDT":  decimal.NewFromInt(3000),
		"SOLUSDT":  decimal.NewFromInt(150),
		"BNBUSDT":  decimal.NewFromInt(600),
		"XRPUSDT":  decimal.RequireFromString("0.5"),
		"DOGEUSDT": decimal.RequireFromString("0.15"),
	}
}

// candleBand es el ancho de high/low de una vela sintetizada (±0.1%).
var candleBand = decimal.NewFromFloat(0.001)

// Source resuelve precios y velas siguiendo un orden fijo de proveedores.
type Source struct {
	cfg     Config
	quotes  []ports.QuoteProvider
	candles []ports.CandleProvider
	clock   clockwork.Clock

	mu       sync.Mutex
	rng      *rand.Rand
	lastReal map[string]decimal.Decimal // símbolo → último precio real visto
}

// New crea un Source. quotes y candles se consultan en el orden dado.
func New(cfg Config, quotes []ports.QuoteProvider, candles []ports.CandleProvider, clock clockwork.Clock) *Source {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.SyntheticBase.Sign() <= 0 {
		cfg.SyntheticBase = def.SyntheticBase
	}
	if cfg.SyntheticSpread.Sign() < 0 {
		cfg.SyntheticSpread = def.SyntheticSpread
	}
	if cfg.JitterRate.Sign() <= 0 {
		cfg.JitterRate = def.JitterRate
	}
	if cfg.SyntheticBases == nil {
		cfg.SyntheticBases = def.SyntheticBases
	}
	bases := make(map[string]decimal.Decimal, len(cfg.SyntheticBases))
	for sym, b := range cfg.SyntheticBases {
		if b.IsPositive() {
			bases[domain.NormalizeSymbol(sym)] = b
		}
	}
	cfg.SyntheticBases = bases
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Source{
		cfg:      cfg,
		quotes:   quotes,
		candles:  candles,
		clock:    clock,
		rng:      rng,
		lastReal: make(map[string]decimal.Decimal),
	}
}

// Interval devuelve la duración de vela configurada.
func (s *Source) Interval() time.Duration { return s.cfg.Interval }

// CurrentPrice consulta los proveedores en orden y cae a un precio sintético.
func (s *Source) CurrentPrice(ctx context.Context, symbol string) domain.Quote {
	symbol = domain.NormalizeSymbol(symbol)

	for i, p := range s.quotes {
		start := time.Now()
		q, err := p.CurrentPrice(ctx, symbol)
		metrics.ObservePriceFetch(string(p.Name()), "quote", start)
		if err == nil {
			s.rememberReal(symbol, q.Price)
			return q
		}
		next := domain.SourceSynthetic
		if i+1 < len(s.quotes) {
			next = s.quotes[i+1].Name()
		}
		slog.Warn("price provider failed, falling back",
			"provider", p.Name(), "next", next, "symbol", symbol, "err", err)
		metrics.PriceFallbacks.WithLabelValues("quote", string(next)).Inc()
	}

	if len(s.quotes) == 0 {
		metrics.PriceFallbacks.WithLabelValues("quote", string(domain.SourceSynthetic)).Inc()
	}
	return domain.Quote{
		Symbol: symbol,
		Price:  s.syntheticPrice(symbol),
		Source: domain.SourceSynthetic,
		Real:   false,
		At:     s.clock.Now().UTC(),
	}
}

// IntervalAt devuelve la vela del intervalo que abre en openTime. Si ningún
// proveedor de velas la tiene, la sintetiza alrededor de CurrentPrice.
func (s *Source) IntervalAt(ctx context.Context, symbol string, openTime time.Time) domain.Candle {
	symbol = domain.NormalizeSymbol(symbol)
	openTime = domain.IntervalKey(openTime, s.cfg.Interval)

	for _, p := range s.candles {
		start := time.Now()
		c, err := p.Candle(ctx, symbol, s.cfg.Interval, openTime)
		metrics.ObservePriceFetch(string(p.Name()), "candle", start)
		if err == nil {
			s.rememberReal(symbol, c.Close)
			return c
		}
		slog.Warn("candle provider failed, falling back",
			"provider", p.Name(), "symbol", symbol, "open_time", openTime, "err", err)
	}

	q := s.CurrentPrice(ctx, symbol)
	metrics.PriceFallbacks.WithLabelValues("candle", string(q.Source)).Inc()
	return s.synthesizeCandle(symbol, openTime, q)
}

// LatestInterval devuelve la última vela completada.
func (s *Source) LatestInterval(ctx context.Context, symbol string) domain.Candle {
	current := domain.IntervalKey(s.clock.Now(), s.cfg.Interval)
	return s.IntervalAt(ctx, symbol, current.Add(-s.cfg.Interval))
}

func (s *Source) synthesizeCandle(symbol string, openTime time.Time, q domain.Quote) domain.Candle {
	band := q.Price.Mul(candleBand)
	return domain.Candle{
		Symbol:    symbol,
		OpenTime:  openTime,
		CloseTime: openTime.Add(s.cfg.Interval - time.Millisecond),
		Open:      q.Price,
		High:      domain.RoundPrice(q.Price.Add(band)),
		Low:       domain.RoundPrice(q.Price.Sub(band)),
		Close:     q.Price,
		Volume:    decimal.NewFromInt(1),
		Source:    q.Source,
		Real:      q.Real,
	}
}

func (s *Source) rememberReal(symbol string, price decimal.Decimal) {
	if price.Sign() <= 0 {
		return
	}
	s.mu.Lock()
	s.lastReal[symbol] = price
	s.mu.Unlock()
}

// syntheticPrice sortea un precio nuevo en cada llamada; nunca repite el último real.
func (s *Source) syntheticPrice(symbol string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, spread := s.syntheticRange(symbol)
	if last, ok := s.lastReal[symbol]; ok {
		base, spread = last, last.Mul(s.cfg.JitterRate)
	}
	// u ∈ [-1, 1)
	u := decimal.NewFromFloat(s.rng.Float64()*2 - 1)
	p := domain.RoundPrice(base.Add(spread.Mul(u)))
	if p.Sign() <= 0 {
		p = domain.RoundPrice(base)
	}
	return p
}

// syntheticRange devuelve base y spread para un símbolo sin precio real visto.
func (s *Source) syntheticRange(symbol string) (base, spread decimal.Decimal) {
	b, ok := s.cfg.SyntheticBases[symbol]
	if !ok {
		return s.cfg.SyntheticBase, s.cfg.SyntheticSpread
	}
	return b, b.Mul(s.cfg.SyntheticSpread).Div(s.cfg.SyntheticBase)
}
