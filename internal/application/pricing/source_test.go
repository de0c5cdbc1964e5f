package pricing_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/candlerush/internal/application/pricing"
	"github.com/alejandrodnm/candlerush/internal/domain"
	"github.com/alejandrodnm/candlerush/internal/ports"
)

type fakeQuotes struct {
	name  domain.PriceSource
	price string
	err   error
	calls int
}

func (f *fakeQuotes) Name() domain.PriceSource { return f.name }

func (f *fakeQuotes) CurrentPrice(_ context.Context, symbol string) (domain.Quote, error) {
	f.calls++
	if f.err != nil {
		return domain.Quote{}, f.err
	}
	return domain.Quote{Symbol: symbol, Price: decimal.RequireFromString(f.price), Source: f.name, Real: true}, nil
}

type fakeCandles struct {
	candle domain.Candle
	err    error
	asked  time.Time
}

func (f *fakeCandles) Name() domain.PriceSource { return domain.SourceBinance }

func (f *fakeCandles) Candle(_ context.Context, _ string, _ time.Duration, openTime time.Time) (domain.Candle, error) {
	f.asked = openTime
	if f.err != nil {
		return domain.Candle{}, f.err
	}
	return f.candle, nil
}

var errDown = errors.New("provider down")

func newSource(clock clockwork.Clock, quotes []ports.QuoteProvider, candles []ports.CandleProvider) *pricing.Source {
	cfg := pricing.DefaultConfig()
	cfg.Rand = rand.New(rand.NewPCG(1, 2))
	return pricing.New(cfg, quotes, candles, clock)
}

func TestCurrentPrice_PrimaryFirst(t *testing.T) {
	primary := &fakeQuotes{name: domain.SourceBinance, price: "84000.5"}
	secondary := &fakeQuotes{name: domain.SourceCoinGecko, price: "83990"}
	src := newSource(clockwork.NewFakeClock(), []ports.QuoteProvider{primary, secondary}, nil)

	q := src.CurrentPrice(context.Background(), "BTCUSDT")
	assert.Equal(t, domain.SourceBinance, q.Source)
	assert.True(t, q.Real)
	assert.Equal(t, 0, secondary.calls)
}

func TestCurrentPrice_FallsBackToSecondary(t *testing.T) {
	primary := &fakeQuotes{name: domain.SourceBinance, err: errDown}
	secondary := &fakeQuotes{name: domain.SourceCoinGecko, price: "83990"}
	src := newSource(clockwork.NewFakeClock(), []ports.QuoteProvider{primary, secondary}, nil)

	q := src.CurrentPrice(context.Background(), "BTCUSDT")
	assert.Equal(t, domain.SourceCoinGecko, q.Source)
	assert.Equal(t, "83990", q.Price.String())
	assert.Equal(t, 1, primary.calls, "sin reintentos")
}

func TestCurrentPrice_SyntheticWhenAllFail(t *testing.T) {
	primary := &fakeQuotes{name: domain.SourceBinance, err: errDown}
	secondary := &fakeQuotes{name: domain.SourceCoinGecko, err: errDown}
	src := newSource(clockwork.NewFakeClock(), []ports.QuoteProvider{primary, secondary}, nil)

	q := src.CurrentPrice(context.Background(), "BTCUSDT")
	assert.Equal(t, domain.SourceSynthetic, q.Source)
	assert.False(t, q.Real)
	assert.True(t, q.Price.GreaterThanOrEqual(decimal.NewFromInt(59000)), "price %s", q.Price)
	assert.True(t, q.Price.LessThanOrEqual(decimal.NewFromInt(61000)), "price %s", q.Price)
}

func TestCurrentPrice_SyntheticUsesSymbolBase(t *testing.T) {
	down := &fakeQuotes{name: domain.SourceBinance, err: errDown}
	src := newSource(clockwork.NewFakeClock(), []ports.QuoteProvider{down}, nil)

	for i := 0; i < 20; i++ {
		q := src.CurrentPrice(context.Background(), "doge/usdt")
		require.False(t, q.Real)
		// 0.15 ± 0.15×1000/60000
		assert.True(t, q.Price.GreaterThanOrEqual(decimal.RequireFromString("0.1475")), "price %s", q.Price)
		assert.True(t, q.Price.LessThanOrEqual(decimal.RequireFromString("0.1525")), "price %s", q.Price)
	}
}

func TestCurrentPrice_SyntheticConfiguredBases(t *testing.T) {
	cfg := pricing.DefaultConfig()
	cfg.Rand = rand.New(rand.NewPCG(3, 4))
	cfg.SyntheticBases = map[string]decimal.Decimal{"eth-usdt": decimal.NewFromInt(2000)}
	src := pricing.New(cfg, nil, nil, clockwork.NewFakeClock())

	eth := src.CurrentPrice(context.Background(), "ETHUSDT")
	assert.True(t, eth.Price.Sub(decimal.NewFromInt(2000)).Abs().LessThanOrEqual(decimal.RequireFromString("33.34")),
		"price %s", eth.Price)

	// sin base propia: rango por defecto
	other := src.CurrentPrice(context.Background(), "PEPEUSDT")
	assert.True(t, other.Price.GreaterThanOrEqual(decimal.NewFromInt(59000)), "price %s", other.Price)
	assert.True(t, other.Price.LessThanOrEqual(decimal.NewFromInt(61000)), "price %s", other.Price)
}

func TestCurrentPrice_SyntheticAnchorsOnLastReal(t *testing.T) {
	primary := &fakeQuotes{name: domain.SourceBinance, price: "3000"}
	src := newSource(clockwork.NewFakeClock(), []ports.QuoteProvider{primary}, nil)

	src.CurrentPrice(context.Background(), "ETHUSDT")
	primary.err = errDown

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		q := src.CurrentPrice(context.Background(), "ETHUSDT")
		require.False(t, q.Real)
		assert.True(t, q.Price.Sub(decimal.NewFromInt(3000)).Abs().LessThanOrEqual(decimal.NewFromFloat(1.5)),
			"price %s too far from last real", q.Price)
		seen[q.Price.String()] = true
	}
	assert.Greater(t, len(seen), 1, "cada sorteo debe ser nuevo")
}

func TestIntervalAt_UsesProviderCandle(t *testing.T) {
	open := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	candles := &fakeCandles{candle: domain.Candle{
		OpenTime: open, Open: decimal.NewFromInt(100), Close: decimal.NewFromInt(110),
		Source: domain.SourceBinance, Real: true,
	}}
	src := newSource(clockwork.NewFakeClock(), nil, []ports.CandleProvider{candles})

	c := src.IntervalAt(context.Background(), "BTCUSDT", open.Add(25*time.Second))
	assert.Equal(t, open, candles.asked, "openTime se normaliza al inicio del intervalo")
	assert.Equal(t, "110", c.Close.String())
	assert.True(t, c.Real)
}

func TestIntervalAt_SynthesizesAroundCurrentPrice(t *testing.T) {
	open := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	candles := &fakeCandles{err: errDown}
	quotes := &fakeQuotes{name: domain.SourceCoinGecko, price: "1000"}
	src := newSource(clockwork.NewFakeClock(), []ports.QuoteProvider{quotes}, []ports.CandleProvider{candles})

	c := src.IntervalAt(context.Background(), "BTCUSDT", open)
	assert.Equal(t, open, c.OpenTime)
	assert.Equal(t, "1000", c.Open.String())
	assert.Equal(t, "1000", c.Close.String())
	assert.Equal(t, "1001", c.High.String())
	assert.Equal(t, "999", c.Low.String())
	assert.Equal(t, domain.SourceCoinGecko, c.Source)
	assert.True(t, c.Real)
}

func TestIntervalAt_FullySynthetic(t *testing.T) {
	src := newSource(clockwork.NewFakeClock(), nil, []ports.CandleProvider{&fakeCandles{err: errDown}})

	c := src.IntervalAt(context.Background(), "BTCUSDT", time.Now())
	assert.False(t, c.Real)
	assert.Equal(t, domain.SourceSynthetic, c.Source)
	assert.True(t, c.Close.IsPositive())
}

func TestLatestInterval_AsksForPreviousInterval(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 5, 30, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	candles := &fakeCandles{candle: domain.Candle{Close: decimal.NewFromInt(1), Real: true}}
	src := newSource(clock, nil, []ports.CandleProvider{candles})

	src.LatestInterval(context.Background(), "BTCUSDT")
	assert.Equal(t, time.Date(2025, 3, 1, 12, 4, 0, 0, time.UTC), candles.asked)
}
