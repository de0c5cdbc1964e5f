package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/candlerush/internal/domain"
)

// QuoteProvider devuelve el precio spot actual de un símbolo.
type QuoteProvider interface {
	// Name identifica el proveedor en logs y métricas.
	Name() domain.PriceSource
	CurrentPrice(ctx context.Context, symbol string) (domain.Quote, error)
}

// CandleProvider devuelve velas OHLC de un símbolo.
type CandleProvider interface {
	Name() domain.PriceSource
	// Candle devuelve la vela del intervalo que abre en openTime.
	Candle(ctx context.Context, symbol string, interval time.Duration, openTime time.Time) (domain.Candle, error)
}

// CandleLister lista las últimas velas para alimentar el gráfico.
type CandleLister interface {
	Candles(ctx context.Context, symbol string, interval time.Duration, limit int) ([]domain.Candle, error)
}

// PriceFeed es la cadena de precios con fallback que consumen el ledger y el
// resolver. Nunca falla: el resultado indica si es real o sintético.
type PriceFeed interface {
	CurrentPrice(ctx context.Context, symbol string) domain.Quote
	IntervalAt(ctx context.Context, symbol string, openTime time.Time) domain.Candle
	LatestInterval(ctx context.Context, symbol string) domain.Candle
}
