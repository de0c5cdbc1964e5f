package binance

// market.go — endpoints de mercado: ticker/price y klines.
//
// Klines devuelve arrays posicionales:
//   [openTime, open, high, low, close, volume, closeTime, ...]
// con precios como strings y tiempos en milisegundos.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/candlerush/internal/domain"
)

const (
	tickerPricePath = "/api/v3/ticker/price"
	klinesPath      = "/api/v3/klines"
	maxKlines       = 1000
)

// ErrNoCandle se devuelve cuando Binance aún no tiene la vela pedida.
var ErrNoCandle = errors.New("binance: candle not available")

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Name implementa ports.QuoteProvider y ports.CandleProvider.
func (c *Client) Name() domain.PriceSource { return domain.SourceBinance }

// CurrentPrice devuelve el último precio negociado del símbolo.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	u := fmt.Sprintf("%s%s?symbol=%s", c.base, tickerPricePath, url.QueryEscape(symbol))

	var resp tickerPriceResponse
	if err := c.get(ctx, u, &resp); err != nil {
		return domain.Quote{}, fmt.Errorf("binance.CurrentPrice: %w", err)
	}

	price, err := decimal.NewFromString(resp.Price)
	if err != nil || price.Sign() <= 0 {
		return domain.Quote{}, fmt.Errorf("binance.CurrentPrice: invalid price %q", resp.Price)
	}

	return domain.Quote{
		Symbol: symbol,
		Price:  price,
		Source: domain.SourceBinance,
		Real:   true,
		At:     time.Now().UTC(),
	}, nil
}

// Candle devuelve la vela que abre exactamente en openTime.
func (c *Client) Candle(ctx context.Context, symbol string, interval time.Duration, openTime time.Time) (domain.Candle, error) {
	iv, err := IntervalString(interval)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("binance.Candle: %w", err)
	}

	q := url.Values{}
	q.Set("symbol", domain.NormalizeSymbol(symbol))
	q.Set("interval", iv)
	q.Set("startTime", strconv.FormatInt(openTime.UnixMilli(), 10))
	q.Set("limit", "1")

	candles, err := c.klines(ctx, q)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("binance.Candle: %w", err)
	}
	if len(candles) == 0 || !candles[0].OpenTime.Equal(openTime.UTC()) {
		return domain.Candle{}, fmt.Errorf("binance.Candle: %s at %s: %w", symbol, openTime.UTC().Format(time.RFC3339), ErrNoCandle)
	}
	return candles[0], nil
}

// Candles devuelve las últimas limit velas, de la más antigua a la más reciente.
func (c *Client) Candles(ctx context.Context, symbol string, interval time.Duration, limit int) ([]domain.Candle, error) {
	iv, err := IntervalString(interval)
	if err != nil {
		return nil, fmt.Errorf("binance.Candles: %w", err)
	}
	if limit <= 0 {
		limit = 100
	}
	limit = min(limit, maxKlines)

	q := url.Values{}
	q.Set("symbol", domain.NormalizeSymbol(symbol))
	q.Set("interval", iv)
	q.Set("limit", strconv.Itoa(limit))

	candles, err := c.klines(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("binance.Candles: %w", err)
	}
	return candles, nil
}

func (c *Client) klines(ctx context.Context, q url.Values) ([]domain.Candle, error) {
	var raw [][]json.RawMessage
	if err := c.get(ctx, c.base+klinesPath+"?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	symbol := q.Get("symbol")
	out := make([]domain.Candle, 0, len(raw))
	for i, row := range raw {
		candle, err := parseKline(symbol, row)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		out = append(out, candle)
	}
	return out, nil
}

func parseKline(symbol string, row []json.RawMessage) (domain.Candle, error) {
	if len(row) < 7 {
		return domain.Candle{}, fmt.Errorf("expected >= 7 fields, got %d", len(row))
	}

	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return domain.Candle{}, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return domain.Candle{}, fmt.Errorf("close time: %w", err)
	}

	var fields [5]decimal.Decimal
	for i := range fields {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return domain.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		fields[i] = v
	}

	return domain.Candle{
		Symbol:    symbol,
		OpenTime:  time.UnixMilli(openMs).UTC(),
		CloseTime: time.UnixMilli(closeMs).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		Source:    domain.SourceBinance,
		Real:      true,
	}, nil
}

var intervals = map[time.Duration]string{
	time.Minute:      "1m",
	3 * time.Minute:  "3m",
	5 * time.Minute:  "5m",
	15 * time.Minute: "15m",
	30 * time.Minute: "30m",
	time.Hour:        "1h",
	2 * time.Hour:    "2h",
	4 * time.Hour:    "4h",
	6 * time.Hour:    "6h",
	8 * time.Hour:    "8h",
	12 * time.Hour:   "12h",
	24 * time.Hour:   "1d",
}

// IntervalString traduce una duración al código de intervalo de Binance.
func IntervalString(d time.Duration) (string, error) {
	s, ok := intervals[d]
	if !ok {
		return "", fmt.Errorf("unsupported interval %s", d)
	}
	return s, nil
}

// ParseInterval es la inversa de IntervalString.
func ParseInterval(s string) (time.Duration, error) {
	for d, code := range intervals {
		if code == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unsupported interval %q", s)
}
