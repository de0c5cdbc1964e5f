package coingecko

// client.go — proveedor secundario de precio spot.
//
// Solo se usa cuando Binance falla, así que el límite es bajo: el plan
// público de CoinGecko ronda las 30 req/min.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/candlerush/internal/domain"
)

const (
	defaultBase     = "https://api.coingecko.com"
	simplePricePath = "/api/v3/simple/price"
	vsCurrency      = "usd"

	defaultTimeout = 3 * time.Second
)

// ErrUnknownSymbol: el símbolo no tiene id de CoinGecko conocido.
var ErrUnknownSymbol = errors.New("coingecko: unknown symbol")

// coinIDs mapea pares USDT de Binance a ids de CoinGecko.
var coinIDs = map[string]string{
	"BTCUSDT":  "bitcoin",
	"ETHUSDT":  "ethereum",
	"SOLUSDT":  "solana",
	"BNBUSDT":  "binancecoin",
	"XRPUSDT":  "ripple",
	"DOGEUSDT": "dogecoin",
}

// Client es el HTTP client de CoinGecko.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

// NewClient crea un Client. base vacío usa producción.
func NewClient(base string, timeout time.Duration) *Client {
	if base == "" {
		base = defaultBase
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		base:    base,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 3),
	}
}

// Name implementa ports.QuoteProvider.
func (c *Client) Name() domain.PriceSource { return domain.SourceCoinGecko }

// CurrentPrice devuelve el precio en USD del activo base del símbolo.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	id, ok := coinIDs[symbol]
	if !ok {
		return domain.Quote{}, fmt.Errorf("coingecko.CurrentPrice: %s: %w", symbol, ErrUnknownSymbol)
	}

	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", vsCurrency)

	var resp map[string]map[string]decimal.Decimal
	if err := c.get(ctx, c.base+simplePricePath+"?"+q.Encode(), &resp); err != nil {
		return domain.Quote{}, fmt.Errorf("coingecko.CurrentPrice: %w", err)
	}

	price, ok := resp[id][vsCurrency]
	if !ok || price.Sign() <= 0 {
		return domain.Quote{}, fmt.Errorf("coingecko.CurrentPrice: no %s price for %s", vsCurrency, id)
	}

	return domain.Quote{
		Symbol: symbol,
		Price:  price,
		Source: domain.SourceCoinGecko,
		Real:   true,
		At:     time.Now().UTC(),
	}, nil
}

// get hace un único GET con rate limiting.
func (c *Client) get(ctx context.Context, u string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
