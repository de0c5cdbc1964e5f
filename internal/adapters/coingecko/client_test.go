package coingecko_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/candlerush/internal/adapters/coingecko"
	"github.com/alejandrodnm/candlerush/internal/domain"
)

func TestCurrentPrice_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/simple/price", r.URL.Path)
		assert.Equal(t, "ethereum", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.Write([]byte(`{"ethereum":{"usd":3012.55}}`))
	}))
	defer srv.Close()

	q, err := coingecko.NewClient(srv.URL, time.Second).CurrentPrice(context.Background(), "ETH/USDT")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", q.Symbol)
	assert.Equal(t, "3012.55", q.Price.String())
	assert.Equal(t, domain.SourceCoinGecko, q.Source)
	assert.True(t, q.Real)
}

func TestCurrentPrice_UnknownSymbol(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := coingecko.NewClient(srv.URL, time.Second).CurrentPrice(context.Background(), "FOOUSDT")
	require.Error(t, err)
	assert.True(t, errors.Is(err, coingecko.ErrUnknownSymbol))
	assert.False(t, called)
}

func TestCurrentPrice_MissingCurrency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bitcoin":{}}`))
	}))
	defer srv.Close()

	_, err := coingecko.NewClient(srv.URL, time.Second).CurrentPrice(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestCurrentPrice_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"status":{"error_code":429}}`))
	}))
	defer srv.Close()

	_, err := coingecko.NewClient(srv.URL, time.Second).CurrentPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
