package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/candlerush/internal/adapters/httpapi"
	"github.com/alejandrodnm/candlerush/internal/application/ledger"
	"github.com/alejandrodnm/candlerush/internal/domain"
)

var start = time.Date(2025, 3, 1, 12, 0, 3, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeFeed: la vela del intervalo abre a 100 y cierra a closePrice.
type fakeFeed struct {
	closePrice decimal.Decimal
	real       bool
}

func (f *fakeFeed) CurrentPrice(_ context.Context, symbol string) domain.Quote {
	src := domain.SourceBinance
	if !f.real {
		src = domain.SourceSynthetic
	}
	return domain.Quote{Symbol: symbol, Price: d("100"), Source: src, Real: f.real, At: start}
}

func (f *fakeFeed) IntervalAt(_ context.Context, symbol string, open time.Time) domain.Candle {
	return domain.Candle{
		Symbol: symbol, OpenTime: open, CloseTime: open.Add(time.Minute),
		Open: d("100"), High: d("110"), Low: d("90"), Close: f.closePrice,
		Source: domain.SourceBinance, Real: true,
	}
}

func (f *fakeFeed) LatestInterval(ctx context.Context, symbol string) domain.Candle {
	return f.IntervalAt(ctx, symbol, domain.IntervalKey(start, time.Minute).Add(-time.Minute))
}

type fakeCandles struct {
	err   error
	limit int
}

func (f *fakeCandles) Candles(_ context.Context, symbol string, interval time.Duration, limit int) ([]domain.Candle, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Candle{
		{Symbol: symbol, OpenTime: start.Add(-interval), Open: d("100"), Close: d("101"), Source: domain.SourceBinance, Real: true},
	}, nil
}

type testEnv struct {
	ledger  *ledger.Ledger
	clock   *clockwork.FakeClock
	candles *fakeCandles
	router  http.Handler
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(start)
	feed := &fakeFeed{closePrice: d("110"), real: true}
	l, err := ledger.New(context.Background(), ledger.DefaultConfig(), feed, nil, clock)
	require.NoError(t, err)

	candles := &fakeCandles{}
	h := httpapi.NewHandler(l, feed, candles, "BTCUSDT", time.Minute)
	return testEnv{ledger: l, clock: clock, candles: candles, router: httpapi.NewRouter(h, nil)}
}

func (e testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e testEnv) placeOK(t *testing.T) domain.Wager {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/wagers", httpapi.PlaceWagerRequest{
		Direction: "up", Amount: d("1000"), Leverage: 2,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var wager domain.Wager
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wager))
	return wager
}

// --- Wagers ---

func TestPlaceWager_Created(t *testing.T) {
	e := newTestEnv(t)
	wager := e.placeOK(t)

	assert.NotEmpty(t, wager.ID)
	assert.Equal(t, domain.StatusPending, wager.Status)
	assert.Equal(t, "BTCUSDT", wager.Symbol)
	assert.True(t, d("100").Equal(wager.InitialPrice))
	assert.True(t, d("999000").Equal(e.ledger.Balance()))
}

func TestPlaceWager_StatusCodes(t *testing.T) {
	tests := []struct {
		name string
		body any
		want int
	}{
		{"bad json", "not-an-object", http.StatusBadRequest},
		{"bad direction", httpapi.PlaceWagerRequest{Direction: "sideways", Amount: d("1000")}, http.StatusUnprocessableEntity},
		{"stake too small", httpapi.PlaceWagerRequest{Direction: "up", Amount: d("1")}, http.StatusUnprocessableEntity},
		{"leverage too high", httpapi.PlaceWagerRequest{Direction: "down", Amount: d("1000"), Leverage: 1000}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			w := e.do(t, http.MethodPost, "/api/v1/wagers", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
			assert.True(t, d("1000000").Equal(e.ledger.Balance()))
		})
	}
}

func TestPlaceWager_DuplicateIntervalConflict(t *testing.T) {
	e := newTestEnv(t)
	e.placeOK(t)

	w := e.do(t, http.MethodPost, "/api/v1/wagers", httpapi.PlaceWagerRequest{Direction: "down", Amount: d("500")})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), ledger.ErrDuplicateInterval.Error())
}

func TestPlaceWager_BettingClosedLocked(t *testing.T) {
	e := newTestEnv(t)
	e.clock.Advance(30 * time.Second)

	w := e.do(t, http.MethodPost, "/api/v1/wagers", httpapi.PlaceWagerRequest{Direction: "up", Amount: d("1000")})
	assert.Equal(t, http.StatusLocked, w.Code)
}

func TestListAndGetWager(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/wagers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	placed := e.placeOK(t)

	w = e.do(t, http.MethodGet, "/api/v1/wagers", nil)
	var list []domain.Wager
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, placed.ID, list[0].ID)

	w = e.do(t, http.MethodGet, "/api/v1/wagers/"+placed.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/wagers/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteWager(t *testing.T) {
	e := newTestEnv(t)
	placed := e.placeOK(t)

	w := e.do(t, http.MethodDelete, "/api/v1/wagers/"+placed.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, d("1000000").Equal(e.ledger.Balance()))

	w = e.do(t, http.MethodDelete, "/api/v1/wagers/"+placed.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolveWager(t *testing.T) {
	e := newTestEnv(t)
	placed := e.placeOK(t)
	e.clock.Advance(time.Minute)

	// la pista dice "perdida" pero los precios mandan: 100 → 110, up gana
	w := e.do(t, http.MethodPost, "/api/v1/wagers/"+placed.ID+"/resolve", httpapi.ResolveWagerRequest{Won: new(bool)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var settled domain.Wager
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &settled))
	assert.Equal(t, domain.StatusWon, settled.Status)
	assert.True(t, d("110").Equal(settled.FinalPrice))
	assert.True(t, settled.Authoritative)
	// 1_000_000 − 1000 + 1000 + 1900
	assert.True(t, d("1001900").Equal(e.ledger.Balance()))

	w = e.do(t, http.MethodPost, "/api/v1/wagers/"+placed.ID+"/resolve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, d("1001900").Equal(e.ledger.Balance()))

	w = e.do(t, http.MethodPost, "/api/v1/wagers/unknown/resolve", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Balance / stats / admin ---

func TestBalanceStatsAndAdmin(t *testing.T) {
	e := newTestEnv(t)
	e.placeOK(t)

	w := e.do(t, http.MethodGet, "/api/v1/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bal httpapi.BalanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bal))
	assert.True(t, d("999000").Equal(bal.Balance))

	w = e.do(t, http.MethodGet, "/api/v1/stats", nil)
	var stats domain.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Pending)

	w = e.do(t, http.MethodPost, "/api/v1/admin/clear-history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cleared httpapi.ClearHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cleared))
	assert.Equal(t, 1, cleared.Removed)
	assert.True(t, d("1000000").Equal(cleared.Balance))

	e.placeOK(t)
	w = e.do(t, http.MethodPost, "/api/v1/admin/reset-balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bal))
	assert.True(t, d("1000000").Equal(bal.Balance))
}

// --- Prices ---

func TestGetPrice(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/price?symbol=ethusdt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var q domain.Quote
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	assert.Equal(t, "ETHUSDT", q.Symbol)
	assert.True(t, q.Real)
	assert.Equal(t, domain.SourceBinance, q.Source)
}

func TestGetPrice_SyntheticStillOK(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	feed := &fakeFeed{closePrice: d("110")}
	l, err := ledger.New(context.Background(), ledger.DefaultConfig(), feed, nil, clock)
	require.NoError(t, err)
	router := httpapi.NewRouter(httpapi.NewHandler(l, feed, nil, "BTCUSDT", time.Minute), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/price", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"isReal":false`)
	assert.Contains(t, w.Body.String(), `"synthetic"`)
}

func TestGetLatestInterval(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/interval/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var c domain.Candle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Equal(t, "BTCUSDT", c.Symbol)
	assert.Equal(t, time.Date(2025, 3, 1, 11, 59, 0, 0, time.UTC), c.OpenTime.UTC())
}

func TestGetCandles(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/candles?interval=5m&limit=20", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var candles []domain.Candle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &candles))
	require.Len(t, candles, 1)
	assert.Equal(t, 20, e.candles.limit)
	assert.Equal(t, start.Add(-5*time.Minute), candles[0].OpenTime.UTC())

	w = e.do(t, http.MethodGet, "/api/v1/candles?interval=7m", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/candles?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.candles.err = errors.New("binance down")
	w = e.do(t, http.MethodGet, "/api/v1/candles", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// --- Infra ---

func TestHealthAndCORS(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)

	w = e.do(t, http.MethodOptions, "/api/v1/wagers", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocket_StreamsLedgerEvents(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	feed := &fakeFeed{closePrice: d("110"), real: true}
	l, err := ledger.New(context.Background(), ledger.DefaultConfig(), feed, nil, clock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := httpapi.NewWSHub()
	go hub.Run(ctx)
	sub := l.Subscribe(16)
	defer sub.Close()
	go hub.Pump(ctx, sub.C)

	srv := httptest.NewServer(httpapi.NewRouter(httpapi.NewHandler(l, feed, nil, "BTCUSDT", time.Minute), hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	_, err = l.PlaceWager(context.Background(), ledger.PlaceRequest{
		Symbol: "BTCUSDT", Direction: domain.DirectionUp, Stake: d("1000"), Leverage: 1,
	})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev domain.LedgerEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, domain.EventChanged, ev.Kind)
	assert.True(t, d("999000").Equal(ev.Balance))
}
