// Package httpapi expone el ledger por HTTP + WebSocket para el front.
//
// Todos los importes y precios viajan como decimal (string en JSON), nunca
// float64.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/candlerush/internal/adapters/binance"
	"github.com/alejandrodnm/candlerush/internal/application/ledger"
	"github.com/alejandrodnm/candlerush/internal/domain"
	"github.com/alejandrodnm/candlerush/internal/ports"
)

// Book es lo que el gateway necesita del ledger.
type Book interface {
	PlaceWager(ctx context.Context, req ledger.PlaceRequest) (domain.Wager, error)
	DeleteWager(id string) (domain.Wager, error)
	ResolveWager(ctx context.Context, id string, hintWon *bool) (domain.Wager, error)
	ResetBalance() decimal.Decimal
	ClearHistory() int
	Balance() decimal.Decimal
	Wagers() []domain.Wager
	Wager(id string) (domain.Wager, bool)
	Stats() domain.Stats
}

// Handler agrupa los handlers del gateway.
type Handler struct {
	book     Book
	prices   ports.PriceFeed
	candles  ports.CandleLister // opcional
	symbol   string
	interval time.Duration
}

// NewHandler crea los handlers. symbol es el símbolo por defecto cuando la
// petición no trae uno.
func NewHandler(book Book, prices ports.PriceFeed, candles ports.CandleLister, symbol string, interval time.Duration) *Handler {
	if symbol == "" {
		symbol = "BTCUSDT"
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Handler{
		book:     book,
		prices:   prices,
		candles:  candles,
		symbol:   domain.NormalizeSymbol(symbol),
		interval: interval,
	}
}

// --- Request/Response types ---

// PlaceWagerRequest es el body de POST /wagers.
type PlaceWagerRequest struct {
	Direction string          `json:"direction"` // "up" o "down"
	Amount    decimal.Decimal `json:"amount"`
	Leverage  int             `json:"leverage"` // 0 → 1
	Symbol    string          `json:"symbol"`   // vacío → símbolo por defecto
}

// ResolveWagerRequest es el body opcional de POST /wagers/{id}/resolve.
// Won es solo una pista: el resultado siempre sale de los precios.
type ResolveWagerRequest struct {
	Won *bool `json:"won"`
}

// BalanceResponse es la respuesta de GET /balance.
type BalanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

// ClearHistoryResponse es la respuesta de POST /admin/clear-history.
type ClearHistoryResponse struct {
	Removed int             `json:"removed"`
	Balance decimal.Decimal `json:"balance"`
}

// --- Wagers ---

// ListWagers atiende GET /api/v1/wagers.
func (h *Handler) ListWagers(w http.ResponseWriter, _ *http.Request) {
	wagers := h.book.Wagers()
	if wagers == nil {
		wagers = []domain.Wager{}
	}
	writeJSON(w, http.StatusOK, wagers)
}

// GetWager atiende GET /api/v1/wagers/{id}.
func (h *Handler) GetWager(w http.ResponseWriter, r *http.Request) {
	wager, ok := h.book.Wager(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, "wager not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, wager)
}

// PlaceWager atiende POST /api/v1/wagers.
func (h *Handler) PlaceWager(w http.ResponseWriter, r *http.Request) {
	var req PlaceWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	dir, err := domain.ParseDirection(req.Direction)
	if err != nil {
		dir = domain.Direction(req.Direction) // el ledger la rechaza y lo cuenta
	}
	if req.Leverage == 0 {
		req.Leverage = 1
	}
	if req.Symbol == "" {
		req.Symbol = h.symbol
	}

	wager, err := h.book.PlaceWager(r.Context(), ledger.PlaceRequest{
		Symbol:    req.Symbol,
		Direction: dir,
		Stake:     req.Amount,
		Leverage:  req.Leverage,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wager)
}

// DeleteWager atiende DELETE /api/v1/wagers/{id}.
func (h *Handler) DeleteWager(w http.ResponseWriter, r *http.Request) {
	if _, err := h.book.DeleteWager(chi.URLParam(r, "id")); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveWager atiende POST /api/v1/wagers/{id}/resolve. El body es opcional.
func (h *Handler) ResolveWager(w http.ResponseWriter, r *http.Request) {
	var req ResolveWagerRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	wager, err := h.book.ResolveWager(r.Context(), chi.URLParam(r, "id"), req.Won)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wager)
}

// --- Balance / stats / admin ---

// GetBalance atiende GET /api/v1/balance.
func (h *Handler) GetBalance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: h.book.Balance()})
}

// GetStats atiende GET /api/v1/stats.
func (h *Handler) GetStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.book.Stats())
}

// ResetBalance atiende POST /api/v1/admin/reset-balance.
func (h *Handler) ResetBalance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: h.book.ResetBalance()})
}

// ClearHistory atiende POST /api/v1/admin/clear-history.
func (h *Handler) ClearHistory(w http.ResponseWriter, _ *http.Request) {
	n := h.book.ClearHistory()
	writeJSON(w, http.StatusOK, ClearHistoryResponse{Removed: n, Balance: h.book.Balance()})
}

// --- Prices ---

// GetPrice atiende GET /api/v1/price?symbol=. Nunca devuelve 5xx: si no hay
// proveedores responde el precio sintético con isReal=false.
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prices.CurrentPrice(r.Context(), h.symbolParam(r)))
}

// GetLatestInterval atiende GET /api/v1/interval/latest?symbol=.
func (h *Handler) GetLatestInterval(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prices.LatestInterval(r.Context(), h.symbolParam(r)))
}

// GetCandles atiende GET /api/v1/candles?symbol=&interval=&limit=.
func (h *Handler) GetCandles(w http.ResponseWriter, r *http.Request) {
	if h.candles == nil {
		writeError(w, "candle feed not configured", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	interval := h.interval
	if s := q.Get("interval"); s != "" {
		d, err := binance.ParseInterval(s)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		interval = d
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	symbol := h.symbolParam(r)
	candles, err := h.candles.Candles(r.Context(), symbol, interval, limit)
	if err != nil {
		slog.Warn("candle feed failed", "symbol", symbol, "err", err)
		writeError(w, "failed to fetch candles", http.StatusInternalServerError)
		return
	}
	if candles == nil {
		candles = []domain.Candle{}
	}
	writeJSON(w, http.StatusOK, candles)
}

func (h *Handler) symbolParam(r *http.Request) string {
	if s := r.URL.Query().Get("symbol"); s != "" {
		return domain.NormalizeSymbol(s)
	}
	return h.symbol
}

// --- helpers ---

// writeLedgerError traduce los errores del ledger a códigos HTTP.
func writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrWagerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateInterval), errors.Is(err, ledger.ErrAlreadySettled):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrBettingClosed):
		status = http.StatusLocked
	case errors.Is(err, ledger.ErrInvalidDirection),
		errors.Is(err, ledger.ErrInvalidStake),
		errors.Is(err, ledger.ErrInvalidLeverage),
		errors.Is(err, ledger.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("ledger operation failed", "err", err)
	}
	writeError(w, errorMessage(err), status)
}

// errorMessage devuelve el sentinel sin el prefijo de la cadena de wraps.
func errorMessage(err error) string {
	for _, sentinel := range []error{
		ledger.ErrWagerNotFound,
		ledger.ErrDuplicateInterval,
		ledger.ErrAlreadySettled,
		ledger.ErrBettingClosed,
		ledger.ErrInvalidDirection,
		ledger.ErrInvalidStake,
		ledger.ErrInvalidLeverage,
		ledger.ErrInsufficientBalance,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}

// writeError escribe una respuesta de error JSON.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
