package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource identifica de dónde salió un precio.
type PriceSource string

const (
	SourceBinance   PriceSource = "binance"
	SourceCoinGecko PriceSource = "coingecko"
	SourceSynthetic PriceSource = "synthetic"
	SourceLastMark  PriceSource = "last_mark" // último precio usado para el PnL en vivo
	SourceInitial   PriceSource = "initial"   // el propio precio de entrada
)

// Real reports whether the source is an external provider.
func (s PriceSource) Real() bool {
	return s == SourceBinance || s == SourceCoinGecko
}

// Quote is a spot price for a symbol.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Source PriceSource     `json:"source"`
	Real   bool            `json:"isReal"`
	At     time.Time       `json:"timestamp"`
}

// Candle is one OHLC bar.
type Candle struct {
	Symbol    string          `json:"symbol"`
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Source    PriceSource     `json:"source"`
	Real      bool            `json:"isReal"`
}

// NormalizeSymbol turns "btc/usdt" or "BTC-USDT" into "BTCUSDT".
func NormalizeSymbol(s string) string {
	r := strings.NewReplacer("/", "", "-", "", "_", "", " ", "")
	return strings.ToUpper(r.Replace(s))
}
