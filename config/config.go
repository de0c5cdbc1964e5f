package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de candlerush.
type Config struct {
	Game      GameConfig      `yaml:"game"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	API       APIConfig       `yaml:"api"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// GameConfig son las reglas del juego.
type GameConfig struct {
	Symbol               string  `yaml:"symbol"`
	IntervalSeconds      int     `yaml:"interval_seconds"`
	BettingWindowSeconds *int    `yaml:"betting_window_seconds"` // 0 = siempre abierto; ausente = 10
	InitialBalance       float64 `yaml:"initial_balance"`
	PayoutRate           float64 `yaml:"payout_rate"`
	MinStake             float64 `yaml:"min_stake"`
	MaxStake             float64 `yaml:"max_stake"`
	MaxLeverage          int     `yaml:"max_leverage"`
}

// ResolverConfig controla las cadencias del proceso de liquidación.
type ResolverConfig struct {
	TickMS             int `yaml:"tick_ms"`
	PnLEverySeconds    int `yaml:"pnl_every_seconds"`
	WindowStartSeconds int `yaml:"window_start_seconds"`
	WindowEndSeconds   int `yaml:"window_end_seconds"`
	MaxAgeSeconds      int `yaml:"max_age_seconds"`
	PruneEverySeconds  int `yaml:"prune_every_seconds"`
}

// APIConfig contiene los base URLs de los proveedores de precio.
type APIConfig struct {
	BinanceBase    string `yaml:"binance_base"`
	CoinGeckoBase  string `yaml:"coingecko_base"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SyntheticConfig es el rango del precio simulado cuando no hay proveedores.
// BasePrice ± Spread aplica a símbolos sin base propia; Bases fija la base de
// un símbolo concreto y su spread escala en proporción.
type SyntheticConfig struct {
	BasePrice float64            `yaml:"base_price"`
	Spread    float64            `yaml:"spread"`
	Bases     map[string]float64 `yaml:"bases"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// ServerConfig controla el gateway HTTP.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Interval devuelve la duración de cada vela.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Game.IntervalSeconds) * time.Second
}

// BettingWindow devuelve cuánto tiempo tras abrir la vela se acepta apostar.
func (c *Config) BettingWindow() time.Duration {
	return time.Duration(*c.Game.BettingWindowSeconds) * time.Second
}

// APITimeout devuelve el timeout por petición a los proveedores.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// Money convierte un importe de la config a decimal con 2 decimales.
func Money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// Seconds convierte segundos enteros a time.Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("CANDLERUSH_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("CANDLERUSH_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("BINANCE_BASE"); v != "" {
		cfg.API.BinanceBase = v
	}
	if v := os.Getenv("COINGECKO_BASE"); v != "" {
		cfg.API.CoinGeckoBase = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	g := &cfg.Game
	if g.Symbol == "" {
		g.Symbol = "BTCUSDT"
	}
	if g.IntervalSeconds <= 0 {
		g.IntervalSeconds = 60
	}
	if g.BettingWindowSeconds == nil {
		w := 10
		g.BettingWindowSeconds = &w
	}
	if g.InitialBalance <= 0 {
		g.InitialBalance = 1_000_000
	}
	if g.PayoutRate <= 0 {
		g.PayoutRate = 0.95
	}
	if g.MinStake <= 0 {
		g.MinStake = 100
	}
	if g.MaxStake <= 0 {
		g.MaxStake = 100_000
	}
	if g.MaxLeverage <= 0 {
		g.MaxLeverage = 100
	}

	r := &cfg.Resolver
	if r.TickMS <= 0 {
		r.TickMS = 100
	}
	if r.PnLEverySeconds <= 0 {
		r.PnLEverySeconds = 3
	}
	if r.WindowStartSeconds <= 0 && r.WindowEndSeconds <= 0 {
		r.WindowStartSeconds, r.WindowEndSeconds = 1, 5
	}
	if r.MaxAgeSeconds <= 0 {
		r.MaxAgeSeconds = 120
	}
	if r.PruneEverySeconds <= 0 {
		r.PruneEverySeconds = 300
	}

	if cfg.API.BinanceBase == "" {
		cfg.API.BinanceBase = "https://api.binance.com"
	}
	if cfg.API.CoinGeckoBase == "" {
		cfg.API.CoinGeckoBase = "https://api.coingecko.com"
	}
	if cfg.API.TimeoutSeconds <= 0 {
		cfg.API.TimeoutSeconds = 3
	}

	if cfg.Synthetic.BasePrice <= 0 {
		cfg.Synthetic.BasePrice = 60_000
	}
	if cfg.Synthetic.Spread <= 0 {
		cfg.Synthetic.Spread = 1_000
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "candlerush.db"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate rechaza combinaciones que dejarían el juego sin sentido.
func (c *Config) validate() error {
	g := c.Game
	if g.MinStake > g.MaxStake {
		return fmt.Errorf("game.min_stake (%v) > game.max_stake (%v)", g.MinStake, g.MaxStake)
	}
	if *g.BettingWindowSeconds < 0 || *g.BettingWindowSeconds >= g.IntervalSeconds {
		return fmt.Errorf("game.betting_window_seconds must be in [0, %d)", g.IntervalSeconds)
	}
	if g.PayoutRate > 10 {
		return fmt.Errorf("game.payout_rate %v looks like a percentage, use a fraction", g.PayoutRate)
	}
	for sym, b := range c.Synthetic.Bases {
		if b <= 0 {
			return fmt.Errorf("synthetic.bases.%s must be positive", sym)
		}
	}
	r := c.Resolver
	if r.WindowStartSeconds > r.WindowEndSeconds {
		return fmt.Errorf("resolver.window_start_seconds (%d) > window_end_seconds (%d)", r.WindowStartSeconds, r.WindowEndSeconds)
	}
	if r.WindowEndSeconds >= g.IntervalSeconds {
		return fmt.Errorf("resolver.window_end_seconds must be below game.interval_seconds")
	}
	return nil
}
