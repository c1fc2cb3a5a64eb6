package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del trader.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Fees      FeeConfig       `yaml:"fees"`
	Risk      RiskConfig      `yaml:"risk"`
	Exits     ExitConfig      `yaml:"exits"`
	Sequencer SequencerConfig `yaml:"sequencer"`
	Ensemble  EnsembleConfig  `yaml:"ensemble"`
	API       APIConfig       `yaml:"api"`
	Reference ReferenceConfig `yaml:"reference"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// EngineConfig controla el ciclo principal y el sizing de órdenes.
type EngineConfig struct {
	IntervalSeconds   int      `yaml:"interval_seconds"`
	Assets            []string `yaml:"assets"` // BTC, ETH, SOL, XRP
	OrderNotionalUSDC float64  `yaml:"order_notional_usdc"`
	MinOrderValueUSDC float64  `yaml:"min_order_value_usdc"` // venue minimum, overridable por mercado
	SizeGranularity   float64  `yaml:"size_granularity"`     // lot step en shares
	MinEdge           float64  `yaml:"min_edge"`             // edge mínimo neto de fees para entrar
	OpportunityTTL    float64  `yaml:"opportunity_ttl_seconds"`
	LegTimeoutSeconds int      `yaml:"leg_timeout_seconds"`
	InitialCapital    float64  `yaml:"initial_capital_usdc"`
}

// FeeConfig parametriza la curva de fees del venue.
// rate(p) = max(floor, peak × (1 − |2p−1|)): máxima en p=0.50, decae hacia los extremos.
type FeeConfig struct {
	Floor float64 `yaml:"floor"`
	Peak  float64 `yaml:"peak"`
}

// RiskConfig son los límites que el risk manager aplica antes de cada entrada.
type RiskConfig struct {
	MaxPositionsPerAsset int     `yaml:"max_positions_per_asset"`
	PortfolioHeatCap     float64 `yaml:"portfolio_heat_cap"` // open notional / capital
	DailyLossCapUSDC     float64 `yaml:"daily_loss_cap_usdc"`
	BreakerLossStreak    int     `yaml:"breaker_loss_streak"` // N pérdidas seguidas → abre
	BreakerWinStreak     int     `yaml:"breaker_win_streak"`  // M ganancias seguidas → cierra
}

// ExitConfig son los umbrales de la política de salida. Todos los valores son
// fracciones del notional de entrada salvo los tiempos.
type ExitConfig struct {
	TakeProfitBase      float64 `yaml:"take_profit_base"`
	TakeProfitMin       float64 `yaml:"take_profit_min"`
	TakeProfitMax       float64 `yaml:"take_profit_max"`
	StopLossBase        float64 `yaml:"stop_loss_base"`
	TrailingActivation  float64 `yaml:"trailing_activation"`
	TrailingRetracement float64 `yaml:"trailing_retracement"` // fracción de la ganancia desde el pico
	MaxAgeSeconds       int     `yaml:"max_age_seconds"`
	CloseGuardSeconds   int     `yaml:"close_guard_seconds"` // salida forzada si queda menos que esto
}

// SequencerConfig controla el sequencer de transacciones on-chain.
type SequencerConfig struct {
	MaxPending          int     `yaml:"max_pending"`
	StuckTimeoutSeconds int     `yaml:"stuck_timeout_seconds"`
	GasBumpPercent      float64 `yaml:"gas_bump_percent"` // escalación al reenviar
	MaxGasPriceGwei     float64 `yaml:"max_gas_price_gwei"`
}

// EnsembleConfig controla la votación de señales direccionales.
type EnsembleConfig struct {
	MinConsensus    float64            `yaml:"min_consensus"` // fracción del peso total requerida
	TimeoutSeconds  int                `yaml:"timeout_seconds"`
	ProviderWeights map[string]float64 `yaml:"provider_weights"`
}

// APIConfig contiene los base URLs de las APIs del venue.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
}

// ReferenceConfig es el feed externo de precios spot (Binance).
type ReferenceConfig struct {
	WSBase           string  `yaml:"ws_base"`
	MomentumWindowS  int     `yaml:"momentum_window_seconds"`
	MomentumMinMove  float64 `yaml:"momentum_min_move"` // fracción, p.ej. 0.002
	HistoryCapacity  int     `yaml:"history_capacity"`
	VolatilityHighTh float64 `yaml:"volatility_high_threshold"`
	VolatilityLowTh  float64 `yaml:"volatility_low_threshold"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
// Secretos (private key, RPC URL) vienen SOLO de env, nunca del YAML.
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
	clampThresholds(&cfg)

	return &cfg, nil
}

// ScanInterval devuelve el intervalo de escaneo como time.Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Engine.IntervalSeconds) * time.Second
}

// LegTimeout devuelve el timeout por leg como time.Duration.
func (c *Config) LegTimeout() time.Duration {
	return time.Duration(c.Engine.LegTimeoutSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TRADER_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.IntervalSeconds <= 0 {
		cfg.Engine.IntervalSeconds = 15
	}
	if len(cfg.Engine.Assets) == 0 {
		cfg.Engine.Assets = []string{"BTC", "ETH", "SOL", "XRP"}
	}
	if cfg.Engine.OrderNotionalUSDC <= 0 {
		cfg.Engine.OrderNotionalUSDC = 10
	}
	if cfg.Engine.MinOrderValueUSDC <= 0 {
		cfg.Engine.MinOrderValueUSDC = 1
	}
	if cfg.Engine.SizeGranularity <= 0 {
		cfg.Engine.SizeGranularity = 0.01
	}
	if cfg.Engine.MinEdge <= 0 {
		cfg.Engine.MinEdge = 0.02
	}
	if cfg.Engine.OpportunityTTL <= 0 {
		cfg.Engine.OpportunityTTL = 5
	}
	if cfg.Engine.LegTimeoutSeconds <= 0 {
		cfg.Engine.LegTimeoutSeconds = 10
	}
	if cfg.Engine.InitialCapital <= 0 {
		cfg.Engine.InitialCapital = 100
	}
	if cfg.Fees.Floor <= 0 {
		cfg.Fees.Floor = 0.001
	}
	if cfg.Fees.Peak <= 0 {
		cfg.Fees.Peak = 0.03
	}
	if cfg.Risk.MaxPositionsPerAsset <= 0 {
		cfg.Risk.MaxPositionsPerAsset = 2
	}
	if cfg.Risk.PortfolioHeatCap <= 0 {
		cfg.Risk.PortfolioHeatCap = 0.30
	}
	if cfg.Risk.DailyLossCapUSDC <= 0 {
		cfg.Risk.DailyLossCapUSDC = 10
	}
	if cfg.Risk.BreakerLossStreak <= 0 {
		cfg.Risk.BreakerLossStreak = 3
	}
	if cfg.Risk.BreakerWinStreak <= 0 {
		cfg.Risk.BreakerWinStreak = 2
	}
	if cfg.Exits.TakeProfitBase <= 0 {
		cfg.Exits.TakeProfitBase = 0.10
	}
	if cfg.Exits.TakeProfitMin <= 0 {
		cfg.Exits.TakeProfitMin = 0.03
	}
	if cfg.Exits.TakeProfitMax <= 0 {
		cfg.Exits.TakeProfitMax = 0.25
	}
	if cfg.Exits.StopLossBase <= 0 {
		cfg.Exits.StopLossBase = 0.08
	}
	if cfg.Exits.TrailingActivation <= 0 {
		cfg.Exits.TrailingActivation = 0.05
	}
	if cfg.Exits.TrailingRetracement <= 0 {
		cfg.Exits.TrailingRetracement = 0.40
	}
	if cfg.Exits.MaxAgeSeconds <= 0 {
		cfg.Exits.MaxAgeSeconds = 720
	}
	if cfg.Exits.CloseGuardSeconds <= 0 {
		cfg.Exits.CloseGuardSeconds = 90
	}
	if cfg.Sequencer.MaxPending <= 0 {
		cfg.Sequencer.MaxPending = 5
	}
	if cfg.Sequencer.StuckTimeoutSeconds <= 0 {
		cfg.Sequencer.StuckTimeoutSeconds = 60
	}
	if cfg.Sequencer.GasBumpPercent <= 0 {
		cfg.Sequencer.GasBumpPercent = 10
	}
	if cfg.Sequencer.MaxGasPriceGwei <= 0 {
		cfg.Sequencer.MaxGasPriceGwei = 200
	}
	if cfg.Ensemble.MinConsensus <= 0 {
		cfg.Ensemble.MinConsensus = 0.5
	}
	if cfg.Ensemble.TimeoutSeconds <= 0 {
		cfg.Ensemble.TimeoutSeconds = 3
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.Reference.WSBase == "" {
		cfg.Reference.WSBase = "wss://stream.binance.com:9443/ws"
	}
	if cfg.Reference.MomentumWindowS <= 0 {
		cfg.Reference.MomentumWindowS = 10
	}
	if cfg.Reference.MomentumMinMove <= 0 {
		cfg.Reference.MomentumMinMove = 0.002
	}
	if cfg.Reference.HistoryCapacity <= 0 {
		cfg.Reference.HistoryCapacity = 600
	}
	if cfg.Reference.VolatilityHighTh <= 0 {
		cfg.Reference.VolatilityHighTh = 0.004
	}
	if cfg.Reference.VolatilityLowTh <= 0 {
		cfg.Reference.VolatilityLowTh = 0.001
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polytrader.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// clampThresholds acota los umbrales a bandas seguras. Un YAML con un
// take-profit del 400% o un heat cap de 5.0 es casi seguro un typo.
func clampThresholds(cfg *Config) {
	clamp := func(v *float64, lo, hi float64) {
		if *v < lo {
			*v = lo
		}
		if *v > hi {
			*v = hi
		}
	}
	clamp(&cfg.Fees.Floor, 0.0001, 0.01)
	clamp(&cfg.Fees.Peak, cfg.Fees.Floor, 0.10)
	clamp(&cfg.Risk.PortfolioHeatCap, 0.05, 1.0)
	clamp(&cfg.Exits.TakeProfitMin, 0.005, 0.50)
	clamp(&cfg.Exits.TakeProfitMax, cfg.Exits.TakeProfitMin, 1.0)
	clamp(&cfg.Exits.TakeProfitBase, cfg.Exits.TakeProfitMin, cfg.Exits.TakeProfitMax)
	clamp(&cfg.Exits.StopLossBase, 0.01, 0.50)
	clamp(&cfg.Exits.TrailingActivation, 0.005, 0.50)
	clamp(&cfg.Exits.TrailingRetracement, 0.05, 1.0)
	clamp(&cfg.Ensemble.MinConsensus, 0.1, 1.0)
	clamp(&cfg.Sequencer.GasBumpPercent, 5, 100)
}
