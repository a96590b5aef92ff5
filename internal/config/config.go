package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения.
// Создается один раз при старте и дальше только читается.
type Config struct {
	Binance  BinanceConfig  `yaml:"binance"`
	Trading  TradingConfig  `yaml:"trading"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Risk     RiskConfig     `yaml:"risk"`
	Executor ExecutorConfig `yaml:"executor"`
	Storage  StorageConfig  `yaml:"storage"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит настройки торговли
type TradingConfig struct {
	Symbols         []string `yaml:"symbols"`
	Interval        string   `yaml:"interval"`
	CandleLimit     int      `yaml:"candle_limit"`
	ScanSeconds     int      `yaml:"scan_seconds"`
	MonitorSeconds  int      `yaml:"monitor_seconds"`
	RequestTimeout  int      `yaml:"request_timeout_seconds"`
}

// AnalysisConfig содержит настройки аналитических модулей
type AnalysisConfig struct {
	Source      string            `yaml:"source"`
	MinScore    float64           `yaml:"min_score"`
	Weights     WeightsConfig     `yaml:"weights"`
	Trend       TrendConfig       `yaml:"trend"`
	SmoothTrail SmoothTrailConfig `yaml:"smooth_trail"`
	Liquidity   LiquidityConfig   `yaml:"liquidity"`
	SmartMoney  SmartMoneyConfig  `yaml:"smart_money"`
}

// WeightsConfig веса анализаторов при расчете совокупного балла
type WeightsConfig struct {
	Trend       float64 `yaml:"trend"`
	SmoothTrail float64 `yaml:"smooth_trail"`
	Liquidity   float64 `yaml:"liquidity"`
	SmartMoney  float64 `yaml:"smart_money"`
}

// TrendConfig настройки трендового анализа
type TrendConfig struct {
	FastPeriod  int `yaml:"fast_period"`
	SlowPeriod  int `yaml:"slow_period"`
	TrendPeriod int `yaml:"trend_period"`
	ADXPeriod   int `yaml:"adx_period"`
	RSIPeriod   int `yaml:"rsi_period"`
	MACDFast    int `yaml:"macd_fast"`
	MACDSlow    int `yaml:"macd_slow"`
	MACDSignal  int `yaml:"macd_signal"`
}

// SmoothTrailConfig настройки анализа уровней поддержки/сопротивления
type SmoothTrailConfig struct {
	Lookback    int     `yaml:"lookback"`
	Sensitivity float64 `yaml:"sensitivity"`
}

// LiquidityConfig настройки анализа ликвидности
type LiquidityConfig struct {
	VolumeLookback    int     `yaml:"volume_lookback"`
	ConfirmationRatio float64 `yaml:"confirmation_ratio"`
}

// SmartMoneyConfig настройки анализа следов крупных игроков
type SmartMoneyConfig struct {
	Lookback           int     `yaml:"lookback"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
}

// RiskConfig настройки управления рисками
type RiskConfig struct {
	RiskPercent        float64 `yaml:"risk_percent"`
	MinRiskReward      float64 `yaml:"min_risk_reward"`
	DefaultStopPercent float64 `yaml:"default_stop_percent"`
	PortfolioCeiling   float64 `yaml:"portfolio_ceiling_percent"`
}

// MarketCriteria критерии пригодности сигнала для рынка
type MarketCriteria struct {
	MinScore      float64  `yaml:"min_score"`
	Timeframes    []string `yaml:"timeframes"`
	MinVolatility float64  `yaml:"min_volatility"`
	MaxVolatility float64  `yaml:"max_volatility"`
}

// ExecutorConfig настройки исполнения сигналов
type ExecutorConfig struct {
	MaxSignalsPerDay   int                `yaml:"max_signals_per_day"`
	MinBalance         float64            `yaml:"min_balance"`
	Leverage           int                `yaml:"leverage"`
	MaxLeverage        int                `yaml:"max_leverage"`
	ManualCloseOnly    bool               `yaml:"manual_close_only"`
	PartialClose       bool               `yaml:"partial_close"`
	PreferFuturesOnTie bool               `yaml:"prefer_futures_on_tie"`
	Spot               MarketCriteria     `yaml:"spot"`
	Futures            MarketCriteria     `yaml:"futures"`
	Precision          map[string]int32   `yaml:"precision"`
	MinQuantity        map[string]float64 `yaml:"min_quantity"`
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	Type         string `yaml:"type"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// Load загружает конфигурацию из файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// applyDefaults подставляет значения по умолчанию для незаполненных полей
func (c *Config) applyDefaults() {
	if c.Trading.Interval == "" {
		c.Trading.Interval = "1h"
	}
	if c.Trading.CandleLimit == 0 {
		c.Trading.CandleLimit = 300
	}
	if c.Trading.RequestTimeout == 0 {
		c.Trading.RequestTimeout = 15
	}
	if c.Analysis.Source == "" {
		c.Analysis.Source = "confluence"
	}
	if c.Analysis.MinScore == 0 {
		c.Analysis.MinScore = 0.65
	}
	if c.Analysis.Weights == (WeightsConfig{}) {
		c.Analysis.Weights = WeightsConfig{Trend: 0.30, SmoothTrail: 0.25, Liquidity: 0.20, SmartMoney: 0.25}
	}
	if c.Analysis.Trend.FastPeriod == 0 {
		c.Analysis.Trend = TrendConfig{
			FastPeriod:  20,
			SlowPeriod:  50,
			TrendPeriod: 200,
			ADXPeriod:   14,
			RSIPeriod:   14,
			MACDFast:    12,
			MACDSlow:    26,
			MACDSignal:  9,
		}
	}
	if c.Analysis.SmoothTrail.Lookback == 0 {
		c.Analysis.SmoothTrail.Lookback = 20
	}
	if c.Analysis.SmoothTrail.Sensitivity == 0 {
		c.Analysis.SmoothTrail.Sensitivity = 0.02
	}
	if c.Analysis.Liquidity.VolumeLookback == 0 {
		c.Analysis.Liquidity.VolumeLookback = 20
	}
	if c.Analysis.Liquidity.ConfirmationRatio == 0 {
		c.Analysis.Liquidity.ConfirmationRatio = 1.2
	}
	if c.Analysis.SmartMoney.Lookback == 0 {
		c.Analysis.SmartMoney.Lookback = 50
	}
	if c.Analysis.SmartMoney.DetectionThreshold == 0 {
		c.Analysis.SmartMoney.DetectionThreshold = 0.6
	}
	if c.Risk.RiskPercent == 0 {
		c.Risk.RiskPercent = 1.0
	}
	if c.Risk.MinRiskReward == 0 {
		c.Risk.MinRiskReward = 1.5
	}
	if c.Risk.DefaultStopPercent == 0 {
		c.Risk.DefaultStopPercent = 2.0
	}
	if c.Risk.PortfolioCeiling == 0 {
		c.Risk.PortfolioCeiling = 10.0
	}
	if c.Executor.MaxSignalsPerDay == 0 {
		c.Executor.MaxSignalsPerDay = 1
	}
	if c.Executor.MinBalance == 0 {
		c.Executor.MinBalance = 10.0
	}
	if c.Executor.Leverage == 0 {
		c.Executor.Leverage = 5
	}
	if c.Executor.MaxLeverage == 0 {
		c.Executor.MaxLeverage = 20
	}
	if c.Executor.Spot.MinScore == 0 {
		c.Executor.Spot = MarketCriteria{
			MinScore:      0.65,
			Timeframes:    []string{"1h", "4h", "1d"},
			MinVolatility: 0.0,
			MaxVolatility: 0.08,
		}
	}
	if c.Executor.Futures.MinScore == 0 {
		c.Executor.Futures = MarketCriteria{
			MinScore:      0.70,
			Timeframes:    []string{"15m", "1h", "4h"},
			MinVolatility: 0.01,
			MaxVolatility: 0.15,
		}
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
}
