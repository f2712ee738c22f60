package config

import (
	"io/ioutil"

	"github.com/skalibog/bmsa/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance  BinanceConfig  `yaml:"binance"`
	Trading  TradingConfig  `yaml:"trading"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Heatmap  HeatmapConfig  `yaml:"heatmap"`
	Funding  FundingConfig  `yaml:"funding"`
	UI       UIConfig       `yaml:"ui"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит отслеживаемый инструмент на каждой бирже
type TradingConfig struct {
	Symbol        string `yaml:"symbol"`         // BTCUSDT
	BybitSymbol   string `yaml:"bybit_symbol"`   // BTCUSDT
	OKXInstrument string `yaml:"okx_instrument"` // BTC-USDT-SWAP
	BitmexSymbol  string `yaml:"bitmex_symbol"`  // XBTUSD
}

// AnalysisConfig содержит настройки аналитических модулей
type AnalysisConfig struct {
	IntervalSeconds int            `yaml:"interval_seconds"`
	Momentum        MomentumConfig `yaml:"momentum"`
	Levels          LevelsConfig   `yaml:"levels"`
}

// TimeframeWeight вес таймфрейма в композитном моментуме
type TimeframeWeight struct {
	Interval string  `yaml:"interval"`
	Weight   float64 `yaml:"weight"`
}

// MomentumConfig настройки движка индикаторов
type MomentumConfig struct {
	Timeframes         []TimeframeWeight `yaml:"timeframes"`
	RSIPeriod          int               `yaml:"rsi_period"`
	MACDFast           int               `yaml:"macd_fast"`
	MACDSlow           int               `yaml:"macd_slow"`
	MACDSignal         int               `yaml:"macd_signal"`
	ROCPeriod          int               `yaml:"roc_period"`
	StateThreshold     float64           `yaml:"state_threshold"`     // порог bullish/bearish для таймфрейма
	CompositeThreshold float64           `yaml:"composite_threshold"` // порог для мультитаймфреймового состояния
}

// LevelsConfig настройки движка уровней поддержки/сопротивления
type LevelsConfig struct {
	Interval         string  `yaml:"interval"`          // таймфрейм свечей для уровней
	Window           int     `yaml:"window"`            // свечей в окне анализа
	Method           string  `yaml:"method"`            // volume | swing | fibonacci | all
	Count            int     `yaml:"count"`             // сколько уровней возвращать
	PivotWindow      int     `yaml:"pivot_window"`      // свечей с каждой стороны экстремума
	ProfileBins      int     `yaml:"profile_bins"`      // бинов профиля объема
	FibLookback      int     `yaml:"fib_lookback"`      // свечей для уровней Фибоначчи
	ClusterTolerance float64 `yaml:"cluster_tolerance"` // доля от текущей цены
}

// HeatmapConfig настройки тепловой карты ликвидаций
type HeatmapConfig struct {
	Range     string   `yaml:"range"`      // 24h | 48h | 7d
	BinMode   string   `yaml:"bin_mode"`   // auto | 50 | 100 | 250
	Scale     string   `yaml:"scale"`      // linear | log
	Exchanges []string `yaml:"exchanges"`  // активный фильтр бирж
	LogBuffer int      `yaml:"log_buffer"` // емкость канала приема событий
}

// FundingConfig настройки трекера финансирования и открытого интереса
type FundingConfig struct {
	PollSeconds int    `yaml:"poll_seconds"`
	OIPeriod    string `yaml:"oi_period"` // гранулярность ряда OI, например 5m
	OILimit     int    `yaml:"oi_limit"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	RefreshRate int `yaml:"refresh_rate_ms"`
}

// Load загружает конфигурацию из файла
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		logger.Fatal("Ошибка чтения файла конфигурации", zap.Error(err))
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		logger.Fatal("Ошибка разбора файла конфигурации", zap.Error(err))
	}
	config.applyDefaults()

	logger.Debug("Загружена конфигурация", zap.String("path", path), zap.Any("config", config))

	logger.Info("Загружена конфигурация", zap.String("symbol", config.Trading.Symbol))
	return &config, nil
}

// applyDefaults подставляет значения по умолчанию для незаполненных полей
func (c *Config) applyDefaults() {
	if c.Trading.Symbol == "" {
		c.Trading.Symbol = "BTCUSDT"
	}
	if c.Trading.BybitSymbol == "" {
		c.Trading.BybitSymbol = c.Trading.Symbol
	}
	if c.Trading.OKXInstrument == "" {
		c.Trading.OKXInstrument = "BTC-USDT-SWAP"
	}
	if c.Trading.BitmexSymbol == "" {
		c.Trading.BitmexSymbol = "XBTUSD"
	}
	if c.Analysis.IntervalSeconds == 0 {
		c.Analysis.IntervalSeconds = 60
	}
	m := &c.Analysis.Momentum
	if len(m.Timeframes) == 0 {
		m.Timeframes = []TimeframeWeight{
			{Interval: "5m", Weight: 0.2},
			{Interval: "15m", Weight: 0.3},
			{Interval: "1h", Weight: 0.5},
		}
	}
	if m.RSIPeriod == 0 {
		m.RSIPeriod = 14
	}
	if m.MACDFast == 0 {
		m.MACDFast = 12
	}
	if m.MACDSlow == 0 {
		m.MACDSlow = 26
	}
	if m.MACDSignal == 0 {
		m.MACDSignal = 9
	}
	if m.ROCPeriod == 0 {
		m.ROCPeriod = 10
	}
	if m.StateThreshold == 0 {
		m.StateThreshold = 0.12
	}
	if m.CompositeThreshold == 0 {
		m.CompositeThreshold = 0.15
	}
	l := &c.Analysis.Levels
	if l.Interval == "" {
		l.Interval = "5m"
	}
	if l.Window == 0 {
		l.Window = 1000
	}
	if l.Method == "" {
		l.Method = "all"
	}
	if l.Count == 0 {
		l.Count = 10
	}
	if l.PivotWindow == 0 {
		l.PivotWindow = 3
	}
	if l.ProfileBins == 0 {
		l.ProfileBins = 40
	}
	if l.FibLookback == 0 {
		l.FibLookback = 200
	}
	if l.ClusterTolerance == 0 {
		l.ClusterTolerance = 0.0025
	}
	if c.Heatmap.Range == "" {
		c.Heatmap.Range = "24h"
	}
	if c.Heatmap.BinMode == "" {
		c.Heatmap.BinMode = "auto"
	}
	if c.Heatmap.Scale == "" {
		c.Heatmap.Scale = "log"
	}
	if len(c.Heatmap.Exchanges) == 0 {
		c.Heatmap.Exchanges = []string{"BINANCE", "BYBIT", "OKX", "BITMEX"}
	}
	if c.Heatmap.LogBuffer == 0 {
		c.Heatmap.LogBuffer = 1024
	}
	if c.Funding.PollSeconds == 0 {
		c.Funding.PollSeconds = 30
	}
	if c.Funding.OIPeriod == "" {
		c.Funding.OIPeriod = "5m"
	}
	if c.Funding.OILimit == 0 {
		c.Funding.OILimit = 200
	}
	if c.UI.RefreshRate == 0 {
		c.UI.RefreshRate = 1000
	}
}
