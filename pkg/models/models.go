package models

import (
	"time"
)

// PriceBar представляет свечу OHLCV
type PriceBar struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Side сторона ликвидированной позиции
type Side string

const (
	// SideLong принудительно закрыт лонг (рыночная продажа)
	SideLong Side = "long"
	// SideShort принудительно закрыт шорт (рыночная покупка)
	SideShort Side = "short"
)

// Биржи, поставляющие поток ликвидаций
const (
	ExchangeBinance = "BINANCE"
	ExchangeBybit   = "BYBIT"
	ExchangeOKX     = "OKX"
	ExchangeBitmex  = "BITMEX"
)

// LiquidationEvent представляет нормализованное событие ликвидации
type LiquidationEvent struct {
	Timestamp    time.Time
	Price        float64
	Side         Side
	QuantityBase float64 // количество в базовом активе (BTC)
	NotionalUSD  float64 // price * qty
	Exchange     string
}

// IndicatorSnapshot представляет срез индикаторов моментума для одного таймфрейма.
// Каждый индикатор деградирует отдельно: при нехватке истории его флаг
// сбрасывается, а остальные продолжают считаться.
type IndicatorSnapshot struct {
	Timeframe     string
	RSI           float64
	MACDLine      float64
	MACDSignal    float64
	ROC           float64
	RSIAvailable  bool
	MACDAvailable bool
	ROCAvailable  bool
	State         MomentumState
	Confidence    int // 0..100
	Available     bool // хотя бы один индикатор рассчитан
}

// MomentumState состояние моментума
type MomentumState string

const (
	StateBullish MomentumState = "bullish"
	StateBearish MomentumState = "bearish"
	StateNeutral MomentumState = "neutral"
)

// MomentumView результат мультитаймфреймового анализа моментума
type MomentumView struct {
	Snapshots      []IndicatorSnapshot
	CompositeScore float64
	CompositeState MomentumState
}

// LevelType тип уровня относительно текущей цены
type LevelType string

const (
	LevelSupport    LevelType = "support"
	LevelResistance LevelType = "resistance"
)

// LevelOrigin происхождение уровня
type LevelOrigin string

const (
	OriginVolume     LevelOrigin = "volume"
	OriginSwing      LevelOrigin = "swing"
	OriginFibonacci  LevelOrigin = "fibonacci"
	OriginConfluence LevelOrigin = "confluence"
)

// SRLevel представляет уровень поддержки или сопротивления
type SRLevel struct {
	Price       float64
	Type        LevelType
	Strength    int // 1..5
	Origin      LevelOrigin
	Probability float64 // 0..100
	Target      float64
}

// HeatmapCell ячейка сетки цена×время
type HeatmapCell struct {
	LongUSD  float64
	ShortUSD float64
	TotalUSD float64
}

// HeatmapCluster ценовой уровень с наибольшим суммарным объемом ликвидаций
type HeatmapCluster struct {
	Price    float64
	TotalUSD float64
}

// HeatmapView результат агрегации ликвидаций: плотная сетка плюс метаданные
type HeatmapView struct {
	Grid          [][]HeatmapCell // строки — ценовые бины по убыванию, столбцы — временные корзины
	Bins          []float64       // нижние границы бинов по возрастанию цены
	BinStep       float64
	BucketSize    time.Duration
	StartTime     time.Time
	TopClusters   []HeatmapCluster
	Scale         IntensityScale
	MaxCell       float64
	Uncalibrated  []string // биржи, конвертировавшие контракты дефолтным множителем
	EventsInRange int
}

// IntensityScale шкала интенсивности для отрисовки
type IntensityScale string

const (
	ScaleLinear IntensityScale = "linear"
	ScaleLog    IntensityScale = "log"
)

// FundingSnapshot представляет срез ставки финансирования и открытого интереса
type FundingSnapshot struct {
	FundingRate8h   float64
	NextFundingTime time.Time
	OINotionalUSD   float64
	ObservedAt      time.Time
}

// OIPoint точка ряда открытого интереса
type OIPoint struct {
	Timestamp time.Time
	ValueUSD  float64
}

// FundingView результат трекера финансирования и открытого интереса
type FundingView struct {
	Snapshot       FundingSnapshot
	Series         []OIPoint
	AnnualizedRate float64
	OIDelta        float64 // (последнее - первое) / первое
	WindowHours    float64
	Countdown      time.Duration
}

// MarketView объединенный снимок всех производных представлений
type MarketView struct {
	Symbol       string
	Timestamp    time.Time
	CurrentPrice float64
	Momentum     *MomentumView
	Levels       []SRLevel
	Heatmap      *HeatmapView
	Funding      *FundingView
}
