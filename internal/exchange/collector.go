package exchange

import (
	"context"
	"time"

	"github.com/skalibog/bmsa/internal/config"
	"github.com/skalibog/bmsa/internal/storage"
	"github.com/skalibog/bmsa/pkg/logger"
	"go.uber.org/zap"
)

// DataCollector интерфейс сборщика рыночных данных
type DataCollector interface {
	Start(ctx context.Context) error
	Stop()
}

// CandleCollector периодически загружает свечи и текущую цену
type CandleCollector struct {
	client    *BinanceClient
	store     storage.Storage
	symbol    string
	intervals []string
	limit     int
}

// NewCandleCollector создает сборщик свечей для всех используемых таймфреймов
func NewCandleCollector(client *BinanceClient, store storage.Storage, symbol string, cfg config.AnalysisConfig) *CandleCollector {
	seen := map[string]bool{}
	intervals := make([]string, 0, len(cfg.Momentum.Timeframes)+1)
	for _, tf := range cfg.Momentum.Timeframes {
		if !seen[tf.Interval] {
			seen[tf.Interval] = true
			intervals = append(intervals, tf.Interval)
		}
	}
	if !seen[cfg.Levels.Interval] {
		intervals = append(intervals, cfg.Levels.Interval)
	}

	limit := cfg.Levels.Window
	if limit < 300 {
		limit = 300
	}
	if limit > 1500 {
		limit = 1500 // предел Binance на один запрос
	}

	return &CandleCollector{
		client:    client,
		store:     store,
		symbol:    symbol,
		intervals: intervals,
		limit:     limit,
	}
}

// Start запускает цикл сбора свечей
func (c *CandleCollector) Start(ctx context.Context) error {
	logger.Info("Запуск сборщика свечей",
		zap.String("symbol", c.symbol),
		zap.Strings("intervals", c.intervals))

	c.collect(ctx)

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// Stop останавливает сборщик
func (c *CandleCollector) Stop() {}

func (c *CandleCollector) collect(ctx context.Context) {
	for _, interval := range c.intervals {
		bars, err := c.client.GetKlines(ctx, c.symbol, interval, c.limit)
		if err != nil {
			logger.Warn("Не удалось получить свечи",
				zap.String("symbol", c.symbol),
				zap.String("interval", interval),
				zap.Error(err))
			continue
		}
		if err := c.store.SaveBars(ctx, bars); err != nil {
			logger.Warn("Не удалось сохранить свечи", zap.Error(err))
		}
	}

	price, err := c.client.GetCurrentPrice(ctx, c.symbol)
	if err != nil {
		logger.Warn("Не удалось получить текущую цену", zap.Error(err))
		return
	}
	c.store.SetCurrentPrice(c.symbol, price)
}

// FundingCollector периодически опрашивает ставку финансирования и открытый интерес
type FundingCollector struct {
	client *BinanceClient
	store  storage.Storage
	symbol string
	cfg    config.FundingConfig
}

// NewFundingCollector создает сборщик финансирования
func NewFundingCollector(client *BinanceClient, store storage.Storage, symbol string, cfg config.FundingConfig) *FundingCollector {
	return &FundingCollector{
		client: client,
		store:  store,
		symbol: symbol,
		cfg:    cfg,
	}
}

// Start запускает цикл опроса
func (c *FundingCollector) Start(ctx context.Context) error {
	logger.Info("Запуск сборщика финансирования",
		zap.String("symbol", c.symbol),
		zap.Int("poll_seconds", c.cfg.PollSeconds))

	c.poll(ctx)

	ticker := time.NewTicker(time.Duration(c.cfg.PollSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// Stop останавливает сборщик
func (c *FundingCollector) Stop() {}

// poll выполняет один опрос. При частичной ошибке хранилище не трогаем:
// потребители продолжают видеть предыдущий успешный срез.
func (c *FundingCollector) poll(ctx context.Context) {
	snap, err := c.client.GetFundingSnapshot(ctx, c.symbol)
	if err != nil {
		logger.Warn("Не удалось получить ставку финансирования", zap.Error(err))
		return
	}

	series, err := c.client.GetOpenInterestSeries(ctx, c.symbol, c.cfg.OIPeriod, c.cfg.OILimit)
	if err != nil {
		logger.Warn("Не удалось получить историю открытого интереса", zap.Error(err))
		return
	}
	if len(series) > 0 {
		snap.OINotionalUSD = series[len(series)-1].ValueUSD
	}

	c.store.SaveFunding(*snap, series)
}
