package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/skalibog/bmsa/internal/config"
	"github.com/skalibog/bmsa/pkg/models"
)

// BinanceClient клиент для взаимодействия с Binance Futures
type BinanceClient struct {
	futures *futures.Client
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) (*BinanceClient, error) {
	// UseTestnet переключается на уровне пакета до создания клиента
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	futuresClient := futures.NewClient(cfg.APIKey, cfg.APISecret)

	return &BinanceClient{
		futures: futuresClient,
	}, nil
}

// parsePrice разбирает строковое число из ответа биржи
func parsePrice(raw string) (float64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("ошибка разбора числа %q: %w", raw, err)
	}
	f, _ := d.Float64()
	return f, nil
}

// GetKlines получает исторические свечи
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.PriceBar, error) {
	klines, err := c.futures.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}

	bars := make([]*models.PriceBar, 0, len(klines))
	for _, k := range klines {
		open, err := parsePrice(k.Open)
		if err != nil {
			return nil, err
		}
		high, err := parsePrice(k.High)
		if err != nil {
			return nil, err
		}
		low, err := parsePrice(k.Low)
		if err != nil {
			return nil, err
		}
		closePrice, err := parsePrice(k.Close)
		if err != nil {
			return nil, err
		}
		volume, err := parsePrice(k.Volume)
		if err != nil {
			return nil, err
		}

		bars = append(bars, &models.PriceBar{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: time.UnixMilli(k.CloseTime),
		})
	}

	return bars, nil
}

// GetCurrentPrice получает последнюю цену контракта
func (c *BinanceClient) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.futures.NewListPricesService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения цены: %w", err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("не найдена цена для %s", symbol)
	}

	return parsePrice(prices[0].Price)
}

// GetFundingSnapshot получает текущую ставку финансирования
func (c *BinanceClient) GetFundingSnapshot(ctx context.Context, symbol string) (*models.FundingSnapshot, error) {
	rates, err := c.futures.NewPremiumIndexService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ставки финансирования: %w", err)
	}
	if len(rates) == 0 {
		return nil, fmt.Errorf("не найдены данные о ставке финансирования для %s", symbol)
	}

	rate, err := parsePrice(rates[0].LastFundingRate)
	if err != nil {
		return nil, err
	}

	return &models.FundingSnapshot{
		FundingRate8h:   rate,
		NextFundingTime: time.UnixMilli(rates[0].NextFundingTime),
		ObservedAt:      time.Now(),
	}, nil
}

// GetOpenInterestSeries получает историю открытого интереса в долларах
func (c *BinanceClient) GetOpenInterestSeries(ctx context.Context, symbol, period string, limit int) ([]models.OIPoint, error) {
	stats, err := c.futures.NewOpenInterestStatisticsService().
		Symbol(symbol).
		Period(period).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения открытого интереса: %w", err)
	}

	series := make([]models.OIPoint, 0, len(stats))
	for _, s := range stats {
		value, err := parsePrice(s.SumOpenInterestValue)
		if err != nil {
			return nil, err
		}
		series = append(series, models.OIPoint{
			Timestamp: time.UnixMilli(s.Timestamp),
			ValueUSD:  value,
		})
	}

	return series, nil
}
