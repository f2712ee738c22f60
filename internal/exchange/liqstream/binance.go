package liqstream

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"github.com/skalibog/bmsa/pkg/logger"
	"github.com/skalibog/bmsa/pkg/models"
	"go.uber.org/zap"
)

// BinanceFeed поток принудительных закрытий Binance Futures
type BinanceFeed struct {
	symbol string
}

// NewBinanceFeed создает поток для указанного контракта
func NewBinanceFeed(symbol string) *BinanceFeed {
	return &BinanceFeed{symbol: symbol}
}

// Name возвращает идентификатор биржи
func (f *BinanceFeed) Name() string {
	return models.ExchangeBinance
}

// Run читает поток forceOrder до отмены контекста
func (f *BinanceFeed) Run(ctx context.Context, out chan<- models.LiquidationEvent) {
	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}

	for ctx.Err() == nil {
		doneC, stopC, err := futures.WsLiquidationOrderServe(f.symbol,
			func(event *futures.WsLiquidationOrderEvent) {
				e, ok := normalizeBinanceOrder(event.LiquidationOrder)
				if !ok {
					return
				}
				publish(out, e)
			},
			func(err error) {
				logger.Warn("Ошибка потока ликвидаций Binance", zap.Error(err))
			})
		if err != nil {
			delay := b.Duration()
			logger.Warn("Не удалось подключить поток ликвидаций Binance",
				zap.Duration("retry_in", delay), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		logger.Info("Подключен поток ликвидаций", zap.String("exchange", f.Name()))
		b.Reset()

		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
			// Поток закрылся со стороны биржи, переподключаемся
		}
	}
}

// normalizeBinanceOrder приводит forceOrder к единому событию.
// Принудительная продажа закрывает лонг, принудительная покупка закрывает шорт.
func normalizeBinanceOrder(o futures.WsLiquidationOrder) (models.LiquidationEvent, bool) {
	price, err := decimal.NewFromString(o.Price)
	if err != nil || !price.IsPositive() {
		return models.LiquidationEvent{}, false
	}
	qty, err := decimal.NewFromString(o.OrigQuantity)
	if err != nil || !qty.IsPositive() {
		return models.LiquidationEvent{}, false
	}

	side := models.SideShort
	if o.Side == futures.SideTypeSell {
		side = models.SideLong
	}

	priceF, _ := price.Float64()
	qtyF, _ := qty.Float64()
	notional, _ := price.Mul(qty).Float64()

	return models.LiquidationEvent{
		Timestamp:    time.UnixMilli(o.TradeTime),
		Price:        priceF,
		Side:         side,
		QuantityBase: qtyF,
		NotionalUSD:  notional,
		Exchange:     models.ExchangeBinance,
	}, true
}
