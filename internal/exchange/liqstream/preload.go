package liqstream

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/skalibog/bmsa/pkg/logger"
	"github.com/skalibog/bmsa/pkg/models"
	"go.uber.org/zap"
)

const binanceRestURL = "https://fapi.binance.com"

// Preloader загружает недавнюю историю ликвидаций через REST,
// чтобы тепловая карта наполнялась сразу после запуска
type Preloader struct {
	binance *resty.Client
	okx     *resty.Client
	symbol  string
	instID  string
	ctVal   func() float64
}

// NewPreloader создает загрузчик истории
func NewPreloader(symbol, okxInstID string, ctVal func() float64) *Preloader {
	return &Preloader{
		binance: resty.New().SetBaseURL(binanceRestURL).SetTimeout(15 * time.Second),
		okx:     resty.New().SetBaseURL(okxRestURL).SetTimeout(15 * time.Second),
		symbol:  strings.ToUpper(symbol),
		instID:  strings.ToUpper(okxInstID),
		ctVal:   ctVal,
	}
}

// Preload собирает доступную историю со всех поддерживающих REST бирж.
// Ошибки отдельных источников не прерывают загрузку остальных.
func (p *Preloader) Preload(ctx context.Context, out chan<- models.LiquidationEvent) {
	total := 0
	for _, e := range p.preloadBinance(ctx) {
		publish(out, e)
		total++
	}
	for _, e := range p.preloadOKX(ctx) {
		publish(out, e)
		total++
	}
	logger.Info("Предзагружена история ликвидаций", zap.Int("events", total))
}

type binanceForceOrder struct {
	Symbol  string `json:"symbol"`
	Price   string `json:"price"`
	OrigQty string `json:"origQty"`
	Side    string `json:"side"`
	Time    int64  `json:"time"`
}

func (p *Preloader) preloadBinance(ctx context.Context) []models.LiquidationEvent {
	var rows []binanceForceOrder
	resp, err := p.binance.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": p.symbol,
			"limit":  "1000",
		}).
		SetResult(&rows).
		Get("/futures/data/liquidationOrders")
	if err != nil || resp.IsError() {
		logger.Warn("История ликвидаций Binance недоступна",
			zap.Error(err), zap.String("status", resp.Status()))
		return nil
	}

	events := make([]models.LiquidationEvent, 0, len(rows))
	for _, row := range rows {
		price, err1 := strconv.ParseFloat(row.Price, 64)
		qty, err2 := strconv.ParseFloat(row.OrigQty, 64)
		if err1 != nil || err2 != nil || price <= 0 || qty <= 0 {
			continue
		}
		side := models.SideShort
		if strings.EqualFold(row.Side, "sell") {
			side = models.SideLong
		}
		events = append(events, models.LiquidationEvent{
			Timestamp:    time.UnixMilli(row.Time),
			Price:        price,
			Side:         side,
			QuantityBase: qty,
			NotionalUSD:  price * qty,
			Exchange:     models.ExchangeBinance,
		})
	}
	return events
}

type okxLiquidationsResponse struct {
	Data []okxRow `json:"data"`
}

func (p *Preloader) preloadOKX(ctx context.Context) []models.LiquidationEvent {
	var result okxLiquidationsResponse
	resp, err := p.okx.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"instType": "SWAP",
			"instId":   p.instID,
			"state":    "filled",
			"limit":    "100",
		}).
		SetResult(&result).
		Get("/api/v5/public/liquidation-orders")
	if err != nil || resp.IsError() {
		logger.Warn("История ликвидаций OKX недоступна",
			zap.Error(err), zap.String("status", resp.Status()))
		return nil
	}

	ctVal := p.ctVal()
	var events []models.LiquidationEvent
	for _, row := range result.Data {
		if row.InstID != "" && !strings.EqualFold(row.InstID, p.instID) {
			continue
		}
		details := row.Details
		if len(details) == 0 {
			details = []okxDetail{row.okxDetail}
		}
		for _, d := range details {
			if e, ok := normalizeOKXDetail(d, ctVal); ok {
				events = append(events, e)
			}
		}
	}
	return events
}
