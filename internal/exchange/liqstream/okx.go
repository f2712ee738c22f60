package liqstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/skalibog/bmsa/pkg/logger"
	"github.com/skalibog/bmsa/pkg/models"
	"go.uber.org/zap"
)

const (
	okxWsURL   = "wss://ws.okx.com:8443/ws/v5/public"
	okxRestURL = "https://www.okx.com"

	// okxDefaultCtVal номинал контракта BTC-USDT-SWAP в BTC,
	// используется пока реальное значение не получено с биржи
	okxDefaultCtVal = 0.01
)

// OKXFeed поток ликвидаций бессрочных свопов OKX
type OKXFeed struct {
	instID     string
	rest       *resty.Client
	ctVal      atomic.Value // float64
	calibrated atomic.Bool
}

// NewOKXFeed создает поток для указанного инструмента
func NewOKXFeed(instID string) *OKXFeed {
	f := &OKXFeed{
		instID: strings.ToUpper(instID),
		rest: resty.New().
			SetBaseURL(okxRestURL).
			SetTimeout(10 * time.Second),
	}
	f.ctVal.Store(okxDefaultCtVal)
	return f
}

// Name возвращает идентификатор биржи
func (f *OKXFeed) Name() string {
	return models.ExchangeOKX
}

// Calibrated сообщает, получен ли реальный номинал контракта.
// До калибровки количества считаются по значению по умолчанию.
func (f *OKXFeed) Calibrated() bool {
	return f.calibrated.Load()
}

// ContractValue возвращает текущий номинал контракта в базовой монете
func (f *OKXFeed) ContractValue() float64 {
	return f.ctVal.Load().(float64)
}

type okxInstrumentsResponse struct {
	Code string `json:"code"`
	Data []struct {
		InstID string `json:"instId"`
		CtVal  string `json:"ctVal"`
	} `json:"data"`
}

// FetchContractValue запрашивает номинал контракта через REST.
// При ошибке остается значение по умолчанию, поток продолжает работу.
func (f *OKXFeed) FetchContractValue(ctx context.Context) error {
	var result okxInstrumentsResponse
	resp, err := f.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"instType": "SWAP",
			"instId":   f.instID,
		}).
		SetResult(&result).
		Get("/api/v5/public/instruments")
	if err != nil {
		return fmt.Errorf("ошибка запроса инструмента OKX: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("инструмент OKX: статус %s", resp.Status())
	}
	if len(result.Data) == 0 {
		return fmt.Errorf("инструмент %s не найден", f.instID)
	}

	cv, err := strconv.ParseFloat(result.Data[0].CtVal, 64)
	if err != nil || cv <= 0 {
		return fmt.Errorf("некорректный номинал контракта %q", result.Data[0].CtVal)
	}

	f.ctVal.Store(cv)
	f.calibrated.Store(true)
	logger.Info("Получен номинал контракта OKX",
		zap.String("inst_id", f.instID),
		zap.Float64("ct_val", cv))
	return nil
}

// Run читает канал liquidation-orders до отмены контекста
func (f *OKXFeed) Run(ctx context.Context, out chan<- models.LiquidationEvent) {
	if err := f.FetchContractValue(ctx); err != nil {
		logger.Warn("Номинал контракта OKX не получен, используется значение по умолчанию",
			zap.Float64("default", okxDefaultCtVal), zap.Error(err))
	}

	runWebsocket(ctx, wsConfig{
		name: f.Name(),
		url:  okxWsURL,
		onConnect: func(conn *websocket.Conn) error {
			sub := fmt.Sprintf(`{"op":"subscribe","args":[{"channel":"liquidation-orders","instType":"SWAP","instId":"%s"}]}`, f.instID)
			return conn.WriteMessage(websocket.TextMessage, []byte(sub))
		},
		pingPayload:  []byte("ping"),
		pingInterval: 25 * time.Second,
		handle: func(msg []byte, out chan<- models.LiquidationEvent) {
			for _, e := range parseOKXMessage(msg, f.instID, f.ContractValue()) {
				publish(out, e)
			}
		},
	}, out)
}

type okxDetail struct {
	Px          string `json:"px"`
	BkPx        string `json:"bkPx"`
	Sz          string `json:"sz"`
	Side        string `json:"side"`
	TS          string `json:"ts"`
	NotionalUsd string `json:"notionalUsd"`
}

type okxRow struct {
	InstID  string      `json:"instId"`
	Details []okxDetail `json:"details"`
	okxDetail
}

type okxMessage struct {
	Event string   `json:"event"`
	Data  []okxRow `json:"data"`
}

// parseOKXMessage разбирает сообщение канала liquidation-orders.
// Количество контрактов переводится в базовую монету через номинал;
// сторона ордера sell означает закрытый лонг.
func parseOKXMessage(msg []byte, instID string, ctVal float64) []models.LiquidationEvent {
	// Ответ на ping приходит простым текстом
	if string(msg) == "pong" {
		return nil
	}

	var m okxMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil
	}
	if m.Event != "" || len(m.Data) == 0 {
		return nil
	}

	var events []models.LiquidationEvent
	for _, row := range m.Data {
		if row.InstID != "" && !strings.EqualFold(row.InstID, instID) {
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

func normalizeOKXDetail(d okxDetail, ctVal float64) (models.LiquidationEvent, bool) {
	priceRaw := d.Px
	if priceRaw == "" {
		priceRaw = d.BkPx
	}
	price, err := decimal.NewFromString(priceRaw)
	if err != nil || !price.IsPositive() {
		return models.LiquidationEvent{}, false
	}
	sz, err := decimal.NewFromString(d.Sz)
	if err != nil || !sz.IsPositive() {
		return models.LiquidationEvent{}, false
	}

	priceF, _ := price.Float64()
	szF, _ := sz.Float64()

	qty := szF * ctVal
	if qty <= 0 && d.NotionalUsd != "" {
		if usd, err := strconv.ParseFloat(d.NotionalUsd, 64); err == nil && usd > 0 {
			qty = usd / priceF
		}
	}
	if qty <= 0 {
		return models.LiquidationEvent{}, false
	}

	side := models.SideShort
	if strings.EqualFold(d.Side, "sell") {
		side = models.SideLong
	}

	ts, _ := strconv.ParseInt(d.TS, 10, 64)
	when := time.Now()
	if ts > 0 {
		when = time.UnixMilli(ts)
	}

	return models.LiquidationEvent{
		Timestamp:    when,
		Price:        priceF,
		Side:         side,
		QuantityBase: qty,
		NotionalUSD:  priceF * qty,
		Exchange:     models.ExchangeOKX,
	}, true
}
