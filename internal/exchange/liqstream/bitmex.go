package liqstream

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/skalibog/bmsa/pkg/models"
)

const bitmexWsURL = "wss://ws.bitmex.com/realtime?subscribe=liquidation"

// BitmexFeed поток ликвидаций обратных контрактов BitMEX
type BitmexFeed struct {
	symbol string
}

// NewBitmexFeed создает поток для указанного контракта
func NewBitmexFeed(symbol string) *BitmexFeed {
	return &BitmexFeed{symbol: strings.ToUpper(symbol)}
}

// Name возвращает идентификатор биржи
func (f *BitmexFeed) Name() string {
	return models.ExchangeBitmex
}

// Run читает таблицу liquidation до отмены контекста
func (f *BitmexFeed) Run(ctx context.Context, out chan<- models.LiquidationEvent) {
	runWebsocket(ctx, wsConfig{
		name:         f.Name(),
		url:          bitmexWsURL,
		pingPayload:  []byte("ping"),
		pingInterval: 30 * time.Second,
		handle: func(msg []byte, out chan<- models.LiquidationEvent) {
			for _, e := range parseBitmexMessage(msg, f.symbol) {
				publish(out, e)
			}
		},
	}, out)
}

type bitmexRow struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	LeavesQty float64 `json:"leavesQty"`
	OrderQty  float64 `json:"orderQty"`
	Timestamp string  `json:"timestamp"`
}

type bitmexMessage struct {
	Table  string      `json:"table"`
	Action string      `json:"action"`
	Data   []bitmexRow `json:"data"`
}

// parseBitmexMessage разбирает таблицу liquidation.
// Для обратного контракта XBTUSD один контракт равен одному доллару,
// сторона ордера Sell означает закрытый лонг.
func parseBitmexMessage(msg []byte, symbol string) []models.LiquidationEvent {
	if string(msg) == "pong" {
		return nil
	}

	var m bitmexMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil
	}
	if m.Table != "liquidation" || len(m.Data) == 0 {
		return nil
	}
	if m.Action != "insert" && m.Action != "partial" {
		return nil
	}

	events := make([]models.LiquidationEvent, 0, len(m.Data))
	for _, row := range m.Data {
		if !strings.EqualFold(row.Symbol, symbol) {
			continue
		}
		if row.Price <= 0 {
			continue
		}
		contracts := row.LeavesQty
		if contracts <= 0 {
			contracts = row.OrderQty
		}
		if contracts <= 0 {
			continue
		}

		side := models.SideShort
		if strings.EqualFold(row.Side, "sell") {
			side = models.SideLong
		}

		when := time.Now()
		if row.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339, row.Timestamp); err == nil {
				when = ts
			}
		}

		events = append(events, models.LiquidationEvent{
			Timestamp:    when,
			Price:        row.Price,
			Side:         side,
			QuantityBase: contracts / row.Price,
			NotionalUSD:  contracts,
			Exchange:     models.ExchangeBitmex,
		})
	}
	return events
}
