package liqstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/skalibog/bmsa/pkg/models"
)

const bybitWsURL = "wss://stream.bybit.com/v5/public/linear"

// BybitFeed поток ликвидаций линейных контрактов Bybit
type BybitFeed struct {
	symbol string
}

// NewBybitFeed создает поток для указанного контракта
func NewBybitFeed(symbol string) *BybitFeed {
	return &BybitFeed{symbol: strings.ToUpper(symbol)}
}

// Name возвращает идентификатор биржи
func (f *BybitFeed) Name() string {
	return models.ExchangeBybit
}

// Run читает поток до отмены контекста
func (f *BybitFeed) Run(ctx context.Context, out chan<- models.LiquidationEvent) {
	runWebsocket(ctx, wsConfig{
		name: f.Name(),
		url:  bybitWsURL,
		onConnect: func(conn *websocket.Conn) error {
			// Подписываемся на новый и устаревший топики для полноты покрытия
			sub := fmt.Sprintf(`{"op":"subscribe","args":["allLiquidation.%s","liquidation.%s"]}`, f.symbol, f.symbol)
			return conn.WriteMessage(websocket.TextMessage, []byte(sub))
		},
		pingPayload:  []byte(`{"op":"ping"}`),
		pingInterval: 20 * time.Second,
		handle: func(msg []byte, out chan<- models.LiquidationEvent) {
			for _, e := range parseBybitMessage(msg, f.symbol) {
				publish(out, e)
			}
		},
	}, out)
}

type bybitMessage struct {
	Topic string          `json:"topic"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

// bybitRow строка события; новый топик использует короткие ключи,
// устаревший полные
type bybitRow struct {
	Symbol      string `json:"symbol"`
	SymbolS     string `json:"s"`
	Side        string `json:"side"`
	SideS       string `json:"S"`
	Price       string `json:"price"`
	PriceS      string `json:"p"`
	Size        string `json:"size"`
	SizeS       string `json:"v"`
	UpdatedTime int64  `json:"updatedTime"`
	TimeS       int64  `json:"T"`
}

func pick(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// parseBybitMessage разбирает сообщение топика ликвидаций.
// Для линейных USDT-контрактов размер заявки трактуется как номинал в долларах,
// сторона ордера Buy означает закрытый лонг.
func parseBybitMessage(msg []byte, symbol string) []models.LiquidationEvent {
	var m bybitMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil
	}
	if !strings.HasPrefix(m.Topic, "allLiquidation") && !strings.HasPrefix(m.Topic, "liquidation") {
		return nil
	}
	if len(m.Data) == 0 {
		return nil
	}

	var rows []bybitRow
	if err := json.Unmarshal(m.Data, &rows); err != nil {
		// Устаревший топик присылает объект вместо массива
		var single bybitRow
		if err := json.Unmarshal(m.Data, &single); err != nil {
			return nil
		}
		rows = []bybitRow{single}
	}

	events := make([]models.LiquidationEvent, 0, len(rows))
	for _, row := range rows {
		sym := strings.ToUpper(pick(row.Symbol, row.SymbolS))
		if sym != "" && sym != symbol {
			continue
		}

		price, err := decimal.NewFromString(pick(row.Price, row.PriceS))
		if err != nil || !price.IsPositive() {
			continue
		}
		size, err := decimal.NewFromString(pick(row.Size, row.SizeS))
		if err != nil || !size.IsPositive() {
			continue
		}

		side := models.SideShort
		if strings.EqualFold(pick(row.Side, row.SideS), "buy") {
			side = models.SideLong
		}

		ts := row.UpdatedTime
		if ts == 0 {
			ts = row.TimeS
		}
		if ts == 0 {
			ts = m.TS
		}

		notional, _ := size.Float64()
		qty, _ := size.Div(price).Float64()
		priceF, _ := price.Float64()

		events = append(events, models.LiquidationEvent{
			Timestamp:    time.UnixMilli(ts),
			Price:        priceF,
			Side:         side,
			QuantityBase: qty,
			NotionalUSD:  notional,
			Exchange:     models.ExchangeBybit,
		})
	}
	return events
}
