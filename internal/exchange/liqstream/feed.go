// Package liqstream подключает потоки принудительных закрытий позиций
// с нескольких бирж и приводит события к единому виду.
package liqstream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/skalibog/bmsa/pkg/logger"
	"github.com/skalibog/bmsa/pkg/models"
	"go.uber.org/zap"
)

// Feed поток ликвидаций одной биржи
type Feed interface {
	// Name возвращает идентификатор биржи (models.Exchange*)
	Name() string
	// Run читает поток до отмены контекста, публикуя события в out
	Run(ctx context.Context, out chan<- models.LiquidationEvent)
}

// StartAll запускает все потоки в отдельных горутинах
func StartAll(ctx context.Context, feeds []Feed, out chan<- models.LiquidationEvent) {
	for _, f := range feeds {
		f := f
		go f.Run(ctx, out)
	}
}

// publish отправляет событие не блокируя чтение сокета.
// При переполненном канале событие отбрасывается.
func publish(out chan<- models.LiquidationEvent, e models.LiquidationEvent) {
	select {
	case out <- e:
	default:
		logger.Warn("Канал событий переполнен, событие отброшено",
			zap.String("exchange", e.Exchange))
	}
}

// wsConfig параметры подключения к публичному websocket биржи
type wsConfig struct {
	name         string
	url          string
	onConnect    func(conn *websocket.Conn) error
	pingPayload  []byte
	pingInterval time.Duration
	handle       func(msg []byte, out chan<- models.LiquidationEvent)
}

// runWebsocket держит соединение открытым, переподключаясь с
// экспоненциальной задержкой после обрывов
func runWebsocket(ctx context.Context, cfg wsConfig, out chan<- models.LiquidationEvent) {
	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}

	for {
		if ctx.Err() != nil {
			return
		}

		if err := runConnection(ctx, cfg, out); err != nil {
			delay := b.Duration()
			logger.Warn("Соединение с биржей потеряно",
				zap.String("exchange", cfg.name),
				zap.Duration("retry_in", delay),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		// Соединение закрыто отменой контекста
		return
	}
}

// runConnection выполняет один сеанс: подключение, подписка, цикл чтения
func runConnection(ctx context.Context, cfg wsConfig, out chan<- models.LiquidationEvent) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, cfg.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if cfg.onConnect != nil {
		if err := cfg.onConnect(conn); err != nil {
			return err
		}
	}

	logger.Info("Подключен поток ликвидаций", zap.String("exchange", cfg.name))

	// Закрытие сокета по отмене контекста прерывает ReadMessage
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if cfg.pingInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := conn.WriteMessage(websocket.TextMessage, cfg.pingPayload); err != nil {
						return
					}
				}
			}
		}()
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		cfg.handle(msg, out)
	}
}
