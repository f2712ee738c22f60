package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skalibog/bmsa/pkg/logger"
	"github.com/skalibog/bmsa/pkg/models"
	"go.uber.org/zap"
)

// RetentionHorizon максимальный горизонт хранения журнала ликвидаций
const RetentionHorizon = 7 * 24 * time.Hour

// maxBarsPerSeries ограничение памяти на один ряд свечей
const maxBarsPerSeries = 1500

// Storage интерфейс для работы с рыночными данными в памяти процесса.
// Все данные восстанавливаются из живых источников после перезапуска.
type Storage interface {
	// Методы для свечей
	SaveBars(ctx context.Context, bars []*models.PriceBar) error
	GetBars(ctx context.Context, symbol, interval string, limit int) ([]*models.PriceBar, error)

	// Методы для текущей цены
	SetCurrentPrice(symbol string, price float64)
	CurrentPrice(symbol string) float64

	// Методы для журнала ликвидаций
	AppendLiquidation(event models.LiquidationEvent)
	Liquidations(since time.Time) []models.LiquidationEvent
	LiquidationCount() int

	// Методы для финансирования и открытого интереса
	SaveFunding(snapshot models.FundingSnapshot, series []models.OIPoint)
	Funding() (models.FundingSnapshot, []models.OIPoint, bool)

	Close()
}

// MemoryStorage реализует Storage поверх памяти процесса
type MemoryStorage struct {
	mu sync.RWMutex

	bars   map[string][]*models.PriceBar // ключ symbol/interval, по возрастанию времени
	prices map[string]float64

	liquidations []models.LiquidationEvent // по возрастанию времени прихода

	fundingSnap   models.FundingSnapshot
	fundingSeries []models.OIPoint
	fundingReady  bool

	now func() time.Time // подменяется в тестах
}

// NewMemoryStorage создает новое хранилище в памяти
func NewMemoryStorage() *MemoryStorage {
	return NewMemoryStorageWithClock(time.Now)
}

// NewMemoryStorageWithClock создает хранилище с заданным источником времени.
// Горизонт хранения журнала отсчитывается от этих часов.
func NewMemoryStorageWithClock(now func() time.Time) *MemoryStorage {
	return &MemoryStorage{
		bars:   make(map[string][]*models.PriceBar),
		prices: make(map[string]float64),
		now:    now,
	}
}

// Close освобождает хранилище
func (s *MemoryStorage) Close() {}

func barKey(symbol, interval string) string {
	return symbol + "/" + interval
}

// SaveBars сохраняет пачку свечей, заменяя пересекающиеся по времени открытия
func (s *MemoryStorage) SaveBars(ctx context.Context, bars []*models.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := barKey(bars[0].Symbol, bars[0].Interval)
	existing := s.bars[key]

	merged := make(map[int64]*models.PriceBar, len(existing)+len(bars))
	for _, b := range existing {
		merged[b.OpenTime.UnixMilli()] = b
	}
	for _, b := range bars {
		merged[b.OpenTime.UnixMilli()] = b
	}

	out := make([]*models.PriceBar, 0, len(merged))
	for _, b := range merged {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenTime.Before(out[j].OpenTime)
	})

	if len(out) > maxBarsPerSeries {
		out = out[len(out)-maxBarsPerSeries:]
	}
	s.bars[key] = out

	return nil
}

// GetBars возвращает последние limit свечей по возрастанию времени открытия
func (s *MemoryStorage) GetBars(ctx context.Context, symbol, interval string, limit int) ([]*models.PriceBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.bars[barKey(symbol, interval)]
	if len(series) == 0 {
		return nil, fmt.Errorf("нет свечей для %s %s", symbol, interval)
	}

	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}

	out := make([]*models.PriceBar, len(series))
	copy(out, series)
	return out, nil
}

// SetCurrentPrice сохраняет последнюю наблюдаемую цену
func (s *MemoryStorage) SetCurrentPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// CurrentPrice возвращает последнюю наблюдаемую цену либо 0
func (s *MemoryStorage) CurrentPrice(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prices[symbol]
}

// AppendLiquidation добавляет событие в журнал и подрезает его до горизонта хранения.
// Вызывается единственной горутиной-писателем (см. RunLiquidationWriter).
func (s *MemoryStorage) AppendLiquidation(event models.LiquidationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.liquidations = append(s.liquidations, event)

	cutoff := s.now().Add(-RetentionHorizon)
	valid := s.liquidations[:0]
	for _, e := range s.liquidations {
		if !e.Timestamp.Before(cutoff) {
			valid = append(valid, e)
		}
	}
	s.liquidations = valid
}

// Liquidations возвращает события журнала не старше since
func (s *MemoryStorage) Liquidations(since time.Time) []models.LiquidationEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.LiquidationEvent, 0, len(s.liquidations))
	for _, e := range s.liquidations {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

// LiquidationCount возвращает текущую длину журнала
func (s *MemoryStorage) LiquidationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.liquidations)
}

// SaveFunding сохраняет срез финансирования и ряд открытого интереса целиком
func (s *MemoryStorage) SaveFunding(snapshot models.FundingSnapshot, series []models.OIPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fundingSnap = snapshot
	s.fundingSeries = make([]models.OIPoint, len(series))
	copy(s.fundingSeries, series)
	s.fundingReady = true
}

// Funding возвращает последний срез финансирования; false, если данных еще не было
func (s *MemoryStorage) Funding() (models.FundingSnapshot, []models.OIPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := make([]models.OIPoint, len(s.fundingSeries))
	copy(series, s.fundingSeries)
	return s.fundingSnap, series, s.fundingReady
}

// RunLiquidationWriter сливает события всех биржевых потоков в журнал.
// Единая точка записи: потоки публикуют в канал, пишет только эта горутина.
func RunLiquidationWriter(ctx context.Context, store Storage, events <-chan models.LiquidationEvent) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Остановка писателя журнала ликвидаций")
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			store.AppendLiquidation(e)
			logger.Debug("Ликвидация записана в журнал",
				zap.String("exchange", e.Exchange),
				zap.String("side", string(e.Side)),
				zap.Float64("price", e.Price),
				zap.Float64("notional_usd", e.NotionalUSD))
		}
	}
}
