package storage

import (
	"context"
	"testing"
	"time"

	"github.com/skalibog/bmsa/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBar(symbol, interval string, open time.Time, close float64) *models.PriceBar {
	return &models.PriceBar{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  open,
		Open:      close - 10,
		High:      close + 20,
		Low:       close - 20,
		Close:     close,
		Volume:    1.5,
		CloseTime: open.Add(time.Minute),
	}
}

func TestSaveBarsMergesByOpenTime(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveBars(ctx, []*models.PriceBar{
		testBar("BTCUSDT", "1m", base, 100),
		testBar("BTCUSDT", "1m", base.Add(time.Minute), 101),
	}))

	// Повторная запись того же времени открытия заменяет свечу
	require.NoError(t, s.SaveBars(ctx, []*models.PriceBar{
		testBar("BTCUSDT", "1m", base.Add(time.Minute), 105),
		testBar("BTCUSDT", "1m", base.Add(2*time.Minute), 102),
	}))

	bars, err := s.GetBars(ctx, "BTCUSDT", "1m", 0)
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, 100.0, bars[0].Close)
	assert.Equal(t, 105.0, bars[1].Close)
	assert.Equal(t, 102.0, bars[2].Close)
	assert.True(t, bars[0].OpenTime.Before(bars[1].OpenTime))
}

func TestGetBarsLimitReturnsLatest(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	bars := make([]*models.PriceBar, 0, 10)
	for i := 0; i < 10; i++ {
		bars = append(bars, testBar("BTCUSDT", "5m", base.Add(time.Duration(i)*5*time.Minute), float64(100+i)))
	}
	require.NoError(t, s.SaveBars(ctx, bars))

	got, err := s.GetBars(ctx, "BTCUSDT", "5m", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 107.0, got[0].Close)
	assert.Equal(t, 109.0, got[2].Close)
}

func TestGetBarsEmptySeries(t *testing.T) {
	s := NewMemoryStorage()

	_, err := s.GetBars(context.Background(), "ETHUSDT", "1h", 100)
	assert.Error(t, err)
}

func TestSeriesAreIndependentPerSymbolAndInterval(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveBars(ctx, []*models.PriceBar{testBar("BTCUSDT", "5m", base, 100)}))
	require.NoError(t, s.SaveBars(ctx, []*models.PriceBar{testBar("BTCUSDT", "15m", base, 200)}))

	got5, err := s.GetBars(ctx, "BTCUSDT", "5m", 0)
	require.NoError(t, err)
	got15, err := s.GetBars(ctx, "BTCUSDT", "15m", 0)
	require.NoError(t, err)

	require.Len(t, got5, 1)
	require.Len(t, got15, 1)
	assert.Equal(t, 100.0, got5[0].Close)
	assert.Equal(t, 200.0, got15[0].Close)
}

func TestAppendLiquidationPrunesOldEvents(t *testing.T) {
	s := NewMemoryStorage()
	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	old := models.LiquidationEvent{
		Timestamp:   now.Add(-RetentionHorizon - time.Hour),
		Price:       50000,
		Side:        models.SideLong,
		NotionalUSD: 1000,
		Exchange:    models.ExchangeBinance,
	}
	fresh := models.LiquidationEvent{
		Timestamp:   now.Add(-time.Hour),
		Price:       51000,
		Side:        models.SideShort,
		NotionalUSD: 2000,
		Exchange:    models.ExchangeBybit,
	}

	s.AppendLiquidation(old)
	s.AppendLiquidation(fresh)

	assert.Equal(t, 1, s.LiquidationCount())
	got := s.Liquidations(now.Add(-24 * time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, models.ExchangeBybit, got[0].Exchange)
}

func TestNewMemoryStorageWithClockKeepsBackdatedEvents(t *testing.T) {
	// Часы хранилища закреплены в прошлом: события тех же дат
	// остаются в пределах горизонта независимо от реального времени
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStorageWithClock(func() time.Time { return now })

	s.AppendLiquidation(models.LiquidationEvent{
		Timestamp:   now.Add(-6 * 24 * time.Hour),
		Price:       50000,
		Side:        models.SideLong,
		NotionalUSD: 1000,
		Exchange:    models.ExchangeBinance,
	})

	assert.Equal(t, 1, s.LiquidationCount())
}

func TestLiquidationsSinceFilter(t *testing.T) {
	s := NewMemoryStorage()
	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for _, age := range []time.Duration{time.Hour, 6 * time.Hour, 30 * time.Hour} {
		s.AppendLiquidation(models.LiquidationEvent{
			Timestamp:   now.Add(-age),
			Price:       50000,
			Side:        models.SideLong,
			NotionalUSD: 100,
			Exchange:    models.ExchangeBinance,
		})
	}

	assert.Len(t, s.Liquidations(now.Add(-24*time.Hour)), 2)
	assert.Len(t, s.Liquidations(now.Add(-48*time.Hour)), 3)
}

func TestFundingStaleButAvailable(t *testing.T) {
	s := NewMemoryStorage()

	_, _, ok := s.Funding()
	assert.False(t, ok)

	snap := models.FundingSnapshot{
		FundingRate8h:  0.0001,
		NextFundingTime: time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC),
		OINotionalUSD:  1e9,
		ObservedAt:     time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC),
	}
	series := []models.OIPoint{
		{Timestamp: snap.ObservedAt.Add(-10 * time.Minute), ValueUSD: 9.8e8},
		{Timestamp: snap.ObservedAt.Add(-5 * time.Minute), ValueUSD: 9.9e8},
	}
	s.SaveFunding(snap, series)

	gotSnap, gotSeries, ok := s.Funding()
	require.True(t, ok)
	assert.Equal(t, snap.FundingRate8h, gotSnap.FundingRate8h)
	require.Len(t, gotSeries, 2)

	// Возвращенная копия не влияет на хранимый ряд
	gotSeries[0].ValueUSD = 0
	_, again, _ := s.Funding()
	assert.Equal(t, 9.8e8, again[0].ValueUSD)
}

func TestRunLiquidationWriterDrainsChannel(t *testing.T) {
	s := NewMemoryStorage()
	ch := make(chan models.LiquidationEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunLiquidationWriter(ctx, s, ch)
		close(done)
	}()

	ch <- models.LiquidationEvent{Timestamp: time.Now(), Price: 50000, Side: models.SideLong, NotionalUSD: 500, Exchange: models.ExchangeOKX}
	ch <- models.LiquidationEvent{Timestamp: time.Now(), Price: 50100, Side: models.SideShort, NotionalUSD: 700, Exchange: models.ExchangeBitmex}

	assert.Eventually(t, func() bool {
		return s.LiquidationCount() == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("писатель не остановился по отмене контекста")
	}
}
