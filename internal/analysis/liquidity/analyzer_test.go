package liquidity

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/skalibog/bmsa/internal/config"
	"github.com/skalibog/bmsa/internal/storage"
	"github.com/skalibog/bmsa/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultHeatmapConfig() config.HeatmapConfig {
	return config.HeatmapConfig{
		Range:     "24h",
		BinMode:   "auto",
		Scale:     "log",
		Exchanges: []string{models.ExchangeBinance, models.ExchangeBybit, models.ExchangeOKX, models.ExchangeBitmex},
	}
}

func TestBuildBinsAuto(t *testing.T) {
	bins, step := buildBins(50000, "auto")

	// Окно +/- 4000, шаг кратен 50
	assert.Equal(t, 350.0, step)
	require.NotEmpty(t, bins)
	assert.Equal(t, 46000.0, bins[0])
	assert.LessOrEqual(t, bins[len(bins)-1], 54000.0)
	for i := 1; i < len(bins); i++ {
		assert.InDelta(t, step, bins[i]-bins[i-1], 1e-9)
	}
}

func TestBuildBinsAutoWidePriceUsesPercentSpan(t *testing.T) {
	// 8% от 100000 больше минимального окна в 4000
	bins, step := buildBins(100000, "auto")
	assert.Equal(t, 650.0, step)
	assert.Equal(t, 92000.0, bins[0])
}

func TestBuildBinsFixed(t *testing.T) {
	bins, step := buildBins(50000, "100")
	assert.Equal(t, 100.0, step)
	require.Len(t, bins, 24)
	assert.Equal(t, 50000.0-1200, bins[0])
}

func TestRangeSpec(t *testing.T) {
	h, b := rangeSpec("24h")
	assert.Equal(t, 24*time.Hour, h)
	assert.Equal(t, 5*time.Minute, b)

	h, b = rangeSpec("48h")
	assert.Equal(t, 48*time.Hour, h)
	assert.Equal(t, 15*time.Minute, b)

	h, b = rangeSpec("7d")
	assert.Equal(t, 7*24*time.Hour, h)
	assert.Equal(t, time.Hour, b)
}

func seedEvent(store storage.Storage, ts time.Time, price, usd float64, side models.Side, exchange string) {
	store.AppendLiquidation(models.LiquidationEvent{
		Timestamp:    ts,
		Price:        price,
		Side:         side,
		QuantityBase: usd / price,
		NotionalUSD:  usd,
		Exchange:     exchange,
	})
}

func newTestAnalyzer(cfg config.HeatmapConfig, now time.Time) *Analyzer {
	a := NewAnalyzer(cfg, nil)
	a.now = func() time.Time { return now }
	return a
}

// newTestStore закрепляет часы хранилища на тех же тестовых часах,
// иначе подрезка журнала по реальному времени выбросит события
func newTestStore(now time.Time) *storage.MemoryStorage {
	return storage.NewMemoryStorageWithClock(func() time.Time { return now })
}

func TestAnalyzeMassConservation(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	a := newTestAnalyzer(defaultHeatmapConfig(), now)

	store := newTestStore(now)
	store.SetCurrentPrice("BTCUSDT", 50000)
	// События в середине диапазона, вдали от краев сетки
	seedEvent(store, now.Add(-12*time.Hour), 50000, 1000, models.SideLong, models.ExchangeBinance)
	seedEvent(store, now.Add(-10*time.Hour), 49500, 700, models.SideShort, models.ExchangeBybit)
	seedEvent(store, now.Add(-6*time.Hour), 50500, 300, models.SideLong, models.ExchangeOKX)

	view, err := a.Analyze(context.Background(), store, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, 3, view.EventsInRange)

	sum := 0.0
	for _, row := range view.Grid {
		for _, c := range row {
			sum += c.TotalUSD
		}
	}
	// Оба ядра нормированы, масса сохраняется
	assert.InDelta(t, 2000.0, sum, 1e-6)
}

func TestAnalyzeSingleEventDiffusion(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	a := newTestAnalyzer(defaultHeatmapConfig(), now)

	store := newTestStore(now)
	store.SetCurrentPrice("BTCUSDT", 50000)
	eventTime := now.Add(-12 * time.Hour)
	seedEvent(store, eventTime, 50000, 1000, models.SideLong, models.ExchangeBinance)

	view, err := a.Analyze(context.Background(), store, "BTCUSDT")
	require.NoError(t, err)

	levels := len(view.Bins)
	idx := int(math.Floor((50000 - view.Bins[0]) / view.BinStep))
	row := levels - 1 - idx
	col := int(eventTime.Sub(view.StartTime) / view.BucketSize)

	// Центральная ячейка: 0.5 по цене, 0.4 по времени
	assert.InDelta(t, 1000*0.5*0.4, view.Grid[row][col].TotalUSD, 1e-6)
	// Соседняя колонка: 0.5 * 0.2
	assert.InDelta(t, 1000*0.5*0.2, view.Grid[row][col+1].TotalUSD, 1e-6)
	assert.InDelta(t, 1000*0.5*0.2, view.Grid[row][col-1].TotalUSD, 1e-6)
	// Вторая колонка от центра: 0.5 * 0.1
	assert.InDelta(t, 1000*0.5*0.1, view.Grid[row][col+2].TotalUSD, 1e-6)
	// Соседние ценовые строки: 0.25 * 0.4
	assert.InDelta(t, 1000*0.25*0.4, view.Grid[row-1][col].TotalUSD, 1e-6)
	assert.InDelta(t, 1000*0.25*0.4, view.Grid[row+1][col].TotalUSD, 1e-6)

	// Длинная позиция: весь номинал в LongUSD
	assert.InDelta(t, view.Grid[row][col].TotalUSD, view.Grid[row][col].LongUSD, 1e-9)
	assert.Zero(t, view.Grid[row][col].ShortUSD)
}

func TestAnalyzeExchangeFilter(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	cfg := defaultHeatmapConfig()
	cfg.Exchanges = []string{models.ExchangeBinance}
	a := newTestAnalyzer(cfg, now)

	store := newTestStore(now)
	store.SetCurrentPrice("BTCUSDT", 50000)
	seedEvent(store, now.Add(-5*time.Hour), 50000, 1000, models.SideLong, models.ExchangeBinance)
	seedEvent(store, now.Add(-5*time.Hour), 50000, 9000, models.SideShort, models.ExchangeBybit)

	view, err := a.Analyze(context.Background(), store, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, view.EventsInRange)

	sum := 0.0
	for _, row := range view.Grid {
		for _, c := range row {
			sum += c.TotalUSD
		}
	}
	assert.InDelta(t, 1000.0, sum, 1e-6)
}

func TestAnalyzeDropsEventsOutsideGrid(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	a := newTestAnalyzer(defaultHeatmapConfig(), now)

	store := newTestStore(now)
	store.SetCurrentPrice("BTCUSDT", 50000)
	// Цена далеко за пределами ценового окна
	seedEvent(store, now.Add(-5*time.Hour), 90000, 1000, models.SideLong, models.ExchangeBinance)
	// Событие старше горизонта отображения
	seedEvent(store, now.Add(-30*time.Hour), 50000, 1000, models.SideLong, models.ExchangeBinance)

	view, err := a.Analyze(context.Background(), store, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0, view.EventsInRange)
}

func TestAnalyzeTopClusters(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	a := newTestAnalyzer(defaultHeatmapConfig(), now)

	store := newTestStore(now)
	store.SetCurrentPrice("BTCUSDT", 50000)
	for i := 0; i < 5; i++ {
		seedEvent(store, now.Add(-time.Duration(i+1)*time.Hour), 49000, 2000, models.SideLong, models.ExchangeBinance)
	}
	seedEvent(store, now.Add(-2*time.Hour), 52000, 500, models.SideShort, models.ExchangeBinance)

	view, err := a.Analyze(context.Background(), store, "BTCUSDT")
	require.NoError(t, err)
	require.NotEmpty(t, view.TopClusters)
	assert.LessOrEqual(t, len(view.TopClusters), 3)

	// Самый крупный кластер у 49000
	idx := int(math.Floor((49000 - view.Bins[0]) / view.BinStep))
	assert.InDelta(t, view.Bins[idx], view.TopClusters[0].Price, 1)
	assert.Greater(t, view.TopClusters[0].TotalUSD, view.TopClusters[1].TotalUSD)
}

func TestAnalyzeWithoutPrice(t *testing.T) {
	a := newTestAnalyzer(defaultHeatmapConfig(), time.Now())
	store := storage.NewMemoryStorage()

	view, err := a.Analyze(context.Background(), store, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestIntensityLogScale(t *testing.T) {
	max := 10000.0

	assert.Zero(t, Intensity(0, max, models.ScaleLog))
	assert.InDelta(t, 1.0, Intensity(max, max, models.ScaleLog), 1e-9)

	// Монотонность по возрастанию номинала
	prev := 0.0
	for _, v := range []float64{1, 10, 100, 1000, 5000, 10000} {
		cur := Intensity(v, max, models.ScaleLog)
		assert.Greater(t, cur, prev)
		prev = cur
	}

	// Логарифм сжимает: середина диапазона ярче, чем на линейной шкале
	assert.Greater(t, Intensity(1000, max, models.ScaleLog), Intensity(1000, max, models.ScaleLinear))
}

func TestIntensityLinearScale(t *testing.T) {
	assert.InDelta(t, 0.5, Intensity(500, 1000, models.ScaleLinear), 1e-9)
	assert.InDelta(t, 1.0, Intensity(2000, 1000, models.ScaleLinear), 1e-9) // клиппинг
	assert.Zero(t, Intensity(100, 0, models.ScaleLinear))
}
