package levels

import (
	"context"
	"testing"
	"time"

	"github.com/skalibog/bmsa/internal/config"
	"github.com/skalibog/bmsa/internal/storage"
	"github.com/skalibog/bmsa/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultLevelsConfig() config.LevelsConfig {
	return config.LevelsConfig{
		Interval:         "5m",
		Window:           1000,
		Method:           "all",
		Count:            10,
		PivotWindow:      3,
		ProfileBins:      40,
		FibLookback:      200,
		ClusterTolerance: 0.0025,
	}
}

func barAt(i int, high, low, close, volume float64) *models.PriceBar {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return &models.PriceBar{
		Symbol:    "BTCUSDT",
		Interval:  "5m",
		OpenTime:  base.Add(time.Duration(i) * 5 * time.Minute),
		Open:      close,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		CloseTime: base.Add(time.Duration(i+1) * 5 * time.Minute),
	}
}

func TestSwingCandidatesFindPivots(t *testing.T) {
	a := NewAnalyzer(defaultLevelsConfig())

	// Ровный ряд с одним выраженным максимумом в середине
	bars := make([]*models.PriceBar, 0, 21)
	for i := 0; i < 21; i++ {
		h, l, c := 50100.0, 49900.0, 50000.0
		if i == 10 {
			h, l, c = 52000.0, 50000.0, 51500.0
		}
		bars = append(bars, barAt(i, h, l, c, 10))
	}

	cands := a.swingCandidates(bars)
	require.NotEmpty(t, cands)

	found := false
	for _, c := range cands {
		if c.price == 52000.0 {
			found = true
			assert.Equal(t, models.OriginSwing, c.origin)
			assert.GreaterOrEqual(t, c.strength, 1)
			assert.LessOrEqual(t, c.strength, 5)
			assert.LessOrEqual(t, c.probability, 100.0)
		}
	}
	assert.True(t, found, "максимум на 52000 должен стать кандидатом")
}

func TestVolumeCandidatesConcentration(t *testing.T) {
	a := NewAnalyzer(defaultLevelsConfig())

	// Почти весь оборот сосредоточен около 50000
	bars := make([]*models.PriceBar, 0, 40)
	for i := 0; i < 40; i++ {
		price := 48000 + float64(i)*100
		vol := 1.0
		if price >= 49800 && price <= 50200 {
			vol = 100.0
		}
		bars = append(bars, barAt(i, price+50, price-50, price, vol))
	}

	cands := a.volumeCandidates(bars)
	require.NotEmpty(t, cands)

	best := cands[0]
	for _, c := range cands {
		if c.probability > best.probability {
			best = c
		}
	}
	assert.InDelta(t, 50000, best.price, 300)
	assert.Equal(t, models.OriginVolume, best.origin)
}

func TestFibonacciCandidatesRatios(t *testing.T) {
	a := NewAnalyzer(defaultLevelsConfig())

	bars := []*models.PriceBar{}
	for i := 0; i < 50; i++ {
		bars = append(bars, barAt(i, 60000, 50000, 55000, 1))
	}

	cands := a.fibonacciCandidates(bars)
	require.Len(t, cands, 3)
	assert.InDelta(t, 60000-0.382*10000, cands[0].price, 1e-6)
	assert.InDelta(t, 55000, cands[1].price, 1e-6)
	assert.InDelta(t, 60000-0.618*10000, cands[2].price, 1e-6)
	for _, c := range cands {
		assert.Equal(t, models.OriginFibonacci, c.origin)
	}
}

func TestMergeGroupFormula(t *testing.T) {
	group := []candidate{
		{price: 50000, probability: 80, strength: 4, origin: models.OriginSwing},
		{price: 50050, probability: 60, strength: 3, origin: models.OriginVolume},
	}

	m := mergeGroup(group)
	// 0.6*max + 0.2*sum = 48 + 28 = 76
	assert.InDelta(t, 76, m.probability, 1e-9)
	assert.Equal(t, 4, m.strength)
	assert.Equal(t, models.OriginConfluence, m.origin)

	// Цена — среднее, взвешенное вероятностями
	expected := (50000*80 + 50050*60) / 140.0
	assert.InDelta(t, expected, m.price, 1e-9)
}

func TestMergeGroupProbabilityClamped(t *testing.T) {
	group := []candidate{
		{price: 50000, probability: 95, strength: 5, origin: models.OriginSwing},
		{price: 50010, probability: 95, strength: 5, origin: models.OriginSwing},
		{price: 50020, probability: 95, strength: 5, origin: models.OriginSwing},
	}

	m := mergeGroup(group)
	assert.LessOrEqual(t, m.probability, 100.0)
	assert.Equal(t, models.OriginSwing, m.origin)
}

func TestClusterIdempotent(t *testing.T) {
	cands := []candidate{
		{price: 49000, probability: 50, strength: 2, origin: models.OriginVolume},
		{price: 49050, probability: 70, strength: 3, origin: models.OriginSwing},
		{price: 50000, probability: 60, strength: 3, origin: models.OriginFibonacci},
		{price: 51000, probability: 40, strength: 2, origin: models.OriginVolume},
		{price: 51020, probability: 45, strength: 2, origin: models.OriginVolume},
	}
	tolerance := 0.0025 * 50000

	once := cluster(cands, tolerance)
	twice := cluster(once, tolerance)
	assert.Equal(t, once, twice)

	// Пары в пределах допуска слиты
	assert.Len(t, once, 3)
}

func TestRankProximityBonus(t *testing.T) {
	a := NewAnalyzer(defaultLevelsConfig())

	cands := []candidate{
		{price: 50100, probability: 70, strength: 3, origin: models.OriginSwing},  // рядом с ценой
		{price: 60000, probability: 70, strength: 3, origin: models.OriginSwing},  // далеко
	}

	ranked := a.rank(cands, 50000)
	require.Len(t, ranked, 2)
	assert.Equal(t, 50100.0, ranked[0].Price)
	assert.Equal(t, models.LevelResistance, ranked[0].Type)
}

func TestAssignTargets(t *testing.T) {
	a := NewAnalyzer(defaultLevelsConfig())

	levels := []models.SRLevel{
		{Price: 49000, Type: models.LevelSupport},
		{Price: 48000, Type: models.LevelSupport},
		{Price: 51000, Type: models.LevelResistance},
	}
	a.assignTargets(levels, 50000)

	// Цель поддержки 49000 — следующая поддержка ниже
	assert.Equal(t, 48000.0, levels[0].Target)
	// Ниже 48000 уровней нет: экстраполяция -2.5%
	assert.InDelta(t, 48000*0.975, levels[1].Target, 1e-6)
	// Выше 51000 уровней нет: экстраполяция +2.5%
	assert.InDelta(t, 51000*1.025, levels[2].Target, 1e-6)
}

func TestAnalyzeWithoutPriceReturnsEmpty(t *testing.T) {
	a := NewAnalyzer(defaultLevelsConfig())
	store := storage.NewMemoryStorage()

	levels, err := a.Analyze(context.Background(), store, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, levels)
}

func TestAnalyzeEndToEnd(t *testing.T) {
	cfg := defaultLevelsConfig()
	cfg.Count = 5
	a := NewAnalyzer(cfg)

	store := storage.NewMemoryStorage()
	bars := make([]*models.PriceBar, 0, 300)
	for i := 0; i < 300; i++ {
		// Цена колеблется между 48000 и 52000
		base := 50000 + 2000*float64((i%40)-20)/20
		bars = append(bars, barAt(i, base+100, base-100, base, 5))
	}
	require.NoError(t, store.SaveBars(context.Background(), bars))
	store.SetCurrentPrice("BTCUSDT", 50000)

	levels, err := a.Analyze(context.Background(), store, "BTCUSDT")
	require.NoError(t, err)
	require.NotEmpty(t, levels)
	assert.LessOrEqual(t, len(levels), 5)

	for _, l := range levels {
		assert.Greater(t, l.Price, 0.0)
		assert.GreaterOrEqual(t, l.Probability, 0.0)
		assert.LessOrEqual(t, l.Probability, 100.0)
		assert.GreaterOrEqual(t, l.Strength, 1)
		assert.LessOrEqual(t, l.Strength, 5)
		assert.NotZero(t, l.Target)
		if l.Type == models.LevelSupport {
			assert.Less(t, l.Price, 50000.0)
		} else {
			assert.GreaterOrEqual(t, l.Price, 50000.0)
		}
	}
}
