package levels

import (
	"context"
	"math"
	"sort"

	"github.com/skalibog/bmsa/internal/config"
	"github.com/skalibog/bmsa/internal/storage"
	"github.com/skalibog/bmsa/pkg/logger"
	"github.com/skalibog/bmsa/pkg/models"
	"go.uber.org/zap"
)

// Analyzer реализует построение уровней поддержки и сопротивления
type Analyzer struct {
	config config.LevelsConfig
}

// NewAnalyzer создает новый анализатор уровней
func NewAnalyzer(cfg config.LevelsConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Веса компонент оценки разворотной точки
const (
	ampWeight   = 0.6
	valueWeight = 0.4

	// minProfileShare минимальная доля от максимума бина,
	// чтобы бин профиля объема стал кандидатом
	minProfileShare = 0.2

	// targetFallbackPct запасной сдвиг цели, когда дальше уровней нет
	targetFallbackPct = 0.025
)

// candidate кандидат в уровни до кластеризации
type candidate struct {
	price       float64
	probability float64
	strength    int
	origin      models.LevelOrigin
}

// Analyze строит отсортированный список уровней вокруг текущей цены.
// При отсутствии данных возвращается пустой список, а не ошибка.
func (a *Analyzer) Analyze(ctx context.Context, store storage.Storage, symbol string) ([]models.SRLevel, error) {
	currentPrice := store.CurrentPrice(symbol)
	if currentPrice <= 0 {
		logger.Warn("Текущая цена неизвестна, уровни не рассчитаны", zap.String("symbol", symbol))
		return nil, nil
	}

	bars, err := store.GetBars(ctx, symbol, a.config.Interval, a.config.Window)
	if err != nil || len(bars) < a.config.PivotWindow*2+1 {
		logger.Warn("Недостаточно свечей для расчета уровней",
			zap.String("symbol", symbol),
			zap.Int("have", len(bars)),
			zap.Error(err))
		return nil, nil
	}

	var candidates []candidate
	if a.methodEnabled("swing") {
		candidates = append(candidates, a.swingCandidates(bars)...)
	}
	if a.methodEnabled("volume") {
		candidates = append(candidates, a.volumeCandidates(bars)...)
	}
	if a.methodEnabled("fibonacci") {
		candidates = append(candidates, a.fibonacciCandidates(bars)...)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	clustered := cluster(candidates, a.config.ClusterTolerance*currentPrice)
	ranked := a.rank(clustered, currentPrice)

	if len(ranked) > a.config.Count {
		ranked = ranked[:a.config.Count]
	}
	a.assignTargets(ranked, currentPrice)

	return ranked, nil
}

func (a *Analyzer) methodEnabled(method string) bool {
	return a.config.Method == "all" || a.config.Method == method
}

// typicalPrice средняя цена свечи
func typicalPrice(b *models.PriceBar) float64 {
	return (b.High + b.Low + b.Close) / 3
}

// tradedValue оборот свечи в долларах
func tradedValue(b *models.PriceBar) float64 {
	return b.Volume * typicalPrice(b)
}

// swingCandidates находит разворотные точки в симметричном окне.
// Оценка точки смешивает локальную амплитуду и оборот свечи.
func (a *Analyzer) swingCandidates(bars []*models.PriceBar) []candidate {
	w := a.config.PivotWindow

	maxValue := 0.0
	for _, b := range bars {
		if v := tradedValue(b); v > maxValue {
			maxValue = v
		}
	}

	type pivot struct {
		price     float64
		amplitude float64
		value     float64
	}
	var pivots []pivot

	for i := w; i < len(bars)-w; i++ {
		isHigh := true
		isLow := true
		windowHigh := bars[i].High
		windowLow := bars[i].Low
		for j := i - w; j <= i+w; j++ {
			if j == i {
				continue
			}
			if bars[j].High > bars[i].High {
				isHigh = false
			}
			if bars[j].Low < bars[i].Low {
				isLow = false
			}
			if bars[j].High > windowHigh {
				windowHigh = bars[j].High
			}
			if bars[j].Low < windowLow {
				windowLow = bars[j].Low
			}
		}
		if !isHigh && !isLow {
			continue
		}

		price := bars[i].High
		if isLow {
			price = bars[i].Low
		}
		amplitude := 0.0
		if price > 0 {
			amplitude = (windowHigh - windowLow) / price
		}
		pivots = append(pivots, pivot{price: price, amplitude: amplitude, value: tradedValue(bars[i])})
	}
	if len(pivots) == 0 {
		return nil
	}

	maxAmp := 0.0
	for _, p := range pivots {
		if p.amplitude > maxAmp {
			maxAmp = p.amplitude
		}
	}

	out := make([]candidate, 0, len(pivots))
	for _, p := range pivots {
		ampScore := 0.0
		if maxAmp > 0 {
			ampScore = p.amplitude / maxAmp
		}
		valueScore := 0.0
		if maxValue > 0 {
			valueScore = p.value / maxValue
		}
		score := ampWeight*ampScore + valueWeight*valueScore

		out = append(out, candidate{
			price:       p.price,
			probability: clampProb(35 + 60*score),
			strength:    strengthFromScore(score),
			origin:      models.OriginSwing,
		})
	}
	return out
}

// volumeCandidates строит профиль объема по средней цене свечей
func (a *Analyzer) volumeCandidates(bars []*models.PriceBar) []candidate {
	lo := math.Inf(1)
	hi := math.Inf(-1)
	for _, b := range bars {
		tp := typicalPrice(b)
		if tp < lo {
			lo = tp
		}
		if tp > hi {
			hi = tp
		}
	}
	if !(hi > lo) {
		return nil
	}

	bins := make([]float64, a.config.ProfileBins)
	step := (hi - lo) / float64(a.config.ProfileBins)
	for _, b := range bars {
		idx := int((typicalPrice(b) - lo) / step)
		if idx >= len(bins) {
			idx = len(bins) - 1
		}
		bins[idx] += tradedValue(b)
	}

	maxBin := 0.0
	for _, v := range bins {
		if v > maxBin {
			maxBin = v
		}
	}
	if maxBin == 0 {
		return nil
	}

	var out []candidate
	for i, v := range bins {
		share := v / maxBin
		if share < minProfileShare {
			continue
		}
		out = append(out, candidate{
			price:       lo + (float64(i)+0.5)*step,
			probability: clampProb(100 * share * 0.9),
			strength:    strengthFromScore(share),
			origin:      models.OriginVolume,
		})
	}
	return out
}

// fibonacciCandidates считает уровни коррекции от размаха последних свечей
func (a *Analyzer) fibonacciCandidates(bars []*models.PriceBar) []candidate {
	lookback := a.config.FibLookback
	if len(bars) < lookback {
		lookback = len(bars)
	}
	window := bars[len(bars)-lookback:]

	hi := window[0].High
	lo := window[0].Low
	for _, b := range window {
		if b.High > hi {
			hi = b.High
		}
		if b.Low < lo {
			lo = b.Low
		}
	}
	if !(hi > lo) {
		return nil
	}

	ratios := []struct {
		ratio       float64
		probability float64
		strength    int
	}{
		{0.382, 60, 3},
		{0.5, 65, 4},
		{0.618, 60, 3},
	}

	out := make([]candidate, 0, len(ratios))
	for _, r := range ratios {
		out = append(out, candidate{
			price:       hi - r.ratio*(hi-lo),
			probability: r.probability,
			strength:    r.strength,
			origin:      models.OriginFibonacci,
		})
	}
	return out
}

// cluster сливает кандидатов в пределах допуска по цене.
// Слияние повторяется до стабилизации, поэтому повторная
// кластеризация результата ничего не меняет.
func cluster(candidates []candidate, tolerance float64) []candidate {
	merged := make([]candidate, len(candidates))
	copy(merged, candidates)

	for {
		next := mergeOnce(merged, tolerance)
		if len(next) == len(merged) {
			return next
		}
		merged = next
	}
}

func mergeOnce(candidates []candidate, tolerance float64) []candidate {
	if len(candidates) < 2 {
		return candidates
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].price < candidates[j].price
	})

	out := make([]candidate, 0, len(candidates))
	group := []candidate{candidates[0]}
	for _, c := range candidates[1:] {
		if c.price-group[len(group)-1].price <= tolerance {
			group = append(group, c)
			continue
		}
		out = append(out, mergeGroup(group))
		group = []candidate{c}
	}
	out = append(out, mergeGroup(group))
	return out
}

// mergeGroup схлопывает группу кандидатов в один уровень
func mergeGroup(group []candidate) candidate {
	if len(group) == 1 {
		return group[0]
	}

	sumProb := 0.0
	maxProb := 0.0
	maxStrength := 0
	weightedPrice := 0.0
	origin := group[0].origin
	mixed := false

	for _, c := range group {
		sumProb += c.probability
		if c.probability > maxProb {
			maxProb = c.probability
		}
		if c.strength > maxStrength {
			maxStrength = c.strength
		}
		weightedPrice += c.price * c.probability
		if c.origin != origin {
			mixed = true
		}
	}
	if mixed {
		origin = models.OriginConfluence
	}

	price := weightedPrice / sumProb
	return candidate{
		price:       price,
		probability: clampProb(0.6*maxProb + 0.2*sumProb),
		strength:    maxStrength,
		origin:      origin,
	}
}

// rank сортирует уровни по вероятности с мягким бонусом за близость к цене
func (a *Analyzer) rank(candidates []candidate, currentPrice float64) []models.SRLevel {
	type scored struct {
		level models.SRLevel
		score float64
	}

	out := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		levelType := models.LevelSupport
		if c.price >= currentPrice {
			levelType = models.LevelResistance
		}

		proximity := math.Min(0.15, math.Abs(c.price-currentPrice)/(0.15*currentPrice))
		out = append(out, scored{
			level: models.SRLevel{
				Price:       c.price,
				Type:        levelType,
				Strength:    c.strength,
				Origin:      c.origin,
				Probability: c.probability,
			},
			score: c.probability * (1 - proximity),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].score > out[j].score
	})

	levels := make([]models.SRLevel, len(out))
	for i, s := range out {
		levels[i] = s.level
	}
	return levels
}

// assignTargets назначает каждому уровню цель: следующий уровень
// дальше от текущей цены в ту же сторону
func (a *Analyzer) assignTargets(levels []models.SRLevel, currentPrice float64) {
	for i := range levels {
		l := &levels[i]
		target := 0.0
		for _, other := range levels {
			if other.Type != l.Type {
				continue
			}
			if l.Type == models.LevelSupport && other.Price < l.Price {
				if target == 0 || other.Price > target {
					target = other.Price
				}
			}
			if l.Type == models.LevelResistance && other.Price > l.Price {
				if target == 0 || other.Price < target {
					target = other.Price
				}
			}
		}
		if target == 0 {
			if l.Type == models.LevelSupport {
				target = l.Price * (1 - targetFallbackPct)
			} else {
				target = l.Price * (1 + targetFallbackPct)
			}
		}
		l.Target = target
	}
}

func clampProb(p float64) float64 {
	return math.Max(0, math.Min(100, p))
}

func strengthFromScore(score float64) int {
	s := 1 + int(math.Round(4*math.Max(0, math.Min(1, score))))
	if s > 5 {
		s = 5
	}
	return s
}
