package momentum

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/bmsa/internal/config"
	"github.com/skalibog/bmsa/internal/storage"
	"github.com/skalibog/bmsa/pkg/logger"
	"github.com/skalibog/bmsa/pkg/models"
	"go.uber.org/zap"
)

// Analyzer реализует мультитаймфреймовый анализатор моментума
type Analyzer struct {
	config config.MomentumConfig
}

// NewAnalyzer создает новый анализатор моментума
func NewAnalyzer(cfg config.MomentumConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Веса компонент в оценке таймфрейма
const (
	rsiWeight  = 0.45
	rocWeight  = 0.35
	macdWeight = 0.20

	// Диапазоны нормализации компонент
	rsiSpan = 25.0 // отклонение RSI от 50
	rocSpan = 2.0  // процент изменения цены

	macdContribution = 0.6 // вклад знака гистограммы MACD
)

// Analyze считает индикаторы по всем таймфреймам и композитную оценку
func (a *Analyzer) Analyze(ctx context.Context, store storage.Storage, symbol string) (*models.MomentumView, error) {
	view := &models.MomentumView{
		Snapshots: make([]models.IndicatorSnapshot, 0, len(a.config.Timeframes)),
	}

	weightedSum := 0.0
	weightTotal := 0.0

	for _, tf := range a.config.Timeframes {
		snapshot := a.analyzeTimeframe(ctx, store, symbol, tf.Interval)
		view.Snapshots = append(view.Snapshots, snapshot)

		// Композит складывается из знака состояния и уверенности:
		// нейтральный таймфрейм не вносит вклада
		if snapshot.Available {
			weightedSum += tf.Weight * stateSign(snapshot.State) * float64(snapshot.Confidence) / 100
			weightTotal += tf.Weight
		}
	}

	if weightTotal == 0 {
		return nil, fmt.Errorf("нет таймфреймов с достаточными данными для %s", symbol)
	}

	// Веса перенормируются по доступным таймфреймам
	view.CompositeScore = weightedSum / weightTotal
	view.CompositeState = a.stateFor(view.CompositeScore, a.config.CompositeThreshold)

	return view, nil
}

// analyzeTimeframe считает снимок индикаторов одного таймфрейма.
// При нехватке истории возвращается недоступный снимок, а не ошибка.
func (a *Analyzer) analyzeTimeframe(ctx context.Context, store storage.Storage, symbol, interval string) models.IndicatorSnapshot {
	snapshot := models.IndicatorSnapshot{
		Timeframe: interval,
		State:     models.StateNeutral,
	}

	bars, err := store.GetBars(ctx, symbol, interval, 0)
	if err != nil {
		logger.Warn("Свечи недоступны для таймфрейма",
			zap.String("symbol", symbol),
			zap.String("interval", interval),
			zap.Error(err))
		return snapshot
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	// Каждый индикатор деградирует отдельно при нехватке истории
	if len(closes) >= a.config.RSIPeriod+1 {
		rsi := talib.Rsi(closes, a.config.RSIPeriod)
		snapshot.RSI = rsi[len(rsi)-1]
		snapshot.RSIAvailable = true
	}
	if len(closes) >= a.config.MACDSlow+a.config.MACDSignal {
		macd, macdSignal, _ := talib.Macd(closes, a.config.MACDFast, a.config.MACDSlow, a.config.MACDSignal)
		snapshot.MACDLine = macd[len(macd)-1]
		snapshot.MACDSignal = macdSignal[len(macdSignal)-1]
		snapshot.MACDAvailable = true
	}
	if len(closes) >= a.config.ROCPeriod+1 {
		roc := talib.Roc(closes, a.config.ROCPeriod)
		snapshot.ROC = roc[len(roc)-1]
		snapshot.ROCAvailable = true
	}

	snapshot.Available = snapshot.RSIAvailable || snapshot.MACDAvailable || snapshot.ROCAvailable
	if !snapshot.Available {
		logger.Warn("Недостаточно свечей для расчета индикаторов",
			zap.String("interval", interval),
			zap.Int("have", len(bars)))
		return snapshot
	}

	score := a.timeframeScore(snapshot)
	snapshot.State = a.stateFor(score, a.config.StateThreshold)
	snapshot.Confidence = int(math.Round(100 * math.Min(1, math.Abs(score))))

	return snapshot
}

// timeframeScore сводит доступные индикаторы таймфрейма в оценку [-1, 1].
// Веса перенормируются по рассчитанным компонентам.
func (a *Analyzer) timeframeScore(s models.IndicatorSnapshot) float64 {
	sum := 0.0
	weights := 0.0

	if s.RSIAvailable {
		sum += rsiWeight * clamp((s.RSI-50)/rsiSpan, -1, 1)
		weights += rsiWeight
	}
	if s.ROCAvailable {
		sum += rocWeight * clamp(s.ROC/rocSpan, -1, 1)
		weights += rocWeight
	}
	if s.MACDAvailable {
		macdComponent := 0.0
		if s.MACDLine > s.MACDSignal {
			macdComponent = macdContribution
		} else if s.MACDLine < s.MACDSignal {
			macdComponent = -macdContribution
		}
		sum += macdWeight * macdComponent
		weights += macdWeight
	}

	if weights == 0 {
		return 0
	}
	return clamp(sum/weights, -1, 1)
}

// stateFor переводит оценку в состояние, порог не включается
func (a *Analyzer) stateFor(score, threshold float64) models.MomentumState {
	switch {
	case score > threshold:
		return models.StateBullish
	case score < -threshold:
		return models.StateBearish
	default:
		return models.StateNeutral
	}
}

// stateSign знак состояния для композитной суммы
func stateSign(s models.MomentumState) float64 {
	switch s {
	case models.StateBullish:
		return 1
	case models.StateBearish:
		return -1
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
