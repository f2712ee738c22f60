package liquidity

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/skalibog/bmsa/internal/config"
	"github.com/skalibog/bmsa/internal/storage"
	"github.com/skalibog/bmsa/pkg/logger"
	"github.com/skalibog/bmsa/pkg/models"
	"go.uber.org/zap"
)

// Analyzer строит тепловую карту ликвидаций из журнала событий
type Analyzer struct {
	config       config.HeatmapConfig
	uncalibrated func() []string
	now          func() time.Time
}

// NewAnalyzer создает новый анализатор тепловой карты.
// uncalibrated возвращает биржи, работающие с номиналом по умолчанию.
func NewAnalyzer(cfg config.HeatmapConfig, uncalibrated func() []string) *Analyzer {
	return &Analyzer{
		config:       cfg,
		uncalibrated: uncalibrated,
		now:          time.Now,
	}
}

const binLevels = 24

// Ядро размытия по соседним ценовым строкам
var priceKernel = [3]float64{0.25, 0.5, 0.25}

// Ядро сглаживания по соседним временным колонкам
var timeKernel = [5]float64{0.1, 0.2, 0.4, 0.2, 0.1}

// rangeSpec возвращает горизонт и шаг временной сетки для режима отображения
func rangeSpec(mode string) (horizon, bucket time.Duration) {
	switch mode {
	case "48h":
		return 48 * time.Hour, 15 * time.Minute
	case "7d":
		return 7 * 24 * time.Hour, time.Hour
	default: // 24h
		return 24 * time.Hour, 5 * time.Minute
	}
}

// buildBins строит ценовые границы вокруг центра.
// Геометрия зависит только от цены и настроек, не от событий.
func buildBins(center float64, mode string) (bins []float64, step float64) {
	if mode == "auto" {
		span := math.Max(4000, center*0.08)
		minP := center - span
		maxP := center + span
		rough := (maxP - minP) / binLevels
		step = math.Max(50, math.Round(rough/50)*50)
		for p := minP; p <= maxP; p += step {
			bins = append(bins, p)
		}
		return bins, step
	}

	switch mode {
	case "50":
		step = 50
	case "100":
		step = 100
	default:
		step = 250
	}
	minP := center - step*binLevels/2
	bins = make([]float64, binLevels)
	for i := range bins {
		bins[i] = minP + float64(i)*step
	}
	return bins, step
}

// Analyze агрегирует журнал ликвидаций в матрицу интенсивности.
// Строки упорядочены от высоких цен к низким.
func (a *Analyzer) Analyze(ctx context.Context, store storage.Storage, symbol string) (*models.HeatmapView, error) {
	currentPrice := store.CurrentPrice(symbol)
	if currentPrice <= 0 {
		logger.Warn("Текущая цена неизвестна, тепловая карта не построена", zap.String("symbol", symbol))
		return nil, nil
	}

	horizon, bucket := rangeSpec(a.config.Range)
	cols := int(math.Ceil(float64(horizon) / float64(bucket)))
	if cols < 1 {
		cols = 1
	}
	now := a.now()
	start := now.Add(-time.Duration(cols) * bucket)

	bins, step := buildBins(currentPrice, a.config.BinMode)
	levels := len(bins)

	enabled := make(map[string]bool, len(a.config.Exchanges))
	for _, ex := range a.config.Exchanges {
		enabled[ex] = true
	}

	grid := make([][]models.HeatmapCell, levels)
	for i := range grid {
		grid[i] = make([]models.HeatmapCell, cols)
	}
	rowTotals := make([]float64, levels)

	deposited := 0
	for _, e := range store.Liquidations(start) {
		if !enabled[e.Exchange] {
			continue
		}
		if e.Timestamp.Before(start) || e.Timestamp.After(now) {
			continue
		}
		idx := int(math.Floor((e.Price - bins[0]) / step))
		if idx < 0 || idx >= levels {
			continue
		}
		col := int(e.Timestamp.Sub(start) / bucket)
		if col < 0 || col >= cols {
			continue
		}
		deposited++

		// Взнос размывается по трем соседним ценовым строкам
		for k := -1; k <= 1; k++ {
			rowIdx := idx + k
			if rowIdx < 0 || rowIdx >= levels {
				continue
			}
			row := levels - 1 - rowIdx // высокие цены сверху
			add := e.NotionalUSD * priceKernel[k+1]
			if e.Side == models.SideLong {
				grid[row][col].LongUSD += add
			} else {
				grid[row][col].ShortUSD += add
			}
			grid[row][col].TotalUSD += add
			rowTotals[row] += add
		}
	}

	smoothTime(grid)

	maxCell := 0.0
	for _, row := range grid {
		for _, c := range row {
			if c.TotalUSD > maxCell {
				maxCell = c.TotalUSD
			}
		}
	}

	view := &models.HeatmapView{
		Grid:          grid,
		Bins:          bins,
		BinStep:       step,
		BucketSize:    bucket,
		StartTime:     start,
		TopClusters:   topClusters(rowTotals, bins),
		Scale:         scaleFor(a.config.Scale),
		MaxCell:       maxCell,
		EventsInRange: deposited,
	}
	if a.uncalibrated != nil {
		view.Uncalibrated = a.uncalibrated()
	}
	return view, nil
}

// smoothTime применяет пятиточечную свертку вдоль времени.
// На краях ядро усекается.
func smoothTime(grid [][]models.HeatmapCell) {
	for r := range grid {
		row := grid[r]
		base := make([]models.HeatmapCell, len(row))
		copy(base, row)

		for c := range row {
			var longSum, shortSum float64
			for t := -2; t <= 2; t++ {
				cc := c + t
				if cc < 0 || cc >= len(row) {
					continue
				}
				w := timeKernel[t+2]
				longSum += base[cc].LongUSD * w
				shortSum += base[cc].ShortUSD * w
			}
			row[c].LongUSD = longSum
			row[c].ShortUSD = shortSum
			row[c].TotalUSD = longSum + shortSum
		}
	}
}

// topClusters возвращает три ценовых уровня с наибольшим суммарным номиналом.
// Суммы по строкам берутся до временного сглаживания.
func topClusters(rowTotals []float64, bins []float64) []models.HeatmapCluster {
	levels := len(bins)
	clusters := make([]models.HeatmapCluster, 0, levels)
	for r, total := range rowTotals {
		clusters = append(clusters, models.HeatmapCluster{
			Price:    math.Round(bins[levels-1-r]),
			TotalUSD: total,
		})
	}
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].TotalUSD > clusters[j].TotalUSD
	})
	if len(clusters) > 3 {
		clusters = clusters[:3]
	}
	return clusters
}

func scaleFor(scale string) models.IntensityScale {
	if scale == "linear" {
		return models.ScaleLinear
	}
	return models.ScaleLog
}

// Intensity переводит номинал ячейки в интенсивность [0, 1].
// Логарифмическая шкала сжимает тяжелые хвосты всплесков.
func Intensity(total, max float64, scale models.IntensityScale) float64 {
	if max <= 0 || total <= 0 {
		return 0
	}
	if scale == models.ScaleLog {
		return math.Log1p(total) / math.Log1p(max)
	}
	v := total / max
	if v > 1 {
		v = 1
	}
	return v
}
