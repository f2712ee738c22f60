package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/skalibog/bmsa/internal/analysis/funding"
	"github.com/skalibog/bmsa/internal/analysis/levels"
	"github.com/skalibog/bmsa/internal/analysis/liquidity"
	"github.com/skalibog/bmsa/internal/analysis/momentum"
	"github.com/skalibog/bmsa/internal/config"
	"github.com/skalibog/bmsa/internal/storage"
	"github.com/skalibog/bmsa/pkg/logger"
	"github.com/skalibog/bmsa/pkg/models"
	"go.uber.org/zap"
)

// Analyzer объединяет все аналитические компоненты в единое представление рынка
type Analyzer struct {
	storage       storage.Storage
	symbol        string
	momentumAnal  *momentum.Analyzer
	levelsAnal    *levels.Analyzer
	liquidityAnal *liquidity.Analyzer
	fundingAnal   *funding.Analyzer
}

// NewAnalyzer создает новый агрегирующий анализатор.
// uncalibrated сообщает биржи с номиналом контракта по умолчанию.
func NewAnalyzer(cfg *config.Config, store storage.Storage, uncalibrated func() []string) *Analyzer {
	return &Analyzer{
		storage:       store,
		symbol:        cfg.Trading.Symbol,
		momentumAnal:  momentum.NewAnalyzer(cfg.Analysis.Momentum),
		levelsAnal:    levels.NewAnalyzer(cfg.Analysis.Levels),
		liquidityAnal: liquidity.NewAnalyzer(cfg.Heatmap, uncalibrated),
		fundingAnal:   funding.NewAnalyzer(cfg.Funding),
	}
}

// BuildMarketView пересчитывает все четыре представления заново.
// Отказ одного компонента не мешает остальным: его место остается пустым.
func (a *Analyzer) BuildMarketView(ctx context.Context) *models.MarketView {
	view := &models.MarketView{
		Symbol:       a.symbol,
		Timestamp:    time.Now(),
		CurrentPrice: a.storage.CurrentPrice(a.symbol),
	}

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		m, err := a.momentumAnal.Analyze(ctx, a.storage, a.symbol)
		if err != nil {
			logger.Warn("Анализ моментума недоступен", zap.String("symbol", a.symbol), zap.Error(err))
			return
		}
		view.Momentum = m
	}()

	go func() {
		defer wg.Done()
		l, err := a.levelsAnal.Analyze(ctx, a.storage, a.symbol)
		if err != nil {
			logger.Warn("Анализ уровней недоступен", zap.String("symbol", a.symbol), zap.Error(err))
			return
		}
		view.Levels = l
	}()

	go func() {
		defer wg.Done()
		h, err := a.liquidityAnal.Analyze(ctx, a.storage, a.symbol)
		if err != nil {
			logger.Warn("Тепловая карта недоступна", zap.String("symbol", a.symbol), zap.Error(err))
			return
		}
		view.Heatmap = h
	}()

	go func() {
		defer wg.Done()
		f, err := a.fundingAnal.Analyze(ctx, a.storage, a.symbol)
		if err != nil {
			logger.Warn("Сводка финансирования недоступна", zap.String("symbol", a.symbol), zap.Error(err))
			return
		}
		view.Funding = f
	}()

	wg.Wait()

	logger.Debug("Представление рынка собрано",
		zap.String("symbol", a.symbol),
		zap.Bool("momentum", view.Momentum != nil),
		zap.Int("levels", len(view.Levels)),
		zap.Bool("heatmap", view.Heatmap != nil),
		zap.Bool("funding", view.Funding != nil))

	return view
}
