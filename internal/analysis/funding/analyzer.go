package funding

import (
	"context"
	"fmt"
	"time"

	"github.com/skalibog/bmsa/internal/config"
	"github.com/skalibog/bmsa/internal/storage"
	"github.com/skalibog/bmsa/pkg/models"
)

// Analyzer реализует сводку финансирования и открытого интереса
type Analyzer struct {
	config config.FundingConfig
	now    func() time.Time
}

// NewAnalyzer создает новый анализатор финансирования
func NewAnalyzer(cfg config.FundingConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
		now:    time.Now,
	}
}

// fundingPeriodsPerDay выплаты финансирования происходят каждые 8 часов
const fundingPeriodsPerDay = 3

// Analyze собирает представление из последнего среза хранилища.
// Срез может быть устаревшим после неудачного опроса, это допустимо.
func (a *Analyzer) Analyze(ctx context.Context, store storage.Storage, symbol string) (*models.FundingView, error) {
	snapshot, series, ok := store.Funding()
	if !ok {
		return nil, fmt.Errorf("данные финансирования для %s еще не получены", symbol)
	}

	view := &models.FundingView{
		Snapshot:       snapshot,
		Series:         series,
		AnnualizedRate: snapshot.FundingRate8h * fundingPeriodsPerDay * 365,
	}

	if len(series) >= 2 && series[0].ValueUSD > 0 {
		first := series[0].ValueUSD
		last := series[len(series)-1].ValueUSD
		view.OIDelta = (last - first) / first
		view.WindowHours = float64(len(series)-1) * periodMinutes(a.config.OIPeriod) / 60
	}

	if countdown := snapshot.NextFundingTime.Sub(a.now()); countdown > 0 {
		view.Countdown = countdown
	}

	return view, nil
}

// periodMinutes переводит гранулярность ряда OI в минуты
func periodMinutes(period string) float64 {
	switch period {
	case "15m":
		return 15
	case "30m":
		return 30
	case "1h":
		return 60
	case "4h":
		return 240
	default: // 5m
		return 5
	}
}
