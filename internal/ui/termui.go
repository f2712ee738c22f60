package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/skalibog/bmsa/internal/analysis/liquidity"
	"github.com/skalibog/bmsa/internal/config"
	"github.com/skalibog/bmsa/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	bullStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2"))

	bearStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1"))

	neutralStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("3"))
)

// интенсивность ячейки в символах, от пустой к плотной
var intensityRamp = []rune(" .:-=+*#%@")

// TermUI терминальный интерфейс приложения
type TermUI struct {
	program *tea.Program
}

// viewMsg доставляет свежее представление рынка в модель
type viewMsg *models.MarketView

// tickMsg периодическая перерисовка для обратных отсчетов
type tickMsg time.Time

// NewTermUI создает терминальный интерфейс
func NewTermUI(cfg config.UIConfig) *TermUI {
	m := uiModel{
		refresh: time.Duration(cfg.RefreshRate) * time.Millisecond,
	}
	return &TermUI{
		program: tea.NewProgram(m, tea.WithAltScreen()),
	}
}

// UpdateView передает интерфейсу новое представление рынка
func (u *TermUI) UpdateView(view *models.MarketView) {
	u.program.Send(viewMsg(view))
}

// Start запускает интерфейс, блокируя вызывающую горутину
func (u *TermUI) Start() error {
	_, err := u.program.Run()
	return err
}

// Stop завершает интерфейс
func (u *TermUI) Stop() {
	u.program.Quit()
}

// uiModel состояние интерфейса
type uiModel struct {
	view    *models.MarketView
	refresh time.Duration
	width   int
	height  int
}

func (m uiModel) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m uiModel) Init() tea.Cmd {
	return m.tick()
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case viewMsg:
		m.view = msg
	case tickMsg:
		return m, m.tick()
	}
	return m, nil
}

func (m uiModel) View() string {
	if m.view == nil {
		return neutralStyle.Render("\n  Накопление рыночных данных...\n\n  q — выход")
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(m.renderMomentum()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(m.renderLevels()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(m.renderHeatmap()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(m.renderFunding()))
	b.WriteString("\n")
	b.WriteString(neutralStyle.Render("q — выход"))
	return b.String()
}

func (m uiModel) renderHeader() string {
	v := m.view
	return headerStyle.Render(fmt.Sprintf("%s  $%.2f  %s",
		v.Symbol, v.CurrentPrice, v.Timestamp.Format("15:04:05")))
}

func stateStyle(state models.MomentumState) lipgloss.Style {
	switch state {
	case models.StateBullish:
		return bullStyle
	case models.StateBearish:
		return bearStyle
	default:
		return neutralStyle
	}
}

func (m uiModel) renderMomentum() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Моментум"))
	b.WriteString("\n")

	mom := m.view.Momentum
	if mom == nil {
		b.WriteString(neutralStyle.Render("нет данных"))
		return b.String()
	}

	for _, s := range mom.Snapshots {
		if !s.Available {
			b.WriteString(fmt.Sprintf("%-4s %s\n", s.Timeframe, neutralStyle.Render("недостаточно истории")))
			continue
		}
		rsiCell := "  n/a"
		if s.RSIAvailable {
			rsiCell = fmt.Sprintf("%5.1f", s.RSI)
		}
		macdCell := "             n/a"
		if s.MACDAvailable {
			macdCell = fmt.Sprintf("%+8.2f/%+8.2f", s.MACDLine, s.MACDSignal)
		}
		rocCell := "   n/a"
		if s.ROCAvailable {
			rocCell = fmt.Sprintf("%+5.2f%%", s.ROC)
		}
		line := fmt.Sprintf("%-4s RSI %s  MACD %s  ROC %s  %s %d%%",
			s.Timeframe, rsiCell, macdCell, rocCell,
			stateStyle(s.State).Render(string(s.State)), s.Confidence)
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("композит %+.3f  %s",
		mom.CompositeScore, stateStyle(mom.CompositeState).Render(string(mom.CompositeState))))
	return b.String()
}

func strengthDots(strength int) string {
	return strings.Repeat("●", strength) + strings.Repeat("○", 5-strength)
}

func (m uiModel) renderLevels() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Уровни"))
	b.WriteString("\n")

	if len(m.view.Levels) == 0 {
		b.WriteString(neutralStyle.Render("нет данных"))
		return b.String()
	}

	for _, l := range m.view.Levels {
		style := bullStyle
		if l.Type == models.LevelResistance {
			style = bearStyle
		}
		b.WriteString(fmt.Sprintf("%s %10.2f  %s  %-10s %3.0f%%  цель %.2f\n",
			style.Render(string(l.Type)), l.Price,
			strengthDots(l.Strength), l.Origin, l.Probability, l.Target))
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderHeatmap рисует сетку символами по интенсивности,
// прореживая колонки под ширину терминала
func (m uiModel) renderHeatmap() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Ликвидации"))
	b.WriteString("\n")

	h := m.view.Heatmap
	if h == nil || len(h.Grid) == 0 {
		b.WriteString(neutralStyle.Render("нет данных"))
		return b.String()
	}

	cols := len(h.Grid[0])
	maxWidth := 72
	if m.width > 20 && m.width-16 < maxWidth {
		maxWidth = m.width - 16
	}
	stride := 1
	if cols > maxWidth {
		stride = (cols + maxWidth - 1) / maxWidth
	}

	levels := len(h.Grid)
	for r := 0; r < levels; r++ {
		price := h.Bins[levels-1-r]
		b.WriteString(fmt.Sprintf("%9.0f ", price))
		for c := 0; c < cols; c += stride {
			total := 0.0
			for cc := c; cc < c+stride && cc < cols; cc++ {
				total += h.Grid[r][cc].TotalUSD
			}
			intensity := liquidity.Intensity(total, h.MaxCell, h.Scale)
			idx := int(intensity * float64(len(intensityRamp)-1))
			b.WriteRune(intensityRamp[idx])
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("событий: %d  шаг: $%.0f  корзина: %s",
		h.EventsInRange, h.BinStep, h.BucketSize))
	if len(h.TopClusters) > 0 {
		b.WriteString("  кластеры:")
		for _, c := range h.TopClusters {
			b.WriteString(fmt.Sprintf(" %.0f($%s)", c.Price, compactUSD(c.TotalUSD)))
		}
	}
	if len(h.Uncalibrated) > 0 {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render(fmt.Sprintf(
			"номинал по умолчанию: %s", strings.Join(h.Uncalibrated, ", "))))
	}
	return b.String()
}

func (m uiModel) renderFunding() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Финансирование"))
	b.WriteString("\n")

	f := m.view.Funding
	if f == nil {
		b.WriteString(neutralStyle.Render("нет данных"))
		return b.String()
	}

	rateStyle := bullStyle
	if f.Snapshot.FundingRate8h < 0 {
		rateStyle = bearStyle
	}

	// Отсчет уменьшается между пересчетами представления
	countdown := f.Countdown - time.Since(m.view.Timestamp)
	b.WriteString(fmt.Sprintf("ставка 8ч %s  годовая %+.2f%%  выплата через %s\n",
		rateStyle.Render(fmt.Sprintf("%+.4f%%", f.Snapshot.FundingRate8h*100)),
		f.AnnualizedRate*100,
		formatCountdown(countdown)))
	b.WriteString(fmt.Sprintf("OI $%s  Δ %+.2f%% за %.1fч (%d точек)",
		compactUSD(f.Snapshot.OINotionalUSD), f.OIDelta*100, f.WindowHours, len(f.Series)))
	return b.String()
}

func formatCountdown(d time.Duration) string {
	if d <= 0 {
		return "--:--:--"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// compactUSD сокращает крупные суммы до читаемого вида
func compactUSD(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
