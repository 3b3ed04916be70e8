package charts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aristath/fundfolio/internal/modules/optimization"
	"github.com/vicanso/go-charts/v2"
)

const (
	pieWidth  = 1000
	pieHeight = 800
)

// Slice is one labeled share of a pie chart.
type Slice struct {
	Label string
	Value float64
}

// SlicesFromWeights orders weights descending by value, then by label,
// dropping zero and negative entries.
func SlicesFromWeights(weights map[string]float64) []Slice {
	out := make([]Slice, 0, len(weights))
	for label, w := range weights {
		if w > 0 {
			out = append(out, Slice{Label: label, Value: w})
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Value != out[b].Value {
			return out[a].Value > out[b].Value
		}
		return out[a].Label < out[b].Label
	})
	return out
}

// RenderAllocationPie renders a PNG pie chart with slice labels and a
// vertical legend.
func RenderAllocationPie(title string, slices []Slice) ([]byte, error) {
	values := make([]float64, 0, len(slices))
	labels := make([]string, 0, len(slices))
	for _, s := range slices {
		if s.Value <= 0 {
			continue
		}
		values = append(values, s.Value)
		labels = append(labels, s.Label)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("nothing to render: every weight is zero")
	}

	painter, err := charts.PieRender(values,
		charts.TitleTextOptionFunc(title),
		charts.LegendOptionFunc(charts.LegendOption{
			Orient: charts.OrientVertical,
			Data:   labels,
			Left:   charts.PositionLeft,
			Top:    "40",
		}),
		charts.PieSeriesShowLabel(),
		charts.WidthOptionFunc(pieWidth),
		charts.HeightOptionFunc(pieHeight),
		charts.ThemeOptionFunc(charts.ThemeLight),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render pie chart: %w", err)
	}
	return painter.Bytes()
}

// FormatSummary builds the caption sent with the allocation chart.
func FormatSummary(result optimization.PortfolioResult) string {
	var b strings.Builder
	b.WriteString("Оптимальные веса портфеля:\n")
	for _, s := range SlicesFromWeights(result.Weights) {
		fmt.Fprintf(&b, "%s: %.2f%%\n", s.Label, s.Value*100)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Ожидаемая доходность: %.2f%%\n", result.ExpectedReturn*100)
	fmt.Fprintf(&b, "Ожидаемая волатильность: %.2f%%\n", result.ExpectedVolatility*100)
	fmt.Fprintf(&b, "Коэффициент Шарпа: %.2f", result.SharpeRatio)
	if result.RiskBudgetExceeded {
		fmt.Fprintf(&b, "\n\nВолатильность выше целевого уровня риска (%.0f%%).", result.TargetRisk*100)
	}
	return b.String()
}
