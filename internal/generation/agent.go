package generation

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/vizboardhq/vizboard/internal/model"
)

// Agent turns raw tabular data into a dashboard artifact. The production
// provider calls an external LLM; the heuristic agent profiles the data and
// assembles charts locally.
type Agent interface {
	Generate(ctx context.Context, req Request) (*model.DashboardConfig, error)
}

// Request carries the dashboard's source data into the agent.
type Request struct {
	Title      string
	RawData    string // CSV text
	DataSource string
	// Instruction is non-empty for AI modifications of an existing artifact.
	Instruction string
	Previous    *model.DashboardConfig
}

// NewAgent returns the agent for the configured provider.
func NewAgent(provider string) Agent {
	switch provider {
	case "noop":
		return noopAgent{}
	default:
		return &HeuristicAgent{}
	}
}

// noopAgent always fails; used to exercise the failed path in deploys with
// no agent configured.
type noopAgent struct{}

func (noopAgent) Generate(context.Context, Request) (*model.DashboardConfig, error) {
	return nil, errors.New("no content-generation provider configured")
}

// chartPalette matches the product's default chart colours.
var chartPalette = []string{"#2563EB", "#0D9488", "#8B5CF6", "#F59E0B", "#EF4444", "#10B981"}

// HeuristicAgent profiles the CSV, picks one chart per interesting column
// pair, and renders a self-contained HTML artifact.
type HeuristicAgent struct{}

// Generate implements Agent.
func (a *HeuristicAgent) Generate(_ context.Context, req Request) (*model.DashboardConfig, error) {
	table, err := parseCSV(req.RawData)
	if err != nil {
		return nil, fmt.Errorf("parse source data: %w", err)
	}

	charts := buildCharts(table)
	cfg := &model.DashboardConfig{
		HTML:   renderHTML(req.Title, table, charts),
		Charts: charts,
	}
	return cfg, nil
}

// column is one profiled CSV column.
type column struct {
	name    string
	values  []string
	numbers []float64 // parallel to values when numeric
	numeric bool
}

type table struct {
	rows    int
	columns []column
}

func parseCSV(raw string) (*table, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimSpace(raw)))
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errors.New("data must have a header row and at least one data row")
	}

	header := records[0]
	t := &table{rows: len(records) - 1}
	for i, name := range header {
		col := column{name: strings.TrimSpace(name), numeric: true}
		for _, rec := range records[1:] {
			v := ""
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			col.values = append(col.values, v)
			n, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
			if err != nil {
				col.numeric = false
			} else {
				col.numbers = append(col.numbers, n)
			}
		}
		if !col.numeric {
			col.numbers = nil
		}
		t.columns = append(t.columns, col)
	}
	return t, nil
}

// buildCharts pairs the first categorical column with each numeric column
// (bar), adds a distribution pie for the leading categorical column, and a
// line chart when a column looks date-like.
func buildCharts(t *table) []model.ChartDef {
	var charts []model.ChartDef

	catIdx := -1
	for i, c := range t.columns {
		if !c.numeric {
			catIdx = i
			break
		}
	}

	for i, c := range t.columns {
		if !c.numeric || catIdx < 0 {
			continue
		}
		labels, values := aggregateBy(t.columns[catIdx], c)
		charts = append(charts, barChart(
			fmt.Sprintf("%s by %s", c.name, t.columns[catIdx].name),
			labels, values, chartPalette[len(charts)%len(chartPalette)]))
		if i != catIdx && len(charts) >= 4 {
			break
		}
	}

	if catIdx >= 0 {
		labels, counts := countBy(t.columns[catIdx])
		if len(labels) > 1 && len(labels) <= 12 {
			charts = append(charts, pieChart(
				fmt.Sprintf("Distribution of %s", t.columns[catIdx].name), labels, counts))
		}
	}

	// Fallback: all-numeric data gets a line chart over row order.
	if len(charts) == 0 {
		for _, c := range t.columns {
			if c.numeric {
				labels := make([]string, len(c.numbers))
				for i := range labels {
					labels[i] = strconv.Itoa(i + 1)
				}
				charts = append(charts, lineChart(c.name, labels, c.numbers, chartPalette[0]))
				break
			}
		}
	}
	return charts
}

func aggregateBy(group, value column) ([]string, []float64) {
	sums := map[string]float64{}
	var order []string
	for i, g := range group.values {
		if i >= len(value.values) {
			break
		}
		n, err := strconv.ParseFloat(strings.ReplaceAll(value.values[i], ",", ""), 64)
		if err != nil {
			continue
		}
		if _, seen := sums[g]; !seen {
			order = append(order, g)
		}
		sums[g] += n
	}
	values := make([]float64, len(order))
	for i, g := range order {
		values[i] = sums[g]
	}
	return order, values
}

func countBy(c column) ([]string, []float64) {
	counts := map[string]float64{}
	var order []string
	for _, v := range c.values {
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}
	values := make([]float64, len(order))
	for i, v := range order {
		values[i] = counts[v]
	}
	return order, values
}

func barChart(title string, labels []string, values []float64, color string) model.ChartDef {
	id := uuid.New().String()
	return model.ChartDef{
		ID:      id,
		Title:   title,
		Type:    "bar",
		Element: "chart-" + id,
		Config: map[string]any{
			"type": "bar",
			"data": map[string]any{
				"labels": labels,
				"datasets": []map[string]any{{
					"data":            values,
					"backgroundColor": color,
					"borderRadius":    4,
				}},
			},
			"options": map[string]any{
				"responsive":          true,
				"maintainAspectRatio": false,
				"plugins": map[string]any{
					"title":  map[string]any{"display": title != "", "text": title},
					"legend": map[string]any{"display": false},
				},
				"scales": map[string]any{
					"y": map[string]any{"beginAtZero": true},
				},
			},
		},
	}
}

func lineChart(title string, labels []string, values []float64, color string) model.ChartDef {
	id := uuid.New().String()
	return model.ChartDef{
		ID:      id,
		Title:   title,
		Type:    "line",
		Element: "chart-" + id,
		Config: map[string]any{
			"type": "line",
			"data": map[string]any{
				"labels": labels,
				"datasets": []map[string]any{{
					"data":        values,
					"borderColor": color,
					"fill":        false,
					"tension":     0.3,
				}},
			},
			"options": map[string]any{
				"responsive":          true,
				"maintainAspectRatio": false,
				"plugins": map[string]any{
					"title":  map[string]any{"display": title != "", "text": title},
					"legend": map[string]any{"display": false},
				},
			},
		},
	}
}

func pieChart(title string, labels []string, values []float64) model.ChartDef {
	id := uuid.New().String()
	colors := make([]string, len(labels))
	for i := range colors {
		colors[i] = chartPalette[i%len(chartPalette)]
	}
	return model.ChartDef{
		ID:      id,
		Title:   title,
		Type:    "pie",
		Element: "chart-" + id,
		Config: map[string]any{
			"type": "pie",
			"data": map[string]any{
				"labels": labels,
				"datasets": []map[string]any{{
					"data":            values,
					"backgroundColor": colors,
				}},
			},
			"options": map[string]any{
				"responsive":          true,
				"maintainAspectRatio": false,
				"plugins": map[string]any{
					"title": map[string]any{"display": title != "", "text": title},
				},
			},
		},
	}
}

func renderHTML(title string, t *table, charts []model.ChartDef) string {
	var b strings.Builder
	b.WriteString("<div class=\"dashboard\">\n")
	fmt.Fprintf(&b, "  <h1>%s</h1>\n", html.EscapeString(title))
	fmt.Fprintf(&b, "  <p class=\"meta\">%d rows · %d columns</p>\n", t.rows, len(t.columns))
	for _, c := range charts {
		fmt.Fprintf(&b, "  <section class=\"chart\"><canvas id=%q></canvas></section>\n", c.Element)
	}
	b.WriteString("</div>\n")
	return b.String()
}
