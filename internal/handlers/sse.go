package handlers

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"hdb-insights/internal/dataset"
	"hdb-insights/internal/errors"
	"hdb-insights/internal/services"

	"github.com/starfederation/datastar-go/datastar"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const maxTableRows = 50

var printer = message.NewPrinter(language.English)

var metricsTemplate = template.Must(template.New("metrics").Parse(`
<div id="metrics-content">
<div class="metric-card"><span class="metric-label">Avg Price</span><strong>{{.MeanPrice}}</strong></div>
<div class="metric-card"><span class="metric-label">Avg Size</span><strong>{{.MeanArea}}</strong></div>
<div class="metric-card"><span class="metric-label">Transactions</span><strong>{{.Count}}</strong></div>
</div>`))

var transactionsTemplate = template.Must(template.New("transactions").Parse(`
<div id="transactions-content">
<table class="modern-table">
<thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</tbody>
</table>
</div>`))

var controlsTemplate = template.Must(template.New("controls").Parse(`
<form id="controls-content" data-on-change="@get('/sse/dashboard?' + new URLSearchParams(new FormData(el.closest('form'))).toString())">
<fieldset class="control-group">
<label for="sample">Sample Size (Most Recent)</label>
<input type="range" id="sample" name="sample" min="{{.SampleMin}}" max="{{.SampleMax}}" step="{{.SampleStep}}" value="{{.SampleDefault}}">
</fieldset>
<fieldset class="control-group">
<legend>Select Towns</legend>
{{range .Towns}}<label class="town-option"><input type="checkbox" name="towns" value="{{.}}"{{if index $.Selected .}} checked{{end}}> {{.}}</label>
{{end}}</fieldset>
{{if .HasYearRange}}<fieldset class="control-group">
<legend>Filter by Year</legend>
<label>From <input type="number" name="year_min" min="{{.YearMin}}" max="{{.YearMax}}" value="{{.YearMin}}"></label>
<label>To <input type="number" name="year_max" min="{{.YearMin}}" max="{{.YearMax}}" value="{{.YearMax}}"></label>
</fieldset>
{{else}}<p class="control-note">Data limited to {{.YearMin}}</p>
{{end}}</form>`))

type SSEHandlers struct {
	insights *services.Insights
	logger   *slog.Logger
}

func NewSSEHandlers(insights *services.Insights, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		insights: insights,
		logger:   logger,
	}
}

type metricsView struct {
	MeanPrice string
	MeanArea  string
	Count     string
}

type tableView struct {
	Columns []string
	Rows    [][]string
}

type controlsView struct {
	Towns         []string
	Selected      map[string]bool
	SampleMin     int
	SampleMax     int
	SampleStep    int
	SampleDefault int
	HasYearRange  bool
	YearMin       int
	YearMax       int
}

func renderMetrics(m services.Metrics) (string, error) {
	var buf strings.Builder
	err := metricsTemplate.Execute(&buf, metricsView{
		MeanPrice: printer.Sprintf("S$%.0f", m.MeanResalePrice),
		MeanArea:  printer.Sprintf("%.0f sqm", m.MeanFloorArea),
		Count:     printer.Sprintf("%d", m.Transactions),
	})
	return buf.String(), err
}

func renderTransactions(ds *dataset.Dataset) (string, error) {
	view := tableView{Columns: ds.Columns}
	rows := ds.Rows
	if len(rows) > maxTableRows {
		rows = rows[:maxTableRows]
	}
	for _, row := range rows {
		cells := make([]string, len(ds.Columns))
		for i, col := range ds.Columns {
			cells[i] = dataset.FormatCell(row[col])
		}
		view.Rows = append(view.Rows, cells)
	}

	var buf strings.Builder
	err := transactionsTemplate.Execute(&buf, view)
	return buf.String(), err
}

func (h *SSEHandlers) renderControls() (string, error) {
	selected := make(map[string]bool)
	for _, town := range h.insights.DefaultTowns() {
		selected[town] = true
	}

	view := controlsView{
		Towns:         h.insights.Towns(),
		Selected:      selected,
		SampleMin:     services.MinSampleSize,
		SampleMax:     h.insights.MaxSample(),
		SampleStep:    services.SampleStep,
		SampleDefault: h.insights.DefaultSample(),
		HasYearRange:  h.insights.HasYearRange(),
	}
	view.YearMin, view.YearMax, _ = h.insights.YearBounds()

	var buf strings.Builder
	err := controlsTemplate.Execute(&buf, view)
	return buf.String(), err
}

func alertFragment(kind, msg string) string {
	if msg == "" {
		return `<div id="dashboard-alert"></div>`
	}
	var buf strings.Builder
	buf.WriteString(`<div id="dashboard-alert" class="alert alert-` + kind + `">`)
	template.HTMLEscape(&buf, []byte(msg))
	buf.WriteString(`</div>`)
	return buf.String()
}

// patchFailure maps the pipeline error taxonomy onto the alert slot and
// blanks every data slot, so a failed re-run never leaves the previous run's
// metrics, chart, or table on screen.
func (h *SSEHandlers) patchFailure(sse *datastar.ServerSentEventGenerator, err error) {
	switch {
	case errors.IsCode(err, errors.CodeEmptyDataset):
		sse.PatchElements(alertFragment("warning", "No data found for these filters."))
	case errors.IsCode(err, errors.CodeUpstream):
		sse.PatchElements(alertFragment("error", "Error fetching data: "+err.Error()))
	default:
		sse.PatchElements(alertFragment("error", err.Error()))
	}
	sse.PatchElements(`<div id="metrics-content"></div>`)
	sse.PatchElements(`<div id="chart-status"></div>`)
	sse.PatchElements(`<div id="transactions-content"></div>`)
	sse.PatchSignals([]byte(`{"pivotData": null}`))
}

// HandleControls patches the filter controls after the page loads.
func (h *SSEHandlers) HandleControls(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	if err := h.insights.Ensure(r.Context()); err != nil {
		h.patchFailure(sse, err)
		return
	}

	html, err := h.renderControls()
	if err != nil {
		h.logger.Error("render controls", "error", err)
		return
	}
	sse.PatchElements(html)

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// HandleDashboard re-runs the pipeline for the requested filters and patches
// metrics, chart signals, and the transactions table. Failures halt only the
// slots they govern: an empty dataset stops the whole run, while missing
// chart combinations leave metrics and the table intact.
func (h *SSEHandlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	if err := h.insights.Ensure(r.Context()); err != nil {
		h.patchFailure(sse, err)
		return
	}

	q, err := parseViewQuery(r, h.insights)
	if err != nil {
		h.patchFailure(sse, err)
		return
	}

	vr, err := h.insights.View(q)
	if err != nil {
		h.patchFailure(sse, err)
		return
	}

	sse.PatchElements(alertFragment("", ""))

	metricsHTML, err := renderMetrics(vr.Metrics)
	if err != nil {
		h.logger.Error("render metrics", "error", err)
		return
	}
	sse.PatchElements(metricsHTML)

	if vr.Pivot == nil {
		sse.PatchSignals([]byte(`{"pivotData": null}`))
		sse.PatchElements(`<div id="chart-status" class="alert alert-info">Not enough data to generate the chart. Try selecting more records.</div>`)
	} else {
		signals, err := json.Marshal(map[string]any{
			"pivotData": vr.Pivot,
		})
		if err != nil {
			h.logger.Error("marshal pivot signals", "error", err)
			return
		}
		sse.PatchSignals(signals)
		sse.PatchElements(`<div id="chart-status"></div>`)
	}

	table, err := h.insights.Transactions(q, "", true, maxTableRows)
	if err != nil {
		h.logger.Error("sort transactions", "error", err)
		return
	}
	tableHTML, err := renderTransactions(table)
	if err != nil {
		h.logger.Error("render transactions", "error", err)
		return
	}
	sse.PatchElements(tableHTML)

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
