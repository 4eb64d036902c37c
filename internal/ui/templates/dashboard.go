package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Dashboard is the single-page shell. Controls and data arrive through the
// datastar SSE endpoints after load; the page itself is static.
func Dashboard() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, dashboardHTML)
		return err
	})
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Singapore Housing Insights</title>
<script type="module" src="https://cdn.jsdelivr.net/gh/starfederation/datastar@v1.0.0/bundles/datastar.js"></script>
<script src="https://cdn.jsdelivr.net/npm/chart.js@4"></script>
<style>
body { font-family: system-ui, sans-serif; margin: 0; background: #f5f6f8; color: #1a1a2e; }
header { background: #16213e; color: #fff; padding: 1rem 2rem; }
main { display: grid; grid-template-columns: 280px 1fr; gap: 1.5rem; padding: 1.5rem 2rem; }
aside, section { background: #fff; border-radius: 8px; padding: 1rem 1.25rem; box-shadow: 0 1px 3px rgba(0,0,0,.08); }
#metrics-content { display: flex; gap: 1rem; }
.metric-card { flex: 1; padding: .75rem 1rem; border-left: 3px solid #0f3460; }
.metric-card strong { display: block; font-size: 1.4rem; }
.metric-label { color: #666; font-size: .8rem; text-transform: uppercase; }
.control-group { border: none; padding: .5rem 0; }
.town-option { display: block; padding: .1rem 0; }
.modern-table { width: 100%; border-collapse: collapse; font-size: .85rem; }
.modern-table th, .modern-table td { padding: .4rem .6rem; border-bottom: 1px solid #eee; text-align: left; }
.alert { padding: .75rem 1rem; border-radius: 6px; margin-bottom: 1rem; }
.alert-error { background: #fdecea; color: #b3261e; }
.alert-warning { background: #fff4e5; color: #8a5300; }
.alert-info { background: #e8f0fe; color: #1a4d8f; }
</style>
</head>
<body data-signals="{pivotData: null}">
<header>
<h1>Singapore Housing Insights</h1>
<p>Resale flat prices from the data.gov.sg API</p>
</header>
<main>
<aside data-on-load="@get('/sse/controls'); @get('/sse/dashboard')">
<h2>Filter Options</h2>
<div id="controls-content">Loading filters&hellip;</div>
</aside>
<div>
<div id="dashboard-alert"></div>
<section>
<div id="metrics-content">Loading&hellip;</div>
</section>
<section>
<h2>Price Comparison by Flat Type</h2>
<div id="chart-status"></div>
<canvas id="pivot-chart" height="120" data-effect="renderPivotChart($pivotData)"></canvas>
</section>
<section>
<h2>Raw Data</h2>
<div id="transactions-content"></div>
</section>
</div>
</main>
<script>
let chart;
window.renderPivotChart = function (pivot) {
	if (!pivot) {
		if (chart) { chart.destroy(); chart = null; }
		return;
	}
	const ctx = document.getElementById('pivot-chart');
	const datasets = pivot.flat_types.map((ft, i) => ({
		label: ft,
		data: pivot.towns.map(t => pivot.cells[t] && pivot.cells[t][ft] !== undefined ? pivot.cells[t][ft] : null),
		backgroundColor: 'hsl(' + (i * 360 / pivot.flat_types.length) + ', 55%, 50%)',
	}));
	if (chart) chart.destroy();
	chart = new Chart(ctx, {
		type: 'bar',
		data: { labels: pivot.towns, datasets: datasets },
		options: {
			skipNull: true,
			scales: {
				y: { ticks: { callback: v => '$' + Math.round(v / 1000) + 'K' } },
			},
		},
	});
};
</script>
</body>
</html>
`
