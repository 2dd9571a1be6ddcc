// Package htmlreport renders the <config-basename>-summary.html artifact
// (SPEC_FULL.md supplement 3): total/success/failure counts, status code
// breakdown, and per-sequence/overall latency percentiles.
//
// Grounded on internal/report/report.go's html/template report, trimmed
// from a live-load-test dashboard (RPS/time-series charts) to a static
// per-run summary table, since PayloadStash has no "requests per second
// over time" notion — it runs a bounded, enumerable plan to completion.
// Library: stdlib html/template, same as the teacher.
package htmlreport

import (
	"fmt"
	"html/template"
	"os"
	"sort"

	"github.com/ericwastaken/payloadstash/internal/stats"
)

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>PayloadStash Run Summary</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif;
            background: linear-gradient(135deg, #1a1a2e 0%, #16213e 50%, #0f3460 100%);
            min-height: 100vh;
            color: #e0e0e0;
            padding: 20px;
        }
        .container { max-width: 1100px; margin: 0 auto; }
        .header {
            text-align: center;
            margin-bottom: 30px;
            padding: 25px;
            background: rgba(255,255,255,0.05);
            border-radius: 16px;
        }
        .header h1 {
            font-size: 2.2rem;
            background: linear-gradient(90deg, #00d9ff, #ff00ff);
            -webkit-background-clip: text;
            -webkit-text-fill-color: transparent;
            background-clip: text;
        }
        .header p { color: #888; margin-top: 8px; }
        .summary-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(160px, 1fr));
            gap: 16px;
            margin-bottom: 30px;
        }
        .card {
            background: rgba(255,255,255,0.08);
            border-radius: 12px;
            padding: 20px;
            text-align: center;
            border: 1px solid rgba(255,255,255,0.1);
        }
        .card .value { font-size: 2rem; font-weight: bold; color: #00d9ff; }
        .card .label { color: #888; margin-top: 6px; font-size: 0.85rem; text-transform: uppercase; }
        table { width: 100%; border-collapse: collapse; margin-bottom: 30px; }
        .panel { background: rgba(255,255,255,0.05); border-radius: 16px; padding: 20px; margin-bottom: 24px; border: 1px solid rgba(255,255,255,0.1); }
        .panel h3 { color: #00d9ff; margin-bottom: 14px; }
        th, td { padding: 10px; text-align: left; border-bottom: 1px solid rgba(255,255,255,0.1); }
        th { color: #00d9ff; text-transform: uppercase; font-size: 0.8rem; }
        .ok { color: #00ff88; }
        .bad { color: #ff6b81; }
    </style>
</head>
<body>
<div class="container">
    <div class="header">
        <h1>{{.StashName}}</h1>
        <p>Run started {{.RunTimestamp}}</p>
    </div>

    <div class="summary-grid">
        <div class="card"><div class="value">{{.Total}}</div><div class="label">Total Requests</div></div>
        <div class="card"><div class="value">{{.Success}}</div><div class="label">Successful</div></div>
        <div class="card"><div class="value">{{.Failed}}</div><div class="label">Failed</div></div>
        <div class="card"><div class="value">{{printf "%.1f" .SuccessRate}}%</div><div class="label">Success Rate</div></div>
        <div class="card"><div class="value">{{.P50}}ms</div><div class="label">P50 Latency</div></div>
        <div class="card"><div class="value">{{.P90}}ms</div><div class="label">P90 Latency</div></div>
        <div class="card"><div class="value">{{.P95}}ms</div><div class="label">P95 Latency</div></div>
        <div class="card"><div class="value">{{.P99}}ms</div><div class="label">P99 Latency</div></div>
    </div>

    <div class="panel">
        <h3>Sequences</h3>
        <table>
            <thead><tr><th>Sequence</th><th>Total</th><th>Success</th><th>Failed</th><th>P50</th><th>P90</th><th>P99</th></tr></thead>
            <tbody>
            {{range .Sequences}}
            <tr>
                <td>{{.Name}}</td>
                <td>{{.Total}}</td>
                <td class="ok">{{.Success}}</td>
                <td class="bad">{{.Failed}}</td>
                <td>{{.P50}}ms</td>
                <td>{{.P90}}ms</td>
                <td>{{.P99}}ms</td>
            </tr>
            {{end}}
            </tbody>
        </table>
    </div>

    <div class="panel">
        <h3>Status Codes</h3>
        <table>
            <thead><tr><th>Status</th><th>Count</th></tr></thead>
            <tbody>
            {{range .StatusRows}}
            <tr><td>{{.Label}}</td><td>{{.Count}}</td></tr>
            {{end}}
            </tbody>
        </table>
    </div>

    {{if .ErrorRows}}
    <div class="panel">
        <h3>Errors</h3>
        <table>
            <thead><tr><th>Message</th><th>Count</th></tr></thead>
            <tbody>
            {{range .ErrorRows}}
            <tr><td>{{.Message}}</td><td>{{.Count}}</td></tr>
            {{end}}
            </tbody>
        </table>
    </div>
    {{end}}
</div>
</body>
</html>`

type statusRow struct {
	Label string
	Count int64
}

type errorRow struct {
	Message string
	Count   int64
}

type sequenceRow struct {
	Name             string
	Total, Success, Failed int64
	P50, P90, P99    int64
}

type templateData struct {
	StashName    string
	RunTimestamp string
	Total        int64
	Success      int64
	Failed       int64
	SuccessRate  float64
	P50, P90, P95, P99 int64
	Sequences    []sequenceRow
	StatusRows   []statusRow
	ErrorRows    []errorRow
}

// Write renders summary into path.
func Write(path, stashName, runTimestamp string, summary stats.Summary) error {
	tmpl, err := template.New("summary").Parse(reportTemplate)
	if err != nil {
		return fmt.Errorf("parse summary template: %w", err)
	}

	successRate := 0.0
	if summary.Total > 0 {
		successRate = float64(summary.Success) / float64(summary.Total) * 100
	}

	var codes []int
	for code := range summary.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	statusRows := make([]statusRow, 0, len(codes))
	for _, code := range codes {
		statusRows = append(statusRows, statusRow{Label: stats.StatusLabel(code), Count: summary.StatusCodes[code]})
	}

	errorRows := make([]errorRow, 0, len(summary.Errors))
	for msg, count := range summary.Errors {
		errorRows = append(errorRows, errorRow{Message: msg, Count: count})
	}
	sort.Slice(errorRows, func(i, j int) bool { return errorRows[i].Count > errorRows[j].Count })

	sequenceRows := make([]sequenceRow, 0, len(summary.Sequences))
	for _, s := range summary.Sequences {
		sequenceRows = append(sequenceRows, sequenceRow{
			Name: s.Name, Total: s.Total, Success: s.Success, Failed: s.Failed,
			P50: s.Percentiles.P50, P90: s.Percentiles.P90, P99: s.Percentiles.P99,
		})
	}

	data := templateData{
		StashName:    stashName,
		RunTimestamp: runTimestamp,
		Total:        summary.Total,
		Success:      summary.Success,
		Failed:       summary.Failed,
		SuccessRate:  successRate,
		P50:          summary.Percentiles.P50,
		P90:          summary.Percentiles.P90,
		P95:          summary.Percentiles.P95,
		P99:          summary.Percentiles.P99,
		Sequences:    sequenceRows,
		StatusRows:   statusRows,
		ErrorRows:    errorRows,
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary html: %w", err)
	}
	defer f.Close()

	return tmpl.Execute(f, data)
}
