package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/bike-computer/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"ms": func(d time.Duration) string {
		return fmt.Sprintf("%.2f", float64(d)/float64(time.Millisecond))
	},
	"within": func(got, want time.Duration) bool {
		diff := got - want
		if diff < 0 {
			diff = -diff
		}
		return diff <= time.Millisecond
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="2">
<title>Bike Computer</title>
<style>
body { font-family: monospace; max-width: 700px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.ok { color: green; }
.late { color: red; font-weight: bold; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Bike Computer <small>({{.Config.Mode}}, {{.Runtime.State}})</small></h1>

<h2>Ride</h2>
<table>
<tr><th>Gear</th><td id="gear">{{.Gear}}</td></tr>
<tr><th>Speed</th><td id="speed">{{printf "%.1f" .Speed}} km/h</td></tr>
<tr><th>Average</th><td>{{printf "%.1f" .Runtime.AverageSpeed}} km/h</td></tr>
<tr><th>Distance</th><td id="distance">{{printf "%.2f" .Distance}} km</td></tr>
<tr><th>Rotations</th><td>{{.Runtime.Rotations}}</td></tr>
<tr><th>Temperature</th><td id="temperature">{{if .TemperatureValid}}{{printf "%.1f" .Temperature}} &deg;C{{else}}<span class="unknown">unknown</span>{{end}}</td></tr>
</table>

<h2>Tasks</h2>
<table>
<tr><th>Task</th><th>Runs</th><th>Period</th><th>Expected</th><th>Execution</th><th>Budget</th></tr>
{{range .Runtime.Tasks}}<tr><td>{{.Task}}</td><td>{{.Count}}</td><td class="{{if within .Period .ExpectedPeriod}}ok{{else}}late{{end}}">{{ms .Period}}ms</td><td>{{ms .ExpectedPeriod}}ms</td><td class="{{if within .Execution .Budget}}ok{{else}}late{{end}}">{{ms .Execution}}ms</td><td>{{ms .Budget}}ms</td></tr>
{{end}}</table>

<h2>Scheduler</h2>
<table>
<tr><th>Cycles</th><td>{{.Runtime.Counters.Cycles}}</td></tr>
<tr><th>Overruns</th><td>{{.Runtime.Counters.Overruns}}</td></tr>
<tr><th>Budget overruns</th><td>{{.Runtime.Counters.BudgetOverruns}}</td></tr>
<tr><th>Skipped releases</th><td>{{.Runtime.Counters.SkippedReleases}}</td></tr>
<tr><th>Dropped events</th><td>{{.Runtime.Counters.DroppedEvents}}</td></tr>
<tr><th>Dropped samples</th><td>{{.Runtime.Counters.DroppedSamples}}</td></tr>
<tr><th>Temperature errors</th><td>{{.Runtime.Counters.TemperatureErrors}}</td></tr>
<tr><th>Resets</th><td>{{.Runtime.Resets.Count}} (last {{ms .Runtime.Resets.Last}}ms, max {{ms .Runtime.Resets.Max}}ms)</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}none{{end}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Major cycle</th><td>{{.Config.MajorCycleMs}}ms</td></tr>
<tr><th>Minor frame</th><td>{{.Config.MinorFrameMs}}ms</td></tr>
<tr><th>Telemetry</th><td>{{if eq .Config.TelemetryMs 0}}disabled{{else}}{{.Config.TelemetryMs}}ms{{end}}</td></tr>
<tr><th>Hardware</th><td>{{if .Config.Hardware}}yes{{else}}simulated{{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
